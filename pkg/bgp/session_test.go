// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bgp

import (
	"net"
	"testing"
	"time"
)

func mustHave[T any](t *testing.T, eff []Effect) T {
	t.Helper()
	for _, e := range eff {
		if v, ok := e.(T); ok {
			return v
		}
	}
	t.Fatalf("missing effect of type %T in %v", *new(T), eff)
	return *new(T)
}

func TestSimultaneousOpenCollision(t *testing.T) {
	now := time.Unix(0, 0)
	idA := net.IPv4(10, 0, 0, 1)
	idB := net.IPv4(10, 0, 0, 2)

	a := NewSession(1, Config{
		LocalAS: 65001, PeerAS: 65002,
		LocalIdentifier: idA, PeerIdentifier: idB, PeerAddr: idB,
		HoldTime: 90, KeepaliveTime: 30, ConnectRetry: 10 * time.Second,
	})
	b := NewSession(2, Config{
		LocalAS: 65002, PeerAS: 65001,
		LocalIdentifier: idB, PeerIdentifier: idA, PeerAddr: idA,
		HoldTime: 90, KeepaliveTime: 30, ConnectRetry: 10 * time.Second,
	})

	a.Start(now)
	b.Start(now)

	// Each side's active connect succeeds against the other, and then
	// each also observes an incoming connection from the other (the
	// collision): A's connection to B arrives at B while B is in
	// Connect, and vice versa.
	a.ConnectSucceeded(100, now)
	b.ConnectSucceeded(200, now)

	effA := a.IncomingConnection(201, idB, now)
	effB := b.IncomingConnection(101, idA, now)

	// A has the lower identifier: A's session keeps stream 100 and
	// discards the incoming 201; B's session (higher id) yields its own
	// stream 200 and adopts the incoming 101.
	closedStream := mustHave[CloseStream](t, effA)
	if closedStream.StreamID != 201 {
		t.Fatalf("A should discard the incoming stream 201, closed %v instead", closedStream.StreamID)
	}
	if a.StreamID != 100 {
		t.Fatalf("A.StreamID = %d, want 100 (unchanged)", a.StreamID)
	}

	closedOld := mustHave[CloseStream](t, effB)
	if closedOld.StreamID != 200 {
		t.Fatalf("B should discard its own stream 200, closed %v instead", closedOld.StreamID)
	}
	if b.StreamID != 101 {
		t.Fatalf("B.StreamID = %d, want 101 (adopted)", b.StreamID)
	}

	if a.State != OpenSent || b.State != OpenSent {
		t.Fatalf("states after collision = %v / %v, want OpenSent/OpenSent", a.State, b.State)
	}

	// Drive both to Established via OPEN/KEEPALIVE exchange.
	openA := Open{Version: 4, AS: 65001, HoldTime: 90, Identifier: idA}
	openB := Open{Version: 4, AS: 65002, HoldTime: 90, Identifier: idB}

	effA2 := b.HandleOpen(openA, now)
	mustHave[SendMessage](t, effA2)
	effB2 := a.HandleOpen(openB, now)
	mustHave[SendMessage](t, effB2)

	effA3 := a.HandleKeepalive(now)
	estA := mustHave[NotifyEstablished](t, effA3)
	_ = estA
	effB3 := b.HandleKeepalive(now)
	mustHave[NotifyEstablished](t, effB3)

	if a.State != Established || b.State != Established {
		t.Fatalf("final states = %v / %v, want Established/Established", a.State, b.State)
	}
}

func TestConnectRetryCounterMonotonic(t *testing.T) {
	now := time.Unix(0, 0)
	s := NewSession(1, Config{ConnectRetry: time.Second, HoldTime: 90, KeepaliveTime: 30})
	s.Start(now)
	if s.ConnectRetryCounter != 0 {
		t.Fatalf("counter = %d after Start, want 0", s.ConnectRetryCounter)
	}
	s.ConnectRetryExpired(now)
	s.ConnectRetryExpired(now.Add(time.Second))
	if s.ConnectRetryCounter != 2 {
		t.Fatalf("counter = %d after two expiries, want 2", s.ConnectRetryCounter)
	}
}
