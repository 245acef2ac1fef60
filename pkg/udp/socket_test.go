// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package udp

import (
	"net"
	"testing"
)

func TestRecvQueuesThenWakesWaiter(t *testing.T) {
	s := New(Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 5000}, DefaultConfig())

	d, w := s.Recv()
	if w == nil {
		t.Fatal("expected a waiter when inbox is empty")
	}
	if d.Payload != nil {
		t.Fatalf("expected zero Datagram, got %v", d)
	}

	peer := Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 6000}
	s.Deliver(Datagram{Peer: peer, Payload: []byte("hi")})

	select {
	case <-w.Ready:
	default:
		t.Fatal("waiter should be fulfilled after Deliver")
	}

	got, w2 := s.Recv()
	if w2 != nil {
		t.Fatal("expected no waiter, a datagram was already queued")
	}
	if string(got.Payload) != "hi" {
		t.Fatalf("payload = %q, want %q", got.Payload, "hi")
	}
}

func TestConnectedSocketFiltersPeer(t *testing.T) {
	s := New(Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 5000}, DefaultConfig())
	s.Connect(Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 6000})

	s.Deliver(Datagram{Peer: Endpoint{IP: net.IPv4(10, 0, 0, 9), Port: 7000}, Payload: []byte("spoofed")})
	if _, w := s.Recv(); w == nil {
		t.Fatal("datagram from non-peer should have been dropped")
	} else {
		s.waiters = nil // avoid leaking the waiter into the next assertion
	}

	s.Deliver(Datagram{Peer: Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 6000}, Payload: []byte("ok")})
	got, w := s.Recv()
	if w != nil {
		t.Fatal("expected the peer datagram to be queued")
	}
	if string(got.Payload) != "ok" {
		t.Fatalf("payload = %q, want %q", got.Payload, "ok")
	}
}
