// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tcp

import (
	"net"
	"testing"
	"time"

	"go.fuchsia.dev/netsim/pkg/ring"
	"go.fuchsia.dev/netsim/pkg/tcpseg"
)

func ep(ip string, port uint16) Endpoint { return Endpoint{IP: net.ParseIP(ip), Port: port} }

func findSend(t *testing.T, eff []Effect) SendSegment {
	t.Helper()
	for _, e := range eff {
		if s, ok := e.(SendSegment); ok {
			return s
		}
	}
	t.Fatalf("no SendSegment effect in %v", eff)
	return SendSegment{}
}

func hasEffect[T any](eff []Effect) bool {
	for _, e := range eff {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func TestThreeWayHandshake(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultConfig()

	client := NewActive(cfg, ep("10.0.0.1", 4000), ep("10.0.0.2", 80), ring.Seq(100))
	synAck := tcpseg.Segment{
		SrcPort: 80,
		DstPort: 4000,
		Seq:     ring.Seq(5000),
		Ack:     ring.Seq(101),
		Flags:   tcpseg.FlagSYN | tcpseg.FlagACK,
		Window:  65535,
	}
	effects := client.HandleSegment(synAck, now)
	if client.State != Established {
		t.Fatalf("client state = %v, want ESTABLISHED", client.State)
	}
	if !hasEffect[NotifyEstablish](effects) {
		t.Fatalf("client effects = %v, want NotifyEstablish", effects)
	}
	ack := findSend(t, effects)
	if ack.Seg.Flags.Has(tcpseg.FlagSYN) {
		t.Fatalf("final ACK should not carry SYN: %+v", ack.Seg)
	}
	if ack.Seg.Ack != ring.Seq(5001) {
		t.Fatalf("final ACK acks %v, want 5001", ack.Seg.Ack)
	}

	listener := Fork(cfg, ep("10.0.0.2", 80), ep("10.0.0.1", 4000), ring.Seq(5000), ring.Seq(100))
	if listener.State != SynRcvd {
		t.Fatalf("fork state = %v, want SYN_RCVD", listener.State)
	}
	finalAck := tcpseg.Segment{
		SrcPort: 4000,
		DstPort: 80,
		Seq:     ring.Seq(101),
		Ack:     ring.Seq(5001),
		Flags:   tcpseg.FlagACK,
		Window:  65535,
	}
	serverEffects := listener.HandleSegment(finalAck, now)
	if listener.State != Established {
		t.Fatalf("server state = %v, want ESTABLISHED", listener.State)
	}
	if !hasEffect[NotifyEstablish](serverEffects) {
		t.Fatalf("server effects = %v, want NotifyEstablish", serverEffects)
	}
}

func TestGracefulClose(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultConfig()
	t1 := establishedPair(cfg)

	closeEffects := t1.Close(now)
	if t1.State != FinWait1 {
		t.Fatalf("state after Close = %v, want FIN_WAIT_1", t1.State)
	}
	fin := findSend(t, closeEffects)
	if !fin.Seg.Flags.Has(tcpseg.FlagFIN) {
		t.Fatalf("expected FIN segment, got %+v", fin.Seg)
	}

	finAck := tcpseg.Segment{
		Seq: t1.RcvNxt, Ack: fin.Seg.Seq.Add(1),
		Flags: tcpseg.FlagACK, Window: 65535,
	}
	eff := t1.HandleSegment(finAck, now)
	if t1.State != FinWait2 {
		t.Fatalf("state after ACK of FIN = %v, want FIN_WAIT_2, effects=%v", t1.State, eff)
	}

	peerFin := tcpseg.Segment{
		Seq: t1.RcvNxt, Ack: t1.Nxt,
		Flags: tcpseg.FlagFIN | tcpseg.FlagACK, Window: 65535,
	}
	eff2 := t1.HandleSegment(peerFin, now)
	if t1.State != TimeWait {
		t.Fatalf("state after peer FIN = %v, want TIME_WAIT", t1.State)
	}
	if !hasEffect[ArmTimeWait](eff2) {
		t.Fatalf("expected ArmTimeWait effect, got %v", eff2)
	}
}

func TestFastRetransmit(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultConfig()
	t1 := establishedPair(cfg)
	t1.MSS = 536
	// Start above one MSS so that halving cwnd is observable.
	t1.Cwnd = 4 * 536

	payload := make([]byte, 300)
	t1.SendBuf.Append(payload)
	t1.Nxt = t1.Nxt.Add(300)

	startCwnd := t1.Cwnd
	dupAck := tcpseg.Segment{
		Seq: t1.RcvNxt, Ack: t1.UNA,
		Flags: tcpseg.FlagACK, Window: 65535,
	}
	t1.HandleSegment(dupAck, now)
	t1.HandleSegment(dupAck, now)
	eff := t1.HandleSegment(dupAck, now)

	if t1.DupAckCounter != dupAckThreshold {
		t.Fatalf("dup ack counter = %d, want %d", t1.DupAckCounter, dupAckThreshold)
	}
	if t1.Cwnd >= startCwnd {
		t.Fatalf("cwnd did not shrink on fast retransmit: %d -> %d", startCwnd, t1.Cwnd)
	}
	retrans := findSend(t, eff)
	if retrans.Seg.Seq != t1.UNA {
		t.Fatalf("retransmit seq = %v, want una %v", retrans.Seg.Seq, t1.UNA)
	}
	if len(retrans.Seg.Payload) == 0 {
		t.Fatalf("expected retransmitted payload, got none")
	}
}

// establishedPair returns a TCB already in ESTABLISHED with a live
// receive buffer, as if the handshake had just completed.
func establishedPair(cfg Config) *TCB {
	t1 := NewActive(cfg, ep("10.0.0.1", 4000), ep("10.0.0.2", 80), ring.Seq(100))
	t1.HandleSegment(tcpseg.Segment{
		SrcPort: 80, DstPort: 4000,
		Seq: ring.Seq(5000), Ack: ring.Seq(101),
		Flags: tcpseg.FlagSYN | tcpseg.FlagACK, Window: 65535,
	}, time.Unix(0, 0))
	return t1
}
