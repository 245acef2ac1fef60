// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package arp

import (
	"net"
	"testing"
	"time"

	"go.fuchsia.dev/netsim/pkg/iface"
)

func TestDeferredSendThenResolve(t *testing.T) {
	tbl := NewTable(DefaultConfig())
	local := func(iface.ID, net.IP) (net.HardwareAddr, bool) { return nil, false }
	e := NewEngine(tbl, local)

	now := time.Unix(0, 0)
	dst := net.IPv4(10, 0, 0, 5)
	mac, ok, effects := e.Send(1, dst, []byte("payload"), now)
	if ok {
		t.Fatal("expected unresolved destination to queue, not resolve immediately")
	}
	if mac != nil {
		t.Fatal("expected nil mac")
	}
	if len(effects) != 2 {
		t.Fatalf("effects = %v, want SendRequest+ArmRetry", effects)
	}
	if _, isReq := effects[0].(SendRequest); !isReq {
		t.Fatalf("effects[0] = %T, want SendRequest", effects[0])
	}

	// A second send to the same destination must not start another
	// solicitation (at most one outstanding per pending destination).
	_, _, effects2 := e.Send(1, dst, []byte("payload2"), now)
	if len(effects2) != 0 {
		t.Fatalf("second Send produced effects %v, want none", effects2)
	}

	reply := Packet{
		Op:        OpReply,
		SenderMAC: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		SenderIP:  dst,
		TargetMAC: net.HardwareAddr{0, 0, 0, 0, 0, 1},
		TargetIP:  net.IPv4(10, 0, 0, 1),
	}
	out := e.HandleInbound(1, reply, now)
	var release *Release
	for _, eff := range out {
		if r, ok := eff.(Release); ok {
			release = &r
		}
	}
	if release == nil {
		t.Fatalf("expected Release effect, got %v", out)
	}
	if len(release.Packets) != 2 {
		t.Fatalf("released %d packets, want 2", len(release.Packets))
	}
	if release.MAC.String() != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("released MAC = %v", release.MAC)
	}
}

func TestTimeoutExhaustionInstallsNegative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retries = 1
	tbl := NewTable(cfg)
	local := func(iface.ID, net.IP) (net.HardwareAddr, bool) { return nil, false }
	e := NewEngine(tbl, local)

	now := time.Unix(0, 0)
	dst := net.IPv4(10, 0, 0, 9)
	e.Send(1, dst, []byte("x"), now)

	effects := e.HandleTimeout(dst, now.Add(time.Second))
	if len(effects) != 1 {
		t.Fatalf("effects = %v, want single Fail", effects)
	}
	fail, ok := effects[0].(Fail)
	if !ok {
		t.Fatalf("effects[0] = %T, want Fail", effects[0])
	}
	if len(fail.Packets) != 1 {
		t.Fatalf("failed packets = %d, want 1", len(fail.Packets))
	}
	if !tbl.IsNegative(dst, now.Add(time.Second)) {
		t.Fatal("expected negative cache entry after exhaustion")
	}
}

func TestRequestForLocalAddressReplies(t *testing.T) {
	tbl := NewTable(DefaultConfig())
	ourMAC := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	local := func(ifc iface.ID, ip net.IP) (net.HardwareAddr, bool) {
		if ip.Equal(net.IPv4(10, 0, 0, 1)) {
			return ourMAC, true
		}
		return nil, false
	}
	e := NewEngine(tbl, local)
	req := Packet{
		Op:        OpRequest,
		SenderMAC: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		SenderIP:  net.IPv4(10, 0, 0, 5),
		TargetMAC: net.HardwareAddr{0, 0, 0, 0, 0, 0},
		TargetIP:  net.IPv4(10, 0, 0, 1),
	}
	effects := e.HandleInbound(1, req, time.Unix(0, 0))
	var sawReply bool
	for _, eff := range effects {
		if r, ok := eff.(SendReply); ok {
			sawReply = true
			if r.Reply.SenderMAC.String() != ourMAC.String() {
				t.Fatalf("reply sender MAC = %v", r.Reply.SenderMAC)
			}
		}
	}
	if !sawReply {
		t.Fatalf("expected SendReply effect, got %v", effects)
	}
}
