// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rip

import (
	"net"
	"testing"
	"time"

	"go.fuchsia.dev/netsim/pkg/iface"
)

func TestSplitHorizonOmitsRouteBackToGateway(t *testing.T) {
	now := time.Unix(0, 0)
	tbl := NewTable()
	tbl.AddLocal(net.IPv4(192, 168, 1, 0), net.CIDRMask(24, 32), iface.ID(1))
	gateway := net.IPv4(10, 0, 0, 2)
	tbl.Offer(net.IPv4(172, 16, 0, 0), net.CIDRMask(24, 32), gateway, 1, iface.ID(2), now, DefaultConfig().RouteDeadline)

	entries := splitHorizon(tbl.All(), gateway)
	for _, e := range entries {
		if e.Target.Equal(net.IPv4(172, 16, 0, 0)) {
			t.Fatalf("split horizon should omit the route learned from %v, got %v", gateway, entries)
		}
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want only the local subnet", entries)
	}
}

func TestResponseInstallsBetterRoute(t *testing.T) {
	now := time.Unix(0, 0)
	tbl := NewTable()
	e := NewEngine(DefaultConfig(), tbl)

	sender := net.IPv4(10, 0, 0, 2)
	p := Packet{Command: CommandResponse, Entries: []Entry{
		{AddrFamily: 2, Target: net.IPv4(172, 16, 0, 0), Mask: net.CIDRMask(24, 32), Metric: 2},
	}}
	eff := e.handleResponse(iface.ID(1), sender, p, now)
	if len(eff) != 1 {
		t.Fatalf("effects = %v, want one InstallForwarding", eff)
	}
	r, ok := tbl.Lookup(net.IPv4(172, 16, 0, 0), net.CIDRMask(24, 32))
	if !ok {
		t.Fatal("expected route to be installed")
	}
	if r.Cost != 3 {
		t.Fatalf("cost = %d, want 3 (advertised 2 + 1)", r.Cost)
	}

	// A worse advertisement from a different gateway must not replace it.
	worse := Packet{Command: CommandResponse, Entries: []Entry{
		{AddrFamily: 2, Target: net.IPv4(172, 16, 0, 0), Mask: net.CIDRMask(24, 32), Metric: 5},
	}}
	eff2 := e.handleResponse(iface.ID(1), net.IPv4(10, 0, 0, 9), worse, now)
	if len(eff2) != 0 {
		t.Fatalf("worse route should not install, got %v", eff2)
	}
}

func TestExpiredRouteReachesInfinity(t *testing.T) {
	now := time.Unix(0, 0)
	tbl := NewTable()
	tbl.Offer(net.IPv4(172, 16, 0, 0), net.CIDRMask(24, 32), net.IPv4(10, 0, 0, 2), 1, iface.ID(1), now, time.Second)

	expired := tbl.Expire(now.Add(2 * time.Second))
	if len(expired) != 1 {
		t.Fatalf("expired = %v, want 1 route", expired)
	}
	if expired[0].Cost != Infinity {
		t.Fatalf("cost after expiry = %d, want %d", expired[0].Cost, Infinity)
	}
}
