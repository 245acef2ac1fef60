// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ndp

import (
	"net"
	"testing"
	"time"

	"go.fuchsia.dev/netsim/pkg/iface"
)

func noDelay(time.Duration) time.Duration { return 0 }

func TestSLAACAddressGeneration(t *testing.T) {
	e := NewEngine(DefaultConfig(), noDelay)
	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	ifc := iface.New(1, "eth0", mac, 1500)

	prefix := net.ParseIP("2001:db8::")
	effects := e.StartSLAAC(ifc, prefix, 64, time.Unix(0, 0))

	var assigned net.IP
	for _, eff := range effects {
		if a, ok := eff.(AssignTentative); ok {
			assigned = a.Addr
		}
	}
	want := net.ParseIP("2001:db8::200:ff:fe00:1")
	if !assigned.Equal(want) {
		t.Fatalf("assigned = %v, want %v", assigned, want)
	}
}

func TestIdempotentDAD(t *testing.T) {
	e := NewEngine(DefaultConfig(), noDelay)
	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	ifc := iface.New(1, "eth0", mac, 1500)
	ifc.Addrs6 = append(ifc.Addrs6, iface.Addr6{IP: net.ParseIP("2001:db8::200:ff:fe00:1"), State: iface.Preferred})

	effects := e.StartSLAAC(ifc, net.ParseIP("2001:db8::"), 64, time.Unix(0, 0))
	if len(effects) != 0 {
		t.Fatalf("expected no-op re-running DAD on assigned address, got %v", effects)
	}
}

func TestDADCompletesAfterTransmits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DupAddrDetectTransmits = 1
	e := NewEngine(cfg, noDelay)
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	ifc := iface.New(1, "eth0", mac, 1500)
	now := time.Unix(0, 0)
	e.StartSLAAC(ifc, net.ParseIP("2001:db8::"), 64, now)
	target := net.ParseIP("2001:db8::200:ff:fe00:1")

	effects := e.NSRetransmitFired(1, target, now.Add(time.Second))
	var promoted bool
	for _, eff := range effects {
		if _, ok := eff.(PromoteAddress); ok {
			promoted = true
		}
	}
	if !promoted {
		t.Fatalf("expected PromoteAddress after dupAddrDetectTransmits probes, got %v", effects)
	}
}

func TestRFC6724PreferSmallestSufficientScope(t *testing.T) {
	dst := net.ParseIP("2001:db8::1") // global
	candidates := []Candidate{
		{IP: net.ParseIP("fe80::1")},    // link-local
		{IP: net.ParseIP("2001:db8::2")}, // global
	}
	best, ok := SelectSource(dst, candidates, DefaultPolicyTable())
	if !ok {
		t.Fatal("expected a selection")
	}
	if !best.IP.Equal(net.ParseIP("2001:db8::2")) {
		t.Fatalf("selected %v, want global address for global destination", best.IP)
	}
}

func TestRFC6724AvoidDeprecated(t *testing.T) {
	dst := net.ParseIP("2001:db8::1")
	candidates := []Candidate{
		{IP: net.ParseIP("2001:db8::2"), Deprecated: true},
		{IP: net.ParseIP("2001:db8::3")},
	}
	best, _ := SelectSource(dst, candidates, DefaultPolicyTable())
	if !best.IP.Equal(net.ParseIP("2001:db8::3")) {
		t.Fatalf("selected %v, want non-deprecated address", best.IP)
	}
}

func TestHandleRAAssignsFromPrefix(t *testing.T) {
	e := NewEngine(DefaultConfig(), noDelay)
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	ifc := iface.New(1, "eth0", mac, 1500)
	now := time.Unix(0, 0)

	effects := e.HandleRA(ifc, net.ParseIP("fe80::1"), RAInfo{
		RouterLifetime: 1800 * time.Second,
		Prefixes: []RAPrefix{{
			Prefix: net.ParseIP("2001:db8::"), PrefixLen: 64,
			OnLink: true, Autonomous: true,
			ValidLifetime: time.Hour, PreferredLifetime: time.Hour,
		}},
	}, now)
	var sawAssign bool
	for _, eff := range effects {
		if _, ok := eff.(AssignTentative); ok {
			sawAssign = true
		}
	}
	if !sawAssign {
		t.Fatalf("expected AssignTentative from autonomous on-link prefix, got %v", effects)
	}
	if len(e.routerList(1).All()) != 1 {
		t.Fatal("expected default router installed")
	}
}
