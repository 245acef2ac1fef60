// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package icmp

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRouterAdvertisementRoundTrip(t *testing.T) {
	ra := RouterAdvertisement{
		CurHopLimit:    64,
		ManagedConfig:  false,
		OtherConfig:    true,
		RouterLifetime: 1800,
		ReachableTime:  30000,
		RetransTimer:   1000,
		Options: []Option{
			PrefixInformation{
				PrefixLen:         64,
				OnLink:            true,
				Autonomous:        true,
				ValidLifetime:     2592000,
				PreferredLifetime: 604800,
				Prefix:            net.ParseIP("2001:db8::"),
			},
			MTUOption{MTU: 1500},
		},
	}
	b, err := ra.Marshal(0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseRouterAdvertisement(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ra.RouterLifetime, got.RouterLifetime); diff != "" {
		t.Errorf("RouterLifetime mismatch (-want +got):\n%s", diff)
	}
	if len(got.Options) != 2 {
		t.Fatalf("Options = %d, want 2", len(got.Options))
	}
	pi, ok := got.Options[0].(PrefixInformation)
	if !ok {
		t.Fatalf("Options[0] = %T, want PrefixInformation", got.Options[0])
	}
	if !pi.Prefix.Equal(ra.Options[0].(PrefixInformation).Prefix) {
		t.Errorf("Prefix = %v, want %v", pi.Prefix, ra.Options[0].(PrefixInformation).Prefix)
	}
	if !pi.OnLink || !pi.Autonomous {
		t.Errorf("flags not preserved: %+v", pi)
	}
}

func TestNeighborAdvertisementRoundTrip(t *testing.T) {
	na := NeighborAdvertisement{
		Router:    true,
		Solicited: true,
		Target:    net.ParseIP("2001:db8::1"),
		Options:   []Option{TargetLinkLayerAddress{MAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}}},
	}
	b, _ := na.Marshal(0)
	got, err := ParseNeighborAdvertisement(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Router != na.Router || got.Solicited != na.Solicited || got.Override != na.Override {
		t.Errorf("flags = %+v, want %+v", got, na)
	}
	if !got.Target.Equal(na.Target) {
		t.Errorf("Target = %v, want %v", got.Target, na.Target)
	}
	tla, ok := got.Options[0].(TargetLinkLayerAddress)
	if !ok {
		t.Fatalf("Options[0] = %T", got.Options[0])
	}
	if tla.MAC.String() != "02:00:00:00:00:01" {
		t.Errorf("MAC = %v", tla.MAC)
	}
}
