// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package arp

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRoundTrip(t *testing.T) {
	p := Packet{
		Op:        OpReply,
		SenderMAC: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		SenderIP:  net.IPv4(10, 0, 0, 5),
		TargetMAC: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		TargetIP:  net.IPv4(10, 0, 0, 1),
	}
	b, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != wireLen {
		t.Fatalf("Marshal len = %d, want %d", len(b), wireLen)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(p.SenderIP.To4(), got.SenderIP.To4()); diff != "" {
		t.Errorf("SenderIP mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(p.SenderMAC, got.SenderMAC); diff != "" {
		t.Errorf("SenderMAC mismatch (-want +got):\n%s", diff)
	}
	if got.Op != p.Op {
		t.Errorf("Op = %v, want %v", got.Op, p.Op)
	}
}

func TestUnmarshalRejectsShort(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on short packet")
	}
}
