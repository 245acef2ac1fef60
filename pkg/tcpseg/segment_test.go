// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tcpseg

import (
	"testing"

	"go.fuchsia.dev/netsim/pkg/ring"
)

func TestRoundTripWithMSS(t *testing.T) {
	s := Segment{
		SrcPort: 1234, DstPort: 80,
		Seq: 100, Ack: 0,
		Flags:  FlagSYN,
		Window: 65535,
		MSS:    1460,
	}
	psh := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	b, err := s.Marshal(func(payload []byte) uint16 { return Checksum(psh, payload) })
	if err != nil {
		t.Fatal(err)
	}
	got, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.SrcPort != 1234 || got.DstPort != 80 || got.Seq != ring.Seq(100) {
		t.Fatalf("got %+v", got)
	}
	if !got.Flags.Has(FlagSYN) {
		t.Fatal("SYN flag lost")
	}
	if got.MSS != 1460 {
		t.Fatalf("MSS = %d, want 1460", got.MSS)
	}
}

func TestRoundTripWithPayload(t *testing.T) {
	s := Segment{SrcPort: 1, DstPort: 2, Seq: 10, Ack: 20, Flags: FlagACK | FlagPSH, Window: 100, Payload: []byte("hello world")}
	b, err := s.Marshal(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != "hello world" {
		t.Fatalf("Payload = %q", got.Payload)
	}
	if got.Ack != ring.Seq(20) {
		t.Fatalf("Ack = %v, want 20", got.Ack)
	}
}
