// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ipv4

import (
	"net"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	h := Header{TTL: 64, Protocol: ProtoTCP, Src: net.IPv4(10, 0, 0, 1), Dst: net.IPv4(10, 0, 0, 2)}
	payload := []byte("hello")
	b, err := h.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyChecksum(b) {
		t.Fatal("checksum invalid after Marshal")
	}
	got, gotPayload, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.TTL != 64 || got.Protocol != ProtoTCP {
		t.Fatalf("got %+v", got)
	}
	if string(gotPayload) != "hello" {
		t.Fatalf("payload = %q, want hello", gotPayload)
	}
	if !got.Src.Equal(h.Src) || !got.Dst.Equal(h.Dst) {
		t.Fatalf("addrs = %v/%v, want %v/%v", got.Src, got.Dst, h.Src, h.Dst)
	}
}

func TestCorruptedChecksumDetected(t *testing.T) {
	h := Header{TTL: 1, Protocol: ProtoUDP, Src: net.IPv4(1, 2, 3, 4), Dst: net.IPv4(5, 6, 7, 8)}
	b, _ := h.Marshal(nil)
	b[8] = 2 // mutate TTL without fixing checksum
	if VerifyChecksum(b) {
		t.Fatal("expected checksum mismatch after corruption")
	}
}
