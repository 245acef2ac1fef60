// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ring

import "testing"

func TestAppendRead(t *testing.T) {
	b := New(16, 100)
	n := b.Append([]byte("hello"))
	if n != 5 {
		t.Fatalf("Append = %d, want 5", n)
	}
	if got := b.LenContinuous(); got != 5 {
		t.Fatalf("LenContinuous = %d, want 5", got)
	}
	dst := make([]byte, 3)
	n = b.Read(dst)
	if n != 3 || string(dst) != "hel" {
		t.Fatalf("Read = %d,%q want 3,hel", n, dst)
	}
	if b.Base() != 103 {
		t.Fatalf("Base = %v, want 103", b.Base())
	}
}

func TestWriteAtReassembly(t *testing.T) {
	b := New(16, 100)
	// out-of-order: write [103,106) before [100,103)
	b.WriteAt([]byte("def"), 103)
	if got := b.LenContinuous(); got != 0 {
		t.Fatalf("LenContinuous = %d, want 0 before gap filled", got)
	}
	b.WriteAt([]byte("abc"), 100)
	if got := b.LenContinuous(); got != 6 {
		t.Fatalf("LenContinuous = %d, want 6", got)
	}
	dst := make([]byte, 6)
	n := b.Read(dst)
	if n != 6 || string(dst) != "abcdef" {
		t.Fatalf("Read = %d,%q want 6,abcdef", n, dst)
	}
}

func TestPeekAtDoesNotConsume(t *testing.T) {
	b := New(8, 0)
	b.Append([]byte("xyz"))
	dst := make([]byte, 2)
	n := b.PeekAt(dst, 1)
	if n != 2 || string(dst) != "yz" {
		t.Fatalf("PeekAt = %d,%q want 2,yz", n, dst)
	}
	if b.LenContinuous() != 3 {
		t.Fatalf("PeekAt must not consume, LenContinuous = %d", b.LenContinuous())
	}
}

func TestFreeAdvancesBaseUnconditionally(t *testing.T) {
	b := New(8, 0)
	b.Append([]byte("abcdefg"))
	b.Free(4)
	if b.Base() != 4 {
		t.Fatalf("Base = %v, want 4", b.Base())
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
}

func TestSeqWrapAround(t *testing.T) {
	var a Seq = 0xFFFFFFF0
	b := a.Add(32)
	if !a.LessThan(b) {
		t.Fatalf("expected %v < %v across wraparound", a, b)
	}
}
