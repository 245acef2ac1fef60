// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ring implements a sequence-number-indexed circular byte buffer,
// the storage primitive shared by the TCP send and receive buffers.
package ring

// Seq is a 32-bit TCP sequence number. Arithmetic on Seq wraps modulo 2^32;
// ordering uses the serial-number comparison from RFC 1982 with a 2^31
// threshold.
type Seq uint32

// LessThan reports whether a precedes b in the wrapping sequence space.
func (a Seq) LessThan(b Seq) bool {
	return int32(a-b) < 0
}

// LessThanEq reports whether a precedes or equals b.
func (a Seq) LessThanEq(b Seq) bool {
	return a == b || a.LessThan(b)
}

// Add returns a+n.
func (a Seq) Add(n int) Seq {
	return a + Seq(uint32(n))
}

// Size returns b-a as a byte count, valid only when a.LessThanEq(b).
func (a Seq) Size(b Seq) int {
	return int(uint32(b - a))
}

// Buffer is a circular byte buffer indexed by an absolute sequence number.
// It holds up to cap(storage) bytes; writes past the base of the window
// that don't fit are rejected.
//
// valid[i] tracks whether storage[i] holds data that has actually been
// written (as opposed to a hole left by out-of-order delivery), so that
// len_continuous can report the longest valid run from the base without
// the caller needing to track gaps itself.
type Buffer struct {
	base    Seq
	storage []byte
	valid   []bool
	// writeOff is the offset (from base) of the first byte not yet
	// written via append; it is the logical end of sequentially
	// appended, potentially still-being-flushed data.
	writeOff int
}

// New creates a Buffer of the given capacity whose base sequence number is
// initSeq. initSeq is the sequence number of the first byte the buffer will
// ever hold (e.g. iss+1 for a send buffer, irs+1 for a receive buffer).
func New(capacity int, initSeq Seq) *Buffer {
	return &Buffer{
		base:    initSeq,
		storage: make([]byte, capacity),
		valid:   make([]bool, capacity),
	}
}

// Base returns the current base sequence number.
func (b *Buffer) Base() Seq { return b.base }

// Cap returns the buffer's total capacity in bytes.
func (b *Buffer) Cap() int { return len(b.storage) }

// Append writes as many bytes of p as fit after the current write offset,
// returning the number of bytes actually written. It never overwrites
// bytes already appended; the caller should stop calling Append and drain
// via Read/Free once it returns less than len(p).
func (b *Buffer) Append(p []byte) int {
	free := len(b.storage) - b.writeOff
	if free <= 0 {
		return 0
	}
	n := len(p)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		idx := (int(b.base)%len(b.storage) + b.writeOff + i) % len(b.storage)
		b.storage[idx] = p[i]
		b.valid[idx] = true
	}
	b.writeOff += n
	return n
}

// WriteAt stores p at the absolute sequence number seq, used for
// out-of-order reassembly on the receive side. Bytes that fall outside the
// buffer's current window [base, base+cap) are silently dropped, matching
// TCP's acceptable-segment trimming which the caller is expected to have
// already applied.
func (b *Buffer) WriteAt(p []byte, seq Seq) {
	cap := len(b.storage)
	for i, c := range p {
		s := seq.Add(i)
		off := b.base.Size(s)
		if s.LessThan(b.base) || off >= cap {
			continue
		}
		idx := (int(b.base)%cap + off) % cap
		b.storage[idx] = c
		b.valid[idx] = true
		if off >= b.writeOff {
			b.writeOff = off + 1
		}
	}
}

// PeekAt copies up to len(dst) bytes starting at seq into dst without
// consuming them, returning the count copied. Bytes are only copied while
// contiguous and valid; PeekAt stops at the first hole or unwritten byte.
func (b *Buffer) PeekAt(dst []byte, seq Seq) int {
	cap := len(b.storage)
	off := b.base.Size(seq)
	if seq.LessThan(b.base) || off >= cap {
		return 0
	}
	n := 0
	for n < len(dst) && off+n < cap {
		idx := (int(b.base)%cap + off + n) % cap
		if !b.valid[idx] {
			break
		}
		dst[n] = b.storage[idx]
		n++
	}
	return n
}

// LenContinuous returns the length of the contiguous valid prefix starting
// at base.
func (b *Buffer) LenContinuous() int {
	cap := len(b.storage)
	n := 0
	for n < cap {
		idx := (int(b.base) + n) % cap
		if !b.valid[idx] {
			break
		}
		n++
	}
	return n
}

// Len reports the number of bytes appended but not yet freed.
func (b *Buffer) Len() int {
	return b.writeOff
}

// Avail reports remaining append capacity.
func (b *Buffer) Avail() int {
	return len(b.storage) - b.writeOff
}

// Read consumes the contiguous valid prefix into dst, advancing the base by
// the number of bytes copied, and returns that count.
func (b *Buffer) Read(dst []byte) int {
	n := b.LenContinuous()
	if n > len(dst) {
		n = len(dst)
	}
	if n == 0 {
		return 0
	}
	cap := len(b.storage)
	for i := 0; i < n; i++ {
		idx := (int(b.base) + i) % cap
		dst[i] = b.storage[idx]
	}
	b.Free(n)
	return n
}

// Free advances the base by n bytes unconditionally, clearing the
// validity bits of the bytes dropped and sliding writeOff back by n. It is
// the caller's responsibility to ensure n does not exceed bytes already
// written (e.g. via acknowledgment accounting on the send side).
func (b *Buffer) Free(n int) {
	if n <= 0 {
		return
	}
	cap := len(b.storage)
	if n > cap {
		n = cap
	}
	for i := 0; i < n; i++ {
		idx := (int(b.base) + i) % cap
		b.valid[idx] = false
	}
	b.base = b.base.Add(n)
	b.writeOff -= n
	if b.writeOff < 0 {
		b.writeOff = 0
	}
}
