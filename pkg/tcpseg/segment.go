// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tcpseg implements the RFC 793/9293 TCP segment wire format:
// ports, sequence/ack numbers, flags, window, checksum, and the MSS/EOL/NOP
// option TLVs names.
package tcpseg

import (
	"encoding/binary"
	"fmt"

	"go.fuchsia.dev/netsim/pkg/ring"
)

// Flag is one of the six TCP control bits.
type Flag uint8

const (
	FlagFIN Flag = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

const (
	minHeaderLen = 20
	optKindEOL   = 0
	optKindNOP   = 1
	optKindMSS   = 2
)

// Segment is a parsed TCP segment.
type Segment struct {
	SrcPort, DstPort uint16
	Seq, Ack         ring.Seq
	Flags            Flag
	Window           uint16
	Checksum         uint16
	Urgent           uint16
	MSS              uint16 // 0 if absent
	Payload          []byte
}

// headerLen returns the header length in bytes, including the 4-byte MSS
// option when present.
func (s Segment) headerLen() int {
	if s.MSS != 0 {
		return minHeaderLen + 4
	}
	return minHeaderLen
}

// Marshal encodes s into a full TCP segment. If pseudoHeaderChecksum is
// non-nil it is called with the encoded segment (checksum field zero) and
// its result is stored as the checksum, so it must return the complete
// checksum over the enclosing IP pseudo-header and the segment, as
// ipv4.TransportChecksum or Checksum with ipv6.PseudoHeader do.
func (s Segment) Marshal(pseudoHeaderChecksum func(payload []byte) uint16) ([]byte, error) {
	hl := s.headerLen()
	b := make([]byte, hl+len(s.Payload))
	binary.BigEndian.PutUint16(b[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], s.DstPort)
	binary.BigEndian.PutUint32(b[4:8], uint32(s.Seq))
	binary.BigEndian.PutUint32(b[8:12], uint32(s.Ack))
	b[12] = uint8(hl/4) << 4
	b[13] = uint8(s.Flags)
	binary.BigEndian.PutUint16(b[14:16], s.Window)
	binary.BigEndian.PutUint16(b[18:20], s.Urgent)
	if s.MSS != 0 {
		b[20] = optKindMSS
		b[21] = 4
		binary.BigEndian.PutUint16(b[22:24], s.MSS)
	}
	copy(b[hl:], s.Payload)
	if pseudoHeaderChecksum != nil {
		binary.BigEndian.PutUint16(b[16:18], pseudoHeaderChecksum(b))
	}
	return b, nil
}

// Parse decodes a TCP segment, validating the data offset but not the
// checksum (callers verify that against the enclosing IP header
// separately, mirroring ipv4.VerifyChecksum's split).
func Parse(b []byte) (Segment, error) {
	if len(b) < minHeaderLen {
		return Segment{}, fmt.Errorf("tcpseg: short segment (%d bytes)", len(b))
	}
	hl := int(b[12]>>4) * 4
	if hl < minHeaderLen || hl > len(b) {
		return Segment{}, fmt.Errorf("tcpseg: bad data offset %d", hl)
	}
	s := Segment{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Seq:     ring.Seq(binary.BigEndian.Uint32(b[4:8])),
		Ack:     ring.Seq(binary.BigEndian.Uint32(b[8:12])),
		Flags:   Flag(b[13]),
		Window:  binary.BigEndian.Uint16(b[14:16]),
		Checksum: binary.BigEndian.Uint16(b[16:18]),
		Urgent:  binary.BigEndian.Uint16(b[18:20]),
		Payload: append([]byte(nil), b[hl:]...),
	}
	opts := b[minHeaderLen:hl]
	for i := 0; i < len(opts); {
		switch opts[i] {
		case optKindEOL:
			i = len(opts)
		case optKindNOP:
			i++
		case optKindMSS:
			if i+4 > len(opts) {
				return Segment{}, fmt.Errorf("tcpseg: truncated MSS option")
			}
			s.MSS = binary.BigEndian.Uint16(opts[i+2 : i+4])
			i += 4
		default:
			if i+1 >= len(opts) {
				i = len(opts)
				break
			}
			l := int(opts[i+1])
			if l < 2 {
				i = len(opts)
				break
			}
			i += l
		}
	}
	return s, nil
}

// Checksum computes the standard one's-complement-sum-then-invert checksum
// over psh followed by b, the shape both IPv4 and IPv6 pseudo-header
// checksums share.
func Checksum(psh []byte, b []byte) uint16 {
	var sum uint32
	add := func(data []byte) {
		for i := 0; i+1 < len(data); i += 2 {
			sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
		}
		if len(data)%2 == 1 {
			sum += uint32(data[len(data)-1]) << 8
		}
	}
	add(psh)
	add(b)
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
