// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package rip implements the RIP v2 distance-vector daemon: periodic and
// request/response table exchange with split horizon and deadline-based
// route invalidation.
package rip

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Command is the RIP v2 message command byte.
type Command uint8

const (
	CommandRequest  Command = 1
	CommandResponse Command = 2
)

const (
	entryLen    = 20
	maxEntries  = 25
	Infinity    = 16
	headerLen   = 4
)

// Entry is one RIP v2 route entry: addr_fam, target, mask, next_hop, metric.
type Entry struct {
	AddrFamily uint16
	Target     net.IP
	Mask       net.IPMask
	NextHop    net.IP
	Metric     uint8
}

// Packet is a full RIP v2 message: command, version 2, and up to 25
// entries.
type Packet struct {
	Command Command
	Entries []Entry
}

// Marshal encodes p, splitting into multiple packets of at most 25
// entries if necessary.
func Marshal(p Packet) [][]byte {
	var out [][]byte
	entries := p.Entries
	if len(entries) == 0 {
		entries = []Entry{{}}
	}
	for len(entries) > 0 {
		n := len(entries)
		if n > maxEntries {
			n = maxEntries
		}
		out = append(out, marshalOne(p.Command, entries[:n]))
		entries = entries[n:]
	}
	return out
}

func marshalOne(cmd Command, entries []Entry) []byte {
	b := make([]byte, headerLen+entryLen*len(entries))
	b[0] = uint8(cmd)
	b[1] = 2 // version
	for i, e := range entries {
		off := headerLen + i*entryLen
		binary.BigEndian.PutUint16(b[off:off+2], e.AddrFamily)
		ip4 := e.Target.To4()
		if ip4 == nil {
			ip4 = make(net.IP, 4)
		}
		copy(b[off+4:off+8], ip4)
		if e.Mask != nil {
			copy(b[off+8:off+12], e.Mask)
		}
		nh := e.NextHop.To4()
		if nh == nil {
			nh = make(net.IP, 4)
		}
		copy(b[off+12:off+16], nh)
		binary.BigEndian.PutUint32(b[off+16:off+20], uint32(e.Metric))
	}
	return b
}

// Parse decodes a single RIP v2 message.
func Parse(b []byte) (Packet, error) {
	if len(b) < headerLen {
		return Packet{}, fmt.Errorf("rip: short packet (%d bytes)", len(b))
	}
	if b[1] != 2 {
		return Packet{}, fmt.Errorf("rip: unsupported version %d", b[1])
	}
	body := b[headerLen:]
	if len(body)%entryLen != 0 {
		return Packet{}, fmt.Errorf("rip: body not a multiple of %d bytes", entryLen)
	}
	p := Packet{Command: Command(b[0])}
	for off := 0; off < len(body); off += entryLen {
		e := body[off : off+entryLen]
		p.Entries = append(p.Entries, Entry{
			AddrFamily: binary.BigEndian.Uint16(e[0:2]),
			Target:     net.IPv4(e[4], e[5], e[6], e[7]),
			Mask:       net.IPMask(append([]byte(nil), e[8:12]...)),
			NextHop:    net.IPv4(e[12], e[13], e[14], e[15]),
			Metric:     uint8(binary.BigEndian.Uint32(e[16:20])),
		})
	}
	return p, nil
}

// IsFullTableRequest reports whether p is the single catch-all REQUEST
// entry (addr_fam=0, metric=16) names.
func IsFullTableRequest(p Packet) bool {
	return p.Command == CommandRequest && len(p.Entries) == 1 &&
		p.Entries[0].AddrFamily == 0 && p.Entries[0].Metric == Infinity
}
