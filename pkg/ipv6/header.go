// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ipv6 implements the fixed 40-byte IPv6 header (RFC 8200), with
// no extension-header support since fragmentation is explicitly out of
// scope and nothing else in this core emits one.
package ipv6

import (
	"encoding/binary"
	"fmt"
	"net"

	xipv6 "golang.org/x/net/ipv6"
)

const (
	version    = 6
	headerLen  = 40
)

const (
	ProtoICMPv6 = 58
	ProtoTCP    = 6
	ProtoUDP    = 17
)

// Header is a parsed IPv6 fixed header.
type Header struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   int
	HopLimit     uint8
	Src, Dst     net.IP
}

// Marshal encodes h and payload into a full IPv6 packet.
func (h Header) Marshal(payload []byte) ([]byte, error) {
	src, dst := h.Src.To16(), h.Dst.To16()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("ipv6: non-v6 address in header")
	}
	b := make([]byte, headerLen+len(payload))
	vtc := uint32(version)<<28 | uint32(h.TrafficClass)<<20 | (h.FlowLabel & 0xfffff)
	binary.BigEndian.PutUint32(b[0:4], vtc)
	binary.BigEndian.PutUint16(b[4:6], uint16(len(payload)))
	b[6] = uint8(h.NextHeader)
	b[7] = h.HopLimit
	copy(b[8:24], src)
	copy(b[24:40], dst)
	copy(b[40:], payload)
	return b, nil
}

// Parse decodes an IPv6 packet's fixed header and returns the payload.
func Parse(b []byte) (Header, []byte, error) {
	if len(b) < headerLen {
		return Header{}, nil, fmt.Errorf("ipv6: short header (%d bytes)", len(b))
	}
	vtc := binary.BigEndian.Uint32(b[0:4])
	if vtc>>28 != version {
		return Header{}, nil, fmt.Errorf("ipv6: bad version %d", vtc>>28)
	}
	payloadLen := binary.BigEndian.Uint16(b[4:6])
	if int(headerLen)+int(payloadLen) > len(b) {
		return Header{}, nil, fmt.Errorf("ipv6: truncated packet")
	}
	h := Header{
		TrafficClass: uint8(vtc >> 20),
		FlowLabel:    vtc & 0xfffff,
		PayloadLen:   payloadLen,
		NextHeader:   int(b[6]),
		HopLimit:     b[7],
		Src:          net.IP(append([]byte(nil), b[8:24]...)),
		Dst:          net.IP(append([]byte(nil), b[24:40]...)),
	}
	return h, b[headerLen : headerLen+int(payloadLen)], nil
}

// PseudoHeader builds the RFC 8200 §8.1 pseudo-header ICMPv6/TCP/UDP
// checksums cover: source, destination, upper-layer packet length,
// zero-padding, next header.
func PseudoHeader(src, dst net.IP, nextHeader int, upperLayerLen int) []byte {
	b := make([]byte, 40)
	copy(b[0:16], src.To16())
	copy(b[16:32], dst.To16())
	binary.BigEndian.PutUint32(b[32:36], uint32(upperLayerLen))
	b[39] = uint8(nextHeader)
	return b
}

// ICMPType re-exports x/net/ipv6's ICMP type enumeration.
type ICMPType = xipv6.ICMPType
