// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ipv4 implements the IPv4 header wire format and checksums. The
// protocol numbers are declared here; ICMPType is an alias of
// golang.org/x/net/ipv4's type. Forwarding (TTL decrement, route lookup,
// ICMP Time Exceeded) lives in pkg/netctx.
package ipv4

import (
	"encoding/binary"
	"fmt"
	"net"

	xipv4 "golang.org/x/net/ipv4"
)

const (
	version     = 4
	minHeaderLen = 20
)

// Protocol numbers used by the core, for callers that only need the
// numeric value.
const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// Header is a parsed IPv4 header (RFC 791), options omitted since nothing
// in 's scope generates or consumes them.
type Header struct {
	TOS      uint8
	TotalLen uint16
	ID       uint16
	Flags    uint8
	FragOff  uint16
	TTL      uint8
	Protocol int
	Checksum uint16
	Src, Dst net.IP
}

// Marshal encodes h plus payload into a full IPv4 datagram, computing the
// header checksum.
func (h Header) Marshal(payload []byte) ([]byte, error) {
	src, dst := h.Src.To4(), h.Dst.To4()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("ipv4: non-v4 address in header")
	}
	b := make([]byte, minHeaderLen+len(payload))
	b[0] = version<<4 | (minHeaderLen / 4)
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], uint16(minHeaderLen+len(payload)))
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], uint16(h.Flags)<<13|h.FragOff)
	b[8] = h.TTL
	b[9] = uint8(h.Protocol)
	copy(b[12:16], src)
	copy(b[16:20], dst)
	binary.BigEndian.PutUint16(b[10:12], checksum(b[:minHeaderLen]))
	copy(b[minHeaderLen:], payload)
	return b, nil
}

// Parse decodes an IPv4 datagram's header, returning it and the payload
// slice. Parse does not validate the header checksum against the options
// area since this core never emits options; VerifyChecksum does that
// check separately so malformed packets are dropped without a panic.
func Parse(b []byte) (Header, []byte, error) {
	if len(b) < minHeaderLen {
		return Header{}, nil, fmt.Errorf("ipv4: short header (%d bytes)", len(b))
	}
	if b[0]>>4 != version {
		return Header{}, nil, fmt.Errorf("ipv4: bad version %d", b[0]>>4)
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < minHeaderLen || ihl > len(b) {
		return Header{}, nil, fmt.Errorf("ipv4: bad IHL %d", ihl)
	}
	totalLen := binary.BigEndian.Uint16(b[2:4])
	if int(totalLen) > len(b) {
		return Header{}, nil, fmt.Errorf("ipv4: truncated datagram")
	}
	flagsFrag := binary.BigEndian.Uint16(b[6:8])
	h := Header{
		TOS:      b[1],
		TotalLen: totalLen,
		ID:       binary.BigEndian.Uint16(b[4:6]),
		Flags:    uint8(flagsFrag >> 13),
		FragOff:  flagsFrag & 0x1fff,
		TTL:      b[8],
		Protocol: int(b[9]),
		Checksum: binary.BigEndian.Uint16(b[10:12]),
		Src:      net.IP(append([]byte(nil), b[12:16]...)),
		Dst:      net.IP(append([]byte(nil), b[16:20]...)),
	}
	return h, b[ihl:totalLen], nil
}

// VerifyChecksum reports whether b's header checksum (including options,
// if ihl > 20) is correct.
func VerifyChecksum(b []byte) bool {
	if len(b) < minHeaderLen {
		return false
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < minHeaderLen || ihl > len(b) {
		return false
	}
	return checksum(b[:ihl]) == 0
}

func checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// TransportChecksum computes the checksum a TCP/UDP/ICMP payload needs,
// over the IPv4 pseudo-header (src, dst, zero, protocol, length) followed
// by payload, matching x/net/ipv4's pseudo-header layout for consistency
// with the ICMPv4 path, which uses nil psh because ICMPv4 checksums don't
// cover one — TCP and UDP do.
func TransportChecksum(src, dst net.IP, protocol int, payload []byte) uint16 {
	psh := make([]byte, 12)
	copy(psh[0:4], src.To4())
	copy(psh[4:8], dst.To4())
	psh[9] = uint8(protocol)
	binary.BigEndian.PutUint16(psh[10:12], uint16(len(payload)))
	return checksum(append(psh, payload...))
}

// ICMPType re-exports x/net/ipv4's type enumeration so callers building
// ICMPv4 messages don't need a second import for it.
type ICMPType = xipv4.ICMPType
