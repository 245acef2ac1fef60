// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package icmp provides the bit-exact ICMPv4/ICMPv6 wire encodings
// requires, built on top of golang.org/x/net/icmp's generic
// message framing (type/code/checksum) and golang.org/x/net/ipv4,
// golang.org/x/net/ipv6's type constants. NDP option bodies (Router/
// Neighbor Solicitation and Advertisement, MLD) have no counterpart in
// x/net/icmp, so they're implemented here as icmp.MessageBody
// implementations plugged into the same framing.
package icmp

import (
	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// MarshalV4 encodes an ICMPv4 message. Unlike MarshalV6 it takes no
// pseudo-header, since the ICMPv4 checksum does not cover one.
func MarshalV4(typ ipv4.ICMPType, code int, body xicmp.MessageBody) ([]byte, error) {
	m := xicmp.Message{Type: typ, Code: code, Body: body}
	return m.Marshal(nil)
}

// MarshalV6 encodes an ICMPv6 message, computing the checksum over psh (the
// IPv6 pseudo-header: source, destination, upper-layer length, next header)
// as RFC 4443 §2.3 requires.
func MarshalV6(typ ipv6.ICMPType, code int, body xicmp.MessageBody, psh []byte) ([]byte, error) {
	m := xicmp.Message{Type: typ, Code: code, Body: body}
	return m.Marshal(psh)
}

// ParseV4 decodes an ICMPv4 message.
func ParseV4(b []byte) (*xicmp.Message, error) {
	return xicmp.ParseMessage(1, b) // iana.ProtocolICMP == 1
}

// ParseV6 decodes an ICMPv6 message. It does not verify the checksum,
// which covers an IPv6 pseudo-header this function is not given.
func ParseV6(b []byte) (*xicmp.Message, error) {
	return xicmp.ParseMessage(58, b) // iana.ProtocolIPv6ICMP == 58
}

// Echo wraps golang.org/x/net/icmp.Echo for both families' Echo
// Request/Reply bodies.
type Echo = xicmp.Echo

// DstUnreach wraps x/net's Destination Unreachable body (type-specific
// code meaning differs between v4 and v6; maps HostUnreachable
// -> ICMPv4 Destination Unreachable (Host) and AddressUnreachable code for
// ICMPv6).
type DstUnreach = xicmp.DstUnreach

// TimeExceeded wraps x/net's Time Exceeded body, used for TTL/hop-limit
// exhaustion on both families.
type TimeExceeded = xicmp.TimeExceeded

// ICMPv4 Destination Unreachable codes (RFC 792).
const (
	CodeNet  = 0
	CodeHost = 1
)

// ICMPv6 Destination Unreachable codes (RFC 4443 §3.1).
const (
	CodeV6NoRoute          = 0
	CodeV6AdminProhibited  = 1
	CodeV6BeyondScope      = 2
	CodeV6AddressUnreachable = 3
	CodeV6PortUnreachable  = 4
)
