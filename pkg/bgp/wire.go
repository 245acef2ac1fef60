// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package bgp implements the RFC 4271 §8 peering state machine: session
// establishment, simultaneous-open collision resolution, and keepalive/
// hold-timer driven liveness, over the OPEN/KEEPALIVE/NOTIFICATION wire
// formats. UPDATE processing is out of scope; sessions only.
package bgp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// MsgType is one of the RFC 4271 §4.1 message type codes.
type MsgType uint8

const (
	MsgOpen MsgType = iota + 1
	MsgUpdate
	MsgNotification
	MsgKeepalive
)

const headerLen = 19 // 16-byte marker + 2-byte length + 1-byte type

// NotifyCode is an RFC 4271 §4.5 NOTIFICATION error code.
type NotifyCode uint8

const (
	ErrMessageHeader NotifyCode = iota + 1
	ErrOpenMessage
	ErrUpdateMessage
	ErrHoldTimerExpired
	ErrFSM
	ErrCease
)

// OpenMessage subcodes names explicitly.
const (
	OpenSubUnsupportedVersion uint8 = iota + 1
	OpenSubBadPeerAS
	OpenSubBadBGPIdentifier
	OpenSubUnsupportedOptionalParam
	_
	OpenSubUnacceptableHoldTime
)

// Open is the RFC 4271 §4.2 OPEN message body: version 4, no optional
// parameters (capability negotiation is out of scope).
type Open struct {
	Version    uint8
	AS         uint16
	HoldTime   uint16
	Identifier net.IP // 4-byte BGP identifier
}

// Notification is the RFC 4271 §4.5 NOTIFICATION message body.
type Notification struct {
	Code    NotifyCode
	Subcode uint8
	Data    []byte
}

// marshalHeader returns the 19-byte common header (all-ones marker) for a
// message whose body is bodyLen bytes long, per RFC 4271 §4.1.
func marshalHeader(typ MsgType, bodyLen int) []byte {
	b := make([]byte, headerLen)
	for i := 0; i < 16; i++ {
		b[i] = 0xff
	}
	binary.BigEndian.PutUint16(b[16:18], uint16(headerLen+bodyLen))
	b[18] = uint8(typ)
	return b
}

// MarshalOpen encodes o as a full OPEN message.
func MarshalOpen(o Open) []byte {
	body := make([]byte, 10)
	body[0] = o.Version
	binary.BigEndian.PutUint16(body[1:3], o.AS)
	binary.BigEndian.PutUint16(body[3:5], o.HoldTime)
	copy(body[5:9], o.Identifier.To4())
	body[9] = 0 // optional parameters length
	return append(marshalHeader(MsgOpen, len(body)), body...)
}

// MarshalKeepalive encodes a bare KEEPALIVE message (no body).
func MarshalKeepalive() []byte {
	return marshalHeader(MsgKeepalive, 0)
}

// MarshalNotification encodes n as a full NOTIFICATION message.
func MarshalNotification(n Notification) []byte {
	body := make([]byte, 2+len(n.Data))
	body[0] = uint8(n.Code)
	body[1] = n.Subcode
	copy(body[2:], n.Data)
	return append(marshalHeader(MsgNotification, len(body)), body...)
}

// ParseHeader validates the marker and returns the message type and total
// length (header included).
func ParseHeader(b []byte) (MsgType, int, error) {
	if len(b) < headerLen {
		return 0, 0, fmt.Errorf("bgp: short header (%d bytes)", len(b))
	}
	for i := 0; i < 16; i++ {
		if b[i] != 0xff {
			return 0, 0, fmt.Errorf("bgp: bad marker")
		}
	}
	length := int(binary.BigEndian.Uint16(b[16:18]))
	if length < headerLen || length > len(b) {
		return 0, 0, fmt.Errorf("bgp: bad length %d", length)
	}
	return MsgType(b[18]), length, nil
}

// ParseOpen decodes an OPEN message body (b excludes the header).
func ParseOpen(b []byte) (Open, error) {
	if len(b) < 10 {
		return Open{}, fmt.Errorf("bgp: short OPEN body")
	}
	return Open{
		Version:    b[0],
		AS:         binary.BigEndian.Uint16(b[1:3]),
		HoldTime:   binary.BigEndian.Uint16(b[3:5]),
		Identifier: net.IPv4(b[5], b[6], b[7], b[8]),
	}, nil
}

// ParseNotification decodes a NOTIFICATION message body.
func ParseNotification(b []byte) (Notification, error) {
	if len(b) < 2 {
		return Notification{}, fmt.Errorf("bgp: short NOTIFICATION body")
	}
	return Notification{
		Code:    NotifyCode(b[0]),
		Subcode: b[1],
		Data:    append([]byte(nil), b[2:]...),
	}, nil
}

// IdentifierU32 returns ip's 4-byte form as a big-endian uint32, the
// comparable form collision resolution needs.
func IdentifierU32(ip net.IP) uint32 {
	v4 := ip.To4()
	return binary.BigEndian.Uint32(v4)
}
