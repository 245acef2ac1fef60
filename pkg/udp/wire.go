// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package udp

import (
	"encoding/binary"
	"fmt"
)

const headerLen = 8

// Header is a parsed UDP header (RFC 768).
type Header struct {
	SrcPort, DstPort uint16
	Length           uint16
	Checksum         uint16
}

// Marshal encodes a UDP datagram. pseudoHeaderChecksum mirrors
// tcpseg.Segment.Marshal's hook, computing the checksum over the enclosing
// IP pseudo-header once the rest of the datagram is known; nil skips
// checksumming, which RFC 768 permits for IPv4.
func Marshal(h Header, payload []byte, pseudoHeaderChecksum func(b []byte) uint16) ([]byte, error) {
	b := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint16(b[4:6], uint16(headerLen+len(payload)))
	copy(b[headerLen:], payload)
	if pseudoHeaderChecksum != nil {
		binary.BigEndian.PutUint16(b[6:8], pseudoHeaderChecksum(b))
	}
	return b, nil
}

// Parse decodes a UDP datagram's header and payload.
func Parse(b []byte) (Header, []byte, error) {
	if len(b) < headerLen {
		return Header{}, nil, fmt.Errorf("udp: short header (%d bytes)", len(b))
	}
	h := Header{
		SrcPort:  binary.BigEndian.Uint16(b[0:2]),
		DstPort:  binary.BigEndian.Uint16(b[2:4]),
		Length:   binary.BigEndian.Uint16(b[4:6]),
		Checksum: binary.BigEndian.Uint16(b[6:8]),
	}
	if int(h.Length) > len(b) {
		return Header{}, nil, fmt.Errorf("udp: truncated datagram")
	}
	return h, b[headerLen:h.Length], nil
}
