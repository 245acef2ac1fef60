// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package arp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Op is the ARP operation code (RFC 826 §"opcode").
type Op uint16

const (
	OpRequest Op = 1
	OpReply   Op = 2
)

const (
	htypeEthernet = 1
	ptypeIPv4     = 0x0800
	wireLen       = 28
)

// Packet is an RFC 826 ARP packet specialized to Ethernet/IPv4, the only
// hardware/protocol pair requires.
type Packet struct {
	Op        Op
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// Marshal encodes p into its bit-exact 28-byte wire form: htype=1,
// ptype=0x0800, hlen=6, plen=4, followed by the sender/target (MAC, IP)
// quadruple.
func (p Packet) Marshal() ([]byte, error) {
	sMAC := p.SenderMAC.To6()
	tMAC := p.TargetMAC.To6()
	sIP := p.SenderIP.To4()
	tIP := p.TargetIP.To4()
	if len(sMAC) != 6 || len(tMAC) != 6 || sIP == nil || tIP == nil {
		return nil, fmt.Errorf("arp: malformed packet fields")
	}
	b := make([]byte, wireLen)
	binary.BigEndian.PutUint16(b[0:2], htypeEthernet)
	binary.BigEndian.PutUint16(b[2:4], ptypeIPv4)
	b[4] = 6
	b[5] = 4
	binary.BigEndian.PutUint16(b[6:8], uint16(p.Op))
	copy(b[8:14], sMAC)
	copy(b[14:18], sIP)
	copy(b[18:24], tMAC)
	copy(b[24:28], tIP)
	return b, nil
}

// Unmarshal decodes b into a Packet, failing on any length or constant
// mismatch (htype/ptype/hlen/plen) so malformed or foreign ARP variants are
// dropped rather than misinterpreted propagation rules.
func Unmarshal(b []byte) (Packet, error) {
	if len(b) < wireLen {
		return Packet{}, fmt.Errorf("arp: short packet (%d bytes)", len(b))
	}
	htype := binary.BigEndian.Uint16(b[0:2])
	ptype := binary.BigEndian.Uint16(b[2:4])
	hlen, plen := b[4], b[5]
	if htype != htypeEthernet || ptype != ptypeIPv4 || hlen != 6 || plen != 4 {
		return Packet{}, fmt.Errorf("arp: unsupported htype/ptype/hlen/plen")
	}
	op := Op(binary.BigEndian.Uint16(b[6:8]))
	if op != OpRequest && op != OpReply {
		return Packet{}, fmt.Errorf("arp: unknown opcode %d", op)
	}
	return Packet{
		Op:        op,
		SenderMAC: net.HardwareAddr(append([]byte(nil), b[8:14]...)),
		SenderIP:  net.IP(append([]byte(nil), b[14:18]...)),
		TargetMAC: net.HardwareAddr(append([]byte(nil), b[18:24]...)),
		TargetIP:  net.IP(append([]byte(nil), b[24:28]...)),
	}, nil
}
