// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package netctx

import (
	"net"
	"time"

	"github.com/golang/glog"

	"go.fuchsia.dev/netsim/pkg/iface"
	"go.fuchsia.dev/netsim/pkg/ipv4"
	"go.fuchsia.dev/netsim/pkg/ipv6"
	"go.fuchsia.dev/netsim/pkg/tcpseg"
	"go.fuchsia.dev/netsim/pkg/udp"
)

func (n *Node) udpSocketFor(local udp.Endpoint) (*udp.Socket, bool) {
	for _, s := range n.UDPSock {
		if s.Local.Port == local.Port && (s.Local.IP == nil || s.Local.IP.Equal(local.IP)) {
			return s, true
		}
	}
	return nil, false
}

// handleUDPDatagram is transport delivery's UDP half: demux to the bound
// socket (wildcard-IP binds match any local address) and enqueue the
// datagram, or silently drop per RFC 768's unreliable-delivery contract
// when nothing is bound.
func (n *Node) handleUDPDatagram(ifcID iface.ID, srcIP, dstIP net.IP, body []byte, now time.Time) {
	hdr, payload, err := udp.Parse(body)
	if err != nil {
		glog.Warningf("netctx: malformed UDP datagram dropped: %v", err)
		return
	}
	if hdr.DstPort == ripPort {
		n.handleRIPDatagram(ifcID, srcIP, payload, now)
		return
	}
	s, ok := n.udpSocketFor(udp.Endpoint{IP: dstIP, Port: hdr.DstPort})
	if !ok {
		glog.V(2).Infof("netctx: UDP datagram to unbound port %d dropped", hdr.DstPort)
		return
	}
	s.Deliver(udp.Datagram{Peer: udp.Endpoint{IP: srcIP, Port: hdr.SrcPort}, Payload: append([]byte(nil), payload...)})
}

// sendUDPDatagram marshals and routes one outbound datagram, the
// application-driven counterpart to handleUDPDatagram's inbound path.
func (n *Node) sendUDPDatagram(local, peer udp.Endpoint, payload []byte, now time.Time) {
	hdr := udp.Header{SrcPort: local.Port, DstPort: peer.Port}
	if v4 := local.IP.To4(); v4 != nil {
		raw, err := udp.Marshal(hdr, payload, func(b []byte) uint16 {
			return ipv4.TransportChecksum(local.IP, peer.IP, ipv4.ProtoUDP, b)
		})
		if err != nil {
			glog.Errorf("netctx: failed to marshal UDP datagram: %v", err)
			return
		}
		if ifcID, ok := n.ifaceForV4Source(local.IP); ok {
			n.sendIPv4(ifcID, local.IP, peer.IP, ipv4.ProtoUDP, raw, now)
		}
		return
	}
	// RFC 8200 §8.1: unlike IPv4, a UDP checksum over IPv6 is mandatory.
	raw, err := udp.Marshal(hdr, payload, func(b []byte) uint16 {
		return tcpseg.Checksum(ipv6.PseudoHeader(local.IP, peer.IP, ipv6.ProtoUDP, len(b)), b)
	})
	if err != nil {
		glog.Errorf("netctx: failed to marshal UDP datagram: %v", err)
		return
	}
	if ifcID, ok := n.ifaceForV6Source(local.IP); ok {
		n.sendIPv6(ifcID, local.IP, peer.IP, ipv6.ProtoUDP, raw, 64, now)
	}
}
