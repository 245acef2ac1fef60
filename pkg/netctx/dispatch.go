// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package netctx

import (
	"net"
	"time"

	"github.com/golang/glog"
	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"go.fuchsia.dev/netsim/pkg/addr"
	"go.fuchsia.dev/netsim/pkg/arp"
	"go.fuchsia.dev/netsim/pkg/iface"
	"go.fuchsia.dev/netsim/pkg/icmp"
	ipv4pkt "go.fuchsia.dev/netsim/pkg/ipv4"
	ipv6pkt "go.fuchsia.dev/netsim/pkg/ipv6"
	"go.fuchsia.dev/netsim/pkg/ndp"
	"go.fuchsia.dev/netsim/pkg/nerrors"
)

const (
	etherTypeARP  = 0x0806
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86dd

	protoICMPv4 = 1
	protoTCP    = 6
	protoUDP    = 17
	protoICMPv6 = 58
)

var allRoutersMulticast = net.ParseIP("ff02::2")

func parseIPMust(s string) net.IP { return net.ParseIP(s) }

func linkLocalOf(ifc *iface.Interface) net.IP {
	for _, a := range ifc.AssignedV6() {
		if a.IP.IsLinkLocalUnicast() {
			return a.IP
		}
	}
	return nil
}

// DeliverFrame is the inbound-frame entry point names: link-
// layer dispatch by EtherType to ARP, IPv4, or IPv6.
func (n *Node) DeliverFrame(ifcID iface.ID, etherType uint16, payload []byte, now time.Time) {
	switch etherType {
	case etherTypeARP:
		n.deliverARP(ifcID, payload, now)
	case etherTypeIPv4:
		n.deliverIPv4(ifcID, payload, now)
	case etherTypeIPv6:
		n.deliverIPv6(ifcID, payload, now)
	default:
		glog.V(2).Infof("netctx: dropping frame with unknown ethertype 0x%04x", etherType)
	}
}

func (n *Node) deliverARP(ifcID iface.ID, payload []byte, now time.Time) {
	p, err := arp.Unmarshal(payload)
	if err != nil {
		glog.Warningf("netctx: malformed ARP packet dropped: %v", err)
		return
	}
	n.applyARPEffects(n.ARP.HandleInbound(ifcID, p, now), now)
}

func (n *Node) deliverIPv4(ifcID iface.ID, payload []byte, now time.Time) {
	hdr, body, err := ipv4pkt.Parse(payload)
	if err != nil {
		glog.Warningf("netctx: malformed IPv4 packet dropped: %v", err)
		return
	}
	if !n.isLocalV4(ifcID, hdr.Dst) && !hdr.Dst.Equal(ripAllRouters) {
		n.forwardV4(ifcID, hdr, body, now)
		return
	}
	switch hdr.Protocol {
	case protoICMPv4:
		n.handleICMPv4(ifcID, hdr, body, now)
	case protoTCP:
		n.handleTCPSegment(hdr.Src, hdr.Dst, body, now)
	case protoUDP:
		n.handleUDPDatagram(ifcID, hdr.Src, hdr.Dst, body, now)
	default:
		glog.V(2).Infof("netctx: unhandled IPv4 protocol %d dropped", hdr.Protocol)
	}
}

// ifaceForV4Source/ifaceForV6Source find the interface a locally-bound
// address lives on, for sockets that need to transmit without already
// knowing which link they're on.
func (n *Node) ifaceForV4Source(ip net.IP) (iface.ID, bool) {
	for id, ifc := range n.Ifaces {
		for _, a := range ifc.Addrs4 {
			if a.IP.Equal(ip) {
				return id, true
			}
		}
	}
	return 0, false
}

func (n *Node) ifaceForV6Source(ip net.IP) (iface.ID, bool) {
	for id, ifc := range n.Ifaces {
		for _, a := range ifc.AssignedV6() {
			if a.IP.Equal(ip) {
				return id, true
			}
		}
	}
	return 0, false
}

func (n *Node) isLocalV4(ifcID iface.ID, dst net.IP) bool {
	ifc := n.Ifaces[ifcID]
	if ifc == nil {
		return false
	}
	for _, a := range ifc.Addrs4 {
		if a.IP.Equal(dst) {
			return true
		}
	}
	return false
}

// forwardV4 consults the RIP-learned forwarding table; on a miss or TTL
// exhaustion it generates the ICMP error specifies.
func (n *Node) forwardV4(ifcID iface.ID, hdr ipv4pkt.Header, body []byte, now time.Time) {
	if hdr.TTL <= 1 {
		n.sendICMPv4TimeExceeded(ifcID, hdr, now)
		return
	}
	for _, r := range n.Forwarded {
		if addr.Mask(hdr.Dst, net.IPMask(r.Mask)).Equal(addr.Mask(r.Subnet, net.IPMask(r.Mask))) {
			hdr.TTL--
			raw, err := hdr.Marshal(body)
			if err != nil {
				return
			}
			mac, ok, effects := n.ARP.Send(r.Port, r.Gateway, raw, now)
			n.applyARPEffects(effects, now)
			if ok {
				n.transmit(r.Port, mac, raw)
			}
			return
		}
	}
	n.sendICMPv4Unreachable(ifcID, hdr, now)
}

func (n *Node) handleICMPv4(ifcID iface.ID, hdr ipv4pkt.Header, body []byte, now time.Time) {
	msg, err := icmp.ParseV4(body)
	if err != nil {
		glog.Warningf("netctx: malformed ICMPv4 message dropped: %v", err)
		return
	}
	switch msg.Type {
	case ipv4.ICMPTypeEcho:
		echo, ok := msg.Body.(*xicmp.Echo)
		if !ok {
			return
		}
		reply, err := icmp.MarshalV4(ipv4.ICMPTypeEchoReply, 0, &xicmp.Echo{ID: echo.ID, Seq: echo.Seq, Data: echo.Data})
		if err != nil {
			return
		}
		n.sendIPv4(ifcID, hdr.Dst, hdr.Src, protoICMPv4, reply, now)
	case ipv4.ICMPTypeDestinationUnreachable:
		n.notifyUnreachable(hdr.Src)
	}
}

// sendICMPv6 wraps an NDP message body for transmission, framing it per
// RFC 4861 §4's "hop limit MUST be 255" rule.
func (n *Node) sendICMPv6(ifcID iface.ID, src, dst net.IP, body xicmp.MessageBody, now time.Time) {
	typ, code := ndpTypeCode(body)
	psh := ipv6pkt.PseudoHeader(src, dst, protoICMPv6, 0)
	raw, err := icmp.MarshalV6(typ, code, body, psh)
	if err != nil {
		glog.Errorf("netctx: failed to marshal NDP message: %v", err)
		return
	}
	n.sendIPv6(ifcID, src, dst, protoICMPv6, raw, 255, now)
}

func ndpTypeCode(body xicmp.MessageBody) (ipv6.ICMPType, int) {
	switch body.(type) {
	case icmp.RouterSolicitation:
		return ipv6.ICMPTypeRouterSolicitation, 0
	case icmp.RouterAdvertisement:
		return ipv6.ICMPTypeRouterAdvertisement, 0
	case icmp.NeighborSolicitation:
		return ipv6.ICMPTypeNeighborSolicitation, 0
	case icmp.NeighborAdvertisement:
		return ipv6.ICMPTypeNeighborAdvertisement, 0
	}
	return 0, 0
}

func (n *Node) sendRA(ifc *iface.Interface, dst net.IP, now time.Time) {
	var opts []icmp.Option
	for _, p := range n.NDP.BuildRA(ifc) {
		opts = append(opts, icmp.PrefixInformation{
			PrefixLen:         uint8(p.PrefixLen),
			OnLink:            p.OnLink,
			Autonomous:        p.Autonomous,
			ValidLifetime:     uint32(p.ValidLifetime / time.Second),
			PreferredLifetime: uint32(p.PreferredLifetime / time.Second),
			Prefix:            p.Prefix,
		})
	}
	body := icmp.RouterAdvertisement{CurHopLimit: n.NDP.Cfg.CurHopLimit, Options: opts}
	n.sendICMPv6(ifc.ID, linkLocalOf(ifc), dst, body, now)
}

func (n *Node) sendIPv4(ifcID iface.ID, src, dst net.IP, protocol int, payload []byte, now time.Time) {
	hdr := ipv4pkt.Header{Src: src, Dst: dst, Protocol: protocol, TTL: 64}
	raw, err := hdr.Marshal(payload)
	if err != nil {
		glog.Errorf("netctx: failed to marshal IPv4 header: %v", err)
		return
	}
	mac, ok, effects := n.ARP.Send(ifcID, dst, raw, now)
	n.applyARPEffects(effects, now)
	if ok {
		n.transmit(ifcID, mac, raw)
	}
}

func (n *Node) sendIPv6(ifcID iface.ID, src, dst net.IP, nextHeader int, payload []byte, hopLimit uint8, now time.Time) {
	hdr := ipv6pkt.Header{Src: src, Dst: dst, NextHeader: nextHeader, HopLimit: hopLimit}
	raw, err := hdr.Marshal(payload)
	if err != nil {
		glog.Errorf("netctx: failed to marshal IPv6 header: %v", err)
		return
	}
	if dst.IsMulticast() {
		n.transmit(ifcID, multicastMAC(dst), raw)
		return
	}
	ifc := n.Ifaces[ifcID]
	if ifc == nil {
		return
	}
	mac, ok, effects := n.NDP.Resolve(ifc, dst, raw, now)
	n.applyNDPEffects(effects, now)
	if ok {
		n.transmit(ifcID, mac, raw)
	}
}

// multicastMAC maps an IPv6 multicast address to its RFC 2464 §7
// Ethernet multicast address: 33:33 followed by the address's low 32 bits.
func multicastMAC(ip net.IP) net.HardwareAddr {
	v6 := ip.To16()
	return net.HardwareAddr{0x33, 0x33, v6[12], v6[13], v6[14], v6[15]}
}

func (n *Node) sendICMPv4Unreachable(ifcID iface.ID, hdr ipv4pkt.Header, now time.Time) {
	if !n.icmpErrLimiter.AllowN(now, 1) {
		return
	}
	raw, err := hdr.Marshal(nil)
	if err != nil {
		return
	}
	body := &xicmp.DstUnreach{Data: raw}
	reply, err := icmp.MarshalV4(ipv4.ICMPTypeDestinationUnreachable, 1 /* host unreachable */, body)
	if err != nil {
		return
	}
	n.sendIPv4(ifcID, hdr.Dst, hdr.Src, protoICMPv4, reply, now)
}

func (n *Node) sendICMPv4TimeExceeded(ifcID iface.ID, hdr ipv4pkt.Header, now time.Time) {
	if !n.icmpErrLimiter.AllowN(now, 1) {
		return
	}
	raw, err := hdr.Marshal(nil)
	if err != nil {
		return
	}
	body := &xicmp.TimeExceeded{Data: raw}
	reply, err := icmp.MarshalV4(ipv4.ICMPTypeTimeExceeded, 0, body)
	if err != nil {
		return
	}
	n.sendIPv4(ifcID, hdr.Dst, hdr.Src, protoICMPv4, reply, now)
}

// notifyUnreachable fails every pending connect waiter for sockets whose
// peer is src: receipt of a Destination Unreachable on a UDP/TCP flow
// surfaces as ConnectionRefused.
func (n *Node) notifyUnreachable(src net.IP) {
	err := nerrors.New("connect", nerrors.ConnectionRefused)
	for _, s := range n.Sockets {
		if s.TCB != nil && s.TCB.Peer.IP.Equal(src) {
			s.OnClosed(err)
		}
	}
}

func (n *Node) deliverIPv6(ifcID iface.ID, payload []byte, now time.Time) {
	hdr, body, err := ipv6pkt.Parse(payload)
	if err != nil {
		glog.Warningf("netctx: malformed IPv6 packet dropped: %v", err)
		return
	}
	if hdr.Dst.IsMulticast() || n.isLocalV6(ifcID, hdr.Dst) {
		n.deliverIPv6Local(ifcID, hdr, body, now)
		return
	}
	n.forwardV6(ifcID, hdr, body, now)
}

func (n *Node) isLocalV6(ifcID iface.ID, dst net.IP) bool {
	ifc := n.Ifaces[ifcID]
	if ifc == nil {
		return false
	}
	for _, a := range ifc.AssignedV6() {
		if a.IP.Equal(dst) {
			return true
		}
	}
	return false
}

func (n *Node) deliverIPv6Local(ifcID iface.ID, hdr ipv6pkt.Header, body []byte, now time.Time) {
	switch hdr.NextHeader {
	case protoICMPv6:
		n.handleICMPv6(ifcID, hdr, body, now)
	case protoTCP:
		n.handleTCPSegment(hdr.Src, hdr.Dst, body, now)
	case protoUDP:
		n.handleUDPDatagram(ifcID, hdr.Src, hdr.Dst, body, now)
	default:
		glog.V(2).Infof("netctx: unhandled IPv6 next header %d dropped", hdr.NextHeader)
	}
}

// forwardV6 mirrors forwardV4's route lookup and hop-limit decrement;
// pkg/rip speaks IPv4 only, so a miss here only ever reflects a missing
// static/SLAAC-derived on-link route.
func (n *Node) forwardV6(ifcID iface.ID, hdr ipv6pkt.Header, body []byte, now time.Time) {
	if hdr.HopLimit <= 1 {
		glog.V(2).Infof("netctx: IPv6 hop limit exceeded forwarding to %v", hdr.Dst)
		return
	}
	for _, r := range n.Forwarded {
		mask := net.IPMask(r.Mask)
		if !addr.Mask(hdr.Dst, mask).Equal(addr.Mask(r.Subnet, mask)) {
			continue
		}
		hdr.HopLimit--
		raw, err := hdr.Marshal(body)
		if err != nil {
			return
		}
		ifc := n.Ifaces[r.Port]
		if ifc == nil {
			return
		}
		mac, ok, effects := n.NDP.Resolve(ifc, r.Gateway, raw, now)
		n.applyNDPEffects(effects, now)
		if ok {
			n.transmit(r.Port, mac, raw)
		}
		return
	}
}

func (n *Node) handleICMPv6(ifcID iface.ID, hdr ipv6pkt.Header, body []byte, now time.Time) {
	msg, err := icmp.ParseV6(body)
	if err != nil {
		glog.Warningf("netctx: malformed ICMPv6 message dropped: %v", err)
		return
	}
	ifc := n.Ifaces[ifcID]
	if ifc == nil {
		return
	}
	if isNDPMessage(msg.Type) && hdr.HopLimit != 255 {
		glog.Warningf("netctx: NDP message type %v dropped, hop limit %d != 255", msg.Type, hdr.HopLimit)
		return
	}
	switch msg.Type {
	case ipv6.ICMPTypeEchoRequest:
		echo, ok := msg.Body.(*xicmp.Echo)
		if !ok {
			return
		}
		psh := ipv6pkt.PseudoHeader(hdr.Dst, hdr.Src, protoICMPv6, 0)
		reply, err := icmp.MarshalV6(ipv6.ICMPTypeEchoReply, 0, &xicmp.Echo{ID: echo.ID, Seq: echo.Seq, Data: echo.Data}, psh)
		if err != nil {
			return
		}
		n.sendIPv6(ifcID, hdr.Dst, hdr.Src, protoICMPv6, reply, 64, now)
	case ipv6.ICMPTypeRouterSolicitation:
		rs, err := icmp.ParseRouterSolicitation(body)
		if err == nil {
			n.applyNDPEffects(n.NDP.HandleRS(ifc, hdr.Src, ndpSourceLLA(rs.Options), now), now)
		}
	case ipv6.ICMPTypeRouterAdvertisement:
		ra, err := icmp.ParseRouterAdvertisement(body)
		if err == nil {
			n.applyNDPEffects(n.NDP.HandleRA(ifc, hdr.Src, ndpRAInfo(ra), now), now)
		}
	case ipv6.ICMPTypeNeighborSolicitation:
		ns, err := icmp.ParseNeighborSolicitation(body)
		if err == nil {
			n.applyNDPEffects(n.NDP.HandleNS(ifc, addr.IsUnspecified(hdr.Src), hdr.Src, ns.Target, ndpSourceLLA(ns.Options), now), now)
		}
	case ipv6.ICMPTypeNeighborAdvertisement:
		na, err := icmp.ParseNeighborAdvertisement(body)
		if err == nil {
			n.applyNDPEffects(n.NDP.HandleNA(ifcID, ndpNAInfo(na), now), now)
		}
	case ipv6.ICMPTypeDestinationUnreachable:
		n.notifyUnreachable(hdr.Src)
	}
}

// isNDPMessage reports whether typ is one of RFC 4861's four NDP message
// types, all of which require an inbound hop limit of 255 so a
// remote-origin packet can never spoof them.
func isNDPMessage(typ xicmp.Type) bool {
	switch typ {
	case ipv6.ICMPTypeRouterSolicitation, ipv6.ICMPTypeRouterAdvertisement,
		ipv6.ICMPTypeNeighborSolicitation, ipv6.ICMPTypeNeighborAdvertisement:
		return true
	}
	return false
}

func ndpSourceLLA(opts []icmp.Option) net.HardwareAddr {
	for _, o := range opts {
		if sla, ok := o.(icmp.SourceLinkLayerAddress); ok {
			return sla.MAC
		}
	}
	return nil
}

func ndpTargetLLA(opts []icmp.Option) net.HardwareAddr {
	for _, o := range opts {
		if tla, ok := o.(icmp.TargetLinkLayerAddress); ok {
			return tla.MAC
		}
	}
	return nil
}

func ndpNAInfo(na icmp.NeighborAdvertisement) ndp.NAInfo {
	return ndp.NAInfo{
		Target:    na.Target,
		Solicited: na.Solicited,
		Override:  na.Override,
		Router:    na.Router,
		TargetLLA: ndpTargetLLA(na.Options),
	}
}

func ndpRAInfo(ra icmp.RouterAdvertisement) ndp.RAInfo {
	info := ndp.RAInfo{
		RouterLifetime: time.Duration(ra.RouterLifetime) * time.Second,
		ReachableTime:  time.Duration(ra.ReachableTime) * time.Millisecond,
		RetransTimer:   time.Duration(ra.RetransTimer) * time.Millisecond,
		CurHopLimit:    ra.CurHopLimit,
	}
	for _, o := range ra.Options {
		pi, ok := o.(icmp.PrefixInformation)
		if !ok {
			continue
		}
		info.Prefixes = append(info.Prefixes, ndp.RAPrefix{
			Prefix:            pi.Prefix,
			PrefixLen:         int(pi.PrefixLen),
			OnLink:            pi.OnLink,
			Autonomous:        pi.Autonomous,
			PreferredLifetime: time.Duration(pi.PreferredLifetime) * time.Second,
			ValidLifetime:     time.Duration(pi.ValidLifetime) * time.Second,
		})
	}
	return info
}
