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
	"go.fuchsia.dev/netsim/pkg/rip"
	"go.fuchsia.dev/netsim/pkg/udp"
)

const ripPort = 520

var ripAllRouters = net.ParseIP("224.0.0.9")

type ripTickToken struct{}

// AddRIPNeighbor registers the neighbor this node exchanges RIP updates
// with out ifcID. Neighbors are keyed by interface, one per interface; the
// neighbor's address is the split-horizon origin for updates sent to it.
func (n *Node) AddRIPNeighbor(ifcID iface.ID, neighbor net.IP) {
	n.RIPNeighbors[ifcID] = neighbor
}

// StartRIP sends an initial full-table request out every live port and
// arms the periodic update timer.
func (n *Node) StartRIP(ports []iface.ID, now time.Time) {
	n.applyRIPEffects(n.RIP.Startup(ports, ripAllRouters), now)
	n.Timers.Schedule(ripTickToken{}, now.Add(n.RIP.Cfg.UpdateInterval))
}

func (n *Node) fireRIPTick(now time.Time) {
	n.applyRIPEffects(n.RIP.Tick(n.RIPNeighbors, now), now)
	n.Timers.Schedule(ripTickToken{}, now.Add(n.RIP.Cfg.UpdateInterval))
}

func (n *Node) applyRIPEffects(effects []rip.Effect, now time.Time) {
	for _, e := range effects {
		switch v := e.(type) {
		case rip.SendPacket:
			n.sendUDPRaw(v.Port, v.Dst, ripPort, v.Data, now)
		case rip.InstallForwarding:
			n.installForwarding(v.Subnet, net.IP(v.Mask), v.Gateway, v.Port)
		}
	}
}

func (n *Node) installForwarding(subnet, mask, gateway net.IP, port iface.ID) {
	for i, fe := range n.Forwarded {
		if fe.Subnet.Equal(subnet) && fe.Mask.Equal(mask) {
			n.Forwarded[i].Gateway = gateway
			n.Forwarded[i].Port = port
			return
		}
	}
	n.Forwarded = append(n.Forwarded, ForwardEntry{Subnet: subnet, Mask: mask, Gateway: gateway, Port: port})
}

// handleRIPDatagram is the raw-protocol counterpart to handleUDPDatagram's
// application-socket path: RIP never binds a udp.Socket, it consumes port
// 520 traffic directly off the wire.
func (n *Node) handleRIPDatagram(ifcID iface.ID, srcIP net.IP, payload []byte, now time.Time) {
	p, err := rip.Parse(payload)
	if err != nil {
		glog.Warningf("netctx: malformed RIP packet dropped: %v", err)
		return
	}
	n.applyRIPEffects(n.RIP.HandleInbound(ifcID, srcIP, ripAllRouters, p, now), now)
}

// sendUDPRaw marshals and routes a UDP datagram that isn't backed by any
// bound udp.Socket (RIP's port-520 traffic), sent directly out ifcID rather
// than resolved from a local source address.
func (n *Node) sendUDPRaw(ifcID iface.ID, dst net.IP, srcPort uint16, payload []byte, now time.Time) {
	ifc, ok := n.Ifaces[ifcID]
	if !ok || len(ifc.Addrs4) == 0 {
		return
	}
	src := ifc.Addrs4[0].IP
	hdr := udp.Header{SrcPort: srcPort, DstPort: ripPort}
	raw, err := udp.Marshal(hdr, payload, func(b []byte) uint16 {
		return ipv4.TransportChecksum(src, dst, ipv4.ProtoUDP, b)
	})
	if err != nil {
		glog.Errorf("netctx: failed to marshal RIP datagram: %v", err)
		return
	}
	n.sendIPv4(ifcID, src, dst, ipv4.ProtoUDP, raw, now)
}
