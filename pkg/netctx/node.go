// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package netctx is the single per-node I/O context: it owns every
// interface, socket table, cache, and the timer wheel, and reacts to
// three input classes — inbound link-layer frames, timer expirations,
// and application syscalls — by applying the Effects that pkg/arp,
// pkg/ndp, pkg/tcp, pkg/bgp, and pkg/rip's engines return. Scheduling is
// single-threaded cooperative: every method on Node runs to completion
// without yielding, and the context is the exclusive mutator of
// everything it owns.
package netctx

import (
	"net"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"

	"go.fuchsia.dev/netsim/pkg/arp"
	"go.fuchsia.dev/netsim/pkg/bgp"
	"go.fuchsia.dev/netsim/pkg/iface"
	"go.fuchsia.dev/netsim/pkg/ndp"
	"go.fuchsia.dev/netsim/pkg/rip"
	"go.fuchsia.dev/netsim/pkg/tcp"
	"go.fuchsia.dev/netsim/pkg/timer"
	"go.fuchsia.dev/netsim/pkg/udp"
)

// ForwardEntry is one learned-or-configured IPv4 forwarding rule. RIP
// installs these; the dispatch path consults them when a packet's
// destination isn't locally assigned.
type ForwardEntry struct {
	Subnet, Mask net.IP
	Gateway      net.IP
	Port         iface.ID
}

// Node is the per-simulated-host context.
type Node struct {
	Ifaces map[iface.ID]*iface.Interface
	nextID uint64

	ARPTable  *arp.Table
	ARP       *arp.Engine
	NDP       *ndp.Engine

	TCPCfg  tcp.Config
	Sockets map[uint64]*tcp.Socket

	UDPCfg  udp.Config
	UDPSock map[uint64]*udp.Socket

	BGP         map[uint64]*bgp.Session
	bgpByStream map[uint64]uint64 // TCP socket id -> BGP session id, for dispatch
	bgpByPeerIP map[string]uint64 // peer address -> BGP session id, for passive opens
	bgpRecvBuf  map[uint64][]byte // TCP socket id -> unframed inbound BGP bytes

	RIP          *rip.Engine
	RIPNeighbors map[iface.ID]net.IP
	Forwarded    []ForwardEntry

	Timers *timer.Wheel

	// icmpErrLimiter caps how often this node generates ICMP error
	// messages, the same token-bucket defense real stacks apply against
	// being turned into a reflection amplifier by a packet storm.
	icmpErrLimiter *rate.Limiter
	// bgpConnectLimiter caps outbound BGP connection attempts across all
	// sessions, guarding against a collision/retry storm opening many TCP
	// connections in a tight loop.
	bgpConnectLimiter *rate.Limiter
}

// New builds an empty Node. ndpRand is pkg/ndp's injectable random delay,
// which tests can make deterministic.
func New(ndpRand ndp.RandDelay) *Node {
	n := &Node{
		Ifaces:      make(map[iface.ID]*iface.Interface),
		ARPTable:    arp.NewTable(arp.DefaultConfig()),
		Sockets:     make(map[uint64]*tcp.Socket),
		UDPCfg:      udp.DefaultConfig(),
		UDPSock:     make(map[uint64]*udp.Socket),
		BGP:         make(map[uint64]*bgp.Session),
		bgpByStream: make(map[uint64]uint64),
		bgpByPeerIP: make(map[string]uint64),
		bgpRecvBuf:  make(map[uint64][]byte),
		RIP:          rip.NewEngine(rip.DefaultConfig(), rip.NewTable()),
		RIPNeighbors: make(map[iface.ID]net.IP),
		Timers:      timer.New(),
		TCPCfg:      tcp.DefaultConfig(),

		icmpErrLimiter:    rate.NewLimiter(rate.Limit(10), 20),
		bgpConnectLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	n.ARP = arp.NewEngine(n.ARPTable, n.localV4Lookup)
	n.NDP = ndp.NewEngine(ndp.DefaultConfig(), ndpRand)
	return n
}

// AddInterface registers ifc in the interface arena.
func (n *Node) AddInterface(ifc *iface.Interface) {
	n.Ifaces[ifc.ID] = ifc
}

func (n *Node) allocID() uint64 {
	n.nextID++
	return n.nextID
}

func (n *Node) localV4Lookup(ifc iface.ID, ip net.IP) (net.HardwareAddr, bool) {
	i, ok := n.Ifaces[ifc]
	if !ok {
		return nil, false
	}
	for _, a := range i.Addrs4 {
		if a.IP.Equal(ip) {
			return i.MAC, true
		}
	}
	return nil, false
}

// applyARPEffects drains ARP engine output into the interface queues and
// timer wheel.
func (n *Node) applyARPEffects(effects []arp.Effect, now time.Time) {
	for _, e := range effects {
		switch v := e.(type) {
		case arp.SendRequest:
			n.transmitBroadcast(v.Iface, marshalARPSafe(arpRequest(v.IP, n.Ifaces[v.Iface])))
		case arp.SendReply:
			n.transmit(v.Iface, v.Dst, marshalARPSafe(v.Reply))
		case arp.ArmRetry:
			n.Timers.Schedule(arpRetryToken{IP: v.IP.String()}, v.Deadline)
		case arp.CancelRetry:
			n.Timers.Cancel(arpRetryToken{IP: v.IP.String()})
		case arp.Release:
			for _, pkt := range v.Packets {
				n.transmit(v.Iface, v.MAC, pkt)
			}
		case arp.Fail:
			for range v.Packets {
				glog.Warningf("netctx: packet dropped, host unreachable on iface %d", v.Iface)
			}
		}
	}
}

type arpRetryToken struct{ IP string }

func arpRequest(ip net.IP, ifc *iface.Interface) arp.Packet {
	var sender net.IP
	if ifc != nil && len(ifc.Addrs4) > 0 {
		sender = ifc.Addrs4[0].IP
	}
	var mac net.HardwareAddr
	if ifc != nil {
		mac = ifc.MAC
	}
	return arp.Packet{
		Op:        arp.OpRequest,
		SenderMAC: mac,
		SenderIP:  sender,
		TargetMAC: net.HardwareAddr{0, 0, 0, 0, 0, 0},
		TargetIP:  ip,
	}
}

func marshalARPSafe(p arp.Packet) []byte {
	b, err := p.Marshal()
	if err != nil {
		glog.Errorf("netctx: failed to marshal ARP packet: %v", err)
		return nil
	}
	return b
}

// transmit enqueues payload addressed to dst on ifc's outbound queue. It
// does not dequeue or send anything itself; frames leave the queue through
// Interface.TryDequeue.
func (n *Node) transmit(ifcID iface.ID, dst net.HardwareAddr, payload []byte) {
	i, ok := n.Ifaces[ifcID]
	if !ok || payload == nil {
		return
	}
	i.Enqueue(iface.Frame{Dst: dst, Payload: payload})
}

func (n *Node) transmitBroadcast(ifcID iface.ID, payload []byte) {
	n.transmit(ifcID, net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, payload)
}

// FireTimer routes one expired token to the engine that owns it. Unknown
// tokens (stale, already-cancelled state) are silently ignored.
func (n *Node) FireTimer(tok timer.Token, now time.Time) {
	switch t := tok.(type) {
	case arpRetryToken:
		ip := net.ParseIP(t.IP)
		n.applyARPEffects(n.ARP.HandleTimeout(ip, now), now)

	case tcp.RetransmitToken:
		n.fireTCPRetransmit(t.ConnID, now)
	case tcp.TimeWaitToken:
		n.fireTCPTimeWait(t.ConnID, now)

	case bgp.ConnectRetryToken:
		n.applyBGPEffects(t.SessionID, n.BGP[t.SessionID].ConnectRetryExpired(now), now)
	case bgp.HoldToken:
		n.applyBGPEffects(t.SessionID, n.BGP[t.SessionID].HoldTimerExpired(now), now)
	case bgp.KeepaliveToken:
		n.applyBGPEffects(t.SessionID, n.BGP[t.SessionID].KeepaliveTimerExpired(now), now)
	case bgp.DelayOpenToken:
		n.applyBGPEffects(t.SessionID, n.BGP[t.SessionID].DelayOpenExpired(now), now)

	case ripTickToken:
		n.fireRIPTick(now)

	case ndp.RASolicitedToken:
		if ifc := n.Ifaces[t.Iface]; ifc != nil {
			n.applyNDPEffects(n.NDP.RASolicitedFired(ifc), now)
		}

	default:
		n.applyNDPEffects(ndpFireTimer(n.NDP, t, now), now)
	}
}

func (n *Node) fireTCPRetransmit(connID uint64, now time.Time) {
	s, ok := n.Sockets[connID]
	if !ok || s.TCB == nil {
		return
	}
	s.TCB.RetransmitArmed = false
	n.applyTCPEffects(connID, s.TCB.RetransmitTimeout(now, 1), now)
}

func (n *Node) fireTCPTimeWait(connID uint64, now time.Time) {
	s, ok := n.Sockets[connID]
	if !ok || s.TCB == nil {
		return
	}
	s.TCB.State = tcp.Closed
	s.OnClosed(nil)
	delete(n.Sockets, connID)
}
