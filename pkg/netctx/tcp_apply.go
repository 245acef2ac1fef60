// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package netctx

import (
	"net"
	"time"

	"github.com/golang/glog"

	"go.fuchsia.dev/netsim/pkg/ipv4"
	"go.fuchsia.dev/netsim/pkg/ipv6"
	"go.fuchsia.dev/netsim/pkg/ring"
	"go.fuchsia.dev/netsim/pkg/tcp"
	"go.fuchsia.dev/netsim/pkg/tcpseg"
)

func (n *Node) socketByTuple(local, peer tcp.Endpoint) (uint64, *tcp.Socket, bool) {
	for id, s := range n.Sockets {
		if s.TCB == nil {
			continue
		}
		if s.TCB.Local.Port == local.Port && s.TCB.Local.IP.Equal(local.IP) &&
			s.TCB.Peer.Port == peer.Port && s.TCB.Peer.IP.Equal(peer.IP) {
			return id, s, true
		}
	}
	return 0, nil, false
}

func (n *Node) listenSocket(port uint16) (uint64, *tcp.Socket, bool) {
	for id, s := range n.Sockets {
		if s.TCB != nil && s.TCB.State == tcp.Listen && s.TCB.Local.Port == port {
			return id, s, true
		}
	}
	return 0, nil, false
}

// handleTCPSegment is the transport-layer half of inbound IPv4/IPv6
// delivery: demux a parsed segment to its connection (or a listening
// socket) and apply the resulting effects.
func (n *Node) handleTCPSegment(srcIP, dstIP net.IP, body []byte, now time.Time) {
	seg, err := tcpseg.Parse(body)
	if err != nil {
		glog.Warningf("netctx: malformed TCP segment dropped: %v", err)
		return
	}
	local := tcp.Endpoint{IP: dstIP, Port: seg.DstPort}
	peer := tcp.Endpoint{IP: srcIP, Port: seg.SrcPort}

	if connID, s, ok := n.socketByTuple(local, peer); ok {
		n.applyTCPEffects(connID, s.TCB.HandleSegment(seg, now), now)
		return
	}

	if local.Port == bgpPort {
		if sessionID, ok := n.bgpSessionForPeer(peer.IP); ok && seg.Flags.Has(tcpseg.FlagSYN) && !seg.Flags.Has(tcpseg.FlagACK) {
			n.acceptBGPConnection(sessionID, local, peer, seg, now)
			return
		}
	}

	_, listener, ok := n.listenSocket(local.Port)
	if !ok {
		if !seg.Flags.Has(tcpseg.FlagRST) {
			n.applyTCPEffects(0, []tcp.Effect{tcp.SendSegment{Local: local, Peer: peer, Seg: rstFor(local, peer, seg)}}, now)
		}
		return
	}
	if !seg.Flags.Has(tcpseg.FlagSYN) || seg.Flags.Has(tcpseg.FlagACK) || seg.Flags.Has(tcpseg.FlagRST) {
		return
	}

	child := tcp.Fork(n.TCPCfg, local, peer, ring.Seq(uint32(now.UnixNano())), seg.Seq)
	childSocket := tcp.NewSocket(child)
	childID := n.allocID()
	n.Sockets[childID] = childSocket
	if !listener.Deliver(child) {
		delete(n.Sockets, childID)
		n.applyTCPEffects(0, []tcp.Effect{tcp.SendSegment{Local: local, Peer: peer, Seg: rstFor(local, peer, seg)}}, now)
		return
	}
	n.applyTCPEffects(childID, child.AcceptSyn(now), now)
}

const bgpPort = 179

// acceptBGPConnection forks a TCB for an inbound connection to the BGP
// listening port and hands the new stream to the matching session's
// collision-resolution logic, per RFC 4271 §8's passive-open path.
func (n *Node) acceptBGPConnection(sessionID uint64, local, peer tcp.Endpoint, seg tcpseg.Segment, now time.Time) {
	child := tcp.Fork(n.TCPCfg, local, peer, ring.Seq(uint32(now.UnixNano())), seg.Seq)
	streamID := n.allocID()
	n.Sockets[streamID] = tcp.NewSocket(child)
	n.bgpByStream[streamID] = sessionID
	n.bgpRecvBuf[streamID] = nil
	n.applyTCPEffects(streamID, child.AcceptSyn(now), now)
	n.applyBGPEffects(sessionID, n.BGP[sessionID].IncomingConnection(streamID, peer.IP, now), now)
}

func rstFor(local, peer tcp.Endpoint, seg tcpseg.Segment) tcpseg.Segment {
	if seg.Flags.Has(tcpseg.FlagACK) {
		return tcpseg.Segment{SrcPort: local.Port, DstPort: peer.Port, Seq: seg.Ack, Flags: tcpseg.FlagRST}
	}
	return tcpseg.Segment{
		SrcPort: local.Port, DstPort: peer.Port,
		Ack:   seg.Seq.Add(len(seg.Payload)),
		Flags: tcpseg.FlagRST | tcpseg.FlagACK,
	}
}

// applyTCPEffects drains one TCB's effects into the interface outbound
// queues, the timer wheel, and the owning socket's waiters. connID is 0
// for effects that do not belong to any tracked socket (a bare RST to an
// unrecognized segment).
func (n *Node) applyTCPEffects(connID uint64, effects []tcp.Effect, now time.Time) {
	if s, ok := n.Sockets[connID]; ok && s.TCB != nil && s.TCB.ID == 0 {
		s.TCB.ID = connID
	}
	for _, e := range effects {
		switch v := e.(type) {
		case tcp.SendSegment:
			n.sendTCPSegment(v.Local, v.Peer, v.Seg, now)
		case tcp.ArmRetransmit:
			n.Timers.Schedule(tcp.RetransmitToken{ConnID: v.ConnID}, v.Deadline)
		case tcp.CancelRetransmit:
			n.Timers.Cancel(tcp.RetransmitToken{ConnID: v.ConnID})
		case tcp.ArmTimeWait:
			n.Timers.Schedule(tcp.TimeWaitToken{ConnID: v.ConnID}, v.Deadline)
		case tcp.NotifyEstablish:
			if sessionID, ok := n.bgpByStream[connID]; ok {
				if v.Err == nil {
					n.applyBGPEffects(sessionID, n.BGP[sessionID].ConnectSucceeded(connID, now), now)
				} else {
					n.applyBGPEffects(sessionID, n.BGP[sessionID].ConnectFailed(now), now)
				}
				break
			}
			if s, ok := n.Sockets[connID]; ok {
				s.OnEstablish(v.Err)
			}
		case tcp.NotifyReadable:
			if sessionID, ok := n.bgpByStream[connID]; ok {
				n.deliverBGPBytes(connID, sessionID, now)
				break
			}
			if s, ok := n.Sockets[connID]; ok {
				s.OnReadable()
			}
		case tcp.NotifyWritable:
			if s, ok := n.Sockets[connID]; ok {
				s.OnWritable()
			}
		case tcp.NotifyClosed:
			if sessionID, ok := n.bgpByStream[connID]; ok {
				delete(n.bgpByStream, connID)
				delete(n.bgpRecvBuf, connID)
				delete(n.Sockets, connID)
				n.applyBGPEffects(sessionID, n.BGP[sessionID].StreamClosed(now), now)
				break
			}
			if s, ok := n.Sockets[connID]; ok {
				s.OnClosed(v.Err)
			}
		case tcp.Accept:
			if s, ok := n.Sockets[connID]; ok {
				s.Deliver(v.Child)
			}
		}
	}
}

func (n *Node) sendTCPSegment(local, peer tcp.Endpoint, seg tcpseg.Segment, now time.Time) {
	if v4 := local.IP.To4(); v4 != nil {
		raw, err := seg.Marshal(func(b []byte) uint16 {
			return ipv4.TransportChecksum(local.IP, peer.IP, ipv4.ProtoTCP, b)
		})
		if err != nil {
			glog.Errorf("netctx: failed to marshal TCP segment: %v", err)
			return
		}
		if ifcID, ok := n.ifaceForV4Source(local.IP); ok {
			n.sendIPv4(ifcID, local.IP, peer.IP, ipv4.ProtoTCP, raw, now)
		}
		return
	}
	raw, err := seg.Marshal(func(b []byte) uint16 {
		return tcpseg.Checksum(ipv6.PseudoHeader(local.IP, peer.IP, ipv6.ProtoTCP, len(b)), b)
	})
	if err != nil {
		glog.Errorf("netctx: failed to marshal TCP segment: %v", err)
		return
	}
	if ifcID, ok := n.ifaceForV6Source(local.IP); ok {
		n.sendIPv6(ifcID, local.IP, peer.IP, ipv6.ProtoTCP, raw, 64, now)
	}
}
