// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package netctx

import (
	"net"
	"time"

	"github.com/golang/glog"

	"go.fuchsia.dev/netsim/pkg/bgp"
	"go.fuchsia.dev/netsim/pkg/ring"
	"go.fuchsia.dev/netsim/pkg/tcp"
)

// AddBGPSession registers a session and starts its state machine. The
// caller is expected to have already chosen a BGP identifier and peer
// address via bgp.Config.
func (n *Node) AddBGPSession(cfg bgp.Config, now time.Time) uint64 {
	id := n.allocID()
	s := bgp.NewSession(id, cfg)
	n.BGP[id] = s
	n.bgpByPeerIP[cfg.PeerAddr.String()] = id
	n.applyBGPEffects(id, s.Start(now), now)
	return id
}

func (n *Node) bgpSessionForPeer(peer net.IP) (uint64, bool) {
	id, ok := n.bgpByPeerIP[peer.String()]
	return id, ok
}

// applyBGPEffects drains one session's effects into TCP connect/send/close
// calls and the timer wheel.
func (n *Node) applyBGPEffects(sessionID uint64, effects []bgp.Effect, now time.Time) {
	s, ok := n.BGP[sessionID]
	if !ok {
		return
	}
	for _, e := range effects {
		switch v := e.(type) {
		case bgp.InitiateConnect:
			n.bgpConnect(sessionID, s, now)
		case bgp.SendMessage:
			if sock, ok := n.Sockets[v.StreamID]; ok {
				sock.Write(v.Data)
			}
		case bgp.CloseStream:
			if sock, ok := n.Sockets[v.StreamID]; ok {
				n.applyTCPEffects(v.StreamID, sock.Close(now), now)
				delete(n.Sockets, v.StreamID)
				delete(n.bgpByStream, v.StreamID)
				delete(n.bgpRecvBuf, v.StreamID)
			}
		case bgp.ArmConnectRetry:
			n.Timers.Schedule(bgp.ConnectRetryToken{SessionID: sessionID}, v.Deadline)
		case bgp.CancelConnectRetry:
			n.Timers.Cancel(bgp.ConnectRetryToken{SessionID: sessionID})
		case bgp.ArmHold:
			n.Timers.Schedule(bgp.HoldToken{SessionID: sessionID}, v.Deadline)
		case bgp.CancelHold:
			n.Timers.Cancel(bgp.HoldToken{SessionID: sessionID})
		case bgp.ArmKeepalive:
			n.Timers.Schedule(bgp.KeepaliveToken{SessionID: sessionID}, v.Deadline)
		case bgp.CancelKeepalive:
			n.Timers.Cancel(bgp.KeepaliveToken{SessionID: sessionID})
		case bgp.ArmDelayOpen:
			n.Timers.Schedule(bgp.DelayOpenToken{SessionID: sessionID}, v.Deadline)
		case bgp.NotifyEstablished:
			glog.Infof("netctx: bgp session %d established", sessionID)
		case bgp.NotifyClosed:
			glog.Infof("netctx: bgp session %d returned to idle", sessionID)
		}
	}
}

// bgpConnect begins an active TCP open to Cfg.PeerAddr:179, registering
// the new stream against sessionID so inbound TCP notifications route back
// into the BGP state machine instead of an application socket.
func (n *Node) bgpConnect(sessionID uint64, s *bgp.Session, now time.Time) {
	if !n.bgpConnectLimiter.AllowN(now, 1) {
		n.applyBGPEffects(sessionID, s.ConnectFailed(now), now)
		return
	}
	if _, ok := n.ifaceForV4Source(s.Cfg.LocalIdentifier); !ok {
		n.applyBGPEffects(sessionID, s.ConnectFailed(now), now)
		return
	}
	local := tcp.Endpoint{IP: s.Cfg.LocalIdentifier, Port: bgpEphemeralPort(sessionID)}
	peer := tcp.Endpoint{IP: s.Cfg.PeerAddr, Port: 179}
	child := tcp.NewActive(n.TCPCfg, local, peer, ring.Seq(uint32(now.UnixNano())))
	streamID := n.allocID()
	n.Sockets[streamID] = tcp.NewSocket(child)
	n.bgpByStream[streamID] = sessionID
	n.bgpRecvBuf[streamID] = nil
	n.applyTCPEffects(streamID, child.InitialSyn(now), now)
}

func bgpEphemeralPort(sessionID uint64) uint16 {
	return uint16(49152 + sessionID%16384)
}

// deliverBGPBytes is called when a BGP-owned TCP stream becomes readable;
// it drains the socket's receive buffer and parses complete BGP messages
// out of the accumulated byte stream.
func (n *Node) deliverBGPBytes(streamID, sessionID uint64, now time.Time) {
	sock, ok := n.Sockets[streamID]
	if !ok || sock.TCB == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		nRead, _, err := sock.Read(buf)
		if err != nil || nRead == 0 {
			break
		}
		n.bgpRecvBuf[streamID] = append(n.bgpRecvBuf[streamID], buf[:nRead]...)
	}
	s, ok := n.BGP[sessionID]
	if !ok {
		return
	}
	for {
		pending := n.bgpRecvBuf[streamID]
		typ, length, err := bgp.ParseHeader(pending)
		if err != nil {
			break
		}
		body := pending[bgpHeaderLen:length]
		n.bgpRecvBuf[streamID] = pending[length:]
		switch typ {
		case bgp.MsgOpen:
			o, err := bgp.ParseOpen(body)
			if err == nil {
				n.applyBGPEffects(sessionID, s.HandleOpen(o, now), now)
			}
		case bgp.MsgKeepalive:
			n.applyBGPEffects(sessionID, s.HandleKeepalive(now), now)
		case bgp.MsgNotification:
			glog.Warningf("netctx: bgp session %d received NOTIFICATION", sessionID)
		}
	}
}

const bgpHeaderLen = 19
