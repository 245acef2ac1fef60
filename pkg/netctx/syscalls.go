// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package netctx

import (
	"time"

	"go.uber.org/multierr"

	"go.fuchsia.dev/netsim/pkg/nerrors"
	"go.fuchsia.dev/netsim/pkg/ring"
	"go.fuchsia.dev/netsim/pkg/tcp"
	"go.fuchsia.dev/netsim/pkg/udp"
)

// This file is the application-facing syscall surface: bind/connect/
// listen/accept/read/write/close for TCP and bind/connect/send/recv for
// UDP, all driven through the same effect-applying helpers the inbound
// frame and timer paths use.

// TCPConnect begins an active open, returning the new connection's id and a
// waiter fulfilled once the handshake completes (or fails).
func (n *Node) TCPConnect(local, peer tcp.Endpoint, now time.Time) (uint64, *tcp.Waiter) {
	t := tcp.NewActive(n.TCPCfg, local, peer, ring.Seq(uint32(now.UnixNano())))
	s := tcp.NewSocket(t)
	connID := n.allocID()
	n.Sockets[connID] = s
	w := s.Connect()
	n.applyTCPEffects(connID, t.InitialSyn(now), now)
	return connID, w
}

// TCPListen registers a passive-open socket bound to local.
func (n *Node) TCPListen(local tcp.Endpoint, backlog int) uint64 {
	t := tcp.NewListener(n.TCPCfg, local)
	s := tcp.NewListenSocket(t, backlog)
	connID := n.allocID()
	n.Sockets[connID] = s
	return connID
}

// TCPAccept pops the oldest completed child connection off a listening
// socket's backlog, registering it under a fresh connection id, or returns
// a waiter if none is queued yet.
func (n *Node) TCPAccept(listenID uint64) (uint64, *tcp.Waiter, error) {
	s, ok := n.Sockets[listenID]
	if !ok {
		return 0, nil, nerrors.New("accept", nerrors.NotConnected)
	}
	child, w := s.Accept()
	if w != nil {
		return 0, w, nil
	}
	connID := n.allocID()
	n.Sockets[connID] = tcp.NewSocket(child)
	return connID, nil, nil
}

// TCPRead copies buffered bytes into p without blocking, per tcp.Socket.Read.
func (n *Node) TCPRead(connID uint64, p []byte) (int, *tcp.Waiter, error) {
	s, ok := n.Sockets[connID]
	if !ok {
		return 0, nil, nerrors.New("read", nerrors.NotConnected)
	}
	return s.Read(p)
}

// TCPWrite appends p to the connection's send buffer and immediately
// pushes whatever the congestion/flow-control window allows onto the wire.
func (n *Node) TCPWrite(connID uint64, p []byte, now time.Time) (int, *tcp.Waiter, error) {
	s, ok := n.Sockets[connID]
	if !ok || s.TCB == nil {
		return 0, nil, nerrors.New("write", nerrors.NotConnected)
	}
	written, w := s.Write(p)
	n.applyTCPEffects(connID, s.TCB.PushSend(now), now)
	return written, w, nil
}

// TCPClose begins an orderly close of connID.
func (n *Node) TCPClose(connID uint64, now time.Time) error {
	s, ok := n.Sockets[connID]
	if !ok {
		return nerrors.New("close", nerrors.NotConnected)
	}
	n.applyTCPEffects(connID, s.Close(now), now)
	return nil
}

// UDPBind creates a bound, unconnected UDP socket and returns its id.
func (n *Node) UDPBind(local udp.Endpoint) uint64 {
	s := udp.New(local, n.UDPCfg)
	id := n.allocID()
	n.UDPSock[id] = s
	return id
}

// UDPConnect restricts sockID to a single peer.
func (n *Node) UDPConnect(sockID uint64, peer udp.Endpoint) error {
	s, ok := n.UDPSock[sockID]
	if !ok {
		return nerrors.New("connect", nerrors.NotConnected)
	}
	s.Connect(peer)
	return nil
}

// UDPSendTo marshals and routes one outbound datagram from sockID.
func (n *Node) UDPSendTo(sockID uint64, dst udp.Endpoint, payload []byte, now time.Time) error {
	s, ok := n.UDPSock[sockID]
	if !ok {
		return nerrors.New("sendto", nerrors.NotConnected)
	}
	d, err := s.Send(dst, payload)
	if err != nil {
		return err
	}
	n.sendUDPDatagram(s.Local, d.Peer, d.Payload, now)
	return nil
}

// UDPRecv pops the oldest queued datagram for sockID, or returns a waiter.
func (n *Node) UDPRecv(sockID uint64) (udp.Datagram, *udp.Waiter, error) {
	s, ok := n.UDPSock[sockID]
	if !ok {
		return udp.Datagram{}, nil, nerrors.New("recvfrom", nerrors.NotConnected)
	}
	d, w := s.Recv()
	return d, w, nil
}

// UDPClose wakes every pending waiter and unregisters sockID.
func (n *Node) UDPClose(sockID uint64) {
	if s, ok := n.UDPSock[sockID]; ok {
		s.Close()
		delete(n.UDPSock, sockID)
	}
}

// Shutdown tears down every live TCP connection, UDP socket, and BGP
// session, combining whatever errors the individual closes surface into
// one. Partial failure never stops the sweep short.
func (n *Node) Shutdown(now time.Time) error {
	var err error
	for connID := range n.Sockets {
		if closeErr := n.TCPClose(connID, now); closeErr != nil {
			err = multierr.Append(err, closeErr)
		}
	}
	for sockID := range n.UDPSock {
		n.UDPClose(sockID)
	}
	for sessionID, s := range n.BGP {
		n.applyBGPEffects(sessionID, s.Stop(), now)
	}
	return err
}
