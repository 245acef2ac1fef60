// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package udp implements a minimal UDP socket: bind/connect/send/recv
// plus a per-socket multicast group set, the thin sibling of pkg/tcp that
// transport delivery over UDP needs alongside TCP's TCB.
package udp

import (
	"net"

	"go.fuchsia.dev/netsim/pkg/nerrors"
)

// Datagram is one received (or queued-to-send) UDP payload with its
// remote endpoint.
type Datagram struct {
	Peer    Endpoint
	Payload []byte
}

// Endpoint is a (IP, port) pair, the UDP analogue of tcp.Endpoint.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// Waiter is a one-shot completion for a blocked recv, mirroring
// tcp.Waiter.
type Waiter struct {
	Ready chan struct{}
}

func newWaiter() *Waiter { return &Waiter{Ready: make(chan struct{})} }

// Socket is an unconnected-by-default UDP endpoint. When Peer is set
// (via Connect), Send and Deliver filter to that single peer. Groups
// records the multicast groups joined via JoinGroup; delivery does not
// consult it, so membership does not change which datagrams are accepted.
type Socket struct {
	Local Endpoint
	Peer  *Endpoint // nil unless Connect was called

	Groups map[string]bool

	inbox    []Datagram
	capacity int
	waiters  []*Waiter
}

// Config bounds a socket's receive queue depth.
type Config struct {
	RecvQueueCap int
}

// DefaultConfig returns a conventional unbounded-ish receive queue depth.
func DefaultConfig() Config { return Config{RecvQueueCap: 256} }

// New creates a bound, unconnected socket.
func New(local Endpoint, cfg Config) *Socket {
	return &Socket{Local: local, Groups: make(map[string]bool), capacity: cfg.RecvQueueCap}
}

// Connect restricts the socket to one peer; subsequent Recv filters
// inbound datagrams not from Peer (RFC 768 does not define this, but it
// is standard BSD socket semantics and keeps the syscall surface naming
// connect() uniformly across TCP/UDP).
func (s *Socket) Connect(peer Endpoint) {
	s.Peer = &peer
}

// JoinGroup/LeaveGroup mirror the multicast membership operations
// iface.Interface exposes at the link layer, adding and removing a group in
// the socket's Groups set. Deliver does not read the set.
func (s *Socket) JoinGroup(group net.IP)  { s.Groups[group.String()] = true }
func (s *Socket) LeaveGroup(group net.IP) { delete(s.Groups, group.String()) }

// Deliver is called by the owning context when a UDP datagram addressed
// to this socket's port arrives. It enqueues the datagram (dropping it if
// the queue is full, per UDP's unreliable-delivery contract) and wakes
// the oldest waiting Recv.
func (s *Socket) Deliver(d Datagram) {
	if s.Peer != nil && (!d.Peer.IP.Equal(s.Peer.IP) || d.Peer.Port != s.Peer.Port) {
		return
	}
	if len(s.inbox) >= s.capacity {
		return
	}
	s.inbox = append(s.inbox, d)
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(w.Ready)
	}
}

// Recv pops the oldest queued datagram, or registers a waiter if none is
// available yet.
func (s *Socket) Recv() (Datagram, *Waiter) {
	if len(s.inbox) > 0 {
		d := s.inbox[0]
		s.inbox = s.inbox[1:]
		return d, nil
	}
	w := newWaiter()
	s.waiters = append(s.waiters, w)
	return Datagram{}, w
}

// Send validates the target against Peer when connected, otherwise
// requires an explicit destination; the owning context performs the
// actual routing/neighbor-resolution/transmit.
func (s *Socket) Send(dst Endpoint, payload []byte) (Datagram, error) {
	if s.Peer != nil && (dst.IP != nil && (!dst.IP.Equal(s.Peer.IP) || dst.Port != s.Peer.Port)) {
		return Datagram{}, nerrors.New("sendto", nerrors.InvalidInput)
	}
	if s.Peer != nil && dst.IP == nil {
		dst = *s.Peer
	}
	if dst.IP == nil {
		return Datagram{}, nerrors.New("sendto", nerrors.InvalidInput)
	}
	return Datagram{Peer: dst, Payload: payload}, nil
}

// Close wakes every pending Recv waiter by closing its Ready channel.
// Waiter has no error field, so no error is reported to the woken callers.
func (s *Socket) Close() {
	for _, w := range s.waiters {
		close(w.Ready)
	}
	s.waiters = nil
}
