// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package iface holds the per-interface state shared by every protocol
// engine: addresses, multicast membership, flags, and the single-frame-in-
// flight transmit queue.
package iface

import (
	"net"
)

// ID is a stable numeric interface identifier, an index into the owning
// context's interface arena (see DESIGN.md on replacing cyclic references
// with ids).
type ID uint32

// Flag is one of the interface flag bits.
type Flag uint8

const (
	FlagUp Flag = 1 << iota
	FlagBroadcast
	FlagLoopback
)

// AddrLifecycle is the RFC 4862 lifecycle state of an IPv6 address.
type AddrLifecycle int

const (
	Tentative AddrLifecycle = iota
	Preferred
	Deprecated
)

// Addr4 is a bound IPv4 address with its netmask.
type Addr4 struct {
	IP   net.IP
	Mask net.IPMask
}

// Addr6 is a bound IPv6 address with its prefix length and DAD lifecycle.
type Addr6 struct {
	IP          net.IP
	PrefixLen   int
	State       AddrLifecycle
	Autonomous  bool
	PreferredAt int64 // unix-nanos deadline, 0 = infinite
	ValidAt     int64
}

// Frame is an outbound link-layer frame queued for transmission.
type Frame struct {
	Dst     net.HardwareAddr
	EType   uint16
	Payload []byte
}

// Waiter is a one-shot completion the context fulfills when the interface
// transitions to idle; waiters are released in arrival (FIFO) order.
type Waiter struct {
	Ready chan struct{}
}

// Interface is a single link-layer interface: its hardware address, its
// bound addresses, its multicast memberships, and its single-frame
// transmit queue. Invariant: at most one frame is in flight at a time;
// Enqueue queues a frame, and TryDequeue hands out the next one only while
// the interface is idle, marking it busy.
type Interface struct {
	ID    ID
	Name  string
	MAC   net.HardwareAddr
	Flags Flag
	MTU   int

	Addrs4 []Addr4
	Addrs6 []Addr6

	// Multicast groups this interface has joined, keyed by string form
	// of the IP so both v4 and v6 groups share one set.
	Multicast map[string]int // refcount, since DAD and app joins overlap

	busy    bool
	pending []Frame
	waiters []*Waiter
}

// New returns an Interface with no bound addresses, down.
func New(id ID, name string, mac net.HardwareAddr, mtu int) *Interface {
	return &Interface{
		ID:        id,
		Name:      name,
		MAC:       mac,
		MTU:       mtu,
		Multicast: make(map[string]int),
	}
}

func (i *Interface) IsUp() bool        { return i.Flags&FlagUp != 0 }
func (i *Interface) IsLoopback() bool  { return i.Flags&FlagLoopback != 0 }
func (i *Interface) IsBroadcast() bool { return i.Flags&FlagBroadcast != 0 }

// JoinMulticast adds a reference to group g, reporting whether this was the
// first join (the caller must emit an MLD/IGMP report only on first join).
func (i *Interface) JoinMulticast(g net.IP) (isNew bool) {
	key := g.String()
	n := i.Multicast[key]
	i.Multicast[key] = n + 1
	return n == 0
}

// LeaveMulticast drops a reference to group g, reporting whether the group
// membership was fully released.
func (i *Interface) LeaveMulticast(g net.IP) (left bool) {
	key := g.String()
	n, ok := i.Multicast[key]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(i.Multicast, key)
		return true
	}
	i.Multicast[key] = n - 1
	return false
}

func (i *Interface) InMulticast(g net.IP) bool {
	_, ok := i.Multicast[g.String()]
	return ok
}

// Busy reports whether a frame is currently in flight on this interface.
func (i *Interface) Busy() bool { return i.busy }

// Enqueue appends f to the pending-transmit queue. It never blocks the
// caller; the context drains the queue as TransmitDone releases capacity.
func (i *Interface) Enqueue(f Frame) {
	i.pending = append(i.pending, f)
}

// TryDequeue returns (and removes) the next pending frame to send if the
// interface is idle, marking it busy. Returns false if busy or empty.
func (i *Interface) TryDequeue() (Frame, bool) {
	if i.busy || len(i.pending) == 0 {
		return Frame{}, false
	}
	f := i.pending[0]
	i.pending = i.pending[1:]
	i.busy = true
	return f, true
}

// TransmitDone marks the interface idle again and returns waiters to
// release, in FIFO arrival order
func (i *Interface) TransmitDone() []*Waiter {
	i.busy = false
	w := i.waiters
	i.waiters = nil
	return w
}

// AddWriteInterest registers a one-shot waiter released the next time this
// interface goes idle.
func (i *Interface) AddWriteInterest(w *Waiter) {
	i.waiters = append(i.waiters, w)
}

// AssignedV6 returns the bound IPv6 addresses whose lifecycle is not
// Tentative (i.e. usable as a source or destination match).
func (i *Interface) AssignedV6() []Addr6 {
	var out []Addr6
	for _, a := range i.Addrs6 {
		if a.State != Tentative {
			out = append(out, a)
		}
	}
	return out
}

// FindV6 reports whether ip is bound on this interface, in any lifecycle
// state, and returns its index.
func (i *Interface) FindV6(ip net.IP) (int, bool) {
	for idx, a := range i.Addrs6 {
		if a.IP.Equal(ip) {
			return idx, true
		}
	}
	return 0, false
}

// AddV6Tentative assigns ip as a new tentative address pending DAD.
func (i *Interface) AddV6Tentative(ip net.IP, prefixLen int, autonomous bool) {
	i.Addrs6 = append(i.Addrs6, Addr6{IP: ip, PrefixLen: prefixLen, State: Tentative, Autonomous: autonomous})
}

// PromoteV6 transitions ip from Tentative to Preferred, recording its
// lifetime deadlines (unix nanos; 0 = infinite).
func (i *Interface) PromoteV6(ip net.IP, preferredAt, validAt int64) bool {
	idx, ok := i.FindV6(ip)
	if !ok {
		return false
	}
	i.Addrs6[idx].State = Preferred
	i.Addrs6[idx].PreferredAt = preferredAt
	i.Addrs6[idx].ValidAt = validAt
	return true
}

// DeprecateV6 transitions ip to Deprecated (preferred lifetime elapsed but
// still valid).
func (i *Interface) DeprecateV6(ip net.IP) bool {
	idx, ok := i.FindV6(ip)
	if !ok {
		return false
	}
	i.Addrs6[idx].State = Deprecated
	return true
}

// RemoveV6 drops ip (DAD collision, or valid-lifetime expiry).
func (i *Interface) RemoveV6(ip net.IP) bool {
	idx, ok := i.FindV6(ip)
	if !ok {
		return false
	}
	i.Addrs6 = append(i.Addrs6[:idx], i.Addrs6[idx+1:]...)
	return true
}
