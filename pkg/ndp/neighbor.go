// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ndp implements IPv6 Neighbor Discovery and Stateless Address
// Autoconfiguration (RFC 4861/4862): the neighbor cache, on-link prefix and
// default-router tables, DAD orchestration, RFC 6724 source-address
// selection, and the RS/RA/NS/NA production and consumption engine
//.
package ndp

import (
	"net"
	"time"

	"go.fuchsia.dev/netsim/pkg/iface"
)

// State is a neighbor cache entry's reachability state (RFC 4861 §7.3.2).
type State int

const (
	Incomplete State = iota
	Reachable
	Stale
	Delay
	Probe
)

func (s State) String() string {
	switch s {
	case Incomplete:
		return "INCOMPLETE"
	case Reachable:
		return "REACHABLE"
	case Stale:
		return "STALE"
	case Delay:
		return "DELAY"
	case Probe:
		return "PROBE"
	default:
		return "UNKNOWN"
	}
}

// Neighbor is one IPv6 neighbor cache entry.
type Neighbor struct {
	IP           net.IP
	MAC          net.HardwareAddr
	Iface        iface.ID
	State        State
	IsRouter     bool
	Queue        [][]byte
	SolicitCount int
	Deadline     time.Time // reachable-confirmation or retransmit deadline
}

// Cache is the per-node neighbor cache. Not safe for concurrent use.
type Cache struct {
	entries map[string]*Neighbor
}

// NewCache returns an empty neighbor cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Neighbor)}
}

// Lookup returns the entry for ip, if any.
func (c *Cache) Lookup(ip net.IP) (*Neighbor, bool) {
	n, ok := c.entries[ip.String()]
	return n, ok
}

// EnsureIncomplete returns the existing entry for ip or creates a new
// INCOMPLETE one with no MAC that INCOMPLETE
// entries have no MAC.
func (c *Cache) EnsureIncomplete(ip net.IP, ifc iface.ID) *Neighbor {
	if n, ok := c.entries[ip.String()]; ok {
		return n
	}
	n := &Neighbor{IP: ip, Iface: ifc, State: Incomplete}
	c.entries[ip.String()] = n
	return n
}

// All returns every cache entry, for iteration by callers that need to
// sweep (e.g. reachable-timer expiry scans driven by the timer wheel).
func (c *Cache) All() []*Neighbor {
	out := make([]*Neighbor, 0, len(c.entries))
	for _, n := range c.entries {
		out = append(out, n)
	}
	return out
}

// Delete removes the entry for ip.
func (c *Cache) Delete(ip net.IP) {
	delete(c.entries, ip.String())
}

// Enqueue appends pkt to n's pending queue, awaiting address resolution.
func (n *Neighbor) Enqueue(pkt []byte) {
	n.Queue = append(n.Queue, pkt)
}

// Drain empties and returns n's pending queue.
func (n *Neighbor) Drain() [][]byte {
	q := n.Queue
	n.Queue = nil
	return q
}

// ApplyAdvertisement updates n per RFC 4861 §7.2.5 given the fields of a
// received Neighbor Advertisement, returning whether the entry just became
// REACHABLE (so the caller should drain its queue through the outbound
// path).
func (n *Neighbor) ApplyAdvertisement(solicited, override bool, tgtMAC net.HardwareAddr, isRouter bool, reachableTime time.Duration, now time.Time) (becameReachable bool) {
	if n.State == Incomplete {
		if tgtMAC == nil {
			// NA with no link-layer address for an incomplete
			// entry carries no information we can act on.
			return false
		}
		n.MAC = tgtMAC
		n.IsRouter = isRouter
		if solicited {
			n.State = Reachable
			n.Deadline = now.Add(reachableTime)
			return true
		}
		n.State = Stale
		return false
	}

	sameAddr := tgtMAC == nil || n.MAC == nil || tgtMAC.String() == n.MAC.String()
	if tgtMAC != nil && !sameAddr && !override {
		if n.State == Reachable {
			n.State = Stale
		}
		return false
	}
	if tgtMAC != nil && (!sameAddr || override) {
		n.MAC = tgtMAC
	}
	switch {
	case solicited:
		n.State = Reachable
		n.Deadline = now.Add(reachableTime)
	case tgtMAC != nil && !sameAddr:
		n.State = Stale
	}
	if isRouter {
		n.IsRouter = true
	} else if n.IsRouter && isRouter == false && tgtMAC != nil {
		// RFC 4861 §7.2.5: a non-router NA from a previously-router
		// entry clears the router flag; removal from the default
		// router list is handled by the caller against DefaultRouters.
		n.IsRouter = false
	}
	return false
}

// MarkStaleIfReachableExpired transitions n to STALE if now is past its
// reachable deadline, satisfying the invariant that REACHABLE entries
// leave that state no later than their deadline.
func (n *Neighbor) MarkStaleIfReachableExpired(now time.Time) {
	if n.State == Reachable && !now.Before(n.Deadline) {
		n.State = Stale
	}
}
