// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package arp implements RFC 826 address resolution with deferred sends:
// the request/response wire format (wire.go), the resolution table with
// negative caching, and the pending-packet queue keyed by unresolved
// next-hop.
package arp

import (
	"net"
	"time"

	"go.fuchsia.dev/netsim/pkg/iface"
)

// Config bounds ARP engine behavior. Defaults match common BSD/Linux ARP
// stacks: 3 retries a second apart, a minute of positive validity.
type Config struct {
	Retries  int
	Timeout  time.Duration
	Validity time.Duration
}

// DefaultConfig returns the engine's default tunables.
func DefaultConfig() Config {
	return Config{Retries: 3, Timeout: time.Second, Validity: 60 * time.Second}
}

// entry is either a positive (mac set) or negative (mac nil) cache entry.
type entry struct {
	mac     net.HardwareAddr
	iface   iface.ID
	expires time.Time
}

func (e entry) positive() bool { return e.mac != nil }

// pending is the queue of IP packets awaiting resolution for one
// destination IP, plus retry bookkeeping. Invariant: at most
// one outstanding solicitation per pending destination.
type pending struct {
	iface    iface.ID
	packets  [][]byte
	retries  int
	deadline time.Time
}

// QueuedPacket is a queued IP packet, a plain byte slice: the engine never
// inspects payload structure — it only ever emits it once a MAC is known.
type QueuedPacket = []byte

// Table is the ARP cache plus pending-resolution queues for one node. It is
// not safe for concurrent use — the owning context is the sole mutator.
type Table struct {
	cfg     Config
	entries map[string]entry   // keyed by IP.String()
	pend    map[string]*pending // keyed by IP.String()
}

// NewTable returns an empty Table using cfg.
func NewTable(cfg Config) *Table {
	return &Table{
		cfg:     cfg,
		entries: make(map[string]entry),
		pend:    make(map[string]*pending),
	}
}

// Lookup returns the MAC for ip if a live positive entry exists.
func (t *Table) Lookup(ip net.IP, now time.Time) (net.HardwareAddr, bool) {
	e, ok := t.entries[ip.String()]
	if !ok || !e.positive() || now.After(e.expires) {
		return nil, false
	}
	return e.mac, true
}

// IsNegative reports whether ip has a live negative entry (recently failed
// resolution "install a negative entry").
func (t *Table) IsNegative(ip net.IP, now time.Time) bool {
	e, ok := t.entries[ip.String()]
	return ok && !e.positive() && now.After(e.expires) == false
}

// installPositive installs/refreshes a positive entry and returns the
// queued packets for ip, if any pending resolution existed.
func (t *Table) installPositive(ip net.IP, mac net.HardwareAddr, ifc iface.ID, now time.Time) [][]byte {
	t.entries[ip.String()] = entry{mac: mac, iface: ifc, expires: now.Add(t.cfg.Validity)}
	p, ok := t.pend[ip.String()]
	if !ok {
		return nil
	}
	delete(t.pend, ip.String())
	return p.packets
}

func (t *Table) installNegative(ip net.IP, now time.Time) {
	t.entries[ip.String()] = entry{mac: nil, expires: now.Add(t.cfg.Validity / 4)}
}

// Enqueue adds pkt to the pending queue for ip via ifc, reporting whether a
// solicitation should be (re)started: true the first time a destination
// becomes pending, false if one is already outstanding.
func (t *Table) Enqueue(ip net.IP, ifc iface.ID, pkt []byte, now time.Time) (startSolicit bool) {
	p, ok := t.pend[ip.String()]
	if !ok {
		p = &pending{iface: ifc, retries: t.cfg.Retries, deadline: now.Add(t.cfg.Timeout)}
		t.pend[ip.String()] = p
		startSolicit = true
	}
	p.packets = append(p.packets, pkt)
	return startSolicit
}

// PendingIface returns the interface a pending resolution for ip is queued
// on.
func (t *Table) PendingIface(ip net.IP) (iface.ID, bool) {
	p, ok := t.pend[ip.String()]
	if !ok {
		return 0, false
	}
	return p.iface, true
}

// Resolution is the outcome of a solicitation timeout: either retry (send
// another request, rearm the timer) or fail (drain the queue with host
// unreachable and install a negative entry).
type Resolution struct {
	Retry    bool
	Iface    iface.ID
	Failed   [][]byte
}

// Timeout processes a solicitation-timeout event for ip: retry until the
// retry budget is exhausted, then install a negative cache entry.
func (t *Table) Timeout(ip net.IP, now time.Time) Resolution {
	p, ok := t.pend[ip.String()]
	if !ok {
		return Resolution{}
	}
	p.retries--
	if p.retries > 0 {
		p.deadline = now.Add(t.cfg.Timeout)
		return Resolution{Retry: true, Iface: p.iface}
	}
	delete(t.pend, ip.String())
	t.installNegative(ip, now)
	return Resolution{Iface: p.iface, Failed: p.packets}
}
