// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ndp

import (
	"net"
	"time"
)

// Prefix is an on-link prefix record. AssignedAddr is set once DAD has
// confirmed an address inside this prefix.
type Prefix struct {
	Prefix            net.IP
	PrefixLen         int
	OnLink            bool
	Autonomous        bool
	PreferredLifetime time.Duration
	ValidLifetime     time.Duration
	AssignedAddr      net.IP
	learnedAt         time.Time
}

// PrefixTable holds on-link prefixes for one interface.
type PrefixTable struct {
	prefixes map[string]*Prefix // keyed by "prefix/len"
}

// NewPrefixTable returns an empty table.
func NewPrefixTable() *PrefixTable {
	return &PrefixTable{prefixes: make(map[string]*Prefix)}
}

func prefixKey(ip net.IP, length int) string {
	return ip.Mask(net.CIDRMask(length, 128)).String()
}

// Upsert installs or refreshes a prefix record, returning it.
func (t *PrefixTable) Upsert(p Prefix, now time.Time) *Prefix {
	key := prefixKey(p.Prefix, p.PrefixLen)
	if existing, ok := t.prefixes[key]; ok {
		existing.OnLink = p.OnLink
		existing.Autonomous = p.Autonomous
		existing.PreferredLifetime = p.PreferredLifetime
		existing.ValidLifetime = p.ValidLifetime
		existing.learnedAt = now
		return existing
	}
	p.learnedAt = now
	t.prefixes[key] = &p
	return t.prefixes[key]
}

// Expire removes prefixes whose valid lifetime has elapsed since they were
// learned, returning the addresses that must be revoked as a result.
func (t *PrefixTable) Expire(now time.Time) []net.IP {
	var revoked []net.IP
	for key, p := range t.prefixes {
		if p.ValidLifetime == 0 {
			continue // infinite lifetime
		}
		if now.Sub(p.learnedAt) >= p.ValidLifetime {
			if p.AssignedAddr != nil {
				revoked = append(revoked, p.AssignedAddr)
			}
			delete(t.prefixes, key)
		}
	}
	return revoked
}

func (t *PrefixTable) All() []*Prefix {
	out := make([]*Prefix, 0, len(t.prefixes))
	for _, p := range t.prefixes {
		out = append(out, p)
	}
	return out
}

// DefaultRouter is a default-router list entry.
type DefaultRouter struct {
	IP       net.IP
	Iface    int
	Deadline time.Time
}

// DefaultRouterList tracks routers advertised with a nonzero lifetime.
type DefaultRouterList struct {
	routers map[string]*DefaultRouter
}

// NewDefaultRouterList returns an empty list.
func NewDefaultRouterList() *DefaultRouterList {
	return &DefaultRouterList{routers: make(map[string]*DefaultRouter)}
}

// Upsert installs or refreshes ip's lifetime. A lifetime of zero removes
// the entry immediately ("An entry reaching lifetime 0 in
// an advertisement is removed immediately").
func (l *DefaultRouterList) Upsert(ip net.IP, lifetime time.Duration, now time.Time) {
	if lifetime == 0 {
		delete(l.routers, ip.String())
		return
	}
	l.routers[ip.String()] = &DefaultRouter{IP: ip, Deadline: now.Add(lifetime)}
}

// Expire evicts routers whose lifetime has elapsed.
func (l *DefaultRouterList) Expire(now time.Time) {
	for key, r := range l.routers {
		if !now.Before(r.Deadline) {
			delete(l.routers, key)
		}
	}
}

func (l *DefaultRouterList) All() []*DefaultRouter {
	out := make([]*DefaultRouter, 0, len(l.routers))
	for _, r := range l.routers {
		out = append(out, r)
	}
	return out
}
