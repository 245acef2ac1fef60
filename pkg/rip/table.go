// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rip

import (
	"net"
	"time"

	"go.fuchsia.dev/netsim/pkg/iface"
)

// Route is one distance-vector table entry RIP
// distance-vector entry tuple.
type Route struct {
	Subnet  net.IP
	Mask    net.IPMask
	Gateway net.IP // nil/unspecified for local subnets
	Cost    uint8
	Port    iface.ID

	Deadline       time.Time // zero = infinite (local subnets)
	NextUpdateTime time.Time
	changed        bool // dirty since the last periodic publish
}

func key(subnet net.IP, mask net.IPMask) string {
	return subnet.String() + "/" + mask.String()
}

// Table is the full distance-vector routing table.
type Table struct {
	routes map[string]*Route
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{routes: make(map[string]*Route)}
}

// AddLocal installs a directly connected subnet: gateway unspecified, cost
// 0, deadline infinite.
func (t *Table) AddLocal(subnet net.IP, mask net.IPMask, port iface.ID) {
	t.routes[key(subnet, mask)] = &Route{Subnet: subnet, Mask: mask, Cost: 0, Port: port}
}

// Lookup returns the current route for (subnet, mask), if any.
func (t *Table) Lookup(subnet net.IP, mask net.IPMask) (*Route, bool) {
	r, ok := t.routes[key(subnet, mask)]
	return r, ok
}

// Offer applies an advertised (target, mask, metric) from gateway arriving
// on port, replacing or refreshing the matching route. Returns true if the
// table changed (a new or improved route, requiring a triggered-update
// candidate).
func (t *Table) Offer(target net.IP, mask net.IPMask, gateway net.IP, metric uint8, port iface.ID, now time.Time, deadline time.Duration) bool {
	cost := metric + 1
	if cost > Infinity {
		cost = Infinity
	}
	k := key(target, mask)
	cur, ok := t.routes[k]
	if !ok {
		if cost >= Infinity {
			return false
		}
		t.routes[k] = &Route{
			Subnet: target, Mask: mask, Gateway: gateway, Cost: cost, Port: port,
			Deadline: now.Add(deadline), changed: true,
		}
		return true
	}
	if cost < cur.Cost {
		cur.Gateway, cur.Cost, cur.Port = gateway, cost, port
		cur.Deadline = now.Add(deadline)
		cur.changed = true
		return true
	}
	if cur.Gateway != nil && cur.Gateway.Equal(gateway) && cur.Cost == cost {
		cur.Deadline = now.Add(deadline)
	}
	return false
}

// Expire invalidates (sets cost to Infinity) any route whose deadline has
// passed, returning the routes that were just invalidated.
func (t *Table) Expire(now time.Time) []*Route {
	var expired []*Route
	for _, r := range t.routes {
		if r.Deadline.IsZero() || r.Cost >= Infinity {
			continue
		}
		if now.After(r.Deadline) {
			r.Cost = Infinity
			r.changed = true
			expired = append(expired, r)
		}
	}
	return expired
}

// Changed returns and clears every route marked dirty since the last
// call, for the periodic triggered-update publish.
func (t *Table) Changed() []*Route {
	var out []*Route
	for _, r := range t.routes {
		if r.changed {
			out = append(out, r)
			r.changed = false
		}
	}
	return out
}

// All returns every route in the table.
func (t *Table) All() []*Route {
	out := make([]*Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	return out
}
