// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ndp

import (
	"net"

	"go.fuchsia.dev/netsim/pkg/addr"
	"go.fuchsia.dev/netsim/pkg/iface"
)

// PolicyEntry is one row of the RFC 6724 §2.1 default policy table, mapping
// a prefix to a (precedence, label) pair. Only the label is consulted here
// (source rule 6 and SelectDestination); precedence is not used.
type PolicyEntry struct {
	Prefix    net.IP
	PrefixLen int
	Precedence int
	Label      int
}

// DefaultPolicyTable is RFC 6724 Table 2.1.
func DefaultPolicyTable() []PolicyEntry {
	return []PolicyEntry{
		{net.ParseIP("::1"), 128, 50, 0},
		{net.ParseIP("::"), 0, 40, 1},
		{net.ParseIP("::ffff:0:0"), 96, 35, 4},
		{net.ParseIP("2002::"), 16, 30, 2},
		{net.ParseIP("2001::"), 32, 5, 5},
		{net.ParseIP("fc00::"), 7, 3, 13},
		{net.ParseIP("::"), 96, 1, 3},
		{net.ParseIP("fec0::"), 10, 1, 11},
		{net.ParseIP("3ffe::"), 16, 1, 12},
	}
}

func classify(ip net.IP, table []PolicyEntry) (precedence, label int) {
	best := -1
	bestLen := -1
	for i, e := range table {
		if addr.CommonPrefixLen(ip, e.Prefix) >= e.PrefixLen && e.PrefixLen > bestLen {
			best = i
			bestLen = e.PrefixLen
		}
	}
	if best < 0 {
		return 0, 0
	}
	return table[best].Precedence, table[best].Label
}

// Candidate pairs a candidate source address with the interface it is
// bound to and whether that interface is the "outgoing"/preferred one for
// the destination under consideration.
type Candidate struct {
	IP         net.IP
	Iface      iface.ID
	Deprecated bool
	Temporary  bool
	HomeAddr   bool // false => care-of address (mobile IPv6; unused here but kept for rule 4 completeness)
	Outgoing   bool
}

// SelectSource applies RFC 6724 §5 rules in order to rank candidates for
// dst and returns the best one. It assumes the caller has already narrowed
// candidates to the preferred interface (or all interfaces if none
// preferred), as describes.
func SelectSource(dst net.IP, candidates []Candidate, policy []PolicyEntry) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if rankSource(dst, c, best, policy) {
			best = c
		}
	}
	return best, true
}

// rankSource reports whether a is strictly preferred over b as a source
// for dst, applying RFC 6724 rules 1-8 in order; the first rule that
// distinguishes a and b decides.
func rankSource(dst net.IP, a, b Candidate, policy []PolicyEntry) bool {
	// Rule 1: prefer same address as destination.
	if a.IP.Equal(dst) != b.IP.Equal(dst) {
		return a.IP.Equal(dst)
	}
	// Rule 2: prefer appropriate scope (smallest scope >= dst's scope,
	// else largest scope available).
	dstScope := addr.ScopeOf(dst)
	aScope, bScope := addr.ScopeOf(a.IP), addr.ScopeOf(b.IP)
	if aScope != bScope {
		aOK, bOK := aScope >= dstScope, bScope >= dstScope
		if aOK != bOK {
			return aOK
		}
		if aOK && bOK {
			return aScope < bScope
		}
		return aScope > bScope
	}
	// Rule 3: avoid deprecated addresses.
	if a.Deprecated != b.Deprecated {
		return !a.Deprecated
	}
	// Rule 4: prefer home addresses over care-of addresses.
	if a.HomeAddr != b.HomeAddr {
		return a.HomeAddr
	}
	// Rule 5: prefer outgoing interface.
	if a.Outgoing != b.Outgoing {
		return a.Outgoing
	}
	// Rule 6: prefer matching label.
	_, dstLabel := classify(dst, policy)
	_, aLabel := classify(a.IP, policy)
	_, bLabel := classify(b.IP, policy)
	if (aLabel == dstLabel) != (bLabel == dstLabel) {
		return aLabel == dstLabel
	}
	// Rule 7: prefer temporary addresses.
	if a.Temporary != b.Temporary {
		return a.Temporary
	}
	// Rule 8: longest matching prefix.
	return addr.CommonPrefixLen(a.IP, dst) > addr.CommonPrefixLen(b.IP, dst)
}

// DestCandidate pairs a destination with its already-selected source, for
// SelectDestination's analogous ranking over a list of candidate
// destinations (e.g. multiple A/AAAA results for one name).
type DestCandidate struct {
	Dst    net.IP
	Src    Candidate
}

// SelectDestination orders candidates best-first using an analogous rule
// set to SelectSource: prefer the smaller destination scope, then a
// destination whose label matches its source's label, then the longest
// prefix shared with the chosen source. Reachability is not considered.
func SelectDestination(candidates []DestCandidate, policy []PolicyEntry) []DestCandidate {
	out := append([]DestCandidate(nil), candidates...)
	less := func(i, j int) bool {
		a, b := out[i], out[j]
		aScope, bScope := addr.ScopeOf(a.Dst), addr.ScopeOf(b.Dst)
		if aScope != bScope {
			return aScope < bScope
		}
		_, aLabel := classify(a.Dst, policy)
		_, bLabel := classify(b.Dst, policy)
		aMatch := aLabel == classifyLabel(a.Src.IP, policy)
		bMatch := bLabel == classifyLabel(b.Src.IP, policy)
		if aMatch != bMatch {
			return aMatch
		}
		return addr.CommonPrefixLen(a.Src.IP, a.Dst) > addr.CommonPrefixLen(b.Src.IP, b.Dst)
	}
	// insertion sort: candidate lists are small (a handful of resolved
	// addresses), and a stable simple sort keeps the rule precedence
	// obvious to read.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func classifyLabel(ip net.IP, policy []PolicyEntry) int {
	_, label := classify(ip, policy)
	return label
}
