// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ndp

import "go.fuchsia.dev/netsim/pkg/iface"

// NSRetransmitToken identifies a neighbor-solicitation retransmit timer
// (used for both ordinary address resolution and DAD probes, which share
// the same retransmit cadence per RFC 4861/4862). It is one of the timer
// token variants enumerates.
type NSRetransmitToken struct {
	Iface iface.ID
	Addr  string // net.IP.String(); comparable, unlike net.IP's slice type
}

// RASolicitedToken coalesces concurrent Router Solicitations into a single
// scheduled Router Advertisement per interface.
type RASolicitedToken struct{ Iface iface.ID }

// PrefixTimeoutToken drives periodic prefix/default-router lifetime sweeps
// per interface.
type PrefixTimeoutToken struct{ Iface iface.ID }

// DelayedJoinToken defers a freshly initialized interface's solicited-node
// multicast join to avoid a startup join storm
type DelayedJoinToken struct {
	Iface iface.ID
	Group string
}
