// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ndp

import (
	"net"
	"time"

	"go.fuchsia.dev/netsim/pkg/iface"
)

// dadProbe tracks one in-progress Duplicate Address Detection run.
type dadProbe struct {
	addr        net.IP
	ifc         iface.ID
	transmitted int
	joinedNew   bool
}

// DADTracker holds the in-progress probes for one node. Running DAD on an
// address already assigned on the same interface is a no-op; Start enforces
// that by checking the interface's address list before creating a probe.
type DADTracker struct {
	probes map[string]*dadProbe // keyed by addr.String()
}

// NewDADTracker returns an empty tracker.
func NewDADTracker() *DADTracker {
	return &DADTracker{probes: make(map[string]*dadProbe)}
}

// InProgress reports whether ip currently has a running probe.
func (d *DADTracker) InProgress(ip net.IP) bool {
	_, ok := d.probes[ip.String()]
	return ok
}

// Start begins DAD for ip on ifc if ip isn't already assigned (tentative or
// otherwise) on that interface. Returns the probe, or nil if it was a
// no-op.
func (d *DADTracker) Start(ip net.IP, ifc *iface.Interface) *dadProbe {
	if idx, ok := ifc.FindV6(ip); ok {
		_ = idx
		return nil // already assigned: idempotent no-op
	}
	p := &dadProbe{addr: ip, ifc: ifc.ID}
	d.probes[ip.String()] = p
	return p
}

// Cancel drops an in-progress probe (e.g. on interface teardown). Canceling
// a DAD in progress releases the tentative address and leaves the
// solicited-node multicast group. The caller is responsible for performing
// those two actions against the interface; Cancel only forgets the probe
// bookkeeping.
func (d *DADTracker) Cancel(ip net.IP) {
	delete(d.probes, ip.String())
}

// ObserveCollision marks ip as collided if a probe for it is running,
// returning true if it found (and removed) one.
func (d *DADTracker) ObserveCollision(ip net.IP) bool {
	_, ok := d.probes[ip.String()]
	if ok {
		delete(d.probes, ip.String())
	}
	return ok
}

// Retransmit increments a probe's transmit counter and reports whether
// dupAddrDetectTransmits probes have now been sent (DAD complete, promote
// to preferred) or whether another NS should go out.
func (d *DADTracker) Retransmit(ip net.IP, dupAddrDetectTransmits int) (done bool, ok bool) {
	p, exists := d.probes[ip.String()]
	if !exists {
		return false, false
	}
	p.transmitted++
	if p.transmitted >= dupAddrDetectTransmits {
		delete(d.probes, ip.String())
		return true, true
	}
	return false, true
}

// dadRetransmitDeadline computes the next NS deadline for an active probe.
func dadRetransmitDeadline(now time.Time, retransTimer time.Duration) time.Time {
	return now.Add(retransTimer)
}
