// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tcp

import (
	"time"

	"go.fuchsia.dev/netsim/pkg/tcpseg"
)

// Effect is one side effect the TCB asks its owning context to perform,
// the same event-reactor shape used by pkg/arp and pkg/ndp (see
// DESIGN.md).
type Effect interface{ isEffect() }

// SendSegment asks the context to transmit seg from Local to Peer,
// deferring through the interface's outbound queue.
type SendSegment struct {
	Local, Peer Endpoint
	Seg         tcpseg.Segment
}

// ArmRetransmit (re)arms the per-TCB retransmission timer.
type ArmRetransmit struct {
	ConnID   uint64
	Deadline time.Time
}

// CancelRetransmit disarms the per-TCB retransmission timer.
type CancelRetransmit struct{ ConnID uint64 }

// ArmTimeWait arms the TIME_WAIT timer.
type ArmTimeWait struct {
	ConnID   uint64
	Deadline time.Time
}

// NotifyEstablish fulfills a pending connect()/accept() completion.
type NotifyEstablish struct{ Err error }

// NotifyReadable wakes read-waiters; new data (or EOF) is available.
type NotifyReadable struct{}

// NotifyWritable wakes write-waiters; send buffer has free space.
type NotifyWritable struct{}

// NotifyClosed wakes all pending interests on this TCB with err (nil on a
// clean close) cancellation rules.
type NotifyClosed struct{ Err error }

// Accept hands a freshly forked TCB to the listening socket's accept
// queue.
type Accept struct{ Child *TCB }

func (SendSegment) isEffect()      {}
func (ArmRetransmit) isEffect()    {}
func (CancelRetransmit) isEffect() {}
func (ArmTimeWait) isEffect()      {}
func (NotifyEstablish) isEffect()  {}
func (NotifyReadable) isEffect()   {}
func (NotifyWritable) isEffect()   {}
func (NotifyClosed) isEffect()     {}
func (Accept) isEffect()           {}
