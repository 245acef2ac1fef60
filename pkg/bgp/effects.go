// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bgp

import "time"

// Effect is one side effect a Session asks its owning context to apply,
// the same pattern pkg/arp, pkg/ndp, and pkg/tcp use.
type Effect interface{ isEffect() }

// InitiateConnect asks the context to begin an active TCP connect() to
// Cfg.PeerAddr:179.
type InitiateConnect struct{}

// SendMessage writes a fully marshaled BGP message to the stream backing
// this session.
type SendMessage struct {
	StreamID uint64
	Data     []byte
}

// CloseStream tears down the named TCP stream without affecting session
// state (used to discard a losing collision side).
type CloseStream struct{ StreamID uint64 }

// ArmConnectRetry, CancelConnectRetry, ArmHold, CancelHold, ArmKeepalive,
// CancelKeepalive, ArmDelayOpen mirror the BGPConnectRetry/BGPHold/
// BGPKeepalive timer tokens names.
type ArmConnectRetry struct {
	SessionID uint64
	Deadline  time.Time
}
type CancelConnectRetry struct{ SessionID uint64 }

type ArmHold struct {
	SessionID uint64
	Deadline  time.Time
}
type CancelHold struct{ SessionID uint64 }

type ArmKeepalive struct {
	SessionID uint64
	Deadline  time.Time
}
type CancelKeepalive struct{ SessionID uint64 }

type ArmDelayOpen struct {
	SessionID uint64
	Deadline  time.Time
}

// NotifyEstablished reports the session reaching Established.
type NotifyEstablished struct{}

// NotifyClosed reports the session returning to Idle.
type NotifyClosed struct{}

func (InitiateConnect) isEffect()     {}
func (SendMessage) isEffect()         {}
func (CloseStream) isEffect()         {}
func (ArmConnectRetry) isEffect()     {}
func (CancelConnectRetry) isEffect()  {}
func (ArmHold) isEffect()             {}
func (CancelHold) isEffect()          {}
func (ArmKeepalive) isEffect()        {}
func (CancelKeepalive) isEffect()     {}
func (ArmDelayOpen) isEffect()        {}
func (NotifyEstablished) isEffect()   {}
func (NotifyClosed) isEffect()        {}
