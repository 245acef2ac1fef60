// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bgp

import (
	"net"
	"time"
)

// State is one of the RFC 4271 §8 session states, abridged: Connect and
// Active fold OpenSent's ActiveDelayOpen variant in as a distinct state
// rather than a sub-flag.
type State int

const (
	Idle State = iota
	Connect
	Active
	ActiveDelayOpen
	OpenSent
	OpenConfirm
	Established
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connect:
		return "Connect"
	case Active:
		return "Active"
	case ActiveDelayOpen:
		return "ActiveDelayOpen"
	case OpenSent:
		return "OpenSent"
	case OpenConfirm:
		return "OpenConfirm"
	case Established:
		return "Established"
	default:
		return "Unknown"
	}
}

// Config bounds one session's timers and local identity.
type Config struct {
	LocalAS         uint16
	PeerAS          uint16
	LocalIdentifier net.IP
	PeerIdentifier  net.IP
	PeerAddr        net.IP
	HoldTime        uint16
	KeepaliveTime   uint16
	ConnectRetry    time.Duration
	DelayOpen       bool
	DelayOpenTime   time.Duration
}

// Session is one BGP neighbor's peering state machine.
type Session struct {
	ID  uint64 // opaque identifier for timer-token keying
	Cfg Config

	State State

	HoldTime      uint16 // negotiated, min(ours, peer's)
	LastKeepSent  time.Time
	LastKeepRecv  time.Time

	ConnectRetryCounter int

	PeerOpen      *Open
	StreamID      uint64 // identifies which TCP connection backs this session
	pendingStream *uint64
}

// NewSession creates an Idle session.
func NewSession(id uint64, cfg Config) *Session {
	return &Session{ID: id, Cfg: cfg, State: Idle}
}

// Start begins the session: Connect races the TCP handshake against the
// connect-retry timer.
func (s *Session) Start(now time.Time) []Effect {
	s.State = Connect
	return []Effect{
		InitiateConnect{},
		ArmConnectRetry{SessionID: s.ID, Deadline: now.Add(s.Cfg.ConnectRetry)},
	}
}

// ConnectSucceeded is the event fired when our active TCP connect() to the
// peer completes.
func (s *Session) ConnectSucceeded(streamID uint64, now time.Time) []Effect {
	if s.State != Connect {
		return nil
	}
	s.StreamID = streamID
	s.State = OpenSent
	return []Effect{
		CancelConnectRetry{SessionID: s.ID},
		SendMessage{StreamID: streamID, Data: s.openBytes()},
		ArmHold{SessionID: s.ID, Deadline: now.Add(time.Duration(s.Cfg.HoldTime) * time.Second)},
	}
}

// ConnectFailed moves Connect to Active on a failed active open.
func (s *Session) ConnectFailed(now time.Time) []Effect {
	if s.State != Connect {
		return nil
	}
	s.State = Active
	return nil
}

// ConnectRetryExpired re-attempts the active open, incrementing the
// monotonic retry counter (the invariant names).
func (s *Session) ConnectRetryExpired(now time.Time) []Effect {
	if s.State != Connect && s.State != Active {
		return nil
	}
	s.ConnectRetryCounter++
	s.State = Connect
	return []Effect{
		InitiateConnect{},
		ArmConnectRetry{SessionID: s.ID, Deadline: now.Add(s.Cfg.ConnectRetry)},
	}
}

// IncomingConnection is the event fired when a passive-open TCP connection
// arrives from the configured peer address while in Active, or a
// colliding connection arrives while in Connect/OpenSent.
func (s *Session) IncomingConnection(streamID uint64, peerID net.IP, now time.Time) []Effect {
	switch s.State {
	case Active:
		s.StreamID = streamID
		if s.Cfg.DelayOpen {
			s.State = ActiveDelayOpen
			return []Effect{ArmDelayOpen{SessionID: s.ID, Deadline: now.Add(s.Cfg.DelayOpenTime)}}
		}
		s.State = OpenSent
		return []Effect{
			SendMessage{StreamID: streamID, Data: s.openBytes()},
			ArmHold{SessionID: s.ID, Deadline: now.Add(time.Duration(s.Cfg.HoldTime) * time.Second)},
		}

	case Connect, OpenSent:
		// Collision: compare identifiers, lower BGP id survives (RFC
		// 4271 §8's simultaneous-open resolution rule).
		if IdentifierU32(s.Cfg.LocalIdentifier) < IdentifierU32(peerID) {
			// We win; discard the incoming connection.
			return []Effect{CloseStream{StreamID: streamID}}
		}
		// The incoming connection wins: adopt it, discarding our own.
		old := s.StreamID
		s.StreamID = streamID
		s.State = OpenSent
		return []Effect{
			CloseStream{StreamID: old},
			SendMessage{StreamID: streamID, Data: s.openBytes()},
			ArmHold{SessionID: s.ID, Deadline: now.Add(time.Duration(s.Cfg.HoldTime) * time.Second)},
		}
	}
	return []Effect{CloseStream{StreamID: streamID}}
}

// DelayOpenExpired always transmits OPEN, resolving the ambiguous
// delay_open branch by always falling through to OpenSent.
func (s *Session) DelayOpenExpired(now time.Time) []Effect {
	if s.State != ActiveDelayOpen {
		return nil
	}
	s.State = OpenSent
	return []Effect{
		SendMessage{StreamID: s.StreamID, Data: s.openBytes()},
		ArmHold{SessionID: s.ID, Deadline: now.Add(time.Duration(s.Cfg.HoldTime) * time.Second)},
	}
}

// HandleOpen validates a peer OPEN in OpenSent (or ActiveDelayOpen, which
// falls through the same as a DelayOpenExpired timer would before being
// handled here).
func (s *Session) HandleOpen(o Open, now time.Time) []Effect {
	if s.State == ActiveDelayOpen {
		s.DelayOpenExpired(now)
	}
	if s.State != OpenSent {
		return nil
	}

	if code, subcode, ok := s.validateOpen(o); !ok {
		s.State = Idle
		return []Effect{
			SendMessage{StreamID: s.StreamID, Data: MarshalNotification(Notification{Code: code, Subcode: subcode})},
			CloseStream{StreamID: s.StreamID},
		}
	}

	s.PeerOpen = &o
	s.HoldTime = s.Cfg.HoldTime
	if o.HoldTime < s.HoldTime {
		s.HoldTime = o.HoldTime
	}
	s.State = OpenConfirm
	s.LastKeepSent = now
	return []Effect{
		SendMessage{StreamID: s.StreamID, Data: MarshalKeepalive()},
		ArmHold{SessionID: s.ID, Deadline: now.Add(time.Duration(s.HoldTime) * time.Second)},
		ArmKeepalive{SessionID: s.ID, Deadline: now.Add(time.Duration(s.Cfg.KeepaliveTime) * time.Second)},
	}
}

func (s *Session) validateOpen(o Open) (NotifyCode, uint8, bool) {
	if o.Version != 4 {
		return ErrOpenMessage, OpenSubUnsupportedVersion, false
	}
	if o.AS != s.Cfg.PeerAS {
		return ErrOpenMessage, OpenSubBadPeerAS, false
	}
	if !o.Identifier.Equal(s.Cfg.PeerIdentifier) {
		return ErrOpenMessage, OpenSubBadBGPIdentifier, false
	}
	if o.HoldTime != 0 && o.HoldTime < s.Cfg.KeepaliveTime {
		return ErrOpenMessage, OpenSubUnacceptableHoldTime, false
	}
	return 0, 0, true
}

// HandleKeepalive promotes OpenConfirm to Established, or refreshes the
// hold timer in Established.
func (s *Session) HandleKeepalive(now time.Time) []Effect {
	s.LastKeepRecv = now
	switch s.State {
	case OpenConfirm:
		s.State = Established
		return []Effect{
			ArmHold{SessionID: s.ID, Deadline: now.Add(time.Duration(s.HoldTime) * time.Second)},
			NotifyEstablished{},
		}
	case Established:
		return []Effect{ArmHold{SessionID: s.ID, Deadline: now.Add(time.Duration(s.HoldTime) * time.Second)}}
	}
	return nil
}

// KeepaliveTimerExpired emits a KEEPALIVE and re-arms
// "now - last_keepalive_sent >= keepalive_time" rule restated as a timer.
func (s *Session) KeepaliveTimerExpired(now time.Time) []Effect {
	if s.State != OpenConfirm && s.State != Established {
		return nil
	}
	if s.HoldTime == 0 {
		return nil // hold_time 0 disables keepalive
	}
	s.LastKeepSent = now
	return []Effect{
		SendMessage{StreamID: s.StreamID, Data: MarshalKeepalive()},
		ArmKeepalive{SessionID: s.ID, Deadline: now.Add(time.Duration(s.Cfg.KeepaliveTime) * time.Second)},
	}
}

// HoldTimerExpired tears the session down with a HoldTimerExpires
// NOTIFICATION and returns to Idle, bumping the retry counter.
func (s *Session) HoldTimerExpired(now time.Time) []Effect {
	if s.State == Idle {
		return nil
	}
	s.ConnectRetryCounter++
	s.State = Idle
	return []Effect{
		SendMessage{StreamID: s.StreamID, Data: MarshalNotification(Notification{Code: ErrHoldTimerExpired})},
		CloseStream{StreamID: s.StreamID},
		CancelKeepalive{SessionID: s.ID},
		NotifyClosed{},
	}
}

// StreamClosed handles the underlying TCP stream dropping out from under
// an in-progress or established session (the peer reset or timed out the
// connection). Unlike HoldTimerExpired there is no live stream left to send
// a NOTIFICATION on, so this only tears down local state and restarts the
// connect-retry cycle.
func (s *Session) StreamClosed(now time.Time) []Effect {
	if s.State == Idle || s.State == Connect {
		return nil
	}
	s.ConnectRetryCounter++
	s.StreamID = 0
	s.State = Connect
	return []Effect{
		CancelHold{SessionID: s.ID},
		CancelKeepalive{SessionID: s.ID},
		NotifyClosed{},
		InitiateConnect{},
		ArmConnectRetry{SessionID: s.ID, Deadline: now.Add(s.Cfg.ConnectRetry)},
	}
}

// Stop drains the session with a Cease NOTIFICATION
// cancellation rule (c).
func (s *Session) Stop() []Effect {
	if s.State == Idle {
		return nil
	}
	eff := []Effect{CancelHold{SessionID: s.ID}, CancelKeepalive{SessionID: s.ID}, CancelConnectRetry{SessionID: s.ID}}
	if s.State != Connect && s.State != Active {
		eff = append(eff, SendMessage{StreamID: s.StreamID, Data: MarshalNotification(Notification{Code: ErrCease})})
	}
	if s.StreamID != 0 {
		eff = append(eff, CloseStream{StreamID: s.StreamID})
	}
	s.State = Idle
	return append(eff, NotifyClosed{})
}

func (s *Session) openBytes() []byte {
	return MarshalOpen(Open{
		Version:    4,
		AS:         s.Cfg.LocalAS,
		HoldTime:   s.Cfg.HoldTime,
		Identifier: s.Cfg.LocalIdentifier,
	})
}
