// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tcp implements the per-connection TCP state machine (RFC
// 793/9293): reassembly and retransmit buffers, sliding-window flow
// control, Reno congestion control, RTT estimation, and graceful/
// simultaneous close (, the core's largest component).
package tcp

import (
	"net"
	"time"

	"go.fuchsia.dev/netsim/pkg/ring"
)

// State is one of the RFC 9293 §3.3.2 connection states.
type State int

const (
	Closed State = iota
	Listen
	SynSent
	SynRcvd
	Established
	FinWait1
	FinWait2
	Closing
	TimeWait
	CloseWait
	LastAck
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Listen:
		return "LISTEN"
	case SynSent:
		return "SYN_SENT"
	case SynRcvd:
		return "SYN_RCVD"
	case Established:
		return "ESTABLISHED"
	case FinWait1:
		return "FIN_WAIT_1"
	case FinWait2:
		return "FIN_WAIT_2"
	case Closing:
		return "CLOSING"
	case TimeWait:
		return "TIME_WAIT"
	case CloseWait:
		return "CLOSE_WAIT"
	case LastAck:
		return "LAST_ACK"
	default:
		return "UNKNOWN"
	}
}

// SenderSubstate tracks the application-visible write-half lifecycle,
// independent of the RFC state's send/receive coupling.
type SenderSubstate int

const (
	SendOpening SenderSubstate = iota
	SendEstablished
	SendWaitForStream // application called Close; draining send buffer before FIN
	SendClosing       // FIN sent, awaiting ACK
	SendClosed
)

// ReceiverSubstate tracks the application-visible read-half lifecycle.
type ReceiverSubstate int

const (
	RecvOpening ReceiverSubstate = iota
	RecvEstablished
	RecvFinRecvWaitForData // FIN arrived ahead of reassembly catching up
	RecvClosed
)

// Endpoint is a (IP, port) pair.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// Config bounds one TCB's buffers and retry behavior.
type Config struct {
	TxCap          int
	RxCap          int
	InitialRTO     time.Duration
	MinRTO         time.Duration
	TimeWaitLength time.Duration
	SynRetries int // open question: default 3, configurable
	MaxRetransmits int
	MSS4           uint16
	MSS6           uint16
}

// DefaultConfig returns the defaults names: MSS 536 (v4) / 1220
// (v6) absent an MSS option, and conventional buffer sizes.
func DefaultConfig() Config {
	return Config{
		TxCap:          64 * 1024,
		RxCap:          64 * 1024,
		InitialRTO:     time.Second,
		MinRTO:         500 * time.Millisecond,
		TimeWaitLength: 2 * 30 * time.Second, // 2*MSL at a simulated MSL of 30s
		SynRetries:     3,
		MaxRetransmits: 8,
		MSS4:           536,
		MSS6:           1220,
	}
}

// TCB is one connection's full state: sequence space, buffers, timers, and
// congestion-control variables.
type TCB struct {
	ID    uint64 // opaque identifier the owning context assigns, used to key timer tokens
	Cfg   Config
	State State

	Local, Peer Endpoint

	// Send variables.
	ISS           ring.Seq
	UNA           ring.Seq
	Nxt           ring.Seq
	Wnd           uint32 // peer's advertised window
	NextBufferSeq ring.Seq
	MaxSendSeq    ring.Seq
	DupAckCounter int
	MSS           uint16
	ClosedAt      *ring.Seq

	// Receive variables.
	IRS    ring.Seq
	RcvNxt ring.Seq
	RcvWnd uint32
	FinSeq *ring.Seq

	SendBuf *ring.Buffer
	RecvBuf *ring.Buffer

	// Congestion control (Reno).
	Cwnd          uint32
	Ssthresh      uint32
	AvoidCounter  int64
	SlowStart     bool
	CCEnabled     bool

	// RTT estimation.
	SRTT, RTTVar time.Duration
	RTO          time.Duration
	RTTProbeSeq  *ring.Seq
	RTTProbeTime time.Time

	RetransmitArmed bool
	TimeWaitArmed   bool

	SendSub SenderSubstate
	RecvSub ReceiverSubstate

	// Retry bookkeeping for the initial SYN.
	SynAttempts int

	Err error // sticky error surfaced once the connection tears down
}

// NewActive creates a TCB for an active open (connect()), in SynSent after
// the caller sends the initial SYN.
func NewActive(cfg Config, local, peer Endpoint, iss ring.Seq) *TCB {
	t := newTCB(cfg, local, peer, iss)
	t.Nxt = iss.Add(1) // the SYN itself occupies sequence number iss
	t.State = SynSent
	t.SendSub = SendOpening
	t.RecvSub = RecvOpening
	t.SynAttempts = 1
	return t
}

// NewListener creates a TCB in LISTEN for a passive open (bind+listen).
func NewListener(cfg Config, local Endpoint) *TCB {
	t := newTCB(cfg, local, Endpoint{}, 0)
	t.State = Listen
	return t
}

// Fork creates a new TCB for an incoming SYN on a listening socket,
// entering SynRcvd after the caller sends SYN+ACK
// "fork from the listening socket" rule.
func Fork(cfg Config, local, peer Endpoint, iss, irs ring.Seq) *TCB {
	t := newTCB(cfg, local, peer, iss)
	t.Nxt = iss.Add(1) // the SYN+ACK's SYN occupies sequence number iss
	t.InitReceiver(irs)
	t.State = SynRcvd
	t.SendSub = SendOpening
	t.RecvSub = RecvOpening
	return t
}

func newTCB(cfg Config, local, peer Endpoint, iss ring.Seq) *TCB {
	return &TCB{
		Cfg:          cfg,
		Local:        local,
		Peer:         peer,
		ISS:          iss,
		UNA:          iss,
		Nxt:          iss,
		NextBufferSeq: iss,
		SendBuf:      ring.New(cfg.TxCap, iss.Add(1)),
		Cwnd:         uint32(cfg.MSS4),
		Ssthresh:     1 << 30,
		SlowStart:    true,
		CCEnabled:    true,
		RTO:          cfg.InitialRTO,
	}
}

// SendWindowLimit returns min(una+wnd, una+cwnd), the ceiling // names for how far Nxt may advance.
func (t *TCB) SendWindowLimit() ring.Seq {
	byWnd := t.UNA.Add(int(t.Wnd))
	if !t.CCEnabled {
		return byWnd
	}
	byCwnd := t.UNA.Add(int(t.Cwnd))
	if byCwnd.LessThan(byWnd) {
		return byCwnd
	}
	return byWnd
}

// InFlight reports unacknowledged-but-sent bytes, una..nxt.
func (t *TCB) InFlight() int {
	return t.UNA.Size(t.Nxt)
}

// InitReceiver sets up the receive buffer once irs is known (SYN_SENT ->
// ESTABLISHED, or a fresh Fork which sets IRS directly).
func (t *TCB) InitReceiver(irs ring.Seq) {
	t.IRS = irs
	t.RcvNxt = irs.Add(1)
	t.RecvBuf = ring.New(t.Cfg.RxCap, irs.Add(1))
}
