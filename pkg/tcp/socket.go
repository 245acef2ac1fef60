// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tcp

import (
	"time"

	"go.fuchsia.dev/netsim/pkg/nerrors"
)

// Waiter is a one-shot completion for a blocked syscall, fulfilled by the
// owning context when the TCB produces the matching Notify effect. The
// shape mirrors iface.Waiter: register, yield on Ready, read Err.
type Waiter struct {
	Ready chan struct{}
	Err   error
}

func newWaiter() *Waiter { return &Waiter{Ready: make(chan struct{})} }

func (w *Waiter) fulfill(err error) {
	w.Err = err
	close(w.Ready)
}

// Socket is the syscall-facing handle onto one TCB: a listening socket
// wraps a LISTEN TCB and also keeps an accept backlog. Close is the only
// method that returns effects for the owning context to apply; the others
// return a Waiter the caller can block on where one is needed.
type Socket struct {
	TCB *TCB

	// Listener-only state.
	backlog    int
	acceptQ    []*TCB
	acceptWait []*Waiter

	connectWait []*Waiter
	readWait    []*Waiter
	writeWait   []*Waiter
}

// NewSocket wraps an already-constructed TCB (from NewActive or Fork).
func NewSocket(t *TCB) *Socket { return &Socket{TCB: t} }

// NewListenSocket wraps a LISTEN TCB with its accept backlog depth.
func NewListenSocket(t *TCB, backlog int) *Socket {
	return &Socket{TCB: t, backlog: backlog}
}

// Connect registers a waiter fulfilled once the handshake completes (or
// fails); the caller is expected to have already sent the initial SYN via
// TCB.InitialSyn's effects.
func (s *Socket) Connect() *Waiter {
	w := newWaiter()
	s.connectWait = append(s.connectWait, w)
	return w
}

// OnEstablish fulfills every pending connect waiter, called by the context
// when it observes a NotifyEstablish effect.
func (s *Socket) OnEstablish(err error) {
	for _, w := range s.connectWait {
		w.fulfill(err)
	}
	s.connectWait = nil
}

// Accept pops a completed child connection off the backlog, or registers a
// waiter if the backlog is currently empty.
func (s *Socket) Accept() (*TCB, *Waiter) {
	if len(s.acceptQ) > 0 {
		child := s.acceptQ[0]
		s.acceptQ = s.acceptQ[1:]
		return child, nil
	}
	w := newWaiter()
	s.acceptWait = append(s.acceptWait, w)
	return nil, w
}

// Deliver hands a newly established child connection to this listening
// socket, filling the oldest accept waiter if one is pending, else queuing
// it up to backlog depth. Reports whether the child was accepted (false
// means the backlog was full and the caller should RST it).
func (s *Socket) Deliver(child *TCB) bool {
	if len(s.acceptWait) > 0 {
		w := s.acceptWait[0]
		s.acceptWait = s.acceptWait[1:]
		s.acceptQ = append(s.acceptQ, child)
		w.fulfill(nil)
		return true
	}
	if len(s.acceptQ) >= s.backlog {
		return false
	}
	s.acceptQ = append(s.acceptQ, child)
	return true
}

// Read copies up to len(p) bytes out of the receive buffer without
// blocking, returning (0, waiter) if none are yet available and the
// connection has not yet reached EOF (FIN/RST).
func (s *Socket) Read(p []byte) (int, *Waiter, error) {
	if s.TCB == nil {
		return 0, nil, nerrors.New("read", nerrors.NotConnected)
	}
	n := s.TCB.RecvBuf.Read(p)
	if n > 0 {
		return n, nil, nil
	}
	if s.eof() {
		return 0, nil, nil
	}
	if s.TCB.Err != nil {
		return 0, nil, s.TCB.Err
	}
	w := newWaiter()
	s.readWait = append(s.readWait, w)
	return 0, w, nil
}

func (s *Socket) eof() bool {
	switch s.TCB.State {
	case CloseWait, LastAck, Closed, TimeWait:
		return s.TCB.FinSeq != nil && s.TCB.RecvBuf.LenContinuous() == 0
	}
	return false
}

// OnReadable wakes every pending reader; the caller retries Read after
// this fires.
func (s *Socket) OnReadable() {
	for _, w := range s.readWait {
		w.fulfill(nil)
	}
	s.readWait = nil
}

// Write appends up to len(p) bytes to the send buffer without blocking,
// returning the count accepted and a waiter for the remainder if the
// buffer is full.
func (s *Socket) Write(p []byte) (int, *Waiter) {
	n := s.TCB.SendBuf.Append(p)
	if n == len(p) {
		return n, nil
	}
	w := newWaiter()
	s.writeWait = append(s.writeWait, w)
	return n, w
}

// OnWritable wakes every pending writer.
func (s *Socket) OnWritable() {
	for _, w := range s.writeWait {
		w.fulfill(nil)
	}
	s.writeWait = nil
}

// OnClosed wakes every pending waiter of every kind with err, used on
// RST/timeout/local close so no caller blocks forever.
func (s *Socket) OnClosed(err error) {
	for _, w := range s.connectWait {
		w.fulfill(err)
	}
	for _, w := range s.acceptWait {
		w.fulfill(err)
	}
	for _, w := range s.readWait {
		w.fulfill(err)
	}
	for _, w := range s.writeWait {
		w.fulfill(err)
	}
	s.connectWait, s.acceptWait, s.readWait, s.writeWait = nil, nil, nil, nil
}

// Close begins (or completes) an orderly close; see
// TCB.Close for the state-machine half.
func (s *Socket) Close(now time.Time) []Effect {
	if s.TCB == nil {
		return nil
	}
	return s.TCB.Close(now)
}
