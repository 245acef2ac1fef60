// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package timer implements the scheduled-token wheel the context uses to
// drive every retransmit, lifetime, and protocol timer. It has no relation
// to wall-clock time: the owning context advances it by handing it the
// current simulated time on every Advance call, keeping the discrete-event
// clock itself outside this package's concern (see DESIGN.md).
package timer

import (
	"container/heap"
	"time"
)

// Token identifies a scheduled timer. Tokens are compared by value, so any
// comparable type works; the context defines one concrete token type per
// timer class (NeighborSolicitationRetransmit, TCPRetransmit, ARPRetry,
// etc.) as enumerates.
type Token interface{}

type entry struct {
	token    Token
	deadline time.Time
	index    int // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a min-heap of (token, deadline) pairs keyed by token identity.
// It is not safe for concurrent use; callers run under the single-threaded
// per-node context.
type Wheel struct {
	byToken map[Token]*entry
	h       entryHeap
}

// New returns an empty Wheel.
func New() *Wheel {
	return &Wheel{byToken: make(map[Token]*entry)}
}

// Schedule arms token to expire at deadline. If token is already armed, its
// deadline is unconditionally replaced (re-arming is idempotent).
func (w *Wheel) Schedule(token Token, deadline time.Time) {
	if e, ok := w.byToken[token]; ok {
		e.deadline = deadline
		heap.Fix(&w.h, e.index)
		return
	}
	e := &entry{token: token, deadline: deadline}
	w.byToken[token] = e
	heap.Push(&w.h, e)
}

// Cancel removes token if armed. Canceling an unarmed token is a no-op.
func (w *Wheel) Cancel(token Token) {
	e, ok := w.byToken[token]
	if !ok {
		return
	}
	heap.Remove(&w.h, e.index)
	delete(w.byToken, token)
}

// Reschedule is an alias for Schedule provided for call-site clarity at
// re-arm points.
func (w *Wheel) Reschedule(token Token, deadline time.Time) {
	w.Schedule(token, deadline)
}

// Active reports whether token is currently armed.
func (w *Wheel) Active(token Token) bool {
	_, ok := w.byToken[token]
	return ok
}

// Deadline returns the armed deadline for token, if any.
func (w *Wheel) Deadline(token Token) (time.Time, bool) {
	e, ok := w.byToken[token]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Len reports the number of armed tokens.
func (w *Wheel) Len() int { return len(w.h) }

// NextDeadline returns the earliest armed deadline, if any. The caller
// (the discrete-event simulator, out of scope here) uses it to know when
// to next call Advance.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	if len(w.h) == 0 {
		return time.Time{}, false
	}
	return w.h[0].deadline, true
}

// Advance pops every token whose deadline is at or before now, in deadline
// order, and invokes fire for each. Timers at equal deadlines fire in an
// unspecified relative order among themselves; fire must not schedule new
// timers with earlier-than-now deadlines in a way that depends on delivery
// order across this call, but it may freely call back into Schedule/Cancel
// for other tokens.
func (w *Wheel) Advance(now time.Time, fire func(Token)) {
	for len(w.h) > 0 && !w.h[0].deadline.After(now) {
		e := heap.Pop(&w.h).(*entry)
		delete(w.byToken, e.token)
		fire(e.token)
	}
}
