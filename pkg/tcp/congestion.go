// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tcp

// onNewAck applies Reno congestion control to a fresh ACK that advanced
// una by ackedBytes: slow start adds one MSS per ACK
// while cwnd < ssthresh; congestion avoidance otherwise adds one MSS per
// window's worth of bytes acked.
func (t *TCB) onNewAck(ackedBytes int) {
	if !t.CCEnabled {
		return
	}
	mss := uint32(t.MSS)
	if mss == 0 {
		mss = uint32(t.Cfg.MSS4)
	}
	if t.Cwnd < t.Ssthresh {
		t.Cwnd += mss
		if t.Cwnd >= t.Ssthresh {
			t.SlowStart = false
		}
		return
	}
	t.SlowStart = false
	t.AvoidCounter -= int64(ackedBytes)
	if t.AvoidCounter <= 0 {
		t.Cwnd += mss
		sendWindow := t.Wnd
		if t.Cwnd > sendWindow {
			t.Cwnd = sendWindow
		}
		t.AvoidCounter = int64(t.Cwnd)
	}
}

// onRetransmitTimeout collapses cwnd per Reno on an RTO: halve cwnd to at
// least one MSS, and set ssthresh to the new cwnd.
func (t *TCB) onRetransmitTimeout() {
	mss := uint32(t.MSS)
	if mss == 0 {
		mss = uint32(t.Cfg.MSS4)
	}
	t.Cwnd /= 2
	if t.Cwnd < mss {
		t.Cwnd = mss
	}
	t.Ssthresh = t.Cwnd
	t.SlowStart = t.Cwnd < t.Ssthresh
	t.Nxt = t.UNA
}

// onFastRetransmit is the congestion-control half of the third-duplicate-
// ACK trigger: ssthresh and cwnd are both set to half of cwnd, floored at
// one MSS, the same reduction onRetransmitTimeout applies. Reno fast
// recovery's window inflate/deflate is not implemented.
func (t *TCB) onFastRetransmit() {
	mss := uint32(t.MSS)
	if mss == 0 {
		mss = uint32(t.Cfg.MSS4)
	}
	half := t.Cwnd / 2
	if half < mss {
		half = mss
	}
	t.Ssthresh = half
	t.Cwnd = half
	t.SlowStart = false
}
