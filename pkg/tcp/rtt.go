// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tcp

import (
	"time"

	"go.fuchsia.dev/netsim/pkg/ring"
)

// armRTTProbe marks seq as the sequence number whose acknowledgment will
// be timed for RTT sampling, if no probe is already outstanding (Karn's
// algorithm: only one unambiguous sample in flight at a time).
func (t *TCB) armRTTProbe(seq ring.Seq, now time.Time) {
	if t.RTTProbeSeq != nil {
		return
	}
	s := seq
	t.RTTProbeSeq = &s
	t.RTTProbeTime = now
}

// sampleRTT updates srtt/rttvar/rto per Jacobson/Karn (RFC 6298) if
// ackNo covers the outstanding RTT probe, then clears the probe so a new
// one can be armed for the next unambiguous segment.
func (t *TCB) sampleRTT(ackNo ring.Seq, now time.Time) {
	if t.RTTProbeSeq == nil || ackNo.LessThan(*t.RTTProbeSeq) {
		return
	}
	r := now.Sub(t.RTTProbeTime)
	if t.SRTT == 0 {
		t.SRTT = r
		t.RTTVar = r / 2
	} else {
		diff := t.SRTT - r
		if diff < 0 {
			diff = -diff
		}
		t.RTTVar = t.RTTVar*3/4 + diff/4
		t.SRTT = t.SRTT*7/8 + r/8
	}
	t.RTO = t.SRTT + 4*t.RTTVar
	if t.RTO < t.Cfg.MinRTO {
		t.RTO = t.Cfg.MinRTO
	}
	t.RTTProbeSeq = nil
}
