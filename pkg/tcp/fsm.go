// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tcp

import (
	"time"

	"go.fuchsia.dev/netsim/pkg/ring"
	"go.fuchsia.dev/netsim/pkg/tcpseg"
)

const dupAckThreshold = 3

// acceptable reports whether seg's sequence range overlaps the receive
// window, per RFC 9293 §3.4's four-case test. A segment that carries no
// payload is acceptable if its sequence number simply falls in [rcvNxt,
// rcvNxt+rcvWnd).
func (t *TCB) acceptable(seg tcpseg.Segment) bool {
	segLen := len(seg.Payload)
	if seg.Flags.Has(tcpseg.FlagSYN) || seg.Flags.Has(tcpseg.FlagFIN) {
		segLen++
	}
	t.RcvWnd = uint32(t.recvWindow())
	if t.RcvWnd == 0 {
		return segLen == 0 && seg.Seq == t.RcvNxt
	}
	wndEnd := t.RcvNxt.Add(int(t.RcvWnd))
	if segLen == 0 {
		return t.RcvNxt.LessThanEq(seg.Seq) && seg.Seq.LessThan(wndEnd)
	}
	last := seg.Seq.Add(segLen - 1)
	return (t.RcvNxt.LessThanEq(seg.Seq) && seg.Seq.LessThan(wndEnd)) ||
		(t.RcvNxt.LessThanEq(last) && last.LessThan(wndEnd))
}

// HandleSegment processes one inbound segment against the TCB's current
// state and returns the effects the owning context must apply. now drives
// RTT sampling and timer deadlines.
func (t *TCB) HandleSegment(seg tcpseg.Segment, now time.Time) []Effect {
	if t.State == Closed {
		return nil
	}

	if t.State != Listen && seg.Flags.Has(tcpseg.FlagACK) {
		t.Wnd = uint32(seg.Window)
	}

	if t.State == Listen {
		return t.handleListen(seg, now)
	}

	if t.State == SynSent {
		return t.handleSynSent(seg, now)
	}

	if seg.Flags.Has(tcpseg.FlagRST) {
		return t.handleReset()
	}

	if !t.acceptable(seg) {
		if !seg.Flags.Has(tcpseg.FlagRST) {
			return []Effect{t.mkAck(now)}
		}
		return nil
	}

	if seg.Flags.Has(tcpseg.FlagSYN) {
		// A SYN inside the window after the handshake is an RFC 9293
		// §3.5.3 reset condition.
		return append(t.handleReset(), t.mkRST(seg))
	}

	if !seg.Flags.Has(tcpseg.FlagACK) {
		return nil
	}

	var eff []Effect
	eff = append(eff, t.processAck(seg, now)...)
	eff = append(eff, t.processData(seg, now)...)
	if seg.Flags.Has(tcpseg.FlagFIN) {
		eff = append(eff, t.processFin(now)...)
	}
	return eff
}

func (t *TCB) handleListen(seg tcpseg.Segment, now time.Time) []Effect {
	if seg.Flags.Has(tcpseg.FlagRST) {
		return nil
	}
	if seg.Flags.Has(tcpseg.FlagACK) {
		return []Effect{t.mkRSTFor(seg)}
	}
	if !seg.Flags.Has(tcpseg.FlagSYN) {
		return nil
	}
	// Listener itself does not transition; the owning context forks a
	// child TCB via Fork and sends that child's SYN+ACK. Signal this by
	// returning no effects here: the fork happens one layer up where the
	// new peer Endpoint is known.
	return nil
}

func (t *TCB) handleSynSent(seg tcpseg.Segment, now time.Time) []Effect {
	if seg.Flags.Has(tcpseg.FlagACK) {
		if seg.Ack.LessThanEq(t.ISS) || t.Nxt.LessThan(seg.Ack) {
			if !seg.Flags.Has(tcpseg.FlagRST) {
				return []Effect{t.mkRSTFor(seg)}
			}
			return nil
		}
	}
	if seg.Flags.Has(tcpseg.FlagRST) {
		if seg.Flags.Has(tcpseg.FlagACK) {
			return t.handleReset()
		}
		return nil
	}
	if !seg.Flags.Has(tcpseg.FlagSYN) {
		return nil
	}

	t.InitReceiver(seg.Seq)
	if seg.MSS != 0 {
		t.MSS = seg.MSS
	}

	if seg.Flags.Has(tcpseg.FlagACK) {
		t.UNA = seg.Ack
		t.sampleRTT(seg.Ack, now)
		t.State = Established
		t.SendSub = SendEstablished
		t.RecvSub = RecvEstablished
		return []Effect{t.mkAck(now), NotifyEstablish{}}
	}

	// Simultaneous open: both sides sent SYN. Reply SYN+ACK and wait in
	// SynRcvd for the final ACK.
	t.State = SynRcvd
	return []Effect{t.mkSynAck(now)}
}

func (t *TCB) handleReset() []Effect {
	wasEstablished := t.State == Established || t.State == FinWait1 || t.State == FinWait2 || t.State == CloseWait
	t.State = Closed
	t.SendSub = SendClosed
	t.RecvSub = RecvClosed
	var err error
	if wasEstablished {
		err = resetErr
	}
	t.Err = err
	return []Effect{
		CancelRetransmit{ConnID: t.ID},
		NotifyClosed{Err: err},
	}
}

// processAck advances una on a valid ACK, updates congestion control and
// RTT estimation, and runs duplicate-ACK/fast-retransmit accounting.
func (t *TCB) processAck(seg tcpseg.Segment, now time.Time) []Effect {
	var eff []Effect

	switch t.State {
	case SynRcvd:
		if t.UNA.LessThan(seg.Ack) && seg.Ack.LessThanEq(t.Nxt) {
			t.UNA = seg.Ack
			t.State = Established
			t.SendSub = SendEstablished
			t.RecvSub = RecvEstablished
			eff = append(eff, NotifyEstablish{})
		}
	case FinWait1:
		if t.ClosedAt != nil && seg.Ack == *t.ClosedAt {
			t.State = FinWait2
			t.SendSub = SendClosed
		}
	case Closing:
		if t.ClosedAt != nil && seg.Ack == *t.ClosedAt {
			t.State = TimeWait
			eff = append(eff, ArmTimeWait{ConnID: t.ID, Deadline: now.Add(t.Cfg.TimeWaitLength)})
		}
	case LastAck:
		if t.ClosedAt != nil && seg.Ack == *t.ClosedAt {
			t.State = Closed
			eff = append(eff, NotifyClosed{})
		}
	}

	if seg.Ack.LessThanEq(t.UNA) {
		if seg.Ack == t.UNA && len(seg.Payload) == 0 && !seg.Flags.Has(tcpseg.FlagFIN) && t.UNA.LessThan(t.Nxt) {
			t.DupAckCounter++
			if t.DupAckCounter == dupAckThreshold {
				t.onFastRetransmit()
				t.Nxt = t.UNA
				eff = append(eff, t.mkDataFrom(t.UNA, now))
			}
		}
		return eff
	}

	if t.Nxt.LessThan(seg.Ack) {
		// ACKs something never sent; ignore per RFC 9293 (outside
		// SynRcvd/SynSent handled above, which already reset/dropped).
		return eff
	}

	acked := t.UNA.Size(seg.Ack)
	t.DupAckCounter = 0
	t.onNewAck(acked)
	t.sampleRTT(seg.Ack, now)
	t.UNA = seg.Ack
	t.SendBuf.Free(acked)
	if t.UNA == t.Nxt {
		eff = append(eff, CancelRetransmit{ConnID: t.ID})
	} else {
		eff = append(eff, ArmRetransmit{ConnID: t.ID, Deadline: now.Add(t.RTO)})
	}
	eff = append(eff, NotifyWritable{})
	return eff
}

// processData writes acceptable payload bytes into the receive buffer and
// advances rcvNxt over the contiguous run, ACKing the result.
func (t *TCB) processData(seg tcpseg.Segment, now time.Time) []Effect {
	if len(seg.Payload) == 0 {
		return nil
	}
	t.RecvBuf.WriteAt(seg.Payload, seg.Seq)
	newNxt := t.RecvBuf.Base().Add(t.RecvBuf.LenContinuous())
	advanced := t.RcvNxt != newNxt
	t.RcvNxt = newNxt
	eff := []Effect{t.mkAck(now)}
	if advanced {
		eff = append(eff, NotifyReadable{})
	}
	return eff
}

// processFin handles an inbound FIN: advances rcvNxt past it, ACKs, and
// drives the receive-side state machine per RFC 9293 §3.5.
func (t *TCB) processFin(now time.Time) []Effect {
	seen := t.RcvNxt
	t.FinSeq = &seen
	t.RcvNxt = t.RcvNxt.Add(1)
	eff := []Effect{t.mkAck(now), NotifyReadable{}}

	switch t.State {
	case Established:
		t.State = CloseWait
		t.RecvSub = RecvClosed
	case FinWait1:
		t.State = Closing
	case FinWait2:
		t.State = TimeWait
		eff = append(eff, ArmTimeWait{ConnID: t.ID, Deadline: now.Add(t.Cfg.TimeWaitLength)})
	}
	return eff
}

// RetransmitTimeout is called when the timer wheel fires this TCB's
// retransmission token: it collapses the congestion window, rewinds Nxt
// to una, and re-sends from there, or gives up past MaxRetransmits.
func (t *TCB) RetransmitTimeout(now time.Time, attempt int) []Effect {
	if attempt > t.Cfg.MaxRetransmits {
		t.State = Closed
		t.Err = timeoutErr
		return []Effect{NotifyClosed{Err: timeoutErr}}
	}
	t.onRetransmitTimeout()
	t.RTO *= 2
	eff := []Effect{t.mkDataFrom(t.UNA, now), ArmRetransmit{ConnID: t.ID, Deadline: now.Add(t.RTO)}}
	return eff
}

// Close begins an active close: if there is no unsent data, send FIN now;
// otherwise mark SendWaitForStream and let the send path emit FIN once the
// buffer drains.
func (t *TCB) Close(now time.Time) []Effect {
	switch t.State {
	case Listen, SynSent:
		t.State = Closed
		return []Effect{NotifyClosed{}}
	case CloseWait:
		return t.sendFin(now, LastAck)
	case Established:
		return t.sendFin(now, FinWait1)
	}
	return nil
}

func (t *TCB) sendFin(now time.Time, next State) []Effect {
	finSeq := t.Nxt
	finAck := finSeq.Add(1)
	t.ClosedAt = &finAck
	seg := tcpseg.Segment{
		SrcPort: t.Local.Port,
		DstPort: t.Peer.Port,
		Seq:     t.Nxt,
		Ack:     t.RcvNxt,
		Flags:   tcpseg.FlagFIN | tcpseg.FlagACK,
		Window:  t.recvWindow(),
	}
	t.Nxt = t.Nxt.Add(1)
	t.State = next
	t.SendSub = SendClosing
	fin := finSeq
	t.armRTTProbe(fin, now)
	return []Effect{
		SendSegment{Local: t.Local, Peer: t.Peer, Seg: seg},
		ArmRetransmit{ConnID: t.ID, Deadline: now.Add(t.RTO)},
	}
}

func (t *TCB) recvWindow() uint16 {
	avail := t.RecvBuf.Avail()
	if avail > 0xffff {
		return 0xffff
	}
	return uint16(avail)
}

func (t *TCB) mkAck(now time.Time) Effect {
	return SendSegment{
		Local: t.Local,
		Peer:  t.Peer,
		Seg: tcpseg.Segment{
			SrcPort: t.Local.Port,
			DstPort: t.Peer.Port,
			Seq:     t.Nxt,
			Ack:     t.RcvNxt,
			Flags:   tcpseg.FlagACK,
			Window:  t.recvWindow(),
		},
	}
}

// InitialSyn emits the first segment of an active open, for the owning
// context to send right after NewActive constructs the SYN_SENT TCB.
func (t *TCB) InitialSyn(now time.Time) []Effect {
	return []Effect{SendSegment{
		Local: t.Local,
		Peer:  t.Peer,
		Seg: tcpseg.Segment{
			SrcPort: t.Local.Port,
			DstPort: t.Peer.Port,
			Seq:     t.ISS,
			Flags:   tcpseg.FlagSYN,
			Window:  t.recvWindow(),
			MSS:     t.Cfg.MSS4,
		},
	}}
}

// AcceptSyn emits the SYN+ACK for a child TCB the owning context just
// forked off a listening socket's incoming SYN. The fork happens one layer
// up from here, since the new peer Endpoint is only known to the context.
func (t *TCB) AcceptSyn(now time.Time) []Effect {
	return []Effect{t.mkSynAck(now)}
}

// PushSend drains newly buffered bytes onto the wire, one segment of at
// most MSS bytes at a time, up to whatever SendWindowLimit currently
// allows. The owning context calls this after an application Write so data
// moves without waiting for an unrelated ACK to trigger it.
func (t *TCB) PushSend(now time.Time) []Effect {
	if t.SendSub != SendEstablished {
		return nil
	}
	var eff []Effect
	limit := t.SendWindowLimit()
	end := t.UNA.Add(t.SendBuf.Len())
	mss := int(t.MSS)
	if mss == 0 {
		mss = int(t.Cfg.MSS4)
	}
	for t.Nxt.LessThan(limit) && t.Nxt.LessThan(end) {
		chunk := limit.Size(t.Nxt)
		if rem := end.Size(t.Nxt); rem < chunk {
			chunk = rem
		}
		if chunk > mss {
			chunk = mss
		}
		if chunk <= 0 {
			break
		}
		buf := make([]byte, chunk)
		n := t.SendBuf.PeekAt(buf, t.Nxt)
		if n == 0 {
			break
		}
		seg := tcpseg.Segment{
			SrcPort: t.Local.Port,
			DstPort: t.Peer.Port,
			Seq:     t.Nxt,
			Ack:     t.RcvNxt,
			Flags:   tcpseg.FlagACK,
			Window:  t.recvWindow(),
			Payload: buf[:n],
		}
		eff = append(eff, SendSegment{Local: t.Local, Peer: t.Peer, Seg: seg})
		t.armRTTProbe(t.Nxt, now)
		t.Nxt = t.Nxt.Add(n)
	}
	if len(eff) > 0 {
		eff = append(eff, ArmRetransmit{ConnID: t.ID, Deadline: now.Add(t.RTO)})
	}
	return eff
}

func (t *TCB) mkSynAck(now time.Time) Effect {
	return SendSegment{
		Local: t.Local,
		Peer:  t.Peer,
		Seg: tcpseg.Segment{
			SrcPort: t.Local.Port,
			DstPort: t.Peer.Port,
			Seq:     t.ISS,
			Ack:     t.RcvNxt,
			Flags:   tcpseg.FlagSYN | tcpseg.FlagACK,
			Window:  t.recvWindow(),
			MSS:     t.Cfg.MSS4,
		},
	}
}

func (t *TCB) mkRST(seg tcpseg.Segment) Effect {
	return SendSegment{
		Local: t.Local,
		Peer:  t.Peer,
		Seg: tcpseg.Segment{
			SrcPort: t.Local.Port,
			DstPort: t.Peer.Port,
			Seq:     seg.Ack,
			Flags:   tcpseg.FlagRST,
		},
	}
}

// mkRSTFor builds a RST addressed back at an unsolicited segment, used in
// LISTEN/SYN_SENT where no TCB-local send state applies yet.
func (t *TCB) mkRSTFor(seg tcpseg.Segment) Effect {
	s := tcpseg.Segment{SrcPort: seg.DstPort, DstPort: seg.SrcPort}
	if seg.Flags.Has(tcpseg.FlagACK) {
		s.Seq = seg.Ack
		s.Flags = tcpseg.FlagRST
	} else {
		s.Ack = seg.Seq.Add(len(seg.Payload) + 1)
		s.Flags = tcpseg.FlagRST | tcpseg.FlagACK
	}
	return SendSegment{Local: t.Local, Peer: t.Peer, Seg: s}
}

// mkDataFrom builds a retransmission starting at from, of at most one MSS,
// for use on fast retransmit and RTO expiry.
func (t *TCB) mkDataFrom(from ring.Seq, now time.Time) Effect {
	mss := int(t.MSS)
	if mss == 0 {
		mss = int(t.Cfg.MSS4)
	}
	buf := make([]byte, mss)
	n := t.SendBuf.PeekAt(buf, from)
	flags := tcpseg.FlagACK
	if n == 0 && t.ClosedAt != nil && from.Add(1) == *t.ClosedAt {
		flags |= tcpseg.FlagFIN
	}
	t.armRTTProbe(from, now)
	return SendSegment{
		Local: t.Local,
		Peer:  t.Peer,
		Seg: tcpseg.Segment{
			SrcPort: t.Local.Port,
			DstPort: t.Peer.Port,
			Seq:     from,
			Ack:     t.RcvNxt,
			Flags:   flags,
			Window:  t.recvWindow(),
			Payload: buf[:n],
		},
	}
}
