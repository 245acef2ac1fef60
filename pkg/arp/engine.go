// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package arp

import (
	"net"
	"time"

	"go.fuchsia.dev/netsim/pkg/iface"
)

// Effect is one side effect the engine asks the owning context to perform.
// Expressing transitions as (state, event) -> (state, []Effect) keeps the
// engine a pure function testable without a live interface or clock.
type Effect interface{ isEffect() }

// SendRequest asks the context to broadcast an ARP request for IP via
// Iface.
type SendRequest struct {
	Iface iface.ID
	IP    net.IP
}

// SendReply asks the context to unicast an ARP reply to Dst via Iface.
type SendReply struct {
	Iface iface.ID
	Dst   net.HardwareAddr
	Reply Packet
}

// ArmRetry (re)arms the per-destination ARP retry timer.
type ArmRetry struct {
	IP       net.IP
	Deadline time.Time
}

// CancelRetry cancels a previously armed retry timer for IP.
type CancelRetry struct{ IP net.IP }

// Release hands queued packets back to the IP layer now that MAC is known.
type Release struct {
	Iface   iface.ID
	MAC     net.HardwareAddr
	Packets [][]byte
}

// Fail hands queued packets back to the IP layer as host-unreachable.
type Fail struct {
	Iface   iface.ID
	Packets [][]byte
}

func (SendRequest) isEffect()  {}
func (SendReply) isEffect()    {}
func (ArmRetry) isEffect()     {}
func (CancelRetry) isEffect()  {}
func (Release) isEffect()      {}
func (Fail) isEffect()         {}

// LocalAddress reports whether ip is assigned to ifc, so the engine can
// decide whether to answer an incoming request. The context supplies this
// as a closure over its interface arena.
type LocalAddress func(ifc iface.ID, ip net.IP) (net.HardwareAddr, bool)

// Engine drives a Table's request/response processing.
type Engine struct {
	Table *Table
	Local LocalAddress
}

// NewEngine builds an Engine over t.
func NewEngine(t *Table, local LocalAddress) *Engine {
	return &Engine{Table: t, Local: local}
}

// HandleInbound processes one received ARP packet arriving on ifc.
func (e *Engine) HandleInbound(ifc iface.ID, p Packet, now time.Time) []Effect {
	var effects []Effect
	switch p.Op {
	case OpRequest:
		// Install/refresh the sender mapping regardless of whether
		// the request is for us.
		pkts := e.Table.installPositive(p.SenderIP, p.SenderMAC, ifc, now)
		if len(pkts) > 0 {
			effects = append(effects, Release{Iface: ifc, MAC: p.SenderMAC, Packets: pkts}, CancelRetry{IP: p.SenderIP})
		}
		if mac, ok := e.Local(ifc, p.TargetIP); ok {
			effects = append(effects, SendReply{
				Iface: ifc,
				Dst:   p.SenderMAC,
				Reply: Packet{
					Op:        OpReply,
					SenderMAC: mac,
					SenderIP:  p.TargetIP,
					TargetMAC: p.SenderMAC,
					TargetIP:  p.SenderIP,
				},
			})
		}
	case OpReply:
		pkts := e.Table.installPositive(p.SenderIP, p.SenderMAC, ifc, now)
		effects = append(effects, CancelRetry{IP: p.SenderIP})
		if len(pkts) > 0 {
			effects = append(effects, Release{Iface: ifc, MAC: p.SenderMAC, Packets: pkts})
		}
	}
	return effects
}

// Send attempts a local transmission to dst over ifc. If dst is already
// resolved, it returns the MAC directly (ok=true) for the caller to emit
// immediately. Otherwise the packet is queued and the effects describe the
// solicitation/timer to arm.
func (e *Engine) Send(ifc iface.ID, dst net.IP, pkt []byte, now time.Time) (mac net.HardwareAddr, ok bool, effects []Effect) {
	if mac, ok := e.Table.Lookup(dst, now); ok {
		return mac, true, nil
	}
	start := e.Table.Enqueue(dst, ifc, pkt, now)
	if start {
		effects = append(effects,
			SendRequest{Iface: ifc, IP: dst},
			ArmRetry{IP: dst, Deadline: now.Add(e.Table.cfg.Timeout)},
		)
	}
	return nil, false, effects
}

// HandleTimeout processes a retry-timer expiry for dst.
func (e *Engine) HandleTimeout(dst net.IP, now time.Time) []Effect {
	res := e.Table.Timeout(dst, now)
	if res.Iface == 0 && len(res.Failed) == 0 && !res.Retry {
		return nil
	}
	if res.Retry {
		return []Effect{
			SendRequest{Iface: res.Iface, IP: dst},
			ArmRetry{IP: dst, Deadline: now.Add(e.Table.cfg.Timeout)},
		}
	}
	return []Effect{Fail{Iface: res.Iface, Packets: res.Failed}}
}
