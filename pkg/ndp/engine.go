// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ndp

import (
	"net"
	"time"

	"go.fuchsia.dev/netsim/pkg/addr"
	"go.fuchsia.dev/netsim/pkg/iface"
)

// Config carries the RFC 4861/4862 tunables, defaulted per the RFCs.
type Config struct {
	MaxRADelayTime          time.Duration
	MaxRtrSolicitationDelay time.Duration
	RetransTimer            time.Duration
	MaxMulticastSolicit     int
	DupAddrDetectTransmits  int
	ReachableTime           time.Duration
	CurHopLimit             uint8
	LinkMTU                 uint32
}

// DefaultConfig returns RFC 4861 §10 / RFC 4862 §5.1 default constants.
func DefaultConfig() Config {
	return Config{
		MaxRADelayTime:          500 * time.Millisecond,
		MaxRtrSolicitationDelay: time.Second,
		RetransTimer:            time.Second,
		MaxMulticastSolicit:     3,
		DupAddrDetectTransmits:  1,
		ReachableTime:           30 * time.Second,
		CurHopLimit:             64,
		LinkMTU:                 1500,
	}
}

// Effect is one side effect the engine asks the context to perform (see
// DESIGN.md on the event-reactor pattern replacing coroutine control
// flow).
type Effect interface{ isEffect() }

type SendNS struct {
	Iface  iface.ID
	Src    net.IP // unspecified for DAD probes
	Dst    net.IP // solicited-node multicast of Target, or unicast on NUD probe
	Target net.IP
}
type SendNA struct {
	Iface                        iface.ID
	Src, Dst, Target             net.IP
	Solicited, Override, Router bool
}
type SendRS struct {
	Iface iface.ID
	Src   net.IP
}
type SendRA struct {
	Iface iface.ID
	Dst   net.IP
}
type ArmTimer struct {
	Token    interface{}
	Deadline time.Time
}
type CancelTimer struct{ Token interface{} }
type JoinMulticast struct {
	Iface iface.ID
	Group net.IP
}
type LeaveMulticast struct {
	Iface iface.ID
	Group net.IP
}
type EmitMLDReport struct {
	Iface iface.ID
	Group net.IP
}
type AssignTentative struct {
	Iface     iface.ID
	Addr      net.IP
	PrefixLen int
}
type PromoteAddress struct {
	Iface                          iface.ID
	Addr                           net.IP
	PreferredLifetime, ValidLifetime time.Duration
}
type RevokeAddress struct {
	Iface iface.ID
	Addr  net.IP
}
type FailQueue struct {
	Iface   iface.ID
	Packets [][]byte
}

func (SendNS) isEffect()           {}
func (SendNA) isEffect()           {}
func (SendRS) isEffect()           {}
func (SendRA) isEffect()           {}
func (ArmTimer) isEffect()         {}
func (CancelTimer) isEffect()      {}
func (JoinMulticast) isEffect()    {}
func (LeaveMulticast) isEffect()   {}
func (EmitMLDReport) isEffect()    {}
func (AssignTentative) isEffect()  {}
func (PromoteAddress) isEffect()   {}
func (RevokeAddress) isEffect()    {}
func (FailQueue) isEffect()        {}

// RandDelay returns a uniform random duration in [0, max); injectable so
// tests can make scheduling deterministic.
type RandDelay func(max time.Duration) time.Duration

// Engine drives neighbor discovery for every interface of one node.
type Engine struct {
	Cfg     Config
	Cache   *Cache
	DAD     *DADTracker
	Prefix  map[iface.ID]*PrefixTable
	Routers map[iface.ID]*DefaultRouterList
	Rand    RandDelay

	// raPending tracks whether a coalesced solicited RA is already
	// scheduled for an interface, so concurrent RSes produce only one
	// RA
	raPending map[iface.ID]bool
}

// NewEngine builds an Engine with cfg.
func NewEngine(cfg Config, rnd RandDelay) *Engine {
	return &Engine{
		Cfg:       cfg,
		Cache:     NewCache(),
		DAD:       NewDADTracker(),
		Prefix:    make(map[iface.ID]*PrefixTable),
		Routers:   make(map[iface.ID]*DefaultRouterList),
		Rand:      rnd,
		raPending: make(map[iface.ID]bool),
	}
}

func (e *Engine) prefixTable(ifc iface.ID) *PrefixTable {
	t, ok := e.Prefix[ifc]
	if !ok {
		t = NewPrefixTable()
		e.Prefix[ifc] = t
	}
	return t
}

func (e *Engine) routerList(ifc iface.ID) *DefaultRouterList {
	l, ok := e.Routers[ifc]
	if !ok {
		l = NewDefaultRouterList()
		e.Routers[ifc] = l
	}
	return l
}

// InterfaceUp starts host-role behavior for a freshly initialized
// interface: send a Router Solicitation to ff02::2, without delay, from the
// link-local address if one is already assigned and from the unspecified
// address otherwise. It joins no multicast group; the solicited-node join,
// delayed by up to MaxRtrSolicitationDelay, happens in StartSLAAC.
func (e *Engine) InterfaceUp(ifc *iface.Interface, now time.Time) []Effect {
	var src net.IP = net.IPv6unspecified
	for _, a := range ifc.AssignedV6() {
		if addr.ScopeOf(a.IP) == addr.ScopeLinkLocal {
			src = a.IP
			break
		}
	}
	return []Effect{SendRS{Iface: ifc.ID, Src: src}}
}

// StartSLAAC begins Duplicate Address Detection for the autonomous address
// derived from prefix on ifc. It embeds ifc's MAC into the low 64 bits
// (see addr.EUI64) to form the candidate and is a no-op if that address
// is already assigned (idempotent DAD).
func (e *Engine) StartSLAAC(ifc *iface.Interface, prefix net.IP, prefixLen int, now time.Time) []Effect {
	if prefixLen > 64 {
		return nil // SLAAC requires a /64 or shorter on-link prefix
	}
	candidate := addr.EUI64(prefix, ifc.MAC)
	if e.DAD.Start(candidate, ifc) == nil {
		return nil
	}
	group := addr.SolicitedNodeMulticast(candidate)
	var effects []Effect
	effects = append(effects, AssignTentative{Iface: ifc.ID, Addr: candidate, PrefixLen: prefixLen})
	delay := e.Rand(e.Cfg.MaxRtrSolicitationDelay)
	if delay <= 0 {
		effects = append(effects, JoinMulticast{Iface: ifc.ID, Group: group})
		effects = append(effects, e.emitDADProbe(ifc.ID, candidate, now)...)
	} else {
		effects = append(effects, ArmTimer{
			Token:    DelayedJoinToken{Iface: ifc.ID, Group: group.String()},
			Deadline: now.Add(delay),
		})
	}
	return effects
}

// DelayedJoinFired is called when a DelayedJoinToken expires: join the
// multicast group and send the first DAD probe.
func (e *Engine) DelayedJoinFired(ifc iface.ID, candidate net.IP, group net.IP, now time.Time) []Effect {
	effects := []Effect{JoinMulticast{Iface: ifc, Group: group}}
	effects = append(effects, e.emitDADProbe(ifc, candidate, now)...)
	return effects
}

func (e *Engine) emitDADProbe(ifc iface.ID, target net.IP, now time.Time) []Effect {
	return []Effect{
		SendNS{Iface: ifc, Src: net.IPv6unspecified, Dst: addr.SolicitedNodeMulticast(target), Target: target},
		ArmTimer{Token: NSRetransmitToken{Iface: ifc, Addr: target.String()}, Deadline: now.Add(e.Cfg.RetransTimer)},
	}
}

// NSRetransmitFired handles a NSRetransmitToken expiry. It disambiguates
// DAD probes (tracked in DAD) from ordinary address-resolution retries
// (tracked in Cache) by checking which one has state for target.
func (e *Engine) NSRetransmitFired(ifc iface.ID, target net.IP, now time.Time) []Effect {
	if e.DAD.InProgress(target) {
		done, _ := e.DAD.Retransmit(target, e.Cfg.DupAddrDetectTransmits)
		if done {
			for _, p := range e.prefixTable(ifc).All() {
				if addr.CommonPrefixLen(p.Prefix, target) >= p.PrefixLen {
					p.AssignedAddr = target
				}
			}
			return []Effect{PromoteAddress{Iface: ifc, Addr: target, PreferredLifetime: 0, ValidLifetime: 0}}
		}
		return e.emitDADProbe(ifc, target, now)
	}

	n, ok := e.Cache.Lookup(target)
	if !ok || n.State != Incomplete {
		return nil
	}
	if n.SolicitCount >= e.Cfg.MaxMulticastSolicit {
		pkts := n.Drain()
		e.Cache.Delete(target)
		if len(pkts) == 0 {
			return nil
		}
		return []Effect{FailQueue{Iface: ifc, Packets: pkts}}
	}
	n.SolicitCount++
	return []Effect{
		SendNS{Iface: ifc, Dst: addr.SolicitedNodeMulticast(target), Target: target},
		ArmTimer{Token: NSRetransmitToken{Iface: ifc, Addr: target.String()}, Deadline: now.Add(e.Cfg.RetransTimer)},
	}
}

// Resolve starts (or continues) address resolution for target via ifc,
// queuing pkt. Mirrors arp.Engine.Send's shape for the IPv6 analogue.
func (e *Engine) Resolve(ifc *iface.Interface, target net.IP, pkt []byte, now time.Time) (mac net.HardwareAddr, ok bool, effects []Effect) {
	if n, found := e.Cache.Lookup(target); found && n.MAC != nil {
		return n.MAC, true, nil
	}
	n := e.Cache.EnsureIncomplete(target, ifc.ID)
	first := len(n.Queue) == 0 && n.SolicitCount == 0
	n.Enqueue(pkt)
	if !first {
		return nil, false, nil
	}
	var src net.IP
	for _, a := range ifc.AssignedV6() {
		src = a.IP
		break
	}
	n.SolicitCount = 1
	return nil, false, []Effect{
		SendNS{Iface: ifc.ID, Src: src, Dst: addr.SolicitedNodeMulticast(target), Target: target},
		ArmTimer{Token: NSRetransmitToken{Iface: ifc.ID, Addr: target.String()}, Deadline: now.Add(e.Cfg.RetransTimer)},
	}
}

// HandleNS processes a received Neighbor Solicitation with hopLimit==255
// and a unicast/anycast (not multicast) target.
func (e *Engine) HandleNS(ifc *iface.Interface, srcUnspecified bool, src, target net.IP, srcLLA net.HardwareAddr, now time.Time) []Effect {
	if idx, ok := ifc.FindV6(target); ok && ifc.Addrs6[idx].State == iface.Tentative && srcUnspecified {
		if e.DAD.ObserveCollision(target) {
			return []Effect{RevokeAddress{Iface: ifc.ID, Addr: target}, LeaveMulticast{Iface: ifc.ID, Group: addr.SolicitedNodeMulticast(target)}}
		}
		return nil
	}

	var effects []Effect
	if !srcUnspecified && srcLLA != nil {
		n := e.Cache.EnsureIncomplete(src, ifc.ID)
		n.MAC = srcLLA
		if n.State == Incomplete {
			n.State = Stale
		}
	}
	var ourSrc net.IP = target
	effects = append(effects, SendNA{
		Iface:     ifc.ID,
		Src:       ourSrc,
		Dst:       src,
		Target:    target,
		Solicited: !srcUnspecified,
		Override:  false,
		Router:    false, // host role; router implementations set true
	})
	return effects
}

// HandleNA processes a received Neighbor Advertisement with hopLimit==255,
// a unicast/anycast target, and not (multicast destination AND solicited).
func (e *Engine) HandleNA(ifc iface.ID, na NAInfo, now time.Time) []Effect {
	n, ok := e.Cache.Lookup(na.Target)
	if !ok {
		return nil
	}
	became := n.ApplyAdvertisement(na.Solicited, na.Override, na.TargetLLA, na.Router, e.Cfg.ReachableTime, now)
	if !na.Router && n.IsRouter == false {
		e.routerList(ifc).Upsert(na.Target, 0, now) // lifetime 0 removes
	}
	if !became {
		return nil
	}
	pkts := n.Drain()
	var effects []Effect
	effects = append(effects, CancelTimer{Token: NSRetransmitToken{Iface: ifc, Addr: na.Target.String()}})
	if len(pkts) > 0 {
		effects = append(effects, releaseEffect(ifc, n.MAC, pkts))
	}
	return effects
}

// NAInfo carries the fields of a received Neighbor Advertisement relevant
// to cache updates.
type NAInfo struct {
	Target              net.IP
	Solicited, Override bool
	Router              bool
	TargetLLA           net.HardwareAddr
}

// Release mirrors arp.Release for the IPv6 path; kept as a concrete type
// here (rather than importing arp) since the two protocols' release
// payloads differ only in address family.
type Release struct {
	Iface   iface.ID
	MAC     net.HardwareAddr
	Packets [][]byte
}

func (Release) isEffect() {}

func releaseEffect(ifc iface.ID, mac net.HardwareAddr, pkts [][]byte) Effect {
	return Release{Iface: ifc, MAC: mac, Packets: pkts}
}

// HandleRA processes a Router Advertisement (hopLimit==255) from src.
func (e *Engine) HandleRA(ifc *iface.Interface, src net.IP, ra RAInfo, now time.Time) []Effect {
	e.routerList(ifc.ID).Upsert(src, ra.RouterLifetime, now)

	n := e.Cache.EnsureIncomplete(src, ifc.ID)
	n.State = Reachable
	n.IsRouter = true
	n.Deadline = now.Add(e.Cfg.ReachableTime)

	var effects []Effect
	for _, p := range ra.Prefixes {
		if p.PrefixLen == 0 {
			continue
		}
		linkLocalPrefix := p.Prefix.IsLinkLocalUnicast()
		pt := e.prefixTable(ifc.ID)
		pt.Upsert(Prefix{
			Prefix: p.Prefix, PrefixLen: p.PrefixLen, OnLink: p.OnLink,
			Autonomous: p.Autonomous, PreferredLifetime: p.PreferredLifetime,
			ValidLifetime: p.ValidLifetime,
		}, now)
		if p.OnLink && p.Autonomous && !linkLocalPrefix {
			candidate := addr.EUI64(p.Prefix, ifc.MAC)
			if _, assigned := ifc.FindV6(candidate); !assigned {
				effects = append(effects, e.StartSLAAC(ifc, p.Prefix, p.PrefixLen, now)...)
			}
		}
	}
	if ra.ReachableTime != 0 {
		e.Cfg.ReachableTime = ra.ReachableTime
	}
	if ra.RetransTimer != 0 {
		e.Cfg.RetransTimer = ra.RetransTimer
	}
	if ra.CurHopLimit != 0 {
		e.Cfg.CurHopLimit = ra.CurHopLimit
	}
	return effects
}

// RAInfo carries the fields of a received Router Advertisement relevant to
// default-router/prefix/parameter updates.
type RAInfo struct {
	RouterLifetime time.Duration
	ReachableTime  time.Duration
	RetransTimer   time.Duration
	CurHopLimit    uint8
	Prefixes       []RAPrefix
}

type RAPrefix struct {
	Prefix                         net.IP
	PrefixLen                      int
	OnLink, Autonomous              bool
	PreferredLifetime, ValidLifetime time.Duration
}

// HandleRS processes a received Router Solicitation in router role: a
// single RA is scheduled per interval, coalescing concurrent requests
//.
func (e *Engine) HandleRS(ifc *iface.Interface, src net.IP, srcLLA net.HardwareAddr, now time.Time) []Effect {
	if srcLLA != nil && !src.Equal(net.IPv6unspecified) {
		n := e.Cache.EnsureIncomplete(src, ifc.ID)
		n.MAC = srcLLA
		if n.State == Incomplete {
			n.State = Stale
		}
	}
	if e.raPending[ifc.ID] {
		return nil
	}
	e.raPending[ifc.ID] = true
	delay := e.Rand(e.Cfg.MaxRADelayTime)
	return []Effect{ArmTimer{Token: RASolicitedToken{Iface: ifc.ID}, Deadline: now.Add(delay)}}
}

// RASolicitedFired builds and sends the coalesced RA scheduled by HandleRS.
func (e *Engine) RASolicitedFired(ifc *iface.Interface) []Effect {
	delete(e.raPending, ifc.ID)
	return []Effect{SendRA{Iface: ifc.ID, Dst: net.ParseIP("ff02::1")}}
}

// BuildRA lists ifc's prefix table as RA prefix entries, which the context
// turns into Prefix Information options when it marshals and sends an RA.
func (e *Engine) BuildRA(ifc *iface.Interface) []RAPrefix {
	var out []RAPrefix
	for _, p := range e.prefixTable(ifc.ID).All() {
		out = append(out, RAPrefix{
			Prefix: p.Prefix, PrefixLen: p.PrefixLen, OnLink: p.OnLink,
			Autonomous: p.Autonomous, PreferredLifetime: p.PreferredLifetime,
			ValidLifetime: p.ValidLifetime,
		})
	}
	return out
}

// SweepExpired evicts expired default routers/prefixes and marks
// REACHABLE neighbors STALE past their deadline; called from the
// PrefixTimeoutToken handler.
func (e *Engine) SweepExpired(ifc iface.ID, now time.Time) []Effect {
	e.routerList(ifc).Expire(now)
	revoked := e.prefixTable(ifc).Expire(now)
	var effects []Effect
	for _, a := range revoked {
		effects = append(effects, RevokeAddress{Iface: ifc, Addr: a})
	}
	for _, n := range e.Cache.All() {
		n.MarkStaleIfReachableExpired(now)
	}
	return effects
}
