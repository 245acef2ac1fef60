// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package netctx

import (
	"time"

	"github.com/golang/glog"

	"go.fuchsia.dev/netsim/pkg/icmp"
	"go.fuchsia.dev/netsim/pkg/ndp"
)

// ndpFireTimer routes a timer wheel token owned by pkg/ndp to the engine
// method that expects it. pkg/ndp arms its timers with the bare token
// value it was given (ArmTimer.Token is interface{}), so the context
// recovers the original typed token here.
func ndpFireTimer(e *ndp.Engine, tok interface{}, now time.Time) []ndp.Effect {
	switch t := tok.(type) {
	case ndp.NSRetransmitToken:
		return e.NSRetransmitFired(t.Iface, parseIPMust(t.Addr), now)
	case ndp.PrefixTimeoutToken:
		return e.SweepExpired(t.Iface, now)
	case ndp.DelayedJoinToken:
		return e.DelayedJoinFired(t.Iface, parseIPMust(t.Group), parseIPMust(t.Group), now)
	}
	glog.V(2).Infof("netctx: unrecognized timer token %#v ignored", tok)
	return nil
}

// applyNDPEffects drains NDP engine output into interfaces, the ARP-style
// outbound queues, ICMP framing, and the timer wheel.
func (n *Node) applyNDPEffects(effects []ndp.Effect, now time.Time) {
	for _, e := range effects {
		switch v := e.(type) {
		case ndp.SendNS:
			n.sendICMPv6(v.Iface, v.Src, v.Dst, icmp.NeighborSolicitation{Target: v.Target}, now)
		case ndp.SendNA:
			n.sendICMPv6(v.Iface, v.Src, v.Dst, icmp.NeighborAdvertisement{
				Router: v.Router, Solicited: v.Solicited, Override: v.Override, Target: v.Target,
			}, now)
		case ndp.SendRS:
			n.sendICMPv6(v.Iface, v.Src, allRoutersMulticast, icmp.RouterSolicitation{}, now)
		case ndp.SendRA:
			ifc := n.Ifaces[v.Iface]
			if ifc == nil {
				continue
			}
			n.sendRA(ifc, v.Dst, now)
		case ndp.ArmTimer:
			n.Timers.Schedule(v.Token, v.Deadline)
		case ndp.CancelTimer:
			n.Timers.Cancel(v.Token)
		case ndp.JoinMulticast:
			if ifc := n.Ifaces[v.Iface]; ifc != nil {
				ifc.JoinMulticast(v.Group)
			}
		case ndp.LeaveMulticast:
			if ifc := n.Ifaces[v.Iface]; ifc != nil {
				ifc.LeaveMulticast(v.Group)
			}
		case ndp.EmitMLDReport:
			glog.V(2).Infof("netctx: MLD report for %v on iface %d", v.Group, v.Iface)
		case ndp.AssignTentative:
			if ifc := n.Ifaces[v.Iface]; ifc != nil {
				ifc.AddV6Tentative(v.Addr, v.PrefixLen, true)
			}
		case ndp.PromoteAddress:
			if ifc := n.Ifaces[v.Iface]; ifc != nil {
				var preferredAt, validAt int64
				if v.PreferredLifetime > 0 {
					preferredAt = now.Add(v.PreferredLifetime).UnixNano()
				}
				if v.ValidLifetime > 0 {
					validAt = now.Add(v.ValidLifetime).UnixNano()
				}
				ifc.PromoteV6(v.Addr, preferredAt, validAt)
			}
		case ndp.RevokeAddress:
			if ifc := n.Ifaces[v.Iface]; ifc != nil {
				ifc.RemoveV6(v.Addr)
			}
		case ndp.FailQueue:
			for range v.Packets {
				glog.Warningf("netctx: packet dropped, address unreachable on iface %d", v.Iface)
			}
		}
	}
}
