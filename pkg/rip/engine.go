// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rip

import (
	"net"
	"time"

	"go.fuchsia.dev/netsim/pkg/iface"
)

// Config bounds the daemon's timers.
type Config struct {
	UpdateInterval time.Duration
	RouteDeadline  time.Duration
}

// DefaultConfig returns RIP's conventional 30s update / 180s deadline.
func DefaultConfig() Config {
	return Config{UpdateInterval: 30 * time.Second, RouteDeadline: 180 * time.Second}
}

// Effect is one side effect the engine asks its owning context to apply.
type Effect interface{ isEffect() }

// SendPacket asks the context to transmit a marshaled RIP packet out Port
// to Dst (the all-RIP-routers multicast address, or a specific neighbor).
type SendPacket struct {
	Port iface.ID
	Dst  net.IP
	Data []byte
}

// InstallForwarding asks the context to (re)install a forwarding table
// entry, mirroring the route just learned.
type InstallForwarding struct {
	Subnet  net.IP
	Mask    net.IPMask
	Gateway net.IP
	Port    iface.ID
}

func (SendPacket) isEffect()         {}
func (InstallForwarding) isEffect()  {}

// Engine runs the distance-vector protocol over a Table.
type Engine struct {
	Cfg   Config
	Table *Table
}

// NewEngine creates an engine over tbl.
func NewEngine(cfg Config, tbl *Table) *Engine {
	return &Engine{Cfg: cfg, Table: tbl}
}

// Startup broadcasts a full-table REQUEST on every port, kicking off the
// initial route exchange with whatever neighbors are listening.
func (e *Engine) Startup(ports []iface.ID, allRouters net.IP) []Effect {
	req := Marshal(Packet{Command: CommandRequest, Entries: []Entry{{AddrFamily: 0, Metric: Infinity}}})
	var eff []Effect
	for _, p := range ports {
		for _, data := range req {
			eff = append(eff, SendPacket{Port: p, Dst: allRouters, Data: data})
		}
	}
	return eff
}

// HandleInbound processes one inbound RIP packet arriving on port from
// sender.
func (e *Engine) HandleInbound(port iface.ID, sender net.IP, allRouters net.IP, p Packet, now time.Time) []Effect {
	switch p.Command {
	case CommandRequest:
		return e.handleRequest(port, sender, p, now)
	case CommandResponse:
		return e.handleResponse(port, sender, p, now)
	}
	return nil
}

func (e *Engine) handleRequest(port iface.ID, sender net.IP, p Packet, now time.Time) []Effect {
	if !IsFullTableRequest(p) {
		return nil
	}
	entries := e.splitHorizonEntries(sender)
	packets := Marshal(Packet{Command: CommandResponse, Entries: entries})
	var eff []Effect
	for _, data := range packets {
		eff = append(eff, SendPacket{Port: port, Dst: sender, Data: data})
	}
	return eff
}

func (e *Engine) handleResponse(port iface.ID, sender net.IP, p Packet, now time.Time) []Effect {
	var eff []Effect
	for _, ent := range p.Entries {
		if ent.AddrFamily == 0 {
			continue
		}
		if e.Table.Offer(ent.Target, ent.Mask, sender, ent.Metric, port, now, e.Cfg.RouteDeadline) {
			eff = append(eff, InstallForwarding{Subnet: ent.Target, Mask: ent.Mask, Gateway: sender, Port: port})
		}
	}
	return eff
}

// Tick runs the periodic update: expire stale routes, then publish
// changed entries to every neighbor with split horizon applied per
// neighbor. Tick publishes changed entries only; the full table is sent
// only in reply to a full-table REQUEST (handleRequest).
func (e *Engine) Tick(neighbors map[iface.ID]net.IP, now time.Time) []Effect {
	e.Table.Expire(now)
	changed := e.Table.Changed()
	if len(changed) == 0 {
		return nil
	}
	var eff []Effect
	for port, addr := range neighbors {
		entries := splitHorizon(changed, addr)
		if len(entries) == 0 {
			continue
		}
		for _, data := range Marshal(Packet{Command: CommandResponse, Entries: entries}) {
			eff = append(eff, SendPacket{Port: port, Dst: addr, Data: data})
		}
	}
	return eff
}

// splitHorizonEntries converts every table route into wire Entries,
// omitting routes whose gateway is origin (split horizon), for a full-
// table REQUEST reply.
func (e *Engine) splitHorizonEntries(origin net.IP) []Entry {
	return splitHorizon(e.Table.All(), origin)
}

func splitHorizon(routes []*Route, origin net.IP) []Entry {
	var out []Entry
	for _, r := range routes {
		if r.Gateway != nil && r.Gateway.Equal(origin) {
			continue
		}
		out = append(out, Entry{
			AddrFamily: 2, // AF_INET
			Target:     r.Subnet,
			Mask:       r.Mask,
			NextHop:    net.IPv4zero,
			Metric:     r.Cost,
		})
	}
	return out
}
