// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package icmp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Option is one TLV option carried by an NDP message (RFC 4861 §4.6).
type Option interface {
	optionType() uint8
	marshal() []byte // length-prefixed in units of 8 bytes, including type+len
}

// SourceLinkLayerAddress is NDP option type 1.
type SourceLinkLayerAddress struct{ MAC net.HardwareAddr }

// TargetLinkLayerAddress is NDP option type 2.
type TargetLinkLayerAddress struct{ MAC net.HardwareAddr }

// PrefixInformation is NDP option type 3 (RFC 4861 §4.6.2).
type PrefixInformation struct {
	PrefixLen         uint8
	OnLink            bool
	Autonomous        bool
	ValidLifetime     uint32
	PreferredLifetime uint32
	Prefix            net.IP // 16 bytes
}

// MTUOption is NDP option type 5.
type MTUOption struct{ MTU uint32 }

func (SourceLinkLayerAddress) optionType() uint8 { return 1 }
func (TargetLinkLayerAddress) optionType() uint8 { return 2 }
func (PrefixInformation) optionType() uint8      { return 3 }
func (MTUOption) optionType() uint8              { return 5 }

func (o SourceLinkLayerAddress) marshal() []byte { return linkLayerOption(1, o.MAC) }
func (o TargetLinkLayerAddress) marshal() []byte { return linkLayerOption(2, o.MAC) }

func linkLayerOption(typ uint8, mac net.HardwareAddr) []byte {
	b := make([]byte, 8)
	b[0] = typ
	b[1] = 1 // length in units of 8 octets
	copy(b[2:8], mac.To6())
	return b
}

func (o PrefixInformation) marshal() []byte {
	b := make([]byte, 32)
	b[0] = 3
	b[1] = 4 // 32 bytes / 8
	b[2] = o.PrefixLen
	var flags uint8
	if o.OnLink {
		flags |= 0x80
	}
	if o.Autonomous {
		flags |= 0x40
	}
	b[3] = flags
	binary.BigEndian.PutUint32(b[4:8], o.ValidLifetime)
	binary.BigEndian.PutUint32(b[8:12], o.PreferredLifetime)
	// bytes [12:16) reserved
	copy(b[16:32], o.Prefix.To16())
	return b
}

func (o MTUOption) marshal() []byte {
	b := make([]byte, 8)
	b[0] = 5
	b[1] = 1
	binary.BigEndian.PutUint32(b[4:8], o.MTU)
	return b
}

func marshalOptions(opts []Option) []byte {
	var out []byte
	for _, o := range opts {
		out = append(out, o.marshal()...)
	}
	return out
}

// ParseOptions decodes the TLV option stream trailing an NDP message body.
func ParseOptions(b []byte) ([]Option, error) {
	var opts []Option
	for len(b) > 0 {
		if len(b) < 8 {
			return nil, fmt.Errorf("icmp: truncated ndp option")
		}
		typ := b[0]
		lenUnits := int(b[1])
		if lenUnits == 0 {
			return nil, fmt.Errorf("icmp: zero-length ndp option")
		}
		totalLen := lenUnits * 8
		if totalLen > len(b) {
			return nil, fmt.Errorf("icmp: ndp option length exceeds buffer")
		}
		body := b[:totalLen]
		switch typ {
		case 1:
			opts = append(opts, SourceLinkLayerAddress{MAC: net.HardwareAddr(append([]byte(nil), body[2:8]...))})
		case 2:
			opts = append(opts, TargetLinkLayerAddress{MAC: net.HardwareAddr(append([]byte(nil), body[2:8]...))})
		case 3:
			if totalLen < 32 {
				return nil, fmt.Errorf("icmp: short prefix information option")
			}
			flags := body[3]
			opts = append(opts, PrefixInformation{
				PrefixLen:         body[2],
				OnLink:            flags&0x80 != 0,
				Autonomous:        flags&0x40 != 0,
				ValidLifetime:     binary.BigEndian.Uint32(body[4:8]),
				PreferredLifetime: binary.BigEndian.Uint32(body[8:12]),
				Prefix:            net.IP(append([]byte(nil), body[16:32]...)),
			})
		case 5:
			opts = append(opts, MTUOption{MTU: binary.BigEndian.Uint32(body[4:8])})
		}
		b = b[totalLen:]
	}
	return opts, nil
}

// RouterSolicitation is the ICMPv6 type 133 body (RFC 4861 §4.1).
type RouterSolicitation struct{ Options []Option }

func (b RouterSolicitation) Len(int) int { return 4 + len(marshalOptions(b.Options)) }
func (b RouterSolicitation) Marshal(int) ([]byte, error) {
	out := make([]byte, 4)
	return append(out, marshalOptions(b.Options)...), nil
}

// RouterAdvertisement is the ICMPv6 type 134 body (RFC 4861 §4.2).
type RouterAdvertisement struct {
	CurHopLimit    uint8
	ManagedConfig  bool
	OtherConfig    bool
	RouterLifetime uint16 // seconds
	ReachableTime  uint32 // ms
	RetransTimer   uint32 // ms
	Options        []Option
}

func (b RouterAdvertisement) Len(int) int { return 12 + len(marshalOptions(b.Options)) }
func (b RouterAdvertisement) Marshal(int) ([]byte, error) {
	out := make([]byte, 12)
	out[0] = b.CurHopLimit
	var flags uint8
	if b.ManagedConfig {
		flags |= 0x80
	}
	if b.OtherConfig {
		flags |= 0x40
	}
	out[1] = flags
	binary.BigEndian.PutUint16(out[2:4], b.RouterLifetime)
	binary.BigEndian.PutUint32(out[4:8], b.ReachableTime)
	binary.BigEndian.PutUint32(out[8:12], b.RetransTimer)
	return append(out, marshalOptions(b.Options)...), nil
}

// NeighborSolicitation is the ICMPv6 type 135 body (RFC 4861 §4.3).
type NeighborSolicitation struct {
	Target  net.IP
	Options []Option
}

func (b NeighborSolicitation) Len(int) int { return 20 + len(marshalOptions(b.Options)) }
func (b NeighborSolicitation) Marshal(int) ([]byte, error) {
	out := make([]byte, 20)
	copy(out[4:20], b.Target.To16())
	return append(out, marshalOptions(b.Options)...), nil
}

// NeighborAdvertisement is the ICMPv6 type 136 body (RFC 4861 §4.4).
type NeighborAdvertisement struct {
	Router    bool
	Solicited bool
	Override  bool
	Target    net.IP
	Options   []Option
}

func (b NeighborAdvertisement) Len(int) int { return 20 + len(marshalOptions(b.Options)) }
func (b NeighborAdvertisement) Marshal(int) ([]byte, error) {
	out := make([]byte, 20)
	var flags uint8
	if b.Router {
		flags |= 0x80
	}
	if b.Solicited {
		flags |= 0x40
	}
	if b.Override {
		flags |= 0x20
	}
	out[0] = flags
	copy(out[4:20], b.Target.To16())
	return append(out, marshalOptions(b.Options)...), nil
}

// parseFixedThenOptions splits a raw NDP message payload (as returned by
// icmp.DefaultMessageBody, since x/net/icmp has no typed bodies for NDP)
// into its fixed header and trailing options, for the four NDP message
// shapes that all share "4 or 20 reserved/target bytes then options".
func parseFixedThenOptions(b []byte, fixedLen int) (fixed []byte, opts []Option, err error) {
	if len(b) < fixedLen {
		return nil, nil, fmt.Errorf("icmp: truncated ndp body")
	}
	opts, err = ParseOptions(b[fixedLen:])
	return b[:fixedLen], opts, err
}

// ParseRouterSolicitation decodes a raw RS body.
func ParseRouterSolicitation(b []byte) (RouterSolicitation, error) {
	_, opts, err := parseFixedThenOptions(b, 4)
	return RouterSolicitation{Options: opts}, err
}

// ParseRouterAdvertisement decodes a raw RA body.
func ParseRouterAdvertisement(b []byte) (RouterAdvertisement, error) {
	fixed, opts, err := parseFixedThenOptions(b, 12)
	if err != nil {
		return RouterAdvertisement{}, err
	}
	flags := fixed[1]
	return RouterAdvertisement{
		CurHopLimit:    fixed[0],
		ManagedConfig:  flags&0x80 != 0,
		OtherConfig:    flags&0x40 != 0,
		RouterLifetime: binary.BigEndian.Uint16(fixed[2:4]),
		ReachableTime:  binary.BigEndian.Uint32(fixed[4:8]),
		RetransTimer:   binary.BigEndian.Uint32(fixed[8:12]),
		Options:        opts,
	}, nil
}

// ParseNeighborSolicitation decodes a raw NS body.
func ParseNeighborSolicitation(b []byte) (NeighborSolicitation, error) {
	fixed, opts, err := parseFixedThenOptions(b, 20)
	if err != nil {
		return NeighborSolicitation{}, err
	}
	return NeighborSolicitation{Target: net.IP(append([]byte(nil), fixed[4:20]...)), Options: opts}, nil
}

// ParseNeighborAdvertisement decodes a raw NA body.
func ParseNeighborAdvertisement(b []byte) (NeighborAdvertisement, error) {
	fixed, opts, err := parseFixedThenOptions(b, 20)
	if err != nil {
		return NeighborAdvertisement{}, err
	}
	flags := fixed[0]
	return NeighborAdvertisement{
		Router:    flags&0x80 != 0,
		Solicited: flags&0x40 != 0,
		Override:  flags&0x20 != 0,
		Target:    net.IP(append([]byte(nil), fixed[4:20]...)),
		Options:   opts,
	}, nil
}
