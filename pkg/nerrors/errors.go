// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package nerrors defines the error kinds surfaced across the transport and
// link layers and the ICMP mapping for each.
package nerrors

import "fmt"

// Kind is one of the error kinds callers of the syscall surface observe.
type Kind int

const (
	_ Kind = iota
	WouldBlock
	ConnectionRefused
	ConnectionAborted
	NotConnected
	AddrInUse
	AddrNotAvailable
	HostUnreachable
	TimedOut
	InvalidInput
)

func (k Kind) String() string {
	switch k {
	case WouldBlock:
		return "would block"
	case ConnectionRefused:
		return "connection refused"
	case ConnectionAborted:
		return "connection aborted"
	case NotConnected:
		return "not connected"
	case AddrInUse:
		return "address in use"
	case AddrNotAvailable:
		return "address not available"
	case HostUnreachable:
		return "host unreachable"
	case TimedOut:
		return "timed out"
	case InvalidInput:
		return "invalid input"
	default:
		return "unknown error"
	}
}

// Error wraps a Kind with the operation and endpoint context that produced
// it, in the shape of net.OpError.
type Error struct {
	Op   string
	Kind Kind
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, nerrors.WouldBlock) to match by comparing Kinds,
// since Kind itself also implements error via a plain wrap below.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error for op/kind with no underlying cause.
func New(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

// Wrap builds an *Error for op/kind around an underlying cause.
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Error satisfies the error interface directly on Kind too, so that
// sentinels like nerrors.HostUnreachable can be returned bare where no
// operation name is available (e.g. deep inside a packet handler that has
// no socket to attribute the failure to).
func (k Kind) Error() string { return k.String() }
