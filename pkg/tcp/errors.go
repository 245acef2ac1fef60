// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tcp

import "go.fuchsia.dev/netsim/pkg/nerrors"

var (
	resetErr   = nerrors.New("tcp", nerrors.ConnectionAborted)
	timeoutErr = nerrors.New("tcp", nerrors.TimedOut)
	refusedErr = nerrors.New("tcp", nerrors.ConnectionRefused)
)
