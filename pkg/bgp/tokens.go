// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bgp

// ConnectRetryToken, HoldToken, and KeepaliveToken identify one session's
// corresponding timer BGPConnectRetry/BGPHold/
// BGPKeepalive token variants.
type ConnectRetryToken struct{ SessionID uint64 }
type HoldToken struct{ SessionID uint64 }
type KeepaliveToken struct{ SessionID uint64 }
type DelayOpenToken struct{ SessionID uint64 }
