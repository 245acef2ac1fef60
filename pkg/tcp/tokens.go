// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tcp

// RetransmitToken identifies one TCB's retransmission timer. At most one
// is armed per TCB at a time.
type RetransmitToken struct{ ConnID uint64 }

// TimeWaitToken identifies one TCB's TIME_WAIT timer.
type TimeWaitToken struct{ ConnID uint64 }
