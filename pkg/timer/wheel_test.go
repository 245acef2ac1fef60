// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package timer

import (
	"testing"
	"time"
)

type tok struct{ id int }

func TestScheduleFiresInDeadlineOrder(t *testing.T) {
	w := New()
	base := time.Unix(0, 0)
	w.Schedule(tok{1}, base.Add(3*time.Second))
	w.Schedule(tok{2}, base.Add(1*time.Second))
	w.Schedule(tok{3}, base.Add(2*time.Second))

	var order []int
	w.Advance(base.Add(10*time.Second), func(tkn Token) {
		order = append(order, tkn.(tok).id)
	})
	want := []int{2, 3, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	w := New()
	base := time.Unix(0, 0)
	w.Schedule(tok{1}, base.Add(time.Second))
	w.Cancel(tok{1})
	fired := false
	w.Advance(base.Add(10*time.Second), func(Token) { fired = true })
	if fired {
		t.Fatal("canceled token fired")
	}
}

func TestRescheduleIsIdempotent(t *testing.T) {
	w := New()
	base := time.Unix(0, 0)
	w.Schedule(tok{1}, base.Add(time.Second))
	w.Schedule(tok{1}, base.Add(5*time.Second))
	if w.Len() != 1 {
		t.Fatalf("Len = %d, want 1", w.Len())
	}
	d, _ := w.Deadline(tok{1})
	if !d.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("Deadline = %v, want +5s", d)
	}
}

func TestActive(t *testing.T) {
	w := New()
	if w.Active(tok{1}) {
		t.Fatal("unarmed token reported active")
	}
	w.Schedule(tok{1}, time.Now())
	if !w.Active(tok{1}) {
		t.Fatal("armed token reported inactive")
	}
}
