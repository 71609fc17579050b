// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"context"
	"testing"
	"time"

	"flowctl/internal/clock"
)

// Fake.After fast-forwards the clock to fire immediately (see
// internal/clock), so a Delay queue driven by a Fake clock never needs a
// real sleep: Get resolves an item as soon as its deadline is the earliest
// pending one, however far in simulated time that is.

func TestDelay_EarliestDeadlineDrainsFirst(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	q := NewDelay[string](DelayConfig{Clock: fc})
	ctx := context.Background()

	q.PutAt(ctx, "far", fc.Now().Add(2*time.Second))
	q.PutAt(ctx, "near", fc.Now().Add(time.Second))

	got, err := q.Get(ctx)
	if err != nil || got != "near" {
		t.Fatalf("first Get = (%q, %v), want (near, nil)", got, err)
	}
	got, err = q.Get(ctx)
	if err != nil || got != "far" {
		t.Fatalf("second Get = (%q, %v), want (far, nil)", got, err)
	}
}

func TestDelay_PastDeadlineImmediatelyEligible(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	q := NewDelay[string](DelayConfig{Clock: fc})
	ctx := context.Background()

	q.PutAt(ctx, "already-due", fc.Now().Add(-time.Minute))

	got, err := q.Get(ctx)
	if err != nil || got != "already-due" {
		t.Fatalf("Get = (%q, %v), want (already-due, nil)", got, err)
	}
}

func TestDelay_Size(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	q := NewDelay[string](DelayConfig{Clock: fc})
	ctx := context.Background()

	q.PutAt(ctx, "a", fc.Now().Add(time.Minute))
	q.PutAt(ctx, "b", fc.Now().Add(time.Minute))
	if got := q.Size(); got != 2 {
		t.Fatalf("Size = %d, want 2", got)
	}
}

func TestDelay_StartDispatchesInDeadlineOrder(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	q := NewDelay[string](DelayConfig{Clock: fc})
	ctx := context.Background()

	received := make(chan string, 2)
	q.Start(func(ctx context.Context, item string) error {
		received <- item
		return nil
	})

	q.PutAt(ctx, "second", fc.Now().Add(2*time.Second))
	q.PutAt(ctx, "first", fc.Now().Add(time.Second))

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("dispatched %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for dispatch of %q", want)
		}
	}

	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
