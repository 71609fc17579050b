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

	"flowctl/internal/errs"
)

func TestPriority_HigherPriorityDrainsFirst(t *testing.T) {
	ctx := context.Background()
	q := NewPriority[string](PriorityConfig{})

	if err := q.PutPriority(ctx, "low", 1); err != nil {
		t.Fatalf("Put low: %v", err)
	}
	if err := q.PutPriority(ctx, "high", 10); err != nil {
		t.Fatalf("Put high: %v", err)
	}

	got, err := q.Get(ctx)
	if err != nil || got != "high" {
		t.Fatalf("first Get = (%q, %v), want (high, nil)", got, err)
	}
	got, err = q.Get(ctx)
	if err != nil || got != "low" {
		t.Fatalf("second Get = (%q, %v), want (low, nil)", got, err)
	}
}

func TestPriority_TiesBreakFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewPriority[string](PriorityConfig{})

	q.PutPriority(ctx, "a", 5)
	q.PutPriority(ctx, "b", 5)
	q.PutPriority(ctx, "c", 5)

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Get(ctx)
		if err != nil || got != want {
			t.Fatalf("Get = (%q, %v), want (%q, nil)", got, err, want)
		}
	}
}

func TestPriority_PutRejectsWhenFull(t *testing.T) {
	ctx := context.Background()
	q := NewPriority[string](PriorityConfig{MaxSize: 1})

	if err := q.Put(ctx, "a"); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := q.Put(ctx, "b"); err != errs.ErrQueueFull {
		t.Fatalf("second Put = %v, want ErrQueueFull", err)
	}
}

func TestPriority_StartDispatchesToHandler(t *testing.T) {
	ctx := context.Background()
	q := NewPriority[string](PriorityConfig{Workers: 2})

	received := make(chan string, 4)
	q.Start(func(ctx context.Context, item string) error {
		received <- item
		return nil
	})

	q.PutPriority(ctx, "x", 1)
	q.PutPriority(ctx, "y", 2)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case item := <-received:
			seen[item] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for handler dispatch")
		}
	}
	if !seen["x"] || !seen["y"] {
		t.Fatalf("expected both items dispatched, got %v", seen)
	}

	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPriority_PutAfterStopFails(t *testing.T) {
	q := NewPriority[string](PriorityConfig{})
	q.Start(func(context.Context, string) error { return nil })
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := q.Put(context.Background(), "late"); err != errs.ErrQueueStopped {
		t.Fatalf("Put after Stop = %v, want ErrQueueStopped", err)
	}
}
