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

package limiter

import (
	"context"
	"testing"
	"time"
)

func TestLeakyBucket_StartsEmpty(t *testing.T) {
	ctx := context.Background()
	for name, store := range bothBackends(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			fc := newFakeClock()
			lb := NewLeakyBucket(store, LeakyBucketConfig{Rate: 1, Capacity: 5, Clock: fc})

			stats, err := lb.Stats(ctx, "u1")
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.Available != 5 {
				t.Fatalf("Available on an untouched bucket = %v, want 5 (starts empty)", stats.Available)
			}
		})
	}
}

func TestLeakyBucket_FillsToCapacityThenRejects(t *testing.T) {
	ctx := context.Background()
	for name, store := range bothBackends(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			fc := newFakeClock()
			lb := NewLeakyBucket(store, LeakyBucketConfig{Rate: 1, Capacity: 3, Clock: fc})

			for i := 0; i < 3; i++ {
				ok, err := lb.Acquire(ctx, "u1", 1)
				if err != nil || !ok {
					t.Fatalf("acquire %d: got (%v, %v), want (true, nil)", i, ok, err)
				}
			}
			ok, err := lb.Acquire(ctx, "u1", 1)
			if err != nil || ok {
				t.Fatalf("acquire over capacity: got (%v, %v), want (false, nil)", ok, err)
			}
		})
	}
}

func TestLeakyBucket_LeaksOverTime(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClock()
	for name, store := range bothBackends(t, fc) {
		t.Run(name, func(t *testing.T) {
			lb := NewLeakyBucket(store, LeakyBucketConfig{Rate: 10, Capacity: 5, Clock: fc})

			for i := 0; i < 5; i++ {
				if ok, _ := lb.Acquire(ctx, "u1", 1); !ok {
					t.Fatalf("expected acquire %d to succeed", i)
				}
			}
			if ok, _ := lb.Acquire(ctx, "u1", 1); ok {
				t.Fatalf("expected bucket to be at capacity")
			}

			fc.Advance(500 * time.Millisecond) // leaks ~5 units at rate 10/s
			ok, err := lb.Acquire(ctx, "u1", 1)
			if err != nil || !ok {
				t.Fatalf("acquire after leak: got (%v, %v), want (true, nil)", ok, err)
			}
		})
	}
}

func TestLeakyBucket_Release(t *testing.T) {
	ctx := context.Background()
	for name, store := range bothBackends(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			fc := newFakeClock()
			lb := NewLeakyBucket(store, LeakyBucketConfig{Rate: 0, Capacity: 1, Clock: fc})

			if ok, _ := lb.Acquire(ctx, "u1", 1); !ok {
				t.Fatalf("expected the only slot to be available")
			}
			if ok, _ := lb.Acquire(ctx, "u1", 1); ok {
				t.Fatalf("expected bucket to be at capacity")
			}
			if err := lb.Release(ctx, "u1", 1); err != nil {
				t.Fatalf("Release: %v", err)
			}
			if ok, _ := lb.Acquire(ctx, "u1", 1); !ok {
				t.Fatalf("expected Release to free the slot")
			}
		})
	}
}
