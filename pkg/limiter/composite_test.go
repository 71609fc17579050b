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
	"errors"
	"testing"
	"time"
)

// fakeLimiter is a scripted Limiter double for exercising Composite's
// all-or-nothing and compensation behavior without a real backend.
type fakeLimiter struct {
	acquireResult bool
	acquireErr    error
	acquireCalls  int
	releaseCalls  int
	releaseErr    error
}

func (f *fakeLimiter) Acquire(ctx context.Context, key string, n int64) (bool, error) {
	f.acquireCalls++
	return f.acquireResult, f.acquireErr
}

func (f *fakeLimiter) Release(ctx context.Context, key string, n int64) error {
	f.releaseCalls++
	return f.releaseErr
}

func (f *fakeLimiter) Stats(ctx context.Context, key string) (Stats, error) {
	return Stats{}, nil
}

func TestComposite_AllChildrenAcceptAdmitsOnce(t *testing.T) {
	ctx := context.Background()
	a := &fakeLimiter{acquireResult: true}
	b := &fakeLimiter{acquireResult: true}
	c := NewComposite(nil, a, b)

	ok, err := c.Acquire(ctx, "u1", 1)
	if err != nil || !ok {
		t.Fatalf("Acquire got (%v, %v), want (true, nil)", ok, err)
	}
	if a.acquireCalls != 1 || b.acquireCalls != 1 {
		t.Fatalf("expected each child acquired exactly once, got a=%d b=%d", a.acquireCalls, b.acquireCalls)
	}
	if a.releaseCalls != 0 || b.releaseCalls != 0 {
		t.Fatalf("expected no compensation on a fully-accepted call")
	}
}

func TestComposite_LaterChildRejectionCompensatesEarlier(t *testing.T) {
	ctx := context.Background()
	a := &fakeLimiter{acquireResult: true}
	b := &fakeLimiter{acquireResult: false}
	c := NewComposite(nil, a, b)

	ok, err := c.Acquire(ctx, "u1", 1)
	if err != nil || ok {
		t.Fatalf("Acquire got (%v, %v), want (false, nil)", ok, err)
	}
	if a.releaseCalls != 1 {
		t.Fatalf("expected the already-debited first child to be compensated, got %d releases", a.releaseCalls)
	}
	if b.releaseCalls != 0 {
		t.Fatalf("expected the rejecting child itself not to be released, got %d releases", b.releaseCalls)
	}
}

func TestComposite_ErrorCompensatesEarlierChildren(t *testing.T) {
	ctx := context.Background()
	a := &fakeLimiter{acquireResult: true}
	b := &fakeLimiter{acquireErr: errors.New("storage unavailable")}
	c := NewComposite(nil, a, b)

	ok, err := c.Acquire(ctx, "u1", 1)
	if err == nil || ok {
		t.Fatalf("Acquire got (%v, %v), want (false, non-nil error)", ok, err)
	}
	if a.releaseCalls != 1 {
		t.Fatalf("expected compensation on a storage error, got %d releases", a.releaseCalls)
	}
}

func TestComposite_ReleaseCreditsEveryChild(t *testing.T) {
	ctx := context.Background()
	a := &fakeLimiter{}
	b := &fakeLimiter{}
	c := NewComposite(nil, a, b)

	if err := c.Release(ctx, "u1", 1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if a.releaseCalls != 1 || b.releaseCalls != 1 {
		t.Fatalf("expected Release to credit every child, got a=%d b=%d", a.releaseCalls, b.releaseCalls)
	}
}

func TestComposite_StatsReportsMostConstrainedChild(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClock()
	store := bothBackends(t, fc)["local"]

	tight := NewTokenBucket(store, TokenBucketConfig{Rate: 2, Per: time.Second, Scope: "tight", Clock: fc})
	loose := NewTokenBucket(store, TokenBucketConfig{Rate: 100, Per: time.Second, Scope: "loose", Clock: fc})
	c := NewComposite(nil, tight, loose)

	stats, err := c.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Available != 2 {
		t.Fatalf("Available = %v, want 2 (the tighter child)", stats.Available)
	}
	if stats.Max != 2 {
		t.Fatalf("Max = %v, want 2 (the tighter child)", stats.Max)
	}
}
