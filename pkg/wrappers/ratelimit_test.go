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

package wrappers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"flowctl/internal/clock"
	"flowctl/pkg/limiter"
)

// scriptedLimiter accepts only once acquireCalls has reached acceptAfter,
// letting tests exercise both RejectImmediate and BackoffUntilAccept
// without a real storage backend.
type scriptedLimiter struct {
	acceptAfter int32
	calls       atomic.Int32
}

func (s *scriptedLimiter) Acquire(ctx context.Context, key string, n int64) (bool, error) {
	c := s.calls.Add(1)
	return c > s.acceptAfter, nil
}
func (s *scriptedLimiter) Release(ctx context.Context, key string, n int64) error { return nil }
func (s *scriptedLimiter) Stats(ctx context.Context, key string) (limiter.Stats, error) {
	return limiter.Stats{}, nil
}

func TestRateLimit_RejectImmediateReturnsErrRateLimited(t *testing.T) {
	lim := &scriptedLimiter{acceptAfter: 1}
	wrapped := RateLimit(RateLimitConfig[string]{Limiter: lim, Mode: RejectImmediate},
		func(ctx context.Context, arg string) (string, error) { return "ran:" + arg, nil })

	_, err := wrapped(context.Background(), "x")
	if err != ErrRateLimited {
		t.Fatalf("got err=%v, want ErrRateLimited", err)
	}
}

func TestRateLimit_RejectImmediateAllowsThrough(t *testing.T) {
	lim := &scriptedLimiter{acceptAfter: 0}
	wrapped := RateLimit(RateLimitConfig[string]{Limiter: lim, Mode: RejectImmediate},
		func(ctx context.Context, arg string) (string, error) { return "ran:" + arg, nil })

	got, err := wrapped(context.Background(), "x")
	if err != nil || got != "ran:x" {
		t.Fatalf("got (%q, %v), want (ran:x, nil)", got, err)
	}
}

func TestRateLimit_BackoffUntilAcceptRetriesThenSucceeds(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	lim := &scriptedLimiter{acceptAfter: 3}
	calls := 0
	wrapped := RateLimit(RateLimitConfig[string]{Limiter: lim, Mode: BackoffUntilAccept, Clock: fc},
		func(ctx context.Context, arg string) (string, error) {
			calls++
			return "ok", nil
		})

	got, err := wrapped(context.Background(), "x")
	if err != nil || got != "ok" {
		t.Fatalf("got (%q, %v), want (ok, nil)", got, err)
	}
	if calls != 1 {
		t.Fatalf("fn invoked %d times, want exactly 1 (only once accepted)", calls)
	}
	if lim.calls.Load() != 4 {
		t.Fatalf("Acquire called %d times, want 4 (3 rejections + 1 acceptance)", lim.calls.Load())
	}
}

func TestRateLimit_KeyFnDerivesPerArgumentKey(t *testing.T) {
	var gotKeys []string
	lim := &keyRecordingLimiter{accept: true, keys: &gotKeys}
	wrapped := RateLimit(RateLimitConfig[string]{
		Limiter: lim,
		Mode:    RejectImmediate,
		KeyFn:   func(arg string) string { return "user:" + arg },
	}, func(ctx context.Context, arg string) (string, error) { return arg, nil })

	wrapped(context.Background(), "alice")
	wrapped(context.Background(), "bob")

	if len(gotKeys) != 2 || gotKeys[0] != "user:alice" || gotKeys[1] != "user:bob" {
		t.Fatalf("keys = %v, want [user:alice user:bob]", gotKeys)
	}
}

type keyRecordingLimiter struct {
	accept bool
	keys   *[]string
}

func (k *keyRecordingLimiter) Acquire(ctx context.Context, key string, n int64) (bool, error) {
	*k.keys = append(*k.keys, key)
	return k.accept, nil
}
func (k *keyRecordingLimiter) Release(ctx context.Context, key string, n int64) error { return nil }
func (k *keyRecordingLimiter) Stats(ctx context.Context, key string) (limiter.Stats, error) {
	return limiter.Stats{}, nil
}
