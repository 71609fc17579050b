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

// Package limiter implements the rate-limiter family described in spec
// §4.2: token bucket, sliding window, leaky bucket, adaptive AIMD, and
// composite. Every variant realizes the same Limiter capability set
// (spec §9's "one capability set, realized as a tagged family"), over the
// storage.Storage abstraction, so the same limiter logic replicates
// identically whether backed by storage.Local or storage.Remote.
package limiter

import (
	"context"
	"time"
)

// Limiter is the uniform contract every variant satisfies (spec §6).
// Acquire never blocks longer than one storage round trip; callers that
// want to wait compose Acquire with a backoff wrapper (pkg/wrappers).
type Limiter interface {
	// Acquire attempts to debit n units under key, returning whether the
	// request is accepted.
	Acquire(ctx context.Context, key string, n int64) (bool, error)
	// Release credits back n units under key, e.g. after a caller that
	// acquired speculatively decides not to proceed.
	Release(ctx context.Context, key string, n int64) error
	// Stats reports the limiter's current view of key.
	Stats(ctx context.Context, key string) (Stats, error)
}

// Stats mirrors spec §6's get_stats contract.
type Stats struct {
	// Available is the limiter's current notion of spare capacity (tokens
	// left in a bucket, remaining slots in a window, free capacity in a
	// leaky bucket).
	Available float64
	// Max is the ceiling Available can reach (burst, capacity, rate).
	Max float64
	// Rate is the limiter's configured admission rate, in its own units
	// (tokens/sec, events/window, leak/sec).
	Rate float64
	// LastUpdate is the instant Stats was computed.
	LastUpdate time.Time
}

// Scope namespaces keys so independent limiter instances (e.g. per-tenant)
// sharing one storage.Storage never collide, per the persisted-state
// layout's "{scope}:{limiter_kind}:{key}" convention (spec §6).
func scopedKey(scope, kind, key string) string {
	if scope == "" {
		scope = "default"
	}
	return scope + ":" + kind + ":" + key
}
