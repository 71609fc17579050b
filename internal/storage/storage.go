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

// Package storage defines the key/value contract every limiter variant sits
// on top of, and its three realizations: Local (in-memory), Remote
// (Redis-compatible), and Hybrid (L1 local over L2 remote).
package storage

import (
	"context"
	"time"
)

// LocalOps is the surface a Script.Exec function is given to mutate Local's
// underlying map. It is only meaningful for the Local backend; Remote scripts
// run as Lua and never see this interface.
type LocalOps interface {
	// Load returns the raw value stored at key, and whether it was present.
	Load(key string) (any, bool)
	// Store sets the raw value at key with no expiry; any TTL the key had is
	// cleared, as a plain SET in a Remote script's Lua clears it.
	Store(key string, val any)
}

// Script is a named atomic sequence of reads, time-based computation, and
// writes, realized twice: once as Lua for Remote (and the remote tier of
// Hybrid), once as a Go closure for Local. Both realizations must be
// observationally equivalent — this is how limiters replicate identically
// across backends, per spec §4.1.
type Script struct {
	// Name identifies the script for logging/metrics; not sent to Redis.
	Name string
	// Lua is executed via EVAL against the Remote backend. It receives KEYS
	// and ARGV the same way a standard Redis Lua script does.
	Lua string
	// Exec runs the equivalent sequence directly against Local's map, called
	// while Local's single lock is held, so it is linearizable with other
	// Local mutations by construction.
	Exec func(now time.Time, ops LocalOps, keys []string, args []any) (any, error)
}

// Storage is the uniform contract every limiter variant is built on: a
// key/value store with atomic increment/decrement, TTL, and scripted atomic
// sequences. incr/decr/atomic_script are linearizable with respect to
// concurrent callers on the same Storage instance (spec §4.1).
type Storage interface {
	// Get returns the raw value at key, or ok=false if absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value at key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key, if present. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// Incr atomically adds delta to the integer at key (missing keys treated
	// as 0) and returns the new value.
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	// Decr atomically subtracts delta from the integer at key and returns the
	// new value.
	Decr(ctx context.Context, key string, delta int64) (int64, error)
	// AtomicScript executes script as one indivisible step and returns its result.
	AtomicScript(ctx context.Context, script Script, keys []string, args []any) (any, error)
	// Close releases resources held by the backend (connection pools, background loops).
	Close() error
}
