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

package storage

import (
	"context"
	"time"
)

// l1TTLCap bounds how long Hybrid lets a value sit in L1 before it must be
// reconfirmed against L2, per spec §4.1 ("TTL = min(60s, residual L2 TTL)").
const l1TTLCap = 60 * time.Second

// Hybrid is the two-tier Storage variant: Local as L1 over Remote as L2.
// Reads prefer L1; writes and counter mutations always reach L2, and
// invalidate L1 first for Incr/Decr/Delete so a stale counter is never
// served from L1 (spec §4.1).
type Hybrid struct {
	l1 *Local
	l2 Storage
}

// NewHybrid builds a Hybrid store. l1 is typically storage.NewLocal with a
// small maxSize; l2 is typically a *Remote.
func NewHybrid(l1 *Local, l2 Storage) *Hybrid {
	return &Hybrid{l1: l1, l2: l2}
}

func (h *Hybrid) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok, _ := h.l1.Get(ctx, key); ok {
		return v, true, nil
	}
	v, ok, err := h.l2.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	// Populate L1 with a bounded TTL. We don't know L2's residual TTL through
	// the generic Storage interface, so we cap at l1TTLCap, matching the
	// "min(60s, residual L2 TTL)" rule whenever residual TTL is unknown or
	// larger than the cap.
	_ = h.l1.Set(ctx, key, v, l1TTLCap)
	return v, true, nil
}

func (h *Hybrid) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := h.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	l1ttl := ttl
	if l1ttl <= 0 || l1ttl > l1TTLCap {
		l1ttl = l1TTLCap
	}
	return h.l1.Set(ctx, key, value, l1ttl)
}

func (h *Hybrid) Delete(ctx context.Context, key string) error {
	_ = h.l1.Delete(ctx, key)
	return h.l2.Delete(ctx, key)
}

func (h *Hybrid) Exists(ctx context.Context, key string) (bool, error) {
	if ok, _ := h.l1.Exists(ctx, key); ok {
		return true, nil
	}
	return h.l2.Exists(ctx, key)
}

// Incr invalidates L1 then operates on L2, so a subsequent Get repopulates
// L1 from the authoritative counter rather than serving a stale cached copy.
func (h *Hybrid) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	_ = h.l1.Delete(ctx, key)
	return h.l2.Incr(ctx, key, delta)
}

func (h *Hybrid) Decr(ctx context.Context, key string, delta int64) (int64, error) {
	_ = h.l1.Delete(ctx, key)
	return h.l2.Decr(ctx, key, delta)
}

// AtomicScript always runs against L2 — the whole point of a scripted atomic
// sequence is server-side indivisibility, which L1 cannot provide across
// instances. L1 for the touched keys is invalidated afterward.
func (h *Hybrid) AtomicScript(ctx context.Context, script Script, keys []string, args []any) (any, error) {
	res, err := h.l2.AtomicScript(ctx, script, keys, args)
	for _, k := range keys {
		_ = h.l1.Delete(ctx, k)
	}
	return res, err
}

func (h *Hybrid) Close() error {
	if err := h.l1.Close(); err != nil {
		return err
	}
	return h.l2.Close()
}
