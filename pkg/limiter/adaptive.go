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
	"sync"
	"time"

	"flowctl/internal/clock"
	"flowctl/internal/storage"
)

// AdaptiveConfig mirrors spec §6's persisted-configuration table for the
// adaptive AIMD limiter.
type AdaptiveConfig struct {
	InitialRate    float64
	MinRate        float64
	MaxRate        float64
	IncreaseStep   float64
	DecreaseFactor float64 // in (0,1)
	ErrorThreshold float64 // in [0,1]
	Window         time.Duration
	Scope          string
	Clock          clock.Clock
}

// Adaptive realizes spec §4.2's AIMD limiter. Its rate-control state
// (current_rate, rolling successes/errors, window anchor) is global to the
// limiter instance and lives in memory, not in Storage — spec §3 describes
// it as per-instance state, distinct from the per-(scope,key) bucket state
// every other limiter replicates across storage. Acquire still delegates the
// actual admission check to the shared token-bucket script against Storage,
// so the debited balance itself remains visible across instances even while
// the rate that governs it adapts independently per instance.
type Adaptive struct {
	store storage.Storage
	clock clock.Clock
	cfg   AdaptiveConfig
	scope string

	mu          sync.Mutex
	currentRate float64
	windowStart time.Time
	successes   int64
	errorCount  int64
}

func NewAdaptive(store storage.Storage, cfg AdaptiveConfig) *Adaptive {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &Adaptive{
		store:       store,
		clock:       c,
		cfg:         cfg,
		scope:       cfg.Scope,
		currentRate: cfg.InitialRate,
		windowStart: c.Now(),
	}
}

func (a *Adaptive) key(key string) string {
	return scopedKey(a.scope, "adaptive", key)
}

// ReportSuccess records a successful downstream call, per spec §4.2's
// "callers report outcomes via report_success()/report_error()".
func (a *Adaptive) ReportSuccess() {
	a.mu.Lock()
	a.successes++
	a.mu.Unlock()
}

// ReportError records a failed downstream call.
func (a *Adaptive) ReportError() {
	a.mu.Lock()
	a.errorCount++
	a.mu.Unlock()
}

// rotateWindowLocked applies the AIMD adjustment once per configured window,
// checked lazily on each Acquire rather than via a background goroutine
// (spec §4.2: "no background thread required for correctness"). Caller must
// hold a.mu.
func (a *Adaptive) rotateWindowLocked(now time.Time) {
	if now.Sub(a.windowStart) < a.cfg.Window {
		return
	}
	total := a.successes + a.errorCount
	errRate := 0.0
	if total > 0 {
		errRate = float64(a.errorCount) / float64(total)
	}
	if errRate > a.cfg.ErrorThreshold {
		a.currentRate = a.currentRate * a.cfg.DecreaseFactor
		if a.currentRate < a.cfg.MinRate {
			a.currentRate = a.cfg.MinRate
		}
	} else {
		a.currentRate = a.currentRate + a.cfg.IncreaseStep
		if a.currentRate > a.cfg.MaxRate {
			a.currentRate = a.cfg.MaxRate
		}
	}
	a.successes = 0
	a.errorCount = 0
	a.windowStart = now
}

// CurrentRate returns the limiter's current admission rate, rotating the
// window first if due. Exposed for tests and metrics export.
func (a *Adaptive) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rotateWindowLocked(a.clock.Now())
	return a.currentRate
}

func (a *Adaptive) Acquire(ctx context.Context, key string, n int64) (bool, error) {
	now := a.clock.Now()
	a.mu.Lock()
	a.rotateWindowLocked(now)
	rate := a.currentRate
	a.mu.Unlock()

	res, err := a.store.AtomicScript(ctx, tokenBucketAcquireScript, []string{a.key(key)},
		[]any{float64(n), rate, rate, float64(now.UnixNano())})
	if err != nil {
		return false, err
	}
	v, err := asInt64(res)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

func (a *Adaptive) Release(ctx context.Context, key string, n int64) error {
	a.mu.Lock()
	rate := a.currentRate
	a.mu.Unlock()
	_, err := a.store.AtomicScript(ctx, tokenBucketReleaseScript, []string{a.key(key)},
		[]any{float64(n), rate, float64(a.clock.Now().UnixNano())})
	return err
}

func (a *Adaptive) Stats(ctx context.Context, key string) (Stats, error) {
	now := a.clock.Now()
	a.mu.Lock()
	a.rotateWindowLocked(now)
	rate := a.currentRate
	a.mu.Unlock()

	raw, ok, err := a.store.Get(ctx, a.key(key))
	if err != nil {
		return Stats{}, err
	}
	balance := rate
	last := now
	if ok {
		_, b, at, err := loadLevelState(raw)
		if err != nil {
			return Stats{}, err
		}
		balance, last = b, at
	}
	elapsed := now.Sub(last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	balance += elapsed * rate
	if balance > rate {
		balance = rate
	}
	return Stats{Available: balance, Max: rate, Rate: rate, LastUpdate: now}, nil
}
