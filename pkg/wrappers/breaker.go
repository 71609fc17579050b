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
	"errors"
	"sync"
	"time"

	"flowctl/internal/clock"
)

// BreakerState is one of the three states spec §4.7 defines for the
// circuit breaker.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

// ErrCircuitOpen is returned by Call while the breaker is Open.
var ErrCircuitOpen = errors.New("wrappers: circuit open")

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Threshold is the number of expected-kind failures in Closed before
	// tripping to Open.
	Threshold int
	// Timeout is how long Open lasts before a probe is permitted
	// (transition to HalfOpen).
	Timeout time.Duration
	// IsExpected classifies an error as one that counts toward Threshold.
	// Defaults to treating every non-nil error as expected.
	IsExpected func(error) bool
	Clock      clock.Clock
}

// CircuitBreaker implements spec §4.7's closed/open/half_open state
// machine: closed invokes and counts expected-kind failures, tripping to
// open at Threshold; open rejects immediately until Timeout elapses, then
// permits one half_open probe whose outcome decides the next state.
type CircuitBreaker struct {
	cfg        BreakerConfig
	clk        clock.Clock
	isExpected func(error) bool

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probeOut  bool // a half_open probe is currently in flight
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	isExpected := cfg.IsExpected
	if isExpected == nil {
		isExpected = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{cfg: cfg, clk: c, isExpected: isExpected, state: Closed}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// admit reports whether a call may proceed right now, transitioning Open
// to HalfOpen if Timeout has elapsed, and reserving the single HalfOpen
// probe slot.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if cb.clk.Now().Sub(cb.openedAt) < cb.cfg.Timeout {
			return false
		}
		cb.state = HalfOpen
		cb.probeOut = true
		return true
	case HalfOpen:
		if cb.probeOut {
			return false
		}
		cb.probeOut = true
		return true
	}
	return false
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.probeOut = false
		if err != nil && cb.isExpected(err) {
			cb.state = Open
			cb.openedAt = cb.clk.Now()
			cb.failures = 0
		} else {
			cb.state = Closed
			cb.failures = 0
		}
	case Closed:
		if err != nil && cb.isExpected(err) {
			cb.failures++
			if cb.failures >= cb.cfg.Threshold {
				cb.state = Open
				cb.openedAt = cb.clk.Now()
				cb.failures = 0
			}
		} else {
			cb.failures = 0
		}
	}
}

// Call invokes fn iff the breaker currently admits a call, returning
// ErrCircuitOpen otherwise.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.recordResult(err)
	return err
}

// Breaker wraps a typed callable with a CircuitBreaker, mirroring the other
// wrappers' func(ctx, A) (R, error) shape.
func Breaker[A, R any](cb *CircuitBreaker, fn func(ctx context.Context, arg A) (R, error)) func(ctx context.Context, arg A) (R, error) {
	return func(ctx context.Context, arg A) (R, error) {
		var zero R
		if !cb.admit() {
			return zero, ErrCircuitOpen
		}
		result, err := fn(ctx, arg)
		cb.recordResult(err)
		return result, err
	}
}
