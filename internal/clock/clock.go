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

// Package clock provides an injectable monotonic time source so limiters,
// queues, and the coordinator can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the minimal time surface every suspendable component depends on.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker so fakes can control delivery.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock, a thin pass-through to the time package.
type Real struct{}

func (Real) Now() time.Time                       { return time.Now() }
func (Real) Sleep(d time.Duration)                { time.Sleep(d) }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Default is the process-wide convenience instance. Components accept an
// explicit Clock at construction; Default exists only so callers that don't
// care can omit it, never as hidden mutable state consulted behind their back.
var Default Clock = Real{}

// Fake is a manually-advanced Clock for deterministic tests.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	subs []*fakeTicker
}

// NewFake returns a Fake anchored at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep on a Fake returns immediately; tests drive time via Advance.
func (f *Fake) Sleep(time.Duration) {}

// After on a Fake moves the fake clock forward by d and returns a channel
// that already holds the new time, so a wait on it ends at once.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	f.now = f.now.Add(d)
	ch <- f.now
	f.mu.Unlock()
	return ch
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time, 1), interval: d}
	f.mu.Lock()
	f.subs = append(f.subs, t)
	f.mu.Unlock()
	return t
}

// Advance moves the fake clock forward by d and sends the new time to every
// ticker that has not been stopped, whatever its interval; a tick that a
// ticker's one-slot channel cannot take is dropped.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	for _, t := range f.subs {
		if t.stopped {
			continue
		}
		select {
		case t.ch <- f.now:
		default:
		}
	}
}

type fakeTicker struct {
	ch       chan time.Time
	interval time.Duration
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }
