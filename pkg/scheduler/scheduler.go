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

// Package scheduler implements spec §4.5's periodic task dispatcher: named
// (interval, callable) entries driven by a single loop that always sleeps
// to the nearest next_run, fires due entries, and reschedules them.
//
// Grounded on internal/ratelimiter/core/worker.go's ticker-driven loops,
// generalized from two fixed intervals (commit, eviction) to an arbitrary
// number of independently-registered named entries sharing one loop.
package scheduler

import (
	"context"
	"sync"
	"time"

	"flowctl/internal/clock"
	"flowctl/internal/xlog"
)

// Callable is a scheduled unit of work. Its error is logged, not
// propagated — a failing entry does not stop the scheduler or other
// entries.
type Callable func(ctx context.Context) error

type entry struct {
	name     string
	interval time.Duration
	fn       Callable
	nextRun  time.Time
}

// Config configures a Scheduler.
type Config struct {
	Clock clock.Clock
	Log   *xlog.Logger
}

// Scheduler runs registered entries on their own interval from a single
// loop, per spec §4.5's accuracy target of ±100ms.
type Scheduler struct {
	clk clock.Clock
	log *xlog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	runningWg sync.WaitGroup
}

func New(cfg Config) *Scheduler {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clk:     c,
		log:     cfg.Log,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds (or replaces) a named entry that fires every interval,
// starting one interval from now.
func (s *Scheduler) Register(name string, interval time.Duration, fn Callable) {
	s.mu.Lock()
	s.entries[name] = &entry{
		name:     name,
		interval: interval,
		fn:       fn,
		nextRun:  s.clk.Now().Add(interval),
	}
	s.mu.Unlock()
	s.signalWake()
}

// Unregister removes a named entry; it will not fire again.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the single dispatch loop.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		wait, ok := s.nextWait()
		var timerCh <-chan time.Time
		if ok {
			timerCh = s.clk.After(wait)
		}

		select {
		case <-s.ctx.Done():
			s.runningWg.Wait()
			return
		case <-s.wake:
			continue
		case <-timerCh:
			s.fireDue()
		}
	}
}

// nextWait returns the duration until the nearest next_run across all
// entries, or ok=false if there are no entries registered.
func (s *Scheduler) nextWait() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return 0, false
	}
	now := s.clk.Now()
	earliest := time.Time{}
	for _, e := range s.entries {
		if earliest.IsZero() || e.nextRun.Before(earliest) {
			earliest = e.nextRun
		}
	}
	if earliest.Before(now) {
		return 0, true
	}
	return earliest.Sub(now), true
}

// fireDue runs every entry whose next_run has elapsed, concurrently, and
// advances its next_run by its interval before the next loop iteration —
// a slow callable does not delay other entries' schedules.
func (s *Scheduler) fireDue() {
	now := s.clk.Now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.nextRun.After(now) {
			due = append(due, e)
			e.nextRun = e.nextRun.Add(e.interval)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		e := e
		s.runningWg.Add(1)
		go func() {
			defer s.runningWg.Done()
			if err := e.fn(s.ctx); err != nil && s.log != nil {
				s.log.Warn("scheduler: entry %q failed: %v", e.name, err)
			}
		}()
	}
}

// Stop cancels the dispatch loop and waits for in-flight entry invocations
// to return, or for ctx's deadline, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
