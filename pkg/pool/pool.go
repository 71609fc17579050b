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

// Package pool implements the auto-scaling worker pool described in
// spec §4.4: a bounded worker count in [Min, Max] that grows and shrinks
// with load, running submitted tasks that each resolve a Future.
//
// It is grounded on internal/ratelimiter/core/worker.go's shape: a single
// ticker-driven control loop inspecting shared state and reacting to it,
// generalized from "commit/evict VSAs on a schedule" to "grow/shrink a
// worker fleet on load" (spec §4.4's check_interval loop).
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"flowctl/internal/clock"
	"flowctl/internal/xlog"
)

// Config configures a Pool.
type Config struct {
	Min           int
	Max           int
	CheckInterval time.Duration
	// ScaleUp is the load threshold (pending/workers) above which the pool
	// grows by one worker per CheckInterval tick.
	ScaleUp float64
	// ScaleDown is the load threshold below which the pool shrinks by one
	// worker per CheckInterval tick.
	ScaleDown float64
	Clock     clock.Clock
	Log       *xlog.Logger
}

type task[R any] struct {
	fn     func(ctx context.Context) (R, error)
	result chan taskResult[R]
}

type taskResult[R any] struct {
	value R
	err   error
}

// Future resolves to a submitted task's result once it has run.
type Future[R any] struct {
	ch chan taskResult[R]
}

// Wait blocks until the task completes or ctx is cancelled.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	var zero R
	select {
	case res := <-f.ch:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Pool is an auto-scaling worker pool: submit(fn, args) in spec terms is
// Submit(ctx, fn) here, returning a Future that resolves to fn's result.
type Pool[R any] struct {
	cfg Config
	clk clock.Clock
	log *xlog.Logger

	mu     sync.Mutex
	tasks  []task[R]
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	workers int32 // current live worker count
	stopOne chan struct{}

	started atomic.Bool
}

func New[R any](cfg Config) *Pool[R] {
	if cfg.Min < 0 {
		cfg.Min = 0
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if cfg.Max == 0 {
		cfg.Max = 1
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if cfg.ScaleUp <= 0 {
		cfg.ScaleUp = 1.0
	}
	if cfg.ScaleDown <= 0 {
		cfg.ScaleDown = 0.25
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[R]{
		cfg:     cfg,
		clk:     c,
		log:     cfg.Log,
		notify:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopOne: make(chan struct{}),
	}
}

// Start launches Min workers and the scaling control loop.
func (p *Pool[R]) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.cfg.Min; i++ {
		p.spawnWorker()
	}
	p.wg.Add(1)
	go p.controlLoop()
}

func (p *Pool[R]) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Submit enqueues fn and returns a Future resolving to its outcome.
func (p *Pool[R]) Submit(ctx context.Context, fn func(ctx context.Context) (R, error)) (*Future[R], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := task[R]{fn: fn, result: make(chan taskResult[R], 1)}
	p.mu.Lock()
	p.tasks = append(p.tasks, t)
	p.mu.Unlock()
	p.wake()
	return &Future[R]{ch: t.result}, nil
}

func (p *Pool[R]) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *Pool[R]) popTask() (task[R], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tasks) == 0 {
		var zero task[R]
		return zero, false
	}
	t := p.tasks[0]
	p.tasks = p.tasks[1:]
	return t, true
}

func (p *Pool[R]) spawnWorker() {
	atomic.AddInt32(&p.workers, 1)
	p.wg.Add(1)
	go p.runWorker()
}

func (p *Pool[R]) runWorker() {
	defer p.wg.Done()
	defer atomic.AddInt32(&p.workers, -1)
	for {
		select {
		case <-p.stopOne:
			return
		default:
		}

		if t, ok := p.popTask(); ok {
			p.run(t)
			continue
		}

		select {
		case <-p.stopOne:
			return
		case <-p.ctx.Done():
			return
		case <-p.notify:
		}
	}
}

func (p *Pool[R]) run(t task[R]) {
	value, err := t.fn(p.ctx)
	t.result <- taskResult[R]{value: value, err: err}
}

// controlLoop implements spec §4.4's scaling rule every CheckInterval:
// load = pending/max(workers,1); grow by one worker above ScaleUp, shrink
// by one below ScaleDown, clamped to [Min, Max].
func (p *Pool[R]) controlLoop() {
	defer p.wg.Done()
	ticker := p.clk.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C():
			p.rescale()
		}
	}
}

func (p *Pool[R]) rescale() {
	w := int(atomic.LoadInt32(&p.workers))
	if w == 0 {
		w = 1
	}
	load := float64(p.pending()) / float64(w)

	switch {
	case load > p.cfg.ScaleUp && w < p.cfg.Max:
		p.spawnWorker()
		if p.log != nil {
			p.log.Info("pool: scaling up to %d workers (load=%.2f)", w+1, load)
		}
	case load < p.cfg.ScaleDown && w > p.cfg.Min:
		select {
		case p.stopOne <- struct{}{}:
			if p.log != nil {
				p.log.Info("pool: scaling down to %d workers (load=%.2f)", w-1, load)
			}
		default:
		}
	}
}

// Stop cancels the control loop and waits for in-flight tasks to return, or
// for ctx's deadline, whichever comes first.
func (p *Pool[R]) Stop(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size reports the number of tasks currently queued (not yet picked up by a
// worker).
func (p *Pool[R]) Size() int { return p.pending() }

// Workers reports the current live worker count.
func (p *Pool[R]) Workers() int { return int(atomic.LoadInt32(&p.workers)) }
