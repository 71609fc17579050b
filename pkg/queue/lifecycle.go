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

package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"flowctl/internal/errs"
)

// lifecycle states, shared by every queue variant's Start/Stop. Grounded on
// internal/ratelimiter/core/worker.go's stopChan+sync.WaitGroup+atomic
// "stopped" flag shape, generalized from one background worker to an
// arbitrary number of dispatcher goroutines.
const (
	lifecycleNew int32 = iota
	lifecycleRunning
	lifecycleStopping
	lifecycleStopped
)

// lifecycle is embedded by every queue variant to provide the common
// start/accept/drain/cancel bookkeeping spec §4.3's graceful shutdown needs.
type lifecycle struct {
	state int32

	cancel context.CancelFunc
	ctx    context.Context

	wg sync.WaitGroup

	once sync.Once
}

func newLifecycle() *lifecycle {
	ctx, cancel := context.WithCancel(context.Background())
	return &lifecycle{ctx: ctx, cancel: cancel}
}

// begin transitions New->Running once; subsequent calls are no-ops, so
// Start is idempotent, matching spec §4.3's queue.start() contract.
func (l *lifecycle) begin() bool {
	return atomic.CompareAndSwapInt32(&l.state, lifecycleNew, lifecycleRunning)
}

// acceptingPuts reports whether Put should proceed.
func (l *lifecycle) acceptingPuts() error {
	switch atomic.LoadInt32(&l.state) {
	case lifecycleStopping, lifecycleStopped:
		return errs.ErrQueueStopped
	default:
		return nil
	}
}

// done returns the cancellation context dispatcher loops should select on.
func (l *lifecycle) done() <-chan struct{} { return l.ctx.Done() }

// context returns the in-flight cancellation context handlers should be
// invoked with.
func (l *lifecycle) context() context.Context { return l.ctx }

// running reports whether Start has completed and Stop has not yet begun.
// Variants whose Put requires a live dispatcher (the FIFO queue, which binds
// its batching processor at Start time) use this instead of acceptingPuts.
func (l *lifecycle) running() bool {
	return atomic.LoadInt32(&l.state) == lifecycleRunning
}

// stop runs spec §4.3's shutdown sequence: mark Stopping (refuses further
// Put), cancel so any dispatcher goroutine blocked in a Get-like wait
// unblocks and observes the cancellation, then wait for drainDone to close
// — either cleanly, or because ctx's deadline fired first, in which case
// in-flight work has already been cancelled and Stop returns ctx.Err().
// drainDone must close once every dispatcher goroutine this lifecycle owns
// has exited. Mirrors pkg/pool.Pool.Stop and pkg/scheduler.Scheduler.Stop,
// which both call cancel() unconditionally before waiting.
func (l *lifecycle) stop(ctx context.Context, drainDone <-chan struct{}) error {
	atomic.CompareAndSwapInt32(&l.state, lifecycleRunning, lifecycleStopping)
	atomic.CompareAndSwapInt32(&l.state, lifecycleNew, lifecycleStopped)
	l.cancel()

	select {
	case <-drainDone:
		atomic.StoreInt32(&l.state, lifecycleStopped)
		return nil
	case <-ctx.Done():
		<-drainDone
		atomic.StoreInt32(&l.state, lifecycleStopped)
		return ctx.Err()
	}
}
