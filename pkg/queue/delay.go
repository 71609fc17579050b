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
	"time"

	"flowctl/internal/clock"
	"flowctl/internal/errs"
	"flowctl/internal/xlog"
)

type delayEntry[T any] struct {
	payload   T
	executeAt time.Time
	seq       uint64
}

// DelayConfig configures spec §4.3's delay queue.
type DelayConfig struct {
	Workers int
	MaxSize int
	Clock   clock.Clock
	Log     *xlog.Logger
}

// Delay realizes spec §4.3's delay queue: a binary heap keyed by
// execute_at, so an item only becomes eligible for Get once its deadline has
// elapsed. Put with an earlier execute_at than any currently pending item
// wakes the dispatcher early rather than waiting for its existing timer.
type Delay[T any] struct {
	*lifecycle

	mu      sync.Mutex
	heap    *genericHeap[delayEntry[T]]
	wake    chan struct{}
	seq     uint64
	maxSize int
	workers int
	clock   clock.Clock
	log     *xlog.Logger
}

func NewDelay[T any](cfg DelayConfig) *Delay[T] {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	less := func(a, b delayEntry[T]) bool {
		if !a.executeAt.Equal(b.executeAt) {
			return a.executeAt.Before(b.executeAt)
		}
		return a.seq < b.seq
	}
	return &Delay[T]{
		lifecycle: newLifecycle(),
		heap:      newGenericHeap(less),
		wake:      make(chan struct{}, 1),
		maxSize:   cfg.MaxSize,
		workers:   workers,
		clock:     c,
		log:       cfg.Log,
	}
}

func (q *Delay[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Put enqueues item eligible for delivery immediately.
func (q *Delay[T]) Put(ctx context.Context, item T) error {
	return q.PutAt(ctx, item, q.clock.Now())
}

// PutAt enqueues item, eligible for delivery no earlier than at.
func (q *Delay[T]) PutAt(ctx context.Context, item T, at time.Time) error {
	if err := q.acceptingPuts(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.maxSize > 0 && q.heap.Len() >= q.maxSize {
		q.mu.Unlock()
		return errs.ErrQueueFull
	}
	q.seq++
	earliest := false
	if head, ok := q.heap.peek(); !ok || at.Before(head.executeAt) {
		earliest = true
	}
	q.heap.push(delayEntry[T]{payload: item, executeAt: at, seq: q.seq})
	q.mu.Unlock()
	if earliest {
		q.signal()
	}
	return nil
}

// Get blocks until the earliest-deadline item is due, ctx is cancelled, or
// the queue is stopped with nothing left pending.
func (q *Delay[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		head, ok := q.heap.peek()
		if ok && !head.executeAt.After(q.clock.Now()) {
			got := q.heap.pop()
			q.mu.Unlock()
			return got.payload, nil
		}
		q.mu.Unlock()

		var timerCh <-chan time.Time
		if ok {
			timer := q.clock.After(head.executeAt.Sub(q.clock.Now()))
			timerCh = timer
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timerCh:
		case <-q.wake:
		case <-q.done():
			q.mu.Lock()
			empty := q.heap.Len() == 0
			q.mu.Unlock()
			if empty {
				return zero, errs.ErrQueueStopped
			}
		}
	}
}

func (q *Delay[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func (q *Delay[T]) Start(handler Handler[T]) {
	if !q.begin() {
		return
	}
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				item, err := q.Get(q.context())
				if err != nil {
					return
				}
				if err := handler(q.context(), item); err != nil && q.log != nil {
					q.log.Warn("delay queue: handler error: %v", err)
				}
			}
		}()
	}
}

func (q *Delay[T]) Stop(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()
	return q.lifecycle.stop(ctx, drained)
}
