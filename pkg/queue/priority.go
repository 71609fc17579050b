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

	"flowctl/internal/clock"
	"flowctl/internal/errs"
	"flowctl/internal/xlog"
)

type priorityEntry[T any] struct {
	payload  T
	priority int64
	seq      uint64
}

// PriorityConfig mirrors spec §6's persisted-configuration table.
type PriorityConfig struct {
	Workers int
	MaxSize int // <= 0 means unbounded
	Clock   clock.Clock
	Log     *xlog.Logger
}

// Priority realizes spec §4.3's priority queue: a binary heap keyed by
// (-priority, enqueue_instant), so strictly larger priority drains first and
// ties break FIFO by enqueue order (spec §3, §8 scenario 4). Put rejects
// with errs.ErrQueueFull at MaxSize rather than blocking — "the choice is
// error" per spec §4.3.
type Priority[T any] struct {
	*lifecycle

	mu      sync.Mutex
	heap    *genericHeap[priorityEntry[T]]
	notify  chan struct{}
	seq     uint64
	maxSize int
	workers int
	clock   clock.Clock
	log     *xlog.Logger
}

func NewPriority[T any](cfg PriorityConfig) *Priority[T] {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	less := func(a, b priorityEntry[T]) bool {
		if a.priority != b.priority {
			return a.priority > b.priority // larger priority drains first
		}
		return a.seq < b.seq // FIFO on ties
	}
	return &Priority[T]{
		lifecycle: newLifecycle(),
		heap:      newGenericHeap(less),
		notify:    make(chan struct{}, 1),
		maxSize:   cfg.MaxSize,
		workers:   workers,
		clock:     c,
		log:       cfg.Log,
	}
}

func (q *Priority[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Priority[T]) Put(ctx context.Context, item T) error {
	return q.PutPriority(ctx, item, 0)
}

// PutPriority enqueues item with an explicit priority; larger drains first.
func (q *Priority[T]) PutPriority(ctx context.Context, item T, priority int64) error {
	if err := q.acceptingPuts(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.maxSize > 0 && q.heap.Len() >= q.maxSize {
		q.mu.Unlock()
		return errs.ErrQueueFull
	}
	q.seq++
	q.heap.push(priorityEntry[T]{payload: item, priority: priority, seq: q.seq})
	q.mu.Unlock()
	q.wake()
	return nil
}

// Get blocks until an item is available, ctx is cancelled, or the queue is
// stopped and drained.
func (q *Priority[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if e, ok := q.heap.peek(); ok {
			_ = e
			got := q.heap.pop()
			q.mu.Unlock()
			return got.payload, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notify:
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

func (q *Priority[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func (q *Priority[T]) Start(handler Handler[T]) {
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
					q.log.Warn("priority queue: handler error: %v", err)
				}
			}
		}()
	}
}

func (q *Priority[T]) Stop(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()
	return q.lifecycle.stop(ctx, drained)
}
