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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"flowctl/internal/clock"
	"flowctl/internal/errs"
	"flowctl/internal/xlog"
)

// KeyFunc derives a dedupe key from a payload. The zero value for Dedupe
// falls back to hashing fmt.Sprintf("%v", item) with sha256.
type KeyFunc[T any] func(item T) string

// DedupeConfig configures spec §4.3's dedupe queue.
type DedupeConfig[T any] struct {
	Workers int
	MaxSize int
	// Window is how long a key suppresses duplicate Puts after the first
	// one is accepted; a duplicate arriving inside Window is dropped
	// silently (spec §4.3: "the second put is a no-op").
	Window time.Duration
	KeyFn  KeyFunc[T]
	Clock  clock.Clock
	Log    *xlog.Logger
}

// Dedupe realizes spec §4.3's dedupe queue: plain FIFO delivery, but Put
// drops an item whose key was already accepted within Window.
type Dedupe[T any] struct {
	*lifecycle

	mu      sync.Mutex
	items   []T
	seen    map[string]time.Time
	window  time.Duration
	maxSize int
	workers int
	keyFn   KeyFunc[T]
	clock   clock.Clock
	log     *xlog.Logger
	notify  chan struct{}
}

func NewDedupe[T any](cfg DedupeConfig[T]) *Dedupe[T] {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	keyFn := cfg.KeyFn
	if keyFn == nil {
		keyFn = defaultKeyFn[T]
	}
	return &Dedupe[T]{
		lifecycle: newLifecycle(),
		seen:      make(map[string]time.Time),
		window:    cfg.Window,
		maxSize:   cfg.MaxSize,
		workers:   workers,
		keyFn:     keyFn,
		clock:     c,
		log:       cfg.Log,
		notify:    make(chan struct{}, 1),
	}
}

func defaultKeyFn[T any](item T) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", item)))
	return hex.EncodeToString(sum[:])
}

func (q *Dedupe[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Dedupe[T]) evictExpiredLocked(now time.Time) {
	if q.window <= 0 {
		return
	}
	for k, at := range q.seen {
		if now.Sub(at) >= q.window {
			delete(q.seen, k)
		}
	}
}

// Put enqueues item unless its key was already accepted within Window, in
// which case Put returns nil without enqueueing — a duplicate is dropped,
// not an error.
func (q *Dedupe[T]) Put(ctx context.Context, item T) error {
	if err := q.acceptingPuts(); err != nil {
		return err
	}
	key := q.keyFn(item)
	now := q.clock.Now()

	q.mu.Lock()
	q.evictExpiredLocked(now)
	if _, dup := q.seen[key]; dup {
		q.mu.Unlock()
		return nil
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.mu.Unlock()
		return errs.ErrQueueFull
	}
	q.seen[key] = now
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *Dedupe[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notify:
		case <-q.done():
			q.mu.Lock()
			empty := len(q.items) == 0
			q.mu.Unlock()
			if empty {
				return zero, errs.ErrQueueStopped
			}
		}
	}
}

func (q *Dedupe[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Dedupe[T]) Start(handler Handler[T]) {
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
					q.log.Warn("dedupe queue: handler error: %v", err)
				}
			}
		}()
	}
}

func (q *Dedupe[T]) Stop(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()
	return q.lifecycle.stop(ctx, drained)
}
