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

	"flowctl/internal/xlog"
)

// BroadcastConfig configures spec §4.3's broadcast queue.
type BroadcastConfig struct {
	// InboxSize bounds each subscriber's private buffer. When a
	// subscriber's inbox is full, the oldest buffered item for that
	// subscriber — and only that subscriber — is dropped to make room
	// (spec §4.3: a slow subscriber never blocks the others).
	InboxSize int
	Log       *xlog.Logger
}

type broadcastSub[T any] struct {
	id int
	ch chan T
}

// Broadcast realizes spec §4.3's broadcast queue: every Put is fanned out
// to every currently subscribed consumer, each with its own bounded inbox.
// Broadcast does not implement the Queue interface directly (its delivery
// model is 1-to-N, not 1-to-1), but otherwise follows the same lifecycle
// conventions as the other variants.
type Broadcast[T any] struct {
	*lifecycle

	mu      sync.Mutex
	subs    map[int]*broadcastSub[T]
	nextID  int
	inboxSz int
	log     *xlog.Logger
}

func NewBroadcast[T any](cfg BroadcastConfig) *Broadcast[T] {
	sz := cfg.InboxSize
	if sz <= 0 {
		sz = 1
	}
	return &Broadcast[T]{
		lifecycle: newLifecycle(),
		subs:      make(map[int]*broadcastSub[T]),
		inboxSz:   sz,
		log:       cfg.Log,
	}
}

// Subscribe registers a new consumer and returns its inbox channel along
// with an unsubscribe function. The inbox is closed once unsubscribe runs
// or Broadcast is stopped.
func (b *Broadcast[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &broadcastSub[T]{id: id, ch: make(chan T, b.inboxSz)}
	b.subs[id] = sub

	return sub.ch, func() { b.unsubscribe(id) }
}

func (b *Broadcast[T]) unsubscribe(id int) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Put fans item out to every currently subscribed consumer. A subscriber
// whose inbox is full has its oldest pending item dropped to make room,
// rather than blocking Put or the other subscribers.
func (b *Broadcast[T]) Put(ctx context.Context, item T) error {
	if err := b.acceptingPuts(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		b.deliverOrDrop(sub, item)
	}
	return nil
}

func (b *Broadcast[T]) deliverOrDrop(sub *broadcastSub[T], item T) {
	select {
	case sub.ch <- item:
		return
	default:
	}
	// inbox full: drop the oldest item for this subscriber, then retry.
	select {
	case <-sub.ch:
		if b.log != nil {
			b.log.Warn("broadcast queue: dropped oldest item for slow subscriber %d", sub.id)
		}
	default:
	}
	select {
	case sub.ch <- item:
	default:
		// subscriber's inbox was refilled concurrently; drop this item.
	}
}

func (b *Broadcast[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, sub := range b.subs {
		total += len(sub.ch)
	}
	return total
}

// Start is a no-op: broadcast delivery happens inline from Put via
// Subscribe's channels, there is no single dispatcher loop to spawn.
func (b *Broadcast[T]) Start(Handler[T]) { b.begin() }

func (b *Broadcast[T]) Stop(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		b.mu.Lock()
		for id, sub := range b.subs {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
		close(drained)
	}()
	return b.lifecycle.stop(ctx, drained)
}
