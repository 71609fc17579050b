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

// Package queue implements the queue family described in spec §4.3:
// priority, batching FIFO, delay, dedupe, and broadcast, each with a
// dispatcher that pulls items and hands them to a registered Handler
// concurrently up to its configured worker count, plus graceful shutdown
// (spec §4.3's stop() sequence).
package queue

import (
	"context"
)

// Handler processes one item pulled from a queue. Returning an error does
// not stop the dispatcher; Priority, Delay, and Dedupe log it and continue.
// Fifo is the exception: its unit of work is a whole batch, so it is started
// with a BatchFn instead (spec §4.3's batch_fn, retried per §7 — see
// fifo.go).
type Handler[T any] func(ctx context.Context, item T) error

// Queue is the uniform contract every variant satisfies (spec §6).
type Queue[T any] interface {
	// Put enqueues item. It returns errs.ErrQueueFull if the queue is
	// bounded and at capacity, or errs.ErrQueueStopped past Stop.
	Put(ctx context.Context, item T) error
	// Start begins dispatching enqueued items to handler, spawning up to
	// Workers concurrent invocations.
	Start(handler Handler[T])
	// Stop refuses further Put and at once cancels the context handlers are
	// invoked with; cancellation does not wait for ctx's deadline. Dispatchers
	// keep handing out items that are ready (to handlers that see the
	// cancelled context; a Delay item not yet due is left behind) and then
	// exit. Stop waits for them; if ctx's deadline passes first it still
	// waits, then returns ctx.Err().
	Stop(ctx context.Context) error
	// Size reports the number of items currently buffered.
	Size() int
}

// Envelope carries the fields spec §3 attaches to every queue item beyond
// its opaque payload: Priority for the priority queue, ExecuteAt for the
// delay queue, DedupeKey for the dedupe queue. Queue variants that don't use
// a field simply ignore it.
type Envelope[T any] struct {
	Payload    T
	Priority   int64
	EnqueuedAt int64 // UnixNano; used for FIFO tie-breaking on equal Priority
	ExecuteAt  int64 // UnixNano; zero means "now"
	DedupeKey  string
}
