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
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joeycumines/go-microbatch"

	"flowctl/internal/clock"
	"flowctl/internal/errs"
	"flowctl/internal/xlog"
)

// BatchFn is spec §4.3's batch_fn: invoked once with the whole accumulated
// batch, not once per item. "on failure it is retried per the error-handling
// policy (§7)" — FifoConfig's RetryBudget/RetryBackoff govern that retry.
type BatchFn[T any] func(ctx context.Context, items []T) error

// FifoConfig configures spec §4.3's batching FIFO queue.
type FifoConfig struct {
	// MaxBatchSize caps items per batch (0 uses microbatch's default of 16).
	MaxBatchSize int
	// FlushInterval bounds how long a partial batch waits before it is
	// handed to the handler anyway (0 uses microbatch's default of 50ms).
	FlushInterval time.Duration
	// MaxConcurrency caps concurrently in-flight batches (0 defaults to 1).
	MaxConcurrency int
	// RetryBudget bounds how many times batch_fn is invoked for one batch
	// before the batch is given up on (spec §7's "every retry decrements a
	// budget and ultimately surfaces"). 0 defaults to 3.
	RetryBudget int
	// RetryBackoff builds the backoff.BackOff used between retries of one
	// batch; called fresh per batch since backoff.BackOff is stateful and
	// batches may run concurrently. nil uses a default exponential backoff.
	RetryBackoff func() backoff.BackOff
	Clock        clock.Clock
	Log          *xlog.Logger
}

// Fifo realizes spec §4.3's batching FIFO: plain arrival-order delivery,
// grouped into batches so batch_fn can process many items per invocation
// (e.g. one round trip instead of N). Built directly on
// github.com/joeycumines/go-microbatch's Batcher, which already implements
// the size/interval/concurrency-bounded batching loop — it is not
// reimplemented here.
type Fifo[T any] struct {
	*lifecycle

	cfg     FifoConfig
	log     *xlog.Logger
	clock   clock.Clock
	batcher *microbatch.Batcher[T]
	pending atomic.Int64
}

func NewFifo[T any](cfg FifoConfig) *Fifo[T] {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	return &Fifo[T]{lifecycle: newLifecycle(), cfg: cfg, log: cfg.Log, clock: c}
}

func (q *Fifo[T]) newRetryBackoff() backoff.BackOff {
	if q.cfg.RetryBackoff != nil {
		return q.cfg.RetryBackoff()
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // the RetryBudget attempt count bounds retries, not elapsed time
	return b
}

// Put enqueues item with the running batcher. Fifo must be Start-ed first,
// since the handler is bound into the microbatch processor at Start time.
func (q *Fifo[T]) Put(ctx context.Context, item T) error {
	if !q.running() {
		return errs.ErrQueueStopped
	}
	q.pending.Add(1)
	if _, err := q.batcher.Submit(ctx, item); err != nil {
		q.pending.Add(-1)
		return err
	}
	return nil
}

func (q *Fifo[T]) Size() int {
	return int(q.pending.Load())
}

// Start binds fn as the batch's batch_fn and begins dispatching. fn is
// invoked with the whole accumulated batch (spec §4.3); on error it is
// called again, at most RetryBudget calls in all, with RetryBackoff between
// attempts
// (spec §7), and if every attempt fails the batch is dropped and the final
// error logged — Put does not return a future, so there is nowhere else to
// surface it once Put has already returned.
func (q *Fifo[T]) Start(fn BatchFn[T]) {
	if !q.begin() {
		return
	}
	budget := q.cfg.RetryBudget
	if budget <= 0 {
		budget = 3
	}
	q.batcher = microbatch.NewBatcher[T](&microbatch.BatcherConfig{
		MaxSize:        q.cfg.MaxBatchSize,
		FlushInterval:  q.cfg.FlushInterval,
		MaxConcurrency: q.cfg.MaxConcurrency,
	}, func(ctx context.Context, jobs []T) error {
		defer q.pending.Add(-int64(len(jobs)))

		b := q.newRetryBackoff()
		var err error
	retryLoop:
		for attempt := 1; attempt <= budget; attempt++ {
			if err = fn(ctx, jobs); err == nil {
				return nil
			}
			if attempt == budget {
				break
			}
			d := b.NextBackOff()
			if d == backoff.Stop {
				break
			}
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break retryLoop
			case <-q.clock.After(d):
			}
		}
		if q.log != nil {
			q.log.Error("fifo queue: batch_fn failed after %d attempt(s), giving up on batch of %d: %v", budget, len(jobs), err)
		}
		return err
	})
}

func (q *Fifo[T]) Stop(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		if q.batcher != nil {
			_ = q.batcher.Shutdown(ctx)
		}
		close(drained)
	}()
	return q.lifecycle.stop(ctx, drained)
}
