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

package wrappers

import (
	"context"

	"flowctl/pkg/pool"
)

// QueuedResult is the completion handle a Queued call returns, adapted
// from go-microbatch's JobResult shape (see pkg/queue/fifo.go) so callers
// get a typed handle instead of an interface{} future.
type QueuedResult[R any] struct {
	future *pool.Future[R]
}

// Wait blocks until the queued call completes or ctx is cancelled.
func (q *QueuedResult[R]) Wait(ctx context.Context) (R, error) {
	return q.future.Wait(ctx)
}

// Queued wraps fn so each invocation is submitted to p instead of running
// inline; the caller gets back a QueuedResult to wait on, and p's workers
// perform the actual call (spec §4.7's queued wrapper).
func Queued[A, R any](p *pool.Pool[R], fn func(ctx context.Context, arg A) (R, error)) func(ctx context.Context, arg A) (*QueuedResult[R], error) {
	return func(ctx context.Context, arg A) (*QueuedResult[R], error) {
		future, err := p.Submit(ctx, func(ctx context.Context) (R, error) {
			return fn(ctx, arg)
		})
		if err != nil {
			return nil, err
		}
		return &QueuedResult[R]{future: future}, nil
	}
}
