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

// Package persistence provides idempotent persistence adapters for
// Postgres, Redis, and Kafka. Each adapter applies a CommitEntry exactly
// once per CommitID, even if the caller retries after a crash, timeout, or
// duplicate delivery — re-applying an already-seen CommitID is a no-op.
package persistence

import (
	"context"

	"github.com/google/uuid"
)

// CommitEntry is the adapter-facing shape for a single per-key commit.
//
//   - Key: logical key to update (e.g., a limiter's storage key).
//   - Vector: signed delta to apply; adapters follow the convention that the
//     durable scalar is updated as scalar = scalar - Vector, so a positive
//     Vector reduces availability and a negative Vector refunds it.
//   - CommitID: globally unique idempotency key for this commit. NewCommitID
//     generates one via github.com/google/uuid; re-using the same id for a
//     retried commit makes the operation idempotent.
//   - FencingToken: optional monotonic token guarding against out-of-order
//     application when multiple writers exist; nil disables the check.
type CommitEntry struct {
	Key          string
	Vector       int64
	CommitID     string
	FencingToken *int64
}

// NewCommitID returns a fresh idempotency key for a CommitEntry.
func NewCommitID() string { return uuid.NewString() }

// IdempotentPersister is the minimal API supported by every adapter.
// Implementations must apply each entry atomically with respect to its
// idempotency key, and the call must be safe to retry: a duplicate
// CommitID for the same Key is a no-op.
type IdempotentPersister interface {
	CommitBatch(ctx context.Context, entries []CommitEntry) error
}
