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

// Package errs defines the sentinel error taxonomy shared by storage,
// limiters, queues, and wrappers. A rejected acquire is never an error — it
// is a bool — everything here covers genuine failures, per spec §7.
package errs

import "errors"

var (
	// ErrTransientStorage indicates a retryable storage failure: connection
	// refused, timeout, server busy.
	ErrTransientStorage = errors.New("flowctl: transient storage failure")

	// ErrPermanentStorage indicates a non-retryable storage failure: malformed
	// data, script error.
	ErrPermanentStorage = errors.New("flowctl: permanent storage failure")

	// ErrQueueFull is returned by Put when a bounded queue is at capacity.
	ErrQueueFull = errors.New("flowctl: queue full")

	// ErrQueueStopped is returned by any operation on a queue past Stop.
	ErrQueueStopped = errors.New("flowctl: queue stopped")

	// ErrCancelled indicates caller-initiated abort of a suspendable operation.
	ErrCancelled = errors.New("flowctl: operation cancelled")

	// ErrCircuitOpen is returned by the circuit breaker wrapper while open.
	ErrCircuitOpen = errors.New("flowctl: circuit open")

	// ErrDuplicate is returned by the dedupe queue when a key is already
	// present and unexpired.
	ErrDuplicate = errors.New("flowctl: duplicate key")

	// ErrNotLeader is returned by coordinator operations that require
	// leadership when the caller does not currently hold it.
	ErrNotLeader = errors.New("flowctl: not leader")
)
