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

package storage

import (
	"container/list"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"flowctl/internal/clock"
)

// entry is one Local slot. value holds whatever a caller last Set (a string
// for the public Get/Set/Incr/Decr surface, or an arbitrary typed value for
// Script.Exec via LocalOps, e.g. a limiter's bucket state struct).
type entry struct {
	value     any
	expiresAt time.Time // zero means no TTL
	elem      *list.Element
}

// Local is the in-memory Storage variant. Mutating operations are serialized
// through a single mutex, as spec §4.1 requires; TTL is enforced lazily at
// read time; a background sweeper is explicitly optional and omitted here.
// On reaching MaxSize, the least-recently-accessed key is evicted, bounding
// eviction cost to an amortized constant on the hot path (spec §4.1, §5).
type Local struct {
	mu      sync.Mutex
	data    map[string]*entry
	order   *list.List // front = most recently used
	maxSize int
	clock   clock.Clock
}

// NewLocal constructs a Local store. maxSize <= 0 means unbounded.
func NewLocal(maxSize int) *Local {
	return NewLocalWithClock(maxSize, clock.Default)
}

// NewLocalWithClock is NewLocal with an injectable Clock, for tests.
func NewLocalWithClock(maxSize int, c clock.Clock) *Local {
	return &Local{
		data:    make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
		clock:   c,
	}
}

// touch moves key's list element to the front (most-recently-used).
func (l *Local) touch(e *entry) {
	l.order.MoveToFront(e.elem)
}

// expired reports whether e has passed its TTL as of now.
func expired(e *entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// loadLocked returns the live (unexpired) entry for key, deleting it first if
// it has expired. Caller must hold l.mu.
func (l *Local) loadLocked(key string, now time.Time) (*entry, bool) {
	e, ok := l.data[key]
	if !ok {
		return nil, false
	}
	if expired(e, now) {
		l.deleteLocked(key)
		return nil, false
	}
	return e, true
}

func (l *Local) deleteLocked(key string) {
	if e, ok := l.data[key]; ok {
		l.order.Remove(e.elem)
		delete(l.data, key)
	}
}

// storeLocked upserts key, evicting the LRU tail if the store would exceed maxSize.
func (l *Local) storeLocked(key string, value any, ttl time.Duration, now time.Time) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	if e, ok := l.data[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		l.touch(e)
		return
	}
	elem := l.order.PushFront(key)
	e := &entry{value: value, expiresAt: expiresAt, elem: elem}
	l.data[key] = e

	if l.maxSize > 0 && len(l.data) > l.maxSize {
		back := l.order.Back()
		if back != nil {
			evictKey := back.Value.(string)
			l.deleteLocked(evictKey)
		}
	}
}

func (l *Local) Get(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	e, ok := l.loadLocked(key, now)
	if !ok {
		return "", false, nil
	}
	l.touch(e)
	s, ok := e.value.(string)
	if !ok {
		return "", false, fmt.Errorf("flowctl: local key %q does not hold a string value", key)
	}
	return s, true, nil
}

func (l *Local) Set(_ context.Context, key, value string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.storeLocked(key, value, ttl, l.clock.Now())
	return nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleteLocked(key)
	return nil
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loadLocked(key, l.clock.Now())
	return ok, nil
}

func (l *Local) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	return l.addInt(ctx, key, delta)
}

func (l *Local) Decr(ctx context.Context, key string, delta int64) (int64, error) {
	return l.addInt(ctx, key, -delta)
}

func (l *Local) addInt(_ context.Context, key string, delta int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	var current int64
	if e, ok := l.loadLocked(key, now); ok {
		s, ok := e.value.(string)
		if !ok {
			return 0, fmt.Errorf("flowctl: local key %q does not hold a numeric value", key)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("flowctl: local key %q is not an integer: %w", key, err)
		}
		current = n
	}
	next := current + delta
	l.storeLocked(key, strconv.FormatInt(next, 10), 0, now)
	return next, nil
}

func (l *Local) AtomicScript(_ context.Context, script Script, keys []string, args []any) (any, error) {
	if script.Exec == nil {
		return nil, fmt.Errorf("flowctl: script %q has no Local.Exec implementation", script.Name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()

	// Evict expired keys among those the script is about to touch so Exec
	// never observes stale state, matching Remote's own TTL handling.
	for _, k := range keys {
		if e, ok := l.data[k]; ok && expired(e, now) {
			l.deleteLocked(k)
		}
	}

	ops := &localOps{store: l, now: now}
	return script.Exec(now, ops, keys, args)
}

func (l *Local) Close() error { return nil }

// Len reports the number of live (not lazily-evicted) entries. Useful for tests.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data)
}

// localOps adapts Local's locked map to the LocalOps surface Script.Exec sees.
// It must only be used while l.mu is held.
type localOps struct {
	store *Local
	now   time.Time
}

func (o *localOps) Load(key string) (any, bool) {
	e, ok := o.store.loadLocked(key, o.now)
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (o *localOps) Store(key string, val any) {
	o.store.storeLocked(key, val, 0, o.now)
}
