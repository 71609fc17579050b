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

// Package coordinator implements spec §4.6's distributed leader election:
// an atomic "set key if absent with TTL" over storage.Storage, extended by
// a heartbeat that only renews the TTL while the stored value still
// matches this instance's identifier.
//
// Grounded on internal/ratelimiter/persistence/redis.go's SETNX-then-EXPIRE
// Lua pattern, generalized from an idempotency marker to a fencing leader
// value, with github.com/google/uuid supplying the instance identifier in
// place of the teacher's hand-rolled crypto/rand hex id
// (persistence/shim.go's randomID).
package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flowctl/internal/clock"
	"flowctl/internal/storage"
	"flowctl/internal/xlog"
)

// Config configures a Coordinator.
type Config struct {
	// Key is the storage key contended over for leadership.
	Key string
	// TTL is how long a held leadership lasts without a successful
	// heartbeat; the heartbeat fires every TTL/2 (spec §4.6).
	TTL time.Duration
	// RetryInterval is how often a non-leader retries acquire_leadership.
	RetryInterval time.Duration
	Store         storage.Storage
	Clock         clock.Clock
	Log           *xlog.Logger
}

// Coordinator realizes spec §4.6: at most one instance holds leadership at
// any instant (modulo clock skew within TTL); on leader failure, another
// contender acquires within TTL + RetryInterval.
type Coordinator struct {
	cfg      Config
	clk      clock.Clock
	log      *xlog.Logger
	identity string

	isLeader atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Coordinator {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = cfg.TTL / 4
	}
	return &Coordinator{
		cfg:      cfg,
		clk:      c,
		log:      cfg.Log,
		identity: uuid.NewString(),
	}
}

// Identity is this instance's unique identifier, used as the leader value.
func (c *Coordinator) Identity() string { return c.identity }

func encodeLeader(identity string, expiresAt time.Time) string {
	return identity + "|" + strconv.FormatInt(expiresAt.UnixNano(), 10)
}

func decodeLeader(raw string) (identity string, expiresAt time.Time, ok bool) {
	idx := strings.LastIndexByte(raw, '|')
	if idx < 0 {
		return "", time.Time{}, false
	}
	nanos, err := strconv.ParseInt(raw[idx+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return raw[:idx], time.Unix(0, nanos), true
}

// acquireScript sets KEYS[1] to ARGV[1] (identity) with logical TTL
// ARGV[2] seconds, but only if absent or its embedded expiry has elapsed.
// Returns 1 if this call won leadership, 0 otherwise.
var acquireScript = storage.Script{
	Name: "coordinator.acquire",
	Lua: `
local raw = redis.call('GET', KEYS[1])
local identity = ARGV[1]
local ttl = tonumber(ARGV[2])
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000000000 + tonumber(t[2]) * 1000
if raw then
  local sep = string.find(raw, "|", 1, true)
  if sep then
    local heldBy = string.sub(raw, 1, sep - 1)
    local expiresAt = tonumber(string.sub(raw, sep + 1))
    if expiresAt > now and heldBy ~= identity then
      return 0
    end
  end
end
local newExpiresAt = now + (ttl * 1000000000)
redis.call('SET', KEYS[1], identity .. "|" .. tostring(newExpiresAt))
return 1
`,
	Exec: func(now time.Time, ops storage.LocalOps, keys []string, args []any) (any, error) {
		identity := args[0].(string)
		ttl := time.Duration(args[1].(int64)) * time.Second
		if raw, ok := ops.Load(keys[0]); ok {
			s, _ := raw.(string)
			if heldBy, expiresAt, ok := decodeLeader(s); ok {
				if now.Before(expiresAt) && heldBy != identity {
					return int64(0), nil
				}
			}
		}
		ops.Store(keys[0], encodeLeader(identity, now.Add(ttl)))
		return int64(1), nil
	},
}

// heartbeatScript renews KEYS[1]'s expiry iff it is still held by ARGV[1].
var heartbeatScript = storage.Script{
	Name: "coordinator.heartbeat",
	Lua: `
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local identity = ARGV[1]
local ttl = tonumber(ARGV[2])
local sep = string.find(raw, "|", 1, true)
if not sep then return 0 end
local heldBy = string.sub(raw, 1, sep - 1)
if heldBy ~= identity then return 0 end
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000000000 + tonumber(t[2]) * 1000
local newExpiresAt = now + (ttl * 1000000000)
redis.call('SET', KEYS[1], identity .. "|" .. tostring(newExpiresAt))
return 1
`,
	Exec: func(now time.Time, ops storage.LocalOps, keys []string, args []any) (any, error) {
		identity := args[0].(string)
		ttl := time.Duration(args[1].(int64)) * time.Second
		raw, ok := ops.Load(keys[0])
		if !ok {
			return int64(0), nil
		}
		s, _ := raw.(string)
		heldBy, _, ok := decodeLeader(s)
		if !ok || heldBy != identity {
			return int64(0), nil
		}
		ops.Store(keys[0], encodeLeader(identity, now.Add(ttl)))
		return int64(1), nil
	},
}

// releaseScript deletes KEYS[1] iff it is still held by ARGV[1].
var releaseScript = storage.Script{
	Name: "coordinator.release",
	Lua: `
local raw = redis.call('GET', KEYS[1])
if not raw then return 1 end
local identity = ARGV[1]
local sep = string.find(raw, "|", 1, true)
if sep then
  local heldBy = string.sub(raw, 1, sep - 1)
  if heldBy ~= identity then return 0 end
end
redis.call('DEL', KEYS[1])
return 1
`,
	Exec: func(now time.Time, ops storage.LocalOps, keys []string, args []any) (any, error) {
		identity := args[0].(string)
		raw, ok := ops.Load(keys[0])
		if !ok {
			return int64(1), nil
		}
		s, _ := raw.(string)
		if heldBy, _, ok := decodeLeader(s); ok && heldBy != identity {
			return int64(0), nil
		}
		// LocalOps has no Delete; an empty value fails decodeLeader's parse
		// and so reads back as "no leader held", which is what release means.
		ops.Store(keys[0], "")
		return int64(1), nil
	},
}

func asAccepted(v any, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, ok := v.(int64)
	if !ok {
		return false, fmt.Errorf("coordinator: unexpected script result %T", v)
	}
	return n == 1, nil
}

// AcquireLeadership attempts to become leader once. On success it returns
// true and starts a background heartbeat task every TTL/2 that renews the
// lease only while it still holds it.
func (c *Coordinator) AcquireLeadership(ctx context.Context) (bool, error) {
	ttlSeconds := int64(c.cfg.TTL / time.Second)
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	ok, err := asAccepted(c.cfg.Store.AtomicScript(ctx, acquireScript, []string{c.cfg.Key}, []any{c.identity, ttlSeconds}))
	if err != nil {
		return false, err
	}
	if !ok {
		c.isLeader.Store(false)
		return false, nil
	}
	c.isLeader.Store(true)
	c.startHeartbeat()
	return true, nil
}

func (c *Coordinator) startHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return // already running
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	interval := c.cfg.TTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := c.clk.NewTicker(interval)
	defer ticker.Stop()

	ttlSeconds := int64(c.cfg.TTL / time.Second)
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			ok, err := asAccepted(c.cfg.Store.AtomicScript(ctx, heartbeatScript, []string{c.cfg.Key}, []any{c.identity, ttlSeconds}))
			if err != nil {
				if c.log != nil {
					c.log.Error("coordinator: heartbeat failed: %v", err)
				}
				continue
			}
			c.isLeader.Store(ok)
			if !ok {
				return
			}
		}
	}
}

// IsLeader reflects the last confirmed acquire/heartbeat outcome.
func (c *Coordinator) IsLeader() bool { return c.isLeader.Load() }

// ReleaseLeadership deletes the leader key iff still held by this instance,
// and stops the heartbeat task.
func (c *Coordinator) ReleaseLeadership(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.wg.Wait()

	ok, err := asAccepted(c.cfg.Store.AtomicScript(ctx, releaseScript, []string{c.cfg.Key}, []any{c.identity}))
	if err != nil {
		return err
	}
	c.isLeader.Store(false)
	if !ok {
		return fmt.Errorf("coordinator: release: key held by another instance")
	}
	return nil
}
