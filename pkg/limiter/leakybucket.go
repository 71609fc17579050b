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

package limiter

import (
	"context"
	"time"

	"flowctl/internal/clock"
	"flowctl/internal/storage"
)

// LeakyBucket realizes spec §4.2's leaky-bucket algorithm: level leaks
// toward zero at Rate units/sec; Acquire admits n only if the post-leak
// level plus n does not exceed Capacity. Starts empty (spec §8 "Leaky
// bucket starts empty"), the mirror image of token bucket's "starts full".
type LeakyBucket struct {
	store    storage.Storage
	clock    clock.Clock
	rate     float64
	capacity float64
	scope    string
}

// LeakyBucketConfig mirrors spec §6's persisted-configuration table.
type LeakyBucketConfig struct {
	Rate     float64
	Capacity float64
	Scope    string
	Clock    clock.Clock
}

func NewLeakyBucket(store storage.Storage, cfg LeakyBucketConfig) *LeakyBucket {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	return &LeakyBucket{store: store, clock: c, rate: cfg.Rate, capacity: cfg.Capacity, scope: cfg.Scope}
}

func (lb *LeakyBucket) key(key string) string {
	return scopedKey(lb.scope, "leakybucket", key)
}

var leakyBucketAcquireScript = storage.Script{
	Name: "leaky_bucket_acquire",
	Lua: `
local raw = redis.call('GET', KEYS[1])
local n = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local level, last
if raw then
  local sep = string.find(raw, "|")
  level = tonumber(string.sub(raw, 1, sep - 1))
  last = tonumber(string.sub(raw, sep + 1))
else
  level = 0
  last = now
end
local elapsed = (now - last) / 1e9
if elapsed < 0 then elapsed = 0 end
local leaked = elapsed * rate
level = level - leaked
if level < 0 then level = 0 end
local accepted = 0
if level + n <= capacity then
  level = level + n
  accepted = 1
end
redis.call('SET', KEYS[1], tostring(level) .. "|" .. tostring(now))
return accepted
`,
	Exec: func(now time.Time, ops storage.LocalOps, keys []string, args []any) (any, error) {
		n := args[0].(float64)
		capacity := args[1].(float64)
		rate := args[2].(float64)

		level := 0.0
		last := now
		if raw, ok := ops.Load(keys[0]); ok {
			_, lv, at, err := loadLevelState(raw)
			if err != nil {
				return nil, err
			}
			level, last = lv, at
		}
		elapsed := now.Sub(last).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		level -= elapsed * rate
		if level < 0 {
			level = 0
		}
		accepted := level+n <= capacity
		if accepted {
			level += n
		}
		ops.Store(keys[0], encodeLevelState(level, now))
		return boolToInt64(accepted), nil
	},
}

var leakyBucketReleaseScript = storage.Script{
	Name: "leaky_bucket_release",
	Lua: `
local raw = redis.call('GET', KEYS[1])
local n = tonumber(ARGV[1])
local level, last
if raw then
  local sep = string.find(raw, "|")
  level = tonumber(string.sub(raw, 1, sep - 1))
  last = tonumber(string.sub(raw, sep + 1))
else
  level = 0
  last = tonumber(ARGV[2])
end
level = level - n
if level < 0 then level = 0 end
redis.call('SET', KEYS[1], tostring(level) .. "|" .. tostring(last))
return 1
`,
	Exec: func(now time.Time, ops storage.LocalOps, keys []string, args []any) (any, error) {
		n := args[0].(float64)

		level := 0.0
		last := now
		if raw, ok := ops.Load(keys[0]); ok {
			_, lv, at, err := loadLevelState(raw)
			if err != nil {
				return nil, err
			}
			level, last = lv, at
		}
		level -= n
		if level < 0 {
			level = 0
		}
		ops.Store(keys[0], encodeLevelState(level, last))
		return int64(1), nil
	},
}

func (lb *LeakyBucket) Acquire(ctx context.Context, key string, n int64) (bool, error) {
	res, err := lb.store.AtomicScript(ctx, leakyBucketAcquireScript, []string{lb.key(key)},
		[]any{float64(n), lb.capacity, lb.rate, float64(lb.clock.Now().UnixNano())})
	if err != nil {
		return false, err
	}
	v, err := asInt64(res)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

func (lb *LeakyBucket) Release(ctx context.Context, key string, n int64) error {
	_, err := lb.store.AtomicScript(ctx, leakyBucketReleaseScript, []string{lb.key(key)},
		[]any{float64(n), float64(lb.clock.Now().UnixNano())})
	return err
}

func (lb *LeakyBucket) Stats(ctx context.Context, key string) (Stats, error) {
	now := lb.clock.Now()
	raw, ok, err := lb.store.Get(ctx, lb.key(key))
	if err != nil {
		return Stats{}, err
	}
	level := 0.0
	last := now
	if ok {
		_, lv, at, err := loadLevelState(raw)
		if err != nil {
			return Stats{}, err
		}
		level, last = lv, at
	}
	elapsed := now.Sub(last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	level -= elapsed * lb.rate
	if level < 0 {
		level = 0
	}
	return Stats{Available: lb.capacity - level, Max: lb.capacity, Rate: lb.rate, LastUpdate: now}, nil
}
