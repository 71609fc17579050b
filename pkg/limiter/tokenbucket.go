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

// TokenBucket realizes spec §4.2's token-bucket algorithm. Refill rate is
// Rate/Per tokens per second; Burst bounds the balance (defaults to Rate).
// Token bucket is lock-based on storage.Local (guarded by Local's single
// mutex) and atomic-script-based on storage.Remote (Lua via EVAL) — never
// "lock-free" (spec §9's third Open Question).
type TokenBucket struct {
	store storage.Storage
	clock clock.Clock
	rate  float64
	per   time.Duration
	burst float64
	scope string
}

// TokenBucketConfig mirrors the persisted-configuration table in spec §6.
type TokenBucketConfig struct {
	Rate  float64
	Per   time.Duration
	Burst float64 // 0 means Burst defaults to Rate
	Scope string
	Clock clock.Clock // nil means clock.Default
}

// NewTokenBucket constructs a TokenBucket over store.
func NewTokenBucket(store storage.Storage, cfg TokenBucketConfig) *TokenBucket {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Rate
	}
	per := cfg.Per
	if per <= 0 {
		per = time.Second
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	return &TokenBucket{store: store, clock: c, rate: cfg.Rate, per: per, burst: burst, scope: cfg.Scope}
}

func (tb *TokenBucket) refillPerSecond() float64 {
	return tb.rate / tb.per.Seconds()
}

func (tb *TokenBucket) key(key string) string {
	return scopedKey(tb.scope, "tokenbucket", key)
}

var tokenBucketAcquireScript = storage.Script{
	Name: "token_bucket_acquire",
	Lua: `
local raw = redis.call('GET', KEYS[1])
local n = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local balance, last
if raw then
  local sep = string.find(raw, "|")
  balance = tonumber(string.sub(raw, 1, sep - 1))
  last = tonumber(string.sub(raw, sep + 1))
else
  balance = burst
  last = now
end
local elapsed = (now - last) / 1e9
if elapsed < 0 then elapsed = 0 end
balance = balance + elapsed * rate
if balance > burst then balance = burst end
local accepted = 0
if balance >= n then
  balance = balance - n
  accepted = 1
end
redis.call('SET', KEYS[1], tostring(balance) .. "|" .. tostring(now))
return accepted
`,
	Exec: func(now time.Time, ops storage.LocalOps, keys []string, args []any) (any, error) {
		n := args[0].(float64)
		burst := args[1].(float64)
		rate := args[2].(float64)

		balance := burst
		last := now
		if raw, ok := ops.Load(keys[0]); ok {
			s, b, at, err := loadLevelState(raw)
			if err != nil {
				return nil, err
			}
			_ = s
			balance, last = b, at
		}

		elapsed := now.Sub(last).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		balance += elapsed * rate
		if balance > burst {
			balance = burst
		}
		accepted := balance >= n
		if accepted {
			balance -= n
		}
		ops.Store(keys[0], encodeLevelState(balance, now))
		return boolToInt64(accepted), nil
	},
}

var tokenBucketReleaseScript = storage.Script{
	Name: "token_bucket_release",
	Lua: `
local raw = redis.call('GET', KEYS[1])
local n = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local balance, last
if raw then
  local sep = string.find(raw, "|")
  balance = tonumber(string.sub(raw, 1, sep - 1))
  last = tonumber(string.sub(raw, sep + 1))
else
  balance = burst
  last = now
end
balance = balance + n
if balance > burst then balance = burst end
redis.call('SET', KEYS[1], tostring(balance) .. "|" .. tostring(last))
return 1
`,
	Exec: func(now time.Time, ops storage.LocalOps, keys []string, args []any) (any, error) {
		n := args[0].(float64)
		burst := args[1].(float64)

		balance := burst
		last := now
		if raw, ok := ops.Load(keys[0]); ok {
			_, b, at, err := loadLevelState(raw)
			if err != nil {
				return nil, err
			}
			balance, last = b, at
		}
		balance += n
		if balance > burst {
			balance = burst
		}
		// last_refill unchanged, per spec §4.2's Release definition.
		ops.Store(keys[0], encodeLevelState(balance, last))
		return int64(1), nil
	},
}

// loadLevelState type-asserts a Local-stored value to the shared
// "level|instant" string encoding, returning the raw string alongside the
// decoded fields so callers that don't need the string can ignore it.
func loadLevelState(raw any) (string, float64, time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return "", 0, time.Time{}, errMalformedLocalState
	}
	level, at, err := decodeLevelState(s)
	return s, level, at, err
}

func (tb *TokenBucket) Acquire(ctx context.Context, key string, n int64) (bool, error) {
	res, err := tb.store.AtomicScript(ctx, tokenBucketAcquireScript, []string{tb.key(key)},
		[]any{float64(n), tb.burst, tb.refillPerSecond(), float64(tb.clock.Now().UnixNano())})
	if err != nil {
		return false, err
	}
	v, err := asInt64(res)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

func (tb *TokenBucket) Release(ctx context.Context, key string, n int64) error {
	_, err := tb.store.AtomicScript(ctx, tokenBucketReleaseScript, []string{tb.key(key)},
		[]any{float64(n), tb.burst, float64(tb.clock.Now().UnixNano())})
	return err
}

func (tb *TokenBucket) Stats(ctx context.Context, key string) (Stats, error) {
	now := tb.clock.Now()
	raw, ok, err := tb.store.Get(ctx, tb.key(key))
	if err != nil {
		return Stats{}, err
	}
	balance := tb.burst
	last := now
	if ok {
		_, b, at, err := loadLevelState(raw)
		if err != nil {
			return Stats{}, err
		}
		balance, last = b, at
	}
	elapsed := now.Sub(last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	balance += elapsed * tb.refillPerSecond()
	if balance > tb.burst {
		balance = tb.burst
	}
	return Stats{Available: balance, Max: tb.burst, Rate: tb.refillPerSecond(), LastUpdate: now}, nil
}
