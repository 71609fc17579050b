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
	"fmt"
	"time"

	"flowctl/internal/clock"
	"flowctl/internal/storage"
)

// SlidingWindow realizes spec §4.2's sliding-window algorithm: an ordered
// multiset of request instants, pruned to [now-per, now] before every read.
// Against storage.Remote it takes the O(1) sorted-set fast path — prune,
// decide, and conditionally add all evaluated server-side in one EVAL
// (ZREMRANGEBYSCORE+ZCARD+ZADD), spec §4.2's remote complexity target and
// §4.1's single-indivisible-step requirement; against any other Storage it
// falls back to a portable AtomicScript-encoded list (O(m) locally, matching
// storage.Local's ordered slice, spec's local complexity target).
type SlidingWindow struct {
	store storage.Storage
	clock clock.Clock
	rate  float64
	per   time.Duration
	scope string

	seq uint64 // disambiguates same-nanosecond member names on the Remote fast path
}

// SlidingWindowConfig mirrors spec §6's persisted-configuration table.
type SlidingWindowConfig struct {
	Rate  float64
	Per   time.Duration
	Scope string
	Clock clock.Clock
}

func NewSlidingWindow(store storage.Storage, cfg SlidingWindowConfig) *SlidingWindow {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	return &SlidingWindow{store: store, clock: c, rate: cfg.Rate, per: cfg.Per, scope: cfg.Scope}
}

func (sw *SlidingWindow) key(key string) string {
	return scopedKey(sw.scope, "slidingwindow", key)
}

// remoteSortedSet is the optional capability storage.Remote provides for an
// O(1) sorted-set fast path; any Storage that doesn't implement it falls
// back to the generic AtomicScript path below. SlidingWindowAcquire prunes,
// decides, and (if admitted) adds in one EVAL, so it is just as atomic as
// the generic path — never two separate round trips a concurrent Acquire
// could interleave between.
type remoteSortedSet interface {
	SlidingWindowAcquire(ctx context.Context, key string, cutoff, now time.Time, rate float64, n int64, memberPrefix string) (accepted bool, count int64, err error)
}

// slidingWindowScript prunes expired instants, decides admission, and
// (if admitted) appends n copies of now — returning {accepted, resultingCount}
// so both Acquire and Stats can share one script.
var slidingWindowScript = storage.Script{
	Name: "sliding_window_acquire",
	Lua: `
local raw = redis.call('GET', KEYS[1])
local rate = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local per_ns = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local cutoff = now - per_ns
local list
if raw then list = cjson.decode(raw) else list = {} end
local kept = {}
for _, ts in ipairs(list) do
  if ts >= cutoff then kept[#kept + 1] = ts end
end
local accepted = 0
if (#kept + n) <= rate then
  for i = 1, n do kept[#kept + 1] = now end
  accepted = 1
end
redis.call('SET', KEYS[1], cjson.encode(kept))
return {accepted, #kept}
`,
	Exec: func(now time.Time, ops storage.LocalOps, keys []string, args []any) (any, error) {
		rate := args[0].(float64)
		n := int(args[1].(float64))
		per := time.Duration(args[2].(float64))
		cutoff := now.Add(-per)

		var list []time.Time
		if raw, ok := ops.Load(keys[0]); ok {
			l, ok := raw.([]time.Time)
			if !ok {
				return nil, errMalformedLocalState
			}
			list = l
		}
		kept := list[:0:0]
		for _, ts := range list {
			if !ts.Before(cutoff) {
				kept = append(kept, ts)
			}
		}
		accepted := len(kept)+n <= int(rate)
		if accepted {
			for i := 0; i < n; i++ {
				kept = append(kept, now)
			}
		}
		ops.Store(keys[0], kept)
		return [2]int64{boolToInt64(accepted), int64(len(kept))}, nil
	},
}

// decodeAcceptCount normalizes the {accepted, count} pair AtomicScript
// produces: Local.Exec returns it as [2]int64; go-redis decodes a Lua table
// return as []interface{} of int64.
func decodeAcceptCount(v any) (accepted bool, count int64, err error) {
	switch t := v.(type) {
	case [2]int64:
		return t[0] == 1, t[1], nil
	case []any:
		if len(t) != 2 {
			return false, 0, fmt.Errorf("flowctl: unexpected sliding-window result shape %v", t)
		}
		a, err := asInt64(t[0])
		if err != nil {
			return false, 0, err
		}
		c, err := asInt64(t[1])
		if err != nil {
			return false, 0, err
		}
		return a == 1, c, nil
	default:
		return false, 0, fmt.Errorf("flowctl: unexpected sliding-window result type %T", v)
	}
}

func (sw *SlidingWindow) Acquire(ctx context.Context, key string, n int64) (bool, error) {
	now := sw.clock.Now()
	k := sw.key(key)

	if rs, ok := sw.store.(remoteSortedSet); ok {
		sw.seq++
		cutoff := now.Add(-sw.per)
		prefix := memberPrefix(now, sw.seq)
		accepted, _, err := rs.SlidingWindowAcquire(ctx, k, cutoff, now, sw.rate, n, prefix)
		if err != nil {
			return false, err
		}
		return accepted, nil
	}

	res, err := sw.store.AtomicScript(ctx, slidingWindowScript, []string{k},
		[]any{sw.rate, float64(n), float64(sw.per), float64(now.UnixNano())})
	if err != nil {
		return false, err
	}
	accepted, _, err := decodeAcceptCount(res)
	return accepted, err
}

// Release is a no-op for sliding window: spec §4.2 defines no release
// semantics (a request instant, once recorded, simply ages out of the
// window; there is nothing to credit back).
func (sw *SlidingWindow) Release(ctx context.Context, key string, n int64) error {
	return nil
}

func (sw *SlidingWindow) Stats(ctx context.Context, key string) (Stats, error) {
	now := sw.clock.Now()
	k := sw.key(key)

	var count int64
	if rs, ok := sw.store.(remoteSortedSet); ok {
		_, c, err := rs.SlidingWindowAcquire(ctx, k, now.Add(-sw.per), now, sw.rate, 0, "")
		if err != nil {
			return Stats{}, err
		}
		count = c
	} else {
		res, err := sw.store.AtomicScript(ctx, slidingWindowScript, []string{k},
			[]any{sw.rate, float64(0), float64(sw.per), float64(now.UnixNano())})
		if err != nil {
			return Stats{}, err
		}
		_, c, err := decodeAcceptCount(res)
		if err != nil {
			return Stats{}, err
		}
		count = c
	}
	return Stats{
		Available:  sw.rate - float64(count),
		Max:        sw.rate,
		Rate:       sw.rate,
		LastUpdate: now,
	}, nil
}

func memberPrefix(now time.Time, seq uint64) string {
	return fmt.Sprintf("m-%d-%d", seq, now.UnixNano())
}
