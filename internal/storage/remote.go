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
	"context"
	"fmt"
	"hash/fnv"
	"time"

	rendezvous "github.com/dgryski/go-rendezvous"
	redis "github.com/redis/go-redis/v9"

	"flowctl/internal/errs"
)

// Cmdable is the subset of *redis.Client (or *redis.ClusterClient) Remote
// depends on. Tests substitute a miniredis-backed client; production wires
// github.com/redis/go-redis/v9 directly, matching
// persistence/clients.go's GoRedisEvaler.
type Cmdable interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	DecrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Close() error
}

// Remote is the Redis-compatible Storage variant. A single node holds the
// whole keyspace; Remote shards across several nodes via rendezvous hashing
// when more than one endpoint is configured (spec §1's "optional distributed
// coordination across a fleet", supplemented per SPEC_FULL §2 now that
// github.com/dgryski/go-rendezvous is already in the dependency graph).
type Remote struct {
	nodes   []Cmdable
	by      *rendezvous.Rendezvous
	names   []string
	byName  map[string]Cmdable
	poolSize int
}

// RemoteOption configures Remote at construction.
type RemoteOption func(*remoteOptions)

type remoteOptions struct {
	poolSize int
}

// WithPoolSize bounds the per-node connection pool, per spec §4.1/§5
// ("connection pool bounded by pool_size"). go-redis enforces the bound
// itself via redis.Options.PoolSize; this option documents and threads it
// through for callers constructing clients via NewRemote.
func WithPoolSize(n int) RemoteOption {
	return func(o *remoteOptions) { o.poolSize = n }
}

// NewRemote dials one github.com/redis/go-redis/v9 client per address. A
// single address behaves as the spec's plain "remote storage"; multiple
// addresses shard the keyspace by rendezvous hash, so any client losing or
// gaining a node only remaps the minimal share of keys.
func NewRemote(addrs []string, opts ...RemoteOption) (*Remote, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("flowctl: NewRemote requires at least one address")
	}
	o := remoteOptions{poolSize: 10}
	for _, opt := range opts {
		opt(&o)
	}
	clients := make([]Cmdable, len(addrs))
	byName := make(map[string]Cmdable, len(addrs))
	for i, addr := range addrs {
		c := redis.NewClient(&redis.Options{Addr: addr, PoolSize: o.poolSize})
		clients[i] = c
		byName[addr] = c
	}
	return newRemoteFromClients(addrs, clients, byName, o.poolSize), nil
}

// NewRemoteSingle wraps a single already-constructed Cmdable (e.g. a
// miniredis-backed client in tests, or a *redis.Client pointed at a real
// server). No sharding is performed.
func NewRemoteSingle(addr string, client Cmdable) *Remote {
	return newRemoteFromClients([]string{addr}, []Cmdable{client}, map[string]Cmdable{addr: client}, 0)
}

// NewRemoteCluster wraps several already-constructed Cmdables under
// rendezvous hashing, for tests that want sharding without dialing real
// Redis servers.
func NewRemoteCluster(named map[string]Cmdable) *Remote {
	names := make([]string, 0, len(named))
	clients := make([]Cmdable, 0, len(named))
	for name, c := range named {
		names = append(names, name)
		clients = append(clients, c)
	}
	return newRemoteFromClients(names, clients, named, 0)
}

func newRemoteFromClients(names []string, clients []Cmdable, byName map[string]Cmdable, poolSize int) *Remote {
	r := &Remote{
		nodes:    clients,
		names:    names,
		byName:   byName,
		poolSize: poolSize,
	}
	if len(names) > 1 {
		r.by = rendezvous.New(names, hashNodeName)
	}
	return r
}

// hashNodeName is the Hasher rendezvous.New requires: a 64-bit hash of a
// candidate node name, independent of the key being placed.
func hashNodeName(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// node returns the client owning key, per rendezvous hashing when sharded,
// or the sole client otherwise.
func (r *Remote) node(key string) Cmdable {
	if r.by == nil {
		return r.nodes[0]
	}
	return r.byName[r.by.Lookup(key)]
}

func wrapRedisErr(err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return fmt.Errorf("%w: %v", errs.ErrTransientStorage, err)
}

func (r *Remote) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.node(key).Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapRedisErr(err)
	}
	return v, true, nil
}

func (r *Remote) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return wrapRedisErr(r.node(key).Set(ctx, key, value, ttl).Err())
}

func (r *Remote) Delete(ctx context.Context, key string) error {
	return wrapRedisErr(r.node(key).Del(ctx, key).Err())
}

func (r *Remote) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.node(key).Exists(ctx, key).Result()
	if err != nil {
		return false, wrapRedisErr(err)
	}
	return n > 0, nil
}

func (r *Remote) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := r.node(key).IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	return v, nil
}

func (r *Remote) Decr(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := r.node(key).DecrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	return v, nil
}

// AtomicScript runs script.Lua via EVAL against the node owning keys[0] (all
// keys in one script must hash to the same node; callers that need
// multi-node atomicity should not span nodes in a single script, same
// constraint a real Redis Cluster deployment would impose).
func (r *Remote) AtomicScript(ctx context.Context, script Script, keys []string, args []any) (any, error) {
	if script.Lua == "" {
		return nil, fmt.Errorf("flowctl: script %q has no Lua implementation", script.Name)
	}
	var client Cmdable
	if len(keys) == 0 {
		client = r.nodes[0]
	} else {
		client = r.node(keys[0])
	}
	res, err := client.Eval(ctx, script.Lua, keys, args...).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, wrapRedisErr(err)
	}
	return res, nil
}

// slidingWindowAcquireLua prunes members of the sorted set at KEYS[1] whose
// score is older than the cutoff, then — in the same EVAL — decides whether
// n more members fit within rate and, if so, adds them (member names derived
// from the prefix, since ZSET members must be unique). Folding prune,
// decide, and add into one script is what makes this linearizable per spec
// §4.1: a separate probe call followed by a separate add call, even
// pipelined, leaves a window between them where two concurrent Acquire calls
// can both observe room and both admit, over-running rate.
const slidingWindowAcquireLua = `
local cutoff = ARGV[1]
local now = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local n = tonumber(ARGV[4])
local prefix = ARGV[5]
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. cutoff)
local card = redis.call('ZCARD', KEYS[1])
local accepted = 0
if (card + n) <= rate then
  for i = 1, n do
    redis.call('ZADD', KEYS[1], now, prefix .. '-' .. i)
  end
  card = card + n
  accepted = 1
end
return {accepted, card}
`

// SlidingWindowAcquire runs slidingWindowAcquireLua as a single EVAL against
// the node owning key, reporting whether n more instants were admitted and
// the resulting window member count. n == 0 only prunes and reports the
// count (the Stats probe path); the admission decision is then irrelevant
// and ignored by the caller.
func (r *Remote) SlidingWindowAcquire(ctx context.Context, key string, cutoff, now time.Time, rate float64, n int64, memberPrefix string) (accepted bool, count int64, err error) {
	res, err := r.node(key).Eval(ctx, slidingWindowAcquireLua, []string{key},
		cutoff.UnixNano(), now.UnixNano(), rate, n, memberPrefix).Result()
	if err != nil {
		if err == redis.Nil {
			return false, 0, nil
		}
		return false, 0, wrapRedisErr(err)
	}
	items, ok := res.([]any)
	if !ok || len(items) != 2 {
		return false, 0, fmt.Errorf("flowctl: unexpected sliding-window result shape %v", res)
	}
	a, err := toInt64(items[0])
	if err != nil {
		return false, 0, err
	}
	c, err := toInt64(items[1])
	if err != nil {
		return false, 0, err
	}
	return a == 1, c, nil
}

// toInt64 normalizes the int64s go-redis's Lua-table decoding produces
// (it returns each table element as int64 already, but as an `any`).
func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("flowctl: unexpected sliding-window element type %T", v)
	}
}

func (r *Remote) Close() error {
	var firstErr error
	for _, n := range r.nodes {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
