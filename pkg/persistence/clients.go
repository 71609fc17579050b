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

package persistence

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"flowctl/internal/xlog"
)

// LoggingRedisEvaler logs the Lua evaluation instead of talking to a real
// Redis server. Lets callers select the Redis adapter without standing up
// infrastructure; not for production use.
type LoggingRedisEvaler struct{ Log *xlog.Logger }

func (l LoggingRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if l.Log != nil {
		l.Log.Info("redis-demo: EVAL script(len=%d) KEYS=%v ARGS=%v", len(script), keys, args)
	}
	return int64(1), nil
}

// GoRedisEvaler wraps a real github.com/redis/go-redis/v9 client as a
// RedisEvaler.
type GoRedisEvaler struct{ c *redis.Client }

func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// LoggingKafkaProducer logs the produced message instead of publishing to a
// broker; lets callers select the Kafka adapter without one.
type LoggingKafkaProducer struct{ Log *xlog.Logger }

func (l LoggingKafkaProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if headers == nil {
		headers = map[string]string{}
	}
	if l.Log != nil {
		l.Log.Info("kafka-demo: TOPIC=%s KEY=%s VALUE=%s HEADERS=%v", topic, string(key), truncate(string(value), 256), headers)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Options holds the knobs BuildPersister needs to construct each adapter.
type Options struct {
	RedisMarkerTTL    time.Duration
	RedisAddr         string
	KafkaTopic        string
	PostgresDSN       string
	CreateMissingKeys bool
	Log               *xlog.Logger
}

// BuildPersister constructs an IdempotentPersister based on a string
// selector. Supported adapters: "redis", "kafka", "postgres". A logging
// stand-in client is used for redis/kafka when no address is supplied, so
// the resulting adapter can still be exercised without infrastructure.
func BuildPersister(adapter string, opts Options) (IdempotentPersister, error) {
	switch adapter {
	case "redis":
		ttl := opts.RedisMarkerTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		var evaler RedisEvaler
		if opts.RedisAddr != "" {
			evaler = NewGoRedisEvaler(opts.RedisAddr)
		} else {
			evaler = LoggingRedisEvaler{Log: opts.Log}
		}
		return NewRedisPersister(evaler, ttl), nil
	case "kafka":
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "flowctl-commits"
		}
		return NewKafkaPersister(LoggingKafkaProducer{Log: opts.Log}, topic), nil
	case "postgres":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("persistence: postgres adapter requires a DSN")
		}
		db, err := OpenPostgres(opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("persistence: open postgres: %w", err)
		}
		return NewPostgresPersister(db, opts.CreateMissingKeys), nil
	default:
		return nil, fmt.Errorf("persistence: unknown adapter %q", adapter)
	}
}
