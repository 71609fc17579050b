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

// Package main provides the entry point for the flowctl demo application.
//
// It is a concrete, runnable wiring of every piece of the toolkit: a
// storage backend, a rate limiter sitting on it, a priority job queue and
// auto-scaling worker pool draining it, a scheduler ticking background
// maintenance, and a coordinator contending for a single "leader" role
// across however many instances are started against the same backend.
//
// Its shape — flags double as production knobs, components start in
// dependency order, an OS signal triggers an ordered, deadline-bounded
// shutdown — follows cmd/ratelimiter-api/main.go directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowctl/internal/metrics"
	"flowctl/internal/server"
	"flowctl/internal/storage"
	"flowctl/internal/xlog"
	"flowctl/pkg/coordinator"
	"flowctl/pkg/limiter"
	"flowctl/pkg/persistence"
	"flowctl/pkg/pool"
	"flowctl/pkg/queue"
	"flowctl/pkg/scheduler"
)

func main() {
	// --- Storage backend ---
	storageBackend := flag.String("storage", "local", `Storage backend: "local" (in-memory) or "remote" (Redis via -redis_addr)`)
	redisAddr := flag.String("redis_addr", "", "Redis address for -storage=remote (e.g. localhost:6379)")
	localMaxSize := flag.Int("local_max_size", 100000, "Max entries held by the local storage tier before LRU eviction")

	// --- Rate limiter (token bucket) ---
	rate := flag.Float64("rate", 100, "Token bucket refill rate, tokens per -rate_per")
	ratePer := flag.Duration("rate_per", time.Second, "Token bucket refill period")
	burst := flag.Float64("burst", 0, "Token bucket burst ceiling; 0 defaults to -rate")

	// --- Job queue + worker pool ---
	queueWorkers := flag.Int("queue_workers", 4, "Concurrent dispatchers draining the priority job queue")
	queueMaxSize := flag.Int("queue_max_size", 10000, "Priority job queue capacity; 0 means unbounded")
	poolMin := flag.Int("pool_min", 2, "Minimum worker pool size")
	poolMax := flag.Int("pool_max", 16, "Maximum worker pool size")
	poolCheckInterval := flag.Duration("pool_check_interval", 2*time.Second, "How often the pool reassesses load and rescales")

	// --- Scheduler ---
	statsLogInterval := flag.Duration("stats_log_interval", 15*time.Second, "How often the scheduler logs queue/pool/leader status; 0 disables")

	// --- Coordinator ---
	leaderKey := flag.String("leader_key", "flowctl/leader", "Storage key contended over for leadership")
	leaderTTL := flag.Duration("leader_ttl", 10*time.Second, "Leadership TTL; heartbeats renew it at TTL/2")

	// --- Persistence adapter, for committed job results ---
	persistAdapter := flag.String("persist_adapter", "redis", `Idempotent persister adapter: "redis", "kafka", or "postgres"`)
	postgresDSN := flag.String("postgres_dsn", "", "Postgres DSN, required when -persist_adapter=postgres")
	kafkaTopic := flag.String("kafka_topic", "flowctl-commits", "Kafka topic for -persist_adapter=kafka")

	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address")
	flag.Parse()

	log := xlog.New("flowctld")

	// 1. Storage backend.
	var store storage.Storage
	switch *storageBackend {
	case "local":
		store = storage.NewLocal(*localMaxSize)
	case "remote":
		if *redisAddr == "" {
			log.Error("-storage=remote requires -redis_addr")
			os.Exit(1)
		}
		remote, err := storage.NewRemote([]string{*redisAddr})
		if err != nil {
			log.Error("connect redis: %v", err)
			os.Exit(1)
		}
		store = remote
	default:
		log.Error("unknown -storage %q", *storageBackend)
		os.Exit(1)
	}

	// 2. Rate limiter over that storage.
	tb := limiter.NewTokenBucket(store, limiter.TokenBucketConfig{
		Rate:  *rate,
		Per:   *ratePer,
		Burst: *burst,
	})

	// 3. Idempotent persister for completed jobs.
	persister, err := persistence.BuildPersister(*persistAdapter, persistence.Options{
		RedisAddr:   *redisAddr,
		KafkaTopic:  *kafkaTopic,
		PostgresDSN: *postgresDSN,
		Log:         log,
	})
	if err != nil {
		log.Error("build persister: %v", err)
		os.Exit(1)
	}

	// 4. Auto-scaling worker pool.
	workerPool := pool.New[string](pool.Config{
		Min:           *poolMin,
		Max:           *poolMax,
		CheckInterval: *poolCheckInterval,
		Log:           log,
	})
	workerPool.Start()

	// 5. Priority job queue, drained into the worker pool and then
	// idempotently committed, mirroring the teacher's "batch then persist"
	// shape with a priority ordering in front of it.
	jobs := queue.NewPriority[string](queue.PriorityConfig{
		Workers: *queueWorkers,
		MaxSize: *queueMaxSize,
		Log:     log,
	})
	jobs.Start(func(ctx context.Context, item string) error {
		future, err := workerPool.Submit(ctx, func(ctx context.Context) (string, error) {
			return fmt.Sprintf("processed:%s", item), nil
		})
		if err != nil {
			return err
		}
		result, err := future.Wait(ctx)
		if err != nil {
			return err
		}
		entry := persistence.CommitEntry{
			Key:      "job:" + item,
			Vector:   1,
			CommitID: persistence.NewCommitID(),
		}
		if err := persister.CommitBatch(ctx, []persistence.CommitEntry{entry}); err != nil {
			log.Warn("job commit failed key=%s: %v", entry.Key, err)
		}
		log.Info("job done: %s -> %s", item, result)
		return nil
	})

	// 6. Leader coordination over the same storage backend.
	coord := coordinator.New(coordinator.Config{
		Key:   *leaderKey,
		TTL:   *leaderTTL,
		Store: store,
		Log:   log,
	})
	coordCtx, coordCancel := context.WithCancel(context.Background())
	go runLeaderElection(coordCtx, coord, log)

	// 7. Scheduler: periodic status log, standing in for the teacher's
	// commit/eviction ticker loops (spec §4.5 generalizes them to "any
	// named, intervaled callable").
	sched := scheduler.New(scheduler.Config{Log: log})
	if *statsLogInterval > 0 {
		sched.Register("status", *statsLogInterval, func(ctx context.Context) error {
			log.Info("status: queue_depth=%d pool_workers=%d is_leader=%v",
				jobs.Size(), workerPool.Workers(), coord.IsLeader())
			return nil
		})
	}
	sched.Start()

	// 8. Metrics + HTTP server.
	rec := metrics.Default()
	srv := server.New(tb, jobs, workerPool, coord, persister, rec, log)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}

	go func() {
		log.Info("listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen: %v", err)
			os.Exit(1)
		}
	}()

	// 9. Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown: %v", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("scheduler shutdown: %v", err)
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		log.Error("job queue shutdown: %v", err)
	}
	if err := workerPool.Stop(shutdownCtx); err != nil {
		log.Error("pool shutdown: %v", err)
	}
	coordCancel()
	if coord.IsLeader() {
		if err := coord.ReleaseLeadership(shutdownCtx); err != nil {
			log.Error("release leadership: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		log.Error("storage close: %v", err)
	}

	log.Info("stopped")
}

// runLeaderElection retries AcquireLeadership every retryFallback (2s) until
// ctx is cancelled; once acquired, the Coordinator's own heartbeat loop keeps it
// renewed and runLeaderElection has nothing further to do but watch for a
// lost leadership to re-contend.
func runLeaderElection(ctx context.Context, coord *coordinator.Coordinator, log *xlog.Logger) {
	const retryFallback = 2 * time.Second
	for {
		if !coord.IsLeader() {
			ok, err := coord.AcquireLeadership(ctx)
			if err != nil {
				log.Warn("acquire leadership: %v", err)
			} else if ok {
				log.Info("acquired leadership as %s", coord.Identity())
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryFallback):
		}
	}
}
