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

// Package server implements the public-facing HTTP server for the flowctl
// demo binary, grounded on internal/ratelimiter/api/server.go's shape: a
// thin handler per concern, backed by the components built in cmd/flowctld,
// with routes registered onto a caller-owned http.ServeMux so main keeps
// control of the http.Server's lifecycle (the same split the teacher's
// RegisterRoutes/ListenAndServe gives cmd/ratelimiter-api).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flowctl/internal/metrics"
	"flowctl/internal/xlog"
	"flowctl/pkg/coordinator"
	"flowctl/pkg/limiter"
	"flowctl/pkg/persistence"
	"flowctl/pkg/pool"
	"flowctl/pkg/queue"
)

// Server wires together one instance of every flowctl component into the
// handful of HTTP endpoints the demo exposes.
type Server struct {
	Limiter     limiter.Limiter
	Jobs        *queue.Priority[string]
	Pool        *pool.Pool[string]
	Coordinator *coordinator.Coordinator
	Persister   persistence.IdempotentPersister
	Recorder    *metrics.Recorder
	Log         *xlog.Logger

	requests *metrics.Counter
	rejected *metrics.Counter
}

// New constructs a Server. Callers supply already-started components; Server
// itself owns no lifecycle beyond the HTTP handlers.
func New(lim limiter.Limiter, jobs *queue.Priority[string], p *pool.Pool[string], coord *coordinator.Coordinator, persister persistence.IdempotentPersister, rec *metrics.Recorder, log *xlog.Logger) *Server {
	return &Server{
		Limiter:     lim,
		Jobs:        jobs,
		Pool:        p,
		Coordinator: coord,
		Persister:   persister,
		Recorder:    rec,
		Log:         log,
		requests:    rec.Counter("flowctl_http_requests_total", "Total HTTP requests handled by the demo server."),
		rejected:    rec.Counter("flowctl_rate_limited_total", "Requests rejected by the rate limiter."),
	}
}

// RegisterRoutes sets up the HTTP routes for the server on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/check", s.handleCheck)
	mux.HandleFunc("/release", s.handleRelease)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/jobs", s.handleSubmitJob)
	mux.HandleFunc("/submit", s.handleSubmitWork)
	mux.HandleFunc("/leader", s.handleLeader)
	mux.Handle("/metrics", promhttp.HandlerFor(s.Recorder.Registry(), promhttp.HandlerOpts{}))
}

// handleCheck is the rate-limiter hot path, mirroring the teacher's /check.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.requests.Inc()

	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	n := parseN(r, 1)

	ok, err := s.Limiter.Acquire(r.Context(), key, n)
	if err != nil {
		s.Log.Error("check: acquire key=%s: %v", key, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		s.rejected.Inc()
		w.Header().Set("X-RateLimit-Status", "Exceeded")
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	w.Header().Set("X-RateLimit-Status", "OK")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleRelease credits units back, e.g. after a speculative acquire.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	n := parseN(r, 1)
	if err := s.Limiter.Release(r.Context(), key, n); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleStats exposes the limiter's get_stats view as JSON.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	st, err := s.Limiter.Stats(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

// handleSubmitJob enqueues the request body onto the priority queue; the
// optional priority query parameter defaults to 0.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r, 64*1024)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	priority := int64(0)
	if p := r.URL.Query().Get("priority"); p != "" {
		priority, _ = strconv.ParseInt(p, 10, 64)
	}
	if err := s.Jobs.PutPriority(r.Context(), string(body), priority); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "queued (depth=%d)", s.Jobs.Size())
}

// handleSubmitWork submits the request body to the worker pool and waits
// (bounded by a short deadline) for the result, demonstrating pkg/pool
// directly rather than through the priority queue.
func (s *Server) handleSubmitWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r, 64*1024)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	input := string(body)

	future, err := s.Pool.Submit(r.Context(), func(ctx context.Context) (string, error) {
		return processDemoWork(ctx, input), nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	result, err := future.Wait(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	fmt.Fprint(w, result)
}

// handleLeader reports this instance's current leadership status.
func (s *Server) handleLeader(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"identity":  s.Coordinator.Identity(),
		"is_leader": s.Coordinator.IsLeader(),
	})
}

func parseN(r *http.Request, def int64) int64 {
	v := r.URL.Query().Get("n")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, limit))
}
