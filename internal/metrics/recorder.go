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

// Package metrics is the in-memory metrics recorder: counters, gauges, and
// bounded histograms, bridged to Prometheus for scraping. The bridge itself
// (this package) is part of the core; exposing it over HTTP is the caller's
// job, same split as the teacher's churn module, which registers metrics here
// but leaves starting an HTTP server to main (see internal/ratelimiter's
// startMetricsEndpoint, reproduced as cmd/flowctld's own mux wiring).
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a monotonically increasing value, exported to Prometheus and
// readable in-process without a scrape.
type Counter struct {
	local atomic.Int64
	prom  prometheus.Counter
}

// Add increments the counter by delta, which must be non-negative.
func (c *Counter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.local.Add(int64(delta))
	c.prom.Add(delta)
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.Add(1) }

// Value returns the current in-process value.
func (c *Counter) Value() int64 { return c.local.Load() }

// Gauge is an arbitrary up/down value.
type Gauge struct {
	local atomic.Int64 // stored as a fixed-point int64 via math.Float64bits would be overkill; gauges here are integral
	prom  prometheus.Gauge
}

// Set assigns the gauge's current value.
func (g *Gauge) Set(v float64) {
	g.local.Store(int64(v))
	g.prom.Set(v)
}

// Add adjusts the gauge's current value by delta (may be negative).
func (g *Gauge) Add(delta float64) {
	g.local.Add(int64(delta))
	g.prom.Add(delta)
}

// Value returns the current in-process value.
func (g *Gauge) Value() int64 { return g.local.Load() }

// Recorder owns a Prometheus registry plus named counters, gauges, and
// histograms. Components accept a *Recorder at construction (explicit
// dependency injection); Default exists only as a documented convenience
// for callers that don't need isolation between instances.
type Recorder struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	promHists  map[string]prometheus.Histogram
}

// New returns a Recorder backed by a fresh, isolated Prometheus registry.
func New() *Recorder {
	return &Recorder{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		promHists:  make(map[string]prometheus.Histogram),
	}
}

// defaultRecorder is the documented process-wide convenience instance. It is
// never consulted implicitly by any component; callers must pass it in.
var defaultRecorder = New()

// Default returns the process-wide convenience Recorder.
func Default() *Recorder { return defaultRecorder }

// Registry exposes the underlying Prometheus registry, e.g. for promhttp.HandlerFor.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Counter returns the named counter, creating and registering it on first use.
func (r *Recorder) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	pc := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	r.registry.MustRegister(pc)
	c := &Counter{prom: pc}
	r.counters[name] = c
	return c
}

// Gauge returns the named gauge, creating and registering it on first use.
func (r *Recorder) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	pg := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	r.registry.MustRegister(pg)
	g := &Gauge{prom: pg}
	r.gauges[name] = g
	return g
}

// Histogram returns the named bounded histogram, creating it and its
// Prometheus-facing counterpart on first use. buckets configures only the
// Prometheus-exported distribution; the in-process Summary always comes from
// the exact last-1000-samples ring buffer.
func (r *Recorder) Histogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	ph := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	r.registry.MustRegister(ph)
	h := &Histogram{}
	r.histograms[name] = h
	r.promHists[name] = ph
	return h
}

// Observe records v into the named histogram's ring buffer and its
// Prometheus-exported distribution in one call.
func (r *Recorder) Observe(name string, v float64) {
	r.mu.Lock()
	h, hasH := r.histograms[name]
	ph, hasP := r.promHists[name]
	r.mu.Unlock()
	if hasH {
		h.Observe(v)
	}
	if hasP {
		ph.Observe(v)
	}
}
