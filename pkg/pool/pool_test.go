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

package pool

import (
	"context"
	"testing"
	"time"

	"flowctl/internal/clock"
)

func TestPool_SubmitResolvesFuture(t *testing.T) {
	ctx := context.Background()
	p := New[int](Config{Min: 1, Max: 1})
	p.Start()
	defer p.Stop(context.Background())

	future, err := p.Submit(ctx, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	v, err := future.Wait(ctx)
	if err != nil || v != 42 {
		t.Fatalf("Wait got (%d, %v), want (42, nil)", v, err)
	}
}

func TestPool_StartSpawnsMinWorkers(t *testing.T) {
	p := New[int](Config{Min: 3, Max: 5})
	p.Start()
	defer p.Stop(context.Background())

	time.Sleep(20 * time.Millisecond)
	if got := p.Workers(); got != 3 {
		t.Fatalf("Workers after Start = %d, want 3", got)
	}
}

func TestPool_ScalesUpUnderLoad(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	block := make(chan struct{})
	p := New[int](Config{Min: 1, Max: 3, CheckInterval: time.Second, ScaleUp: 1.0, Clock: fc})
	p.Start()
	defer func() {
		close(block)
		p.Stop(context.Background())
	}()

	// Three blocking tasks against a single worker: pending stays at 2 while
	// the lone worker is busy, giving load = 2/1 = 2 > ScaleUp.
	for i := 0; i < 3; i++ {
		p.Submit(context.Background(), func(ctx context.Context) (int, error) {
			<-block
			return 0, nil
		})
	}
	time.Sleep(20 * time.Millisecond) // let the first task get picked up

	fc.Advance(time.Second)
	time.Sleep(20 * time.Millisecond) // let controlLoop's tick land

	if got := p.Workers(); got < 2 {
		t.Fatalf("Workers after a tick under load = %d, want >= 2", got)
	}
}

func TestPool_ScalesDownWhenIdle(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	block := make(chan struct{})
	p := New[int](Config{Min: 1, Max: 3, CheckInterval: time.Second, ScaleUp: 1.0, ScaleDown: 0.25, Clock: fc})
	p.Start()
	defer p.Stop(context.Background())

	for i := 0; i < 3; i++ {
		p.Submit(context.Background(), func(ctx context.Context) (int, error) {
			<-block
			return 0, nil
		})
	}
	time.Sleep(20 * time.Millisecond)
	fc.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	grown := p.Workers()
	if grown < 2 {
		t.Fatalf("expected the pool to have grown under load, got %d workers", grown)
	}

	close(block) // tasks complete, pending drops to 0: load goes to 0 < ScaleDown
	time.Sleep(20 * time.Millisecond)
	fc.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := p.Workers(); got >= grown {
		t.Fatalf("expected the pool to shrink once idle, got %d workers (was %d)", got, grown)
	}
}

func TestPool_StopWaitsForInFlightTask(t *testing.T) {
	p := New[int](Config{Min: 1, Max: 1})
	p.Start()

	started := make(chan struct{})
	finished := make(chan struct{})
	p.Submit(context.Background(), func(ctx context.Context) (int, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		close(finished)
		return 0, nil
	})
	<-started

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-finished:
	default:
		t.Fatalf("expected Stop to wait for the in-flight task to finish")
	}
}

func TestPool_StopRespectsDeadline(t *testing.T) {
	p := New[int](Config{Min: 1, Max: 1})
	p.Start()

	p.Submit(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(time.Second)
		return 0, nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); err == nil {
		t.Fatalf("expected Stop to return the deadline error for a long-running task")
	}
}
