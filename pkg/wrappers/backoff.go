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

package wrappers

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig configures NewBackoff's exponential backoff: attempt i's
// base delay is min(MaxDelay, Base*Factor^i). When Jitter is true each delay
// is drawn uniformly from [0, 2×] that base delay, so it is not a [0,1]
// multiplier and a jittered delay can exceed MaxDelay.
type BackoffConfig struct {
	Base    time.Duration
	Factor  float64
	MaxDelay time.Duration
	Jitter  bool
}

// NewBackoff builds a github.com/cenkalti/backoff/v4 ExponentialBackOff
// configured per cfg (InitialInterval=Base, Multiplier=Factor,
// MaxInterval=MaxDelay, RandomizationFactor=1 when Jitter is requested, 0
// otherwise). The library caps the interval at MaxInterval and then applies
// the randomization factor, which at 1 spreads each delay over [0, 2×] the
// capped interval.
func NewBackoff(cfg BackoffConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if cfg.Base > 0 {
		b.InitialInterval = cfg.Base
	}
	if cfg.Factor > 0 {
		b.Multiplier = cfg.Factor
	}
	if cfg.MaxDelay > 0 {
		b.MaxInterval = cfg.MaxDelay
	}
	if cfg.Jitter {
		b.RandomizationFactor = 1
	} else {
		b.RandomizationFactor = 0
	}
	b.MaxElapsedTime = 0 // never give up on elapsed time; caller bounds attempts itself
	b.Reset()
	return b
}
