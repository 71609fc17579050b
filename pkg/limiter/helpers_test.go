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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"flowctl/internal/clock"
	"flowctl/internal/storage"
)

// newTestRemote gives every limiter test a storage.Remote backed by
// miniredis, so token bucket/leaky bucket/sliding window can each be
// exercised against both the Local closure and the Remote Lua path that are
// supposed to be observationally equivalent.
func newTestRemote(t *testing.T) storage.Storage {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return storage.NewRemoteSingle(mr.Addr(), client)
}

// bothBackends returns a Local and a Remote store, each wired to fc as
// their time source (Local directly; Remote's Lua scripts take "now" from
// the caller's args instead, so only the limiter under test needs fc).
func bothBackends(t *testing.T, fc *clock.Fake) map[string]storage.Storage {
	t.Helper()
	return map[string]storage.Storage{
		"local":  storage.NewLocalWithClock(0, fc),
		"remote": newTestRemote(t),
	}
}

func newFakeClock() *clock.Fake {
	return clock.NewFake(time.Unix(1_700_000_000, 0))
}
