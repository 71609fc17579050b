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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// KafkaProducer is a minimal abstraction over a Kafka client.
// Implementations should enable idempotent production
// (enable.idempotence=true) and use CommitID as the message key so broker
// dedup and per-key ordering hold. A specific Kafka client library is
// deliberately not imported here: the adapter is interface-only, and the
// caller supplies whichever client it already depends on.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaPersister publishes commits as Kafka messages rather than applying
// them locally; idempotency is delegated to the producer (retries
// deduplicated by the broker) and to consumers, which must track the last
// applied CommitID per Key or enforce a monotonic FencingToken.
type KafkaPersister struct {
	producer       KafkaProducer
	topic          string
	defaultTimeout time.Duration
}

func NewKafkaPersister(p KafkaProducer, topic string) *KafkaPersister {
	return &KafkaPersister{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

// CommitMessage is the serialized payload sent to Kafka; the message key is
// CommitID's bytes.
type CommitMessage struct {
	Key          string `json:"key"`
	Vector       int64  `json:"vc"`
	CommitID     string `json:"commit_id"`
	FencingToken *int64 `json:"fencing_token,omitempty"`
	TsUnixMs     int64  `json:"ts_unix_ms"`
}

func (k *KafkaPersister) CommitBatch(ctx context.Context, entries []CommitEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	nowMs := time.Now().UnixMilli()
	for _, e := range entries {
		if e.CommitID == "" {
			return errors.New("persistence: CommitEntry.CommitID must be set")
		}
		msg := CommitMessage{
			Key:          e.Key,
			Vector:       e.Vector,
			CommitID:     e.CommitID,
			FencingToken: e.FencingToken,
			TsUnixMs:     nowMs,
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("persistence: marshal kafka message: %w", err)
		}
		headers := map[string]string{"content-type": "application/json"}
		if err := k.producer.Produce(ctx, k.topic, []byte(e.CommitID), b, headers); err != nil {
			return fmt.Errorf("persistence: kafka produce key=%s commit=%s: %w", e.Key, e.CommitID, err)
		}
	}
	return nil
}
