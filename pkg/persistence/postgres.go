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
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS counters (
//   key TEXT PRIMARY KEY,
//   scalar BIGINT NOT NULL,
//   last_token BIGINT
// );
//
// CREATE TABLE IF NOT EXISTS applied_commits (
//   commit_id TEXT PRIMARY KEY,
//   key TEXT NOT NULL,
//   vc BIGINT NOT NULL,
//   ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );
// CREATE INDEX IF NOT EXISTS idx_applied_commits_key ON applied_commits(key);

// OpenPostgres opens a *sql.DB against dsn using the lib/pq driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// PostgresPersister applies commits idempotently using the applied_commits
// marker pattern above. It can optionally auto-create missing counter keys
// with scalar=0.
type PostgresPersister struct {
	db                *sql.DB
	createMissingKeys bool
	defaultTimeout    time.Duration
}

// NewPostgresPersister creates a persister. If createMissingKeys is true,
// the persister inserts a counters row with scalar=0 on first sight of a
// key.
func NewPostgresPersister(db *sql.DB, createMissingKeys bool) *PostgresPersister {
	return &PostgresPersister{db: db, createMissingKeys: createMissingKeys, defaultTimeout: 10 * time.Second}
}

// CommitBatch applies the provided entries within a single transaction.
// Each entry remains idempotent: if its commit_id already exists, its
// effects are skipped.
func (p *PostgresPersister) CommitBatch(ctx context.Context, entries []CommitEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if p.createMissingKeys {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO counters(key, scalar) VALUES ($1, 0) ON CONFLICT DO NOTHING`, e.Key); err != nil {
				return fmt.Errorf("persistence: insert counters(%s): %w", e.Key, err)
			}
		}
	}

	for _, e := range entries {
		if e.CommitID == "" {
			return errors.New("persistence: CommitEntry.CommitID must be set")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO applied_commits(commit_id, key, vc) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
			e.CommitID, e.Key, e.Vector)
		if err != nil {
			return fmt.Errorf("persistence: insert applied_commits(%s): %w", e.CommitID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("persistence: insert applied_commits(%s): %w", e.CommitID, err)
		} else if n == 0 {
			continue // commit_id already applied: skip its effects
		}
		if e.FencingToken != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE counters SET last_token = GREATEST(COALESCE(last_token, $2), $2)
				  WHERE key = $1 AND (last_token IS NULL OR $2 >= last_token)`,
				e.Key, *e.FencingToken); err != nil {
				return fmt.Errorf("persistence: update last_token(%s): %w", e.Key, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE counters SET scalar = scalar - $2
			   WHERE key = $1`,
			e.Key, e.Vector); err != nil {
			return fmt.Errorf("persistence: update counters(%s): %w", e.Key, err)
		}
	}

	return tx.Commit()
}
