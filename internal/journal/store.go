// Copyright (c) 2026 John Earle
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

// Package journal provides a Postgres-backed audit trail of extraction
// outcomes. Each finalized group is recorded once, so operators can answer
// "what happened to that deck from last Tuesday" without digging through
// worker logs.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealdesk/intake/internal/models"
)

// Entry represents a single extraction outcome persisted in Postgres.
type Entry struct {
	ID             int64
	GroupID        string
	ConversationID string
	Sender         string
	MessageCount   int
	DecksDetected  int
	DecksFetched   int
	NeedsReview    bool
	ReviewReasons  []string
	Contents       []models.FetchedContent
	CreatedAt      time.Time
}

// Store provides append and query operations for extraction outcomes.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a journal store backed by the given Postgres pool.
// It ensures the extraction_outcomes table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	slog.Info("journal store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS extraction_outcomes (
			id              BIGSERIAL PRIMARY KEY,
			group_id        TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			sender          TEXT DEFAULT '',
			message_count   INT NOT NULL,
			decks_detected  INT NOT NULL,
			decks_fetched   INT NOT NULL,
			needs_review    BOOLEAN DEFAULT FALSE,
			review_reasons  JSONB DEFAULT '[]',
			contents        JSONB DEFAULT '[]',
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_conversation ON extraction_outcomes(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_outcomes_review ON extraction_outcomes(needs_review);
		CREATE INDEX IF NOT EXISTS idx_outcomes_created ON extraction_outcomes(created_at);
	`)
	return err
}

// Record appends the outcome of a finalized group. Recording the same group
// twice is a no-op, which keeps crash-replay idempotent.
func (s *Store) Record(ctx context.Context, result *models.GroupResult) error {
	reasons, err := json.Marshal(result.Outcome.ReviewReasons)
	if err != nil {
		return fmt.Errorf("marshal review reasons: %w", err)
	}
	contents, err := json.Marshal(result.Outcome.Contents)
	if err != nil {
		return fmt.Errorf("marshal contents: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO extraction_outcomes
			(group_id, conversation_id, sender, message_count,
			 decks_detected, decks_fetched, needs_review, review_reasons, contents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (group_id) DO NOTHING
	`, result.GroupID, result.ConversationID, result.Sender, result.MessageCount,
		result.Outcome.DecksDetected, result.Outcome.DecksFetched,
		result.Outcome.NeedsReview, reasons, contents)
	return err
}

// Get retrieves the outcome for a single group, or nil when unknown.
func (s *Store) Get(ctx context.Context, groupID string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, group_id, conversation_id, sender, message_count,
		       decks_detected, decks_fetched, needs_review, review_reasons,
		       contents, created_at
		FROM extraction_outcomes
		WHERE group_id = $1
	`, groupID)
	return scanEntry(row)
}

// ListByConversation returns outcomes for a conversation, newest first.
func (s *Store) ListByConversation(ctx context.Context, conversationID string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, conversation_id, sender, message_count,
		       decks_detected, decks_fetched, needs_review, review_reasons,
		       contents, created_at
		FROM extraction_outcomes
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListNeedingReview returns outcomes flagged for review within the window,
// newest first.
func (s *Store) ListNeedingReview(ctx context.Context, since time.Duration, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, conversation_id, sender, message_count,
		       decks_detected, decks_fetched, needs_review, review_reasons,
		       contents, created_at
		FROM extraction_outcomes
		WHERE needs_review AND created_at > NOW() - $1::interval
		ORDER BY created_at DESC
		LIMIT $2
	`, fmt.Sprintf("%d seconds", int(since.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Summary holds aggregate counters over a time window.
type Summary struct {
	Groups        int64
	DecksDetected int64
	DecksFetched  int64
	NeedsReview   int64
}

// Summarize returns aggregate counters for outcomes within the window.
func (s *Store) Summarize(ctx context.Context, since time.Duration) (*Summary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(decks_detected), 0),
		       COALESCE(SUM(decks_fetched), 0),
		       COUNT(*) FILTER (WHERE needs_review)
		FROM extraction_outcomes
		WHERE created_at > NOW() - $1::interval
	`, fmt.Sprintf("%d seconds", int(since.Seconds())))

	var sum Summary
	if err := row.Scan(&sum.Groups, &sum.DecksDetected, &sum.DecksFetched, &sum.NeedsReview); err != nil {
		return nil, err
	}
	return &sum, nil
}

// scanEntry scans a single row into an Entry.
func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e        Entry
		reasons  []byte
		contents []byte
	)
	err := row.Scan(
		&e.ID, &e.GroupID, &e.ConversationID, &e.Sender, &e.MessageCount,
		&e.DecksDetected, &e.DecksFetched, &e.NeedsReview, &reasons,
		&contents, &e.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalEntryJSON(&e, reasons, contents); err != nil {
		return nil, err
	}
	return &e, nil
}

// collectEntries scans multiple rows into a slice of Entries.
func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			reasons  []byte
			contents []byte
		)
		if err := rows.Scan(
			&e.ID, &e.GroupID, &e.ConversationID, &e.Sender, &e.MessageCount,
			&e.DecksDetected, &e.DecksFetched, &e.NeedsReview, &reasons,
			&contents, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalEntryJSON(&e, reasons, contents); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func unmarshalEntryJSON(e *Entry, reasons, contents []byte) error {
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &e.ReviewReasons); err != nil {
			return fmt.Errorf("unmarshal review reasons: %w", err)
		}
	}
	if len(contents) > 0 {
		if err := json.Unmarshal(contents, &e.Contents); err != nil {
			return fmt.Errorf("unmarshal contents: %w", err)
		}
	}
	return nil
}
