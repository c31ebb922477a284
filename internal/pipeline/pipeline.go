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

// Package pipeline drives a finalized message group through link detection,
// content extraction, and delivery to downstream consumers.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dealdesk/intake/internal/extract"
	"github.com/dealdesk/intake/internal/fetch"
	"github.com/dealdesk/intake/internal/links"
	"github.com/dealdesk/intake/internal/models"
)

// Sink receives completed group results for downstream analysis.
type Sink interface {
	PublishGroupResult(ctx context.Context, result *models.GroupResult) error
}

// Journal records completed group results for later audit.
type Journal interface {
	Record(ctx context.Context, result *models.GroupResult) error
}

// Driver processes finalized groups end to end.
type Driver struct {
	orchestrator *extract.Orchestrator

	// sink and journal are optional. A nil sink means results are only
	// logged (replay tooling); a nil journal disables the audit trail.
	sink    Sink
	journal Journal

	// onProcessed is an optional completion hook (metrics).
	onProcessed func(result *models.GroupResult)
}

// NewDriver creates a pipeline driver. Sink and journal may be nil.
func NewDriver(orchestrator *extract.Orchestrator, sink Sink, journal Journal) *Driver {
	return &Driver{
		orchestrator: orchestrator,
		sink:         sink,
		journal:      journal,
	}
}

// SetProcessedHook installs a per-group completion observer.
func (d *Driver) SetProcessedHook(fn func(result *models.GroupResult)) {
	d.onProcessed = fn
}

// Process runs one finalized group through the full pipeline and returns
// the result. Extraction failures never fail Process; they are folded into
// the outcome. Only delivery failures propagate, so the caller can decide
// whether to retry.
func (d *Driver) Process(ctx context.Context, group *models.MessageGroup) (*models.GroupResult, error) {
	text := group.CombinedText()

	docLinks := links.DetectDocuments(text)
	password := extract.Password(text)

	slog.Info("processing finalized group",
		"group_id", group.ID,
		"conversation", group.ConversationID,
		"messages", len(group.Messages),
		"document_links", len(docLinks),
		"has_password", password != "",
	)

	var outcome models.ExtractionOutcome
	if len(docLinks) > 0 {
		// Successive groups in one conversation can process concurrently;
		// materialized files are namespaced per group to avoid collisions.
		outcome = d.orchestrator.Run(fetch.WithNamespace(ctx, group.ID), docLinks, password)
	} else if att := group.AttachmentMessage(); att != nil {
		// A lone attachment with no links still reaches analysis; the
		// worker pulls the file from the platform by message ID.
		slog.Info("group carries attachment only",
			"group_id", group.ID,
			"attachment", att.AttachmentName,
		)
	}

	result := &models.GroupResult{
		GroupID:        group.ID,
		ConversationID: group.ConversationID,
		Sender:         group.PrimarySender,
		MessageCount:   len(group.Messages),
		CombinedText:   text,
		Outcome:        outcome,
	}

	if d.journal != nil {
		if err := d.journal.Record(ctx, result); err != nil {
			// Audit is best effort. Losing a journal row must not lose
			// the deal itself.
			slog.Error("journal record failed", "group_id", result.GroupID, "error", err)
		}
	}

	if d.sink != nil {
		if err := d.sink.PublishGroupResult(ctx, result); err != nil {
			return result, fmt.Errorf("publish group result: %w", err)
		}
	}

	if d.onProcessed != nil {
		d.onProcessed(result)
	}

	slog.Info("group processed",
		"group_id", result.GroupID,
		"decks_detected", result.Outcome.DecksDetected,
		"decks_fetched", result.Outcome.DecksFetched,
		"needs_review", result.Outcome.NeedsReview,
	)

	return result, nil
}
