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

// Package extract orchestrates content fetching for a batch of classified
// links and aggregates the results into one outcome. Individual link
// failures are recovered into FetchedContent records; the orchestrator
// itself never fails for one bad link among several.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dealdesk/intake/internal/fetch"
	"github.com/dealdesk/intake/internal/links"
	"github.com/dealdesk/intake/internal/models"
)

// DefaultThinContentChars is the empirical floor below which a "successful"
// fetch is treated as a login-wall false success. Tuned against one
// service's verification pages; configurable for that reason.
const DefaultThinContentChars = 500

// passwordPattern matches a shared document password announced in text,
// e.g. "password: hunter2". The CJK token covers bilingual submissions.
var passwordPattern = regexp.MustCompile(`(?i)(?:password|passcode|pwd|pw|密码)[:\s]*([^\s\n]+)`)

// Orchestrator fans fetches out across a link batch with bounded
// concurrency and computes the aggregate outcome in one pure pass.
type Orchestrator struct {
	registry *fetch.Registry

	// ThinContentChars overrides DefaultThinContentChars when > 0.
	ThinContentChars int
	// Concurrency bounds simultaneous fetches. Defaults to 3.
	Concurrency int

	// observe is an optional per-fetch hook (metrics).
	observe func(linkType links.LinkType, success bool)
}

// NewOrchestrator creates an orchestrator over the given fetcher registry.
func NewOrchestrator(registry *fetch.Registry) *Orchestrator {
	return &Orchestrator{registry: registry}
}

// SetObserveHook installs a per-fetch observer.
func (o *Orchestrator) SetObserveHook(fn func(linkType links.LinkType, success bool)) {
	o.observe = fn
}

// Run fetches content for each link and returns the aggregate outcome.
// The input is already deduplicated and priority-sorted; results keep the
// input order. Password is the shared password recovered from the
// surrounding text, "" when none.
//
// Each fetcher bounds its own execution time; Run imposes no outer
// deadline beyond ctx, so callers needing one wrap ctx themselves.
func (o *Orchestrator) Run(ctx context.Context, batch []links.DetectedLink, password string) models.ExtractionOutcome {
	contents := make([]models.FetchedContent, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())

	for i, link := range batch {
		g.Go(func() error {
			contents[i] = o.fetchOne(gctx, link, password)
			return nil
		})
	}
	// Workers never return errors; failures live in the contents slice.
	_ = g.Wait()

	return o.aggregate(batch, contents)
}

// fetchOne dispatches a single link to its fetcher, retrying through the
// last-resort fetcher on failure. Password-protected failures are final:
// other fetchers would hit the same wall.
func (o *Orchestrator) fetchOne(ctx context.Context, link links.DetectedLink, password string) models.FetchedContent {
	fetcher, ok := o.registry.For(link.Type)
	if !ok {
		return models.FetchedContent{
			URL:     link.URL,
			Success: false,
			Error:   fmt.Sprintf("no fetcher available for %s links", link.Type),
		}
	}

	slog.Info("fetching document link", "url", link.URL, "type", link.Type)
	result := fetcher.Fetch(ctx, link.URL, password)

	if !result.Success && password == "" && fetch.PasswordRequired(result) {
		slog.Info("document is password protected, not retrying", "url", link.URL)
		o.report(link.Type, false)
		return result
	}

	if !result.Success {
		if last := o.registry.LastResort(); last != nil {
			slog.Info("primary fetcher failed, trying last-resort fetcher",
				"url", link.URL,
				"error", result.Error,
			)
			result = last.Fetch(ctx, link.URL, password)
		}
	}

	if result.Success && !result.Valid() {
		// Fetcher contract violation: claimed success with neither
		// content nor a materialized document.
		slog.Error("fetcher reported success with no content", "url", link.URL)
		result = models.FetchedContent{
			URL:     link.URL,
			Success: false,
			Error:   "fetcher returned success with no content",
		}
	}

	o.report(link.Type, result.Success)
	return result
}

// aggregate computes the outcome in a single pass over the completed
// results, rather than flags mutated mid-fetch, so fetch ordering can
// never produce a missed update.
func (o *Orchestrator) aggregate(batch []links.DetectedLink, contents []models.FetchedContent) models.ExtractionOutcome {
	outcome := models.ExtractionOutcome{
		Contents:      contents,
		DecksDetected: len(batch),
	}

	for _, c := range contents {
		if c.Success {
			outcome.DecksFetched++
		}
	}

	thin := o.ThinContentChars
	if thin <= 0 {
		thin = DefaultThinContentChars
	}

	var failures, thinHits []string
	for _, c := range contents {
		switch {
		case !c.Success:
			failures = append(failures, fmt.Sprintf("%s: %s", c.URL, c.Error))
		case c.Content != "" && len(c.Content) < thin:
			thinHits = append(thinHits,
				fmt.Sprintf("%s: thin content (%d chars, may be login page)", c.URL, len(c.Content)))
		}
	}

	allFailed := outcome.DecksDetected > 0 && outcome.DecksFetched == 0
	if allFailed || len(thinHits) > 0 {
		outcome.NeedsReview = true
		outcome.ReviewReasons = append(failures, thinHits...)
	}

	return outcome
}

func (o *Orchestrator) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return 3
}

func (o *Orchestrator) report(t links.LinkType, success bool) {
	if o.observe != nil {
		o.observe(t, success)
	}
}

// Password recovers a shared document password from the surrounding text,
// or "" when none is announced. Trailing punctuation is stripped from the
// captured token.
func Password(text string) string {
	m := passwordPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(m[1]), ".,;:")
}
