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

package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dealdesk/intake/internal/extract"
	"github.com/dealdesk/intake/internal/fetch"
	"github.com/dealdesk/intake/internal/links"
	"github.com/dealdesk/intake/internal/models"
)

// recordingFetcher returns a fixed success and records passwords.
type recordingFetcher struct {
	content   string
	passwords []string
}

func (f *recordingFetcher) Fetch(ctx context.Context, url, password string) models.FetchedContent {
	f.passwords = append(f.passwords, password)
	return models.FetchedContent{URL: url, Success: true, Content: f.content}
}

type recordingSink struct {
	results []*models.GroupResult
	err     error
}

func (s *recordingSink) PublishGroupResult(ctx context.Context, result *models.GroupResult) error {
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, result)
	return nil
}

type recordingJournal struct {
	results []*models.GroupResult
	err     error
}

func (j *recordingJournal) Record(ctx context.Context, result *models.GroupResult) error {
	if j.err != nil {
		return j.err
	}
	j.results = append(j.results, result)
	return nil
}

func groupWith(texts ...string) *models.MessageGroup {
	g := models.NewMessageGroup("conv-1")
	for i, text := range texts {
		g.Append(models.BufferedMessage{
			ConversationID: "conv-1",
			MessageID:      "m" + string(rune('1'+i)),
			Sender:         "alice",
			Text:           text,
			Timestamp:      time.Now(),
		})
	}
	return g
}

func driverWith(fetcher fetch.Fetcher, sink Sink, journal Journal) *Driver {
	// The fetcher here serializes concurrency-free; a single fetcher
	// concurrency > 1 would race on the recording slice.
	r := fetch.NewRegistry()
	r.Register(links.TypeDocSend, fetcher)
	o := extract.NewOrchestrator(r)
	o.Concurrency = 1
	return NewDriver(o, sink, journal)
}

// TestProcess_FullFlow verifies detection, password recovery, extraction,
// journaling, and publication for a typical deck submission.
func TestProcess_FullFlow(t *testing.T) {
	fetcher := &recordingFetcher{content: strings.Repeat("deck text ", 100)}
	sink := &recordingSink{}
	journal := &recordingJournal{}
	d := driverWith(fetcher, sink, journal)

	group := groupWith(
		"sharing the Acme deck",
		"https://docsend.com/view/abc",
		"password: hunter2",
	)

	result, err := d.Process(context.Background(), group)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if result.Outcome.DecksDetected != 1 || result.Outcome.DecksFetched != 1 {
		t.Errorf("detected/fetched = %d/%d, want 1/1",
			result.Outcome.DecksDetected, result.Outcome.DecksFetched)
	}
	if result.Outcome.NeedsReview {
		t.Errorf("flagged for review: %v", result.Outcome.ReviewReasons)
	}
	if len(fetcher.passwords) != 1 || fetcher.passwords[0] != "hunter2" {
		t.Errorf("fetcher passwords = %v, want [hunter2]", fetcher.passwords)
	}
	if result.MessageCount != 3 || result.Sender != "alice" {
		t.Errorf("result meta = %d messages, sender %q", result.MessageCount, result.Sender)
	}
	if !strings.Contains(result.CombinedText, "sharing the Acme deck") {
		t.Errorf("combined text = %q", result.CombinedText)
	}

	if len(sink.results) != 1 {
		t.Fatalf("sink received %d results, want 1", len(sink.results))
	}
	if len(journal.results) != 1 {
		t.Fatalf("journal received %d results, want 1", len(journal.results))
	}
	if sink.results[0].GroupID != group.ID {
		t.Errorf("published group id = %q, want %q", sink.results[0].GroupID, group.ID)
	}
}

// TestProcess_NoLinks verifies link-free groups still publish, with an
// empty outcome.
func TestProcess_NoLinks(t *testing.T) {
	sink := &recordingSink{}
	d := driverWith(&recordingFetcher{}, sink, nil)

	result, err := d.Process(context.Background(), groupWith("just an intro, no deck yet"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome.DecksDetected != 0 {
		t.Errorf("detected = %d, want 0", result.Outcome.DecksDetected)
	}
	if len(sink.results) != 1 {
		t.Errorf("sink received %d results, want 1", len(sink.results))
	}
}

// TestProcess_SinkFailurePropagates verifies delivery failures surface to
// the caller while the result is still returned.
func TestProcess_SinkFailurePropagates(t *testing.T) {
	d := driverWith(&recordingFetcher{content: strings.Repeat("x", 600)},
		&recordingSink{err: errors.New("redis gone")}, nil)

	result, err := d.Process(context.Background(), groupWith("https://docsend.com/view/abc"))
	if err == nil {
		t.Fatal("sink failure did not propagate")
	}
	if result == nil {
		t.Fatal("result dropped on sink failure")
	}
}

// TestProcess_JournalFailureIsBestEffort verifies a failing journal does
// not block publication.
func TestProcess_JournalFailureIsBestEffort(t *testing.T) {
	sink := &recordingSink{}
	d := driverWith(&recordingFetcher{content: strings.Repeat("x", 600)},
		sink, &recordingJournal{err: errors.New("pg gone")})

	if _, err := d.Process(context.Background(), groupWith("https://docsend.com/view/abc")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(sink.results) != 1 {
		t.Errorf("sink received %d results, want 1", len(sink.results))
	}
}
