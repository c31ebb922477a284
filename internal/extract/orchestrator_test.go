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

package extract

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dealdesk/intake/internal/fetch"
	"github.com/dealdesk/intake/internal/links"
	"github.com/dealdesk/intake/internal/models"
)

// scriptedFetcher returns canned results per URL and counts calls.
type scriptedFetcher struct {
	results map[string]models.FetchedContent
	calls   atomic.Int64
	// lastPassword records the password passed to the final call.
	lastPassword atomic.Value
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url, password string) models.FetchedContent {
	f.calls.Add(1)
	f.lastPassword.Store(password)
	if r, ok := f.results[url]; ok {
		return r
	}
	return models.FetchedContent{URL: url, Success: false, Error: "unscripted url"}
}

func success(url, content string) models.FetchedContent {
	return models.FetchedContent{URL: url, Success: true, Content: content}
}

func failed(url, errMsg string) models.FetchedContent {
	return models.FetchedContent{URL: url, Success: false, Error: errMsg}
}

func docLink(url string, t links.LinkType) links.DetectedLink {
	return links.DetectedLink{URL: url, Type: t, IsDocument: true}
}

func registryWith(t links.LinkType, f fetch.Fetcher) *fetch.Registry {
	r := fetch.NewRegistry()
	r.Register(t, f)
	return r
}

// TestRun_AllSucceed verifies the clean path: every link fetched, no review.
func TestRun_AllSucceed(t *testing.T) {
	long := strings.Repeat("deck content ", 100)
	f := &scriptedFetcher{results: map[string]models.FetchedContent{
		"https://docsend.com/view/a": success("https://docsend.com/view/a", long),
		"https://docsend.com/view/b": success("https://docsend.com/view/b", long),
	}}

	o := NewOrchestrator(registryWith(links.TypeDocSend, f))
	outcome := o.Run(context.Background(), []links.DetectedLink{
		docLink("https://docsend.com/view/a", links.TypeDocSend),
		docLink("https://docsend.com/view/b", links.TypeDocSend),
	}, "")

	if outcome.DecksDetected != 2 || outcome.DecksFetched != 2 {
		t.Errorf("detected/fetched = %d/%d, want 2/2", outcome.DecksDetected, outcome.DecksFetched)
	}
	if outcome.NeedsReview {
		t.Errorf("needs review with all fetches successful: %v", outcome.ReviewReasons)
	}
	if len(outcome.Contents) != 2 {
		t.Errorf("contents = %d entries, want 2", len(outcome.Contents))
	}
}

// TestRun_PartialFailureWithThinContent verifies the mixed case: one link
// fails outright, the other comes back suspiciously short. The outcome
// counts the thin fetch as fetched but flags the group with both reasons.
func TestRun_PartialFailureWithThinContent(t *testing.T) {
	f := &scriptedFetcher{results: map[string]models.FetchedContent{
		"https://docsend.com/view/a": failed("https://docsend.com/view/a", "document has expired"),
		"https://docsend.com/view/b": success("https://docsend.com/view/b", "0123456789"),
	}}

	o := NewOrchestrator(registryWith(links.TypeDocSend, f))
	outcome := o.Run(context.Background(), []links.DetectedLink{
		docLink("https://docsend.com/view/a", links.TypeDocSend),
		docLink("https://docsend.com/view/b", links.TypeDocSend),
	}, "")

	if outcome.DecksDetected != 2 {
		t.Errorf("detected = %d, want 2", outcome.DecksDetected)
	}
	if outcome.DecksFetched != 1 {
		t.Errorf("fetched = %d, want 1", outcome.DecksFetched)
	}
	if !outcome.NeedsReview {
		t.Fatal("outcome not flagged for review")
	}

	joined := strings.Join(outcome.ReviewReasons, " | ")
	if !strings.Contains(joined, "document has expired") {
		t.Errorf("reasons missing failure detail: %q", joined)
	}
	if !strings.Contains(joined, "thin content (10 chars") {
		t.Errorf("reasons missing thin content detail: %q", joined)
	}
}

// TestRun_AllFailed verifies total failure flags review with every error.
func TestRun_AllFailed(t *testing.T) {
	f := &scriptedFetcher{results: map[string]models.FetchedContent{
		"https://docsend.com/view/a": failed("https://docsend.com/view/a", "expired"),
		"https://docsend.com/view/b": failed("https://docsend.com/view/b", "rate limited"),
	}}

	o := NewOrchestrator(registryWith(links.TypeDocSend, f))
	outcome := o.Run(context.Background(), []links.DetectedLink{
		docLink("https://docsend.com/view/a", links.TypeDocSend),
		docLink("https://docsend.com/view/b", links.TypeDocSend),
	}, "")

	if outcome.DecksFetched != 0 {
		t.Errorf("fetched = %d, want 0", outcome.DecksFetched)
	}
	if !outcome.NeedsReview {
		t.Fatal("outcome not flagged for review")
	}
	if len(outcome.ReviewReasons) != 2 {
		t.Errorf("reasons = %d, want 2: %v", len(outcome.ReviewReasons), outcome.ReviewReasons)
	}
}

// TestRun_EmptyBatch verifies no links means a clean empty outcome.
func TestRun_EmptyBatch(t *testing.T) {
	o := NewOrchestrator(fetch.NewRegistry())
	outcome := o.Run(context.Background(), nil, "")

	if outcome.DecksDetected != 0 || outcome.DecksFetched != 0 || outcome.NeedsReview {
		t.Errorf("empty batch outcome = %+v, want zeroes", outcome)
	}
}

// TestRun_LastResortFallback verifies a failing primary fetcher falls
// through to the last-resort fetcher.
func TestRun_LastResortFallback(t *testing.T) {
	primary := &scriptedFetcher{results: map[string]models.FetchedContent{
		"https://acme.io/deck": failed("https://acme.io/deck", "blocked by robots"),
	}}
	rescue := &scriptedFetcher{results: map[string]models.FetchedContent{
		"https://acme.io/deck": success("https://acme.io/deck", strings.Repeat("rescued ", 100)),
	}}

	r := registryWith(links.TypeWebsite, primary)
	r.SetLastResort(rescue)

	o := NewOrchestrator(r)
	outcome := o.Run(context.Background(), []links.DetectedLink{
		docLink("https://acme.io/deck", links.TypeWebsite),
	}, "")

	if outcome.DecksFetched != 1 {
		t.Fatalf("fetched = %d, want 1 (last resort)", outcome.DecksFetched)
	}
	if rescue.calls.Load() != 1 {
		t.Errorf("last resort called %d times, want 1", rescue.calls.Load())
	}
}

// TestRun_PasswordProtectedSkipsFallback verifies password failures are
// final when no password is known; the last resort would hit the same wall.
func TestRun_PasswordProtectedSkipsFallback(t *testing.T) {
	primary := &scriptedFetcher{results: map[string]models.FetchedContent{
		"https://docsend.com/view/a": failed("https://docsend.com/view/a", "document requires password"),
	}}
	rescue := &scriptedFetcher{}

	r := registryWith(links.TypeDocSend, primary)
	r.SetLastResort(rescue)

	o := NewOrchestrator(r)
	outcome := o.Run(context.Background(), []links.DetectedLink{
		docLink("https://docsend.com/view/a", links.TypeDocSend),
	}, "")

	if rescue.calls.Load() != 0 {
		t.Errorf("last resort called %d times for password-protected link, want 0", rescue.calls.Load())
	}
	if !outcome.NeedsReview {
		t.Error("password-protected failure not flagged for review")
	}
}

// TestRun_PasswordPassedToFetcher verifies the recovered password reaches
// the fetcher.
func TestRun_PasswordPassedToFetcher(t *testing.T) {
	f := &scriptedFetcher{results: map[string]models.FetchedContent{
		"https://docsend.com/view/a": success("https://docsend.com/view/a", strings.Repeat("x", 600)),
	}}

	o := NewOrchestrator(registryWith(links.TypeDocSend, f))
	o.Run(context.Background(), []links.DetectedLink{
		docLink("https://docsend.com/view/a", links.TypeDocSend),
	}, "hunter2")

	if got := f.lastPassword.Load(); got != "hunter2" {
		t.Errorf("fetcher received password %v, want hunter2", got)
	}
}

// TestRun_NoFetcherRegistered verifies links without a fetcher fail cleanly.
func TestRun_NoFetcherRegistered(t *testing.T) {
	o := NewOrchestrator(fetch.NewRegistry())
	outcome := o.Run(context.Background(), []links.DetectedLink{
		docLink("https://docsend.com/view/a", links.TypeDocSend),
	}, "")

	if outcome.DecksFetched != 0 || !outcome.NeedsReview {
		t.Errorf("outcome = fetched %d review %v, want 0/true", outcome.DecksFetched, outcome.NeedsReview)
	}
	if len(outcome.Contents) != 1 || !strings.Contains(outcome.Contents[0].Error, "no fetcher") {
		t.Errorf("contents = %+v, want single no-fetcher error", outcome.Contents)
	}
}

// TestRun_SuccessWithoutContentIsFailure verifies the fetcher contract is
// enforced.
func TestRun_SuccessWithoutContentIsFailure(t *testing.T) {
	f := &scriptedFetcher{results: map[string]models.FetchedContent{
		"https://docsend.com/view/a": {URL: "https://docsend.com/view/a", Success: true},
	}}

	r := registryWith(links.TypeDocSend, f)
	o := NewOrchestrator(r)
	outcome := o.Run(context.Background(), []links.DetectedLink{
		docLink("https://docsend.com/view/a", links.TypeDocSend),
	}, "")

	if outcome.DecksFetched != 0 {
		t.Errorf("fetched = %d, want 0 for contentless success", outcome.DecksFetched)
	}
}

// TestPassword exercises the password announcement patterns.
func TestPassword(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"colon", "deck here, password: hunter2", "hunter2"},
		{"no separator", "passcode Xy9-22", "Xy9-22"},
		{"pwd shorthand", "pwd: s3cret", "s3cret"},
		{"chinese", "密码: 月亮42", "月亮42"},
		{"trailing punctuation", "password: hunter2.", "hunter2"},
		{"first wins", "password: first\npassword: second", "first"},
		{"case insensitive", "Password: CaseKeeps", "CaseKeeps"},
		{"none", "no secrets in this message", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Password(tt.text); got != tt.want {
				t.Errorf("Password(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
