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

package models

// FetchedContent is the outcome of retrieving one detected link's content.
// Success implies Content is non-empty or DocumentPath is set; a fetcher
// claiming success with neither is a contract violation.
type FetchedContent struct {
	URL          string `json:"url"`
	Success      bool   `json:"success"`
	Content      string `json:"content,omitempty"`
	Title        string `json:"title,omitempty"`
	Error        string `json:"error,omitempty"`
	DocumentPath string `json:"document_path,omitempty"`
}

// Valid reports whether the content honours the fetcher contract.
func (f *FetchedContent) Valid() bool {
	if !f.Success {
		return true
	}
	return f.Content != "" || f.DocumentPath != ""
}

// ExtractionOutcome aggregates the fetch results for one finalized group.
//
// NeedsReview is set when link-bearing content entirely failed to fetch, or
// when a fetch "succeeded" with suspiciously little text (typically a login
// or verification wall rather than the real document).
type ExtractionOutcome struct {
	Contents      []FetchedContent `json:"contents"`
	DecksDetected int              `json:"decks_detected"`
	DecksFetched  int              `json:"decks_fetched"`
	NeedsReview   bool             `json:"needs_review"`
	ReviewReasons []string         `json:"review_reasons,omitempty"`
}

// GroupResult is what the pipeline hands back to the external caller for
// one finalized group: the combined text plus per-link fetch results. The
// analysis collaborator turns this into structured deal records.
type GroupResult struct {
	GroupID        string            `json:"group_id"`
	ConversationID string            `json:"conversation_id"`
	Sender         string            `json:"sender"`
	MessageCount   int               `json:"message_count"`
	CombinedText   string            `json:"combined_text"`
	Outcome        ExtractionOutcome `json:"outcome"`
}
