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

package links

import (
	"reflect"
	"testing"
)

// TestClassify verifies host-based source family classification.
func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want LinkType
	}{
		{"https://docsend.com/view/abc123", TypeDocSend},
		{"https://www.papermark.io/view/xyz", TypePapermark},
		{"https://pitch.com/v/our-deck", TypePitch},
		{"https://www.notion.so/acme/Deck-123", TypeNotion},
		{"https://docs.google.com/presentation/d/abc/edit", TypeGoogleDrive},
		{"https://www.dropbox.com/s/abc/deck.pdf", TypeDropbox},
		{"https://example.com/files/deck.pdf", TypePDFDirect},
		{"https://www.loom.com/share/abc", TypeLoom},
		{"https://youtu.be/dQw4w9WgXcQ", TypeYouTube},
		{"https://dune.com/queries/123", TypeDune},
		{"https://calendly.com/founder/30min", TypeCalendar},
		{"https://www.linkedin.com/in/founder", TypeLinkedIn},
		{"https://x.com/founder/status/1", TypeTwitter},
		{"https://acme.io", TypeWebsite},
		{"://no-scheme.example.com", TypeUnknown},
		{"https://", TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := Classify(tt.url); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

// TestIsDocumentLink verifies the document heuristics per family.
func TestIsDocumentLink(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"docsend always", "https://docsend.com/view/abc", true},
		{"pdf always", "https://acme.com/deck.pdf", true},
		{"loom always", "https://www.loom.com/share/abc", true},
		{"calendar never", "https://calendly.com/founder/deck", false},
		{"drive presentation", "https://docs.google.com/presentation/d/abc/edit", true},
		{"drive spreadsheet", "https://docs.google.com/spreadsheets/d/abc/edit", false},
		{"website with deck path", "https://acme.io/our-deck", true},
		{"website with investor path", "https://acme.io/investor-update", true},
		{"plain website", "https://acme.io/about", false},
		{"youtube plain", "https://youtu.be/abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsDocumentLink(tt.url, Classify(tt.url))
			if got != tt.want {
				t.Errorf("IsDocumentLink(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

// TestDetect_PriorityOrder verifies document-family links sort above
// everything else, docsend first.
func TestDetect_PriorityOrder(t *testing.T) {
	text := "Site: https://acme.io and deck https://docsend.com/view/abc " +
		"also https://www.linkedin.com/company/acme and " +
		"https://drive.google.com/file/d/xyz/view"

	got := Detect(text)
	if len(got) != 4 {
		t.Fatalf("detected %d links, want 4", len(got))
	}
	if got[0].Type != TypeDocSend {
		t.Errorf("first link = %q, want docsend", got[0].Type)
	}
	if !got[0].IsDocument {
		t.Error("docsend link not marked as document")
	}
	if got[len(got)-1].Type != TypeLinkedIn {
		t.Errorf("last link = %q, want linkedin", got[len(got)-1].Type)
	}
}

// TestDetect_EqualPriorityKeepsInputOrder verifies that links of the same
// family come out in the order they appeared in the text.
func TestDetect_EqualPriorityKeepsInputOrder(t *testing.T) {
	text := "Deck: https://docsend.com/view/abc Memo: https://docsend.com/view/def"

	got := Detect(text)
	if len(got) != 2 {
		t.Fatalf("detected %d links, want 2", len(got))
	}
	if got[0].URL != "https://docsend.com/view/abc" {
		t.Errorf("first link = %q", got[0].URL)
	}
	if got[1].URL != "https://docsend.com/view/def" {
		t.Errorf("second link = %q", got[1].URL)
	}
	for _, l := range got {
		if !l.IsDocument {
			t.Errorf("link %q not marked as document", l.URL)
		}
	}
}

// TestDetect_Deduplicates verifies repeated URLs collapse keeping first
// occurrence, and that detection is idempotent.
func TestDetect_Deduplicates(t *testing.T) {
	text := "https://docsend.com/view/abc again https://docsend.com/view/abc"

	got := Detect(text)
	if len(got) != 1 {
		t.Fatalf("detected %d links, want 1", len(got))
	}

	again := Detect(text)
	if !reflect.DeepEqual(got, again) {
		t.Errorf("Detect not idempotent: %+v vs %+v", got, again)
	}
}

// TestDetect_TrailingPunctuation verifies sentence punctuation is stripped
// from captured URLs.
func TestDetect_TrailingPunctuation(t *testing.T) {
	got := Detect("Our deck: https://docsend.com/view/abc.")
	if len(got) != 1 {
		t.Fatalf("detected %d links, want 1", len(got))
	}
	if got[0].URL != "https://docsend.com/view/abc" {
		t.Errorf("url = %q, trailing punctuation kept", got[0].URL)
	}
}

// TestDetect_UnwrapsRedirects verifies tracking links resolve to their
// destination before classification and dedup.
func TestDetect_UnwrapsRedirects(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"click tracker",
			"https://click.example.com/ls?url=https%3A%2F%2Fdocsend.com%2Fview%2Fabc",
			"https://docsend.com/view/abc",
		},
		{
			"cabal redirect",
			"https://getcabal.com/r?target=https://docsend.com/view/abc",
			"https://docsend.com/view/abc",
		},
		{
			"double encoded",
			"https://track.example.com/c?url=https%253A%252F%252Fdocsend.com%252Fview%252Fabc",
			"https://docsend.com/view/abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.text)
			if len(got) != 1 {
				t.Fatalf("detected %d links, want 1", len(got))
			}
			if got[0].URL != tt.want {
				t.Errorf("url = %q, want %q", got[0].URL, tt.want)
			}
			if got[0].Type != TypeDocSend {
				t.Errorf("type = %q, want docsend", got[0].Type)
			}
		})
	}
}

// TestDetect_RedirectWithoutParam verifies a redirector URL with no wrapped
// destination is kept as-is.
func TestDetect_RedirectWithoutParam(t *testing.T) {
	got := Detect("https://go.acme.com/welcome")
	if len(got) != 1 {
		t.Fatalf("detected %d links, want 1", len(got))
	}
	if got[0].URL != "https://go.acme.com/welcome" {
		t.Errorf("url = %q, want original", got[0].URL)
	}
}

// TestDetectDocuments verifies non-document links are filtered out.
func TestDetectDocuments(t *testing.T) {
	text := "Deck https://docsend.com/view/abc, site https://acme.io, " +
		"call https://calendly.com/founder/30min"

	docs := DetectDocuments(text)
	if len(docs) != 1 {
		t.Fatalf("detected %d document links, want 1", len(docs))
	}
	if docs[0].Type != TypeDocSend {
		t.Errorf("document link = %q, want docsend", docs[0].Type)
	}
}

// TestDetect_NoLinks verifies plain text yields nothing.
func TestDetect_NoLinks(t *testing.T) {
	if got := Detect("just a plain intro message, no urls here"); len(got) != 0 {
		t.Errorf("detected %d links in plain text, want 0", len(got))
	}
}

// TestNormalizeURL verifies canonicalisation.
func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://docsend.com/view/abc?utm_source=x#top", "https://docsend.com/view/abc"},
		{"https://acme.io/", "https://acme.io"},
		{"acme.io/deck", "https://acme.io/deck"},
		{"https://acme.io/deck", "https://acme.io/deck"},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
