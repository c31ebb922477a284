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

// Package links extracts and classifies URLs found in message text.
// It is a pure package: no I/O, no state, safe for concurrent use.
package links

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// LinkType is the source family a URL was classified into.
type LinkType string

const (
	TypeDocSend     LinkType = "docsend"
	TypePapermark   LinkType = "papermark"
	TypePitch       LinkType = "pitch_com"
	TypeNotion      LinkType = "notion"
	TypeGoogleDrive LinkType = "google_drive"
	TypeDropbox     LinkType = "dropbox"
	TypePDFDirect   LinkType = "pdf_direct"
	TypeLoom        LinkType = "loom"
	TypeYouTube     LinkType = "youtube"
	TypeDune        LinkType = "dune"
	TypeCalendar    LinkType = "calendar"
	TypeWebsite     LinkType = "website"
	TypeLinkedIn    LinkType = "linkedin"
	TypeTwitter     LinkType = "twitter"
	TypeUnknown     LinkType = "unknown"
)

// DetectedLink is a classified URL with its ranking priority.
type DetectedLink struct {
	URL        string
	Type       LinkType
	IsDocument bool
	Priority   int
}

// urlPattern is deliberately permissive: it stops at whitespace and common
// trailing quoting characters, and trailing punctuation is stripped after.
var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"')\]]+`)

// domainTable maps host substrings to a source family. Order matters: the
// first matching entry wins.
var domainTable = []struct {
	linkType LinkType
	hosts    []string
}{
	{TypeDocSend, []string{"docsend.com"}},
	{TypePapermark, []string{"papermark.io", "papermark.com"}},
	{TypePitch, []string{"pitch.com"}},
	{TypeNotion, []string{"notion.so", "notion.site"}},
	{TypeGoogleDrive, []string{"drive.google.com", "docs.google.com"}},
	{TypeDropbox, []string{"dropbox.com"}},
	{TypeLoom, []string{"loom.com"}},
	{TypeYouTube, []string{"youtube.com", "youtu.be"}},
	{TypeDune, []string{"dune.com"}},
	{TypeCalendar, []string{"cal.com", "calendly.com"}},
	{TypeLinkedIn, []string{"linkedin.com"}},
	{TypeTwitter, []string{"twitter.com", "x.com"}},
}

// basePriority ranks source families; document-class sources rank far above
// social and scheduling links.
var basePriority = map[LinkType]int{
	TypeDocSend:     100,
	TypePapermark:   90,
	TypePitch:       88,
	TypePDFDirect:   85,
	TypeGoogleDrive: 70,
	TypeDropbox:     60,
	TypeNotion:      50,
	TypeLoom:        40,
	TypeYouTube:     35,
	TypeDune:        15,
	TypeWebsite:     10,
	TypeLinkedIn:    5,
	TypeTwitter:     5,
	TypeCalendar:    3,
	TypeUnknown:     1,
}

// documentBonus is added to the base priority when a link is a document.
const documentBonus = 50

// deckPathKeywords mark a path segment as pitch material.
var deckPathKeywords = []string{"/deck", "/pitch", "/presentation", "/investor", "/fundrais"}

// redirectHosts are known redirector/tracking domains whose real destination
// hides in a query parameter.
var redirectHosts = []string{
	"getcabal.com",
	"click.",
	"track.",
	"redirect.",
	"link.",
	"go.",
	"mailchimp.com",
	"hubspot.com",
	"sendgrid.net",
}

// redirectParams are checked in order for the wrapped destination URL.
var redirectParams = []string{"url", "redirect", "target", "dest", "destination", "link", "goto"}

// Detect extracts and classifies all URLs in text, highest priority first.
// Duplicate URLs (after redirect unwrapping) collapse to one entry keeping
// the first occurrence; ties in priority preserve order of appearance.
func Detect(text string) []DetectedLink {
	raw := urlPattern.FindAllString(text, -1)

	var detected []DetectedLink
	seen := make(map[string]bool)

	for _, u := range raw {
		u = strings.TrimRight(u, ".,;:!?")

		if target := unwrapRedirect(u); target != "" {
			u = target
		}

		if seen[u] {
			continue
		}
		seen[u] = true

		linkType := Classify(u)
		isDoc := IsDocumentLink(u, linkType)
		priority := basePriority[linkType]
		if priority == 0 {
			priority = 1
		}
		if isDoc {
			priority += documentBonus
		}

		detected = append(detected, DetectedLink{
			URL:        u,
			Type:       linkType,
			IsDocument: isDoc,
			Priority:   priority,
		})
	}

	sort.SliceStable(detected, func(i, j int) bool {
		return detected[i].Priority > detected[j].Priority
	})

	return detected
}

// DetectDocuments returns only document-family links, highest priority first.
func DetectDocuments(text string) []DetectedLink {
	var docs []DetectedLink
	for _, l := range Detect(text) {
		if l.IsDocument {
			docs = append(docs, l)
		}
	}
	return docs
}

// Classify determines the source family for a URL by host, falling back to
// direct-PDF on a .pdf path, else generic website. Malformed URLs classify
// as unknown rather than raising.
func Classify(rawURL string) LinkType {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return TypeUnknown
	}

	host := strings.ToLower(parsed.Host)
	for _, entry := range domainTable {
		for _, h := range entry.hosts {
			if strings.Contains(host, h) {
				return entry.linkType
			}
		}
	}

	if strings.HasSuffix(strings.ToLower(parsed.Path), ".pdf") {
		return TypePDFDirect
	}

	return TypeWebsite
}

// IsDocumentLink decides whether a classified URL plausibly points at pitch
// material (deck, memo, whitepaper) rather than a social or scheduling page.
func IsDocumentLink(rawURL string, linkType LinkType) bool {
	switch linkType {
	case TypeDocSend, TypePapermark, TypePitch, TypePDFDirect, TypeLoom:
		return true
	case TypeCalendar:
		return false
	case TypeGoogleDrive:
		// A drive link is a document only when it points at a
		// presentation or text document, not an arbitrary file.
		lower := strings.ToLower(rawURL)
		return strings.Contains(lower, "/presentation/") || strings.Contains(lower, "/document/")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(parsed.Path)
	for _, kw := range deckPathKeywords {
		if strings.Contains(path, kw) {
			return true
		}
	}
	return false
}

// unwrapRedirect recovers the true destination from a known redirector or
// tracking URL. Returns "" when the URL is not a recognised redirect or no
// destination parameter is present.
func unwrapRedirect(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	host := strings.ToLower(parsed.Host)
	isRedirect := false
	for _, h := range redirectHosts {
		if strings.Contains(host, h) {
			isRedirect = true
			break
		}
	}
	if !isRedirect {
		return ""
	}

	query := parsed.Query()
	for _, param := range redirectParams {
		if v := query.Get(param); v != "" {
			// Query() already URL-decodes; decode once more for
			// double-encoded trackers.
			if decoded, err := url.QueryUnescape(v); err == nil && decoded != v && strings.HasPrefix(decoded, "http") {
				return decoded
			}
			if strings.HasPrefix(v, "http") {
				return v
			}
		}
	}
	return ""
}

// NormalizeURL strips query, fragment, and trailing slash, and forces an
// https scheme for scheme-less URLs. Fetchers use this canonical form.
func NormalizeURL(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")
	if !strings.HasPrefix(u, "http") {
		u = "https://" + u
	}
	return u
}
