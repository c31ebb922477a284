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

package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealdesk/intake/internal/models"
	"github.com/dealdesk/intake/internal/pdftext"
)

// DefaultReaderURL is the rendering proxy used for JS-heavy pages; it
// returns the rendered page as Markdown.
const DefaultReaderURL = "https://r.jina.ai/"

const webTimeout = 30 * time.Second

// readerHeaderPrefixes are metadata lines the reader proxy prepends.
var readerHeaderPrefixes = []string{"Title:", "URL Source:", "Markdown Content:", "Published Time:"}

// WebFetcher extracts text from arbitrary web pages in two phases: a plain
// GET with browser headers (fast, static pages), then the reader proxy for
// JS-rendered single-page apps. PDF responses are materialized and handed
// to the text boundary.
type WebFetcher struct {
	Client    *http.Client
	OutputDir string
	Text      pdftext.Extractor
	// ReaderURL overrides the rendering proxy endpoint.
	ReaderURL string
	// MinTextChars is the plain-GET extraction floor below which the
	// reader proxy is tried instead. Tuned empirically; configuration,
	// not a constant.
	MinTextChars int
	// MaxContentChars caps returned content so one huge page cannot
	// swamp the analysis stage.
	MaxContentChars int
}

// Fetch implements Fetcher. Passwords do not apply to this family.
func (f *WebFetcher) Fetch(ctx context.Context, rawURL, _ string) models.FetchedContent {
	result, retryWithReader := f.plainGet(ctx, rawURL)
	if !retryWithReader {
		return result
	}

	reader := f.viaReader(ctx, rawURL)
	if reader.Success {
		return reader
	}

	if result.Error != "" {
		return failure(rawURL, "both direct fetch and reader proxy failed: %s; %s", result.Error, reader.Error)
	}
	return reader
}

// plainGet attempts the fast path. The boolean signals that the reader
// proxy should be tried (JS-rendered page or transport hiccup).
func (f *WebFetcher) plainGet(ctx context.Context, rawURL string) (models.FetchedContent, bool) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, webTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failure(rawURL, "build request: %v", err), false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		slog.Debug("plain fetch failed, will try reader proxy", "url", rawURL, "error", err)
		return failure(rawURL, "fetch failed: %v", err), true
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return failure(rawURL, "access denied (HTTP %d)", resp.StatusCode), false
	}
	if resp.StatusCode != http.StatusOK {
		return failure(rawURL, "HTTP %d", resp.StatusCode), true
	}

	contentType := resp.Header.Get("Content-Type")

	if strings.Contains(contentType, "application/pdf") {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return failure(rawURL, "read pdf response: %v", err), false
		}
		return materializePDF(ctx, rawURL, data, namespacedDir(ctx, f.OutputDir), f.Text), false
	}

	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return failure(rawURL, "unexpected content-type: %s", contentType), true
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return failure(rawURL, "parse html: %v", err), true
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript").Remove()
	text := collapseWhitespace(doc.Find("body").Text())

	if len(text) >= f.minText() {
		return models.FetchedContent{
			URL:     rawURL,
			Success: true,
			Content: f.cap(text),
			Title:   title,
		}, false
	}

	// Too little text: almost always a client-rendered page.
	slog.Debug("plain fetch got thin page, trying reader proxy",
		"url", rawURL,
		"chars", len(text),
	)
	return models.FetchedContent{}, true
}

// viaReader fetches the page through the rendering proxy.
func (f *WebFetcher) viaReader(ctx context.Context, rawURL string) models.FetchedContent {
	readerBase := f.ReaderURL
	if readerBase == "" {
		readerBase = DefaultReaderURL
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, webTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, readerBase+rawURL, nil)
	if err != nil {
		return failure(rawURL, "build reader request: %v", err)
	}
	req.Header.Set("Accept", "text/markdown")

	resp, err := client.Do(req)
	if err != nil {
		return failure(rawURL, "reader proxy failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure(rawURL, "reader proxy returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(rawURL, "read reader response: %v", err)
	}

	text := strings.TrimSpace(string(body))
	title := parseReaderTitle(text)
	text = stripReaderHeaders(text)

	if len(text) < 50 {
		return failure(rawURL, "page content too short after reader extraction")
	}

	return models.FetchedContent{
		URL:     rawURL,
		Success: true,
		Content: f.cap(text),
		Title:   title,
	}
}

func (f *WebFetcher) minText() int {
	if f.MinTextChars > 0 {
		return f.MinTextChars
	}
	return 200
}

func (f *WebFetcher) cap(text string) string {
	max := f.MaxContentChars
	if max <= 0 {
		max = 8000
	}
	if len(text) > max {
		return text[:max]
	}
	return text
}

// collapseWhitespace flattens runs of whitespace into single spaces per
// line and drops repeated blank lines.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank <= 1 {
				cleaned = append(cleaned, "")
			}
			continue
		}
		blank = 0
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

func parseReaderTitle(text string) string {
	for _, line := range strings.SplitN(text, "\n", 4) {
		line = strings.TrimSpace(line)
		if t, ok := strings.CutPrefix(line, "Title:"); ok {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

func stripReaderHeaders(text string) string {
	lines := strings.Split(text, "\n")
	start := 0
	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		isHeader := stripped == ""
		for _, p := range readerHeaderPrefixes {
			if strings.HasPrefix(stripped, p) {
				isHeader = true
				break
			}
		}
		if isHeader {
			start = i + 1
		} else {
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:], "\n"))
}

// KnowledgeBaseFetcher wraps the generic web fetcher for knowledge-base
// links, rewriting workspace share URLs to their public-site form first.
// The old domain serves a JS interstitial redirect neither phase of the
// web fetcher can follow.
type KnowledgeBaseFetcher struct {
	Web Fetcher
}

// Fetch implements Fetcher.
func (f *KnowledgeBaseFetcher) Fetch(ctx context.Context, rawURL, password string) models.FetchedContent {
	return f.Web.Fetch(ctx, rewriteKnowledgeBaseURL(rawURL), password)
}

// rewriteKnowledgeBaseURL maps notion.so/{workspace}/{slug} to
// {workspace}.notion.site/{slug}.
func rewriteKnowledgeBaseURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := parsed.Hostname()
	if host != "notion.so" && host != "www.notion.so" {
		return rawURL
	}
	parts := strings.SplitN(strings.Trim(parsed.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return rawURL
	}
	return fmt.Sprintf("https://%s.notion.site/%s", parts[0], parts[1])
}
