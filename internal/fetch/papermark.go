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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dealdesk/intake/internal/links"
	"github.com/dealdesk/intake/internal/models"
	"github.com/dealdesk/intake/internal/pdftext"
)

// DefaultPapermarkAPIURL is the document-room extraction service; it
// returns PDF bytes directly.
const DefaultPapermarkAPIURL = "https://deckextract.com/api"

const papermarkTimeout = 120 * time.Second

// PapermarkFetcher retrieves document-room decks through the extraction
// API. The service imposes a hard per-IP quota (5 requests per 30 minutes),
// so every call goes through the shared blocking Limiter. On API failure it
// falls back to the generic web fetcher when one is wired.
type PapermarkFetcher struct {
	// Email is offered when the service asks for viewer credentials.
	Email string
	// APIURL overrides the extraction endpoint.
	APIURL string
	// Client issues the API calls. May carry OAuth2 client-credentials
	// transport when the extraction service requires a bearer token.
	Client *http.Client
	// OutputDir receives materialized PDFs.
	OutputDir string
	// Text converts the materialized PDF to text.
	Text pdftext.Extractor
	// Limiter is the shared quota gate. Required in production; tests
	// inject NopLimiter.
	Limiter Limiter
	// Fallback handles the URL when the API cannot.
	Fallback Fetcher
}

// Fetch implements Fetcher.
func (f *PapermarkFetcher) Fetch(ctx context.Context, url, password string) models.FetchedContent {
	url = links.NormalizeURL(url)

	result := f.viaAPI(ctx, url, password)
	if result.Success {
		return result
	}
	if PasswordRequired(result) {
		return result
	}

	if f.Fallback != nil {
		slog.Info("document-room API failed, trying generic fallback",
			"url", url,
			"error", result.Error,
		)
		return f.Fallback.Fetch(ctx, url, password)
	}
	return result
}

func (f *PapermarkFetcher) viaAPI(ctx context.Context, url, password string) models.FetchedContent {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return failure(url, "rate limiter wait: %v", err)
		}
	}

	apiURL := f.APIURL
	if apiURL == "" {
		apiURL = DefaultPapermarkAPIURL
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, papermarkTimeout)
	defer cancel()

	payload := map[string]string{"url": url}
	if password != "" {
		payload["password"] = password
	}

	resp, err := f.post(ctx, client, apiURL, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failure(url, "extraction API timeout (%s)", papermarkTimeout)
		}
		return failure(url, "extraction API connection error: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		contentType := resp.Header.Get("Content-Type")

		if strings.Contains(contentType, "application/json") {
			var data struct {
				RequiresCredentials bool   `json:"requiresCredentials"`
				SessionID           string `json:"sessionId"`
				Error               string `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
				return failure(url, "decode extraction response: %v", err)
			}
			if data.RequiresCredentials {
				return f.retryWithCredentials(ctx, client, apiURL, url, data.SessionID, password)
			}
			msg := data.Error
			if msg == "" {
				msg = "unknown API error"
			}
			return failure(url, "extraction API: %s", msg)
		}

		if strings.Contains(contentType, "application/pdf") {
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return failure(url, "read pdf response: %v", err)
			}
			return f.materialize(ctx, url, data)
		}

		return failure(url, "unexpected content-type: %s", contentType)

	case resp.StatusCode == http.StatusTooManyRequests:
		return failure(url, "extraction API rate limited")

	default:
		return failure(url, "extraction API HTTP %d", resp.StatusCode)
	}
}

// retryWithCredentials re-submits the request once with the issued session
// ID plus viewer credentials.
func (f *PapermarkFetcher) retryWithCredentials(ctx context.Context, client *http.Client, apiURL, url, sessionID, password string) models.FetchedContent {
	payload := map[string]string{
		"url":       url,
		"sessionId": sessionID,
		"email":     f.Email,
	}
	if password != "" {
		payload["password"] = password
	}

	resp, err := f.post(ctx, client, apiURL, payload)
	if err != nil {
		return failure(url, "credential retry failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure(url, "credential retry HTTP %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/pdf") {
		return failure(url, "document requires password or manual verification")
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(url, "read pdf response: %v", err)
	}
	return f.materialize(ctx, url, data)
}

func (f *PapermarkFetcher) post(ctx context.Context, client *http.Client, apiURL string, payload map[string]string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return client.Do(req)
}

// materialize saves the PDF and extracts its text.
func (f *PapermarkFetcher) materialize(ctx context.Context, url string, data []byte) models.FetchedContent {
	if len(data) < 100 {
		return failure(url, "extraction API returned empty pdf")
	}

	title := titleFromURL(url)
	name := fmt.Sprintf("%s_%s.pdf", safeFileName(title), urlHash(url))
	pdfPath, err := savePDF(namespacedDir(ctx, f.OutputDir), name, data)
	if err != nil {
		return failure(url, "save pdf: %v", err)
	}

	res, err := f.Text.Extract(ctx, pdfPath)
	if err != nil {
		slog.Warn("document-room pdf text extraction failed", "url", url, "error", err)
		return models.FetchedContent{
			URL:          url,
			Success:      false,
			Error:        fmt.Sprintf("pdf downloaded but text extraction failed: %v", err),
			Title:        title,
			DocumentPath: pdfPath,
		}
	}

	if res.Title != "" {
		title = res.Title
	}
	return models.FetchedContent{
		URL:          url,
		Success:      true,
		Content:      res.Text,
		Title:        title,
		DocumentPath: pdfPath,
	}
}
