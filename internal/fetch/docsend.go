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

// DefaultDocSendAPIURL is the conversion service that renders a DocSend
// viewer into a PDF, handling the CAPTCHA internally.
const DefaultDocSendAPIURL = "https://docsend2pdf.com/api/convert"

// docSendTimeout bounds one conversion call; the service renders every
// slide server-side, so this runs to minutes, not seconds.
const docSendTimeout = 120 * time.Second

// DocSendFetcher retrieves paywalled decks through the conversion API and
// extracts text from the returned PDF.
type DocSendFetcher struct {
	// Email identifies us to DocSend email gates. Required.
	Email string
	// Password is the account-level default; a per-link password from the
	// message text takes precedence.
	Password string
	// APIURL overrides the conversion endpoint (tests point it at a
	// local double).
	APIURL string
	// Client issues the API calls.
	Client *http.Client
	// OutputDir receives materialized PDFs, namespaced per group by the
	// caller.
	OutputDir string
	// Text converts the materialized PDF to text.
	Text pdftext.Extractor
	// Limiter gates API calls (the service allows a few per second).
	Limiter Limiter
}

// Fetch implements Fetcher.
func (f *DocSendFetcher) Fetch(ctx context.Context, url, password string) models.FetchedContent {
	if f.Email == "" {
		return failure(url, "docsend extraction not configured (no email)")
	}

	url = links.NormalizeURL(url)
	if password == "" {
		password = f.Password
	}

	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return failure(url, "rate limiter wait: %v", err)
		}
	}

	pdfBytes, err := f.convert(ctx, url, password)
	if err != nil {
		return failure(url, "%v", err)
	}

	title := titleFromURL(url)
	name := fmt.Sprintf("%s_%s.pdf", safeFileName(title), urlHash(url))
	pdfPath, err := savePDF(namespacedDir(ctx, f.OutputDir), name, pdfBytes)
	if err != nil {
		return failure(url, "save pdf: %v", err)
	}

	res, err := f.Text.Extract(ctx, pdfPath)
	if err != nil {
		// PDF downloaded but unreadable; not a success the analysis
		// stage can use, keep the path for manual follow-up.
		slog.Warn("docsend pdf text extraction failed", "url", url, "error", err)
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

// convert calls the conversion API and returns raw PDF bytes.
func (f *DocSendFetcher) convert(ctx context.Context, url, password string) ([]byte, error) {
	apiURL := f.APIURL
	if apiURL == "" {
		apiURL = DefaultDocSendAPIURL
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, docSendTimeout)
	defer cancel()

	payload := map[string]string{
		"url":   url,
		"email": f.Email,
	}
	if password != "" {
		payload["passcode"] = password
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal conversion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build conversion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("conversion API timeout (%s)", docSendTimeout)
		}
		return nil, fmt.Errorf("conversion API connection error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read conversion response: %w", err)
		}
		if len(data) < 100 {
			return nil, fmt.Errorf("conversion API returned empty response")
		}
		return data, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("conversion API rate limited")

	default:
		msg := apiErrorMessage(resp.Body, resp.StatusCode)
		if strings.Contains(strings.ToLower(msg), "passcode") {
			return nil, fmt.Errorf("document requires password")
		}
		return nil, fmt.Errorf("conversion API error: %s", msg)
	}
}

// apiErrorMessage pulls the error string out of a JSON error body, falling
// back to the HTTP status.
func apiErrorMessage(body io.Reader, status int) string {
	var data struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&data); err == nil && data.Error != "" {
		return data.Error
	}
	return fmt.Sprintf("HTTP %d", status)
}
