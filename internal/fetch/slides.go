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
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dealdesk/intake/internal/models"
	"github.com/dealdesk/intake/internal/pdftext"
)

const slidesTimeout = 60 * time.Second

// docIDPatterns extract the document ID and kind from share URLs.
var docIDPatterns = []struct {
	kind    string
	pattern *regexp.Regexp
}{
	{"presentation", regexp.MustCompile(`/presentation/d/([a-zA-Z0-9_-]+)`)},
	{"document", regexp.MustCompile(`/document/d/([a-zA-Z0-9_-]+)`)},
	{"file", regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)},
	{"file", regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)},
}

// SlidesFetcher exports publicly shared slide decks and documents to PDF
// and extracts their text. Private documents fail cleanly: the export URL
// answers with an HTML login page instead of a PDF.
type SlidesFetcher struct {
	Client    *http.Client
	OutputDir string
	Text      pdftext.Extractor
}

// Fetch implements Fetcher. Passwords do not apply to this family.
func (f *SlidesFetcher) Fetch(ctx context.Context, url, _ string) models.FetchedContent {
	docID, kind := parseDocURL(url)
	if docID == "" {
		return failure(url, "could not extract document id from URL")
	}

	exportURL := exportURLFor(docID, kind)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, slidesTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL, nil)
	if err != nil {
		return failure(url, "build export request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return failure(url, "export download failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return failure(url, "document requires login or is not publicly shared")
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return failure(url, "document is not publicly accessible")
	}
	if resp.StatusCode != http.StatusOK {
		return failure(url, "export returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(url, "read export response: %v", err)
	}
	if len(data) < 100 {
		return failure(url, "export returned empty document")
	}

	pdfPath, err := savePDF(namespacedDir(ctx, f.OutputDir), fmt.Sprintf("slides_%s.pdf", docID), data)
	if err != nil {
		return failure(url, "save pdf: %v", err)
	}

	res, err := f.Text.Extract(ctx, pdfPath)
	if err != nil {
		return models.FetchedContent{
			URL:          url,
			Success:      false,
			Error:        fmt.Sprintf("pdf downloaded but text extraction failed: %v", err),
			DocumentPath: pdfPath,
		}
	}

	return models.FetchedContent{
		URL:          url,
		Success:      true,
		Content:      res.Text,
		Title:        res.Title,
		DocumentPath: pdfPath,
	}
}

func parseDocURL(url string) (id, kind string) {
	for _, p := range docIDPatterns {
		if m := p.pattern.FindStringSubmatch(url); m != nil {
			return m[1], p.kind
		}
	}
	return "", ""
}

func exportURLFor(docID, kind string) string {
	switch kind {
	case "presentation":
		return fmt.Sprintf("https://docs.google.com/presentation/d/%s/export/pdf", docID)
	case "document":
		return fmt.Sprintf("https://docs.google.com/document/d/%s/export?format=pdf", docID)
	default:
		return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", docID)
	}
}
