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
	"time"

	"github.com/dealdesk/intake/internal/models"
	"github.com/dealdesk/intake/internal/pdftext"
)

const pdfTimeout = 60 * time.Second

// PDFFetcher downloads a direct PDF URL and extracts its text.
type PDFFetcher struct {
	Client    *http.Client
	OutputDir string
	Text      pdftext.Extractor
}

// Fetch implements Fetcher. Passwords do not apply to this family.
func (f *PDFFetcher) Fetch(ctx context.Context, url, _ string) models.FetchedContent {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failure(url, "build request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return failure(url, "pdf download failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return failure(url, "access denied (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return failure(url, "pdf download returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(url, "read pdf response: %v", err)
	}

	return materializePDF(ctx, url, data, namespacedDir(ctx, f.OutputDir), f.Text)
}

// materializePDF saves PDF bytes and extracts their text. Shared by the
// direct-PDF fetcher and the generic web fetcher's PDF responses.
func materializePDF(ctx context.Context, url string, data []byte, dir string, text pdftext.Extractor) models.FetchedContent {
	if len(data) < 100 {
		return failure(url, "empty pdf response")
	}

	pdfPath, err := savePDF(dir, fmt.Sprintf("downloaded_%s.pdf", urlHash(url)), data)
	if err != nil {
		return failure(url, "save pdf: %v", err)
	}

	res, err := text.Extract(ctx, pdfPath)
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
