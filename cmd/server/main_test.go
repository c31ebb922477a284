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

package main

import (
	"context"
	"testing"
	"time"

	"github.com/dealdesk/intake/internal/config"
	"github.com/dealdesk/intake/internal/fetch"
	"github.com/dealdesk/intake/internal/links"
)

// TestBuildRegistryWiring pins the fetcher graph: the document-room fetcher
// must fall back to the generic web fetcher on API failure, never to the
// deck-conversion fetcher, and the web fetcher serves as both default and
// last resort.
func TestBuildRegistryWiring(t *testing.T) {
	cfg := &config.Config{
		TempDir:           t.TempDir(),
		DocSendEmail:      "analyst@fund.vc",
		DocRoomRateWindow: 30 * time.Minute,
		MinPageTextChars:  200,
	}

	registry := buildRegistry(context.Background(), cfg)

	raw, ok := registry.For(links.TypePapermark)
	if !ok {
		t.Fatal("no fetcher registered for document-room links")
	}
	pm, ok := raw.(*fetch.PapermarkFetcher)
	if !ok {
		t.Fatalf("document-room fetcher has type %T", raw)
	}
	if _, ok := pm.Fallback.(*fetch.WebFetcher); !ok {
		t.Errorf("document-room fallback has type %T, want *fetch.WebFetcher", pm.Fallback)
	}
	if pm.Fallback != registry.LastResort() {
		t.Error("document-room fallback is not the shared web fetcher")
	}

	if pitch, _ := registry.For(links.TypePitch); pitch != raw {
		t.Error("pitch links not served by the document-room fetcher")
	}
	if def, ok := registry.For(links.TypeWebsite); !ok || def != registry.LastResort() {
		t.Error("plain website links not served by the web fetcher")
	}
}
