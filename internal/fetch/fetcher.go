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

// Package fetch retrieves the content behind classified document links.
// Each source family has its own fetcher honouring one uniform contract;
// a registry maps families to fetchers so adding a source means adding one
// entry, not editing a conditional. All failures are folded into the
// returned FetchedContent; fetchers never panic or leak transport errors.
package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dealdesk/intake/internal/links"
	"github.com/dealdesk/intake/internal/models"
)

// Fetcher retrieves content for one URL, optionally unlocking it with a
// password. Implementations enforce their own bounded execution time and
// report all failures through FetchedContent.Error.
type Fetcher interface {
	Fetch(ctx context.Context, url, password string) models.FetchedContent
}

// browser-like headers; several document hosts reject default Go clients.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// Registry maps source families to fetchers. Default handles families with
// no dedicated fetcher; LastResort, when set, is retried by the
// orchestrator after a primary fetcher fails.
type Registry struct {
	byType     map[links.LinkType]Fetcher
	defaultFor Fetcher
	lastResort Fetcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[links.LinkType]Fetcher)}
}

// Register binds a fetcher to a source family.
func (r *Registry) Register(t links.LinkType, f Fetcher) {
	r.byType[t] = f
}

// SetDefault sets the fetcher used for families without a dedicated entry.
func (r *Registry) SetDefault(f Fetcher) { r.defaultFor = f }

// SetLastResort sets the orchestrator's final fallback fetcher.
func (r *Registry) SetLastResort(f Fetcher) { r.lastResort = f }

// For returns the fetcher for a family, falling back to the default.
// The boolean is false when neither exists.
func (r *Registry) For(t links.LinkType) (Fetcher, bool) {
	if f, ok := r.byType[t]; ok {
		return f, true
	}
	if r.defaultFor != nil {
		return r.defaultFor, true
	}
	return nil, false
}

// LastResort returns the final fallback fetcher, or nil.
func (r *Registry) LastResort() Fetcher { return r.lastResort }

// Limiter is the blocking admission gate shared by fetchers hitting
// quota'd services. Wait blocks until the window admits a request or ctx
// expires. Tests substitute NopLimiter.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewWindowLimiter admits `requests` per `window`, blocking excess callers
// rather than dropping them. A full initial burst is allowed, matching the
// quota behaviour of document-room services.
func NewWindowLimiter(requests int, window time.Duration) Limiter {
	if requests <= 0 {
		requests = 1
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// NopLimiter admits everything immediately.
type NopLimiter struct{}

// Wait implements Limiter.
func (NopLimiter) Wait(ctx context.Context) error { return ctx.Err() }

// PasswordRequired reports whether a fetch failure means the document is
// password-protected. The orchestrator does not retry such links through
// other fetchers: repeating the same unauthenticated request is pointless.
func PasswordRequired(fc models.FetchedContent) bool {
	if fc.Success {
		return false
	}
	lower := strings.ToLower(fc.Error)
	return strings.Contains(lower, "password") || strings.Contains(lower, "passcode")
}

type ctxKey int

const namespaceKey ctxKey = 0

// WithNamespace returns a context carrying a subdirectory name for
// materialized files. Groups processing concurrently may fetch the same
// URL; namespacing by group keeps their output paths from colliding.
func WithNamespace(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, namespaceKey, name)
}

// namespacedDir joins the context namespace onto base, or returns base
// unchanged when none is set.
func namespacedDir(ctx context.Context, base string) string {
	if ns, ok := ctx.Value(namespaceKey).(string); ok && ns != "" {
		return filepath.Join(base, ns)
	}
	return base
}

// failure builds a failed FetchedContent.
func failure(url, format string, args ...any) models.FetchedContent {
	return models.FetchedContent{
		URL:     url,
		Success: false,
		Error:   fmt.Sprintf(format, args...),
	}
}

// urlHash is a short stable digest used in materialized file names.
func urlHash(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:12]
}

// safeFileName keeps alphanumerics, spaces, dashes and underscores,
// truncated for the filesystem.
func safeFileName(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == ' ', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.TrimSpace(b.String())
	if len(s) > 30 {
		s = s[:30]
	}
	if s == "" {
		s = "document"
	}
	return s
}

// savePDF materializes PDF bytes under dir and returns the path.
func savePDF(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	return path, nil
}

// titleFromURL derives a readable title from the final URL path segment.
func titleFromURL(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		seg := trimmed[i+1:]
		seg = strings.ReplaceAll(seg, "-", " ")
		seg = strings.ReplaceAll(seg, "_", " ")
		return seg
	}
	return trimmed
}
