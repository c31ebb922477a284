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

// Package cleanup removes aged temporary documents. Downloaded decks are
// only needed until the analysis worker has consumed them; the sweeper
// keeps the temp directory from growing without bound.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// protected lists file names the sweeper never removes regardless of age.
var protected = map[string]bool{
	"docsend_cookies.json": true,
	".gitkeep":             true,
}

// Sweeper periodically deletes files older than MaxAge under Dir.
type Sweeper struct {
	Dir      string
	MaxAge   time.Duration // default 24h
	Interval time.Duration // default 1h

	wg sync.WaitGroup
}

// Start launches the sweep loop. It runs one sweep immediately, then on
// every interval tick until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if s.MaxAge <= 0 {
		s.MaxAge = 24 * time.Hour
	}
	if s.Interval <= 0 {
		s.Interval = time.Hour
	}

	s.wg.Add(1)
	go s.loop(ctx)
}

// Wait blocks until the sweep loop has exited.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	s.Sweep()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass, returning the number of files removed. Empty
// subdirectories left behind by removals are pruned too.
func (s *Sweeper) Sweep() int {
	cutoff := time.Now().Add(-s.MaxAge)
	removed := 0

	err := filepath.Walk(s.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // file vanished mid-walk
		}
		if info.IsDir() || protected[info.Name()] {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				slog.Warn("failed to remove aged file", "path", path, "error", err)
				return nil
			}
			removed++
		}
		return nil
	})
	if err != nil {
		slog.Warn("cleanup sweep failed", "dir", s.Dir, "error", err)
		return removed
	}

	s.pruneEmptyDirs()

	if removed > 0 {
		slog.Info("cleanup sweep complete", "dir", s.Dir, "removed", removed)
	}
	return removed
}

// pruneEmptyDirs removes empty subdirectories, deepest first. The root
// directory itself is kept.
func (s *Sweeper) pruneEmptyDirs() {
	var dirs []string
	filepath.Walk(s.Dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.IsDir() && path != s.Dir {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			os.Remove(dirs[i])
		}
	}
}
