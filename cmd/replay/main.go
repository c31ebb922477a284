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

// Deal Desk — Message Log Replay Command
//
// Standalone CLI tool that replays an exported chat log through the
// grouping and extraction pipeline. Intended for tuning grouping
// thresholds against real traffic and for re-processing conversations
// after a detector fix.
//
// The input file holds one JSON message per line:
//
//	{"conversation_id": "...", "message_id": "...", "sender": "...",
//	 "text": "...", "timestamp": "2026-04-12T09:30:00Z"}
//
// Usage:
//
//	go run ./cmd/replay/ --file messages.jsonl [--report] [--publish]
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dealdesk/intake/internal/config"
	"github.com/dealdesk/intake/internal/extract"
	"github.com/dealdesk/intake/internal/fetch"
	"github.com/dealdesk/intake/internal/grouping"
	"github.com/dealdesk/intake/internal/journal"
	"github.com/dealdesk/intake/internal/links"
	"github.com/dealdesk/intake/internal/models"
	"github.com/dealdesk/intake/internal/pdftext"
	"github.com/dealdesk/intake/internal/pipeline"
	"github.com/dealdesk/intake/internal/queue"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	fileFlag := flag.String("file", "", "Path to JSONL message log (required)")
	reportFlag := flag.Bool("report", false, "Only report grouping decisions, skip content fetching")
	publishFlag := flag.Bool("publish", false, "Publish results to the analysis queue")
	flag.Parse()

	if *fileFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --file is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Optional analysis queue ---
	var sink pipeline.Sink
	if *publishFlag {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		publisher := queue.NewPublisher(rdb, cfg.DealsQueue)
		if err := publisher.Ping(ctx); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		sink = publisher
	}

	// --- Optional extraction journal ---
	var jstore *journal.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		jstore, err = journal.NewStore(ctx, pool)
		if err != nil {
			slog.Error("failed to initialise journal store", "error", err)
			os.Exit(1)
		}
	}

	// --- Read the log ---
	messages, err := readLog(*fileFlag)
	if err != nil {
		slog.Error("failed to read message log", "file", *fileFlag, "error", err)
		os.Exit(1)
	}
	if len(messages) == 0 {
		fmt.Fprintln(os.Stderr, "No messages in log")
		os.Exit(1)
	}

	// Replay in timestamp order regardless of export order
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})

	// --- Pipeline ---
	var driver *pipeline.Driver
	if !*reportFlag {
		if err := os.MkdirAll(cfg.TempDir, 0750); err != nil {
			slog.Error("failed to create temp directory", "error", err)
			os.Exit(1)
		}
		text := &pdftext.CommandExtractor{Bin: cfg.PDFToTextBin}
		web := &fetch.WebFetcher{
			OutputDir:    cfg.TempDir,
			Text:         text,
			ReaderURL:    cfg.ReaderURL,
			MinTextChars: cfg.MinPageTextChars,
		}

		registry := fetch.NewRegistry()
		registry.SetDefault(web)
		registry.SetLastResort(web)

		orchestrator := extract.NewOrchestrator(registry)
		orchestrator.ThinContentChars = cfg.ThinContentChars
		orchestrator.Concurrency = cfg.FetchConcurrency

		var jrec pipeline.Journal
		if jstore != nil {
			jrec = jstore
		}
		driver = pipeline.NewDriver(orchestrator, sink, jrec)
	}

	// --- Replay ---
	type groupReport struct {
		Conversation string
		Messages     int
		Reason       string
		Links        int
		Fetched      int
		Review       bool
	}
	var (
		mu      sync.Mutex
		reports []groupReport
		reasons = make(map[string]string)
	)

	// Gap decisions run on the log's own timeline rather than the wall
	// clock, so silence splits recorded in the history reproduce when the
	// log is replayed at full speed.
	var (
		clockMu sync.Mutex
		logNow  = messages[0].Timestamp
	)

	grouper := grouping.New(grouping.Config{
		BaseTimeout:  cfg.BaseTimeout,
		QuickTimeout: cfg.QuickTimeout,
		GapThreshold: cfg.GapThreshold,
		MaxGroupSize: cfg.MaxGroupSize,
		Clock: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			return logNow
		},
	}, func(ctx context.Context, group *models.MessageGroup) error {
		rep := groupReport{
			Conversation: group.ConversationID,
			Messages:     len(group.Messages),
		}
		docLinks := links.DetectDocuments(group.CombinedText())
		rep.Links = len(docLinks)

		if driver != nil {
			result, err := driver.Process(ctx, group)
			if err != nil {
				return err
			}
			rep.Fetched = result.Outcome.DecksFetched
			rep.Review = result.Outcome.NeedsReview
		}

		mu.Lock()
		rep.Reason = reasons[group.ID]
		reports = append(reports, rep)
		mu.Unlock()
		return nil
	}, func(group *models.MessageGroup, err error) {
		slog.Error("replay processing failed", "group_id", group.ID, "error", err)
	})

	grouper.SetFinalizeHook(func(group *models.MessageGroup, reason string) {
		// The hook fires before the handler; remember the reason so the
		// report can show why each group closed.
		mu.Lock()
		reasons[group.ID] = reason
		mu.Unlock()
	})
	grouper.Start(ctx)

	start := time.Now()
	for _, msg := range messages {
		clockMu.Lock()
		logNow = msg.Timestamp
		clockMu.Unlock()
		grouper.Add(msg)
	}

	// Close whatever is still buffering and wait for handlers
	grouper.Flush()
	drainCtx, drainCancel := context.WithTimeout(ctx, 5*time.Minute)
	defer drainCancel()
	if err := grouper.Drain(drainCtx); err != nil {
		slog.Warn("drain incomplete", "error", err)
	}
	grouper.Stop()

	// --- Summary ---
	fmt.Printf("Replayed %d messages into %d groups in %s\n\n",
		len(messages), len(reports), time.Since(start).Round(time.Millisecond))

	fmt.Printf("%-24s %8s %8s %8s %8s %s\n",
		"CONVERSATION", "MSGS", "LINKS", "FETCHED", "REVIEW", "REASON")
	for _, rep := range reports {
		fmt.Printf("%-24s %8d %8d %8d %8v %s\n",
			truncate(rep.Conversation, 24), rep.Messages, rep.Links,
			rep.Fetched, rep.Review, rep.Reason)
	}

	if *reportFlag && jstore != nil {
		printJournalReport(ctx, jstore)
	}
}

// printJournalReport summarises the service's recorded outcomes over the
// last day, including the groups currently flagged for review.
func printJournalReport(ctx context.Context, jstore *journal.Store) {
	const window = 24 * time.Hour

	sum, err := jstore.Summarize(ctx, window)
	if err != nil {
		slog.Warn("journal summary failed", "error", err)
		return
	}
	fmt.Printf("\nJournal, last 24h: %d groups, %d decks detected, %d fetched, %d flagged for review\n",
		sum.Groups, sum.DecksDetected, sum.DecksFetched, sum.NeedsReview)

	flagged, err := jstore.ListNeedingReview(ctx, window, 10)
	if err != nil {
		slog.Warn("journal review listing failed", "error", err)
		return
	}
	for _, e := range flagged {
		fmt.Printf("  %s  %s  %s\n",
			e.CreatedAt.Format(time.RFC3339), truncate(e.ConversationID, 24),
			strings.Join(e.ReviewReasons, "; "))
	}
}

// readLog parses a JSONL export into buffered messages. Blank lines and
// comment lines starting with # are skipped.
func readLog(path string) ([]models.BufferedMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var messages []models.BufferedMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var msg models.BufferedMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if msg.ConversationID == "" || msg.MessageID == "" {
			return nil, fmt.Errorf("line %d: missing conversation_id or message_id", lineNo)
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
