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

// Deal Desk — Intake Service
//
// Entry point for the Go intake service. It:
//  1. Loads configuration from config.yaml and environment variables
//  2. Connects to Redis (dedup + analysis queue) and optionally Postgres
//  3. Builds the fetcher registry for deck hosting services
//  4. Buffers incoming chat messages into conversation groups
//  5. Serves webhook endpoints for message events, health, and metrics
//  6. Drains open groups on SIGTERM/SIGINT before exiting
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/dealdesk/intake/internal/cleanup"
	"github.com/dealdesk/intake/internal/config"
	"github.com/dealdesk/intake/internal/dedup"
	"github.com/dealdesk/intake/internal/extract"
	"github.com/dealdesk/intake/internal/fetch"
	"github.com/dealdesk/intake/internal/grouping"
	"github.com/dealdesk/intake/internal/journal"
	"github.com/dealdesk/intake/internal/links"
	"github.com/dealdesk/intake/internal/logging"
	"github.com/dealdesk/intake/internal/metrics"
	"github.com/dealdesk/intake/internal/models"
	"github.com/dealdesk/intake/internal/pdftext"
	"github.com/dealdesk/intake/internal/pipeline"
	"github.com/dealdesk/intake/internal/queue"
	"github.com/dealdesk/intake/internal/webhook"
)

// drainTimeout bounds how long shutdown waits for open groups to finish.
const drainTimeout = 45 * time.Second

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.LogLevel, cfg.LogFile)
	slog.Info("starting deal intake service")

	slog.Info("configuration loaded",
		"base_timeout", cfg.BaseTimeout,
		"quick_timeout", cfg.QuickTimeout,
		"gap_threshold", cfg.GapThreshold,
		"max_group_size", cfg.MaxGroupSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.DealsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Journal (optional Postgres) ---
	var (
		pgPool *pgxpool.Pool
		jstore *journal.Store
	)
	if cfg.DatabaseURL != "" {
		pgPool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if err := pgPool.Ping(ctx); err != nil {
			slog.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		jstore, err = journal.NewStore(ctx, pgPool)
		if err != nil {
			slog.Error("failed to initialise journal store", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Info("DATABASE_URL not set, extraction journal disabled")
	}

	// --- Temp Directory ---
	if err := os.MkdirAll(cfg.TempDir, 0750); err != nil {
		slog.Error("failed to create temp directory", "dir", cfg.TempDir, "error", err)
		os.Exit(1)
	}

	// --- Fetcher Registry ---
	registry := buildRegistry(ctx, cfg)

	// --- Extraction Orchestrator + Pipeline ---
	orchestrator := extract.NewOrchestrator(registry)
	orchestrator.ThinContentChars = cfg.ThinContentChars
	orchestrator.Concurrency = cfg.FetchConcurrency
	orchestrator.SetObserveHook(func(t links.LinkType, success bool) {
		result := "failure"
		if success {
			result = "success"
		}
		metrics.FetchAttempts.WithLabelValues(string(t), result).Inc()
	})

	var jrec pipeline.Journal
	if jstore != nil {
		jrec = jstore
	}
	driver := pipeline.NewDriver(orchestrator, publisher, jrec)
	driver.SetProcessedHook(func(result *models.GroupResult) {
		if result.Outcome.NeedsReview {
			metrics.GroupsNeedingReview.Inc()
		}
	})

	// --- Grouping Engine ---
	var grouper *grouping.Grouper
	grouper = grouping.New(grouping.Config{
		BaseTimeout:  cfg.BaseTimeout,
		QuickTimeout: cfg.QuickTimeout,
		GapThreshold: cfg.GapThreshold,
		MaxGroupSize: cfg.MaxGroupSize,
	}, func(ctx context.Context, group *models.MessageGroup) error {
		start := time.Now()
		_, err := driver.Process(ctx, group)
		metrics.GroupProcessingDuration.Observe(time.Since(start).Seconds())
		metrics.OpenGroups.Set(float64(grouper.OpenGroups()))
		return err
	}, func(group *models.MessageGroup, err error) {
		slog.Error("group processing failed",
			"group_id", group.ID,
			"conversation", group.ConversationID,
			"error", err,
		)
	})
	grouper.SetFinalizeHook(func(group *models.MessageGroup, reason string) {
		metrics.GroupsFinalized.WithLabelValues(reason).Inc()
	})
	grouper.Start(ctx)

	// --- Cleanup Sweeper ---
	sweeper := &cleanup.Sweeper{
		Dir:      cfg.TempDir,
		MaxAge:   cfg.CleanupMaxAge,
		Interval: cfg.CleanupInterval,
	}
	sweeper.Start(ctx)

	// --- Webhook Server ---
	handler := webhook.NewHandler(&ingest{grouper: grouper}, filter)
	handler.AddHealthCheck("redis", publisher)
	if pgPool != nil {
		handler.AddHealthCheck("postgres", pgPinger{pgPool})
	}

	ready, err := webhook.Serve(ctx, cfg.Port, handler, map[string]http.Handler{
		"/metrics": metrics.Handler(),
	})
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("intake service ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal, draining open groups", "signal", sig)

	// Second signal forces immediate exit
	go func() {
		<-sigCh
		slog.Warn("second signal received, exiting immediately")
		os.Exit(1)
	}()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()

	grouper.Flush()
	if err := grouper.Drain(drainCtx); err != nil {
		slog.Warn("drain incomplete", "error", err)
	}
	grouper.Stop()

	cancel()
	sweeper.Wait()
	rdb.Close()

	slog.Info("intake service stopped")
}

// buildRegistry wires one fetcher per link family, with the generic web
// fetcher covering everything else and acting as last resort.
func buildRegistry(ctx context.Context, cfg *config.Config) *fetch.Registry {
	text := &pdftext.CommandExtractor{Bin: cfg.PDFToTextBin}

	web := &fetch.WebFetcher{
		OutputDir:    cfg.TempDir,
		Text:         text,
		ReaderURL:    cfg.ReaderURL,
		MinTextChars: cfg.MinPageTextChars,
	}

	docsend := &fetch.DocSendFetcher{
		Email:     cfg.DocSendEmail,
		Password:  cfg.DocSendPassword,
		APIURL:    cfg.DocSendAPIURL,
		OutputDir: cfg.TempDir,
		Text:      text,
	}

	// The deck room API enforces a hard request quota; the limiter keeps
	// bursts of links in one group from tripping it.
	papermark := &fetch.PapermarkFetcher{
		Email:     cfg.DocSendEmail,
		APIURL:    cfg.DocRoomAPIURL,
		OutputDir: cfg.TempDir,
		Text:      text,
		Limiter:   fetch.NewWindowLimiter(cfg.DocRoomRateRequests, cfg.DocRoomRateWindow),
		Fallback:  web,
	}
	if cfg.DocRoomClientID != "" && cfg.DocRoomTokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.DocRoomClientID,
			ClientSecret: cfg.DocRoomClientSecret,
			TokenURL:     cfg.DocRoomTokenURL,
		}
		papermark.Client = creds.Client(ctx)
	}

	slides := &fetch.SlidesFetcher{OutputDir: cfg.TempDir, Text: text}
	pdf := &fetch.PDFFetcher{OutputDir: cfg.TempDir, Text: text}
	kb := &fetch.KnowledgeBaseFetcher{Web: web}

	registry := fetch.NewRegistry()
	registry.Register(links.TypeDocSend, docsend)
	registry.Register(links.TypePapermark, papermark)
	registry.Register(links.TypePitch, papermark)
	registry.Register(links.TypeGoogleDrive, slides)
	registry.Register(links.TypePDFDirect, pdf)
	registry.Register(links.TypeNotion, kb)
	registry.SetDefault(web)
	registry.SetLastResort(web)
	return registry
}

// ingest adapts the grouper to the webhook's Ingestor interface and counts
// accepted messages.
type ingest struct {
	grouper *grouping.Grouper
}

func (i *ingest) Add(ctx context.Context, msg models.BufferedMessage) {
	metrics.MessagesReceived.Inc()
	i.grouper.Add(msg)
	metrics.OpenGroups.Set(float64(i.grouper.OpenGroups()))
}

// pgPinger adapts a pgx pool to the health check interface.
type pgPinger struct {
	pool *pgxpool.Pool
}

func (p pgPinger) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
