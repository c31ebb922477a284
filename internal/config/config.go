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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the intake service.
type Config struct {
	// Server
	Port int

	// Redis
	RedisURL   string
	DealsQueue string

	// Postgres journal. Empty disables the audit trail.
	DatabaseURL string

	// Grouping
	BaseTimeout  time.Duration
	QuickTimeout time.Duration
	GapThreshold time.Duration
	MaxGroupSize int

	// Extraction
	ThinContentChars int
	MinPageTextChars int
	FetchConcurrency int
	TempDir          string

	// DocSend conversion
	DocSendEmail    string
	DocSendPassword string
	DocSendAPIURL   string

	// Deck room conversion API (papermark family)
	DocRoomAPIURL       string
	DocRoomRateRequests int
	DocRoomRateWindow   time.Duration
	DocRoomClientID     string
	DocRoomClientSecret string
	DocRoomTokenURL     string

	// Generic web fetching
	ReaderURL string

	// PDF text extraction
	PDFToTextBin string

	// Cleanup
	CleanupMaxAge   time.Duration
	CleanupInterval time.Duration

	// Logging
	LogLevel string
	LogFile  string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Deals string `yaml:"deals"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Grouping struct {
		BaseTimeout  string `yaml:"base_timeout"`
		QuickTimeout string `yaml:"quick_timeout"`
		GapThreshold string `yaml:"gap_threshold"`
		MaxGroupSize int    `yaml:"max_group_size"`
	} `yaml:"grouping"`
	Extraction struct {
		ThinContentChars int    `yaml:"thin_content_chars"`
		MinPageTextChars int    `yaml:"min_page_text_chars"`
		Concurrency      int    `yaml:"concurrency"`
		TempDir          string `yaml:"temp_dir"`
		ReaderURL        string `yaml:"reader_url"`
		PDFToTextBin     string `yaml:"pdftotext_bin"`
	} `yaml:"extraction"`
	DocSend struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		APIURL   string `yaml:"api_url"`
	} `yaml:"docsend"`
	DocRoom struct {
		APIURL       string `yaml:"api_url"`
		RateRequests int    `yaml:"rate_requests"`
		RateWindow   string `yaml:"rate_window"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		TokenURL     string `yaml:"token_url"`
	} `yaml:"docroom"`
	Cleanup struct {
		MaxAge   string `yaml:"max_age"`
		Interval string `yaml:"interval"`
	} `yaml:"cleanup"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A missing config file is not
// an error; everything has an env var or a default.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Env-only deployment
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		Port:        envOrDefaultInt("PORT", 8080),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		DealsQueue:  firstNonEmpty(raw.Redis.Queues.Deals, envOrDefault("DEALS_QUEUE", "deals")),
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),

		BaseTimeout:  durationOrDefault(raw.Grouping.BaseTimeout, envOrDefaultDuration("GROUP_BASE_TIMEOUT", 30*time.Second)),
		QuickTimeout: durationOrDefault(raw.Grouping.QuickTimeout, envOrDefaultDuration("GROUP_QUICK_TIMEOUT", 3*time.Second)),
		GapThreshold: durationOrDefault(raw.Grouping.GapThreshold, envOrDefaultDuration("GROUP_GAP_THRESHOLD", 2*time.Minute)),
		MaxGroupSize: intOrDefault(raw.Grouping.MaxGroupSize, envOrDefaultInt("GROUP_MAX_SIZE", 10)),

		ThinContentChars: intOrDefault(raw.Extraction.ThinContentChars, envOrDefaultInt("THIN_CONTENT_CHARS", 500)),
		MinPageTextChars: intOrDefault(raw.Extraction.MinPageTextChars, envOrDefaultInt("MIN_PAGE_TEXT_CHARS", 200)),
		FetchConcurrency: intOrDefault(raw.Extraction.Concurrency, envOrDefaultInt("FETCH_CONCURRENCY", 3)),
		TempDir:          firstNonEmpty(raw.Extraction.TempDir, envOrDefault("TEMP_DIR", "/tmp/intake-docs")),
		ReaderURL:        firstNonEmpty(raw.Extraction.ReaderURL, envOrDefault("READER_URL", "https://r.jina.ai/")),
		PDFToTextBin:     firstNonEmpty(raw.Extraction.PDFToTextBin, envOrDefault("PDFTOTEXT_BIN", "pdftotext")),

		DocSendEmail:    firstNonEmpty(raw.DocSend.Email, os.Getenv("DOCSEND_EMAIL")),
		DocSendPassword: firstNonEmpty(raw.DocSend.Password, os.Getenv("DOCSEND_PASSWORD")),
		DocSendAPIURL:   firstNonEmpty(raw.DocSend.APIURL, os.Getenv("DOCSEND_API_URL")),

		DocRoomAPIURL:       firstNonEmpty(raw.DocRoom.APIURL, os.Getenv("DOCROOM_API_URL")),
		DocRoomRateRequests: intOrDefault(raw.DocRoom.RateRequests, envOrDefaultInt("DOCROOM_RATE_REQUESTS", 5)),
		DocRoomRateWindow:   durationOrDefault(raw.DocRoom.RateWindow, envOrDefaultDuration("DOCROOM_RATE_WINDOW", 30*time.Minute)),
		DocRoomClientID:     firstNonEmpty(raw.DocRoom.ClientID, os.Getenv("DOCROOM_CLIENT_ID")),
		DocRoomClientSecret: firstNonEmpty(raw.DocRoom.ClientSecret, os.Getenv("DOCROOM_CLIENT_SECRET")),
		DocRoomTokenURL:     firstNonEmpty(raw.DocRoom.TokenURL, os.Getenv("DOCROOM_TOKEN_URL")),

		CleanupMaxAge:   durationOrDefault(raw.Cleanup.MaxAge, envOrDefaultDuration("CLEANUP_MAX_AGE", 24*time.Hour)),
		CleanupInterval: durationOrDefault(raw.Cleanup.Interval, envOrDefaultDuration("CLEANUP_INTERVAL", time.Hour)),

		LogLevel: firstNonEmpty(raw.Logging.Level, envOrDefault("LOG_LEVEL", "info")),
		LogFile:  firstNonEmpty(raw.Logging.File, os.Getenv("LOG_FILE")),
	}

	if cfg.QuickTimeout > cfg.BaseTimeout {
		return nil, fmt.Errorf("quick timeout %s exceeds base timeout %s", cfg.QuickTimeout, cfg.BaseTimeout)
	}
	if cfg.MaxGroupSize < 1 {
		return nil, fmt.Errorf("max group size must be at least 1, got %d", cfg.MaxGroupSize)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func durationOrDefault(raw string, fallback time.Duration) time.Duration {
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func intOrDefault(raw, fallback int) int {
	if raw != 0 {
		return raw
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
