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

// Jobdeck — One-Shot Sync Command
//
// Standalone CLI tool that runs a single sync cycle for one mailbox
// account: fetch candidates, normalize, classify, and enqueue pending
// triage messages. Intended for seeding data on new deployments and for
// cron-driven setups that do not run the long-lived server.
//
// Usage:
//
//	go run ./cmd/syncrun/ --account <key> [--provider gmail]
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jobdeck/triage/internal/classify"
	"github.com/jobdeck/triage/internal/config"
	"github.com/jobdeck/triage/internal/dedup"
	"github.com/jobdeck/triage/internal/ingest"
	"github.com/jobdeck/triage/internal/jobs"
	"github.com/jobdeck/triage/internal/mail"
	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	accountFlag := flag.String("account", "", "Account key to sync (required)")
	providerFlag := flag.String("provider", "gmail", "Mailbox provider")
	flag.Parse()

	if *accountFlag == "" {
		flag.Usage()
		os.Exit(1)
	}

	slog.Info("starting one-shot sync",
		"provider", *providerFlag,
		"account", *accountFlag,
	)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Find the requested account
	var acct *config.AccountConfig
	for i := range cfg.Accounts {
		if cfg.Accounts[i].AccountKey == *accountFlag && cfg.Accounts[i].Provider == *providerFlag {
			acct = &cfg.Accounts[i]
			break
		}
	}
	if acct == nil {
		slog.Error("account not found in configuration",
			"provider", *providerFlag,
			"account", *accountFlag,
		)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// --- Stores ---
	directory, err := jobs.NewDirectory(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise job directory", "error", err)
		os.Exit(1)
	}
	triageStore, err := store.NewPostgres(ctx, pgPool, directory)
	if err != nil {
		slog.Error("failed to initialise triage store", "error", err)
		os.Exit(1)
	}

	// --- Build OAuth2 mail client for the account ---
	creds := mail.Credentials{
		ClientID:     acct.ClientID,
		ClientSecret: acct.ClientSecret,
		RefreshToken: acct.RefreshToken,
	}
	httpClient := creds.HTTPClient(ctx)

	provider := models.Provider(acct.Provider)
	mailClient := mail.NewClient(cfg.MailBaseURL, cfg.MailQuery, cfg.MaxResults)
	mailClient.Register(provider, acct.AccountKey, httpClient)

	// --- Run one sync cycle ---
	coordinator := ingest.New(ingest.Config{
		Store:           triageStore,
		Mail:            mailClient,
		Classifier:      classify.NewClient(&http.Client{Timeout: cfg.ClassifyTimeout}, cfg.ClassifierURL),
		Seen:            dedup.NewFilter(rdb),
		FetchTimeout:    cfg.FetchTimeout,
		ClassifyTimeout: cfg.ClassifyTimeout,
	})

	result, err := coordinator.Run(ctx, provider, acct.AccountKey)
	if err != nil {
		slog.Error("sync failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("sync complete",
		"run_id", result.RunID,
		"seen", result.Seen,
		"ingested", result.Ingested,
		"skipped", result.Skipped,
		"errors", result.Errors,
	)
}
