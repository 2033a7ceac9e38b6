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

// Jobdeck — Triage Service
//
// Entry point for the message triage service. It:
//  1. Loads account configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds an OAuth2 mail client per configured mailbox account
//  4. Runs a periodic sync loop (fetch, normalize, classify, enqueue)
//  5. Serves the triage HTTP API (inbox, approve, deny, bulk, runs)
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jobdeck/triage/internal/classify"
	"github.com/jobdeck/triage/internal/config"
	"github.com/jobdeck/triage/internal/dedup"
	"github.com/jobdeck/triage/internal/httpapi"
	"github.com/jobdeck/triage/internal/ingest"
	"github.com/jobdeck/triage/internal/jobs"
	"github.com/jobdeck/triage/internal/mail"
	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/store"
	"github.com/jobdeck/triage/internal/triage"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting jobdeck triage service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"accounts", len(cfg.Accounts),
		"sync_interval", cfg.SyncInterval,
	)

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
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Job Directory (tracker tables) ---
	directory, err := jobs.NewDirectory(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise job directory", "error", err)
		os.Exit(1)
	}

	// --- Triage Store (Postgres) ---
	triageStore, err := store.NewPostgres(ctx, pgPool, directory)
	if err != nil {
		slog.Error("failed to initialise triage store", "error", err)
		os.Exit(1)
	}

	// --- Build OAuth2 mail clients per account ---
	mailClient := mail.NewClient(cfg.MailBaseURL, cfg.MailQuery, cfg.MaxResults)
	var accounts []ingest.Account
	for _, acct := range cfg.Accounts {
		creds := mail.Credentials{
			ClientID:     acct.ClientID,
			ClientSecret: acct.ClientSecret,
			RefreshToken: acct.RefreshToken,
		}
		httpClient := creds.HTTPClient(ctx)

		provider := models.Provider(acct.Provider)
		mailClient.Register(provider, acct.AccountKey, httpClient)
		accounts = append(accounts, ingest.Account{Provider: provider, AccountKey: acct.AccountKey})
	}

	// --- Classifier Client ---
	classifier := classify.NewClient(&http.Client{Timeout: cfg.ClassifyTimeout}, cfg.ClassifierURL)

	// --- Sync Coordinator ---
	coordinator := ingest.New(ingest.Config{
		Store:           triageStore,
		Mail:            mailClient,
		Classifier:      classifier,
		Seen:            filter,
		FetchTimeout:    cfg.FetchTimeout,
		ClassifyTimeout: cfg.ClassifyTimeout,
		SyncInterval:    cfg.SyncInterval,
	})

	// --- Triage Engine + HTTP API ---
	engine := triage.New(triageStore, directory)
	handler := httpapi.NewHandler(engine, coordinator)
	handler.HealthCheck = func(ctx context.Context) error {
		if err := pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}

	ready, err := httpapi.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start API server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Initial sync, then the periodic loop ---
	for _, acct := range accounts {
		if _, err := coordinator.Run(ctx, acct.Provider, acct.AccountKey); err != nil {
			slog.Error("initial sync failed",
				"provider", string(acct.Provider),
				"account", acct.AccountKey,
				"error", err,
			)
		}
	}
	coordinator.StartPeriodicSync(ctx, accounts)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	coordinator.Stop()

	rdb.Close()
	pgPool.Close()

	slog.Info("triage service stopped")
}
