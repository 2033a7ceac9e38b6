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

// Package ingest orchestrates one sync cycle per mailbox account: fetch
// candidate messages from the mail capability, normalize each body, ask the
// classifier for a suggested job match, and persist the result as a
// pending triage message under a sync run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/normalize"
	"github.com/jobdeck/triage/internal/triage"
)

// MailSource is the mail-provider capability: it yields raw candidate
// messages for an account. Implemented by mail.Client.
type MailSource interface {
	FetchCandidateMessages(ctx context.Context, provider models.Provider, accountKey string) ([]models.RawMessage, error)
}

// Classifier is the LLM matcher capability. Implemented by classify.Client.
type Classifier interface {
	Classify(ctx context.Context, messageText string) (*models.Classification, error)
}

// RunStore is the slice of the store the coordinator writes through.
type RunStore interface {
	CreateRun(ctx context.Context, provider models.Provider, accountKey string) (*models.SyncRun, error)
	InsertMessage(ctx context.Context, msg *models.TriageMessage) (bool, error)
	FinishRun(ctx context.Context, runID string, seen, errored int, status models.SyncRunStatus) error
}

// SeenFilter is the best-effort dedupe in front of the store's uniqueness
// constraint. Implemented by dedup.Filter.
type SeenFilter interface {
	IsNew(ctx context.Context, key string) (bool, error)
}

// Account names one mailbox to sync.
type Account struct {
	Provider   models.Provider
	AccountKey string
}

// RunResult summarises one completed sync cycle.
type RunResult struct {
	RunID    string
	Seen     int
	Ingested int
	Skipped  int
	Errors   int
}

// Coordinator runs sync cycles.
type Coordinator struct {
	store      RunStore
	mail       MailSource
	classifier Classifier
	seen       SeenFilter // optional

	fetchTimeout    time.Duration
	classifyTimeout time.Duration
	syncInterval    time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds the coordinator's dependencies.
type Config struct {
	Store           RunStore
	Mail            MailSource
	Classifier      Classifier
	Seen            SeenFilter
	FetchTimeout    time.Duration
	ClassifyTimeout time.Duration
	SyncInterval    time.Duration
}

// New creates a sync coordinator.
func New(cfg Config) *Coordinator {
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = 30 * time.Second
	}
	classifyTimeout := cfg.ClassifyTimeout
	if classifyTimeout == 0 {
		classifyTimeout = 20 * time.Second
	}
	return &Coordinator{
		store:           cfg.Store,
		mail:            cfg.Mail,
		classifier:      cfg.Classifier,
		seen:            cfg.Seen,
		fetchTimeout:    fetchTimeout,
		classifyTimeout: classifyTimeout,
		syncInterval:    cfg.SyncInterval,
	}
}

// Run performs one sync cycle for a mailbox account. A failure to fetch the
// candidate set fails the whole run; a single message's classification or
// persistence failure is counted on the run and skipped, never losing the
// messages already ingested.
func (c *Coordinator) Run(ctx context.Context, provider models.Provider, accountKey string) (*RunResult, error) {
	run, err := c.store.CreateRun(ctx, provider, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	slog.Info("sync run started",
		"run_id", run.ID,
		"provider", string(provider),
		"account", accountKey,
	)

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	raws, err := c.mail.FetchCandidateMessages(fetchCtx, provider, accountKey)
	cancel()
	if err != nil {
		mapped := capabilityError("fetch candidate messages", err)
		if ferr := c.store.FinishRun(ctx, run.ID, 0, 0, models.RunFailed); ferr != nil {
			slog.Error("failed to mark sync run failed", "run_id", run.ID, "error", ferr)
		}
		return nil, mapped
	}

	result := &RunResult{RunID: run.ID, Seen: len(raws)}

	for _, raw := range raws {
		if c.seen != nil {
			key := fmt.Sprintf("%s:%s:%s", provider, accountKey, raw.ID)
			isNew, err := c.seen.IsNew(ctx, key)
			if err != nil {
				slog.Warn("dedup check failed, proceeding", "error", err)
			} else if !isNew {
				result.Skipped++
				continue
			}
		}

		bodyText := normalize.Text(raw.Payload)

		classifyCtx, cancel := context.WithTimeout(ctx, c.classifyTimeout)
		cls, err := c.classifier.Classify(classifyCtx, classifierBlock(raw, bodyText))
		cancel()
		if err != nil {
			slog.Error("classification failed, skipping message",
				"run_id", run.ID,
				"message_id", raw.ID,
				"error", capabilityError("classify message", err),
			)
			result.Errors++
			continue
		}

		msg := &models.TriageMessage{
			ID:              uuid.New().String(),
			Provider:        provider,
			AccountKey:      accountKey,
			NativeMessageID: raw.ID,
			MessageType:     cls.MessageType,
			MatchedJobID:    cls.SuggestedJobID,
			StageTarget:     cls.SuggestedStageTarget,
			Subject:         raw.Subject,
			FromAddress:     raw.From,
			BodyText:        bodyText,
			ReceivedAt:      raw.ReceivedAt,
			SyncRunID:       run.ID,
		}

		inserted, err := c.store.InsertMessage(ctx, msg)
		if err != nil {
			slog.Error("persist triage message failed",
				"run_id", run.ID,
				"message_id", raw.ID,
				"error", err,
			)
			result.Errors++
			continue
		}
		if !inserted {
			result.Skipped++
			continue
		}
		result.Ingested++
	}

	if err := c.store.FinishRun(ctx, run.ID, result.Seen, result.Errors, models.RunCompleted); err != nil {
		return result, fmt.Errorf("finish sync run: %w", err)
	}

	slog.Info("sync run complete",
		"run_id", run.ID,
		"seen", result.Seen,
		"ingested", result.Ingested,
		"skipped", result.Skipped,
		"errors", result.Errors,
	)

	return result, nil
}

// StartPeriodicSync syncs every account at the configured interval until
// the context is cancelled or Stop is called.
func (c *Coordinator) StartPeriodicSync(ctx context.Context, accounts []Account) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				for _, acct := range accounts {
					if _, err := c.Run(loopCtx, acct.Provider, acct.AccountKey); err != nil {
						slog.Error("periodic sync failed",
							"provider", string(acct.Provider),
							"account", acct.AccountKey,
							"error", err,
						)
					}
				}
			}
		}
	}()

	slog.Info("periodic sync started", "interval", c.syncInterval, "accounts", len(accounts))
}

// Stop shuts down the periodic sync loop.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// classifierBlock builds the compact text the classifier receives: header
// lines then the normalized body. The provider's preview snippet is never
// included; only the normalized body represents the message content.
func classifierBlock(raw models.RawMessage, bodyText string) string {
	return fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\nBody:\n%s",
		raw.From, raw.Subject, raw.Date, bodyText)
}

// capabilityError maps an upstream failure onto the triage taxonomy: an
// aborted or timed-out call is REQUEST_TIMEOUT, anything else UPSTREAM_ERROR.
func capabilityError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return triage.Timeoutf("%s: %v", op, err)
	}
	return triage.Upstreamf("%s: %v", op, err)
}
