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

// Package store persists triage messages and sync runs.
//
// The Postgres store is the production implementation. Decisions are applied
// in a single transaction whose conditional status update doubles as the
// mutual-exclusion mechanism: the row only updates while it is still
// pending_user, so the check and the write are one atomic step and the
// guarantee holds across process instances.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/triage"
)

// StageEventParams is what the job-repository collaborator needs to append
// one immutable stage event.
type StageEventParams struct {
	JobID      string
	ToStage    models.ApplicationStage
	OccurredAt time.Time
	Actor      string
	Label      string
	Note       string
	ReasonCode string
	Outcome    string
}

// StageEventAppender appends a stage event inside the caller's transaction,
// so the append commits or rolls back together with the message decision.
// Implemented by jobs.Directory.
type StageEventAppender interface {
	AppendStageEvent(ctx context.Context, tx pgx.Tx, p StageEventParams) (string, error)
}

const messageColumns = `
	id, provider, account_key, native_message_id, message_type,
	matched_job_id, stage_target, subject, from_address, body_text,
	received_at, processing_status, decided_at, decided_by, sync_run_id,
	created_at`

const runColumns = `
	id, provider, account_key, started_at, completed_at, messages_seen,
	messages_errored, messages_approved, messages_denied, status`

// Postgres is the pgx-backed store.
type Postgres struct {
	pool   *pgxpool.Pool
	events StageEventAppender
}

// NewPostgres creates the store and ensures its schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, events StageEventAppender) (*Postgres, error) {
	s := &Postgres{pool: pool, events: events}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure triage schema: %w", err)
	}
	slog.Info("triage store initialised")
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS triage_sync_runs (
			id                TEXT PRIMARY KEY,
			provider          TEXT NOT NULL,
			account_key       TEXT NOT NULL,
			started_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at      TIMESTAMPTZ,
			messages_seen     INT NOT NULL DEFAULT 0,
			messages_errored  INT NOT NULL DEFAULT 0,
			messages_approved INT NOT NULL DEFAULT 0,
			messages_denied   INT NOT NULL DEFAULT 0,
			status            TEXT NOT NULL DEFAULT 'running'
		);
		CREATE INDEX IF NOT EXISTS idx_runs_account ON triage_sync_runs(provider, account_key, started_at DESC);

		CREATE TABLE IF NOT EXISTS triage_messages (
			id                TEXT PRIMARY KEY,
			provider          TEXT NOT NULL,
			account_key       TEXT NOT NULL,
			native_message_id TEXT NOT NULL,
			message_type      TEXT NOT NULL DEFAULT 'unknown',
			matched_job_id    TEXT NOT NULL DEFAULT '',
			stage_target      TEXT NOT NULL DEFAULT '',
			subject           TEXT NOT NULL DEFAULT '',
			from_address      TEXT NOT NULL DEFAULT '',
			body_text         TEXT NOT NULL DEFAULT '',
			received_at       BIGINT NOT NULL DEFAULT 0,
			processing_status TEXT NOT NULL DEFAULT 'pending_user',
			decided_at        BIGINT,
			decided_by        TEXT NOT NULL DEFAULT '',
			sync_run_id       TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(provider, account_key, native_message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_msgs_pending ON triage_messages(provider, account_key, processing_status);
		CREATE INDEX IF NOT EXISTS idx_msgs_run ON triage_messages(sync_run_id);
	`)
	return err
}

// GetMessage returns a message scoped to (provider, accountKey), nil when
// absent. Scoping here is what prevents cross-account decisions on a
// guessed id.
func (s *Postgres) GetMessage(ctx context.Context, provider models.Provider, accountKey, id string) (*models.TriageMessage, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM triage_messages
		WHERE id = $1 AND provider = $2 AND account_key = $3
	`, id, provider, accountKey)
	return scanMessage(row)
}

// ListPending returns up to limit pending messages for an account, oldest
// received first.
func (s *Postgres) ListPending(ctx context.Context, provider models.Provider, accountKey string, limit int) ([]models.TriageMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM triage_messages
		WHERE provider = $1 AND account_key = $2 AND processing_status = $3
		ORDER BY received_at ASC
		LIMIT $4
	`, provider, accountKey, models.StatusPendingUser, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ApplyDecision flips a pending message to its decided status, appends the
// stage event for a non-noop approve, and bumps the owning run's counter —
// all in one transaction. Zero rows from the conditional update means a
// concurrent decision won; the conflict reports the status that won.
func (s *Postgres) ApplyDecision(ctx context.Context, d triage.Decision) (*models.TriageMessage, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin decision tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newStatus := models.StatusManualLinked
	matchedJobID := d.JobID
	if d.Action == triage.ActionDeny {
		newStatus = models.StatusIgnored
		matchedJobID = "" // denial clears the suggestion
	}

	row := tx.QueryRow(ctx, `
		UPDATE triage_messages
		SET processing_status = $1, matched_job_id = $2, decided_at = $3, decided_by = $4
		WHERE id = $5 AND provider = $6 AND account_key = $7 AND processing_status = $8
		RETURNING `+messageColumns+`
	`, newStatus, matchedJobID, d.DecidedAtMillis, d.DecidedBy,
		d.MessageID, d.Provider, d.AccountKey, models.StatusPendingUser)

	msg, err := scanMessage(row)
	if err != nil {
		return nil, "", fmt.Errorf("conditional decision update: %w", err)
	}
	if msg == nil {
		return nil, "", s.conflictFor(ctx, d)
	}

	eventID := ""
	if d.Action == triage.ActionApprove && !d.Transition.NoOp {
		eventID, err = s.events.AppendStageEvent(ctx, tx, StageEventParams{
			JobID:      d.JobID,
			ToStage:    d.Transition.ToStage,
			OccurredAt: d.OccurredAt,
			Actor:      "system",
			Label:      d.Label,
			Note:       d.Note,
			ReasonCode: d.Transition.ReasonCode,
			Outcome:    d.Transition.Outcome,
		})
		if err != nil {
			return nil, "", fmt.Errorf("append stage event: %w", err)
		}
	}

	if msg.SyncRunID != "" {
		counter := "messages_approved"
		if d.Action == triage.ActionDeny {
			counter = "messages_denied"
		}
		if _, err := tx.Exec(ctx,
			`UPDATE triage_sync_runs SET `+counter+` = `+counter+` + 1 WHERE id = $1`,
			msg.SyncRunID,
		); err != nil {
			return nil, "", fmt.Errorf("increment run counter: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit decision tx: %w", err)
	}

	return msg, eventID, nil
}

// conflictFor distinguishes "already decided" from "never existed" after the
// conditional update matched no rows.
func (s *Postgres) conflictFor(ctx context.Context, d triage.Decision) error {
	var status models.ProcessingStatus
	err := s.pool.QueryRow(ctx, `
		SELECT processing_status FROM triage_messages
		WHERE id = $1 AND provider = $2 AND account_key = $3
	`, d.MessageID, d.Provider, d.AccountKey).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return triage.NotFoundf("message %s not found", d.MessageID)
	}
	if err != nil {
		return fmt.Errorf("read status after lost race: %w", err)
	}
	return triage.Conflictf(status, "message %s already decided", d.MessageID)
}

// CreateRun opens a sync run for an account.
func (s *Postgres) CreateRun(ctx context.Context, provider models.Provider, accountKey string) (*models.SyncRun, error) {
	run := &models.SyncRun{
		ID:         uuid.New().String(),
		Provider:   provider,
		AccountKey: accountKey,
		StartedAt:  time.Now().UTC(),
		Status:     models.RunRunning,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO triage_sync_runs (id, provider, account_key, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.Provider, run.AccountKey, run.StartedAt, run.Status)
	if err != nil {
		return nil, fmt.Errorf("insert sync run: %w", err)
	}
	return run, nil
}

// FinishRun records a run's terminal state and seen/error counts.
func (s *Postgres) FinishRun(ctx context.Context, runID string, seen, errored int, status models.SyncRunStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE triage_sync_runs
		SET completed_at = NOW(), messages_seen = $1, messages_errored = $2, status = $3
		WHERE id = $4
	`, seen, errored, status, runID)
	return err
}

// InsertMessage persists a freshly ingested message as pending_user.
// Returns false when the (provider, accountKey, nativeMessageID) key was
// already ingested — the uniqueness constraint backs the dedupe filter.
func (s *Postgres) InsertMessage(ctx context.Context, msg *models.TriageMessage) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO triage_messages
			(id, provider, account_key, native_message_id, message_type,
			 matched_job_id, stage_target, subject, from_address, body_text,
			 received_at, processing_status, sync_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (provider, account_key, native_message_id) DO NOTHING
	`, msg.ID, msg.Provider, msg.AccountKey, msg.NativeMessageID, msg.MessageType,
		msg.MatchedJobID, msg.StageTarget, msg.Subject, msg.FromAddress, msg.BodyText,
		msg.ReceivedAt, models.StatusPendingUser, msg.SyncRunID)
	if err != nil {
		return false, fmt.Errorf("insert triage message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetRun returns a sync run, nil when absent.
func (s *Postgres) GetRun(ctx context.Context, runID string) (*models.SyncRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM triage_sync_runs
		WHERE id = $1
	`, runID)
	return scanRun(row)
}

// ListRuns returns recent runs for an account, newest first.
func (s *Postgres) ListRuns(ctx context.Context, provider models.Provider, accountKey string, limit int) ([]models.SyncRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM triage_sync_runs
		WHERE provider = $1 AND account_key = $2
		ORDER BY started_at DESC
		LIMIT $3
	`, provider, accountKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		r, err := scanRunValues(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ListRunMessages returns every message ingested by one run.
func (s *Postgres) ListRunMessages(ctx context.Context, runID string) ([]models.TriageMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM triage_messages
		WHERE sync_run_id = $1
		ORDER BY received_at ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func scanMessage(row pgx.Row) (*models.TriageMessage, error) {
	var m models.TriageMessage
	err := row.Scan(
		&m.ID, &m.Provider, &m.AccountKey, &m.NativeMessageID, &m.MessageType,
		&m.MatchedJobID, &m.StageTarget, &m.Subject, &m.FromAddress, &m.BodyText,
		&m.ReceivedAt, &m.ProcessingStatus, &m.DecidedAt, &m.DecidedBy, &m.SyncRunID,
		&m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMessages(rows pgx.Rows) ([]models.TriageMessage, error) {
	var msgs []models.TriageMessage
	for rows.Next() {
		var m models.TriageMessage
		if err := rows.Scan(
			&m.ID, &m.Provider, &m.AccountKey, &m.NativeMessageID, &m.MessageType,
			&m.MatchedJobID, &m.StageTarget, &m.Subject, &m.FromAddress, &m.BodyText,
			&m.ReceivedAt, &m.ProcessingStatus, &m.DecidedAt, &m.DecidedBy, &m.SyncRunID,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanRun(row pgx.Row) (*models.SyncRun, error) {
	r, err := scanRunValues(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

func scanRunValues(row pgx.Row) (*models.SyncRun, error) {
	var r models.SyncRun
	err := row.Scan(
		&r.ID, &r.Provider, &r.AccountKey, &r.StartedAt, &r.CompletedAt,
		&r.MessagesSeen, &r.MessagesErrored, &r.MessagesApproved,
		&r.MessagesDenied, &r.Status,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
