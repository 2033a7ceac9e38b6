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

// Package jobs adapts the wider tracker's job tables for the triage
// service. The jobs table is owned by the tracker — this package only reads
// job summaries and appends immutable stage events; it never creates or
// deletes jobs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/store"
)

// Directory reads job records and appends stage events.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory creates a job directory over the tracker's Postgres pool.
// It ensures the stage-event table exists; the jobs table itself belongs to
// the tracker and is expected to be present.
func NewDirectory(ctx context.Context, pool *pgxpool.Pool) (*Directory, error) {
	d := &Directory{pool: pool}
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS job_stage_events (
			id          TEXT PRIMARY KEY,
			job_id      TEXT NOT NULL,
			to_stage    TEXT NOT NULL,
			occurred_at BIGINT NOT NULL,
			outcome     TEXT NOT NULL DEFAULT '',
			metadata    JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_stage_events_job ON job_stage_events(job_id, occurred_at);
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure stage event schema: %w", err)
	}
	return d, nil
}

// GetJob returns a job summary, nil when the job does not exist.
func (d *Directory) GetJob(ctx context.Context, id string) (*models.JobSummary, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, title, company, current_stage
		FROM jobs
		WHERE id = $1
	`, id)

	var j models.JobSummary
	err := row.Scan(&j.ID, &j.Title, &j.Company, &j.CurrentStage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns summaries for the ids that exist, keyed by id. Missing
// ids are simply absent — a stale suggestion is not an error.
func (d *Directory) ListJobs(ctx context.Context, ids []string) (map[string]models.JobSummary, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, title, company, current_stage
		FROM jobs
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.JobSummary, len(ids))
	for rows.Next() {
		var j models.JobSummary
		if err := rows.Scan(&j.ID, &j.Title, &j.Company, &j.CurrentStage); err != nil {
			return nil, err
		}
		out[j.ID] = j
	}
	return out, rows.Err()
}

// AppendStageEvent appends one stage event inside the caller's transaction
// and advances the job's current stage. Events are timestamped in epoch
// seconds, matching the tracker's event history convention.
func (d *Directory) AppendStageEvent(ctx context.Context, tx pgx.Tx, p store.StageEventParams) (string, error) {
	metadata, err := json.Marshal(map[string]string{
		"actor":       p.Actor,
		"label":       p.Label,
		"note":        p.Note,
		"reason_code": p.ReasonCode,
	})
	if err != nil {
		return "", fmt.Errorf("marshal event metadata: %w", err)
	}

	eventID := uuid.New().String()
	if _, err := tx.Exec(ctx, `
		INSERT INTO job_stage_events (id, job_id, to_stage, occurred_at, outcome, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, eventID, p.JobID, p.ToStage, p.OccurredAt.Unix(), p.Outcome, metadata); err != nil {
		return "", fmt.Errorf("insert stage event: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET current_stage = $1 WHERE id = $2
	`, p.ToStage, p.JobID); err != nil {
		return "", fmt.Errorf("advance job stage: %w", err)
	}

	return eventID, nil
}
