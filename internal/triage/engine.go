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

// Package triage implements the inbox triage protocol: list pending
// messages, approve (link to a job and advance its stage), deny, and bulk
// decisions across an account.
//
// Concurrency control is optimistic: the store's conditional status update
// is the only mutual-exclusion mechanism, so it stays correct across
// multiple process instances. No in-process locks are held here.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/stage"
)

// bulkLimit bounds how many pending messages one bulk call enumerates.
const bulkLimit = 1000

// defaultActor labels decisions when the caller does not identify one.
const defaultActor = "user"

// Action selects the decision a bulk call applies.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
)

// Store is the persistence the engine needs. Implemented by store.Postgres
// and store.Memory.
type Store interface {
	// GetMessage returns the message, or nil when it does not exist in the
	// given (provider, accountKey) scope.
	GetMessage(ctx context.Context, provider models.Provider, accountKey, id string) (*models.TriageMessage, error)
	// ListPending returns up to limit pending messages in scope, oldest first.
	ListPending(ctx context.Context, provider models.Provider, accountKey string, limit int) ([]models.TriageMessage, error)
	// ApplyDecision atomically flips a pending message to its decided
	// status, appends the stage event when the decision carries a non-noop
	// transition, and bumps the owning sync run's counter. All three commit
	// together or not at all. Losing the conditional-update race yields a
	// CONFLICT *Error carrying the actually-decided status.
	ApplyDecision(ctx context.Context, d Decision) (*models.TriageMessage, string, error)

	GetRun(ctx context.Context, runID string) (*models.SyncRun, error)
	ListRuns(ctx context.Context, provider models.Provider, accountKey string, limit int) ([]models.SyncRun, error)
	ListRunMessages(ctx context.Context, runID string) ([]models.TriageMessage, error)
}

// JobDirectory is the external job-repository capability.
type JobDirectory interface {
	// GetJob returns nil when the job does not exist.
	GetJob(ctx context.Context, id string) (*models.JobSummary, error)
	ListJobs(ctx context.Context, ids []string) (map[string]models.JobSummary, error)
}

// Decision is the atomic unit the store applies for one message.
type Decision struct {
	MessageID  string
	Provider   models.Provider
	AccountKey string
	Action     Action

	// Approve-only fields.
	JobID      string
	Transition stage.Transition
	OccurredAt time.Time // stage event timestamp
	Label      string
	Note       string

	DecidedBy       string
	DecidedAtMillis int64
}

// ApproveRequest asks to link a message to a job and advance its stage.
type ApproveRequest struct {
	MessageID  string
	Provider   models.Provider
	AccountKey string
	JobID      string             // overrides the suggested match
	Target     models.StageTarget // explicit routing target
	ToStage    models.StageTarget // legacy alias for Target
	Note       string
	DecidedBy  string
}

// DenyRequest asks to dismiss a message.
type DenyRequest struct {
	MessageID  string
	Provider   models.Provider
	AccountKey string
	DecidedBy  string
}

// DecisionResult reports a decided message. StageEventID is empty when the
// resolved transition was a no-op (or the decision was a deny).
type DecisionResult struct {
	Message      *models.TriageMessage `json:"message"`
	StageEventID string                `json:"stage_event_id,omitempty"`
}

// Engine exposes the triage protocol over a Store and a JobDirectory.
type Engine struct {
	store Store
	jobs  JobDirectory
	now   func() time.Time
}

// New creates a triage engine.
func New(store Store, jobs JobDirectory) *Engine {
	return &Engine{store: store, jobs: jobs, now: time.Now}
}

// Approve links a pending message to a job and, unless the resolved
// transition is a no-op, appends a stage event to the job's history.
func (e *Engine) Approve(ctx context.Context, req ApproveRequest) (*DecisionResult, error) {
	msg, err := e.store.GetMessage(ctx, req.Provider, req.AccountKey, req.MessageID)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return nil, NotFoundf("message %s not found", req.MessageID)
	}
	if msg.ProcessingStatus != models.StatusPendingUser {
		return nil, Conflictf(msg.ProcessingStatus, "message %s already decided", req.MessageID)
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = msg.MatchedJobID
	}
	if jobID == "" {
		return nil, Unprocessablef("message %s has no suggested match and no job_id was supplied", req.MessageID)
	}

	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("look up job %s: %w", jobID, err)
	}
	if job == nil {
		return nil, NotFoundf("job %s not found", jobID)
	}

	tr, err := stage.Resolve(stage.Request{
		ExplicitTarget: req.Target,
		LegacyToStage:  req.ToStage,
		Suggested:      msg.StageTarget,
		MessageType:    msg.MessageType,
	})
	if err != nil {
		return nil, Unprocessablef("resolve stage transition: %v", err)
	}

	now := e.now()
	occurredAt := now
	if msg.ReceivedAt > 0 {
		occurredAt = time.UnixMilli(msg.ReceivedAt)
	}

	label := fmt.Sprintf("Linked to %s at %s", job.Title, job.Company)
	if !tr.NoOp {
		label = fmt.Sprintf("Routed to %s via inbox triage", tr.ToStage)
	}

	updated, eventID, err := e.store.ApplyDecision(ctx, Decision{
		MessageID:       req.MessageID,
		Provider:        req.Provider,
		AccountKey:      req.AccountKey,
		Action:          ActionApprove,
		JobID:           jobID,
		Transition:      tr,
		OccurredAt:      occurredAt,
		Label:           label,
		Note:            req.Note,
		DecidedBy:       actorOrDefault(req.DecidedBy),
		DecidedAtMillis: now.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("message approved",
		"message_id", req.MessageID,
		"job_id", jobID,
		"to_stage", string(tr.ToStage),
		"no_op", tr.NoOp,
		"stage_event_id", eventID,
	)

	return &DecisionResult{Message: updated, StageEventID: eventID}, nil
}

// Deny dismisses a pending message. The suggested match is cleared and no
// stage event is appended.
func (e *Engine) Deny(ctx context.Context, req DenyRequest) (*DecisionResult, error) {
	msg, err := e.store.GetMessage(ctx, req.Provider, req.AccountKey, req.MessageID)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return nil, NotFoundf("message %s not found", req.MessageID)
	}
	if msg.ProcessingStatus != models.StatusPendingUser {
		return nil, Conflictf(msg.ProcessingStatus, "message %s already decided", req.MessageID)
	}

	updated, _, err := e.store.ApplyDecision(ctx, Decision{
		MessageID:       req.MessageID,
		Provider:        req.Provider,
		AccountKey:      req.AccountKey,
		Action:          ActionDeny,
		DecidedBy:       actorOrDefault(req.DecidedBy),
		DecidedAtMillis: e.now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("message denied", "message_id", req.MessageID)

	return &DecisionResult{Message: updated}, nil
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return defaultActor
	}
	return actor
}
