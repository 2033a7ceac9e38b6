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

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/triage"
)

// StageEvent is one appended job-stage event as the memory store records it.
type StageEvent struct {
	ID         string
	JobID      string
	ToStage    models.ApplicationStage
	OccurredAt time.Time
	Actor      string
	Label      string
	Note       string
	ReasonCode string
	Outcome    string
}

// Memory is a mutex-guarded in-memory store with the same decision
// semantics as Postgres. Used by tests and local development; the check
// and the write of ApplyDecision happen under one lock, mirroring the
// conditional update's atomicity.
type Memory struct {
	mu       sync.Mutex
	messages map[string]*models.TriageMessage
	runs     map[string]*models.SyncRun
	events   []StageEvent
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string]*models.TriageMessage),
		runs:     make(map[string]*models.SyncRun),
	}
}

// Seed inserts a message directly, bypassing dedupe. Test helper.
func (s *Memory) Seed(msg models.TriageMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ProcessingStatus == "" {
		msg.ProcessingStatus = models.StatusPendingUser
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ID] = &msg
}

// Events returns a copy of every appended stage event.
func (s *Memory) Events() []StageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageEvent, len(s.events))
	copy(out, s.events)
	return out
}

// GetMessage returns a copy of a message in scope, or nil.
func (s *Memory) GetMessage(_ context.Context, provider models.Provider, accountKey, id string) (*models.TriageMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.lookup(provider, accountKey, id)
	if msg == nil {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

// ListPending returns up to limit pending messages, oldest received first.
func (s *Memory) ListPending(_ context.Context, provider models.Provider, accountKey string, limit int) ([]models.TriageMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TriageMessage
	for _, msg := range s.messages {
		if msg.Provider == provider && msg.AccountKey == accountKey &&
			msg.ProcessingStatus == models.StatusPendingUser {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt < out[j].ReceivedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplyDecision mirrors the Postgres transaction under the store mutex.
func (s *Memory) ApplyDecision(_ context.Context, d triage.Decision) (*models.TriageMessage, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.lookup(d.Provider, d.AccountKey, d.MessageID)
	if msg == nil {
		return nil, "", triage.NotFoundf("message %s not found", d.MessageID)
	}
	if msg.ProcessingStatus != models.StatusPendingUser {
		return nil, "", triage.Conflictf(msg.ProcessingStatus, "message %s already decided", d.MessageID)
	}

	switch d.Action {
	case triage.ActionApprove:
		msg.ProcessingStatus = models.StatusManualLinked
		msg.MatchedJobID = d.JobID
	case triage.ActionDeny:
		msg.ProcessingStatus = models.StatusIgnored
		msg.MatchedJobID = ""
	}
	decidedAt := d.DecidedAtMillis
	msg.DecidedAt = &decidedAt
	msg.DecidedBy = d.DecidedBy

	eventID := ""
	if d.Action == triage.ActionApprove && !d.Transition.NoOp {
		eventID = uuid.New().String()
		s.events = append(s.events, StageEvent{
			ID:         eventID,
			JobID:      d.JobID,
			ToStage:    d.Transition.ToStage,
			OccurredAt: d.OccurredAt,
			Actor:      "system",
			Label:      d.Label,
			Note:       d.Note,
			ReasonCode: d.Transition.ReasonCode,
			Outcome:    d.Transition.Outcome,
		})
	}

	if run, ok := s.runs[msg.SyncRunID]; ok {
		if d.Action == triage.ActionApprove {
			run.MessagesApproved++
		} else {
			run.MessagesDenied++
		}
	}

	cp := *msg
	return &cp, eventID, nil
}

// CreateRun opens a sync run.
func (s *Memory) CreateRun(_ context.Context, provider models.Provider, accountKey string) (*models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &models.SyncRun{
		ID:         uuid.New().String(),
		Provider:   provider,
		AccountKey: accountKey,
		StartedAt:  time.Now().UTC(),
		Status:     models.RunRunning,
	}
	s.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

// FinishRun records a run's terminal state.
func (s *Memory) FinishRun(_ context.Context, runID string, seen, errored int, status models.SyncRunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return triage.NotFoundf("sync run %s not found", runID)
	}
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.MessagesSeen = seen
	run.MessagesErrored = errored
	run.Status = status
	return nil
}

// InsertMessage persists an ingested message, enforcing the
// (provider, accountKey, nativeMessageID) dedupe key.
func (s *Memory) InsertMessage(_ context.Context, msg *models.TriageMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.messages {
		if existing.Provider == msg.Provider && existing.AccountKey == msg.AccountKey &&
			existing.NativeMessageID == msg.NativeMessageID {
			return false, nil
		}
	}

	cp := *msg
	cp.ProcessingStatus = models.StatusPendingUser
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.messages[cp.ID] = &cp
	return true, nil
}

// GetRun returns a copy of a sync run, or nil.
func (s *Memory) GetRun(_ context.Context, runID string) (*models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns recent runs for an account, newest first.
func (s *Memory) ListRuns(_ context.Context, provider models.Provider, accountKey string, limit int) ([]models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SyncRun
	for _, run := range s.runs {
		if run.Provider == provider && run.AccountKey == accountKey {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListRunMessages returns every message a run ingested.
func (s *Memory) ListRunMessages(_ context.Context, runID string) ([]models.TriageMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TriageMessage
	for _, msg := range s.messages {
		if msg.SyncRunID == runID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt < out[j].ReceivedAt })
	return out, nil
}

// lookup must be called with the mutex held.
func (s *Memory) lookup(provider models.Provider, accountKey, id string) *models.TriageMessage {
	msg, ok := s.messages[id]
	if !ok || msg.Provider != provider || msg.AccountKey != accountKey {
		return nil
	}
	return msg
}
