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

package triage

import (
	"context"
	"fmt"

	"github.com/jobdeck/triage/internal/models"
)

// InboxItem pairs a pending message with its suggested job, when the
// suggestion resolves to a live job record.
type InboxItem struct {
	Message models.TriageMessage `json:"message"`
	Job     *models.JobSummary   `json:"job,omitempty"`
}

// RunDetail is one sync run together with the messages it ingested.
type RunDetail struct {
	Run      models.SyncRun         `json:"run"`
	Messages []models.TriageMessage `json:"messages"`
}

// Inbox lists pending messages for an account, each with its resolved job
// summary or nil when the message has no (or a stale) suggestion.
func (e *Engine) Inbox(ctx context.Context, provider models.Provider, accountKey string, limit int) ([]InboxItem, error) {
	if limit <= 0 || limit > bulkLimit {
		limit = bulkLimit
	}

	pending, err := e.store.ListPending(ctx, provider, accountKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending messages: %w", err)
	}

	var jobIDs []string
	seen := make(map[string]bool)
	for _, msg := range pending {
		if msg.MatchedJobID != "" && !seen[msg.MatchedJobID] {
			seen[msg.MatchedJobID] = true
			jobIDs = append(jobIDs, msg.MatchedJobID)
		}
	}

	jobs := map[string]models.JobSummary{}
	if len(jobIDs) > 0 {
		jobs, err = e.jobs.ListJobs(ctx, jobIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve job summaries: %w", err)
		}
	}

	items := make([]InboxItem, 0, len(pending))
	for _, msg := range pending {
		item := InboxItem{Message: msg}
		if job, ok := jobs[msg.MatchedJobID]; ok {
			j := job
			item.Job = &j
		}
		items = append(items, item)
	}

	return items, nil
}

// Runs lists recent sync runs for an account, newest first.
func (e *Engine) Runs(ctx context.Context, provider models.Provider, accountKey string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > bulkLimit {
		limit = 50
	}
	runs, err := e.store.ListRuns(ctx, provider, accountKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return runs, nil
}

// RunMessages returns one sync run with every message it ingested.
func (e *Engine) RunMessages(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load sync run: %w", err)
	}
	if run == nil {
		return nil, NotFoundf("sync run %s not found", runID)
	}

	msgs, err := e.store.ListRunMessages(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list run messages: %w", err)
	}

	return &RunDetail{Run: *run, Messages: msgs}, nil
}
