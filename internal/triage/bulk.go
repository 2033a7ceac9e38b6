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
	"log/slog"

	"github.com/jobdeck/triage/internal/models"
)

// ReasonNoSuggestedMatch marks a bulk-approve item skipped because the
// message carries no suggested job to link to.
const ReasonNoSuggestedMatch = "NO_SUGGESTED_MATCH"

// BulkRequest applies one decision across all pending messages in scope.
type BulkRequest struct {
	Action     Action
	Provider   models.Provider
	AccountKey string
	DecidedBy  string
}

// BulkOutcome is the per-message result of a bulk operation.
type BulkOutcome string

const (
	BulkSucceeded BulkOutcome = "succeeded"
	BulkSkipped   BulkOutcome = "skipped"
	BulkFailed    BulkOutcome = "failed"
)

// BulkItemResult records what happened to one message in the batch.
type BulkItemResult struct {
	MessageID    string      `json:"message_id"`
	Outcome      BulkOutcome `json:"outcome"`
	ReasonCode   string      `json:"reason_code,omitempty"`
	Error        string      `json:"error,omitempty"`
	StageEventID string      `json:"stage_event_id,omitempty"`
}

// BulkResult summarises a bulk operation. Items has one entry per pending
// message enumerated, sufficient to reconstruct exactly what happened to
// each without re-querying.
type BulkResult struct {
	Requested int              `json:"requested"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Items     []BulkItemResult `json:"items"`
}

// Bulk applies the requested action to every currently pending message for
// the account. Each message is decided independently: a lost race counts as
// skipped, any other error counts as failed with the error recorded, and
// processing always continues to the next message. Only a failure to
// enumerate the candidate set aborts the batch.
func (e *Engine) Bulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if req.Action != ActionApprove && req.Action != ActionDeny {
		return nil, Unprocessablef("unknown bulk action %q", req.Action)
	}

	pending, err := e.store.ListPending(ctx, req.Provider, req.AccountKey, bulkLimit)
	if err != nil {
		return nil, fmt.Errorf("list pending messages: %w", err)
	}

	result := &BulkResult{Requested: len(pending)}

	for _, msg := range pending {
		item := BulkItemResult{MessageID: msg.ID}

		// Approvals need something to link to; messages without a suggested
		// match are skipped without attempting the call.
		if req.Action == ActionApprove && msg.MatchedJobID == "" {
			item.Outcome = BulkSkipped
			item.ReasonCode = ReasonNoSuggestedMatch
			result.Skipped++
			result.Items = append(result.Items, item)
			continue
		}

		var dr *DecisionResult
		var opErr error
		switch req.Action {
		case ActionApprove:
			dr, opErr = e.Approve(ctx, ApproveRequest{
				MessageID:  msg.ID,
				Provider:   req.Provider,
				AccountKey: req.AccountKey,
				DecidedBy:  req.DecidedBy,
			})
		case ActionDeny:
			dr, opErr = e.Deny(ctx, DenyRequest{
				MessageID:  msg.ID,
				Provider:   req.Provider,
				AccountKey: req.AccountKey,
				DecidedBy:  req.DecidedBy,
			})
		}

		switch {
		case opErr == nil:
			item.Outcome = BulkSucceeded
			item.StageEventID = dr.StageEventID
			result.Succeeded++
		case IsConflict(opErr):
			// Someone else resolved this item first — that is not a failure.
			item.Outcome = BulkSkipped
			item.ReasonCode = string(CodeConflict)
			result.Skipped++
		default:
			item.Outcome = BulkFailed
			item.ReasonCode = string(CodeOf(opErr))
			item.Error = opErr.Error()
			result.Failed++
		}

		result.Items = append(result.Items, item)
	}

	slog.Info("bulk decision complete",
		"action", string(req.Action),
		"provider", string(req.Provider),
		"account", req.AccountKey,
		"requested", result.Requested,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)

	return result, nil
}
