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
	"testing"

	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/triage"
)

func TestMemory_InsertMessageDeduplicates(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	msg := &models.TriageMessage{
		ID:              "m1",
		Provider:        models.ProviderGmail,
		AccountKey:      "default",
		NativeMessageID: "native-1",
	}

	inserted, err := s.InsertMessage(ctx, msg)
	if err != nil || !inserted {
		t.Fatalf("first insert = (%v, %v), want inserted", inserted, err)
	}

	dup := &models.TriageMessage{
		ID:              "m2",
		Provider:        models.ProviderGmail,
		AccountKey:      "default",
		NativeMessageID: "native-1",
	}
	inserted, err = s.InsertMessage(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert errored: %v", err)
	}
	if inserted {
		t.Error("duplicate (provider, account, native id) was inserted")
	}
}

func TestMemory_ApplyDecisionConflictReportsStatus(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.Seed(models.TriageMessage{
		ID:               "m1",
		Provider:         models.ProviderGmail,
		AccountKey:       "default",
		ProcessingStatus: models.StatusIgnored,
	})

	_, _, err := s.ApplyDecision(ctx, triage.Decision{
		MessageID:  "m1",
		Provider:   models.ProviderGmail,
		AccountKey: "default",
		Action:     triage.ActionApprove,
		JobID:      "J1",
	})
	if !triage.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemory_RunLifecycle(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	run, err := s.CreateRun(ctx, models.ProviderGmail, "default")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != models.RunRunning {
		t.Errorf("new run status = %q, want running", run.Status)
	}

	if err := s.FinishRun(ctx, run.ID, 5, 1, models.RunCompleted); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunCompleted || got.MessagesSeen != 5 || got.MessagesErrored != 1 {
		t.Errorf("finished run = %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("completed run has no completion time")
	}

	runs, err := s.ListRuns(ctx, models.ProviderGmail, "default", 10)
	if err != nil || len(runs) != 1 {
		t.Errorf("ListRuns = (%d, %v), want 1 run", len(runs), err)
	}
}
