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

package stage

import (
	"testing"

	"github.com/jobdeck/triage/internal/models"
)

// TestTargetForType_Exhaustive fails when a classifier-emitted message type
// has no mapping. Adding a type to models.MessageTypes without updating the
// resolver must break this test.
func TestTargetForType_Exhaustive(t *testing.T) {
	for _, mt := range models.MessageTypes {
		if _, err := TargetForType(mt); err != nil {
			t.Errorf("message type %q has no stage target mapping: %v", mt, err)
		}
	}
}

func TestTargetForType_Mapping(t *testing.T) {
	cases := []struct {
		in   models.MessageType
		want models.StageTarget
	}{
		{models.TypeConfirmation, models.TargetNoChange},
		{models.TypeRejection, models.TargetClosed},
		{models.TypeAvailabilityRequest, models.TargetInterviewRequested},
		{models.TypeInterviewInvite, models.TargetInterviewScheduled},
		{models.TypeOffer, models.TargetOffer},
		{models.TypeUnknown, models.TargetNoChange},
	}

	for _, tc := range cases {
		got, err := TargetForType(tc.in)
		if err != nil {
			t.Errorf("TargetForType(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("TargetForType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolve_PrecedenceOrder(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want models.ApplicationStage
		noop bool
	}{
		{
			name: "explicit target wins over everything",
			req: Request{
				ExplicitTarget: models.TargetOffer,
				LegacyToStage:  models.TargetClosed,
				Suggested:      models.TargetInterviewScheduled,
				MessageType:    models.TypeRejection,
			},
			want: models.StageOffer,
		},
		{
			name: "legacy to_stage is an alias when no explicit target",
			req: Request{
				LegacyToStage: models.TargetClosed,
				Suggested:     models.TargetOffer,
				MessageType:   models.TypeConfirmation,
			},
			want: models.StageClosed,
		},
		{
			name: "persisted suggestion beats classified type",
			req: Request{
				Suggested:   models.TargetInterviewScheduled,
				MessageType: models.TypeRejection,
			},
			want: models.StageInterviewScheduled,
		},
		{
			name: "classified type is the fallback",
			req:  Request{MessageType: models.TypeOffer},
			want: models.StageOffer,
		},
		{
			name: "confirmation derives a no-op",
			req:  Request{MessageType: models.TypeConfirmation},
			noop: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := Resolve(tc.req)
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if tr.NoOp != tc.noop {
				t.Fatalf("Resolve() NoOp = %v, want %v", tr.NoOp, tc.noop)
			}
			if !tc.noop && tr.ToStage != tc.want {
				t.Errorf("Resolve() ToStage = %q, want %q", tr.ToStage, tc.want)
			}
		})
	}
}

func TestResolve_ReasonCodes(t *testing.T) {
	// Explicitly chosen targets carry the manual-linked code.
	tr, err := Resolve(Request{ExplicitTarget: models.TargetOffer})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if tr.ReasonCode != ReasonManualLinked {
		t.Errorf("explicit target reason = %q, want %q", tr.ReasonCode, ReasonManualLinked)
	}

	// Derived targets keep their type-specific codes.
	tr, err = Resolve(Request{MessageType: models.TypeRejection})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if tr.ReasonCode != ReasonRejection {
		t.Errorf("rejection reason = %q, want %q", tr.ReasonCode, ReasonRejection)
	}
	if tr.Outcome != OutcomeRejected {
		t.Errorf("rejection outcome = %q, want %q", tr.Outcome, OutcomeRejected)
	}
	if tr.ToStage != models.StageClosed {
		t.Errorf("rejection stage = %q, want %q", tr.ToStage, models.StageClosed)
	}
}

func TestResolve_UnknownTargetRejected(t *testing.T) {
	if _, err := Resolve(Request{ExplicitTarget: "warp_speed"}); err == nil {
		t.Fatal("expected error for unknown stage target")
	}
}
