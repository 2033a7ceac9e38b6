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

// Package stage resolves a triage approval into a concrete application-stage
// transition. Resolution is a pure function: no persistence, no clock.
package stage

import (
	"fmt"

	"github.com/jobdeck/triage/internal/models"
)

// Reason codes recorded on appended stage events.
const (
	ReasonManualLinked       = "post_application_manual_linked"
	ReasonRejection          = "post_application_rejection"
	ReasonInterviewRequested = "post_application_interview_requested"
	ReasonInterviewScheduled = "post_application_interview_scheduled"
	ReasonOffer              = "post_application_offer"
)

// OutcomeRejected marks a closed stage event caused by a rejection.
const OutcomeRejected = "rejected"

// Request carries everything that can influence target resolution, in
// descending precedence: the explicit target, the legacy to_stage alias,
// the message's persisted suggestion, and finally the classified type.
type Request struct {
	ExplicitTarget models.StageTarget
	LegacyToStage  models.StageTarget
	Suggested      models.StageTarget
	MessageType    models.MessageType
}

// Transition is the resolved (toStage, outcome, reasonCode) tuple. A NoOp
// transition links the message to a job without moving the pipeline stage,
// so no stage event is appended for it.
type Transition struct {
	NoOp       bool
	ToStage    models.ApplicationStage
	Outcome    string
	ReasonCode string
}

// Resolve maps a resolution request to a stage transition.
//
// An explicitly chosen target (direct or via the legacy alias) carries the
// manual-linked reason code; targets derived from the message record keep
// their type-specific codes.
func Resolve(req Request) (Transition, error) {
	if req.ExplicitTarget != "" {
		return forTarget(req.ExplicitTarget, ReasonManualLinked)
	}
	if req.LegacyToStage != "" {
		return forTarget(req.LegacyToStage, ReasonManualLinked)
	}
	if req.Suggested != "" {
		return forTarget(req.Suggested, "")
	}

	target, err := TargetForType(req.MessageType)
	if err != nil {
		return Transition{}, err
	}
	return forTarget(target, "")
}

// TargetForType derives a stage target from a classified message type.
//
// The switch is exhaustive over models.MessageTypes and carries no default
// mapping: a classifier type without an arm here is a defect, surfaced by
// the exhaustiveness test rather than silently ignored at runtime.
func TargetForType(t models.MessageType) (models.StageTarget, error) {
	switch t {
	case models.TypeConfirmation:
		return models.TargetNoChange, nil
	case models.TypeRejection:
		return models.TargetClosed, nil
	case models.TypeAvailabilityRequest:
		return models.TargetInterviewRequested, nil
	case models.TypeInterviewInvite:
		return models.TargetInterviewScheduled, nil
	case models.TypeOffer:
		return models.TargetOffer, nil
	case models.TypeUnknown:
		return models.TargetNoChange, nil
	}
	return "", fmt.Errorf("unmapped message type %q", t)
}

// forTarget maps a stage target to its transition. When reasonOverride is
// empty the target's own reason code is used.
func forTarget(target models.StageTarget, reasonOverride string) (Transition, error) {
	var tr Transition

	switch target {
	case models.TargetNoChange:
		return Transition{NoOp: true}, nil
	case models.TargetClosed:
		tr = Transition{ToStage: models.StageClosed, Outcome: OutcomeRejected, ReasonCode: ReasonRejection}
	case models.TargetInterviewRequested:
		tr = Transition{ToStage: models.StageInterviewRequested, ReasonCode: ReasonInterviewRequested}
	case models.TargetInterviewScheduled:
		tr = Transition{ToStage: models.StageInterviewScheduled, ReasonCode: ReasonInterviewScheduled}
	case models.TargetOffer:
		tr = Transition{ToStage: models.StageOffer, ReasonCode: ReasonOffer}
	default:
		return Transition{}, fmt.Errorf("unknown stage target %q", target)
	}

	if reasonOverride != "" {
		tr.ReasonCode = reasonOverride
	}
	return tr, nil
}
