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

// Package models defines the data structures shared across the triage service.
package models

import "time"

// Provider identifies a mailbox vendor.
type Provider string

const (
	ProviderGmail Provider = "gmail"
)

// ProcessingStatus tracks where a triage message sits in its decision
// lifecycle. A message starts as pending_user and is decided exactly once.
type ProcessingStatus string

const (
	StatusPendingUser  ProcessingStatus = "pending_user"
	StatusManualLinked ProcessingStatus = "manual_linked"
	StatusIgnored      ProcessingStatus = "ignored"
)

// MessageType is the classifier-inferred category of an inbound email.
type MessageType string

const (
	TypeConfirmation        MessageType = "confirmation"
	TypeRejection           MessageType = "rejection"
	TypeAvailabilityRequest MessageType = "availability_request"
	TypeInterviewInvite     MessageType = "interview_invite"
	TypeOffer               MessageType = "offer"
	TypeUnknown             MessageType = "unknown"
)

// MessageTypes lists every value the classifier can emit. The stage resolver
// must map all of them; the exhaustiveness test iterates this slice.
var MessageTypes = []MessageType{
	TypeConfirmation,
	TypeRejection,
	TypeAvailabilityRequest,
	TypeInterviewInvite,
	TypeOffer,
	TypeUnknown,
}

// StageTarget is a suggested or requested routing target for an approval.
type StageTarget string

const (
	TargetNoChange           StageTarget = "no_change"
	TargetInterviewRequested StageTarget = "interview_requested"
	TargetInterviewScheduled StageTarget = "interview_scheduled"
	TargetOffer              StageTarget = "offer"
	TargetClosed             StageTarget = "closed"
)

// ApplicationStage is a pipeline stage of a tracked job application.
type ApplicationStage string

const (
	StageApplied            ApplicationStage = "applied"
	StageInterviewRequested ApplicationStage = "interview_requested"
	StageInterviewScheduled ApplicationStage = "interview_scheduled"
	StageOffer              ApplicationStage = "offer"
	StageClosed             ApplicationStage = "closed"
)

// TriageMessage is one inbound email mapped into the triage queue.
//
// DecidedAt and DecidedBy are set if and only if ProcessingStatus is no
// longer pending_user. MatchedJobID is non-empty only when the classifier
// suggested a match or a human approval supplied one.
type TriageMessage struct {
	ID         string   `json:"id"`
	Provider   Provider `json:"provider"`
	AccountKey string   `json:"account_key"`

	// NativeMessageID is the provider's own message identifier. Together
	// with provider and account key it forms the ingestion dedupe key.
	NativeMessageID string `json:"native_message_id"`

	MessageType  MessageType `json:"message_type"`
	MatchedJobID string      `json:"matched_job_id,omitempty"`
	StageTarget  StageTarget `json:"stage_target,omitempty"`
	Subject      string      `json:"subject"`
	FromAddress  string      `json:"from_address"`
	BodyText     string      `json:"body_text"`
	ReceivedAt   int64       `json:"received_at"` // epoch millis

	ProcessingStatus ProcessingStatus `json:"processing_status"`
	DecidedAt        *int64           `json:"decided_at,omitempty"` // epoch millis
	DecidedBy        string           `json:"decided_by,omitempty"`

	SyncRunID string    `json:"sync_run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SyncRunStatus is the terminal/in-progress state of a sync run.
type SyncRunStatus string

const (
	RunRunning   SyncRunStatus = "running"
	RunCompleted SyncRunStatus = "completed"
	RunFailed    SyncRunStatus = "failed"
)

// SyncRun records one ingestion cycle for a (provider, account) pair.
// The approved/denied counters are incremented only inside the same
// transaction that flips a message's processing status.
type SyncRun struct {
	ID               string        `json:"id"`
	Provider         Provider      `json:"provider"`
	AccountKey       string        `json:"account_key"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	MessagesSeen     int           `json:"messages_seen"`
	MessagesErrored  int           `json:"messages_errored"`
	MessagesApproved int           `json:"messages_approved"`
	MessagesDenied   int           `json:"messages_denied"`
	Status           SyncRunStatus `json:"status"`
}

// JobSummary is the slice of a tracked job record the triage surface needs.
// Jobs are owned by the wider tracker; this service only reads them.
type JobSummary struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Company      string           `json:"company"`
	CurrentStage ApplicationStage `json:"current_stage"`
}

// Classification is the matcher service's verdict for one message.
type Classification struct {
	MessageType          MessageType `json:"message_type"`
	SuggestedJobID       string      `json:"suggested_job_id,omitempty"`
	SuggestedStageTarget StageTarget `json:"suggested_stage_target,omitempty"`
}

// MessagePart is one node of a decoded MIME part tree. A part carries either
// inline body bytes or nested parts, matching what the mail provider returns.
type MessagePart struct {
	MimeType string
	Body     []byte
	Parts    []MessagePart
}

// RawMessage is a candidate message as fetched from the mail provider,
// before normalization and classification.
type RawMessage struct {
	ID         string // provider-native message id
	From       string
	Subject    string
	Date       string
	ReceivedAt int64  // epoch millis
	Snippet    string // provider preview; never forwarded to the classifier
	Payload    *MessagePart
}
