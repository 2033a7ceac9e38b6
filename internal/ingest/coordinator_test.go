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

package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/store"
	"github.com/jobdeck/triage/internal/triage"
)

type fakeMail struct {
	messages []models.RawMessage
	err      error
}

func (f *fakeMail) FetchCandidateMessages(ctx context.Context, provider models.Provider, accountKey string) ([]models.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

type fakeClassifier struct {
	result *models.Classification
	err    error
	inputs []string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (*models.Classification, error) {
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSeen struct {
	known map[string]bool
}

func (f *fakeSeen) IsNew(ctx context.Context, key string) (bool, error) {
	return !f.known[key], nil
}

func rawMessage(id, subject, body string) models.RawMessage {
	return models.RawMessage{
		ID:         id,
		From:       "recruiting@acme.example",
		Subject:    subject,
		Date:       "Mon, 2 Jun 2025 10:00:00 +0000",
		ReceivedAt: 1717000000000,
		Snippet:    "PREVIEW-SNIPPET",
		Payload: &models.MessagePart{
			MimeType: "text/plain",
			Body:     []byte(body),
		},
	}
}

func TestRun_IngestsClassifiedMessages(t *testing.T) {
	mem := store.NewMemory()
	mail := &fakeMail{messages: []models.RawMessage{
		rawMessage("g1", "Interview invitation", "We would like to schedule an interview."),
	}}
	cls := &fakeClassifier{result: &models.Classification{
		MessageType:    models.TypeInterviewInvite,
		SuggestedJobID: "J1",
	}}

	c := New(Config{Store: mem, Mail: mail, Classifier: cls})
	res, err := c.Run(context.Background(), models.ProviderGmail, "default")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Seen != 1 || res.Ingested != 1 || res.Errors != 0 {
		t.Errorf("result = %+v, want 1 seen, 1 ingested", res)
	}

	pending, err := mem.ListPending(context.Background(), models.ProviderGmail, "default", 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	msg := pending[0]
	if msg.ProcessingStatus != models.StatusPendingUser {
		t.Errorf("status = %q, want pending_user", msg.ProcessingStatus)
	}
	if msg.NativeMessageID != "g1" || msg.MatchedJobID != "J1" || msg.MessageType != models.TypeInterviewInvite {
		t.Errorf("message = %+v", msg)
	}
	if msg.SyncRunID != res.RunID {
		t.Errorf("sync run id = %q, want %q", msg.SyncRunID, res.RunID)
	}
	if msg.BodyText != "We would like to schedule an interview." {
		t.Errorf("body = %q", msg.BodyText)
	}

	run, err := mem.GetRun(context.Background(), res.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun = (%v, %v)", run, err)
	}
	if run.Status != models.RunCompleted || run.MessagesSeen != 1 {
		t.Errorf("run = %+v, want completed with 1 seen", run)
	}
}

func TestRun_ClassifierInputOmitsSnippet(t *testing.T) {
	mem := store.NewMemory()
	mail := &fakeMail{messages: []models.RawMessage{
		rawMessage("g1", "Offer letter", "Congratulations on your offer."),
	}}
	cls := &fakeClassifier{result: &models.Classification{MessageType: models.TypeOffer}}

	c := New(Config{Store: mem, Mail: mail, Classifier: cls})
	if _, err := c.Run(context.Background(), models.ProviderGmail, "default"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(cls.inputs) != 1 {
		t.Fatalf("classifier called %d times, want 1", len(cls.inputs))
	}
	input := cls.inputs[0]
	if strings.Contains(input, "PREVIEW-SNIPPET") {
		t.Error("classifier input contains the provider snippet")
	}
	for _, want := range []string{
		"From: recruiting@acme.example",
		"Subject: Offer letter",
		"Body:\nCongratulations on your offer.",
	} {
		if !strings.Contains(input, want) {
			t.Errorf("classifier input missing %q:\n%s", want, input)
		}
	}
}

func TestRun_FetchFailureFailsRun(t *testing.T) {
	mem := store.NewMemory()
	mail := &fakeMail{err: errors.New("gmail api: 503")}
	cls := &fakeClassifier{result: &models.Classification{MessageType: models.TypeUnknown}}

	c := New(Config{Store: mem, Mail: mail, Classifier: cls})
	_, err := c.Run(context.Background(), models.ProviderGmail, "default")
	if triage.CodeOf(err) != triage.CodeUpstream {
		t.Fatalf("expected UPSTREAM_ERROR, got %v", err)
	}

	runs, err := mem.ListRuns(context.Background(), models.ProviderGmail, "default", 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns = (%d, %v)", len(runs), err)
	}
	if runs[0].Status != models.RunFailed {
		t.Errorf("run status = %q, want failed", runs[0].Status)
	}
}

func TestRun_FetchTimeoutMapsToRequestTimeout(t *testing.T) {
	mem := store.NewMemory()
	mail := &fakeMail{err: context.DeadlineExceeded}
	cls := &fakeClassifier{result: &models.Classification{MessageType: models.TypeUnknown}}

	c := New(Config{Store: mem, Mail: mail, Classifier: cls})
	_, err := c.Run(context.Background(), models.ProviderGmail, "default")
	if triage.CodeOf(err) != triage.CodeRequestTimeout {
		t.Fatalf("expected REQUEST_TIMEOUT, got %v", err)
	}
}

func TestRun_ClassifierFailureCountsAndContinues(t *testing.T) {
	mem := store.NewMemory()
	mail := &fakeMail{messages: []models.RawMessage{
		rawMessage("g1", "Update", "First message."),
		rawMessage("g2", "Update", "Second message."),
	}}
	cls := &fakeClassifier{err: errors.New("matcher unavailable")}

	c := New(Config{Store: mem, Mail: mail, Classifier: cls})
	res, err := c.Run(context.Background(), models.ProviderGmail, "default")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Seen != 2 || res.Errors != 2 || res.Ingested != 0 {
		t.Errorf("result = %+v, want both counted as errors", res)
	}

	run, _ := mem.GetRun(context.Background(), res.RunID)
	if run.Status != models.RunCompleted || run.MessagesErrored != 2 {
		t.Errorf("run = %+v, want completed with 2 errored", run)
	}
}

func TestRun_SeenFilterSkipsKnownMessages(t *testing.T) {
	mem := store.NewMemory()
	mail := &fakeMail{messages: []models.RawMessage{
		rawMessage("g1", "Update", "Already ingested."),
		rawMessage("g2", "Update", "Brand new."),
	}}
	cls := &fakeClassifier{result: &models.Classification{MessageType: models.TypeUnknown}}
	seen := &fakeSeen{known: map[string]bool{"gmail:default:g1": true}}

	c := New(Config{Store: mem, Mail: mail, Classifier: cls, Seen: seen})
	res, err := c.Run(context.Background(), models.ProviderGmail, "default")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Ingested != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 ingested, 1 skipped", res)
	}
	if len(cls.inputs) != 1 {
		t.Errorf("classifier called %d times, want only for the new message", len(cls.inputs))
	}
}

func TestRun_StoreDedupeSkips(t *testing.T) {
	mem := store.NewMemory()
	mem.Seed(models.TriageMessage{
		ID:              "existing",
		Provider:        models.ProviderGmail,
		AccountKey:      "default",
		NativeMessageID: "g1",
	})

	mail := &fakeMail{messages: []models.RawMessage{
		rawMessage("g1", "Update", "Duplicate delivery."),
	}}
	cls := &fakeClassifier{result: &models.Classification{MessageType: models.TypeUnknown}}

	c := New(Config{Store: mem, Mail: mail, Classifier: cls})
	res, err := c.Run(context.Background(), models.ProviderGmail, "default")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Skipped != 1 || res.Ingested != 0 {
		t.Errorf("result = %+v, want duplicate skipped", res)
	}
}
