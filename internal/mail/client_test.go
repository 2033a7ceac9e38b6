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

package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jobdeck/triage/internal/models"
)

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func newTestServer(t *testing.T, fullMessages map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/users/me/messages":
			w.Header().Set("Content-Type", "application/json")
			var ids []string
			for id := range fullMessages {
				ids = append(ids, fmt.Sprintf(`{"id":%q}`, id))
			}
			fmt.Fprintf(w, `{"messages":[%s]}`, strings.Join(ids, ","))
		case strings.HasPrefix(r.URL.Path, "/users/me/messages/"):
			id := strings.TrimPrefix(r.URL.Path, "/users/me/messages/")
			body, ok := fullMessages[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestFetchCandidateMessages(t *testing.T) {
	full := map[string]string{
		"g1": fmt.Sprintf(`{
			"id": "g1",
			"internalDate": "1717000000000",
			"snippet": "We would like to...",
			"payload": {
				"mimeType": "multipart/alternative",
				"headers": [
					{"name": "From", "value": "recruiting@acme.example"},
					{"name": "Subject", "value": "Interview invitation"},
					{"name": "Date", "value": "Mon, 2 Jun 2025 10:00:00 +0000"}
				],
				"parts": [
					{"mimeType": "text/plain", "body": {"data": %q}},
					{"mimeType": "text/html", "body": {"data": %q}}
				]
			}
		}`, b64("We would like to schedule an interview with you next week."), b64("<p>We would like to schedule an interview.</p>")),
	}
	srv := newTestServer(t, full)
	defer srv.Close()

	c := NewClient(srv.URL, "label:applications", 50)
	c.Register(models.ProviderGmail, "default", srv.Client())

	msgs, err := c.FetchCandidateMessages(context.Background(), models.ProviderGmail, "default")
	if err != nil {
		t.Fatalf("FetchCandidateMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}

	msg := msgs[0]
	if msg.ID != "g1" || msg.ReceivedAt != 1717000000000 {
		t.Errorf("message = %+v", msg)
	}
	if msg.From != "recruiting@acme.example" || msg.Subject != "Interview invitation" {
		t.Errorf("headers not lifted: from=%q subject=%q", msg.From, msg.Subject)
	}
	if msg.Snippet != "We would like to..." {
		t.Errorf("snippet = %q", msg.Snippet)
	}

	if msg.Payload == nil || msg.Payload.MimeType != "multipart/alternative" {
		t.Fatalf("payload = %+v", msg.Payload)
	}
	if len(msg.Payload.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(msg.Payload.Parts))
	}
	if got := string(msg.Payload.Parts[0].Body); got != "We would like to schedule an interview with you next week." {
		t.Errorf("plain body = %q", got)
	}
}

func TestFetchCandidateMessages_UnregisteredAccount(t *testing.T) {
	c := NewClient("http://unused.example", "", 10)
	if _, err := c.FetchCandidateMessages(context.Background(), models.ProviderGmail, "missing"); err == nil {
		t.Fatal("expected error for unregistered account")
	}
}

func TestFetchCandidateMessages_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 10)
	c.Register(models.ProviderGmail, "default", srv.Client())

	_, err := c.FetchCandidateMessages(context.Background(), models.ProviderGmail, "default")
	if err == nil || !strings.Contains(err.Error(), "HTTP 503") {
		t.Fatalf("expected HTTP 503 error, got %v", err)
	}
}

func TestParseWireMessage_PaddedBase64(t *testing.T) {
	// Some providers pad the URL-safe alphabet; the decoder accepts both.
	padded := base64.URLEncoding.EncodeToString([]byte("hello"))
	wire := &wireMessage{
		ID: "g1",
		Payload: &wirePart{
			MimeType: "text/plain",
		},
	}
	wire.Payload.Body.Data = padded

	msg, err := parseWireMessage(wire)
	if err != nil {
		t.Fatalf("parseWireMessage failed: %v", err)
	}
	if got := string(msg.Payload.Body); got != "hello" {
		t.Errorf("decoded body = %q, want hello", got)
	}
}

func TestParseWireMessage_BadInternalDate(t *testing.T) {
	wire := &wireMessage{ID: "g1", InternalDate: "not-a-number"}
	if _, err := parseWireMessage(wire); err == nil {
		t.Fatal("expected error for unparseable internalDate")
	}
}
