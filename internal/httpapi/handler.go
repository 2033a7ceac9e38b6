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

// Package httpapi exposes the triage protocol over HTTP. Error codes from
// the engine map onto status codes; response bodies are JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/jobdeck/triage/internal/ingest"
	"github.com/jobdeck/triage/internal/models"
	"github.com/jobdeck/triage/internal/triage"
)

// Syncer triggers one sync cycle on demand. Implemented by
// ingest.Coordinator; nil disables the sync endpoint.
type Syncer interface {
	Run(ctx context.Context, provider models.Provider, accountKey string) (*ingest.RunResult, error)
}

// Handler serves the triage HTTP API.
type Handler struct {
	engine *triage.Engine
	syncer Syncer

	// HealthCheck, when set, is consulted by /health. A failure reports 503.
	HealthCheck func(ctx context.Context) error
}

// NewHandler creates the API handler.
func NewHandler(engine *triage.Engine, syncer Syncer) *Handler {
	return &Handler{engine: engine, syncer: syncer}
}

// Mux returns the route table.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.serveHealth)
	mux.HandleFunc("GET /triage/inbox", h.serveInbox)
	mux.HandleFunc("GET /triage/runs", h.serveRuns)
	mux.HandleFunc("GET /triage/runs/{id}/messages", h.serveRunMessages)
	mux.HandleFunc("POST /triage/messages/{id}/approve", h.serveApprove)
	mux.HandleFunc("POST /triage/messages/{id}/deny", h.serveDeny)
	mux.HandleFunc("POST /triage/bulk", h.serveBulk)
	mux.HandleFunc("POST /triage/sync", h.serveSync)
	return mux
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if h.HealthCheck != nil {
		if err := h.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "reason": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) serveInbox(w http.ResponseWriter, r *http.Request) {
	provider, accountKey := scopeParams(r)
	items, err := h.engine.Inbox(r.Context(), provider, accountKey, limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) serveRuns(w http.ResponseWriter, r *http.Request) {
	provider, accountKey := scopeParams(r)
	runs, err := h.engine.Runs(r.Context(), provider, accountKey, limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) serveRunMessages(w http.ResponseWriter, r *http.Request) {
	detail, err := h.engine.RunMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type approveBody struct {
	Provider   string `json:"provider"`
	AccountKey string `json:"account_key"`
	JobID      string `json:"job_id"`
	Target     string `json:"target"`
	ToStage    string `json:"to_stage"` // legacy alias for target
	Note       string `json:"note"`
	DecidedBy  string `json:"decided_by"`
}

func (h *Handler) serveApprove(w http.ResponseWriter, r *http.Request) {
	var body approveBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.Approve(r.Context(), triage.ApproveRequest{
		MessageID:  r.PathValue("id"),
		Provider:   providerOrDefault(body.Provider),
		AccountKey: accountOrDefault(body.AccountKey),
		JobID:      body.JobID,
		Target:     models.StageTarget(body.Target),
		ToStage:    models.StageTarget(body.ToStage),
		Note:       body.Note,
		DecidedBy:  body.DecidedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type denyBody struct {
	Provider   string `json:"provider"`
	AccountKey string `json:"account_key"`
	DecidedBy  string `json:"decided_by"`
}

func (h *Handler) serveDeny(w http.ResponseWriter, r *http.Request) {
	var body denyBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.Deny(r.Context(), triage.DenyRequest{
		MessageID:  r.PathValue("id"),
		Provider:   providerOrDefault(body.Provider),
		AccountKey: accountOrDefault(body.AccountKey),
		DecidedBy:  body.DecidedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type bulkBody struct {
	Action     string `json:"action"`
	Provider   string `json:"provider"`
	AccountKey string `json:"account_key"`
	DecidedBy  string `json:"decided_by"`
}

func (h *Handler) serveBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.Bulk(r.Context(), triage.BulkRequest{
		Action:     triage.Action(body.Action),
		Provider:   providerOrDefault(body.Provider),
		AccountKey: accountOrDefault(body.AccountKey),
		DecidedBy:  body.DecidedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type syncBody struct {
	Provider   string `json:"provider"`
	AccountKey string `json:"account_key"`
}

func (h *Handler) serveSync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody("SYNC_DISABLED", "no sync coordinator configured", ""))
		return
	}

	var body syncBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.syncer.Run(r.Context(), providerOrDefault(body.Provider), accountOrDefault(body.AccountKey))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func scopeParams(r *http.Request) (models.Provider, string) {
	return providerOrDefault(r.URL.Query().Get("provider")),
		accountOrDefault(r.URL.Query().Get("account_key"))
}

func providerOrDefault(p string) models.Provider {
	if p == "" {
		return models.ProviderGmail
	}
	return models.Provider(p)
}

func accountOrDefault(a string) string {
	if a == "" {
		return "default"
	}
	return a
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return triage.Unprocessablef("decode request body: %v", err)
	}
	return nil
}

// statusFor maps the engine's error codes onto HTTP statuses.
func statusFor(code triage.Code) int {
	switch code {
	case triage.CodeNotFound:
		return http.StatusNotFound
	case triage.CodeConflict:
		return http.StatusConflict
	case triage.CodeUnprocessable:
		return http.StatusUnprocessableEntity
	case triage.CodeRequestTimeout:
		return http.StatusRequestTimeout
	case triage.CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var te *triage.Error
	if errors.As(err, &te) {
		writeJSON(w, statusFor(te.Code), errorBody(string(te.Code), te.Message, string(te.DecidedStatus)))
		return
	}

	slog.Error("internal error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody("INTERNAL", "internal error", ""))
}

func errorBody(code, message, decidedStatus string) map[string]any {
	e := map[string]any{"code": code, "message": message}
	if decidedStatus != "" {
		e["decided_status"] = decidedStatus
	}
	return map[string]any{"error": e}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// Serve starts the API server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler: handler.Mux(),
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind API port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("API server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("API server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
		}
	}()

	return ready, nil
}
