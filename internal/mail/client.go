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

// Package mail fetches candidate messages from a Gmail-style REST API and
// decodes them into MIME part trees for normalization.
package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jobdeck/triage/internal/models"
)

// defaultMaxResults caps one sync cycle's candidate list.
const defaultMaxResults = 100

// Client fetches messages for registered mailbox accounts. Each account
// carries its own authenticated HTTP client; token refresh is handled by
// the oauth2 transport automatically.
type Client struct {
	baseURL    string
	query      string
	maxResults int
	accounts   map[string]*http.Client
}

// NewClient creates a mail client. query is the provider search expression
// selecting application-related messages (for Gmail, a standard search
// query such as a label filter).
func NewClient(baseURL, query string, maxResults int) *Client {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		query:      query,
		maxResults: maxResults,
		accounts:   make(map[string]*http.Client),
	}
}

// Register attaches an authenticated HTTP client for one mailbox account.
// Not safe for concurrent use with FetchCandidateMessages; register every
// account during startup.
func (c *Client) Register(provider models.Provider, accountKey string, httpClient *http.Client) {
	c.accounts[accountID(provider, accountKey)] = httpClient
}

// FetchCandidateMessages lists the account's candidate messages and fetches
// each one in full. A single message that has disappeared between list and
// fetch is skipped with a warning, not an error.
func (c *Client) FetchCandidateMessages(ctx context.Context, provider models.Provider, accountKey string) ([]models.RawMessage, error) {
	httpClient, ok := c.accounts[accountID(provider, accountKey)]
	if !ok {
		return nil, fmt.Errorf("no registered account %s/%s", provider, accountKey)
	}

	ids, err := c.listMessageIDs(ctx, httpClient)
	if err != nil {
		return nil, err
	}

	out := make([]models.RawMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := c.fetchMessage(ctx, httpClient, id)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			slog.Warn("message disappeared between list and fetch",
				"provider", string(provider),
				"account", accountKey,
				"message_id", id,
			)
			continue
		}
		out = append(out, *msg)
	}
	return out, nil
}

func (c *Client) listMessageIDs(ctx context.Context, httpClient *http.Client) ([]string, error) {
	u := fmt.Sprintf("%s/users/me/messages?q=%s&maxResults=%d",
		c.baseURL, url.QueryEscape(c.query), c.maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mail API returned HTTP %d listing messages", resp.StatusCode)
	}

	var body struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	ids := make([]string, 0, len(body.Messages))
	for _, m := range body.Messages {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// fetchMessage retrieves one full message. Returns nil, nil on 404.
func (c *Client) fetchMessage(ctx context.Context, httpClient *http.Client, id string) (*models.RawMessage, error) {
	u := fmt.Sprintf("%s/users/me/messages/%s?format=full", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mail API returned HTTP %d for message %s", resp.StatusCode, id)
	}

	var wire wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return parseWireMessage(&wire)
}

func accountID(provider models.Provider, accountKey string) string {
	return string(provider) + "/" + accountKey
}

// wireMessage is the provider's JSON shape for a full message.
type wireMessage struct {
	ID           string    `json:"id"`
	InternalDate string    `json:"internalDate"` // epoch millis, as a string
	Snippet      string    `json:"snippet"`
	Payload      *wirePart `json:"payload"`
}

type wirePart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []wirePart `json:"parts"`
}

// parseWireMessage converts the provider's message shape into the canonical
// RawMessage, decoding body data and lifting the routing headers.
func parseWireMessage(wire *wireMessage) (*models.RawMessage, error) {
	msg := &models.RawMessage{
		ID:      wire.ID,
		Snippet: wire.Snippet,
	}

	if wire.InternalDate != "" {
		millis, err := strconv.ParseInt(wire.InternalDate, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse internalDate for message %s: %w", wire.ID, err)
		}
		msg.ReceivedAt = millis
	}

	if wire.Payload != nil {
		for _, h := range wire.Payload.Headers {
			switch {
			case strings.EqualFold(h.Name, "From"):
				msg.From = h.Value
			case strings.EqualFold(h.Name, "Subject"):
				msg.Subject = h.Value
			case strings.EqualFold(h.Name, "Date"):
				msg.Date = h.Value
			}
		}
		msg.Payload = decodePart(wire.Payload)
	}

	return msg, nil
}

// decodePart converts one wire part and its children. Body data the
// provider sends that fails to decode is dropped; normalization treats a
// part without bytes as empty rather than failing the whole message.
func decodePart(wire *wirePart) *models.MessagePart {
	part := &models.MessagePart{MimeType: wire.MimeType}

	if wire.Body.Data != "" {
		if decoded, err := decodeBody(wire.Body.Data); err == nil {
			part.Body = decoded
		} else {
			slog.Warn("undecodable part body dropped", "mime_type", wire.MimeType, "error", err)
		}
	}

	for i := range wire.Parts {
		part.Parts = append(part.Parts, *decodePart(&wire.Parts[i]))
	}
	return part
}

// decodeBody handles the provider's URL-safe base64, with or without padding.
func decodeBody(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
