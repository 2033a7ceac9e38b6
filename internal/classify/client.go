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

// Package classify implements a client for the matcher service, which
// categorizes an inbound email and suggests the tracked job it belongs to.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jobdeck/triage/internal/models"
)

// Client talks to the matcher service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a matcher client.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

type classifyRequest struct {
	MessageText string `json:"message_text"`
}

// Classify submits one message's text and returns the matcher's verdict.
func (c *Client) Classify(ctx context.Context, messageText string) (*models.Classification, error) {
	payload, err := json.Marshal(classifyRequest{MessageText: messageText})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("classify failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var cls models.Classification
	if err := json.NewDecoder(resp.Body).Decode(&cls); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}

	if cls.MessageType == "" {
		cls.MessageType = models.TypeUnknown
	}
	return &cls, nil
}
