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
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is Google's OAuth2 token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// Credentials holds the OAuth2 material for one mailbox account. The account
// has already granted offline access; only the refresh flow runs here.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string // empty = DefaultTokenURL
}

func (c Credentials) config() *oauth2.Config {
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
}

// ResolveAccessToken exchanges the refresh token for a fresh access token
// with its expiry.
func ResolveAccessToken(ctx context.Context, c Credentials) (*oauth2.Token, error) {
	tok, err := c.config().TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("resolve access token: %w", err)
	}
	return tok, nil
}

// HTTPClient returns a client that injects the account's access token and
// refreshes it automatically as it expires.
func (c Credentials) HTTPClient(ctx context.Context) *http.Client {
	return c.config().Client(ctx, &oauth2.Token{RefreshToken: c.RefreshToken})
}
