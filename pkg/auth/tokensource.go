// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kadirpekel/quaero/pkg/httpclient"
)

// expirySkew is subtracted from the advertised token lifetime so a token
// is never presented moments before it expires.
const expirySkew = 30 * time.Second

// TokenSource fetches short-lived bearer tokens from an ambient identity
// endpoint, such as a workload identity or metadata service. Tokens are
// cached until shortly before expiry. Callers that receive a 401 from the
// target service should call Invalidate and fetch again.
type TokenSource struct {
	endpoint string
	audience string
	client   *httpclient.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a token source backed by the given identity
// endpoint. No credential material is held in configuration; the endpoint
// itself authenticates the workload.
func NewTokenSource(endpoint, audience string) *TokenSource {
	return &TokenSource{
		endpoint: endpoint,
		audience: audience,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
		),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a valid bearer token, fetching a fresh one when the
// cached token is missing or near expiry.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	s.token = token
	s.expires = time.Now().Add(time.Duration(expiresIn)*time.Second - expirySkew)
	return s.token, nil
}

// Invalidate drops the cached token so the next Token call fetches anew.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expires = time.Time{}
}

func (s *TokenSource) fetch(ctx context.Context) (string, int, error) {
	reqURL := s.endpoint
	if s.audience != "" {
		u, err := url.Parse(s.endpoint)
		if err != nil {
			return "", 0, fmt.Errorf("invalid identity endpoint: %w", err)
		}
		q := u.Query()
		q.Set("audience", s.audience)
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if resp == nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("identity endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("identity endpoint returned an empty token")
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = 300
	}

	return tr.AccessToken, tr.ExpiresIn, nil
}
