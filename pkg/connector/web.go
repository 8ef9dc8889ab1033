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

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kadirpekel/quaero/pkg/config"
	"github.com/kadirpekel/quaero/pkg/httpclient"
	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// WebConnector queries an external web search provider. Web results
// carry no curated priority and sort behind tiered content.
type WebConnector struct {
	client   *httpclient.Client
	endpoint string
	apiKey   string
	topK     int
}

type webSearchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Snippet string  `json:"snippet"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// NewWebConnector builds the web search adapter.
func NewWebConnector(cfg *config.WebSourceConfig) *WebConnector {
	timeout := time.Duration(cfg.Timeout) * time.Second
	return &WebConnector{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeaders),
		),
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		topK:     cfg.TopK,
	}
}

func (c *WebConnector) Kind() retrieval.SourceKind {
	return retrieval.SourceWeb
}

func (c *WebConnector) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.RetrievedItem, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = c.topK
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, retrieval.NewConnectorError(retrieval.SourceWeb, retrieval.ErrUnavailable, err)
	}
	params := u.Query()
	params.Set("q", q.Text)
	params.Set("count", strconv.Itoa(topK))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, retrieval.NewConnectorError(retrieval.SourceWeb, retrieval.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// Do reports non-2xx statuses as errors; classify by status when the
	// response made it back at all.
	resp, err := c.client.Do(req)
	if resp == nil {
		return nil, retrieval.ClassifyError(retrieval.SourceWeb, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retrieval.NewConnectorError(retrieval.SourceWeb, retrieval.ErrMalformedResponse, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, retrieval.NewConnectorError(retrieval.SourceWeb, retrieval.ErrAuthFailure,
			fmt.Errorf("web search returned status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retrieval.NewConnectorError(retrieval.SourceWeb, retrieval.ErrRateLimited,
			fmt.Errorf("web search rate limited"))
	case resp.StatusCode != http.StatusOK:
		return nil, retrieval.NewConnectorError(retrieval.SourceWeb, retrieval.ErrUnavailable,
			fmt.Errorf("web search returned status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed webSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, retrieval.NewConnectorError(retrieval.SourceWeb, retrieval.ErrMalformedResponse, err)
	}

	items := make([]retrieval.RetrievedItem, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		content := r.Snippet
		if r.Title != "" {
			content = r.Title + ": " + content
		}
		items = append(items, retrieval.RetrievedItem{
			Source:     retrieval.SourceWeb,
			ID:         r.URL,
			Content:    content,
			Score:      r.Score,
			SourceFile: r.URL,
			Metadata:   map[string]any{"url": r.URL, "title": r.Title},
		})
	}

	return items, nil
}

var _ Connector = (*WebConnector)(nil)
