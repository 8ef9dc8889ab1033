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

// Package connector contains the source adapters: vector index, web
// search, and the access-scoped document repository. Each adapter turns
// a query into raw retrieved items and can also surface itself as a
// callable tool for the answer generator.
package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// Connector retrieves raw items for a query. Failures are classified as
// ConnectorError and recovered locally; they never fail the request.
type Connector interface {
	// Kind identifies the source.
	Kind() retrieval.SourceKind

	// Retrieve executes the query and returns raw items.
	Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.RetrievedItem, error)
}

// Tool is a callable function definition exposed to the model.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object.
	Parameters map[string]any
	// Invoke executes the tool. The returned string goes back into the
	// model's working context verbatim.
	Invoke func(ctx context.Context, args map[string]any) (string, error)
}

// ToolProvider exposes callable tools. The knowledge server surfaces its
// remote tool definitions this way; plain connectors are wrapped by
// SearchTool instead.
type ToolProvider interface {
	Tools(ctx context.Context) ([]Tool, error)
}

// searchArgs are the parameters of a wrapped connector search tool.
type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=The search query text"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Maximum number of results to return"`
}

var searchToolNames = map[retrieval.SourceKind]string{
	retrieval.SourceVector:     "search_documents",
	retrieval.SourceWeb:        "search_web",
	retrieval.SourceRepository: "search_repository",
}

var searchToolDescriptions = map[retrieval.SourceKind]string{
	retrieval.SourceVector:     "Search the indexed document collection for passages relevant to a query.",
	retrieval.SourceWeb:        "Search the public web for current information relevant to a query.",
	retrieval.SourceRepository: "Search the enterprise document repository. Results are limited to documents the caller is entitled to see.",
}

// SearchTool wraps a connector as a callable search tool for one request.
// The caller's access groups are captured so entitlement scoping survives
// model-initiated calls.
func SearchTool(c Connector, defaultTopK int, accessGroups []string) Tool {
	kind := c.Kind()
	name := searchToolNames[kind]
	if name == "" {
		name = "search_" + string(kind)
	}
	return Tool{
		Name:        name,
		Description: searchToolDescriptions[kind],
		Parameters:  SchemaFor(searchArgs{}),
		Invoke: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query argument is required")
			}

			topK := defaultTopK
			if k, ok := args["top_k"].(float64); ok && k > 0 {
				topK = int(k)
			}

			items, err := c.Retrieve(ctx, retrieval.Query{
				Text:         query,
				TopK:         topK,
				AccessGroups: accessGroups,
			})
			if err != nil {
				return "", err
			}
			return FormatItems(items), nil
		},
	}
}

// FormatItems renders retrieved items as plain text for the model.
func FormatItems(items []retrieval.RetrievedItem) string {
	if len(items) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		label := item.SourceFile
		if label == "" {
			label = item.ID
		}
		if item.SourcePage != "" {
			label += "#" + item.SourcePage
		}
		fmt.Fprintf(&sb, "[%s] %s", label, item.Content)
	}
	return sb.String()
}
