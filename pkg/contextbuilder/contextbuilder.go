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

// Package contextbuilder renders ranked documents into the bounded,
// citation-tagged grounding context handed to the model.
package contextbuilder

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/quaero/pkg/retrieval"
)

const (
	encodingName = "cl100k_base"
	separator    = "\n\n"
)

// Builder renders context strings within a token budget.
type Builder struct {
	encoder *tiktoken.Tiktoken
}

// New loads the token encoder once; Build reuses it per request.
func New() (*Builder, error) {
	encoder, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding %s: %w", encodingName, err)
	}
	return &Builder{encoder: encoder}, nil
}

// Result is the rendered context plus the citation lookup for the
// documents that made it in.
type Result struct {
	Context   string
	Citations map[string]retrieval.Document
}

// Build renders documents in ranked order, stopping at the first one
// that would push past the budget. A document goes in whole or not at
// all; content is never cut mid-document. Output is deterministic for
// identical input.
func (b *Builder) Build(docs []retrieval.Document, tokenBudget int) Result {
	result := Result{Citations: make(map[string]retrieval.Document)}

	var sb strings.Builder
	remaining := tokenBudget
	sepCost := b.CountTokens(separator)

	for _, doc := range docs {
		line := formatDocument(doc)
		cost := b.CountTokens(line)
		// Every document after the first also pays for its separator.
		if sb.Len() > 0 {
			cost += sepCost
		}
		if cost > remaining {
			break
		}

		if sb.Len() > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(line)
		remaining -= cost
		result.Citations[doc.Citation] = doc
	}

	result.Context = sb.String()
	return result
}

// CountTokens measures text against the model tokenizer.
func (b *Builder) CountTokens(text string) int {
	return len(b.encoder.Encode(text, nil, nil))
}

// formatDocument renders one document as "{citation}{priority marker}: {content}".
func formatDocument(doc retrieval.Document) string {
	marker := ""
	if p := doc.Priority; p >= retrieval.PriorityHighest && p <= retrieval.PriorityLowest {
		marker = fmt.Sprintf(" [P%d]", p)
	}
	return fmt.Sprintf("%s%s: %s", doc.Citation, marker, doc.Content)
}
