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

// Package retrieval defines the data model shared by connectors, ranking,
// and answer assembly: raw per-source results, normalized documents,
// execution records, and the request-scoped thought trace.
package retrieval

import "time"

// SourceKind identifies a retrieval source.
type SourceKind string

const (
	SourceVector     SourceKind = "vector"
	SourceWeb        SourceKind = "web"
	SourceRepository SourceKind = "repository"
	SourceKnowledge  SourceKind = "knowledge"
)

// Priority tiers. Lower is more trusted. Content without a curated tier
// sorts behind everything that has one.
const (
	PriorityHighest = 1
	PriorityLowest  = 3
	// PriorityUnset marks documents whose ingestion metadata carried no tier.
	PriorityUnset = PriorityLowest + 1
)

// RetrievedItem is a raw per-source result. It is transient: the ranker
// normalizes it into a Document and discards it.
type RetrievedItem struct {
	Source        SourceKind
	ID            string
	Content       string
	Score         float64
	RerankerScore float64
	HasReranker   bool
	Priority      int // 1..3, 0 = unset
	SourceFile    string
	SourcePage    string
	Metadata      map[string]any
}

// Document is the canonical record used from fusion onward.
type Document struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	Citation      string         `json:"citation"`
	Source        SourceKind     `json:"source"`
	Score         float64        `json:"score"`
	RerankerScore float64        `json:"reranker_score,omitempty"`
	HasReranker   bool           `json:"-"`
	Priority      int            `json:"priority,omitempty"` // PriorityUnset when absent
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// EffectivePriority returns the sort tier, mapping unset or out-of-range
// values to the worst tier. Missing priority never errors.
func EffectivePriority(p int) int {
	if p < PriorityHighest || p > PriorityLowest {
		return PriorityUnset
	}
	return p
}

// InvocationStatus is the outcome of one connector call.
type InvocationStatus string

const (
	InvocationSuccess InvocationStatus = "success"
	InvocationFailure InvocationStatus = "failure"
	InvocationTimeout InvocationStatus = "timeout"
)

// SourceInvocation records one connector execution.
type SourceInvocation struct {
	Source     SourceKind       `json:"source"`
	Query      string           `json:"query"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Status     InvocationStatus `json:"status"`
	ItemCount  int              `json:"item_count"`
	Error      string           `json:"error,omitempty"`
}

// Query is the input every connector receives.
type Query struct {
	Text string
	TopK int
	// Filters are source-specific and passed through opaque.
	Filters map[string]any
	// AccessGroups are the caller's entitlement claims. The repository
	// connector scopes every query by them; other connectors ignore them.
	AccessGroups []string
}
