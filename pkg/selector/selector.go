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

// Package selector decides, per query, which sources are prefetched
// eagerly and which are exposed as callable tools to the generator.
package selector

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/quaero/pkg/connector"
	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// defaultVendorKeywords flags queries about the vendor's products and
// platform services. The list is a latency heuristic, not a contract:
// misses are covered by the knowledge tools always being callable.
var defaultVendorKeywords = []string{
	"azure",
	"microsoft",
	"office 365",
	"m365",
	"sharepoint",
	"teams",
	"dynamics",
	"power bi",
	"power platform",
	"entra",
	"intune",
	"fabric",
	"copilot",
	"dotnet",
	".net",
	"c#",
	"visual studio",
	"sql server",
	"cosmos db",
	"active directory",
	"graph api",
	"onedrive",
	"outlook",
	"windows server",
}

// Selection is the routing decision for one query.
type Selection struct {
	// Eager connectors are fanned out before the first model round.
	Eager []connector.Connector

	// Tools are every enabled source's callable surface, handed to the
	// generator as the correctness fallback for classifier misses.
	Tools []connector.Tool
}

// Sources are the wired connectors; nil entries are disabled in config.
type Sources struct {
	Vector     connector.Connector
	Web        connector.Connector
	Repository connector.Connector

	// KnowledgeTools lists the knowledge server's remote tools.
	KnowledgeTools connector.ToolProvider
	// KnowledgePrefetch runs the knowledge server's search tool eagerly.
	KnowledgePrefetch connector.Connector
}

// Overrides are the caller's per-request source switches. Nil means use
// the configured default.
type Overrides struct {
	UseVector    *bool
	UseWeb       *bool
	UseRepo      *bool
	UseKnowledge *bool
}

// defaultToolListTimeout bounds the synchronous knowledge tools listing
// so a stalled server cannot hold routing for the whole request deadline.
const defaultToolListTimeout = 5 * time.Second

// Selector routes queries to sources.
type Selector struct {
	sources         Sources
	vendorKeywords  []string
	defaultTopK     int
	toolListTimeout time.Duration
}

// New builds a selector. Extra keywords extend the built-in vendor list.
func New(sources Sources, extraKeywords []string, defaultTopK int) *Selector {
	keywords := make([]string, 0, len(defaultVendorKeywords)+len(extraKeywords))
	keywords = append(keywords, defaultVendorKeywords...)
	for _, k := range extraKeywords {
		keywords = append(keywords, strings.ToLower(k))
	}
	return &Selector{
		sources:         sources,
		vendorKeywords:  keywords,
		defaultTopK:     defaultTopK,
		toolListTimeout: defaultToolListTimeout,
	}
}

// Select applies the routing policy:
//   - vector is eager unless the caller disabled it
//   - web and repository are eager only when explicitly enabled
//   - knowledge joins the eager set when the query matches vendor
//     indicators
//   - every enabled source is also exposed as a tool
//
// With everything disabled both sets are empty and the generator answers
// from conversation context alone.
func (s *Selector) Select(ctx context.Context, query string, ov Overrides, accessGroups []string) Selection {
	var sel Selection

	if s.sources.Vector != nil && boolOr(ov.UseVector, true) {
		sel.Eager = append(sel.Eager, s.sources.Vector)
		sel.Tools = append(sel.Tools, connector.SearchTool(s.sources.Vector, s.defaultTopK, accessGroups))
	}
	if s.sources.Web != nil && boolOr(ov.UseWeb, false) {
		sel.Eager = append(sel.Eager, s.sources.Web)
		sel.Tools = append(sel.Tools, connector.SearchTool(s.sources.Web, s.defaultTopK, accessGroups))
	}
	if s.sources.Repository != nil && boolOr(ov.UseRepo, false) {
		sel.Eager = append(sel.Eager, s.sources.Repository)
		sel.Tools = append(sel.Tools, connector.SearchTool(s.sources.Repository, s.defaultTopK, accessGroups))
	}

	if s.sources.KnowledgeTools != nil && boolOr(ov.UseKnowledge, true) {
		if s.sources.KnowledgePrefetch != nil && s.MatchesVendorTechnology(query) {
			sel.Eager = append(sel.Eager, s.sources.KnowledgePrefetch)
		}
		toolCtx, cancel := context.WithTimeout(ctx, s.toolListTimeout)
		tools, err := s.sources.KnowledgeTools.Tools(toolCtx)
		cancel()
		if err != nil {
			// A down knowledge server degrades to the other sources.
			slog.Warn("Failed to list knowledge server tools",
				"source", retrieval.SourceKnowledge,
				"error", err)
		} else {
			sel.Tools = append(sel.Tools, tools...)
		}
	}

	return sel
}

// MatchesVendorTechnology reports whether the query names the vendor's
// products or platform terminology. Keywords match on word boundaries,
// so "dynamics" does not fire on "thermodynamics".
func (s *Selector) MatchesVendorTechnology(query string) bool {
	lower := strings.ToLower(query)
	for _, keyword := range s.vendorKeywords {
		if containsWord(lower, keyword) {
			return true
		}
	}
	return false
}

// containsWord reports whether keyword occurs in text on word
// boundaries. A boundary is enforced only against keyword edges that are
// themselves word characters, so ".net" still matches inside "asp.net"
// and "c#" matches "using c# today".
func containsWord(text, keyword string) bool {
	if keyword == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(text[start:], keyword)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(keyword)
		leftOK := !isWordByte(keyword[0]) || idx == 0 || !isWordByte(text[idx-1])
		rightOK := !isWordByte(keyword[len(keyword)-1]) || end == len(text) || !isWordByte(text[end])
		if leftOK && rightOK {
			return true
		}
		start = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 0x80
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
