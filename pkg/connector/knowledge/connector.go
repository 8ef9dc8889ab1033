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

package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// Connector adapts the handle for eager prefetch. The server's primary
// job is exposing tools to the generator; when the source classifier
// flags a vendor-technology query, this adapter additionally runs the
// server's search tool up front so likely-relevant documentation is in
// the grounding context before the first model round.
type Connector struct {
	handle *Handle
}

// NewConnector wraps a shared handle.
func NewConnector(handle *Handle) *Connector {
	return &Connector{handle: handle}
}

func (c *Connector) Kind() retrieval.SourceKind {
	return retrieval.SourceKnowledge
}

func (c *Connector) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.RetrievedItem, error) {
	if err := c.handle.ensureConnected(ctx); err != nil {
		return nil, err
	}

	name, ok := c.handle.searchToolName()
	if !ok {
		return nil, retrieval.NewConnectorError(retrieval.SourceKnowledge, retrieval.ErrUnavailable,
			fmt.Errorf("knowledge server exposes no search tool"))
	}

	text, err := c.handle.CallTool(ctx, name, map[string]any{"query": q.Text})
	if err != nil {
		return nil, retrieval.ClassifyError(retrieval.SourceKnowledge, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	return []retrieval.RetrievedItem{{
		Source:     retrieval.SourceKnowledge,
		ID:         name,
		Content:    text,
		SourceFile: name,
	}}, nil
}

// searchToolName picks the server tool used for eager prefetch. Only a
// tool whose name mentions search or query qualifies; invoking an
// arbitrary tool with a query argument is not safe, so without a match
// the prefetch reports the source unavailable and the generator keeps
// the server's tools as its fallback.
func (h *Handle) searchToolName() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, def := range h.tools {
		lower := strings.ToLower(def.Name)
		if strings.Contains(lower, "search") || strings.Contains(lower, "query") {
			return def.Name, true
		}
	}
	return "", false
}
