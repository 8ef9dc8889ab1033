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

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kadirpekel/quaero/pkg/auth"
	"github.com/kadirpekel/quaero/pkg/engine"
	"github.com/kadirpekel/quaero/pkg/llms"
	"github.com/kadirpekel/quaero/pkg/observability"
	"github.com/kadirpekel/quaero/pkg/selector"
)

// askRequest is the POST /v1/ask body.
type askRequest struct {
	Query   string       `json:"query"`
	History []apiMessage `json:"history,omitempty"`

	// Per-request source switches. Omitted fields keep configured defaults.
	UseVector    *bool `json:"use_vector,omitempty"`
	UseWeb       *bool `json:"use_web,omitempty"`
	UseRepo      *bool `json:"use_repository,omitempty"`
	UseKnowledge *bool `json:"use_knowledge,omitempty"`

	Validate *bool `json:"validate,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleAsk streams the pipeline as NDJSON: zero or more delta events,
// then exactly one final or error event.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	history := make([]llms.Message, 0, len(req.History))
	for _, m := range req.History {
		if m.Role != llms.RoleUser && m.Role != llms.RoleAssistant {
			writeError(w, http.StatusBadRequest, "history roles must be user or assistant")
			return
		}
		history = append(history, llms.Message{Role: m.Role, Content: m.Content})
	}

	events, err := s.engine.Ask(r.Context(), engine.Request{
		Query:   req.Query,
		History: history,
		Overrides: selector.Overrides{
			UseVector:    req.UseVector,
			UseWeb:       req.UseWeb,
			UseRepo:      req.UseRepo,
			UseKnowledge: req.UseKnowledge,
		},
		AccessGroups: auth.GroupsFrom(r.Context()),
		Validate:     req.Validate,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			slog.Warn("Client disconnected mid-stream", "error", err)
			return
		}
		flusher.Flush()
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
