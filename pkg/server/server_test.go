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
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/quaero/pkg/config"
	"github.com/kadirpekel/quaero/pkg/contextbuilder"
	"github.com/kadirpekel/quaero/pkg/engine"
	"github.com/kadirpekel/quaero/pkg/fanout"
	"github.com/kadirpekel/quaero/pkg/generator"
	"github.com/kadirpekel/quaero/pkg/llms"
	"github.com/kadirpekel/quaero/pkg/retrieval"
	"github.com/kadirpekel/quaero/pkg/selector"
)

type echoLLM struct {
	answer string
}

func (e *echoLLM) GenerateStreaming(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	go func() {
		defer close(ch)
		ch <- llms.StreamChunk{Type: llms.ChunkText, Text: e.answer}
		ch <- llms.StreamChunk{Type: llms.ChunkDone, Tokens: 4}
	}()
	return ch, nil
}

func (e *echoLLM) Generate(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (string, []llms.ToolCall, int, error) {
	return e.answer, nil, 4, nil
}

func (e *echoLLM) GenerateStructured(ctx context.Context, messages []llms.Message, schema map[string]any) (string, error) {
	return "", nil
}

func (e *echoLLM) ModelName() string { return "echo" }

type staticConnector struct {
	items []retrieval.RetrievedItem
}

func (s *staticConnector) Kind() retrieval.SourceKind { return retrieval.SourceVector }
func (s *staticConnector) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.RetrievedItem, error) {
	return s.items, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	builder, err := contextbuilder.New()
	if err != nil {
		t.Fatalf("contextbuilder.New failed: %v", err)
	}

	engCfg := config.EngineConfig{}
	engCfg.SetDefaults()
	engCfg.RequestTimeout = 5 * time.Second

	sources := selector.Sources{Vector: &staticConnector{items: []retrieval.RetrievedItem{
		{ID: "d1", Content: "the content", SourceFile: "doc.md", Score: 0.9},
	}}}

	eng, err := engine.New(engCfg, engine.Deps{
		Selector:  selector.New(sources, nil, 10),
		Executor:  fanout.New(engCfg.ConnectorTimeout, nil),
		Builder:   builder,
		Generator: generator.New(&echoLLM{answer: "An answer [doc.md]."}, engCfg.MaxRounds, engCfg.RoundTimeout, nil),
	})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	return New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, eng, nil)
}

func TestHandleAsk_StreamsNDJSON(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("POST", "/v1/ask", strings.NewReader(`{"query":"what is in the doc"}`))
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	var deltas int
	var final map[string]any
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", scanner.Text(), err)
		}
		switch ev["type"] {
		case "delta":
			deltas++
		case "final":
			if final != nil {
				t.Fatal("more than one final event")
			}
			final = ev["final"].(map[string]any)
		case "error":
			t.Fatalf("unexpected error event: %v", ev)
		}
	}

	if deltas == 0 {
		t.Error("no delta events streamed")
	}
	if final == nil {
		t.Fatal("no final event")
	}
	if final["answer"] != "An answer [doc.md]." {
		t.Errorf("final answer = %v", final["answer"])
	}
	docs, ok := final["documents"].([]any)
	if !ok || len(docs) != 1 {
		t.Errorf("final documents = %v", final["documents"])
	}
}

func TestHandleAsk_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty_body", ""},
		{"missing_query", `{}`},
		{"tool_role_in_history", `{"query":"q","history":[{"role":"tool","content":"x"}]}`},
		{"system_role_in_history", `{"query":"q","history":[{"role":"system","content":"x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/ask", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.httpSrv.Handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var errBody map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &errBody); err != nil || errBody["error"] == "" {
				t.Errorf("error body = %s", rec.Body.String())
			}
		})
	}
}

func TestHandleAsk_HistoryForwarded(t *testing.T) {
	srv := newTestServer(t)

	body := `{"query":"and also?","history":[
		{"role":"user","content":"first question"},
		{"role":"assistant","content":"first answer"}
	]}`
	req := httptest.NewRequest("POST", "/v1/ask", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quaero_streaming_connections_active") {
		t.Error("metrics exposition lacks the streaming gauge")
	}
}
