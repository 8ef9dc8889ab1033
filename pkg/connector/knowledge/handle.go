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

// Package knowledge maintains the shared connection to the external
// documentation knowledge server over MCP. The handle is process-wide,
// safe for concurrent requests, and reference counted so per-request
// cancellation never tears down the connection.
//
// Authentication is strictly callback-based: a bearer token is obtained
// from the TokenSource at call time and refreshed once on a 401. Static
// secrets are rejected at configuration load.
package knowledge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/quaero/pkg/httpclient"
	"github.com/kadirpekel/quaero/pkg/retrieval"
)

const protocolVersion = "2024-11-05"

// TokenSource supplies bearer credentials for the knowledge server. The
// handle calls Token before every request; when the server rejects the
// credential it calls Invalidate so the next Token call fetches anew
// instead of replaying a cached, already-rejected token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Config configures the knowledge server connection.
type Config struct {
	// URL of the streamable HTTP endpoint.
	URL string

	// Transport is "streamable-http" or "stdio".
	Transport string

	// Command and Args for the stdio transport.
	Command string
	Args    []string

	// Timeout per tool call.
	Timeout time.Duration

	// TokenSource is required for the streamable-http transport.
	TokenSource TokenSource

	MaxRetries int
}

// toolDef is one remote tool definition as listed by the server.
type toolDef struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Handle is the shared, lazily connected knowledge server session.
type Handle struct {
	cfg Config

	mu        sync.Mutex
	connected bool
	closing   bool
	refs      int
	stdio     *client.Client
	tools     []toolDef

	httpClient *httpclient.Client

	sessionMu sync.RWMutex
	sessionID string
}

// NewHandle builds an unconnected handle. The connection is established
// on first use.
func NewHandle(cfg Config) (*Handle, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("either url or command is required")
	}
	if cfg.Transport == "" {
		cfg.Transport = "streamable-http"
	}
	if cfg.Transport == "streamable-http" && cfg.TokenSource == nil {
		return nil, fmt.Errorf("a token source is required for the streamable-http transport")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Handle{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(2*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeaders),
		),
	}, nil
}

// Acquire registers an in-flight request against the handle.
func (h *Handle) Acquire() {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

// Release drops a request reference. The underlying connection is torn
// down only when a close was requested and no requests remain.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
	if h.closing && h.refs == 0 {
		h.teardownLocked()
	}
}

// Close requests teardown. It completes immediately when idle and is
// deferred until the last in-flight request releases otherwise.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closing = true
	if h.refs == 0 {
		h.teardownLocked()
	}
	return nil
}

func (h *Handle) teardownLocked() {
	if h.stdio != nil {
		_ = h.stdio.Close()
		h.stdio = nil
	}
	h.connected = false
	h.tools = nil
}

// ensureConnected establishes the session and lists tools on first use.
func (h *Handle) ensureConnected(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return retrieval.NewConnectorError(retrieval.SourceKnowledge, retrieval.ErrUnavailable,
			fmt.Errorf("knowledge server handle is closed"))
	}
	if h.connected {
		return nil
	}

	var err error
	if h.cfg.Transport == "stdio" {
		err = h.connectStdioLocked(ctx)
	} else {
		err = h.connectHTTPLocked(ctx)
	}
	if err != nil {
		return retrieval.ClassifyError(retrieval.SourceKnowledge, err)
	}
	return nil
}

func (h *Handle) connectStdioLocked(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(h.cfg.Command, nil, h.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "quaero", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]toolDef, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		tools = append(tools, toolDef{
			Name:        t.Name,
			Description: t.Description,
			Schema:      convertSchema(t.InputSchema),
		})
	}

	h.stdio = mcpClient
	h.tools = tools
	h.connected = true

	slog.Info("Connected to knowledge server (stdio)",
		"command", h.cfg.Command,
		"tools", len(tools),
	)
	return nil
}

func (h *Handle) connectHTTPLocked(ctx context.Context) error {
	initResp, err := h.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    "quaero",
			"version": "1.0.0",
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := h.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var tools []toolDef
	for _, raw := range toolsList {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		desc, _ := toolMap["description"].(string)
		schema, _ := toolMap["inputSchema"].(map[string]any)
		tools = append(tools, toolDef{Name: name, Description: desc, Schema: schema})
	}

	h.tools = tools
	h.connected = true

	slog.Info("Connected to knowledge server (HTTP)",
		"url", h.cfg.URL,
		"tools", len(tools),
	)
	return nil
}

// JSON-RPC types
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpc sends one JSON-RPC request over HTTP. On a 401 the token source is
// invalidated and the call retried once with a fresh credential; a second
// rejection is an auth failure.
func (h *Handle) rpc(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	resp, status, err := h.rpcOnce(ctx, method, params)
	if status == http.StatusUnauthorized {
		h.cfg.TokenSource.Invalidate()
		resp, status, err = h.rpcOnce(ctx, method, params)
		if status == http.StatusUnauthorized {
			return nil, retrieval.NewConnectorError(retrieval.SourceKnowledge, retrieval.ErrAuthFailure,
				fmt.Errorf("knowledge server rejected refreshed credential"))
		}
	}
	return resp, err
}

func (h *Handle) rpcOnce(ctx context.Context, method string, params any) (*jsonRPCResponse, int, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", h.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	token, err := h.cfg.TokenSource.Token(ctx)
	if err != nil {
		return nil, 0, retrieval.NewConnectorError(retrieval.SourceKnowledge, retrieval.ErrAuthFailure,
			fmt.Errorf("failed to obtain credential: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	h.sessionMu.RLock()
	sessionID := h.sessionID
	h.sessionMu.RUnlock()
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	// Do reports non-2xx statuses as errors; the status checks below need
	// the response whenever one made it back.
	httpResp, err := h.httpClient.Do(httpReq)
	if httpResp == nil {
		slog.Debug("Knowledge server request failed",
			"url", h.cfg.URL,
			"method", method,
			"error", err.Error())
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		h.sessionMu.Lock()
		h.sessionID = newSessionID
		h.sessionMu.Unlock()
	}

	if httpResp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, httpResp.Body)
		return nil, httpResp.StatusCode, fmt.Errorf("credential rejected")
	}
	if httpResp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(httpResp.Body)
		return nil, httpResp.StatusCode, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(responseBody))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		resp, err := readSSEResponse(httpResp.Body)
		return resp, httpResp.StatusCode, err
	}

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		return nil, httpResp.StatusCode, retrieval.NewConnectorError(retrieval.SourceKnowledge,
			retrieval.ErrMalformedResponse, err)
	}
	return &resp, httpResp.StatusCode, nil
}

// readSSEResponse reads the first complete JSON-RPC message from an SSE body.
func readSSEResponse(body io.Reader) (*jsonRPCResponse, error) {
	reader := bufio.NewReader(body)
	var currentData strings.Builder

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("SSE read error: %w", err)
		}

		lineStr := strings.TrimSpace(string(line))

		// Empty line signals end of event
		if lineStr == "" {
			if currentData.Len() > 0 {
				var resp jsonRPCResponse
				if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
					return &resp, nil
				}
				currentData.Reset()
			}
			continue
		}

		if strings.HasPrefix(lineStr, "data:") {
			currentData.WriteString(strings.TrimSpace(strings.TrimPrefix(lineStr, "data:")))
		}
	}

	if currentData.Len() > 0 {
		var resp jsonRPCResponse
		if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("SSE stream ended without complete message")
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
