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

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/quaero/pkg/connector"
	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// Tools lists the server's remote tool definitions as callable tools,
// connecting lazily on first use. Tool names are prefixed so they never
// collide with the local search tools.
func (h *Handle) Tools(ctx context.Context) ([]connector.Tool, error) {
	if err := h.ensureConnected(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defs := make([]toolDef, len(h.tools))
	copy(defs, h.tools)
	h.mu.Unlock()

	tools := make([]connector.Tool, 0, len(defs))
	for _, def := range defs {
		name := def.Name
		tools = append(tools, connector.Tool{
			Name:        "knowledge_" + name,
			Description: def.Description,
			Parameters:  def.Schema,
			Invoke: func(ctx context.Context, args map[string]any) (string, error) {
				return h.CallTool(ctx, name, args)
			},
		})
	}
	return tools, nil
}

// CallTool invokes one remote tool and returns its text content.
func (h *Handle) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if err := h.ensureConnected(ctx); err != nil {
		return "", err
	}

	h.mu.Lock()
	stdio := h.stdio
	h.mu.Unlock()

	if stdio != nil {
		return h.callStdio(ctx, stdio, name, args)
	}
	return h.callHTTP(ctx, name, args)
}

func (h *Handle) callStdio(ctx context.Context, c *client.Client, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return "", retrieval.ClassifyError(retrieval.SourceKnowledge, fmt.Errorf("tool call failed: %w", err))
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	if resp.IsError {
		if joined == "" {
			joined = "unknown error"
		}
		return "", retrieval.NewConnectorError(retrieval.SourceKnowledge, retrieval.ErrUnavailable,
			fmt.Errorf("tool %s: %s", name, joined))
	}
	return joined, nil
}

func (h *Handle) callHTTP(ctx context.Context, name string, args map[string]any) (string, error) {
	resp, err := h.rpc(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", retrieval.ClassifyError(retrieval.SourceKnowledge, err)
	}
	if resp.Error != nil {
		return "", retrieval.NewConnectorError(retrieval.SourceKnowledge, retrieval.ErrUnavailable,
			fmt.Errorf("tool %s: %s", name, resp.Error.Message))
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return fmt.Sprint(resp.Result), nil
	}

	texts := collectText(resultMap)
	joined := strings.Join(texts, "\n")

	if isError, _ := resultMap["isError"].(bool); isError {
		if joined == "" {
			joined = "unknown error"
		}
		return "", retrieval.NewConnectorError(retrieval.SourceKnowledge, retrieval.ErrUnavailable,
			fmt.Errorf("tool %s: %s", name, joined))
	}
	return joined, nil
}

func collectText(resultMap map[string]any) []string {
	content, ok := resultMap["content"].([]any)
	if !ok {
		return nil
	}
	var texts []string
	for _, c := range content {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if cm["type"] == "text" {
			if text, ok := cm["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}
	return texts
}
