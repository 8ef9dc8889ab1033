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

// Package llms provides the model provider abstraction: streaming chat
// completions with function calling, plus structured output for the
// validator's single-shot check.
package llms

import (
	"context"
	"fmt"

	"github.com/kadirpekel/quaero/pkg/config"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of the model conversation.
type Message struct {
	Role    string
	Content string

	// ToolCalls on an assistant message the model produced.
	ToolCalls []ToolCall

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolDefinition describes a callable function to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Stream chunk types.
const (
	ChunkText     = "text"
	ChunkToolCall = "tool_call"
	ChunkDone     = "done"
	ChunkError    = "error"
)

// StreamChunk is one unit of streaming model output.
type StreamChunk struct {
	Type     string
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Error    error
}

// LLM is the model provider contract.
type LLM interface {
	// Generate runs one non-streaming completion. Returns the text, any
	// tool calls, and total tokens used.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, int, error)

	// GenerateStreaming runs one streaming completion. The channel is
	// closed after a done or error chunk.
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	// GenerateStructured runs one non-streaming completion constrained
	// to the given JSON schema, at temperature zero.
	GenerateStructured(ctx context.Context, messages []Message, schema map[string]any) (string, error)

	// ModelName identifies the configured model.
	ModelName() string
}

// New builds a provider from configuration.
func New(cfg *config.LLMConfig) (LLM, error) {
	switch cfg.Type {
	case "", "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm type: %s", cfg.Type)
	}
}
