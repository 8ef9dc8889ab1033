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

// Package generator drives the model's answer and tool-call loop as an
// explicit finite state machine with a bounded round counter. Only the
// final round's text streams to the caller; intermediate rounds are
// recorded as thought steps.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/quaero/pkg/connector"
	"github.com/kadirpekel/quaero/pkg/llms"
	"github.com/kadirpekel/quaero/pkg/observability"
	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// State of the generation loop.
type State int

const (
	StateAwaitingModel State = iota
	StateExecutingTool
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTool:
		return "executing_tool"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const systemPrompt = `You are an assistant that answers questions using the numbered sources provided below. Each source starts with its citation label followed by a colon. Always cite the sources you used by wrapping their label in square brackets, for example [guide.pdf#4]. Priority markers like [P1] indicate curated trust tiers; prefer higher-trust sources (lower numbers) when sources disagree. If the sources do not contain the answer, use the available tools to look it up. If you still cannot answer, say so instead of guessing.`

const noGroundingPrompt = `You are an assistant answering from conversation context alone. No retrieval sources are available for this request. State clearly that your answer is not grounded in any retrieved documents.`

// ToolInvocation records one tool execution during generation.
type ToolInvocation struct {
	Round    int            `json:"round"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	Result   string         `json:"-"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Request is one generation job.
type Request struct {
	// History holds the caller's prior turns, oldest first.
	History []llms.Message

	// Query is the latest user question.
	Query string

	// Context is the rendered grounding context; may be empty.
	Context string

	// Tools are the callable sources for this request.
	Tools []connector.Tool

	// Trace receives per-round thought steps.
	Trace *retrieval.ThoughtTrace
}

// Result is the completed generation.
type Result struct {
	Answer          string
	ToolInvocations []ToolInvocation
	Tokens          int
}

// Generator runs bounded agentic generation loops.
type Generator struct {
	llm          llms.LLM
	maxRounds    int
	roundTimeout time.Duration
	tracer       *observability.Tracer

	// truncateResult bounds tool output fed back to the model.
	truncateResult int
}

// New builds a generator. maxRounds bounds the tool-call loop. A nil
// tracer disables per-round and per-tool spans.
func New(llm llms.LLM, maxRounds int, roundTimeout time.Duration, tracer *observability.Tracer) *Generator {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Generator{
		llm:            llm,
		maxRounds:      maxRounds,
		roundTimeout:   roundTimeout,
		tracer:         tracer,
		truncateResult: 16384,
	}
}

// Generate runs the loop. onDelta receives the final answer's text
// chunk-by-chunk; it is never called for intermediate rounds.
//
// Each round the model either finishes (text, no tool calls) or requests
// tools, whose results are appended to the working context before the
// next round. Exceeding the round budget fails with ToolLoopExceeded
// rather than looping on.
func (g *Generator) Generate(ctx context.Context, req Request, onDelta func(string)) (*Result, error) {
	toolIndex := make(map[string]connector.Tool, len(req.Tools))
	toolDefs := make([]llms.ToolDefinition, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolIndex[t.Name] = t
		toolDefs = append(toolDefs, llms.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	messages := g.buildMessages(req)

	result := &Result{}
	state := StateAwaitingModel

	for round := 1; round <= g.maxRounds; round++ {
		if state != StateAwaitingModel {
			break
		}

		text, toolCalls, tokens, err := g.runRound(ctx, round, messages, toolDefs, onDelta)
		result.Tokens += tokens
		if err != nil {
			return nil, classifyModelError(err)
		}

		if len(toolCalls) == 0 {
			state = StateDone
			result.Answer = text

			if req.Trace != nil {
				req.Trace.Append(retrieval.StageGeneration, "Answer produced",
					fmt.Sprintf("model finished after %d round(s)", round), nil)
			}
			return result, nil
		}

		state = StateExecutingTool

		// The intermediate text never reaches the caller.
		if req.Trace != nil && text != "" {
			req.Trace.Append(retrieval.StageGeneration, fmt.Sprintf("Round %d commentary", round), text, nil)
		}

		messages = append(messages, llms.Message{
			Role:      llms.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		})

		for _, tc := range toolCalls {
			inv := g.executeTool(ctx, toolIndex, tc, round)
			result.ToolInvocations = append(result.ToolInvocations, inv)

			if req.Trace != nil {
				req.Trace.Append(retrieval.StageToolCall, "Tool call: "+tc.Name,
					fmt.Sprintf("round %d, duration %s", round, inv.Duration), inv)
			}

			content := inv.Result
			if inv.Error != "" {
				content = "Tool error: " + inv.Error
			}
			messages = append(messages, llms.Message{
				Role:       llms.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
		}

		state = StateAwaitingModel
	}

	// Loop safety limit reached without a final answer.
	return nil, NewError(ErrToolLoopExceeded,
		fmt.Errorf("tool-call loop exceeded %d rounds", g.maxRounds))
}

// runRound executes one model round. Text deltas are buffered and only
// flushed through onDelta when the round turns out to be the final one.
func (g *Generator) runRound(ctx context.Context, round int, messages []llms.Message, tools []llms.ToolDefinition, onDelta func(string)) (string, []llms.ToolCall, int, error) {
	roundCtx := ctx
	if g.roundTimeout > 0 {
		var cancel context.CancelFunc
		roundCtx, cancel = context.WithTimeout(ctx, g.roundTimeout)
		defer cancel()
	}

	roundCtx, span := g.tracer.StartGenerationRound(roundCtx, g.llm.ModelName(), round)
	defer span.End()

	stream, err := g.llm.GenerateStreaming(roundCtx, messages, tools)
	if err != nil {
		return "", nil, 0, err
	}

	var (
		buffered  []string
		text      strings.Builder
		toolCalls []llms.ToolCall
		tokens    int
	)

	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkText:
			buffered = append(buffered, chunk.Text)
			text.WriteString(chunk.Text)
		case llms.ChunkToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case llms.ChunkDone:
			tokens = chunk.Tokens
		case llms.ChunkError:
			return "", nil, tokens, chunk.Error
		}
	}

	if err := roundCtx.Err(); err != nil {
		return "", nil, tokens, err
	}

	// Final round: replay the buffered text to the caller in the chunks
	// the model produced.
	if len(toolCalls) == 0 && onDelta != nil {
		for _, delta := range buffered {
			onDelta(delta)
		}
	}

	return text.String(), toolCalls, tokens, nil
}

func (g *Generator) executeTool(ctx context.Context, toolIndex map[string]connector.Tool, tc llms.ToolCall, round int) ToolInvocation {
	inv := ToolInvocation{
		Round: round,
		Name:  tc.Name,
		Args:  tc.Args,
	}

	tool, ok := toolIndex[tc.Name]
	if !ok {
		inv.Error = fmt.Sprintf("unknown tool: %s", tc.Name)
		return inv
	}

	toolCtx, span := g.tracer.StartToolExecution(ctx, tc.Name)
	defer span.End()

	started := time.Now()
	result, err := tool.Invoke(toolCtx, tc.Args)
	inv.Duration = time.Since(started)

	if err != nil {
		g.tracer.RecordError(span, err)
		// Tool failures feed back to the model, which may recover by
		// trying another source or answering without it.
		inv.Error = err.Error()
		slog.Warn("Tool execution failed",
			"tool", tc.Name,
			"round", round,
			"error", err)
		return inv
	}

	if len(result) > g.truncateResult {
		result = result[:g.truncateResult] + "\n[output truncated]"
	}
	inv.Result = result
	return inv
}

func (g *Generator) buildMessages(req Request) []llms.Message {
	prompt := systemPrompt
	if req.Context == "" && len(req.Tools) == 0 {
		prompt = noGroundingPrompt
	}

	messages := make([]llms.Message, 0, len(req.History)+3)
	messages = append(messages, llms.Message{Role: llms.RoleSystem, Content: prompt})
	messages = append(messages, req.History...)

	if req.Context != "" {
		messages = append(messages, llms.Message{
			Role:    llms.RoleSystem,
			Content: "Sources:\n\n" + req.Context,
		})
	}

	messages = append(messages, llms.Message{Role: llms.RoleUser, Content: req.Query})
	return messages
}
