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

package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/quaero/pkg/connector"
	"github.com/kadirpekel/quaero/pkg/llms"
	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// scriptedRound is one round of fake model output.
type scriptedRound struct {
	texts     []string
	toolCalls []llms.ToolCall
	err       error
}

// fakeLLM replays scripted rounds. Rounds past the script repeat the
// last entry.
type fakeLLM struct {
	rounds   []scriptedRound
	round    int
	messages [][]llms.Message
}

func (f *fakeLLM) nextRound() scriptedRound {
	i := f.round
	if i >= len(f.rounds) {
		i = len(f.rounds) - 1
	}
	f.round++
	return f.rounds[i]
}

func (f *fakeLLM) GenerateStreaming(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	f.messages = append(f.messages, messages)
	r := f.nextRound()

	ch := make(chan llms.StreamChunk)
	go func() {
		defer close(ch)
		if r.err != nil {
			ch <- llms.StreamChunk{Type: llms.ChunkError, Error: r.err}
			return
		}
		for _, text := range r.texts {
			ch <- llms.StreamChunk{Type: llms.ChunkText, Text: text}
		}
		for i := range r.toolCalls {
			ch <- llms.StreamChunk{Type: llms.ChunkToolCall, ToolCall: &r.toolCalls[i]}
		}
		ch <- llms.StreamChunk{Type: llms.ChunkDone, Tokens: 10}
	}()
	return ch, nil
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (string, []llms.ToolCall, int, error) {
	r := f.nextRound()
	return strings.Join(r.texts, ""), r.toolCalls, 10, r.err
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, messages []llms.Message, schema map[string]any) (string, error) {
	return "", nil
}

func (f *fakeLLM) ModelName() string { return "fake" }

func searchTool(name string, invoke func(ctx context.Context, args map[string]any) (string, error)) connector.Tool {
	return connector.Tool{
		Name:        name,
		Description: "test tool",
		Parameters:  map[string]any{"type": "object"},
		Invoke:      invoke,
	}
}

func TestGenerate_DirectAnswerStreams(t *testing.T) {
	llm := &fakeLLM{rounds: []scriptedRound{
		{texts: []string{"The answer ", "is 42."}},
	}}
	g := New(llm, 6, time.Minute, nil)

	var deltas []string
	result, err := g.Generate(context.Background(), Request{Query: "q", Context: "src: content"}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if result.Answer != "The answer is 42." {
		t.Errorf("answer = %q", result.Answer)
	}
	// Deltas replay in the model's original chunking.
	if len(deltas) != 2 || deltas[0] != "The answer " || deltas[1] != "is 42." {
		t.Errorf("deltas = %v", deltas)
	}
	if result.Tokens != 10 {
		t.Errorf("tokens = %d, want 10", result.Tokens)
	}
}

func TestGenerate_ToolRoundThenAnswer(t *testing.T) {
	llm := &fakeLLM{rounds: []scriptedRound{
		{
			texts:     []string{"Let me search."},
			toolCalls: []llms.ToolCall{{ID: "call-1", Name: "search_web", Args: map[string]any{"query": "q"}}},
		},
		{texts: []string{"Found it."}},
	}}
	g := New(llm, 6, time.Minute, nil)

	invoked := false
	tool := searchTool("search_web", func(ctx context.Context, args map[string]any) (string, error) {
		invoked = true
		return "[web result] content", nil
	})

	trace := retrieval.NewThoughtTrace()
	var deltas []string
	result, err := g.Generate(context.Background(), Request{
		Query: "q",
		Tools: []connector.Tool{tool},
		Trace: trace,
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !invoked {
		t.Fatal("tool was never invoked")
	}
	if result.Answer != "Found it." {
		t.Errorf("answer = %q", result.Answer)
	}

	// Only the final round streams; round 1 commentary stays internal.
	if strings.Join(deltas, "") != "Found it." {
		t.Errorf("streamed %q, want only the final round", strings.Join(deltas, ""))
	}

	// The tool result went back to the model as a tool-role message.
	lastRound := llm.messages[len(llm.messages)-1]
	var sawToolMsg bool
	for _, m := range lastRound {
		if m.Role == llms.RoleTool && m.ToolCallID == "call-1" {
			sawToolMsg = true
			if !strings.Contains(m.Content, "[web result]") {
				t.Errorf("tool message content = %q", m.Content)
			}
		}
	}
	if !sawToolMsg {
		t.Error("no tool-role message fed back to the model")
	}

	if len(result.ToolInvocations) != 1 || result.ToolInvocations[0].Name != "search_web" {
		t.Errorf("tool invocations = %+v", result.ToolInvocations)
	}

	var toolSteps int
	for _, step := range trace.Steps() {
		if step.Stage == retrieval.StageToolCall {
			toolSteps++
		}
	}
	if toolSteps != 1 {
		t.Errorf("trace tool steps = %d, want 1", toolSteps)
	}
}

func TestGenerate_ToolLoopExceeded(t *testing.T) {
	// Every round demands another tool call.
	llm := &fakeLLM{rounds: []scriptedRound{
		{toolCalls: []llms.ToolCall{{ID: "c", Name: "search_web", Args: map[string]any{"query": "q"}}}},
	}}
	g := New(llm, 3, time.Minute, nil)

	tool := searchTool("search_web", func(ctx context.Context, args map[string]any) (string, error) {
		return "more", nil
	})

	_, err := g.Generate(context.Background(), Request{Query: "q", Tools: []connector.Tool{tool}}, nil)
	if err == nil {
		t.Fatal("expected ToolLoopExceeded, got nil")
	}

	var genErr *Error
	if !errors.As(err, &genErr) || genErr.Kind != ErrToolLoopExceeded {
		t.Errorf("error = %v, want kind %s", err, ErrToolLoopExceeded)
	}
	if llm.round != 3 {
		t.Errorf("model rounds = %d, want exactly 3", llm.round)
	}
}

func TestGenerate_ToolFailureFeedsBack(t *testing.T) {
	llm := &fakeLLM{rounds: []scriptedRound{
		{toolCalls: []llms.ToolCall{{ID: "c1", Name: "search_web", Args: map[string]any{"query": "q"}}}},
		{texts: []string{"Answer without that source."}},
	}}
	g := New(llm, 6, time.Minute, nil)

	tool := searchTool("search_web", func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("upstream 503")
	})

	result, err := g.Generate(context.Background(), Request{Query: "q", Tools: []connector.Tool{tool}}, nil)
	if err != nil {
		t.Fatalf("tool failure must not fail the request: %v", err)
	}
	if result.Answer != "Answer without that source." {
		t.Errorf("answer = %q", result.Answer)
	}

	lastRound := llm.messages[len(llm.messages)-1]
	var sawError bool
	for _, m := range lastRound {
		if m.Role == llms.RoleTool && strings.Contains(m.Content, "Tool error: upstream 503") {
			sawError = true
		}
	}
	if !sawError {
		t.Error("tool error was not fed back to the model")
	}
}

func TestGenerate_UnknownTool(t *testing.T) {
	llm := &fakeLLM{rounds: []scriptedRound{
		{toolCalls: []llms.ToolCall{{ID: "c1", Name: "does_not_exist"}}},
		{texts: []string{"ok"}},
	}}
	g := New(llm, 6, time.Minute, nil)

	result, err := g.Generate(context.Background(), Request{Query: "q"}, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(result.ToolInvocations) != 1 || result.ToolInvocations[0].Error == "" {
		t.Errorf("unknown tool should record an invocation error: %+v", result.ToolInvocations)
	}
}

func TestGenerate_ModelErrorClassification(t *testing.T) {
	llm := &fakeLLM{rounds: []scriptedRound{
		{err: errors.New("response blocked by content_filter policy")},
	}}
	g := New(llm, 6, time.Minute, nil)

	_, err := g.Generate(context.Background(), Request{Query: "q"}, nil)
	var genErr *Error
	if !errors.As(err, &genErr) || genErr.Kind != ErrContentFiltered {
		t.Errorf("error = %v, want kind %s", err, ErrContentFiltered)
	}
}

func TestGenerate_NoGroundingPrompt(t *testing.T) {
	llm := &fakeLLM{rounds: []scriptedRound{{texts: []string{"I have no sources."}}}}
	g := New(llm, 6, time.Minute, nil)

	_, err := g.Generate(context.Background(), Request{Query: "q"}, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	system := llm.messages[0][0]
	if system.Role != llms.RoleSystem || !strings.Contains(system.Content, "not grounded") {
		t.Errorf("missing no-grounding system prompt: %q", system.Content)
	}
}

func TestGenerate_TruncatesLongToolOutput(t *testing.T) {
	llm := &fakeLLM{rounds: []scriptedRound{
		{toolCalls: []llms.ToolCall{{ID: "c1", Name: "search_web", Args: map[string]any{"query": "q"}}}},
		{texts: []string{"done"}},
	}}
	g := New(llm, 6, time.Minute, nil)
	g.truncateResult = 100

	tool := searchTool("search_web", func(ctx context.Context, args map[string]any) (string, error) {
		return strings.Repeat("x", 1000), nil
	})

	result, err := g.Generate(context.Background(), Request{Query: "q", Tools: []connector.Tool{tool}}, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := result.ToolInvocations[0].Result; len(got) > 200 || !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("tool output not truncated: %d bytes", len(got))
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateAwaitingModel: "awaiting_model",
		StateExecutingTool: "executing_tool",
		StateDone:          "done",
		StateFailed:        "failed",
		State(99):          "unknown",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
