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

// Package engine orchestrates the retrieval and answer pipeline: source
// selection, concurrent fan-out, ranked fusion, context assembly, the
// bounded generation loop, and answer validation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/quaero/pkg/config"
	"github.com/kadirpekel/quaero/pkg/connector/knowledge"
	"github.com/kadirpekel/quaero/pkg/contextbuilder"
	"github.com/kadirpekel/quaero/pkg/fanout"
	"github.com/kadirpekel/quaero/pkg/generator"
	"github.com/kadirpekel/quaero/pkg/llms"
	"github.com/kadirpekel/quaero/pkg/observability"
	"github.com/kadirpekel/quaero/pkg/ranking"
	"github.com/kadirpekel/quaero/pkg/retrieval"
	"github.com/kadirpekel/quaero/pkg/selector"
	"github.com/kadirpekel/quaero/pkg/validator"
)

// ErrRequestTimeout reports that the overall request deadline expired
// before the pipeline produced an answer.
var ErrRequestTimeout = errors.New("request timed out")

// EventType discriminates streamed events.
type EventType string

const (
	EventDelta EventType = "delta"
	EventFinal EventType = "final"
	EventError EventType = "error"
)

// Event is one streamed pipeline output. Delta events carry answer text
// chunk-by-chunk; exactly one Final or Error event terminates the stream.
type Event struct {
	Type  EventType `json:"type"`
	Delta string    `json:"delta,omitempty"`
	Final *Answer   `json:"final,omitempty"`
	Error string    `json:"error,omitempty"`
}

// Answer is the terminal envelope of a successful request.
type Answer struct {
	Answer          string                       `json:"answer"`
	Documents       []retrieval.Document         `json:"documents"`
	Invocations     []retrieval.SourceInvocation `json:"invocations"`
	ToolInvocations []generator.ToolInvocation   `json:"tool_invocations,omitempty"`
	Validation      *validator.Result            `json:"validation,omitempty"`
	Trace           []retrieval.ThoughtStep      `json:"trace"`
	Tokens          int                          `json:"tokens"`
}

// Request is one question to answer.
type Request struct {
	// Query is the user's question. Required.
	Query string

	// History holds prior conversation turns, oldest first.
	History []llms.Message

	// Overrides switch individual sources on or off for this request.
	Overrides selector.Overrides

	// AccessGroups are the caller's entitlement claims, taken from the
	// verified token. Nil means public access only.
	AccessGroups []string

	// Validate overrides the configured validation default when set.
	Validate *bool
}

// Engine runs the pipeline.
type Engine struct {
	selector  *selector.Selector
	executor  *fanout.Executor
	builder   *contextbuilder.Builder
	generator *generator.Generator
	validator *validator.Validator
	handle    *knowledge.Handle
	tracer    *observability.Tracer
	cfg       config.EngineConfig
}

// Deps are the wired pipeline stages. Validator, handle, and tracer are
// optional.
type Deps struct {
	Selector  *selector.Selector
	Executor  *fanout.Executor
	Builder   *contextbuilder.Builder
	Generator *generator.Generator
	Validator *validator.Validator
	Handle    *knowledge.Handle
	Tracer    *observability.Tracer
}

// New builds an engine.
func New(cfg config.EngineConfig, deps Deps) (*Engine, error) {
	if deps.Selector == nil || deps.Executor == nil || deps.Builder == nil || deps.Generator == nil {
		return nil, fmt.Errorf("selector, executor, builder, and generator are required")
	}
	return &Engine{
		selector:  deps.Selector,
		executor:  deps.Executor,
		builder:   deps.Builder,
		generator: deps.Generator,
		validator: deps.Validator,
		handle:    deps.Handle,
		tracer:    deps.Tracer,
		cfg:       cfg,
	}, nil
}

// Ask runs the pipeline for one request. The returned channel streams
// delta events for the final answer and closes after exactly one final
// or error event. Canceling ctx aborts every in-flight stage.
func (e *Engine) Ask(ctx context.Context, req Request) (<-chan Event, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		e.run(ctx, req, events)
	}()
	return events, nil
}

func (e *Engine) run(ctx context.Context, req Request, events chan<- Event) {
	started := time.Now()
	requestID := uuid.NewString()
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	reqCtx, span := e.tracer.Start(reqCtx, observability.SpanAsk)
	defer span.End()

	if e.handle != nil {
		e.handle.Acquire()
		defer e.handle.Release()
	}

	trace := retrieval.NewThoughtTrace()

	answer, err := e.pipeline(reqCtx, req, trace, func(delta string) {
		e.emit(reqCtx, events, Event{Type: EventDelta, Delta: delta})
	})

	observability.RequestDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		// The overall deadline surfaces as a typed timeout, not as
		// whichever stage error it happened to interrupt. Terminal
		// events go out on the caller's context, which outlives the
		// expired request deadline.
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrRequestTimeout, e.cfg.RequestTimeout)
		}
		observability.RequestsTotal.WithLabelValues("error").Inc()
		e.tracer.RecordError(span, err)
		slog.Error("Request failed", "request_id", requestID, "error", err, "duration", time.Since(started))
		e.emit(ctx, events, Event{Type: EventError, Error: err.Error()})
		return
	}

	observability.RequestsTotal.WithLabelValues("final").Inc()
	slog.Info("Request completed",
		"request_id", requestID,
		"documents", len(answer.Documents),
		"tool_calls", len(answer.ToolInvocations),
		"tokens", answer.Tokens,
		"duration", time.Since(started))
	e.emit(ctx, events, Event{Type: EventFinal, Final: answer})
}

func (e *Engine) pipeline(ctx context.Context, req Request, trace *retrieval.ThoughtTrace, onDelta func(string)) (*Answer, error) {
	// Stage 1: source selection.
	selCtx, selSpan := e.tracer.Start(ctx, observability.SpanSelection)
	selection := e.selector.Select(selCtx, req.Query, req.Overrides, req.AccessGroups)
	selSpan.End()

	eagerNames := make([]string, 0, len(selection.Eager))
	for _, c := range selection.Eager {
		eagerNames = append(eagerNames, string(c.Kind()))
	}
	toolNames := make([]string, 0, len(selection.Tools))
	for _, t := range selection.Tools {
		toolNames = append(toolNames, t.Name)
	}
	trace.Append(retrieval.StageSelection, "Selected sources",
		fmt.Sprintf("eager: %v, tools: %v", eagerNames, toolNames),
		map[string]any{"eager": eagerNames, "tools": toolNames})

	// Stage 2: concurrent retrieval.
	query := retrieval.Query{
		Text:         req.Query,
		AccessGroups: req.AccessGroups,
	}
	retCtx, retSpan := e.tracer.Start(ctx, observability.SpanRetrieval)
	fanned := e.executor.Execute(retCtx, selection.Eager, query)
	retSpan.End()

	for _, inv := range fanned.Invocations {
		observability.SourceCallsTotal.WithLabelValues(string(inv.Source), string(inv.Status)).Inc()
		observability.SourceLatency.WithLabelValues(string(inv.Source)).Observe(inv.FinishedAt.Sub(inv.StartedAt).Seconds())
		trace.Append(retrieval.StageRetrieval, "Queried "+string(inv.Source),
			fmt.Sprintf("status: %s, items: %d", inv.Status, inv.ItemCount), inv)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 3: ranked fusion.
	_, rankSpan := e.tracer.Start(ctx, observability.SpanRanking)
	docs := ranking.Rank(fanned.Items, e.cfg.MinScore, e.cfg.MinRerankerScore)
	rankSpan.End()
	observability.DocumentsRanked.Observe(float64(len(docs)))
	trace.Append(retrieval.StageRanking, "Ranked results",
		fmt.Sprintf("%d items fused into %d documents", len(fanned.Items), len(docs)),
		map[string]any{"input": len(fanned.Items), "output": len(docs)})

	// Stage 4: context assembly.
	_, ctxSpan := e.tracer.Start(ctx, observability.SpanContext)
	built := e.builder.Build(docs, e.cfg.TokenBudget)
	ctxSpan.End()
	contextTokens := e.builder.CountTokens(built.Context)
	observability.ContextTokens.Observe(float64(contextTokens))
	trace.Append(retrieval.StageContext, "Assembled context",
		fmt.Sprintf("%d of %d documents within %d token budget",
			len(built.Citations), len(docs), e.cfg.TokenBudget),
		map[string]any{"included": len(built.Citations), "tokens": contextTokens})

	// Stage 5: bounded generation with final-round streaming.
	genResult, err := e.generator.Generate(ctx, generator.Request{
		History: req.History,
		Query:   req.Query,
		Context: built.Context,
		Tools:   selection.Tools,
		Trace:   trace,
	}, onDelta)
	if err != nil {
		return nil, err
	}

	for _, inv := range genResult.ToolInvocations {
		status := "ok"
		if inv.Error != "" {
			status = "error"
		}
		observability.ToolExecutionsTotal.WithLabelValues(inv.Name, status).Inc()
	}
	observability.GenerationRounds.Observe(float64(countStage(trace, retrieval.StageGeneration)))

	answer := &Answer{
		Answer:          genResult.Answer,
		Documents:       docs,
		Invocations:     fanned.Invocations,
		ToolInvocations: genResult.ToolInvocations,
		Tokens:          genResult.Tokens,
	}

	// Stage 6: validation, fail open.
	if e.shouldValidate(req) {
		answer.Validation = e.validate(ctx, req.Query, genResult.Answer, built.Context, trace, answer)
	}

	answer.Trace = trace.Steps()
	return answer, nil
}

// validate runs the second-pass check. A corrected answer replaces the
// generated one in the envelope; the original survives only in the trace.
func (e *Engine) validate(ctx context.Context, query, generated, contextString string, trace *retrieval.ThoughtTrace, answer *Answer) *validator.Result {
	valCtx, valSpan := e.tracer.Start(ctx, observability.SpanValidation)
	defer valSpan.End()

	result := e.validator.Validate(valCtx, query, generated, contextString)
	if result == nil {
		observability.ValidationsTotal.WithLabelValues("skipped").Inc()
		trace.Append(retrieval.StageValidation, "Validation skipped",
			"validator produced no verdict, answer delivered as generated", nil)
		return nil
	}

	status := "valid"
	if !result.IsValid {
		status = "invalid"
		if result.CorrectedAnswer != "" && result.CorrectedAnswer != generated {
			answer.Answer = result.CorrectedAnswer
			trace.Append(retrieval.StageValidation, "Answer corrected",
				fmt.Sprintf("validator replaced the answer (confidence %.2f)", result.Confidence),
				map[string]any{"original": generated, "issues": result.Issues})
			observability.ValidationsTotal.WithLabelValues("corrected").Inc()
			return result
		}
	}
	observability.ValidationsTotal.WithLabelValues(status).Inc()
	trace.Append(retrieval.StageValidation, "Answer validated",
		fmt.Sprintf("valid: %t, confidence %.2f", result.IsValid, result.Confidence), result)
	return result
}

func (e *Engine) shouldValidate(req Request) bool {
	if e.validator == nil {
		return false
	}
	if req.Validate != nil {
		return *req.Validate
	}
	return e.cfg.ValidateAnswers
}

// emit sends without blocking a disconnected caller.
func (e *Engine) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func countStage(trace *retrieval.ThoughtTrace, stage string) int {
	n := 0
	for _, step := range trace.Steps() {
		if step.Stage == stage {
			n++
		}
	}
	return n
}
