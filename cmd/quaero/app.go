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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/quaero/pkg/auth"
	"github.com/kadirpekel/quaero/pkg/config"
	"github.com/kadirpekel/quaero/pkg/connector"
	"github.com/kadirpekel/quaero/pkg/connector/knowledge"
	"github.com/kadirpekel/quaero/pkg/contextbuilder"
	"github.com/kadirpekel/quaero/pkg/embedder"
	"github.com/kadirpekel/quaero/pkg/engine"
	"github.com/kadirpekel/quaero/pkg/fanout"
	"github.com/kadirpekel/quaero/pkg/generator"
	"github.com/kadirpekel/quaero/pkg/llms"
	"github.com/kadirpekel/quaero/pkg/observability"
	"github.com/kadirpekel/quaero/pkg/selector"
	"github.com/kadirpekel/quaero/pkg/validator"
	"github.com/kadirpekel/quaero/pkg/vector"
)

// app holds the wired pipeline and everything that needs teardown.
type app struct {
	engine  *engine.Engine
	tracer  *observability.Tracer
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Cleanup failed", "error", err)
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			slog.Warn("Tracer shutdown failed", "error", err)
		}
	}
}

// buildApp wires the pipeline from configuration.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	tracer, err := observability.NewTracer(ctx, &cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.tracer = tracer

	llm, err := llms.New(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}

	sources, handle, err := buildSources(cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	builder, err := contextbuilder.New()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create context builder: %w", err)
	}

	sel := selector.New(sources, cfg.Sources.Knowledge.ExtraKeywords(), cfg.Sources.Vector.TopK)

	eng, err := engine.New(cfg.Engine, engine.Deps{
		Selector:  sel,
		Executor:  fanout.New(cfg.Engine.ConnectorTimeout, tracer),
		Builder:   builder,
		Generator: generator.New(llm, cfg.Engine.MaxRounds, cfg.Engine.RoundTimeout, tracer),
		Validator: validator.New(llm),
		Handle:    handle,
		Tracer:    tracer,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = eng
	return a, nil
}

// buildSources wires the enabled connectors.
func buildSources(cfg *config.Config, a *app) (selector.Sources, *knowledge.Handle, error) {
	var sources selector.Sources
	var handle *knowledge.Handle

	if cfg.Sources.Vector.IsEnabled() {
		emb, err := embedder.New(&cfg.Embedder)
		if err != nil {
			return sources, nil, fmt.Errorf("failed to create embedder: %w", err)
		}

		provider, err := vector.New(&cfg.Sources.Vector)
		if err != nil {
			return sources, nil, fmt.Errorf("failed to create vector store: %w", err)
		}
		a.closers = append(a.closers, provider.Close)

		sources.Vector = connector.NewVectorConnector(&cfg.Sources.Vector, provider, emb)
		slog.Info("Vector source enabled", "store", provider.Name(), "collection", cfg.Sources.Vector.Collection)
	}

	if cfg.Sources.Web.Enabled {
		sources.Web = connector.NewWebConnector(&cfg.Sources.Web)
		slog.Info("Web source enabled", "endpoint", cfg.Sources.Web.Endpoint)
	}

	if cfg.Sources.Repository.Enabled {
		repo, err := connector.NewRepositoryConnector(&cfg.Sources.Repository)
		if err != nil {
			return sources, nil, fmt.Errorf("failed to connect repository: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		sources.Repository = repo
		slog.Info("Repository source enabled", "driver", cfg.Sources.Repository.Driver)
	}

	if cfg.Sources.Knowledge.Enabled {
		kcfg := knowledge.Config{
			URL:       cfg.Sources.Knowledge.URL,
			Transport: cfg.Sources.Knowledge.Transport,
			Command:   cfg.Sources.Knowledge.Command,
			Args:      cfg.Sources.Knowledge.Args,
			Timeout:   time.Duration(cfg.Sources.Knowledge.Timeout) * time.Second,
		}
		if kcfg.Transport == "streamable-http" {
			if cfg.Auth.IdentityEndpoint == "" {
				return sources, nil, fmt.Errorf("auth.identity_endpoint is required for the knowledge source")
			}
			kcfg.TokenSource = auth.NewTokenSource(cfg.Auth.IdentityEndpoint, cfg.Auth.Audience)
		}

		h, err := knowledge.NewHandle(kcfg)
		if err != nil {
			return sources, nil, fmt.Errorf("failed to create knowledge handle: %w", err)
		}
		a.closers = append(a.closers, h.Close)
		handle = h
		sources.KnowledgeTools = h
		sources.KnowledgePrefetch = knowledge.NewConnector(h)
		slog.Info("Knowledge source enabled", "transport", kcfg.Transport)
	}

	return sources, handle, nil
}
