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

// Package fanout runs the eagerly selected connectors concurrently with
// per-connector timeouts and failure isolation. All calls are joined; a
// failed connector contributes zero items and a failed invocation record
// but never aborts the request.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/quaero/pkg/connector"
	"github.com/kadirpekel/quaero/pkg/observability"
	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// Result is the joined outcome of one fan-out.
type Result struct {
	Items       []retrieval.RetrievedItem
	Invocations []retrieval.SourceInvocation
}

// Executor fans out connector calls.
type Executor struct {
	timeout time.Duration
	tracer  *observability.Tracer
}

// New builds an executor with the per-connector timeout. A nil tracer
// disables per-source spans.
func New(timeout time.Duration, tracer *observability.Tracer) *Executor {
	return &Executor{timeout: timeout, tracer: tracer}
}

// Execute runs every connector concurrently and joins them. Items keep
// per-connector retrieval order, concatenated in the connectors' given
// order so downstream stable sorting is deterministic.
func (e *Executor) Execute(ctx context.Context, connectors []connector.Connector, q retrieval.Query) Result {
	if len(connectors) == 0 {
		return Result{}
	}

	type slot struct {
		items      []retrieval.RetrievedItem
		invocation retrieval.SourceInvocation
	}
	slots := make([]slot, len(connectors))

	g, ctx := errgroup.WithContext(ctx)
	for i, c := range connectors {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			callCtx, span := e.tracer.StartSourceCall(callCtx, string(c.Kind()))
			defer span.End()

			started := time.Now()
			items, err := c.Retrieve(callCtx, q)
			finished := time.Now()

			inv := retrieval.SourceInvocation{
				Source:     c.Kind(),
				Query:      q.Text,
				StartedAt:  started,
				FinishedAt: finished,
				ItemCount:  len(items),
			}

			if err != nil {
				ce := retrieval.ClassifyError(c.Kind(), err)
				e.tracer.RecordError(span, ce)
				inv.Status = retrieval.InvocationFailure
				if ce.Kind == retrieval.ErrTimeout || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
					inv.Status = retrieval.InvocationTimeout
				}
				inv.Error = ce.Error()
				inv.ItemCount = 0

				slog.Warn("Connector failed during fan-out",
					"source", c.Kind(),
					"kind", ce.Kind,
					"duration", finished.Sub(started),
					"error", ce.Err)
			} else {
				inv.Status = retrieval.InvocationSuccess
				slots[i].items = items
			}

			slots[i].invocation = inv
			// Failures are isolated: never propagate so sibling calls run
			// to completion.
			return nil
		})
	}
	_ = g.Wait()

	var out Result
	for _, s := range slots {
		out.Items = append(out.Items, s.items...)
		out.Invocations = append(out.Invocations, s.invocation)
	}
	return out
}
