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

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestMetricsRegistered verifies that all metrics are registered in the
// default registry without panicking.
func TestMetricsRegistered(t *testing.T) {
	// Vectors only surface after the first observation.
	RequestsTotal.WithLabelValues("final").Inc()
	RequestDuration.Observe(0.5)
	SourceCallsTotal.WithLabelValues("vector", "success").Inc()
	SourceLatency.WithLabelValues("vector").Observe(0.1)
	DocumentsRanked.Observe(3)
	ContextTokens.Observe(1024)
	GenerationRounds.Observe(2)
	ToolExecutionsTotal.WithLabelValues("search_web", "ok").Inc()
	ModelTokensTotal.WithLabelValues("gpt-4o").Add(100)
	ValidationsTotal.WithLabelValues("valid").Inc()
	StreamingConnections.Set(1)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"quaero_requests_total":               false,
		"quaero_request_duration_seconds":     false,
		"quaero_source_calls_total":           false,
		"quaero_source_latency_seconds":       false,
		"quaero_documents_ranked":             false,
		"quaero_context_tokens":               false,
		"quaero_generation_rounds":            false,
		"quaero_tool_executions_total":        false,
		"quaero_model_tokens_total":           false,
		"quaero_validations_total":            false,
		"quaero_streaming_connections_active": false,
	}

	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}

	for name, seen := range expected {
		if !seen {
			t.Errorf("metric %s not registered", name)
		}
	}
}
