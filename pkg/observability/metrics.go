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

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts answer requests by terminal outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quaero_requests_total",
			Help: "Total answer requests",
		},
		[]string{"status"},
	)

	// RequestDuration records end-to-end request duration in seconds.
	RequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quaero_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
	)

	// SourceCallsTotal counts connector invocations by source and status.
	SourceCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quaero_source_calls_total",
			Help: "Connector invocations",
		},
		[]string{"source", "status"},
	)

	// SourceLatency records per-connector retrieval latency in seconds.
	SourceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quaero_source_latency_seconds",
			Help:    "Connector latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// DocumentsRanked records how many documents survive filtering per request.
	DocumentsRanked = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quaero_documents_ranked",
			Help:    "Documents entering the ranked fusion output",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	// ContextTokens records how many tokens the assembled context consumed.
	ContextTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quaero_context_tokens",
			Help:    "Tokens consumed by the citation context",
			Buckets: []float64{128, 256, 512, 1024, 2048, 4096, 8192, 16384},
		},
	)

	// GenerationRounds records how many model rounds a request took.
	GenerationRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quaero_generation_rounds",
			Help:    "Model rounds per request",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quaero_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// ModelTokensTotal counts tokens reported by the model API.
	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quaero_model_tokens_total",
			Help: "Token count",
		},
		[]string{"model"},
	)

	// ValidationsTotal counts validator outcomes. The "skipped" status covers
	// fail-open results where the validator could not produce a verdict.
	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quaero_validations_total",
			Help: "Validator outcomes",
		},
		[]string{"status"},
	)

	// StreamingConnections tracks the number of active answer streams.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quaero_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SourceCallsTotal,
		SourceLatency,
		DocumentsRanked,
		ContextTokens,
		GenerationRounds,
		ToolExecutionsTotal,
		ModelTokensTotal,
		ValidationsTotal,
		StreamingConnections,
	)
}
