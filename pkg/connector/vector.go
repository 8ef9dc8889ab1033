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

package connector

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kadirpekel/quaero/pkg/config"
	"github.com/kadirpekel/quaero/pkg/embedder"
	"github.com/kadirpekel/quaero/pkg/retrieval"
	"github.com/kadirpekel/quaero/pkg/vector"
)

// VectorConnector queries the vectorized document index. Indexed chunks
// carry sourcefile, sourcepage, reranker_score, and priority metadata
// written by the ingestion pipeline; all of it passes through opaque.
type VectorConnector struct {
	provider   vector.Provider
	embedder   embedder.Embedder
	collection string
	topK       int
}

// NewVectorConnector wires the index provider and the query embedder.
func NewVectorConnector(cfg *config.VectorSourceConfig, provider vector.Provider, emb embedder.Embedder) *VectorConnector {
	return &VectorConnector{
		provider:   provider,
		embedder:   emb,
		collection: cfg.Collection,
		topK:       cfg.TopK,
	}
}

func (c *VectorConnector) Kind() retrieval.SourceKind {
	return retrieval.SourceVector
}

func (c *VectorConnector) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.RetrievedItem, error) {
	queryVector, err := c.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, retrieval.ClassifyError(retrieval.SourceVector, fmt.Errorf("failed to embed query: %w", err))
	}

	topK := q.TopK
	if topK <= 0 {
		topK = c.topK
	}

	results, err := c.provider.SearchWithFilter(ctx, c.collection, queryVector, topK, q.Filters)
	if err != nil {
		return nil, retrieval.ClassifyError(retrieval.SourceVector, err)
	}

	items := make([]retrieval.RetrievedItem, 0, len(results))
	for _, r := range results {
		item := retrieval.RetrievedItem{
			Source:   retrieval.SourceVector,
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Score,
			Metadata: r.Metadata,
		}

		if s, ok := metaString(r.Metadata, "sourcefile"); ok {
			item.SourceFile = s
		}
		if s, ok := metaString(r.Metadata, "sourcepage"); ok {
			item.SourcePage = s
		}
		if f, ok := metaFloat(r.Metadata, "reranker_score"); ok {
			item.RerankerScore = f
			item.HasReranker = true
		}
		if n, ok := metaInt(r.Metadata, "priority"); ok {
			item.Priority = n
		}
		if item.Content == "" {
			if s, ok := metaString(r.Metadata, "content"); ok {
				item.Content = s
			}
		}

		items = append(items, item)
	}

	return items, nil
}

// Metadata values arrive as native types from Qdrant and as strings from
// chromem, so the readers accept both.

func metaString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func metaFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func metaInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

var _ Connector = (*VectorConnector)(nil)
