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

package vector

import (
	"context"
	"testing"

	"github.com/kadirpekel/quaero/pkg/config"
)

func newChromem(t *testing.T) *ChromemProvider {
	t.Helper()
	p, err := NewChromemProvider(ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemProvider failed: %v", err)
	}
	return p
}

func TestChromemProvider_UpsertAndSearch(t *testing.T) {
	p := newChromem(t)
	defer p.Close()
	ctx := context.Background()

	if err := p.Upsert(ctx, "docs", "rollout", []float32{1, 0, 0},
		map[string]any{"content": "rollout guide", "team": "platform"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := p.Upsert(ctx, "docs", "billing", []float32{0, 1, 0},
		map[string]any{"content": "billing faq", "team": "finance"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := p.Search(ctx, "docs", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ID != "rollout" {
		t.Errorf("nearest = %q, want rollout", results[0].ID)
	}
	if results[0].Content != "rollout guide" {
		t.Errorf("content = %q", results[0].Content)
	}
	if results[0].Metadata["team"] != "platform" {
		t.Errorf("metadata = %v", results[0].Metadata)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not ordered by similarity")
	}
}

func TestChromemProvider_SearchWithFilter(t *testing.T) {
	p := newChromem(t)
	defer p.Close()
	ctx := context.Background()

	if err := p.Upsert(ctx, "docs", "a", []float32{1, 0, 0},
		map[string]any{"content": "platform doc", "team": "platform"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := p.Upsert(ctx, "docs", "b", []float32{0.9, 0.1, 0},
		map[string]any{"content": "finance doc", "team": "finance"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := p.SearchWithFilter(ctx, "docs", []float32{1, 0, 0}, 1,
		map[string]any{"team": "finance"})
	if err != nil {
		t.Fatalf("SearchWithFilter failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Errorf("filtered results = %v, want only b", results)
	}
}

func TestChromemProvider_DeleteRemovesDocument(t *testing.T) {
	p := newChromem(t)
	defer p.Close()
	ctx := context.Background()

	if err := p.Upsert(ctx, "docs", "gone", []float32{1, 0, 0},
		map[string]any{"content": "ephemeral"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := p.Upsert(ctx, "docs", "kept", []float32{0, 1, 0},
		map[string]any{"content": "durable"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := p.Delete(ctx, "docs", "gone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	results, err := p.Search(ctx, "docs", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search after delete failed: %v", err)
	}
	for _, r := range results {
		if r.ID == "gone" {
			t.Error("deleted document still returned")
		}
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
}

func TestChromemProvider_EmptyCollection(t *testing.T) {
	p := newChromem(t)
	defer p.Close()

	results, err := p.Search(context.Background(), "empty", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search on empty collection failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestNew_UnsupportedStore(t *testing.T) {
	if _, err := New(&config.VectorSourceConfig{Store: "bogus"}); err == nil {
		t.Error("unsupported store must be rejected")
	}
}
