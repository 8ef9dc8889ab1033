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

package contextbuilder

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kadirpekel/quaero/pkg/retrieval"
)

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

func TestBuild_IncludesWholeDocumentsInOrder(t *testing.T) {
	b := newBuilder(t)

	docs := []retrieval.Document{
		{Citation: "a.md", Content: "first document", Priority: 1},
		{Citation: "b.md", Content: "second document", Priority: retrieval.PriorityUnset},
	}

	result := b.Build(docs, 1000)

	if !strings.Contains(result.Context, "a.md [P1]: first document") {
		t.Errorf("context missing first block: %q", result.Context)
	}
	if !strings.Contains(result.Context, "b.md: second document") {
		t.Errorf("context missing second block: %q", result.Context)
	}
	if strings.Index(result.Context, "a.md") > strings.Index(result.Context, "b.md") {
		t.Error("documents rendered out of ranked order")
	}
	if len(result.Citations) != 2 {
		t.Errorf("citations = %d, want 2", len(result.Citations))
	}
}

func TestBuild_PriorityMarkerOnlyForCuratedTiers(t *testing.T) {
	b := newBuilder(t)

	result := b.Build([]retrieval.Document{
		{Citation: "x", Content: "c", Priority: retrieval.PriorityUnset},
	}, 1000)

	if strings.Contains(result.Context, "[P") {
		t.Errorf("unset priority produced a marker: %q", result.Context)
	}
}

func TestBuild_StopsAtFirstOverflow(t *testing.T) {
	b := newBuilder(t)

	big := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	docs := []retrieval.Document{
		{Citation: "small", Content: "tiny"},
		{Citation: "big", Content: big},
		{Citation: "after", Content: "also tiny"},
	}

	result := b.Build(docs, 50)

	if _, ok := result.Citations["small"]; !ok {
		t.Error("document within budget was excluded")
	}
	if _, ok := result.Citations["big"]; ok {
		t.Error("oversized document was included")
	}
	// Budgeting stops at the first overflow; later documents never
	// backfill even when they would fit.
	if _, ok := result.Citations["after"]; ok {
		t.Error("document after the overflow was included")
	}
	if strings.Contains(result.Context, big[:40]) {
		t.Error("oversized content leaked into the context")
	}
}

func TestBuild_SeparatorsCountAgainstBudget(t *testing.T) {
	b := newBuilder(t)

	docs := make([]retrieval.Document, 0, 20)
	for i := 0; i < 20; i++ {
		docs = append(docs, retrieval.Document{
			Citation: fmt.Sprintf("doc-%02d", i),
			Content:  "a short note about deployment slots",
		})
	}

	budget := 120
	result := b.Build(docs, budget)

	if len(result.Citations) == 0 {
		t.Fatal("nothing fit the budget")
	}
	if got := b.CountTokens(result.Context); got > budget {
		t.Errorf("rendered context is %d tokens, exceeds budget %d", got, budget)
	}

	// A budget that covers both documents' content but not the joining
	// separator admits only the first.
	two := []retrieval.Document{
		{Citation: "a", Content: "alpha"},
		{Citation: "b", Content: "beta"},
	}
	exact := b.CountTokens(formatDocument(two[0])) + b.CountTokens(formatDocument(two[1]))
	result = b.Build(two, exact)

	if _, ok := result.Citations["b"]; ok {
		t.Error("second document included without room for its separator")
	}
	if got := b.CountTokens(result.Context); got > exact {
		t.Errorf("rendered context is %d tokens, exceeds budget %d", got, exact)
	}
}

func TestBuild_NeverTruncatesMidDocument(t *testing.T) {
	b := newBuilder(t)

	content := "alpha beta gamma delta epsilon"
	result := b.Build([]retrieval.Document{{Citation: "doc", Content: content}}, 3)

	if result.Context != "" {
		t.Errorf("document exceeding budget must be dropped whole, got %q", result.Context)
	}
	if len(result.Citations) != 0 {
		t.Errorf("citations = %d, want 0", len(result.Citations))
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := newBuilder(t)

	docs := []retrieval.Document{
		{Citation: "a", Content: "one"},
		{Citation: "b", Content: "two"},
		{Citation: "c", Content: "three"},
	}

	first := b.Build(docs, 1000)
	second := b.Build(docs, 1000)
	if first.Context != second.Context {
		t.Error("identical input produced different contexts")
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	b := newBuilder(t)

	result := b.Build(nil, 1000)
	if result.Context != "" || len(result.Citations) != 0 {
		t.Errorf("empty input produced context %q", result.Context)
	}
}

func TestCountTokens(t *testing.T) {
	b := newBuilder(t)

	if n := b.CountTokens(""); n != 0 {
		t.Errorf("CountTokens(\"\") = %d, want 0", n)
	}
	if n := b.CountTokens("hello world"); n < 1 {
		t.Errorf("CountTokens(hello world) = %d, want >= 1", n)
	}
}
