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

// Package ranking fuses heterogeneous retrieval results into one ordered
// document list. Curated trust dominates relevance: a low-relevance
// tier-1 item outranks a high-relevance tier-3 item once both clear the
// qualification thresholds, so authoritative sources win contradictions.
package ranking

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// Rank normalizes, filters, and orders retrieved items.
//
// Ordering is a stable sort on the composite key: priority ascending
// with missing mapped to the worst tier, then reranker score descending,
// then score descending. Equal keys preserve retrieval order. A
// threshold of 0 disables the corresponding filter.
func Rank(items []retrieval.RetrievedItem, minScore, minRerankerScore float64) []retrieval.Document {
	docs := make([]retrieval.Document, 0, len(items))
	used := make(map[string]int)

	for _, item := range items {
		if minScore > 0 && item.Score < minScore {
			continue
		}
		if minRerankerScore > 0 && item.HasReranker && item.RerankerScore < minRerankerScore {
			continue
		}
		docs = append(docs, normalize(item, used))
	}

	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]

		ap, bp := retrieval.EffectivePriority(a.Priority), retrieval.EffectivePriority(b.Priority)
		if ap != bp {
			return ap < bp
		}
		if a.RerankerScore != b.RerankerScore {
			return a.RerankerScore > b.RerankerScore
		}
		return a.Score > b.Score
	})

	return docs
}

// uniqueLabel suffixes repeated base labels, skipping suffixed forms
// that collide with labels another item already claimed naturally.
func uniqueLabel(base string, used map[string]int) string {
	if used[base] == 0 {
		used[base] = 1
		return base
	}
	n := used[base]
	for {
		n++
		candidate := fmt.Sprintf("%s-%d", base, n)
		if used[candidate] == 0 {
			used[base] = n
			used[candidate] = 1
			return candidate
		}
	}
}

// normalize converts a raw item into a canonical document with a unique
// citation label.
func normalize(item retrieval.RetrievedItem, used map[string]int) retrieval.Document {
	label := item.SourceFile
	if label == "" {
		label = item.ID
	}
	if item.SourcePage != "" {
		label = label + "#" + item.SourcePage
	}
	if label == "" {
		label = string(item.Source)
	}

	// Citation labels must be unique within one answer context.
	label = uniqueLabel(label, used)

	priority := item.Priority
	if priority == 0 {
		priority = retrieval.PriorityUnset
	}

	return retrieval.Document{
		ID:            item.ID,
		Content:       item.Content,
		Citation:      label,
		Source:        item.Source,
		Score:         item.Score,
		RerankerScore: item.RerankerScore,
		HasReranker:   item.HasReranker,
		Priority:      priority,
		Metadata:      item.Metadata,
	}
}
