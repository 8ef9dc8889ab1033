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
	"strings"
	"testing"

	"github.com/kadirpekel/quaero/pkg/retrieval"
)

func TestBuildQuery_PostgresACLScope(t *testing.T) {
	c := &RepositoryConnector{driver: "postgres", table: "repository_documents"}

	query, args := c.buildQuery(retrieval.Query{
		Text:         "rotation policy",
		AccessGroups: []string{"finance", "ops"},
	}, 5)

	if !strings.Contains(query, "acl_public = TRUE") {
		t.Errorf("query lacks the public clause: %s", query)
	}
	if !strings.Contains(query, "CONCAT(',', acl_groups, ',') LIKE $1") ||
		!strings.Contains(query, "CONCAT(',', acl_groups, ',') LIKE $2") {
		t.Errorf("query lacks group predicates: %s", query)
	}
	if strings.Contains(query, "finance") || strings.Contains(query, "ops") {
		t.Errorf("group claims interpolated into SQL: %s", query)
	}

	// groups, then two placeholders per term, then the limit
	wantArgs := 2 + 2*2 + 1
	if len(args) != wantArgs {
		t.Fatalf("args = %d, want %d (%v)", len(args), wantArgs, args)
	}
	if args[0] != "%,finance,%" || args[1] != "%,ops,%" {
		t.Errorf("group args = %v", args[:2])
	}
	if args[len(args)-1] != 5 {
		t.Errorf("limit arg = %v, want 5", args[len(args)-1])
	}
}

func TestBuildQuery_EmptyGroupsIsPublicOnly(t *testing.T) {
	c := &RepositoryConnector{driver: "postgres", table: "docs"}

	query, args := c.buildQuery(retrieval.Query{Text: "holidays"}, 3)

	if !strings.Contains(query, "(acl_public = TRUE)") {
		t.Errorf("empty claims should scope to public rows only: %s", query)
	}
	if strings.Contains(query, "acl_groups") {
		t.Errorf("no group predicate expected without claims: %s", query)
	}
	// one term, two placeholders, plus the limit
	if len(args) != 3 {
		t.Errorf("args = %v", args)
	}
}

func TestBuildQuery_MySQLPlaceholders(t *testing.T) {
	c := &RepositoryConnector{driver: "mysql", table: "docs"}

	query, _ := c.buildQuery(retrieval.Query{
		Text:         "expenses",
		AccessGroups: []string{"finance"},
	}, 5)

	if strings.Contains(query, "$") {
		t.Errorf("mysql query uses postgres placeholders: %s", query)
	}
	if strings.Count(query, "?") != 4 {
		t.Errorf("placeholder count = %d, want 4: %s", strings.Count(query, "?"), query)
	}
}

func TestQueryTerms(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"What is the expense policy?", []string{"what", "the", "expense", "policy"}},
		{"VPN", []string{"vpn"}},
		{"a an to", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := queryTerms(tt.text)
		if len(got) != len(tt.want) {
			t.Errorf("queryTerms(%q) = %v, want %v", tt.text, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("queryTerms(%q)[%d] = %q, want %q", tt.text, i, got[i], tt.want[i])
			}
		}
	}
}

func TestTermScore(t *testing.T) {
	terms := queryTerms("expense report limits")
	if s := termScore("The expense report limits are documented here.", terms); s != 1 {
		t.Errorf("full match score = %f, want 1", s)
	}
	if s := termScore("Nothing relevant at all.", terms); s != 0 {
		t.Errorf("no match score = %f, want 0", s)
	}
	if s := termScore("expense data only", terms); s <= 0 || s >= 1 {
		t.Errorf("partial match score = %f, want strictly between 0 and 1", s)
	}
}
