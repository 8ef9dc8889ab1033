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
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Drivers for the supported repository databases.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/kadirpekel/quaero/pkg/config"
	"github.com/kadirpekel/quaero/pkg/retrieval"
)

// RepositoryConnector queries the enterprise document repository over
// database/sql. Every query is scoped by the caller's access groups:
// a row is visible only when acl_public is set or one of its acl_groups
// entries matches a caller claim. This holds with empty claims too, in
// which case only public rows qualify.
type RepositoryConnector struct {
	db     *sql.DB
	driver string
	table  string
	topK   int
}

// NewRepositoryConnector opens the repository database.
func NewRepositoryConnector(cfg *config.RepositorySourceConfig) (*RepositoryConnector, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	return &RepositoryConnector{
		db:     db,
		driver: cfg.Driver,
		table:  cfg.Table,
		topK:   cfg.TopK,
	}, nil
}

func (c *RepositoryConnector) Kind() retrieval.SourceKind {
	return retrieval.SourceRepository
}

func (c *RepositoryConnector) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.RetrievedItem, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = c.topK
	}

	query, args := c.buildQuery(q, topK)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, retrieval.ClassifyError(retrieval.SourceRepository, err)
	}
	defer rows.Close()

	terms := queryTerms(q.Text)

	var items []retrieval.RetrievedItem
	for rows.Next() {
		var (
			id, title, content string
			priority           sql.NullInt64
			updatedAt          sql.NullTime
		)
		if err := rows.Scan(&id, &title, &content, &priority, &updatedAt); err != nil {
			return nil, retrieval.NewConnectorError(retrieval.SourceRepository, retrieval.ErrMalformedResponse, err)
		}

		item := retrieval.RetrievedItem{
			Source:     retrieval.SourceRepository,
			ID:         id,
			Content:    content,
			Score:      termScore(content, terms),
			SourceFile: title,
			Metadata:   map[string]any{"title": title},
		}
		if priority.Valid {
			item.Priority = int(priority.Int64)
		}
		if updatedAt.Valid {
			item.Metadata["updated_at"] = updatedAt.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, retrieval.ClassifyError(retrieval.SourceRepository, err)
	}

	return items, nil
}

// buildQuery assembles the ACL-scoped search statement. Group claims are
// always bound as parameters, never interpolated.
func (c *RepositoryConnector) buildQuery(q retrieval.Query, topK int) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)

	fmt.Fprintf(&sb, "SELECT id, title, content, priority, updated_at FROM %s WHERE ", c.table)

	// Entitlement scope first. acl_groups is a comma-separated list; the
	// wrapped comparison avoids partial group-name matches.
	sb.WriteString("(acl_public = TRUE")
	for _, group := range q.AccessGroups {
		args = append(args, "%,"+group+",%")
		fmt.Fprintf(&sb, " OR CONCAT(',', acl_groups, ',') LIKE %s", c.placeholder(len(args)))
	}
	sb.WriteString(")")

	for _, term := range queryTerms(q.Text) {
		args = append(args, "%"+term+"%")
		fmt.Fprintf(&sb, " AND (title LIKE %s", c.placeholder(len(args)))
		args = append(args, "%"+term+"%")
		fmt.Fprintf(&sb, " OR content LIKE %s)", c.placeholder(len(args)))
	}

	args = append(args, topK)
	fmt.Fprintf(&sb, " ORDER BY updated_at DESC LIMIT %s", c.placeholder(len(args)))

	return sb.String(), args
}

func (c *RepositoryConnector) placeholder(n int) string {
	if c.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// queryTerms lowers and splits the query, dropping short stop-ish words.
func queryTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?\"'()")
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// termScore is a naive relevance proxy: the fraction of query terms
// present in the content.
func termScore(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// Close releases the database pool.
func (c *RepositoryConnector) Close() error {
	return c.db.Close()
}

var _ Connector = (*RepositoryConnector)(nil)
