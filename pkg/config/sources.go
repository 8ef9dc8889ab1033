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

package config

import (
	"fmt"
	"time"
)

// SourcesConfig groups the retrieval source configurations.
type SourcesConfig struct {
	Vector     VectorSourceConfig     `yaml:"vector"`
	Web        WebSourceConfig        `yaml:"web"`
	Repository RepositorySourceConfig `yaml:"repository"`
	Knowledge  KnowledgeSourceConfig  `yaml:"knowledge"`
}

func (c *SourcesConfig) SetDefaults() {
	c.Vector.SetDefaults()
	c.Web.SetDefaults()
	c.Repository.SetDefaults()
	c.Knowledge.SetDefaults()
}

func (c *SourcesConfig) Validate() error {
	if err := c.Vector.Validate(); err != nil {
		return err
	}
	if err := c.Web.Validate(); err != nil {
		return err
	}
	if err := c.Repository.Validate(); err != nil {
		return err
	}
	return c.Knowledge.Validate()
}

// VectorSourceConfig configures the vectorized document index.
//
// Example YAML:
//
//	sources:
//	  vector:
//	    store: qdrant
//	    host: qdrant.example.com
//	    port: 6334
//	    collection: documents
type VectorSourceConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`

	// Store is the backing vector store: "chromem" (embedded) or "qdrant".
	Store string `yaml:"store"`

	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	EnableTLS  *bool  `yaml:"enable_tls,omitempty"`
	Collection string `yaml:"collection"`

	// PersistPath for chromem file persistence.
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`

	TopK int `yaml:"top_k"`
}

// IsEnabled reports whether the source participates in retrieval.
// Vector search defaults to enabled.
func (c *VectorSourceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *VectorSourceConfig) SetDefaults() {
	if c.Store == "" {
		c.Store = "chromem"
	}
	if c.Port == 0 && c.Store == "qdrant" {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.TopK == 0 {
		c.TopK = 10
	}
}

func (c *VectorSourceConfig) Validate() error {
	switch c.Store {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vector store %q (valid: chromem, qdrant)", c.Store)
	}
	if c.Store == "qdrant" && c.Host == "" {
		return fmt.Errorf("host is required for qdrant vector store")
	}
	return nil
}

// WebSourceConfig configures the external web search provider.
type WebSourceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty"`
	TopK     int    `yaml:"top_k"`
	Timeout  int    `yaml:"timeout"` // seconds
}

func (c *WebSourceConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Timeout == 0 {
		c.Timeout = 10
	}
}

func (c *WebSourceConfig) Validate() error {
	if c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when the web source is enabled")
	}
	return nil
}

// RepositorySourceConfig configures the enterprise document repository.
// Queries are always scoped by the caller's access groups; rows are only
// visible when acl_public is set or an acl_groups entry matches.
type RepositorySourceConfig struct {
	Enabled bool `yaml:"enabled"`

	// Driver is the database/sql driver: "postgres" or "mysql".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// Table holds indexed documents with id, title, content, updated_at,
	// acl_public, and acl_groups columns.
	Table string `yaml:"table"`
	TopK  int    `yaml:"top_k"`
}

func (c *RepositorySourceConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "postgres"
	}
	if c.Table == "" {
		c.Table = "repository_documents"
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
}

func (c *RepositorySourceConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("invalid repository driver %q (valid: postgres, mysql)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required when the repository source is enabled")
	}
	return nil
}

// KnowledgeSourceConfig configures the MCP documentation knowledge server.
//
// Authentication always comes from an ambient token source wired in at
// construction. A static token in configuration is a hard error: long-lived
// shared secrets must never reach this connection.
type KnowledgeSourceConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL of the streamable HTTP MCP endpoint.
	URL string `yaml:"url"`

	// Transport is "streamable-http" (default) or "stdio".
	Transport string `yaml:"transport"`

	// Command and Args for the stdio transport.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	// Token must stay empty; present only to reject configs that try.
	Token string `yaml:"token,omitempty"`

	Timeout int `yaml:"timeout"` // seconds, per tool call

	// Keywords extends the vendor-technology classifier used for eager
	// prefetch of this source. Comma-separated in YAML for brevity.
	Keywords string `yaml:"keywords,omitempty"`
}

func (c *KnowledgeSourceConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = "streamable-http"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

func (c *KnowledgeSourceConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Token != "" {
		return fmt.Errorf("knowledge source must not carry a static token; credentials come from the ambient token source")
	}
	switch c.Transport {
	case "streamable-http":
		if c.URL == "" {
			return fmt.Errorf("url is required for the streamable-http knowledge transport")
		}
	case "stdio":
		if c.Command == "" {
			return fmt.Errorf("command is required for the stdio knowledge transport")
		}
	default:
		return fmt.Errorf("invalid knowledge transport %q (valid: streamable-http, stdio)", c.Transport)
	}
	return nil
}

// ExtraKeywords returns the configured classifier keywords.
func (c *KnowledgeSourceConfig) ExtraKeywords() []string {
	return splitCSV(c.Keywords)
}

// EngineConfig bounds the orchestration pipeline.
type EngineConfig struct {
	// RequestTimeout is the overall deadline for one ask request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ConnectorTimeout bounds each eager connector call.
	ConnectorTimeout time.Duration `yaml:"connector_timeout"`
	// RoundTimeout bounds each model round in the generation loop.
	RoundTimeout time.Duration `yaml:"round_timeout"`

	// MaxRounds bounds the tool-calling loop.
	MaxRounds int `yaml:"max_rounds"`

	// TokenBudget bounds the rendered grounding context.
	TokenBudget int `yaml:"token_budget"`

	// MinScore and MinRerankerScore filter fused results; 0 disables.
	MinScore         float64 `yaml:"min_score"`
	MinRerankerScore float64 `yaml:"min_reranker_score"`

	// ValidateAnswers enables the second-pass validator by default;
	// callers can override per request.
	ValidateAnswers bool `yaml:"validate_answers"`
}

func (c *EngineConfig) SetDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Minute
	}
	if c.ConnectorTimeout == 0 {
		c.ConnectorTimeout = 15 * time.Second
	}
	if c.RoundTimeout == 0 {
		c.RoundTimeout = 60 * time.Second
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = 6
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = 4096
	}
}

func (c *EngineConfig) Validate() error {
	if c.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1")
	}
	if c.TokenBudget < 1 {
		return fmt.Errorf("token_budget must be positive")
	}
	if c.MinScore < 0 || c.MinRerankerScore < 0 {
		return fmt.Errorf("score thresholds must not be negative")
	}
	return nil
}
