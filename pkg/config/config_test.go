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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "quaero.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "groups", cfg.Auth.GroupsClaim)
	assert.Equal(t, "chromem", cfg.Sources.Vector.Store)
	assert.True(t, cfg.Sources.Vector.IsEnabled())
	assert.False(t, cfg.Sources.Web.Enabled)
	assert.False(t, cfg.Sources.Repository.Enabled)
	assert.False(t, cfg.Sources.Knowledge.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Engine.RequestTimeout)
	assert.Equal(t, 15*time.Second, cfg.Engine.ConnectorTimeout)
	assert.Equal(t, 6, cfg.Engine.MaxRounds)
	assert.Equal(t, 4096, cfg.Engine.TokenBudget)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
llm:
  model: gpt-4o
sources:
  web:
    enabled: true
    endpoint: https://search.example.com/v1
  knowledge:
    enabled: true
    url: https://kb.example.com/mcp
    keywords: "contoso, fabrikam"
engine:
  max_rounds: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.True(t, cfg.Sources.Web.Enabled)
	assert.Equal(t, 3, cfg.Engine.MaxRounds)
	// Defaults still fill the rest.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "streamable-http", cfg.Sources.Knowledge.Transport)
	assert.Equal(t, []string{"contoso", "fabrikam"}, cfg.Sources.Knowledge.ExtraKeywords())
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("QUAERO_TEST_DSN", "postgres://app:s3cret@db/corpus")

	path := writeConfig(t, `
sources:
  repository:
    enabled: true
    dsn: ${QUAERO_TEST_DSN}
  web:
    endpoint: ${QUAERO_TEST_MISSING:-https://fallback.example.com}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:s3cret@db/corpus", cfg.Sources.Repository.DSN)
	assert.Equal(t, "https://fallback.example.com", cfg.Sources.Web.Endpoint)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestKnowledgeStaticTokenRejected(t *testing.T) {
	path := writeConfig(t, `
sources:
  knowledge:
    enabled: true
    url: https://kb.example.com/mcp
    token: sk-should-never-be-here
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "static token")
}

func TestKnowledgeValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KnowledgeSourceConfig
		wantErr bool
	}{
		{
			name: "disabled_skips_checks",
			cfg:  KnowledgeSourceConfig{Token: "even-this-passes"},
		},
		{
			name:    "http_requires_url",
			cfg:     KnowledgeSourceConfig{Enabled: true, Transport: "streamable-http"},
			wantErr: true,
		},
		{
			name: "stdio_requires_command",
			cfg: KnowledgeSourceConfig{
				Enabled:   true,
				Transport: "stdio",
				Command:   "kb-server",
			},
		},
		{
			name:    "unknown_transport",
			cfg:     KnowledgeSourceConfig{Enabled: true, Transport: "grpc", URL: "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSectionValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"bad_port", func(cfg *Config) { cfg.Server.Port = -1 }},
		{"bad_log_format", func(cfg *Config) { cfg.Logging.Format = "xml" }},
		{"bad_llm_type", func(cfg *Config) { cfg.LLM.Type = "mistral" }},
		{"bad_vector_store", func(cfg *Config) { cfg.Sources.Vector.Store = "faiss" }},
		{"qdrant_needs_host", func(cfg *Config) {
			cfg.Sources.Vector.Store = "qdrant"
			cfg.Sources.Vector.Host = ""
		}},
		{"web_needs_endpoint", func(cfg *Config) { cfg.Sources.Web.Enabled = true }},
		{"repository_needs_dsn", func(cfg *Config) { cfg.Sources.Repository.Enabled = true }},
		{"repository_bad_driver", func(cfg *Config) {
			cfg.Sources.Repository.Enabled = true
			cfg.Sources.Repository.DSN = "dsn"
			cfg.Sources.Repository.Driver = "oracle"
		}},
		{"auth_needs_jwks", func(cfg *Config) { cfg.Auth.Enabled = true }},
		{"tracing_bad_exporter", func(cfg *Config) {
			cfg.Tracing.Enabled = true
			cfg.Tracing.Exporter = "jaeger"
		}},
		{"tracing_bad_sampling", func(cfg *Config) {
			cfg.Tracing.Enabled = true
			cfg.Tracing.SamplingRate = 1.5
		}},
		{"engine_zero_rounds", func(cfg *Config) { cfg.Engine.MaxRounds = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
