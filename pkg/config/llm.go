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

import "fmt"

// LLMConfig configures the chat model provider.
type LLMConfig struct {
	Type        string   `yaml:"type"` // "openai" (OpenAI-compatible endpoints)
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	Host        string   `yaml:"host"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens"`
	Timeout     int      `yaml:"timeout"` // seconds
	MaxRetries  int      `yaml:"max_retries"`
	RetryDelay  int      `yaml:"retry_delay"` // seconds
}

func (c *LLMConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

func (c *LLMConfig) Validate() error {
	if c.Type != "openai" {
		return fmt.Errorf("invalid llm type %q (valid: openai)", c.Type)
	}
	return nil
}

// EmbedderConfig configures query embedding for vector search.
type EmbedderConfig struct {
	Type      string `yaml:"type"` // "openai"
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	Host      string `yaml:"host"`
	Dimension int    `yaml:"dimension"`
	Timeout   int    `yaml:"timeout"` // seconds
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Dimension == 0 {
		switch c.Model {
		case "text-embedding-3-large":
			c.Dimension = 3072
		default:
			c.Dimension = 1536
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

func (c *EmbedderConfig) Validate() error {
	if c.Type != "openai" {
		return fmt.Errorf("invalid embedder type %q (valid: openai)", c.Type)
	}
	return nil
}
