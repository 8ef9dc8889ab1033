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

// Package validator re-checks a generated answer against its grounding
// context with one structured, deterministic model call. Validation is
// advisory: any failure fails open and the answer stands.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/quaero/pkg/llms"
)

const validatorPrompt = `You are a strict reviewer. Given a user question, an answer, and the sources the answer was based on, judge whether the answer is faithful to the sources and actually addresses the question. List concrete issues if any. If the answer is wrong or unsupported and you can fix it from the sources, provide a corrected answer. Respond with JSON only.`

// Result is the validator's verdict.
type Result struct {
	IsValid         bool     `json:"is_valid"`
	Issues          []string `json:"issues"`
	CorrectedAnswer string   `json:"corrected_answer,omitempty"`
	Confidence      float64  `json:"confidence"`
}

// resultSchema constrains the model's structured output.
var resultSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_valid": map[string]any{"type": "boolean"},
		"issues": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"corrected_answer": map[string]any{"type": "string"},
		"confidence": map[string]any{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
	},
	"required":             []string{"is_valid", "issues", "corrected_answer", "confidence"},
	"additionalProperties": false,
}

// Validator runs the second-pass check.
type Validator struct {
	llm llms.LLM
}

// New builds a validator on the given provider.
func New(llm llms.LLM) *Validator {
	return &Validator{llm: llm}
}

// Validate checks the answer. It returns nil when the check could not be
// completed; the caller keeps the original answer and the failure is
// only logged.
func (v *Validator) Validate(ctx context.Context, query, answer, contextString string) *Result {
	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: validatorPrompt},
		{Role: llms.RoleUser, Content: fmt.Sprintf(
			"Question:\n%s\n\nAnswer:\n%s\n\nSources:\n%s", query, answer, contextString)},
	}

	raw, err := v.llm.GenerateStructured(ctx, messages, resultSchema)
	if err != nil {
		slog.Warn("Answer validation call failed, keeping original answer", "error", err)
		return nil
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Warn("Answer validation output unparseable, keeping original answer", "error", err)
		return nil
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	return &result
}
