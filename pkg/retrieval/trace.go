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

package retrieval

import (
	"sync"
	"time"
)

// Stage names recorded in the thought trace.
const (
	StageSelection  = "source_selection"
	StageRetrieval  = "retrieval"
	StageRanking    = "ranking"
	StageContext    = "context"
	StageGeneration = "generation"
	StageToolCall   = "tool_call"
	StageValidation = "validation"
)

// ThoughtStep is one recorded stage of a request. Steps are immutable once
// appended.
type ThoughtStep struct {
	Stage       string    `json:"stage"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	At          time.Time `json:"at"`
	Payload     any       `json:"payload,omitempty"`
}

// ThoughtTrace is the append-only record of one request's internal stages.
// Append is safe for concurrent use; a request's fan-out workers and the
// generation loop may record steps at the same time.
type ThoughtTrace struct {
	mu    sync.Mutex
	steps []ThoughtStep
}

// NewThoughtTrace creates an empty trace scoped to one request.
func NewThoughtTrace() *ThoughtTrace {
	return &ThoughtTrace{}
}

// Append records a step. The payload must not be mutated afterwards.
func (t *ThoughtTrace) Append(stage, title, description string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, ThoughtStep{
		Stage:       stage,
		Title:       title,
		Description: description,
		At:          time.Now().UTC(),
		Payload:     payload,
	})
}

// Steps returns a copy of the recorded steps in append order.
func (t *ThoughtTrace) Steps() []ThoughtStep {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ThoughtStep, len(t.steps))
	copy(out, t.steps)
	return out
}

// Len returns the number of recorded steps.
func (t *ThoughtTrace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps)
}
