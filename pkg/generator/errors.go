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

package generator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies generation failures. Unlike connector errors
// these surface to the caller; a partial stream is terminated with an
// error marker.
type ErrorKind string

const (
	ErrModelUnavailable ErrorKind = "model_unavailable"
	ErrContentFiltered  ErrorKind = "content_filtered"
	ErrToolLoopExceeded ErrorKind = "tool_loop_exceeded"
)

// Error is a classified generation failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation failed: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified generation error.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// classifyModelError maps a provider failure onto a generation error.
func classifyModelError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	if strings.Contains(strings.ToLower(err.Error()), "content_filter") {
		return NewError(ErrContentFiltered, err)
	}
	return NewError(ErrModelUnavailable, err)
}
