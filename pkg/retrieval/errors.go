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
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies connector failures. All kinds are locally recoverable:
// the fan-out records them and the request continues.
type ErrorKind string

const (
	ErrTimeout           ErrorKind = "timeout"
	ErrAuthFailure       ErrorKind = "auth_failure"
	ErrRateLimited       ErrorKind = "rate_limited"
	ErrUnavailable       ErrorKind = "unavailable"
	ErrMalformedResponse ErrorKind = "malformed_response"
)

// ConnectorError wraps a connector failure with its classification.
type ConnectorError struct {
	Source SourceKind
	Kind   ErrorKind
	Err    error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("connector %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// NewConnectorError builds a classified connector error.
func NewConnectorError(source SourceKind, kind ErrorKind, err error) *ConnectorError {
	return &ConnectorError{Source: source, Kind: kind, Err: err}
}

// ClassifyError maps an arbitrary connector failure to a ConnectorError.
// Already-classified errors pass through; context expiry becomes a timeout.
func ClassifyError(source SourceKind, err error) *ConnectorError {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewConnectorError(source, ErrTimeout, err)
	}
	return NewConnectorError(source, ErrUnavailable, err)
}
