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

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenSource_FetchAndCache(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.URL.Query().Get("audience"); got != "knowledge" {
			t.Errorf("audience = %q, want %q", got, "knowledge")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, calls)
	}))
	defer server.Close()

	source := NewTokenSource(server.URL, "knowledge")

	token, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("token = %q, want %q", token, "tok-1")
	}

	// Second call serves from cache.
	token, err = source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("token = %q, want cached %q", token, "tok-1")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	// Invalidate forces a refetch.
	source.Invalidate()
	token, err = source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "tok-2" {
		t.Errorf("token = %q, want %q", token, "tok-2")
	}
}

func TestTokenSource_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	source := NewTokenSource(server.URL, "")
	if _, err := source.Token(context.Background()); err == nil {
		t.Error("Expected error for non-200 response, got nil")
	}
}

func TestTokenSource_EmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"","expires_in":60}`)
	}))
	defer server.Close()

	source := NewTokenSource(server.URL, "")
	if _, err := source.Token(context.Background()); err == nil {
		t.Error("Expected error for empty token, got nil")
	}
}
