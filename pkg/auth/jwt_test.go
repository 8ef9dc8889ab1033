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
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func setupVerifier(t *testing.T) (*Verifier, *rsa.PrivateKey) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	pub, err := jwk.FromRaw(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to build JWK: %v", err)
	}
	if err := pub.Set(jwk.KeyIDKey, "test-key-id"); err != nil {
		t.Fatalf("Failed to set kid: %v", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("Failed to set alg: %v", err)
	}
	keyset := jwk.NewSet()
	if err := keyset.AddKey(pub); err != nil {
		t.Fatalf("Failed to add key: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keysetJSON, err := json.Marshal(keyset)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysetJSON)
	}))
	t.Cleanup(server.Close)

	verifier, err := NewVerifier(context.Background(), server.URL, "groups")
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	return verifier, privateKey
}

func signToken(t *testing.T, privateKey *rsa.PrivateKey, subject string, claims map[string]interface{}, expiresIn time.Duration) string {
	t.Helper()

	token := jwt.New()
	if err := token.Set(jwt.SubjectKey, subject); err != nil {
		t.Fatalf("Failed to set sub: %v", err)
	}
	if err := token.Set(jwt.IssuedAtKey, time.Now()); err != nil {
		t.Fatalf("Failed to set iat: %v", err)
	}
	if err := token.Set(jwt.ExpirationKey, time.Now().Add(expiresIn)); err != nil {
		t.Fatalf("Failed to set exp: %v", err)
	}
	for key, value := range claims {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("Failed to set claim %s: %v", key, err)
		}
	}

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("Failed to build signing key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, "test-key-id"); err != nil {
		t.Fatalf("Failed to set kid: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return string(signed)
}

func TestVerify_ExtractsGroups(t *testing.T) {
	verifier, privateKey := setupVerifier(t)

	token := signToken(t, privateKey, "user-1", map[string]interface{}{
		"groups": []string{"finance", "engineering"},
	}, time.Hour)

	claims, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-1")
	}
	want := []string{"finance", "engineering"}
	if !reflect.DeepEqual(claims.Groups, want) {
		t.Errorf("Groups = %v, want %v", claims.Groups, want)
	}
}

func TestVerify_NoGroupsClaim(t *testing.T) {
	verifier, privateKey := setupVerifier(t)

	token := signToken(t, privateKey, "user-2", nil, time.Hour)

	claims, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Groups != nil {
		t.Errorf("Groups = %v, want nil", claims.Groups)
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	verifier, privateKey := setupVerifier(t)

	token := signToken(t, privateKey, "user-3", nil, -time.Minute)

	if _, err := verifier.Verify(context.Background(), token); err == nil {
		t.Error("Expected error for expired token, got nil")
	}
}

func TestVerify_GarbageToken(t *testing.T) {
	verifier, _ := setupVerifier(t)

	if _, err := verifier.Verify(context.Background(), "not-a-token"); err == nil {
		t.Error("Expected error for malformed token, got nil")
	}
}

func TestParseGroups(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want []string
	}{
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
		{"interface slice", []interface{}{"a", "b"}, []string{"a", "b"}},
		{"comma delimited", "a,b, c", []string{"a", "b", "c"}},
		{"space delimited", "a b c", []string{"a", "b", "c"}},
		{"empty string", "", nil},
		{"non-string entries skipped", []interface{}{"a", 42}, []string{"a"}},
		{"unsupported type", 42, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseGroups(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseGroups(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
