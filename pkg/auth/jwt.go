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

// Package auth verifies caller identity and extracts access-group claims.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier validates bearer tokens against a JWKS endpoint.
// Keys are cached and auto-refreshed to handle rotation.
type Verifier struct {
	jwksURL     string
	cache       *jwk.Cache
	groupsClaim string
}

// NewVerifier creates a verifier that fetches signing keys from jwksURL.
// groupsClaim names the JWT claim carrying the caller's access groups.
func NewVerifier(ctx context.Context, jwksURL, groupsClaim string) (*Verifier, error) {
	cache := jwk.NewCache(ctx)

	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	// Initial fetch validates the configuration up front.
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	return &Verifier{
		jwksURL:     jwksURL,
		cache:       cache,
		groupsClaim: groupsClaim,
	}, nil
}

// Claims carries the identity attributes the engine cares about.
type Claims struct {
	Subject string
	Groups  []string
}

// Verify validates a bearer token and extracts the subject and access groups.
// Signature, expiration, and not-before are all checked.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &Claims{Subject: token.Subject()}

	if raw, ok := token.Get(v.groupsClaim); ok {
		claims.Groups = parseGroups(raw)
	}

	return claims, nil
}

// parseGroups accepts the common wire shapes for a groups claim:
// a JSON array of strings, or a single comma- or space-delimited string.
func parseGroups(raw interface{}) []string {
	var groups []string
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				groups = append(groups, s)
			}
		}
	case []string:
		for _, s := range v {
			if s != "" {
				groups = append(groups, s)
			}
		}
	case string:
		sep := " "
		if strings.Contains(v, ",") {
			sep = ","
		}
		for _, part := range strings.Split(v, sep) {
			if part = strings.TrimSpace(part); part != "" {
				groups = append(groups, part)
			}
		}
	}
	return groups
}
