// Package auth verifies bearer tokens presented to the dispatcher. Two
// strategies are provided: local JWT validation against a JWKS, and remote
// introspection per RFC 7662. Both produce the same AccessToken identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	// ErrUnauthenticated is wrapped by every verification failure: malformed
	// tokens, bad signatures, expiry, inactive tokens, missing scopes.
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrNoToken         = fmt.Errorf("%w: no token provided", ErrUnauthenticated)
	ErrTokenExpired    = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrInvalidIssuer   = fmt.Errorf("%w: invalid issuer", ErrUnauthenticated)
	ErrInvalidAudience = fmt.Errorf("%w: invalid audience", ErrUnauthenticated)
	ErrMissingScopes   = fmt.Errorf("%w: missing required scopes", ErrUnauthenticated)
)

// AccessToken is the verified identity attached to a dispatched request.
type AccessToken struct {
	// Token is the raw bearer credential as presented
	Token string

	// ClientID identifies the OAuth client the token was issued to
	ClientID string

	// Scopes granted to the token
	Scopes []string

	// ExpiresAt is the unix expiry, nil when the token carries none
	ExpiresAt *int64

	// Claims holds every verified claim for handler-level decisions
	Claims map[string]any
}

// Roles reads role-like claims (`roles`, then `groups`) from the token.
// Returns nil when neither claim is present.
func (t *AccessToken) Roles() []string {
	if t == nil || t.Claims == nil {
		return nil
	}
	for _, claim := range []string{"roles", "groups"} {
		if roles := stringSlice(t.Claims[claim]); roles != nil {
			return roles
		}
	}
	return nil
}

// HasScope reports whether the token carries the given scope,
// case-insensitively.
func (t *AccessToken) HasScope(scope string) bool {
	if t == nil {
		return false
	}
	for _, s := range t.Scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

// Verifier validates a raw bearer token and returns the identity it proves.
type Verifier interface {
	// VerifyToken returns the verified identity, or an error wrapping
	// ErrUnauthenticated when the token is invalid for any reason.
	VerifyToken(ctx context.Context, raw string) (*AccessToken, error)

	// RequiredScopes returns the scopes every token must carry
	RequiredScopes() []string
}

// checkScopes verifies required is a subset of granted, case-insensitively.
func checkScopes(required, granted []string) error {
	for _, want := range required {
		found := false
		for _, have := range granted {
			if strings.EqualFold(want, have) {
				found = true
				break
			}
		}
		if !found {
			return unauthenticated("%w: %s", ErrMissingScopes, want)
		}
	}
	return nil
}

// parseScopes accepts the common wire shapes of a scope claim: a
// space-delimited string, or an array of strings.
func parseScopes(raw any) []string {
	switch s := raw.(type) {
	case string:
		if s == "" {
			return nil
		}
		return strings.Fields(s)
	case []string:
		if len(s) == 0 {
			return nil
		}
		return s
	case []any:
		var scopes []string
		for _, v := range s {
			if str, ok := v.(string); ok && str != "" {
				scopes = append(scopes, str)
			}
		}
		return scopes
	default:
		return nil
	}
}

func stringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
