// Package providers defines the interface for upstream OAuth authorization
// servers and implements a generic provider driven by explicit endpoints or
// OIDC discovery.
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider is the upstream authorization server the bridge delegates to.
// The bridge registers exactly one client with the upstream; every
// downstream client's authorization request is funneled through it.
type Provider interface {
	// Name returns the provider name (e.g., "oidc", "mock")
	Name() string

	// AuthorizationURL generates the URL to redirect users for authentication.
	// codeChallenge and codeChallengeMethod are for PKCE (pass empty strings
	// to disable).
	AuthorizationURL(state string, codeChallenge string, codeChallengeMethod string) string

	// ExchangeCode exchanges an upstream authorization code for tokens.
	// codeVerifier is for PKCE verification (pass empty string if not using PKCE).
	ExchangeCode(ctx context.Context, code string, codeVerifier string) (*oauth2.Token, error)

	// RefreshToken refreshes an expired token using a refresh token
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// RevokeToken revokes a token at the provider
	RevokeToken(ctx context.Context, token string) error
}
