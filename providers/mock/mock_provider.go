// Package mock provides a configurable fake upstream provider for tests.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-bridge/providers"
)

// Provider is a test double for providers.Provider. Each method delegates to
// the corresponding Func field when set and otherwise returns a sensible
// default. Call counts are tracked per method.
type Provider struct {
	NameValue string

	AuthorizationURLFunc func(state, codeChallenge, codeChallengeMethod string) string
	ExchangeCodeFunc     func(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)
	RefreshTokenFunc     func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	RevokeTokenFunc      func(ctx context.Context, token string) error

	mu         sync.Mutex
	callCounts map[string]int
}

// New creates a mock provider with default behavior
func New() *Provider {
	return &Provider{
		NameValue:  "mock",
		callCounts: make(map[string]int),
	}
}

func (p *Provider) record(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.callCounts == nil {
		p.callCounts = make(map[string]int)
	}
	p.callCounts[method]++
}

// CallCount returns how many times the named method has been invoked
func (p *Provider) CallCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCounts[method]
}

// Name returns the provider name
func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

// AuthorizationURL returns a fake upstream authorization URL
func (p *Provider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string {
	p.record("AuthorizationURL")
	if p.AuthorizationURLFunc != nil {
		return p.AuthorizationURLFunc(state, codeChallenge, codeChallengeMethod)
	}

	v := url.Values{}
	v.Set("state", state)
	if codeChallenge != "" {
		v.Set("code_challenge", codeChallenge)
		v.Set("code_challenge_method", codeChallengeMethod)
	}
	return "https://mock.example.com/authorize?" + v.Encode()
}

// ExchangeCode returns a synthetic token for any code
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	p.record("ExchangeCode")
	if p.ExchangeCodeFunc != nil {
		return p.ExchangeCodeFunc(ctx, code, codeVerifier)
	}
	if code == "" {
		return nil, fmt.Errorf("empty authorization code")
	}
	return &oauth2.Token{
		AccessToken:  "mock-access-token-" + code,
		TokenType:    "Bearer",
		RefreshToken: "mock-refresh-token-" + code,
		Expiry:       time.Now().Add(1 * time.Hour),
	}, nil
}

// RefreshToken returns a synthetic refreshed token
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	p.record("RefreshToken")
	if p.RefreshTokenFunc != nil {
		return p.RefreshTokenFunc(ctx, refreshToken)
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("empty refresh token")
	}
	return &oauth2.Token{
		AccessToken:  "mock-refreshed-access-token",
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(1 * time.Hour),
	}, nil
}

// RevokeToken succeeds for any token
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	p.record("RevokeToken")
	if p.RevokeTokenFunc != nil {
		return p.RevokeTokenFunc(ctx, token)
	}
	return nil
}

var _ providers.Provider = (*Provider)(nil)
