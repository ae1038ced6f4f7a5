package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Config holds the upstream client configuration for a generic provider.
type Config struct {
	// Name identifies the provider in logs and metrics
	Name string

	// ClientID is the id of the single client registered at the upstream
	ClientID string

	// ClientSecret may be empty for public upstream clients
	ClientSecret string

	// RedirectURL is the bridge's own callback endpoint
	RedirectURL string

	// Scopes requested on every upstream authorization
	Scopes []string

	// AuthURL and TokenURL are the upstream endpoints
	AuthURL  string
	TokenURL string

	// RevocationURL is optional; RevokeToken fails without it
	RevocationURL string

	// HTTPClient overrides the default 30s-timeout client
	HTTPClient *http.Client
}

// Upstream is a generic Provider backed by golang.org/x/oauth2 against
// explicit endpoints. Use oidc.New to build one from a discovery document.
type Upstream struct {
	name          string
	config        *oauth2.Config
	revocationURL string
	httpClient    *http.Client
}

// New creates a generic upstream provider from explicit endpoints.
func New(cfg *Config) (*Upstream, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("authorization and token endpoints are required")
	}

	name := cfg.Name
	if name == "" {
		name = "upstream"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Upstream{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		revocationURL: cfg.RevocationURL,
		httpClient:    httpClient,
	}, nil
}

// Name returns the provider name
func (p *Upstream) Name() string {
	return p.name
}

// AuthorizationURL generates the upstream authorization URL
func (p *Upstream) AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string {
	var opts []oauth2.AuthCodeOption
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
		)
	}
	return p.config.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for tokens
func (p *Upstream) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	return ExchangeCodeWithPKCE(ctx, p.config, p.httpClient, code, codeVerifier)
}

// RefreshToken refreshes an expired token
func (p *Upstream) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tokenSource := p.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
	})

	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	return newToken, nil
}

// RevokeToken revokes a token at the upstream revocation endpoint
func (p *Upstream) RevokeToken(ctx context.Context, token string) error {
	if p.revocationURL == "" {
		return fmt.Errorf("provider %s has no revocation endpoint", p.name)
	}

	data := url.Values{}
	data.Set("token", token)
	if p.config.ClientID != "" {
		data.Set("client_id", p.config.ClientID)
	}
	if p.config.ClientSecret != "" {
		data.Set("client_secret", p.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token revocation failed with status %d", resp.StatusCode)
	}

	return nil
}

var _ Provider = (*Upstream)(nil)
