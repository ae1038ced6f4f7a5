package oidc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-bridge/providers"
)

// Config describes the upstream client to build from a discovery document.
type Config struct {
	// IssuerURL is the OIDC issuer to discover endpoints from
	IssuerURL string

	// ClientID and ClientSecret identify the bridge at the upstream
	ClientID     string
	ClientSecret string

	// RedirectURL is the bridge's callback endpoint
	RedirectURL string

	// Scopes requested upstream; defaults to openid, email, profile
	Scopes []string

	// HTTPClient is used for discovery and token requests
	HTTPClient *http.Client

	// DiscoveryTTL bounds how long the discovery document is cached
	DiscoveryTTL time.Duration

	// Logger for discovery events (nil uses slog.Default())
	Logger *slog.Logger
}

// New discovers the issuer's endpoints and returns a generic upstream
// provider wired to them.
func New(ctx context.Context, cfg *Config) (*providers.Upstream, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	if err := ValidateScopes(scopes); err != nil {
		return nil, fmt.Errorf("invalid scopes: %w", err)
	}

	client := NewDiscoveryClient(cfg.HTTPClient, cfg.DiscoveryTTL, cfg.Logger)
	doc, err := client.Discover(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery failed: %w", err)
	}

	return providers.New(&providers.Config{
		Name:          "oidc",
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		RedirectURL:   cfg.RedirectURL,
		Scopes:        scopes,
		AuthURL:       doc.AuthorizationEndpoint,
		TokenURL:      doc.TokenEndpoint,
		RevocationURL: doc.RevocationEndpoint,
		HTTPClient:    cfg.HTTPClient,
	})
}
