package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultIntrospectionTimeout  = 5 * time.Second
	defaultIntrospectionCacheTTL = 60 * time.Second
	defaultNegativeCacheTTL      = 15 * time.Second
	maxIntrospectionCacheEntries = 10000
)

// IntrospectionConfig configures remote token verification per RFC 7662.
type IntrospectionConfig struct {
	// Endpoint is the authorization server's introspection endpoint
	Endpoint string

	// ClientID and ClientSecret authenticate this resource server at the
	// endpoint via HTTP Basic auth
	ClientID     string
	ClientSecret string

	// Scopes every verified token must carry
	Scopes []string

	// HTTPClient overrides the default 5s-timeout client
	HTTPClient *http.Client

	// CacheTTL bounds how long an active result is reused; the token's own
	// exp shortens it further. NegativeCacheTTL covers inactive results.
	CacheTTL         time.Duration
	NegativeCacheTTL time.Duration

	// Logger for verification events (nil uses slog.Default())
	Logger *slog.Logger
}

type introspectionEntry struct {
	identity  *AccessToken
	inactive  bool
	expiresAt time.Time
}

// IntrospectionVerifier validates opaque (or JWT) bearer tokens by asking
// the authorization server, caching results to keep the endpoint off the
// hot path.
type IntrospectionVerifier struct {
	endpoint       string
	clientID       string
	clientSecret   string
	requiredScopes []string
	httpClient     *http.Client
	logger         *slog.Logger

	cacheTTL         time.Duration
	negativeCacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]introspectionEntry
}

// NewIntrospectionVerifier creates a verifier for the given endpoint.
func NewIntrospectionVerifier(cfg *IntrospectionConfig) (*IntrospectionVerifier, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("introspection endpoint is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultIntrospectionTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultIntrospectionCacheTTL
	}
	negativeTTL := cfg.NegativeCacheTTL
	if negativeTTL <= 0 {
		negativeTTL = defaultNegativeCacheTTL
	}

	return &IntrospectionVerifier{
		endpoint:         cfg.Endpoint,
		clientID:         cfg.ClientID,
		clientSecret:     cfg.ClientSecret,
		requiredScopes:   append([]string(nil), cfg.Scopes...),
		httpClient:       httpClient,
		logger:           logger,
		cacheTTL:         cacheTTL,
		negativeCacheTTL: negativeTTL,
		cache:            make(map[string]introspectionEntry),
	}, nil
}

// RequiredScopes returns the scopes every token must carry
func (v *IntrospectionVerifier) RequiredScopes() []string {
	return append([]string(nil), v.requiredScopes...)
}

// VerifyToken introspects the token and returns the identity it proves.
func (v *IntrospectionVerifier) VerifyToken(ctx context.Context, raw string) (*AccessToken, error) {
	if raw == "" {
		return nil, unauthenticated("%w", ErrNoToken)
	}

	if entry, ok := v.load(raw); ok {
		if entry.inactive {
			return nil, unauthenticated("inactive token")
		}
		return entry.identity, nil
	}

	payload, err := v.introspect(ctx, raw)
	if err != nil {
		return nil, err
	}

	active, _ := payload["active"].(bool)
	if !active {
		v.store(raw, introspectionEntry{inactive: true, expiresAt: time.Now().Add(v.negativeCacheTTL)})
		return nil, unauthenticated("inactive token")
	}

	identity := introspectionToAccessToken(raw, payload)

	// The endpoint said active, but trust exp independently: a stale
	// introspection response must not extend a token's lifetime.
	if identity.ExpiresAt != nil && time.Unix(*identity.ExpiresAt, 0).Before(time.Now()) {
		v.store(raw, introspectionEntry{inactive: true, expiresAt: time.Now().Add(v.negativeCacheTTL)})
		return nil, unauthenticated("%w", ErrTokenExpired)
	}

	if err := checkScopes(v.requiredScopes, identity.Scopes); err != nil {
		return nil, err
	}

	ttl := v.cacheTTL
	if identity.ExpiresAt != nil {
		if remaining := time.Until(time.Unix(*identity.ExpiresAt, 0)); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		v.store(raw, introspectionEntry{identity: identity, expiresAt: time.Now().Add(ttl)})
	}

	return identity, nil
}

func (v *IntrospectionVerifier) introspect(ctx context.Context, raw string) (map[string]any, error) {
	form := url.Values{}
	form.Set("token", raw)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if v.clientID != "" {
		req.SetBasicAuth(v.clientID, v.clientSecret)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, unauthenticated("introspection call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, unauthenticated("failed to read introspection response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// Not cached: a non-200 is an endpoint failure, not an authoritative
		// statement about the token. Only active=false responses are
		// negative-cached.
		return nil, unauthenticated("introspection failed with status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, unauthenticated("failed to decode introspection response: %w", err)
	}
	return payload, nil
}

func (v *IntrospectionVerifier) load(token string) (introspectionEntry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.cache[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return introspectionEntry{}, false
	}
	return entry, true
}

func (v *IntrospectionVerifier) store(token string, entry introspectionEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.cache) >= maxIntrospectionCacheEntries {
		now := time.Now()
		for k, e := range v.cache {
			if now.After(e.expiresAt) {
				delete(v.cache, k)
			}
		}
		// Still full after purging expired entries: drop one arbitrary
		// entry rather than growing without bound.
		if len(v.cache) >= maxIntrospectionCacheEntries {
			for k := range v.cache {
				delete(v.cache, k)
				break
			}
		}
	}

	v.cache[token] = entry
}

// introspectionToAccessToken surfaces every response field as a claim and
// maps the well-known ones onto first-class identity fields.
func introspectionToAccessToken(raw string, payload map[string]any) *AccessToken {
	identity := &AccessToken{
		Token:  raw,
		Claims: payload,
		Scopes: parseScopes(payload["scope"]),
	}

	if cid, _ := payload["client_id"].(string); cid != "" {
		identity.ClientID = cid
	} else if sub, _ := payload["sub"].(string); sub != "" {
		identity.ClientID = sub
	}

	switch exp := payload["exp"].(type) {
	case float64:
		ts := int64(exp)
		identity.ExpiresAt = &ts
	case json.Number:
		if n, err := exp.Int64(); err == nil {
			identity.ExpiresAt = &n
		}
	}

	return identity
}

var _ Verifier = (*IntrospectionVerifier)(nil)
