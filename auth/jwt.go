package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/giantswarm/mcp-bridge/providers/oidc"
)

// defaultClockSkew tolerates modest clock drift between the authorization
// server and this process.
const defaultClockSkew = 30 * time.Second

// JWTConfig configures local JWT verification.
type JWTConfig struct {
	// Issuer is the expected iss claim. When JWKSURL is empty the issuer's
	// OIDC discovery document supplies the key-set URL.
	Issuer string

	// Audience is the expected aud claim (empty skips the check)
	Audience string

	// JWKSURL overrides discovery with an explicit key-set URL
	JWKSURL string

	// Scopes every verified token must carry
	Scopes []string

	// ClockSkew is the acceptable leeway for time-based claims (default 30s)
	ClockSkew time.Duration

	// HTTPClient is used for discovery and key-set fetches
	HTTPClient *http.Client

	// Logger for key-set events (nil uses slog.Default())
	Logger *slog.Logger
}

// JWTVerifier validates JWT bearer tokens against a cached JWKS.
type JWTVerifier struct {
	issuer         string
	audience       string
	jwksURL        string
	requiredScopes []string
	clockSkew      time.Duration
	cache          *jwk.Cache
	logger         *slog.Logger

	// JWKS registration is deferred to first use so construction never
	// blocks on the network. Only success is latched; a failed attempt is
	// retried on the next verification.
	registerMu sync.Mutex
	registered bool
}

// NewJWTVerifier creates a verifier. The key-set URL comes from cfg.JWKSURL
// or, when empty, from the issuer's discovery document.
func NewJWTVerifier(ctx context.Context, cfg *JWTConfig) (*JWTVerifier, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		if cfg.Issuer == "" {
			return nil, fmt.Errorf("either issuer or JWKS URL must be provided")
		}
		doc, err := oidc.NewDiscoveryClient(httpClient, 0, logger).Discover(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
		}
		jwksURL = doc.JWKSUri
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}

	return &JWTVerifier{
		issuer:         cfg.Issuer,
		audience:       cfg.Audience,
		jwksURL:        jwksURL,
		requiredScopes: append([]string(nil), cfg.Scopes...),
		clockSkew:      skew,
		cache:          cache,
		logger:         logger,
	}, nil
}

// RequiredScopes returns the scopes every token must carry
func (v *JWTVerifier) RequiredScopes() []string {
	return append([]string(nil), v.requiredScopes...)
}

// VerifyToken validates signature, issuer, audience, and lifetime, then
// checks the required scopes.
func (v *JWTVerifier) VerifyToken(ctx context.Context, raw string) (*AccessToken, error) {
	if raw == "" {
		return nil, unauthenticated("%w", ErrNoToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithLeeway(v.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		return v.keyFor(ctx, token)
	}, opts...)
	if err != nil {
		return nil, unauthenticated("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, unauthenticated("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, unauthenticated("unexpected claims type %T", token.Claims)
	}

	identity := claimsToAccessToken(raw, claims)
	if err := checkScopes(v.requiredScopes, identity.Scopes); err != nil {
		return nil, err
	}
	return identity, nil
}

// keyFor resolves the verification key for a token header. A kid absent from
// the cached set triggers one forced refresh, so key rotation at the issuer
// is picked up without waiting for the scheduled refetch.
func (v *JWTVerifier) keyFor(ctx context.Context, token *jwt.Token) (any, error) {
	if err := v.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := v.cache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		v.logger.Debug("kid not in cached key set, refreshing", "kid", kid)
		refreshed, rerr := v.cache.Refresh(ctx, v.jwksURL)
		if rerr != nil {
			return nil, fmt.Errorf("key ID %s not found and refresh failed: %w", kid, rerr)
		}
		key, found = refreshed.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
		}
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export verification key: %w", err)
	}
	return rawKey, nil
}

func (v *JWTVerifier) ensureRegistered(ctx context.Context) error {
	v.registerMu.Lock()
	defer v.registerMu.Unlock()
	if v.registered {
		return nil
	}

	registerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if v.cache.IsRegistered(registerCtx, v.jwksURL) {
		// A previous attempt registered the URL but its initial fetch
		// failed. Force a fetch now instead of waiting for the schedule.
		if _, err := v.cache.Refresh(registerCtx, v.jwksURL); err != nil {
			return fmt.Errorf("failed to fetch JWKS: %w", err)
		}
	} else if err := v.cache.Register(registerCtx, v.jwksURL); err != nil {
		return fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	v.registered = true
	return nil
}

// claimsToAccessToken maps verified claims onto the identity shape the
// dispatcher consumes.
func claimsToAccessToken(raw string, claims jwt.MapClaims) *AccessToken {
	identity := &AccessToken{
		Token:  raw,
		Claims: map[string]any(claims),
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		ts := exp.Unix()
		identity.ExpiresAt = &ts
	}

	// scope (RFC 6749 space-delimited) preferred, scp array as fallback
	if scopes := parseScopes(claims["scope"]); scopes != nil {
		identity.Scopes = scopes
	} else {
		identity.Scopes = parseScopes(claims["scp"])
	}

	identity.ClientID = resolveClientID(claims)
	return identity
}

// resolveClientID picks the best client identifier available: client_id
// (RFC 9068), azp (OIDC), sub, then the first audience entry.
func resolveClientID(claims jwt.MapClaims) string {
	for _, key := range []string{"client_id", "azp", "sub"} {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}
	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		return aud[0]
	}
	return ""
}

var _ Verifier = (*JWTVerifier)(nil)
