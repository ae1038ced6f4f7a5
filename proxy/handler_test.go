package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/mcp-bridge/auth"
	"github.com/giantswarm/mcp-bridge/internal/testutil"
	"github.com/giantswarm/mcp-bridge/security"
)

func newTestHandler(t *testing.T, mutate func(cfg *Config)) (*Handler, *http.ServeMux) {
	t.Helper()

	p, _, _ := newTestProxy(t, mutate)
	h, err := NewHandler(&HandlerConfig{
		Proxy: p,
		// Generous limits so unrelated tests never trip the limiter
		RegisterLimiter: security.NewRateLimiter(1000, 1000, nil),
		TokenLimiter:    security.NewRateLimiter(1000, 1000, nil),
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return h, mux
}

// registerViaHTTP registers a client through the HTTP endpoint
func registerViaHTTP(t *testing.T, mux *http.ServeMux, body string) *ClientRegistrationResponse {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ClientRegistrationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("register response does not parse: %v", err)
	}
	return &resp
}

func TestHandler_FullAuthorizationCodeFlow(t *testing.T) {
	_, mux := newTestHandler(t, nil)

	client := registerViaHTTP(t, mux, `{
		"redirect_uris": ["https://example.com/callback"],
		"client_name": "flow test"
	}`)

	// Authorize: expect a redirect to the upstream provider
	challenge, verifier := testutil.GeneratePKCEPair()
	authQuery := url.Values{
		"response_type":         {"code"},
		"client_id":             {client.ClientID},
		"redirect_uri":          {"https://example.com/callback"},
		"scope":                 {"openid"},
		"state":                 {"client-state-42"},
		"code_challenge":        {challenge},
		"code_challenge_method": {PKCEMethodS256},
	}
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+authQuery.Encode(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, body %s", rec.Code, rec.Body.String())
	}

	upstream, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("upstream redirect does not parse: %v", err)
	}
	upstreamState := upstream.Query().Get("state")

	// Callback from the upstream provider
	cbQuery := url.Values{"state": {upstreamState}, "code": {"upstream-code-xyz"}}
	req = httptest.NewRequest(http.MethodGet, "/oauth/callback?"+cbQuery.Encode(), nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("callback status = %d, body %s", rec.Code, rec.Body.String())
	}

	downstream, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("downstream redirect does not parse: %v", err)
	}
	if got := downstream.Query().Get("state"); got != "client-state-42" {
		t.Errorf("callback state = %q, want the client's original state", got)
	}
	code := downstream.Query().Get("code")
	if code == "" {
		t.Fatal("callback redirect carries no code")
	}

	// Token exchange with Basic client authentication
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://example.com/callback"},
		"code_verifier": {verifier},
	}
	req = httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(client.ClientID, client.ClientSecret)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %s", rec.Code, rec.Body.String())
	}

	var token TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &token); err != nil {
		t.Fatalf("token response does not parse: %v", err)
	}
	if token.AccessToken == "" {
		t.Error("token response has no access token")
	}
	if token.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", token.TokenType)
	}
	if token.Scope != "openid" {
		t.Errorf("scope = %q, want openid", token.Scope)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestHandler_TokenWrongSecret(t *testing.T) {
	_, mux := newTestHandler(t, nil)
	client := registerViaHTTP(t, mux, `{"redirect_uris": ["https://example.com/callback"]}`)

	form := url.Values{"grant_type": {"authorization_code"}, "code": {"any"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(client.ClientID, "wrong-secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("error response does not parse: %v", err)
	}
	if errResp.Error != ErrorCodeInvalidClient {
		t.Errorf("error = %q, want invalid_client", errResp.Error)
	}
}

func TestHandler_TokenUnsupportedGrant(t *testing.T) {
	_, mux := newTestHandler(t, nil)
	client := registerViaHTTP(t, mux, `{"redirect_uris": ["https://example.com/callback"]}`)

	form := url.Values{"grant_type": {"password"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(client.ClientID, client.ClientSecret)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_AuthorizeWrongResponseType(t *testing.T) {
	_, mux := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?response_type=token", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_CallbackUpstreamError(t *testing.T) {
	_, mux := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?error=access_denied&error_description=user+said+no", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("error response does not parse: %v", err)
	}
	if errResp.Error != "access_denied" {
		t.Errorf("error = %q, want access_denied", errResp.Error)
	}
}

func TestHandler_Revoke(t *testing.T) {
	_, mux := newTestHandler(t, nil)

	form := url.Values{"token": {"some-token"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHandler_AuthorizationServerMetadata(t *testing.T) {
	_, mux := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var metadata AuthorizationServerMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &metadata); err != nil {
		t.Fatalf("metadata does not parse: %v", err)
	}
	if metadata.Issuer != "https://bridge.example.com" {
		t.Errorf("issuer = %q", metadata.Issuer)
	}
	if metadata.TokenEndpoint != "https://bridge.example.com/oauth/token" {
		t.Errorf("token_endpoint = %q", metadata.TokenEndpoint)
	}
	if len(metadata.CodeChallengeMethodsSupported) != 1 || metadata.CodeChallengeMethodsSupported[0] != PKCEMethodS256 {
		t.Errorf("code_challenge_methods_supported = %v, want [S256]", metadata.CodeChallengeMethodsSupported)
	}
}

func TestHandler_ProtectedResourceMetadata(t *testing.T) {
	_, mux := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var metadata ProtectedResourceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &metadata); err != nil {
		t.Fatalf("metadata does not parse: %v", err)
	}
	if len(metadata.AuthorizationServers) != 1 || metadata.AuthorizationServers[0] != "https://bridge.example.com" {
		t.Errorf("authorization_servers = %v", metadata.AuthorizationServers)
	}
}

func TestHandler_UserinfoWithoutVerifier(t *testing.T) {
	_, mux := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestHandler_Userinfo(t *testing.T) {
	p, _, _ := newTestProxy(t, nil)
	h, err := NewHandler(&HandlerConfig{
		Proxy:    p,
		Verifier: verifierFunc(func(ctx context.Context, raw string) (*auth.AccessToken, error) {
			if raw != "good-token" {
				return nil, auth.ErrUnauthenticated
			}
			return &auth.AccessToken{
				ClientID: "client-9",
				Claims:   map[string]any{"sub": "user-9", "email": "u@example.com"},
			}, nil
		}),
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	// Missing token
	req := httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 response has no WWW-Authenticate header")
	}

	// Valid token
	req = httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var claims map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &claims); err != nil {
		t.Fatalf("claims do not parse: %v", err)
	}
	if claims["sub"] != "user-9" {
		t.Errorf("sub = %v, want user-9", claims["sub"])
	}
}

func TestHandler_RateLimit(t *testing.T) {
	p, _, _ := newTestProxy(t, nil)
	limiter := security.NewRateLimiter(0.001, 1, nil)
	t.Cleanup(limiter.Stop)

	h, err := NewHandler(&HandlerConfig{
		Proxy:           p,
		RegisterLimiter: limiter,
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	body := `{"redirect_uris": ["https://example.com/callback"]}`
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	req.RemoteAddr = "198.51.100.7:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	req.RemoteAddr = "198.51.100.7:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second register status = %d, want 429", rec.Code)
	}
}

// verifierFunc adapts a function to auth.Verifier for tests
type verifierFunc func(ctx context.Context, raw string) (*auth.AccessToken, error)

func (f verifierFunc) VerifyToken(ctx context.Context, raw string) (*auth.AccessToken, error) {
	return f(ctx, raw)
}

func (f verifierFunc) RequiredScopes() []string { return nil }
