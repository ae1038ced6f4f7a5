package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/mcp-bridge/auth"
	"github.com/giantswarm/mcp-bridge/mcp"
	"github.com/giantswarm/mcp-bridge/providers/mock"
	"github.com/giantswarm/mcp-bridge/storage/memory"
)

// stubVerifier accepts exactly one token and refuses everything else.
type stubVerifier struct {
	accept   string
	identity *auth.AccessToken
}

func (v *stubVerifier) VerifyToken(ctx context.Context, raw string) (*auth.AccessToken, error) {
	if raw == v.accept {
		return v.identity, nil
	}
	return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthenticated)
}

func (v *stubVerifier) RequiredScopes() []string { return nil }

func newTestRegistry(t *testing.T) *mcp.Registry {
	t.Helper()
	reg := mcp.NewRegistry()
	reg.MustRegister(&mcp.MethodDescriptor{
		Name: "echo",
		Kind: mcp.KindTool,
		Params: []mcp.ParamSpec{
			{Name: "text", Kind: mcp.ParamString, Required: true},
		},
		Handler: func(ctx context.Context, call *mcp.Call) (any, error) {
			text, _ := call.String("text")
			return map[string]any{"text": text}, nil
		},
	})
	reg.MustRegister(&mcp.MethodDescriptor{
		Name: "whoami",
		Kind: mcp.KindTool,
		Auth: &mcp.Requirement{},
		Handler: func(ctx context.Context, call *mcp.Call) (any, error) {
			return map[string]any{"client_id": call.Identity.ClientID}, nil
		},
	})
	return reg
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := &Config{
		ServerName: "bridge-test",
		Issuer:     "https://bridge.example.com",
		Registry:   newTestRegistry(t),
		Verifier: &stubVerifier{
			accept:   "good-token",
			identity: &auth.AccessToken{ClientID: "client-1", Scopes: []string{"mcp:read"}},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func postRPC(t *testing.T, h http.Handler, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) *mcp.Response {
	t.Helper()
	var resp mcp.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v (body %q)", err, rec.Body.String())
	}
	return &resp
}

func TestNewServer_RequiresRegistry(t *testing.T) {
	if _, err := NewServer(&Config{}); err == nil {
		t.Error("NewServer() accepted a config without a registry")
	}
	if _, err := NewServer(nil); err == nil {
		t.Error("NewServer() accepted a nil config")
	}
}

func TestServer_ToolCall(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := postRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"text":"hi"}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["text"] != "hi" {
		t.Errorf("result = %v", resp.Result)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID header")
	}
}

func TestServer_Notification(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := postRPC(t, h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("notification response has body %q", rec.Body.String())
	}
}

func TestServer_ParseError(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := postRPC(t, h, `{not json`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != mcp.CodeParseError {
		t.Errorf("error = %+v, want code %d", resp.Error, mcp.CodeParseError)
	}
}

func TestServer_BodyTooLarge(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) { cfg.MaxRequestBody = 64 })

	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"echo","params":{"text":%q}}`, strings.Repeat("x", 128))
	rec := postRPC(t, srv.Handler(), body, "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestServer_ValidTokenReachesHandler(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := postRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"whoami"}`, "good-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	result, ok := resp.Result.(map[string]any)
	if !ok || result["client_id"] != "client-1" {
		t.Errorf("result = %v", resp.Result)
	}
}

func TestServer_InvalidTokenRefused(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := postRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"text":"hi"}}`, "bad-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != mcp.CodeUnauthorized {
		t.Errorf("error = %+v, want code %d", resp.Error, mcp.CodeUnauthorized)
	}
	challenge := rec.Header().Get("WWW-Authenticate")
	if !strings.Contains(challenge, `Bearer realm="mcp"`) {
		t.Errorf("WWW-Authenticate = %q", challenge)
	}
	if !strings.Contains(challenge, "/.well-known/oauth-protected-resource") {
		t.Errorf("WWW-Authenticate lacks resource metadata pointer: %q", challenge)
	}
}

func TestServer_AnonymousGatedMethodRefused(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := postRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"whoami"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != mcp.CodeUnauthorized {
		t.Errorf("error = %+v", resp.Error)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 response missing WWW-Authenticate header")
	}
}

func TestServer_BearerWithoutVerifierRefused(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) { cfg.Verifier = nil })

	rec := postRPC(t, srv.Handler(), `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"text":"hi"}}`, "any-token")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestServer_OAuthEndpointsMounted(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	srv := newTestServer(t, func(cfg *Config) {
		cfg.Provider = mock.New()
		cfg.Clients = store
		cfg.Transactions = store
		cfg.Codes = store
		cfg.RedirectURIPatterns = []string{"https://example.com/*"}
	})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metadata status = %d", rec.Code)
	}
	var meta map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if meta["issuer"] != "https://bridge.example.com" {
		t.Errorf("issuer = %v", meta["issuer"])
	}
}

func TestServer_ForwardPKCEDisabled(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	forward := false
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Provider = mock.New()
		cfg.Clients = store
		cfg.Transactions = store
		cfg.Codes = store
		cfg.RedirectURIPatterns = []string{"https://example.com/*"}
		cfg.ForwardPKCE = &forward
	})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/register",
		strings.NewReader(`{"redirect_uris":["https://example.com/callback"]}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	var reg struct {
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("register response does not parse: %v", err)
	}

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {reg.ClientID},
		"redirect_uri":          {"https://example.com/callback"},
		"state":                 {"state-1"},
		"code_challenge":        {strings.Repeat("c", 43)},
		"code_challenge_method": {"S256"},
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, body %s", rec.Code, rec.Body.String())
	}

	upstream, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("upstream redirect does not parse: %v", err)
	}
	if got := upstream.Query().Get("code_challenge"); got != "" {
		t.Errorf("upstream URL carries code_challenge %q with forwarding disabled", got)
	}
	if upstream.Query().Get("state") == "" {
		t.Error("upstream URL missing substituted state")
	}
}

func TestServer_OAuthDisabledWithoutProvider(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(req); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = "203.0.113.9:12345"
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("clientIP() = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := clientIP(req); got != "198.51.100.7" {
		t.Errorf("clientIP() with X-Forwarded-For = %q", got)
	}
}
