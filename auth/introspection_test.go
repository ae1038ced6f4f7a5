package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// introspectionServer is a fake RFC 7662 endpoint with a per-token response
// table and a call counter for cache assertions.
type introspectionServer struct {
	responses map[string]map[string]any
	calls     atomic.Int64
	failing   atomic.Bool
	srv       *httptest.Server

	lastClientID string
	lastSecret   string
}

func newIntrospectionServer(t *testing.T) *introspectionServer {
	t.Helper()
	s := &introspectionServer{responses: make(map[string]map[string]any)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if s.failing.Load() {
			http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
			return
		}
		s.lastClientID, s.lastSecret, _ = r.BasicAuth()

		require.NoError(t, r.ParseForm())
		token := r.PostFormValue("token")

		payload, ok := s.responses[token]
		if !ok {
			payload = map[string]any{"active": false}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func newIntrospectionVerifier(t *testing.T, s *introspectionServer, mutate func(cfg *IntrospectionConfig)) *IntrospectionVerifier {
	t.Helper()
	cfg := &IntrospectionConfig{
		Endpoint:     s.srv.URL,
		ClientID:     "resource-server",
		ClientSecret: "resource-secret",
	}
	if mutate != nil {
		mutate(cfg)
	}
	v, err := NewIntrospectionVerifier(cfg)
	require.NoError(t, err)
	return v
}

func activePayload() map[string]any {
	return map[string]any{
		"active":    true,
		"client_id": "client-7",
		"sub":       "user-7",
		"scope":     "openid mcp:read",
		"exp":       float64(time.Now().Add(time.Hour).Unix()),
	}
}

func TestIntrospectionVerifier_ActiveToken(t *testing.T) {
	s := newIntrospectionServer(t)
	s.responses["tok-1"] = activePayload()
	v := newIntrospectionVerifier(t, s, nil)

	identity, err := v.VerifyToken(context.Background(), "tok-1")
	require.NoError(t, err)

	assert.Equal(t, "client-7", identity.ClientID)
	assert.Equal(t, []string{"openid", "mcp:read"}, identity.Scopes)
	require.NotNil(t, identity.ExpiresAt)
	assert.Equal(t, "user-7", identity.Claims["sub"])

	// The resource server authenticated itself at the endpoint
	assert.Equal(t, "resource-server", s.lastClientID)
	assert.Equal(t, "resource-secret", s.lastSecret)
}

func TestIntrospectionVerifier_InactiveToken(t *testing.T) {
	s := newIntrospectionServer(t)
	v := newIntrospectionVerifier(t, s, nil)

	_, err := v.VerifyToken(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIntrospectionVerifier_EmptyToken(t *testing.T) {
	s := newIntrospectionServer(t)
	v := newIntrospectionVerifier(t, s, nil)

	_, err := v.VerifyToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int64(0), s.calls.Load(), "empty token must not reach the endpoint")
}

func TestIntrospectionVerifier_PositiveCache(t *testing.T) {
	s := newIntrospectionServer(t)
	s.responses["tok-1"] = activePayload()
	v := newIntrospectionVerifier(t, s, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := v.VerifyToken(ctx, "tok-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), s.calls.Load(), "repeated verifications should hit the cache")
}

func TestIntrospectionVerifier_NegativeCache(t *testing.T) {
	s := newIntrospectionServer(t)
	v := newIntrospectionVerifier(t, s, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := v.VerifyToken(ctx, "bad-token")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	}
	assert.Equal(t, int64(1), s.calls.Load(), "inactive results should be cached too")
}

func TestIntrospectionVerifier_CacheExpiry(t *testing.T) {
	s := newIntrospectionServer(t)
	s.responses["tok-1"] = activePayload()
	v := newIntrospectionVerifier(t, s, func(cfg *IntrospectionConfig) {
		cfg.CacheTTL = 30 * time.Millisecond
	})
	ctx := context.Background()

	_, err := v.VerifyToken(ctx, "tok-1")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = v.VerifyToken(ctx, "tok-1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), s.calls.Load(), "expired cache entry should trigger re-introspection")
}

func TestIntrospectionVerifier_ExpOverridesActive(t *testing.T) {
	s := newIntrospectionServer(t)
	payload := activePayload()
	payload["exp"] = float64(time.Now().Add(-time.Minute).Unix())
	s.responses["stale"] = payload
	v := newIntrospectionVerifier(t, s, nil)

	// The endpoint claims active but exp is in the past; exp wins
	_, err := v.VerifyToken(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIntrospectionVerifier_RequiredScopes(t *testing.T) {
	s := newIntrospectionServer(t)
	s.responses["tok-1"] = activePayload()
	v := newIntrospectionVerifier(t, s, func(cfg *IntrospectionConfig) {
		cfg.Scopes = []string{"mcp:admin"}
	})

	_, err := v.VerifyToken(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrMissingScopes)
}

func TestIntrospectionVerifier_EndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	v, err := NewIntrospectionVerifier(&IntrospectionConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = v.VerifyToken(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIntrospectionVerifier_EndpointErrorNotCached(t *testing.T) {
	s := newIntrospectionServer(t)
	s.responses["tok-1"] = activePayload()
	v := newIntrospectionVerifier(t, s, nil)
	ctx := context.Background()

	// An outage must not mark the token inactive for the negative TTL
	s.failing.Store(true)
	_, err := v.VerifyToken(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	s.failing.Store(false)
	identity, err := v.VerifyToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "client-7", identity.ClientID)
	assert.Equal(t, int64(2), s.calls.Load(), "recovery must re-introspect instead of serving a cached failure")
}

func TestIntrospectionVerifier_SubFallback(t *testing.T) {
	s := newIntrospectionServer(t)
	payload := activePayload()
	delete(payload, "client_id")
	s.responses["tok-1"] = payload
	v := newIntrospectionVerifier(t, s, nil)

	identity, err := v.VerifyToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-7", identity.ClientID)
}

func TestNewIntrospectionVerifier_RequiresEndpoint(t *testing.T) {
	_, err := NewIntrospectionVerifier(&IntrospectionConfig{})
	assert.Error(t, err)
}
