package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testDocument(issuer string) *DiscoveryDocument {
	return &DiscoveryDocument{
		Issuer:                 issuer,
		AuthorizationEndpoint:  issuer + "/authorize",
		TokenEndpoint:          issuer + "/token",
		JWKSUri:                issuer + "/jwks",
		RevocationEndpoint:     issuer + "/revoke",
		IntrospectionEndpoint:  issuer + "/introspect",
		ResponseTypesSupported: []string{"code"},
	}
}

// newDiscoveryServer serves a discovery document claiming an https issuer,
// regardless of the test server's own scheme.
func newDiscoveryServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(testDocument("https://idp.example.com"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoveryClient_Discover(t *testing.T) {
	srv := newDiscoveryServer(t, nil)

	c := NewDiscoveryClient(nil, 0, nil)
	c.skipValidation = true

	doc, err := c.Discover(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if doc.TokenEndpoint != "https://idp.example.com/token" {
		t.Errorf("token endpoint = %q", doc.TokenEndpoint)
	}
	if doc.IntrospectionEndpoint != "https://idp.example.com/introspect" {
		t.Errorf("introspection endpoint = %q", doc.IntrospectionEndpoint)
	}
}

func TestDiscoveryClient_Caches(t *testing.T) {
	var calls atomic.Int64
	srv := newDiscoveryServer(t, &calls)

	c := NewDiscoveryClient(nil, time.Hour, nil)
	c.skipValidation = true
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Discover(ctx, srv.URL); err != nil {
			t.Fatalf("Discover() error = %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("discovery endpoint hit %d times, want 1", got)
	}

	c.ClearCache()
	if _, err := c.Discover(ctx, srv.URL); err != nil {
		t.Fatalf("Discover() after ClearCache error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("discovery endpoint hit %d times after cache clear, want 2", got)
	}
}

func TestDiscoveryClient_RejectsHTTPEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(testDocument("http://plain.example.com"))
	}))
	defer srv.Close()

	c := NewDiscoveryClient(nil, 0, nil)
	c.skipValidation = true

	if _, err := c.Discover(context.Background(), srv.URL); err == nil {
		t.Error("Discover() accepted a document with plain-http endpoints")
	}
}

func TestDiscoveryClient_RejectsIncompleteDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := testDocument("https://idp.example.com")
		doc.TokenEndpoint = ""
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	c := NewDiscoveryClient(nil, 0, nil)
	c.skipValidation = true

	if _, err := c.Discover(context.Background(), srv.URL); err == nil {
		t.Error("Discover() accepted a document without a token endpoint")
	}
}

func TestDiscoveryClient_ValidatesIssuerURL(t *testing.T) {
	c := NewDiscoveryClient(nil, 0, nil)

	if _, err := c.Discover(context.Background(), "http://169.254.169.254"); err == nil {
		t.Error("Discover() accepted a non-https issuer")
	}
}

func TestValidateIssuerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https", "https://accounts.example.com", false},
		{"plain http", "http://accounts.example.com", true},
		{"loopback ip", "https://127.0.0.1/issuer", true},
		{"private ip", "https://10.0.0.5", true},
		{"link local", "https://169.254.169.254", true},
		{"no host", "https://", true},
		{"public ip", "https://93.184.216.34", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIssuerURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIssuerURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateScopes(t *testing.T) {
	if err := ValidateScopes([]string{"openid", "email"}); err != nil {
		t.Errorf("ValidateScopes() error = %v", err)
	}

	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = "scope"
	}
	if err := ValidateScopes(tooMany); err == nil {
		t.Error("ValidateScopes() accepted more than 50 scopes")
	}
}
