package oidc

import (
	"context"
	"testing"
)

func TestNew_RequiresIssuerAndClientID(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, &Config{ClientID: "bridge"}); err == nil {
		t.Error("New() accepted config without issuer URL")
	}
	if _, err := New(ctx, &Config{IssuerURL: "https://idp.example.com"}); err == nil {
		t.Error("New() accepted config without client ID")
	}
}

func TestNew_RejectsInvalidScopes(t *testing.T) {
	scopes := make([]string, 51)
	for i := range scopes {
		scopes[i] = "s"
	}

	_, err := New(context.Background(), &Config{
		IssuerURL: "https://idp.example.com",
		ClientID:  "bridge",
		Scopes:    scopes,
	})
	if err == nil {
		t.Error("New() accepted an oversized scope list")
	}
}
