package proxy

import (
	"fmt"
	"net/http"
)

// OAuth 2.0 error codes from RFC 6749
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeInvalidClient  = "invalid_client"
	ErrorCodeInvalidGrant   = "invalid_grant"
	ErrorCodeInvalidScope   = "invalid_scope"
	ErrorCodeServerError    = "server_error"
)

// FlowKind classifies an OAuth flow failure. Callers branch on the kind
// instead of matching error strings.
type FlowKind int

const (
	// FlowNotFound: the transaction, code, or client does not exist
	FlowNotFound FlowKind = iota

	// FlowExpired: the transaction or code outlived its TTL
	FlowExpired

	// FlowRedirectMismatch: the redirect URI is unregistered or differs
	// from the one recorded on the code
	FlowRedirectMismatch

	// FlowInvalidVerifier: PKCE verification failed
	FlowInvalidVerifier

	// FlowInvalidClient: unknown client or bad client credentials
	FlowInvalidClient

	// FlowUpstreamFailure: the upstream provider call failed
	FlowUpstreamFailure
)

// String returns the kind name for logs
func (k FlowKind) String() string {
	switch k {
	case FlowNotFound:
		return "not_found"
	case FlowExpired:
		return "expired"
	case FlowRedirectMismatch:
		return "redirect_mismatch"
	case FlowInvalidVerifier:
		return "invalid_verifier"
	case FlowInvalidClient:
		return "invalid_client"
	case FlowUpstreamFailure:
		return "upstream_failure"
	default:
		return "unknown"
	}
}

// FlowError is an OAuth flow failure with an explicit kind. The description
// is safe to return to clients; upstream error bodies never pass through it.
type FlowError struct {
	Kind        FlowKind
	Description string
}

// Error implements the error interface
func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// OAuthError maps the kind onto the RFC 6749 error code and HTTP status the
// token endpoint reports.
func (e *FlowError) OAuthError() (code string, status int) {
	switch e.Kind {
	case FlowNotFound, FlowExpired, FlowRedirectMismatch, FlowInvalidVerifier:
		return ErrorCodeInvalidGrant, http.StatusBadRequest
	case FlowInvalidClient:
		return ErrorCodeInvalidClient, http.StatusUnauthorized
	case FlowUpstreamFailure:
		return ErrorCodeServerError, http.StatusBadGateway
	default:
		return ErrorCodeInvalidRequest, http.StatusBadRequest
	}
}

func flowErr(kind FlowKind, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Description: fmt.Sprintf(format, args...)}
}
