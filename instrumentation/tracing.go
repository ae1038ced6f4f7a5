package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never log actual sensitive values (access tokens,
// authorization codes, client secrets, PKCE verifiers) in traces or metrics.
// Only log metadata such as token types, expiry times, and validation results.
const (
	// RPC dispatch attributes
	AttrRPCMethod    = "rpc.method"
	AttrRPCErrorCode = "rpc.error_code"
	AttrRPCKind      = "rpc.capability_kind" // tool, resource, prompt

	// OAuth flow attributes - metadata only, never credentials
	AttrClientID    = "oauth.client_id"
	AttrScope       = "oauth.scope"
	AttrPKCEMethod  = "oauth.pkce.method"
	AttrGrantType   = "oauth.grant_type"
	AttrRedirectURI = "oauth.redirect_uri"
	AttrError       = "oauth.error"

	// Security attributes
	AttrClientIP       = "security.client_ip"
	AttrAuditEventType = "security.audit.event_type"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddRPCAttributes adds dispatch attributes to a span (nil-safe)
func AddRPCAttributes(span trace.Span, method string, errorCode int) {
	SetSpanAttributes(span, attribute.String(AttrRPCMethod, method))
	if errorCode != 0 {
		SetSpanAttributes(span, attribute.Int(AttrRPCErrorCode, errorCode))
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, clientID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
