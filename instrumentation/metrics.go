package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the bridge
type Metrics struct {
	// RPC dispatch metrics
	RPCRequestsTotal   metric.Int64Counter
	RPCRequestDuration metric.Float64Histogram
	RPCErrorsTotal     metric.Int64Counter

	// HTTP layer metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth flow metrics
	AuthorizationStarted metric.Int64Counter
	CallbackProcessed    metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	ClientRegistered     metric.Int64Counter

	// Token verification metrics
	TokenVerifications metric.Int64Counter

	// Security metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	AuthorizationDenied  metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	rpcMeter := inst.Meter("rpc")
	httpMeter := inst.Meter("http")
	proxyMeter := inst.Meter("proxy")
	authMeter := inst.Meter("auth")
	securityMeter := inst.Meter("security")

	var err error
	m.RPCRequestsTotal, err = rpcMeter.Int64Counter(
		"rpc.requests.total",
		metric.WithDescription("Total number of JSON-RPC requests dispatched"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc.requests.total counter: %w", err)
	}

	m.RPCRequestDuration, err = rpcMeter.Float64Histogram(
		"rpc.request.duration",
		metric.WithDescription("JSON-RPC request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc.request.duration histogram: %w", err)
	}

	m.RPCErrorsTotal, err = rpcMeter.Int64Counter(
		"rpc.errors.total",
		metric.WithDescription("Total number of JSON-RPC error responses"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc.errors.total counter: %w", err)
	}

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.AuthorizationStarted, err = proxyMeter.Int64Counter(
		"oauth.authorization.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.authorization.started counter: %w", err)
	}

	m.CallbackProcessed, err = proxyMeter.Int64Counter(
		"oauth.callback.processed",
		metric.WithDescription("Number of upstream callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.callback.processed counter: %w", err)
	}

	m.CodeExchanged, err = proxyMeter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of client codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = proxyMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of tokens refreshed upstream"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.token.refreshed counter: %w", err)
	}

	m.TokenRevoked, err = proxyMeter.Int64Counter(
		"oauth.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.token.revoked counter: %w", err)
	}

	m.ClientRegistered, err = proxyMeter.Int64Counter(
		"oauth.client.registered",
		metric.WithDescription("Number of clients registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.client.registered counter: %w", err)
	}

	m.TokenVerifications, err = authMeter.Int64Counter(
		"auth.token.verifications",
		metric.WithDescription("Number of bearer token verification attempts"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.token.verifications counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"security.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security.rate_limit.exceeded counter: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"security.pkce.validation_failed",
		metric.WithDescription("Number of PKCE validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security.pkce.validation_failed counter: %w", err)
	}

	m.AuthorizationDenied, err = securityMeter.Int64Counter(
		"security.authorization.denied",
		metric.WithDescription("Number of RPC calls denied by the authorization gate"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security.authorization.denied counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordRPCRequest records a dispatched JSON-RPC request
func (m *Metrics) RecordRPCRequest(ctx context.Context, method string, errorCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("rpc.method", method),
	}
	m.RPCRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.RPCRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))

	if errorCode != 0 {
		m.RPCErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.Int("rpc.error_code", errorCode),
		))
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records an authorization flow start
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCallbackProcessed records an upstream callback processing
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, clientID string, success bool) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success),
	))
}

// RecordCodeExchange records a client code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordTokenRefresh records a token refresh operation
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordTokenVerification records a bearer token verification attempt
func (m *Metrics) RecordTokenVerification(ctx context.Context, strategy string, valid bool) {
	m.TokenVerifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("valid", valid),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordAuthorizationDenied records an authorization gate denial
func (m *Metrics) RecordAuthorizationDenied(ctx context.Context, method string) {
	m.AuthorizationDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rpc.method", method),
	))
}
