package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Authorization flow events

	// EventAuthorizationFlowStarted is logged when an authorization flow is initiated
	EventAuthorizationFlowStarted = "authorization_flow_started"

	// EventCallbackProcessed is logged when an upstream callback is accepted
	EventCallbackProcessed = "callback_processed"

	// EventClientCodeIssued is logged when a proxy one-time code is issued
	EventClientCodeIssued = "client_code_issued"

	// EventCodeExchanged is logged when a client code is exchanged for tokens
	EventCodeExchanged = "code_exchanged"

	// EventTransactionRejected is logged when a callback presents a missing or
	// expired transaction
	EventTransactionRejected = "transaction_rejected"

	// Token lifecycle events

	// EventTokenRefreshed is logged when a refresh grant is forwarded upstream
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked = "token_revoked"

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// Security violation events

	// EventAuthFailure is logged when authentication fails
	EventAuthFailure = "auth_failure"

	// EventAuthorizationDenied is logged when the RPC authorization gate
	// rejects a call
	EventAuthorizationDenied = "authorization_denied"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidPKCE is logged when PKCE validation fails
	EventInvalidPKCE = "invalid_pkce"

	// EventRedirectMismatch is logged when a redirect URI fails validation
	EventRedirectMismatch = "redirect_mismatch"
)
