package mcpbridge

import (
	"log/slog"
	"time"

	"github.com/giantswarm/mcp-bridge/auth"
	"github.com/giantswarm/mcp-bridge/instrumentation"
	"github.com/giantswarm/mcp-bridge/mcp"
	"github.com/giantswarm/mcp-bridge/providers"
	"github.com/giantswarm/mcp-bridge/storage"
)

// Config assembles a bridge server: the RPC surface, the token verifier
// guarding it, and optionally the OAuth proxy endpoints in front of an
// upstream provider.
type Config struct {
	// ServerName and ServerVersion identify this server during the
	// initialize handshake
	ServerName    string
	ServerVersion string

	// Issuer is the externally visible base URL of this server
	Issuer string

	// Registry holds the tool, resource, and prompt descriptors. Required.
	Registry *mcp.Registry

	// Verifier validates bearer tokens on incoming RPC requests. Nil means
	// no identity is ever attached; combine with AllowAnonymous or every
	// gated method will be refused.
	Verifier auth.Verifier

	// AllowAnonymous lets requests without a verified identity reach
	// methods that carry no authorization requirement
	AllowAnonymous bool

	// Policies maps policy names referenced by method requirements to
	// predicate functions
	Policies map[string]mcp.PolicyFunc

	// Interceptors are applied around dispatch in registration order: the
	// first listed runs outermost. Logging, metrics, and tracing
	// interceptors are appended automatically.
	Interceptors []mcp.Interceptor

	// Provider enables the OAuth proxy endpoints. Nil disables /oauth/*
	// and the well-known metadata documents.
	Provider providers.Provider

	// Stores back the OAuth proxy. Required when Provider is set; ignored
	// otherwise.
	Clients      storage.ClientStore
	Transactions storage.TransactionStore
	Codes        storage.CodeStore

	// RedirectURIPatterns are glob patterns constraining downstream
	// redirect URIs. Empty accepts anything, which is insecure and logged.
	RedirectURIPatterns []string

	// SupportedScopes restricts requestable scopes (empty allows all)
	SupportedScopes []string

	// RequirePKCE defaults to true; AllowPKCEPlain defaults to false
	RequirePKCE    *bool
	AllowPKCEPlain bool

	// ForwardPKCE controls whether the downstream client's code challenge
	// is forwarded to the upstream provider. Defaults to true; disable only
	// for upstreams that reject PKCE parameters.
	ForwardPKCE *bool

	// TransactionTTL and CodeTTL override the flow defaults of ten and
	// five minutes
	TransactionTTL time.Duration
	CodeTTL        time.Duration

	// AuditEnabled turns on security event logging
	AuditEnabled bool

	// Instrumentation provides OpenTelemetry metrics and traces (nil
	// disables both)
	Instrumentation *instrumentation.Instrumentation

	// MaxRequestBody caps the RPC request size in bytes. Defaults to 1 MiB.
	MaxRequestBody int64

	Logger *slog.Logger
}
