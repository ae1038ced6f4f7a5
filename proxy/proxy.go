// Package proxy implements the OAuth bridging façade: downstream clients
// register dynamically and run PKCE-protected authorization-code flows, while
// the proxy performs the actual OAuth dance against one pre-registered
// upstream client. The transaction id doubles as the upstream state
// parameter, which is the substitution that lets a single upstream
// registration serve any number of downstream clients.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-bridge/providers"
	"github.com/giantswarm/mcp-bridge/security"
	"github.com/giantswarm/mcp-bridge/storage"
)

// Default TTLs. A transaction covers the user's round-trip through the
// upstream login page; a client code only covers the client's immediate
// exchange call.
const (
	DefaultTransactionTTL = 10 * time.Minute
	DefaultCodeTTL        = 5 * time.Minute
)

// Token endpoint authentication methods (RFC 7591)
const (
	AuthMethodNone  = "none"
	AuthMethodBasic = "client_secret_basic"
	AuthMethodPost  = "client_secret_post"
)

// Config configures the proxy.
type Config struct {
	// Issuer is this proxy's own externally visible base URL
	Issuer string

	// Provider is the single upstream authorization server
	Provider providers.Provider

	// Stores for registrations, pending transactions, and one-time codes
	Clients      storage.ClientStore
	Transactions storage.TransactionStore
	Codes        storage.CodeStore

	// RedirectURIPatterns are the global default glob patterns attached to
	// every registration. Empty means any redirect URI is accepted, which
	// is insecure and logged loudly.
	RedirectURIPatterns []string

	// RequirePKCE rejects authorization requests without a code challenge.
	// Defaults to true; disabling is logged at Warn.
	RequirePKCE *bool

	// AllowPKCEPlain permits the deprecated "plain" challenge method
	AllowPKCEPlain bool

	// ForwardPKCE forwards the client's code challenge to the upstream
	// authorization URL. Defaults to true.
	ForwardPKCE *bool

	// SupportedScopes restricts requestable scopes (empty allows all)
	SupportedScopes []string

	// TransactionTTL and CodeTTL override the defaults
	TransactionTTL time.Duration
	CodeTTL        time.Duration

	// Auditor records security events (nil disables auditing)
	Auditor *security.Auditor

	// Logger for flow events (nil uses slog.Default())
	Logger *slog.Logger
}

// Proxy holds the flow state machine. All methods are safe for concurrent
// use; atomicity of transaction and code consumption lives in the stores.
type Proxy struct {
	issuer              string
	provider            providers.Provider
	clients             storage.ClientStore
	transactions        storage.TransactionStore
	codes               storage.CodeStore
	redirectURIPatterns []string
	requirePKCE         bool
	allowPKCEPlain      bool
	forwardPKCE         bool
	supportedScopes     []string
	transactionTTL      time.Duration
	codeTTL             time.Duration
	auditor             *security.Auditor
	logger              *slog.Logger
}

// New creates a proxy, applying secure defaults and logging a warning for
// every explicitly insecure setting.
func New(cfg *Config) (*Proxy, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("upstream provider is required")
	}
	if cfg.Clients == nil || cfg.Transactions == nil || cfg.Codes == nil {
		return nil, fmt.Errorf("client, transaction, and code stores are required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	requirePKCE := true
	if cfg.RequirePKCE != nil {
		requirePKCE = *cfg.RequirePKCE
	}
	forwardPKCE := true
	if cfg.ForwardPKCE != nil {
		forwardPKCE = *cfg.ForwardPKCE
	}

	if !requirePKCE {
		logger.Warn("PKCE is not required; authorization code interception is possible")
	}
	if cfg.AllowPKCEPlain {
		logger.Warn("'plain' PKCE method is allowed; prefer S256-only")
	}
	if len(cfg.RedirectURIPatterns) == 0 {
		logger.Warn("no redirect URI patterns configured: any redirect URI will be accepted; configure RedirectURIPatterns in production")
	}

	transactionTTL := cfg.TransactionTTL
	if transactionTTL <= 0 {
		transactionTTL = DefaultTransactionTTL
	}
	codeTTL := cfg.CodeTTL
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}

	return &Proxy{
		issuer:              cfg.Issuer,
		provider:            cfg.Provider,
		clients:             cfg.Clients,
		transactions:        cfg.Transactions,
		codes:               cfg.Codes,
		redirectURIPatterns: append([]string(nil), cfg.RedirectURIPatterns...),
		requirePKCE:         requirePKCE,
		allowPKCEPlain:      cfg.AllowPKCEPlain,
		forwardPKCE:         forwardPKCE,
		supportedScopes:     append([]string(nil), cfg.SupportedScopes...),
		transactionTTL:      transactionTTL,
		codeTTL:             codeTTL,
		auditor:             cfg.Auditor,
		logger:              logger,
	}, nil
}

// generateRandomToken produces a cryptographically random URL-safe token,
// the same quality used for PKCE verifiers.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// RegisterClient performs dynamic client registration (RFC 7591). Clients
// with token_endpoint_auth_method "none" are public and get no secret. The
// global redirect patterns are attached to the stored registration.
func (p *Proxy) RegisterClient(ctx context.Context, req *ClientRegistrationRequest, clientIP string) (*ClientRegistrationResponse, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, flowErr(FlowRedirectMismatch, "redirect_uris is required")
	}
	for _, uri := range req.RedirectURIs {
		if ferr := validateRegisteredRedirectURI(uri); ferr != nil {
			return nil, ferr
		}
	}
	if err := p.validateScope(req.Scope); err != nil {
		return nil, err
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = AuthMethodBasic
	}
	switch authMethod {
	case AuthMethodNone, AuthMethodBasic, AuthMethodPost:
	default:
		return nil, flowErr(FlowInvalidClient, "unsupported token_endpoint_auth_method: %s", authMethod)
	}

	clientID := generateRandomToken()

	var clientSecret, secretHash string
	if authMethod != AuthMethodNone {
		clientSecret = generateRandomToken()
		hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		secretHash = string(hash)
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	client := &storage.Client{
		ClientID:            clientID,
		ClientSecretHash:    secretHash,
		RedirectURIs:        req.RedirectURIs,
		RedirectURIPatterns: p.redirectURIPatterns,
		GrantTypes:          grantTypes,
		ResponseTypes:       responseTypes,
		ClientName:          req.ClientName,
		Scope:               req.Scope,
		CreatedAt:           time.Now(),
	}
	if err := p.clients.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	p.auditor.LogClientRegistered(clientID, req.ClientName, clientIP)
	p.logger.Info("registered new OAuth client",
		"client_id", clientID,
		"client_name", req.ClientName,
		"token_endpoint_auth_method", authMethod,
		"client_ip", clientIP)

	return &ClientRegistrationResponse{
		ClientID:                clientID,
		ClientSecret:            clientSecret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		ClientName:              req.ClientName,
		Scope:                   req.Scope,
	}, nil
}

// StartAuthorization validates the downstream request, records a pending
// transaction, and returns the upstream authorization URL. The transaction
// id is sent upstream as the state parameter; the client's own state is
// held in the transaction and returned on callback.
func (p *Proxy) StartAuthorization(ctx context.Context, clientID, redirectURI, scope, codeChallenge, codeChallengeMethod, clientState string) (string, error) {
	if clientState == "" {
		p.auditor.LogAuthFailure("", clientID, "", "missing_state_parameter")
		return "", flowErr(FlowInvalidClient, "state parameter is required for CSRF protection")
	}

	if ferr := p.validateChallengeMethod(codeChallenge, codeChallengeMethod); ferr != nil {
		p.auditor.LogAuthFailure("", clientID, "", "invalid_pkce_parameters")
		return "", ferr
	}

	client, err := p.clients.GetClient(ctx, clientID)
	if err != nil {
		p.auditor.LogAuthFailure("", clientID, "", ErrorCodeInvalidClient)
		return "", flowErr(FlowInvalidClient, "unknown client")
	}

	if ferr := p.validateRedirectURI(client, redirectURI); ferr != nil {
		p.auditor.LogAuthFailure("", clientID, "", "redirect_uri_rejected")
		return "", ferr
	}
	if err := p.validateScope(scope); err != nil {
		p.auditor.LogAuthFailure("", clientID, "", ErrorCodeInvalidScope)
		return "", err
	}

	txn := &storage.Transaction{
		ID:                  generateRandomToken(),
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		ClientState:         clientState,
		Scope:               scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(p.transactionTTL),
	}
	if err := p.transactions.SaveTransaction(ctx, txn); err != nil {
		return "", fmt.Errorf("failed to save transaction: %w", err)
	}

	p.auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationFlowStarted,
		ClientID: clientID,
		Details: map[string]any{
			"redirect_uri":          redirectURI,
			"scope":                 scope,
			"code_challenge_method": codeChallengeMethod,
		},
	})

	forwardedChallenge, forwardedMethod := codeChallenge, codeChallengeMethod
	if !p.forwardPKCE {
		forwardedChallenge, forwardedMethod = "", ""
	}
	return p.provider.AuthorizationURL(txn.ID, forwardedChallenge, forwardedMethod), nil
}

// HandleCallback consumes the transaction named by the upstream state,
// exchanges the upstream code server-to-server, mints a one-time client
// code wrapping the upstream tokens, and returns the downstream redirect
// URL carrying that code and the client's original state.
func (p *Proxy) HandleCallback(ctx context.Context, state, upstreamCode string) (string, error) {
	txn, err := p.transactions.ConsumeTransaction(ctx, state)
	if err != nil {
		kind := FlowNotFound
		reason := "transaction_not_found"
		if errors.Is(err, storage.ErrExpired) {
			kind = FlowExpired
			reason = "transaction_expired"
		}
		p.auditor.LogEvent(security.Event{
			Type:    security.EventTransactionRejected,
			Details: map[string]any{"reason": reason},
		})
		return "", flowErr(kind, "invalid state parameter")
	}

	upstreamToken, err := p.provider.ExchangeCode(ctx, upstreamCode, "")
	if err != nil {
		p.logger.Error("upstream code exchange failed", "client_id", txn.ClientID, "error", err)
		p.auditor.LogAuthFailure("", txn.ClientID, "", "upstream_exchange_failed")
		return "", flowErr(FlowUpstreamFailure, "failed to exchange code with upstream provider")
	}

	code := &storage.ClientCode{
		Code:                generateRandomToken(),
		ClientID:            txn.ClientID,
		RedirectURI:         txn.RedirectURI,
		Scope:               txn.Scope,
		CodeChallenge:       txn.CodeChallenge,
		CodeChallengeMethod: txn.CodeChallengeMethod,
		UpstreamToken:       upstreamToken,
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(p.codeTTL),
	}
	if err := p.codes.SaveCode(ctx, code); err != nil {
		return "", fmt.Errorf("failed to save client code: %w", err)
	}

	p.auditor.LogEvent(security.Event{
		Type:     security.EventClientCodeIssued,
		ClientID: txn.ClientID,
		Details:  map[string]any{"scope": txn.Scope},
	})

	redirect, err := url.Parse(txn.RedirectURI)
	if err != nil {
		return "", flowErr(FlowRedirectMismatch, "stored redirect URI is invalid")
	}
	q := redirect.Query()
	q.Set("code", code.Code)
	q.Set("state", txn.ClientState)
	redirect.RawQuery = q.Encode()
	return redirect.String(), nil
}

// ExchangeCode redeems a one-time client code for the wrapped upstream
// tokens. The code is consumed atomically first, so a replay fails even
// under concurrent requests; the remaining checks run on the consumed copy.
func (p *Proxy) ExchangeCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*oauth2.Token, string, error) {
	clientCode, err := p.codes.ConsumeCode(ctx, code)
	if err != nil {
		kind := FlowNotFound
		if errors.Is(err, storage.ErrExpired) {
			kind = FlowExpired
		}
		p.logger.Debug("client code rejected", "kind", kind.String(), "client_id", clientID)
		p.auditor.LogAuthFailure("", clientID, "", "invalid_authorization_code")
		return nil, "", flowErr(kind, "invalid grant")
	}

	if clientCode.ClientID != clientID {
		p.auditor.LogAuthFailure("", clientID, "", "client_id_mismatch")
		return nil, "", flowErr(FlowInvalidClient, "invalid grant")
	}
	if clientCode.RedirectURI != redirectURI {
		p.auditor.LogAuthFailure("", clientID, "", "redirect_uri_mismatch")
		return nil, "", flowErr(FlowRedirectMismatch, "invalid grant")
	}
	if ferr := p.validatePKCE(clientCode.CodeChallenge, clientCode.CodeChallengeMethod, codeVerifier); ferr != nil {
		p.auditor.LogEvent(security.Event{
			Type:     security.EventInvalidPKCE,
			ClientID: clientID,
			Details:  map[string]any{"reason": ferr.Description},
		})
		return nil, "", ferr
	}

	p.auditor.LogCodeExchanged(clientID, "", clientCode.Scope)
	return clientCode.UpstreamToken, clientCode.Scope, nil
}

// Refresh forwards a refresh_token grant to the upstream token endpoint.
// The old refresh token is kept unless upstream supplies a replacement.
func (p *Proxy) Refresh(ctx context.Context, refreshToken, clientID string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, flowErr(FlowNotFound, "refresh_token is required")
	}

	newToken, err := p.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		p.logger.Error("upstream refresh failed", "client_id", clientID, "error", err)
		p.auditor.LogAuthFailure("", clientID, "", "upstream_refresh_failed")
		return nil, flowErr(FlowUpstreamFailure, "failed to refresh token")
	}
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = refreshToken
	}

	p.auditor.LogTokenRefreshed(clientID, "")
	return newToken, nil
}

// Revoke forwards revocation upstream. Per RFC 7009 revocation always
// reports success, even for tokens the upstream does not recognize.
func (p *Proxy) Revoke(ctx context.Context, token, clientID, clientIP string) error {
	if token == "" {
		return nil
	}
	if err := p.provider.RevokeToken(ctx, token); err != nil {
		p.logger.Warn("upstream revocation failed", "client_id", clientID, "error", err)
	}
	p.auditor.LogTokenRevoked(clientID, clientIP)
	return nil
}

// AuthenticateClient validates credentials presented at the token endpoint.
// Public clients pass with an empty secret; PKCE is their protection.
func (p *Proxy) AuthenticateClient(ctx context.Context, clientID, clientSecret string) error {
	if clientID == "" {
		return flowErr(FlowInvalidClient, "client_id is required")
	}
	if err := p.clients.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		p.auditor.LogAuthFailure("", clientID, "", ErrorCodeInvalidClient)
		return flowErr(FlowInvalidClient, "client authentication failed")
	}
	return nil
}

// Metadata builds the RFC 8414 authorization server metadata document
func (p *Proxy) Metadata() *AuthorizationServerMetadata {
	codeChallengeMethods := []string{PKCEMethodS256}
	if p.allowPKCEPlain {
		codeChallengeMethods = append(codeChallengeMethods, PKCEMethodPlain)
	}
	return &AuthorizationServerMetadata{
		Issuer:                            p.issuer,
		AuthorizationEndpoint:             p.issuer + "/oauth/authorize",
		TokenEndpoint:                     p.issuer + "/oauth/token",
		RegistrationEndpoint:              p.issuer + "/oauth/register",
		RevocationEndpoint:                p.issuer + "/oauth/revoke",
		UserinfoEndpoint:                  p.issuer + "/oauth/userinfo",
		ScopesSupported:                   p.supportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{AuthMethodNone, AuthMethodBasic, AuthMethodPost},
		CodeChallengeMethodsSupported:     codeChallengeMethods,
	}
}

// ResourceMetadata builds the RFC 9728 protected resource metadata document
func (p *Proxy) ResourceMetadata(resource string) *ProtectedResourceMetadata {
	if resource == "" {
		resource = p.issuer
	}
	return &ProtectedResourceMetadata{
		Resource:               resource,
		AuthorizationServers:   []string{p.issuer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        p.supportedScopes,
	}
}

// validateScope checks the requested scopes against the configured set.
// No configured scopes means every scope is allowed.
func (p *Proxy) validateScope(scope string) error {
	if len(p.supportedScopes) == 0 || scope == "" {
		return nil
	}
	for _, requested := range splitScope(scope) {
		found := false
		for _, supported := range p.supportedScopes {
			if requested == supported {
				found = true
				break
			}
		}
		if !found {
			return flowErr(FlowInvalidClient, "unsupported scope: %s", requested)
		}
	}
	return nil
}

// splitScope splits a space-delimited scope string, dropping empty entries
func splitScope(scope string) []string {
	return strings.Fields(scope)
}
