package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-bridge/auth"
	"github.com/giantswarm/mcp-bridge/instrumentation"
	"github.com/giantswarm/mcp-bridge/security"
)

// Rate limit defaults for the endpoints reachable without credentials
const (
	defaultRegisterRatePerSecond = 1.0
	defaultRegisterBurst         = 5
	defaultTokenRatePerSecond    = 10.0
	defaultTokenBurst            = 20
)

// HandlerConfig configures the HTTP layer over the proxy flows.
type HandlerConfig struct {
	Proxy *Proxy

	// Verifier validates bearer tokens on the userinfo endpoint
	Verifier auth.Verifier

	// Instrumentation records HTTP and flow metrics (nil disables)
	Instrumentation *instrumentation.Instrumentation

	// RegisterLimiter and TokenLimiter rate-limit by client IP. Nil values
	// get conservative defaults.
	RegisterLimiter *security.RateLimiter
	TokenLimiter    *security.RateLimiter

	Logger *slog.Logger
}

// Handler serves the OAuth endpoints: registration, authorization,
// callback, token, userinfo, revocation, and the two well-known
// metadata documents.
type Handler struct {
	proxy           *Proxy
	verifier        auth.Verifier
	metrics         *instrumentation.Metrics
	registerLimiter *security.RateLimiter
	tokenLimiter    *security.RateLimiter
	logger          *slog.Logger
}

// NewHandler creates the HTTP layer. The proxy is required.
func NewHandler(cfg *HandlerConfig) (*Handler, error) {
	if cfg.Proxy == nil {
		return nil, errors.New("proxy is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registerLimiter := cfg.RegisterLimiter
	if registerLimiter == nil {
		registerLimiter = security.NewRateLimiter(defaultRegisterRatePerSecond, defaultRegisterBurst, logger)
	}
	tokenLimiter := cfg.TokenLimiter
	if tokenLimiter == nil {
		tokenLimiter = security.NewRateLimiter(defaultTokenRatePerSecond, defaultTokenBurst, logger)
	}

	var metrics *instrumentation.Metrics
	if cfg.Instrumentation != nil {
		metrics = cfg.Instrumentation.Metrics()
	}

	return &Handler{
		proxy:           cfg.Proxy,
		verifier:        cfg.Verifier,
		metrics:         metrics,
		registerLimiter: registerLimiter,
		tokenLimiter:    tokenLimiter,
		logger:          logger,
	}, nil
}

// Register mounts all OAuth endpoints on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /oauth/register", h.ServeClientRegistration)
	mux.HandleFunc("GET /oauth/authorize", h.ServeAuthorization)
	mux.HandleFunc("GET /oauth/callback", h.ServeCallback)
	mux.HandleFunc("POST /oauth/token", h.ServeToken)
	mux.HandleFunc("GET /oauth/userinfo", h.ServeUserinfo)
	mux.HandleFunc("POST /oauth/revoke", h.ServeTokenRevocation)
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", h.ServeProtectedResourceMetadata)
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ip := clientIP(r)

	if !h.registerLimiter.Allow(ip) {
		h.rateLimited(r.Context(), w, "register", ip)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid registration request body")
		return
	}

	resp, err := h.proxy.RegisterClient(r.Context(), &req, ip)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}

	if h.metrics != nil {
		clientType := "confidential"
		if resp.ClientSecret == "" {
			clientType = "public"
		}
		h.metrics.RecordClientRegistration(r.Context(), clientType)
		h.metrics.RecordHTTPRequest(r.Context(), r.Method, "/oauth/register", http.StatusCreated, durationMs(start))
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// ServeAuthorization starts a downstream authorization flow and redirects
// the user agent to the upstream authorization server.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if rt := q.Get("response_type"); rt != "code" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "response_type must be 'code'")
		return
	}

	clientID := q.Get("client_id")
	upstreamURL, err := h.proxy.StartAuthorization(r.Context(),
		clientID,
		q.Get("redirect_uri"),
		q.Get("scope"),
		q.Get("code_challenge"),
		q.Get("code_challenge_method"),
		q.Get("state"),
	)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordAuthorizationStarted(r.Context(), clientID)
	}
	http.Redirect(w, r, upstreamURL, http.StatusFound)
}

// ServeCallback processes the upstream redirect and bounces the user agent
// back to the downstream client with a freshly minted one-time code.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	if upstreamErr := q.Get("error"); upstreamErr != "" {
		h.logger.Warn("upstream authorization denied",
			"error", upstreamErr,
			"error_description", q.Get("error_description"))
		if h.metrics != nil {
			h.metrics.RecordCallbackProcessed(r.Context(), "", false)
		}
		h.writeError(w, http.StatusBadRequest, upstreamErr, q.Get("error_description"))
		return
	}

	code := q.Get("code")
	if state == "" || code == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "missing state or code parameter")
		return
	}

	redirectURL, err := h.proxy.HandleCallback(r.Context(), state, code)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordCallbackProcessed(r.Context(), "", false)
		}
		h.writeFlowError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordCallbackProcessed(r.Context(), "", true)
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// ServeToken handles the token endpoint for the authorization_code and
// refresh_token grants. Client credentials arrive via HTTP Basic or form
// parameters; public clients authenticate with PKCE alone.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ip := clientIP(r)

	if !h.tokenLimiter.Allow(ip) {
		h.rateLimited(r.Context(), w, "token", ip)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "malformed form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if err := h.proxy.AuthenticateClient(r.Context(), clientID, clientSecret); err != nil {
		h.writeFlowError(w, err)
		return
	}

	var status int
	switch grantType := r.PostFormValue("grant_type"); grantType {
	case "authorization_code":
		status = h.handleAuthorizationCodeGrant(w, r, clientID)
	case "refresh_token":
		status = h.handleRefreshTokenGrant(w, r, clientID)
	default:
		status = http.StatusBadRequest
		h.writeError(w, status, "unsupported_grant_type", "unsupported grant_type: "+grantType)
	}

	if h.metrics != nil {
		h.metrics.RecordHTTPRequest(r.Context(), r.Method, "/oauth/token", status, durationMs(start))
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, clientID string) int {
	code := r.PostFormValue("code")
	if code == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "code is required")
		return http.StatusBadRequest
	}

	token, scope, err := h.proxy.ExchangeCode(r.Context(),
		code,
		clientID,
		r.PostFormValue("redirect_uri"),
		r.PostFormValue("code_verifier"),
	)
	if err != nil {
		return h.writeFlowError(w, err)
	}

	if h.metrics != nil {
		method := PKCEMethodS256
		if r.PostFormValue("code_verifier") == "" {
			method = "none"
		}
		h.metrics.RecordCodeExchange(r.Context(), clientID, method)
	}
	h.writeToken(w, tokenResponse(token, scope))
	return http.StatusOK
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, clientID string) int {
	token, err := h.proxy.Refresh(r.Context(), r.PostFormValue("refresh_token"), clientID)
	if err != nil {
		return h.writeFlowError(w, err)
	}

	if h.metrics != nil {
		h.metrics.RecordTokenRefresh(r.Context(), clientID)
	}
	h.writeToken(w, tokenResponse(token, r.PostFormValue("scope")))
	return http.StatusOK
}

// ServeUserinfo returns the verified claims behind the presented bearer
// token. Requires a configured verifier.
func (h *Handler) ServeUserinfo(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		h.writeError(w, http.StatusNotImplemented, ErrorCodeServerError, "userinfo is not configured")
		return
	}

	raw := extractBearerToken(r)
	if raw == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
		h.writeError(w, http.StatusUnauthorized, "invalid_token", "missing bearer token")
		return
	}

	identity, err := h.verifier.VerifyToken(r.Context(), raw)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo", error="invalid_token"`)
		h.writeError(w, http.StatusUnauthorized, "invalid_token", "token verification failed")
		return
	}

	claims := identity.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	if _, ok := claims["sub"]; !ok && identity.ClientID != "" {
		claims["sub"] = identity.ClientID
	}
	h.writeJSON(w, http.StatusOK, claims)
}

// ServeTokenRevocation handles RFC 7009 revocation. The response is 200
// regardless of whether the token was known.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !h.tokenLimiter.Allow(ip) {
		h.rateLimited(r.Context(), w, "revoke", ip)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "malformed form body")
		return
	}

	clientID, _ := clientCredentials(r)
	_ = h.proxy.Revoke(r.Context(), r.PostFormValue("token"), clientID, ip)

	if h.metrics != nil {
		h.metrics.RecordTokenRevocation(r.Context(), clientID)
	}
	w.WriteHeader(http.StatusOK)
}

// ServeAuthorizationServerMetadata serves the RFC 8414 document
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.proxy.Metadata())
}

// ServeProtectedResourceMetadata serves the RFC 9728 document
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.proxy.ResourceMetadata(""))
}

func tokenResponse(token *oauth2.Token, scope string) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Scope:        scope,
	}
	if resp.TokenType == "" {
		resp.TokenType = "Bearer"
	}
	if !token.Expiry.IsZero() {
		if remaining := time.Until(token.Expiry); remaining > 0 {
			resp.ExpiresIn = int64(remaining.Seconds())
		}
	}
	return resp
}

func (h *Handler) writeToken(w http.ResponseWriter, resp *TokenResponse) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	h.writeJSON(w, http.StatusOK, resp)
}

// writeFlowError translates a flow error into an OAuth error response and
// returns the HTTP status it wrote.
func (h *Handler) writeFlowError(w http.ResponseWriter, err error) int {
	var ferr *FlowError
	if errors.As(err, &ferr) {
		code, status := ferr.OAuthError()
		h.writeError(w, status, code, ferr.Description)
		return status
	}
	h.logger.Error("internal error in OAuth flow", "error", err)
	h.writeError(w, http.StatusInternalServerError, ErrorCodeServerError, "internal server error")
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, description string) {
	h.writeJSON(w, status, &ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) rateLimited(ctx context.Context, w http.ResponseWriter, limiterType, ip string) {
	h.logger.Warn("rate limit exceeded", "limiter", limiterType, "client_ip", ip)
	h.proxy.auditor.LogRateLimitExceeded(ip, limiterType)
	if h.metrics != nil {
		h.metrics.RecordRateLimitExceeded(ctx, limiterType)
	}
	w.Header().Set("Retry-After", "1")
	h.writeError(w, http.StatusTooManyRequests, ErrorCodeInvalidRequest, "rate limit exceeded")
}

// clientCredentials extracts client authentication from HTTP Basic or,
// failing that, the form body. Basic credentials are URL-decoded per
// RFC 6749 section 2.3.1.
func clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		if decoded, err := url.QueryUnescape(id); err == nil {
			id = decoded
		}
		if decoded, err := url.QueryUnescape(secret); err == nil {
			secret = decoded
		}
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// extractBearerToken pulls a bearer token from the Authorization header.
// Returns "" when absent or not a bearer scheme.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// clientIP determines the originating client IP, preferring proxy headers
// over the socket address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
