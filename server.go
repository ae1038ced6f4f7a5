package mcpbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-bridge/mcp"
	"github.com/giantswarm/mcp-bridge/proxy"
	"github.com/giantswarm/mcp-bridge/security"
)

const defaultMaxRequestBody = 1 << 20 // 1 MiB

// Server is the assembled bridge: the JSON-RPC endpoint at /mcp, the OAuth
// proxy endpoints when an upstream provider is configured, and the
// well-known metadata documents.
type Server struct {
	cfg        *Config
	dispatch   mcp.Next
	oauth      *proxy.Handler
	maxBody    int64
	logger     *slog.Logger
	auditor    *security.Auditor
	issuerBase string
}

// NewServer wires the dispatcher, the interceptor chain, and optionally
// the OAuth proxy into one server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auditor := security.NewAuditor(logger, cfg.AuditEnabled)

	dispatcher, err := mcp.NewDispatcher(&mcp.DispatcherConfig{
		Registry:       cfg.Registry,
		ServerName:     cfg.ServerName,
		ServerVersion:  cfg.ServerVersion,
		AllowAnonymous: cfg.AllowAnonymous,
		Policies:       cfg.Policies,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build dispatcher: %w", err)
	}

	interceptors := append([]mcp.Interceptor(nil), cfg.Interceptors...)
	interceptors = append(interceptors, mcp.LoggingInterceptor(logger))
	if cfg.Instrumentation != nil {
		interceptors = append(interceptors,
			mcp.MetricsInterceptor(cfg.Instrumentation),
			mcp.TracingInterceptor(cfg.Instrumentation),
		)
	}
	chain := mcp.Chain(dispatcher.Handle, interceptors...)

	maxBody := cfg.MaxRequestBody
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBody
	}

	srv := &Server{
		cfg:        cfg,
		dispatch:   chain,
		maxBody:    maxBody,
		logger:     logger,
		auditor:    auditor,
		issuerBase: cfg.Issuer,
	}

	if cfg.Provider != nil {
		p, err := proxy.New(&proxy.Config{
			Issuer:              cfg.Issuer,
			Provider:            cfg.Provider,
			Clients:             cfg.Clients,
			Transactions:        cfg.Transactions,
			Codes:               cfg.Codes,
			RedirectURIPatterns: cfg.RedirectURIPatterns,
			RequirePKCE:         cfg.RequirePKCE,
			AllowPKCEPlain:      cfg.AllowPKCEPlain,
			ForwardPKCE:         cfg.ForwardPKCE,
			SupportedScopes:     cfg.SupportedScopes,
			TransactionTTL:      cfg.TransactionTTL,
			CodeTTL:             cfg.CodeTTL,
			Auditor:             auditor,
			Logger:              logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build OAuth proxy: %w", err)
		}
		handler, err := proxy.NewHandler(&proxy.HandlerConfig{
			Proxy:           p,
			Verifier:        cfg.Verifier,
			Instrumentation: cfg.Instrumentation,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build OAuth handler: %w", err)
		}
		srv.oauth = handler
	}

	return srv, nil
}

// Handler returns the fully routed HTTP handler. Every response carries a
// request id, echoed from X-Request-ID when the client sent a valid one.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", s.serveRPC)
	if s.oauth != nil {
		s.oauth.Register(mux)
	}
	return security.RequestIDMiddleware(mux)
}

// serveRPC runs one JSON-RPC request through verification and dispatch.
// A missing token leaves the request anonymous for the gate to judge; a
// present but invalid token is refused outright.
func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		s.writeRPCError(w, http.StatusBadRequest, nil, mcp.NewParseError("failed to read request body"))
		return
	}
	if int64(len(body)) > s.maxBody {
		s.writeRPCError(w, http.StatusRequestEntityTooLarge, nil, mcp.NewInvalidRequest("request body too large"))
		return
	}

	req, rpcErr := mcp.ParseRequest(body)
	if rpcErr != nil {
		s.writeRPCError(w, http.StatusBadRequest, nil, rpcErr)
		return
	}

	ctx := r.Context()
	if raw := bearerToken(r); raw != "" {
		if s.cfg.Verifier == nil {
			s.unauthorized(w, req.ID, "token verification is not configured")
			return
		}
		identity, err := s.cfg.Verifier.VerifyToken(ctx, raw)
		if err != nil {
			s.logger.Debug("token verification failed", "error", err)
			s.auditor.LogAuthFailure("", "", clientIP(r), "invalid_bearer_token")
			s.unauthorized(w, req.ID, "invalid or expired token")
			return
		}
		ctx = mcp.WithIdentity(ctx, identity)
	}

	resp := s.dispatch(ctx, req)
	if resp == nil {
		// notification: no body by definition
		w.WriteHeader(http.StatusAccepted)
		return
	}

	status := http.StatusOK
	if resp.Error != nil && resp.Error.Code == mcp.CodeUnauthorized {
		status = http.StatusUnauthorized
		s.setChallengeHeader(w)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) unauthorized(w http.ResponseWriter, id json.RawMessage, msg string) {
	s.setChallengeHeader(w)
	s.writeRPCError(w, http.StatusUnauthorized, id, mcp.NewUnauthorized(msg))
}

// setChallengeHeader points unauthenticated clients at the protected
// resource metadata, which in turn names the authorization server.
func (s *Server) setChallengeHeader(w http.ResponseWriter) {
	challenge := `Bearer realm="mcp"`
	if s.issuerBase != "" {
		challenge += `, resource_metadata="` + s.issuerBase + `/.well-known/oauth-protected-resource"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
}

func (s *Server) writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, rpcErr *mcp.Error) {
	s.writeJSON(w, status, mcp.NewErrorResponse(id, rpcErr))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// bearerToken pulls a bearer token from the Authorization header, or ""
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
