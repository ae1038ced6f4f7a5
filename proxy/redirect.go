package proxy

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/giantswarm/mcp-bridge/storage"
)

// Schemes never acceptable in a redirect URI, regardless of configured
// patterns. javascript: and data: URIs turn the callback redirect into an
// XSS vector (OAuth 2.0 Security BCP section 4.1.3).
var blockedRedirectSchemes = map[string]bool{
	"javascript": true,
	"data":       true,
	"vbscript":   true,
	"file":       true,
	"about":      true,
	"ftp":        true,
}

// validateRegisteredRedirectURI screens one redirect URI at registration
// time. Exact registered URIs short-circuit pattern matching at authorize
// time, so a dangerous value must never enter a registration.
func validateRegisteredRedirectURI(raw string) *FlowError {
	if raw == "" {
		return flowErr(FlowRedirectMismatch, "redirect URI must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return flowErr(FlowRedirectMismatch, "invalid redirect URI: %v", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return flowErr(FlowRedirectMismatch, "redirect URI must be absolute")
	}
	if blockedRedirectSchemes[scheme] {
		return flowErr(FlowRedirectMismatch, "redirect URI scheme %q is not allowed", scheme)
	}
	if u.Fragment != "" {
		return flowErr(FlowRedirectMismatch, "redirect URI must not contain a fragment")
	}
	if (scheme == "http" || scheme == "https") && u.Host == "" {
		return flowErr(FlowRedirectMismatch, "redirect URI must include a host")
	}
	return nil
}

// Redirect pattern globs use `*` for any run of characters (including `/`)
// and `?` for exactly one character; matching is case-insensitive. Compiled
// expressions are cached because the same few patterns are checked on every
// authorize and exchange.
var patternCache sync.Map // pattern string -> *regexp.Regexp

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	var b strings.Builder
	b.WriteString("(?i)^")
	for _, ch := range pattern {
		switch ch {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// matchesPattern reports whether the URI matches the glob pattern
func matchesPattern(pattern, uri string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(uri)
}

// validateRedirectURI checks a presented redirect URI: exact match against
// the client's registered URIs first, then the client's own glob patterns,
// then the global default patterns. When neither the client nor the server
// configures any patterns, every URI is accepted; that mode is insecure and
// logged loudly at startup (see applyDefaults).
func (p *Proxy) validateRedirectURI(client *storage.Client, redirectURI string) *FlowError {
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return nil
		}
	}

	patterns := client.RedirectURIPatterns
	if len(patterns) == 0 {
		patterns = p.redirectURIPatterns
	}
	if len(patterns) == 0 {
		// Explicit insecure mode: no restriction configured anywhere.
		p.logger.Warn("accepting unvalidated redirect URI: no redirect patterns configured",
			"client_id", client.ClientID,
			"redirect_uri", redirectURI)
		return nil
	}

	for _, pattern := range patterns {
		if matchesPattern(pattern, redirectURI) {
			return nil
		}
	}
	return flowErr(FlowRedirectMismatch, "redirect URI not registered for client")
}
