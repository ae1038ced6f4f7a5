package proxy

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE constants per RFC 7636
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// validateChallengeMethod checks the method presented at authorization time
func (p *Proxy) validateChallengeMethod(codeChallenge, codeChallengeMethod string) *FlowError {
	if codeChallenge == "" {
		if p.requirePKCE {
			return flowErr(FlowInvalidVerifier, "PKCE is required: code_challenge and code_challenge_method are mandatory")
		}
		return nil
	}

	switch codeChallengeMethod {
	case "":
		return flowErr(FlowInvalidVerifier, "code_challenge_method is required when code_challenge is provided")
	case PKCEMethodS256:
		return nil
	case PKCEMethodPlain:
		if !p.allowPKCEPlain {
			return flowErr(FlowInvalidVerifier, "'plain' code_challenge_method is not allowed (only S256 is supported)")
		}
		return nil
	default:
		return flowErr(FlowInvalidVerifier, "unsupported code_challenge_method: %s", codeChallengeMethod)
	}
}

// validatePKCE validates the code verifier against the recorded challenge
// per RFC 7636. Comparison is constant time.
func (p *Proxy) validatePKCE(challenge, method, verifier string) *FlowError {
	if challenge == "" {
		// No PKCE recorded for this flow
		return nil
	}

	if verifier == "" {
		return flowErr(FlowInvalidVerifier, "code_verifier is required when code_challenge is present")
	}
	if len(verifier) < MinCodeVerifierLength {
		return flowErr(FlowInvalidVerifier, "code_verifier too short (RFC 7636 requires at least 43 characters)")
	}
	if len(verifier) > MaxCodeVerifierLength {
		return flowErr(FlowInvalidVerifier, "code_verifier too long (RFC 7636 allows at most 128 characters)")
	}

	// RFC 7636 verifier charset: [A-Za-z0-9-._~]. Rejecting anything else
	// also keeps null bytes and control characters out.
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return flowErr(FlowInvalidVerifier, "code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		if !p.allowPKCEPlain {
			return flowErr(FlowInvalidVerifier, "'plain' code_challenge_method is not allowed")
		}
		computed = verifier
		p.logger.Warn("validating insecure 'plain' PKCE method", "recommendation", "upgrade client to S256")
	default:
		return flowErr(FlowInvalidVerifier, "unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return flowErr(FlowInvalidVerifier, "code_verifier does not match code_challenge")
	}
	return nil
}
