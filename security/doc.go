// Package security provides cross-cutting security features for the bridge:
// audit logging with PII protection, per-identifier rate limiting, and
// request id propagation.
package security
