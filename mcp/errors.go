package mcp

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes. CodeUnauthorized is this server's transport-agnostic
// authorization failure; HTTP transports map it to 401.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32001
)

// Error is a JSON-RPC protocol error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewParseError reports malformed request JSON
func NewParseError(msg string) *Error {
	return &Error{Code: CodeParseError, Message: msg}
}

// NewInvalidRequest reports a structurally invalid envelope
func NewInvalidRequest(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

// NewMethodNotFound reports an unknown method name
func NewMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// NewInvalidParams reports a binding or coercion failure
func NewInvalidParams(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// NewInternalError reports a handler failure, surfacing the innermost
// wrapped message so callers see the proximate cause rather than wrapper
// text.
func NewInternalError(err error) *Error {
	return &Error{Code: CodeInternalError, Message: innermost(err)}
}

// NewUnauthorized reports an authorization gate denial
func NewUnauthorized(msg string) *Error {
	if msg == "" {
		msg = "unauthorized"
	}
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// innermost walks the unwrap chain to the deepest error message
func innermost(err error) string {
	if err == nil {
		return "internal error"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
