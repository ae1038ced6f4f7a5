// Package mcp implements the JSON-RPC 2.0 dispatch core: a method registry,
// parameter binding, a per-method authorization gate, and an interceptor
// pipeline composed once at startup.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/giantswarm/mcp-bridge/auth"
)

// Version is the JSON-RPC protocol version tag on every envelope
const Version = "2.0"

// ProtocolVersion is the protocol revision reported by initialize
const ProtocolVersion = "2025-03-26"

// Request is one parsed RPC call. A nil ID marks a notification, which
// yields no Response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is one RPC reply: the echoed id plus result or error, never both.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse builds a success reply for the given request id
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse builds an error reply for the given request id
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

// Kind classifies a registered capability
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// ParamKind is the declared wire type of a parameter
type ParamKind int

const (
	ParamAny ParamKind = iota
	ParamString
	ParamInt
	ParamFloat
	ParamBool
	ParamObject
	ParamArray
)

// String returns the JSON-schema-ish type name for the kind
func (k ParamKind) String() string {
	switch k {
	case ParamString:
		return "string"
	case ParamInt:
		return "integer"
	case ParamFloat:
		return "number"
	case ParamBool:
		return "boolean"
	case ParamObject:
		return "object"
	case ParamArray:
		return "array"
	default:
		return "any"
	}
}

// ParamSpec declares one bindable parameter. Identity, context, and the
// notifier are framework-injected and never declared here.
type ParamSpec struct {
	Name        string
	Kind        ParamKind
	Description string
	Required    bool

	// Default fills a missing optional parameter
	Default any
}

// Requirement is a method's authorization rule. A nil Requirement leaves the
// method ungated; a non-nil Requirement with no fields set means the caller
// must simply be authenticated.
type Requirement struct {
	// Policy names a registered policy function
	Policy string

	// Roles accepted for this method (any one suffices)
	Roles []string

	// Schemes accepted for this method (e.g. "bearer")
	Schemes []string
}

// Call carries the bound arguments and injected values into a handler.
type Call struct {
	// Args holds the bound wire parameters keyed by declared name
	Args map[string]any

	// Identity is the verified caller, nil on anonymous transports
	Identity *auth.AccessToken

	// Notifier delivers out-of-band notifications. It may be nil; callers
	// needing serialization must wrap it themselves.
	Notifier Notifier
}

// String returns the named argument as a string, with ok reporting presence
func (c *Call) String(name string) (string, bool) {
	v, ok := c.Args[name].(string)
	return v, ok
}

// Int returns the named argument as an int64, with ok reporting presence
func (c *Call) Int(name string) (int64, bool) {
	v, ok := c.Args[name].(int64)
	return v, ok
}

// Float returns the named argument as a float64, with ok reporting presence
func (c *Call) Float(name string) (float64, bool) {
	v, ok := c.Args[name].(float64)
	return v, ok
}

// Bool returns the named argument as a bool, with ok reporting presence
func (c *Call) Bool(name string) (bool, bool) {
	v, ok := c.Args[name].(bool)
	return v, ok
}

// HandlerFunc executes one capability invocation
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Notifier delivers an out-of-band notification to the caller's transport.
// Implementations own their own write serialization.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, method string, params any) error

// Notify implements Notifier
func (f NotifierFunc) Notify(ctx context.Context, method string, params any) error {
	return f(ctx, method, params)
}

// MethodDescriptor is one registered capability. Descriptors are built at
// startup and read-only afterwards.
type MethodDescriptor struct {
	Name        string
	Kind        Kind
	Description string
	Params      []ParamSpec

	// Auth gates the method; see Requirement
	Auth *Requirement

	Handler HandlerFunc
}
