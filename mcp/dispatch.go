package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/giantswarm/mcp-bridge/auth"
)

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	// Registry is the capability table (required)
	Registry *Registry

	// ServerName and ServerVersion are reported by initialize
	ServerName    string
	ServerVersion string

	// AllowAnonymous passes guarded methods when no identity exists at all.
	// Intended for local trusted transports only; defaults to false.
	AllowAnonymous bool

	// Policies maps requirement policy names to evaluation functions
	Policies map[string]PolicyFunc

	// Logger for dispatch events (nil uses slog.Default())
	Logger *slog.Logger
}

// Dispatcher resolves requests to handlers: built-in protocol methods
// first, then direct registry lookup, then the tools/call, resources/read,
// and prompts/get indirections.
type Dispatcher struct {
	registry       *Registry
	serverName     string
	serverVersion  string
	allowAnonymous bool
	policies       map[string]PolicyFunc
	logger         *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registry
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if cfg == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AllowAnonymous {
		logger.Warn("anonymous callers pass every authorization gate; use only on trusted transports")
	}

	name := cfg.ServerName
	if name == "" {
		name = "mcp-bridge"
	}

	return &Dispatcher{
		registry:       cfg.Registry,
		serverName:     name,
		serverVersion:  cfg.ServerVersion,
		allowAnonymous: cfg.AllowAnonymous,
		policies:       cfg.Policies,
		logger:         logger,
	}, nil
}

// Handle dispatches one request. It returns nil for notifications. The
// caller identity and notifier are read from the context (WithIdentity,
// WithNotifier).
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	if req == nil {
		return NewErrorResponse(nil, NewInvalidRequest("empty request"))
	}
	if req.JSONRPC != Version {
		return d.respond(req, nil, NewInvalidRequest("jsonrpc must be \"2.0\""))
	}
	if req.Method == "" {
		return d.respond(req, nil, NewInvalidRequest("method is required"))
	}

	result, rpcErr := d.dispatch(ctx, req.Method, req.Params)
	return d.respond(req, result, rpcErr)
}

func (d *Dispatcher) respond(req *Request, result any, rpcErr *Error) *Response {
	if req.IsNotification() {
		if rpcErr != nil {
			d.logger.Debug("notification failed", "method", req.Method, "code", rpcErr.Code, "message", rpcErr.Message)
		}
		return nil
	}
	if rpcErr != nil {
		return NewErrorResponse(req.ID, rpcErr)
	}
	return NewResponse(req.ID, result)
}

func (d *Dispatcher) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *Error) {
	switch method {
	case "initialize":
		return d.initializeResult(), nil
	case "ping":
		return map[string]any{}, nil
	case "notifications/initialized":
		return map[string]any{}, nil
	case "tools/list":
		return d.listTools(), nil
	case "resources/list":
		return d.listResources(), nil
	case "prompts/list":
		return d.listPrompts(), nil
	case "tools/call":
		return d.indirect(ctx, params, KindTool)
	case "resources/read":
		return d.indirect(ctx, params, KindResource)
	case "prompts/get":
		return d.indirect(ctx, params, KindPrompt)
	}

	desc, ok := d.registry.Lookup(method)
	if !ok {
		return nil, NewMethodNotFound(method)
	}
	return d.invoke(ctx, desc, params)
}

// indirect extracts the target name (or uri) and forwarded arguments from
// an object-typed params value and re-dispatches as if the target had been
// called directly.
func (d *Dispatcher) indirect(ctx context.Context, params json.RawMessage, kind Kind) (any, *Error) {
	var wrapper struct {
		Name      string          `json:"name"`
		URI       string          `json:"uri"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if len(params) == 0 {
		return nil, NewInvalidParams("params object is required")
	}
	if err := json.Unmarshal(params, &wrapper); err != nil {
		return nil, NewInvalidParams("params must be an object: %v", err)
	}

	target := wrapper.Name
	if kind == KindResource {
		target = wrapper.URI
		if target == "" {
			return nil, NewInvalidParams("missing required parameter: uri")
		}
	} else if target == "" {
		return nil, NewInvalidParams("missing required parameter: name")
	}

	desc, ok := d.registry.Lookup(target)
	if !ok || desc.Kind != kind {
		return nil, NewMethodNotFound(target)
	}
	return d.invoke(ctx, desc, wrapper.Arguments)
}

// invoke runs the gate, binds parameters, and executes the handler with
// panic recovery. The gate runs before binding so unauthorized callers
// learn nothing about a method's parameter shape.
func (d *Dispatcher) invoke(ctx context.Context, desc *MethodDescriptor, params json.RawMessage) (result any, rpcErr *Error) {
	identity := IdentityFrom(ctx)

	if gateErr := gate(desc.Auth, identity, d.allowAnonymous, d.policies); gateErr != nil {
		d.logger.Info("authorization denied", "method", desc.Name, "client_id", clientID(identity))
		return nil, gateErr
	}

	args, bindErr := bindParams(desc.Params, params)
	if bindErr != nil {
		return nil, bindErr
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "method", desc.Name, "panic", r)
			rpcErr = NewInternalError(fmt.Errorf("handler panic: %v", r))
			result = nil
		}
	}()

	value, err := desc.Handler(ctx, &Call{
		Args:     args,
		Identity: identity,
		Notifier: NotifierFrom(ctx),
	})
	if err != nil {
		return nil, toRPCError(err)
	}
	return value, nil
}

// toRPCError maps a handler error onto the protocol taxonomy. Handlers may
// return *Error directly; verification failures become the unauthorized
// code; everything else is an internal error carrying the innermost message.
func toRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, auth.ErrUnauthenticated) {
		return NewUnauthorized(innermost(err))
	}
	return NewInternalError(err)
}

func clientID(identity *auth.AccessToken) string {
	if identity == nil {
		return ""
	}
	return identity.ClientID
}

func (d *Dispatcher) initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    d.serverName,
			"version": d.serverVersion,
		},
	}
}

// Listings are computed from the registry on every call; the table is small
// and callers are infrequent.

func (d *Dispatcher) listTools() map[string]any {
	tools := make([]map[string]any, 0)
	for _, desc := range d.registry.Tools() {
		tools = append(tools, map[string]any{
			"name":        desc.Name,
			"description": desc.Description,
			"inputSchema": inputSchema(desc.Params),
		})
	}
	return map[string]any{"tools": tools}
}

func (d *Dispatcher) listResources() map[string]any {
	resources := make([]map[string]any, 0)
	for _, desc := range d.registry.Resources() {
		resources = append(resources, map[string]any{
			"uri":         desc.Name,
			"name":        desc.Name,
			"description": desc.Description,
		})
	}
	return map[string]any{"resources": resources}
}

func (d *Dispatcher) listPrompts() map[string]any {
	prompts := make([]map[string]any, 0)
	for _, desc := range d.registry.Prompts() {
		arguments := make([]map[string]any, 0, len(desc.Params))
		for _, spec := range desc.Params {
			arguments = append(arguments, map[string]any{
				"name":        spec.Name,
				"description": spec.Description,
				"required":    spec.Required,
			})
		}
		prompts = append(prompts, map[string]any{
			"name":        desc.Name,
			"description": desc.Description,
			"arguments":   arguments,
		})
	}
	return map[string]any{"prompts": prompts}
}

func inputSchema(specs []ParamSpec) map[string]any {
	properties := make(map[string]any, len(specs))
	required := make([]string, 0)
	for _, spec := range specs {
		property := map[string]any{"type": spec.Kind.String()}
		if spec.Description != "" {
			property["description"] = spec.Description
		}
		properties[spec.Name] = property
		if spec.Required {
			required = append(required, spec.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
