package mcp

import (
	"context"

	"github.com/giantswarm/mcp-bridge/auth"
)

type identityContextKey struct{}
type notifierContextKey struct{}

// WithIdentity attaches the verified caller identity to the context. The
// transport sets this before handing the request to the pipeline.
func WithIdentity(ctx context.Context, identity *auth.AccessToken) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFrom returns the caller identity, nil when none was attached
func IdentityFrom(ctx context.Context) *auth.AccessToken {
	identity, _ := ctx.Value(identityContextKey{}).(*auth.AccessToken)
	return identity
}

// WithNotifier attaches the transport's notification sink to the context
func WithNotifier(ctx context.Context, notifier Notifier) context.Context {
	if notifier == nil {
		return ctx
	}
	return context.WithValue(ctx, notifierContextKey{}, notifier)
}

// NotifierFrom returns the notification sink, nil when none was attached
func NotifierFrom(ctx context.Context) Notifier {
	notifier, _ := ctx.Value(notifierContextKey{}).(Notifier)
	return notifier
}
