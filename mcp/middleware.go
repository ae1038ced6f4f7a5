package mcp

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-bridge/instrumentation"
)

// Next is the continuation an interceptor invokes to proceed inward
type Next func(ctx context.Context, req *Request) *Response

// Interceptor wraps dispatch for a cross-cutting concern. It must call next
// exactly once, or short-circuit by returning its own Response.
type Interceptor func(ctx context.Context, req *Request, next Next) *Response

// Chain folds interceptors around a terminal step once, at startup, in
// reverse registration order so the first interceptor runs outermost. The
// returned function is immutable; nothing can be added at runtime.
func Chain(terminal Next, interceptors ...Interceptor) Next {
	composed := terminal
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		inner := composed
		composed = func(ctx context.Context, req *Request) *Response {
			return interceptor(ctx, req, inner)
		}
	}
	return composed
}

// LoggingInterceptor logs each request with its outcome and duration
func LoggingInterceptor(logger *slog.Logger) Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req *Request, next Next) *Response {
		start := time.Now()
		resp := next(ctx, req)
		duration := time.Since(start)

		if resp != nil && resp.Error != nil {
			logger.Info("rpc request failed",
				"method", req.Method,
				"code", resp.Error.Code,
				"message", resp.Error.Message,
				"duration_ms", duration.Milliseconds())
			return resp
		}
		logger.Debug("rpc request handled",
			"method", req.Method,
			"duration_ms", duration.Milliseconds())
		return resp
	}
}

// MetricsInterceptor records a counter and duration histogram per method
func MetricsInterceptor(inst *instrumentation.Instrumentation) Interceptor {
	return func(ctx context.Context, req *Request, next Next) *Response {
		start := time.Now()
		resp := next(ctx, req)

		errorCode := 0
		if resp != nil && resp.Error != nil {
			errorCode = resp.Error.Code
		}
		inst.Metrics().RecordRPCRequest(ctx, req.Method, errorCode, float64(time.Since(start).Milliseconds()))
		return resp
	}
}

// TracingInterceptor opens a span per request with method and outcome
// attributes
func TracingInterceptor(inst *instrumentation.Instrumentation) Interceptor {
	tracer := inst.Tracer("mcp")
	return func(ctx context.Context, req *Request, next Next) *Response {
		ctx, span := tracer.Start(ctx, "mcp.dispatch "+req.Method,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		resp := next(ctx, req)

		if resp != nil && resp.Error != nil {
			instrumentation.AddRPCAttributes(span, req.Method, resp.Error.Code)
			instrumentation.SetSpanError(span, resp.Error.Message)
		} else {
			instrumentation.AddRPCAttributes(span, req.Method, 0)
			instrumentation.SetSpanSuccess(span)
		}
		return resp
	}
}
