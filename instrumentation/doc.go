// Package instrumentation provides OpenTelemetry metrics and tracing for the
// bridge. All instruments default to no-op providers, so instrumenting code
// paths is free unless a real meter or tracer provider is configured.
package instrumentation
