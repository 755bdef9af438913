// Package toolserveotel adds OpenTelemetry tracing to tool execution.
package toolserveotel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skosovsky/toolserve"
)

// ScopeName is the instrumentation scope of the tracer.
const ScopeName = "github.com/skosovsky/toolserve/ext/toolserveotel"

// Attribute keys set on tool spans.
const (
	AttrToolName  = attribute.Key("toolserve.tool.name")
	AttrArgCount  = attribute.Key("toolserve.tool.arg_count")
	AttrTimeout   = attribute.Key("toolserve.tool.timeout_seconds")
	AttrErrorType = attribute.Key("toolserve.error_type")
)

type config struct {
	provider trace.TracerProvider
	policy   func(*toolserve.Tool) toolserve.ExecutionPolicy
}

// Option configures the middleware.
type Option func(*config)

// WithTracerProvider sets the provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		if tp != nil {
			c.provider = tp
		}
	}
}

// WithPolicyResolver sets how the recorded timeout is resolved, typically Engine.EffectivePolicy so
// tools inheriting the engine default report it. Defaults to the tool's declared policy.
func WithPolicyResolver(fn func(*toolserve.Tool) toolserve.ExecutionPolicy) Option {
	return func(c *config) {
		if fn != nil {
			c.policy = fn
		}
	}
}

// Middleware starts a span around each tool execution. Failures are recorded on the span with
// their toolserve error type.
func Middleware(opts ...Option) toolserve.Middleware {
	cfg := config{
		provider: otel.GetTracerProvider(),
		policy:   func(t *toolserve.Tool) toolserve.ExecutionPolicy { return t.Policy() },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	tracer := cfg.provider.Tracer(ScopeName)

	return func(next toolserve.Invoker) toolserve.Invoker {
		return func(ctx context.Context, t *toolserve.Tool, args toolserve.Args) (any, error) {
			attrs := []attribute.KeyValue{
				AttrToolName.String(t.Name()),
				AttrArgCount.Int(args.Len()),
			}
			// 0 means the tool inherits a default the resolver does not know.
			if timeout := cfg.policy(t).TimeoutSeconds; timeout > 0 {
				attrs = append(attrs, AttrTimeout.Int(timeout))
			}
			ctx, span := tracer.Start(ctx, "tool "+t.Name(),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attrs...))
			defer span.End()

			res, err := next(ctx, t, args)
			if err != nil {
				span.SetAttributes(AttrErrorType.String(string(toolserve.ErrorTypeOf(err))))
				span.RecordError(err)
				span.SetStatus(codes.Error, toolserve.PublicMessage(err))
				return nil, err
			}
			span.SetStatus(codes.Ok, "")
			return res, nil
		}
	}
}
