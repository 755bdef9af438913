package toolserve

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Invoker runs a tool with an already merged argument set.
type Invoker func(ctx context.Context, t *Tool, args Args) (any, error)

// Middleware wraps an Invoker with cross-cutting behavior (logging, recovery, timeout, tracing).
type Middleware func(Invoker) Invoker

func invokeTool(ctx context.Context, t *Tool, args Args) (any, error) {
	return t.Invoke(ctx, args)
}

// WithLogging returns a middleware that logs start, end, duration, and errors.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Invoker) Invoker {
		return func(ctx context.Context, t *Tool, args Args) (any, error) {
			logger.Debug("tool start", zap.String("tool", t.Name()), zap.Int("args", args.Len()))
			start := time.Now()
			res, err := next(ctx, t, args)
			dur := time.Since(start)
			if err != nil {
				logger.Error("tool error", zap.String("tool", t.Name()), zap.Duration("duration", dur), zap.Error(err))
				return nil, err
			}
			logger.Info("tool end", zap.String("tool", t.Name()), zap.Duration("duration", dur))
			return res, nil
		}
	}
}

// WithRecovery returns a middleware that turns panics into ExecutionError.
// The engine recovers as well; this lets inner middlewares observe the failure as an error.
func WithRecovery() Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, t *Tool, args Args) (res any, err error) {
			defer func() {
				if p := recover(); p != nil {
					res = nil
					err = &ExecutionError{Tool: t.Name(), Err: &panicError{p: p}}
				}
			}()
			return next(ctx, t, args)
		}
	}
}

// WithTimeoutMiddleware returns a middleware that bounds the handler context by d.
// Named with "Middleware" suffix to avoid collision with ToolOption WithTimeout. When both the
// policy timeout and this middleware apply, the inner (shorter) deadline wins.
func WithTimeoutMiddleware(d time.Duration) Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, t *Tool, args Args) (any, error) {
			if d <= 0 {
				return next(ctx, t, args)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, t, args)
		}
	}
}

// Use replaces the middleware chain (onion order: first middleware is outermost).
// Calling Use multiple times rebuilds the chain from the bare handler, avoiding double-wrapping.
func (e *Engine) Use(middlewares ...Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inv := Invoker(invokeTool)
	for i := len(middlewares) - 1; i >= 0; i-- {
		inv = middlewares[i](inv)
	}
	e.invoke = inv
}
