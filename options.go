package toolserve

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// toolOptions hold optional tool settings (profiles, policy).
type toolOptions struct {
	profiles []string
	policy   ExecutionPolicy
}

// ToolOption configures a tool (e.g. WithProfiles, WithTimeout).
type ToolOption func(*toolOptions)

// WithProfiles tags the tool for profile-filtered listings.
func WithProfiles(profiles ...string) ToolOption {
	return func(o *toolOptions) {
		o.profiles = append([]string(nil), profiles...)
	}
}

// WithTimeout bounds each execution. Durations are rounded up to whole seconds.
func WithTimeout(d time.Duration) ToolOption {
	return func(o *toolOptions) {
		if d <= 0 {
			return
		}
		o.policy.TimeoutSeconds = int(math.Ceil(d.Seconds()))
	}
}

// WithRetry sets the retry policy used by durable execution. Zero fields take engine defaults.
func WithRetry(r RetryPolicy) ToolOption {
	return func(o *toolOptions) {
		o.policy.Retry = &r
	}
}

// WithFireAndForget makes durable calls return a run id immediately instead of waiting.
func WithFireAndForget() ToolOption {
	return func(o *toolOptions) {
		o.policy.FireAndForget = true
	}
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	defaults         ExecutionPolicy
	maxConcurrency   int
	batchConcurrency int
	durable          DurableBackend
	logger           *zap.Logger
	onBefore         func(context.Context, CallRequest)
	onAfter          func(context.Context, CallRequest, CallResponse, time.Duration)
}

// WithDefaultPolicy sets the policy used for fields a tool leaves unset.
func WithDefaultPolicy(p ExecutionPolicy) EngineOption {
	return func(o *engineOptions) {
		o.defaults = p.withDefaults(DefaultPolicy())
	}
}

// WithMaxConcurrency limits concurrent tool executions (semaphore).
// Pass 0 or negative to disable the semaphore (unlimited concurrency).
func WithMaxConcurrency(n int) EngineOption {
	return func(o *engineOptions) {
		o.maxConcurrency = n
	}
}

// WithBatchConcurrency bounds how many calls of one CallBatch run at once.
func WithBatchConcurrency(n int) EngineOption {
	return func(o *engineOptions) {
		o.batchConcurrency = n
	}
}

// WithDurable enables durable dispatch through backend. Without it every call runs directly.
func WithDurable(backend DurableBackend) EngineOption {
	return func(o *engineOptions) {
		o.durable = backend
	}
}

// WithLogger sets the logger for failures and lifecycle events.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOnBeforeCall sets a hook called before each call is dispatched.
func WithOnBeforeCall(fn func(context.Context, CallRequest)) EngineOption {
	return func(o *engineOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterCall sets a hook called with the final envelope of every call, including failed lookups.
func WithOnAfterCall(fn func(context.Context, CallRequest, CallResponse, time.Duration)) EngineOption {
	return func(o *engineOptions) {
		o.onAfter = fn
	}
}
