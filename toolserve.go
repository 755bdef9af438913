package toolserve

import (
	"context"
	"time"
)

// Default execution policy values applied when a tool or engine leaves them unset.
const (
	DefaultTimeoutSeconds     = 300
	DefaultMaxAttempts        = 3
	DefaultInitialInterval    = 1.0
	DefaultBackoffCoefficient = 2.0
	DefaultMaximumInterval    = 10.0
)

// Values of CallResponse.Metadata["executed_via"].
const (
	ExecutedDirect  = "direct"
	ExecutedDurable = "durable"
)

// Handler is the callable behind a tool. It receives the validated, merged argument set.
type Handler func(ctx context.Context, args Args) (any, error)

// CallRequest is a single invocation request.
// Arguments holds only caller-visible values; Context holds values for injected parameters.
type CallRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// CallResponse is the uniform envelope for every call. Exactly one of Result or Error is set,
// depending on Success.
type CallResponse struct {
	Success   bool           `json:"success"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType ErrorType      `json:"error_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RetryPolicy bounds durable re-execution. Zero fields take the engine defaults.
type RetryPolicy struct {
	MaxAttempts        int     `json:"max_attempts,omitempty"`
	InitialInterval    float64 `json:"initial_interval_seconds,omitempty"`
	BackoffCoefficient float64 `json:"backoff_coefficient,omitempty"`
	MaximumInterval    float64 `json:"maximum_interval_seconds,omitempty"`
}

// ExecutionPolicy controls how a tool is dispatched.
type ExecutionPolicy struct {
	TimeoutSeconds int          `json:"timeout_seconds"`
	Retry          *RetryPolicy `json:"retry_policy,omitempty"`
	FireAndForget  bool         `json:"fire_and_forget"`
}

// Timeout returns the policy timeout as a duration.
func (p ExecutionPolicy) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// RetryDelay returns the wait before retry n (0-based): initial * coefficient^n, capped at the maximum.
func (r RetryPolicy) RetryDelay(n int) time.Duration {
	d := r.InitialInterval
	for range n {
		d *= r.BackoffCoefficient
		if d >= r.MaximumInterval {
			d = r.MaximumInterval
			break
		}
	}
	if d > r.MaximumInterval {
		d = r.MaximumInterval
	}
	return time.Duration(d * float64(time.Second))
}

// withDefaults fills unset fields from def. The receiver is not modified.
func (p ExecutionPolicy) withDefaults(def ExecutionPolicy) ExecutionPolicy {
	out := p
	if out.TimeoutSeconds <= 0 {
		out.TimeoutSeconds = def.TimeoutSeconds
	}
	base := RetryPolicy{}
	if def.Retry != nil {
		base = *def.Retry
	}
	r := base
	if p.Retry != nil {
		r = *p.Retry
		if r.MaxAttempts <= 0 {
			r.MaxAttempts = base.MaxAttempts
		}
		if r.InitialInterval <= 0 {
			r.InitialInterval = base.InitialInterval
		}
		if r.BackoffCoefficient <= 0 {
			r.BackoffCoefficient = base.BackoffCoefficient
		}
		if r.MaximumInterval <= 0 {
			r.MaximumInterval = base.MaximumInterval
		}
	}
	out.Retry = &r
	return out
}

// DefaultPolicy returns the built-in policy: 300s timeout, 3 attempts with 1s..10s exponential backoff.
func DefaultPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		TimeoutSeconds: DefaultTimeoutSeconds,
		Retry: &RetryPolicy{
			MaxAttempts:        DefaultMaxAttempts,
			InitialInterval:    DefaultInitialInterval,
			BackoffCoefficient: DefaultBackoffCoefficient,
			MaximumInterval:    DefaultMaximumInterval,
		},
	}
}

// ToolInfo is an independent snapshot of a registered tool, as served by listings.
type ToolInfo struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  map[string]any  `json:"input_schema"`
	OutputSchema map[string]any  `json:"output_schema,omitempty"`
	Injections   []Injection     `json:"injections"`
	Profiles     []string        `json:"profiles"`
	Policy       ExecutionPolicy `json:"policy"`
}

// Invocation is a fully validated call handed to a durable backend.
type Invocation struct {
	RunID     string          `json:"run_id"`
	Tool      string          `json:"tool"`
	Arguments map[string]any  `json:"arguments"`
	Policy    ExecutionPolicy `json:"policy"`
}

// DurableResult is the terminal outcome of an execute-and-wait durable run.
type DurableResult struct {
	RunID string
	Value any
}

// DurableBackend delegates execution to an external durable executor.
// Errors should wrap ErrTimeout, ErrBackendUnavailable or be ExecutionErrors so ErrorTypeOf maps them.
type DurableBackend interface {
	// ExecuteAndWait runs inv and blocks until it completes, fails permanently, or the wait budget ends.
	ExecuteAndWait(ctx context.Context, inv Invocation) (DurableResult, error)
	// StartAndReturn schedules inv and returns its run id without waiting.
	StartAndReturn(ctx context.Context, inv Invocation) (string, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
