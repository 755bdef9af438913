package toolserve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine validates, merges and dispatches tool calls and always answers with a CallResponse.
type Engine struct {
	registry *Registry
	opts     engineOptions
	logger   *zap.Logger
	sem      chan struct{}
	done     chan struct{}
	running  sync.WaitGroup
	mu       sync.Mutex
	invoke   Invoker
}

// NewEngine creates an Engine over reg with the given options.
// Without WithDurable every call runs in-process.
func NewEngine(reg *Registry, opts ...EngineOption) *Engine {
	o := engineOptions{
		defaults:         DefaultPolicy(),
		maxConcurrency:   64,
		batchConcurrency: 8,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	var sem chan struct{}
	if o.maxConcurrency > 0 {
		sem = make(chan struct{}, o.maxConcurrency)
	}
	return &Engine{
		registry: reg,
		opts:     o,
		logger:   o.logger.Named("engine"),
		sem:      sem,
		done:     make(chan struct{}),
		invoke:   invokeTool,
	}
}

// Registry returns the registry the engine dispatches against.
func (e *Engine) Registry() *Registry { return e.registry }

// DurableEnabled reports whether calls are delegated to a durable backend.
func (e *Engine) DurableEnabled() bool { return e.opts.durable != nil }

// Durable returns the configured durable backend, or nil.
func (e *Engine) Durable() DurableBackend { return e.opts.durable }

// EffectivePolicy returns t's policy with unset fields taken from the engine defaults.
func (e *Engine) EffectivePolicy(t *Tool) ExecutionPolicy {
	return t.policy.withDefaults(e.opts.defaults)
}

// Describe lists tool snapshots like Registry.List, with effective policies.
func (e *Engine) Describe(profile string) []ToolInfo {
	tools := e.registry.Tools(profile)
	out := make([]ToolInfo, len(tools))
	for i, t := range tools {
		out[i] = t.Info()
		out[i].Policy = e.EffectivePolicy(t)
	}
	return out
}

// Call runs one tool call. It never panics and never returns a bare error: every outcome,
// including unknown tools and timeouts, is a CallResponse.
func (e *Engine) Call(ctx context.Context, req CallRequest) (resp CallResponse) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("call panicked", zap.String("tool", req.ToolName), zap.Any("panic", p), zap.Stack("stack"))
			resp = failure(&SystemError{Err: &panicError{p: p}})
		}
		if e.opts.onAfter != nil {
			e.opts.onAfter(ctx, req, resp, time.Since(start))
		}
	}()
	if e.opts.onBefore != nil {
		e.opts.onBefore(ctx, req)
	}
	if !e.begin() {
		return e.fail(req, ErrShutdown)
	}
	defer e.running.Done()

	tool, ok := e.registry.Lookup(req.ToolName)
	if !ok {
		return e.fail(req, newClientError(ErrorTypeToolNotFound, ErrToolNotFound, "tool %q not found", req.ToolName))
	}
	args, err := tool.prepare(req.Arguments, req.Context)
	if err != nil {
		return e.fail(req, err)
	}
	policy := e.EffectivePolicy(tool)
	if e.opts.durable != nil {
		return e.callDurable(ctx, req, tool, args, policy, start)
	}
	value, err := e.callDirect(ctx, tool, args, policy)
	if err != nil {
		return e.fail(req, err)
	}
	// The envelope is encoded by the transport; a result it cannot encode must fail here.
	if _, err := json.Marshal(value); err != nil {
		return e.fail(req, &ExecutionError{Tool: tool.name, Err: fmt.Errorf("result is not JSON-encodable: %w", err)})
	}
	return CallResponse{
		Success: true,
		Result:  value,
		Metadata: map[string]any{
			"executed_via": ExecutedDirect,
			"duration_ms":  time.Since(start).Milliseconds(),
		},
	}
}

// CallBatch runs calls concurrently (bounded by WithBatchConcurrency) and returns their
// responses in request order. A failing call does not affect the others.
func (e *Engine) CallBatch(ctx context.Context, reqs []CallRequest) []CallResponse {
	out := make([]CallResponse, len(reqs))
	var g errgroup.Group
	if e.opts.batchConcurrency > 0 {
		g.SetLimit(e.opts.batchConcurrency)
	}
	for i, req := range reqs {
		g.Go(func() error {
			out[i] = e.Call(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Invoke runs t's handler through the middleware chain with panic recovery. Validation,
// timeouts and durable dispatch are not applied; durable workers use it after the hop.
func (e *Engine) Invoke(ctx context.Context, t *Tool, args Args) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("tool panicked", zap.String("tool", t.name), zap.Any("panic", p), zap.Stack("stack"))
			value, err = nil, &ExecutionError{Tool: t.name, Err: &panicError{p: p}}
		}
	}()
	e.mu.Lock()
	invoke := e.invoke
	e.mu.Unlock()
	value, err = invoke(ctx, t, args)
	if err != nil {
		return nil, wrapHandlerError(t.name, err)
	}
	return value, nil
}

func (e *Engine) callDirect(ctx context.Context, t *Tool, args Args, policy ExecutionPolicy) (any, error) {
	if err := e.acquireSemaphore(ctx); err != nil {
		return nil, contextError(t.name, policy, err)
	}
	defer e.releaseSemaphore()

	execCtx, cancel := context.WithTimeout(ctx, policy.Timeout())
	defer cancel()
	type outcome struct {
		value any
		err   error
	}
	// Buffered so an abandoned handler can still deliver and exit.
	ch := make(chan outcome, 1)
	go func() {
		v, err := e.Invoke(execCtx, t, args)
		ch <- outcome{value: v, err: err}
	}()
	select {
	case o := <-ch:
		if o.err != nil && execCtx.Err() != nil {
			return nil, contextError(t.name, policy, execCtx.Err())
		}
		return o.value, o.err
	case <-execCtx.Done():
		return nil, contextError(t.name, policy, execCtx.Err())
	}
}

func (e *Engine) callDurable(ctx context.Context, req CallRequest, t *Tool, args Args, policy ExecutionPolicy, start time.Time) CallResponse {
	inv := Invocation{Tool: t.name, Arguments: args.Map(), Policy: policy}
	if policy.FireAndForget {
		runID, err := e.opts.durable.StartAndReturn(ctx, inv)
		if err != nil {
			return e.fail(req, err)
		}
		e.logger.Info("durable run started", zap.String("tool", t.name), zap.String("run_id", runID))
		return CallResponse{
			Success: true,
			Result:  runID,
			Metadata: map[string]any{
				"executed_via": ExecutedDurable,
				"run_id":       runID,
				"duration_ms":  time.Since(start).Milliseconds(),
			},
		}
	}
	res, err := e.opts.durable.ExecuteAndWait(ctx, inv)
	if err != nil {
		return e.fail(req, err)
	}
	return CallResponse{
		Success: true,
		Result:  res.Value,
		Metadata: map[string]any{
			"executed_via": ExecutedDurable,
			"run_id":       res.RunID,
			"duration_ms":  time.Since(start).Milliseconds(),
		},
	}
}

// fail logs err with full detail and converts it to a sanitized envelope.
func (e *Engine) fail(req CallRequest, err error) CallResponse {
	resp := failure(err)
	fields := []zap.Field{zap.String("tool", req.ToolName), zap.String("error_type", string(resp.ErrorType)), zap.Error(err)}
	if IsClientError(err) {
		e.logger.Warn("tool call rejected", fields...)
	} else {
		e.logger.Error("tool call failed", fields...)
	}
	return resp
}

func failure(err error) CallResponse {
	return CallResponse{Success: false, Error: PublicMessage(err), ErrorType: ErrorTypeOf(err)}
}

// contextError converts a cancelled or expired execution context into a timeout or execution error.
func contextError(tool string, policy ExecutionPolicy, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("tool %q exceeded its timeout of %ds: %w", tool, policy.TimeoutSeconds, ErrTimeout)
	}
	return &ExecutionError{Tool: tool, Err: fmt.Errorf("call cancelled: %w", err)}
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.done:
		return false
	default:
	}
	e.running.Add(1)
	return true
}

func (e *Engine) acquireSemaphore(ctx context.Context) error {
	if e.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) releaseSemaphore() {
	if e.sem != nil {
		<-e.sem
	}
}

// Shutdown closes the engine for new calls and waits for in-flight calls or ctx to cancel.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	select {
	case <-e.done:
		e.mu.Unlock()
		return nil
	default:
		close(e.done)
	}
	e.mu.Unlock()
	done := make(chan struct{})
	go func() {
		e.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
