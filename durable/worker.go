package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/skosovsky/toolserve"
)

// Worker executes durable tool runs against the engine's registry and publishes each terminal outcome.
type Worker struct {
	cfg    Config
	engine *toolserve.Engine
	srv    *asynq.Server
	broker broker
	logger *zap.Logger
}

// NewWorker creates a worker that processes cfg.Queue with cfg.Concurrency handlers.
// Retry backoff follows the policy carried by each task.
func NewWorker(engine *toolserve.Engine, cfg Config, opts ...Option) *Worker {
	cfg = cfg.withDefaults()
	logger := buildOptions(opts).logger.Named("durable.worker")
	w := newWorker(engine, cfg, newRedisBroker(cfg), logger)
	w.srv = asynq.NewServer(cfg.redisConnOpt(), asynq.Config{
		Concurrency:    cfg.Concurrency,
		Queues:         map[string]int{cfg.Queue: 1},
		RetryDelayFunc: retryDelay,
		Logger:         logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("run attempt failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	return w
}

func newWorker(engine *toolserve.Engine, cfg Config, b broker, logger *zap.Logger) *Worker {
	return &Worker{cfg: cfg, engine: engine, broker: b, logger: logger}
}

// Run starts processing and blocks until ctx is done, then shuts the server down gracefully.
func (w *Worker) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskType, w.HandleRun)
	if err := w.srv.Start(mux); err != nil {
		return fmt.Errorf("start durable worker: %w", err)
	}
	w.logger.Info("durable worker started", zap.String("queue", w.cfg.Queue), zap.Int("concurrency", w.cfg.Concurrency))
	<-ctx.Done()
	w.srv.Shutdown()
	w.logger.Info("durable worker stopped")
	return w.broker.Close()
}

// HandleRun executes one attempt of a run. The outcome is published when the run succeeds,
// fails permanently, or fails on its last attempt; otherwise the error is returned for asynq to retry.
func (w *Worker) HandleRun(ctx context.Context, task *asynq.Task) error {
	var inv toolserve.Invocation
	if err := json.Unmarshal(task.Payload(), &inv); err != nil {
		return fmt.Errorf("decode run payload: %v: %w", err, asynq.SkipRetry)
	}
	attempt := attemptOf(ctx)
	logger := w.logger.With(zap.String("tool", inv.Tool), zap.String("run_id", inv.RunID), zap.Int("attempt", attempt))

	tool, ok := w.engine.Registry().Lookup(inv.Tool)
	if !ok {
		err := fmt.Errorf("tool %q not found: %w", inv.Tool, toolserve.ErrToolNotFound)
		w.publish(ctx, logger, failedOutcome(inv.RunID, attempt, err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	value, err := w.engine.Invoke(ctx, tool, tool.BindArgs(inv.Arguments))
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("exceeded its timeout of %ds: %w", inv.Policy.TimeoutSeconds, toolserve.ErrTimeout)
	}
	if err != nil {
		if toolserve.IsClientError(err) && !retryableClientError(err) {
			logger.Warn("run rejected", zap.Error(err))
			w.publish(ctx, logger, failedOutcome(inv.RunID, attempt, err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if isFinalAttempt(ctx) {
			logger.Error("run failed", zap.Error(err))
			w.publish(ctx, logger, failedOutcome(inv.RunID, attempt, err))
		}
		return err
	}

	result, err := json.Marshal(value)
	if err != nil {
		err = &toolserve.ExecutionError{Tool: inv.Tool, Err: fmt.Errorf("result is not JSON-encodable: %w", err)}
		w.publish(ctx, logger, failedOutcome(inv.RunID, attempt, err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if rw := task.ResultWriter(); rw != nil {
		if _, err := rw.Write(result); err != nil {
			logger.Warn("write task result failed", zap.Error(err))
		}
	}
	w.publish(ctx, logger, outcome{RunID: inv.RunID, OK: true, Result: result, Attempts: attempt})
	logger.Info("run completed")
	return nil
}

// publish sends o on the run's channel. It uses a fresh context since ctx may already be past its deadline.
func (w *Worker) publish(ctx context.Context, logger *zap.Logger, o outcome) {
	data, err := json.Marshal(o)
	if err != nil {
		logger.Error("marshal outcome failed", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.broker.Publish(pubCtx, channel(w.cfg.Namespace, o.RunID), data); err != nil {
		logger.Error("publish outcome failed", zap.Error(err))
	}
}

func failedOutcome(runID string, attempt int, err error) outcome {
	typ := toolserve.ErrorTypeOf(err)
	msg := toolserve.PublicMessage(err)
	var ee *toolserve.ExecutionError
	switch {
	case typ == toolserve.ErrorTypeTimeout:
		// the client re-wraps ErrTimeout
		msg = strings.TrimSuffix(msg, ": "+toolserve.ErrTimeout.Error())
	case errors.As(err, &ee):
		msg = toolserve.PublicMessage(ee.Err)
	}
	return outcome{RunID: runID, ErrorType: typ, Error: msg, Attempts: attempt}
}

// retryableClientError reports whether the tool marked its client error as worth retrying unchanged.
func retryableClientError(err error) bool {
	var ce *toolserve.ClientError
	return errors.As(err, &ce) && ce.Retryable
}

// attemptOf returns the 1-based attempt number of the task being processed.
func attemptOf(ctx context.Context) int {
	retried, _ := asynq.GetRetryCount(ctx)
	return retried + 1
}

func isFinalAttempt(ctx context.Context) bool {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried >= maxRetry
}

// retryDelay is the asynq RetryDelayFunc: the backoff of the policy carried in the task payload.
func retryDelay(n int, _ error, task *asynq.Task) time.Duration {
	var inv toolserve.Invocation
	policy := toolserve.DefaultPolicy()
	if err := json.Unmarshal(task.Payload(), &inv); err == nil && inv.Policy.Retry != nil {
		policy = inv.Policy
	}
	return policy.Retry.RetryDelay(n)
}
