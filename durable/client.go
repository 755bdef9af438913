package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/skosovsky/toolserve"
)

// Option configures a Client or a Worker.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Client enqueues tool runs on asynq and waits for their outcomes. It implements toolserve.DurableBackend.
type Client struct {
	cfg    Config
	enq    enqueuer
	broker broker
	logger *zap.Logger
	newID  func() string
}

var _ toolserve.DurableBackend = (*Client)(nil)

// NewClient connects to redis as described by cfg. Connections are lazy; use Ping to check reachability.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	return newClient(cfg, asynq.NewClient(cfg.redisConnOpt()), newRedisBroker(cfg), buildOptions(opts).logger)
}

func newClient(cfg Config, enq enqueuer, b broker, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		enq:    enq,
		broker: b,
		logger: logger.Named("durable.client"),
		newID:  uuid.NewString,
	}
}

// ExecuteAndWait enqueues inv and blocks until the worker publishes its terminal outcome,
// ctx ends, or the wait budget of inv.Policy (plus slack) elapses.
func (c *Client) ExecuteAndWait(ctx context.Context, inv toolserve.Invocation) (toolserve.DurableResult, error) {
	inv.RunID = c.newID()
	sub, err := c.broker.Subscribe(ctx, channel(c.cfg.Namespace, inv.RunID))
	if err != nil {
		c.logger.Error("subscribe to run outcome failed", zap.String("run_id", inv.RunID), zap.Error(err))
		return toolserve.DurableResult{}, fmt.Errorf("subscribe: %v: %w", err, toolserve.ErrBackendUnavailable)
	}
	defer func() { _ = sub.Close() }()

	if err := c.enqueue(ctx, inv); err != nil {
		return toolserve.DurableResult{}, err
	}

	budget := WaitBudget(inv.Policy) + c.cfg.WaitSlack
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return toolserve.DurableResult{}, fmt.Errorf("run %s: outcome channel closed: %w", inv.RunID, toolserve.ErrBackendUnavailable)
		}
		return c.decode(inv, []byte(msg.Payload))
	case <-timer.C:
		c.logger.Warn("durable run exceeded wait budget", zap.String("tool", inv.Tool), zap.String("run_id", inv.RunID),
			zap.Duration("budget", budget))
		return toolserve.DurableResult{}, fmt.Errorf("tool %q run %s did not finish within %s: %w",
			inv.Tool, inv.RunID, budget, toolserve.ErrTimeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return toolserve.DurableResult{}, fmt.Errorf("tool %q run %s: caller deadline exceeded: %w",
				inv.Tool, inv.RunID, toolserve.ErrTimeout)
		}
		return toolserve.DurableResult{}, &toolserve.ExecutionError{Tool: inv.Tool, Err: fmt.Errorf("wait cancelled: %w", ctx.Err())}
	}
}

// StartAndReturn enqueues inv and returns its run id without waiting.
func (c *Client) StartAndReturn(ctx context.Context, inv toolserve.Invocation) (string, error) {
	inv.RunID = c.newID()
	if err := c.enqueue(ctx, inv); err != nil {
		return "", err
	}
	return inv.RunID, nil
}

// Ping reports whether redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.broker.Ping(ctx)
}

// Close releases the redis connections.
func (c *Client) Close() error {
	return errors.Join(c.enq.Close(), c.broker.Close())
}

func (c *Client) enqueue(ctx context.Context, inv toolserve.Invocation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return &toolserve.SystemError{Err: fmt.Errorf("marshal run %s: %w", inv.RunID, err)}
	}
	info, err := c.enq.EnqueueContext(ctx, asynq.NewTask(TaskType, payload), c.taskOptions(inv)...)
	if err != nil {
		c.logger.Error("enqueue failed", zap.String("tool", inv.Tool), zap.String("run_id", inv.RunID), zap.Error(err))
		return fmt.Errorf("enqueue %q: %v: %w", inv.Tool, err, toolserve.ErrBackendUnavailable)
	}
	c.logger.Debug("run enqueued", zap.String("tool", inv.Tool), zap.String("run_id", inv.RunID), zap.String("queue", info.Queue))
	return nil
}

func (c *Client) taskOptions(inv toolserve.Invocation) []asynq.Option {
	opts := []asynq.Option{
		asynq.TaskID(inv.RunID),
		asynq.Queue(c.cfg.Queue),
		asynq.Timeout(inv.Policy.Timeout()),
		asynq.Retention(c.cfg.Retention),
	}
	maxRetry := 0
	if inv.Policy.Retry != nil && inv.Policy.Retry.MaxAttempts > 1 {
		maxRetry = inv.Policy.Retry.MaxAttempts - 1
	}
	return append(opts, asynq.MaxRetry(maxRetry))
}

func (c *Client) decode(inv toolserve.Invocation, data []byte) (toolserve.DurableResult, error) {
	var out outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return toolserve.DurableResult{}, &toolserve.SystemError{Err: fmt.Errorf("decode outcome of run %s: %w", inv.RunID, err)}
	}
	if !out.OK {
		return toolserve.DurableResult{}, out.toError(inv.Tool)
	}
	var value any
	if len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, &value); err != nil {
			return toolserve.DurableResult{}, &toolserve.SystemError{Err: fmt.Errorf("decode result of run %s: %w", inv.RunID, err)}
		}
	}
	return toolserve.DurableResult{RunID: inv.RunID, Value: value}, nil
}
