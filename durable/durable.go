// Package durable runs tool calls as asynq tasks so they survive process restarts and are retried
// with backoff. A Client enqueues runs and, for execute-and-wait calls, waits for the terminal outcome
// published by a Worker on a redis pub/sub channel. It implements toolserve.DurableBackend.
package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/skosovsky/toolserve"
)

// TaskType is the asynq task type of a tool run.
const TaskType = "toolserve:run"

// Defaults applied by Config for unset fields.
const (
	DefaultQueue       = "toolserve"
	DefaultNamespace   = "toolserve"
	DefaultConcurrency = 10
	DefaultRetention   = time.Hour
	DefaultWaitSlack   = 5 * time.Second
)

// Config holds the redis connection and queue settings shared by Client and Worker.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Queue       string
	Namespace   string // prefix of the outcome pub/sub channels
	Concurrency int
	Retention   time.Duration // how long completed tasks and their results stay inspectable
	WaitSlack   time.Duration // added to the computed wait budget of execute-and-wait calls
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.WaitSlack <= 0 {
		c.WaitSlack = DefaultWaitSlack
	}
	return c
}

func (c Config) redisConnOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

func (c Config) redisOptions() *redis.Options {
	return &redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// channel returns the pub/sub channel that carries the outcome of runID.
func channel(namespace, runID string) string {
	return namespace + ":run:" + runID
}

// WaitBudget is the longest an execute-and-wait call can legitimately take under p:
// every attempt running to its timeout plus every backoff between attempts.
func WaitBudget(p toolserve.ExecutionPolicy) time.Duration {
	attempts := 1
	var retry toolserve.RetryPolicy
	if p.Retry != nil {
		retry = *p.Retry
		attempts = max(retry.MaxAttempts, 1)
	}
	total := time.Duration(attempts) * p.Timeout()
	for n := range attempts - 1 {
		total += retry.RetryDelay(n)
	}
	return total
}

// outcome is the terminal result of a run as published by the worker.
type outcome struct {
	RunID     string              `json:"run_id"`
	OK        bool                `json:"ok"`
	Result    json.RawMessage     `json:"result,omitempty"`
	ErrorType toolserve.ErrorType `json:"error_type,omitempty"`
	Error     string              `json:"error,omitempty"`
	Attempts  int                 `json:"attempts"`
}

// toError converts a failed outcome of tool back into an error that maps to the same envelope type.
func (o outcome) toError(tool string) error {
	switch o.ErrorType {
	case toolserve.ErrorTypeTimeout:
		return fmt.Errorf("tool %q run %s: %s: %w", tool, o.RunID, o.Error, toolserve.ErrTimeout)
	case toolserve.ErrorTypeValidation, toolserve.ErrorTypeMissingContext, toolserve.ErrorTypeToolNotFound:
		return &toolserve.ClientError{Type: o.ErrorType, Reason: o.Error}
	default:
		return &toolserve.ExecutionError{Tool: tool, Err: errors.New(o.Error)}
	}
}

// broker is the pub/sub transport for run outcomes.
type broker interface {
	Subscribe(ctx context.Context, channel string) (subscription, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// subscription is satisfied by *redis.PubSub.
type subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// enqueuer is satisfied by *asynq.Client.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type redisBroker struct {
	rdb *redis.Client
}

func newRedisBroker(cfg Config) *redisBroker {
	return &redisBroker{rdb: redis.NewClient(cfg.redisOptions())}
}

// Subscribe waits for the subscription to be confirmed so no message published afterwards is missed.
func (b *redisBroker) Subscribe(ctx context.Context, ch string) (subscription, error) {
	ps := b.rdb.Subscribe(ctx, ch)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return ps, nil
}

func (b *redisBroker) Publish(ctx context.Context, ch string, payload []byte) error {
	return b.rdb.Publish(ctx, ch, payload).Err()
}

func (b *redisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *redisBroker) Close() error {
	return b.rdb.Close()
}
