package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/skosovsky/toolserve"
)

// NewTestRegistry returns a registry holding tools. It panics on a registration error.
func NewTestRegistry(tools ...*toolserve.Tool) *toolserve.Registry {
	reg := toolserve.NewRegistry()
	reg.MustRegister(tools...)
	return reg
}

// NewTestEngine returns an engine over tools with a 30s default timeout, panic recovery,
// and shutdown registered on t.Cleanup.
func NewTestEngine(t testing.TB, tools []*toolserve.Tool, opts ...toolserve.EngineOption) *toolserve.Engine {
	t.Helper()
	policy := toolserve.DefaultPolicy()
	policy.TimeoutSeconds = 30
	eng := toolserve.NewEngine(NewTestRegistry(tools...), append([]toolserve.EngineOption{toolserve.WithDefaultPolicy(policy)}, opts...)...)
	eng.Use(toolserve.WithRecovery())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return eng
}

// AddTool returns "add": integers a and b, result a+b.
func AddTool() *toolserve.Tool {
	return toolserve.Must(toolserve.NewFuncTool("add", "Add two integers", []toolserve.Param{
		{Name: "a", Type: toolserve.Integer()},
		{Name: "b", Type: toolserve.Integer()},
	}, func(_ context.Context, args toolserve.Args) (any, error) {
		return args.Int("a") + args.Int("b"), nil
	}, toolserve.WithProfiles("math")))
}

// GreetTool returns "greet": a visible name plus user_id injected from the "user_id" context key.
func GreetTool() *toolserve.Tool {
	return toolserve.Must(toolserve.NewFuncTool("greet", "Greet a user", []toolserve.Param{
		{Name: "user_id", Type: toolserve.String(), Inject: toolserve.Inject("user_id")},
		{Name: "name", Type: toolserve.String()},
	}, func(_ context.Context, args toolserve.Args) (any, error) {
		return fmt.Sprintf("Hello %s (%s)", args.String("name"), args.String("user_id")), nil
	}, toolserve.WithProfiles("social")))
}

// SleepTool returns "sleep": waits for seconds or until its context ends. Its timeout is one second.
func SleepTool() *toolserve.Tool {
	return toolserve.Must(toolserve.NewFuncTool("sleep", "Sleep", []toolserve.Param{
		{Name: "seconds", Type: toolserve.Number()},
	}, func(ctx context.Context, args toolserve.Args) (any, error) {
		select {
		case <-time.After(time.Duration(args.Float("seconds") * float64(time.Second))):
			return "awake", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, toolserve.WithTimeout(time.Second)))
}
