// Package testutil provides test helpers for toolserve: ready-made tools, a test engine and an
// in-memory durable backend.
package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/skosovsky/toolserve"
)

// MockTool is a configurable tool definition for tests.
type MockTool struct {
	NameVal   string
	DescVal   string
	ParamsVal []toolserve.Param
	Options   []toolserve.ToolOption
	ExecuteFn toolserve.Handler
}

// Tool builds the tool. It panics on an invalid declaration.
func (m *MockTool) Tool() *toolserve.Tool {
	name := m.NameVal
	if name == "" {
		name = "mock"
	}
	fn := m.ExecuteFn
	if fn == nil {
		fn = func(context.Context, toolserve.Args) (any, error) { return nil, nil }
	}
	return toolserve.Must(toolserve.NewFuncTool(name, m.DescVal, m.ParamsVal, fn, m.Options...))
}

// FakeDurable is an in-memory toolserve.DurableBackend. It records every invocation and, when
// Executor is set, runs execute-and-wait calls inline through Executor.Invoke.
type FakeDurable struct {
	Executor *toolserve.Engine
	Err      error // returned by ExecuteAndWait and StartAndReturn when set
	PingErr  error

	mu   sync.Mutex
	runs []toolserve.Invocation
	seq  int
}

var _ toolserve.DurableBackend = (*FakeDurable)(nil)

func (f *FakeDurable) record(inv toolserve.Invocation) toolserve.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	inv.RunID = fmt.Sprintf("run-%d", f.seq)
	f.runs = append(f.runs, inv)
	return inv
}

// ExecuteAndWait records inv and executes it inline when Executor is set.
func (f *FakeDurable) ExecuteAndWait(ctx context.Context, inv toolserve.Invocation) (toolserve.DurableResult, error) {
	inv = f.record(inv)
	if f.Err != nil {
		return toolserve.DurableResult{}, f.Err
	}
	if f.Executor == nil {
		return toolserve.DurableResult{RunID: inv.RunID}, nil
	}
	t, ok := f.Executor.Registry().Lookup(inv.Tool)
	if !ok {
		return toolserve.DurableResult{}, fmt.Errorf("tool %q: %w", inv.Tool, toolserve.ErrToolNotFound)
	}
	v, err := f.Executor.Invoke(ctx, t, t.BindArgs(inv.Arguments))
	if err != nil {
		return toolserve.DurableResult{}, err
	}
	return toolserve.DurableResult{RunID: inv.RunID, Value: v}, nil
}

// StartAndReturn records inv and returns its run id.
func (f *FakeDurable) StartAndReturn(_ context.Context, inv toolserve.Invocation) (string, error) {
	inv = f.record(inv)
	if f.Err != nil {
		return "", f.Err
	}
	return inv.RunID, nil
}

// Ping returns PingErr.
func (f *FakeDurable) Ping(context.Context) error { return f.PingErr }

// Invocations returns the recorded invocations in call order.
func (f *FakeDurable) Invocations() []toolserve.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.runs)
}
