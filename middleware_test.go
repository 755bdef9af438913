package toolserve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tool := newAddTool(t)
	inv := WithLogging(zap.New(core))(invokeTool)
	out, err := inv(context.Background(), tool, NewArgs([]string{"a", "b"}, map[string]any{"a": 1.0, "b": 2.0}))
	require.NoError(t, err)
	assert.Equal(t, 3, out)
	assert.Equal(t, 1, logs.FilterMessage("tool start").Len())
	ends := logs.FilterMessage("tool end").All()
	require.Len(t, ends, 1)
	assert.Equal(t, "add", ends[0].ContextMap()["tool"])
}

func TestWithRecovery(t *testing.T) {
	tool, err := NewFuncTool("panic_me", "", nil, func(context.Context, Args) (any, error) {
		panic("test panic")
	})
	require.NoError(t, err)
	res, err := WithRecovery()(invokeTool)(context.Background(), tool, Args{})
	require.Error(t, err)
	assert.Nil(t, res)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Error(), "panic: test panic")
}

func TestWithTimeoutMiddleware(t *testing.T) {
	tool, err := NewFuncTool("slow", "", nil, func(ctx context.Context, _ Args) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	res, err := WithTimeoutMiddleware(5*time.Millisecond)(invokeTool)(context.Background(), tool, Args{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_Use(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(newAddTool(t))
	core, logs := observer.New(zapcore.InfoLevel)
	eng := NewEngine(reg)
	eng.Use(WithRecovery(), WithLogging(zap.New(core)))
	resp := eng.Call(context.Background(), CallRequest{ToolName: "add", Arguments: map[string]any{"a": 2, "b": 3}})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 5, resp.Result)
	assert.Equal(t, 1, logs.FilterMessage("tool end").Len())
}

// Calling Use twice rebuilds the chain from the bare handler, so middlewares are not stacked.
func TestEngine_Use_NoDoubleWrap(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(newAddTool(t))
	core, logs := observer.New(zapcore.DebugLevel)
	eng := NewEngine(reg)
	eng.Use(WithLogging(zap.New(core)))
	eng.Use(WithLogging(zap.New(core)))
	resp := eng.Call(context.Background(), CallRequest{ToolName: "add", Arguments: map[string]any{"a": 3, "b": 3}})
	require.True(t, resp.Success)
	assert.Equal(t, 1, logs.FilterMessage("tool start").Len())
}
