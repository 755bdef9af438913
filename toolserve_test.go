package toolserve

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 300, p.TimeoutSeconds)
	assert.Equal(t, 300*time.Second, p.Timeout())
	require.NotNil(t, p.Retry)
	assert.Equal(t, RetryPolicy{MaxAttempts: 3, InitialInterval: 1, BackoffCoefficient: 2, MaximumInterval: 10}, *p.Retry)
	assert.False(t, p.FireAndForget)
}

func TestExecutionPolicy_WithDefaults(t *testing.T) {
	declared := ExecutionPolicy{TimeoutSeconds: 5, Retry: &RetryPolicy{MaxAttempts: 7}, FireAndForget: true}
	eff := declared.withDefaults(DefaultPolicy())
	assert.Equal(t, 5, eff.TimeoutSeconds)
	assert.True(t, eff.FireAndForget)
	assert.Equal(t, RetryPolicy{MaxAttempts: 7, InitialInterval: 1, BackoffCoefficient: 2, MaximumInterval: 10}, *eff.Retry)
	// receiver untouched
	assert.Equal(t, RetryPolicy{MaxAttempts: 7}, *declared.Retry)

	eff = ExecutionPolicy{}.withDefaults(DefaultPolicy())
	assert.Equal(t, 300, eff.TimeoutSeconds)
	assert.Equal(t, 3, eff.Retry.MaxAttempts)
}

func TestRetryPolicy_RetryDelay(t *testing.T) {
	r := RetryPolicy{MaxAttempts: 5, InitialInterval: 1, BackoffCoefficient: 2, MaximumInterval: 10}
	assert.Equal(t, time.Second, r.RetryDelay(0))
	assert.Equal(t, 2*time.Second, r.RetryDelay(1))
	assert.Equal(t, 4*time.Second, r.RetryDelay(2))
	assert.Equal(t, 8*time.Second, r.RetryDelay(3))
	assert.Equal(t, 10*time.Second, r.RetryDelay(4))
	assert.Equal(t, 10*time.Second, r.RetryDelay(20))
}

func TestCallResponse_JSON(t *testing.T) {
	ok, err := json.Marshal(CallResponse{Success: true, Result: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"result":5}`, string(ok))

	failed, err := json.Marshal(CallResponse{Error: "boom", ErrorType: ErrorTypeExecution})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"boom","error_type":"execution_error"}`, string(failed))
}

func TestCallRequest_JSON(t *testing.T) {
	var req CallRequest
	require.NoError(t, json.Unmarshal([]byte(`{"tool_name":"greet","arguments":{"name":"Ana"},"context":null}`), &req))
	assert.Equal(t, "greet", req.ToolName)
	assert.Equal(t, map[string]any{"name": "Ana"}, req.Arguments)
	assert.Nil(t, req.Context)
}
