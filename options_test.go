package toolserve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Millisecond, 1},
		{0, 0},
		{-time.Second, 0},
	}
	for _, tt := range tests {
		var o toolOptions
		WithTimeout(tt.in)(&o)
		assert.Equal(t, tt.want, o.policy.TimeoutSeconds, tt.in.String())
	}
}

func TestToolOptions_Combined(t *testing.T) {
	tool := newAddTool(t,
		WithProfiles("math"),
		WithTimeout(2*time.Second),
		WithRetry(RetryPolicy{MaxAttempts: 1}),
		WithFireAndForget(),
	)
	p := tool.Policy()
	assert.Equal(t, 2, p.TimeoutSeconds)
	assert.True(t, p.FireAndForget)
	require.NotNil(t, p.Retry)
	assert.Equal(t, 1, p.Retry.MaxAttempts)
	assert.Equal(t, []string{"math"}, tool.Profiles())

	// WithProfiles copies its input.
	profiles := []string{"a"}
	other := newAddTool(t, WithProfiles(profiles...))
	profiles[0] = "b"
	assert.Equal(t, []string{"a"}, other.Profiles())
}

func TestEngineOptions(t *testing.T) {
	eng := NewEngine(NewRegistry(),
		WithDefaultPolicy(ExecutionPolicy{TimeoutSeconds: 30}),
		WithMaxConcurrency(0),
		WithBatchConcurrency(2),
		WithLogger(nil),
	)
	assert.Nil(t, eng.sem)
	assert.Equal(t, 2, eng.opts.batchConcurrency)
	assert.NotNil(t, eng.logger)
	assert.Equal(t, 30, eng.opts.defaults.TimeoutSeconds)
	assert.Equal(t, DefaultMaxAttempts, eng.opts.defaults.Retry.MaxAttempts)
	assert.False(t, eng.DurableEnabled())

	tool := newAddTool(t)
	assert.Equal(t, 30, eng.EffectivePolicy(tool).TimeoutSeconds)
	assert.Equal(t, 0, tool.Policy().TimeoutSeconds)
}
