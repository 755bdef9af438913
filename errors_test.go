package toolserve

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientError(t *testing.T) {
	err := newClientError(ErrorTypeValidation, ErrValidation, "bad %s", "enum")
	assert.Equal(t, "bad enum", err.Error())
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, ErrorTypeValidation, ErrorTypeOf(err))
}

func TestSystemError(t *testing.T) {
	inner := errors.New("db connection refused")
	err := &SystemError{Err: inner}
	assert.Equal(t, "internal system error during tool execution", err.Error())
	assert.Same(t, inner, err.Unwrap())
	assert.Equal(t, "internal system error during tool execution", PublicMessage(err))
}

func TestExecutionError(t *testing.T) {
	err := &ExecutionError{Tool: "div", Err: errors.New("division by zero\n\tat frame 1\n\tat frame 2")}
	assert.Equal(t, `tool "div" failed: division by zero`, err.Error())
	assert.ErrorIs(t, err, ErrExecution)
	assert.Equal(t, ErrorTypeExecution, ErrorTypeOf(err))
	assert.NotContains(t, PublicMessage(err), "frame")
}

func TestErrorTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"client typed", &ClientError{Type: ErrorTypeMissingContext, Reason: "x"}, ErrorTypeMissingContext},
		{"wrapped timeout", fmt.Errorf("tool %q: %w", "slow", ErrTimeout), ErrorTypeTimeout},
		{"not found sentinel", ErrToolNotFound, ErrorTypeToolNotFound},
		{"missing context sentinel", ErrMissingContext, ErrorTypeMissingContext},
		{"validation sentinel", fmt.Errorf("x: %w", ErrValidation), ErrorTypeValidation},
		{"backend", fmt.Errorf("enqueue: %w", ErrBackendUnavailable), ErrorTypeExecution},
		{"plain", errors.New("boom"), ErrorTypeExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorTypeOf(tt.err))
		})
	}
}

func TestErrorType_Retryable(t *testing.T) {
	assert.True(t, ErrorTypeTimeout.Retryable())
	assert.False(t, ErrorTypeValidation.Retryable())
	assert.False(t, ErrorTypeExecution.Retryable())
}

func TestPublicMessage(t *testing.T) {
	assert.Empty(t, PublicMessage(nil))
	assert.Equal(t, ErrBackendUnavailable.Error(), PublicMessage(fmt.Errorf("dial redis 10.0.0.1:6379: %w", ErrBackendUnavailable)))
	long := strings.Repeat("x", 2000)
	msg := PublicMessage(errors.New(long))
	assert.Len(t, msg, maxMessageLen+len("..."))
	assert.Equal(t, "first", PublicMessage(errors.New("  first\nsecond")))
}

func TestIsClientError(t *testing.T) {
	require.True(t, IsClientError(&ClientError{Reason: "x"}))
	require.False(t, IsClientError(&SystemError{Err: errors.New("x")}))
	require.False(t, IsClientError(ErrToolNotFound))
	require.True(t, IsClientError(wrapErr{err: &ClientError{Reason: "y"}}))
}

func TestIsSystemError(t *testing.T) {
	require.True(t, IsSystemError(&SystemError{Err: errors.New("x")}))
	require.True(t, IsSystemError(wrapErr{err: &SystemError{Err: ErrTimeout}}))
	require.False(t, IsSystemError(&ClientError{Reason: "x"}))
	require.False(t, IsSystemError(ErrToolNotFound))
}

func TestWrapHandlerError(t *testing.T) {
	assert.NoError(t, wrapHandlerError("t", nil))
	ce := &ClientError{Type: ErrorTypeValidation, Reason: "r"}
	assert.Same(t, ce, wrapHandlerError("t", ce))
	ee := &ExecutionError{Tool: "t", Err: errors.New("x")}
	assert.Same(t, ee, wrapHandlerError("t", ee))
	var got *ExecutionError
	require.ErrorAs(t, wrapHandlerError("t", errors.New("boom")), &got)
	assert.Equal(t, "t", got.Tool)
}

type wrapErr struct {
	err error
}

func (e wrapErr) Error() string {
	if e.err == nil {
		return ""
	}
	return "wrap: " + e.err.Error()
}
func (e wrapErr) Unwrap() error { return e.err }
