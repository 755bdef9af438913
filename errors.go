package toolserve

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for toolserve. Use errors.Is to check.
var (
	ErrToolNotFound   = errors.New("tool not found")
	ErrMissingContext = errors.New("missing required context")
	ErrValidation     = errors.New("validation failed")
	ErrExecution      = errors.New("tool execution failed")
	ErrTimeout        = errors.New("tool execution timeout")
	ErrShutdown       = errors.New("engine is shutting down")

	ErrDuplicateTool      = errors.New("tool already registered")
	ErrParamOrder         = errors.New("invalid parameter order")
	ErrUnsupportedType    = errors.New("unsupported parameter type")
	ErrInvalidSchema      = errors.New("invalid schema declaration")
	ErrBackendUnavailable = errors.New("durable backend unavailable")
)

// ErrorType is the machine-readable failure category carried in CallResponse.ErrorType.
type ErrorType string

const (
	ErrorTypeToolNotFound   ErrorType = "tool_not_found"
	ErrorTypeMissingContext ErrorType = "missing_context"
	ErrorTypeValidation     ErrorType = "validation_error"
	ErrorTypeExecution      ErrorType = "execution_error"
	ErrorTypeTimeout        ErrorType = "timeout"
)

// Retryable reports whether a call that failed with this type may succeed when repeated unchanged.
func (t ErrorType) Retryable() bool {
	return t == ErrorTypeTimeout
}

// ClientError is an error whose Reason is safe to return to the caller (and the LLM behind it)
// for self-correction: unknown tool, missing context, bad arguments.
// Err optionally wraps a sentinel (e.g. ErrValidation) for errors.Is/errors.As.
type ClientError struct {
	Type   ErrorType
	Reason string
	// Retryable is set by the application for failures worth repeating unchanged (a transient rate
	// limit). Durable runs are retried under their retry policy; otherwise the caller decides.
	Retryable bool
	Err       error
}

func (e *ClientError) Error() string {
	return e.Reason
}

func (e *ClientError) Unwrap() error { return e.Err }

// ExecutionError is a failure raised by the tool itself (returned error or panic).
// Error() carries only the first line of the underlying message; Unwrap exposes the full error for logs.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %s", e.Tool, sanitize(e.Err.Error()))
}

func (e *ExecutionError) Unwrap() []error { return []error{ErrExecution, e.Err} }

// SystemError represents an internal failure (marshal error, backend outage, etc.).
// The caller should not see the underlying error message.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	return "internal system error during tool execution"
}

func (e *SystemError) Unwrap() error { return e.Err }

// IsClientError returns true if err is or wraps a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsSystemError returns true if err is or wraps a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// ErrorTypeOf maps any error produced by the engine, a tool, or a durable backend to its envelope type.
// Unknown errors are execution errors.
func ErrorTypeOf(err error) ErrorType {
	var ce *ClientError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce) && ce.Type != "":
		return ce.Type
	case errors.Is(err, ErrTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrToolNotFound):
		return ErrorTypeToolNotFound
	case errors.Is(err, ErrMissingContext):
		return ErrorTypeMissingContext
	case errors.Is(err, ErrValidation):
		return ErrorTypeValidation
	default:
		return ErrorTypeExecution
	}
}

// PublicMessage returns the text that may cross the API boundary for err.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return ErrBackendUnavailable.Error()
	}
	var se *SystemError
	if errors.As(err, &se) && !IsClientError(err) {
		return se.Error()
	}
	return sanitize(err.Error())
}

const maxMessageLen = 512

// sanitize keeps the first non-empty line of msg and caps its length.
func sanitize(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen] + "..."
	}
	return msg
}

func newClientError(typ ErrorType, sentinel error, format string, args ...any) *ClientError {
	return &ClientError{Type: typ, Reason: fmt.Sprintf(format, args...), Err: sentinel}
}

// panicError wraps a recovered panic value; used by the engine and WithRecovery middleware.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
