// Package client is the remote side of a toolserve server: it fetches tool descriptors over HTTP,
// calls tools, and adapts them to agent-framework calling conventions (OpenAI tool calls,
// LangChain-style string tools, ElevenLabs client tools).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skosovsky/toolserve"
)

// DefaultTimeout bounds a single HTTP exchange unless WithHTTPClient or WithTimeout says otherwise.
const DefaultTimeout = 330 * time.Second

const maxErrorBody = 4 << 10

// Client talks to a toolserve server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	header  http.Header
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the timeout of each HTTP exchange.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHeader adds a header sent with every request (e.g. Authorization).
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the server at baseURL (including any base path, e.g. "http://host:8000/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		header:  make(http.Header),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("toolserve.client")
	return c
}

// CallError is returned by CallTool when the server answers with success=false.
// errors.Is matches it against the toolserve sentinel of its Type.
type CallError struct {
	Tool     string
	Type     toolserve.ErrorType
	Message  string
	Metadata map[string]any
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tool %q failed (%s): %s", e.Tool, e.Type, e.Message)
}

// Is maps the error type onto the matching sentinel.
func (e *CallError) Is(target error) bool {
	switch e.Type {
	case toolserve.ErrorTypeToolNotFound:
		return target == toolserve.ErrToolNotFound
	case toolserve.ErrorTypeMissingContext:
		return target == toolserve.ErrMissingContext
	case toolserve.ErrorTypeValidation:
		return target == toolserve.ErrValidation
	case toolserve.ErrorTypeTimeout:
		return target == toolserve.ErrTimeout
	case toolserve.ErrorTypeExecution:
		return target == toolserve.ErrExecution
	}
	return false
}

// StatusError is returned when the server answers with an unexpected HTTP status and no envelope.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("toolserve: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Health is the payload of GET /health.
type Health struct {
	Status                  string `json:"status"`
	ToolsCount              int    `json:"tools_count"`
	DurableBackendConnected bool   `json:"durable_backend_connected"`
}

// FetchTools lists the server's tool descriptors, optionally filtered by profile.
func (c *Client) FetchTools(ctx context.Context, profile string) ([]toolserve.ToolInfo, error) {
	var q url.Values
	if profile != "" {
		q = url.Values{"profile": {profile}}
	}
	var infos []toolserve.ToolInfo
	if err := c.do(ctx, http.MethodGet, "/tools", q, nil, &infos); err != nil {
		return nil, fmt.Errorf("fetch tools: %w", err)
	}
	return infos, nil
}

// Call posts req and returns the raw envelope. The error is non-nil only for transport or protocol
// failures; a tool failure is reported through the envelope.
func (c *Client) Call(ctx context.Context, req toolserve.CallRequest) (toolserve.CallResponse, error) {
	var resp toolserve.CallResponse
	err := c.do(ctx, http.MethodPost, "/tools/call", nil, req, &resp)
	var se *StatusError
	if errors.As(err, &se) {
		// the server answers malformed requests with a 400 envelope
		if env, ok := decodeEnvelope(se.Body); ok {
			return env, nil
		}
	}
	if err != nil {
		return toolserve.CallResponse{}, fmt.Errorf("call %q: %w", req.ToolName, err)
	}
	return resp, nil
}

// CallTool invokes name with arguments and the injected-parameter context and returns the result.
// A failed call is returned as *CallError.
func (c *Client) CallTool(ctx context.Context, name string, arguments, toolCtx map[string]any) (any, error) {
	resp, err := c.Call(ctx, toolserve.CallRequest{ToolName: name, Arguments: arguments, Context: toolCtx})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		c.logger.Debug("tool call failed", zap.String("tool", name), zap.String("error_type", string(resp.ErrorType)))
		return nil, &CallError{Tool: name, Type: resp.ErrorType, Message: resp.Error, Metadata: resp.Metadata}
	}
	return resp.Result, nil
}

// CallBatch posts several calls at once. Responses are in request order.
func (c *Client) CallBatch(ctx context.Context, reqs []toolserve.CallRequest) ([]toolserve.CallResponse, error) {
	var resps []toolserve.CallResponse
	if err := c.do(ctx, http.MethodPost, "/tools/batch", nil, reqs, &resps); err != nil {
		return nil, fmt.Errorf("call batch: %w", err)
	}
	return resps, nil
}

// Health reports the server health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h); err != nil {
		return Health{}, fmt.Errorf("health: %w", err)
	}
	return h, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("request done", zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeEnvelope(body string) (toolserve.CallResponse, bool) {
	var env toolserve.CallResponse
	if err := json.Unmarshal([]byte(body), &env); err != nil || env.Success || env.ErrorType == "" {
		return toolserve.CallResponse{}, false
	}
	return env, true
}
