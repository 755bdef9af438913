package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/skosovsky/toolserve"
)

// ContextSource supplies the values of injected parameters at call time.
type ContextSource interface {
	ToolContext(ctx context.Context) (map[string]any, error)
}

// ContextFunc is an explicit callback context source.
type ContextFunc func(ctx context.Context) (map[string]any, error)

// ToolContext calls f.
func (f ContextFunc) ToolContext(ctx context.Context) (map[string]any, error) { return f(ctx) }

// StaticContext is a context bound once, when the tools are built.
type StaticContext map[string]any

// ToolContext returns a copy of s.
func (s StaticContext) ToolContext(context.Context) (map[string]any, error) { return maps.Clone(s), nil }

type toolContextKey struct{}

// WithToolContext returns a copy of ctx carrying values for injected parameters. Values already
// present in ctx are kept unless overridden.
func WithToolContext(ctx context.Context, values map[string]any) context.Context {
	merged := maps.Clone(ToolContextFrom(ctx))
	if merged == nil {
		merged = make(map[string]any, len(values))
	}
	maps.Copy(merged, values)
	return context.WithValue(ctx, toolContextKey{}, merged)
}

// ToolContextFrom returns the values attached with WithToolContext, or nil.
func ToolContextFrom(ctx context.Context) map[string]any {
	m, _ := ctx.Value(toolContextKey{}).(map[string]any)
	return m
}

type ambientContext struct{}

func (ambientContext) ToolContext(ctx context.Context) (map[string]any, error) {
	return maps.Clone(ToolContextFrom(ctx)), nil
}

// AmbientContext reads injected values from the call's context.Context (see WithToolContext).
var AmbientContext ContextSource = ambientContext{}

// RemoteTool is one server-side tool as seen by the client. Framework adapters wrap it;
// they differ only in the ContextSource they bind.
type RemoteTool struct {
	info      toolserve.ToolInfo
	client    *Client
	source    ContextSource
	validator *jsonschema.Schema
}

// Name returns the tool name.
func (t *RemoteTool) Name() string { return t.info.Name }

// Description returns the tool description.
func (t *RemoteTool) Description() string { return t.info.Description }

// Parameters returns a copy of the caller-visible argument schema. Injected parameters are not part of it.
func (t *RemoteTool) Parameters() map[string]any { return toolserve.CloneSchema(t.info.InputSchema) }

// Injections returns the parameters resolved from context.
func (t *RemoteTool) Injections() []toolserve.Injection { return slices.Clone(t.info.Injections) }

// Info returns the descriptor the tool was built from.
func (t *RemoteTool) Info() toolserve.ToolInfo { return t.info }

// Invoke validates args locally when pre-validation is on, resolves the injected context
// and calls the tool on the server.
func (t *RemoteTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := t.prevalidate(args); err != nil {
		return nil, err
	}
	toolCtx, err := t.resolveContext(ctx)
	if err != nil {
		return nil, err
	}
	return t.client.CallTool(ctx, t.info.Name, args, toolCtx)
}

// InvokeJSON is Invoke with arguments given as a JSON object. An empty input means no arguments.
func (t *RemoteTool) InvokeJSON(ctx context.Context, input string) (any, error) {
	args := map[string]any{}
	if s := strings.TrimSpace(input); s != "" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return nil, &CallError{Tool: t.info.Name, Type: toolserve.ErrorTypeValidation,
				Message: "arguments must be a JSON object: " + err.Error()}
		}
	}
	return t.Invoke(ctx, args)
}

// resolveContext returns only the context keys the tool declares; other values are not sent.
func (t *RemoteTool) resolveContext(ctx context.Context) (map[string]any, error) {
	if len(t.info.Injections) == 0 || t.source == nil {
		return nil, nil
	}
	all, err := t.source.ToolContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve context for %q: %w", t.info.Name, err)
	}
	out := make(map[string]any, len(t.info.Injections))
	for _, inj := range t.info.Injections {
		if v, ok := all[inj.ContextKey]; ok {
			out[inj.ContextKey] = v
		}
	}
	return out, nil
}

func (t *RemoteTool) prevalidate(args map[string]any) error {
	if t.validator == nil {
		return nil
	}
	inst, err := toJSONValue(args)
	if err == nil {
		err = t.validator.Validate(inst)
	}
	if err == nil {
		return nil
	}
	msg := err.Error()
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		msg = strings.TrimSpace(ve.Error())
	}
	return &CallError{Tool: t.info.Name, Type: toolserve.ErrorTypeValidation, Message: "invalid arguments: " + msg}
}

// compileSchema compiles a fetched input schema for local validation.
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	doc, err := toJSONValue(schema)
	if err != nil {
		return nil, err
	}
	loc := "toolserve://tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(loc, doc); err != nil {
		return nil, err
	}
	return c.Compile(loc)
}

// toJSONValue re-decodes v with the number handling the validator expects.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}
