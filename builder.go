package toolserve

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool is a registered, immutable tool descriptor built by NewTool or NewFuncTool.
type Tool struct {
	name         string
	description  string
	handler      Handler
	params       []Param
	paramNames   []string
	defaults     map[string]any
	injections   []Injection
	inputSchema  map[string]any
	outputSchema map[string]any
	resolved     *jsonschema.Resolved
	injected     map[string]*jsonschema.Resolved
	profiles     []string
	policy       ExecutionPolicy
}

// NewFuncTool builds a Tool from an explicit parameter list and a handler.
// Registration-time problems (bad types, bad parameter order, invalid defaults) are returned here.
func NewFuncTool(name, description string, params []Param, handler Handler, opts ...ToolOption) (*Tool, error) {
	return newTool(name, description, params, handler, nil, opts)
}

// NewTool builds a Tool from a typed function. Parameters are derived from the fields of T
// (see ParamsFromStruct); the output schema is reflected from R.
func NewTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T) (R, error),
	opts ...ToolOption,
) (*Tool, error) {
	if fn == nil {
		return nil, fmt.Errorf("tool %q: handler must not be nil", name)
	}
	ext, err := NewExtractor[T]()
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	handler := func(ctx context.Context, args Args) (any, error) {
		in, err := ext.Decode(args)
		if err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
	return newTool(name, description, ext.Params(), handler, reflectOutputSchema(reflect.TypeFor[R]()), opts)
}

// Must panics if err is non-nil; for startup wiring where a bad declaration is fatal.
func Must(t *Tool, err error) *Tool {
	if err != nil {
		panic(err)
	}
	return t
}

func newTool(name, description string, params []Param, handler Handler, output map[string]any, opts []ToolOption) (*Tool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: tool name must not be empty", ErrInvalidSchema)
	}
	if handler == nil {
		return nil, fmt.Errorf("tool %q: handler must not be nil", name)
	}
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.policy.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("%w: tool %q has a negative timeout", ErrInvalidSchema, name)
	}
	d, err := Derive(params)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	schemaMap, err := schemaToMap(d.Schema)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	if _, ok := schemaMap["properties"]; !ok {
		schemaMap["properties"] = map[string]any{}
	}
	if _, ok := schemaMap["required"]; !ok {
		schemaMap["required"] = []any{}
	}
	resolved, err := compileRawSchema(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w: %v", name, ErrInvalidSchema, err)
	}
	t := &Tool{
		name:         name,
		description:  description,
		handler:      handler,
		params:       d.Params,
		paramNames:   make([]string, 0, len(d.Params)),
		defaults:     make(map[string]any),
		injections:   d.Injections,
		inputSchema:  schemaMap,
		outputSchema: output,
		resolved:     resolved,
		injected:     make(map[string]*jsonschema.Resolved, len(d.Injections)),
		profiles:     o.profiles,
		policy:       o.policy,
	}
	if t.description == "" {
		t.description = "Tool: " + name
	}
	for _, p := range d.Params {
		t.paramNames = append(t.paramNames, p.Name)
		if p.HasDefault && p.Default != nil {
			v, err := normalize(p.Default)
			if err != nil {
				return nil, fmt.Errorf("tool %q: parameter %q: %w", name, p.Name, err)
			}
			t.defaults[p.Name] = v
		}
	}
	for _, inj := range d.Injections {
		node, err := emit(inj.Type)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		r, err := node.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("tool %q: parameter %q: %w: %v", name, inj.Param, ErrInvalidSchema, err)
		}
		t.injected[inj.Param] = r
	}
	return t, nil
}

func (t *Tool) Name() string        { return t.name }
func (t *Tool) Description() string { return t.description }

// InputSchema returns a deep copy of the caller-visible JSON Schema.
func (t *Tool) InputSchema() map[string]any { return CloneSchema(t.inputSchema) }

// OutputSchema returns a deep copy of the result schema, or nil when the tool declares none.
func (t *Tool) OutputSchema() map[string]any { return CloneSchema(t.outputSchema) }

// Injections returns the injected parameters in declaration order.
func (t *Tool) Injections() []Injection { return slices.Clone(t.injections) }

// Params returns the declared parameters in order.
func (t *Tool) Params() []Param { return slices.Clone(t.params) }

func (t *Tool) Profiles() []string { return slices.Clone(t.profiles) }

// Policy returns the policy as declared; unset fields are zero. See Engine.EffectivePolicy.
func (t *Tool) Policy() ExecutionPolicy { return clonePolicy(t.policy) }

// HasProfile reports whether the tool carries profile (case-insensitive).
func (t *Tool) HasProfile(profile string) bool {
	return slices.ContainsFunc(t.profiles, func(p string) bool { return strings.EqualFold(p, profile) })
}

// Info returns an independent snapshot of the descriptor.
func (t *Tool) Info() ToolInfo {
	inj := t.Injections()
	if inj == nil {
		inj = []Injection{}
	}
	profiles := t.Profiles()
	if profiles == nil {
		profiles = []string{}
	}
	return ToolInfo{
		Name:         t.name,
		Description:  t.description,
		InputSchema:  t.InputSchema(),
		OutputSchema: t.OutputSchema(),
		Injections:   inj,
		Profiles:     profiles,
		Policy:       t.Policy(),
	}
}

// Invoke calls the handler with already merged args. It does not validate, recover panics, or apply timeouts.
func (t *Tool) Invoke(ctx context.Context, args Args) (any, error) {
	return t.handler(ctx, args)
}

// BindArgs orders previously merged values by the tool's parameters (e.g. after a durable hop).
func (t *Tool) BindArgs(values map[string]any) Args {
	return NewArgs(t.paramNames, values)
}

func (t *Tool) hasParam(name string) bool {
	return slices.Contains(t.paramNames, name)
}

func (t *Tool) isInjected(name string) bool {
	_, ok := t.injected[name]
	return ok
}

func clonePolicy(p ExecutionPolicy) ExecutionPolicy {
	if p.Retry != nil {
		r := *p.Retry
		p.Retry = &r
	}
	return p
}

// wrapHandlerError passes through ClientError and timeouts; wraps other errors as ExecutionError.
func wrapHandlerError(tool string, err error) error {
	if err == nil {
		return nil
	}
	var ee *ExecutionError
	if IsClientError(err) || errors.As(err, &ee) {
		return err
	}
	return &ExecutionError{Tool: tool, Err: err}
}
