package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/sashabaranov/go-openai"

	"github.com/skosovsky/toolserve"
	"github.com/skosovsky/toolserve/format"
)

// ToolsOption configures how RemoteTools and the framework adapters build their tool set.
type ToolsOption func(*toolsOptions)

type toolsOptions struct {
	profile     string
	names       []string
	source      ContextSource
	prevalidate bool
	strict      bool
}

// WithProfile keeps only tools tagged with profile.
func WithProfile(profile string) ToolsOption {
	return func(o *toolsOptions) { o.profile = profile }
}

// WithToolNames keeps only the named tools, in the given order. Unknown names are an error.
func WithToolNames(names ...string) ToolsOption {
	return func(o *toolsOptions) { o.names = names }
}

// WithContextSource overrides the adapter's default context source.
func WithContextSource(src ContextSource) ToolsOption {
	return func(o *toolsOptions) { o.source = src }
}

// WithPreValidation validates arguments against the fetched input schema before sending them.
func WithPreValidation() ToolsOption {
	return func(o *toolsOptions) { o.prevalidate = true }
}

// WithStrict requests OpenAI strict-mode tool definitions.
func WithStrict() ToolsOption {
	return func(o *toolsOptions) { o.strict = true }
}

func buildToolsOptions(def ContextSource, opts []ToolsOption) toolsOptions {
	o := toolsOptions{source: def}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RemoteTools fetches the descriptors and wraps each as a RemoteTool. Context is taken from
// the call's context.Context unless WithContextSource is given.
func (c *Client) RemoteTools(ctx context.Context, opts ...ToolsOption) ([]*RemoteTool, error) {
	return c.remoteTools(ctx, buildToolsOptions(AmbientContext, opts))
}

func (c *Client) remoteTools(ctx context.Context, o toolsOptions) ([]*RemoteTool, error) {
	infos, err := c.FetchTools(ctx, o.profile)
	if err != nil {
		return nil, err
	}
	if len(o.names) > 0 {
		byName := make(map[string]toolserve.ToolInfo, len(infos))
		for _, info := range infos {
			byName[info.Name] = info
		}
		selected := make([]toolserve.ToolInfo, 0, len(o.names))
		for _, name := range o.names {
			info, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("tool %q: %w", name, toolserve.ErrToolNotFound)
			}
			selected = append(selected, info)
		}
		infos = selected
	}

	tools := make([]*RemoteTool, 0, len(infos))
	for _, info := range infos {
		t := &RemoteTool{info: info, client: c, source: o.source}
		if o.prevalidate && info.InputSchema != nil {
			if t.validator, err = compileSchema(info.Name, info.InputSchema); err != nil {
				return nil, fmt.Errorf("compile input schema of %q: %w", info.Name, err)
			}
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func infosOf(tools []*RemoteTool) []toolserve.ToolInfo {
	out := make([]toolserve.ToolInfo, len(tools))
	for i, t := range tools {
		out[i] = t.info
	}
	return out
}

func index(tools []*RemoteTool) map[string]*RemoteTool {
	m := make(map[string]*RemoteTool, len(tools))
	for _, t := range tools {
		m[t.info.Name] = t
	}
	return m
}

// OpenAITools holds OpenAI tool definitions for a chat completion request and dispatches the
// model's tool calls back to the server.
type OpenAITools struct {
	Definitions []openai.Tool
	tools       map[string]*RemoteTool
	strict      bool
}

// AsOpenAITools builds OpenAI tools. Context is ambient by default: attach it with WithToolContext
// on the ctx passed to Dispatch.
func (c *Client) AsOpenAITools(ctx context.Context, opts ...ToolsOption) (*OpenAITools, error) {
	o := buildToolsOptions(AmbientContext, opts)
	tools, err := c.remoteTools(ctx, o)
	if err != nil {
		return nil, err
	}
	return &OpenAITools{
		Definitions: format.OpenAI(infosOf(tools), o.strict),
		tools:       index(tools),
		strict:      o.strict,
	}, nil
}

// Dispatch executes one tool call from an assistant message and returns the tool message to append
// to the conversation. Failures are reported to the model in the message content.
func (o *OpenAITools) Dispatch(ctx context.Context, call openai.ToolCall) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Name:       call.Function.Name,
		ToolCallID: call.ID,
	}
	t, ok := o.tools[call.Function.Name]
	if !ok {
		msg.Content = errorContent(toolserve.ErrorTypeToolNotFound, fmt.Sprintf("tool %q not found", call.Function.Name))
		return msg
	}
	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			msg.Content = errorContent(toolserve.ErrorTypeValidation, "arguments must be a JSON object: "+err.Error())
			return msg
		}
	}
	if o.strict {
		dropNullOptionals(args, t.info.InputSchema)
	}
	result, err := t.Invoke(ctx, args)
	if err != nil {
		msg.Content = errorContentOf(err)
		return msg
	}
	msg.Content = resultContent(result)
	return msg
}

// dropNullOptionals removes the nulls strict mode forces the model to send for optional
// properties, at every nesting level described by schema.
func dropNullOptionals(value any, schema map[string]any) {
	switch v := value.(type) {
	case map[string]any:
		props, _ := schema["properties"].(map[string]any)
		for k, child := range v {
			if child == nil {
				if props != nil && !isRequired(schema, k) {
					delete(v, k)
				}
				continue
			}
			if ps, ok := props[k].(map[string]any); ok {
				dropNullOptionals(child, ps)
			} else if ap, ok := schema["additionalProperties"].(map[string]any); ok {
				dropNullOptionals(child, ap)
			}
		}
		if variant := matchVariant(v, schema); variant != nil {
			dropNullOptionals(v, variant)
		}
	case []any:
		if items, ok := schema["items"].(map[string]any); ok {
			for _, el := range v {
				dropNullOptionals(el, items)
			}
		}
	}
}

func isRequired(schema map[string]any, key string) bool {
	switch req := schema["required"].(type) {
	case []any:
		return slices.Contains(req, any(key))
	case []string:
		return slices.Contains(req, key)
	}
	return false
}

// matchVariant returns the first anyOf/oneOf object variant that declares every key of v and
// whose const or enum properties admit the scalar values of v.
func matchVariant(v map[string]any, schema map[string]any) map[string]any {
	for _, key := range []string{"oneOf", "anyOf"} {
		variants, _ := schema[key].([]any)
		for _, raw := range variants {
			variant, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			props, ok := variant["properties"].(map[string]any)
			if !ok {
				continue
			}
			if fitsVariant(v, props) {
				return variant
			}
		}
	}
	return nil
}

func fitsVariant(v map[string]any, props map[string]any) bool {
	for k, val := range v {
		ps, declared := props[k].(map[string]any)
		if !declared {
			return false
		}
		switch val.(type) {
		case string, float64, bool:
		default:
			continue
		}
		if c, ok := ps["const"]; ok && c != val {
			return false
		}
		if enum, ok := ps["enum"].([]any); ok && !slices.Contains(enum, val) {
			return false
		}
	}
	return true
}

// LangChainTool follows the LangChain tool convention: a name, a description and a Call that takes
// the model's raw JSON input and returns text.
type LangChainTool struct {
	*RemoteTool
}

// Call runs the tool with a JSON object input. A failed call returns its message as output
// together with the *CallError.
func (t LangChainTool) Call(ctx context.Context, input string) (string, error) {
	result, err := t.InvokeJSON(ctx, input)
	if err != nil {
		return errorContentOf(err), err
	}
	return resultContent(result), nil
}

// AsLangChainTools builds LangChain-style tools. Context comes from the explicit callback src;
// a nil src sends no context.
func (c *Client) AsLangChainTools(ctx context.Context, src ContextFunc, opts ...ToolsOption) ([]LangChainTool, error) {
	var def ContextSource
	if src != nil {
		def = src
	}
	tools, err := c.remoteTools(ctx, buildToolsOptions(def, opts))
	if err != nil {
		return nil, err
	}
	out := make([]LangChainTool, len(tools))
	for i, t := range tools {
		out[i] = LangChainTool{RemoteTool: t}
	}
	return out, nil
}

// ElevenLabsTools holds ElevenLabs client-tool definitions and handles the agent's tool invocations.
type ElevenLabsTools struct {
	Definitions []format.ElevenLabsTool
	tools       map[string]*RemoteTool
}

// AsElevenLabsTools builds ElevenLabs client tools with toolCtx bound for the whole conversation.
func (c *Client) AsElevenLabsTools(ctx context.Context, toolCtx map[string]any, opts ...ToolsOption) (*ElevenLabsTools, error) {
	tools, err := c.remoteTools(ctx, buildToolsOptions(StaticContext(toolCtx), opts))
	if err != nil {
		return nil, err
	}
	return &ElevenLabsTools{
		Definitions: format.ElevenLabs(infosOf(tools), format.DefaultElevenLabsToolType),
		tools:       index(tools),
	}, nil
}

// Handle executes a client-tool invocation and returns the result to hand back to the agent.
func (e *ElevenLabsTools) Handle(ctx context.Context, name string, params map[string]any) (any, error) {
	t, ok := e.tools[name]
	if !ok {
		return nil, &CallError{Tool: name, Type: toolserve.ErrorTypeToolNotFound, Message: fmt.Sprintf("tool %q not found", name)}
	}
	return t.Invoke(ctx, params)
}

func resultContent(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func errorContent(typ toolserve.ErrorType, msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg, "error_type": string(typ)})
	return string(data)
}

func errorContentOf(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return errorContent(ce.Type, ce.Message)
	}
	return errorContent(toolserve.ErrorTypeExecution, err.Error())
}
