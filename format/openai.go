// Package format converts tool descriptors into the tool shapes expected by third-party LLM runtimes.
// It is shared by the HTTP server (GET /tools/:format) and the client SDK adapters.
package format

import (
	"slices"

	"github.com/sashabaranov/go-openai"

	"github.com/skosovsky/toolserve"
)

// Supported format names for the /tools/:format endpoint.
const (
	NameOpenAI     = "openai"
	NameElevenLabs = "elevenlabs"
)

// Names lists the supported format names.
func Names() []string { return []string{NameOpenAI, NameElevenLabs} }

// OpenAI converts descriptors to OpenAI function tools. Only visible parameters are included.
// With strict set, every object is closed and all its properties are required; properties that were
// optional become nullable instead (OpenAI Structured Outputs).
func OpenAI(infos []toolserve.ToolInfo, strict bool) []openai.Tool {
	out := make([]openai.Tool, 0, len(infos))
	for _, info := range infos {
		params := toolserve.CloneSchema(info.InputSchema)
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		if strict {
			applyStrictMode(params)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        info.Name,
				Description: info.Description,
				Strict:      strict,
				Parameters:  params,
			},
		})
	}
	return out
}

// applyStrictMode closes every object node in place and marks all of its properties required.
func applyStrictMode(node map[string]any) {
	delete(node, "default")
	if props, ok := node["properties"].(map[string]any); ok {
		node["additionalProperties"] = false
		wasRequired := make(map[string]bool)
		if req, ok := node["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					wasRequired[s] = true
				}
			}
		}
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		required := make([]any, len(keys))
		for i, k := range keys {
			required[i] = k
			if child, ok := props[k].(map[string]any); ok {
				if !wasRequired[k] {
					makeNullable(child)
				}
				applyStrictMode(child)
			}
		}
		node["required"] = required
	}
	if items, ok := node["items"].(map[string]any); ok {
		applyStrictMode(items)
	}
	if ap, ok := node["additionalProperties"].(map[string]any); ok {
		applyStrictMode(ap)
	}
	for _, key := range []string{"anyOf", "oneOf"} {
		if variants, ok := node[key].([]any); ok {
			for _, v := range variants {
				if m, ok := v.(map[string]any); ok {
					applyStrictMode(m)
				}
			}
		}
	}
}

// makeNullable lets an optional property accept null once strict mode has made it required.
func makeNullable(node map[string]any) {
	switch t := node["type"].(type) {
	case string:
		if t != "null" {
			node["type"] = []any{t, "null"}
		}
	case []any:
		if !slices.Contains(t, any("null")) {
			node["type"] = append(t, "null")
		}
	default:
		if variants, ok := node["anyOf"].([]any); ok {
			for _, v := range variants {
				if m, ok := v.(map[string]any); ok && m["type"] == "null" {
					return
				}
			}
			node["anyOf"] = append(variants, map[string]any{"type": "null"})
		}
	}
	if enum, ok := node["enum"].([]any); ok && !slices.Contains(enum, nil) {
		node["enum"] = append(enum, nil)
	}
}
