package format

import (
	"slices"

	"github.com/skosovsky/toolserve"
)

// DefaultElevenLabsToolType is the tool type used when none is requested.
const DefaultElevenLabsToolType = "client"

// ElevenLabsTool is an ElevenLabs conversational-AI tool definition.
type ElevenLabsTool struct {
	Type            string         `json:"type"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Parameters      map[string]any `json:"parameters"`
	ExpectsResponse bool           `json:"expects_response"`
}

// ElevenLabs converts descriptors to ElevenLabs tools of the given type ("client" when empty).
// Parameter schemas are reduced to the subset ElevenLabs accepts: type, description, items, enum,
// properties and required. Nullable types keep their non-null member and unions keep their first variant.
func ElevenLabs(infos []toolserve.ToolInfo, toolType string) []ElevenLabsTool {
	if toolType == "" {
		toolType = DefaultElevenLabsToolType
	}
	out := make([]ElevenLabsTool, 0, len(infos))
	for _, info := range infos {
		out = append(out, ElevenLabsTool{
			Type:            toolType,
			Name:            info.Name,
			Description:     info.Description,
			Parameters:      elevenLabsParameters(info.InputSchema),
			ExpectsResponse: true,
		})
	}
	return out
}

func elevenLabsParameters(schema map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	cleaned := make(map[string]any, len(props))
	for name, p := range props {
		if m, ok := p.(map[string]any); ok {
			cleaned[name] = cleanProperty(m)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": cleaned,
		"required":   requiredOf(schema, cleaned),
	}
}

func cleanProperty(node map[string]any) map[string]any {
	out := map[string]any{}
	if d, ok := node["description"].(string); ok && d != "" {
		out["description"] = d
	}
	src := node
	typ := primaryType(node["type"])
	if typ == "" {
		if variant := firstVariant(node); variant != nil {
			inner := cleanProperty(variant)
			if _, ok := out["description"]; ok {
				inner["description"] = out["description"]
			}
			return inner
		}
		typ = "string"
	}
	out["type"] = typ
	if enum, ok := src["enum"].([]any); ok {
		values := slices.DeleteFunc(slices.Clone(enum), func(v any) bool { return v == nil })
		if len(values) > 0 {
			out["enum"] = values
		}
	}
	switch typ {
	case "array":
		if items, ok := src["items"].(map[string]any); ok {
			out["items"] = cleanProperty(items)
		} else {
			out["items"] = map[string]any{"type": "string"}
		}
	case "object":
		props, _ := src["properties"].(map[string]any)
		cleaned := make(map[string]any, len(props))
		for name, p := range props {
			if m, ok := p.(map[string]any); ok {
				cleaned[name] = cleanProperty(m)
			}
		}
		out["properties"] = cleaned
		if req := requiredOf(src, cleaned); len(req) > 0 {
			out["required"] = req
		}
	}
	return out
}

// primaryType returns the JSON type of a node, dropping "null" from nullable type lists.
func primaryType(v any) string {
	switch t := v.(type) {
	case string:
		if t == "null" {
			return ""
		}
		return t
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

// firstVariant returns the first non-null member of an anyOf or oneOf node.
func firstVariant(node map[string]any) map[string]any {
	for _, key := range []string{"anyOf", "oneOf"} {
		variants, _ := node[key].([]any)
		for _, v := range variants {
			m, ok := v.(map[string]any)
			if !ok || m["type"] == "null" {
				continue
			}
			return m
		}
	}
	return nil
}

func requiredOf(schema map[string]any, props map[string]any) []any {
	out := []any{}
	switch req := schema["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				if _, exists := props[s]; exists {
					out = append(out, s)
				}
			}
		}
	case []string:
		for _, s := range req {
			if _, exists := props[s]; exists {
				out = append(out, s)
			}
		}
	}
	return out
}
