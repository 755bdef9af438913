package toolserve

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// InjectMarker routes a parameter from the call's context map instead of the caller-visible arguments.
type InjectMarker struct {
	ContextKey string
}

// Inject returns a marker that reads the parameter from context key.
func Inject(key string) *InjectMarker {
	return &InjectMarker{ContextKey: key}
}

// Param declares one parameter of a tool, in call order.
// A parameter with HasDefault is optional; Default is used when the value is absent.
type Param struct {
	Name        string
	Type        Type
	Description string
	Default     any
	HasDefault  bool
	Inject      *InjectMarker
}

// Injection describes a parameter resolved from runtime context rather than from arguments.
// Required is true when the parameter has no default.
type Injection struct {
	Param      string `json:"param"`
	ContextKey string `json:"config_key"`
	Required   bool   `json:"required"`
	Type       Type   `json:"-"`
}

// Derived is the result of Derive: the caller-visible schema plus the injection list.
type Derived struct {
	Schema     *jsonschema.Schema
	Injections []Injection
	Params     []Param
}

// Derive builds the caller-visible object schema and the injection list for params.
// Injected parameters are excluded from the schema. Every injected parameter without a
// default must precede all visible parameters that have one (ErrParamOrder).
func Derive(params []Param) (*Derived, error) {
	root := &jsonschema.Schema{Type: "object", Properties: make(map[string]*jsonschema.Schema)}
	d := &Derived{Schema: root, Params: append([]Param(nil), params...)}
	seen := make(map[string]bool, len(params))
	defaulted := ""
	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: parameter without a name", ErrInvalidSchema)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidSchema, p.Name)
		}
		seen[p.Name] = true
		node, err := emit(p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q (%s): %w", p.Name, typeString(p.Type), err)
		}
		if p.HasDefault {
			if err := setDefault(node, p.Default); err != nil {
				return nil, fmt.Errorf("parameter %q (%s): %w", p.Name, typeString(p.Type), err)
			}
		}
		if p.Inject != nil {
			if p.Inject.ContextKey == "" {
				return nil, fmt.Errorf("%w: parameter %q is injected without a context key", ErrInvalidSchema, p.Name)
			}
			if !p.HasDefault && defaulted != "" {
				return nil, fmt.Errorf("%w: injected parameter %q without default follows defaulted parameter %q",
					ErrParamOrder, p.Name, defaulted)
			}
			d.Injections = append(d.Injections, Injection{
				Param:      p.Name,
				ContextKey: p.Inject.ContextKey,
				Required:   !p.HasDefault,
				Type:       p.Type,
			})
			continue
		}
		if p.Description != "" {
			node.Description = p.Description
		}
		root.Properties[p.Name] = node
		if p.HasDefault {
			if defaulted == "" {
				defaulted = p.Name
			}
		} else {
			root.Required = append(root.Required, p.Name)
		}
	}
	return d, nil
}

// schemaToMap converts a schema tree to its generic JSON form with ids stripped.
func schemaToMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	stripSchemaIDs(m)
	return m, nil
}

// walkSchema recursively visits every map node in the schema tree.
func walkSchema(schemaMap map[string]any, visit func(map[string]any)) {
	if schemaMap == nil {
		return
	}
	visit(schemaMap)
	for _, val := range schemaMap {
		switch v := val.(type) {
		case map[string]any:
			walkSchema(v, visit)
		case []any:
			for _, item := range v {
				if m2, ok := item.(map[string]any); ok {
					walkSchema(m2, visit)
				}
			}
		}
	}
}

// stripSchemaIDs removes id, $id and $schema so resolution does not depend on them.
func stripSchemaIDs(schemaMap map[string]any) {
	walkSchema(schemaMap, func(n map[string]any) {
		delete(n, "id")
		delete(n, "$id")
		delete(n, "$schema")
	})
}

// compileRawSchema compiles a raw JSON Schema map into a resolved validator. The map is not mutated.
func compileRawSchema(schemaMap map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}

// CloneSchema returns a deep copy of a generic JSON schema map.
func CloneSchema(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := cloneValue(m).(map[string]any)
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
