package toolserve

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
)

// Args is the merged argument set passed to a Handler: caller-visible arguments plus injected
// context values, keyed by parameter name and ordered as the tool declares its parameters.
// Values are in JSON form (numbers are float64, objects are map[string]any).
type Args struct {
	names  []string
	values map[string]any
}

// Get returns the value bound to name.
func (a Args) Get(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Has reports whether name is bound.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Names returns the bound parameter names in declaration order.
func (a Args) Names() []string {
	out := make([]string, 0, len(a.names))
	for _, n := range a.names {
		if _, ok := a.values[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of bound parameters.
func (a Args) Len() int { return len(a.values) }

// Map returns a copy of the bound values.
func (a Args) Map() map[string]any {
	return maps.Clone(a.values)
}

// String returns the string bound to name, or "" when absent or not a string.
func (a Args) String(name string) string {
	s, _ := a.values[name].(string)
	return s
}

// Float returns the number bound to name, or 0.
func (a Args) Float(name string) float64 {
	switch v := a.values[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// Int returns the integer bound to name, or 0.
func (a Args) Int(name string) int {
	return int(math.Round(a.Float(name)))
}

// Bool returns the boolean bound to name, or false.
func (a Args) Bool(name string) bool {
	b, _ := a.values[name].(bool)
	return b
}

// Decode unmarshals the bound values into dst (a pointer to a struct or map) via JSON.
func (a Args) Decode(dst any) error {
	data, err := json.Marshal(a.values)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

// NewArgs builds Args from values, ordered by names. Used by tests and durable workers.
func NewArgs(names []string, values map[string]any) Args {
	return Args{names: append([]string(nil), names...), values: maps.Clone(values)}
}
