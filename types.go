package toolserve

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Type is a declared parameter type. The set of variants is closed: values are built with
// String, Integer, Number, Boolean, AnyValue, ArrayOf, MapOf, Optional, Enum, AnyOf,
// TaggedUnion and Object, optionally wrapped by Describe or Format.
type Type interface {
	// String returns a short human-readable rendering used in error messages.
	String() string
	// schema emits a fresh schema node for the type.
	schema() (*jsonschema.Schema, error)
}

type scalarType struct {
	kind string
}

func (t scalarType) String() string { return t.kind }

func (t scalarType) schema() (*jsonschema.Schema, error) {
	return &jsonschema.Schema{Type: t.kind}, nil
}

// String is a JSON string.
func String() Type { return scalarType{kind: "string"} }

// Integer is a JSON number without a fractional part.
func Integer() Type { return scalarType{kind: "integer"} }

// Number is any JSON number.
func Number() Type { return scalarType{kind: "number"} }

// Boolean is a JSON boolean.
func Boolean() Type { return scalarType{kind: "boolean"} }

type anyType struct{}

func (anyType) String() string { return "any" }

func (anyType) schema() (*jsonschema.Schema, error) { return &jsonschema.Schema{}, nil }

// AnyValue accepts any JSON value.
func AnyValue() Type { return anyType{} }

type arrayType struct{ elem Type }

func (t arrayType) String() string { return "array<" + typeString(t.elem) + ">" }

func (t arrayType) schema() (*jsonschema.Schema, error) {
	items, err := emit(t.elem)
	if err != nil {
		return nil, err
	}
	return &jsonschema.Schema{Type: "array", Items: items}, nil
}

// ArrayOf is a homogeneous sequence of elem.
func ArrayOf(elem Type) Type { return arrayType{elem: elem} }

type mapType struct{ elem Type }

func (t mapType) String() string { return "map<string," + typeString(t.elem) + ">" }

func (t mapType) schema() (*jsonschema.Schema, error) {
	values, err := emit(t.elem)
	if err != nil {
		return nil, err
	}
	return &jsonschema.Schema{Type: "object", AdditionalProperties: values}, nil
}

// MapOf is a string-keyed map with values of elem.
func MapOf(elem Type) Type { return mapType{elem: elem} }

type optionalType struct{ elem Type }

func (t optionalType) String() string { return "optional<" + typeString(t.elem) + ">" }

func (t optionalType) schema() (*jsonschema.Schema, error) {
	inner, err := emit(t.elem)
	if err != nil {
		return nil, err
	}
	switch {
	case inner.Type != "":
		inner.Types = []string{inner.Type, "null"}
		inner.Type = ""
		if inner.Enum != nil && !slices.Contains(inner.Enum, nil) {
			inner.Enum = append(inner.Enum, nil)
		}
		return inner, nil
	case len(inner.Types) > 0:
		if !slices.Contains(inner.Types, "null") {
			inner.Types = append(inner.Types, "null")
		}
		return inner, nil
	case isEmptySchema(inner):
		return inner, nil
	default:
		return &jsonschema.Schema{AnyOf: []*jsonschema.Schema{inner, {Type: "null"}}}, nil
	}
}

// Optional makes elem nullable.
func Optional(elem Type) Type { return optionalType{elem: elem} }

type enumType struct{ values []any }

func (t enumType) String() string {
	parts := make([]string, len(t.values))
	for i, v := range t.values {
		parts[i] = fmt.Sprint(v)
	}
	return "enum[" + strings.Join(parts, ",") + "]"
}

func (t enumType) schema() (*jsonschema.Schema, error) {
	if len(t.values) == 0 {
		return nil, fmt.Errorf("%w: enum must have at least one value", ErrInvalidSchema)
	}
	kind := ""
	values := make([]any, len(t.values))
	for i, v := range t.values {
		k, norm, err := enumValue(v)
		if err != nil {
			return nil, err
		}
		if i > 0 && k != kind {
			kind = "mixed"
		} else if i == 0 {
			kind = k
		}
		values[i] = norm
	}
	s := &jsonschema.Schema{Enum: values}
	if kind != "mixed" {
		s.Type = kind
	}
	return s, nil
}

// enumValue checks that v is a JSON scalar and returns its schema type and JSON-normalized form.
func enumValue(v any) (string, any, error) {
	switch x := v.(type) {
	case string:
		return "string", x, nil
	case bool:
		return "boolean", x, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f, exact := exactFloat(x)
		if !exact {
			return "", nil, fmt.Errorf("%w: enum value %v exceeds ±2^53 and cannot be compared exactly", ErrInvalidSchema, v)
		}
		return "integer", f, nil
	case float32, float64:
		var f float64
		if err := roundTrip(x, &f); err != nil {
			return "", nil, err
		}
		return "number", f, nil
	default:
		return "", nil, fmt.Errorf("%w: enum value %v (%T) is not a string, number or boolean", ErrInvalidSchema, v, v)
	}
}

// maxExactInt is the largest magnitude up to which every integer has an exact float64.
const maxExactInt = 1 << 53

// exactFloat converts an integer to float64, reporting whether the conversion lost precision.
// Arguments decode as float64, so larger enum members could never be matched exactly.
func exactFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	if rv.CanInt() {
		i := rv.Int()
		return float64(i), i >= -maxExactInt && i <= maxExactInt
	}
	u := rv.Uint()
	return float64(u), u <= maxExactInt
}

// Enum is a closed choice among scalar values.
func Enum(values ...any) Type { return enumType{values: values} }

type anyOfType struct{ variants []Type }

func (t anyOfType) String() string {
	parts := make([]string, len(t.variants))
	for i, v := range t.variants {
		parts[i] = typeString(v)
	}
	return "anyOf<" + strings.Join(parts, "|") + ">"
}

func (t anyOfType) schema() (*jsonschema.Schema, error) {
	if len(t.variants) == 0 {
		return nil, fmt.Errorf("%w: union must have at least one variant", ErrInvalidSchema)
	}
	out := make([]*jsonschema.Schema, 0, len(t.variants))
	for _, v := range t.variants {
		s, err := emit(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return &jsonschema.Schema{AnyOf: out}, nil
}

// AnyOf is an untagged union: a value must match at least one variant.
func AnyOf(variants ...Type) Type { return anyOfType{variants: variants} }

// Variant is one member of a TaggedUnion: records whose tag field equals Tag have Fields.
type Variant struct {
	Tag    string
	Fields []Field
}

type taggedUnionType struct {
	tag      string
	variants []Variant
}

func (t taggedUnionType) String() string {
	tags := make([]string, len(t.variants))
	for i, v := range t.variants {
		tags[i] = v.Tag
	}
	return "union(" + t.tag + ":" + strings.Join(tags, "|") + ")"
}

func (t taggedUnionType) schema() (*jsonschema.Schema, error) {
	if t.tag == "" {
		return nil, fmt.Errorf("%w: tagged union needs a discriminator field", ErrInvalidSchema)
	}
	if len(t.variants) == 0 {
		return nil, fmt.Errorf("%w: union must have at least one variant", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(t.variants))
	out := make([]*jsonschema.Schema, 0, len(t.variants))
	for _, v := range t.variants {
		if v.Tag == "" || seen[v.Tag] {
			return nil, fmt.Errorf("%w: union %q has empty or duplicate tag %q", ErrInvalidSchema, t.tag, v.Tag)
		}
		seen[v.Tag] = true
		disc := Field{Name: t.tag, Type: Enum(v.Tag)}
		s, err := objectType{fields: append([]Field{disc}, v.Fields...)}.schema()
		if err != nil {
			return nil, fmt.Errorf("union variant %q: %w", v.Tag, err)
		}
		out = append(out, s)
	}
	return &jsonschema.Schema{OneOf: out}, nil
}

// TaggedUnion is a discriminated union of records. Every variant carries the tag field with its
// own constant value, so exactly one variant matches a valid instance.
func TaggedUnion(tag string, variants ...Variant) Type {
	return taggedUnionType{tag: tag, variants: variants}
}

// Field is one member of an Object. A field is required unless Optional is set or it has a default.
type Field struct {
	Name        string
	Type        Type
	Description string
	Optional    bool
	Default     any
	HasDefault  bool
}

type objectType struct{ fields []Field }

func (t objectType) String() string {
	names := make([]string, len(t.fields))
	for i, f := range t.fields {
		names[i] = f.Name
	}
	return "object{" + strings.Join(names, ",") + "}"
}

func (t objectType) schema() (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{Type: "object", Properties: make(map[string]*jsonschema.Schema, len(t.fields))}
	for _, f := range t.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: record field without a name", ErrInvalidSchema)
		}
		if _, dup := s.Properties[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate record field %q", ErrInvalidSchema, f.Name)
		}
		prop, err := emit(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if f.Description != "" {
			prop.Description = f.Description
		}
		if f.HasDefault {
			if err := setDefault(prop, f.Default); err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		s.Properties[f.Name] = prop
		if !f.Optional && !f.HasDefault {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s, nil
}

// Object is a record with named, individually required or optional fields.
func Object(fields ...Field) Type { return objectType{fields: fields} }

type describedType struct {
	Type
	description string
}

func (t describedType) schema() (*jsonschema.Schema, error) {
	s, err := emit(t.Type)
	if err != nil {
		return nil, err
	}
	s.Description = t.description
	return s, nil
}

// Describe attaches a description to t's schema node.
func Describe(t Type, description string) Type {
	return describedType{Type: t, description: description}
}

type formattedType struct {
	Type
	format string
}

func (t formattedType) schema() (*jsonschema.Schema, error) {
	s, err := emit(t.Type)
	if err != nil {
		return nil, err
	}
	s.Format = t.format
	return s, nil
}

// Format attaches a JSON Schema format (e.g. "date-time", "email") to t's schema node.
func Format(t Type, format string) Type {
	return formattedType{Type: t, format: format}
}

func emit(t Type) (*jsonschema.Schema, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidSchema)
	}
	return t.schema()
}

func typeString(t Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// setDefault validates v against the node and stores it as the node's default.
func setDefault(s *jsonschema.Schema, v any) error {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: default %v is not JSON: %v", ErrInvalidSchema, v, err)
	}
	resolved, err := s.CloneSchemas().Resolve(nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	var norm any
	if err := json.Unmarshal(raw, &norm); err != nil {
		return err
	}
	if err := resolved.Validate(norm); err != nil {
		return fmt.Errorf("%w: default %s does not match type: %v", ErrInvalidSchema, raw, err)
	}
	s.Default = raw
	return nil
}

func isEmptySchema(s *jsonschema.Schema) bool {
	return s.Type == "" && len(s.Types) == 0 && s.Enum == nil && s.AnyOf == nil && s.OneOf == nil &&
		s.Properties == nil && s.Items == nil && s.AdditionalProperties == nil
}

func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
