package toolserve

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	invopop "github.com/invopop/jsonschema"
)

var (
	customTypesMu sync.RWMutex
	customTypes   = make(map[reflect.Type]Type)
)

// RegisterType maps a custom Go type to a declared Type for struct reflection.
// emptyInstance is a value of the type to register (e.g. uuid.UUID{}); it must not be nil.
// Pointer fields (*T) become Optional of the same mapping.
// Call RegisterType at application startup before the first NewTool or ParamsFromStruct.
func RegisterType(emptyInstance any, t Type) {
	if emptyInstance == nil {
		panic("toolserve: RegisterType emptyInstance must not be nil")
	}
	if t == nil {
		panic("toolserve: RegisterType type must not be nil")
	}
	customTypesMu.Lock()
	defer customTypesMu.Unlock()
	customTypes[reflect.TypeOf(emptyInstance)] = t
}

func lookupCustomType(rt reflect.Type) (Type, bool) {
	customTypesMu.RLock()
	defer customTypesMu.RUnlock()
	t, ok := customTypes[rt]
	return t, ok
}

// Enumerated is implemented by named types with a closed set of values (e.g. string constants).
// Reflection turns such fields into an Enum.
type Enumerated interface {
	EnumValues() []any
}

var (
	timeType       = reflect.TypeFor[time.Time]()
	rawMessageType = reflect.TypeFor[json.RawMessage]()
	enumeratedType = reflect.TypeFor[Enumerated]()
)

// ParamsFromStruct derives tool parameters from the exported fields of struct T in declaration order.
//
// Recognized struct tags:
//
//	json:"name,omitempty"   parameter name; omitempty (or a pointer type) makes it optional
//	description:"..."       parameter description
//	enum:"a,b,c"            closed set of values, parsed per field kind
//	default:"..."           default value, parsed per field kind
//	format:"date-time"      JSON Schema format
//	inject:"key[,optional]" read from context key instead of arguments
func ParamsFromStruct[T any]() ([]Param, error) {
	return paramsFromType(reflect.TypeFor[T]())
}

func paramsFromType(rt reflect.Type) ([]Param, error) {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrUnsupportedType, rt)
	}
	var params []Param
	for _, f := range visibleFields(rt) {
		name, omitempty := jsonName(f)
		typ, err := fieldType(f, map[reflect.Type]bool{rt: true})
		if err != nil {
			return nil, fmt.Errorf("parameter %q (%s): %w", name, f.Type, err)
		}
		p := Param{Name: name, Type: typ, Description: f.Tag.Get("description")}
		if def, ok := f.Tag.Lookup("default"); ok {
			v, err := parseTagValue(def, f.Type)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", name, err)
			}
			p.Default, p.HasDefault = v, true
		} else if omitempty || f.Type.Kind() == reflect.Pointer {
			p.HasDefault = true
		}
		if inj, ok := f.Tag.Lookup("inject"); ok {
			key, opt, _ := strings.Cut(inj, ",")
			if key == "" {
				return nil, fmt.Errorf("%w: parameter %q has an empty inject tag", ErrInvalidSchema, name)
			}
			p.Inject = Inject(key)
			if strings.TrimSpace(opt) == "optional" {
				p.HasDefault = true
			}
		}
		params = append(params, p)
	}
	return params, nil
}

// visibleFields returns exported, JSON-visible fields with untagged embedded structs flattened.
func visibleFields(rt reflect.Type) []reflect.StructField {
	var out []reflect.StructField
	for i := range rt.NumField() {
		f := rt.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		if f.Anonymous && tag == "" {
			et := f.Type
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct {
				out = append(out, visibleFields(et)...)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		out = append(out, f)
	}
	return out
}

func jsonName(f reflect.StructField) (string, bool) {
	name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		name = f.Name
	}
	return name, strings.Contains(opts, "omitempty")
}

// fieldType applies the enum and format tags on top of the reflected type of f.
func fieldType(f reflect.StructField, seen map[reflect.Type]bool) (Type, error) {
	if enumTag := f.Tag.Get("enum"); enumTag != "" {
		parts := strings.Split(enumTag, ",")
		values := make([]any, 0, len(parts))
		for _, part := range parts {
			v, err := parseTagValue(strings.TrimSpace(part), f.Type)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		var t Type = Enum(values...)
		if f.Type.Kind() == reflect.Pointer {
			t = Optional(t)
		}
		return t, nil
	}
	t, err := typeFromReflect(f.Type, seen)
	if err != nil {
		return nil, err
	}
	if format := f.Tag.Get("format"); format != "" {
		t = Format(t, format)
	}
	return t, nil
}

// typeFromReflect maps a Go type onto the closed set of declared types.
// seen holds the struct types on the current path to reject recursive declarations.
func typeFromReflect(rt reflect.Type, seen map[reflect.Type]bool) (Type, error) {
	if t, ok := lookupCustomType(rt); ok {
		return t, nil
	}
	switch rt {
	case timeType:
		return Format(String(), "date-time"), nil
	case rawMessageType:
		return AnyValue(), nil
	}
	if rt.Kind() != reflect.Pointer && rt.Kind() != reflect.Interface && rt.Implements(enumeratedType) {
		values := reflect.Zero(rt).Interface().(Enumerated).EnumValues()
		return Enum(values...), nil
	}
	switch rt.Kind() {
	case reflect.Pointer:
		inner, err := typeFromReflect(rt.Elem(), seen)
		if err != nil {
			return nil, err
		}
		return Optional(inner), nil
	case reflect.String:
		return String(), nil
	case reflect.Bool:
		return Boolean(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Integer(), nil
	case reflect.Float32, reflect.Float64:
		return Number(), nil
	case reflect.Slice, reflect.Array:
		if rt.Kind() == reflect.Slice && rt.Elem().Kind() == reflect.Uint8 {
			return Format(String(), "byte"), nil
		}
		elem, err := typeFromReflect(rt.Elem(), seen)
		if err != nil {
			return nil, err
		}
		return ArrayOf(elem), nil
	case reflect.Map:
		if rt.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s must be a string", ErrUnsupportedType, rt.Key())
		}
		elem, err := typeFromReflect(rt.Elem(), seen)
		if err != nil {
			return nil, err
		}
		return MapOf(elem), nil
	case reflect.Interface:
		if rt.NumMethod() == 0 {
			return AnyValue(), nil
		}
		return nil, fmt.Errorf("%w: interface %s", ErrUnsupportedType, rt)
	case reflect.Struct:
		return structType(rt, seen)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rt)
	}
}

func structType(rt reflect.Type, seen map[reflect.Type]bool) (Type, error) {
	if seen[rt] {
		return nil, fmt.Errorf("%w: recursive type %s", ErrUnsupportedType, rt)
	}
	seen[rt] = true
	defer delete(seen, rt)
	var fields []Field
	for _, f := range visibleFields(rt) {
		name, omitempty := jsonName(f)
		t, err := fieldType(f, seen)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		field := Field{
			Name:        name,
			Type:        t,
			Description: f.Tag.Get("description"),
			Optional:    omitempty || f.Type.Kind() == reflect.Pointer,
		}
		if def, ok := f.Tag.Lookup("default"); ok {
			v, err := parseTagValue(def, f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			field.Default, field.HasDefault = v, true
		}
		fields = append(fields, field)
	}
	return Object(fields...), nil
}

// parseTagValue parses a struct tag literal according to the kind of rt.
func parseTagValue(s string, rt reflect.Type) (any, error) {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	var (
		v   any
		err error
	)
	switch rt.Kind() {
	case reflect.String:
		v = s
	case reflect.Bool:
		v, err = strconv.ParseBool(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err = strconv.ParseInt(s, 10, 64)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err = strconv.ParseUint(s, 10, 64)
	case reflect.Float32, reflect.Float64:
		v, err = strconv.ParseFloat(s, 64)
	default:
		err = json.Unmarshal([]byte(s), &v)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cannot parse %q as %s: %v", ErrInvalidSchema, s, rt, err)
	}
	return v, nil
}

// reflectOutputSchema describes values of rt for the tool's output schema.
// Returns nil when rt has no closed JSON description (recursive types, non-empty interfaces).
func reflectOutputSchema(rt reflect.Type) map[string]any {
	if _, err := typeFromReflect(rt, map[reflect.Type]bool{}); err != nil {
		return nil
	}
	r := &invopop.Reflector{DoNotReference: true, Anonymous: true}
	data, err := json.Marshal(r.ReflectFromType(rt))
	if err != nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	stripSchemaIDs(m)
	delete(m, "$defs")
	delete(m, "definitions")
	return m
}
