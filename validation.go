package toolserve

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Validatable is implemented by argument structs that need custom business validation.
// Called after schema validation and decoding.
type Validatable interface {
	Validate() error
}

// schemaValidator validates a JSON-like value (e.g. map[string]any from json.Unmarshal).
// *jsonschema.Resolved implements it.
type schemaValidator interface {
	Validate(v any) error
}

// validateAgainstSchema runs Layer 1 validation on an already normalized value v.
func validateAgainstSchema(validate schemaValidator, v any) error {
	if err := validate.Validate(v); err != nil {
		return newClientError(ErrorTypeValidation, ErrValidation, "invalid arguments: %v", err)
	}
	return nil
}

// validateCustom runs Layer 2 (Validatable) if args implements it.
func validateCustom(args any) error {
	if v, ok := args.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// runLayer2Validation runs Validatable.Validate() on args; if args does not implement Validatable,
// it tries &args for value types (pointer receiver). Never calls Validate twice for the same receiver.
func runLayer2Validation[T any](args T) error {
	if err := validateCustom(any(args)); err != nil {
		return err
	}
	if _, ok := any(args).(Validatable); ok {
		return nil
	}
	typ := reflect.TypeOf(args)
	if typ == nil || typ.Kind() == reflect.Pointer {
		return nil
	}
	return validateCustom(any(&args))
}

// normalize converts v to its JSON form so Go values (int, structs) validate like decoded JSON.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// prepare checks the injected context and caller arguments of one call against the tool's contract
// and merges them, with defaults, into the argument set for the handler.
func (t *Tool) prepare(arguments, callCtx map[string]any) (Args, error) {
	values := make(map[string]any, len(t.params))
	for _, inj := range t.injections {
		v, ok := callCtx[inj.ContextKey]
		if !ok || v == nil {
			if inj.Required {
				return Args{}, newClientError(ErrorTypeMissingContext, ErrMissingContext,
					"missing required context key %q for parameter %q of tool %q", inj.ContextKey, inj.Param, t.name)
			}
			continue
		}
		norm, err := normalize(v)
		if err != nil {
			return Args{}, newClientError(ErrorTypeValidation, ErrValidation,
				"context value %q for parameter %q: %v", inj.ContextKey, inj.Param, err)
		}
		if err := t.injected[inj.Param].Validate(norm); err != nil {
			return Args{}, newClientError(ErrorTypeValidation, ErrValidation,
				"context value %q for parameter %q is not a valid %s: %v", inj.ContextKey, inj.Param, typeString(inj.Type), err)
		}
		values[inj.Param] = norm
	}

	for name := range arguments {
		if t.isInjected(name) {
			return Args{}, newClientError(ErrorTypeValidation, ErrValidation,
				"parameter %q is supplied from context and cannot be passed as an argument", name)
		}
		if !t.hasParam(name) {
			return Args{}, newClientError(ErrorTypeValidation, ErrValidation, "unknown argument %q", name)
		}
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	norm, err := normalize(arguments)
	if err != nil {
		return Args{}, newClientError(ErrorTypeValidation, ErrValidation, "invalid arguments: %v", err)
	}
	if err := validateAgainstSchema(t.resolved, norm); err != nil {
		return Args{}, err
	}
	for k, v := range norm.(map[string]any) {
		values[k] = v
	}

	for name, def := range t.defaults {
		if _, ok := values[name]; !ok {
			values[name] = cloneValue(def)
		}
	}
	return Args{names: t.paramNames, values: values}, nil
}
