package toolserve

import (
	"fmt"
	"reflect"
)

// Extractor derives parameters from struct T and decodes merged Args back into T with
// Layer 2 validation (Validatable). Use it in custom orchestrators that build tools by hand
// but still want struct-typed arguments.
type Extractor[T any] struct {
	params []Param
}

// NewExtractor creates an Extractor for struct type T.
func NewExtractor[T any]() (*Extractor[T], error) {
	params, err := paramsFromType(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return &Extractor[T]{params: params}, nil
}

// Params returns a copy of the derived parameters.
func (e *Extractor[T]) Params() []Param {
	return append([]Param(nil), e.params...)
}

// Decode converts validated args into T and runs Validatable.Validate() if T implements it.
// Returns ClientError so the caller can pass the message to the LLM for self-correction.
func (e *Extractor[T]) Decode(args Args) (T, error) {
	var zero T
	var out T
	if err := args.Decode(&out); err != nil {
		return zero, newClientError(ErrorTypeValidation, ErrValidation, "invalid arguments: %v", err)
	}
	if err := runLayer2Validation(out); err != nil {
		if IsClientError(err) {
			return zero, err
		}
		return zero, &ClientError{Type: ErrorTypeValidation, Reason: fmt.Sprintf("invalid arguments: %v", err), Err: ErrValidation}
	}
	return out, nil
}
