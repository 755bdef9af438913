package toolserve

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type color string

func (color) EnumValues() []any { return []any{"red", "green", "blue"} }

type address struct {
	Street string  `json:"street" description:"street and number"`
	Zip    *string `json:"zip"`
	Floor  int     `json:"floor,omitempty" default:"1"`
}

type searchArgs struct {
	Query   string            `json:"query" description:"free text"`
	UserID  string            `json:"user_id" inject:"user_id"`
	Tenant  string            `json:"tenant" inject:"tenant,optional"`
	Mode    string            `json:"mode" enum:"fast,slow" default:"fast"`
	Limit   int               `json:"limit,omitempty"`
	Since   time.Time         `json:"since,omitempty"`
	Tint    color             `json:"tint,omitempty"`
	Address *address          `json:"address"`
	Labels  map[string]string `json:"labels,omitempty"`
	Raw     json.RawMessage   `json:"raw,omitempty"`
	Ignored string            `json:"-"`
	hidden  string
}

func TestParamsFromStruct(t *testing.T) {
	params, err := ParamsFromStruct[searchArgs]()
	require.NoError(t, err)
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"query", "user_id", "tenant", "mode", "limit", "since", "tint", "address", "labels", "raw"}, names)

	assert.Equal(t, "free text", params[0].Description)
	assert.False(t, params[0].HasDefault)

	require.NotNil(t, params[1].Inject)
	assert.Equal(t, "user_id", params[1].Inject.ContextKey)
	assert.False(t, params[1].HasDefault)

	require.NotNil(t, params[2].Inject)
	assert.True(t, params[2].HasDefault, "optional injection has an implicit default")

	assert.Equal(t, "fast", params[3].Default)
	assert.True(t, params[3].HasDefault)
	assert.Equal(t, "enum[fast,slow]", params[3].Type.String())

	assert.True(t, params[4].HasDefault)
	assert.Nil(t, params[4].Default)

	d, err := Derive(params)
	require.NoError(t, err)
	data, err := json.Marshal(d.Schema)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "free text"},
			"mode": {"type": "string", "enum": ["fast", "slow"], "default": "fast"},
			"limit": {"type": "integer"},
			"since": {"type": "string", "format": "date-time"},
			"tint": {"type": "string", "enum": ["red", "green", "blue"]},
			"address": {
				"type": ["object", "null"],
				"properties": {
					"street": {"type": "string", "description": "street and number"},
					"zip": {"type": ["string", "null"]},
					"floor": {"type": "integer", "default": 1}
				},
				"required": ["street"]
			},
			"labels": {"type": "object", "additionalProperties": {"type": "string"}},
			"raw": {}
		},
		"required": ["query"]
	}`, string(data))
	require.Len(t, d.Injections, 2)
}

type embeddedBase struct {
	TraceID string `json:"trace_id" inject:"trace_id"`
}

type withEmbedded struct {
	embeddedBase
	Name string `json:"name"`
}

func TestParamsFromStruct_EmbeddedFlattened(t *testing.T) {
	params, err := ParamsFromStruct[withEmbedded]()
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, "trace_id", params[0].Name)
	assert.NotNil(t, params[0].Inject)
	assert.Equal(t, "name", params[1].Name)
}

type node struct {
	Value    int     `json:"value"`
	Children []*node `json:"children"`
}

func TestParamsFromStruct_Unsupported(t *testing.T) {
	type withChan struct {
		C chan int `json:"c"`
	}
	type withFunc struct {
		F func() `json:"f"`
	}
	type withIntKeys struct {
		M map[int]string `json:"m"`
	}
	type withComplex struct {
		Z complex128 `json:"z"`
	}
	type withStringer struct {
		S interface{ String() string } `json:"s"`
	}
	type recursive struct {
		Root node `json:"root"`
	}

	_, err := ParamsFromStruct[withChan]()
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Contains(t, err.Error(), `"c"`)
	assert.Contains(t, err.Error(), "chan int")

	_, err = ParamsFromStruct[withFunc]()
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = ParamsFromStruct[withIntKeys]()
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = ParamsFromStruct[withComplex]()
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = ParamsFromStruct[withStringer]()
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = ParamsFromStruct[recursive]()
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = ParamsFromStruct[int]()
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestParamsFromStruct_BadTags(t *testing.T) {
	type badDefault struct {
		N int `json:"n" default:"many"`
	}
	type badEnum struct {
		N int `json:"n" enum:"1,two"`
	}
	type emptyInject struct {
		K string `json:"k" inject:""`
	}
	_, err := ParamsFromStruct[badDefault]()
	require.ErrorIs(t, err, ErrInvalidSchema)
	_, err = ParamsFromStruct[badEnum]()
	require.ErrorIs(t, err, ErrInvalidSchema)
	_, err = ParamsFromStruct[emptyInject]()
	require.ErrorIs(t, err, ErrInvalidSchema)
}

type money struct{ Cents int64 }

func TestRegisterType(t *testing.T) {
	RegisterType(money{}, Format(String(), "decimal"))
	type priced struct {
		Price money  `json:"price"`
		Old   *money `json:"old"`
	}
	params, err := ParamsFromStruct[priced]()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"string","format":"decimal"}`, typeJSON(t, params[0].Type))
	assert.JSONEq(t, `{"type":["string","null"],"format":"decimal"}`, typeJSON(t, params[1].Type))
}

func TestRegisterType_InvalidArgs_Panic(t *testing.T) {
	assert.Panics(t, func() { RegisterType(nil, String()) })
	assert.Panics(t, func() { RegisterType(money{}, nil) })
}

type transfer struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

func (t transfer) Validate() error {
	if t.From == t.To {
		return errors.New("from and to must differ")
	}
	return nil
}

type ptrValidated struct {
	N int `json:"n"`
}

func (p *ptrValidated) Validate() error {
	if p.N < 0 {
		return &ClientError{Type: ErrorTypeValidation, Reason: "n must be non-negative", Err: ErrValidation}
	}
	return nil
}

func TestExtractor_Decode(t *testing.T) {
	ext, err := NewExtractor[transfer]()
	require.NoError(t, err)
	assert.Len(t, ext.Params(), 3)

	out, err := ext.Decode(NewArgs([]string{"from", "to", "amount"}, map[string]any{"from": "a", "to": "b", "amount": 2.5}))
	require.NoError(t, err)
	assert.Equal(t, transfer{From: "a", To: "b", Amount: 2.5}, out)

	_, err = ext.Decode(NewArgs(nil, map[string]any{"from": "a", "to": "a", "amount": 1.0}))
	require.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.Equal(t, ErrorTypeValidation, ErrorTypeOf(err))
	assert.Contains(t, err.Error(), "from and to must differ")
}

func TestExtractor_Decode_PointerReceiverClientErrorPassthrough(t *testing.T) {
	ext, err := NewExtractor[ptrValidated]()
	require.NoError(t, err)
	_, err = ext.Decode(NewArgs(nil, map[string]any{"n": -1.0}))
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "n must be non-negative", ce.Reason)

	out, err := ext.Decode(NewArgs(nil, map[string]any{"n": 4.0}))
	require.NoError(t, err)
	assert.Equal(t, 4, out.N)
}

func TestReflectOutputSchema(t *testing.T) {
	type result struct {
		Sum  int    `json:"sum"`
		Note string `json:"note,omitempty"`
	}
	m := reflectOutputSchema(reflect.TypeFor[result]())
	require.NotNil(t, m)
	assert.Equal(t, "object", m["type"])
	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "sum")
	assert.NotContains(t, m, "$schema")
	assert.NotContains(t, m, "$id")
	assert.NotContains(t, m, "$defs")

	scalar := reflectOutputSchema(reflect.TypeFor[int]())
	assert.Equal(t, "integer", scalar["type"])

	assert.Nil(t, reflectOutputSchema(reflect.TypeFor[node]()))
}
