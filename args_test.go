package toolserve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs_Accessors(t *testing.T) {
	args := NewArgs([]string{"s", "f", "i", "b", "n", "missing"}, map[string]any{
		"s": "text",
		"f": 2.5,
		"i": 3.0,
		"b": true,
		"n": json.Number("7"),
	})
	assert.Equal(t, "text", args.String("s"))
	assert.Equal(t, "", args.String("f"))
	assert.InDelta(t, 2.5, args.Float("f"), 1e-9)
	assert.Equal(t, 3, args.Int("i"))
	assert.Equal(t, 7, args.Int("n"))
	assert.True(t, args.Bool("b"))
	assert.False(t, args.Bool("s"))
	assert.True(t, args.Has("s"))
	assert.False(t, args.Has("missing"))
	assert.Equal(t, []string{"s", "f", "i", "b", "n"}, args.Names())
	assert.Equal(t, 5, args.Len())
}

func TestArgs_MapIsCopy(t *testing.T) {
	values := map[string]any{"a": 1.0}
	args := NewArgs([]string{"a"}, values)
	values["a"] = 2.0
	m := args.Map()
	m["a"] = 3.0
	v, ok := args.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestArgs_Decode(t *testing.T) {
	args := NewArgs([]string{"a", "b"}, map[string]any{"a": 2.0, "b": 3.0})
	var out addArgs
	require.NoError(t, args.Decode(&out))
	assert.Equal(t, addArgs{A: 2, B: 3}, out)

	bad := NewArgs([]string{"a"}, map[string]any{"a": "two"})
	require.Error(t, bad.Decode(&out))
}
