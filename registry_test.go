package toolserve

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, Args) (any, error) { return nil, nil }

func TestRegistry_RegisterLookup(t *testing.T) {
	reg := NewRegistry()
	tool := newAddTool(t)
	require.NoError(t, reg.Register(tool))
	got, ok := reg.Lookup("add")
	require.True(t, ok)
	assert.Same(t, tool, got)
	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	first := newAddTool(t)
	require.NoError(t, reg.Register(first))
	err := reg.Register(newAddTool(t))
	require.ErrorIs(t, err, ErrDuplicateTool)
	assert.Contains(t, err.Error(), `"add"`)
	got, _ := reg.Lookup("add")
	assert.Same(t, first, got)

	assert.Panics(t, func() { reg.MustRegister(newAddTool(t)) })
	require.ErrorIs(t, reg.Register(nil), ErrInvalidSchema)
}

func TestRegistry_ListSortedAndFiltered(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		Must(NewFuncTool("zeta", "", nil, noop, WithProfiles("Support"))),
		Must(NewFuncTool("alpha", "", nil, noop, WithProfiles("support", "billing"))),
		Must(NewFuncTool("mid", "", nil, noop)),
	)
	names := func(infos []ToolInfo) []string {
		out := make([]string, len(infos))
		for i, info := range infos {
			out[i] = info.Name
		}
		return out
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names(reg.List("")))
	assert.Equal(t, []string{"alpha", "zeta"}, names(reg.List("SUPPORT")))
	assert.Equal(t, []string{"alpha"}, names(reg.List("billing")))
	assert.Empty(t, reg.List("unknown"))
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}

func TestRegistry_ListSnapshotIndependent(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(newAddTool(t))
	first := reg.List("")
	first[0].InputSchema["properties"].(map[string]any)["a"] = "mutated"
	first[0].Name = "mutated"
	second := reg.List("")
	assert.Equal(t, "add", second[0].Name)
	assert.Equal(t, map[string]any{"type": "integer"}, second[0].InputSchema["properties"].(map[string]any)["a"])
}

func TestRegistry_ConcurrentRegisterAndList(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = reg.Register(Must(NewFuncTool(fmt.Sprintf("tool_%02d", i), "", nil, noop)))
		}()
		go func() {
			defer wg.Done()
			_ = reg.List("")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, reg.Len())
}
