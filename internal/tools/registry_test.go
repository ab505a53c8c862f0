package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/log"
)

// stubTool is a minimal Tool for registry tests.
type stubTool struct {
	name   string
	result Result
	err    error
}

func (s *stubTool) Definition() Definition {
	return Definition{
		Name:        s.name,
		Description: "stub",
		Parameters:  Parameters{Type: "object"},
	}
}

func (s *stubTool) Execute(context.Context, map[string]any) (Result, error) {
	return s.result, s.err
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	t.Parallel()

	r := NewRegistry(log.NewNop())
	require.NoError(t, r.Register(&stubTool{name: "echo", result: Result{"success": true}}))

	res, err := r.Execute(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, true, res["success"])
}

func TestRegistry_UnknownToolIsResultNotError(t *testing.T) {
	t.Parallel()

	r := NewRegistry(log.NewNop())

	res, err := r.Execute(context.Background(), "missing", nil)
	require.NoError(t, err, "unknown tools must not fail the invocation")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "Tool not found: missing", res["error"])
}

func TestRegistry_DuplicateRegistrationReplaces(t *testing.T) {
	t.Parallel()

	r := NewRegistry(log.NewNop())
	require.NoError(t, r.Register(&stubTool{name: "echo", result: Result{"version": 1}}))
	require.NoError(t, r.Register(&stubTool{name: "echo", result: Result{"version": 2}}))

	assert.Equal(t, 1, r.Count())
	res, err := r.Execute(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res["version"])
}

func TestRegistry_RegisterUnnamed(t *testing.T) {
	t.Parallel()

	r := NewRegistry(log.NewNop())
	assert.Error(t, r.Register(&stubTool{name: ""}))
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry(log.NewNop())
	require.NoError(t, r.Register(&stubTool{name: "zeta"}))
	require.NoError(t, r.Register(&stubTool{name: "alpha"}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)
}

func TestRegistry_ToolErrorPropagates(t *testing.T) {
	t.Parallel()

	r := NewRegistry(log.NewNop())
	require.NoError(t, r.Register(&stubTool{name: "bomb", err: errors.New("kaboom")}))

	_, err := r.Execute(context.Background(), "bomb", nil)
	assert.Error(t, err)
}

func TestArgHelpers(t *testing.T) {
	t.Parallel()

	args := map[string]any{
		"s":    "hello",
		"n":    float64(7),
		"i":    3,
		"list": []any{"a", "b", 5},
	}

	assert.Equal(t, "hello", StringArg(args, "s", "x"))
	assert.Equal(t, "x", StringArg(args, "missing", "x"))
	assert.Equal(t, 7, IntArg(args, "n", 0))
	assert.Equal(t, 3, IntArg(args, "i", 0))
	assert.Equal(t, 9, IntArg(args, "missing", 9))
	assert.Equal(t, []string{"a", "b"}, StringSliceArg(args, "list"))
	assert.Nil(t, StringSliceArg(args, "missing"))
}
