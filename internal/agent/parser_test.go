package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/log"
)

func TestParseTurn_FinalAnswer(t *testing.T) {
	t.Parallel()

	turn := ParseTurn("The capital of France is Paris.", log.NewNop())

	assert.True(t, turn.IsFinal())
	assert.Equal(t, "The capital of France is Paris.", turn.Content)
	assert.Empty(t, turn.Calls)
}

func TestParseTurn_Empty(t *testing.T) {
	t.Parallel()

	turn := ParseTurn("", log.NewNop())
	assert.True(t, turn.IsFinal())
	assert.Empty(t, turn.Content)
}

func TestParseTurn_SingleCall(t *testing.T) {
	t.Parallel()

	response := "Let me look that up.\n\n```tool_call\n{\"tool\": \"knowledge_search\", \"arguments\": {\"query\": \"pgvector\", \"limit\": 3}}\n```"

	turn := ParseTurn(response, log.NewNop())

	require.Len(t, turn.Calls, 1)
	assert.False(t, turn.IsFinal())

	call := turn.Calls[0]
	assert.Equal(t, "knowledge_search", call.Name)
	assert.Equal(t, "pgvector", call.Arguments["query"])
	assert.Equal(t, float64(3), call.Arguments["limit"])
	assert.True(t, strings.HasPrefix(call.ID, "call_"))
	assert.Equal(t, "Let me look that up.", turn.Content)
}

func TestParseTurn_MultipleCalls(t *testing.T) {
	t.Parallel()

	response := "```tool_call\n{\"tool\": \"first\", \"arguments\": {}}\n```\n\n```tool_call\n{\"tool\": \"second\", \"arguments\": {\"n\": 1}}\n```"

	turn := ParseTurn(response, log.NewNop())

	require.Len(t, turn.Calls, 2)
	assert.Equal(t, "first", turn.Calls[0].Name)
	assert.Equal(t, "second", turn.Calls[1].Name)
	assert.NotEqual(t, turn.Calls[0].ID, turn.Calls[1].ID)
	assert.Empty(t, turn.Content)
}

func TestParseTurn_MalformedBlockDropped(t *testing.T) {
	t.Parallel()

	response := "Working on it.\n```tool_call\nnot json at all\n```\n```tool_call\n{\"tool\": \"good\", \"arguments\": {}}\n```"

	turn := ParseTurn(response, log.NewNop())

	require.Len(t, turn.Calls, 1)
	assert.Equal(t, "good", turn.Calls[0].Name)
	// Malformed block is still stripped from the prose.
	assert.NotContains(t, turn.Content, "not json")
}

func TestParseTurn_MissingToolNameDropped(t *testing.T) {
	t.Parallel()

	response := "```tool_call\n{\"arguments\": {\"query\": \"x\"}}\n```"

	turn := ParseTurn(response, log.NewNop())

	assert.Empty(t, turn.Calls)
	assert.True(t, turn.IsFinal())
	assert.Empty(t, turn.Content)
}

func TestParseTurn_NilArgumentsBecomeEmptyMap(t *testing.T) {
	t.Parallel()

	turn := ParseTurn("```tool_call\n{\"tool\": \"ping\"}\n```", log.NewNop())

	require.Len(t, turn.Calls, 1)
	require.NotNil(t, turn.Calls[0].Arguments)
	assert.Empty(t, turn.Calls[0].Arguments)
}
