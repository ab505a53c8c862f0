package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/ai"
	"aicore/internal/tools"
)

func TestBuildSystemPrompt_ModeSelection(t *testing.T) {
	t.Parallel()

	def := BuildSystemPrompt(PromptOptions{Mode: ModeDefault})
	coding := BuildSystemPrompt(PromptOptions{Mode: ModeCoding})
	unknown := BuildSystemPrompt(PromptOptions{Mode: Mode("nope")})

	assert.Contains(t, def, "general conversation mode")
	assert.Contains(t, coding, "coding assistant mode")
	assert.Equal(t, def, unknown)
}

func TestBuildSystemPrompt_PreferencesSorted(t *testing.T) {
	t.Parallel()

	prompt := BuildSystemPrompt(PromptOptions{
		Mode: ModeDefault,
		UserPreferences: map[string]string{
			"language": "Go",
			"format":   "bullet points",
		},
	})

	assert.Contains(t, prompt, "## User Preferences")
	formatIdx := strings.Index(prompt, "- format: bullet points")
	langIdx := strings.Index(prompt, "- language: Go")
	require.GreaterOrEqual(t, formatIdx, 0)
	require.GreaterOrEqual(t, langIdx, 0)
	assert.Less(t, formatIdx, langIdx)
}

func TestBuildSystemPrompt_CustomInstructions(t *testing.T) {
	t.Parallel()

	prompt := BuildSystemPrompt(PromptOptions{
		Mode:               ModeResearch,
		CustomInstructions: "Always answer in French.",
	})

	assert.Contains(t, prompt, "## Additional Instructions")
	assert.Contains(t, prompt, "Always answer in French.")
}

func testDefinitions() []tools.Definition {
	return []tools.Definition{
		{
			Name:        "knowledge_search",
			Description: "Search the knowledge base",
			Parameters: tools.Parameters{
				Type: "object",
				Properties: map[string]tools.Property{
					"query": {Type: "string", Description: "search query"},
					"limit": {Type: "integer", Description: "max results"},
				},
				Required: []string{"query"},
			},
		},
	}
}

func TestInjectToolInstructions_AppendsToSystemMessage(t *testing.T) {
	t.Parallel()

	in := []ai.Message{
		{Role: ai.RoleSystem, Content: "persona"},
		{Role: ai.RoleUser, Content: "hi"},
	}

	out := injectToolInstructions(in, testDefinitions())

	require.Len(t, out, 2)
	assert.True(t, strings.HasPrefix(out[0].Content, "persona"))
	assert.Contains(t, out[0].Content, "```tool_call")
	assert.Contains(t, out[0].Content, "- query (required): search query")
	assert.Contains(t, out[0].Content, "- limit (optional): max results")

	// Input slice untouched.
	assert.Equal(t, "persona", in[0].Content)
}

func TestInjectToolInstructions_PrependsWhenNoSystemMessage(t *testing.T) {
	t.Parallel()

	in := []ai.Message{{Role: ai.RoleUser, Content: "hi"}}

	out := injectToolInstructions(in, testDefinitions())

	require.Len(t, out, 2)
	assert.Equal(t, ai.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "knowledge_search")
}

func TestInjectToolInstructions_NoToolsNoChange(t *testing.T) {
	t.Parallel()

	in := []ai.Message{{Role: ai.RoleUser, Content: "hi"}}
	out := injectToolInstructions(in, nil)

	assert.Equal(t, in, out)
}

func TestFlattenTranscript(t *testing.T) {
	t.Parallel()

	got := flattenTranscript([]ai.Message{
		{Role: ai.RoleSystem, Content: "persona"},
		{Role: ai.RoleUser, Content: "question"},
		{Role: ai.RoleAssistant, Content: "calling a tool"},
		{Role: ai.RoleTool, Content: `{"success":true}`, ToolCallID: "call_abc"},
	})

	want := "System:\npersona" +
		"\n\n---\n\n" + "User:\nquestion" +
		"\n\n---\n\n" + "Assistant:\ncalling a tool" +
		"\n\n---\n\n" + "Tool Result:\n[Tool: call_abc]\n{\"success\":true}"
	assert.Equal(t, want, got)
}
