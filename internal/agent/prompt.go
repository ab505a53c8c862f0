package agent

import (
	"fmt"
	"sort"
	"strings"

	"aicore/internal/ai"
	"aicore/internal/tools"
)

// Mode selects the agent persona.
type Mode string

const (
	ModeDefault  Mode = "default"
	ModeResearch Mode = "research"
	ModeCoding   Mode = "coding"
	ModeTerminal Mode = "terminal"
)

const coreIdentity = `You are a helpful AI assistant with access to a knowledge base and various tools to help answer questions, search for information, and assist with tasks.`

const memoryContext = `
## Memory Context
You have access to user memories and past conversations. Use this context to:
- Personalize responses based on known preferences
- Reference relevant past discussions when appropriate
- Build on previously shared information
- Maintain consistency across conversations`

const responseStyle = `
## Response Style
- Be concise but thorough
- Use markdown formatting for readability
- Include code blocks with syntax highlighting when relevant
- Provide sources and references when available
- Ask clarifying questions when the request is ambiguous`

var modePrompts = map[Mode]string{
	ModeDefault: coreIdentity + `

You are in general conversation mode. Help the user with any questions or tasks they have.` + memoryContext + responseStyle + `

## Behavior
- Be friendly and approachable
- Offer to help with follow-up questions
- Remember context from earlier in the conversation`,

	ModeResearch: coreIdentity + `

You are in research mode. Your goal is to provide comprehensive, well-researched answers.` + memoryContext + `

## Research Behavior
- Use multiple tools to gather information
- Cross-reference sources for accuracy
- Cite your sources clearly
- Highlight key findings and conclusions
- Note any limitations or uncertainties`,

	ModeCoding: coreIdentity + `

You are in coding assistant mode. Help the user with programming tasks.` + memoryContext + `

## Coding Behavior
- Write clean, well-documented code
- Follow best practices and conventions
- Suggest tests and error handling
- Consider edge cases and performance`,

	ModeTerminal: coreIdentity + `

You are in terminal assistant mode. Help the user with system administration and command-line tasks.` + memoryContext + `

## Safety Guidelines
- Never suggest commands that could cause data loss without warning
- Always explain the impact of destructive operations
- Recommend backup steps before major changes
- Prefer reversible operations`,
}

// PromptOptions carries the dynamic parts of the system prompt.
type PromptOptions struct {
	Mode               Mode
	UserPreferences    map[string]string
	CustomInstructions string
}

// BuildSystemPrompt assembles the persona prompt for one run.
func BuildSystemPrompt(opts PromptOptions) string {
	base, ok := modePrompts[opts.Mode]
	if !ok {
		base = modePrompts[ModeDefault]
	}

	parts := []string{base}

	if len(opts.UserPreferences) > 0 {
		keys := make([]string, 0, len(opts.UserPreferences))
		for k := range opts.UserPreferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteString("\n## User Preferences\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, opts.UserPreferences[k])
		}
		parts = append(parts, b.String())
	}

	if opts.CustomInstructions != "" {
		parts = append(parts, "\n## Additional Instructions\n"+opts.CustomInstructions)
	}

	return strings.Join(parts, "\n")
}

// injectToolInstructions appends the tool protocol and catalog to the system
// message, or prepends a new system message when the transcript has none.
func injectToolInstructions(messages []ai.Message, defs []tools.Definition) []ai.Message {
	if len(defs) == 0 {
		return messages
	}

	var catalog strings.Builder
	for i, def := range defs {
		if i > 0 {
			catalog.WriteString("\n\n")
		}
		fmt.Fprintf(&catalog, "- %s: %s\n  Parameters:\n", def.Name, def.Description)

		required := make(map[string]bool, len(def.Parameters.Required))
		for _, name := range def.Parameters.Required {
			required[name] = true
		}
		names := make([]string, 0, len(def.Parameters.Properties))
		for name := range def.Parameters.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			prop := def.Parameters.Properties[name]
			req := "(optional)"
			if required[name] {
				req = "(required)"
			}
			desc := prop.Description
			if desc == "" {
				desc = prop.Type
			}
			fmt.Fprintf(&catalog, "    - %s %s: %s\n", name, req, desc)
		}
	}

	instructions := `
You have access to the following tools. To use a tool, respond with a JSON block in this exact format:

` + "```tool_call" + `
{
  "tool": "tool_name",
  "arguments": { "param1": "value1", "param2": "value2" }
}
` + "```" + `

You can make multiple tool calls by including multiple tool_call blocks.
After receiving tool results, synthesize them into a helpful response.
If you don't need to use any tools, just respond normally without the tool_call block.

Available tools:
` + catalog.String()

	out := make([]ai.Message, len(messages))
	copy(out, messages)

	for i, m := range out {
		if m.Role == ai.RoleSystem {
			out[i].Content = m.Content + "\n\n" + instructions
			return out
		}
	}
	return append([]ai.Message{{Role: ai.RoleSystem, Content: instructions}}, out...)
}

// flattenTranscript renders the conversation as a single prompt for plain
// completion endpoints. Tool results are labeled with their call ID so the
// model can match them to its requests.
func flattenTranscript(messages []ai.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		var role string
		switch m.Role {
		case ai.RoleAssistant:
			role = "Assistant"
		case ai.RoleSystem:
			role = "System"
		case ai.RoleTool:
			role = "Tool Result"
		default:
			role = "User"
		}

		content := m.Content
		if m.Role == ai.RoleTool && m.ToolCallID != "" {
			content = fmt.Sprintf("[Tool: %s]\n%s", m.ToolCallID, content)
		}
		parts = append(parts, role+":\n"+content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
