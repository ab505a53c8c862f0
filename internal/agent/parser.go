// Package agent implements the orchestration loop: it assembles conversation
// context, drives the model, executes requested tools, and feeds results back
// until the model produces a final answer.
//
// Tool calling uses a textual protocol. The model is instructed to emit
// fenced tool_call blocks; the parser extracts them and the loop answers each
// one with a tool-result message. This works against any plain completion
// endpoint, no native function-calling support required.
package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ToolCall is one invocation request extracted from a model response.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Turn is a parsed model response: the prose content with tool_call blocks
// stripped, plus the calls themselves. A response with no valid blocks is a
// final answer.
type Turn struct {
	Content string
	Calls   []ToolCall
}

// IsFinal reports whether the turn ends the loop.
func (t Turn) IsFinal() bool {
	return len(t.Calls) == 0
}

var toolCallBlockRe = regexp.MustCompile("```tool_call\\s*([\\s\\S]*?)```")

// toolCallPayload is the JSON grammar inside a tool_call block.
type toolCallPayload struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ParseTurn extracts tool calls from a model response. Malformed blocks are
// dropped with a warning but still stripped from the content; the model can
// recover on the next iteration.
func ParseTurn(response string, logger *slog.Logger) Turn {
	if logger == nil {
		logger = slog.Default()
	}
	if response == "" {
		return Turn{}
	}

	var calls []ToolCall
	content := response

	for _, match := range toolCallBlockRe.FindAllStringSubmatch(response, -1) {
		block := strings.TrimSpace(match[1])

		var payload toolCallPayload
		if err := json.Unmarshal([]byte(block), &payload); err != nil {
			logger.Warn("dropping malformed tool call block", "error", err)
			content = strings.Replace(content, match[0], "", 1)
			continue
		}
		if payload.Tool == "" {
			logger.Warn("dropping tool call block without tool name")
			content = strings.Replace(content, match[0], "", 1)
			continue
		}

		args := payload.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{
			ID:        newCallID(),
			Name:      payload.Tool,
			Arguments: args,
		})
		content = strings.Replace(content, match[0], "", 1)
	}

	return Turn{Content: strings.TrimSpace(content), Calls: calls}
}

func newCallID() string {
	return fmt.Sprintf("call_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
