package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/log"
	"aicore/internal/tools"
)

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStream_TextAndDone(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("All work and no play makes the agent a dull tool. ", 5)
	chat := &scriptedChat{responses: []string{content}}
	c := newCoordinator(t, coordinatorFixture{chat: chat})

	events := collectEvents(t, c.Stream(context.Background(), "tell me a story", RunOptions{}))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, strings.TrimSpace(content), last.Result.Content)

	var streamed strings.Builder
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, EventText, ev.Type)
		streamed.WriteString(ev.Text)
	}
	assert.Equal(t, last.Result.Content, streamed.String())
	assert.Greater(t, len(events), 2)
}

func TestStream_ToolEvents(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry(log.NewNop())
	require.NoError(t, registry.Register(newEchoTool("echo", 0)))

	chat := &scriptedChat{responses: []string{
		"```tool_call\n{\"tool\": \"echo\", \"arguments\": {\"text\": \"hi\"}}\n```",
		"Done.",
	}}
	c := newCoordinator(t, coordinatorFixture{chat: chat, registry: registry})

	events := collectEvents(t, c.Stream(context.Background(), "echo hi", RunOptions{}))

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	require.Contains(t, types, EventToolStart)
	require.Contains(t, types, EventToolEnd)

	startIdx, endIdx, doneIdx := -1, -1, -1
	for i, ev := range events {
		switch ev.Type {
		case EventToolStart:
			startIdx = i
			assert.Equal(t, "echo", ev.ToolName)
			assert.NotEmpty(t, ev.ToolID)
		case EventToolEnd:
			endIdx = i
			assert.Equal(t, "echo", ev.ToolName)
		case EventDone:
			doneIdx = i
		}
	}
	assert.Less(t, startIdx, endIdx)
	assert.Less(t, endIdx, doneIdx)
	assert.Equal(t, "Done.", events[doneIdx].Result.Content)
}

func TestStream_ToolErrorEvent(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{responses: []string{
		"```tool_call\n{\"tool\": \"missing\", \"arguments\": {}}\n```",
		"Recovered.",
	}}
	c := newCoordinator(t, coordinatorFixture{chat: chat})

	events := collectEvents(t, c.Stream(context.Background(), "use missing tool", RunOptions{}))

	var sawError bool
	for _, ev := range events {
		if ev.Type == EventToolError {
			sawError = true
			assert.Equal(t, "missing", ev.ToolName)
			assert.Contains(t, ev.Text, "Tool not found")
		}
	}
	assert.True(t, sawError)
}

func TestStream_ModelError(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{err: errors.New("upstream down")}
	c := newCoordinator(t, coordinatorFixture{chat: chat})

	events := collectEvents(t, c.Stream(context.Background(), "hello", RunOptions{}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Err.Error(), "upstream down")
}

func TestStream_ConcurrentRunsUnaffected(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{responses: []string{"plain answer"}}
	c := newCoordinator(t, coordinatorFixture{chat: chat})

	// A plain Run on the shared Coordinator must not receive stream events.
	events := collectEvents(t, c.Stream(context.Background(), "first", RunOptions{}))
	require.NotEmpty(t, events)
	assert.Nil(t, c.observer)

	result, err := c.Run(context.Background(), "second", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "plain answer", result.Content)
}

func TestChunkText(t *testing.T) {
	t.Parallel()

	assert.Nil(t, chunkText("", 10))
	assert.Equal(t, []string{"short"}, chunkText("short", 10))
	assert.Equal(t, []string{"abcde", "fghij", "k"}, chunkText("abcdefghijk", 5))

	// Multibyte runes are never split.
	chunks := chunkText("안녕하세요 반갑습니다", 3)
	assert.Equal(t, []string{"안녕하", "세요 ", "반갑습", "니다"}, chunks)
}
