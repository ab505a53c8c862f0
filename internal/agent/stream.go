package agent

import (
	"context"
	"time"
)

// EventType discriminates streamed agent events.
type EventType string

const (
	EventText      EventType = "text"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventToolError EventType = "tool_error"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one item on a Stream channel.
type Event struct {
	Type     EventType
	Text     string
	ToolName string
	ToolID   string
	Result   *RunResult
	Err      error
}

const (
	streamChunkSize  = 80
	streamChunkDelay = 5 * time.Millisecond
)

// Stream runs the agent like Run but delivers progress as events: tool
// lifecycle markers while the loop executes, the final answer as text
// chunks, then a done event carrying the full RunResult. The channel is
// closed when the run ends or ctx is cancelled.
func (c *Coordinator) Stream(ctx context.Context, message string, opts RunOptions) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Shallow copy so the observer does not leak into concurrent
		// callers of Run on the shared Coordinator.
		observed := *c
		observed.observer = emit

		result, err := observed.Run(ctx, message, opts)
		if err != nil {
			emit(Event{Type: EventError, Err: err})
			return
		}

		for _, chunk := range chunkText(result.Content, streamChunkSize) {
			if !emit(Event{Type: EventText, Text: chunk}) {
				return
			}
			select {
			case <-time.After(streamChunkDelay):
			case <-ctx.Done():
				return
			}
		}
		emit(Event{Type: EventDone, Result: result})
	}()

	return events
}

func chunkText(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/size+1)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
