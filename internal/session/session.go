// Package session persists conversation history. The agent loads the last N
// messages when assembling context and appends the user/assistant exchange
// after each run.
package session

import (
	"context"
	"time"

	"aicore/internal/ai"
)

// Session is one conversation.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Store is the session persistence boundary. Implementations must be safe
// for concurrent use.
type Store interface {
	// History returns the last limit messages in chronological order.
	// An unknown session yields an empty history, not an error.
	History(ctx context.Context, sessionID string, limit int) ([]ai.Message, error)

	// Append adds messages to the session, creating it if needed.
	Append(ctx context.Context, sessionID string, messages []ai.Message) error

	// Clear removes the session and its messages.
	Clear(ctx context.Context, sessionID string) error

	// Get returns the session's metadata row, or nil when unknown.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// List returns sessions ordered by most recent activity.
	List(ctx context.Context, limit int) ([]Session, error)
}
