package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aicore/internal/ai"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQL statements for sessions and session_messages.
const (
	ensureSessionSQL = `INSERT INTO sessions (id)
	VALUES ($1)
	ON CONFLICT (id) DO UPDATE SET updated_at = now()`

	insertMessageSQL = `INSERT INTO session_messages (session_id, role, content, tool_call_id)
	VALUES ($1, $2, $3, $4)`

	// Newest N, flipped back to chronological order by the caller.
	historySQL = `SELECT role, content, tool_call_id
	FROM session_messages
	WHERE session_id = $1
	ORDER BY id DESC
	LIMIT $2`

	clearMessagesSQL = `DELETE FROM session_messages WHERE session_id = $1`
	clearSessionSQL  = `DELETE FROM sessions WHERE id = $1`

	getSessionSQL = `SELECT id, title, metadata, created_at, updated_at
	FROM sessions WHERE id = $1`

	listSessionsSQL = `SELECT id, title, metadata, created_at, updated_at
	FROM sessions ORDER BY updated_at DESC LIMIT $1`
)

// PostgresStore implements Store over PostgreSQL.
//
// PostgresStore is safe for concurrent use by multiple goroutines.
type PostgresStore struct {
	db     querier
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore over the given connection.
func NewPostgresStore(db querier, logger *slog.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

// History implements Store.
func (s *PostgresStore) History(ctx context.Context, sessionID string, limit int) ([]ai.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, historySQL, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var newestFirst []ai.Message
	for rows.Next() {
		var m ai.Message
		var toolCallID *string
		if err := rows.Scan(&m.Role, &m.Content, &toolCallID); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if toolCallID != nil {
			m.ToolCallID = *toolCallID
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	history := make([]ai.Message, len(newestFirst))
	for i, m := range newestFirst {
		history[len(newestFirst)-1-i] = m
	}
	return history, nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, messages []ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	if _, err := s.db.Exec(ctx, ensureSessionSQL, sessionID); err != nil {
		return fmt.Errorf("ensuring session: %w", err)
	}
	for _, m := range messages {
		var toolCallID *string
		if m.ToolCallID != "" {
			toolCallID = &m.ToolCallID
		}
		if _, err := s.db.Exec(ctx, insertMessageSQL, sessionID, m.Role, m.Content, toolCallID); err != nil {
			return fmt.Errorf("appending message: %w", err)
		}
	}

	s.logger.Debug("messages appended", "session_id", sessionID, "count", len(messages))
	return nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, clearMessagesSQL, sessionID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	if _, err := s.db.Exec(ctx, clearSessionSQL, sessionID); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRow(ctx, getSessionSQL, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, listSessionsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	var title *string
	var metadata []byte
	if err := row.Scan(&sess.ID, &title, &metadata, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scanning session: %w", err)
	}
	if title != nil {
		sess.Title = *title
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sess.Metadata); err != nil {
			return Session{}, fmt.Errorf("unmarshaling session metadata: %w", err)
		}
	}
	return sess, nil
}
