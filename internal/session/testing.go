package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"aicore/internal/ai"
)

// MemoryStore is an in-memory Store for tests and single-process use.
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession

	// HistoryErr, when set, is returned by every History call.
	HistoryErr error
	// AppendErr, when set, is returned by every Append call.
	AppendErr error
}

type memorySession struct {
	session  Session
	messages []ai.Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, sessionID string, limit int) ([]ai.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.HistoryErr != nil {
		return nil, s.HistoryErr
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	msgs := sess.messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]ai.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, sessionID string, messages []ai.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AppendErr != nil {
		return s.AppendErr
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now()
		sess = &memorySession{session: Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}}
		s.sessions[sessionID] = sess
	}
	sess.messages = append(sess.messages, messages...)
	sess.session.UpdatedAt = time.Now()
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := sess.session
	return &out, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit int) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetMetadata replaces the metadata for a session, creating it if needed.
func (s *MemoryStore) SetMetadata(sessionID string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now()
		sess = &memorySession{session: Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}}
		s.sessions[sessionID] = sess
	}
	sess.session.Metadata = metadata
}

// Messages returns the full transcript for assertions in tests.
func (s *MemoryStore) Messages(sessionID string) []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]ai.Message, len(sess.messages))
	copy(out, sess.messages)
	return out
}
