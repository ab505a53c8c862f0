package app

import (
	"context"
	"fmt"

	"aicore/internal/session"
)

// sessionPreferences reads user preferences out of session metadata. The
// metadata key "preferences" holds a string map set by API callers when they
// create or update a session.
type sessionPreferences struct {
	sessions session.Store
}

func (p *sessionPreferences) Preferences(ctx context.Context, sessionID string) (map[string]string, error) {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session for preferences: %w", err)
	}
	if sess == nil || sess.Metadata == nil {
		return nil, nil
	}

	raw, ok := sess.Metadata["preferences"].(map[string]any)
	if !ok {
		return nil, nil
	}
	prefs := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			prefs[k] = s
		}
	}
	return prefs, nil
}
