package app

import (
	"context"
	"testing"

	"aicore/internal/ai"
	"aicore/internal/session"
)

func TestSessionPreferences(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()

	// Unknown session yields no preferences and no error.
	p := &sessionPreferences{sessions: store}
	prefs, err := p.Preferences(ctx, "missing")
	if err != nil {
		t.Fatalf("Preferences() = %v, want nil", err)
	}
	if prefs != nil {
		t.Errorf("Preferences() = %v, want nil", prefs)
	}

	// Session without a preferences key yields nothing.
	if err := store.Append(ctx, "s1", []ai.Message{{Role: ai.RoleUser, Content: "hi"}}); err != nil {
		t.Fatal(err)
	}
	prefs, err = p.Preferences(ctx, "s1")
	if err != nil {
		t.Fatalf("Preferences() = %v, want nil", err)
	}
	if len(prefs) != 0 {
		t.Errorf("Preferences() = %v, want empty", prefs)
	}

	// Preferences round-trip, non-string values skipped.
	store.SetMetadata("s1", map[string]any{
		"preferences": map[string]any{
			"language": "Go",
			"format":   "markdown",
			"count":    3,
		},
	})
	prefs, err = p.Preferences(ctx, "s1")
	if err != nil {
		t.Fatalf("Preferences() = %v, want nil", err)
	}
	if prefs["language"] != "Go" || prefs["format"] != "markdown" {
		t.Errorf("Preferences() = %v", prefs)
	}
	if _, ok := prefs["count"]; ok {
		t.Error("non-string preference should be skipped")
	}
}
