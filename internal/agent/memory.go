package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"aicore/internal/ai"
	"aicore/internal/vector"
)

// MemoryHit is one recalled memory.
type MemoryHit struct {
	Content  string
	Score    float64
	Metadata map[string]any
}

// PreferenceStore supplies per-session user preferences for the system
// prompt. Implementations must be safe for concurrent use.
type PreferenceStore interface {
	Preferences(ctx context.Context, sessionID string) (map[string]string, error)
}

// VectorMemory stores conversation snippets in a vector collection and
// recalls the ones semantically close to the current query.
//
// VectorMemory is safe for concurrent use by multiple goroutines.
type VectorMemory struct {
	index      vector.Index
	embedder   ai.EmbeddingClient
	collection string
	model      string
	logger     *slog.Logger
}

// NewVectorMemory creates a VectorMemory over the named collection.
func NewVectorMemory(index vector.Index, embedder ai.EmbeddingClient, collection, model string, logger *slog.Logger) (*VectorMemory, error) {
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorMemory{
		index:      index,
		embedder:   embedder,
		collection: collection,
		model:      model,
		logger:     logger,
	}, nil
}

// Add stores one memory for the session.
func (m *VectorMemory) Add(ctx context.Context, sessionID, content string) error {
	embedding, err := m.embed(ctx, content)
	if err != nil {
		return err
	}
	handle, err := m.index.Resolve(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("resolving memory collection: %w", err)
	}

	doc := vector.Document{
		ID:        uuid.NewString(),
		Content:   content,
		Embedding: embedding,
		Metadata: map[string]any{
			"session_id": sessionID,
			"type":       "conversation",
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := m.index.Upsert(ctx, handle, []vector.Document{doc}); err != nil {
		return fmt.Errorf("storing memory: %w", err)
	}
	return nil
}

// Search recalls up to limit memories for the session scoring at least
// minScore, best first. Score is cosine similarity in [0, 1].
func (m *VectorMemory) Search(ctx context.Context, query, sessionID string, limit int, minScore float64) ([]MemoryHit, error) {
	if limit <= 0 {
		limit = 5
	}

	embedding, err := m.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	handle, err := m.index.Resolve(ctx, m.collection)
	if err != nil {
		return nil, fmt.Errorf("resolving memory collection: %w", err)
	}

	results, err := m.index.Search(ctx, handle, vector.Query{
		Embedding: embedding,
		Limit:     limit,
		Filter:    map[string]any{"session_id": sessionID},
	})
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	hits := make([]MemoryHit, 0, len(results))
	for _, r := range results {
		score := 1 - r.Distance
		if score < minScore {
			continue
		}
		hits = append(hits, MemoryHit{Content: r.Content, Score: score, Metadata: r.Metadata})
	}
	return hits, nil
}

func (m *VectorMemory) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := m.embedder.Embed(ctx, ai.EmbedRequest{Model: m.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("embedding memory text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0], nil
}

// ExtractedMemory is a preference or fact spotted in a user message.
type ExtractedMemory struct {
	Type    string `json:"type"` // "preference" or "fact"
	Content string `json:"content"`
}

var (
	preferencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)I (?:prefer|like|love|enjoy|want)\s+(.+?)(?:\.|$)`),
		regexp.MustCompile(`(?i)my (?:favorite|preferred)\s+(?:is|are)\s+(.+?)(?:\.|$)`),
	}
	factPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)I (?:am|work|live|have)\s+(.+?)(?:\.|$)`),
		regexp.MustCompile(`(?i)my (?:name|job|work|company)\s+(?:is|are)\s+(.+?)(?:\.|$)`),
	}
)

// ExtractMemories scans user messages for self-disclosed preferences and
// facts. Pattern-based on purpose: it must stay cheap enough to run on every
// exchange.
func ExtractMemories(messages []ai.Message) []ExtractedMemory {
	var memories []ExtractedMemory
	for _, msg := range messages {
		if msg.Role != ai.RoleUser || msg.Content == "" {
			continue
		}
		for _, p := range preferencePatterns {
			for _, match := range p.FindAllString(msg.Content, -1) {
				memories = append(memories, ExtractedMemory{
					Type:    "preference",
					Content: strings.TrimSpace(match),
				})
			}
		}
		for _, p := range factPatterns {
			for _, match := range p.FindAllString(msg.Content, -1) {
				memories = append(memories, ExtractedMemory{
					Type:    "fact",
					Content: strings.TrimSpace(match),
				})
			}
		}
	}
	return memories
}
