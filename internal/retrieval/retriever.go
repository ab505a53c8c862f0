package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"aicore/internal/ai"
	"aicore/internal/vector"
)

// rrfK is the reciprocal rank fusion constant. A hit at 1-based rank r in
// one query's result list contributes 1/(rrfK+r) to its fused score.
const rrfK = 60

const (
	defaultSearchLimit = 5
	maxSearchQueries   = 3
	expansionDeadline  = 3 * time.Second
)

// Hit is one fused search result.
type Hit struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// SearchResult carries the fused hits plus the expansion that produced the
// query variants. Expansion is nil when the collection does not exist or
// expansion was skipped.
type SearchResult struct {
	Hits      []Hit
	Expansion *Expansion
}

// SearchOptions tunes one search.
type SearchOptions struct {
	Collection string         // collection name (empty = retriever default)
	Limit      int            // max fused hits (default: retriever TopK)
	Filter     map[string]any // metadata filter passed to the index
	// SkipExpansion searches only the literal query.
	SkipExpansion bool
}

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	Collection     string // default collection searched (required)
	EmbeddingModel string
	TopK           int // default fused hit count (default: 5)
}

// Retriever fuses vector searches over expanded query variants.
//
// Retriever is safe for concurrent use by multiple goroutines.
type Retriever struct {
	index             vector.Index
	embedder          ai.EmbeddingClient
	expander          *Expander
	defaultCollection string
	embeddingModel    string
	defaultLimit      int
	logger            *slog.Logger
}

// NewRetriever creates a Retriever. The expander may be nil, in which case
// every search behaves as if SkipExpansion were set.
func NewRetriever(index vector.Index, embedder ai.EmbeddingClient, expander *Expander, cfg RetrieverConfig, logger *slog.Logger) (*Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultSearchLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		index:             index,
		embedder:          embedder,
		expander:          expander,
		defaultCollection: cfg.Collection,
		embeddingModel:    cfg.EmbeddingModel,
		defaultLimit:      cfg.TopK,
		logger:            logger,
	}, nil
}

// rankEntry accumulates one document's per-query ranks during fusion.
type rankEntry struct {
	hit   Hit
	ranks []int
	order int // first-seen position, used as a deterministic tiebreak
}

// Search runs the query (and its expansion variants) against the collection
// and fuses the rankings. Per-variant failures degrade the result rather
// than failing it; only a missing collection short-circuits, returning an
// empty result.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	collection := opts.Collection
	if collection == "" {
		collection = r.defaultCollection
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = r.defaultLimit
	}

	handle, err := r.index.Resolve(ctx, collection)
	if err != nil {
		if errors.Is(err, vector.ErrCollectionNotFound) {
			r.logger.Warn("collection not found", "collection", collection)
			return &SearchResult{}, nil
		}
		return nil, fmt.Errorf("resolving collection %q: %w", collection, err)
	}

	queries := []string{query}
	var expansion *Expansion
	if !opts.SkipExpansion && r.expander != nil {
		expCtx, cancel := context.WithTimeout(ctx, expansionDeadline)
		exp := r.expander.Expand(expCtx, query)
		cancel()
		expansion = &exp
		queries = CombinedQueries(exp, maxSearchQueries)
		r.logger.Debug("query expanded",
			"query", query,
			"language", exp.Language,
			"variants", len(queries))
	}

	// Fetch more per variant than the caller asked for so fusion has
	// overlap to work with.
	fetchPerQuery := limit * 2

	entries := make(map[string]*rankEntry)
	searched := 0
	for _, q := range queries {
		results, err := r.searchOne(ctx, handle, q, fetchPerQuery, opts.Filter)
		if err != nil {
			if errors.Is(err, vector.ErrCollectionNotFound) {
				return &SearchResult{}, nil
			}
			r.logger.Warn("variant search failed", "variant", q, "error", err)
			continue
		}
		searched++

		for i, res := range results {
			entry, ok := entries[res.ID]
			if !ok {
				entry = &rankEntry{
					hit: Hit{
						ID:       res.ID,
						Content:  res.Content,
						Metadata: res.Metadata,
					},
					order: len(entries),
				}
				entries[res.ID] = entry
			}
			entry.ranks = append(entry.ranks, i+1)
		}
	}

	if searched == 0 && len(queries) > 0 {
		return nil, fmt.Errorf("all %d search variants failed", len(queries))
	}

	hits := fuse(entries, limit)
	r.logger.Debug("search fused",
		"query", query,
		"variants_searched", searched,
		"hits", len(hits))
	return &SearchResult{Hits: hits, Expansion: expansion}, nil
}

func (r *Retriever) searchOne(ctx context.Context, handle, query string, limit int, filter map[string]any) ([]vector.Result, error) {
	embResp, err := r.embedder.Embed(ctx, ai.EmbedRequest{
		Model: r.embeddingModel,
		Input: []string{query},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding variant: %w", err)
	}
	if len(embResp.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding for variant")
	}

	return r.index.Search(ctx, handle, vector.Query{
		Embedding: embResp.Embeddings[0],
		Limit:     limit,
		Filter:    filter,
	})
}

// fuse computes reciprocal rank fusion scores and returns the top hits,
// highest score first. Ties break on first-seen order so output is stable
// across runs.
func fuse(entries map[string]*rankEntry, limit int) []Hit {
	ordered := make([]*rankEntry, 0, len(entries))
	for _, entry := range entries {
		var score float64
		for _, rank := range entry.ranks {
			score += 1.0 / float64(rrfK+rank)
		}
		entry.hit.Score = score
		ordered = append(ordered, entry)
	}

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].hit.Score != ordered[j].hit.Score {
			return ordered[i].hit.Score > ordered[j].hit.Score
		}
		return ordered[i].order < ordered[j].order
	})

	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	hits := make([]Hit, len(ordered))
	for i, entry := range ordered {
		hits[i] = entry.hit
	}
	return hits
}
