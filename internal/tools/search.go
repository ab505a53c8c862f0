package tools

import (
	"context"
	"fmt"
	"log/slog"

	"aicore/internal/retrieval"
)

// snippetLimit caps how much of each document the model sees per hit.
const snippetLimit = 500

// SearchTool exposes semantic search over the knowledge base.
type SearchTool struct {
	retriever *retrieval.Retriever
	logger    *slog.Logger
}

// NewSearchTool creates the knowledge_search tool.
func NewSearchTool(retriever *retrieval.Retriever, logger *slog.Logger) *SearchTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchTool{retriever: retriever, logger: logger}
}

// Definition implements Tool.
func (t *SearchTool) Definition() Definition {
	return Definition{
		Name:        "knowledge_search",
		Description: "Search indexed documents using semantic search. Use this to find relevant articles, notes, or information from the knowledge base.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"query": {
					Type:        "string",
					Description: "The search query to find relevant content",
				},
				"collection": {
					Type:        "string",
					Description: "The collection to search (uses the default if not specified)",
				},
				"limit": {
					Type:        "number",
					Description: "Maximum number of results to return (default: 5)",
					Default:     5,
				},
				"category": {
					Type:        "string",
					Description: "Filter by category (optional)",
				},
			},
			Required: []string{"query"},
		},
	}
}

// Execute implements Tool.
func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	query := StringArg(args, "query", "")
	if query == "" {
		return ErrorResult("query is required"), nil
	}

	var filter map[string]any
	if category := StringArg(args, "category", ""); category != "" {
		filter = map[string]any{"category": category}
	}

	res, err := t.retriever.Search(ctx, query, retrieval.SearchOptions{
		Collection: StringArg(args, "collection", ""),
		Limit:      IntArg(args, "limit", 0),
		Filter:     filter,
	})
	if err != nil {
		t.logger.Warn("search tool failed", "query", query, "error", err)
		return ErrorResult(err.Error()), nil
	}

	hits := make([]map[string]any, len(res.Hits))
	for i, hit := range res.Hits {
		content := hit.Content
		if len(content) > snippetLimit {
			content = content[:snippetLimit] + "..."
		}
		entry := map[string]any{
			"content": content,
			"score":   fmt.Sprintf("%.3f", hit.Score),
		}
		for _, key := range []string{"title", "slug", "category", "tags"} {
			if v, ok := hit.Metadata[key]; ok {
				entry[key] = v
			}
		}
		hits[i] = entry
	}

	result := Result{
		"success": true,
		"query":   query,
		"count":   len(res.Hits),
		"results": hits,
	}
	if exp := res.Expansion; exp != nil && !exp.Fallback {
		result["expansion"] = map[string]any{
			"language":     exp.Language,
			"translations": exp.Translations,
			"keywords":     clipStrings(exp.Keywords, 5),
		}
	}
	return result, nil
}

func clipStrings(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
