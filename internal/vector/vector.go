// Package vector provides named vector collections with similarity search,
// backed by PostgreSQL + pgvector. Collections are resolved by name and
// lazily created; documents carry free-form JSON metadata that search can
// filter on.
package vector

import (
	"context"
	"errors"
)

// Document is one entry in a collection.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// Result is a search hit. Distance is cosine distance: lower is closer.
type Result struct {
	ID       string
	Content  string
	Metadata map[string]any
	Distance float64
}

// Query describes a similarity search within a collection.
type Query struct {
	Embedding []float32
	Limit     int
	// Filter, when non-nil, restricts hits to documents whose metadata
	// contains all the given key/value pairs.
	Filter map[string]any
}

// ErrCollectionNotFound is returned when an operation references a collection
// handle that does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// Index is the vector storage boundary. Implementations must be safe for
// concurrent use.
type Index interface {
	// Resolve returns the handle for the named collection, creating it if
	// missing. Handles are stable and may be cached by callers.
	Resolve(ctx context.Context, name string) (string, error)

	// Search returns the closest documents in the collection, nearest first.
	Search(ctx context.Context, collection string, q Query) ([]Result, error)

	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, collection string, ids []string) error
}
