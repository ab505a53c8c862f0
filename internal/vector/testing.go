package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// FakeIndex is an in-memory Index for tests. It computes real cosine
// distances so ranking behavior matches the PostgreSQL implementation.
//
// FakeIndex is safe for concurrent use by multiple goroutines.
type FakeIndex struct {
	mu          sync.Mutex
	collections map[string]map[string]Document // id -> docID -> doc
	names       map[string]string              // name -> id

	// SearchErr, when set, is returned by every Search call.
	SearchErr error
}

// NewFakeIndex creates an empty FakeIndex.
func NewFakeIndex() *FakeIndex {
	return &FakeIndex{
		collections: make(map[string]map[string]Document),
		names:       make(map[string]string),
	}
}

// Resolve implements Index.
func (f *FakeIndex) Resolve(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.names[name]; ok {
		return id, nil
	}
	id := fmt.Sprintf("col-%d", len(f.names)+1)
	f.names[name] = id
	f.collections[id] = make(map[string]Document)
	return id, nil
}

// Search implements Index.
func (f *FakeIndex) Search(_ context.Context, collection string, q Query) ([]Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	docs, ok := f.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", collection, ErrCollectionNotFound)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	var results []Result
	for _, doc := range docs {
		if !matchesFilter(doc.Metadata, q.Filter) {
			continue
		}
		results = append(results, Result{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
			Distance: cosineDistance(q.Embedding, doc.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Upsert implements Index.
func (f *FakeIndex) Upsert(_ context.Context, collection string, docs []Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q: %w", collection, ErrCollectionNotFound)
	}
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document ID is required")
		}
		existing[doc.ID] = doc
	}
	return nil
}

// Delete implements Index.
func (f *FakeIndex) Delete(_ context.Context, collection string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	docs, ok := f.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q: %w", collection, ErrCollectionNotFound)
	}
	for _, id := range ids {
		delete(docs, id)
	}
	return nil
}

// Len returns the number of documents in the collection.
func (f *FakeIndex) Len(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.collections[collection])
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
