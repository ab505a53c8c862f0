package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQL statements for collections and documents.
const (
	resolveCollectionSQL = `INSERT INTO collections (id, name)
	VALUES ($1, $2)
	ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
	RETURNING id`

	collectionExistsSQL = `SELECT EXISTS(SELECT 1 FROM collections WHERE id = $1)`

	searchDocumentsSQL = `SELECT id, content, metadata, embedding <=> $2 AS distance
	FROM documents
	WHERE collection_id = $1
	ORDER BY embedding <=> $2
	LIMIT $3`

	searchDocumentsFilteredSQL = `SELECT id, content, metadata, embedding <=> $2 AS distance
	FROM documents
	WHERE collection_id = $1 AND metadata @> $4
	ORDER BY embedding <=> $2
	LIMIT $3`

	upsertDocumentSQL = `INSERT INTO documents (collection_id, id, content, embedding, metadata)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (collection_id, id) DO UPDATE SET
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata,
		updated_at = now()`

	deleteDocumentsSQL = `DELETE FROM documents
	WHERE collection_id = $1 AND id = ANY($2)`
)

// PostgresIndex implements Index over PostgreSQL + pgvector.
//
// Resolved collection handles are cached for the life of the process;
// collections are never renamed or dropped at runtime, so the cache cannot
// go stale.
//
// PostgresIndex is safe for concurrent use by multiple goroutines.
type PostgresIndex struct {
	db     querier
	logger *slog.Logger

	mu      sync.RWMutex
	handles map[string]string // collection name -> id
}

// NewPostgresIndex creates an index over the given connection.
func NewPostgresIndex(db querier, logger *slog.Logger) (*PostgresIndex, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresIndex{
		db:      db,
		logger:  logger,
		handles: make(map[string]string),
	}, nil
}

// Resolve implements Index.
func (x *PostgresIndex) Resolve(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("collection name is required")
	}

	x.mu.RLock()
	id, ok := x.handles[name]
	x.mu.RUnlock()
	if ok {
		return id, nil
	}

	// The no-op DO UPDATE makes RETURNING yield the existing row's id when
	// the collection already exists.
	err := x.db.QueryRow(ctx, resolveCollectionSQL, uuid.NewString(), name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("resolving collection %q: %w", name, err)
	}

	x.mu.Lock()
	x.handles[name] = id
	x.mu.Unlock()

	x.logger.Debug("collection resolved", "name", name, "id", id)
	return id, nil
}

// Search implements Index.
func (x *PostgresIndex) Search(ctx context.Context, collection string, q Query) ([]Result, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	vec := pgvector.NewVector(q.Embedding)

	var rows pgx.Rows
	var err error
	if q.Filter != nil {
		filterJSON, merr := json.Marshal(q.Filter)
		if merr != nil {
			return nil, fmt.Errorf("marshaling filter: %w", merr)
		}
		rows, err = x.db.Query(ctx, searchDocumentsFilteredSQL, collection, vec, q.Limit, filterJSON)
	} else {
		rows, err = x.db.Query(ctx, searchDocumentsSQL, collection, vec, q.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("searching collection: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.Content, &metadata, &r.Distance); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for %q: %w", r.ID, err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}

	if len(results) == 0 {
		// Distinguish an empty collection from a missing one.
		var exists bool
		if err := x.db.QueryRow(ctx, collectionExistsSQL, collection).Scan(&exists); err != nil {
			return nil, fmt.Errorf("checking collection: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("collection %q: %w", collection, ErrCollectionNotFound)
		}
	}
	return results, nil
}

// Upsert implements Index.
func (x *PostgresIndex) Upsert(ctx context.Context, collection string, docs []Document) error {
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document ID is required")
		}
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
		}
		vec := pgvector.NewVector(doc.Embedding)
		if _, err := x.db.Exec(ctx, upsertDocumentSQL, collection, doc.ID, doc.Content, vec, metadata); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("collection %q: %w", collection, ErrCollectionNotFound)
			}
			return fmt.Errorf("upserting document %q: %w", doc.ID, err)
		}
	}
	return nil
}

// Delete implements Index.
func (x *PostgresIndex) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := x.db.Exec(ctx, deleteDocumentsSQL, collection, ids); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
