// Package passage stores embedded document passages and serves similarity
// search over them.
package passage

import (
	"context"
	"time"
)

// Passage is the unit of retrieval: one chunk of document text together with
// its embedding vector. Passages are immutable once created and are deleted
// en masse when their owning document is deleted.
type Passage struct {
	ID         string
	DocumentID string
	OwnerID    string
	Text       string
	Vector     []float32
	CreatedAt  time.Time
}

// Scored is a Passage with its cosine similarity to a query vector.
type Scored struct {
	Passage
	Similarity float32
}

// Store is the interface for passage persistence and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity; ANN-capable backends can be swapped in behind this interface.
//
// All vectors in one store must come from the same embedding model version:
// mixing dimensionalities is an invariant violation and Insert rejects it.
type Store interface {
	// Insert adds passages atomically; either all are persisted or none.
	Insert(ctx context.Context, passages []Passage) error

	// Replace atomically swaps a document's passages for the given set. On
	// failure the document's previous passages remain intact.
	Replace(ctx context.Context, documentID string, passages []Passage) error

	// Search returns the topK passages most similar to vector, ranked by
	// similarity descending, excluding results below threshold. A non-empty
	// documentIDs set restricts the search to those documents before the
	// topK cap is applied.
	Search(ctx context.Context, vector []float32, topK int, threshold float32, documentIDs []string) ([]Scored, error)

	// DeleteByDocument removes all passages owned by the given document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Count returns the number of stored passages.
	Count(ctx context.Context) (int, error)
}
