// Package retrieval turns a user query into ranked document passages and
// renders them into a bounded context block for prompting.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkovalev/docchat/internal/passage"
	"github.com/mkovalev/docchat/internal/storage"
)

const (
	// DefaultTopK is the number of passages returned when the caller does
	// not say otherwise.
	DefaultTopK = 5

	// DefaultThreshold is the minimum cosine similarity for a passage to be
	// considered relevant.
	DefaultThreshold = 0.75

	defaultTimeout = 15 * time.Second
)

// Embedder produces a query vector. Satisfied by *embedding.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentNamer resolves a document ID to its display name. Satisfied by
// *storage.Store.
type DocumentNamer interface {
	DocumentName(id string) (string, error)
}

// Result is one retrieved passage with its resolved file name.
type Result struct {
	Content    string  `json:"content"`
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	Similarity float32 `json:"similarity"`
}

// Options tune a single retrieval. Zero values mean defaults.
type Options struct {
	TopK        int
	Threshold   float32
	DocumentIDs []string
}

// Retriever embeds queries and searches the passage store.
type Retriever struct {
	embedder Embedder
	store    passage.Store
	namer    DocumentNamer
	logger   *slog.Logger
	timeout  time.Duration
}

func New(embedder Embedder, store passage.Store, namer DocumentNamer, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		namer:    namer,
		logger:   logger,
		timeout:  defaultTimeout,
	}
}

// Retrieve embeds query and returns the most similar passages, ranked
// descending by similarity. A name lookup failure downgrades the result's
// file name to "Unknown file" instead of failing the retrieval.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := r.store.Search(ctx, vector, opts.TopK, opts.Threshold, opts.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("searching passages: %w", err)
	}

	names := make(map[string]string, len(scored))
	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		name, ok := names[s.DocumentID]
		if !ok {
			name = r.resolveName(s.DocumentID)
			names[s.DocumentID] = name
		}
		results = append(results, Result{
			Content:    s.Text,
			DocumentID: s.DocumentID,
			FileName:   name,
			Similarity: s.Similarity,
		})
	}
	return results, nil
}

func (r *Retriever) resolveName(documentID string) string {
	name, err := r.namer.DocumentName(documentID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("resolving document name", "document_id", documentID, "error", err)
		}
		return "Unknown file"
	}
	return name
}
