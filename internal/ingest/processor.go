package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkovalev/docchat/internal/chunker"
	"github.com/mkovalev/docchat/internal/passage"
	"github.com/mkovalev/docchat/internal/storage"
)

// DocumentSource loads raw documents. Satisfied by *storage.Store.
type DocumentSource interface {
	GetDocument(id string) (storage.Document, error)
}

// Embedder embeds chunk batches. Satisfied by *embedding.Client.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Processor runs the ingestion pipeline: extract, chunk, embed, persist.
type Processor struct {
	docs     DocumentSource
	embedder Embedder
	passages passage.Store
	logger   *slog.Logger
	maxLen   int
	overlap  int
}

func NewProcessor(docs DocumentSource, embedder Embedder, passages passage.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		docs:     docs,
		embedder: embedder,
		passages: passages,
		logger:   logger,
		maxLen:   chunker.DefaultMaxLen,
		overlap:  chunker.DefaultOverlap,
	}
}

// ProcessDocument ingests one document and returns the number of passages
// stored. A failed embedding aborts the whole document: either every chunk
// is persisted or none, so a document is never left partially indexed.
// Reprocessing replaces the document's previous passages.
func (p *Processor) ProcessDocument(ctx context.Context, documentID string) (int, error) {
	doc, err := p.docs.GetDocument(documentID)
	if err != nil {
		return 0, fmt.Errorf("loading document %s: %w", documentID, err)
	}

	text, err := ExtractText(doc.Content, doc.Type)
	if err != nil {
		return 0, fmt.Errorf("extracting text from %s: %w", doc.Name, err)
	}

	var chunks []string
	for _, c := range chunker.Chunk(text, p.maxLen, p.overlap) {
		if c != "" {
			chunks = append(chunks, c)
		}
	}
	if len(chunks) == 0 {
		p.logger.Warn("document produced no chunks", "document_id", documentID, "name", doc.Name)
		return 0, nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", doc.Name, err)
	}

	now := time.Now().UTC()
	passages := make([]passage.Passage, len(chunks))
	for i, chunk := range chunks {
		passages[i] = passage.Passage{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			OwnerID:    doc.OwnerID,
			Text:       chunk,
			Vector:     vectors[i],
			CreatedAt:  now,
		}
	}

	if err := p.passages.Replace(ctx, documentID, passages); err != nil {
		return 0, fmt.Errorf("storing passages: %w", err)
	}

	p.logger.Info("document processed",
		"document_id", documentID, "name", doc.Name, "passages", len(passages))
	return len(passages), nil
}
