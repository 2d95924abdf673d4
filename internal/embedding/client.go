// Package embedding converts text into fixed-dimension vectors via an
// OpenAI-compatible embeddings API.
package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

// ErrEmbedding marks any embedding service failure. Callers decide whether
// to abort ingestion or degrade retrieval.
var ErrEmbedding = errors.New("embedding service failure")

// DefaultModel is used when no embedding model is configured.
const DefaultModel = "text-embedding-3-small"

// batchConcurrency bounds parallel embedding calls per batch.
const batchConcurrency = 4

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string // empty selects the provider default
	Model      string
	Dimensions int // 0 lets the provider pick
}

// Client generates embeddings for text. Safe for concurrent use.
type Client struct {
	api        *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewClient creates an embedding client from cfg.
func NewClient(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		api:        openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(model),
		dimensions: cfg.Dimensions,
	}
}

// Embed returns the embedding vector for a single text. The call is
// idempotent: embedding the same text twice yields the same vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          c.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	resp, err := c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, apiError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response: %w", ErrEmbedding)
	}
	return resp.Data[0].Embedding, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently,
// preserving input order. Any single failure fails the whole batch.
// Returns nil (not error) for empty input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// apiError normalizes go-openai errors into short messages wrapped with
// ErrEmbedding; raw response bodies are never propagated.
func apiError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ErrEmbedding)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("embedding API error %d: %w", reqErr.HTTPStatusCode, ErrEmbedding)
	}
	return fmt.Errorf("embedding request failed: %w", ErrEmbedding)
}
