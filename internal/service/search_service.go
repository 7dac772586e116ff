// Package service implements the business logic layer.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/embedding"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
)

var (
	// ErrEmptyIndex is returned when retrieval is attempted before any
	// chunks have been indexed.
	ErrEmptyIndex = errors.New("vector index is empty, run a build first")
	// ErrRetrieval wraps failures of the embedding or vector index calls
	// during a search.
	ErrRetrieval = errors.New("retrieval failed")
)

// ChunkIndex is the query-side view of the vector index.
type ChunkIndex interface {
	Query(ctx context.Context, vector []float32, topK int, filter model.SearchFilter) ([]model.RetrievalResult, error)
	Count(ctx context.Context) (int64, error)
}

// SearchService defines the semantic search interface.
type SearchService interface {
	// Search embeds the query and returns up to topK chunks sorted by
	// ascending distance. topK <= 0 falls back to the configured default.
	Search(ctx context.Context, query string, topK int, filter model.SearchFilter) ([]model.RetrievalResult, error)
}

type searchService struct {
	embedder    embedding.Client
	index       ChunkIndex
	defaultTopK int
}

// NewSearchService creates a new SearchService instance.
func NewSearchService(embedder embedding.Client, index ChunkIndex, defaultTopK int) SearchService {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &searchService{
		embedder:    embedder,
		index:       index,
		defaultTopK: defaultTopK,
	}
}

func (s *searchService) Search(ctx context.Context, query string, topK int, filter model.SearchFilter) ([]model.RetrievalResult, error) {
	if topK <= 0 {
		topK = s.defaultTopK
	}

	total, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	if total == 0 {
		return nil, ErrEmptyIndex
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for one query", ErrRetrieval, len(vectors))
	}

	results, err := s.index.Query(ctx, vectors[0], topK, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	// A filter that matches nothing is an empty result, not an error.
	log.Infof("[SearchService] query returned %d/%d results", len(results), topK)
	return results, nil
}
