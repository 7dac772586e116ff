package service

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns a fixed vector per text.
type stubEmbedder struct {
	err   error
	calls int
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 2, 3}
	}
	return vectors, nil
}

func (e *stubEmbedder) ModelName() string { return "stub-model" }

// stubIndex serves canned results, applying the metadata filter and topK
// the way the real store does.
type stubIndex struct {
	results []model.RetrievalResult
	total   int64
	err     error
}

func (s *stubIndex) Query(_ context.Context, _ []float32, topK int, filter model.SearchFilter) ([]model.RetrievalResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []model.RetrievalResult
	for _, r := range s.results {
		if filter.Panel != "" && r.Panel != filter.Panel {
			continue
		}
		if filter.ProductCode != "" && r.ProductCode != filter.ProductCode {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *stubIndex) Count(context.Context) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.total, nil
}

func sampleResults() []model.RetrievalResult {
	return []model.RetrievalResult{
		{SubmissionNumber: "K1", DeviceName: "A", Panel: "RA", Distance: 0.12},
		{SubmissionNumber: "K2", DeviceName: "B", Panel: "CV", Distance: 0.05},
		{SubmissionNumber: "K3", DeviceName: "C", Panel: "RA", Distance: 0.30},
		{SubmissionNumber: "K4", DeviceName: "D", Panel: "RA", Distance: 0.22},
	}
}

func TestSearchReturnsAscendingDistance(t *testing.T) {
	svc := NewSearchService(&stubEmbedder{}, &stubIndex{results: sampleResults(), total: 4}, 5)

	results, err := svc.Search(context.Background(), "ct lung nodules", 3, model.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
	assert.Equal(t, "K2", results[0].SubmissionNumber)
}

func TestSearchDefaultTopK(t *testing.T) {
	svc := NewSearchService(&stubEmbedder{}, &stubIndex{results: sampleResults(), total: 4}, 2)

	results, err := svc.Search(context.Background(), "question", 0, model.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchEmptyIndex(t *testing.T) {
	embedder := &stubEmbedder{}
	svc := NewSearchService(embedder, &stubIndex{total: 0}, 5)

	_, err := svc.Search(context.Background(), "question", 5, model.SearchFilter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyIndex)
	assert.Equal(t, 0, embedder.calls, "no embedding call against an empty index")
}

func TestSearchFilterPushdown(t *testing.T) {
	svc := NewSearchService(&stubEmbedder{}, &stubIndex{results: sampleResults(), total: 4}, 5)

	results, err := svc.Search(context.Background(), "question", 5, model.SearchFilter{Panel: "RA"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "RA", r.Panel)
	}
}

func TestSearchFilterMatchingNothing(t *testing.T) {
	svc := NewSearchService(&stubEmbedder{}, &stubIndex{results: sampleResults(), total: 4}, 5)

	results, err := svc.Search(context.Background(), "question", 5, model.SearchFilter{Panel: "NE"})
	require.NoError(t, err, "an empty filtered result is not an error")
	assert.Empty(t, results)
}

func TestSearchEmbeddingFailure(t *testing.T) {
	svc := NewSearchService(&stubEmbedder{err: fmt.Errorf("service down")}, &stubIndex{results: sampleResults(), total: 4}, 5)

	_, err := svc.Search(context.Background(), "question", 5, model.SearchFilter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
}

func TestSearchIndexFailure(t *testing.T) {
	svc := NewSearchService(&stubEmbedder{}, &stubIndex{err: fmt.Errorf("es down")}, 5)

	_, err := svc.Search(context.Background(), "question", 5, model.SearchFilter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
}
