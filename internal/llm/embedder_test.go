package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbeddings struct {
	dim   int
	fails int
	calls int
}

func (s *stubEmbeddings) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.calls <= s.fails {
		return nil, errors.New("connection reset by peer")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *stubEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func testEmbedder(stub *stubEmbeddings, dim int) *Embedder {
	return &Embedder{
		model:     stub,
		dimension: dim,
		modelName: "stub",
		policies: retry.Policies{
			Transient: retry.Policy{MaxRetries: 5, Initial: time.Millisecond, Max: time.Millisecond},
		},
		metrics: metrics.NewCollector(),
	}
}

func TestEmbedRetriesConnectionErrors(t *testing.T) {
	stub := &stubEmbeddings{dim: 4, fails: 2}
	e := testEmbedder(stub, 4)

	v, err := e.Embed(context.Background(), "alumina")
	require.NoError(t, err)
	assert.Len(t, v, 4)
	assert.Equal(t, 3, stub.calls)
	assert.Equal(t, int64(1), e.metrics.Snapshot().Embedding.Count)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	e := testEmbedder(&stubEmbeddings{dim: 3}, 4)
	_, err := e.Embed(context.Background(), "alumina")
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestEmbedBatch(t *testing.T) {
	e := testEmbedder(&stubEmbeddings{dim: 4}, 4)
	vs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vs, 2)

	vs, err = e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vs)
}
