package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

type fakeChunkReader struct {
	chunks   []domain.SourceChunk
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeChunkReader) ChunksForProject(_ context.Context, _ string) ([]domain.SourceChunk, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("store unreachable")
	}
	return f.chunks, nil
}

type fakeEmbedder struct {
	vector   []float64
	failures int
	calls    int
}

func (f *fakeEmbedder) EmbedAll(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("provider down")
	}
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = f.vector
	}
	return out, nil
}

func chunkWithVector(sourceID string, position int, v []float64) domain.SourceChunk {
	return domain.SourceChunk{
		ID:        fmt.Sprintf("%s:%d", sourceID, position),
		SourceID:  sourceID,
		ProjectID: "p1",
		Text:      "text",
		Embedding: v,
		Position:  position,
	}
}

func query(text string, limit int) domain.RetrievalQuery {
	return domain.RetrievalQuery{ProjectID: "p1", SectionID: "intro", Query: text, Limit: limit}
}

func TestRetrieve_ValidatesInput(t *testing.T) {
	r := New(&fakeChunkReader{}, &fakeEmbedder{}, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		q    domain.RetrievalQuery
	}{
		{"empty query", query("", 5)},
		{"whitespace query", query("   \t\n", 5)},
		{"zero limit", query("neural networks", 0)},
		{"limit too high", query("neural networks", 101)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Retrieve(ctx, tc.q)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestRetrieve_FallbackWithoutEmbeddings(t *testing.T) {
	reader := &fakeChunkReader{chunks: []domain.SourceChunk{
		chunkWithVector("src-1", 0, nil),
		chunkWithVector("src-1", 1, nil),
		chunkWithVector("src-1", 2, nil),
	}}
	embedder := &fakeEmbedder{vector: []float64{1, 0}}
	r := New(reader, embedder, nil)

	res, err := r.Retrieve(context.Background(), query("anything", 2))
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Zero(t, embedder.calls, "fallback must never call the provider")
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, 0, res.Chunks[0].Position)
	assert.Equal(t, 1, res.Chunks[1].Position)
	assert.Greater(t, res.Chunks[0].Score, res.Chunks[1].Score)
}

func TestRetrieve_FallbackScoreFloor(t *testing.T) {
	var chunks []domain.SourceChunk
	for i := 0; i < 20; i++ {
		chunks = append(chunks, chunkWithVector("src-1", i, nil))
	}
	r := New(&fakeChunkReader{chunks: chunks}, &fakeEmbedder{}, nil)

	res, err := r.Retrieve(context.Background(), query("anything", 20))
	require.NoError(t, err)
	require.Len(t, res.Chunks, 20)
	assert.InDelta(t, 1.0, res.Chunks[0].Score, 1e-9)
	assert.InDelta(t, 0.1, res.Chunks[19].Score, 1e-9, "synthetic score floors at 0.1")
}

func TestRetrieve_RanksByCosineSimilarity(t *testing.T) {
	// Query vector points along x; the "neural networks" chunk is aligned,
	// the other two are nearly orthogonal.
	reader := &fakeChunkReader{chunks: []domain.SourceChunk{
		chunkWithVector("unrelated-a", 0, []float64{0.1, 1, 0}),
		chunkWithVector("neural", 0, []float64{0.9, 0.1, 0}),
		chunkWithVector("unrelated-b", 0, []float64{0, 0.2, 1}),
	}}
	r := New(reader, &fakeEmbedder{vector: []float64{1, 0, 0}}, nil)

	res, err := r.Retrieve(context.Background(), query("neural network architecture", 2))
	require.NoError(t, err)

	assert.False(t, res.Degraded)
	require.Len(t, res.Chunks, 2, "never more than limit")
	assert.Equal(t, "neural", res.Chunks[0].SourceID)
	assert.GreaterOrEqual(t, res.Chunks[0].Score, res.Chunks[1].Score)
}

func TestRetrieve_Deterministic(t *testing.T) {
	reader := &fakeChunkReader{chunks: []domain.SourceChunk{
		chunkWithVector("a", 0, []float64{1, 0}),
		chunkWithVector("b", 0, []float64{0.7, 0.7}),
		chunkWithVector("c", 0, []float64{0, 1}),
	}}
	r := New(reader, &fakeEmbedder{vector: []float64{1, 0.2}}, nil)

	first, err := r.Retrieve(context.Background(), query("stable", 3))
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), query("stable", 3))
	require.NoError(t, err)

	require.Equal(t, len(first.Chunks), len(second.Chunks))
	for i := range first.Chunks {
		assert.Equal(t, first.Chunks[i].SourceID, second.Chunks[i].SourceID)
		assert.Equal(t, first.Chunks[i].Score, second.Chunks[i].Score)
	}
	for i := 1; i < len(first.Chunks); i++ {
		assert.LessOrEqual(t, first.Chunks[i].Score, first.Chunks[i-1].Score)
	}
}

func TestRetrieve_CitationLabels(t *testing.T) {
	reader := &fakeChunkReader{chunks: []domain.SourceChunk{
		chunkWithVector("src-9", 4, []float64{1, 0}),
	}}
	r := New(reader, &fakeEmbedder{vector: []float64{1, 0}}, nil)

	res, err := r.Retrieve(context.Background(), query("q", 1))
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "src-9#4", res.Chunks[0].Citation)
}

func TestRetrieve_EmbeddingRetriesThenUnavailable(t *testing.T) {
	reader := &fakeChunkReader{chunks: []domain.SourceChunk{
		chunkWithVector("a", 0, []float64{1, 0}),
	}}
	embedder := &fakeEmbedder{failures: 99}
	r := New(reader, embedder, nil)

	_, err := r.Retrieve(context.Background(), query("doomed query", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAIServiceUnavailable)
	assert.Equal(t, embedAttempts, embedder.calls)
	assert.Contains(t, err.Error(), "doomed query", "error must carry the query")
}

func TestRetrieve_EmbeddingRecoversWithinBudget(t *testing.T) {
	reader := &fakeChunkReader{chunks: []domain.SourceChunk{
		chunkWithVector("a", 0, []float64{1, 0}),
	}}
	embedder := &fakeEmbedder{vector: []float64{1, 0}, failures: 2}
	r := New(reader, embedder, nil)

	res, err := r.Retrieve(context.Background(), query("q", 1))
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 1)
	assert.Equal(t, 3, embedder.calls)
}

func TestRetrieve_StoreRetriesThenFails(t *testing.T) {
	reader := &fakeChunkReader{failures: 99}
	r := New(reader, &fakeEmbedder{}, nil)

	_, err := r.Retrieve(context.Background(), query("lost query", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrievalFailed)
	assert.Equal(t, storeAttempts, reader.calls)
	assert.Contains(t, err.Error(), "lost query")
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	assert.Zero(t, cosineSimilarity([]float64{1, 2, 3}, []float64{0, 0, 0}))
	assert.Zero(t, cosineSimilarity(nil, []float64{1}))
}

func TestCosineSimilarity_Bounds(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{2, 0}, []float64{5, 0}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), "negative similarity clamps to 0")
}
