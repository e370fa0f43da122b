package embedding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

// fakeProvider records calls and returns one vector per text whose first
// component encodes the text, so ordering is observable.
type fakeProvider struct {
	calls   [][]string
	failAt  int // fail the nth call (1-based), 0 = never
	callNum int
}

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.callNum++
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.failAt > 0 && f.callNum == f.failAt {
		return nil, errors.New("provider boom")
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		n, _ := strconv.Atoi(t)
		out[i] = []float64{float64(n)}
	}
	return out, nil
}

func numberedTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprint(i)
	}
	return texts
}

func TestEmbedAll_Empty(t *testing.T) {
	b := NewBatcher(&fakeProvider{}, nil, 10, nil)
	vectors, err := b.EmbedAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedAll_PreservesOrderAndLength(t *testing.T) {
	provider := &fakeProvider{}
	b := NewBatcher(provider, nil, 10, nil)

	texts := numberedTexts(25)
	vectors, err := b.EmbedAll(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 25)
	for i, v := range vectors {
		assert.Equal(t, float64(i), v[0], "vector %d out of order", i)
	}
}

func TestEmbedAll_SplitsIntoBatches(t *testing.T) {
	provider := &fakeProvider{}
	b := NewBatcher(provider, nil, 10, nil)

	_, err := b.EmbedAll(context.Background(), numberedTexts(25))
	require.NoError(t, err)
	require.Len(t, provider.calls, 3)
	assert.Len(t, provider.calls[0], 10)
	assert.Len(t, provider.calls[1], 10)
	assert.Len(t, provider.calls[2], 5)
}

func TestEmbedAll_BatchErrorCarriesRange(t *testing.T) {
	provider := &fakeProvider{failAt: 2}
	b := NewBatcher(provider, nil, 10, nil)

	_, err := b.EmbedAll(context.Background(), numberedTexts(25))
	require.Error(t, err)

	var batchErr *domain.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 10, batchErr.From)
	assert.Equal(t, 20, batchErr.To)
}

func TestEmbedAll_LengthMismatchRejected(t *testing.T) {
	b := NewBatcher(shortProvider{}, nil, 10, nil)
	_, err := b.EmbedAll(context.Background(), numberedTexts(3))
	require.Error(t, err)

	var batchErr *domain.BatchError
	assert.ErrorAs(t, err, &batchErr)
}

type shortProvider struct{}

func (shortProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	return make([][]float64, len(texts)-1), nil
}

func TestEmbedAll_PacesCallsThroughLimiter(t *testing.T) {
	provider := &fakeProvider{}
	interval := 30 * time.Millisecond
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	b := NewBatcher(provider, limiter, 5, nil)

	start := time.Now()
	_, err := b.EmbedAll(context.Background(), numberedTexts(15)) // 3 calls
	require.NoError(t, err)

	// First call is immediate, the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 2*interval-5*time.Millisecond)
}

func TestEmbedAll_LimiterCancellation(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow() // drain the burst so the next Wait blocks
	b := NewBatcher(&fakeProvider{}, limiter, 5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	_, err := b.EmbedAll(ctx, numberedTexts(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var batchErr *domain.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 0, batchErr.From)
}
