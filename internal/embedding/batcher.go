package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

// DefaultBatchSize is the number of texts sent per provider call.
const DefaultBatchSize = 50

// Batcher groups texts into bounded provider calls behind a shared rate
// limiter. It is safe for concurrent use; the limiter is the only shared
// mutable state and serializes call pacing internally.
type Batcher struct {
	provider  Provider
	limiter   *rate.Limiter
	batchSize int
	log       *zap.Logger
}

// NewBatcher creates a Batcher. The limiter is injected so that every
// consumer of the provider shares one pacing budget.
func NewBatcher(provider Provider, limiter *rate.Limiter, batchSize int, log *zap.Logger) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Batcher{
		provider:  provider,
		limiter:   limiter,
		batchSize: batchSize,
		log:       log,
	}
}

// EmbedAll embeds every text, preserving input order and length. A failed
// batch aborts the whole operation with a BatchError carrying the index
// range of the failed group; nothing is partially recovered.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, 0, len(texts))
	for from := 0; from < len(texts); from += b.batchSize {
		to := from + b.batchSize
		if to > len(texts) {
			to = len(texts)
		}

		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, &domain.BatchError{From: from, To: to, Err: err}
			}
		}

		batch, err := b.provider.Embed(ctx, texts[from:to])
		if err != nil {
			b.log.Warn("embedding batch failed",
				zap.Int("from", from),
				zap.Int("to", to),
				zap.Error(err),
			)
			return nil, &domain.BatchError{From: from, To: to, Err: err}
		}
		if len(batch) != to-from {
			err := fmt.Errorf("provider returned %d vectors for %d inputs", len(batch), to-from)
			return nil, &domain.BatchError{From: from, To: to, Err: err}
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}
