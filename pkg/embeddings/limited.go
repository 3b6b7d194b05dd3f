package embeddings

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/aretw0/quipu/pkg/core"
)

// Limited wraps an embedder with a token-bucket limiter. Each text consumes
// one token, so a batch waits for as many tokens as it has texts.
type Limited struct {
	core.Embedder
	limiter *rate.Limiter
}

// NewLimited allows perSecond texts per second with the given burst. A
// non-positive rate returns e unchanged.
func NewLimited(e core.Embedder, perSecond float64, burst int) core.Embedder {
	if perSecond <= 0 {
		return e
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{Embedder: e, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Embed waits for capacity, then delegates.
func (l *Limited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	// WaitN fails for n > burst; take tokens in burst-sized chunks.
	remaining := len(texts)
	for remaining > 0 {
		n := min(remaining, l.limiter.Burst())
		if err := l.limiter.WaitN(ctx, n); err != nil {
			return nil, err
		}
		remaining -= n
	}
	return l.Embedder.Embed(ctx, texts)
}
