package embedding

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// Provider is the outbound contract for embedding generation. *Client is the
// production implementation; tests substitute fakes.
type Provider interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Embedder wraps a Provider with a fixed model name and validates every
// vector the provider returns before handing it to callers.
type Embedder struct {
	provider Provider
	model    string
}

// NewEmbedder creates an Embedder using the given Provider and model name.
func NewEmbedder(p Provider, model string) *Embedder {
	return &Embedder{provider: p, model: model}
}

// Embed returns the validated embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if err := validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Either every text embeds successfully or the whole batch fails; partial
// results are never returned. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the provider.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.provider.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			if err := validate(vec); err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Vectors from one provider must all share a dimension; a disagreement
	// means the provider is misbehaving and the batch cannot be indexed.
	dim := len(results[0])
	for i, vec := range results {
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d", ErrProvider, i, len(vec), dim)
		}
	}
	return results, nil
}

// validate rejects vectors the index could not safely hold.
func validate(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrProvider)
	}
	for i, f := range vec {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: non-finite value at position %d", ErrProvider, i)
		}
	}
	return nil
}
