// Package embedding turns text into vectors for the tiered store.
package embedding

import (
	"context"

	"github.com/lexlapax/omegamem/pkg/errors"
)

// Embedder is implemented by every embedding backend.
type Embedder interface {
	// GenerateEmbeddings returns one vector per input text, in order.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the length of the vectors this embedder produces.
	Dimension() int
}

// EmbedOne embeds a single text and checks the result against the
// embedder's advertised dimension.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "embedder returned %d vectors for 1 text", len(vecs))
	}
	if d := e.Dimension(); d > 0 && len(vecs[0]) != d {
		return nil, errors.NewDimensionMismatch(d, len(vecs[0]))
	}
	return vecs[0], nil
}
