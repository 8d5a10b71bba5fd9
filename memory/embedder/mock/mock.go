// Package mock provides a deterministic embedder for tests: identical text
// always maps to the identical unit vector, so exact-match queries score a
// cosine similarity of 1 without any model files.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates hash-seeded pseudo-random embeddings. The vectors carry
// no real semantics; tests that need controlled similarities should build
// vectors by hand instead.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with MiniLM-sized vectors.
func New() *Embedder {
	return &Embedder{dimensions: 384}
}

// Embed derives a deterministic unit vector from the text's hash.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, e.dimensions)
	for i := range embedding {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
