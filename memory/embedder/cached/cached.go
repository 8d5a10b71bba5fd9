// Package cached decorates any memory.Embedder with a ristretto cache, so
// repeated embedding of identical content (duplicate checks, re-upserts,
// recurring queries) costs one model invocation instead of many.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/mnemo/memory"
)

// Embedder wraps an inner embedder with an admission-controlled cache. The
// cache is best-effort: ristretto may decline to admit an entry, which only
// means the next identical call re-embeds.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// Config sizes the cache.
type Config struct {
	// MaxBytes bounds the total cached vector bytes. Default 64 MiB.
	MaxBytes int64

	// MaxEntries estimates how many distinct texts will be cached; it
	// sizes ristretto's frequency counters. Default 10000.
	MaxEntries int64
}

// New wraps inner with a cache.
func New(inner memory.Embedder, cfg Config) (*Embedder, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for the text, embedding on miss. Returned
// slices are copies on both paths; a caller mutating its result can never
// poison what the cache holds.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if cached, ok := e.cache.Get(key); ok {
		if vec, ok := cached.([]float32); ok {
			return cloneVector(vec), nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(key, cloneVector(vec), int64(len(vec))*4)
	return vec, nil
}

// Dimensions returns the inner embedder's dimensions.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close releases the cache's internal goroutines.
func (e *Embedder) Close() {
	e.cache.Close()
}

func cloneVector(vec []float32) []float32 {
	return append([]float32(nil), vec...)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

var _ memory.Embedder = (*Embedder)(nil)
