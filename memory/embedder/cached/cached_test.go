package cached_test

import (
	"context"
	"errors"
	"testing"

	"github.com/becomeliminal/mnemo/memory"
	"github.com/becomeliminal/mnemo/memory/embedder/cached"
	"github.com/becomeliminal/mnemo/memory/embedder/mock"
)

type countingEmbedder struct {
	inner memory.Embedder
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestEmbedMatchesInner(t *testing.T) {
	inner := mock.New()
	counting := &countingEmbedder{inner: inner}
	embedder, err := cached.New(counting, cached.Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer embedder.Close()

	ctx := context.Background()
	text := "the decorator must be invisible to callers"

	want, err := inner.Embed(ctx, text)
	if err != nil {
		t.Fatalf("inner embed: %v", err)
	}
	got, err := embedder.Embed(ctx, text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d dims, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatal("cached embedder altered the inner vector")
		}
	}

	if embedder.Dimensions() != inner.Dimensions() {
		t.Errorf("dimensions = %d, want %d", embedder.Dimensions(), inner.Dimensions())
	}
}

func TestRepeatedEmbedIsStable(t *testing.T) {
	counting := &countingEmbedder{inner: mock.New()}
	embedder, err := cached.New(counting, cached.Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer embedder.Close()

	ctx := context.Background()
	text := "the same text embedded many times over"

	first, err := embedder.Embed(ctx, text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatal("repeated embedding diverged")
			}
		}
	}
	// Admission is best-effort, so hits are not guaranteed, but the inner
	// embedder can never be called more than once per Embed call.
	if counting.calls > 6 {
		t.Errorf("inner called %d times for 6 embeds", counting.calls)
	}
}

func TestEmbedReturnsPrivateCopies(t *testing.T) {
	inner := mock.New()
	embedder, err := cached.New(&countingEmbedder{inner: inner}, cached.Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer embedder.Close()

	ctx := context.Background()
	text := "mutating a returned vector must not poison the cache"

	want, err := inner.Embed(ctx, text)
	if err != nil {
		t.Fatalf("inner embed: %v", err)
	}

	// Whether each call hits or misses, a caller scribbling on its result
	// must never change what later calls see.
	for i := 0; i < 5; i++ {
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		for j := range vec {
			if vec[j] != want[j] {
				t.Fatalf("call %d returned a corrupted vector", i)
			}
		}
		vec[0] += 42
	}
}

func TestEmbedPropagatesInnerError(t *testing.T) {
	wantErr := errors.New("model unavailable")
	counting := &countingEmbedder{inner: mock.New(), err: wantErr}
	embedder, err := cached.New(counting, cached.Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer embedder.Close()

	if _, err := embedder.Embed(context.Background(), "any text at all"); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
