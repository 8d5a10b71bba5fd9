package mock_test

import (
	"context"
	"math"
	"testing"

	"github.com/becomeliminal/mnemo/memory"
	"github.com/becomeliminal/mnemo/memory/embedder/mock"
)

func TestEmbedIsDeterministic(t *testing.T) {
	embedder := mock.New()
	ctx := context.Background()

	first, err := embedder.Embed(ctx, "a stable sentence to embed twice")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := embedder.Embed(ctx, "a stable sentence to embed twice")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if sim := memory.CosineSimilarity(first, second); sim < 0.9999 {
		t.Errorf("identical text similarity = %.6f, want 1", sim)
	}
}

func TestEmbedIsUnitLength(t *testing.T) {
	embedder := mock.New()

	vec, err := embedder.Embed(context.Background(), "check the norm of this vector")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != embedder.Dimensions() {
		t.Fatalf("got %d dims, want %d", len(vec), embedder.Dimensions())
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-4 {
		t.Errorf("norm = %.6f, want 1", math.Sqrt(norm))
	}
}

func TestDifferentTextsDiverge(t *testing.T) {
	embedder := mock.New()
	ctx := context.Background()

	a, err := embedder.Embed(ctx, "the first of two unrelated sentences")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := embedder.Embed(ctx, "an entirely different thought altogether")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if sim := memory.CosineSimilarity(a, b); sim > 0.5 {
		t.Errorf("unrelated texts similarity = %.4f, want well below threshold", sim)
	}
}
