package memory_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/becomeliminal/mnemo/memory"
)

// stubEmbedder returns preset vectors per text so similarity is fully
// controlled, unlike the hash-based mock.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return nil, fmt.Errorf("no stub vector for %q", text)
}

func (s *stubEmbedder) Dimensions() int { return 3 }

func newScorer(vectors map[string][]float32) *memory.SalienceScorer {
	return memory.NewSalienceScorer(&stubEmbedder{vectors: vectors}, memory.DefaultTunables)
}

func TestScoreBase(t *testing.T) {
	scorer := newScorer(nil)
	got, err := scorer.Score(context.Background(), "an unremarkable note about the weather", 0, nil, false)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got != 0.5 {
		t.Errorf("base score: got %v, want 0.5", got)
	}
}

func TestScoreEmotionalIntensity(t *testing.T) {
	scorer := newScorer(nil)
	for _, valence := range []float64{1, -1} {
		got, err := scorer.Score(context.Background(), "something that mattered a great deal", valence, nil, false)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if math.Abs(got-0.8) > 1e-9 {
			t.Errorf("valence %v: got %v, want 0.8", valence, got)
		}
	}
}

func TestScoreIdentityBonus(t *testing.T) {
	scorer := newScorer(nil)
	got, err := scorer.Score(context.Background(), "a reflection on what kind of agent to be", 0, nil, true)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(got-0.7) > 1e-9 {
		t.Errorf("identity bonus: got %v, want 0.7", got)
	}
}

func TestScoreNoveltyBonus(t *testing.T) {
	content := "a brand new topic never discussed before"
	scorer := newScorer(map[string][]float32{
		content: {1, 0, 0},
	})

	// Orthogonal prior: maximal novelty, full 0.2 bonus.
	got, err := scorer.Score(context.Background(), content, 0, [][]float32{{0, 1, 0}}, false)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(got-0.7) > 1e-9 {
		t.Errorf("novel content: got %v, want 0.7", got)
	}

	// Identical prior: zero novelty, no bonus.
	got, err = scorer.Score(context.Background(), content, 0, [][]float32{{1, 0, 0}}, false)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("duplicate content: got %v, want 0.5", got)
	}
}

func TestScoreStaysInRange(t *testing.T) {
	content := "everything stacked at once"
	scorer := newScorer(map[string][]float32{
		content: {1, 0, 0},
	})

	// All factors maxed: 0.5 + 0.3 + 0.2 + 0.2 clamps to 1.
	got, err := scorer.Score(context.Background(), content, 1, [][]float32{{0, 1, 0}}, true)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got != 1 {
		t.Errorf("maxed factors: got %v, want 1", got)
	}

	// Out-of-range valence clamps rather than overflowing.
	got, err = scorer.Score(context.Background(), content, -5, nil, false)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got < 0 || got > 1 {
		t.Errorf("score out of range: %v", got)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	content := "the same input scored twice"
	scorer := newScorer(map[string][]float32{
		content: {0.6, 0.8, 0},
	})
	existing := [][]float32{{0, 1, 0}, {1, 0, 0}}

	first, err := scorer.Score(context.Background(), content, 0.4, existing, false)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	second, err := scorer.Score(context.Background(), content, 0.4, existing, false)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if first != second {
		t.Errorf("scores differ: %v vs %v", first, second)
	}
}

func TestIsWorthRememberingLength(t *testing.T) {
	scorer := newScorer(nil)
	ok, reason, err := scorer.IsWorthRemembering(context.Background(), "   Hi   ", nil, 0)
	if err != nil {
		t.Fatalf("IsWorthRemembering: %v", err)
	}
	if ok {
		t.Error("trivially short content should not be worth remembering")
	}
	if !strings.Contains(reason, "short") {
		t.Errorf("reason should mention length, got %q", reason)
	}
}

func TestIsWorthRememberingDuplicates(t *testing.T) {
	content := "the cafe on fifth street has the best espresso"
	scorer := newScorer(map[string][]float32{
		content: {1, 0, 0},
	})

	ok, reason, err := scorer.IsWorthRemembering(context.Background(), content, [][]float32{{1, 0, 0}}, 0.95)
	if err != nil {
		t.Fatalf("IsWorthRemembering: %v", err)
	}
	if ok {
		t.Error("near-duplicate should not be worth remembering")
	}
	if !strings.Contains(reason, "similar") {
		t.Errorf("reason should mention similarity, got %q", reason)
	}

	ok, _, err = scorer.IsWorthRemembering(context.Background(), content, [][]float32{{0, 1, 0}}, 0.95)
	if err != nil {
		t.Fatalf("IsWorthRemembering: %v", err)
	}
	if !ok {
		t.Error("novel content should be worth remembering")
	}
}
