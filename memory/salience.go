package memory

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// SalienceScorer computes how important a candidate memory is, in [0,1].
//
// Factors: emotional intensity, novelty against existing memories of the
// same kind, and whether the content touches identity. Deterministic given
// identical inputs and embeddings; no side effects.
type SalienceScorer struct {
	embedder Embedder
	tunables Tunables
}

// NewSalienceScorer creates a scorer backed by the given embedder.
func NewSalienceScorer(embedder Embedder, tunables Tunables) *SalienceScorer {
	return &SalienceScorer{embedder: embedder, tunables: tunables}
}

// Score computes the salience of a candidate memory.
//
// Starts at the base, adds |emotionalValence|*0.3, adds 0.2 when identity
// related, and when prior vectors are supplied adds a novelty bonus of
// (1 - maxSimilarity)*0.2 so near-duplicates score lower. Clamped to [0,1].
func (s *SalienceScorer) Score(ctx context.Context, content string, emotionalValence float64, existing [][]float32, identityRelated bool) (float64, error) {
	salience := s.tunables.BaseSalience

	salience += math.Abs(clamp(emotionalValence, -1, 1)) * 0.3

	if identityRelated {
		salience += 0.2
	}

	if len(existing) > 0 {
		embedding, err := s.embedder.Embed(ctx, content)
		if err != nil {
			return 0, fmt.Errorf("embed candidate: %w", err)
		}
		maxSim := -1.0
		for _, prior := range existing {
			if sim := CosineSimilarity(embedding, prior); sim > maxSim {
				maxSim = sim
			}
		}
		// High similarity = low novelty = lower bonus.
		salience += (1 - maxSim) * 0.2
	}

	return clamp(salience, 0, 1), nil
}

// IsWorthRemembering decides whether a candidate is worth storing at all:
// content must be at least minContentLength characters after trimming, and
// must not sit above duplicateThreshold similarity to any existing vector.
// Returns the decision and a human-readable reason.
func (s *SalienceScorer) IsWorthRemembering(ctx context.Context, content string, existing [][]float32, duplicateThreshold float64) (bool, string, error) {
	if duplicateThreshold <= 0 {
		duplicateThreshold = s.tunables.DuplicateThreshold
	}

	if len(strings.TrimSpace(content)) < minContentLength {
		return false, "content too short to be meaningful", nil
	}

	if len(existing) > 0 {
		embedding, err := s.embedder.Embed(ctx, content)
		if err != nil {
			return false, "", fmt.Errorf("embed candidate: %w", err)
		}
		for _, prior := range existing {
			if CosineSimilarity(embedding, prior) > duplicateThreshold {
				return false, "too similar to an existing memory", nil
			}
		}
	}

	return true, "memory is novel and meaningful", nil
}

// minContentLength is the shortest content considered meaningful, after
// trimming whitespace.
const minContentLength = 10
