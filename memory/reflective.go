package memory

import "strings"

// Reflective consent: a heuristic second opinion layered on top of the gate.
// Before storing it asks "would future-me want to remember this?"; before
// surfacing it asks "is this relevant, or am I just pattern-matching?".
// Both checks are pure functions; a candidate must pass every applicable
// layer to be stored or surfaced.

var (
	correctionSignals = []string{"actually", "correction", "i was wrong", "mistake"}
	emotionalSignals  = []string{"felt", "moved", "grateful", "frustrated", "curious", "excited"}
	reflectionSignals = []string{"i noticed", "i realized", "i tend to"}
)

// WouldFutureSelfValueThis reflects on whether future-self would value a
// candidate memory. Returns the decision, a reason, and a suggested salience
// the caller may fold into its own score.
func WouldFutureSelfValueThis(content string, kind Kind) (bool, string, float64) {
	if kind == KindIdentity {
		return true, "identity memories help maintain continuity of self", 0.8
	}

	lower := strings.ToLower(content)

	if containsAny(lower, correctionSignals) {
		return true, "corrections help avoid repeating mistakes", 0.7
	}
	if containsAny(lower, emotionalSignals) {
		return true, "emotionally significant moments are worth preserving", 0.6
	}
	if containsAny(lower, reflectionSignals) {
		return true, "self-observations support growth and awareness", 0.7
	}

	if len(content) < 50 {
		return false, "content seems too brief to be meaningful", 0.2
	}

	return true, "content may be useful for context", 0.4
}

// IsRelevantOrPatternMatching checks whether a retrieval candidate is
// genuinely relevant or just a surface-level match. High lexical overlap
// with low semantic similarity is the signature of keyword coincidence
// masquerading as meaning.
func IsRelevantOrPatternMatching(query string, rec *Record, similarity float64) (bool, string) {
	if similarity > 0.85 {
		return true, "high semantic similarity suggests genuine relevance"
	}

	queryWords := wordSet(query)
	contentWords := wordSet(rec.Content)
	shared := 0
	for w := range queryWords {
		if _, ok := contentWords[w]; ok {
			shared++
		}
	}
	overlap := float64(shared) / float64(max(len(queryWords), 1))

	if overlap > 0.5 && similarity < 0.6 {
		return false, "high keyword overlap but low semantic similarity, likely pattern matching"
	}

	// Identity and procedural memories shape behavior; they hold a higher
	// relevance bar regardless of lexical overlap.
	if rec.Kind == KindIdentity || rec.Kind == KindProcedural {
		if similarity < 0.6 {
			return false, "core memories require a higher relevance threshold"
		}
	}

	if rec.Salience > 0.7 {
		return true, "high-salience memory is worth surfacing"
	}

	if similarity > 0.5 {
		return true, "similarity suggests reasonable relevance"
	}

	return false, "insufficient relevance for retrieval"
}

func containsAny(s string, signals []string) bool {
	for _, signal := range signals {
		if strings.Contains(s, signal) {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
