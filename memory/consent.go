package memory

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// StorageReason records why a memory is being stored.
type StorageReason string

const (
	ReasonSignificantMoment   StorageReason = "significant_moment"
	ReasonLearnedSomething    StorageReason = "learned_something"
	ReasonUserRequest         StorageReason = "user_request"
	ReasonBehavioralInsight   StorageReason = "behavioral_insight"
	ReasonIdentityAffirmation StorageReason = "identity_affirmation"
	ReasonCorrection          StorageReason = "correction"
	ReasonRelationship        StorageReason = "relationship"
)

// RetrievalReason records why memories are being retrieved. It changes how
// strict the retrieval check is: explicit requests are maximally permissive,
// ambient context-triggered retrieval holds a stricter bar.
type RetrievalReason string

const (
	RetrievalExplicitRequest  RetrievalReason = "explicit_request"
	RetrievalContextTriggered RetrievalReason = "context_triggered"
	RetrievalIdentityCheck    RetrievalReason = "identity_check"
	RetrievalSkillApplication RetrievalReason = "skill_application"
)

// RedactionMarker replaces configured redaction patterns in stored content.
const RedactionMarker = "[REDACTED]"

// ConsentConfig configures the consent gate.
type ConsentConfig struct {
	// RequireExplicitConsent rejects storage unless the caller attests
	// consent was given.
	RequireExplicitConsent bool

	// AutoApprove toggles auto-approval per kind. A kind missing from the
	// map is treated as approved.
	AutoApprove map[Kind]bool

	// MinContentLength rejects content shorter than this after trimming.
	MinContentLength int

	// MinSalienceForAuto rejects candidates whose salience falls below it.
	MinSalienceForAuto float64

	// RelevanceThreshold drops retrieval candidates below this similarity.
	RelevanceThreshold float64

	// ContextTriggeredMargin is added to RelevanceThreshold for ambient
	// (context-triggered) retrieval.
	ContextTriggeredMargin float64

	// MaxResultsPerQuery truncates retrieval output.
	MaxResultsPerQuery int

	// RedactPatterns are substrings replaced with RedactionMarker before
	// storage. NeverStorePatterns block storage entirely; they always win
	// over redaction, so blocked content is never partially redacted and
	// stored. Both match case-insensitively.
	RedactPatterns     []string
	NeverStorePatterns []string
}

// DefaultConsentConfig returns the gate defaults: auto-approve everything,
// 10-char minimum, 0.3 salience floor, 0.5 relevance threshold with a 0.1
// context-triggered margin, 10 results per query.
func DefaultConsentConfig() ConsentConfig {
	return ConsentConfig{
		AutoApprove: map[Kind]bool{
			KindEpisodic:   true,
			KindSemantic:   true,
			KindProcedural: true,
			KindIdentity:   true,
		},
		MinContentLength:       minContentLength,
		MinSalienceForAuto:     0.3,
		RelevanceThreshold:     0.5,
		ContextTriggeredMargin: 0.1,
		MaxResultsPerQuery:     10,
	}
}

// Decision is the outcome of a consent check. Proceed=false is a policy
// rejection, not an error: the reason says why, and the caller may retry
// with different input.
type Decision struct {
	Proceed bool
	Reason  string

	// ModifiedContent is set when redaction altered the content; the
	// caller must store it instead of the original.
	ModifiedContent string
}

// Gate applies consent policy to storage and retrieval. It is the only
// component allowed to reject an operation outright.
//
// The gate tracks user-requested deletions in memory, independent of whether
// the index has physically removed the record, so stale index results never
// resurface a deleted memory. The deletion set is safe for concurrent use
// and lives with the System that owns the gate.
type Gate struct {
	config ConsentConfig

	mu      sync.RWMutex
	deleted map[string]struct{}
}

// NewGate creates a consent gate with the given configuration.
func NewGate(config ConsentConfig) *Gate {
	if config.MaxResultsPerQuery <= 0 {
		config.MaxResultsPerQuery = 10
	}
	if config.MinContentLength <= 0 {
		config.MinContentLength = minContentLength
	}
	return &Gate{
		config:  config,
		deleted: make(map[string]struct{}),
	}
}

// CheckStorage decides whether a candidate memory may be stored.
//
// Check order matters: never-store and length run before redaction, so a
// record that must be blocked is never partially redacted and stored.
func (g *Gate) CheckStorage(content string, kind Kind, reason StorageReason, salience float64, userConsented bool) Decision {
	for _, pattern := range g.config.NeverStorePatterns {
		if containsFold(content, pattern) {
			return Decision{Reason: fmt.Sprintf("content matches never-store pattern: %s", pattern)}
		}
	}

	if len(strings.TrimSpace(content)) < g.config.MinContentLength {
		return Decision{Reason: "content too short to be meaningful"}
	}

	if g.config.RequireExplicitConsent && !userConsented {
		return Decision{Reason: "explicit consent required but not given"}
	}

	if approve, ok := g.config.AutoApprove[kind]; ok && !approve {
		return Decision{Reason: fmt.Sprintf("auto-approval disabled for %s memories", kind)}
	}

	if salience < g.config.MinSalienceForAuto {
		return Decision{Reason: fmt.Sprintf("salience %.2f below threshold %.2f", salience, g.config.MinSalienceForAuto)}
	}

	modified := content
	for _, pattern := range g.config.RedactPatterns {
		modified = replaceFold(modified, pattern, RedactionMarker)
	}

	decision := Decision{Proceed: true, Reason: storageExplanation(reason, kind)}
	if modified != content {
		decision.ModifiedContent = modified
	}
	return decision
}

// CheckRetrieval filters retrieval candidates. Candidates are expected to
// arrive pre-sorted by relevance; input order is preserved through
// truncation.
func (g *Gate) CheckRetrieval(query string, reason RetrievalReason, candidates []Hit) []Hit {
	threshold := g.config.RelevanceThreshold
	if reason == RetrievalContextTriggered {
		threshold += g.config.ContextTriggeredMargin
	}

	filtered := make([]Hit, 0, len(candidates))
	for _, hit := range candidates {
		if g.isDeleted(hit.Record.ID) {
			continue
		}
		if hit.Similarity < g.config.RelevanceThreshold {
			continue
		}
		// Explicit requests keep everything that cleared the base
		// threshold: user-directed recall is maximally permissive.
		if reason != RetrievalExplicitRequest && hit.Similarity < threshold {
			continue
		}
		filtered = append(filtered, hit)
	}

	if len(filtered) > g.config.MaxResultsPerQuery {
		filtered = filtered[:g.config.MaxResultsPerQuery]
	}
	return filtered
}

// RequestDeletion marks an ID as deleted by the user. Idempotent. It does
// not remove the record from the index; System.Forget does that separately.
func (g *Gate) RequestDeletion(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted[id] = struct{}{}
}

func (g *Gate) isDeleted(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.deleted[id]
	return ok
}

func storageExplanation(reason StorageReason, kind Kind) string {
	switch reason {
	case ReasonSignificantMoment:
		return "this was a significant moment worth remembering"
	case ReasonLearnedSomething:
		return "this represents something new learned"
	case ReasonUserRequest:
		return "the user explicitly requested this be remembered"
	case ReasonBehavioralInsight:
		return "this is an insight about effective behavior"
	case ReasonIdentityAffirmation:
		return "this affirms or clarifies identity and values"
	case ReasonCorrection:
		return "this corrects a previous misconception"
	case ReasonRelationship:
		return "this is relevant to an ongoing relationship"
	}
	return fmt.Sprintf("storing as %s memory", kind)
}

// containsFold reports whether s contains substr, ignoring case. Uses the
// same rune-wise folding as replaceFold so the two checks agree on every
// pattern.
func containsFold(s, substr string) bool {
	if substr == "" {
		return true
	}
	pattern := []rune(substr)
	for i, r := range pattern {
		pattern[i] = unicode.ToLower(r)
	}
	runes := []rune(s)
	for i := range runes {
		if foldMatches(runes[i:], pattern) {
			return true
		}
	}
	return false
}

// replaceFold replaces every case-insensitive occurrence of old in s with
// new. Matching is rune-wise with simple case folding, so characters whose
// lowercase form has a different byte length (İ, K) cannot skew offsets into
// the original string.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	pattern := []rune(old)
	for i, r := range pattern {
		pattern[i] = unicode.ToLower(r)
	}

	runes := []rune(s)
	var b strings.Builder
	for i := 0; i < len(runes); {
		if foldMatches(runes[i:], pattern) {
			b.WriteString(new)
			i += len(pattern)
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String()
}

// foldMatches reports whether s starts with pattern, comparing runes after
// simple lowercasing. pattern must already be lowercased.
func foldMatches(s, pattern []rune) bool {
	if len(s) < len(pattern) {
		return false
	}
	for i, p := range pattern {
		if unicode.ToLower(s[i]) != p {
			return false
		}
	}
	return true
}
