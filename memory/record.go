package memory

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Kind identifies one of the four record kinds. A record's kind is fixed at
// creation and never changes.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
	KindIdentity   Kind = "identity"
)

// Kinds lists every record kind, in the order searches iterate them.
var Kinds = []Kind{KindEpisodic, KindSemantic, KindProcedural, KindIdentity}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProcedural, KindIdentity:
		return true
	}
	return false
}

// Confidence expresses how certain the system is about a record.
type Confidence string

const (
	ConfidenceUncertain Confidence = "uncertain"
	ConfidenceTentative Confidence = "tentative"
	ConfidenceConfident Confidence = "confident"
	ConfidenceCertain   Confidence = "certain"
)

// Outcome classifies how a procedural approach worked out.
type Outcome string

const (
	OutcomePositive Outcome = "positive"
	OutcomeNegative Outcome = "negative"
	OutcomeNeutral  Outcome = "neutral"
)

// EpisodicAttrs carries the fields specific to episodic records.
type EpisodicAttrs struct {
	// Entities are the key participants/topics, in the order observed.
	Entities []string `json:"entities,omitempty"`

	// EmotionalValence is the emotional significance, -1 (negative)
	// to +1 (positive). Clamped on construction and update.
	EmotionalValence float64 `json:"emotional_valence"`

	// SelfObservation is what the agent noticed about its own behavior.
	SelfObservation string `json:"self_observation,omitempty"`

	// ConversationID links to the full conversation if one was kept.
	ConversationID string `json:"conversation_id,omitempty"`
}

// SemanticAttrs carries the fields specific to semantic records.
type SemanticAttrs struct {
	// Category is one of: learned, correction, user_context, meta_knowledge.
	Category string `json:"category"`

	// Supersedes and Contradicts are weak back-references by record ID.
	// They never cascade: deleting the referenced record leaves them
	// dangling, to be resolved (or not) through the store.
	Supersedes  string `json:"supersedes,omitempty"`
	Contradicts string `json:"contradicts,omitempty"`
}

// ProceduralAttrs carries the fields specific to procedural records.
type ProceduralAttrs struct {
	Outcome      Outcome `json:"outcome"`
	Context      string  `json:"context,omitempty"`
	TimesApplied int     `json:"times_applied"`
	SuccessRate  float64 `json:"success_rate"`
}

// IdentityAttrs carries the fields specific to identity records.
type IdentityAttrs struct {
	// Category is one of: value, relationship, commitment, becoming.
	Category      string `json:"category"`
	AffirmedIn    string `json:"affirmed_in,omitempty"`
	TimesAffirmed int    `json:"times_affirmed"`
}

// Record is a single memory. The base fields are shared by all kinds; exactly
// one of the kind payloads is non-nil, matching Kind. Records are immutable
// by convention: mutate only through System.Update, which bumps UpdatedAt.
type Record struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Kind       Kind       `json:"kind"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Confidence Confidence `json:"confidence"`

	// Salience is the importance weight in [0,1] used to bias ranking.
	Salience float64 `json:"salience"`

	// DecayRate is the fade factor in [0,1]; 0 means permanent.
	// Identity records are always 0.
	DecayRate float64 `json:"decay_rate"`

	// Tags is a set: duplicates collapse, order is irrelevant (kept sorted).
	Tags []string `json:"tags,omitempty"`

	// Source records provenance, if known.
	Source string `json:"source,omitempty"`

	Episodic   *EpisodicAttrs   `json:"episodic,omitempty"`
	Semantic   *SemanticAttrs   `json:"semantic,omitempty"`
	Procedural *ProceduralAttrs `json:"procedural,omitempty"`
	Identity   *IdentityAttrs   `json:"identity,omitempty"`
}

// NewEpisodic creates an episodic record with a fresh ID.
func NewEpisodic(content string, attrs EpisodicAttrs) *Record {
	r := newRecord(content, KindEpisodic)
	attrs.EmotionalValence = clamp(attrs.EmotionalValence, -1, 1)
	r.Episodic = &attrs
	return r
}

// NewSemantic creates a semantic record with a fresh ID. An empty category
// defaults to "learned".
func NewSemantic(content string, attrs SemanticAttrs) *Record {
	r := newRecord(content, KindSemantic)
	if attrs.Category == "" {
		attrs.Category = "learned"
	}
	r.Semantic = &attrs
	return r
}

// NewProcedural creates a procedural record with a fresh ID. An empty
// outcome defaults to neutral.
func NewProcedural(content string, attrs ProceduralAttrs) *Record {
	r := newRecord(content, KindProcedural)
	if attrs.Outcome == "" {
		attrs.Outcome = OutcomeNeutral
	}
	attrs.SuccessRate = clamp(attrs.SuccessRate, 0, 1)
	r.Procedural = &attrs
	return r
}

// NewIdentity creates an identity record with a fresh ID. Identity records
// never decay; DecayRate stays 0 no matter what callers later set.
func NewIdentity(content string, attrs IdentityAttrs) *Record {
	r := newRecord(content, KindIdentity)
	if attrs.Category == "" {
		attrs.Category = "value"
	}
	if attrs.TimesAffirmed < 1 {
		attrs.TimesAffirmed = 1
	}
	r.Identity = &attrs
	return r
}

func newRecord(content string, kind Kind) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:         uuid.New().String(),
		Content:    content,
		Kind:       kind,
		CreatedAt:  now,
		UpdatedAt:  now,
		Confidence: ConfidenceConfident,
		Salience:   0.5,
		DecayRate:  0,
	}
}

// Normalize clamps advisory fields into range, collapses tags into a sorted
// set, and re-pins the invariants that must hold for every record. It is
// called on construction, on update, and on import, so out-of-range input is
// corrected rather than rejected.
func (r *Record) Normalize() {
	r.Salience = clamp(r.Salience, 0, 1)
	r.DecayRate = clamp(r.DecayRate, 0, 1)
	if r.Confidence == "" {
		r.Confidence = ConfidenceConfident
	}
	r.Tags = normalizeTags(r.Tags)
	if r.Episodic != nil {
		r.Episodic.EmotionalValence = clamp(r.Episodic.EmotionalValence, -1, 1)
	}
	if r.Procedural != nil {
		r.Procedural.SuccessRate = clamp(r.Procedural.SuccessRate, 0, 1)
	}
	if r.Kind == KindIdentity {
		r.DecayRate = 0
	}
}

// EmotionalValence returns the record's valence, or 0 for kinds that carry
// none.
func (r *Record) EmotionalValence() float64 {
	if r.Episodic != nil {
		return r.Episodic.EmotionalValence
	}
	return 0
}

// Decayed reports whether the record has faded past usefulness at the given
// time: decay accumulates at DecayRate per year and the record is dropped
// from search once more than 80% decayed. A zero DecayRate never decays.
func (r *Record) Decayed(now time.Time) bool {
	if r.DecayRate <= 0 {
		return false
	}
	ageDays := now.Sub(r.CreatedAt).Hours() / 24
	return r.DecayRate*ageDays/365 > 0.8
}

// Clone returns a deep copy so callers can hand records out without sharing
// mutable kind payloads.
func (r *Record) Clone() *Record {
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	if r.Episodic != nil {
		e := *r.Episodic
		e.Entities = append([]string(nil), r.Episodic.Entities...)
		c.Episodic = &e
	}
	if r.Semantic != nil {
		s := *r.Semantic
		c.Semantic = &s
	}
	if r.Procedural != nil {
		p := *r.Procedural
		c.Procedural = &p
	}
	if r.Identity != nil {
		i := *r.Identity
		c.Identity = &i
	}
	return &c
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
