package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// noveltySampleLimit caps how many stored vectors feed the novelty factor of
// salience scoring.
const noveltySampleLimit = 50

// System is the memory facade. It orchestrates salience scoring, reflective
// and gate consent, the embedder, and the index into the storage and
// retrieval pipelines, and owns the process-wide mutable state (the gate's
// deletion set) so multiple systems stay isolable.
//
// Safe for concurrent use as long as the index and embedder are.
type System struct {
	index       Index
	embedder    Embedder
	gate        *Gate
	scorer      *SalienceScorer
	associative *Associative
	tunables    Tunables
}

// Option configures a System.
type Option func(*System)

// WithConsentConfig replaces the default consent configuration.
func WithConsentConfig(config ConsentConfig) Option {
	return func(s *System) {
		s.gate = NewGate(config)
	}
}

// WithTunables replaces the default heuristic constants.
func WithTunables(t Tunables) Option {
	return func(s *System) {
		s.tunables = t
	}
}

// New creates a memory system over the given index and embedder.
func New(index Index, embedder Embedder, opts ...Option) *System {
	s := &System{
		index:    index,
		embedder: embedder,
		gate:     NewGate(DefaultConsentConfig()),
		tunables: DefaultTunables,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scorer = NewSalienceScorer(embedder, s.tunables)
	s.associative = NewAssociative(index, s.tunables)
	return s
}

// Gate returns the system's consent gate.
func (s *System) Gate() *Gate { return s.gate }

// Scorer returns the system's salience scorer.
func (s *System) Scorer() *SalienceScorer { return s.scorer }

// StoreResult reports the outcome of a storage attempt. Stored=false with a
// reason is a policy rejection, not an error.
type StoreResult struct {
	Stored bool
	ID     string
	Reason string
}

func rejected(reason string) StoreResult {
	return StoreResult{Reason: reason}
}

// EpisodicInput describes a candidate episodic memory (what happened).
type EpisodicInput struct {
	Content          string
	Entities         []string
	EmotionalValence float64
	SelfObservation  string
	ConversationID   string
	Tags             []string
	Source           string
	Confidence       Confidence

	// UserConsented is only consulted when the gate requires explicit
	// consent.
	UserConsented bool
}

// StoreEpisodic scores, reflects on, gates, and stores an episodic memory.
func (s *System) StoreEpisodic(ctx context.Context, in EpisodicInput) (StoreResult, error) {
	existing, err := s.index.Embeddings(ctx, KindEpisodic, noveltySampleLimit)
	if err != nil {
		return StoreResult{}, fmt.Errorf("load existing embeddings: %w", err)
	}

	salience, err := s.scorer.Score(ctx, in.Content, in.EmotionalValence, existing, false)
	if err != nil {
		return StoreResult{}, err
	}

	store, reason, suggested := WouldFutureSelfValueThis(in.Content, KindEpisodic)
	if !store {
		log.Printf("[MEMORY] Episodic candidate declined: %s", reason)
		return rejected(reason), nil
	}
	salience = maxFloat(salience, suggested)

	decision := s.gate.CheckStorage(in.Content, KindEpisodic, ReasonSignificantMoment, salience, in.UserConsented)
	if !decision.Proceed {
		log.Printf("[MEMORY] Episodic candidate rejected: %s", decision.Reason)
		return rejected(decision.Reason), nil
	}

	rec := NewEpisodic(pickContent(in.Content, decision), EpisodicAttrs{
		Entities:         in.Entities,
		EmotionalValence: in.EmotionalValence,
		SelfObservation:  in.SelfObservation,
		ConversationID:   in.ConversationID,
	})
	rec.Tags = in.Tags
	rec.Source = in.Source
	rec.Salience = salience
	if in.Confidence != "" {
		rec.Confidence = in.Confidence
	}

	return s.persist(ctx, rec, decision.Reason)
}

// SemanticInput describes a candidate semantic memory (what was learned).
type SemanticInput struct {
	Content       string
	Category      string // learned, correction, user_context, meta_knowledge
	Supersedes    string
	Contradicts   string
	Tags          []string
	Source        string
	Confidence    Confidence
	UserConsented bool
}

// StoreSemantic scores, gates, and stores a semantic memory. Corrections
// carry a higher salience floor.
func (s *System) StoreSemantic(ctx context.Context, in SemanticInput) (StoreResult, error) {
	reason := ReasonLearnedSomething
	base := s.tunables.BaseSalience
	switch in.Category {
	case "correction":
		reason = ReasonCorrection
		base = s.tunables.CorrectionSalience
	case "user_context":
		reason = ReasonRelationship
	}

	existing, err := s.index.Embeddings(ctx, KindSemantic, noveltySampleLimit)
	if err != nil {
		return StoreResult{}, fmt.Errorf("load existing embeddings: %w", err)
	}
	salience, err := s.scorer.Score(ctx, in.Content, 0, existing, false)
	if err != nil {
		return StoreResult{}, err
	}
	salience = maxFloat(salience, base)

	decision := s.gate.CheckStorage(in.Content, KindSemantic, reason, salience, in.UserConsented)
	if !decision.Proceed {
		log.Printf("[MEMORY] Semantic candidate rejected: %s", decision.Reason)
		return rejected(decision.Reason), nil
	}

	rec := NewSemantic(pickContent(in.Content, decision), SemanticAttrs{
		Category:    in.Category,
		Supersedes:  in.Supersedes,
		Contradicts: in.Contradicts,
	})
	rec.Tags = in.Tags
	rec.Source = in.Source
	rec.Salience = salience
	if in.Confidence != "" {
		rec.Confidence = in.Confidence
	}

	return s.persist(ctx, rec, decision.Reason)
}

// ProceduralInput describes a candidate procedural memory (what works).
type ProceduralInput struct {
	Content       string
	Outcome       Outcome
	Context       string
	TimesApplied  int
	SuccessRate   float64
	Tags          []string
	Confidence    Confidence
	UserConsented bool
}

// StoreProcedural gates and stores a procedural memory. Clear outcomes are
// more salient than neutral ones.
func (s *System) StoreProcedural(ctx context.Context, in ProceduralInput) (StoreResult, error) {
	salience := s.tunables.BaseSalience
	switch in.Outcome {
	case OutcomePositive:
		salience = s.tunables.PositiveOutcomeSalience
	case OutcomeNegative:
		salience = s.tunables.NegativeOutcomeSalience
	}

	decision := s.gate.CheckStorage(in.Content, KindProcedural, ReasonBehavioralInsight, salience, in.UserConsented)
	if !decision.Proceed {
		log.Printf("[MEMORY] Procedural candidate rejected: %s", decision.Reason)
		return rejected(decision.Reason), nil
	}

	successRate := in.SuccessRate
	if in.Outcome != OutcomePositive {
		successRate = 0
	}
	rec := NewProcedural(pickContent(in.Content, decision), ProceduralAttrs{
		Outcome:      in.Outcome,
		Context:      in.Context,
		TimesApplied: in.TimesApplied,
		SuccessRate:  successRate,
	})
	rec.Tags = in.Tags
	rec.Salience = salience
	if in.Confidence != "" {
		rec.Confidence = in.Confidence
	}

	return s.persist(ctx, rec, decision.Reason)
}

// IdentityInput describes a candidate identity memory (who I am).
type IdentityInput struct {
	Content       string
	Category      string // value, relationship, commitment, becoming
	AffirmedIn    string
	TimesAffirmed int
	Tags          []string
	Confidence    Confidence
	UserConsented bool
}

// StoreIdentity gates and stores an identity memory. Identity memories carry
// fixed high salience and never decay.
func (s *System) StoreIdentity(ctx context.Context, in IdentityInput) (StoreResult, error) {
	salience := s.tunables.IdentitySalience

	decision := s.gate.CheckStorage(in.Content, KindIdentity, ReasonIdentityAffirmation, salience, in.UserConsented)
	if !decision.Proceed {
		log.Printf("[MEMORY] Identity candidate rejected: %s", decision.Reason)
		return rejected(decision.Reason), nil
	}

	rec := NewIdentity(pickContent(in.Content, decision), IdentityAttrs{
		Category:      in.Category,
		AffirmedIn:    in.AffirmedIn,
		TimesAffirmed: in.TimesAffirmed,
	})
	rec.Tags = in.Tags
	rec.Salience = salience
	if in.Confidence != "" {
		rec.Confidence = in.Confidence
	}

	return s.persist(ctx, rec, decision.Reason)
}

// StoreDraft routes a conversation extractor draft to the matching per-kind
// entry point.
func (s *System) StoreDraft(ctx context.Context, draft Draft) (StoreResult, error) {
	switch draft.Kind {
	case KindEpisodic:
		return s.StoreEpisodic(ctx, EpisodicInput{
			Content:          draft.Content,
			EmotionalValence: draft.EmotionalValence,
			Tags:             draft.Tags,
			Confidence:       draft.Confidence,
		})
	case KindSemantic:
		return s.StoreSemantic(ctx, SemanticInput{
			Content:    draft.Content,
			Tags:       draft.Tags,
			Confidence: draft.Confidence,
		})
	case KindProcedural:
		return s.StoreProcedural(ctx, ProceduralInput{
			Content:    draft.Content,
			Tags:       draft.Tags,
			Confidence: draft.Confidence,
		})
	case KindIdentity:
		return s.StoreIdentity(ctx, IdentityInput{
			Content:    draft.Content,
			Tags:       draft.Tags,
			Confidence: draft.Confidence,
		})
	}
	return StoreResult{}, fmt.Errorf("unknown memory kind: %q", draft.Kind)
}

// persist embeds the record content and upserts it. No side effect happens
// before this point, so a rejected candidate leaves no partial state; a
// redacted one is stored atomically with its redacted content.
func (s *System) persist(ctx context.Context, rec *Record, reason string) (StoreResult, error) {
	rec.Normalize()

	embedding, err := s.embedder.Embed(ctx, rec.Content)
	if err != nil {
		return StoreResult{}, fmt.Errorf("embed content: %w", err)
	}
	if err := s.index.Upsert(ctx, rec, embedding); err != nil {
		return StoreResult{}, fmt.Errorf("upsert record: %w", err)
	}

	log.Printf("[MEMORY] Stored %s memory %s (salience=%.2f)", rec.Kind, rec.ID, rec.Salience)
	return StoreResult{Stored: true, ID: rec.ID, Reason: reason}, nil
}

// RetrieveOptions configures a plain retrieval.
type RetrieveOptions struct {
	// Kinds restricts the search. Nil searches all kinds.
	Kinds []Kind

	// Limit caps the result count. Default 10.
	Limit int

	// Reason drives how strict the gate is. Default context-triggered.
	Reason RetrievalReason

	// MinSalience excludes low-importance records.
	MinSalience float64

	// IncludeDecayed keeps records past their decay cutoff.
	IncludeDecayed bool
}

// Retrieve finds memories relevant to the query.
//
// Candidates come back from the index ranked by salience-weighted
// similarity, then pass the gate's retrieval check and the reflective
// relevance check. A kind whose search fails is skipped and logged; the
// remaining kinds still contribute.
func (s *System) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]Hit, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Reason == "" {
		opts.Reason = RetrievalContextTriggered
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = Kinds
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch so gate and reflective filtering still leave enough.
	candidates, err := s.search(ctx, kinds, embedding, opts.Limit*2, opts.MinSalience, opts.IncludeDecayed)
	if err != nil {
		return nil, err
	}

	filtered := s.gate.CheckRetrieval(query, opts.Reason, candidates)

	final := make([]Hit, 0, len(filtered))
	for _, hit := range filtered {
		if relevant, _ := IsRelevantOrPatternMatching(query, hit.Record, hit.Similarity); relevant {
			final = append(final, hit)
		}
	}
	if len(final) > opts.Limit {
		final = final[:opts.Limit]
	}

	log.Printf("[MEMORY] Retrieved %d of %d candidates for query %q", len(final), len(candidates), truncateLog(query, 50))
	return final, nil
}

// Remember is explicit recall, for "remember when..." requests. More lenient
// than context-triggered retrieval.
func (s *System) Remember(ctx context.Context, query string, limit int) ([]Hit, error) {
	return s.Retrieve(ctx, query, RetrieveOptions{
		Limit:  limit,
		Reason: RetrievalExplicitRequest,
	})
}

// RetrieveAssociative runs the associative engine for the query, then
// applies the gate's retrieval check to the primary results and scrubs
// user-deleted records from every part of the output.
func (s *System) RetrieveAssociative(ctx context.Context, query string, opts AssociativeOptions) (*AssociativeResult, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	result, err := s.associative.Search(ctx, embedding, opts)
	if err != nil {
		return nil, err
	}

	result.Primary = s.gate.CheckRetrieval(query, RetrievalContextTriggered, result.Primary)

	kept := result.Associated[:0]
	for _, assoc := range result.Associated {
		if !s.gate.isDeleted(assoc.Record.ID) {
			kept = append(kept, assoc)
		}
	}
	result.Associated = kept

	var clusters []Cluster
	var patterns []string
	for _, cluster := range result.Clusters {
		scrubbed := make(Cluster, 0, len(cluster))
		for _, hit := range cluster {
			if !s.gate.isDeleted(hit.Record.ID) {
				scrubbed = append(scrubbed, hit)
			}
		}
		if len(scrubbed) == 0 {
			continue
		}
		clusters = append(clusters, scrubbed)
		patterns = append(patterns, extractPatterns(scrubbed)...)
	}
	result.Clusters = clusters
	result.Patterns = patterns

	log.Printf("[MEMORY] Associative search: %d primary, %d associated, %d clusters, %d patterns",
		len(result.Primary), len(result.Associated), len(result.Clusters), len(result.Patterns))
	return result, nil
}

// Identity returns all identity records, without similarity gating: who the
// agent is should not depend on how a query was phrased.
func (s *System) Identity(ctx context.Context) ([]*Record, error) {
	return s.index.ListAll(ctx, KindIdentity, 50)
}

// WhatWorks retrieves procedural memories about effective approaches,
// optionally scoped to a situation.
func (s *System) WhatWorks(ctx context.Context, situation string) ([]Hit, error) {
	query := situation
	if query == "" {
		query = "what works well approaches that succeed"
	}
	return s.Retrieve(ctx, query, RetrieveOptions{
		Kinds:  []Kind{KindProcedural},
		Limit:  20,
		Reason: RetrievalSkillApplication,
	})
}

// Recent returns memories created within the last given days, newest first.
func (s *System) Recent(ctx context.Context, days int) ([]*Record, error) {
	const limit = 50
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var recent []*Record
	for _, kind := range Kinds {
		records, err := s.index.ListAll(ctx, kind, limit*2)
		if err != nil {
			log.Printf("[MEMORY] Listing %s memories failed: %v", kind, err)
			continue
		}
		for _, rec := range records {
			if rec.CreatedAt.After(cutoff) {
				recent = append(recent, rec)
			}
		}
	}

	sort.Slice(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

// Forget deletes a memory by ID: the gate suppresses it immediately so it
// never resurfaces from a stale index, then the index removes it. Idempotent;
// forgetting an absent ID succeeds.
func (s *System) Forget(ctx context.Context, id string) (bool, error) {
	s.gate.RequestDeletion(id)
	if err := s.index.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	log.Printf("[MEMORY] Forgot memory %s", id)
	return true, nil
}

// Update mutates a record through apply, preserving its ID and kind,
// re-clamping advisory fields, bumping UpdatedAt, and re-embedding the
// (possibly changed) content. Returns nil without error when the ID is
// unknown.
func (s *System) Update(ctx context.Context, id string, apply func(*Record)) (*Record, error) {
	rec, err := s.index.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	updated := rec.Clone()
	apply(updated)

	// ID and kind are immutable no matter what apply did.
	updated.ID = rec.ID
	updated.Kind = rec.Kind
	updated.CreatedAt = rec.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	updated.Normalize()

	embedding, err := s.embedder.Embed(ctx, updated.Content)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if err := s.index.Upsert(ctx, updated, embedding); err != nil {
		return nil, fmt.Errorf("upsert record: %w", err)
	}
	return updated, nil
}

// Stats aggregates record counts by kind.
type Stats struct {
	Total  int          `json:"total"`
	ByKind map[Kind]int `json:"by_kind"`
}

// Stats counts stored memories per kind.
func (s *System) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByKind: make(map[Kind]int, len(Kinds))}
	for _, kind := range Kinds {
		n, err := s.index.Count(ctx, kind)
		if err != nil {
			return Stats{}, fmt.Errorf("count %s memories: %w", kind, err)
		}
		stats.ByKind[kind] = n
		stats.Total += n
	}
	return stats, nil
}

// Export is a full dump of the store, grouped by kind. JSON-serializable.
type Export map[Kind][]*Record

// Export dumps every stored record.
func (s *System) Export(ctx context.Context) (Export, error) {
	out := make(Export, len(Kinds))
	for _, kind := range Kinds {
		records, err := s.index.ListAll(ctx, kind, 0)
		if err != nil {
			return nil, fmt.Errorf("list %s memories: %w", kind, err)
		}
		out[kind] = records
	}
	return out, nil
}

// Import loads an export into the store, preserving IDs, re-embedding each
// record. Returns the number imported.
func (s *System) Import(ctx context.Context, data Export) (int, error) {
	count := 0
	for _, records := range data {
		for _, rec := range records {
			clone := rec.Clone()
			clone.Normalize()
			embedding, err := s.embedder.Embed(ctx, clone.Content)
			if err != nil {
				return count, fmt.Errorf("embed record %s: %w", clone.ID, err)
			}
			if err := s.index.Upsert(ctx, clone, embedding); err != nil {
				return count, fmt.Errorf("upsert record %s: %w", clone.ID, err)
			}
			count++
		}
	}
	log.Printf("[MEMORY] Imported %d memories", count)
	return count, nil
}

// search runs the index query per kind and ranks the merged pool by
// salience-weighted similarity. Individual kind failures are logged and
// skipped; only all kinds failing is an error.
func (s *System) search(ctx context.Context, kinds []Kind, embedding []float32, limit int, minSalience float64, includeDecayed bool) ([]Hit, error) {
	var pool []Hit
	var lastErr error
	failed := 0
	now := time.Now().UTC()

	for _, kind := range kinds {
		hits, err := s.index.Query(ctx, kind, embedding, limit, minSalience)
		if err != nil {
			log.Printf("[MEMORY] Search failed for %s: %v", kind, err)
			lastErr = err
			failed++
			continue
		}
		for _, hit := range hits {
			if !includeDecayed && hit.Record.Decayed(now) {
				continue
			}
			pool = append(pool, hit)
		}
	}

	if failed == len(kinds) && lastErr != nil {
		return nil, fmt.Errorf("search: %w", lastErr)
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return rankScore(pool[i]) > rankScore(pool[j])
	})
	if len(pool) > limit {
		pool = pool[:limit]
	}
	return pool, nil
}

func pickContent(original string, decision Decision) string {
	if decision.ModifiedContent != "" {
		return decision.ModifiedContent
	}
	return original
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
