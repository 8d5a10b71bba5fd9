package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// AssociativeOptions configures an associative search.
// Zero values fall back to the engine's tunables and defaults.
type AssociativeOptions struct {
	// Kinds restricts which record kinds are searched. Nil searches all.
	Kinds []Kind

	// Limit caps the primary result set. Default 10.
	Limit int

	// MinSalience excludes low-importance records from the search.
	MinSalience float64

	// LateralExpansion is how many neighbors each qualifying primary
	// result may pull in. 0 disables expansion, clustering, and pattern
	// extraction.
	LateralExpansion int

	// LateralThreshold gates which primary results seed expansion and
	// which neighbors are kept. 0 uses the tunable default.
	LateralThreshold float64

	// ClusterThreshold is the pairwise similarity for folding records into
	// a cluster. 0 uses the tunable default.
	ClusterThreshold float64

	// IncludeDecayed keeps records past their decay cutoff in results.
	IncludeDecayed bool
}

// Associated is a hit found through lateral expansion. DiscoveredFrom names
// the primary result whose vector surfaced it; it is provenance only, not a
// structural edge.
type Associated struct {
	Hit
	DiscoveredFrom string
}

// Cluster is a non-empty group of hits sharing high mutual similarity,
// treated as one topic for pattern extraction.
type Cluster []Hit

// AssociativeResult is the output of an associative search: the direct
// matches, the laterally discovered neighbors, a best-effort grouping of
// both, and short descriptive patterns read off the groups.
type AssociativeResult struct {
	Primary    []Hit
	Associated []Associated
	Clusters   []Cluster
	Patterns   []string
}

// Associative runs reasoned retrieval over an index: a direct similarity
// hop, lateral expansion seeded from the direct results' own vectors,
// greedy clustering of the combined pool, and pattern extraction.
type Associative struct {
	index    Index
	tunables Tunables
}

// NewAssociative creates an associative engine over the given index.
func NewAssociative(index Index, tunables Tunables) *Associative {
	return &Associative{index: index, tunables: tunables}
}

// Search runs the full associative pipeline for a query vector.
//
// Primary results are ranked by similarity*(0.5+0.5*salience): salience
// boosts rank but never dominates raw relevance. A kind whose index query
// fails is logged and skipped; the remaining kinds still contribute
// (partial results rather than a dead query).
func (a *Associative) Search(ctx context.Context, queryEmbedding []float32, opts AssociativeOptions) (*AssociativeResult, error) {
	opts = a.fill(opts)

	primary, err := a.primaryHop(ctx, queryEmbedding, opts)
	if err != nil {
		return nil, err
	}

	result := &AssociativeResult{Primary: primary}
	if len(primary) == 0 {
		return result, nil
	}
	if opts.LateralExpansion <= 0 {
		result.Clusters = []Cluster{Cluster(primary)}
		return result, nil
	}

	result.Associated = a.expand(ctx, primary, opts)

	pool := make([]Hit, 0, len(primary)+len(result.Associated))
	pool = append(pool, primary...)
	for _, assoc := range result.Associated {
		pool = append(pool, assoc.Hit)
	}

	result.Clusters = clusterHits(pool, opts.ClusterThreshold)
	for _, cluster := range result.Clusters {
		result.Patterns = append(result.Patterns, extractPatterns(cluster)...)
	}
	return result, nil
}

func (a *Associative) fill(opts AssociativeOptions) AssociativeOptions {
	if len(opts.Kinds) == 0 {
		opts.Kinds = Kinds
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.LateralThreshold == 0 {
		opts.LateralThreshold = a.tunables.LateralThreshold
	}
	if opts.ClusterThreshold == 0 {
		opts.ClusterThreshold = a.tunables.ClusterThreshold
	}
	return opts
}

// primaryHop runs the direct similarity search across the requested kinds.
func (a *Associative) primaryHop(ctx context.Context, queryEmbedding []float32, opts AssociativeOptions) ([]Hit, error) {
	var pool []Hit
	var lastErr error
	failed := 0
	now := time.Now().UTC()

	for _, kind := range opts.Kinds {
		hits, err := a.index.Query(ctx, kind, queryEmbedding, opts.Limit, opts.MinSalience)
		if err != nil {
			log.Printf("[MEMORY] Primary search failed for %s: %v", kind, err)
			lastErr = err
			failed++
			continue
		}
		for _, hit := range hits {
			if !opts.IncludeDecayed && hit.Record.Decayed(now) {
				continue
			}
			pool = append(pool, hit)
		}
	}

	if failed == len(opts.Kinds) && lastErr != nil {
		return nil, fmt.Errorf("primary search: %w", lastErr)
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return rankScore(pool[i]) > rankScore(pool[j])
	})
	if len(pool) > opts.Limit {
		pool = pool[:opts.Limit]
	}
	return pool, nil
}

// expand re-queries the index with each qualifying primary result's own
// vector, surfacing indirectly related records the query itself would never
// reach. Expansion failures degrade to fewer associations, never to a
// failed search.
func (a *Associative) expand(ctx context.Context, primary []Hit, opts AssociativeOptions) []Associated {
	seen := make(map[string]struct{}, len(primary))
	for _, hit := range primary {
		seen[hit.Record.ID] = struct{}{}
	}

	now := time.Now().UTC()
	var associated []Associated

	for _, seed := range primary {
		if seed.Similarity < opts.LateralThreshold || len(seed.Embedding) == 0 {
			continue
		}

		var neighbors []Hit
		for _, kind := range opts.Kinds {
			// Over-fetch so exclusions of already-seen records still
			// leave enough candidates.
			hits, err := a.index.Query(ctx, kind, seed.Embedding, opts.LateralExpansion+len(seen), opts.MinSalience)
			if err != nil {
				log.Printf("[MEMORY] Lateral expansion failed for %s: %v", kind, err)
				continue
			}
			neighbors = append(neighbors, hits...)
		}

		sort.SliceStable(neighbors, func(i, j int) bool {
			return neighbors[i].Similarity > neighbors[j].Similarity
		})

		kept := 0
		for _, neighbor := range neighbors {
			if kept >= opts.LateralExpansion {
				break
			}
			if neighbor.Similarity < opts.LateralThreshold {
				break
			}
			if _, dup := seen[neighbor.Record.ID]; dup {
				continue
			}
			if !opts.IncludeDecayed && neighbor.Record.Decayed(now) {
				continue
			}
			seen[neighbor.Record.ID] = struct{}{}
			associated = append(associated, Associated{
				Hit:            neighbor,
				DiscoveredFrom: seed.Record.ID,
			})
			kept++
		}
	}

	return associated
}

// rankScore biases similarity by salience without letting it dominate.
func rankScore(hit Hit) float64 {
	return hit.Similarity * (0.5 + 0.5*hit.Record.Salience)
}

// clusterHits groups the pool with a greedy single pass: highest-similarity
// unclustered hit seeds a cluster, then every remaining unclustered hit
// within threshold of the seed's vector folds in. O(n^2) in pool size and
// intentionally simple; a best-effort grouping for summarization, not a
// correctness-critical structure. Every hit lands in exactly one cluster.
func clusterHits(pool []Hit, threshold float64) []Cluster {
	if len(pool) == 0 {
		return nil
	}

	ordered := make([]Hit, len(pool))
	copy(ordered, pool)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Similarity > ordered[j].Similarity
	})

	clustered := make([]bool, len(ordered))
	var clusters []Cluster

	for i := range ordered {
		if clustered[i] {
			continue
		}
		seed := ordered[i]
		cluster := Cluster{seed}
		clustered[i] = true

		for j := i + 1; j < len(ordered); j++ {
			if clustered[j] {
				continue
			}
			if CosineSimilarity(seed.Embedding, ordered[j].Embedding) >= threshold {
				cluster = append(cluster, ordered[j])
				clustered[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}

	return clusters
}

// extractPatterns reads short descriptive notes off a cluster. Singleton
// clusters yield nothing.
func extractPatterns(cluster Cluster) []string {
	if len(cluster) < 2 {
		return nil
	}

	var patterns []string

	kindCounts := make(map[Kind]int)
	highSalience := 0
	var emotional []float64
	tagCounts := make(map[string]int)

	for _, hit := range cluster {
		kindCounts[hit.Record.Kind]++
		if hit.Record.Salience > 0.7 {
			highSalience++
		}
		if valence := hit.Record.EmotionalValence(); valence > 0.5 || valence < -0.5 {
			emotional = append(emotional, valence)
		}
		for _, tag := range hit.Record.Tags {
			tagCounts[tag]++
		}
	}

	for _, kind := range Kinds {
		count := kindCounts[kind]
		if float64(count)/float64(len(cluster)) >= 0.6 {
			patterns = append(patterns, fmt.Sprintf("dominant theme: %d of %d memories are %s", count, len(cluster), kind))
			break
		}
	}

	if highSalience >= 2 {
		patterns = append(patterns, fmt.Sprintf("contains %d high-salience memories", highSalience))
	}

	if len(emotional) >= 2 {
		var sum float64
		for _, v := range emotional {
			sum += v
		}
		tone := "positive"
		if sum/float64(len(emotional)) < 0 {
			tone = "negative"
		}
		patterns = append(patterns, fmt.Sprintf("recurring %s emotional tone across %d memories", tone, len(emotional)))
	}

	var recurring []string
	for tag, count := range tagCounts {
		if count >= 2 {
			recurring = append(recurring, tag)
		}
	}
	if len(recurring) > 0 {
		sort.Slice(recurring, func(i, j int) bool {
			if tagCounts[recurring[i]] != tagCounts[recurring[j]] {
				return tagCounts[recurring[i]] > tagCounts[recurring[j]]
			}
			return recurring[i] < recurring[j]
		})
		if len(recurring) > 3 {
			recurring = recurring[:3]
		}
		patterns = append(patterns, fmt.Sprintf("recurring tags: %s", strings.Join(recurring, ", ")))
	}

	return patterns
}
