package memory

import (
	"context"
	"math"
)

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local), cached (ristretto decorator
// around either). Embedding is the only blocking work in the storage path;
// everything above it is pure computation.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Index is the vector storage backend. Implementations must be safe for
// concurrent use; the chromem implementation is the local default.
//
// Indexes report cosine-like similarity in [-1,1] directly. An index whose
// native metric is a distance must convert before returning hits (see
// SimilarityFromDistance).
type Index interface {
	// Upsert stores or replaces a record together with its embedding.
	Upsert(ctx context.Context, rec *Record, embedding []float32) error

	// Query returns up to limit records of the given kind ranked by
	// similarity to the query vector, highest first. Records below
	// minSalience are excluded.
	Query(ctx context.Context, kind Kind, embedding []float32, limit int, minSalience float64) ([]Hit, error)

	// Get returns the record with the given ID, or nil if absent.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes a record permanently. Deleting an absent ID is not an
	// error.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored records of the given kind, or of
	// all kinds when kind is empty.
	Count(ctx context.Context, kind Kind) (int, error)

	// ListAll returns up to limit records of the given kind, newest first.
	// A non-positive limit means no limit.
	ListAll(ctx context.Context, kind Kind, limit int) ([]*Record, error)

	// Embeddings returns up to limit stored vectors for the given kind,
	// used by the salience scorer's novelty factor.
	Embeddings(ctx context.Context, kind Kind, limit int) ([][]float32, error)

	// Close releases backend resources.
	Close() error
}

// Hit pairs a record with its similarity to a query, conceptually cosine
// similarity in [-1,1]. The record's own vector rides along because lateral
// expansion and clustering re-query with it. Hits are per-query values,
// never persisted.
type Hit struct {
	Record     *Record
	Similarity float64
	Embedding  []float32
}

// Draft is the shape a conversation extractor produces: a candidate memory
// distilled from an exchange, not yet scored or consented. The extractor
// itself lives outside this module; System.StoreDraft consumes its output.
type Draft struct {
	Kind             Kind       `json:"kind"`
	Content          string     `json:"content"`
	Tags             []string   `json:"tags,omitempty"`
	EmotionalValence float64    `json:"emotional_valence,omitempty"`
	Confidence       Confidence `json:"confidence,omitempty"`
}

// SimilarityFromDistance converts an L2-normalized cosine-like distance to a
// similarity score via 1 - d/2. Indexes with a different native metric must
// use their own conversion: the wrong formula silently skews every threshold
// comparison downstream.
func SimilarityFromDistance(distance float64) float64 {
	return 1 - distance/2
}

// CosineSimilarity computes cosine similarity between two vectors. Returns 0
// for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
