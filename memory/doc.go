// Package memory implements the decision layer of a continuity-seeking
// agent's memory: whether a candidate observation is worth keeping, and how
// a query expands into a reasoned result set instead of a flat top-k list.
//
// Records come in four kinds, each serving a different role in continuity:
//   - Episodic: what happened (conversations, encounters, moments)
//   - Semantic: what was learned (knowledge, corrections, context)
//   - Procedural: what works (approaches, skills, patterns)
//   - Identity: who I am (values, relationships, commitments)
//
// Architecture:
//   - Index: vector storage backend (chromem-go for local, pgvector-style
//     stores for production)
//   - Embedder: text-to-vector conversion (ONNX MiniLM locally, API-based
//     embedders for production; a ristretto-cached decorator is available)
//   - SalienceScorer: importance scoring from emotion, novelty, and identity
//   - Gate: consent checks on both the storage and the retrieval path
//   - associative search: lateral expansion, clustering, pattern extraction
//   - System: the facade that orchestrates all of the above
//
// Storage flow: candidate -> salience -> reflective check -> consent gate ->
// embed -> upsert. Retrieval flow: embed query -> index search -> consent
// gate -> reflective relevance check -> ranked (or clustered) output.
//
// Policy rejections are ordinary result values carrying a reason string,
// never errors; only collaborator (embedder/index) failures surface as
// errors.
package memory
