// Package chromem implements the memory.Index collaborator on top of
// chromem-go, a pure Go embedded vector database. Each record kind gets its
// own collection so per-kind queries never scan unrelated vectors.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/mnemo/memory"
)

// catalogFilename is the sidecar file a persistent store keeps next to the
// chromem data. chromem reloads the vectors itself on reopen but has no way
// to enumerate a collection's documents, so the catalog must persist too or
// every record is orphaned after a restart.
const catalogFilename = "catalog.json"

// Store is a chromem-backed vector index.
//
// chromem holds the vectors and answers similarity queries; a catalog of
// records rides alongside it for the operations chromem has no surface for
// (get by ID, listing, per-kind embedding dumps). Both are kept in step
// under one lock, so a record is never visible in one and not the other.
// Persistent stores write the catalog to disk on every mutation and reload
// it on open.
type Store struct {
	db   *chromem.DB
	path string // empty for the in-memory variant

	mu          sync.RWMutex
	collections map[memory.Kind]*chromem.Collection
	records     map[string]*memory.Record
	embeddings  map[string][]float32
	order       []string // insertion order of record IDs, for listing
}

// New creates an in-memory chromem store.
func New() (*Store, error) {
	return newStore(chromem.NewDB(), "")
}

// NewPersistent creates a chromem store backed by the given directory,
// reloading any previously stored records.
func NewPersistent(path string) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent db: %w", err)
	}
	return newStore(db, path)
}

func newStore(db *chromem.DB, path string) (*Store, error) {
	s := &Store{
		db:          db,
		path:        path,
		collections: make(map[memory.Kind]*chromem.Collection, len(memory.Kinds)),
		records:     make(map[string]*memory.Record),
		embeddings:  make(map[string][]float32),
	}
	for _, kind := range memory.Kinds {
		// We always provide embeddings, so no embedding func; default
		// cosine similarity.
		col, err := db.GetOrCreateCollection(collectionName(kind), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("create collection for %s: %w", kind, err)
		}
		s.collections[kind] = col
	}
	if path != "" {
		if err := s.loadCatalog(); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}
	return s, nil
}

func collectionName(kind memory.Kind) string {
	return fmt.Sprintf("mnemo_%s", kind)
}

// Upsert stores or replaces a record with its embedding.
func (s *Store) Upsert(ctx context.Context, rec *memory.Record, embedding []float32) error {
	if !rec.Kind.Valid() {
		return fmt.Errorf("unknown memory kind: %q", rec.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.collections[rec.Kind]

	if _, exists := s.records[rec.ID]; exists {
		if err := col.Delete(ctx, nil, nil, rec.ID); err != nil {
			return fmt.Errorf("replace document: %w", err)
		}
	} else {
		s.order = append(s.order, rec.ID)
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: embedding,
		Metadata:  recordMetadata(rec),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.records[rec.ID] = rec.Clone()
	s.embeddings[rec.ID] = cloneVector(embedding)
	if err := s.saveCatalog(); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	log.Printf("[CHROMEM] Upserted %s memory %s", rec.Kind, rec.ID)
	return nil
}

// Query returns up to limit records of the given kind ranked by cosine
// similarity, highest first. chromem reports similarity directly, so no
// distance conversion happens here.
func (s *Store) Query(ctx context.Context, kind memory.Kind, embedding []float32, limit int, minSalience float64) ([]memory.Hit, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown memory kind: %q", kind)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.collections[kind]

	// chromem rejects nResults larger than the collection.
	n := limit
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s collection: %w", kind, err)
	}

	hits := make([]memory.Hit, 0, len(results))
	for _, result := range results {
		rec, ok := s.records[result.ID]
		if !ok {
			log.Printf("[CHROMEM] Skipping result %s: not in catalog", result.ID)
			continue
		}
		if rec.Salience < minSalience {
			continue
		}
		hits = append(hits, memory.Hit{
			Record:     rec.Clone(),
			Similarity: float64(result.Similarity),
			Embedding:  cloneVector(s.embeddings[result.ID]),
		})
	}
	return hits, nil
}

// Get returns the record with the given ID, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Delete removes a record permanently. Deleting an absent ID is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil
	}

	if err := s.collections[rec.Kind].Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	delete(s.records, id)
	delete(s.embeddings, id)
	for i, ordered := range s.order {
		if ordered == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if err := s.saveCatalog(); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	log.Printf("[CHROMEM] Deleted memory %s", id)
	return nil
}

// Count returns the number of records of the given kind, or of all kinds
// when kind is empty.
func (s *Store) Count(ctx context.Context, kind memory.Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if kind == "" {
		return len(s.records), nil
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown memory kind: %q", kind)
	}
	return s.collections[kind].Count(), nil
}

// ListAll returns up to limit records of the given kind, newest first. A
// non-positive limit means no limit.
func (s *Store) ListAll(ctx context.Context, kind memory.Kind, limit int) ([]*memory.Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown memory kind: %q", kind)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Kind != kind {
			continue
		}
		out = append(out, rec.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Embeddings returns up to limit stored vectors for the given kind.
func (s *Store) Embeddings(ctx context.Context, kind memory.Kind, limit int) ([][]float32, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown memory kind: %q", kind)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [][]float32
	for _, id := range s.order {
		if s.records[id].Kind != kind {
			continue
		}
		out = append(out, cloneVector(s.embeddings[id]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close releases resources. The in-memory variant holds nothing beyond what
// the GC reclaims.
func (s *Store) Close() error {
	return nil
}

// catalog is the on-disk form of the side catalog.
type catalog struct {
	Order      []string                  `json:"order"`
	Records    map[string]*memory.Record `json:"records"`
	Embeddings map[string][]float32      `json:"embeddings"`
}

func (s *Store) catalogPath() string {
	return filepath.Join(s.path, catalogFilename)
}

// loadCatalog repopulates the side catalog from disk. A missing file is a
// fresh store, not an error. Called once from newStore, before the store is
// shared, so no lock.
func (s *Store) loadCatalog() error {
	blob, err := os.ReadFile(s.catalogPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var cat catalog
	if err := json.Unmarshal(blob, &cat); err != nil {
		return fmt.Errorf("decode %s: %w", catalogFilename, err)
	}

	for _, id := range cat.Order {
		rec, ok := cat.Records[id]
		if !ok || !rec.Kind.Valid() {
			log.Printf("[CHROMEM] Skipping catalog entry %s: record missing or invalid", id)
			continue
		}
		s.records[id] = rec
		s.embeddings[id] = cat.Embeddings[id]
		s.order = append(s.order, id)
	}
	log.Printf("[CHROMEM] Loaded %d memories from catalog", len(s.order))
	return nil
}

// saveCatalog writes the side catalog next to the chromem data, via a temp
// file and rename so a crash mid-write leaves the previous catalog intact.
// No-op for the in-memory variant. Caller holds the write lock.
func (s *Store) saveCatalog() error {
	if s.path == "" {
		return nil
	}

	blob, err := json.Marshal(catalog{
		Order:      s.order,
		Records:    s.records,
		Embeddings: s.embeddings,
	})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	tmp := s.catalogPath() + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.catalogPath())
}

func cloneVector(vec []float32) []float32 {
	if vec == nil {
		return nil
	}
	return append([]float32(nil), vec...)
}

// recordMetadata flattens the queryable fields into chromem metadata. The
// full record rides along as JSON for external tooling; the store itself
// recovers records from the catalog file, since chromem offers no way to
// enumerate a collection's documents.
func recordMetadata(rec *memory.Record) map[string]string {
	meta := map[string]string{
		"kind":       string(rec.Kind),
		"created_at": rec.CreatedAt.Format(time.RFC3339),
		"salience":   fmt.Sprintf("%.4f", rec.Salience),
	}
	if blob, err := json.Marshal(rec); err == nil {
		meta["record"] = string(blob)
	}
	return meta
}

var _ memory.Index = (*Store)(nil)
