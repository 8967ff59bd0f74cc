package vector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/lib/pq"

	"github.com/mizuchi-search/mizuchi/pkg/postgres"
)

// Result is one nearest-neighbor hit.
type Result struct {
	DocID string
	Score float64
}

// Store keeps document embeddings in an in-memory HNSW graph for search and
// in PostgreSQL for durability. The indexer writes through to both; the
// searcher rebuilds its graph from PostgreSQL on startup and on a periodic
// refresh.
//
// Required table:
//
//	CREATE TABLE embeddings (
//	    doc_id     TEXT PRIMARY KEY,
//	    embedding  REAL[] NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Store struct {
	db         *postgres.Client
	dimensions int
	logger     *slog.Logger

	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	// Graph nodes are lazy-deleted: removing the mapping orphans the node
	// instead of mutating the graph. Orphans disappear at the next rebuild.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// NewStore creates a Store. db may be nil for a purely in-memory store
// (tests).
func NewStore(db *postgres.Client, dimensions int) *Store {
	return &Store{
		db:         db,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "vector-store"),
		graph:      newGraph(),
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	return g
}

// Upsert stores the embedding for docID, replacing any previous vector.
func (s *Store) Upsert(ctx context.Context, docID string, embedding []float32) error {
	if s.dimensions > 0 && len(embedding) != s.dimensions {
		return fmt.Errorf("embedding for %s has %d dimensions, want %d", docID, len(embedding), s.dimensions)
	}

	if s.db != nil {
		_, err := s.db.DB.ExecContext(ctx, `
			INSERT INTO embeddings (doc_id, embedding, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (doc_id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				updated_at = NOW()`,
			docID, pq.Array(embedding),
		)
		if err != nil {
			return fmt.Errorf("persisting embedding for %s: %w", docID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(docID, embedding)
	return nil
}

func (s *Store) upsertLocked(docID string, embedding []float32) {
	if oldKey, exists := s.idMap[docID]; exists {
		delete(s.keyMap, oldKey)
		delete(s.idMap, docID)
	}
	key := s.nextKey
	s.nextKey++

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	normalizeInPlace(vec)

	s.graph.Add(hnsw.MakeNode(key, vec))
	s.idMap[docID] = key
	s.keyMap[key] = docID
}

// Delete removes the embedding for docID from both stores.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if s.db != nil {
		if _, err := s.db.DB.ExecContext(ctx, `DELETE FROM embeddings WHERE doc_id = $1`, docID); err != nil {
			return fmt.Errorf("deleting embedding for %s: %w", docID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if key, exists := s.idMap[docID]; exists {
		delete(s.keyMap, key)
		delete(s.idMap, docID)
	}
	return nil
}

// Search returns up to k nearest neighbors by cosine similarity, best first.
func (s *Store) Search(_ context.Context, query []float32, k int) ([]Result, error) {
	if s.dimensions > 0 && len(query) != s.dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, want %d", len(query), s.dimensions)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph.Len() == 0 || k <= 0 {
		return []Result{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Overfetch to compensate for orphaned nodes in the candidate set.
	// Orphans are graph nodes with no live doc_id mapping.
	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(normalized, k+orphans)
	results := make([]Result, 0, k)
	for _, node := range nodes {
		docID, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, Result{
			DocID: docID,
			Score: 1 - float64(distance)/2,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Count returns the number of live embeddings.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Load rebuilds the in-memory graph from PostgreSQL, dropping any orphaned
// nodes accumulated by lazy deletion.
func (s *Store) Load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	start := time.Now()
	rows, err := s.db.DB.QueryContext(ctx, `SELECT doc_id, embedding FROM embeddings`)
	if err != nil {
		return fmt.Errorf("loading embeddings: %w", err)
	}
	defer rows.Close()

	graph := newGraph()
	idMap := make(map[string]uint64)
	keyMap := make(map[uint64]string)
	var nextKey uint64
	for rows.Next() {
		var docID string
		var embedding pq.Float32Array
		if err := rows.Scan(&docID, &embedding); err != nil {
			return fmt.Errorf("scanning embedding: %w", err)
		}
		if s.dimensions > 0 && len(embedding) != s.dimensions {
			s.logger.Warn("skipping embedding with wrong dimensions",
				"doc_id", docID, "got", len(embedding), "want", s.dimensions)
			continue
		}
		vec := make([]float32, len(embedding))
		copy(vec, embedding)
		normalizeInPlace(vec)

		key := nextKey
		nextKey++
		graph.Add(hnsw.MakeNode(key, vec))
		idMap[docID] = key
		keyMap[key] = docID
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading embeddings: %w", err)
	}

	s.mu.Lock()
	s.graph = graph
	s.idMap = idMap
	s.keyMap = keyMap
	s.nextKey = nextKey
	s.mu.Unlock()

	s.logger.Info("embedding graph loaded", "vectors", len(idMap), "duration", time.Since(start))
	return nil
}

// StartRefresh reloads the graph from PostgreSQL on the given interval until
// ctx is cancelled. Used by the searcher, which does not see the indexer's
// writes directly.
func (s *Store) StartRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Load(ctx); err != nil {
					s.logger.Error("embedding refresh failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
