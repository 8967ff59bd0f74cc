package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/lib/pq"

	"github.com/mizuchi-search/mizuchi/pkg/postgres"
)

// Store is the link graph and rank snapshot contract.
type Store interface {
	// ReplaceOutlinks swaps the full outlink set of a source document.
	ReplaceOutlinks(ctx context.Context, srcDocID string, dstDocIDs []string) error

	// Adjacency returns the document graph restricted to resolved
	// targets: every indexed document appears as a node, and only edges
	// whose target is itself an indexed document are included.
	Adjacency(ctx context.Context) (map[string][]string, error)

	// DomainAdjacency returns the cross-domain graph derived from
	// document links; same-domain edges are excluded.
	DomainAdjacency(ctx context.Context) (map[string][]string, error)

	// SaveRanks atomically replaces the document rank snapshot.
	SaveRanks(ctx context.Context, ranks map[string]float64) error

	// SaveDomainRanks atomically replaces the domain rank snapshot.
	SaveDomainRanks(ctx context.Context, ranks map[string]float64) error

	// RanksFor returns stored ranks for the given documents. Documents
	// without a snapshot entry get the configured default rank.
	RanksFor(ctx context.Context, docIDs []string) (map[string]float64, error)

	// DomainRanks returns the top domains by rank, descending, ties by
	// ascending domain.
	DomainRanks(ctx context.Context, limit int) ([]DomainRank, error)
}

// DomainRank is one entry of the domain rank snapshot.
type DomainRank struct {
	Domain string  `json:"domain"`
	Rank   float64 `json:"rank"`
}

// PostgresStore keeps the link graph and rank snapshots in PostgreSQL.
//
// Required tables:
//
//	CREATE TABLE links (
//	    src_doc_id TEXT NOT NULL,
//	    dst_doc_id TEXT NOT NULL,
//	    PRIMARY KEY (src_doc_id, dst_doc_id)
//	);
//	CREATE INDEX links_dst_idx ON links (dst_doc_id);
//
//	CREATE TABLE page_ranks (
//	    doc_id TEXT PRIMARY KEY,
//	    rank   DOUBLE PRECISION NOT NULL
//	);
//
//	CREATE TABLE domain_ranks (
//	    domain TEXT PRIMARY KEY,
//	    rank   DOUBLE PRECISION NOT NULL
//	);
type PostgresStore struct {
	db          *postgres.Client
	defaultRank float64
}

// NewPostgresStore creates a PostgresStore. defaultRank is returned for
// documents not yet covered by a rank snapshot.
func NewPostgresStore(db *postgres.Client, defaultRank float64) *PostgresStore {
	return &PostgresStore{db: db, defaultRank: defaultRank}
}

func (s *PostgresStore) ReplaceOutlinks(ctx context.Context, srcDocID string, dstDocIDs []string) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE src_doc_id = $1`, srcDocID); err != nil {
			return fmt.Errorf("clearing outlinks of %s: %w", srcDocID, err)
		}
		if len(dstDocIDs) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO links (src_doc_id, dst_doc_id)
			SELECT $1, dst FROM unnest($2::text[]) AS dst
			ON CONFLICT DO NOTHING`,
			srcDocID, pq.Array(dstDocIDs),
		)
		if err != nil {
			return fmt.Errorf("inserting outlinks of %s: %w", srcDocID, err)
		}
		return nil
	})
}

func (s *PostgresStore) Adjacency(ctx context.Context) (map[string][]string, error) {
	adjacency := make(map[string][]string)

	docRows, err := s.db.DB.QueryContext(ctx, `SELECT doc_id FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("querying graph nodes: %w", err)
	}
	defer docRows.Close()
	for docRows.Next() {
		var docID string
		if err := docRows.Scan(&docID); err != nil {
			return nil, fmt.Errorf("scanning graph node: %w", err)
		}
		adjacency[docID] = nil
	}
	if err := docRows.Err(); err != nil {
		return nil, fmt.Errorf("reading graph nodes: %w", err)
	}

	linkRows, err := s.db.DB.QueryContext(ctx, `
		SELECT l.src_doc_id, l.dst_doc_id
		FROM links l
		JOIN documents d ON d.doc_id = l.dst_doc_id`)
	if err != nil {
		return nil, fmt.Errorf("querying graph edges: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var src, dst string
		if err := linkRows.Scan(&src, &dst); err != nil {
			return nil, fmt.Errorf("scanning graph edge: %w", err)
		}
		if _, known := adjacency[src]; !known {
			continue
		}
		adjacency[src] = append(adjacency[src], dst)
	}
	return adjacency, linkRows.Err()
}

func (s *PostgresStore) DomainAdjacency(ctx context.Context) (map[string][]string, error) {
	adjacency := make(map[string][]string)

	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT DISTINCT sd.domain, dd.domain
		FROM links l
		JOIN documents sd ON sd.doc_id = l.src_doc_id
		JOIN documents dd ON dd.doc_id = l.dst_doc_id
		WHERE sd.domain <> dd.domain AND sd.domain <> '' AND dd.domain <> ''`)
	if err != nil {
		return nil, fmt.Errorf("querying domain edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src, dst string
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, fmt.Errorf("scanning domain edge: %w", err)
		}
		adjacency[src] = append(adjacency[src], dst)
	}
	return adjacency, rows.Err()
}

func (s *PostgresStore) SaveRanks(ctx context.Context, ranks map[string]float64) error {
	return s.saveSnapshot(ctx, "page_ranks", "doc_id", ranks)
}

func (s *PostgresStore) SaveDomainRanks(ctx context.Context, ranks map[string]float64) error {
	return s.saveSnapshot(ctx, "domain_ranks", "domain", ranks)
}

// saveSnapshot replaces the whole rank table in one transaction so readers
// see either the old or the new score set.
func (s *PostgresStore) saveSnapshot(ctx context.Context, table, keyColumn string, ranks map[string]float64) error {
	keys := make([]string, 0, len(ranks))
	values := make([]float64, 0, len(ranks))
	for key, rank := range ranks {
		keys = append(keys, key)
		values = append(values, rank)
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
		if len(keys) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO `+table+` (`+keyColumn+`, rank)
			SELECT k, r FROM unnest($1::text[], $2::float8[]) AS u(k, r)`,
			pq.Array(keys), pq.Array(values),
		)
		if err != nil {
			return fmt.Errorf("writing %s snapshot: %w", table, err)
		}
		return nil
	})
}

func (s *PostgresStore) RanksFor(ctx context.Context, docIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(docIDs))
	for _, docID := range docIDs {
		out[docID] = s.defaultRank
	}
	if len(docIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT doc_id, rank FROM page_ranks WHERE doc_id = ANY($1)`,
		pq.Array(docIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("querying page ranks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var docID string
		var rank float64
		if err := rows.Scan(&docID, &rank); err != nil {
			return nil, fmt.Errorf("scanning page rank: %w", err)
		}
		out[docID] = rank
	}
	return out, rows.Err()
}

func (s *PostgresStore) DomainRanks(ctx context.Context, limit int) ([]DomainRank, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT domain, rank FROM domain_ranks ORDER BY rank DESC, domain ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying domain ranks: %w", err)
	}
	defer rows.Close()

	var out []DomainRank
	for rows.Next() {
		var dr DomainRank
		if err := rows.Scan(&dr.Domain, &dr.Rank); err != nil {
			return nil, fmt.Errorf("scanning domain rank: %w", err)
		}
		out = append(out, dr)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)

// MemoryStore is an in-memory graph store used by tests.
type MemoryStore struct {
	mu          sync.RWMutex
	outlinks    map[string][]string
	domains     map[string]string
	ranks       map[string]float64
	domainRanks map[string]float64
	defaultRank float64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(defaultRank float64) *MemoryStore {
	return &MemoryStore{
		outlinks:    make(map[string][]string),
		domains:     make(map[string]string),
		ranks:       make(map[string]float64),
		domainRanks: make(map[string]float64),
		defaultRank: defaultRank,
	}
}

// SetDomain records the domain of a document, standing in for the documents
// table the Postgres store joins against.
func (m *MemoryStore) SetDomain(docID, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains[docID] = domain
}

func (m *MemoryStore) ReplaceOutlinks(_ context.Context, srcDocID string, dstDocIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outlinks[srcDocID] = append([]string(nil), dstDocIDs...)
	return nil
}

func (m *MemoryStore) Adjacency(_ context.Context) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adjacency := make(map[string][]string, len(m.domains))
	for docID := range m.domains {
		adjacency[docID] = nil
	}
	for src, dsts := range m.outlinks {
		if _, known := adjacency[src]; !known {
			continue
		}
		for _, dst := range dsts {
			if _, known := adjacency[dst]; known {
				adjacency[src] = append(adjacency[src], dst)
			}
		}
	}
	return adjacency, nil
}

func (m *MemoryStore) DomainAdjacency(_ context.Context) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adjacency := make(map[string][]string)
	for src, dsts := range m.outlinks {
		srcDomain := m.domains[src]
		if srcDomain == "" {
			continue
		}
		for _, dst := range dsts {
			dstDomain := m.domains[dst]
			if dstDomain == "" || dstDomain == srcDomain {
				continue
			}
			adjacency[srcDomain] = append(adjacency[srcDomain], dstDomain)
		}
	}
	return adjacency, nil
}

func (m *MemoryStore) SaveRanks(_ context.Context, ranks map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranks = make(map[string]float64, len(ranks))
	for docID, rank := range ranks {
		m.ranks[docID] = rank
	}
	return nil
}

func (m *MemoryStore) SaveDomainRanks(_ context.Context, ranks map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainRanks = make(map[string]float64, len(ranks))
	for domain, rank := range ranks {
		m.domainRanks[domain] = rank
	}
	return nil
}

func (m *MemoryStore) RanksFor(_ context.Context, docIDs []string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(docIDs))
	for _, docID := range docIDs {
		if rank, ok := m.ranks[docID]; ok {
			out[docID] = rank
		} else {
			out[docID] = m.defaultRank
		}
	}
	return out, nil
}

func (m *MemoryStore) DomainRanks(_ context.Context, limit int) ([]DomainRank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DomainRank, 0, len(m.domainRanks))
	for domain, rank := range m.domainRanks {
		out = append(out, DomainRank{Domain: domain, Rank: rank})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].Domain < out[j].Domain
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
