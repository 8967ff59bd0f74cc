package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/mizuchi-search/mizuchi/pkg/errors"
	"github.com/mizuchi-search/mizuchi/pkg/postgres"
)

// PostgresStore is the durable inverted index. Every document mutation runs
// inside a single transaction, so MVCC gives readers the pre- or post-state
// of a reindex and never the gap between remove and re-add.
//
// Required tables:
//
//	CREATE TABLE documents (
//	    doc_id       TEXT PRIMARY KEY,
//	    url          TEXT NOT NULL UNIQUE,
//	    title        TEXT NOT NULL DEFAULT '',
//	    domain       TEXT NOT NULL DEFAULT '',
//	    content      TEXT NOT NULL DEFAULT '',
//	    content_hash TEXT NOT NULL DEFAULT '',
//	    body_len     INT NOT NULL DEFAULT 0,
//	    title_len    INT NOT NULL DEFAULT 0,
//	    indexed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
//	CREATE TABLE postings (
//	    token  TEXT NOT NULL,
//	    field  TEXT NOT NULL,
//	    doc_id TEXT NOT NULL REFERENCES documents (doc_id) ON DELETE CASCADE,
//	    tf     INT NOT NULL,
//	    PRIMARY KEY (token, field, doc_id)
//	);
//	CREATE INDEX postings_doc_idx ON postings (doc_id);
//
//	CREATE TABLE token_stats (
//	    token TEXT NOT NULL,
//	    field TEXT NOT NULL,
//	    df    INT NOT NULL,
//	    PRIMARY KEY (token, field)
//	);
//
//	CREATE TABLE index_stats (
//	    field        TEXT PRIMARY KEY,
//	    doc_count    INT NOT NULL DEFAULT 0,
//	    total_tokens BIGINT NOT NULL DEFAULT 0
//	);
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore on an existing client.
func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "index-store"),
	}
}

func (s *PostgresStore) AddDocument(ctx context.Context, doc Document, titleTokens, bodyTokens []string) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := lockDocument(ctx, tx, doc.DocID); err != nil {
			return err
		}
		return addDocumentTx(ctx, tx, doc, titleTokens, bodyTokens)
	})
}

func (s *PostgresStore) RemoveDocument(ctx context.Context, docID string) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := lockDocument(ctx, tx, docID); err != nil {
			return err
		}
		return removeDocumentTx(ctx, tx, docID)
	})
}

func (s *PostgresStore) ReindexDocument(ctx context.Context, doc Document, titleTokens, bodyTokens []string) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := lockDocument(ctx, tx, doc.DocID); err != nil {
			return err
		}
		if err := removeDocumentTx(ctx, tx, doc.DocID); err != nil {
			return err
		}
		return addDocumentTx(ctx, tx, doc, titleTokens, bodyTokens)
	})
}

// lockDocument serializes writers of the same document. An advisory
// transaction lock covers the case where the document row does not exist
// yet, which a SELECT FOR UPDATE would miss.
func lockDocument(ctx context.Context, tx *sql.Tx, docID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, docID); err != nil {
		return fmt.Errorf("locking document %s: %w", docID, err)
	}
	return nil
}

func addDocumentTx(ctx context.Context, tx *sql.Tx, doc Document, titleTokens, bodyTokens []string) error {
	doc.TitleLen = len(titleTokens)
	doc.BodyLen = len(bodyTokens)
	if doc.IndexedAt.IsZero() {
		doc.IndexedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (doc_id, url, title, domain, content, content_hash, body_len, title_len, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (doc_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			domain = EXCLUDED.domain,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			body_len = EXCLUDED.body_len,
			title_len = EXCLUDED.title_len,
			indexed_at = EXCLUDED.indexed_at`,
		doc.DocID, doc.URL, doc.Title, doc.Domain, doc.Content, doc.ContentHash,
		doc.BodyLen, doc.TitleLen, doc.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.DocID, err)
	}

	for field, tokens := range map[Field][]string{
		FieldTitle: titleTokens,
		FieldBody:  bodyTokens,
	} {
		if err := insertFieldTx(ctx, tx, doc.DocID, field, tokens); err != nil {
			return err
		}
	}
	return nil
}

func insertFieldTx(ctx context.Context, tx *sql.Tx, docID string, field Field, tokens []string) error {
	tf := countTerms(tokens)
	terms := make([]string, 0, len(tf))
	counts := make([]int64, 0, len(tf))
	for token, count := range tf {
		terms = append(terms, token)
		counts = append(counts, int64(count))
	}

	if len(terms) > 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO postings (token, field, doc_id, tf)
			SELECT t, $3, $4, c FROM unnest($1::text[], $2::bigint[]) AS u(t, c)`,
			pq.Array(terms), pq.Array(counts), string(field), docID,
		)
		if err != nil {
			return fmt.Errorf("inserting %s postings for %s: %w", field, docID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO token_stats (token, field, df)
			SELECT t, $2, 1 FROM unnest($1::text[]) AS t
			ON CONFLICT (token, field) DO UPDATE SET df = token_stats.df + 1`,
			pq.Array(terms), string(field),
		)
		if err != nil {
			return fmt.Errorf("updating %s token stats for %s: %w", field, docID, err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO index_stats (field, doc_count, total_tokens)
		VALUES ($1, 1, $2)
		ON CONFLICT (field) DO UPDATE SET
			doc_count = index_stats.doc_count + 1,
			total_tokens = index_stats.total_tokens + $2`,
		string(field), len(tokens),
	)
	if err != nil {
		return fmt.Errorf("updating %s index stats: %w", field, err)
	}
	return nil
}

func removeDocumentTx(ctx context.Context, tx *sql.Tx, docID string) error {
	var titleLen, bodyLen int
	err := tx.QueryRowContext(ctx,
		`SELECT title_len, body_len FROM documents WHERE doc_id = $1`, docID,
	).Scan(&titleLen, &bodyLen)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading document %s: %w", docID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE token_stats ts SET df = ts.df - 1
		FROM postings p
		WHERE p.doc_id = $1 AND p.token = ts.token AND p.field = ts.field`,
		docID,
	)
	if err != nil {
		return fmt.Errorf("decrementing token stats for %s: %w", docID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM token_stats WHERE df <= 0`); err != nil {
		return fmt.Errorf("pruning token stats: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM postings WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("deleting postings for %s: %w", docID, err)
	}

	for field, length := range map[Field]int{
		FieldTitle: titleLen,
		FieldBody:  bodyLen,
	} {
		_, err = tx.ExecContext(ctx, `
			UPDATE index_stats
			SET doc_count = doc_count - 1, total_tokens = total_tokens - $2
			WHERE field = $1`,
			string(field), length,
		)
		if err != nil {
			return fmt.Errorf("decrementing %s index stats: %w", field, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("deleting document %s: %w", docID, err)
	}
	return nil
}

func (s *PostgresStore) Postings(ctx context.Context, tokens []string) ([]Posting, map[Field]map[string]int, error) {
	if len(tokens) == 0 {
		return nil, map[Field]map[string]int{FieldBody: {}, FieldTitle: {}}, nil
	}

	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT token, field, doc_id, tf FROM postings WHERE token = ANY($1)`,
		pq.Array(tokens),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("querying postings: %w", err)
	}
	defer rows.Close()

	var postings []Posting
	for rows.Next() {
		var p Posting
		var field string
		if err := rows.Scan(&p.Token, &field, &p.DocID, &p.TF); err != nil {
			return nil, nil, fmt.Errorf("scanning posting: %w", err)
		}
		p.Field = Field(field)
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading postings: %w", err)
	}

	df := map[Field]map[string]int{FieldBody: {}, FieldTitle: {}}
	statRows, err := s.db.DB.QueryContext(ctx,
		`SELECT token, field, df FROM token_stats WHERE token = ANY($1)`,
		pq.Array(tokens),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("querying token stats: %w", err)
	}
	defer statRows.Close()
	for statRows.Next() {
		var token, field string
		var count int
		if err := statRows.Scan(&token, &field, &count); err != nil {
			return nil, nil, fmt.Errorf("scanning token stats: %w", err)
		}
		df[Field(field)][token] = count
	}
	return postings, df, statRows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT field, doc_count, total_tokens FROM index_stats`)
	if err != nil {
		return Stats{}, fmt.Errorf("querying index stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var field string
		var fs FieldStats
		if err := rows.Scan(&field, &fs.DocCount, &fs.TotalTokens); err != nil {
			return Stats{}, fmt.Errorf("scanning index stats: %w", err)
		}
		switch Field(field) {
		case FieldBody:
			stats.Body = fs
		case FieldTitle:
			stats.Title = fs
		}
	}
	return stats, rows.Err()
}

func (s *PostgresStore) DocLengths(ctx context.Context, docIDs []string) (map[string]map[Field]int, error) {
	if len(docIDs) == 0 {
		return map[string]map[Field]int{}, nil
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT doc_id, body_len, title_len FROM documents WHERE doc_id = ANY($1)`,
		pq.Array(docIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("querying document lengths: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[Field]int, len(docIDs))
	for rows.Next() {
		var docID string
		var bodyLen, titleLen int
		if err := rows.Scan(&docID, &bodyLen, &titleLen); err != nil {
			return nil, fmt.Errorf("scanning document lengths: %w", err)
		}
		out[docID] = map[Field]int{FieldBody: bodyLen, FieldTitle: titleLen}
	}
	return out, rows.Err()
}

func (s *PostgresStore) Document(ctx context.Context, docID string) (Document, error) {
	var doc Document
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT doc_id, url, title, domain, content, content_hash, body_len, title_len, indexed_at
		FROM documents WHERE doc_id = $1`, docID,
	).Scan(&doc.DocID, &doc.URL, &doc.Title, &doc.Domain, &doc.Content, &doc.ContentHash,
		&doc.BodyLen, &doc.TitleLen, &doc.IndexedAt)
	if err == sql.ErrNoRows {
		return Document{}, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("loading document %s: %w", docID, err)
	}
	return doc, nil
}

func (s *PostgresStore) Documents(ctx context.Context, docIDs []string) (map[string]Document, error) {
	if len(docIDs) == 0 {
		return map[string]Document{}, nil
	}
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT doc_id, url, title, domain, content, content_hash, body_len, title_len, indexed_at
		FROM documents WHERE doc_id = ANY($1)`,
		pq.Array(docIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Document, len(docIDs))
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.DocID, &doc.URL, &doc.Title, &doc.Domain, &doc.Content, &doc.ContentHash,
			&doc.BodyLen, &doc.TitleLen, &doc.IndexedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		out[doc.DocID] = doc
	}
	return out, rows.Err()
}

func (s *PostgresStore) DocCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// RebuildStats recomputes token_stats and index_stats from postings and
// documents in one transaction. Recovery path after a crash or manual data
// surgery leaves the incremental counters out of sync.
func (s *PostgresStore) RebuildStats(ctx context.Context) error {
	start := time.Now()
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM token_stats`); err != nil {
			return fmt.Errorf("clearing token stats: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO token_stats (token, field, df)
			SELECT token, field, COUNT(*) FROM postings GROUP BY token, field`); err != nil {
			return fmt.Errorf("rebuilding token stats: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_stats`); err != nil {
			return fmt.Errorf("clearing index stats: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_stats (field, doc_count, total_tokens)
			SELECT 'body', COUNT(*), COALESCE(SUM(body_len), 0) FROM documents
			UNION ALL
			SELECT 'title', COUNT(*), COALESCE(SUM(title_len), 0) FROM documents`); err != nil {
			return fmt.Errorf("rebuilding index stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("index stats rebuilt", "duration", time.Since(start))
	return nil
}

var _ Store = (*PostgresStore)(nil)
