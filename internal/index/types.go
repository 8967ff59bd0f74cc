// Package index implements the inverted index: documents, field-tagged
// postings, and the corpus statistics BM25 scoring needs. The PostgresStore
// is the production implementation; MemoryStore mirrors its semantics for
// tests.
package index

import (
	"context"
	"time"
)

// Field identifies which token space a posting belongs to. Title and body
// postings keep separate document-frequency and length statistics.
type Field string

const (
	FieldBody  Field = "body"
	FieldTitle Field = "title"
)

// Document holds the indexed metadata for one page.
type Document struct {
	DocID       string
	URL         string
	Title       string
	Domain      string
	Content     string
	ContentHash string
	BodyLen     int
	TitleLen    int
	IndexedAt   time.Time
}

// Posting records one (token, document) pair with its term frequency.
type Posting struct {
	Token string
	DocID string
	Field Field
	TF    int
}

// TokenStats holds per-token corpus statistics for one field.
type TokenStats struct {
	Token string
	Field Field
	DF    int
}

// FieldStats aggregates corpus-wide statistics for one token space.
type FieldStats struct {
	DocCount    int
	TotalTokens int
}

// AvgDocLen returns the mean document length for the field, or 0 for an
// empty corpus.
func (s FieldStats) AvgDocLen() float64 {
	if s.DocCount == 0 {
		return 0
	}
	return float64(s.TotalTokens) / float64(s.DocCount)
}

// Stats holds the aggregate index statistics for both token spaces.
type Stats struct {
	Body  FieldStats
	Title FieldStats
}

// Store is the inverted index contract shared by the Postgres implementation
// and the in-memory test double.
//
// ReindexDocument must be atomic with respect to readers: a concurrent query
// observes either the fully pre-update or the fully post-update postings for
// the document, never a partially removed state.
type Store interface {
	// AddDocument indexes a document's title and body token sequences,
	// creating postings and incrementally updating token and index stats.
	// Adding a document that is already indexed fails; use ReindexDocument
	// to replace one.
	AddDocument(ctx context.Context, doc Document, titleTokens, bodyTokens []string) error

	// RemoveDocument deletes all postings owned by docID in both token
	// spaces and decrements the affected statistics. Removing an unknown
	// document is a no-op.
	RemoveDocument(ctx context.Context, docID string) error

	// ReindexDocument is RemoveDocument followed by AddDocument as one
	// atomic unit.
	ReindexDocument(ctx context.Context, doc Document, titleTokens, bodyTokens []string) error

	// Postings returns all postings for the given tokens across both
	// fields, along with the per-field document frequency of each token.
	Postings(ctx context.Context, tokens []string) ([]Posting, map[Field]map[string]int, error)

	// Stats returns the current aggregate index statistics.
	Stats(ctx context.Context) (Stats, error)

	// DocLengths returns the per-field token counts for the given
	// documents.
	DocLengths(ctx context.Context, docIDs []string) (map[string]map[Field]int, error)

	// Document returns the stored metadata for docID, or
	// errors.ErrDocumentNotFound.
	Document(ctx context.Context, docID string) (Document, error)

	// Documents returns metadata for the given docIDs; unknown IDs are
	// omitted.
	Documents(ctx context.Context, docIDs []string) (map[string]Document, error)

	// DocCount returns the number of indexed documents.
	DocCount(ctx context.Context) (int, error)

	// RebuildStats recomputes token_stats and index_stats from the
	// postings themselves. Recovery path for stat drift after a crash.
	RebuildStats(ctx context.Context) error
}

// countTerms folds a token sequence into per-token term frequencies.
func countTerms(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}
