package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/mizuchi-search/mizuchi/pkg/errors"
)

// MemoryStore is an in-memory Store used by tests. A single RWMutex gives it
// the same reader isolation the Postgres implementation gets from
// transactions: queries see pre- or post-reindex state, never the gap in
// between.
type MemoryStore struct {
	mu sync.RWMutex

	docs map[string]Document
	// postings: field -> token -> docID -> term frequency
	postings map[Field]map[string]map[string]int
	// docTerms mirrors postings keyed by document, for O(doc terms) removal.
	docTerms map[string]map[Field]map[string]int
	stats    Stats
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		postings: map[Field]map[string]map[string]int{
			FieldBody:  {},
			FieldTitle: {},
		},
		docTerms: make(map[string]map[Field]map[string]int),
	}
}

func (m *MemoryStore) AddDocument(_ context.Context, doc Document, titleTokens, bodyTokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// The Postgres store hits the postings primary key here.
	if _, exists := m.docs[doc.DocID]; exists {
		return fmt.Errorf("document %s is already indexed", doc.DocID)
	}
	m.addLocked(doc, titleTokens, bodyTokens)
	return nil
}

func (m *MemoryStore) RemoveDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(docID)
	return nil
}

func (m *MemoryStore) ReindexDocument(_ context.Context, doc Document, titleTokens, bodyTokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(doc.DocID)
	m.addLocked(doc, titleTokens, bodyTokens)
	return nil
}

func (m *MemoryStore) addLocked(doc Document, titleTokens, bodyTokens []string) {
	doc.TitleLen = len(titleTokens)
	doc.BodyLen = len(bodyTokens)
	m.docs[doc.DocID] = doc

	terms := map[Field]map[string]int{
		FieldTitle: countTerms(titleTokens),
		FieldBody:  countTerms(bodyTokens),
	}
	m.docTerms[doc.DocID] = terms
	for field, tf := range terms {
		for token, count := range tf {
			byDoc, ok := m.postings[field][token]
			if !ok {
				byDoc = make(map[string]int)
				m.postings[field][token] = byDoc
			}
			byDoc[doc.DocID] = count
		}
	}

	m.stats.Title.DocCount++
	m.stats.Title.TotalTokens += len(titleTokens)
	m.stats.Body.DocCount++
	m.stats.Body.TotalTokens += len(bodyTokens)
}

func (m *MemoryStore) removeLocked(docID string) {
	doc, ok := m.docs[docID]
	if !ok {
		return
	}
	for field, tf := range m.docTerms[docID] {
		for token := range tf {
			delete(m.postings[field][token], docID)
			if len(m.postings[field][token]) == 0 {
				delete(m.postings[field], token)
			}
		}
	}
	delete(m.docTerms, docID)
	delete(m.docs, docID)

	m.stats.Title.DocCount--
	m.stats.Title.TotalTokens -= doc.TitleLen
	m.stats.Body.DocCount--
	m.stats.Body.TotalTokens -= doc.BodyLen
}

func (m *MemoryStore) Postings(_ context.Context, tokens []string) ([]Posting, map[Field]map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Posting
	df := map[Field]map[string]int{
		FieldBody:  {},
		FieldTitle: {},
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		for _, field := range []Field{FieldBody, FieldTitle} {
			byDoc := m.postings[field][token]
			if len(byDoc) == 0 {
				continue
			}
			df[field][token] = len(byDoc)
			for docID, tf := range byDoc {
				out = append(out, Posting{Token: token, DocID: docID, Field: field, TF: tf})
			}
		}
	}
	return out, df, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats, nil
}

func (m *MemoryStore) DocLengths(_ context.Context, docIDs []string) (map[string]map[Field]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[Field]int, len(docIDs))
	for _, docID := range docIDs {
		if doc, ok := m.docs[docID]; ok {
			out[docID] = map[Field]int{
				FieldBody:  doc.BodyLen,
				FieldTitle: doc.TitleLen,
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) Document(_ context.Context, docID string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docID]
	if !ok {
		return Document{}, errors.ErrDocumentNotFound
	}
	return doc, nil
}

func (m *MemoryStore) Documents(_ context.Context, docIDs []string) (map[string]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Document, len(docIDs))
	for _, docID := range docIDs {
		if doc, ok := m.docs[docID]; ok {
			out[docID] = doc
		}
	}
	return out, nil
}

func (m *MemoryStore) DocCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

// RebuildStats recomputes aggregate statistics from the stored documents.
func (m *MemoryStore) RebuildStats(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rebuilt Stats
	for _, doc := range m.docs {
		rebuilt.Title.DocCount++
		rebuilt.Title.TotalTokens += doc.TitleLen
		rebuilt.Body.DocCount++
		rebuilt.Body.TotalTokens += doc.BodyLen
	}
	m.stats = rebuilt
	return nil
}

var _ Store = (*MemoryStore)(nil)
