package scorer

import (
	"context"
	"testing"

	"github.com/mizuchi-search/mizuchi/internal/analyzer"
	"github.com/mizuchi-search/mizuchi/internal/graph"
	"github.com/mizuchi-search/mizuchi/internal/index"
	"github.com/mizuchi-search/mizuchi/pkg/config"
)

func searchConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxResults:     100,
		DefaultLimit:   10,
		RRFK:           60,
		FetchFactor:    3,
		BM25K1:         1.2,
		BM25B:          0.75,
		TitleBoost:     3.0,
		PageRankWeight: 0.5,
	}
}

func newScorer(t *testing.T) (*Scorer, *index.MemoryStore) {
	t.Helper()
	an, err := analyzer.New()
	if err != nil {
		t.Fatalf("analyzer.New failed: %v", err)
	}
	store := index.NewMemoryStore()
	return New(store, graph.NewMemoryStore(0.15), nil, nil, an, searchConfig()), store
}

func seed(t *testing.T, store *index.MemoryStore, an func(string) []string, docID, url, title, content string) {
	t.Helper()
	doc := index.Document{DocID: docID, URL: url, Title: title, Content: content}
	if err := store.AddDocument(context.Background(), doc, an(title), an(content)); err != nil {
		t.Fatalf("AddDocument(%s) failed: %v", docID, err)
	}
}

func TestKeywordSearchReturnsHits(t *testing.T) {
	ctx := context.Background()
	s, store := newScorer(t)
	tokenize := s.analyzer.Analyze

	seed(t, store, tokenize, "d1", "https://example.com/go", "Go tutorial", "learn go concurrency with channels")
	seed(t, store, tokenize, "d2", "https://example.com/py", "Python tutorial", "learn python generators")

	resp, err := s.Search(ctx, "go concurrency", 10, 1, ModeKeyword)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Total != 1 || len(resp.Hits) != 1 {
		t.Fatalf("resp = %+v, want exactly one hit", resp)
	}
	hit := resp.Hits[0]
	if hit.URL != "https://example.com/go" || hit.Title != "Go tutorial" {
		t.Errorf("hit = %+v", hit)
	}
	if hit.Snippet == "" {
		t.Error("hit has no snippet")
	}
	if hit.Score <= 0 {
		t.Errorf("score = %v, want > 0", hit.Score)
	}
}

// TestHybridWithoutVectorLegDegrades: with no embedder configured, hybrid
// mode behaves like a keyword-only RRF list instead of failing.
func TestHybridWithoutVectorLegDegrades(t *testing.T) {
	ctx := context.Background()
	s, store := newScorer(t)
	tokenize := s.analyzer.Analyze

	seed(t, store, tokenize, "d1", "https://example.com/a", "Alpha", "shared term alpha")
	seed(t, store, tokenize, "d2", "https://example.com/b", "Beta", "shared term beta")

	resp, err := s.Search(ctx, "shared", 10, 1, ModeHybrid)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}

	vectorOnly, err := s.Search(ctx, "shared", 10, 1, ModeVector)
	if err != nil {
		t.Fatalf("vector-only Search failed: %v", err)
	}
	if vectorOnly.Total != 0 {
		t.Errorf("vector-only total = %d, want 0 without a provider", vectorOnly.Total)
	}
}

func TestSearchPagination(t *testing.T) {
	ctx := context.Background()
	s, store := newScorer(t)
	tokenize := s.analyzer.Analyze

	for _, docID := range []string{"p1", "p2", "p3", "p4", "p5"} {
		seed(t, store, tokenize, docID, "https://example.com/"+docID, "Title "+docID, "common body for "+docID)
	}

	first, err := s.Search(ctx, "common", 2, 1, ModeKeyword)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if first.Total != 5 || len(first.Hits) != 2 || first.LastPage != 3 {
		t.Errorf("page 1 = total %d, hits %d, last_page %d", first.Total, len(first.Hits), first.LastPage)
	}

	third, err := s.Search(ctx, "common", 2, 3, ModeKeyword)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(third.Hits) != 1 {
		t.Errorf("page 3 hits = %d, want 1", len(third.Hits))
	}

	beyond, err := s.Search(ctx, "common", 2, 9, ModeKeyword)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(beyond.Hits) != 0 {
		t.Errorf("page beyond the end returned %d hits", len(beyond.Hits))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s, _ := newScorer(t)
	resp, err := s.Search(context.Background(), "   ", 10, 1, ModeKeyword)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Total != 0 || len(resp.Hits) != 0 {
		t.Errorf("empty query returned %+v", resp)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":        ModeHybrid,
		"hybrid":  ModeHybrid,
		"keyword": ModeKeyword,
		"vector":  ModeVector,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("fuzzy"); err == nil {
		t.Error("ParseMode accepted an unknown mode")
	}
}
