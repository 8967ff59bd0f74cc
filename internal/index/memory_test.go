package index

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func addDoc(t *testing.T, store Store, docID string, title, body []string) {
	t.Helper()
	doc := Document{DocID: docID, URL: "https://example.com/" + docID}
	if err := store.AddDocument(context.Background(), doc, title, body); err != nil {
		t.Fatalf("AddDocument(%s) failed: %v", docID, err)
	}
}

// TestReindexReplacesPostings verifies ingesting the same document twice with
// different content leaves postings for the latest content only.
func TestReindexReplacesPostings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addDoc(t, store, "d1", []string{"old"}, []string{"apple", "banana"})

	doc := Document{DocID: "d1", URL: "https://example.com/d1"}
	if err := store.ReindexDocument(ctx, doc, []string{"new"}, []string{"cherry"}); err != nil {
		t.Fatalf("ReindexDocument failed: %v", err)
	}

	postings, df, err := store.Postings(ctx, []string{"apple", "banana", "cherry", "old", "new"})
	if err != nil {
		t.Fatalf("Postings failed: %v", err)
	}
	for _, p := range postings {
		if p.Token == "apple" || p.Token == "banana" || p.Token == "old" {
			t.Errorf("stale posting survived reindex: %+v", p)
		}
	}
	if df[FieldBody]["cherry"] != 1 {
		t.Errorf("df[body][cherry] = %d, want 1", df[FieldBody]["cherry"])
	}
	if df[FieldTitle]["new"] != 1 {
		t.Errorf("df[title][new] = %d, want 1", df[FieldTitle]["new"])
	}

	if n, _ := store.DocCount(ctx); n != 1 {
		t.Errorf("DocCount = %d, want 1", n)
	}
}

// TestStatsConsistency checks that document frequency always equals the
// number of documents holding a nonzero posting, across a mixed sequence of
// add, remove, and reindex operations.
func TestStatsConsistency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	addDoc(t, store, "a", []string{"alpha"}, []string{"shared", "only_a"})
	addDoc(t, store, "b", []string{"beta"}, []string{"shared", "only_b"})
	addDoc(t, store, "c", nil, []string{"shared"})

	if err := store.RemoveDocument(ctx, "b"); err != nil {
		t.Fatalf("RemoveDocument failed: %v", err)
	}
	doc := Document{DocID: "c", URL: "https://example.com/c"}
	if err := store.ReindexDocument(ctx, doc, nil, []string{"only_c"}); err != nil {
		t.Fatalf("ReindexDocument failed: %v", err)
	}

	tokens := []string{"shared", "only_a", "only_b", "only_c", "alpha", "beta"}
	postings, df, err := store.Postings(ctx, tokens)
	if err != nil {
		t.Fatalf("Postings failed: %v", err)
	}

	counted := map[Field]map[string]int{FieldBody: {}, FieldTitle: {}}
	for _, p := range postings {
		if p.TF <= 0 {
			t.Errorf("posting with non-positive tf: %+v", p)
		}
		counted[p.Field][p.Token]++
	}
	for field, byToken := range df {
		for token, want := range byToken {
			if got := counted[field][token]; got != want {
				t.Errorf("df[%s][%s] = %d but %d documents hold postings", field, token, want, got)
			}
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Body.DocCount != 2 {
		t.Errorf("body doc count = %d, want 2", stats.Body.DocCount)
	}
	// Remaining docs: a (shared, only_a) and c (only_c).
	if stats.Body.TotalTokens != 3 {
		t.Errorf("body total tokens = %d, want 3", stats.Body.TotalTokens)
	}
}

// TestAddDocumentRejectsDuplicate: adding a doc_id that is already indexed
// fails without touching postings or stats; ReindexDocument is the
// replacement path.
func TestAddDocumentRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addDoc(t, store, "d1", []string{"t"}, []string{"b"})

	before, _ := store.Stats(ctx)
	doc := Document{DocID: "d1", URL: "https://example.com/d1"}
	if err := store.AddDocument(ctx, doc, []string{"t"}, []string{"b"}); err == nil {
		t.Fatal("expected error adding an already-indexed document")
	}
	after, _ := store.Stats(ctx)
	if before != after {
		t.Errorf("stats changed by rejected add: %+v -> %+v", before, after)
	}

	if err := store.ReindexDocument(ctx, doc, []string{"t2"}, []string{"b2"}); err != nil {
		t.Fatalf("ReindexDocument failed: %v", err)
	}
	if n, _ := store.DocCount(ctx); n != 1 {
		t.Errorf("DocCount = %d, want 1", n)
	}
}

// TestRemoveUnknownDocumentIsNoop ensures removal of an unindexed document
// leaves stats untouched.
func TestRemoveUnknownDocumentIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addDoc(t, store, "a", []string{"t"}, []string{"b"})

	before, _ := store.Stats(ctx)
	if err := store.RemoveDocument(ctx, "ghost"); err != nil {
		t.Fatalf("RemoveDocument failed: %v", err)
	}
	after, _ := store.Stats(ctx)
	if before != after {
		t.Errorf("stats changed by no-op removal: %+v -> %+v", before, after)
	}
}

// TestRebuildStats corrupts the aggregate counters and verifies the rebuild
// path restores them from the stored documents.
func TestRebuildStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addDoc(t, store, "a", []string{"one"}, []string{"x", "y"})
	addDoc(t, store, "b", []string{"two", "words"}, []string{"z"})

	want, _ := store.Stats(ctx)

	// Simulate counter drift after a crash mid-write.
	store.mu.Lock()
	store.stats.Body.DocCount = 99
	store.stats.Title.TotalTokens = -5
	store.mu.Unlock()

	if err := store.RebuildStats(ctx); err != nil {
		t.Fatalf("RebuildStats failed: %v", err)
	}
	got, _ := store.Stats(ctx)
	if got != want {
		t.Errorf("rebuilt stats = %+v, want %+v", got, want)
	}
}

// TestConcurrentReindex hammers the store with concurrent reindexes of
// disjoint documents and checks the final stats add up.
func TestConcurrentReindex(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	const docs = 20

	var wg sync.WaitGroup
	for i := 0; i < docs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			docID := fmt.Sprintf("d%d", i)
			doc := Document{DocID: docID, URL: "https://example.com/" + docID}
			for round := 0; round < 5; round++ {
				if err := store.ReindexDocument(ctx, doc, []string{"title"}, []string{"body", "text"}); err != nil {
					t.Errorf("ReindexDocument(%s) failed: %v", docID, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Body.DocCount != docs {
		t.Errorf("body doc count = %d, want %d", stats.Body.DocCount, docs)
	}
	if stats.Body.TotalTokens != docs*2 {
		t.Errorf("body total tokens = %d, want %d", stats.Body.TotalTokens, docs*2)
	}
}

func TestAvgDocLen(t *testing.T) {
	var fs FieldStats
	if fs.AvgDocLen() != 0 {
		t.Error("empty corpus should have avgdl 0")
	}
	fs = FieldStats{DocCount: 4, TotalTokens: 10}
	if got := fs.AvgDocLen(); got != 2.5 {
		t.Errorf("AvgDocLen = %v, want 2.5", got)
	}
}
