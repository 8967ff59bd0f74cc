package worker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mizuchi-search/mizuchi/internal/analyzer"
	"github.com/mizuchi-search/mizuchi/internal/graph"
	"github.com/mizuchi-search/mizuchi/internal/index"
	"github.com/mizuchi-search/mizuchi/internal/jobs"
	"github.com/mizuchi-search/mizuchi/internal/urlnorm"
	"github.com/mizuchi-search/mizuchi/internal/vector"
	"github.com/mizuchi-search/mizuchi/pkg/config"
	apperrors "github.com/mizuchi-search/mizuchi/pkg/errors"
	"github.com/mizuchi-search/mizuchi/pkg/metrics"
)

type fixture struct {
	pool    *Pool
	queue   *jobs.MemoryQueue
	store   *index.MemoryStore
	graph   *graph.MemoryStore
	vectors *vector.Store
}

// failingEmbedder simulates an unreachable provider.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, apperrors.ErrProviderUnavailable
}
func (failingEmbedder) Dimensions() int { return 3 }

func newFixture(t *testing.T, embedder vector.Embedder) *fixture {
	t.Helper()
	an, err := analyzer.New()
	if err != nil {
		t.Fatalf("analyzer.New failed: %v", err)
	}
	queue := jobs.NewMemoryQueue(time.Minute, jobs.RetryPolicy{MaxRetries: 5, Base: time.Second, Max: time.Minute})
	store := index.NewMemoryStore()
	graphStore := graph.NewMemoryStore(0.15)
	vectors := vector.NewStore(nil, 3)

	cfg := config.IndexerConfig{Workers: 1, BatchSize: 10, PollInterval: time.Millisecond}
	pool := NewPool(cfg, queue, store, an, graphStore, vectors, embedder, nil,
		metrics.NewWith(prometheus.NewRegistry()))
	return &fixture{pool: pool, queue: queue, store: store, graph: graphStore, vectors: vectors}
}

// drain claims and handles jobs until the queue has nothing claimable.
func (f *fixture) drain(ctx context.Context, t *testing.T) {
	t.Helper()
	logger := slog.Default()
	for {
		claimed, err := f.queue.ClaimBatch(ctx, "test-worker", 10)
		if err != nil {
			t.Fatalf("ClaimBatch failed: %v", err)
		}
		if len(claimed) == 0 {
			return
		}
		for _, job := range claimed {
			f.pool.handleJob(ctx, logger, job)
		}
	}
}

// TestProcessDocumentEndToEnd: enqueue a page, process it, and verify the
// keyword index holds it with the right term frequency while vector search
// stays empty without an embedding provider.
func TestProcessDocumentEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.queue.Enqueue(ctx, jobs.Payload{
		URL:     "http://example.com",
		Title:   "Example",
		Content: "hello world hello",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	f.drain(ctx, t)

	job, err := f.queue.Status(ctx, res.JobID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if job.Status != jobs.StateDone || job.AttemptCount != 1 {
		t.Fatalf("job = %s after %d attempts, want done after 1", job.Status, job.AttemptCount)
	}

	docID := urlnorm.DocID("http://example.com")
	postings, df, err := f.store.Postings(ctx, []string{"hello"})
	if err != nil {
		t.Fatalf("Postings failed: %v", err)
	}
	var found bool
	for _, p := range postings {
		if p.DocID == docID && p.Field == index.FieldBody {
			found = true
			if p.TF != 2 {
				t.Errorf("tf(hello) = %d, want 2", p.TF)
			}
		}
	}
	if !found {
		t.Fatal("document missing from body postings for 'hello'")
	}
	if df[index.FieldBody]["hello"] != 1 {
		t.Errorf("df(hello) = %d, want 1", df[index.FieldBody]["hello"])
	}

	doc, err := f.store.Document(ctx, docID)
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if doc.Title != "Example" || doc.Domain != "example.com" {
		t.Errorf("stored doc = %+v", doc)
	}

	if f.vectors.Count() != 0 {
		t.Errorf("vector store has %d entries without a provider, want 0", f.vectors.Count())
	}
}

// TestProviderFailureDoesNotFailJob: an unreachable embedding provider
// leaves the job done and the document keyword-searchable only.
func TestProviderFailureDoesNotFailJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingEmbedder{})

	res, err := f.queue.Enqueue(ctx, jobs.Payload{
		URL:     "https://example.com/degraded",
		Title:   "Degraded",
		Content: "still searchable",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	f.drain(ctx, t)

	job, _ := f.queue.Status(ctx, res.JobID)
	if job.Status != jobs.StateDone {
		t.Errorf("job status = %s, want done despite provider failure", job.Status)
	}
	if f.vectors.Count() != 0 {
		t.Errorf("vector store has %d entries, want 0", f.vectors.Count())
	}
	if n, _ := f.store.DocCount(ctx); n != 1 {
		t.Errorf("DocCount = %d, want 1", n)
	}
}

// TestOutlinksResolvedIntoGraph: raw outlinks become deduplicated edges to
// doc IDs; self-links and junk links are dropped.
func TestOutlinksResolvedIntoGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.queue.Enqueue(ctx, jobs.Payload{
		URL:     "https://example.com/page",
		Title:   "Page",
		Content: "links everywhere",
		Outlinks: []string{
			"/other",
			"https://example.com/other#frag",
			"https://example.com/page",
			"javascript:void(0)",
			"https://elsewhere.org/",
		},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	f.drain(ctx, t)

	src := urlnorm.DocID("https://example.com/page")
	other := urlnorm.DocID("https://example.com/other")
	elsewhere := urlnorm.DocID("https://elsewhere.org/")
	f.graph.SetDomain(src, "example.com")
	f.graph.SetDomain(other, "example.com")
	f.graph.SetDomain(elsewhere, "elsewhere.org")

	adjacency, err := f.graph.Adjacency(ctx)
	if err != nil {
		t.Fatalf("Adjacency failed: %v", err)
	}
	edges := adjacency[src]
	if len(edges) != 2 {
		t.Fatalf("outlink edges = %v, want 2 (dedup, no self-link, no junk)", edges)
	}
	seen := map[string]bool{}
	for _, dst := range edges {
		seen[dst] = true
	}
	if !seen[other] || !seen[elsewhere] {
		t.Errorf("edges = %v, want targets %s and %s", edges, other, elsewhere)
	}
}

// TestFailedJobGoesToRetry: an indexing error sends the job to failed_retry
// with the error recorded.
func TestFailedJobGoesToRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.queue.Enqueue(ctx, jobs.Payload{URL: "https://example.com/x", Content: "body"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claimed, err := f.queue.ClaimBatch(ctx, "w", 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimBatch = %v, %v", claimed, err)
	}
	// Simulate a pipeline failure at the queue boundary.
	if err := f.queue.Fail(ctx, res.JobID, errors.New("storage timeout")); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	job, _ := f.queue.Status(ctx, res.JobID)
	if job.Status != jobs.StateFailedRetry {
		t.Errorf("status = %s, want failed_retry", job.Status)
	}
	if job.LastError != "storage timeout" {
		t.Errorf("last_error = %q", job.LastError)
	}
}
