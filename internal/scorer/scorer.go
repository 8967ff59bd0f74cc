package scorer

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mizuchi-search/mizuchi/internal/analyzer"
	"github.com/mizuchi-search/mizuchi/internal/graph"
	"github.com/mizuchi-search/mizuchi/internal/index"
	"github.com/mizuchi-search/mizuchi/internal/searcher/ranker"
	"github.com/mizuchi-search/mizuchi/internal/vector"
	"github.com/mizuchi-search/mizuchi/pkg/config"
	apperrors "github.com/mizuchi-search/mizuchi/pkg/errors"
	"github.com/mizuchi-search/mizuchi/pkg/tracing"
)

// Mode selects which legs participate in a search.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeVector  Mode = "vector"
	ModeHybrid  Mode = "hybrid"
)

// ParseMode validates a mode string; empty input means hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeKeyword, ModeVector, ModeHybrid:
		return Mode(s), nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("%w: unknown search mode %q", apperrors.ErrInvalidInput, s)
	}
}

// Hit is one search result.
type Hit struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Response is a full query answer.
type Response struct {
	Query    string `json:"query"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PerPage  int    `json:"per_page"`
	LastPage int    `json:"last_page"`
	Hits     []Hit  `json:"hits"`
}

// Scorer executes queries against the index, the rank snapshot, and the
// embedding store.
type Scorer struct {
	store    index.Store
	graph    graph.Store
	vectors  *vector.Store
	embedder vector.Embedder
	analyzer *analyzer.Analyzer
	cfg      config.SearchConfig
	logger   *slog.Logger
}

// New wires a Scorer. vectors and embedder may be nil; vector legs then
// resolve to empty lists.
func New(
	store index.Store,
	graphStore graph.Store,
	vectors *vector.Store,
	embedder vector.Embedder,
	an *analyzer.Analyzer,
	cfg config.SearchConfig,
) *Scorer {
	return &Scorer{
		store:    store,
		graph:    graphStore,
		vectors:  vectors,
		embedder: embedder,
		analyzer: an,
		cfg:      cfg,
		logger:   slog.Default().With("component", "scorer"),
	}
}

func (s *Scorer) rankParams() ranker.Params {
	params := ranker.DefaultParams()
	if s.cfg.BM25K1 > 0 {
		params.K1 = s.cfg.BM25K1
	}
	if s.cfg.BM25B > 0 {
		params.B = s.cfg.BM25B
	}
	if s.cfg.TitleBoost > 0 {
		params.TitleBoost = s.cfg.TitleBoost
	}
	if s.cfg.PageRankWeight > 0 {
		params.PageRankWeight = s.cfg.PageRankWeight
	}
	params.TitleStatsShared = s.cfg.TitleStatsShared
	return params
}

// Search runs a query. limit and page are 1-based and already validated by
// the handler.
func (s *Scorer) Search(ctx context.Context, query string, limit, page int, mode Mode) (Response, error) {
	tokens := s.analyzer.Analyze(query)

	// Each leg overfetches so pagination and fusion have enough depth.
	fetch := limit * s.cfg.FetchFactor
	if fetch < limit*page {
		fetch = limit * page * s.cfg.FetchFactor
	}

	var keywordScored []ranker.ScoredDoc
	var vectorResults []vector.Result

	g, legCtx := errgroup.WithContext(ctx)
	if mode != ModeVector {
		g.Go(func() error {
			legCtx, span := tracing.StartChildSpan(legCtx, "keyword-leg")
			defer span.End()
			var err error
			keywordScored, err = s.keywordLeg(legCtx, tokens, fetch)
			span.SetAttr("results", len(keywordScored))
			return err
		})
	}
	if mode != ModeKeyword {
		g.Go(func() error {
			legCtx, span := tracing.StartChildSpan(legCtx, "vector-leg")
			defer span.End()
			vectorResults = s.vectorLeg(legCtx, query, fetch)
			span.SetAttr("results", len(vectorResults))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	fused := s.fuse(mode, keywordScored, vectorResults)

	total := len(fused)
	lastPage := (total + limit - 1) / limit
	if lastPage == 0 {
		lastPage = 1
	}
	offset := (page - 1) * limit
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	pageDocs := fused[offset:end]

	hits, err := s.decorate(ctx, pageDocs, tokens)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Query:    query,
		Total:    total,
		Page:     page,
		PerPage:  limit,
		LastPage: lastPage,
		Hits:     hits,
	}, nil
}

// keywordLeg runs BM25 with the PageRank boost.
func (s *Scorer) keywordLeg(ctx context.Context, tokens []string, fetch int) ([]ranker.ScoredDoc, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	postings, df, err := s.store.Postings(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("fetching postings: %w", err)
	}
	if len(postings) == 0 {
		return nil, nil
	}

	docIDs := make([]string, 0, len(postings))
	seen := make(map[string]struct{}, len(postings))
	for _, p := range postings {
		if _, dup := seen[p.DocID]; !dup {
			seen[p.DocID] = struct{}{}
			docIDs = append(docIDs, p.DocID)
		}
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching index stats: %w", err)
	}
	lengths, err := s.store.DocLengths(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching document lengths: %w", err)
	}
	pageRanks, err := s.graph.RanksFor(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching page ranks: %w", err)
	}

	return ranker.Rank(postings, df, stats, lengths, pageRanks, s.rankParams(), fetch), nil
}

// vectorLeg embeds the query and searches the embedding store. Any failure
// degrades to an empty list; vector absence must never fail a query.
func (s *Scorer) vectorLeg(ctx context.Context, query string, fetch int) []vector.Result {
	if s.vectors == nil || s.embedder == nil {
		return nil
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding unavailable", "error", err)
		return nil
	}
	results, err := s.vectors.Search(ctx, embedding, fetch)
	if err != nil {
		s.logger.Warn("vector search failed", "error", err)
		return nil
	}
	return results
}

// fuse combines the legs. Single-leg modes keep their native scores; hybrid
// fuses the two rankings with RRF.
func (s *Scorer) fuse(mode Mode, keyword []ranker.ScoredDoc, vectors []vector.Result) []FusedDoc {
	switch mode {
	case ModeKeyword:
		fused := make([]FusedDoc, len(keyword))
		for i, doc := range keyword {
			fused[i] = FusedDoc{DocID: doc.DocID, Score: doc.Score}
		}
		return fused
	case ModeVector:
		fused := make([]FusedDoc, len(vectors))
		for i, res := range vectors {
			fused[i] = FusedDoc{DocID: res.DocID, Score: res.Score}
		}
		return fused
	default:
		keywordList := make(RankedList, len(keyword))
		for i, doc := range keyword {
			keywordList[i] = doc.DocID
		}
		vectorList := make(RankedList, len(vectors))
		for i, res := range vectors {
			vectorList[i] = res.DocID
		}
		k := s.cfg.RRFK
		if k <= 0 {
			k = RRFK
		}
		return FuseRRF(k, keywordList, vectorList)
	}
}

// decorate loads document metadata and builds snippets for the final page.
func (s *Scorer) decorate(ctx context.Context, fused []FusedDoc, tokens []string) ([]Hit, error) {
	docIDs := make([]string, len(fused))
	for i, doc := range fused {
		docIDs[i] = doc.DocID
	}
	docs, err := s.store.Documents(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("loading result documents: %w", err)
	}

	hits := make([]Hit, 0, len(fused))
	for _, f := range fused {
		doc, ok := docs[f.DocID]
		if !ok {
			// The document vanished between ranking and decoration;
			// skip rather than serve a dead hit.
			continue
		}
		hits = append(hits, Hit{
			URL:     doc.URL,
			Title:   doc.Title,
			Snippet: Snippet(doc.Content, tokens),
			Score:   f.Score,
		})
	}
	return hits, nil
}
