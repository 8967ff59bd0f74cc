package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mizuchi-search/mizuchi/internal/scorer"
	"github.com/mizuchi-search/mizuchi/pkg/config"
	"github.com/mizuchi-search/mizuchi/pkg/metrics"
)

type stubSearcher struct {
	lastQuery string
	lastLimit int
	lastPage  int
	lastMode  scorer.Mode
	resp      scorer.Response
	err       error
}

func (s *stubSearcher) Search(_ context.Context, query string, limit, page int, mode scorer.Mode) (scorer.Response, error) {
	s.lastQuery, s.lastLimit, s.lastPage, s.lastMode = query, limit, page, mode
	return s.resp, s.err
}

func newHandler(stub *stubSearcher) *Handler {
	cfg := config.SearchConfig{MaxResults: 50, DefaultLimit: 10}
	return New(stub, nil, cfg, metrics.NewWith(prometheus.NewRegistry()))
}

func TestSearchDefaults(t *testing.T) {
	stub := &stubSearcher{resp: scorer.Response{Query: "go", Page: 1, PerPage: 10, LastPage: 1, Hits: []scorer.Hit{}}}
	h := newHandler(stub)

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest("GET", "/search?q=go", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if stub.lastLimit != 10 || stub.lastPage != 1 || stub.lastMode != scorer.ModeHybrid {
		t.Errorf("defaults not applied: limit=%d page=%d mode=%s", stub.lastLimit, stub.lastPage, stub.lastMode)
	}
	var resp scorer.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
}

func TestSearchClampsLimit(t *testing.T) {
	stub := &stubSearcher{}
	h := newHandler(stub)

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest("GET", "/search?q=go&limit=500", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if stub.lastLimit != 50 {
		t.Errorf("limit = %d, want clamped to 50", stub.lastLimit)
	}
}

func TestSearchRejectsBadParams(t *testing.T) {
	h := newHandler(&stubSearcher{})

	cases := []string{
		"/search",
		"/search?q=go&limit=0",
		"/search?q=go&limit=abc",
		"/search?q=go&page=-1",
		"/search?q=go&mode=fuzzy",
	}
	for _, target := range cases {
		rec := httptest.NewRecorder()
		h.Search(rec, httptest.NewRequest("GET", target, nil))
		if rec.Code != 400 {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestSearchPassesModeAndPage(t *testing.T) {
	stub := &stubSearcher{}
	h := newHandler(stub)

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest("GET", "/search?q=go&mode=keyword&page=3", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if stub.lastMode != scorer.ModeKeyword || stub.lastPage != 3 {
		t.Errorf("mode=%s page=%d", stub.lastMode, stub.lastPage)
	}
}

func TestCacheStatsDisabled(t *testing.T) {
	h := newHandler(&stubSearcher{})

	rec := httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest("GET", "/admin/cache/stats", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "disabled" {
		t.Errorf("body = %v", body)
	}
}

func TestCacheInvalidateDisabled(t *testing.T) {
	h := newHandler(&stubSearcher{})

	rec := httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest("POST", "/admin/cache/invalidate", nil))
	if rec.Code != 503 {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
