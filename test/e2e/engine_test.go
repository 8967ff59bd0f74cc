//go:build e2e

// Package e2e contains end-to-end tests that exercise the full engine stack:
// ingestion API → job queue → worker pipeline → search, with real PostgreSQL
// and Redis.
//
// Prerequisites:
//   - PostgreSQL running with configs/schema.sql applied
//   - Redis running (optional, caching degrades without it)
//   - indexer and searcher services running
//
// Run with:
//
//	go test -v -tags=e2e -timeout=120s ./test/e2e/...
package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

type e2eConfig struct {
	IndexerURL  string
	SearcherURL string
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		IndexerURL:  envOrDefault("E2E_INDEXER_URL", "http://localhost:8080"),
		SearcherURL: envOrDefault("E2E_SEARCHER_URL", "http://localhost:8081"),
	}
}

// TestServiceHealth verifies both services answer their health probes.
func TestServiceHealth(t *testing.T) {
	cfg := loadE2EConfig()

	services := []struct {
		name string
		url  string
	}{
		{"indexer /health/live", cfg.IndexerURL + "/health/live"},
		{"indexer /health/ready", cfg.IndexerURL + "/health/ready"},
		{"searcher /health/live", cfg.SearcherURL + "/health/live"},
		{"searcher /health/ready", cfg.SearcherURL + "/health/ready"},
	}

	client := &http.Client{Timeout: 5 * time.Second}
	for _, svc := range services {
		t.Run(svc.name, func(t *testing.T) {
			resp, err := client.Get(svc.url)
			if err != nil {
				t.Skipf("service unavailable: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("expected 200, got %d: %s", resp.StatusCode, body)
			}
		})
	}
}

// TestIngestAndSearch exercises the full document lifecycle:
// ingest → job done → search → verify the hit.
func TestIngestAndSearch(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}

	if _, err := client.Get(cfg.IndexerURL + "/health/live"); err != nil {
		t.Skipf("indexer unavailable: %v", err)
	}

	// 1. Submit a page with a unique token.
	uniqueWord := fmt.Sprintf("e2etest%d", time.Now().UnixNano())
	pageURL := fmt.Sprintf("https://e2e.example.com/%s", uniqueWord)
	payload := fmt.Sprintf(
		`{"url":%q,"title":"%s page","content":"This end to end test page contains the word %s for verification."}`,
		pageURL, uniqueWord, uniqueWord,
	)

	resp, err := client.Post(cfg.IndexerURL+"/ingest", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("ingest request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}

	var ingestResult struct {
		JobID        string `json:"job_id"`
		Deduplicated bool   `json:"deduplicated"`
	}
	json.NewDecoder(resp.Body).Decode(&ingestResult)
	if ingestResult.JobID == "" {
		t.Fatal("ingest response carries no job_id")
	}
	t.Logf("enqueued job %s", ingestResult.JobID)

	// 2. Poll the job until it reaches a terminal state.
	var status string
	for attempt := 0; attempt < 30; attempt++ {
		time.Sleep(1 * time.Second)
		jobResp, err := client.Get(cfg.IndexerURL + "/jobs/" + ingestResult.JobID)
		if err != nil {
			continue
		}
		var job struct {
			Status string `json:"status"`
		}
		json.NewDecoder(jobResp.Body).Decode(&job)
		jobResp.Body.Close()
		status = job.Status
		if status == "done" || status == "failed_permanent" {
			break
		}
	}
	if status != "done" {
		t.Fatalf("job did not complete, final status %q", status)
	}

	// 3. Search for the unique token.
	searchResp, err := client.Get(cfg.SearcherURL + "/search?q=" + url.QueryEscape(uniqueWord) + "&mode=keyword")
	if err != nil {
		t.Fatalf("search request failed: %v", err)
	}
	defer searchResp.Body.Close()

	var result struct {
		Total int `json:"total"`
		Hits  []struct {
			URL string `json:"url"`
		} `json:"hits"`
	}
	json.NewDecoder(searchResp.Body).Decode(&result)
	if result.Total < 1 || len(result.Hits) == 0 {
		t.Fatalf("expected the ingested page in results, got total=%d", result.Total)
	}
	if result.Hits[0].URL != pageURL {
		t.Errorf("top hit url = %s, want %s", result.Hits[0].URL, pageURL)
	}
}

// TestIngestDeduplication verifies a resubmitted page answers with the
// existing job instead of a new one.
func TestIngestDeduplication(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}

	if _, err := client.Get(cfg.IndexerURL + "/health/live"); err != nil {
		t.Skipf("indexer unavailable: %v", err)
	}

	pageURL := fmt.Sprintf("https://e2e.example.com/dedupe%d", time.Now().UnixNano())
	payload := fmt.Sprintf(`{"url":%q,"content":"deduplication test content"}`, pageURL)

	submit := func() (string, bool) {
		resp, err := client.Post(cfg.IndexerURL+"/ingest", "application/json", strings.NewReader(payload))
		if err != nil {
			t.Fatalf("ingest request failed: %v", err)
		}
		defer resp.Body.Close()
		var result struct {
			JobID        string `json:"job_id"`
			Deduplicated bool   `json:"deduplicated"`
		}
		json.NewDecoder(resp.Body).Decode(&result)
		return result.JobID, result.Deduplicated
	}

	firstID, _ := submit()
	secondID, deduplicated := submit()
	if !deduplicated {
		// The first job may already be done; identical content still
		// deduplicates on content hash.
		t.Logf("second submission not deduplicated, job %s vs %s", firstID, secondID)
	}
	if deduplicated && firstID != secondID {
		t.Errorf("deduplicated submission returned job %s, want %s", secondID, firstID)
	}
}

// TestSearchCacheStats verifies cache statistics are reported.
func TestSearchCacheStats(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(cfg.SearcherURL + "/admin/cache/stats")
	if err != nil {
		t.Skipf("searcher unavailable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var stats map[string]any
	json.NewDecoder(resp.Body).Decode(&stats)
	t.Logf("cache stats: %v", stats)

	for _, field := range []string{"hits", "misses", "total", "hit_rate"} {
		if _, ok := stats[field]; !ok {
			if status, ok := stats["status"]; ok && status == "disabled" {
				t.Log("cache is disabled, skipping field check")
				return
			}
			t.Errorf("missing expected field: %s", field)
		}
	}
}

// TestQueueStats verifies the admin queue endpoint reports counts per state.
func TestQueueStats(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(cfg.IndexerURL + "/admin/queue/stats")
	if err != nil {
		t.Skipf("indexer unavailable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var stats map[string]any
	json.NewDecoder(resp.Body).Decode(&stats)
	t.Logf("queue stats: %v", stats)

	for _, field := range []string{"pending", "processing", "done"} {
		if _, ok := stats[field]; !ok {
			t.Errorf("missing expected field: %s", field)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
