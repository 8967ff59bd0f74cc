// Package ingest exposes the ingestion surface of the indexer: an HTTP API
// and a Kafka consumer, both feeding the same job queue.
package ingest

// IngestRequest is a document submission from the crawler.
type IngestRequest struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Outlinks []string `json:"outlinks"`
}

// IngestResponse acknowledges an accepted submission.
type IngestResponse struct {
	JobID        string `json:"job_id"`
	Deduplicated bool   `json:"deduplicated"`
}

// JobStatusResponse is returned by the job status endpoint.
type JobStatusResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	LastError    string `json:"last_error,omitempty"`
}
