// Package vector provides the embedding store and the external embedding
// provider client. Vector search is a best-effort leg of hybrid scoring:
// provider absence or failure degrades results instead of failing requests.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mizuchi-search/mizuchi/pkg/config"
	apperrors "github.com/mizuchi-search/mizuchi/pkg/errors"
	"github.com/mizuchi-search/mizuchi/pkg/resilience"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint. Calls are
// bounded by a timeout, retried with backoff, and guarded by a circuit
// breaker so a dead provider fails fast instead of stalling every job.
type HTTPEmbedder struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPEmbedder creates an embedding client from config.
func NewHTTPEmbedder(cfg config.EmbeddingConfig) *HTTPEmbedder {
	return &HTTPEmbedder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker("embedding-provider", resilience.CircuitBreakerConfig{}),
		logger:  slog.Default().With("component", "embedder"),
	}
}

func (e *HTTPEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests a vector for text. Oversized input is truncated to the
// configured character cap before the call. All provider failures, including
// timeouts, come back wrapped in ErrProviderUnavailable.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.cfg.Enabled() {
		return nil, fmt.Errorf("%w: no endpoint configured", apperrors.ErrProviderUnavailable)
	}
	if e.cfg.MaxChars > 0 && len(text) > e.cfg.MaxChars {
		text = text[:e.cfg.MaxChars]
	}

	var embedding []float32
	err := e.breaker.Execute(func() error {
		return resilience.Retry(ctx, "embed", resilience.RetryConfig{MaxAttempts: 2}, func() error {
			return resilience.WithTimeout(ctx, e.cfg.Timeout, "embed", func(ctx context.Context) error {
				var callErr error
				embedding, callErr = e.call(ctx, text)
				return callErr
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrProviderUnavailable, err)
	}
	if e.cfg.Dimensions > 0 && len(embedding) != e.cfg.Dimensions {
		return nil, fmt.Errorf("%w: provider returned %d dimensions, want %d",
			apperrors.ErrProviderUnavailable, len(embedding), e.cfg.Dimensions)
	}
	return embedding, nil
}

func (e *HTTPEmbedder) call(ctx context.Context, text string) ([]float32, error) {
	return callEmbeddings(ctx, e.client, e.cfg, text)
}

func callEmbeddings(ctx context.Context, client *http.Client, cfg config.EmbeddingConfig, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("encoding embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding provider returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("embedding provider returned no data (latency %v)", time.Since(start))
	}
	return decoded.Data[0].Embedding, nil
}
