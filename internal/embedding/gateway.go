// Package embedding wraps an OpenAI-compatible embeddings endpoint behind a
// minimal call contract: ordered texts in, ordered fixed-dimension vectors
// out. Batching, rate limiting, retries, and the dimensionality check all
// live here so callers never see a partial or mis-shaped result.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridian-labs/wikidex/internal/errkind"
	"github.com/meridian-labs/wikidex/internal/retry"
)

const maxResponseBytes = 50 << 20

// Config holds the gateway settings, normally taken from
// config.EmbeddingConfig.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimensions        int
	MaxBatch          int
	RequestsPerSecond float64
	Retry             retry.Config
}

// Gateway converts texts into embedding vectors.
type Gateway struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Gateway. Dimensions and MaxBatch must be positive.
func New(cfg Config) (*Gateway, error) {
	if cfg.Dimensions <= 0 {
		return nil, errkind.Newf(errkind.Configuration, "embedding: new gateway", "dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 4
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
	}, nil
}

// Dimensions returns the configured vector width.
func (g *Gateway) Dimensions() int { return g.cfg.Dimensions }

// Embed returns one vector per input text, same order and length. Oversized
// inputs are split into provider-sized batches transparently. Rate-limit
// rejections are retried with backoff; invalid-input rejections surface
// immediately since retrying cannot change the input.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.cfg.MaxBatch {
		end := start + g.cfg.MaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding: embed batch"

	payload, err := json.Marshal(embedRequest{Model: g.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshalling embed request: %w", err)
	}

	var vectors [][]float32
	err = retry.Do(ctx, g.cfg.Retry, op, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(payload))
		if err != nil {
			return errkind.Wrap(errkind.EmbeddingInvalidInput, op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return errkind.Wrap(errkind.EmbeddingRateLimited, op, err)
		}
		defer resp.Body.Close()

		if err := classifyStatus(op, resp.StatusCode); err != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return err
		}

		var decoded embedResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
			return errkind.Wrap(errkind.EmbeddingRateLimited, op, fmt.Errorf("decoding response: %w", err))
		}

		if len(decoded.Data) != len(texts) {
			return errkind.Newf(errkind.EmbeddingInvalidInput, op,
				"provider returned %d vectors for %d inputs", len(decoded.Data), len(texts))
		}

		vectors = make([][]float32, len(texts))
		for _, d := range decoded.Data {
			if d.Index < 0 || d.Index >= len(texts) {
				return errkind.Newf(errkind.EmbeddingInvalidInput, op, "provider returned out-of-range index %d", d.Index)
			}
			if len(d.Embedding) != g.cfg.Dimensions {
				// A width mismatch would silently corrupt the vector index.
				return errkind.Newf(errkind.Configuration, op,
					"provider returned %d-dimensional vector, configured for %d", len(d.Embedding), g.cfg.Dimensions)
			}
			vectors[d.Index] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// classifyStatus maps provider HTTP statuses onto the error taxonomy:
// throttling and server trouble are retryable, request rejections are not.
func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return errkind.Newf(errkind.EmbeddingRateLimited, op, "status %d", status)
	default:
		return errkind.Newf(errkind.EmbeddingInvalidInput, op, "status %d", status)
	}
}
