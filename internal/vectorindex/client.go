// Package vectorindex talks to a Pinecone-style remote similarity index:
// upsert, delete, and query of chunk vectors, namespaced by knowledge space
// so tenants stay isolated at the index layer.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/meridian-labs/wikidex/internal/errkind"
	"github.com/meridian-labs/wikidex/internal/retry"
)

const (
	upsertBatchSize  = 100
	deleteBatchSize  = 1000
	maxResponseBytes = 50 << 20
)

// Metadata is the payload stored with each vector so query results carry
// source attribution without re-fetching from the wiki.
type Metadata struct {
	PageID       string `json:"page_id"`
	SpaceKey     string `json:"space_key"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	LastModified string `json:"last_modified"`
	Seq          int    `json:"seq"`
	Text         string `json:"text"`
}

// Record is one chunk vector keyed by chunk id. Upsert overwrites records
// with the same id.
type Record struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

// Match is one query result, highest similarity first.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Client is the HTTP client for the index service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retryCfg   retry.Config
}

// New creates a Client for the index at baseURL.
func New(baseURL, apiKey string, retryCfg retry.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryCfg:   retryCfg,
	}
}

// post sends one JSON request with retries and decodes the response into
// out (which may be nil for write calls).
func (c *Client) post(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s request: %w", path, err)
	}

	return retry.Do(ctx, c.retryCfg, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return errkind.Wrap(errkind.InvalidArgument, op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errkind.Wrap(errkind.IndexUnavailable, op, err)
		}
		defer resp.Body.Close()

		if err := classifyStatus(op, resp.StatusCode); err != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return err
		}

		if out == nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
			return errkind.Wrap(errkind.IndexUnavailable, op, fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
}

// classifyStatus maps index statuses onto the taxonomy: quota rejections are
// terminal, everything else unhealthy is transient.
func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errkind.Newf(errkind.IndexQuotaExceeded, op, "status %d", status)
	default:
		return errkind.Newf(errkind.IndexUnavailable, op, "status %d", status)
	}
}

type upsertRequest struct {
	Vectors   []Record `json:"vectors"`
	Namespace string   `json:"namespace"`
}

// Upsert writes records into the namespace, split into provider-sized
// batches. Writing the same chunk id twice overwrites.
func (c *Client) Upsert(ctx context.Context, namespace string, records []Record) error {
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		req := upsertRequest{Vectors: records[start:end], Namespace: namespace}
		if err := c.post(ctx, "index: upsert "+namespace, "/vectors/upsert", req, nil); err != nil {
			return err
		}
	}
	return nil
}

type deleteRequest struct {
	IDs       []string `json:"ids"`
	Namespace string   `json:"namespace"`
}

// Delete removes the given chunk ids from the namespace. Missing ids are
// not an error; delete is idempotent.
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) error {
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		req := deleteRequest{IDs: ids[start:end], Namespace: namespace}
		if err := c.post(ctx, "index: delete "+namespace, "/vectors/delete", req, nil); err != nil {
			return err
		}
	}
	return nil
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Query returns up to topK matches sorted by descending similarity. Equal
// scores are ordered by chunk id ascending so identical queries against an
// unchanged index return identical orderings regardless of what the remote
// service does with ties.
func (c *Client) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, errkind.Newf(errkind.InvalidArgument, "index: query", "topK must be positive, got %d", topK)
	}

	req := queryRequest{Vector: vector, TopK: topK, Namespace: namespace, IncludeMetadata: true}
	var resp queryResponse
	if err := c.post(ctx, "index: query "+namespace, "/query", req, &resp); err != nil {
		return nil, err
	}

	matches := resp.Matches
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
