package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meridian-labs/wikidex/internal/errkind"
	"github.com/meridian-labs/wikidex/internal/retry"
)

func testGateway(t *testing.T, dims, maxBatch int, handler http.Handler) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := New(Config{
		BaseURL:           srv.URL,
		Model:             "test-embed",
		Dimensions:        dims,
		MaxBatch:          maxBatch,
		RequestsPerSecond: 1000,
		Retry:             retry.Config{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

// echoHandler returns a deterministic vector per input, derived from its
// batch index, in shuffled response order to exercise index reassembly.
func echoHandler(dims int, batches *[][]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if batches != nil {
			*batches = append(*batches, req.Input)
		}

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = float32(i)
			// Reverse order in the response; the gateway must reorder by index.
			data[len(req.Input)-1-i] = map[string]any{"index": i, "embedding": vec}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
}

func TestEmbedPreservesOrder(t *testing.T) {
	g := testGateway(t, 4, 100, echoHandler(4, nil))

	vecs, err := g.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vector %d out of order: marker = %g", i, v[0])
		}
		if len(v) != 4 {
			t.Errorf("vector %d has %d dims, want 4", i, len(v))
		}
	}
}

func TestEmbedSplitsBatches(t *testing.T) {
	var batches [][]string
	g := testGateway(t, 2, 2, echoHandler(2, &batches))

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := g.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 5 {
		t.Fatalf("got %d vectors, want 5", len(vecs))
	}
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3 (2+2+1)", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 2 || len(batches[2]) != 1 {
		t.Errorf("batch sizes = %d/%d/%d, want 2/2/1", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	g := testGateway(t, 4, 100, echoHandler(4, nil))
	vecs, err := g.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("Embed(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestEmbedDimensionMismatchFatal(t *testing.T) {
	calls := 0
	g := testGateway(t, 8, 100, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1, 2, 3}}},
		})
	}))

	_, err := g.Embed(context.Background(), []string{"a"})
	if errkind.KindOf(err) != errkind.Configuration {
		t.Fatalf("kind = %s, want Configuration (%v)", errkind.KindOf(err), err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (configuration errors must not be retried)", calls)
	}
}

func TestEmbedRateLimitRetried(t *testing.T) {
	calls := 0
	g := testGateway(t, 2, 100, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1, 2}}},
		})
	}))

	vecs, err := g.Embed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(vecs) != 1 {
		t.Errorf("got %d vectors, want 1", len(vecs))
	}
}

func TestEmbedInvalidInputNotRetried(t *testing.T) {
	calls := 0
	g := testGateway(t, 2, 100, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := g.Embed(context.Background(), []string{"a"})
	if errkind.KindOf(err) != errkind.EmbeddingInvalidInput {
		t.Fatalf("kind = %s, want EmbeddingInvalidInput (%v)", errkind.KindOf(err), err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (invalid input must not be retried)", calls)
	}
}

func TestNewRejectsZeroDimensions(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x", Dimensions: 0})
	if errkind.KindOf(err) != errkind.Configuration {
		t.Errorf("kind = %s, want Configuration", errkind.KindOf(err))
	}
}
