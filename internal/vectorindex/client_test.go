package vectorindex

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

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "key", retry.Config{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond})
}

func record(id string) Record {
	return Record{ID: id, Values: []float32{1, 2}, Metadata: Metadata{PageID: "p"}}
}

func TestUpsertBatches(t *testing.T) {
	var sizes []int
	var namespaces []string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vectors/upsert" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req upsertRequest
		json.NewDecoder(r.Body).Decode(&req)
		sizes = append(sizes, len(req.Vectors))
		namespaces = append(namespaces, req.Namespace)
		w.Write([]byte(`{}`))
	}))

	records := make([]Record, 250)
	for i := range records {
		records[i] = record("c" + string(rune('a'+i%26)))
	}
	if err := c.Upsert(context.Background(), "ENG", records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(sizes) != 3 || sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 50 {
		t.Errorf("batch sizes = %v, want [100 100 50]", sizes)
	}
	for _, ns := range namespaces {
		if ns != "ENG" {
			t.Errorf("namespace = %q, want ENG", ns)
		}
	}
}

func TestQuerySortsAndTruncates(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.IncludeMetadata {
			t.Error("query should request metadata")
		}
		json.NewEncoder(w).Encode(queryResponse{Matches: []Match{
			{ID: "zz", Score: 0.5},
			{ID: "aa", Score: 0.5},
			{ID: "mm", Score: 0.9},
			{ID: "bb", Score: 0.1},
		}})
	}))

	matches, err := c.Query(context.Background(), "ENG", []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	wantOrder := []string{"mm", "aa", "zz"}
	for i, want := range wantOrder {
		if matches[i].ID != want {
			t.Errorf("matches[%d].ID = %s, want %s (score desc, ties id asc)", i, matches[i].ID, want)
		}
	}
}

func TestQueryInvalidTopK(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := c.Query(context.Background(), "ENG", []float32{1}, 0)
	if errkind.KindOf(err) != errkind.InvalidArgument {
		t.Errorf("kind = %s, want InvalidArgument", errkind.KindOf(err))
	}
}

func TestQuotaExceededNotRetried(t *testing.T) {
	calls := 0
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := c.Upsert(context.Background(), "ENG", []Record{record("c1")})
	if errkind.KindOf(err) != errkind.IndexQuotaExceeded {
		t.Fatalf("kind = %s, want IndexQuotaExceeded (%v)", errkind.KindOf(err), err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (quota errors must not be retried)", calls)
	}
}

func TestUnavailableRetried(t *testing.T) {
	calls := 0
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))

	if err := c.Delete(context.Background(), "ENG", []string{"c1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDeleteEmptyIDsNoCall(t *testing.T) {
	calls := 0
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	if err := c.Delete(context.Background(), "ENG", nil); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}
