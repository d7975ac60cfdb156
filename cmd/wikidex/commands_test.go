package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"kind":"NotFound","message":"not found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSyncRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/sync": `{"space_key":"ENG","pages_processed":3,"pages_failed":[],"pages_skipped":1,"chunks_upserted":12,"chunks_deleted":2}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/v1/sync", map[string]any{
		"space_key": "ENG",
		"full_sync": true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		PagesProcessed int `json:"pages_processed"`
		ChunksUpserted int `json:"chunks_upserted"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.PagesProcessed != 3 || result.ChunksUpserted != 12 {
		t.Errorf("result = %+v", result)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["space_key"] != "ENG" || body["full_sync"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestSearchRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/search": `{"query":"deploy","space_key":"ENG","results":[{"text":"run deploy","score":0.9,"page_title":"Runbook","page_url":"https://wiki/p1"}]}`,
	})

	resp, err := ts.client().post(ctx, "/v1/search", map[string]any{
		"query":     "deploy",
		"space_key": "ENG",
		"top_k":     5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Results []struct {
			PageTitle string  `json:"page_title"`
			Score     float64 `json:"score"`
		} `json:"results"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(result.Results) != 1 || result.Results[0].PageTitle != "Runbook" {
		t.Errorf("results = %+v", result.Results)
	}
}

func TestDecodeJSONSurfacesServerErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/v1/missing")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "NotFound") {
		t.Errorf("error = %q, want status and kind mentioned", err.Error())
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet("short  text", 100); got != "short text" {
		t.Errorf("snippet = %q", got)
	}
	long := strings.Repeat("界x", 100)
	got := snippet(long, 10)
	if len([]rune(got)) != 13 || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet truncation = %q", got)
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "hello"); strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorGreen, "hello"); !strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestSearchCommandRequiresSpace(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"search", "some query"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing --space")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}
