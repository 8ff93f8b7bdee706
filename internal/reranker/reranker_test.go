package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func Test_HTTPReranker_ScoresPlacedByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Query == "" {
			t.Error("query missing from request")
		}
		// Return results sorted by score, not input order.
		_ = json.NewEncoder(w).Encode([]rerankResult{
			{Index: 2, Score: 0.9},
			{Index: 0, Score: 0.4},
			{Index: 1, Score: 0.1},
		})
	}))
	t.Cleanup(srv.Close)

	rr := New(&Config{Endpoint: srv.URL})

	scores, err := rr.Score(context.Background(), "fastest growing crop", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	want := []float32{0.4, 0.1, 0.9}
	for i, w := range want {
		if scores[i] != w {
			t.Errorf("score[%d]: want %v, got %v", i, w, scores[i])
		}
	}
}

func Test_HTTPReranker_EmptyInputSkipsRequest(t *testing.T) {
	t.Parallel()

	rr := New(&Config{Endpoint: "http://invalid.test"})

	scores, err := rr.Score(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("score on empty input: %v", err)
	}
	if scores != nil {
		t.Errorf("want nil scores, got %v", scores)
	}
}

func Test_HTTPReranker_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	rr := New(&Config{Endpoint: srv.URL})

	if _, err := rr.Score(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatal("want error on HTTP 503")
	}
}

func Test_HTTPReranker_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]rerankResult{{Index: 0, Score: 0.5}})
	}))
	t.Cleanup(srv.Close)

	rr := New(&Config{Endpoint: srv.URL})

	if _, err := rr.Score(context.Background(), "q", []string{"a", "b"}); err == nil {
		t.Fatal("want error when score count does not match input count")
	}
}
