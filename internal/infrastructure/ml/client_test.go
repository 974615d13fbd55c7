package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmbed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" || len(req.Input) != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.5, 0.25, 0.125}}})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "nomic-embed-text", 3, time.Second).WithRateLimit(50, 1)
	vec, err := client.Embed(context.Background(), "summary")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.5 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "m", 768, time.Second).Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestEmbedFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "m", 0, time.Second)
	if _, err := client.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected status error")
	}
	if _, err := client.Embed(context.Background(), "  "); err == nil {
		t.Fatal("expected empty text error")
	}
}
