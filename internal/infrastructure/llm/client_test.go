package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat["type"] != jsonResponseType {
			t.Errorf("expected json response format, got %v", req.ResponseFormat)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAnalyzeKeepsNumbersExact(t *testing.T) {
	t.Parallel()

	server := completionServer(t, "```json\n{\"summary\":\"s\",\"relevance_score\":7.5,\"impact_score\":8,\"key_entities\":[\"Acme\"]}\n```")
	client := NewClient(Config{Endpoint: server.URL, Model: "primary", APIKey: "secret"})

	raw, err := client.Analyze(context.Background(), "text", domain.CompanyContext{Name: "Acme"})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if raw.RelevanceScore != json.Number("7.5") {
		t.Fatalf("expected json.Number 7.5, got %#v", raw.RelevanceScore)
	}
	if raw.ImpactScore != json.Number("8") {
		t.Fatalf("expected json.Number 8, got %#v", raw.ImpactScore)
	}
	if raw.Model != "primary" {
		t.Fatalf("expected model primary, got %q", raw.Model)
	}
}

func TestVerifyParsesVerdict(t *testing.T) {
	t.Parallel()

	server := completionServer(t, `Here you go: {"agrees":false,"relevance_score":3,"impact_score":4,"hallucination_flags":["x"],"reasoning":"r"}`)
	var calls atomic.Int32
	client := NewClient(
		Config{Endpoint: server.URL, Model: "verifier", APIKey: "secret", Identity: "verifier-v1"},
		WithRateLimit(100, 1),
		WithObserver(func(status string) {
			if status == "ok" {
				calls.Add(1)
			}
		}),
	)

	raw, err := client.Verify(context.Background(), "text", domain.AnalyzedArticle{SummaryText: "s"}, domain.CompanyContext{})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if raw.Agrees == nil || *raw.Agrees {
		t.Fatalf("expected agrees=false, got %v", raw.Agrees)
	}
	if client.Identity() != "verifier-v1" {
		t.Fatalf("unexpected identity %q", client.Identity())
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one observed call, got %d", calls.Load())
	}
}

func TestCompleteJSONHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, Model: "m"})
	_, err := client.CompleteJSON(context.Background(), "sys", "user")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestCompleteJSONEmptyContent(t *testing.T) {
	t.Parallel()

	server := completionServer(t, "   ")
	client := NewClient(Config{Endpoint: server.URL, Model: "m", APIKey: "secret"})
	if _, err := client.CompleteJSON(context.Background(), "sys", "user"); err == nil {
		t.Fatal("expected empty content error")
	}
}

func TestMisconfiguredClient(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{})
	if _, err := client.Analyze(context.Background(), "text", domain.CompanyContext{}); err == nil {
		t.Fatal("expected misconfiguration error")
	}
}

func TestPromptsCarryContext(t *testing.T) {
	t.Parallel()

	company := domain.CompanyContext{Name: "Acme Health", Competitors: []string{"BetaCorp"}}
	prompt := analysisUserPrompt("Rival news", company)
	for _, want := range []string{"Acme Health", "BetaCorp", "Rival news", "relevance_score"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("analysis prompt missing %q", want)
		}
	}

	verify := verificationUserPrompt("Rival news", domain.AnalyzedArticle{Scores: domain.Scores{Relevance: 9, Impact: 2}}, company)
	if !strings.Contains(verify, "relevance_score: 9") || !strings.Contains(verify, "impact_score: 2") {
		t.Fatalf("verification prompt missing original scores: %s", verify)
	}
}
