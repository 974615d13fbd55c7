// Package ml talks to the embedding service.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/crypto-morph/newsfinder/internal/ports"
)

// Client embeds text through an Ollama-compatible /api/embed endpoint.
type Client struct {
	endpoint   string
	model      string
	dimensions int
	http       *http.Client
	limiter    *rate.Limiter
}

var _ ports.Embedder = (*Client)(nil)

// NewClient creates a reusable HTTP client. dimensions, when positive, is enforced on every vector.
func NewClient(endpoint, model string, dimensions int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		dimensions: dimensions,
		http:       &http.Client{Timeout: timeout},
	}
}

// WithRateLimit paces embedding calls.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
	return c
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embed: empty text")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed rate limit: %w", err)
		}
	}

	var resp embedResponse
	if err := c.post(ctx, "/api/embed", embedRequest{Model: c.model, Input: []string{text}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errors.New("embed: empty vector")
	}
	vec := resp.Embeddings[0]
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return nil, fmt.Errorf("embed: got %d dimensions, want %d", len(vec), c.dimensions)
	}
	return vec, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
