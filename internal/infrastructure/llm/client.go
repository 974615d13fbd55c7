// Package llm talks to OpenAI-compatible chat completion endpoints for article
// analysis and second-opinion verification.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 120 * time.Second
)

// Config captures the runtime settings required to talk to the model.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	// Identity names the client in verdicts and metrics. Defaults to the model name.
	Identity string
}

// Client implements ports.AnalysisClient and ports.VerificationClient.
// Each call is a single attempt; retries belong to the caller.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	observe    func(status string)
}

var (
	_ ports.AnalysisClient     = (*Client)(nil)
	_ ports.VerificationClient = (*Client)(nil)
)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit paces requests to at most rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithObserver receives "ok" or "error" after every request.
func WithObserver(fn func(status string)) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// NewClient builds a client from configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Identity == "" {
		cfg.Identity = cfg.Model
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity names the model behind this client.
func (c *Client) Identity() string {
	return c.cfg.Identity
}

// Analyze asks the model for a summary, scores and tags.
func (c *Client) Analyze(ctx context.Context, text string, company domain.CompanyContext) (ports.RawAnalysis, error) {
	var out ports.RawAnalysis
	content, err := c.CompleteJSON(ctx, analysisSystemPrompt, analysisUserPrompt(text, company))
	if err != nil {
		return out, err
	}
	if err := DecodeJSON(content, &out); err != nil {
		return out, fmt.Errorf("llm analyze: parse payload: %w", err)
	}
	out.Model = c.cfg.Model
	return out, nil
}

// Verify asks the model to audit an existing analysis.
func (c *Client) Verify(ctx context.Context, text string, article domain.AnalyzedArticle, company domain.CompanyContext) (ports.RawVerdict, error) {
	var out ports.RawVerdict
	content, err := c.CompleteJSON(ctx, verificationSystemPrompt, verificationUserPrompt(text, article, company))
	if err != nil {
		return out, err
	}
	if err := DecodeJSON(content, &out); err != nil {
		return out, fmt.Errorf("llm verify: parse payload: %w", err)
	}
	return out, nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CompleteJSON issues one JSON-only chat completion and returns the message content.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.cfg.Endpoint == "" || c.cfg.Model == "" {
		return "", errors.New("llm client misconfigured: endpoint and model required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm rate limit: %w", err)
		}
	}

	content, err := c.complete(ctx, chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	})
	if c.observe != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.observe(status)
	}
	return content, err
}

func (c *Client) complete(ctx context.Context, payload chatCompletionRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal llm payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("llm error %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("llm api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", errors.New("llm response: empty content")
}

// DecodeJSON decodes a model payload, tolerating markdown code fences and prose around
// the object. Numbers are kept as json.Number so scores can be checked for fractions.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := decodeNumbers(trimmed, target)
	if directErr == nil {
		return nil
	}
	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return directErr
	}
	return decodeNumbers(sanitized, target)
}

func decodeNumbers(payload string, target any) error {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	return dec.Decode(target)
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" || trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return trimmed[start : end+1]
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(content), "```")
}
