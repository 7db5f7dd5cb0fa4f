// Package summarize calls the external summarization-and-decision service.
//
// The service is a black box from the pipeline's perspective: content in,
// {summary, should_post} out, no side effects. The caller must honor
// should_post=false by emitting nothing. A failed call is a processing error
// for the event, never a reason to fabricate placeholder content.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 60 * time.Second

	// defaultMaxAttempts bounds retries against a flaky summarizer.
	defaultMaxAttempts = 3

	// defaultStepBudget caps the internal retrieval round-trips the
	// service may take per request.
	defaultStepBudget = 8
)

// Request is one summarization-and-decision call.
type Request struct {
	Content         string `json:"content"`
	PostingCriteria string `json:"posting_criteria"`
	MaxSteps        int    `json:"max_steps"`
}

// Response is the structured decision from the service.
type Response struct {
	Summary    string `json:"summary"`
	ShouldPost bool   `json:"should_post"`
	Title      string `json:"title,omitempty"`
}

// Client talks to the summarizer over HTTP.
type Client struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	maxAttempts int
	stepBudget  int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithStepBudget overrides the per-request tool-call step cap.
func WithStepBudget(n int) Option {
	return func(c *Client) { c.stepBudget = n }
}

// NewClient creates a summarizer client for the given endpoint.
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		stepBudget:  defaultStepBudget,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summarize sends one request and returns the structured decision. Transient
// failures (network errors, 5xx) are retried up to the attempt budget with a
// short backoff; 4xx responses fail immediately.
func (c *Client) Summarize(ctx context.Context, req Request) (*Response, error) {
	if req.MaxSteps == 0 {
		req.MaxSteps = c.stepBudget
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		resp, retryable, err := c.send(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("summarize failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) send(ctx context.Context, body []byte) (*Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		retryable := httpResp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("summarizer returned %d: %s", httpResp.StatusCode, string(respBody))
	}

	var out Response
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, false, nil
}

// Summarizer is the capability processors depend on. *Client implements it;
// tests substitute a stub.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (*Response, error)
}

var _ Summarizer = (*Client)(nil)
