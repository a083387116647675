package ml

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

	"ReviewInsights/internal/analysis"
	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

const maxResponseBytes = 1 << 20

// Client talks to a self-hosted sentiment service that accepts a batch of
// review texts and answers with the sentiment JSON document.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Analyzer = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Analyze posts the batch to /analyze and returns the response body verbatim.
func (c *Client) Analyze(ctx context.Context, texts []string) (string, error) {
	reviews := make([]string, len(texts))
	for i, text := range texts {
		reviews[i] = analysis.PlainText(text)
	}

	payload := map[string]any{
		"reviews":       reviews,
		"deterministic": true,
	}

	return c.post(ctx, "/analyze", payload)
}

func (c *Client) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &domain.CapabilityError{Kind: domain.ErrTransient, Err: fmt.Errorf("do request: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return "", &domain.CapabilityError{
			Kind:       domain.ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		_ = resp.Body.Close()
		return "", &domain.CapabilityError{Kind: domain.ErrTransient, Err: fmt.Errorf("read response: %w", err)}
	}

	if err := resp.Body.Close(); err != nil {
		return "", fmt.Errorf("close response body: %w", err)
	}

	return string(raw), nil
}
