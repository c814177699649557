// Package connector pulls activity telemetry from an upstream security
// gateway and feeds it into the processing pipeline. Gateways expose a
// polling API over HTTP; records are normalized into the canonical
// event schema before they enter the pipeline.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client provides access to the upstream gateway activity API.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
}

// ClientConfig holds configuration for the gateway client.
type ClientConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:      "http://localhost:9200",
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

// NewClient creates a new gateway client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Health describes the upstream gateway status.
type Health struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	PendingRecords int64  `json:"pending_records"`
}

// ActivityRecord is one raw activity observation from the gateway.
type ActivityRecord struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Kind         string         `json:"kind"`
	SourceSystem string         `json:"source_system"`
	Actor        string         `json:"actor,omitempty"`
	Resource     string         `json:"resource,omitempty"`
	Direction    string         `json:"direction,omitempty"`
	Privilege    string         `json:"privilege,omitempty"`
	Bytes        int64          `json:"bytes,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Blocked      bool           `json:"blocked,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
}

type activityResponse struct {
	Records []ActivityRecord `json:"records"`
	HasMore bool             `json:"has_more"`
}

// GetHealth fetches the gateway health endpoint.
func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.get(ctx, "/v1/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetActivity fetches activity records newer than since, up to limit.
// The second return value reports whether more records are waiting.
func (c *Client) GetActivity(ctx context.Context, since time.Time, limit int) ([]ActivityRecord, bool, error) {
	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339Nano))
	params.Set("limit", fmt.Sprintf("%d", limit))

	var resp activityResponse
	if err := c.get(ctx, "/v1/activity", params, &resp); err != nil {
		return nil, false, err
	}
	return resp.Records, resp.HasMore, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		lastErr = fmt.Errorf("gateway returned status %d", resp.StatusCode)
		// Client errors will not resolve on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
	}

	return fmt.Errorf("request to %s failed after %d attempts: %w", path, c.maxRetries+1, lastErr)
}
