package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"riskforge/internal/autonomous"
)

// IncidentClient posts completed response actions to an incident
// management endpoint. It implements the dispatcher's incident
// reporting contract.
type IncidentClient struct {
	url    string
	apiKey string
	client *http.Client
}

// NewIncidentClient creates an incident management client.
func NewIncidentClient(url, apiKey string) *IncidentClient {
	return &IncidentClient{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ReportIncident files an incident record for a completed action.
func (c *IncidentClient) ReportIncident(ctx context.Context, action *autonomous.Action) error {
	payload := map[string]interface{}{
		"source":      "riskforge",
		"action_id":   action.ActionID,
		"action_type": action.ActionType,
		"target_id":   action.TargetID,
		"target_type": action.TargetType,
		"priority":    action.Priority,
		"executed_at": action.ExecutedAt,
		"result":      action.Result,
	}
	return c.post(ctx, payload)
}

func (c *IncidentClient) post(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("incident request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("incident endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// ThreatClient forwards completed response actions to a threat analytics
// endpoint for offline pattern analysis.
type ThreatClient struct {
	url    string
	client *http.Client
}

// NewThreatClient creates a threat analytics client.
func NewThreatClient(url string) *ThreatClient {
	return &ThreatClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AnalyzeAction submits a completed action for analysis.
func (c *ThreatClient) AnalyzeAction(ctx context.Context, action *autonomous.Action) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("threat analytics request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("threat analytics endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
