// Package api provides the HTTP client for the riskforge analyst API.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client handles communication with the riskforge backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new API client. The API key is optional and sent
// in the X-API-Key header when set.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Finding is the subset of finding fields shown in the TUI.
type Finding struct {
	FindingID       string     `json:"finding_id"`
	Title           string     `json:"title"`
	FindingType     string     `json:"finding_type"`
	Severity        string     `json:"severity"`
	RiskScore       float64    `json:"risk_score"`
	PrimaryEntityID string     `json:"primary_entity_id"`
	Status          string     `json:"status"`
	EvidenceCount   int        `json:"evidence_count"`
	OccurrenceCount int        `json:"occurrence_count"`
	SLADueAt        *time.Time `json:"sla_due_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FindingList is the paginated finding listing response.
type FindingList struct {
	Findings []Finding `json:"findings"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// RiskNode is a graph node with its current risk scores.
type RiskNode struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	NodeType         string  `json:"node_type"`
	ExposureScore    float64 `json:"exposure_score"`
	VolatilityScore  float64 `json:"volatility_score"`
	SensitivityScore float64 `json:"sensitivity_score"`
}

// RiskNodeList is the high risk node listing response.
type RiskNodeList struct {
	Nodes     []RiskNode `json:"nodes"`
	Threshold float64    `json:"threshold"`
}

// RiskEvent is a risk state transition emitted by the autonomous monitor.
type RiskEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	NodeID        string    `json:"node_id"`
	NodeType      string    `json:"node_type"`
	RiskScore     float64   `json:"risk_score"`
	PreviousScore float64   `json:"previous_score"`
	State         string    `json:"risk_state"`
	Trend         string    `json:"trend"`
	Details       string    `json:"details,omitempty"`
	ActionsTaken  []string  `json:"actions_taken,omitempty"`
}

// RiskEventList is the risk event listing response.
type RiskEventList struct {
	Events []RiskEvent `json:"events"`
	Count  int         `json:"count"`
}

// RiskStats summarizes the autonomous monitor state.
type RiskStats struct {
	MonitoredNodes  int            `json:"monitored_nodes"`
	StateCounts     map[string]int `json:"state_distribution"`
	TotalEvents     int            `json:"total_events"`
	ActionsThisHour int            `json:"actions_this_hour"`
	AutoRemediate   bool           `json:"auto_remediate"`
}

// Stats is the combined /v1/stats response. Actions maps response
// action status to count.
type Stats struct {
	Risk         *RiskStats     `json:"risk,omitempty"`
	Actions      map[string]int `json:"actions,omitempty"`
	OpenFindings int            `json:"open_findings"`
}

// Health is the backend health response, plus connection metadata the
// scenes render.
type Health struct {
	Status    string `json:"status"`
	Connected bool   `json:"-"`
	Reason    string `json:"-"`
}

func (c *Client) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetHealth fetches backend health.
func (c *Client) GetHealth() *Health {
	h := &Health{}
	if err := c.get("/healthz", h); err != nil {
		h.Status = "unreachable"
		h.Reason = err.Error()
		return h
	}
	h.Connected = true
	return h
}

// GetStats fetches the combined stats for the dashboard.
func (c *Client) GetStats() (*Stats, error) {
	stats := &Stats{}
	if err := c.get("/v1/stats", stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetFindings fetches recent findings, newest first.
func (c *Client) GetFindings(status string, limit int) (*FindingList, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	list := &FindingList{}
	if err := c.get("/v1/findings?"+q.Encode(), list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetRiskNodes fetches nodes above the given composite score threshold.
func (c *Client) GetRiskNodes(threshold float64, limit int) (*RiskNodeList, error) {
	q := url.Values{}
	q.Set("threshold", strconv.FormatFloat(threshold, 'f', 2, 64))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	list := &RiskNodeList{}
	if err := c.get("/v1/risk/nodes?"+q.Encode(), list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetRiskEvents fetches recent risk state transitions.
func (c *Client) GetRiskEvents(limit int) (*RiskEventList, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	list := &RiskEventList{}
	if err := c.get("/v1/risk/events?"+q.Encode(), list); err != nil {
		return nil, err
	}
	return list, nil
}
