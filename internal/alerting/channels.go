package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"riskforge/internal/schema"
)

// WebhookChannel delivers notifications to a generic HTTP endpoint.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// SlackChannel delivers notifications to Slack.
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a new Slack channel.
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, n *Notification) error {
	payload := map[string]interface{}{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]interface{}{
			{
				"color":  s.severityColor(n.Severity),
				"title":  fmt.Sprintf("[%s] %s", severityTag(n.Severity), n.Title),
				"text":   n.Body,
				"fields": s.buildFields(n),
				"footer": fmt.Sprintf("Notification: %s | Kind: %s", n.ID[:8], n.Kind),
				"ts":     n.CreatedAt.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (s *SlackChannel) severityColor(sev schema.Severity) string {
	switch sev {
	case schema.SeverityCritical:
		return "#FF0000"
	case schema.SeverityHigh:
		return "#FFA500"
	case schema.SeverityMedium:
		return "#FFFF00"
	case schema.SeverityLow:
		return "#00FF00"
	default:
		return "#808080"
	}
}

func (s *SlackChannel) buildFields(n *Notification) []map[string]interface{} {
	fields := []map[string]interface{}{
		{"title": "Severity", "value": string(n.Severity), "short": true},
	}

	if n.EntityID != "" {
		fields = append(fields, map[string]interface{}{
			"title": "Entity", "value": n.EntityID, "short": true,
		})
	}

	for _, key := range sortedKeys(n.Fields) {
		fields = append(fields, map[string]interface{}{
			"title": key, "value": n.Fields[key], "short": true,
		})
	}

	if len(n.Tags) > 0 {
		fields = append(fields, map[string]interface{}{
			"title": "Tags", "value": strings.Join(n.Tags, ", "), "short": false,
		})
	}

	return fields
}

// PagerDutyChannel delivers notifications to PagerDuty.
type PagerDutyChannel struct {
	routingKey string
	eventsURL  string
	client     *http.Client
}

// NewPagerDutyChannel creates a new PagerDuty channel.
func NewPagerDutyChannel(routingKey string) *PagerDutyChannel {
	return &PagerDutyChannel{
		routingKey: routingKey,
		eventsURL:  "https://events.pagerduty.com/v2/enqueue",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *PagerDutyChannel) Name() string {
	return "pagerduty"
}

func (p *PagerDutyChannel) Send(ctx context.Context, n *Notification) error {
	payload := map[string]interface{}{
		"routing_key":  p.routingKey,
		"event_action": "trigger",
		"dedup_key":    fmt.Sprintf("%s-%s", n.Kind, n.EntityID),
		"payload": map[string]interface{}{
			"summary":   n.Title,
			"source":    "riskforge",
			"severity":  p.mapSeverity(n.Severity),
			"timestamp": n.CreatedAt.Format(time.RFC3339),
			"custom_details": map[string]interface{}{
				"body":      n.Body,
				"kind":      n.Kind,
				"entity_id": n.EntityID,
				"fields":    n.Fields,
				"tags":      n.Tags,
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.eventsURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 202 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pagerduty returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (p *PagerDutyChannel) mapSeverity(sev schema.Severity) string {
	switch sev {
	case schema.SeverityCritical:
		return "critical"
	case schema.SeverityHigh:
		return "error"
	case schema.SeverityMedium:
		return "warning"
	default:
		return "info"
	}
}

// LogChannel logs notifications (for debugging/development).
type LogChannel struct {
	logger func(format string, args ...interface{})
}

// NewLogChannel creates a new log channel.
func NewLogChannel(logger func(format string, args ...interface{})) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, n *Notification) error {
	l.logger("NOTIFY [%s] %s - %s (kind=%s, entity=%s, tags=%v)",
		n.Severity, n.Title, n.Body, n.Kind, n.EntityID, n.Tags)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
