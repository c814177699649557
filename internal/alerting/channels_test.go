package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"riskforge/internal/schema"
)

func sampleNotification() *Notification {
	return &Notification{
		ID:       "n-12345678",
		Kind:     KindFinding,
		Severity: schema.SeverityHigh,
		Title:    "AI tool accessing financial data",
		Body:     "svc-export read ds-customers through an AI integration",
		EntityID: "ds-customers",
		Tags:     []string{"financial_related"},
		Fields: map[string]string{
			"finding_id": "find-1",
			"risk_score": "0.82",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestWebhookChannelSend(t *testing.T) {
	var gotBody []byte
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("soc", srv.URL, map[string]string{"Authorization": "Bearer tok"})

	if err := ch.Send(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}

	var got Notification
	if err := json.Unmarshal(gotBody, &got); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if got.Title != "AI tool accessing financial data" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Severity != schema.SeverityHigh {
		t.Errorf("severity = %q, want high", got.Severity)
	}
}

func TestWebhookChannelSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("soc", srv.URL, nil)

	err := ch.Send(context.Background(), sampleNotification())
	if err == nil {
		t.Fatal("Send() = nil error, want failure on 403")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %v, want status code mentioned", err)
	}
}

func TestSlackChannelSend(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, "#security", "riskforge")

	if err := ch.Send(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if payload["channel"] != "#security" {
		t.Errorf("channel = %v, want #security", payload["channel"])
	}
	attachments, ok := payload["attachments"].([]any)
	if !ok || len(attachments) != 1 {
		t.Fatalf("attachments = %v, want one entry", payload["attachments"])
	}
	att := attachments[0].(map[string]any)
	if title, _ := att["title"].(string); !strings.Contains(title, "[HIGH]") {
		t.Errorf("title = %q, want severity prefix", title)
	}
	if att["color"] != "#FFA500" {
		t.Errorf("color = %v, want orange for high", att["color"])
	}
}

func TestPagerDutyChannelSend(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewPagerDutyChannel("routing-key")
	ch.eventsURL = srv.URL

	n := sampleNotification()
	n.Severity = schema.SeverityCritical

	if err := ch.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if payload["routing_key"] != "routing-key" {
		t.Errorf("routing_key = %v", payload["routing_key"])
	}
	inner, _ := payload["payload"].(map[string]any)
	if inner["severity"] != "critical" {
		t.Errorf("severity = %v, want critical", inner["severity"])
	}
	if payload["dedup_key"] != "finding-ds-customers" {
		t.Errorf("dedup_key = %v, want finding-ds-customers", payload["dedup_key"])
	}
}

func TestLogChannelSend(t *testing.T) {
	var logged string
	ch := NewLogChannel(func(format string, args ...interface{}) {
		logged = format
	})

	if err := ch.Send(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !strings.Contains(logged, "NOTIFY") {
		t.Errorf("log output = %q, want NOTIFY prefix", logged)
	}
}
