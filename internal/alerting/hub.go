package alerting

import (
	"context"
	"encoding/json"
	"log/slog"

	"riskforge/internal/autonomous"
	"riskforge/internal/kafka"
	"riskforge/internal/schema"
)

// Hub fans notifications out to the configured channels. It feeds from
// two sources: the response dispatcher (action alerts and approval
// requests) and the findings topic.
type Hub struct {
	dispatcher *ReliableDispatcher
	logger     *slog.Logger
}

// NewHub creates a notification hub over the given channels.
func NewHub(cfg DeliveryConfig, channels []NotificationChannel, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		dispatcher: NewReliableDispatcher(cfg, channels),
		logger:     logger.With("component", "alerting_hub"),
	}
}

// Notify implements the response dispatcher's notification contract.
func (h *Hub) Notify(ctx context.Context, action *autonomous.Action, kind string) error {
	nk := KindAction
	if kind == "pending_approval" {
		nk = KindApprovalNeeded
	}
	h.dispatcher.Dispatch(ctx, FromAction(action, nk))
	return nil
}

// NotifyFinding delivers a finding to all channels.
func (h *Hub) NotifyFinding(ctx context.Context, f *schema.Finding) {
	h.dispatcher.Dispatch(ctx, FromFinding(f))
}

// HandleFindingMessage is the kafka.MessageHandler for the findings
// topic. Undecodable payloads are logged and acknowledged.
func (h *Hub) HandleFindingMessage(ctx context.Context, msg kafka.Message) error {
	var f schema.Finding
	if err := json.Unmarshal(msg.Value, &f); err != nil {
		h.logger.Warn("undecodable finding message dropped",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err)
		return nil
	}
	h.NotifyFinding(ctx, &f)
	return nil
}

// Deliveries returns delivery statistics.
func (h *Hub) Deliveries() map[string]interface{} {
	return h.dispatcher.Stats()
}

// Stop waits for in-flight deliveries to finish.
func (h *Hub) Stop() {
	h.dispatcher.Stop()
}
