// Package ingest receives security events over Kafka and HTTP and runs
// them through the processing pipeline.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"riskforge/internal/schema"
)

// Handler handles HTTP event ingestion.
type Handler struct {
	pipeline    *Pipeline
	maxPayload  int
	maxBatch    int
	startTime   time.Time
	eventsTotal uint64
}

// NewHandler creates a new ingest Handler.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{
		pipeline:   pipeline,
		maxPayload: 10 * 1024 * 1024, // 10MB default
		maxBatch:   1000,
		startTime:  time.Now(),
	}
}

// WithMaxPayload sets the maximum payload size.
func (h *Handler) WithMaxPayload(size int) *Handler {
	h.maxPayload = size
	return h
}

// WithMaxBatch sets the maximum batch size.
func (h *Handler) WithMaxBatch(size int) *Handler {
	h.maxBatch = size
	return h
}

// IngestRequest is the request body for event ingestion.
type IngestRequest struct {
	Events []schema.Event `json:"events"`
}

// IngestResponse is the response for event ingestion.
type IngestResponse struct {
	Success   bool     `json:"success"`
	Accepted  int      `json:"accepted"`
	Rejected  int      `json:"rejected"`
	Errors    []string `json:"errors,omitempty"`
	RequestID string   `json:"request_id"`
}

// HandleEvents handles POST /v1/events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if err.Error() == "http: request body too large" {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large", requestID)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}

	var req IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}

	if len(req.Events) == 0 {
		respondError(w, http.StatusBadRequest, "no events provided", requestID)
		return
	}

	if len(req.Events) > h.maxBatch {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("batch size exceeds maximum of %d", h.maxBatch), requestID)
		return
	}

	var accepted, rejected int
	var errors []string

	for i := range req.Events {
		event := &req.Events[i]
		if event.EventID == "" {
			event.EventID = uuid.NewString()
		}

		if err := h.pipeline.validator.Validate(event); err != nil {
			rejected++
			errors = append(errors, fmt.Sprintf("event[%d]: %s", i, err.Error()))
			continue
		}

		if err := h.pipeline.Process(r.Context(), event); err != nil {
			rejected++
			errors = append(errors, fmt.Sprintf("event[%d]: %s", i, err.Error()))
			continue
		}

		accepted++
		atomic.AddUint64(&h.eventsTotal, 1)
	}

	resp := IngestResponse{
		Success:   rejected == 0,
		Accepted:  accepted,
		Rejected:  rejected,
		RequestID: requestID,
	}

	if len(errors) > 0 {
		resp.Errors = errors
	}

	status := http.StatusOK
	if accepted == 0 && rejected > 0 {
		status = http.StatusBadRequest
	} else if rejected > 0 {
		status = http.StatusMultiStatus // 207 for partial success
	}

	respondJSON(w, status, resp)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	}

	if h.pipeline.queue != nil {
		metrics := h.pipeline.queue.Metrics()
		if metrics.Depth > int(float64(metrics.Capacity)*0.9) {
			resp["status"] = "degraded"
		}
		resp["queue_depth"] = metrics.Depth
		resp["queue_capacity"] = metrics.Capacity
	}

	respondJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /metrics (Prometheus format).
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	pm := h.pipeline.Metrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP riskforge_events_total Total number of events ingested over HTTP\n")
	fmt.Fprintf(w, "# TYPE riskforge_events_total counter\n")
	fmt.Fprintf(w, "riskforge_events_total %d\n\n", atomic.LoadUint64(&h.eventsTotal))

	fmt.Fprintf(w, "# HELP riskforge_pipeline_processed_total Events accepted as new by correlation\n")
	fmt.Fprintf(w, "# TYPE riskforge_pipeline_processed_total counter\n")
	fmt.Fprintf(w, "riskforge_pipeline_processed_total %d\n\n", pm.Processed)

	fmt.Fprintf(w, "# HELP riskforge_pipeline_duplicates_total Events dropped as redeliveries\n")
	fmt.Fprintf(w, "# TYPE riskforge_pipeline_duplicates_total counter\n")
	fmt.Fprintf(w, "riskforge_pipeline_duplicates_total %d\n\n", pm.Duplicates)

	fmt.Fprintf(w, "# HELP riskforge_pipeline_malformed_total Events quarantined for decode or validation failures\n")
	fmt.Fprintf(w, "# TYPE riskforge_pipeline_malformed_total counter\n")
	fmt.Fprintf(w, "riskforge_pipeline_malformed_total %d\n\n", pm.Malformed)

	fmt.Fprintf(w, "# HELP riskforge_pipeline_dead_letters_total Events forwarded to the dead letter topic\n")
	fmt.Fprintf(w, "# TYPE riskforge_pipeline_dead_letters_total counter\n")
	fmt.Fprintf(w, "riskforge_pipeline_dead_letters_total %d\n\n", pm.DeadLetters)

	if h.pipeline.queue != nil {
		h.writeQueueMetrics(w)
	}

	fmt.Fprintf(w, "# HELP riskforge_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE riskforge_uptime_seconds gauge\n")
	fmt.Fprintf(w, "riskforge_uptime_seconds %d\n", int(time.Since(h.startTime).Seconds()))
}

func (h *Handler) writeQueueMetrics(w io.Writer) {
	metrics := h.pipeline.queue.Metrics()

	fmt.Fprintf(w, "# HELP riskforge_queue_pushed_total Total events pushed to queue\n")
	fmt.Fprintf(w, "# TYPE riskforge_queue_pushed_total counter\n")
	fmt.Fprintf(w, "riskforge_queue_pushed_total %d\n\n", metrics.Pushed)

	fmt.Fprintf(w, "# HELP riskforge_queue_popped_total Total events popped from queue\n")
	fmt.Fprintf(w, "# TYPE riskforge_queue_popped_total counter\n")
	fmt.Fprintf(w, "riskforge_queue_popped_total %d\n\n", metrics.Popped)

	fmt.Fprintf(w, "# HELP riskforge_queue_dropped_total Total events dropped due to full queue\n")
	fmt.Fprintf(w, "# TYPE riskforge_queue_dropped_total counter\n")
	fmt.Fprintf(w, "riskforge_queue_dropped_total %d\n\n", metrics.Dropped)

	fmt.Fprintf(w, "# HELP riskforge_queue_depth Current queue depth\n")
	fmt.Fprintf(w, "# TYPE riskforge_queue_depth gauge\n")
	fmt.Fprintf(w, "riskforge_queue_depth %d\n\n", metrics.Depth)

	fmt.Fprintf(w, "# HELP riskforge_queue_capacity Queue capacity\n")
	fmt.Fprintf(w, "# TYPE riskforge_queue_capacity gauge\n")
	fmt.Fprintf(w, "riskforge_queue_capacity %d\n\n", metrics.Capacity)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string, requestID string) {
	resp := map[string]any{
		"success":    false,
		"error":      message,
		"request_id": requestID,
	}
	respondJSON(w, status, resp)
}
