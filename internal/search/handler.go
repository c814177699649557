package search

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Handler provides HTTP handlers for search operations.
type Handler struct {
	executor *Executor
	logger   *slog.Logger
}

// NewHandler creates a new search handler.
func NewHandler(executor *Executor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{executor: executor, logger: logger}
}

// SearchRequest represents a search API request.
type SearchRequest struct {
	Query     string `json:"query"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	OrderBy   string `json:"order_by,omitempty"`
	OrderDesc *bool  `json:"order_desc,omitempty"`
}

// AggregationRequest represents an aggregation API request.
type AggregationRequest struct {
	Query    string `json:"query,omitempty"`
	Field    string `json:"field"`
	Type     string `json:"type"` // count, sum, avg, min, max, terms, histogram
	Interval string `json:"interval,omitempty"`
	TopN     int    `json:"top_n,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HandleSearch handles POST /v1/search requests.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body", err.Error())
		return
	}

	query, err := ParseQuery(req.Query)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_query", "failed to parse query", err.Error())
		return
	}

	if req.Limit > 0 && req.Limit <= 10000 {
		query.Limit = req.Limit
	}
	if req.Offset > 0 {
		query.Offset = req.Offset
	}
	if req.OrderBy != "" {
		query.OrderBy = req.OrderBy
	}
	if req.OrderDesc != nil {
		query.OrderDesc = *req.OrderDesc
	}

	applyTimeRange(query, req.StartTime, req.EndTime)

	result, err := h.executor.Search(ctx, query)
	if err != nil {
		h.logger.Error("search failed", "error", err, "query", req.Query)
		h.writeError(w, http.StatusInternalServerError, "search_error", "search execution failed", "")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleSearchGet handles GET /v1/search requests with query parameters.
func (h *Handler) HandleSearchGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	queryStr := r.URL.Query().Get("q")
	if queryStr == "" {
		queryStr = r.URL.Query().Get("query")
	}

	query, err := ParseQuery(queryStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_query", "failed to parse query", err.Error())
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 10000 {
			query.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			query.Offset = offset
		}
	}
	if orderBy := r.URL.Query().Get("order_by"); orderBy != "" {
		query.OrderBy = orderBy
	}
	if r.URL.Query().Get("order") == "asc" {
		query.OrderDesc = false
	}

	applyTimeRange(query, r.URL.Query().Get("start"), r.URL.Query().Get("end"))

	result, err := h.executor.Search(ctx, query)
	if err != nil {
		h.logger.Error("search failed", "error", err, "query", queryStr)
		h.writeError(w, http.StatusInternalServerError, "search_error", "search execution failed", "")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleAggregation handles POST /v1/aggregations requests.
func (h *Handler) HandleAggregation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AggregationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body", err.Error())
		return
	}

	if req.Field == "" {
		h.writeError(w, http.StatusBadRequest, "missing_field", "field is required", "")
		return
	}
	if req.Type == "" {
		req.Type = "count"
	}

	var query *Query
	var err error
	if req.Query != "" {
		query, err = ParseQuery(req.Query)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_query", "failed to parse query", err.Error())
			return
		}
	} else {
		query = &Query{}
	}

	var result *AggregationResult

	switch req.Type {
	case "histogram", "time_histogram":
		interval := req.Interval
		if interval == "" {
			interval = "1h"
		}
		result, err = h.executor.TimeHistogram(ctx, query, interval)

	case "terms", "top":
		n := req.TopN
		if n <= 0 {
			n = 10
		}
		result, err = h.executor.TopN(ctx, query, req.Field, n)

	default:
		result, err = h.executor.Aggregate(ctx, query, req.Field, req.Type)
	}

	if err != nil {
		h.logger.Error("aggregation failed", "error", err, "type", req.Type, "field", req.Field)
		h.writeError(w, http.StatusInternalServerError, "aggregation_error", "aggregation execution failed", "")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleGetEvent handles GET /v1/events/{id} requests.
func (h *Handler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID := r.PathValue("id")
	if eventID == "" {
		h.writeError(w, http.StatusBadRequest, "missing_id", "event ID is required", "")
		return
	}
	if len(eventID) > 256 {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "event ID too long", "")
		return
	}

	event, err := h.executor.GetEvent(ctx, eventID)
	if err != nil {
		h.logger.Error("get event failed", "error", err, "event_id", eventID)
		h.writeError(w, http.StatusInternalServerError, "query_error", "failed to get event", "")
		return
	}

	if event == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "event not found", "")
		return
	}

	h.writeJSON(w, http.StatusOK, event)
}

// HandleFieldValues handles GET /v1/fields/{field}/values requests.
func (h *Handler) HandleFieldValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	field := r.PathValue("field")
	if field == "" {
		h.writeError(w, http.StatusBadRequest, "missing_field", "field name is required", "")
		return
	}

	query := &Query{}
	if queryStr := r.URL.Query().Get("q"); queryStr != "" {
		var err error
		query, err = ParseQuery(queryStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_query", "failed to parse query", err.Error())
			return
		}
	}

	n := 20
	if nStr := r.URL.Query().Get("limit"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil && parsed > 0 && parsed <= 100 {
			n = parsed
		}
	}

	result, err := h.executor.TopN(ctx, query, field, n)
	if err != nil {
		h.logger.Error("field values query failed", "error", err, "field", field)
		h.writeError(w, http.StatusInternalServerError, "query_error", "failed to get field values", "")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// RegisterRoutes registers search routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/search", h.HandleSearch)
	mux.HandleFunc("GET /v1/search", h.HandleSearchGet)
	mux.HandleFunc("POST /v1/aggregations", h.HandleAggregation)
	mux.HandleFunc("GET /v1/events/{id}", h.HandleGetEvent)
	mux.HandleFunc("GET /v1/fields/{field}/values", h.HandleFieldValues)
}

func applyTimeRange(query *Query, start, end string) {
	if start == "" && end == "" {
		return
	}
	query.TimeRange = &TimeRange{}
	if start != "" {
		if t, err := parseTimeString(start); err == nil {
			query.TimeRange.Start = t
		}
	}
	if end != "" {
		if t, err := parseTimeString(end); err == nil {
			query.TimeRange.End = t
		}
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// parseTimeString parses absolute, relative, and unix timestamp formats.
func parseTimeString(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	// Relative time (now, now-1h, now-24h)
	if dur, ok := parseDuration(s); ok {
		if s == "now" {
			return time.Now(), nil
		}
		return time.Now().Add(-dur), nil
	}

	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts), nil
		}
		return time.Unix(ts, 0), nil
	}

	return time.Time{}, nil
}
