// Package api exposes the analyst-facing REST surface: finding queries
// and lifecycle transitions, response action approvals, and risk state
// inspection.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"riskforge/internal/autonomous"
	apperrors "riskforge/internal/errors"
	"riskforge/internal/finding"
	"riskforge/internal/graph"
	"riskforge/internal/schema"
	"riskforge/internal/scoring"
)

// Handler provides the HTTP handlers for the management API.
type Handler struct {
	findings   *finding.Service
	dispatcher *autonomous.Dispatcher
	manager    *autonomous.Manager
	graph      graph.Store
	scorer     *scoring.Engine
	logger     *slog.Logger
}

// NewHandler creates a new API handler. Dispatcher, manager, and graph
// are optional; their routes return 503 when absent.
func NewHandler(findings *finding.Service, dispatcher *autonomous.Dispatcher, manager *autonomous.Manager, gs graph.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		findings:   findings,
		dispatcher: dispatcher,
		manager:    manager,
		graph:      gs,
		logger:     logger.With("component", "api"),
	}
}

// WithScorer attaches the scoring engine, enabling per-node score
// detail with factor explanations.
func (h *Handler) WithScorer(e *scoring.Engine) *Handler {
	h.scorer = e
	return h
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// FindingListResponse is the paginated finding listing.
type FindingListResponse struct {
	Findings []*schema.Finding `json:"findings"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// HandleListFindings handles GET /v1/findings.
func (h *Handler) HandleListFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := finding.Filter{
		Status:      schema.FindingStatus(q.Get("status")),
		Severity:    schema.Severity(q.Get("severity")),
		FindingType: q.Get("type"),
		EntityID:    q.Get("entity_id"),
		Limit:       50,
	}

	if tags := q.Get("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}
	if v := q.Get("min_score"); v != "" {
		if score, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinScore = score
		}
	}
	if v := q.Get("max_score"); v != "" {
		if score, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MaxScore = score
		}
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.CreatedFrom = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.CreatedTo = t
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit <= 1000 {
			filter.Limit = limit
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	findings, total, err := h.findings.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("finding list failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query_error", "failed to list findings", "")
		return
	}

	if findings == nil {
		findings = []*schema.Finding{}
	}
	h.writeJSON(w, http.StatusOK, FindingListResponse{
		Findings: findings,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// HandleGetFinding handles GET /v1/findings/{id}.
func (h *Handler) HandleGetFinding(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing_id", "finding ID is required", "")
		return
	}

	f, err := h.findings.Get(r.Context(), id)
	if err != nil {
		h.writeFindingError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, f)
}

type transitionRequest struct {
	UserID string `json:"user_id"`
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// HandleFindingTransition handles POST /v1/findings/{id}/{transition}.
func (h *Handler) HandleFindingTransition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	transition := r.PathValue("transition")

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body", err.Error())
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "missing_user", "user_id is required", "")
		return
	}

	var f *schema.Finding
	var err error
	switch transition {
	case "acknowledge":
		f, err = h.findings.Acknowledge(r.Context(), id, req.UserID)
	case "start":
		f, err = h.findings.StartProgress(r.Context(), id, req.UserID)
	case "resolve":
		f, err = h.findings.Resolve(r.Context(), id, req.UserID, req.Notes)
	case "false-positive":
		f, err = h.findings.MarkFalsePositive(r.Context(), id, req.UserID, req.Reason)
	default:
		h.writeError(w, http.StatusNotFound, "unknown_transition", "unknown transition: "+transition, "")
		return
	}

	if err != nil {
		h.writeFindingError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, f)
}

// HandleGetAction handles GET /v1/actions/{id}.
func (h *Handler) HandleGetAction(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "response dispatcher not configured", "")
		return
	}

	action, ok := h.dispatcher.Get(r.PathValue("id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "action not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, action)
}

// HandlePendingActions handles GET /v1/actions/pending.
func (h *Handler) HandlePendingActions(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "response dispatcher not configured", "")
		return
	}

	pending := h.dispatcher.PendingApprovals()
	if pending == nil {
		pending = []*autonomous.Action{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"actions": pending,
		"count":   len(pending),
	})
}

type actionDecisionRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// HandleActionDecision handles POST /v1/actions/{id}/{decision}.
func (h *Handler) HandleActionDecision(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "response dispatcher not configured", "")
		return
	}

	id := r.PathValue("id")
	decision := r.PathValue("decision")

	var req actionDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body", err.Error())
		return
	}

	var action *autonomous.Action
	var err error
	switch decision {
	case "approve":
		if req.UserID == "" {
			h.writeError(w, http.StatusBadRequest, "missing_user", "user_id is required", "")
			return
		}
		action, err = h.dispatcher.Approve(r.Context(), id, req.UserID)
	case "reject":
		if req.UserID == "" {
			h.writeError(w, http.StatusBadRequest, "missing_user", "user_id is required", "")
			return
		}
		action, err = h.dispatcher.Reject(id, req.UserID, req.Reason)
	case "rollback":
		action, err = h.dispatcher.Rollback(id)
	default:
		h.writeError(w, http.StatusNotFound, "unknown_decision", "unknown decision: "+decision, "")
		return
	}

	if err != nil {
		h.writeError(w, http.StatusConflict, "invalid_transition", apperrors.SafeErrorMessage(err), "")
		return
	}
	h.writeJSON(w, http.StatusOK, action)
}

// HandleHighRiskNodes handles GET /v1/risk/nodes.
func (h *Handler) HandleHighRiskNodes(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "risk graph not configured", "")
		return
	}

	threshold := 0.6
	if v := r.URL.Query().Get("threshold"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed >= 0 && parsed <= 1 {
			threshold = parsed
		}
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	nodes, err := h.graph.GetHighRiskNodes(r.Context(), threshold, limit)
	if err != nil {
		h.logger.Error("high risk node query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query_error", "failed to query risk graph", "")
		return
	}
	if nodes == nil {
		nodes = []graph.Node{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"nodes":     nodes,
		"threshold": threshold,
	})
}

// HandleGetRiskNode handles GET /v1/risk/nodes/{id}. The response pairs
// the graph node with a score breakdown; the cached score is preferred
// and a fresh scoring pass runs on a cache miss.
func (h *Handler) HandleGetRiskNode(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "risk graph not configured", "")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "node id is required", "")
		return
	}

	nwr, err := h.graph.GetNodeWithRelationships(r.Context(), id)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "node not found", id)
			return
		}
		h.logger.Error("node query failed", "node_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "query_error", "failed to query risk graph", "")
		return
	}

	resp := map[string]any{
		"node":          nwr.Node,
		"relationships": nwr.Relationships,
	}

	if h.scorer != nil {
		result, ok := h.scorer.Cached(r.Context(), id)
		if !ok {
			result, err = h.scorer.Score(r.Context(), id, nil, false)
			if err != nil {
				h.logger.Warn("on-demand scoring failed", "node_id", id, "error", err)
			}
		}
		if result != nil {
			resp["score"] = result
			resp["explanation"] = scoring.Explain(result)
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleRiskEvents handles GET /v1/risk/events.
func (h *Handler) HandleRiskEvents(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "risk manager not configured", "")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	events := h.manager.Events(limit)
	if events == nil {
		events = []*autonomous.RiskEvent{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// HandleStats handles GET /v1/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]any)

	if h.manager != nil {
		stats["risk"] = h.manager.Stats()
	}
	if h.dispatcher != nil {
		stats["actions"] = h.dispatcher.Stats()
	}

	if _, total, err := h.findings.List(r.Context(), finding.Filter{
		Status: schema.FindingOpen,
		Limit:  1,
	}); err == nil {
		stats["open_findings"] = total
	}
	if overdue, err := h.findings.Overdue(r.Context()); err == nil {
		stats["overdue_findings"] = len(overdue)
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// HandleOverdueFindings handles GET /v1/findings/overdue. Findings are
// returned earliest deadline first.
func (h *Handler) HandleOverdueFindings(w http.ResponseWriter, r *http.Request) {
	overdue, err := h.findings.Overdue(r.Context())
	if err != nil {
		h.logger.Error("overdue query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query_error", "failed to list overdue findings", "")
		return
	}
	if overdue == nil {
		overdue = []*schema.Finding{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"findings": overdue,
		"count":    len(overdue),
	})
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterRoutes registers API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/findings", h.HandleListFindings)
	mux.HandleFunc("GET /v1/findings/overdue", h.HandleOverdueFindings)
	mux.HandleFunc("GET /v1/findings/{id}", h.HandleGetFinding)
	mux.HandleFunc("POST /v1/findings/{id}/{transition}", h.HandleFindingTransition)
	mux.HandleFunc("GET /v1/actions/pending", h.HandlePendingActions)
	mux.HandleFunc("GET /v1/actions/{id}", h.HandleGetAction)
	mux.HandleFunc("POST /v1/actions/{id}/{decision}", h.HandleActionDecision)
	mux.HandleFunc("GET /v1/risk/nodes", h.HandleHighRiskNodes)
	mux.HandleFunc("GET /v1/risk/nodes/{id}", h.HandleGetRiskNode)
	mux.HandleFunc("GET /v1/risk/events", h.HandleRiskEvents)
	mux.HandleFunc("GET /v1/stats", h.HandleStats)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
}

func (h *Handler) writeFindingError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, finding.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "finding not found", id)
	case errors.Is(err, finding.ErrTerminal):
		h.writeError(w, http.StatusConflict, "terminal_status", "finding is in a terminal status", id)
	default:
		h.logger.Error("finding operation failed", "finding_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "finding operation failed", "")
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
