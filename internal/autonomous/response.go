package autonomous

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ActionStatus is the lifecycle state of a response action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionApproved  ActionStatus = "approved"
	ActionExecuting ActionStatus = "executing"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
	ActionRollback  ActionStatus = "rollback"
)

// ActionType identifies a response action.
type ActionType string

const (
	ActionAlert     ActionType = "alert"
	ActionRemediate ActionType = "remediate"
	ActionIsolate   ActionType = "isolate"
	ActionRestrict  ActionType = "restrict"
	ActionEscalate  ActionType = "escalate"
	ActionAudit     ActionType = "audit"
	ActionReport    ActionType = "report"
)

// Priority orders response actions.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
	PriorityEmergency
)

// Action is one response action and its execution record.
type Action struct {
	ActionID   string       `json:"action_id"`
	ActionType ActionType   `json:"action_type"`
	TargetID   string       `json:"target_id"`
	TargetType string       `json:"target_type"`
	Priority   Priority     `json:"priority"`
	Status     ActionStatus `json:"status"`

	RequiresApproval bool   `json:"requires_approval"`
	ApprovedBy       string `json:"approved_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (a *Action) clone() *Action {
	cp := *a
	return &cp
}

// Handler executes one action type and returns its result payload.
type Handler func(ctx context.Context, action *Action) (map[string]any, error)

// IncidentReporter receives completed actions for incident tracking.
// Reports are best-effort side calls off the execution path.
type IncidentReporter interface {
	ReportIncident(ctx context.Context, action *Action) error
}

// ThreatAnalyzer receives completed actions for threat analysis.
type ThreatAnalyzer interface {
	AnalyzeAction(ctx context.Context, action *Action) error
}

// Notifier receives action notifications (alerts, approval requests).
type Notifier interface {
	Notify(ctx context.Context, action *Action, kind string) error
}

// Dispatcher executes response actions through a per-type handler table
// and tracks every action's lifecycle.
type Dispatcher struct {
	incident IncidentReporter
	threat   ThreatAnalyzer
	notifier Notifier
	logger   *slog.Logger

	reportTimeout time.Duration

	mu       sync.Mutex
	actions  map[string]*Action
	handlers map[ActionType]Handler
	seq      int
}

func NewDispatcher(incident IncidentReporter, threat ThreatAnalyzer, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		incident:      incident,
		threat:        threat,
		notifier:      notifier,
		logger:        logger.With("component", "response_dispatcher"),
		reportTimeout: 10 * time.Second,
		actions:       make(map[string]*Action),
		handlers:      make(map[ActionType]Handler),
	}
	d.registerDefaultHandlers()
	return d
}

func (d *Dispatcher) registerDefaultHandlers() {
	d.handlers[ActionAlert] = func(ctx context.Context, a *Action) (map[string]any, error) {
		if d.notifier != nil {
			if err := d.notifier.Notify(ctx, a, "alert"); err != nil {
				return nil, err
			}
		}
		return map[string]any{"alerted": true, "target": a.TargetID}, nil
	}
	d.handlers[ActionRestrict] = stubHandler("restricted")
	d.handlers[ActionIsolate] = stubHandler("isolated")
	d.handlers[ActionAudit] = stubHandler("audit_started")
	d.handlers[ActionRemediate] = stubHandler("remediated")
	d.handlers[ActionReport] = stubHandler("reported")
	d.handlers[ActionEscalate] = func(ctx context.Context, a *Action) (map[string]any, error) {
		if d.notifier != nil {
			if err := d.notifier.Notify(ctx, a, "escalation"); err != nil {
				return nil, err
			}
		}
		return map[string]any{"escalated": true, "target": a.TargetID}, nil
	}
}

func stubHandler(key string) Handler {
	return func(_ context.Context, a *Action) (map[string]any, error) {
		return map[string]any{key: true, "target": a.TargetID}, nil
	}
}

// RegisterHandler installs or replaces the handler for an action type.
func (d *Dispatcher) RegisterHandler(t ActionType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// Execute creates an action and runs it, unless it requires approval, in
// which case it is queued pending and returned as-is.
func (d *Dispatcher) Execute(ctx context.Context, t ActionType, targetID, targetType string, priority Priority, requiresApproval bool) (*Action, error) {
	d.mu.Lock()
	d.seq++
	action := &Action{
		ActionID:         fmt.Sprintf("action-%08d", d.seq),
		ActionType:       t,
		TargetID:         targetID,
		TargetType:       targetType,
		Priority:         priority,
		Status:           ActionPending,
		RequiresApproval: requiresApproval,
		CreatedAt:        time.Now().UTC(),
	}
	d.actions[action.ActionID] = action
	d.mu.Unlock()

	if requiresApproval {
		d.logger.Info("action pending approval",
			"action_id", action.ActionID,
			"action_type", t,
			"target_id", targetID)
		if d.notifier != nil {
			if err := d.notifier.Notify(ctx, action.clone(), "pending_approval"); err != nil {
				d.logger.Warn("approval notification failed", "action_id", action.ActionID, "error", err)
			}
		}
		return action.clone(), nil
	}
	return d.run(ctx, action)
}

// run drives an action through executing to completed or failed. A missing
// handler is a terminal failure with no retry.
func (d *Dispatcher) run(ctx context.Context, action *Action) (*Action, error) {
	now := time.Now().UTC()
	d.mu.Lock()
	action.Status = ActionExecuting
	action.ExecutedAt = &now
	handler, ok := d.handlers[action.ActionType]
	d.mu.Unlock()

	if !ok {
		d.finish(action, nil, fmt.Sprintf("no handler for action type: %s", action.ActionType))
		return action.clone(), nil
	}

	result, err := handler(ctx, action)
	if err != nil {
		d.finish(action, nil, err.Error())
		d.logger.Error("action failed",
			"action_id", action.ActionID,
			"action_type", action.ActionType,
			"error", err)
		return action.clone(), nil
	}

	d.finish(action, result, "")
	d.logger.Info("action completed",
		"action_id", action.ActionID,
		"action_type", action.ActionType,
		"target_id", action.TargetID)

	// Side reports are spawned, never joined. Their failures are logged
	// in the goroutines and cannot surface here.
	snapshot := action.clone()
	if d.incident != nil {
		go d.reportIncident(snapshot)
	}
	if d.threat != nil {
		go d.reportThreat(snapshot)
	}
	return action.clone(), nil
}

func (d *Dispatcher) finish(action *Action, result map[string]any, errMsg string) {
	now := time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	action.CompletedAt = &now
	if errMsg != "" {
		action.Status = ActionFailed
		action.Error = errMsg
		return
	}
	action.Status = ActionCompleted
	action.Result = result
}

func (d *Dispatcher) reportIncident(action *Action) {
	ctx, cancel := context.WithTimeout(context.Background(), d.reportTimeout)
	defer cancel()
	if err := d.incident.ReportIncident(ctx, action); err != nil {
		d.logger.Warn("incident report failed", "action_id", action.ActionID, "error", err)
	}
}

func (d *Dispatcher) reportThreat(action *Action) {
	ctx, cancel := context.WithTimeout(context.Background(), d.reportTimeout)
	defer cancel()
	if err := d.threat.AnalyzeAction(ctx, action); err != nil {
		d.logger.Warn("threat analysis report failed", "action_id", action.ActionID, "error", err)
	}
}

// Approve runs a pending approval-gated action. Only explicit human
// approval reaches this path.
func (d *Dispatcher) Approve(ctx context.Context, actionID, approvedBy string) (*Action, error) {
	d.mu.Lock()
	action, ok := d.actions[actionID]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("action %s not found", actionID)
	}
	if action.Status != ActionPending {
		d.mu.Unlock()
		return nil, fmt.Errorf("action %s is %s, not pending approval", actionID, action.Status)
	}
	action.Status = ActionApproved
	action.ApprovedBy = approvedBy
	d.mu.Unlock()

	return d.run(ctx, action)
}

// Reject cancels a pending action.
func (d *Dispatcher) Reject(actionID, rejectedBy, reason string) (*Action, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	action, ok := d.actions[actionID]
	if !ok {
		return nil, fmt.Errorf("action %s not found", actionID)
	}
	if action.Status != ActionPending {
		return nil, fmt.Errorf("action %s is %s, not pending", actionID, action.Status)
	}
	action.Status = ActionCancelled
	action.Error = fmt.Sprintf("rejected by %s: %s", rejectedBy, reason)
	return action.clone(), nil
}

// Rollback reverses a completed action. No other state can roll back.
func (d *Dispatcher) Rollback(actionID string) (*Action, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	action, ok := d.actions[actionID]
	if !ok {
		return nil, fmt.Errorf("action %s not found", actionID)
	}
	if action.Status != ActionCompleted {
		return nil, fmt.Errorf("cannot rollback action in state %s", action.Status)
	}
	action.Status = ActionRollback
	d.logger.Info("action rolled back", "action_id", actionID)
	return action.clone(), nil
}

// Get returns an action by id.
func (d *Dispatcher) Get(actionID string) (*Action, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	action, ok := d.actions[actionID]
	if !ok {
		return nil, false
	}
	return action.clone(), true
}

// PendingApprovals lists actions waiting on approval.
func (d *Dispatcher) PendingApprovals() []*Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Action
	for _, action := range d.actions {
		if action.Status == ActionPending && action.RequiresApproval {
			out = append(out, action.clone())
		}
	}
	return out
}

// Stats returns action counts grouped by status.
func (d *Dispatcher) Stats() map[ActionStatus]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[ActionStatus]int)
	for _, action := range d.actions {
		counts[action.Status]++
	}
	return counts
}
