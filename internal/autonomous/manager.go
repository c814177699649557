// Package autonomous implements continuous risk state monitoring and the
// automated response pipeline. Scores are tracked on a 0 to 100 scale.
package autonomous

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskforge/internal/graph"
)

// RiskState is the monitoring state of a watched entity.
type RiskState string

const (
	StateNormal    RiskState = "normal"
	StateElevated  RiskState = "elevated"
	StateHigh      RiskState = "high"
	StateCritical  RiskState = "critical"
	StateEmergency RiskState = "emergency"
)

// Rank gives the total order over risk states.
func (s RiskState) Rank() int {
	switch s {
	case StateNormal:
		return 0
	case StateElevated:
		return 1
	case StateHigh:
		return 2
	case StateCritical:
		return 3
	case StateEmergency:
		return 4
	}
	return -1
}

// Trend classifies recent score movement.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Thresholds map scores to risk states.
type Thresholds struct {
	Elevated  float64 `yaml:"elevated" validate:"gt=0,lte=100"`
	High      float64 `yaml:"high" validate:"gt=0,lte=100"`
	Critical  float64 `yaml:"critical" validate:"gt=0,lte=100"`
	Emergency float64 `yaml:"emergency" validate:"gt=0,lte=100"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Elevated: 60, High: 75, Critical: 85, Emergency: 95}
}

// Config controls the monitoring loop and the auto-execution gate.
type Config struct {
	CheckInterval         time.Duration `yaml:"check_interval"`
	TrendSensitivity      float64       `yaml:"trend_sensitivity"`
	AutoRemediate         bool          `yaml:"auto_remediate"`
	ApprovalCeiling       float64       `yaml:"approval_ceiling"`
	MaxAutoActionsPerHour int           `yaml:"max_auto_actions_per_hour"`
	HistoryDepth          int           `yaml:"history_depth"`
	NodeLimit             int           `yaml:"node_limit"`
	Thresholds            Thresholds    `yaml:"thresholds"`
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:         time.Minute,
		TrendSensitivity:      0.1,
		AutoRemediate:         false,
		ApprovalCeiling:       85,
		MaxAutoActionsPerHour: 10,
		HistoryDepth:          100,
		NodeLimit:             500,
		Thresholds:            DefaultThresholds(),
	}
}

// RiskEvent records a state transition or a re-evaluation of a critical
// or emergency entity.
type RiskEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	NodeID        string    `json:"node_id"`
	NodeType      string    `json:"node_type"`
	RiskScore     float64   `json:"risk_score"`
	PreviousScore float64   `json:"previous_score"`
	State         RiskState `json:"risk_state"`
	Trend         Trend     `json:"trend"`
	Details       string    `json:"details,omitempty"`
	ActionsTaken  []string  `json:"actions_taken,omitempty"`
}

// Publisher pushes risk events to subscribers, best-effort.
type Publisher interface {
	PublishRiskEvent(ctx context.Context, ev *RiskEvent) error
}

// maxRetainedEvents bounds the in-memory risk event trail.
const maxRetainedEvents = 1000

// Manager runs the autonomous risk state machine over watched entities.
type Manager struct {
	config     Config
	graph      graph.Store
	dispatcher *Dispatcher
	pub        Publisher
	logger     *slog.Logger

	mu      sync.Mutex
	history map[string][]float64
	states  map[string]RiskState
	events  []*RiskEvent

	actionsThisHour int
	hourStart       time.Time
}

func NewManager(cfg Config, gs graph.Store, dispatcher *Dispatcher, pub Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		config:     cfg,
		graph:      gs,
		dispatcher: dispatcher,
		pub:        pub,
		logger:     logger.With("component", "risk_manager"),
		history:    make(map[string][]float64),
		states:     make(map[string]RiskState),
		hourStart:  time.Now().UTC().Truncate(time.Hour),
	}
}

// Run drives the monitoring loop until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("risk monitoring started", "interval", m.config.CheckInterval)
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("risk monitoring stopped")
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// checkAll pulls the current high-risk population from the graph and
// re-evaluates each node.
func (m *Manager) checkAll(ctx context.Context) {
	nodes, err := m.graph.GetHighRiskNodes(ctx, m.config.Thresholds.Elevated/100, m.config.NodeLimit)
	if err != nil {
		m.logger.Error("high risk node query failed", "error", err)
		return
	}
	for _, node := range nodes {
		composite := 0.5*node.ExposureScore + 0.3*node.VolatilityScore + 0.2*node.SensitivityScore
		m.Observe(ctx, node.ID, string(node.NodeType), composite*100)
	}
}

// Observe folds one fresh score into the state machine. The ingest
// pipeline calls this directly after scoring so transitions do not wait
// for the next polling cycle.
func (m *Manager) Observe(ctx context.Context, nodeID, nodeType string, score float64) {
	m.mu.Lock()

	ring := append(m.history[nodeID], score)
	if len(ring) > m.config.HistoryDepth {
		ring = ring[len(ring)-m.config.HistoryDepth:]
	}
	m.history[nodeID] = ring

	newState := m.classify(score)
	oldState, seen := m.states[nodeID]
	if !seen {
		oldState = StateNormal
	}
	trend := m.trendLocked(nodeID)

	// Critical and emergency entities re-evaluate every cycle even
	// without a transition.
	fire := newState != oldState || newState == StateCritical || newState == StateEmergency
	if !fire {
		m.mu.Unlock()
		return
	}

	previous := score
	if len(ring) > 1 {
		previous = ring[len(ring)-2]
	}
	m.states[nodeID] = newState

	ev := &RiskEvent{
		EventID:       "risk-" + uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		NodeID:        nodeID,
		NodeType:      nodeType,
		RiskScore:     score,
		PreviousScore: previous,
		State:         newState,
		Trend:         trend,
		Details:       fmt.Sprintf("state_change: %s -> %s", oldState, newState),
	}
	m.events = append(m.events, ev)
	if len(m.events) > maxRetainedEvents {
		m.events = m.events[len(m.events)-maxRetainedEvents:]
	}
	m.mu.Unlock()

	m.logger.Info("risk state transition",
		"node_id", nodeID,
		"state", newState,
		"previous_state", oldState,
		"score", score,
		"trend", trend)

	if m.pub != nil {
		if err := m.pub.PublishRiskEvent(ctx, ev); err != nil {
			m.logger.Warn("risk event publish failed", "event_id", ev.EventID, "error", err)
		}
	}
	m.respond(ctx, ev)
}

func (m *Manager) classify(score float64) RiskState {
	t := m.config.Thresholds
	switch {
	case score >= t.Emergency:
		return StateEmergency
	case score >= t.Critical:
		return StateCritical
	case score >= t.High:
		return StateHigh
	case score >= t.Elevated:
		return StateElevated
	}
	return StateNormal
}

// trendLocked computes the trend from the mean delta of the most recent
// samples. Callers must hold m.mu.
func (m *Manager) trendLocked(nodeID string) Trend {
	history := m.history[nodeID]
	if len(history) < 2 {
		return TrendStable
	}
	recent := history
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	avgChange := (recent[len(recent)-1] - recent[0]) / float64(len(recent))
	switch {
	case avgChange > m.config.TrendSensitivity:
		return TrendIncreasing
	case avgChange < -m.config.TrendSensitivity:
		return TrendDecreasing
	}
	return TrendStable
}

// PolicyFor is the static state-to-actions table.
func PolicyFor(state RiskState) []ActionType {
	switch state {
	case StateEmergency:
		return []ActionType{ActionAlert, ActionIsolate, ActionEscalate}
	case StateCritical:
		return []ActionType{ActionAlert, ActionRestrict, ActionAudit}
	case StateHigh:
		return []ActionType{ActionAlert, ActionAudit}
	case StateElevated:
		return []ActionType{ActionReport}
	}
	return nil
}

// respond applies the action policy for the event's state under the
// auto-execution gate.
func (m *Manager) respond(ctx context.Context, ev *RiskEvent) {
	if m.dispatcher == nil {
		return
	}
	if !m.config.AutoRemediate {
		m.logger.Debug("auto remediation disabled, skipping actions", "node_id", ev.NodeID)
		return
	}

	priority := priorityFor(ev.State)
	for _, actionType := range PolicyFor(ev.State) {
		if ev.RiskScore > m.config.ApprovalCeiling {
			// Above the ceiling only alerts auto-execute; they count
			// against the hourly budget but are never blocked by it.
			if actionType != ActionAlert {
				action, err := m.dispatcher.Execute(ctx, actionType, ev.NodeID, ev.NodeType, priority, true)
				if err != nil {
					m.logger.Error("action submission failed", "action_type", actionType, "error", err)
					continue
				}
				ev.ActionsTaken = append(ev.ActionsTaken, string(actionType)+" (pending approval)")
				m.logger.Info("action queued for approval",
					"action_id", action.ActionID,
					"action_type", actionType,
					"node_id", ev.NodeID)
				continue
			}
			m.recordAutoAction()
		} else if !m.allowAutoAction() {
			m.logger.Warn("hourly auto-action budget exhausted",
				"action_type", actionType,
				"node_id", ev.NodeID)
			continue
		}

		action, err := m.dispatcher.Execute(ctx, actionType, ev.NodeID, ev.NodeType, priority, false)
		if err != nil {
			m.logger.Error("action execution failed", "action_type", actionType, "error", err)
			continue
		}
		ev.ActionsTaken = append(ev.ActionsTaken, string(actionType))
		m.logger.Info("action executed",
			"action_id", action.ActionID,
			"action_type", actionType,
			"status", action.Status,
			"node_id", ev.NodeID)
	}
}

// allowAutoAction enforces the hourly counter, resetting on wall-clock
// hour boundaries rather than a sliding window.
func (m *Manager) allowAutoAction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollHourLocked()
	if m.actionsThisHour >= m.config.MaxAutoActionsPerHour {
		return false
	}
	m.actionsThisHour++
	return true
}

// recordAutoAction counts an action that is exempt from the gate.
func (m *Manager) recordAutoAction() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollHourLocked()
	m.actionsThisHour++
}

func (m *Manager) rollHourLocked() {
	hour := time.Now().UTC().Truncate(time.Hour)
	if hour.After(m.hourStart) {
		m.hourStart = hour
		m.actionsThisHour = 0
	}
}

func priorityFor(state RiskState) Priority {
	switch state {
	case StateEmergency:
		return PriorityEmergency
	case StateCritical:
		return PriorityCritical
	case StateHigh:
		return PriorityHigh
	case StateElevated:
		return PriorityMedium
	}
	return PriorityLow
}

// State returns the current risk state for a node.
func (m *Manager) State(nodeID string) RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[nodeID]; ok {
		return state
	}
	return StateNormal
}

// Events returns the most recent risk events, newest first.
func (m *Manager) Events(limit int) []*RiskEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}
	out := make([]*RiskEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.events[i]
		out = append(out, &cp)
	}
	return out
}

// Stats summarizes the monitoring state.
type Stats struct {
	MonitoredNodes  int               `json:"monitored_nodes"`
	StateCounts     map[RiskState]int `json:"state_distribution"`
	TotalEvents     int               `json:"total_events"`
	ActionsThisHour int               `json:"actions_this_hour"`
	AutoRemediate   bool              `json:"auto_remediate"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[RiskState]int)
	for _, state := range m.states {
		counts[state]++
	}
	return Stats{
		MonitoredNodes:  len(m.states),
		StateCounts:     counts,
		TotalEvents:     len(m.events),
		ActionsThisHour: m.actionsThisHour,
		AutoRemediate:   m.config.AutoRemediate,
	}
}
