package autonomous

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(_ context.Context, action *Action, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, kind+":"+string(action.ActionType))
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

type chanReporter struct {
	incidents chan string
	analyses  chan string
}

func newChanReporter() *chanReporter {
	return &chanReporter{
		incidents: make(chan string, 4),
		analyses:  make(chan string, 4),
	}
}

func (r *chanReporter) ReportIncident(_ context.Context, action *Action) error {
	r.incidents <- action.ActionID
	return nil
}

func (r *chanReporter) AnalyzeAction(_ context.Context, action *Action) error {
	r.analyses <- action.ActionID
	return nil
}

func TestDispatcher_ExecuteCompletes(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(nil, nil, notifier, nil)

	action, err := d.Execute(context.Background(), ActionAlert, "ds-customers", "data_store", PriorityHigh, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if action.Status != ActionCompleted {
		t.Fatalf("status = %s, want %s", action.Status, ActionCompleted)
	}
	if action.ExecutedAt == nil || action.CompletedAt == nil {
		t.Fatal("expected executed and completed timestamps")
	}
	if alerted, _ := action.Result["alerted"].(bool); !alerted {
		t.Fatalf("result = %v, want alerted", action.Result)
	}
	if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != "alert:alert" {
		t.Fatalf("notifier calls = %v", kinds)
	}
}

func TestDispatcher_MissingHandlerFails(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)

	action, err := d.Execute(context.Background(), ActionType("purge"), "ds-customers", "data_store", PriorityLow, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if action.Status != ActionFailed {
		t.Fatalf("status = %s, want %s", action.Status, ActionFailed)
	}
	if !strings.Contains(action.Error, "no handler") {
		t.Fatalf("error = %q, want missing handler message", action.Error)
	}
}

func TestDispatcher_HandlerError(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	d.RegisterHandler(ActionIsolate, func(context.Context, *Action) (map[string]any, error) {
		return nil, errors.New("network segment unavailable")
	})

	action, err := d.Execute(context.Background(), ActionIsolate, "svc-export", "service", PriorityCritical, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if action.Status != ActionFailed {
		t.Fatalf("status = %s, want %s", action.Status, ActionFailed)
	}
	if action.Error != "network segment unavailable" {
		t.Fatalf("error = %q", action.Error)
	}
}

func TestDispatcher_ApprovalFlow(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(nil, nil, notifier, nil)

	action, err := d.Execute(context.Background(), ActionRestrict, "svc-export", "service", PriorityCritical, true)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if action.Status != ActionPending {
		t.Fatalf("status = %s, want %s", action.Status, ActionPending)
	}
	if pending := d.PendingApprovals(); len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != "pending_approval:restrict" {
		t.Fatalf("notifier calls = %v", kinds)
	}

	approved, err := d.Approve(context.Background(), action.ActionID, "analyst@riskforge")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != ActionCompleted {
		t.Fatalf("status = %s, want %s", approved.Status, ActionCompleted)
	}
	if approved.ApprovedBy != "analyst@riskforge" {
		t.Fatalf("approved by = %q", approved.ApprovedBy)
	}
	if pending := d.PendingApprovals(); len(pending) != 0 {
		t.Fatalf("pending after approve = %d", len(pending))
	}

	if _, err := d.Approve(context.Background(), action.ActionID, "analyst@riskforge"); err == nil {
		t.Fatal("expected error approving a non-pending action")
	}
}

func TestDispatcher_Reject(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)

	action, err := d.Execute(context.Background(), ActionIsolate, "ds-customers", "data_store", PriorityEmergency, true)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	rejected, err := d.Reject(action.ActionID, "analyst@riskforge", "false positive")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != ActionCancelled {
		t.Fatalf("status = %s, want %s", rejected.Status, ActionCancelled)
	}
	if !strings.Contains(rejected.Error, "false positive") {
		t.Fatalf("error = %q", rejected.Error)
	}

	if _, err := d.Approve(context.Background(), action.ActionID, "analyst@riskforge"); err == nil {
		t.Fatal("expected error approving a cancelled action")
	}
}

func TestDispatcher_RollbackOnlyFromCompleted(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)

	completed, err := d.Execute(context.Background(), ActionAudit, "svc-export", "service", PriorityMedium, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	rolled, err := d.Rollback(completed.ActionID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rolled.Status != ActionRollback {
		t.Fatalf("status = %s, want %s", rolled.Status, ActionRollback)
	}

	pending, err := d.Execute(context.Background(), ActionAudit, "svc-export", "service", PriorityMedium, true)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := d.Rollback(pending.ActionID); err == nil {
		t.Fatal("expected error rolling back a pending action")
	}
}

func TestDispatcher_SideReports(t *testing.T) {
	reporter := newChanReporter()
	d := NewDispatcher(reporter, reporter, nil, nil)

	action, err := d.Execute(context.Background(), ActionAudit, "ds-customers", "data_store", PriorityHigh, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	for _, ch := range []chan string{reporter.incidents, reporter.analyses} {
		select {
		case id := <-ch:
			if id != action.ActionID {
				t.Fatalf("reported action = %s, want %s", id, action.ActionID)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for side report")
		}
	}
}

func TestDispatcher_Stats(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	ctx := context.Background()

	if _, err := d.Execute(ctx, ActionAlert, "a", "service", PriorityLow, false); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := d.Execute(ctx, ActionIsolate, "b", "service", PriorityHigh, true); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stats := d.Stats()
	if stats[ActionCompleted] != 1 || stats[ActionPending] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}
