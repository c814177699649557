package search

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestExecutor creates an Executor with a nil db for exercising the
// SQL-building logic that never touches the database.
func newTestExecutor() *Executor {
	return &Executor{db: nil}
}

func TestSanitizeColumn(t *testing.T) {
	exec := newTestExecutor()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid column", "event_type", "event_type"},
		{"valid entity column", "source_system_id", "source_system_id"},
		{"valid numeric column", "data_volume_estimate", "data_volume_estimate"},
		{"unknown column falls back", "bogus", "timestamp"},
		{"empty string falls back", "", "timestamp"},
		{"injection semicolon", "event_type; DROP TABLE events;--", "timestamp"},
		{"injection quote", "event_type' OR '1'='1", "timestamp"},
		{"injection function", "count(*)", "timestamp"},
		{"injection path", "../../etc/passwd", "timestamp"},
		{"case sensitive allowlist", "Event_Type", "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exec.sanitizeColumn(tt.input); got != tt.want {
				t.Errorf("sanitizeColumn(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeOrderBy(t *testing.T) {
	exec := newTestExecutor()

	tests := []struct {
		input string
		want  string
	}{
		{"timestamp", "timestamp"},
		{"received_at", "received_at"},
		{"event_type", "event_type"},
		{"data_volume_estimate", "data_volume_estimate"},
		// Valid column but not orderable
		{"metadata", "timestamp"},
		{"sensitivity_tags", "timestamp"},
		// Garbage
		{"timestamp; DROP TABLE events", "timestamp"},
		{"", "timestamp"},
	}

	for _, tt := range tests {
		if got := exec.sanitizeOrderBy(tt.input); got != tt.want {
			t.Errorf("sanitizeOrderBy(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestOrderDirection(t *testing.T) {
	exec := newTestExecutor()
	if got := exec.orderDirection(true); got != "DESC" {
		t.Errorf("orderDirection(true) = %q", got)
	}
	if got := exec.orderDirection(false); got != "ASC" {
		t.Errorf("orderDirection(false) = %q", got)
	}
}

func TestBuildWhereClauseEmpty(t *testing.T) {
	exec := newTestExecutor()
	clause, args := exec.buildWhereClause(&Query{})
	if clause != "" || args != nil {
		t.Errorf("empty query produced clause %q with args %v", clause, args)
	}
}

func TestBuildWhereClauseConditions(t *testing.T) {
	exec := newTestExecutor()
	q, err := ParseQuery("event_type=AI_DATA_ACCESS AND privilege=admin")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}

	clause, args := exec.buildWhereClause(q)
	want := "WHERE event_type = ? AND privilege_level = ?"
	if clause != want {
		t.Errorf("clause = %q, want %q", clause, want)
	}
	if len(args) != 2 {
		t.Errorf("args = %v, want 2 values", args)
	}
}

func TestBuildWhereClauseOrLogic(t *testing.T) {
	exec := newTestExecutor()
	q, err := ParseQuery("exposure=external OR exposure=bidirectional")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}

	clause, _ := exec.buildWhereClause(q)
	if !strings.Contains(clause, " OR ") {
		t.Errorf("clause %q missing OR", clause)
	}
}

func TestBuildWhereClauseTimeRange(t *testing.T) {
	exec := newTestExecutor()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	q := &Query{TimeRange: &TimeRange{Start: start, End: end}}
	clause, args := exec.buildWhereClause(q)

	if !strings.Contains(clause, "timestamp >= ?") || !strings.Contains(clause, "timestamp <= ?") {
		t.Errorf("clause = %q, missing time range bounds", clause)
	}
	if len(args) != 2 {
		t.Errorf("expected 2 args, got %d", len(args))
	}
}

func TestBuildWhereClauseTimeRangeAlwaysAnded(t *testing.T) {
	exec := newTestExecutor()
	q, err := ParseQuery("event_type=AI_DATA_ACCESS OR event_type=DATA_EGRESS")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	q.TimeRange = &TimeRange{Start: time.Now().Add(-time.Hour)}

	clause, _ := exec.buildWhereClause(q)
	// The time bound joins with AND even though the conditions use OR.
	if !strings.HasPrefix(clause, "WHERE timestamp >= ? AND ") {
		t.Errorf("clause = %q, time bound must be ANDed first", clause)
	}
	if !strings.Contains(clause, " OR ") {
		t.Errorf("clause = %q, condition OR lost", clause)
	}
}

func TestBuildWhereClauseParens(t *testing.T) {
	exec := newTestExecutor()
	q, err := ParseQuery("(event_type=AI_DATA_ACCESS OR event_type=DATA_EGRESS) AND privilege=admin")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}

	clause, _ := exec.buildWhereClause(q)
	want := "WHERE (event_type = ? OR event_type = ?) AND privilege_level = ?"
	if clause != want {
		t.Errorf("clause = %q, want %q", clause, want)
	}
}

func TestBuildConditionClauseTags(t *testing.T) {
	exec := newTestExecutor()

	tests := []struct {
		name  string
		query string
		want  string
		args  int
	}{
		{"tag membership", "tag=financial", "has(sensitivity_tags, ?)", 1},
		{"tag exclusion", "tag!=financial", "has(sensitivity_tags, ?) = 0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery failed: %v", err)
			}
			clause, args := exec.buildWhereClause(q)
			if clause != "WHERE "+tt.want {
				t.Errorf("clause = %q, want WHERE %s", clause, tt.want)
			}
			if len(args) != tt.args {
				t.Errorf("args = %v, want %d values", args, tt.args)
			}
		})
	}
}

func TestBuildTagClauseEmptiness(t *testing.T) {
	exec := newTestExecutor()

	clause, args := exec.buildTagClause(Condition{IsTag: true, Operator: OpExists})
	if clause != "notEmpty(sensitivity_tags)" || args != nil {
		t.Errorf("exists clause = %q %v", clause, args)
	}

	clause, args = exec.buildTagClause(Condition{IsTag: true, Operator: OpNotExists})
	if clause != "empty(sensitivity_tags)" || args != nil {
		t.Errorf("not exists clause = %q %v", clause, args)
	}
}

func TestBuildConditionClauseMetadata(t *testing.T) {
	exec := newTestExecutor()
	q, err := ParseQuery("metadata.model_name=gpt-4")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}

	clause, args := exec.buildWhereClause(q)
	if clause != "WHERE JSONExtractString(metadata, ?) = ?" {
		t.Errorf("clause = %q", clause)
	}
	if len(args) != 2 || args[0] != "model_name" {
		t.Errorf("args = %v", args)
	}
}

func TestBuildConditionClauseRegex(t *testing.T) {
	exec := newTestExecutor()
	q, err := ParseQuery("source=svc-*")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}

	clause, _ := exec.buildWhereClause(q)
	if clause != "WHERE match(source_system_id, ?)" {
		t.Errorf("clause = %q", clause)
	}
}

func TestBuildConditionClauseRegexTooLong(t *testing.T) {
	exec := newTestExecutor()
	cond := Condition{
		Field:    "source",
		Operator: OpEquals,
		IsRegex:  true,
		Value:    strings.Repeat("a", 2000),
	}
	clause, args := exec.buildConditionClause("source_system_id", cond)
	if clause != "1=0" || args != nil {
		t.Errorf("oversized regex should be rejected, got %q %v", clause, args)
	}
}

func TestBuildConditionClauseExists(t *testing.T) {
	exec := newTestExecutor()
	cond := Condition{Field: "target", Operator: OpExists}
	clause, args := exec.buildConditionClause("target_entity_id", cond)
	if clause != "target_entity_id != ''" || args != nil {
		t.Errorf("exists clause = %q %v", clause, args)
	}
}

func TestParseTimeString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(time.Time) bool
	}{
		{
			name:  "rfc3339",
			input: "2026-03-01T12:00:00Z",
			check: func(tm time.Time) bool {
				return tm.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
			},
		},
		{
			name:  "date only",
			input: "2026-03-01",
			check: func(tm time.Time) bool {
				return tm.Year() == 2026 && tm.Month() == 3 && tm.Day() == 1
			},
		},
		{
			name:  "relative",
			input: "now-1h",
			check: func(tm time.Time) bool {
				diff := time.Since(tm) - time.Hour
				return diff > -time.Minute && diff < time.Minute
			},
		},
		{
			name:  "unix seconds",
			input: "1767225600",
			check: func(tm time.Time) bool {
				return tm.Equal(time.Unix(1767225600, 0))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm, err := parseTimeString(tt.input)
			if err != nil {
				t.Fatalf("parseTimeString(%q) failed: %v", tt.input, err)
			}
			if !tt.check(tm) {
				t.Errorf("parseTimeString(%q) = %v", tt.input, tm)
			}
		})
	}
}

func newTestHandler() *Handler {
	return NewHandler(newTestExecutor(), nil)
}

func TestHandleSearchBadBody(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.HandleSearch(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != "invalid_request" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestHandleAggregationMissingField(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/aggregations", strings.NewReader(`{"type":"terms"}`))
	w := httptest.NewRecorder()
	h.HandleAggregation(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleGetEventMissingID(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/events/"+strings.Repeat("x", 300), nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
