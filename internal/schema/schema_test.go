package schema

import (
	"testing"
	"time"
)

func TestSeverityRank(t *testing.T) {
	tests := []struct {
		sev  Severity
		rank int
	}{
		{SeverityLow, 1},
		{SeverityMedium, 2},
		{SeverityHigh, 3},
		{SeverityCritical, 4},
		{Severity("bogus"), 0},
	}

	for _, tt := range tests {
		if got := tt.sev.Rank(); got != tt.rank {
			t.Errorf("Rank(%q) = %d, want %d", tt.sev, got, tt.rank)
		}
	}
}

func TestSeverityMax(t *testing.T) {
	if got := SeverityHigh.Max(SeverityMedium); got != SeverityHigh {
		t.Errorf("Max = %q, want high", got)
	}
	if got := SeverityMedium.Max(SeverityCritical); got != SeverityCritical {
		t.Errorf("Max = %q, want critical", got)
	}
	if got := SeverityLow.Max(Severity("bogus")); got != SeverityLow {
		t.Errorf("Max with unknown = %q, want low", got)
	}
}

func TestExposureDirectionOutbound(t *testing.T) {
	tests := []struct {
		dir  ExposureDirection
		want bool
	}{
		{ExposureInternalToExternal, true},
		{ExposureInternalToAI, true},
		{ExposureInternalToInternal, true},
		{ExposureAIToInternal, false},
		{ExposureExternalToInternal, false},
	}

	for _, tt := range tests {
		if got := tt.dir.Outbound(); got != tt.want {
			t.Errorf("Outbound(%q) = %v, want %v", tt.dir, got, tt.want)
		}
	}
}

func TestPrivilegeLevelWeight(t *testing.T) {
	tests := []struct {
		level PrivilegeLevel
		want  float64
	}{
		{PrivilegeRead, 0.2},
		{PrivilegeWrite, 0.4},
		{PrivilegeAdmin, 0.7},
		{PrivilegeSuperAdmin, 1.0},
		{PrivilegeUnknown, 0.5},
		{PrivilegeLevel(""), 0.5},
	}

	for _, tt := range tests {
		if got := tt.level.Weight(); got != tt.want {
			t.Errorf("Weight(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSLAFor(t *testing.T) {
	tests := []struct {
		sev    Severity
		want   time.Duration
		hasSLA bool
	}{
		{SeverityCritical, 4 * time.Hour, true},
		{SeverityHigh, 24 * time.Hour, true},
		{SeverityMedium, 72 * time.Hour, true},
		{SeverityLow, 168 * time.Hour, true},
		{Severity("bogus"), 0, false},
	}

	for _, tt := range tests {
		got, ok := SLAFor(tt.sev)
		if got != tt.want || ok != tt.hasSLA {
			t.Errorf("SLAFor(%q) = (%v, %v), want (%v, %v)", tt.sev, got, ok, tt.want, tt.hasSLA)
		}
	}
}

func validEvent() *Event {
	return &Event{
		EventID:           "evt-001",
		EventType:         EventAIDataAccess,
		Timestamp:         time.Now().UTC(),
		SourceSystemID:    "shadow-ai-001",
		TargetEntityID:    "datastore:customer-db",
		IdentityID:        "ai:chatgpt-prod",
		SensitivityTags:   []SensitivityTag{TagFinancial},
		ExposureDirection: ExposureInternalToAI,
		PrivilegeLevel:    PrivilegeRead,
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	t.Run("valid event", func(t *testing.T) {
		if err := v.Validate(validEvent()); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("missing event id", func(t *testing.T) {
		e := validEvent()
		e.EventID = "  "
		if err := v.Validate(e); err == nil {
			t.Error("Validate() should fail for blank event_id")
		}
	})

	t.Run("missing source system", func(t *testing.T) {
		e := validEvent()
		e.SourceSystemID = ""
		if err := v.Validate(e); err == nil {
			t.Error("Validate() should fail for missing source_system_id")
		}
	})

	t.Run("unknown event type", func(t *testing.T) {
		e := validEvent()
		e.EventType = "NOT_A_TYPE"
		if err := v.Validate(e); err == nil {
			t.Error("Validate() should fail for unknown event type")
		}
	})

	t.Run("unknown exposure direction", func(t *testing.T) {
		e := validEvent()
		e.ExposureDirection = "sideways"
		if err := v.Validate(e); err == nil {
			t.Error("Validate() should fail for unknown exposure direction")
		}
	})

	t.Run("unknown sensitivity tag", func(t *testing.T) {
		e := validEvent()
		e.SensitivityTags = []SensitivityTag{"super_secret"}
		if err := v.Validate(e); err == nil {
			t.Error("Validate() should fail for unknown sensitivity tag")
		}
	})

	t.Run("timestamp too old", func(t *testing.T) {
		e := validEvent()
		e.Timestamp = time.Now().UTC().Add(-30 * 24 * time.Hour)
		if err := v.Validate(e); err == nil {
			t.Error("Validate() should fail for stale timestamp")
		}
	})

	t.Run("timestamp in future", func(t *testing.T) {
		e := validEvent()
		e.Timestamp = time.Now().UTC().Add(time.Hour)
		if err := v.Validate(e); err == nil {
			t.Error("Validate() should fail for future timestamp")
		}
	})

	t.Run("defaults privilege level", func(t *testing.T) {
		e := validEvent()
		e.PrivilegeLevel = ""
		if err := v.Validate(e); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if e.PrivilegeLevel != PrivilegeUnknown {
			t.Errorf("privilege level = %q, want unknown", e.PrivilegeLevel)
		}
	})
}
