package scoring

import (
	"math"
	"testing"

	"riskforge/internal/graph"
	"riskforge/internal/schema"
)

func TestClassifyRiskLevel(t *testing.T) {
	tests := []struct {
		composite float64
		want      schema.RiskLevel
	}{
		{1.0, schema.RiskCritical},
		{0.8, schema.RiskCritical},
		{0.79999, schema.RiskHigh},
		{0.6, schema.RiskHigh},
		{0.59999, schema.RiskMedium},
		{0.4, schema.RiskMedium},
		{0.39999, schema.RiskLow},
		{0.2, schema.RiskLow},
		{0.19999, schema.RiskMinimal},
		{0.0, schema.RiskMinimal},
	}
	for _, tt := range tests {
		if got := ClassifyRiskLevel(tt.composite); got != tt.want {
			t.Errorf("ClassifyRiskLevel(%v) = %s, want %s", tt.composite, got, tt.want)
		}
	}
}

func TestCompositeScoreBounds(t *testing.T) {
	rules := NewRules(DefaultWeights())
	grid := []float64{0, 0.25, 0.5, 0.75, 1}
	for _, e := range grid {
		for _, v := range grid {
			for _, s := range grid {
				c := rules.CompositeScore(e, v, s)
				if c < 0 || c > 1 {
					t.Fatalf("CompositeScore(%v, %v, %v) = %v out of [0,1]", e, v, s, c)
				}
			}
		}
	}
}

func TestExposureScoreBounds(t *testing.T) {
	rules := NewRules(DefaultWeights())

	if got := rules.ExposureScore(Factors{}); got != 0 {
		t.Errorf("exposure of zero factors = %v, want 0", got)
	}

	all := Factors{
		ExternalConnection: 1,
		AIIntegration:      1,
		DataVolume:         1,
		PrivilegeLevel:     1,
		PublicExposure:     1,
	}
	if got := rules.ExposureScore(all); got != 1 {
		t.Errorf("exposure of max factors = %v, want capped at 1", got)
	}
}

func TestSensitivityLikelihood_MaxWeighted(t *testing.T) {
	rules := NewRules(DefaultWeights())

	// One strong indicator must not be diluted by two zeros.
	f := Factors{NameHeuristic: 1.0}
	want := 1.0*0.7 + (1.0/3)*0.3
	if got := rules.SensitivityLikelihood(f); math.Abs(got-want) > 1e-9 {
		t.Errorf("sensitivity = %v, want %v", got, want)
	}
}

func TestVolatilityScore(t *testing.T) {
	rules := NewRules(DefaultWeights())

	live := Factors{ConnectionChangeRate: 0.5, AccessPatternChange: 0.5, RecentIntegration: 0.5}
	if got := rules.VolatilityScore(live, nil); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("volatility without history = %v, want 0.5", got)
	}

	// History [0.1, 0.9] has variance 0.16, normalized to 0.64.
	got := rules.VolatilityScore(Factors{}, []float64{0.1, 0.9})
	if math.Abs(got-0.32) > 1e-9 {
		t.Errorf("volatility with history = %v, want 0.32", got)
	}
}

func TestDataVolumeFactor(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  float64
	}{
		{"zero", 0, 0},
		{"below medium", 5_000_000, 0.25},
		{"at medium", 10_000_000, 0.5},
		{"between", 20_000_000, 0.55},
		{"at high", 100_000_000, 1.0},
		{"above high", 500_000_000, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := []*schema.Event{{DataVolumeEstimate: tt.bytes}}
			got := dataVolumeFactor(nil, events)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("dataVolumeFactor(%d) = %v, want %v", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestNameHeuristicFactor(t *testing.T) {
	tests := []struct {
		name string
		node graph.Node
		want float64
	}{
		{"no matches", graph.Node{ID: "svc-orders", Name: "orders"}, 0},
		{"one match", graph.Node{ID: "ds-1", Name: "customer-db"}, 0.5},
		{"two matches", graph.Node{ID: "ds-2", Name: "customer-payment"}, 0.8},
		{"three matches", graph.Node{ID: "ds-3", Name: "customer-payment-accounts"}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nameHeuristicFactor(tt.node); got != tt.want {
				t.Errorf("nameHeuristicFactor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrivilegeLevelFactor(t *testing.T) {
	node := graph.Node{PrivilegeLevel: schema.PrivilegeAdmin}
	if got := privilegeLevelFactor(node, nil); got != 0.7 {
		t.Errorf("admin factor = %v, want 0.7", got)
	}

	rels := []graph.Relationship{{Kind: graph.RelManages, ConnectedID: "svc-admin"}}
	if got := privilegeLevelFactor(node, rels); got != 0.8 {
		t.Errorf("managed factor = %v, want 0.8", got)
	}

	node.PrivilegeLevel = schema.PrivilegeSuperAdmin
	if got := privilegeLevelFactor(node, rels); got != 1.0 {
		t.Errorf("super_admin factor = %v, want 1.0", got)
	}
}

func TestSensitivityTagFactor(t *testing.T) {
	if got := sensitivityTagFactor(nil); got != 0 {
		t.Errorf("no events = %v, want 0", got)
	}

	financial := []*schema.Event{{SensitivityTags: []schema.SensitivityTag{schema.TagFinancial}}}
	if got := sensitivityTagFactor(financial); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("financial tag = %v, want 0.6", got)
	}

	other := []*schema.Event{{SensitivityTags: []schema.SensitivityTag{schema.TagIntellectualProperty}}}
	if got := sensitivityTagFactor(other); got != 0.3 {
		t.Errorf("low-value tag = %v, want 0.3", got)
	}
}

func TestClassificationFactor(t *testing.T) {
	tests := []struct {
		classification string
		want           float64
	}{
		{"confidential", 1.0},
		{"pii", 1.0},
		{"internal", 0.5},
		{"public", 0.1},
		{"", 0.3},
		{"whatever", 0.3},
	}
	for _, tt := range tests {
		node := graph.Node{DataClassification: tt.classification}
		if got := classificationFactor(node); got != tt.want {
			t.Errorf("classificationFactor(%q) = %v, want %v", tt.classification, got, tt.want)
		}
	}
}

func TestExternalConnectionFactor(t *testing.T) {
	rels := []graph.Relationship{
		{Kind: graph.RelConnectsTo, ConnectedID: "ext-1", ConnectedType: schema.EntityExternal},
		{Kind: graph.RelIntegratesWith, ConnectedID: "ai-1", ConnectedType: schema.EntityAITool},
	}
	// external (1) + ai (1) + integrates bonus (0.5) = 2.5 / 10
	if got := externalConnectionFactor(rels); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("externalConnectionFactor = %v, want 0.25", got)
	}
}
