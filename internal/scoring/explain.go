package scoring

import (
	"fmt"
	"sort"
)

// Explanation is a human-readable breakdown of a scoring result.
type Explanation struct {
	EntityID       string             `json:"entity_id"`
	RiskLevel      string             `json:"risk_level"`
	CompositeScore float64            `json:"composite_score"`
	Summary        string             `json:"summary"`
	TopRiskFactors []string           `json:"top_risk_factors"`
	FactorValues   map[string]float64 `json:"factor_values"`
}

// Explain breaks a result down into its leading contributing factors.
func Explain(result *Result) Explanation {
	f := result.Factors
	contributions := []struct {
		name  string
		value float64
	}{
		{"External connections", f.ExternalConnection},
		{"AI tool integrations", f.AIIntegration},
		{"Data volume", f.DataVolume},
		{"Privilege level", f.PrivilegeLevel},
		{"Public exposure", f.PublicExposure},
	}
	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].value > contributions[j].value
	})

	var top []string
	for _, c := range contributions[:3] {
		if c.value > 0.1 {
			top = append(top, c.name)
		}
	}

	return Explanation{
		EntityID:       result.EntityID,
		RiskLevel:      string(result.Level),
		CompositeScore: result.Composite,
		Summary: fmt.Sprintf(
			"Entity %s scored %.2f (%s): exposure %.2f, volatility %.2f, sensitivity %.2f.",
			result.EntityID, result.Composite, result.Level,
			result.Exposure, result.Volatility, result.Sensitivity),
		TopRiskFactors: top,
		FactorValues: map[string]float64{
			"external_connections": f.ExternalConnection,
			"ai_integrations":      f.AIIntegration,
			"data_volume":          f.DataVolume,
			"privilege_level":      f.PrivilegeLevel,
			"public_exposure":      f.PublicExposure,
			"name_heuristic":       f.NameHeuristic,
			"data_classification":  f.DataClassification,
			"sensitivity_tags":     f.SensitivityTag,
		},
	}
}
