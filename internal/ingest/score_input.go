package ingest

import (
	"riskforge/internal/finding"
	"riskforge/internal/scoring"
)

// ScoreInputFromResult adapts a scoring engine result for Synthesizer.FromScore.
func ScoreInputFromResult(res *scoring.Result) finding.ScoreInput {
	return finding.ScoreInput{
		EntityID:        res.EntityID,
		EntityType:      res.EntityType,
		Exposure:        res.Exposure,
		Volatility:      res.Volatility,
		Sensitivity:     res.Sensitivity,
		Composite:       res.Composite,
		Level:           res.Level,
		Previous:        res.Previous,
		ExternalFactor:  res.Factors.ExternalConnection,
		AIFactor:        res.Factors.AIIntegration,
		PrivilegeFactor: res.Factors.PrivilegeLevel,
		PublicFactor:    res.Factors.PublicExposure,
		At:              res.CalculatedAt,
	}
}
