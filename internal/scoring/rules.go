// Package scoring implements rule-based composite risk scoring for graph
// entities. Every factor and score is normalized to [0, 1].
package scoring

import (
	"regexp"
	"strings"

	"riskforge/internal/graph"
	"riskforge/internal/schema"
)

// Normalization thresholds for factor extraction.
const (
	externalConnectionHigh = 10
	aiIntegrationHigh      = 3
	volumeHigh             = 100_000_000 // 100MB
	volumeMedium           = 10_000_000  // 10MB
)

// sensitiveNamePatterns flag entity names that likely hold sensitive data.
var sensitiveNamePatterns = compilePatterns([]string{
	`customer`, `user`, `patient`, `employee`, `personal`, `private`,
	`confidential`, `secret`, `credential`, `password`, `auth`,
	`payment`, `financial`, `transaction`, `account`,
	`ssn`, `social.?security`, `credit.?card`, `bank`,
	`health`, `medical`, `diagnosis`, `insurance`,
	`salary`, `tax`, `pii`, `phi`, `hipaa`, `gdpr`,
})

var highSensitivityClassifications = map[string]struct{}{
	"confidential": {}, "secret": {}, "top_secret": {}, "restricted": {},
	"pii": {}, "phi": {}, "financial": {}, "regulated": {},
}

func compilePatterns(raw []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(raw))
	for i, p := range raw {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Factors are the per-dimension inputs to the score formulas.
type Factors struct {
	// Exposure
	ExternalConnection float64 `json:"external_connections"`
	AIIntegration      float64 `json:"ai_integrations"`
	DataVolume         float64 `json:"data_volume"`
	PrivilegeLevel     float64 `json:"privilege_level"`
	PublicExposure     float64 `json:"public_exposure"`

	// Volatility
	ConnectionChangeRate float64 `json:"connection_change_rate"`
	AccessPatternChange  float64 `json:"access_pattern_change"`
	RecentIntegration    float64 `json:"recent_integration"`

	// Sensitivity
	NameHeuristic      float64 `json:"name_heuristic"`
	DataClassification float64 `json:"data_classification"`
	SensitivityTag     float64 `json:"sensitivity_tags"`
}

// Weights for the exposure dimension. Public exposure carries a fixed
// additional weight of 0.15 on top of these.
type Weights struct {
	ExternalConnections float64 `yaml:"external_connections" validate:"gte=0,lte=1"`
	AIIntegrations      float64 `yaml:"ai_integrations" validate:"gte=0,lte=1"`
	DataVolume          float64 `yaml:"data_volume" validate:"gte=0,lte=1"`
	PrivilegeLevel      float64 `yaml:"privilege_level" validate:"gte=0,lte=1"`
	Sensitivity         float64 `yaml:"sensitivity" validate:"gte=0,lte=1"`
}

func DefaultWeights() Weights {
	return Weights{
		ExternalConnections: 0.25,
		AIIntegrations:      0.30,
		DataVolume:          0.20,
		PrivilegeLevel:      0.15,
		Sensitivity:         0.10,
	}
}

const publicExposureWeight = 0.15

// Rules computes scoring factors and combines them into scores.
type Rules struct {
	weights Weights
}

func NewRules(w Weights) *Rules {
	return &Rules{weights: w}
}

// CalculateFactors extracts all factor values for a node given its edges
// and recent events.
func (r *Rules) CalculateFactors(nwr *graph.NodeWithRelationships, events []*schema.Event) Factors {
	node := nwr.Node
	rels := nwr.Relationships

	return Factors{
		ExternalConnection:   externalConnectionFactor(rels),
		AIIntegration:        aiIntegrationFactor(node, rels),
		DataVolume:           dataVolumeFactor(rels, events),
		PrivilegeLevel:       privilegeLevelFactor(node, rels),
		PublicExposure:       publicExposureFactor(node),
		ConnectionChangeRate: connectionChangeFactor(rels, events),
		AccessPatternChange:  accessPatternFactor(events),
		RecentIntegration:    recentIntegrationFactor(events),
		NameHeuristic:        nameHeuristicFactor(node),
		DataClassification:   classificationFactor(node),
		SensitivityTag:       sensitivityTagFactor(events),
	}
}

func externalConnectionFactor(rels []graph.Relationship) float64 {
	var count float64
	for _, rel := range rels {
		if rel.ConnectedType == schema.EntityExternal || rel.ConnectedType == schema.EntityAITool {
			count++
		}
		if rel.Kind == graph.RelExposes || rel.Kind == graph.RelIntegratesWith {
			count += 0.5
		}
	}
	return clamp(count / externalConnectionHigh)
}

func aiIntegrationFactor(node graph.Node, rels []graph.Relationship) float64 {
	count := float64(node.ConnectedAITools)
	for _, rel := range rels {
		if rel.ConnectedType == schema.EntityAITool {
			count++
		}
	}
	// Steep curve: AI data ingestion is high risk.
	return clamp(count / aiIntegrationHigh)
}

func dataVolumeFactor(rels []graph.Relationship, events []*schema.Event) float64 {
	var total float64
	for _, rel := range rels {
		total += float64(rel.DataVolumeBytes)
	}
	for _, ev := range events {
		total += float64(ev.DataVolumeEstimate)
	}
	switch {
	case total >= volumeHigh:
		return 1.0
	case total >= volumeMedium:
		return 0.5 + (total-volumeMedium)/(2*volumeHigh)
	}
	return total / (2 * volumeMedium)
}

func privilegeLevelFactor(node graph.Node, rels []graph.Relationship) float64 {
	max := 0.0
	if node.PrivilegeLevel != "" {
		max = node.PrivilegeLevel.Weight()
	}
	for _, rel := range rels {
		if rel.Kind == graph.RelManages && max < 0.8 {
			max = 0.8
		}
	}
	return max
}

func publicExposureFactor(node graph.Node) float64 {
	if node.IsPublic {
		return 1.0
	}
	if node.IsInternal {
		return 0.0
	}
	return 0.5
}

func connectionChangeFactor(rels []graph.Relationship, events []*schema.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	seen := make(map[string]struct{})
	for _, ev := range events {
		if ev.TargetEntityID != "" {
			seen[ev.TargetEntityID] = struct{}{}
		}
	}
	total := len(rels)
	if total == 0 {
		total = 1
	}
	return clamp(float64(len(seen)) / float64(total))
}

func accessPatternFactor(events []*schema.Event) float64 {
	var count float64
	for _, ev := range events {
		switch ev.EventType {
		case schema.EventSystemAuthFailure, schema.EventPrivilegeEscalation:
			count++
		}
	}
	return clamp(count / 10)
}

func recentIntegrationFactor(events []*schema.Event) float64 {
	var count float64
	for _, ev := range events {
		switch ev.EventType {
		case schema.EventAIAPIIntegration, schema.EventUnsanctionedAI:
			count++
		}
	}
	return clamp(count / aiIntegrationHigh)
}

func nameHeuristicFactor(node graph.Node) float64 {
	combined := strings.ToLower(node.Name + " " + node.ID)
	matches := 0
	for _, p := range sensitiveNamePatterns {
		if p.MatchString(combined) {
			matches++
		}
	}
	switch {
	case matches >= 3:
		return 1.0
	case matches >= 2:
		return 0.8
	case matches >= 1:
		return 0.5
	}
	return 0.0
}

func classificationFactor(node graph.Node) float64 {
	c := strings.ToLower(node.DataClassification)
	if _, high := highSensitivityClassifications[c]; high {
		return 1.0
	}
	switch c {
	case "internal", "private":
		return 0.5
	case "public", "unclassified":
		return 0.1
	case "":
		return 0.3
	}
	return 0.3
}

func sensitivityTagFactor(events []*schema.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	counts := make(map[schema.SensitivityTag]int)
	for _, ev := range events {
		for _, tag := range ev.SensitivityTags {
			counts[tag]++
		}
	}
	// A single high-value tag is enough to mark the entity sensitive.
	for _, tag := range []schema.SensitivityTag{schema.TagFinancial, schema.TagHealth, schema.TagIdentity} {
		if n, ok := counts[tag]; ok {
			return clamp(0.5 + float64(n)*0.1)
		}
	}
	if len(counts) > 0 {
		return 0.3
	}
	return 0.0
}

// ExposureScore combines exposure factors with a 1.2 multiplier that biases
// the curve toward flagging high-risk entities earlier.
func (r *Rules) ExposureScore(f Factors) float64 {
	w := r.weights
	weighted := f.ExternalConnection*w.ExternalConnections +
		f.AIIntegration*w.AIIntegrations +
		f.DataVolume*w.DataVolume +
		f.PrivilegeLevel*w.PrivilegeLevel +
		f.PublicExposure*publicExposureWeight
	totalWeight := w.ExternalConnections + w.AIIntegrations + w.DataVolume +
		w.PrivilegeLevel + w.Sensitivity + publicExposureWeight

	return clamp(weighted / totalWeight * 1.2)
}

// VolatilityScore measures instability of the risk profile. With two or
// more history samples the live change term is averaged with the
// normalized historical variance.
func (r *Rules) VolatilityScore(f Factors, history []float64) float64 {
	base := f.ConnectionChangeRate*0.4 + f.AccessPatternChange*0.3 + f.RecentIntegration*0.3
	if len(history) >= 2 {
		varianceFactor := clamp(variance(history) / 0.25)
		base = (base + varianceFactor) / 2
	}
	return clamp(base)
}

// SensitivityLikelihood is max-weighted so one strong indicator is not
// diluted by two weak ones.
func (r *Rules) SensitivityLikelihood(f Factors) float64 {
	maxIndicator := f.NameHeuristic
	if f.DataClassification > maxIndicator {
		maxIndicator = f.DataClassification
	}
	if f.SensitivityTag > maxIndicator {
		maxIndicator = f.SensitivityTag
	}
	avg := (f.NameHeuristic + f.DataClassification + f.SensitivityTag) / 3
	return clamp(maxIndicator*0.7 + avg*0.3)
}

// CompositeScore is weighted 50% exposure, 30% volatility, 20% sensitivity.
func (r *Rules) CompositeScore(exposure, volatility, sensitivity float64) float64 {
	return clamp(exposure*0.50 + volatility*0.30 + sensitivity*0.20)
}

// ClassifyRiskLevel buckets a composite score. Boundaries are inclusive at
// the lower end of each bucket.
func ClassifyRiskLevel(composite float64) schema.RiskLevel {
	switch {
	case composite >= 0.8:
		return schema.RiskCritical
	case composite >= 0.6:
		return schema.RiskHigh
	case composite >= 0.4:
		return schema.RiskMedium
	case composite >= 0.2:
		return schema.RiskLow
	}
	return schema.RiskMinimal
}

func variance(scores []float64) float64 {
	if len(scores) < 2 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))
	var sq float64
	for _, s := range scores {
		d := s - mean
		sq += d * d
	}
	return sq / float64(len(scores))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
