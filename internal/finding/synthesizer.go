package finding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"riskforge/internal/correlation"
	"riskforge/internal/schema"
)

// Score thresholds for score-driven finding generation. Scores below the
// medium threshold only produce a finding on a sharp increase.
const (
	CriticalScoreThreshold = 0.85
	HighScoreThreshold     = 0.70
	MediumScoreThreshold   = 0.50
	ScoreDeltaThreshold    = 0.15
)

// Trigger thresholds for correlation-driven findings.
const minEventCountTrigger = 3

// Publisher pushes completed or updated findings to subscribers. Publishing
// is best-effort; failures are logged, never returned to the caller.
type Publisher interface {
	PublishFinding(ctx context.Context, f *schema.Finding) error
}

// Synthesizer merges correlation groups and scoring results into findings.
// The fingerprint is the merge key: a second trigger with the same
// fingerprint updates the existing finding instead of creating a duplicate.
type Synthesizer struct {
	store  Store
	pub    Publisher
	logger *slog.Logger
}

func NewSynthesizer(store Store, pub Publisher, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		store:  store,
		pub:    pub,
		logger: logger.With("component", "finding_synthesizer"),
	}
}

// FromCorrelation produces or updates a finding from a correlation group.
// It returns "" with no error when the group does not yet warrant one.
func (s *Synthesizer) FromCorrelation(ctx context.Context, g *correlation.Group) (string, error) {
	triggered := g.MaxSeverity == schema.SeverityHigh ||
		g.MaxSeverity == schema.SeverityCritical ||
		g.EventCount() >= minEventCountTrigger
	if !triggered {
		return "", nil
	}

	fp := correlation.FindingFingerprint(g.PrimaryEntityID, g.PrimaryEntityType, g.Type, g.WindowStart)

	unlock := writeLocks.Lock(fp)
	defer unlock()

	existing, err := s.store.GetByFingerprint(ctx, fp)
	switch {
	case err == nil:
		return s.mergeCorrelation(ctx, existing, g)
	case err == ErrNotFound:
		return s.createFromCorrelation(ctx, g, fp)
	default:
		return "", fmt.Errorf("finding lookup: %w", err)
	}
}

func (s *Synthesizer) createFromCorrelation(ctx context.Context, g *correlation.Group, fp string) (string, error) {
	now := time.Now().UTC()
	f := &schema.Finding{
		FindingID:         newFindingID(),
		Fingerprint:       fp,
		CorrelationID:     g.CorrelationID,
		Title:             titleFor(g.Type, g.PrimaryEntityID),
		Description:       describeGroup(g),
		FindingType:       string(g.Type),
		Severity:          g.MaxSeverity,
		RiskScore:         scoreForSeverity(g.MaxSeverity),
		PrimaryEntityID:   g.PrimaryEntityID,
		PrimaryEntityType: g.PrimaryEntityType,
		EntitiesInvolved:  relatedEntities(g),
		Evidence:          evidenceFromGroup(g, schema.MaxEvidenceEntries),
		EvidenceCount:     g.EventCount(),
		Recommendations:   recommendationsFor(g.Type, g.PrimaryEntityID),
		Tags:              groupTags(g),
		Status:            schema.FindingOpen,
		OccurrenceCount:   1,
		FirstSeenAt:       g.WindowStart,
		LastSeenAt:        now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if sla, ok := schema.SLAFor(f.Severity); ok {
		due := now.Add(sla)
		f.SLADueAt = &due
	}

	if err := s.store.Save(ctx, f); err != nil {
		return "", fmt.Errorf("save finding: %w", err)
	}
	s.logger.Info("finding created",
		"finding_id", f.FindingID,
		"correlation_id", g.CorrelationID,
		"severity", f.Severity,
		"event_count", g.EventCount())
	s.publish(ctx, f)
	return f.FindingID, nil
}

func (s *Synthesizer) mergeCorrelation(ctx context.Context, f *schema.Finding, g *correlation.Group) (string, error) {
	now := time.Now().UTC()

	f.Evidence = mergeEvidence(f.Evidence, evidenceFromGroup(g, schema.MaxEvidenceEntries))
	f.EvidenceCount += g.EventCount()

	if g.MaxSeverity.Rank() > f.Severity.Rank() {
		f.Severity = g.MaxSeverity
		// Escalation tightens the deadline when the new SLA is shorter.
		if sla, ok := schema.SLAFor(f.Severity); ok {
			due := f.CreatedAt.Add(sla)
			if f.SLADueAt == nil || due.Before(*f.SLADueAt) {
				f.SLADueAt = &due
			}
		}
	}
	if sc := scoreForSeverity(g.MaxSeverity); sc > f.RiskScore {
		f.RiskScore = sc
	}

	f.OccurrenceCount++
	f.LastSeenAt = now
	f.UpdatedAt = now

	if err := s.store.Save(ctx, f); err != nil {
		return "", fmt.Errorf("save finding: %w", err)
	}
	s.logger.Info("finding updated",
		"finding_id", f.FindingID,
		"correlation_id", g.CorrelationID,
		"severity", f.Severity,
		"occurrences", f.OccurrenceCount)
	s.publish(ctx, f)
	return f.FindingID, nil
}

// ScoreInput carries one entity's scoring result into the synthesizer.
type ScoreInput struct {
	EntityID   string
	EntityType schema.EntityType
	EntityName string

	Exposure    float64
	Volatility  float64
	Sensitivity float64
	Composite   float64
	Level       schema.RiskLevel

	// Previous is the prior composite score, nil for a first scoring.
	Previous *float64

	ExternalFactor  float64
	AIFactor        float64
	PrivilegeFactor float64
	PublicFactor    float64

	At time.Time
}

func (in ScoreInput) delta() (float64, bool) {
	if in.Previous == nil {
		return 0, false
	}
	return in.Composite - *in.Previous, true
}

// FromScore produces or updates a finding from a composite risk score,
// applying absolute thresholds and the score-delta rule. Returns "" with no
// error when the score does not warrant a finding.
func (s *Synthesizer) FromScore(ctx context.Context, in ScoreInput) (string, error) {
	sev, ok := severityForScore(in)
	if !ok {
		return "", nil
	}

	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ftype := scoreFindingType(in)
	fp := correlation.FindingFingerprint(in.EntityID, in.EntityType, correlation.Type(ftype), correlation.TimeBucket(at))

	unlock := writeLocks.Lock(fp)
	defer unlock()

	existing, err := s.store.GetByFingerprint(ctx, fp)
	switch {
	case err == nil:
		return s.mergeScore(ctx, existing, in)
	case err == ErrNotFound:
	default:
		return "", fmt.Errorf("finding lookup: %w", err)
	}

	now := time.Now().UTC()
	f := &schema.Finding{
		FindingID:         newFindingID(),
		Fingerprint:       fp,
		Title:             scoreTitle(in, ftype),
		Description:       describeScore(in),
		FindingType:       ftype,
		Severity:          sev,
		RiskScore:         in.Composite,
		ExposureScore:     in.Exposure,
		VolatilityScore:   in.Volatility,
		SensitivityScore:  in.Sensitivity,
		PrimaryEntityID:   in.EntityID,
		PrimaryEntityType: in.EntityType,
		EntitiesInvolved: []schema.EntityRef{{
			EntityID:   in.EntityID,
			EntityType: in.EntityType,
			Name:       in.EntityName,
			Role:       "primary",
		}},
		Recommendations: scoreRecommendations(in),
		Tags:            scoreTags(in),
		Status:          schema.FindingOpen,
		OccurrenceCount: 1,
		FirstSeenAt:     at,
		LastSeenAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if sla, ok := schema.SLAFor(sev); ok {
		due := now.Add(sla)
		f.SLADueAt = &due
	}

	if err := s.store.Save(ctx, f); err != nil {
		return "", fmt.Errorf("save finding: %w", err)
	}
	s.logger.Info("finding created",
		"finding_id", f.FindingID,
		"entity_id", in.EntityID,
		"severity", sev,
		"composite", in.Composite)
	s.publish(ctx, f)
	return f.FindingID, nil
}

func (s *Synthesizer) mergeScore(ctx context.Context, f *schema.Finding, in ScoreInput) (string, error) {
	now := time.Now().UTC()

	if sev, ok := severityForScore(in); ok && sev.Rank() > f.Severity.Rank() {
		f.Severity = sev
		if sla, ok := schema.SLAFor(sev); ok {
			due := f.CreatedAt.Add(sla)
			if f.SLADueAt == nil || due.Before(*f.SLADueAt) {
				f.SLADueAt = &due
			}
		}
	}
	if in.Composite > f.RiskScore {
		f.RiskScore = in.Composite
	}
	f.ExposureScore = in.Exposure
	f.VolatilityScore = in.Volatility
	f.SensitivityScore = in.Sensitivity
	f.OccurrenceCount++
	f.LastSeenAt = now
	f.UpdatedAt = now

	if err := s.store.Save(ctx, f); err != nil {
		return "", fmt.Errorf("save finding: %w", err)
	}
	s.publish(ctx, f)
	return f.FindingID, nil
}

func (s *Synthesizer) publish(ctx context.Context, f *schema.Finding) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishFinding(ctx, f); err != nil {
		s.logger.Warn("finding publish failed", "finding_id", f.FindingID, "error", err)
	}
}

func newFindingID() string {
	return "f-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func scoreForSeverity(sev schema.Severity) float64 {
	return float64(sev.Rank()) / 4.0
}

// severityForScore applies the absolute thresholds, falling back to the
// delta rule for sub-threshold scores. A medium score on a previously
// scored entity only triggers when it jumped by the delta threshold.
func severityForScore(in ScoreInput) (schema.Severity, bool) {
	delta, hasPrev := in.delta()
	switch {
	case in.Composite >= CriticalScoreThreshold:
		return schema.SeverityCritical, true
	case in.Composite >= HighScoreThreshold:
		return schema.SeverityHigh, true
	case in.Composite >= MediumScoreThreshold:
		if !hasPrev || delta >= ScoreDeltaThreshold {
			return schema.SeverityMedium, true
		}
	}
	if hasPrev && delta >= 2*ScoreDeltaThreshold {
		return schema.SeverityLow, true
	}
	return "", false
}

func scoreFindingType(in ScoreInput) string {
	if delta, ok := in.delta(); ok && delta >= ScoreDeltaThreshold {
		return "risk_increase"
	}
	if in.AIFactor > 0.5 {
		return "ai_exposure"
	}
	if in.Volatility > 0.7 {
		return "anomaly"
	}
	return "risk_detected"
}

func scoreTitle(in ScoreInput, ftype string) string {
	name := in.EntityName
	if name == "" {
		name = in.EntityID
	}
	switch ftype {
	case "risk_increase":
		return "Risk Increase Detected: " + name
	case "ai_exposure":
		return "AI Exposure Risk: " + name
	case "anomaly":
		return "Anomalous Activity: " + name
	}
	return fmt.Sprintf("%s Risk: %s", strings.ToUpper(string(in.Level)), name)
}

func describeScore(in ScoreInput) string {
	name := in.EntityName
	if name == "" {
		name = in.EntityID
	}
	parts := []string{fmt.Sprintf(
		"Entity '%s' has a risk score of %.2f (%s risk level).",
		name, in.Composite, in.Level)}

	if delta, ok := in.delta(); ok {
		direction := "increased"
		if delta < 0 {
			direction = "decreased"
		}
		parts = append(parts, fmt.Sprintf(
			"Score %s by %.2f from previous value of %.2f.",
			direction, abs(delta), *in.Previous))
	}
	if in.AIFactor > 0.5 {
		parts = append(parts, "High AI integration factor indicates potential data exposure to external AI services.")
	}
	if in.ExternalFactor > 0.6 {
		parts = append(parts, "Elevated external connection factor suggests broad external access.")
	}
	if in.Sensitivity > 0.7 {
		parts = append(parts, "High sensitivity likelihood indicates this entity likely contains protected data.")
	}
	return strings.Join(parts, " ")
}

func scoreRecommendations(in ScoreInput) []schema.Recommendation {
	var recs []schema.Recommendation

	if in.ExternalFactor > 0.6 {
		priority := "medium"
		if in.ExternalFactor > 0.8 {
			priority = "high"
		}
		recs = append(recs, schema.Recommendation{
			Action:      "reduce_external_access",
			Description: "Review and reduce external connections to minimize exposure surface",
			Priority:    priority,
		})
	}
	if in.AIFactor > 0.5 {
		recs = append(recs, schema.Recommendation{
			Action:      "review_ai_permissions",
			Description: "Audit AI tool permissions and implement least-privilege access",
			Priority:    "high",
		})
	}
	if in.PrivilegeFactor > 0.6 {
		priority := "medium"
		if in.PrivilegeFactor > 0.8 {
			priority = "high"
		}
		recs = append(recs, schema.Recommendation{
			Action:      "enforce_least_privilege",
			Description: "Review privilege levels and enforce least-privilege principle",
			Priority:    priority,
		})
	}
	if in.PublicFactor > 0.5 {
		recs = append(recs, schema.Recommendation{
			Action:      "restrict_public_access",
			Description: "Consider restricting public accessibility or adding authentication",
			Priority:    "high",
		})
	}
	if in.Sensitivity > 0.7 {
		recs = append(recs, schema.Recommendation{
			Action:      "implement_data_protection",
			Description: "Implement encryption, masking, or additional access controls for sensitive data",
			Priority:    "high",
		})
	}
	if in.Volatility > 0.6 {
		recs = append(recs, schema.Recommendation{
			Action:      "investigate_changes",
			Description: "Investigate recent changes causing risk score volatility",
			Priority:    "medium",
		})
	}
	if len(recs) == 0 {
		recs = append(recs, schema.Recommendation{
			Action:      "monitor",
			Description: "Continue monitoring; schedule periodic review",
			Priority:    "low",
		})
	}
	return recs
}

func scoreTags(in ScoreInput) []string {
	tags := []string{"entity-type-" + string(in.EntityType), string(in.Level)}
	if in.AIFactor > 0.3 {
		tags = append(tags, "ai-exposure")
	}
	if in.Sensitivity > 0.5 {
		tags = append(tags, "sensitive-data")
	}
	if in.ExternalFactor > 0.5 {
		tags = append(tags, "external-exposure")
	}
	if in.Volatility > 0.6 {
		tags = append(tags, "volatile")
	}
	return tags
}

func titleFor(t correlation.Type, entityID string) string {
	base := "Security Finding"
	switch t {
	case correlation.TypeAIExposure:
		base = "AI Tool Data Exposure"
	case correlation.TypeAIIntegration:
		base = "AI Integration Risk"
	case correlation.TypeShadowAI:
		base = "Unsanctioned AI Tool Detected"
	case correlation.TypePrivEscalation:
		base = "Privilege Escalation"
	case correlation.TypeDataMovement:
		base = "Sensitive Data Movement"
	case correlation.TypeDataExfiltration:
		base = "Data Export to External"
	case correlation.TypeDataAggregation:
		base = "Sensitive Data Aggregation"
	case correlation.TypeAuthFailure:
		base = "Authentication Anomaly"
	case correlation.TypeAccessPattern:
		base = "Unusual Access Pattern"
	}
	return base + ": " + entityID
}

func describeGroup(g *correlation.Group) string {
	minutes := int(g.WindowEnd.Sub(g.WindowStart).Minutes())
	parts := []string{fmt.Sprintf(
		"Detected %d related security events affecting '%s' over %d minutes.",
		g.EventCount(), g.PrimaryEntityID, minutes)}

	if len(g.SensitivityTags) > 0 {
		n := len(g.SensitivityTags)
		if n > 3 {
			n = 3
		}
		names := make([]string, 0, n)
		for _, tag := range g.SensitivityTags[:n] {
			names = append(names, string(tag))
		}
		parts = append(parts, "Sensitivity indicators: "+strings.Join(names, ", ")+".")
	}
	if g.TotalDataVolume > 0 {
		parts = append(parts, fmt.Sprintf(
			"Estimated data volume: %.2f MB.", float64(g.TotalDataVolume)/(1024*1024)))
	}
	return strings.Join(parts, " ")
}

func recommendationsFor(t correlation.Type, entityID string) []schema.Recommendation {
	var recs []schema.Recommendation
	switch t {
	case correlation.TypeAIExposure, correlation.TypeShadowAI:
		recs = append(recs, schema.Recommendation{
			Action:      "review_ai_access",
			Description: "Review and restrict AI tool access to " + entityID,
			Priority:    "high",
		})
	case correlation.TypeDataExfiltration:
		recs = append(recs, schema.Recommendation{
			Action:      "block_export",
			Description: "Consider blocking data export from " + entityID + " pending review",
			Priority:    "critical",
		})
	case correlation.TypePrivEscalation:
		recs = append(recs, schema.Recommendation{
			Action:      "audit_privileges",
			Description: "Audit privilege assignments and access logs for " + entityID,
			Priority:    "high",
		})
	}
	if len(recs) == 0 {
		recs = append(recs, schema.Recommendation{
			Action:      "investigate",
			Description: "Investigate the related security events on " + entityID,
			Priority:    "medium",
		})
	}
	return recs
}

func evidenceFromGroup(g *correlation.Group, limit int) []schema.EventRef {
	members := g.Members
	if len(members) > limit {
		members = members[:limit]
	}
	out := make([]schema.EventRef, len(members))
	copy(out, members)
	return out
}

// mergeEvidence unions two evidence lists deduplicated by event id, capped
// at MaxEvidenceEntries. Existing entries keep their position.
func mergeEvidence(existing, incoming []schema.EventRef) []schema.EventRef {
	seen := make(map[string]struct{}, len(existing))
	for _, ref := range existing {
		seen[ref.EventID] = struct{}{}
	}
	merged := existing
	for _, ref := range incoming {
		if _, dup := seen[ref.EventID]; dup {
			continue
		}
		seen[ref.EventID] = struct{}{}
		merged = append(merged, ref)
	}
	if len(merged) > schema.MaxEvidenceEntries {
		merged = merged[:schema.MaxEvidenceEntries]
	}
	return merged
}

func relatedEntities(g *correlation.Group) []schema.EntityRef {
	ids := g.RelatedEntityIDs
	if len(ids) > 5 {
		ids = ids[:5]
	}
	refs := make([]schema.EntityRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, schema.EntityRef{
			EntityID:   id,
			EntityType: correlation.InferEntityType(id),
			Role:       "related",
		})
	}
	return refs
}

func groupTags(g *correlation.Group) []string {
	tags := make([]string, 0, len(g.SensitivityTags)+1)
	for _, tag := range g.SensitivityTags {
		tags = append(tags, string(tag))
	}
	return append(tags, string(g.Type))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
