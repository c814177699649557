package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"riskforge/internal/graph"
	"riskforge/internal/schema"
)

// Result is a complete scoring outcome for one entity.
type Result struct {
	EntityID   string            `json:"entity_id"`
	EntityType schema.EntityType `json:"entity_type"`

	Exposure    float64 `json:"exposure_score"`
	Volatility  float64 `json:"volatility_score"`
	Sensitivity float64 `json:"sensitivity_likelihood"`
	Composite   float64 `json:"composite_score"`

	Level   schema.RiskLevel `json:"risk_level"`
	Factors Factors          `json:"factors"`

	// Previous is the prior composite score for this entity, nil on the
	// first scoring cycle.
	Previous *float64 `json:"previous_score,omitempty"`

	CalculatedAt time.Time `json:"calculated_at"`
}

// Cache is a read-through score cache. Implementations degrade silently:
// a failed read is a miss and a failed write is dropped.
type Cache interface {
	GetScore(ctx context.Context, entityID string) (*Result, bool)
	SetScore(ctx context.Context, result *Result)
}

// Engine orchestrates factor extraction, score computation, history
// tracking and graph write-back.
type Engine struct {
	graph  graph.Store
	rules  *Rules
	hist   *History
	cache  Cache
	logger *slog.Logger

	mu            sync.Mutex
	prevComposite map[string]float64
}

func NewEngine(gs graph.Store, rules *Rules, cache Cache, logger *slog.Logger) *Engine {
	if rules == nil {
		rules = NewRules(DefaultWeights())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		graph:         gs,
		rules:         rules,
		hist:          NewHistory(defaultHistoryDepth),
		cache:         cache,
		logger:        logger.With("component", "scoring_engine"),
		prevComposite: make(map[string]float64),
	}
}

// Score computes risk scores for one entity. Recent events sharpen the
// volatility and sensitivity factors and may be nil. When updateGraph is
// set the three scores are written back to the entity's graph node; a
// write-back failure fails the call.
func (e *Engine) Score(ctx context.Context, entityID string, events []*schema.Event, updateGraph bool) (*Result, error) {
	nwr, err := e.graph.GetNodeWithRelationships(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("load entity %s: %w", entityID, err)
	}

	factors := e.rules.CalculateFactors(nwr, events)
	history := e.hist.Snapshot(entityID)

	exposure := e.rules.ExposureScore(factors)
	volatility := e.rules.VolatilityScore(factors, history)
	sensitivity := e.rules.SensitivityLikelihood(factors)
	composite := e.rules.CompositeScore(exposure, volatility, sensitivity)

	result := &Result{
		EntityID:     entityID,
		EntityType:   nwr.Node.NodeType,
		Exposure:     round4(exposure),
		Volatility:   round4(volatility),
		Sensitivity:  round4(sensitivity),
		Composite:    round4(composite),
		Level:        ClassifyRiskLevel(composite),
		Factors:      factors,
		CalculatedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	if prev, ok := e.prevComposite[entityID]; ok {
		p := prev
		result.Previous = &p
	}
	e.prevComposite[entityID] = result.Composite
	e.mu.Unlock()

	// The next cycle's volatility variance uses this sample.
	e.hist.Append(entityID, result.Exposure)

	if updateGraph {
		if err := e.graph.UpdateRiskScores(ctx, entityID, result.Exposure, result.Volatility, result.Sensitivity); err != nil {
			return nil, fmt.Errorf("write back scores for %s: %w", entityID, err)
		}
	}
	if e.cache != nil {
		e.cache.SetScore(ctx, result)
	}

	e.logger.Info("entity scored",
		"entity_id", entityID,
		"composite", result.Composite,
		"risk_level", result.Level)
	return result, nil
}

// Cached returns the cached score for an entity, if any.
func (e *Engine) Cached(ctx context.Context, entityID string) (*Result, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.GetScore(ctx, entityID)
}

// HighRiskNodes surfaces the top entities by exposure score.
func (e *Engine) HighRiskNodes(ctx context.Context, threshold float64, limit int) ([]graph.Node, error) {
	return e.graph.GetHighRiskNodes(ctx, threshold, limit)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
