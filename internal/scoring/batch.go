package scoring

import (
	"context"
	"sync"
	"time"

	"riskforge/internal/schema"
)

// BatchConfig controls background re-scoring runs.
type BatchConfig struct {
	Workers      int           `yaml:"workers" validate:"gt=0"`
	MaxAttempts  int           `yaml:"max_attempts" validate:"gt=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Workers:      4,
		MaxAttempts:  3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// BatchFailure records an entity that could not be scored after all
// retry attempts.
type BatchFailure struct {
	EntityID string
	Attempts int
	Err      error
}

// BatchReport summarizes a batch scoring run.
type BatchReport struct {
	Scored []*Result
	Failed []BatchFailure
}

// ScoreBatch scores many entities with a fixed-size worker pool. Each item
// is retried with exponential backoff; permanent failures are reported
// without blocking successful items.
func (e *Engine) ScoreBatch(ctx context.Context, entityIDs []string, cfg BatchConfig) *BatchReport {
	if cfg.Workers <= 0 {
		cfg = DefaultBatchConfig()
	}

	work := make(chan string)
	report := &BatchReport{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entityID := range work {
				result, attempts, err := e.scoreWithRetry(ctx, entityID, cfg)
				mu.Lock()
				if err != nil {
					report.Failed = append(report.Failed, BatchFailure{
						EntityID: entityID,
						Attempts: attempts,
						Err:      err,
					})
				} else {
					report.Scored = append(report.Scored, result)
				}
				mu.Unlock()
			}
		}()
	}

	for _, id := range entityIDs {
		select {
		case work <- id:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return report
		}
	}
	close(work)
	wg.Wait()

	e.logger.Info("batch scoring finished",
		"scored", len(report.Scored),
		"failed", len(report.Failed))
	return report
}

// ScoreAllOfType re-scores every known entity of a type ("" for all).
func (e *Engine) ScoreAllOfType(ctx context.Context, nodeType schema.EntityType, limit int, cfg BatchConfig) (*BatchReport, error) {
	ids, err := e.graph.ListNodeIDs(ctx, nodeType, limit)
	if err != nil {
		return nil, err
	}
	return e.ScoreBatch(ctx, ids, cfg), nil
}

func (e *Engine) scoreWithRetry(ctx context.Context, entityID string, cfg BatchConfig) (*Result, int, error) {
	backoff := cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := e.Score(ctx, entityID, nil, true)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		e.logger.Warn("scoring attempt failed",
			"entity_id", entityID,
			"attempt", attempt,
			"error", err)

		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		}
	}
	return nil, cfg.MaxAttempts, lastErr
}
