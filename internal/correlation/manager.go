// Package correlation implements the event intake core: idempotent
// deduplication, fingerprint derivation, and time-windowed grouping of
// related events into correlation groups.
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"riskforge/internal/schema"
)

// ProcessedEvent is the idempotency ledger record for a consumed event.
// Created exactly once per event id.
type ProcessedEvent struct {
	EventID       string           `json:"event_id"`
	EventType     schema.EventType `json:"event_type"`
	SourceSystem  string           `json:"source_system"`
	Fingerprint   string           `json:"fingerprint"`
	CorrelationID string           `json:"correlation_id"`
	Outcome       string           `json:"outcome"`
	ProcessedAt   time.Time        `json:"processed_at"`
}

// Store persists ledger records and correlation group snapshots. The
// SaveProcessed call is the atomic unit pairing a ledger insert with the
// correlation mutation it belongs to.
type Store interface {
	SaveProcessed(ctx context.Context, rec *ProcessedEvent, group *Group) error
	LoadLedger(ctx context.Context, since time.Time) ([]*ProcessedEvent, error)
}

// GroupLoader is an optional Store extension that rehydrates open
// correlation groups at startup.
type GroupLoader interface {
	LoadOpenGroups(ctx context.Context, since time.Time) ([]*Group, error)
}

// Synthesizer evaluates a correlation group for finding generation.
// Returns an empty finding id when no finding was produced.
type Synthesizer interface {
	FromCorrelation(ctx context.Context, group *Group) (findingID string, err error)
}

// Result reports the outcome of processing one event.
type Result struct {
	IsNew         bool
	CorrelationID string
	FindingID     string
}

// Config holds correlation manager settings.
type Config struct {
	// Window is W: a new group spans [ts-W, ts+W] around its first event.
	Window time.Duration `yaml:"window"`
	// Grace extends an open group's window past each merged event.
	Grace time.Duration `yaml:"grace"`
	// LockStripes sizes the per-fingerprint lock table.
	LockStripes int `yaml:"lock_stripes"`
}

// DefaultConfig returns the default correlation configuration.
func DefaultConfig() Config {
	return Config{
		Window:      15 * time.Minute,
		Grace:       5 * time.Minute,
		LockStripes: 64,
	}
}

// Manager is the idempotency ledger plus correlation window manager.
// All read-modify-write sequences for one fingerprint are serialized
// through a keyed mutex; unrelated fingerprints do not contend.
type Manager struct {
	config Config
	store  Store       // optional, nil disables persistence
	synth  Synthesizer // optional, nil disables finding generation
	logger *slog.Logger

	mu     sync.RWMutex
	ledger map[string]*ProcessedEvent
	open   map[string]*Group // open groups by fingerprint
	locks  *keyedMutex

	processed  atomic.Uint64
	duplicates atomic.Uint64
	closed     atomic.Uint64
}

// NewManager creates a correlation manager. Store and synthesizer may be
// nil for standalone use (tests, replay tooling).
func NewManager(cfg Config, store Store, synth Synthesizer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultConfig().Grace
	}

	return &Manager{
		config: cfg,
		store:  store,
		synth:  synth,
		logger: logger,
		ledger: make(map[string]*ProcessedEvent),
		open:   make(map[string]*Group),
		locks:  newKeyedMutex(cfg.LockStripes),
	}
}

// Process runs one event through deduplication, correlation, and finding
// evaluation. Redelivered events (same event id) return IsNew=false with
// no side effects. The ledger insert and the correlation mutation commit
// together under the event's fingerprint lock.
func (m *Manager) Process(ctx context.Context, ev *schema.Event) (Result, error) {
	// Fast duplicate check outside the fingerprint lock.
	if m.seen(ev.EventID) {
		m.duplicates.Add(1)
		m.logger.Debug("skipping duplicate event", "event_id", ev.EventID)
		return Result{IsNew: false}, nil
	}

	fp := EventFingerprint(ev)

	unlock := m.locks.Lock(fp)
	defer unlock()

	// Recheck under the lock: a concurrent redelivery with the same
	// fingerprint serializes here and must not slip through.
	if m.seen(ev.EventID) {
		m.duplicates.Add(1)
		return Result{IsNew: false}, nil
	}

	group, created := m.lookupOrCreate(fp, ev)
	work := group.clone()
	work.merge(ev, m.config.Grace)

	rec := &ProcessedEvent{
		EventID:       ev.EventID,
		EventType:     ev.EventType,
		SourceSystem:  ev.SourceSystemID,
		Fingerprint:   fp,
		CorrelationID: work.CorrelationID,
		Outcome:       "success",
		ProcessedAt:   time.Now().UTC(),
	}

	// Evaluate finding generation against the updated group.
	var findingID string
	if m.synth != nil {
		fid, err := m.synth.FromCorrelation(ctx, work.clone())
		if err != nil {
			return Result{}, fmt.Errorf("correlation: finding evaluation for %s: %w", work.CorrelationID, err)
		}
		findingID = fid
	}
	if findingID != "" {
		work.Status = StatusClosed
		work.FindingID = findingID
	}

	if m.store != nil {
		if err := m.store.SaveProcessed(ctx, rec, work); err != nil {
			return Result{}, fmt.Errorf("correlation: persist event %s: %w", ev.EventID, err)
		}
	}

	m.commit(fp, rec, work)

	if created {
		m.logger.Info("created correlation group",
			"correlation_id", work.CorrelationID,
			"type", work.Type,
			"primary_entity", work.PrimaryEntityID,
		)
	}
	m.logger.Debug("processed event",
		"event_id", ev.EventID,
		"correlation_id", work.CorrelationID,
		"finding_id", findingID,
		"max_severity", work.MaxSeverity,
	)

	m.processed.Add(1)
	return Result{IsNew: true, CorrelationID: work.CorrelationID, FindingID: findingID}, nil
}

func (m *Manager) seen(eventID string) bool {
	m.mu.RLock()
	_, ok := m.ledger[eventID]
	m.mu.RUnlock()
	return ok
}

// lookupOrCreate finds the open group for a fingerprint whose window still
// covers the event, or builds a fresh one. At most one open group exists
// per fingerprint.
func (m *Manager) lookupOrCreate(fp string, ev *schema.Event) (*Group, bool) {
	m.mu.RLock()
	existing := m.open[fp]
	m.mu.RUnlock()

	if existing != nil && existing.Covers(ev.Timestamp) {
		return existing, false
	}

	primary := ev.TargetEntityID
	if primary == "" {
		primary = ev.SourceSystemID
	}

	now := time.Now().UTC()
	return &Group{
		CorrelationID:     uuid.NewString(),
		Fingerprint:       fp,
		Type:              TypeForEvent(ev.EventType),
		WindowStart:       ev.Timestamp.Add(-m.config.Window),
		WindowEnd:         ev.Timestamp.Add(m.config.Window),
		PrimaryEntityID:   primary,
		PrimaryEntityType: InferEntityType(primary),
		MaxSeverity:       schema.SeverityLow,
		Status:            StatusOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, true
}

func (m *Manager) commit(fp string, rec *ProcessedEvent, group *Group) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ledger[rec.EventID] = rec
	if group.Status == StatusClosed {
		delete(m.open, fp)
		m.closed.Add(1)
	} else {
		m.open[fp] = group
	}
}

// Restore warms the in-memory ledger from the durable store so restarts
// do not reprocess recently delivered events. When the store can also
// load group snapshots, open groups are rehydrated so an in-flight
// correlation window survives the restart.
func (m *Manager) Restore(ctx context.Context, horizon time.Duration) error {
	if m.store == nil {
		return nil
	}
	since := time.Now().UTC().Add(-horizon)

	recs, err := m.store.LoadLedger(ctx, since)
	if err != nil {
		return fmt.Errorf("correlation: restore ledger: %w", err)
	}

	m.mu.Lock()
	for _, rec := range recs {
		m.ledger[rec.EventID] = rec
	}
	m.mu.Unlock()

	m.logger.Info("restored idempotency ledger", "entries", len(recs))

	if gl, ok := m.store.(GroupLoader); ok {
		groups, err := gl.LoadOpenGroups(ctx, since)
		if err != nil {
			return fmt.Errorf("correlation: restore open groups: %w", err)
		}
		m.mu.Lock()
		for _, g := range groups {
			if _, live := m.open[g.Fingerprint]; !live {
				m.open[g.Fingerprint] = g
			}
		}
		m.mu.Unlock()
		m.logger.Info("restored open correlation groups", "groups", len(groups))
	}
	return nil
}

// OpenGroup returns a snapshot of the open group for a fingerprint, if any.
func (m *Manager) OpenGroup(fp string) (*Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.open[fp]
	if !ok {
		return nil, false
	}
	return g.clone(), true
}

// PruneStale drops open groups whose window closed more than maxAge ago.
// Such groups can no longer match any event that would pass timestamp
// validation. Returns the number of groups removed.
func (m *Manager) PruneStale(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for fp, g := range m.open {
		if g.WindowEnd.Before(cutoff) {
			delete(m.open, fp)
			removed++
		}
	}

	// Ledger entries older than the validation horizon can be dropped
	// too: a redelivery that old is rejected upstream by the validator.
	for id, rec := range m.ledger {
		if rec.ProcessedAt.Before(cutoff) {
			delete(m.ledger, id)
		}
	}

	return removed
}

// Stats reports correlation counters.
type Stats struct {
	Processed  uint64 `json:"processed"`
	Duplicates uint64 `json:"duplicates"`
	OpenGroups int    `json:"open_groups"`
	Closed     uint64 `json:"closed_groups"`
	LedgerSize int    `json:"ledger_size"`
}

// Stats returns a snapshot of correlation counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	open := len(m.open)
	ledger := len(m.ledger)
	m.mu.RUnlock()

	return Stats{
		Processed:  m.processed.Load(),
		Duplicates: m.duplicates.Load(),
		OpenGroups: open,
		Closed:     m.closed.Load(),
		LedgerSize: ledger,
	}
}
