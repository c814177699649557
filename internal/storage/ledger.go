package storage

import (
	"context"
	"encoding/json"
	"time"

	"riskforge/internal/correlation"
	"riskforge/internal/schema"
)

// LedgerStore persists the idempotency ledger and correlation group
// snapshots to ClickHouse. It implements correlation.Store.
type LedgerStore struct {
	client *ClickHouseClient
}

// NewLedgerStore creates a ledger store on an open client.
func NewLedgerStore(client *ClickHouseClient) *LedgerStore {
	return &LedgerStore{client: client}
}

// SaveProcessed writes the ledger record and, when the event mutated a
// group, the group snapshot. ClickHouse has no multi-statement
// transactions; the ledger row goes first so a partial write is detected
// as a duplicate on replay rather than a lost event.
func (s *LedgerStore) SaveProcessed(ctx context.Context, rec *correlation.ProcessedEvent, group *correlation.Group) error {
	err := s.client.Exec(ctx, `
		INSERT INTO processed_events (
			event_id, event_type, source_system, fingerprint,
			correlation_id, outcome, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.EventID,
		string(rec.EventType),
		rec.SourceSystem,
		rec.Fingerprint,
		rec.CorrelationID,
		rec.Outcome,
		rec.ProcessedAt,
	)
	if err != nil {
		return NewStorageError("Insert", "processed_events", err)
	}

	if group == nil {
		return nil
	}
	return s.saveGroup(ctx, group)
}

func (s *LedgerStore) saveGroup(ctx context.Context, group *correlation.Group) error {
	snapshot, err := json.Marshal(group)
	if err != nil {
		return NewStorageError("Marshal", "correlation_groups", err)
	}

	err = s.client.Exec(ctx, `
		INSERT INTO correlation_groups (
			correlation_id, fingerprint, correlation_type,
			window_start, window_end,
			primary_entity_id, primary_entity_type,
			max_severity, event_count, total_data_volume,
			status, finding_id, snapshot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		group.CorrelationID,
		group.Fingerprint,
		string(group.Type),
		group.WindowStart,
		group.WindowEnd,
		group.PrimaryEntityID,
		string(group.PrimaryEntityType),
		string(group.MaxSeverity),
		uint32(group.EventCount()),
		uint64(group.TotalDataVolume),
		string(group.Status),
		group.FindingID,
		string(snapshot),
		group.UpdatedAt,
	)
	if err != nil {
		return NewStorageError("Insert", "correlation_groups", err)
	}
	return nil
}

// LoadLedger returns ledger records processed at or after the given time,
// used to rebuild the in-memory duplicate set on startup.
func (s *LedgerStore) LoadLedger(ctx context.Context, since time.Time) ([]*correlation.ProcessedEvent, error) {
	rows, err := s.client.Query(ctx, `
		SELECT event_id, event_type, source_system, fingerprint,
		       correlation_id, outcome, processed_at
		FROM processed_events FINAL
		WHERE processed_at >= ?
		ORDER BY processed_at ASC
	`, since)
	if err != nil {
		return nil, NewStorageError("Query", "processed_events", err)
	}
	defer rows.Close()

	var records []*correlation.ProcessedEvent
	for rows.Next() {
		var (
			rec       correlation.ProcessedEvent
			eventType string
		)
		if err := rows.Scan(
			&rec.EventID,
			&eventType,
			&rec.SourceSystem,
			&rec.Fingerprint,
			&rec.CorrelationID,
			&rec.Outcome,
			&rec.ProcessedAt,
		); err != nil {
			return nil, NewStorageError("Scan", "processed_events", err)
		}
		rec.EventType = schema.EventType(eventType)
		records = append(records, &rec)
	}
	return records, nil
}

// LoadOpenGroups returns snapshots of groups still open at startup.
func (s *LedgerStore) LoadOpenGroups(ctx context.Context, since time.Time) ([]*correlation.Group, error) {
	rows, err := s.client.Query(ctx, `
		SELECT snapshot
		FROM correlation_groups FINAL
		WHERE status = 'open' AND window_end >= ?
	`, since)
	if err != nil {
		return nil, NewStorageError("Query", "correlation_groups", err)
	}
	defer rows.Close()

	var groups []*correlation.Group
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, NewStorageError("Scan", "correlation_groups", err)
		}
		var group correlation.Group
		if err := json.Unmarshal([]byte(snapshot), &group); err != nil {
			return nil, NewStorageError("Unmarshal", "correlation_groups", err)
		}
		groups = append(groups, &group)
	}
	return groups, nil
}
