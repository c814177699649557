package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"riskforge/internal/finding"
	"riskforge/internal/schema"
)

// FindingStore persists findings to ClickHouse. It implements
// finding.Store. The full finding document is stored as JSON alongside
// the queryable columns; reads deserialize the document so evidence and
// recommendations survive round trips.
type FindingStore struct {
	client *ClickHouseClient
}

// NewFindingStore creates a finding store on an open client.
func NewFindingStore(client *ClickHouseClient) *FindingStore {
	return &FindingStore{client: client}
}

// Save upserts a finding. ReplacingMergeTree keyed on fingerprint keeps
// the latest version per merge key.
func (s *FindingStore) Save(ctx context.Context, f *schema.Finding) error {
	document, err := json.Marshal(f)
	if err != nil {
		return NewStorageError("Marshal", "findings", err)
	}

	err = s.client.Exec(ctx, `
		INSERT INTO findings (
			finding_id, fingerprint, correlation_id,
			title, description, finding_type, severity,
			risk_score, exposure_score, volatility_score, sensitivity_score,
			primary_entity_id, primary_entity_type,
			evidence_count, occurrence_count, tags,
			status, assigned_to,
			sla_due_at, first_seen_at, last_seen_at, created_at, updated_at,
			document
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.FindingID,
		f.Fingerprint,
		f.CorrelationID,
		f.Title,
		f.Description,
		f.FindingType,
		string(f.Severity),
		f.RiskScore,
		f.ExposureScore,
		f.VolatilityScore,
		f.SensitivityScore,
		f.PrimaryEntityID,
		string(f.PrimaryEntityType),
		uint32(f.EvidenceCount),
		uint32(f.OccurrenceCount),
		f.Tags,
		string(f.Status),
		f.AssignedTo,
		f.SLADueAt,
		f.FirstSeenAt,
		f.LastSeenAt,
		f.CreatedAt,
		f.UpdatedAt,
		string(document),
	)
	if err != nil {
		return NewStorageError("Insert", "findings", err)
	}
	return nil
}

// Get returns a finding by id.
func (s *FindingStore) Get(ctx context.Context, findingID string) (*schema.Finding, error) {
	return s.getByColumn(ctx, "finding_id", findingID)
}

// GetByFingerprint returns the finding holding a merge fingerprint.
func (s *FindingStore) GetByFingerprint(ctx context.Context, fingerprint string) (*schema.Finding, error) {
	return s.getByColumn(ctx, "fingerprint", fingerprint)
}

func (s *FindingStore) getByColumn(ctx context.Context, column, value string) (*schema.Finding, error) {
	query := fmt.Sprintf("SELECT document FROM findings FINAL WHERE %s = ? LIMIT 1", column)
	rows, err := s.client.Query(ctx, query, value)
	if err != nil {
		return nil, NewStorageError("Query", "findings", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, finding.ErrNotFound
	}
	var document string
	if err := rows.Scan(&document); err != nil {
		return nil, NewStorageError("Scan", "findings", err)
	}
	var f schema.Finding
	if err := json.Unmarshal([]byte(document), &f); err != nil {
		return nil, NewStorageError("Unmarshal", "findings", err)
	}
	return &f, nil
}

// List returns findings matching the filter, newest first, plus the total
// match count before pagination.
func (s *FindingStore) List(ctx context.Context, filter finding.Filter) ([]*schema.Finding, int, error) {
	where, args := buildFindingFilter(filter)

	countQuery := "SELECT count() FROM findings FINAL" + where
	rows, err := s.client.Query(ctx, countQuery, args...)
	if err != nil {
		return nil, 0, NewStorageError("Query", "findings", err)
	}
	var total uint64
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			rows.Close()
			return nil, 0, NewStorageError("Scan", "findings", err)
		}
	}
	rows.Close()

	query := "SELECT document FROM findings FINAL" + where + " ORDER BY created_at DESC"
	pageArgs := args
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		pageArgs = append(append([]any{}, args...), filter.Limit, filter.Offset)
	}

	rows, err = s.client.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, NewStorageError("Query", "findings", err)
	}
	defer rows.Close()

	var findings []*schema.Finding
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, 0, NewStorageError("Scan", "findings", err)
		}
		var f schema.Finding
		if err := json.Unmarshal([]byte(document), &f); err != nil {
			return nil, 0, NewStorageError("Unmarshal", "findings", err)
		}
		findings = append(findings, &f)
	}
	return findings, int(total), nil
}

// buildFindingFilter translates a filter into a WHERE clause.
func buildFindingFilter(filter finding.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.FindingType != "" {
		conds = append(conds, "finding_type = ?")
		args = append(args, filter.FindingType)
	}
	if filter.EntityID != "" {
		conds = append(conds, "primary_entity_id = ?")
		args = append(args, filter.EntityID)
	}
	for _, tag := range filter.Tags {
		conds = append(conds, "has(tags, ?)")
		args = append(args, tag)
	}
	if filter.MinScore > 0 {
		conds = append(conds, "risk_score >= ?")
		args = append(args, filter.MinScore)
	}
	if filter.MaxScore > 0 {
		conds = append(conds, "risk_score <= ?")
		args = append(args, filter.MaxScore)
	}
	if !filter.CreatedFrom.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.CreatedTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// OverdueSLA returns open findings whose SLA deadline passed before the
// given time.
func (s *FindingStore) OverdueSLA(ctx context.Context, now time.Time) ([]*schema.Finding, error) {
	rows, err := s.client.Query(ctx, `
		SELECT document FROM findings FINAL
		WHERE status IN ('open', 'acknowledged', 'in_progress')
		  AND sla_due_at IS NOT NULL AND sla_due_at < ?
		ORDER BY sla_due_at ASC
	`, now)
	if err != nil {
		return nil, NewStorageError("Query", "findings", err)
	}
	defer rows.Close()

	var findings []*schema.Finding
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, NewStorageError("Scan", "findings", err)
		}
		var f schema.Finding
		if err := json.Unmarshal([]byte(document), &f); err != nil {
			return nil, NewStorageError("Unmarshal", "findings", err)
		}
		findings = append(findings, &f)
	}
	return findings, nil
}
