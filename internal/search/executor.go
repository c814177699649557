package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SearchResult represents a single event in search results.
type SearchResult struct {
	EventID            string                 `json:"event_id"`
	EventType          string                 `json:"event_type"`
	Timestamp          time.Time              `json:"timestamp"`
	ReceivedAt         time.Time              `json:"received_at"`
	SourceSystemID     string                 `json:"source_system_id"`
	TargetEntityID     string                 `json:"target_entity_id,omitempty"`
	IdentityID         string                 `json:"identity_id,omitempty"`
	SensitivityTags    []string               `json:"sensitivity_tags,omitempty"`
	ExposureDirection  string                 `json:"exposure_direction"`
	DataVolumeEstimate uint64                 `json:"data_volume_estimate,omitempty"`
	PrivilegeLevel     string                 `json:"privilege_level"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// SearchResponse represents the response from a search query.
type SearchResponse struct {
	Query      string          `json:"query"`
	TotalCount int64           `json:"total_count"`
	Results    []*SearchResult `json:"results"`
	Took       time.Duration   `json:"took_ms"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
}

// AggregationResult represents aggregation query results.
type AggregationResult struct {
	Buckets []AggregationBucket `json:"buckets"`
	Total   int64               `json:"total"`
}

// AggregationBucket represents a single aggregation bucket.
type AggregationBucket struct {
	Key   interface{} `json:"key"`
	Count int64       `json:"count"`
	Value float64     `json:"value,omitempty"`
}

const eventColumns = `
		event_id,
		event_type,
		timestamp,
		received_at,
		source_system_id,
		target_entity_id,
		identity_id,
		sensitivity_tags,
		exposure_direction,
		data_volume_estimate,
		privilege_level,
		metadata`

// Executor executes search queries against ClickHouse.
type Executor struct {
	db *sql.DB
}

// NewExecutor creates a new search executor.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Search executes a search query and returns results.
func (e *Executor) Search(ctx context.Context, query *Query) (*SearchResponse, error) {
	start := time.Now()

	whereClause, args := e.buildWhereClause(query)

	countSQL := fmt.Sprintf("SELECT count(*) FROM events %s", whereClause)

	var totalCount int64
	if err := e.db.QueryRowContext(ctx, countSQL, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("count query failed: %w", err)
	}

	searchSQL := fmt.Sprintf(`
		SELECT %s
		FROM events
		%s
		ORDER BY %s %s
		LIMIT %d OFFSET %d
	`, eventColumns, whereClause, e.sanitizeOrderBy(query.OrderBy), e.orderDirection(query.OrderDesc),
		query.Limit, query.Offset)

	rows, err := e.db.QueryContext(ctx, searchSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		r, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return &SearchResponse{
		Query:      query.String(),
		TotalCount: totalCount,
		Results:    results,
		Took:       time.Since(start),
		Limit:      query.Limit,
		Offset:     query.Offset,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*SearchResult, error) {
	var r SearchResult
	var metadataJSON string
	var target, identity sql.NullString

	err := row.Scan(
		&r.EventID,
		&r.EventType,
		&r.Timestamp,
		&r.ReceivedAt,
		&r.SourceSystemID,
		&target,
		&identity,
		&r.SensitivityTags,
		&r.ExposureDirection,
		&r.DataVolumeEstimate,
		&r.PrivilegeLevel,
		&metadataJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	r.TargetEntityID = target.String
	r.IdentityID = identity.String

	if metadataJSON != "" && metadataJSON != "{}" {
		r.Metadata = make(map[string]interface{})
		json.Unmarshal([]byte(metadataJSON), &r.Metadata)
	}

	return &r, nil
}

// Aggregate executes an aggregation query.
func (e *Executor) Aggregate(ctx context.Context, query *Query, field string, aggType string) (*AggregationResult, error) {
	column, _ := MapField(field)
	column = e.sanitizeColumn(column)

	whereClause, args := e.buildWhereClause(query)

	var sqlQuery string
	switch strings.ToLower(aggType) {
	case "count":
		sqlQuery = fmt.Sprintf(`
			SELECT %s as key, count(*) as cnt
			FROM events
			%s
			GROUP BY %s
			ORDER BY cnt DESC
			LIMIT 100
		`, column, whereClause, column)

	case "sum", "avg", "min", "max":
		sqlQuery = fmt.Sprintf(`
			SELECT %s(%s) as value
			FROM events
			%s
		`, strings.ToUpper(aggType), column, whereClause)

	case "histogram":
		sqlQuery = fmt.Sprintf(`
			SELECT
				toStartOfHour(timestamp) as key,
				count(*) as cnt
			FROM events
			%s
			GROUP BY key
			ORDER BY key
		`, whereClause)

	case "terms":
		sqlQuery = fmt.Sprintf(`
			SELECT %s as key, count(*) as cnt
			FROM events
			%s
			GROUP BY %s
			ORDER BY cnt DESC
			LIMIT 20
		`, column, whereClause, column)

	default:
		return nil, fmt.Errorf("unsupported aggregation type: %s", aggType)
	}

	rows, err := e.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregation query failed: %w", err)
	}
	defer rows.Close()

	result := &AggregationResult{}

	switch strings.ToLower(aggType) {
	case "sum", "avg", "min", "max":
		if rows.Next() {
			var value float64
			if err := rows.Scan(&value); err != nil {
				return nil, err
			}
			result.Buckets = append(result.Buckets, AggregationBucket{
				Key:   aggType,
				Value: value,
			})
		}
	default:
		for rows.Next() {
			var key interface{}
			var count int64

			if err := rows.Scan(&key, &count); err != nil {
				return nil, err
			}

			result.Buckets = append(result.Buckets, AggregationBucket{Key: key, Count: count})
			result.Total += count
		}
	}

	return result, rows.Err()
}

// GetEvent retrieves a single event by ID.
func (e *Executor) GetEvent(ctx context.Context, eventID string) (*SearchResult, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE event_id = ?
		LIMIT 1
	`, eventColumns)

	r, err := scanEvent(e.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return r, nil
}

// buildWhereClause builds a SQL WHERE clause from query conditions.
// Supports parenthetical grouping via OpenParens/CloseParens on conditions.
func (e *Executor) buildWhereClause(query *Query) (string, []interface{}) {
	var parts []string
	var args []interface{}

	if query.TimeRange != nil {
		if !query.TimeRange.Start.IsZero() {
			parts = append(parts, "timestamp >= ?")
			args = append(args, query.TimeRange.Start)
		}
		if !query.TimeRange.End.IsZero() {
			parts = append(parts, "timestamp <= ?")
			args = append(args, query.TimeRange.End)
		}
	}

	// Range filter parts are always ANDed; condition parts below use the
	// Logic slice starting at this offset.
	fixedPartCount := len(parts)

	for _, cond := range query.Conditions {
		column, _ := MapField(cond.Field)
		if !cond.IsMetadata {
			column = e.sanitizeColumn(column)
		}

		clause, clauseArgs := e.buildConditionClause(column, cond)

		for j := 0; j < cond.OpenParens; j++ {
			clause = "(" + clause
		}
		for j := 0; j < cond.CloseParens; j++ {
			clause = clause + ")"
		}

		parts = append(parts, clause)
		args = append(args, clauseArgs...)
	}

	if len(parts) == 0 {
		return "", nil
	}

	var result strings.Builder
	result.WriteString("WHERE ")

	for i, part := range parts {
		if i > 0 {
			if i <= fixedPartCount {
				result.WriteString(" AND ")
			} else {
				condIdx := i - fixedPartCount
				logic := "AND"
				if condIdx-1 >= 0 && condIdx-1 < len(query.Logic) {
					logic = query.Logic[condIdx-1]
				}
				result.WriteString(" " + logic + " ")
			}
		}
		result.WriteString(part)
	}

	return result.String(), args
}

// buildConditionClause builds a SQL clause for a single condition.
func (e *Executor) buildConditionClause(column string, cond Condition) (string, []interface{}) {
	if cond.IsMetadata {
		return e.buildMetadataClause(cond)
	}
	if cond.IsTag {
		return e.buildTagClause(cond)
	}

	switch cond.Operator {
	case OpEquals:
		if cond.IsRegex {
			// Cap pattern length to keep ClickHouse regex evaluation bounded.
			if pattern, ok := cond.Value.(string); ok && len(pattern) > 1024 {
				return "1=0", nil
			}
			return fmt.Sprintf("match(%s, ?)", column), []interface{}{cond.Value}
		}
		if cond.IsPhrase {
			return fmt.Sprintf("position(%s, ?) > 0", column), []interface{}{cond.Value}
		}
		return fmt.Sprintf("%s = ?", column), []interface{}{cond.Value}

	case OpNotEquals:
		return fmt.Sprintf("%s != ?", column), []interface{}{cond.Value}

	case OpGreater:
		return fmt.Sprintf("%s > ?", column), []interface{}{cond.Value}

	case OpGreaterEq:
		return fmt.Sprintf("%s >= ?", column), []interface{}{cond.Value}

	case OpLess:
		return fmt.Sprintf("%s < ?", column), []interface{}{cond.Value}

	case OpLessEq:
		return fmt.Sprintf("%s <= ?", column), []interface{}{cond.Value}

	case OpContains:
		return fmt.Sprintf("position(%s, ?) > 0", column), []interface{}{cond.Value}

	case OpNotContains:
		return fmt.Sprintf("position(%s, ?) = 0", column), []interface{}{cond.Value}

	case OpExists:
		return fmt.Sprintf("%s != ''", column), nil

	case OpNotExists:
		return fmt.Sprintf("%s = ''", column), nil

	default:
		return fmt.Sprintf("%s = ?", column), []interface{}{cond.Value}
	}
}

// buildTagClause builds a SQL clause for sensitivity tag membership.
func (e *Executor) buildTagClause(cond Condition) (string, []interface{}) {
	switch cond.Operator {
	case OpNotEquals, OpNotContains:
		return "has(sensitivity_tags, ?) = 0", []interface{}{cond.Value}
	case OpExists:
		return "notEmpty(sensitivity_tags)", nil
	case OpNotExists:
		return "empty(sensitivity_tags)", nil
	default:
		return "has(sensitivity_tags, ?)", []interface{}{cond.Value}
	}
}

// buildMetadataClause builds a SQL clause for a metadata JSON field query.
func (e *Executor) buildMetadataClause(cond Condition) (string, []interface{}) {
	jsonPath := cond.MetadataKey

	switch cond.Operator {
	case OpEquals:
		return "JSONExtractString(metadata, ?) = ?", []interface{}{jsonPath, cond.Value}
	case OpNotEquals:
		return "JSONExtractString(metadata, ?) != ?", []interface{}{jsonPath, cond.Value}
	case OpGreater:
		return "JSONExtractFloat(metadata, ?) > ?", []interface{}{jsonPath, cond.Value}
	case OpGreaterEq:
		return "JSONExtractFloat(metadata, ?) >= ?", []interface{}{jsonPath, cond.Value}
	case OpLess:
		return "JSONExtractFloat(metadata, ?) < ?", []interface{}{jsonPath, cond.Value}
	case OpLessEq:
		return "JSONExtractFloat(metadata, ?) <= ?", []interface{}{jsonPath, cond.Value}
	case OpContains:
		return "position(JSONExtractString(metadata, ?), ?) > 0", []interface{}{jsonPath, cond.Value}
	case OpExists:
		return "JSONHas(metadata, ?) = 1", []interface{}{jsonPath}
	case OpNotExists:
		return "JSONHas(metadata, ?) = 0", []interface{}{jsonPath}
	default:
		return "JSONExtractString(metadata, ?) = ?", []interface{}{jsonPath, cond.Value}
	}
}

// validColumns is an allowlist of known safe column names for SQL queries.
var validColumns = map[string]bool{
	"event_id":             true,
	"event_type":           true,
	"timestamp":            true,
	"received_at":          true,
	"source_system_id":     true,
	"target_entity_id":     true,
	"identity_id":          true,
	"sensitivity_tags":     true,
	"exposure_direction":   true,
	"data_volume_estimate": true,
	"privilege_level":      true,
	"metadata":             true,
}

// sanitizeColumn ensures column name is a known valid column.
// Returns "timestamp" as safe fallback for unknown columns.
func (e *Executor) sanitizeColumn(column string) string {
	if validColumns[column] {
		return column
	}
	return "timestamp"
}

// sanitizeOrderBy ensures order by column is valid.
func (e *Executor) sanitizeOrderBy(orderBy string) string {
	orderable := map[string]bool{
		"timestamp":            true,
		"received_at":          true,
		"event_type":           true,
		"source_system_id":     true,
		"data_volume_estimate": true,
	}

	col := e.sanitizeColumn(orderBy)
	if orderable[col] {
		return col
	}
	return "timestamp"
}

// orderDirection returns ASC or DESC.
func (e *Executor) orderDirection(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

// TimeHistogram returns event counts over time.
func (e *Executor) TimeHistogram(ctx context.Context, query *Query, interval string) (*AggregationResult, error) {
	var intervalFunc string
	switch strings.ToLower(interval) {
	case "minute", "1m":
		intervalFunc = "toStartOfMinute"
	case "5m":
		intervalFunc = "toStartOfFiveMinutes"
	case "15m":
		intervalFunc = "toStartOfFifteenMinutes"
	case "hour", "1h":
		intervalFunc = "toStartOfHour"
	case "day", "1d":
		intervalFunc = "toStartOfDay"
	case "week", "1w":
		intervalFunc = "toStartOfWeek"
	default:
		intervalFunc = "toStartOfHour"
	}

	whereClause, args := e.buildWhereClause(query)

	sqlQuery := fmt.Sprintf(`
		SELECT
			%s(timestamp) as bucket,
			count(*) as cnt
		FROM events
		%s
		GROUP BY bucket
		ORDER BY bucket
	`, intervalFunc, whereClause)

	rows, err := e.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("histogram query failed: %w", err)
	}
	defer rows.Close()

	result := &AggregationResult{}
	for rows.Next() {
		var bucket time.Time
		var count int64

		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, err
		}

		result.Buckets = append(result.Buckets, AggregationBucket{
			Key:   bucket,
			Count: count,
		})
		result.Total += count
	}

	return result, rows.Err()
}

// MaxTopN is the upper bound for TopN queries.
var MaxTopN = 10000

// TopN returns top N values for a field.
func (e *Executor) TopN(ctx context.Context, query *Query, field string, n int) (*AggregationResult, error) {
	column, _ := MapField(field)
	column = e.sanitizeColumn(column)

	// Array columns flatten before grouping.
	keyExpr := column
	if column == "sensitivity_tags" {
		keyExpr = "arrayJoin(sensitivity_tags)"
	}

	if n <= 0 || n > MaxTopN {
		n = 10
	}

	whereClause, args := e.buildWhereClause(query)

	sqlQuery := fmt.Sprintf(`
		SELECT
			%s as key,
			count(*) as cnt
		FROM events
		%s
		GROUP BY key
		ORDER BY cnt DESC
		LIMIT %d
	`, keyExpr, whereClause, n)

	rows, err := e.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("top-n query failed: %w", err)
	}
	defer rows.Close()

	result := &AggregationResult{}
	for rows.Next() {
		var key interface{}
		var count int64

		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}

		result.Buckets = append(result.Buckets, AggregationBucket{
			Key:   key,
			Count: count,
		})
		result.Total += count
	}

	return result, rows.Err()
}
