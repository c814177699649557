package graph

import (
	"context"
	"time"

	"riskforge/internal/schema"
	"riskforge/internal/storage"
)

const createNodesTable = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    id String,
    name String,
    node_type LowCardinality(String),
    privilege_level LowCardinality(String),
    data_classification LowCardinality(String),
    is_public Bool,
    is_internal Bool,
    connected_ai_tools Int32,
    exposure_score Float64,
    volatility_score Float64,
    sensitivity_score Float64,
    updated_at DateTime64(3)
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY id`

const createEdgesTable = `
CREATE TABLE IF NOT EXISTS graph_edges (
    from_id String,
    kind LowCardinality(String),
    connected_id String,
    connected_type LowCardinality(String),
    data_volume_bytes Int64,
    updated_at DateTime64(3)
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (from_id, kind, connected_id)`

// ClickHouseStore persists the entity graph in two ReplacingMergeTree
// tables. Upserts are plain inserts deduplicated by the engine; reads use
// FINAL for a consistent view.
type ClickHouseStore struct {
	client *storage.ClickHouseClient
}

func NewClickHouseStore(client *storage.ClickHouseClient) *ClickHouseStore {
	return &ClickHouseStore{client: client}
}

// Migrate creates the graph tables if they do not exist.
func (s *ClickHouseStore) Migrate(ctx context.Context) error {
	for _, ddl := range []string{createNodesTable, createEdgesTable} {
		if err := s.client.Exec(ctx, ddl); err != nil {
			return storage.NewStorageError("Migrate", "graph", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) UpsertNode(ctx context.Context, node Node) error {
	err := s.client.Exec(ctx, `
		INSERT INTO graph_nodes
		(id, name, node_type, privilege_level, data_classification,
		 is_public, is_internal, connected_ai_tools,
		 exposure_score, volatility_score, sensitivity_score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.Name, string(node.NodeType), string(node.PrivilegeLevel),
		node.DataClassification, node.IsPublic, node.IsInternal,
		int32(node.ConnectedAITools),
		node.ExposureScore, node.VolatilityScore, node.SensitivityScore,
		time.Now().UTC())
	if err != nil {
		return storage.NewStorageError("UpsertNode", "graph_nodes", err)
	}
	return nil
}

func (s *ClickHouseStore) UpsertRelationship(ctx context.Context, fromID string, rel Relationship) error {
	err := s.client.Exec(ctx, `
		INSERT INTO graph_edges
		(from_id, kind, connected_id, connected_type, data_volume_bytes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fromID, rel.Kind, rel.ConnectedID, string(rel.ConnectedType),
		rel.DataVolumeBytes, time.Now().UTC())
	if err != nil {
		return storage.NewStorageError("UpsertRelationship", "graph_edges", err)
	}
	return nil
}

func (s *ClickHouseStore) GetNodeWithRelationships(ctx context.Context, nodeID string) (*NodeWithRelationships, error) {
	rows, err := s.client.Query(ctx, `
		SELECT id, name, node_type, privilege_level, data_classification,
		       is_public, is_internal, connected_ai_tools,
		       exposure_score, volatility_score, sensitivity_score, updated_at
		FROM graph_nodes FINAL
		WHERE id = ?`, nodeID)
	if err != nil {
		return nil, storage.NewStorageError("GetNode", "graph_nodes", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNodeNotFound
	}

	var (
		node              Node
		nodeType, privLvl string
		connectedAITools  int32
	)
	if err := rows.Scan(&node.ID, &node.Name, &nodeType, &privLvl,
		&node.DataClassification, &node.IsPublic, &node.IsInternal,
		&connectedAITools, &node.ExposureScore, &node.VolatilityScore,
		&node.SensitivityScore, &node.UpdatedAt); err != nil {
		return nil, storage.NewStorageError("GetNode", "graph_nodes", err)
	}
	node.NodeType = schema.EntityType(nodeType)
	node.PrivilegeLevel = schema.PrivilegeLevel(privLvl)
	node.ConnectedAITools = int(connectedAITools)

	rels, err := s.relationships(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return &NodeWithRelationships{Node: node, Relationships: rels}, nil
}

func (s *ClickHouseStore) relationships(ctx context.Context, fromID string) ([]Relationship, error) {
	rows, err := s.client.Query(ctx, `
		SELECT kind, connected_id, connected_type, data_volume_bytes
		FROM graph_edges FINAL
		WHERE from_id = ?`, fromID)
	if err != nil {
		return nil, storage.NewStorageError("GetRelationships", "graph_edges", err)
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var (
			rel           Relationship
			connectedType string
		)
		if err := rows.Scan(&rel.Kind, &rel.ConnectedID, &connectedType, &rel.DataVolumeBytes); err != nil {
			return nil, storage.NewStorageError("GetRelationships", "graph_edges", err)
		}
		rel.ConnectedType = schema.EntityType(connectedType)
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

func (s *ClickHouseStore) UpdateRiskScores(ctx context.Context, nodeID string, exposure, volatility, sensitivity float64) error {
	nwr, err := s.GetNodeWithRelationships(ctx, nodeID)
	if err != nil {
		return err
	}
	node := nwr.Node
	node.ExposureScore = exposure
	node.VolatilityScore = volatility
	node.SensitivityScore = sensitivity
	return s.UpsertNode(ctx, node)
}

func (s *ClickHouseStore) GetHighRiskNodes(ctx context.Context, threshold float64, limit int) ([]Node, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.client.Query(ctx, `
		SELECT id, name, node_type, exposure_score, volatility_score, sensitivity_score, updated_at
		FROM graph_nodes FINAL
		WHERE exposure_score >= ?
		ORDER BY exposure_score DESC
		LIMIT ?`, threshold, limit)
	if err != nil {
		return nil, storage.NewStorageError("GetHighRiskNodes", "graph_nodes", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var (
			node     Node
			nodeType string
		)
		if err := rows.Scan(&node.ID, &node.Name, &nodeType,
			&node.ExposureScore, &node.VolatilityScore, &node.SensitivityScore,
			&node.UpdatedAt); err != nil {
			return nil, storage.NewStorageError("GetHighRiskNodes", "graph_nodes", err)
		}
		node.NodeType = schema.EntityType(nodeType)
		out = append(out, node)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) ListNodeIDs(ctx context.Context, nodeType schema.EntityType, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT id FROM graph_nodes FINAL`
	args := []any{}
	if nodeType != "" {
		query += ` WHERE node_type = ?`
		args = append(args, string(nodeType))
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, storage.NewStorageError("ListNodeIDs", "graph_nodes", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storage.NewStorageError("ListNodeIDs", "graph_nodes", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
