// Package graph provides the entity relationship store used by risk
// scoring. Nodes are watched entities (data stores, services, AI tools)
// and edges capture access and integration relationships between them.
package graph

import (
	"context"
	"errors"
	"time"

	"riskforge/internal/schema"
)

// ErrNodeNotFound indicates the requested node does not exist.
var ErrNodeNotFound = errors.New("graph: node not found")

// Relationship kinds.
const (
	RelAccesses       = "ACCESSES"
	RelManages        = "MANAGES"
	RelExposes        = "EXPOSES"
	RelIntegratesWith = "INTEGRATES_WITH"
	RelConnectsTo     = "CONNECTS_TO"
)

// Node is a watched entity with its current risk scores.
type Node struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	NodeType schema.EntityType `json:"node_type"`

	PrivilegeLevel     schema.PrivilegeLevel `json:"privilege_level,omitempty"`
	DataClassification string                `json:"data_classification,omitempty"`
	IsPublic           bool                  `json:"is_public"`
	IsInternal         bool                  `json:"is_internal"`
	ConnectedAITools   int                   `json:"connected_ai_tools_count"`

	ExposureScore    float64 `json:"exposure_score"`
	VolatilityScore  float64 `json:"volatility_score"`
	SensitivityScore float64 `json:"sensitivity_score"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Relationship is a directed edge from a node to a connected entity.
type Relationship struct {
	Kind            string            `json:"relationship"`
	ConnectedID     string            `json:"connected_id"`
	ConnectedType   schema.EntityType `json:"connected_type"`
	DataVolumeBytes int64             `json:"data_volume_bytes"`
}

// NodeWithRelationships bundles a node with its outgoing edges.
type NodeWithRelationships struct {
	Node          Node           `json:"node"`
	Relationships []Relationship `json:"relationships"`
}

// Store is the graph persistence contract consumed by the scoring engine
// and the ingest pipeline.
type Store interface {
	UpsertNode(ctx context.Context, node Node) error
	UpsertRelationship(ctx context.Context, fromID string, rel Relationship) error
	GetNodeWithRelationships(ctx context.Context, nodeID string) (*NodeWithRelationships, error)
	UpdateRiskScores(ctx context.Context, nodeID string, exposure, volatility, sensitivity float64) error
	GetHighRiskNodes(ctx context.Context, threshold float64, limit int) ([]Node, error)
	ListNodeIDs(ctx context.Context, nodeType schema.EntityType, limit int) ([]string, error)
}
