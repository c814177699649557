package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"riskforge/internal/schema"
)

// MemoryStore is an in-memory Store used in tests and single-node
// deployments without ClickHouse.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges map[string][]Relationship
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]Node),
		edges: make(map[string][]Relationship),
	}
}

func (s *MemoryStore) UpsertNode(_ context.Context, node Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.nodes[node.ID]; ok {
		// Preserve scores written by a previous scoring cycle.
		node.ExposureScore = existing.ExposureScore
		node.VolatilityScore = existing.VolatilityScore
		node.SensitivityScore = existing.SensitivityScore
	}
	node.UpdatedAt = time.Now().UTC()
	s.nodes[node.ID] = node
	return nil
}

func (s *MemoryStore) UpsertRelationship(_ context.Context, fromID string, rel Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.edges[fromID] {
		if existing.Kind == rel.Kind && existing.ConnectedID == rel.ConnectedID {
			rel.DataVolumeBytes += existing.DataVolumeBytes
			s.edges[fromID][i] = rel
			return nil
		}
	}
	s.edges[fromID] = append(s.edges[fromID], rel)
	return nil
}

func (s *MemoryStore) GetNodeWithRelationships(_ context.Context, nodeID string) (*NodeWithRelationships, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, ErrNodeNotFound
	}
	rels := append([]Relationship(nil), s.edges[nodeID]...)
	return &NodeWithRelationships{Node: node, Relationships: rels}, nil
}

func (s *MemoryStore) UpdateRiskScores(_ context.Context, nodeID string, exposure, volatility, sensitivity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	node.ExposureScore = exposure
	node.VolatilityScore = volatility
	node.SensitivityScore = sensitivity
	node.UpdatedAt = time.Now().UTC()
	s.nodes[nodeID] = node
	return nil
}

func (s *MemoryStore) GetHighRiskNodes(_ context.Context, threshold float64, limit int) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Node
	for _, node := range s.nodes {
		if node.ExposureScore >= threshold {
			out = append(out, node)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExposureScore > out[j].ExposureScore
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListNodeIDs(_ context.Context, nodeType schema.EntityType, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, node := range s.nodes {
		if nodeType != "" && node.NodeType != nodeType {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
