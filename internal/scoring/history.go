package scoring

import "sync"

// defaultHistoryDepth bounds the per-entity exposure history used by the
// volatility variance term.
const defaultHistoryDepth = 30

// History keeps a bounded per-entity ring of exposure scores.
type History struct {
	mu    sync.RWMutex
	depth int
	rings map[string][]float64
}

func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = defaultHistoryDepth
	}
	return &History{
		depth: depth,
		rings: make(map[string][]float64),
	}
}

// Append records a new exposure score, evicting the oldest entry once the
// ring is full.
func (h *History) Append(entityID string, score float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ring := append(h.rings[entityID], score)
	if len(ring) > h.depth {
		ring = ring[len(ring)-h.depth:]
	}
	h.rings[entityID] = ring
}

// Snapshot returns a copy of an entity's history, oldest first.
func (h *History) Snapshot(entityID string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]float64(nil), h.rings[entityID]...)
}

// Forget drops an entity's history.
func (h *History) Forget(entityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rings, entityID)
}
