package finding

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"riskforge/internal/schema"
)

// ErrNotFound indicates no finding matched the requested id or fingerprint.
var ErrNotFound = errors.New("finding not found")

// Filter narrows a finding listing. Zero values mean "no constraint".
type Filter struct {
	Status      schema.FindingStatus
	Severity    schema.Severity
	FindingType string
	EntityID    string
	Tags        []string
	MinScore    float64
	MaxScore    float64 // 0 means unbounded
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
	Offset      int
}

// Store persists findings. Implementations must treat Fingerprint as a
// unique key.
type Store interface {
	Save(ctx context.Context, f *schema.Finding) error
	Get(ctx context.Context, findingID string) (*schema.Finding, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*schema.Finding, error)
	List(ctx context.Context, filter Filter) ([]*schema.Finding, int, error)
	OverdueSLA(ctx context.Context, now time.Time) ([]*schema.Finding, error)
}

// MemoryStore is an in-memory Store used in tests and as the fallback when
// no database is configured.
type MemoryStore struct {
	mu            sync.RWMutex
	byID          map[string]*schema.Finding
	byFingerprint map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:          make(map[string]*schema.Finding),
		byFingerprint: make(map[string]string),
	}
}

func (s *MemoryStore) Save(_ context.Context, f *schema.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.byID[f.FindingID] = &cp
	s.byFingerprint[f.Fingerprint] = f.FindingID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, findingID string) (*schema.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[findingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) GetByFingerprint(_ context.Context, fingerprint string) (*schema.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byFingerprint[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

// OverdueSLA returns non-terminal findings whose SLA deadline passed
// before the given time, earliest deadline first.
func (s *MemoryStore) OverdueSLA(_ context.Context, now time.Time) ([]*schema.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var overdue []*schema.Finding
	for _, f := range s.byID {
		if f.Status.Terminal() || f.SLADueAt == nil || !f.SLADueAt.Before(now) {
			continue
		}
		cp := *f
		overdue = append(overdue, &cp)
	}
	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].SLADueAt.Before(*overdue[j].SLADueAt)
	})
	return overdue, nil
}

// List returns matching findings newest-first along with the total match
// count before pagination.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*schema.Finding, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*schema.Finding, 0, len(s.byID))
	for _, f := range s.byID {
		if filterMatches(filter, f) {
			cp := *f
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func filterMatches(filter Filter, f *schema.Finding) bool {
	if filter.Status != "" && f.Status != filter.Status {
		return false
	}
	if filter.Severity != "" && f.Severity != filter.Severity {
		return false
	}
	if filter.FindingType != "" && f.FindingType != filter.FindingType {
		return false
	}
	if filter.EntityID != "" && f.PrimaryEntityID != filter.EntityID {
		return false
	}
	if f.RiskScore < filter.MinScore {
		return false
	}
	if filter.MaxScore > 0 && f.RiskScore > filter.MaxScore {
		return false
	}
	if !filter.CreatedFrom.IsZero() && f.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && f.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	for _, want := range filter.Tags {
		found := false
		for _, tag := range f.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
