package finding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"riskforge/internal/schema"
)

// ErrTerminal indicates a mutation was attempted on a resolved or
// false-positive finding.
var ErrTerminal = errors.New("finding is in a terminal status")

// Archiver receives findings that reached a terminal status. Archiving is
// best-effort and runs off the request path.
type Archiver interface {
	ArchiveFinding(ctx context.Context, f *schema.Finding) error
}

// Service exposes finding queries and status transitions.
type Service struct {
	store    Store
	pub      Publisher
	archiver Archiver
	logger   *slog.Logger
}

func NewService(store Store, pub Publisher, archiver Archiver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		pub:      pub,
		archiver: archiver,
		logger:   logger.With("component", "finding_service"),
	}
}

func (s *Service) Get(ctx context.Context, findingID string) (*schema.Finding, error) {
	return s.store.Get(ctx, findingID)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]*schema.Finding, int, error) {
	return s.store.List(ctx, filter)
}

// Overdue lists non-terminal findings whose SLA deadline has passed.
func (s *Service) Overdue(ctx context.Context) ([]*schema.Finding, error) {
	return s.store.OverdueSLA(ctx, time.Now().UTC())
}

// Acknowledge marks a finding as seen and assigns it to the acting user.
func (s *Service) Acknowledge(ctx context.Context, findingID, userID string) (*schema.Finding, error) {
	return s.transition(ctx, findingID, func(f *schema.Finding) {
		f.Status = schema.FindingAcknowledged
		f.AssignedTo = userID
	})
}

// StartProgress marks a finding as actively being worked.
func (s *Service) StartProgress(ctx context.Context, findingID, userID string) (*schema.Finding, error) {
	return s.transition(ctx, findingID, func(f *schema.Finding) {
		f.Status = schema.FindingInProgress
		f.AssignedTo = userID
	})
}

// Resolve closes a finding. Resolution notes are optional.
func (s *Service) Resolve(ctx context.Context, findingID, userID, notes string) (*schema.Finding, error) {
	return s.transition(ctx, findingID, func(f *schema.Finding) {
		f.Status = schema.FindingResolved
		f.AssignedTo = userID
		f.ResolutionNotes = notes
	})
}

// MarkFalsePositive closes a finding as a false positive.
func (s *Service) MarkFalsePositive(ctx context.Context, findingID, userID, reason string) (*schema.Finding, error) {
	return s.transition(ctx, findingID, func(f *schema.Finding) {
		f.Status = schema.FindingFalsePositive
		f.AssignedTo = userID
		f.ResolutionNotes = reason
	})
}

func (s *Service) transition(ctx context.Context, findingID string, apply func(*schema.Finding)) (*schema.Finding, error) {
	// The fingerprint is the write lock key shared with the synthesizer,
	// so a transition and a concurrent merge on the same finding
	// serialize. It is immutable, so an unlocked read may learn it.
	peek, err := s.store.Get(ctx, findingID)
	if err != nil {
		return nil, err
	}
	unlock := writeLocks.Lock(peek.Fingerprint)
	defer unlock()

	f, err := s.store.Get(ctx, findingID)
	if err != nil {
		return nil, err
	}
	if f.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminal, f.Status)
	}

	apply(f)
	f.UpdatedAt = time.Now().UTC()

	if err := s.store.Save(ctx, f); err != nil {
		return nil, fmt.Errorf("save finding: %w", err)
	}
	s.logger.Info("finding status changed",
		"finding_id", f.FindingID,
		"status", f.Status,
		"assigned_to", f.AssignedTo)

	if s.pub != nil {
		if err := s.pub.PublishFinding(ctx, f); err != nil {
			s.logger.Warn("finding publish failed", "finding_id", f.FindingID, "error", err)
		}
	}
	if f.Status.Terminal() && s.archiver != nil {
		go s.archive(f)
	}
	return f, nil
}

func (s *Service) archive(f *schema.Finding) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.archiver.ArchiveFinding(ctx, f); err != nil {
		s.logger.Warn("finding archive failed", "finding_id", f.FindingID, "error", err)
	}
}
