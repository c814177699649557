package s3

import (
	"context"
	"encoding/json"
	"fmt"

	"riskforge/internal/schema"
)

// FindingArchiver writes resolved findings to S3 through the batch
// archiver. Each finding is archived as a single-record batch so a
// terminal finding is durable as soon as the call returns.
type FindingArchiver struct {
	archiver *Archiver
}

// NewFindingArchiver wraps an archiver for finding archival.
func NewFindingArchiver(archiver *Archiver) *FindingArchiver {
	return &FindingArchiver{archiver: archiver}
}

// ArchiveFinding uploads one finding.
func (fa *FindingArchiver) ArchiveFinding(ctx context.Context, f *schema.Finding) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("s3: marshal finding %s: %w", f.FindingID, err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("s3: encode finding %s: %w", f.FindingID, err)
	}

	record := ArchiveRecord{
		ID:        f.FindingID,
		Timestamp: f.CreatedAt,
		Type:      "finding",
		Data:      data,
	}
	if _, err := fa.archiver.Archive(ctx, "findings", []ArchiveRecord{record}); err != nil {
		return fmt.Errorf("s3: archive finding %s: %w", f.FindingID, err)
	}
	return nil
}
