package correlation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"riskforge/internal/schema"
)

// BucketSize is the time-bucket width used for fingerprinting. Two events
// that are otherwise identical fingerprint identically only inside the
// same bucket.
const BucketSize = 15 * time.Minute

// noTargetSentinel stands in for an absent target entity so that events
// without a target still produce stable fingerprints.
const noTargetSentinel = "no_target"

// TimeBucket floors a timestamp to its bucket boundary in UTC.
func TimeBucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(BucketSize)
}

// EventFingerprint derives the semantic deduplication key for an event:
// events from the same source, against the same target, of the same type,
// inside the same time bucket share a fingerprint and are candidates for
// the same correlation group.
func EventFingerprint(ev *schema.Event) string {
	target := ev.TargetEntityID
	if target == "" {
		target = noTargetSentinel
	}

	components := []string{
		ev.SourceSystemID,
		target,
		string(ev.EventType),
		TimeBucket(ev.Timestamp).Format(time.RFC3339),
	}

	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:])
}

// FindingFingerprint derives the merge key for findings, independent of
// the event-level fingerprint.
func FindingFingerprint(entityID string, entityType schema.EntityType, correlationType Type, bucket time.Time) string {
	components := []string{
		entityID,
		string(entityType),
		string(correlationType),
		bucket.UTC().Format(time.RFC3339),
	}

	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:])
}
