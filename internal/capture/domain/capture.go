package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies how an image reached the pipeline.
type Source string

const (
	SourceLiveDevice   Source = "live-device"
	SourceManualUpload Source = "manual-upload"
)

// ParseSource maps a form value to a Source. Empty defaults to live-device.
func ParseSource(s string) (Source, bool) {
	switch Source(strings.TrimSpace(strings.ToLower(s))) {
	case "", SourceLiveDevice:
		return SourceLiveDevice, true
	case SourceManualUpload:
		return SourceManualUpload, true
	default:
		return "", false
	}
}

// ValidID reports whether id has the shape of a capture id. Ids are UUIDs, so anything
// else cannot name a stored capture.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// CapturedImage is one image uploaded by a device. Immutable once created and owned
// exclusively by OwnerID.
type CapturedImage struct {
	ID          string
	OwnerID     string
	StoragePath string
	CapturedAt  time.Time
	Source      Source
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}
