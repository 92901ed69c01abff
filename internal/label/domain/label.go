package domain

import "time"

// LabeledImage is the AI classification of a capture. At most one exists per capture and
// it is never modified after creation.
type LabeledImage struct {
	ID              string
	CapturedImageID string
	OwnerID         string
	Label           string
	Confidence      float64
	LabeledAt       time.Time
}
