package dispatch

import (
	"fmt"
	"strings"
	"time"

	"trailwatch/backend/internal/dispatch/sms"
	labeldomain "trailwatch/backend/internal/label/domain"
)

// maxMessageLen keeps alerts inside a single GSM-7 segment.
const maxMessageLen = 160

// BuildMessage renders the alert text for a label.
func BuildMessage(lbl *labeldomain.LabeledImage) string {
	at := lbl.LabeledAt
	if at.IsZero() {
		at = time.Now()
	}
	msg := fmt.Sprintf("TrailWatch: %s detected (%.0f%% confidence) at %s UTC. Capture %s",
		strings.TrimSpace(lbl.Label),
		lbl.Confidence*100,
		at.UTC().Format("2006-01-02 15:04"),
		shortID(lbl.CapturedImageID),
	)
	return sms.Clip(msg, maxMessageLen)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
