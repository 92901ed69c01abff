package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline event types.
const (
	EventCaptureIngested       = "capture.ingested"
	EventLabelCorrelated       = "label.correlated"
	EventNotificationFinalized = "notification.finalized"
	EventMirrorFailed          = "mirror.failed"
	EventCrossTenantCallback   = "security.cross_tenant_callback"
)

// Event is one pipeline fact published to Kafka / OTel logs and indexed in Loki.
type Event struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id,omitempty"`
	EventType string            `json:"event_type"`
	Source    string            `json:"source"`
	CaptureID string            `json:"capture_id,omitempty"`
	LabelID   string            `json:"label_id,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEvent returns an event with a fresh id and the current time.
func NewEvent(eventType, source, ownerID string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		EventType: eventType,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// With sets an attribute and returns the event for chaining.
func (e *Event) With(key, value string) *Event {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string, 4)
	}
	e.Attrs[key] = value
	return e
}
