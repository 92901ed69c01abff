package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"trailwatch/backend/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("noop Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), domain.NewEvent("x", "test", "u1")); err != nil {
		t.Errorf("noop Emit(ctx, event): %v", err)
	}
}

func TestEmit_WithSDKProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), domain.NewEvent(domain.EventCaptureIngested, "ingest", "u1")); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func attrs(rec otellog.Record) map[string]string {
	out := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	rc := &recordCapture{}
	em := NewEventEmitterWithLogger(rc)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := &domain.Event{
		ID:        "e1",
		OwnerID:   "u1",
		EventType: domain.EventCrossTenantCallback,
		Source:    "correlator",
		CaptureID: "c1",
		CreatedAt: created,
		Attrs:     map[string]string{"caller_owner_id": "u2"},
	}
	if err := em.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	got := attrs(rc.rec)
	for k, want := range map[string]string{"event_id": "e1", "owner_id": "u1", "event_type": domain.EventCrossTenantCallback, "source": "correlator", "capture_id": "c1"} {
		if got[k] != want {
			t.Errorf("attr %s = %q, want %q", k, got[k], want)
		}
	}
	if _, ok := got["label_id"]; ok {
		t.Error("empty label_id should not be set")
	}
	if !rc.rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rc.rec.Timestamp(), created)
	}
	if rc.rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn for security events", rc.rec.Severity())
	}
	if string(rc.rec.Body().AsBytes()) != `{"caller_owner_id":"u2"}` {
		t.Errorf("body = %q", rc.rec.Body().AsBytes())
	}
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	rc := &recordCapture{}
	em := NewEventEmitterWithLogger(rc)
	before := time.Now().Add(-time.Second)
	if err := em.Emit(context.Background(), &domain.Event{EventType: "x"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if rc.rec.Timestamp().Before(before) {
		t.Errorf("timestamp %v not set to now", rc.rec.Timestamp())
	}
	if rc.rec.Body().Kind() != otellog.KindEmpty {
		t.Error("body should be empty without attrs")
	}
}
