package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trailwatch/backend/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	ctxErrs []error
	emitErr error
	done    chan struct{}
}

func newMockEmitter(expected int) *mockEventEmitter {
	return &mockEventEmitter{done: make(chan struct{}, expected)}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for emit %d/%d", i+1, n)
		}
	}
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync(nil, context.Background(), domain.NewEvent("x", "test", "u1"))

	m := newMockEmitter(1)
	EmitAsync(m, context.Background(), nil)
	time.Sleep(10 * time.Millisecond)
	if len(m.events) != 0 {
		t.Errorf("expected 0 events, got %d", len(m.events))
	}
}

func TestEmitAsync_SurvivesCanceledRequest(t *testing.T) {
	m := newMockEmitter(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := domain.NewEvent(domain.EventCaptureIngested, "ingest", "u1").With("source", "live-device")
	EmitAsync(m, ctx, ev)
	m.wait(t, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctxErrs[0] != nil {
		t.Errorf("emit context was canceled: %v", m.ctxErrs[0])
	}
	if m.events[0].Attrs["source"] != "live-device" {
		t.Errorf("attrs = %v", m.events[0].Attrs)
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	m := newMockEmitter(3)
	m.emitErr = errors.New("kafka down")
	for i := 0; i < 3; i++ {
		EmitAsync(m, context.Background(), domain.NewEvent(domain.EventLabelCorrelated, "correlator", "u1"))
	}
	m.wait(t, 3)
}

func TestMultiEmitter_JoinsErrors(t *testing.T) {
	ok := newMockEmitter(1)
	bad := newMockEmitter(1)
	bad.emitErr = errors.New("boom")

	err := MultiEmitter{ok, nil, bad}.Emit(context.Background(), domain.NewEvent("x", "test", ""))
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}
	if len(ok.events) != 1 || len(bad.events) != 1 {
		t.Error("every emitter should receive the event")
	}
}
