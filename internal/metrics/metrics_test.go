package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersExposed(t *testing.T) {
	m := New()
	m.CaptureIngested("live-device")
	m.CaptureIngested("live-device")
	m.NotificationFinalized("", "skipped:not-configured")
	m.SinkFailure("mirror")
	m.SetStaleCaptures(3)
	m.RegisterQueueDepth(func() int { return 7 })
	m.ObserveHTTP("/v1/captures", "POST", "201", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.capturesIngested.WithLabelValues("live-device")); got != 2 {
		t.Errorf("captures_ingested_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("none", "skipped:not-configured")); got != 1 {
		t.Errorf("notification_attempts_total{provider=none} = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"trailwatch_stale_captures 3",
		"trailwatch_dispatch_queue_depth 7",
		`trailwatch_external_sink_failures_total{sink="mirror"} 1`,
		"trailwatch_http_request_duration_seconds_count",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.CaptureIngested("x")
	m.IngestRejected("x")
	m.OrphanedBlob()
	m.LabelCallback("x")
	m.NotificationFinalized("x", "y")
	m.SinkFailure("x")
	m.DispatchDropped()
	m.SetStaleCaptures(1)
	m.AttemptsAbandoned(1)
	m.Redispatched(1)
	m.RegisterQueueDepth(func() int { return 0 })
	m.ObserveHTTP("r", "GET", "200", time.Second)
	if m.Registry() != nil {
		t.Error("nil metrics should have nil registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil metrics handler status = %d, want 404", rec.Code)
	}
}
