// Package mirror copies capture events to the tenant's external time-series channel.
// Mirroring is best-effort: failures are logged and counted, never returned to ingest.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	capturedomain "trailwatch/backend/internal/capture/domain"
	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/metrics"
	"trailwatch/backend/internal/telemetry"
	telemetrydomain "trailwatch/backend/internal/telemetry/domain"
	settingsdomain "trailwatch/backend/internal/tenantsettings/domain"
	settingsrepo "trailwatch/backend/internal/tenantsettings/repository"
)

const (
	defaultTimeout    = 20 * time.Second
	defaultMaxRetries = 3
)

// Publisher delivers one capture update over a specific transport.
type Publisher interface {
	Publish(ctx context.Context, s settingsdomain.MirrorSettings, update Update) error
}

// Update is the channel entry written for a capture.
type Update struct {
	CaptureID  string
	Source     string
	SizeBytes  int64
	CapturedAt time.Time
}

// Values encodes the update as ThingSpeak channel fields.
func (u Update) Values() url.Values {
	v := url.Values{}
	v.Set("field1", "1")
	v.Set("field2", u.Source)
	v.Set("field3", strconv.FormatInt(u.SizeBytes, 10))
	v.Set("status", u.CaptureID)
	if !u.CapturedAt.IsZero() {
		v.Set("created_at", u.CapturedAt.UTC().Format(time.RFC3339))
	}
	return v
}

// Adapter runs mirror publishes in the background.
type Adapter struct {
	settings   settingsrepo.Repository
	publishers map[settingsdomain.MirrorTransport]Publisher
	maxRetries uint64
	timeout    time.Duration
	metrics    *metrics.Metrics
	emitter    telemetry.EventEmitter
	newBackOff func() backoff.BackOff

	wg sync.WaitGroup
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithMaxRetries(n int) Option {
	return func(a *Adapter) {
		if n >= 0 {
			a.maxRetries = uint64(n)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(a *Adapter) { a.metrics = m } }

func WithEmitter(e telemetry.EventEmitter) Option { return func(a *Adapter) { a.emitter = e } }

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(f func() backoff.BackOff) Option { return func(a *Adapter) { a.newBackOff = f } }

// NewAdapter returns an adapter using httpPub for the http transport and mqttPub for mqtt.
// Either may be nil, in which case tenants selecting it are skipped.
func NewAdapter(settings settingsrepo.Repository, httpPub, mqttPub Publisher, opts ...Option) *Adapter {
	a := &Adapter{
		settings:   settings,
		publishers: make(map[settingsdomain.MirrorTransport]Publisher, 2),
		maxRetries: defaultMaxRetries,
		timeout:    defaultTimeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	if httpPub != nil {
		a.publishers[settingsdomain.TransportHTTP] = httpPub
	}
	if mqttPub != nil {
		a.publishers[settingsdomain.TransportMQTT] = mqttPub
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mirror publishes img in its own goroutine and returns immediately.
// The work uses a fresh context bounded by the adapter timeout.
func (a *Adapter) Mirror(img *capturedomain.CapturedImage) {
	if a == nil || img == nil {
		return
	}
	snapshot := *img
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		ctx = logging.WithAttrs(logging.WithComponent(ctx, "mirror"),
			slog.String("owner_id", snapshot.OwnerID),
			slog.String("capture_id", snapshot.ID))
		if err := a.MirrorSync(ctx, &snapshot); err != nil {
			a.metrics.SinkFailure("mirror")
			logging.Warn(ctx, "mirror: publish failed", slog.Any("err", errs.Loggable(err)))
			telemetry.EmitAsync(a.emitter, ctx, telemetrydomain.NewEvent(telemetrydomain.EventMirrorFailed, "mirror", snapshot.OwnerID).
				With("capture_id", snapshot.ID).
				With("error", err.Error()))
		}
	}()
}

// MirrorSync publishes img and returns the final error after retries.
// A tenant without mirror settings is a no-op.
func (a *Adapter) MirrorSync(ctx context.Context, img *capturedomain.CapturedImage) error {
	settings, err := a.settings.GetByOwnerID(ctx, img.OwnerID)
	if err != nil {
		return errs.Wrap(err, "mirror: load settings")
	}
	if settings == nil || !settings.Mirror.Configured() {
		return nil
	}
	transport := settings.Mirror.Transport
	if transport == "" {
		transport = settingsdomain.TransportHTTP
	}
	pub, ok := a.publishers[transport]
	if !ok {
		return fmt.Errorf("mirror: transport %q not available: %w", transport, errs.ErrExternalSinkFailure)
	}

	update := Update{
		CaptureID:  img.ID,
		Source:     string(img.Source),
		SizeBytes:  img.SizeBytes,
		CapturedAt: img.CapturedAt,
	}
	b := backoff.WithContext(backoff.WithMaxRetries(a.newBackOff(), a.maxRetries), ctx)
	err = backoff.Retry(func() error {
		return pub.Publish(ctx, settings.Mirror, update)
	}, b)
	if err != nil {
		return fmt.Errorf("mirror: %w: %w", errs.ErrExternalSinkFailure, err)
	}
	return nil
}

// Wait blocks until background publishes finish or ctx is done.
func (a *Adapter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
