// Package sweeper periodically reports stale captures and recovers dispatch work that was
// dropped or abandoned.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"trailwatch/backend/internal/errs"
	labeldomain "trailwatch/backend/internal/label/domain"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/metrics"
)

const (
	// redispatchGrace keeps the sweeper away from labels whose first dispatch is still queued.
	redispatchGrace = time.Minute
	redispatchBatch = 100
)

// CaptureCounter counts captures that never received a label.
type CaptureCounter interface {
	CountAwaitingLabel(ctx context.Context, createdBefore time.Time) (int, error)
}

// LabelLister lists labels that need a (new) dispatch.
type LabelLister interface {
	ListUndispatched(ctx context.Context, labeledBefore time.Time, limit int) ([]labeldomain.LabeledImage, error)
}

// AttemptExpirer abandons stuck pending attempts.
type AttemptExpirer interface {
	ExpirePending(ctx context.Context, attemptedBefore time.Time) (int64, error)
}

// Enqueuer schedules a dispatch without blocking.
type Enqueuer interface {
	Enqueue(lbl *labeldomain.LabeledImage) bool
}

// Config holds the sweep thresholds.
type Config struct {
	Interval              time.Duration
	StaleCaptureAfter     time.Duration
	PendingAttemptTimeout time.Duration
}

// Sweeper runs Sweep on a ticker.
type Sweeper struct {
	captures CaptureCounter
	labels   LabelLister
	attempts AttemptExpirer
	queue    Enqueuer
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

// Result summarizes one sweep.
type Result struct {
	StaleCaptures int
	Abandoned     int64
	Redispatched  int
}

func New(captures CaptureCounter, labels LabelLister, attempts AttemptExpirer, queue Enqueuer, m *metrics.Metrics, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleCaptureAfter <= 0 {
		cfg.StaleCaptureAfter = 30 * time.Minute
	}
	if cfg.PendingAttemptTimeout <= 0 {
		cfg.PendingAttemptTimeout = 5 * time.Minute
	}
	return &Sweeper{
		captures: captures,
		labels:   labels,
		attempts: attempts,
		queue:    queue,
		metrics:  m,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ctx = logging.WithComponent(ctx, "sweeper")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logging.Error(ctx, "sweeper: sweep failed", slog.Any("err", errs.Loggable(err)))
			}
		}
	}
}

// Sweep runs one pass. Stale captures are only reported; they never change state.
// Abandoned attempts are expired before redispatch so their labels are picked up in the
// same pass.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()

	stale, err := s.captures.CountAwaitingLabel(ctx, now.Add(-s.cfg.StaleCaptureAfter))
	if err != nil {
		return res, errs.Wrap(err, "sweeper: count stale captures")
	}
	res.StaleCaptures = stale
	s.metrics.SetStaleCaptures(stale)
	if stale > 0 {
		logging.Warn(ctx, "sweeper: captures awaiting label past threshold",
			slog.Int("count", stale),
			slog.Duration("threshold", s.cfg.StaleCaptureAfter))
	}

	abandoned, err := s.attempts.ExpirePending(ctx, now.Add(-s.cfg.PendingAttemptTimeout))
	if err != nil {
		return res, errs.Wrap(err, "sweeper: expire pending attempts")
	}
	res.Abandoned = abandoned
	s.metrics.AttemptsAbandoned(abandoned)
	if abandoned > 0 {
		logging.Warn(ctx, "sweeper: pending notification attempts abandoned", slog.Int64("count", abandoned))
	}

	labels, err := s.labels.ListUndispatched(ctx, now.Add(-redispatchGrace), redispatchBatch)
	if err != nil {
		return res, errs.Wrap(err, "sweeper: list undispatched labels")
	}
	for i := range labels {
		if !s.queue.Enqueue(&labels[i]) {
			break
		}
		res.Redispatched++
	}
	s.metrics.Redispatched(res.Redispatched)
	if res.Redispatched > 0 {
		logging.Info(ctx, "sweeper: labels re-enqueued for dispatch", slog.Int("count", res.Redispatched))
	}
	return res, nil
}
