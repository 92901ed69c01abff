package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"trailwatch/backend/internal/errs"
	labeldomain "trailwatch/backend/internal/label/domain"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/metrics"
	notificationdomain "trailwatch/backend/internal/notification/domain"
	settingsdomain "trailwatch/backend/internal/tenantsettings/domain"
	settingsrepo "trailwatch/backend/internal/tenantsettings/repository"
)

const defaultJobTimeout = 30 * time.Second

// Handler performs one dispatch. *Dispatcher implements it.
type Handler interface {
	Dispatch(ctx context.Context, lbl *labeldomain.LabeledImage, settings *settingsdomain.TenantSettings) (*notificationdomain.Attempt, error)
}

// Queue is a bounded in-process job queue drained by a fixed set of workers.
// Enqueue never blocks; a full queue drops the job and the sweeper picks it up later.
type Queue struct {
	handler  Handler
	settings settingsrepo.Repository
	metrics  *metrics.Metrics
	workers  int

	jobs       chan labeldomain.LabeledImage
	jobTimeout time.Duration

	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue returns a queue with size slots served by workers goroutines once started.
func NewQueue(handler Handler, settings settingsrepo.Repository, workers, size int, m *metrics.Metrics) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		handler:    handler,
		settings:   settings,
		metrics:    m,
		workers:    workers,
		jobs:       make(chan labeldomain.LabeledImage, size),
		jobTimeout: defaultJobTimeout,
	}
	m.RegisterQueueDepth(q.Depth)
	return q
}

// Start launches the workers. Jobs run under a context derived from ctx.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(logging.WithComponent(ctx, "dispatch-queue"))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// Enqueue schedules lbl for dispatch. It returns false if the queue is full or closed.
func (q *Queue) Enqueue(lbl *labeldomain.LabeledImage) bool {
	if lbl == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- *lbl:
		return true
	default:
		q.metrics.DispatchDropped()
		logging.Warn(context.Background(), "dispatch: queue full, job dropped",
			slog.String("owner_id", lbl.OwnerID),
			slog.String("labeled_image_id", lbl.ID))
		return false
	}
}

// Depth returns the number of jobs waiting.
func (q *Queue) Depth() int { return len(q.jobs) }

// Shutdown stops accepting jobs and waits for the workers to drain the backlog.
// If ctx expires first the in-flight jobs are cancelled and ctx.Err is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	started, cancel := q.started, q.cancel
	q.mu.Unlock()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for lbl := range q.jobs {
		q.run(ctx, lbl)
	}
}

// run executes one job. A panic fails only this job.
func (q *Queue) run(ctx context.Context, lbl labeldomain.LabeledImage) {
	ctx = logging.WithAttrs(ctx,
		slog.String("owner_id", lbl.OwnerID),
		slog.String("labeled_image_id", lbl.ID))
	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "dispatch: job panicked",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	defer cancel()

	settings, err := q.settings.GetByOwnerID(ctx, lbl.OwnerID)
	if err != nil {
		logging.Error(ctx, "dispatch: load tenant settings", slog.Any("err", errs.Loggable(err)))
		return
	}
	if _, err := q.handler.Dispatch(ctx, &lbl, settings); err != nil {
		logging.Error(ctx, "dispatch: job failed", slog.Any("err", errs.Loggable(err)))
	}
}
