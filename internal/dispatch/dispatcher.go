// Package dispatch turns a labeled detection into at most one delivered SMS per label.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"trailwatch/backend/internal/dispatch/sms"
	"trailwatch/backend/internal/errs"
	labeldomain "trailwatch/backend/internal/label/domain"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/metrics"
	"trailwatch/backend/internal/notification/domain"
	notificationrepo "trailwatch/backend/internal/notification/repository"
	"trailwatch/backend/internal/policy/engine"
	"trailwatch/backend/internal/telemetry"
	telemetrydomain "trailwatch/backend/internal/telemetry/domain"
	settingsdomain "trailwatch/backend/internal/tenantsettings/domain"
)

const (
	defaultSendTimeout = 10 * time.Second
	maxDetailLen       = 500
)

// Dispatcher records one notification decision per labeled image and performs the send.
type Dispatcher struct {
	attempts    notificationrepo.Repository
	providers   *sms.Registry
	policy      engine.Evaluator
	emitter     telemetry.EventEmitter
	metrics     *metrics.Metrics
	sendTimeout time.Duration
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPolicy sets the alert policy evaluator. Without one every configured tenant is notified.
func WithPolicy(e engine.Evaluator) Option { return func(d *Dispatcher) { d.policy = e } }

// WithEmitter sets the pipeline event emitter.
func WithEmitter(e telemetry.EventEmitter) Option { return func(d *Dispatcher) { d.emitter = e } }

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithSendTimeout bounds each provider call.
func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

// NewDispatcher returns a dispatcher over attempts and the given provider registry.
func NewDispatcher(attempts notificationrepo.Repository, providers *sms.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		attempts:    attempts,
		providers:   providers,
		sendTimeout: defaultSendTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch decides and performs the notification for lbl. Provider failures are recorded
// on the attempt, not returned; the returned error is for store failures only.
func (d *Dispatcher) Dispatch(ctx context.Context, lbl *labeldomain.LabeledImage, settings *settingsdomain.TenantSettings) (*domain.Attempt, error) {
	if lbl == nil {
		return nil, errs.Invalid("dispatch: nil label")
	}
	ctx = logging.WithAttrs(ctx,
		slog.String("owner_id", lbl.OwnerID),
		slog.String("labeled_image_id", lbl.ID))

	if settings == nil || !settings.SMS.Configured() {
		return d.record(ctx, lbl, "", domain.OutcomeSkippedNotConfigured, "")
	}

	live, err := d.attempts.GetLive(ctx, lbl.ID)
	if err != nil {
		return nil, errs.Wrap(err, "dispatch: load live attempt")
	}
	if live != nil {
		return live, nil
	}

	if d.policy != nil {
		decision, err := d.policy.EvaluateAlert(ctx, settings.Alerts, engine.AlertInput{
			OwnerID:    lbl.OwnerID,
			Label:      lbl.Label,
			Confidence: lbl.Confidence,
			LabeledAt:  lbl.LabeledAt,
		})
		if err != nil {
			logging.Warn(ctx, "dispatch: alert policy evaluation failed", slog.Any("err", errs.Loggable(err)))
		}
		if !decision.Notify {
			return d.record(ctx, lbl, settings.SMS.Provider, domain.OutcomeSkippedPolicy, strings.Join(decision.Reasons, ","))
		}
	}

	attempt := &domain.Attempt{
		ID:             uuid.NewString(),
		LabeledImageID: lbl.ID,
		OwnerID:        lbl.OwnerID,
		Provider:       settings.SMS.Provider,
		Outcome:        domain.OutcomePending,
		AttemptedAt:    d.now(),
	}
	if err := d.attempts.Claim(ctx, attempt); err != nil {
		if errors.Is(err, notificationrepo.ErrClaimConflict) {
			existing, getErr := d.attempts.GetLive(ctx, lbl.ID)
			if getErr != nil {
				return nil, errs.Wrap(getErr, "dispatch: load claimed attempt")
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, errs.Wrap(err, "dispatch: claim")
	}

	outcome, detail := d.send(ctx, lbl, settings.SMS)
	return d.finalize(ctx, attempt, outcome, detail)
}

func (d *Dispatcher) send(ctx context.Context, lbl *labeldomain.LabeledImage, s settingsdomain.SMSSettings) (outcome, detail string) {
	provider, ok := d.providers.Get(s.Provider)
	if !ok {
		return domain.Failed(domain.ReasonUnknownProvider), "provider " + s.Provider + " is not registered"
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	res, err := provider.Send(sendCtx, BuildMessage(lbl), s.Destination, sms.Credentials{
		APIKey:     s.APIKey,
		Sender:     s.Sender,
		AccountSID: s.AccountSID,
		AuthToken:  s.AuthToken,
	})
	if err != nil {
		reason := sms.ReasonOf(err)
		logging.Warn(ctx, "dispatch: provider send failed",
			slog.String("provider", s.Provider),
			slog.String("reason", reason),
			slog.Any("err", errs.Loggable(err)))
		return domain.Failed(reason), err.Error()
	}
	return domain.OutcomeSent, res.ProviderMessageID
}

// finalize writes the outcome with a context that survives the job's cancellation, so a
// claimed attempt is not left pending by a shutdown mid-send.
func (d *Dispatcher) finalize(ctx context.Context, attempt *domain.Attempt, outcome, detail string) (*domain.Attempt, error) {
	detail = truncate(detail)
	finished := d.now()
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := d.attempts.Finalize(storeCtx, attempt.ID, attempt.Provider, outcome, detail, finished)
	if errors.Is(err, notificationrepo.ErrAlreadyFinal) {
		// Expired by the sweeper while the provider call was in flight.
		logging.Warn(ctx, "dispatch: attempt finalized elsewhere",
			slog.String("attempt_id", attempt.ID), slog.String("outcome", outcome))
	} else if err != nil {
		return nil, errs.Wrap(err, "dispatch: finalize")
	}
	attempt.Outcome, attempt.Detail, attempt.FinishedAt = outcome, detail, &finished
	d.observe(ctx, attempt)
	return attempt, nil
}

func (d *Dispatcher) record(ctx context.Context, lbl *labeldomain.LabeledImage, provider, outcome, detail string) (*domain.Attempt, error) {
	now := d.now()
	attempt := &domain.Attempt{
		ID:             uuid.NewString(),
		LabeledImageID: lbl.ID,
		OwnerID:        lbl.OwnerID,
		Provider:       provider,
		Outcome:        outcome,
		Detail:         truncate(detail),
		AttemptedAt:    now,
		FinishedAt:     &now,
	}
	if err := d.attempts.Record(ctx, attempt); err != nil {
		return nil, errs.Wrap(err, "dispatch: record")
	}
	d.observe(ctx, attempt)
	return attempt, nil
}

func (d *Dispatcher) observe(ctx context.Context, a *domain.Attempt) {
	d.metrics.NotificationFinalized(a.Provider, a.Outcome)
	logging.Info(ctx, "dispatch: notification finalized",
		slog.String("provider", a.Provider), slog.String("outcome", a.Outcome))
	telemetry.EmitAsync(d.emitter, ctx, telemetrydomain.NewEvent(telemetrydomain.EventNotificationFinalized, "dispatcher", a.OwnerID).
		With("attempt_id", a.ID).
		With("labeled_image_id", a.LabeledImageID).
		With("provider", a.Provider).
		With("outcome", a.Outcome))
}

func truncate(s string) string {
	return sms.Clip(s, maxDetailLen)
}
