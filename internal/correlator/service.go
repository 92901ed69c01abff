// Package correlator joins asynchronous label callbacks with the captures they describe.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"trailwatch/backend/internal/audit"
	auditdomain "trailwatch/backend/internal/audit/domain"
	capturedomain "trailwatch/backend/internal/capture/domain"
	"trailwatch/backend/internal/errs"
	labeldomain "trailwatch/backend/internal/label/domain"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/metrics"
	"trailwatch/backend/internal/telemetry"
	telemetrydomain "trailwatch/backend/internal/telemetry/domain"
)

// CaptureRepo is the minimal capture repository needed by the correlator.
type CaptureRepo interface {
	GetByID(ctx context.Context, id string) (*capturedomain.CapturedImage, error)
}

// LabelRepo is the minimal label repository needed by the correlator.
type LabelRepo interface {
	Create(ctx context.Context, l *labeldomain.LabeledImage) error
	GetByCapturedImageID(ctx context.Context, capturedImageID string) (*labeldomain.LabeledImage, error)
}

// Enqueuer schedules dispatch of a new label. It must not block; false means dropped.
type Enqueuer interface {
	Enqueue(lbl *labeldomain.LabeledImage) bool
}

// Service implements the result correlator.
type Service struct {
	captures CaptureRepo
	labels   LabelRepo
	queue    Enqueuer
	audit    audit.AuditLogger
	emitter  telemetry.EventEmitter
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService returns a correlator. queue, auditLogger, emitter and m may be nil.
func NewService(captures CaptureRepo, labels LabelRepo, queue Enqueuer, auditLogger audit.AuditLogger, emitter telemetry.EventEmitter, m *metrics.Metrics) *Service {
	return &Service{
		captures: captures,
		labels:   labels,
		queue:    queue,
		audit:    auditLogger,
		emitter:  emitter,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Correlate records the label for capturedImageID on behalf of ownerID.
//
// Checks run in order: payload validation (InvalidInput), capture existence (NotFound),
// ownership (Forbidden), prior label (AlreadyLabeled). On success the label is persisted
// and dispatch is enqueued without waiting for it.
func (s *Service) Correlate(ctx context.Context, capturedImageID, ownerID, label string, confidence float64) (*labeldomain.LabeledImage, error) {
	lbl, err := s.correlate(ctx, capturedImageID, ownerID, label, confidence)
	s.metrics.LabelCallback(resultOf(err))
	return lbl, err
}

func (s *Service) correlate(ctx context.Context, capturedImageID, ownerID, label string, confidence float64) (*labeldomain.LabeledImage, error) {
	capturedImageID = strings.TrimSpace(capturedImageID)
	ownerID = strings.TrimSpace(ownerID)
	label = strings.TrimSpace(label)
	if err := validate(capturedImageID, ownerID, label, confidence); err != nil {
		return nil, err
	}
	ctx = logging.WithAttrs(ctx, slog.String("owner_id", ownerID), slog.String("capture_id", capturedImageID))

	if !capturedomain.ValidID(capturedImageID) {
		return nil, errs.Wrapf(errs.ErrNotFound, "correlate: capture %s", capturedImageID)
	}
	img, err := s.captures.GetByID(ctx, capturedImageID)
	if err != nil {
		return nil, errs.Wrap(err, "correlate: load capture")
	}
	if img == nil {
		return nil, errs.Wrapf(errs.ErrNotFound, "correlate: capture %s", capturedImageID)
	}
	if img.OwnerID != ownerID {
		s.rejectCrossTenant(ctx, img, ownerID)
		return nil, errs.Wrapf(errs.ErrForbidden, "correlate: capture %s", capturedImageID)
	}

	existing, err := s.labels.GetByCapturedImageID(ctx, capturedImageID)
	if err != nil {
		return nil, errs.Wrap(err, "correlate: load label")
	}
	if existing != nil {
		return nil, errs.Wrapf(errs.ErrAlreadyLabeled, "correlate: capture %s", capturedImageID)
	}

	lbl := &labeldomain.LabeledImage{
		ID:              uuid.NewString(),
		CapturedImageID: capturedImageID,
		OwnerID:         img.OwnerID,
		Label:           label,
		Confidence:      confidence,
		LabeledAt:       s.now(),
	}
	// A concurrent duplicate loses on the unique constraint and surfaces as AlreadyLabeled.
	if err := s.labels.Create(ctx, lbl); err != nil {
		if errors.Is(err, errs.ErrAlreadyLabeled) || errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		return nil, errs.Wrap(err, "correlate: create label")
	}

	logging.Info(ctx, "correlate: label stored",
		slog.String("label", label), slog.Float64("confidence", confidence))
	if s.queue != nil && !s.queue.Enqueue(lbl) {
		logging.Warn(ctx, "correlate: dispatch not enqueued; sweeper will retry",
			slog.String("labeled_image_id", lbl.ID))
	}
	telemetry.EmitAsync(s.emitter, ctx, telemetrydomain.NewEvent(telemetrydomain.EventLabelCorrelated, "correlator", lbl.OwnerID).
		With("capture_id", capturedImageID).
		With("label_id", lbl.ID).
		With("label", label))
	return lbl, nil
}

func validate(capturedImageID, ownerID, label string, confidence float64) error {
	switch {
	case capturedImageID == "":
		return errs.Invalid("correlate: captured_image_id is required")
	case ownerID == "":
		return errs.Invalid("correlate: owner_id is required")
	case label == "":
		return errs.Invalid("correlate: label is required")
	case math.IsNaN(confidence) || confidence < 0 || confidence > 1:
		return errs.Invalid("correlate: confidence %v outside [0, 1]", confidence)
	}
	return nil
}

func (s *Service) rejectCrossTenant(ctx context.Context, img *capturedomain.CapturedImage, claimedOwner string) {
	logging.Warn(ctx, "correlate: cross-tenant callback rejected",
		slog.String("capture_owner_id", img.OwnerID))
	if s.audit != nil {
		s.audit.LogEvent(ctx, img.OwnerID, "labeler", auditdomain.ActionCrossTenantCallback,
			"captured_image:"+img.ID, fmt.Sprintf(`{"claimed_owner_id":%q}`, claimedOwner))
	}
	telemetry.EmitAsync(s.emitter, ctx, telemetrydomain.NewEvent(telemetrydomain.EventCrossTenantCallback, "correlator", img.OwnerID).
		With("capture_id", img.ID).
		With("claimed_owner_id", claimedOwner))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, errs.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrForbidden):
		return "forbidden"
	case errors.Is(err, errs.ErrAlreadyLabeled):
		return "already_labeled"
	default:
		return "error"
	}
}
