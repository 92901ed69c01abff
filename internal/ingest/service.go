// Package ingest accepts images from authenticated devices and commits them to the event store.
package ingest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"trailwatch/backend/internal/blobstore"
	capturedomain "trailwatch/backend/internal/capture/domain"
	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/metrics"
	"trailwatch/backend/internal/telemetry"
	telemetrydomain "trailwatch/backend/internal/telemetry/domain"
)

// MaxClockSkew is how far in the future a device timestamp may be.
const MaxClockSkew = 5 * time.Minute

const defaultMaxBytes = 10 << 20

// Metadata describes an upload. A zero CapturedAt is rejected; the HTTP layer fills in
// server time when the device omits it.
type Metadata struct {
	CapturedAt time.Time
	Source     string
}

// CaptureRepo is the minimal capture repository needed by ingest.
type CaptureRepo interface {
	Create(ctx context.Context, img *capturedomain.CapturedImage) error
}

// Mirror receives committed captures; it must not block.
type Mirror interface {
	Mirror(img *capturedomain.CapturedImage)
}

// LabelTrigger requests classification of committed captures; it must not block.
type LabelTrigger interface {
	Trigger(img *capturedomain.CapturedImage)
}

// Service implements the ingest gateway.
type Service struct {
	captures CaptureRepo
	blobs    blobstore.Store
	mirror   Mirror
	labeler  LabelTrigger
	emitter  telemetry.EventEmitter
	metrics  *metrics.Metrics
	maxBytes int64
	now      func() time.Time
}

// NewService returns an ingest service. mirror, labeler, emitter and m may be nil.
func NewService(
	captures CaptureRepo,
	blobs blobstore.Store,
	mirror Mirror,
	labeler LabelTrigger,
	emitter telemetry.EventEmitter,
	m *metrics.Metrics,
	maxBytes int64,
) *Service {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Service{
		captures: captures,
		blobs:    blobs,
		mirror:   mirror,
		labeler:  labeler,
		emitter:  emitter,
		metrics:  m,
		maxBytes: maxBytes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores image for ownerID and returns the committed capture. The blob is written
// before the row; if the row insert fails the blob is removed. Side effects after the
// commit (mirror, labeling, pipeline event) never affect the result.
func (s *Service) Ingest(ctx context.Context, ownerID string, image []byte, meta Metadata) (*capturedomain.CapturedImage, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		s.metrics.IngestRejected("unauthorized")
		return nil, errs.Wrap(errs.ErrUnauthorized, "ingest: no authenticated owner")
	}
	contentType, source, err := s.validate(image, meta)
	if err != nil {
		s.metrics.IngestRejected("invalid")
		return nil, err
	}

	img := &capturedomain.CapturedImage{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		CapturedAt:  meta.CapturedAt.UTC(),
		Source:      source,
		ContentType: contentType,
		SizeBytes:   int64(len(image)),
		CreatedAt:   s.now(),
	}
	ctx = logging.WithAttrs(ctx, slog.String("owner_id", ownerID), slog.String("capture_id", img.ID))

	key, err := s.blobs.Put(ctx, ownerID, img.ID, contentType, image)
	if err != nil {
		return nil, errs.Wrap(err, "ingest: store blob")
	}
	img.StoragePath = key

	if err := s.captures.Create(ctx, img); err != nil {
		s.discardBlob(ctx, key)
		return nil, errs.Wrap(err, "ingest: create capture")
	}

	s.metrics.CaptureIngested(string(source))
	logging.Info(ctx, "ingest: capture stored",
		slog.String("source", string(source)),
		slog.Int64("size_bytes", img.SizeBytes))

	if s.mirror != nil {
		s.mirror.Mirror(img)
	}
	if s.labeler != nil {
		s.labeler.Trigger(img)
	}
	telemetry.EmitAsync(s.emitter, ctx, telemetrydomain.NewEvent(telemetrydomain.EventCaptureIngested, "ingest", ownerID).
		With("capture_id", img.ID).
		With("source", string(source)).
		With("content_type", contentType))
	return img, nil
}

func (s *Service) validate(image []byte, meta Metadata) (string, capturedomain.Source, error) {
	if len(image) == 0 {
		return "", "", errs.Invalid("ingest: empty image")
	}
	if int64(len(image)) > s.maxBytes {
		return "", "", errs.Invalid("ingest: image exceeds %d bytes", s.maxBytes)
	}
	contentType := http.DetectContentType(image)
	if !strings.HasPrefix(contentType, "image/") {
		return "", "", errs.Invalid("ingest: content type %q is not an image", contentType)
	}
	if meta.CapturedAt.IsZero() {
		return "", "", errs.Invalid("ingest: captured_at is required")
	}
	if meta.CapturedAt.After(s.now().Add(MaxClockSkew)) {
		return "", "", errs.Invalid("ingest: captured_at %s is in the future", meta.CapturedAt.UTC().Format(time.RFC3339))
	}
	source, ok := capturedomain.ParseSource(meta.Source)
	if !ok {
		return "", "", errs.Invalid("ingest: unknown source %q", meta.Source)
	}
	return contentType, source, nil
}

// discardBlob removes a blob whose row was never committed. A failed delete leaves an
// orphan that is logged for offline cleanup.
func (s *Service) discardBlob(ctx context.Context, key string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.blobs.Delete(delCtx, key); err != nil {
		s.metrics.OrphanedBlob()
		logging.Error(ctx, "ingest: orphaned blob",
			slog.String("storage_path", key),
			slog.Any("err", errs.Loggable(err)))
	}
}
