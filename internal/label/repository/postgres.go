package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trailwatch/backend/internal/db"
	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/label/domain"
)

const uniqueCaptureConstraint = "labeled_images_captured_image_id_key"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a label repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the label. The UNIQUE constraint on captured_image_id settles concurrent
// duplicate callbacks: the loser gets errs.ErrAlreadyLabeled.
func (r *PostgresRepository) Create(ctx context.Context, l *domain.LabeledImage) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO labeled_images (id, captured_image_id, owner_id, label, confidence, labeled_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.CapturedImageID, l.OwnerID, l.Label, l.Confidence, l.LabeledAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, uniqueCaptureConstraint):
		return errs.Wrapf(errs.ErrAlreadyLabeled, "capture %s", l.CapturedImageID)
	case db.IsForeignKeyViolation(err):
		return errs.Wrapf(errs.ErrNotFound, "capture %s", l.CapturedImageID)
	default:
		return err
	}
}

// GetByCapturedImageID returns the label for the capture, or nil if none exists.
func (r *PostgresRepository) GetByCapturedImageID(ctx context.Context, capturedImageID string) (*domain.LabeledImage, error) {
	var l domain.LabeledImage
	err := r.db.QueryRowContext(ctx, `
SELECT id, captured_image_id, owner_id, label, confidence, labeled_at
FROM labeled_images WHERE captured_image_id = $1`, capturedImageID).Scan(
		&l.ID, &l.CapturedImageID, &l.OwnerID, &l.Label, &l.Confidence, &l.LabeledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || db.IsInvalidText(err) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// ListUndispatched returns labels that still need a dispatch, oldest first.
func (r *PostgresRepository) ListUndispatched(ctx context.Context, labeledBefore time.Time, limit int) ([]domain.LabeledImage, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT l.id, l.captured_image_id, l.owner_id, l.label, l.confidence, l.labeled_at
FROM labeled_images l
LEFT JOIN LATERAL (
    SELECT outcome FROM notification_attempts
    WHERE labeled_image_id = l.id
    ORDER BY attempted_at DESC
    LIMIT 1
) a ON true
WHERE l.labeled_at < $1
  AND (a.outcome IS NULL OR a.outcome = 'failed:abandoned')
ORDER BY l.labeled_at
LIMIT $2`, labeledBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LabeledImage
	for rows.Next() {
		var l domain.LabeledImage
		if err := rows.Scan(&l.ID, &l.CapturedImageID, &l.OwnerID, &l.Label, &l.Confidence, &l.LabeledAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
