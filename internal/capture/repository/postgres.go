package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trailwatch/backend/internal/capture/domain"
	"trailwatch/backend/internal/db"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a capture repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the capture row.
func (r *PostgresRepository) Create(ctx context.Context, img *domain.CapturedImage) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO captured_images (id, owner_id, storage_path, captured_at, source, content_type, size_bytes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		img.ID, img.OwnerID, img.StoragePath, img.CapturedAt, string(img.Source), img.ContentType, img.SizeBytes, img.CreatedAt)
	return err
}

// GetByID returns the capture by id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.CapturedImage, error) {
	var (
		img    domain.CapturedImage
		source string
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, storage_path, captured_at, source, content_type, size_bytes, created_at
FROM captured_images WHERE id = $1`, id).Scan(
		&img.ID, &img.OwnerID, &img.StoragePath, &img.CapturedAt, &source, &img.ContentType, &img.SizeBytes, &img.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || db.IsInvalidText(err) {
			return nil, nil
		}
		return nil, err
	}
	img.Source = domain.Source(source)
	return &img, nil
}

// summarySelect joins each capture to its label and latest attempt. The derived state
// expression mirrors domain.DeriveState so it can be filtered in SQL.
const summarySelect = `
SELECT * FROM (
    SELECT c.id, c.owner_id, c.storage_path, c.captured_at, c.source, c.content_type, c.size_bytes, c.created_at,
           COALESCE(l.id::text, ''), COALESCE(l.label, ''), COALESCE(l.confidence, 0), l.labeled_at,
           COALESCE(a.provider, ''), COALESCE(a.outcome, ''), a.attempted_at,
           CASE
               WHEN l.id IS NULL THEN 'awaiting_label'
               WHEN a.outcome = 'sent' THEN 'notified'
               WHEN a.outcome LIKE 'skipped:%' THEN 'notification_skipped'
               WHEN a.outcome LIKE 'failed:%' THEN 'notification_failed'
               ELSE 'labeled'
           END AS state
    FROM captured_images c
    LEFT JOIN labeled_images l ON l.captured_image_id = c.id
    LEFT JOIN LATERAL (
        SELECT provider, outcome, attempted_at
        FROM notification_attempts
        WHERE labeled_image_id = l.id
        ORDER BY attempted_at DESC
        LIMIT 1
    ) a ON true
    WHERE c.owner_id = $1
) s`

// GetSummary returns the owner-scoped read model for one capture, or nil.
func (r *PostgresRepository) GetSummary(ctx context.Context, ownerID, id string) (*domain.Summary, error) {
	rows, err := r.db.QueryContext(ctx, summarySelect+` WHERE s.id = $2`, ownerID, id)
	if err != nil {
		if db.IsInvalidText(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()
	list, err := scanSummaries(rows)
	if db.IsInvalidText(err) {
		return nil, nil
	}
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListSummaries returns the owner's captures newest first. An empty state means no filter.
func (r *PostgresRepository) ListSummaries(ctx context.Context, ownerID string, state domain.State, limit int) ([]domain.Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		summarySelect+` WHERE ($2 = '' OR s.state = $2) ORDER BY s.created_at DESC LIMIT $3`,
		ownerID, string(state), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// CountAwaitingLabel counts captures without a label created before the cutoff.
func (r *PostgresRepository) CountAwaitingLabel(ctx context.Context, createdBefore time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
SELECT count(*) FROM captured_images c
WHERE c.created_at < $1
  AND NOT EXISTS (SELECT 1 FROM labeled_images l WHERE l.captured_image_id = c.id)`, createdBefore).Scan(&n)
	return n, err
}

func scanSummaries(rows *sql.Rows) ([]domain.Summary, error) {
	var out []domain.Summary
	for rows.Next() {
		var (
			s                    domain.Summary
			source, state        string
			labeledAt, attempted sql.NullTime
		)
		if err := rows.Scan(
			&s.Image.ID, &s.Image.OwnerID, &s.Image.StoragePath, &s.Image.CapturedAt, &source,
			&s.Image.ContentType, &s.Image.SizeBytes, &s.Image.CreatedAt,
			&s.LabelID, &s.Label, &s.Confidence, &labeledAt,
			&s.Provider, &s.Outcome, &attempted, &state,
		); err != nil {
			return nil, err
		}
		s.Image.Source = domain.Source(source)
		if labeledAt.Valid {
			t := labeledAt.Time
			s.LabeledAt = &t
		}
		if attempted.Valid {
			t := attempted.Time
			s.AttemptedAt = &t
		}
		s.State = domain.DeriveState(s.LabelID != "", s.Outcome)
		out = append(out, s)
	}
	return out, rows.Err()
}
