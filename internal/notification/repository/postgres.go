package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trailwatch/backend/internal/db"
	"trailwatch/backend/internal/notification/domain"
)

const liveIndex = "notification_attempts_live_idx"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a notification attempt repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetLive returns the pending or sent attempt for the label, or nil.
func (r *PostgresRepository) GetLive(ctx context.Context, labeledImageID string) (*domain.Attempt, error) {
	var (
		a        domain.Attempt
		finished sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, labeled_image_id, owner_id, provider, outcome, detail, attempted_at, finished_at
FROM notification_attempts
WHERE labeled_image_id = $1 AND outcome IN ('pending', 'sent')`, labeledImageID).Scan(
		&a.ID, &a.LabeledImageID, &a.OwnerID, &a.Provider, &a.Outcome, &a.Detail, &a.AttemptedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		a.FinishedAt = &t
	}
	return &a, nil
}

// Claim inserts a pending attempt; the partial unique index rejects a second live row.
func (r *PostgresRepository) Claim(ctx context.Context, a *domain.Attempt) error {
	err := r.insert(ctx, a)
	if db.IsUniqueViolation(err, liveIndex) {
		return ErrClaimConflict
	}
	return err
}

// Record inserts a final attempt (skipped outcomes never hold the live index).
func (r *PostgresRepository) Record(ctx context.Context, a *domain.Attempt) error {
	return r.insert(ctx, a)
}

func (r *PostgresRepository) insert(ctx context.Context, a *domain.Attempt) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_attempts (id, labeled_image_id, owner_id, provider, outcome, detail, attempted_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.LabeledImageID, a.OwnerID, a.Provider, a.Outcome, a.Detail, a.AttemptedAt, a.FinishedAt)
	return err
}

// Finalize sets the outcome of a pending attempt. The WHERE clause guarantees a row is
// finalized at most once.
func (r *PostgresRepository) Finalize(ctx context.Context, id, provider, outcome, detail string, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE notification_attempts
SET provider = $2, outcome = $3, detail = $4, finished_at = $5
WHERE id = $1 AND outcome = 'pending'`, id, provider, outcome, detail, finishedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyFinal
	}
	return nil
}

// ExpirePending abandons claims whose worker died before finalizing them.
func (r *PostgresRepository) ExpirePending(ctx context.Context, attemptedBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE notification_attempts
SET outcome = $2, finished_at = now()
WHERE outcome = 'pending' AND attempted_at < $1`, attemptedBefore, domain.Failed(domain.ReasonAbandoned))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
