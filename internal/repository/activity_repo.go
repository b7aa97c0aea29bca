package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/rewards/internal/models"
)

var ErrActivityNotFound = errors.New("activity not found")

// ActivityRepo reads completed activities written by the activity-logging service.
type ActivityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(pool *pgxpool.Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

func (r *ActivityRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.ActivityEvent, error) {
	var a models.ActivityEvent
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, type, category, duration_minutes, intensity, completed_at, partner_approved
		FROM activities WHERE id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.Type, &a.Category, &a.DurationMinutes, &a.Intensity, &a.CompletedAt, &a.ExternallyApproved)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountEarlierTodayTx counts the user's activities completed in [dayStart, before).
func (r *ActivityRepo) CountEarlierTodayTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, dayStart, before time.Time) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM activities
		WHERE user_id = $1 AND completed_at >= $2 AND completed_at < $3
	`, userID, dayStart, before).Scan(&n)
	return n, err
}
