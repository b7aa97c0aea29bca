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

var ErrRewardNotFound = errors.New("reward not found")

type RewardRepo struct {
	pool *pgxpool.Pool
}

func NewRewardRepo(pool *pgxpool.Pool) *RewardRepo {
	return &RewardRepo{pool: pool}
}

const rewardColumns = `id, user_id, source_event_id, type, amount, reason, status, rules_applied, multiplier, earned_at, expires_at`

func (r *RewardRepo) CreateTx(ctx context.Context, tx pgx.Tx, rw *models.Reward) error {
	rules := rw.RulesApplied
	if rules == nil {
		rules = []string{}
	}
	return tx.QueryRow(ctx, `
		INSERT INTO rewards (id, user_id, source_event_id, type, amount, reason, status, rules_applied, multiplier, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING earned_at
	`, rw.ID, rw.UserID, rw.SourceEventID, rw.Type, rw.Amount, rw.Reason, rw.Status, rules, rw.Multiplier, rw.ExpiresAt).Scan(&rw.EarnedAt)
}

// FindBySourceTx returns the reward created for (sourceEventID, type), or nil if none exists.
func (r *RewardRepo) FindBySourceTx(ctx context.Context, tx pgx.Tx, sourceEventID string, typ models.RewardType) (*models.Reward, error) {
	rw, err := scanReward(tx.QueryRow(ctx, `
		SELECT `+rewardColumns+` FROM rewards WHERE source_event_id = $1 AND type = $2
	`, sourceEventID, typ))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rw, err
}

// EarnedTotalsTx sums the user's APPROVED and CLAIMED rewards since dayStart and overall.
func (r *RewardRepo) EarnedTotalsTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, dayStart time.Time) (today, lifetime int64, err error) {
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE earned_at >= $2), 0),
		       COALESCE(SUM(amount), 0)
		FROM rewards
		WHERE user_id = $1 AND status IN ('APPROVED', 'CLAIMED')
	`, userID, dayStart).Scan(&today, &lifetime)
	return today, lifetime, err
}

// LockByIDsTx selects the rewards FOR UPDATE in id order so concurrent claimers lock rows
// in the same sequence.
func (r *RewardRepo) LockByIDsTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]*models.Reward, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+rewardColumns+` FROM rewards WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Reward
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rw)
	}
	return list, rows.Err()
}

// SetStatusTx moves every listed reward from `from` to `to` and returns the count moved.
func (r *RewardRepo) SetStatusTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, from, to models.RewardStatus) (int64, error) {
	tag, err := tx.Exec(ctx, `UPDATE rewards SET status = $3 WHERE id = ANY($1) AND status = $2`, ids, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByUser returns the user's rewards, newest first, optionally filtered by status.
func (r *RewardRepo) ListByUser(ctx context.Context, userID uuid.UUID, status *models.RewardStatus, limit int) ([]*models.Reward, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+rewardColumns+` FROM rewards
		WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY earned_at DESC, id DESC
		LIMIT $3
	`, userID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Reward
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rw)
	}
	return list, rows.Err()
}

func scanReward(row pgx.Row) (*models.Reward, error) {
	var rw models.Reward
	if err := row.Scan(&rw.ID, &rw.UserID, &rw.SourceEventID, &rw.Type, &rw.Amount, &rw.Reason, &rw.Status,
		&rw.RulesApplied, &rw.Multiplier, &rw.EarnedAt, &rw.ExpiresAt); err != nil {
		return nil, err
	}
	return &rw, nil
}
