package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/rewards/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const jobColumns = `id, user_id, kind, payload, priority, status, retry_count, last_error, result,
	lease_expires_at, dismissed_at, created_at, updated_at, completed_at`

func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, j *models.RewardJob) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return err
	}
	return tx.QueryRow(ctx, `
		INSERT INTO reward_jobs (id, user_id, kind, payload, priority, status)
		VALUES ($1, $2, $3, $4, $5, 'PENDING')
		RETURNING status, created_at, updated_at
	`, j.ID, j.UserID, j.Kind, payload, j.Priority).Scan(&j.Status, &j.CreatedAt, &j.UpdatedAt)
}

func (r *Repository) SetRiverJobIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, riverJobID int64) error {
	_, err := tx.Exec(ctx, `UPDATE reward_jobs SET river_job_id = $2 WHERE id = $1`, id, riverJobID)
	return err
}

// Claim moves a PENDING job, or a PROCESSING job whose lease has lapsed, to PROCESSING in a
// single conditional update, so two deliveries can never both hold it. It also returns the
// status the job was claimed from.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, leaseUntil time.Time) (*models.RewardJob, models.JobStatus, error) {
	var prev models.JobStatus
	j, err := scanJob(r.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, status AS prev_status FROM reward_jobs
			WHERE id = $1
			  AND (status = 'PENDING' OR (status = 'PROCESSING' AND lease_expires_at < NOW()))
			FOR UPDATE
		), claimed AS (
			UPDATE reward_jobs j
			SET status = 'PROCESSING', lease_expires_at = $2, updated_at = NOW()
			FROM prev
			WHERE j.id = prev.id
			RETURNING j.*
		)
		SELECT `+jobColumns+`, prev.prev_status FROM claimed JOIN prev USING (id)
	`, id, leaseUntil), &prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotClaimable
	}
	return j, prev, err
}

func (r *Repository) Complete(ctx context.Context, id uuid.UUID, result []byte) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reward_jobs
		SET status = 'COMPLETED', result = $2, lease_expires_at = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, result)
	return err
}

// Release returns a PROCESSING job to PENDING after a transient failure.
func (r *Repository) Release(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reward_jobs
		SET status = 'PENDING', retry_count = retry_count + 1, last_error = $2, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, lastError)
	return err
}

func (r *Repository) Fail(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reward_jobs
		SET status = 'FAILED', retry_count = retry_count + 1, last_error = $2, lease_expires_at = NULL,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, lastError)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RewardJob, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM reward_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (r *Repository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM reward_jobs WHERE dismissed_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.JobStatus]int)
	for rows.Next() {
		var (
			s models.JobStatus
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

// OldestPending returns the creation time of the oldest PENDING job, or nil.
func (r *Repository) OldestPending(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MIN(created_at) FROM reward_jobs WHERE status = 'PENDING'`).Scan(&t)
	return t, err
}

func (r *Repository) ListFailed(ctx context.Context, limit, offset int) ([]*models.RewardJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM reward_jobs
		WHERE status = 'FAILED' AND dismissed_at IS NULL
		ORDER BY updated_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// RequeueFailedTx moves a FAILED, undismissed job back to PENDING for an operator retry.
func (r *Repository) RequeueFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.RewardJob, error) {
	j, err := scanJob(tx.QueryRow(ctx, `
		UPDATE reward_jobs
		SET status = 'PENDING', completed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'FAILED' AND dismissed_at IS NULL
		RETURNING `+jobColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (r *Repository) Dismiss(ctx context.Context, id uuid.UUID) (*models.RewardJob, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `
		UPDATE reward_jobs SET dismissed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'FAILED' AND dismissed_at IS NULL
		RETURNING `+jobColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// RequeueStuckTx returns PROCESSING jobs whose lease lapsed before now to PENDING. SKIP LOCKED
// keeps concurrent sweepers from contending on the same rows.
func (r *Repository) RequeueStuckTx(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]*models.RewardJob, error) {
	rows, err := tx.Query(ctx, `
		UPDATE reward_jobs
		SET status = 'PENDING', retry_count = retry_count + 1, last_error = 'lease expired',
			lease_expires_at = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM reward_jobs
			WHERE status = 'PROCESSING' AND lease_expires_at < $1
			ORDER BY lease_expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*models.RewardJob, error) {
	var list []*models.RewardJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// scanJob reads jobColumns followed by any extra destinations.
func scanJob(row pgx.Row, extra ...any) (*models.RewardJob, error) {
	var (
		j       models.RewardJob
		payload []byte
		result  []byte
	)
	dest := []any{&j.ID, &j.UserID, &j.Kind, &payload, &j.Priority, &j.Status, &j.RetryCount, &j.LastError, &result,
		&j.LeaseExpiresAt, &j.DismissedAt, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, err
		}
	}
	if len(result) > 0 {
		j.Result = result
	}
	return &j, nil
}
