package settlement

import (
	"context"
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

const requestColumns = `id, user_id, amount, destination_address, reward_ids, risk_score, risk_factors, status,
	requested_at, reviewed_by, reviewed_at, review_notes, confirmation_ref, failure_reason, updated_at`

func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, req *models.SettlementRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO settlement_requests (id, user_id, amount, destination_address, reward_ids, risk_score, risk_factors, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING requested_at, updated_at
	`, req.ID, req.UserID, req.Amount, req.DestinationAddress, req.RewardIDs, req.RiskScore, req.RiskFactors, req.Status,
	).Scan(&req.RequestedAt, &req.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.SettlementRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM settlement_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (r *Repository) GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.SettlementRequest, error) {
	req, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM settlement_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

// UpdateTx writes the mutable workflow fields of req.
func (r *Repository) UpdateTx(ctx context.Context, tx pgx.Tx, req *models.SettlementRequest) error {
	return tx.QueryRow(ctx, `
		UPDATE settlement_requests
		SET status = $2, reviewed_by = $3, reviewed_at = $4, review_notes = $5,
			confirmation_ref = $6, failure_reason = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, req.ID, req.Status, req.ReviewedBy, req.ReviewedAt, req.ReviewNotes, req.ConfirmationRef, req.FailureReason,
	).Scan(&req.UpdatedAt)
}

// CountRecentByUserTx counts the user's requests created at or after since.
func (r *Repository) CountRecentByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM settlement_requests WHERE user_id = $1 AND requested_at >= $2
	`, userID, since).Scan(&n)
	return n, err
}

// AddressUsedByOtherUserTx reports whether addr received a completed settlement for any
// user other than userID. Addresses compare case-insensitively.
func (r *Repository) AddressUsedByOtherUserTx(ctx context.Context, tx pgx.Tx, addr string, userID uuid.UUID) (bool, error) {
	var used bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM settlement_requests
			WHERE lower(destination_address) = lower($1) AND user_id <> $2 AND status = 'COMPLETED'
		)
	`, addr, userID).Scan(&used)
	return used, err
}

func (r *Repository) ListByStatus(ctx context.Context, statuses []models.SettlementStatus) ([]*models.SettlementRequest, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM settlement_requests WHERE status = ANY($1)
	`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.SettlementRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM settlement_requests WHERE user_id = $1
		ORDER BY requested_at DESC, id DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ClaimApprovedTx moves up to limit APPROVED requests to MINTING, oldest approval first.
// SKIP LOCKED lets several executors claim concurrently without sharing a request.
func (r *Repository) ClaimApprovedTx(ctx context.Context, tx pgx.Tx, limit int) ([]*models.SettlementRequest, error) {
	rows, err := tx.Query(ctx, `
		UPDATE settlement_requests
		SET status = 'MINTING', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM settlement_requests
			WHERE status = 'APPROVED'
			ORDER BY reviewed_at NULLS FIRST, requested_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+requestColumns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

// QueuedIDs returns up to limit QUEUED request ids, oldest first.
func (r *Repository) QueuedIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM settlement_requests WHERE status = 'QUEUED' ORDER BY requested_at, id LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectRequests(rows pgx.Rows) ([]*models.SettlementRequest, error) {
	var list []*models.SettlementRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, req)
	}
	return list, rows.Err()
}

func scanRequest(row pgx.Row) (*models.SettlementRequest, error) {
	var req models.SettlementRequest
	if err := row.Scan(&req.ID, &req.UserID, &req.Amount, &req.DestinationAddress, &req.RewardIDs, &req.RiskScore,
		&req.RiskFactors, &req.Status, &req.RequestedAt, &req.ReviewedBy, &req.ReviewedAt, &req.ReviewNotes,
		&req.ConfirmationRef, &req.FailureReason, &req.UpdatedAt); err != nil {
		return nil, err
	}
	return &req, nil
}
