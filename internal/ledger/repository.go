package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/rewards/internal/models"
)

var errAccountNotFound = errors.New("account not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AdjustBalanceTx adds delta (negative for a debit) to the account's token balance inside the
// caller's transaction and returns the new balance.
func (r *Repository) AdjustBalanceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET token_balance = token_balance + $1 WHERE id = $2
		RETURNING token_balance
	`, delta, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errAccountNotFound
	}
	return balance, err
}

func (r *Repository) InsertEntryTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO token_ledger (id, account_id, reward_id, settlement_id, entry_type, amount, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.AccountID, e.RewardID, e.SettlementID, e.EntryType, e.Amount, e.BalanceAfter).Scan(&e.CreatedAt)
}

func (r *Repository) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT token_balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errAccountNotFound
	}
	return balance, err
}

func (r *Repository) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, reward_id, settlement_id, entry_type, amount, balance_after, created_at
		FROM token_ledger WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.RewardID, &e.SettlementID, &e.EntryType, &e.Amount, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
