package ledger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/rewards/internal/models"
)

// ErrAccountNotFound is returned when the account row does not exist.
var ErrAccountNotFound = errAccountNotFound

// Store is the minimal ledger persistence the service needs.
type Store interface {
	AdjustBalanceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64) (int64, error)
	InsertEntryTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

// Service moves the user's token balance and records every movement in token_ledger.
type Service interface {
	CreditRewardTx(ctx context.Context, tx pgx.Tx, accountID, rewardID uuid.UUID, amount int64) error
	DebitSettlementTx(ctx context.Context, tx pgx.Tx, accountID, settlementID uuid.UUID, amount int64) error
	Balance(ctx context.Context, accountID uuid.UUID) (int64, []*models.LedgerEntry, error)
}

type service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, log: log}
}

var _ Service = (*service)(nil)

const recentEntries = 20

// CreditRewardTx increments the balance for a newly created reward. Call within the
// transaction that creates the reward.
func (s *service) CreditRewardTx(ctx context.Context, tx pgx.Tx, accountID, rewardID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	balance, err := s.store.AdjustBalanceTx(ctx, tx, accountID, amount)
	if err != nil {
		return err
	}
	return s.store.InsertEntryTx(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), AccountID: accountID, RewardID: &rewardID,
		EntryType: models.LedgerEntryRewardCredit, Amount: amount, BalanceAfter: balance,
	})
}

// DebitSettlementTx removes a completed settlement's amount from the balance. The external
// transfer already happened, so a resulting negative balance is recorded and logged rather
// than refused.
func (s *service) DebitSettlementTx(ctx context.Context, tx pgx.Tx, accountID, settlementID uuid.UUID, amount int64) error {
	balance, err := s.store.AdjustBalanceTx(ctx, tx, accountID, -amount)
	if err != nil {
		return err
	}
	if balance < 0 {
		s.log.Warn("token balance negative after settlement debit",
			"account_id", accountID, "settlement_id", settlementID, "balance", balance)
	}
	return s.store.InsertEntryTx(ctx, tx, &models.LedgerEntry{
		ID: uuid.New(), AccountID: accountID, SettlementID: &settlementID,
		EntryType: models.LedgerEntrySettlementDebit, Amount: amount, BalanceAfter: balance,
	})
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (int64, []*models.LedgerEntry, error) {
	balance, err := s.store.Balance(ctx, accountID)
	if err != nil {
		return 0, nil, err
	}
	entries, err := s.store.ListEntries(ctx, accountID, recentEntries)
	if err != nil {
		return 0, nil, err
	}
	return balance, entries, nil
}
