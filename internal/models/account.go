package models

import (
	"time"

	"github.com/google/uuid"
)

// SystemActor is recorded as the audit actor for transitions made by the pipeline itself.
const (
	SystemActor            = "system"
	SystemAutoApproveActor = "system:auto-approve"
	SystemSweeperActor     = "system:sweeper"
)

// Account is the slice of the user account the pipeline reads: its age (risk scoring)
// and its token balance (credited on reward, debited on settlement).
type Account struct {
	ID           uuid.UUID `json:"id"`
	TokenBalance int64     `json:"token_balance"`
	CreatedAt    time.Time `json:"created_at"`
}

// Token ledger entry types.
const (
	LedgerEntryRewardCredit    = "reward_credit"
	LedgerEntrySettlementDebit = "settlement_debit"
)

type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	RewardID     *uuid.UUID `json:"reward_id,omitempty"`
	SettlementID *uuid.UUID `json:"settlement_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	Amount       int64      `json:"amount"`
	BalanceAfter int64      `json:"balance_after"`
	CreatedAt    time.Time  `json:"created_at"`
}
