package models

import (
	"time"

	"github.com/google/uuid"
)

type RewardType string

const (
	RewardTypeActivity  RewardType = "activity"
	RewardTypeStreak    RewardType = "streak"
	RewardTypeMilestone RewardType = "milestone"
	RewardTypeManual    RewardType = "manual"
)

type RewardStatus string

const (
	RewardStatusPending  RewardStatus = "PENDING"
	RewardStatusApproved RewardStatus = "APPROVED"
	RewardStatusClaimed  RewardStatus = "CLAIMED"
	RewardStatusExpired  RewardStatus = "EXPIRED"
	RewardStatusRejected RewardStatus = "REJECTED"
)

// CanTransitionTo reports whether a reward may move from s to next.
// CLAIMED -> APPROVED is the reversion taken when a settlement request is rejected.
func (s RewardStatus) CanTransitionTo(next RewardStatus) bool {
	switch s {
	case RewardStatusPending:
		return next == RewardStatusApproved || next == RewardStatusRejected || next == RewardStatusExpired
	case RewardStatusApproved:
		return next == RewardStatusClaimed || next == RewardStatusExpired
	case RewardStatusClaimed:
		return next == RewardStatusApproved
	case RewardStatusExpired, RewardStatusRejected:
		return false
	}
	return false
}

// Reward amounts are fixed at creation; only Status moves afterwards.
type Reward struct {
	ID            uuid.UUID    `json:"id"`
	UserID        uuid.UUID    `json:"user_id"`
	SourceEventID *string      `json:"source_event_id,omitempty"`
	Type          RewardType   `json:"type"`
	Amount        int64        `json:"amount"`
	Reason        string       `json:"reason"`
	Status        RewardStatus `json:"status"`
	RulesApplied  []string     `json:"rules_applied"`
	Multiplier    float64      `json:"multiplier"`
	EarnedAt      time.Time    `json:"earned_at"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
}
