package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a status change is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid status transition")

type SettlementStatus string

const (
	SettlementQueued      SettlementStatus = "QUEUED"
	SettlementAdminReview SettlementStatus = "ADMIN_REVIEW"
	SettlementApproved    SettlementStatus = "APPROVED"
	SettlementRejected    SettlementStatus = "REJECTED"
	SettlementMinting     SettlementStatus = "MINTING"
	SettlementCompleted   SettlementStatus = "COMPLETED"
	SettlementFailed      SettlementStatus = "FAILED"
)

// CanTransitionTo encodes the settlement state machine. Every status is listed so a new
// status without transitions fails the exhaustiveness test.
func (s SettlementStatus) CanTransitionTo(next SettlementStatus) bool {
	switch s {
	case SettlementQueued:
		return next == SettlementAdminReview || next == SettlementApproved || next == SettlementRejected
	case SettlementAdminReview:
		return next == SettlementApproved || next == SettlementRejected
	case SettlementApproved:
		return next == SettlementMinting
	case SettlementMinting:
		return next == SettlementCompleted || next == SettlementFailed
	case SettlementRejected, SettlementCompleted, SettlementFailed:
		return false
	}
	return false
}

func (s SettlementStatus) IsTerminal() bool {
	switch s {
	case SettlementRejected, SettlementCompleted, SettlementFailed:
		return true
	case SettlementQueued, SettlementAdminReview, SettlementApproved, SettlementMinting:
		return false
	}
	return false
}

// Transition returns next if the move is allowed, or an error wrapping ErrInvalidTransition.
func (s SettlementStatus) Transition(next SettlementStatus) (SettlementStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// AllSettlementStatuses lists every status.
var AllSettlementStatuses = []SettlementStatus{
	SettlementQueued, SettlementAdminReview, SettlementApproved, SettlementRejected,
	SettlementMinting, SettlementCompleted, SettlementFailed,
}

type SettlementRequest struct {
	ID                 uuid.UUID        `json:"id"`
	UserID             uuid.UUID        `json:"user_id"`
	Amount             int64            `json:"amount"`
	DestinationAddress string           `json:"destination_address"`
	RewardIDs          []uuid.UUID      `json:"reward_ids"`
	RiskScore          float64          `json:"risk_score"`
	RiskFactors        []string         `json:"risk_factors"`
	Status             SettlementStatus `json:"status"`
	RequestedAt        time.Time        `json:"requested_at"`
	ReviewedBy         *string          `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time       `json:"reviewed_at,omitempty"`
	ReviewNotes        *string          `json:"review_notes,omitempty"`
	ConfirmationRef    *string          `json:"confirmation_ref,omitempty"`
	FailureReason      *string          `json:"failure_reason,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}
