package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/models"
)

// HandoffVersion identifies the wire shape of HandoffRecord.
const HandoffVersion = "settlement.v1"

// HandoffRecord is what the external settlement executor receives for one approved request.
type HandoffRecord struct {
	Version            string     `json:"version"`
	RequestID          uuid.UUID  `json:"request_id"`
	UserID             uuid.UUID  `json:"user_id"`
	Amount             int64      `json:"amount"`
	DestinationAddress string     `json:"destination_address"`
	RiskScore          float64    `json:"risk_score"`
	RiskFactors        []string   `json:"risk_factors"`
	ApprovedBy         *string    `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
}

func NewHandoffRecord(req *models.SettlementRequest) HandoffRecord {
	factors := req.RiskFactors
	if factors == nil {
		factors = []string{}
	}
	return HandoffRecord{
		Version:            HandoffVersion,
		RequestID:          req.ID,
		UserID:             req.UserID,
		Amount:             req.Amount,
		DestinationAddress: req.DestinationAddress,
		RiskScore:          req.RiskScore,
		RiskFactors:        factors,
		ApprovedBy:         req.ReviewedBy,
		ApprovedAt:         req.ReviewedAt,
		RequestedAt:        req.RequestedAt,
	}
}

// ClaimForSettlement moves up to limit APPROVED requests to MINTING and returns their
// handoff records. A claimed request is never handed out again.
func (s *Service) ClaimForSettlement(ctx context.Context, actor string, limit int) ([]HandoffRecord, error) {
	if limit <= 0 || limit > s.opts.HandoffBatch {
		limit = s.opts.HandoffBatch
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	claimed, err := s.store.ClaimApprovedTx(ctx, tx, limit)
	if err != nil {
		return nil, fmt.Errorf("claim approved requests: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	out := make([]HandoffRecord, 0, len(claimed))
	for _, req := range claimed {
		out = append(out, NewHandoffRecord(req))
		s.recordRequest(ctx, actor, models.AuditSettlementMinting, req, models.SettlementApproved, nil)
	}
	if len(claimed) > 0 {
		s.log.Info("settlement requests handed off", "count", len(claimed), "actor", actor)
	}
	return out, nil
}

// ReportSettled records the executor's confirmation: MINTING -> COMPLETED, and the settled
// amount leaves the user's token balance. Repeating the same report is a no-op.
func (s *Service) ReportSettled(ctx context.Context, id uuid.UUID, actor, confirmationRef string) (*models.SettlementRequest, error) {
	confirmationRef = strings.TrimSpace(confirmationRef)
	if confirmationRef == "" {
		return nil, fmt.Errorf("%w: confirmation_ref is required", ErrInvalidRequest)
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := s.store.GetByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if req.Status == models.SettlementCompleted && req.ConfirmationRef != nil && *req.ConfirmationRef == confirmationRef {
		return req, nil
	}
	if req.Status, err = req.Status.Transition(models.SettlementCompleted); err != nil {
		return nil, err
	}
	req.ConfirmationRef = &confirmationRef
	if err := s.store.UpdateTx(ctx, tx, req); err != nil {
		return nil, err
	}
	if err := s.ledger.DebitSettlementTx(ctx, tx, req.UserID, req.ID, req.Amount); err != nil {
		return nil, fmt.Errorf("debit settled amount: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("settlement completed", "request_id", id, "confirmation_ref", confirmationRef, "amount", req.Amount)
	s.recordRequest(ctx, actor, models.AuditSettlementCompleted, req, models.SettlementMinting, nil)
	return req, nil
}

// ReportFailed records an executor failure: MINTING -> FAILED. The claimed rewards stay
// CLAIMED because the transfer may have partly happened on the network; an operator must
// reconcile it.
func (s *Service) ReportFailed(ctx context.Context, id uuid.UUID, actor, reason string) (*models.SettlementRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := s.store.GetByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if req.Status == models.SettlementFailed {
		return req, nil
	}
	if req.Status, err = req.Status.Transition(models.SettlementFailed); err != nil {
		return nil, err
	}
	req.FailureReason = &reason
	if err := s.store.UpdateTx(ctx, tx, req); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Warn("settlement failed, manual reconciliation required",
		"request_id", id, "user_id", req.UserID, "amount", req.Amount, "reason", reason, "reward_ids", req.RewardIDs)
	s.recordRequest(ctx, actor, models.AuditSettlementFailed, req, models.SettlementMinting, nil)
	return req, nil
}
