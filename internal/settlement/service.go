// Package settlement aggregates approved rewards into risk-scored settlement requests and
// drives them through review and the external settlement handoff.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/rewards/internal/audit"
	"github.com/inaiurai/rewards/internal/ledger"
	"github.com/inaiurai/rewards/internal/models"
)

var (
	ErrNotFound = errors.New("settlement request not found")
	// ErrInvalidRequest covers malformed input: no rewards, duplicate reward ids.
	ErrInvalidRequest = errors.New("invalid settlement request")
	// ErrRewardNotClaimable is returned when a reward is missing, owned by someone else, or
	// not APPROVED.
	ErrRewardNotClaimable = errors.New("reward not claimable")
)

// Store is the settlement persistence the service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, req *models.SettlementRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SettlementRequest, error)
	GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.SettlementRequest, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, req *models.SettlementRequest) error
	CountRecentByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, since time.Time) (int, error)
	AddressUsedByOtherUserTx(ctx context.Context, tx pgx.Tx, addr string, userID uuid.UUID) (bool, error)
	ListByStatus(ctx context.Context, statuses []models.SettlementStatus) ([]*models.SettlementRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.SettlementRequest, error)
	ClaimApprovedTx(ctx context.Context, tx pgx.Tx, limit int) ([]*models.SettlementRequest, error)
	QueuedIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type RewardStore interface {
	LockByIDsTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]*models.Reward, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, from, to models.RewardStatus) (int64, error)
}

type AccountStore interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
}

type Options struct {
	// ReviewThreshold routes requests scoring strictly above it to ADMIN_REVIEW.
	ReviewThreshold float64
	HandoffBatch    int
}

type Service struct {
	store    Store
	rewards  RewardStore
	accounts AccountStore
	ledger   ledger.Service
	audit    audit.Recorder
	log      *slog.Logger
	opts     Options
	now      func() time.Time
}

func NewService(store Store, rewards RewardStore, accounts AccountStore, l ledger.Service, rec audit.Recorder, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.ReviewThreshold <= 0 {
		opts.ReviewThreshold = 0.7
	}
	if opts.HandoffBatch <= 0 {
		opts.HandoffBatch = 50
	}
	return &Service{store: store, rewards: rewards, accounts: accounts, ledger: l, audit: rec, log: log, opts: opts, now: time.Now}
}

// CreateRequest claims the given APPROVED rewards of userID into one settlement request.
// Locking the rewards, checking them, inserting the request and marking the rewards CLAIMED
// happen in one transaction, so no reward can back two requests.
func (s *Service) CreateRequest(ctx context.Context, userID uuid.UUID, rewardIDs []uuid.UUID, destination string) (*models.SettlementRequest, error) {
	if err := ValidateAddress(destination); err != nil {
		return nil, err
	}
	if len(rewardIDs) == 0 {
		return nil, fmt.Errorf("%w: no rewards selected", ErrInvalidRequest)
	}
	seen := make(map[uuid.UUID]bool, len(rewardIDs))
	for _, id := range rewardIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: reward %s listed twice", ErrInvalidRequest, id)
		}
		seen[id] = true
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	locked, err := s.rewards.LockByIDsTx(ctx, tx, rewardIDs)
	if err != nil {
		return nil, fmt.Errorf("lock rewards: %w", err)
	}
	if len(locked) != len(rewardIDs) {
		return nil, fmt.Errorf("%w: %d of %d rewards not found", ErrRewardNotClaimable, len(rewardIDs)-len(locked), len(rewardIDs))
	}
	var total int64
	for _, rw := range locked {
		if rw.UserID != userID {
			return nil, fmt.Errorf("%w: reward %s not owned by caller", ErrRewardNotClaimable, rw.ID)
		}
		if !rw.Status.CanTransitionTo(models.RewardStatusClaimed) {
			return nil, fmt.Errorf("%w: reward %s is %s", ErrRewardNotClaimable, rw.ID, rw.Status)
		}
		total += rw.Amount
	}

	now := s.now()
	acct, err := s.accounts.GetByIDTx(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	recent, err := s.store.CountRecentByUserTx(ctx, tx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	reused, err := s.store.AddressUsedByOtherUserTx(ctx, tx, destination, userID)
	if err != nil {
		return nil, err
	}
	risk := ScoreRisk(RiskInputs{
		AccountAge:     now.Sub(acct.CreatedAt),
		Amount:         total,
		RecentRequests: recent,
		AddressReused:  reused,
	})
	status := models.SettlementQueued
	if risk.RequiresReview(s.opts.ReviewThreshold) {
		status = models.SettlementAdminReview
	}

	ids := make([]uuid.UUID, len(locked))
	for i, rw := range locked {
		ids[i] = rw.ID
	}
	req := &models.SettlementRequest{
		ID:                 uuid.New(),
		UserID:             userID,
		Amount:             total,
		DestinationAddress: destination,
		RewardIDs:          ids,
		RiskScore:          risk.Score,
		RiskFactors:        risk.Factors,
		Status:             status,
	}
	if err := s.store.CreateTx(ctx, tx, req); err != nil {
		return nil, fmt.Errorf("insert settlement request: %w", err)
	}
	n, err := s.rewards.SetStatusTx(ctx, tx, ids, models.RewardStatusApproved, models.RewardStatusClaimed)
	if err != nil {
		return nil, fmt.Errorf("claim rewards: %w", err)
	}
	if n != int64(len(ids)) {
		return nil, fmt.Errorf("%w: claimed %d of %d rewards", ErrRewardNotClaimable, n, len(ids))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("settlement request created",
		"request_id", req.ID, "user_id", userID, "amount", total, "risk_score", risk.Score, "status", status)
	s.recordRequest(ctx, models.SystemActor, models.AuditSettlementCreated, req, "", map[string]any{"risk_factors": risk.Factors})
	s.recordRewards(ctx, models.SystemActor, models.AuditRewardClaimed, ids, models.RewardStatusApproved, models.RewardStatusClaimed, req.ID)
	return req, nil
}

// Approve moves a QUEUED or ADMIN_REVIEW request to APPROVED.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor, notes string) (*models.SettlementRequest, error) {
	return s.review(ctx, id, actor, notes, models.SettlementApproved, models.AuditSettlementApproved)
}

// Reject moves a QUEUED or ADMIN_REVIEW request to REJECTED and returns its rewards to
// APPROVED in the same transaction.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*models.SettlementRequest, error) {
	return s.review(ctx, id, actor, reason, models.SettlementRejected, models.AuditSettlementRejected)
}

func (s *Service) review(ctx context.Context, id uuid.UUID, actor, notes string, next models.SettlementStatus, action string) (*models.SettlementRequest, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := s.store.GetByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	prev := req.Status
	if req.Status, err = prev.Transition(next); err != nil {
		return nil, err
	}
	now := s.now()
	req.ReviewedBy = &actor
	req.ReviewedAt = &now
	if notes != "" {
		req.ReviewNotes = &notes
	}
	if err := s.store.UpdateTx(ctx, tx, req); err != nil {
		return nil, err
	}
	if next == models.SettlementRejected {
		n, err := s.rewards.SetStatusTx(ctx, tx, req.RewardIDs, models.RewardStatusClaimed, models.RewardStatusApproved)
		if err != nil {
			return nil, fmt.Errorf("revert rewards: %w", err)
		}
		if n != int64(len(req.RewardIDs)) {
			return nil, fmt.Errorf("revert rewards: %d of %d were CLAIMED", n, len(req.RewardIDs))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("settlement request reviewed", "request_id", id, "from", prev, "to", next, "actor", actor)
	s.recordRequest(ctx, actor, action, req, prev, nil)
	if next == models.SettlementRejected {
		s.recordRewards(ctx, actor, models.AuditRewardReverted, req.RewardIDs, models.RewardStatusClaimed, models.RewardStatusApproved, req.ID)
	}
	return req, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.SettlementRequest, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.SettlementRequest, error) {
	return s.store.ListByUser(ctx, userID, 100)
}

// ListPending returns ADMIN_REVIEW, QUEUED and APPROVED requests: review-required first,
// then highest risk, then oldest.
func (s *Service) ListPending(ctx context.Context) ([]*models.SettlementRequest, error) {
	list, err := s.store.ListByStatus(ctx, []models.SettlementStatus{
		models.SettlementAdminReview, models.SettlementQueued, models.SettlementApproved,
	})
	if err != nil {
		return nil, err
	}
	SortPending(list)
	return list, nil
}

// SortPending orders requests for the operator queue.
func SortPending(list []*models.SettlementRequest) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		ar, br := a.Status == models.SettlementAdminReview, b.Status == models.SettlementAdminReview
		if ar != br {
			return ar
		}
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		if !a.RequestedAt.Equal(b.RequestedAt) {
			return a.RequestedAt.Before(b.RequestedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func (s *Service) recordRequest(ctx context.Context, actor, action string, req *models.SettlementRequest, prev models.SettlementStatus, meta any) {
	var before any
	if prev != "" {
		before = map[string]any{"status": prev}
	}
	audit.RecordChange(ctx, s.audit, audit.Change{
		Actor:        actor,
		Action:       action,
		ResourceKind: models.ResourceSettlement,
		ResourceID:   req.ID.String(),
		Before:       before,
		After:        req,
		Metadata:     meta,
	})
}

func (s *Service) recordRewards(ctx context.Context, actor, action string, ids []uuid.UUID, from, to models.RewardStatus, requestID uuid.UUID) {
	for _, id := range ids {
		audit.RecordChange(ctx, s.audit, audit.Change{
			Actor:        actor,
			Action:       action,
			ResourceKind: models.ResourceReward,
			ResourceID:   id.String(),
			Before:       map[string]any{"status": from},
			After:        map[string]any{"status": to},
			Metadata:     map[string]any{"settlement_request_id": requestID},
		})
	}
}
