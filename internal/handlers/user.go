package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/auth"
	"github.com/inaiurai/rewards/internal/models"
	"github.com/inaiurai/rewards/internal/validation"
)

type RewardLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID, status *models.RewardStatus, limit int) ([]*models.Reward, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int64, []*models.LedgerEntry, error)
}

type UserSettlements interface {
	CreateRequest(ctx context.Context, userID uuid.UUID, rewardIDs []uuid.UUID, destination string) (*models.SettlementRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SettlementRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.SettlementRequest, error)
}

// UserHandler serves the caller's own rewards, balance and settlement requests.
type UserHandler struct {
	Rewards     RewardLister
	Ledger      BalanceReader
	Settlements UserSettlements
	Validator   *validation.Validator
	Logger      *slog.Logger
}

// ListRewards handles GET /v1/rewards?status=.
func (h *UserHandler) ListRewards(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var status *models.RewardStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := models.RewardStatus(s)
		status = &st
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid limit")
		return
	}
	list, err := h.Rewards.ListByUser(r.Context(), p.ID, status, limit)
	if err != nil {
		writeError(w, h.Logger, "list rewards", err)
		return
	}
	if list == nil {
		list = []*models.Reward{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewards": list})
}

// Balance handles GET /v1/balance.
func (h *UserHandler) Balance(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	balance, entries, err := h.Ledger.Balance(r.Context(), p.ID)
	if err != nil {
		writeError(w, h.Logger, "read balance", err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_balance": balance, "entries": entries})
}

type createSettlementRequest struct {
	RewardIDs          []uuid.UUID `json:"reward_ids"`
	DestinationAddress string      `json:"destination_address"`
}

// CreateSettlement handles POST /v1/settlements.
func (h *UserHandler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req createSettlementRequest
	if err := h.Validator.Decode(validation.SchemaSettlementRequest, body, &req); err != nil {
		writeError(w, h.Logger, "decode settlement request", err)
		return
	}
	created, err := h.Settlements.CreateRequest(r.Context(), p.ID, req.RewardIDs, req.DestinationAddress)
	if err != nil {
		writeError(w, h.Logger, "create settlement request", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListSettlements handles GET /v1/settlements.
func (h *UserHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	list, err := h.Settlements.ListByUser(r.Context(), p.ID)
	if err != nil {
		writeError(w, h.Logger, "list settlement requests", err)
		return
	}
	if list == nil {
		list = []*models.SettlementRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": list})
}

// GetSettlement handles GET /v1/settlements/{id}. Users see only their own requests.
func (h *UserHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := h.Settlements.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, "get settlement request", err)
		return
	}
	if p.Role != auth.RoleAdmin && req.UserID != p.ID {
		// Same response as a missing request.
		writeErrorMsg(w, http.StatusNotFound, "settlement request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}
