package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/models"
	"github.com/inaiurai/rewards/internal/settlement"
	"github.com/inaiurai/rewards/internal/validation"
)

type ExecutorSettlements interface {
	ClaimForSettlement(ctx context.Context, actor string, limit int) ([]settlement.HandoffRecord, error)
	ReportSettled(ctx context.Context, id uuid.UUID, actor, confirmationRef string) (*models.SettlementRequest, error)
	ReportFailed(ctx context.Context, id uuid.UUID, actor, reason string) (*models.SettlementRequest, error)
}

// ExecutorHandler serves the external settlement executor: it claims APPROVED requests and
// reports their outcome.
type ExecutorHandler struct {
	Settlements ExecutorSettlements
	Validator   *validation.Validator
	Logger      *slog.Logger
}

// Claim handles POST /v1/handoff/claim?limit=.
func (h *ExecutorHandler) Claim(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil || limit < 0 {
		writeErrorMsg(w, http.StatusBadRequest, "invalid limit")
		return
	}
	records, err := h.Settlements.ClaimForSettlement(r.Context(), p.Actor(), limit)
	if err != nil {
		writeError(w, h.Logger, "claim settlement requests", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": settlement.HandoffVersion, "records": records})
}

// Settled handles POST /v1/handoff/{id}/settled.
func (h *ExecutorHandler) Settled(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req struct {
		ConfirmationRef string `json:"confirmation_ref"`
	}
	if err := h.Validator.Decode(validation.SchemaSettlementSettled, body, &req); err != nil {
		writeError(w, h.Logger, "decode settled report", err)
		return
	}
	done, err := h.Settlements.ReportSettled(r.Context(), id, p.Actor(), req.ConfirmationRef)
	if err != nil {
		writeError(w, h.Logger, "report settled", err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

// Failed handles POST /v1/handoff/{id}/failed.
func (h *ExecutorHandler) Failed(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := h.Validator.Decode(validation.SchemaSettlementFailed, body, &req); err != nil {
		writeError(w, h.Logger, "decode failed report", err)
		return
	}
	failed, err := h.Settlements.ReportFailed(r.Context(), id, p.Actor(), req.Reason)
	if err != nil {
		writeError(w, h.Logger, "report failed", err)
		return
	}
	writeJSON(w, http.StatusOK, failed)
}
