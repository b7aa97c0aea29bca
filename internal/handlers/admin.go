package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/audit"
	"github.com/inaiurai/rewards/internal/models"
	"github.com/inaiurai/rewards/internal/queue"
	"github.com/inaiurai/rewards/internal/validation"
)

type RuleService interface {
	Create(ctx context.Context, actor string, rule *models.RewardRule) (*models.RewardRule, error)
	Update(ctx context.Context, actor string, id uuid.UUID, rule *models.RewardRule) (*models.RewardRule, error)
	Get(ctx context.Context, id uuid.UUID) (*models.RewardRule, error)
	List(ctx context.Context, active *bool) ([]*models.RewardRule, error)
}

type AdminSettlements interface {
	ListPending(ctx context.Context) ([]*models.SettlementRequest, error)
	Approve(ctx context.Context, id uuid.UUID, actor, notes string) (*models.SettlementRequest, error)
	Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*models.SettlementRequest, error)
}

type JobAdmin interface {
	Health(ctx context.Context) (*queue.Health, error)
	ListFailed(ctx context.Context, limit, offset int) ([]*models.RewardJob, error)
	Retry(ctx context.Context, actor string, id uuid.UUID) (*models.RewardJob, error)
	Dismiss(ctx context.Context, actor string, id uuid.UUID) (*models.RewardJob, error)
}

type AuditQuerier interface {
	Query(ctx context.Context, f audit.Filter) ([]*models.AuditEntry, error)
}

// AdminHandler serves /api/v1/admin.
type AdminHandler struct {
	Rules       RuleService
	Settlements AdminSettlements
	Jobs        JobAdmin
	Audit       AuditQuerier
	Validator   *validation.Validator
	Logger      *slog.Logger
}

// --- rules ---

// ruleRequest mirrors the reward_rule schema. Active defaults to true.
type ruleRequest struct {
	Name        string                  `json:"name"`
	Active      *bool                   `json:"active"`
	Priority    int                     `json:"priority"`
	Conditions  models.RuleConditions   `json:"conditions"`
	BaseAmount  int64                   `json:"base_amount"`
	Multipliers []models.MultiplierRule `json:"multipliers"`
	DailyCap    *int64                  `json:"daily_cap"`
	UserCap     *int64                  `json:"user_cap"`
	ValidFrom   *time.Time              `json:"valid_from"`
	ValidTo     *time.Time              `json:"valid_to"`
}

func (rr ruleRequest) rule() *models.RewardRule {
	active := true
	if rr.Active != nil {
		active = *rr.Active
	}
	return &models.RewardRule{
		Name:        rr.Name,
		Active:      active,
		Priority:    rr.Priority,
		Conditions:  rr.Conditions,
		BaseAmount:  rr.BaseAmount,
		Multipliers: rr.Multipliers,
		DailyCap:    rr.DailyCap,
		UserCap:     rr.UserCap,
		ValidFrom:   rr.ValidFrom,
		ValidTo:     rr.ValidTo,
	}
}

func (h *AdminHandler) decodeRule(w http.ResponseWriter, r *http.Request) (*models.RewardRule, bool) {
	body, ok := readBody(w, r)
	if !ok {
		return nil, false
	}
	var req ruleRequest
	if err := h.Validator.Decode(validation.SchemaRewardRule, body, &req); err != nil {
		writeError(w, h.Logger, "decode rule", err)
		return nil, false
	}
	return req.rule(), true
}

// ListRules handles GET /api/v1/admin/rules?active=. Without the parameter every rule is listed.
func (h *AdminHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	var active *bool
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		active = &b
	}
	list, err := h.Rules.List(r.Context(), active)
	if err != nil {
		writeError(w, h.Logger, "list rules", err)
		return
	}
	if list == nil {
		list = []*models.RewardRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": list})
}

// CreateRule handles POST /api/v1/admin/rules.
func (h *AdminHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	created, err := h.Rules.Create(r.Context(), p.Actor(), rule)
	if err != nil {
		writeError(w, h.Logger, "create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetRule handles GET /api/v1/admin/rules/{id}.
func (h *AdminHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.Rules.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, "get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PUT /api/v1/admin/rules/{id}.
func (h *AdminHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	updated, err := h.Rules.Update(r.Context(), p.Actor(), id, rule)
	if err != nil {
		writeError(w, h.Logger, "update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- settlements ---

// PendingSettlements handles GET /api/v1/admin/settlements/pending.
func (h *AdminHandler) PendingSettlements(w http.ResponseWriter, r *http.Request) {
	list, err := h.Settlements.ListPending(r.Context())
	if err != nil {
		writeError(w, h.Logger, "list pending settlements", err)
		return
	}
	if list == nil {
		list = []*models.SettlementRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": list})
}

// ApproveSettlement handles POST /api/v1/admin/settlements/{id}/approve.
func (h *AdminHandler) ApproveSettlement(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Settlements.Approve)
}

// RejectSettlement handles POST /api/v1/admin/settlements/{id}/reject.
func (h *AdminHandler) RejectSettlement(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Settlements.Reject)
}

type reviewFunc func(ctx context.Context, id uuid.UUID, actor, notes string) (*models.SettlementRequest, error)

func (h *AdminHandler) review(w http.ResponseWriter, r *http.Request, fn reviewFunc) {
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
		Notes string `json:"notes"`
	}
	if len(body) > 0 {
		if err := h.Validator.Decode(validation.SchemaSettlementReview, body, &req); err != nil {
			writeError(w, h.Logger, "decode review", err)
			return
		}
	}
	out, err := fn(r.Context(), id, p.Actor(), req.Notes)
	if err != nil {
		writeError(w, h.Logger, "review settlement request", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- jobs ---

// JobHealth handles GET /api/v1/admin/jobs/health.
func (h *AdminHandler) JobHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.Jobs.Health(r.Context())
	if err != nil {
		writeError(w, h.Logger, "job health", err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// FailedJobs handles GET /api/v1/admin/jobs/failed?limit=&offset=.
func (h *AdminHandler) FailedJobs(w http.ResponseWriter, r *http.Request) {
	limit, err1 := queryInt(r, "limit")
	offset, err2 := queryInt(r, "offset")
	if err1 != nil || err2 != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid pagination")
		return
	}
	list, err := h.Jobs.ListFailed(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.Logger, "list failed jobs", err)
		return
	}
	if list == nil {
		list = []*models.RewardJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// RetryJob handles POST /api/v1/admin/jobs/{id}/retry.
func (h *AdminHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, "retry job", h.Jobs.Retry)
}

// DismissJob handles POST /api/v1/admin/jobs/{id}/dismiss.
func (h *AdminHandler) DismissJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, "dismiss job", h.Jobs.Dismiss)
}

func (h *AdminHandler) jobAction(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string, uuid.UUID) (*models.RewardJob, error)) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := fn(r.Context(), p.Actor(), id)
	if err != nil {
		writeError(w, h.Logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// --- audit ---

// QueryAudit handles GET /api/v1/admin/audit.
func (h *AdminHandler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		ResourceKind: q.Get("resource_kind"),
		ResourceID:   q.Get("resource_id"),
		Action:       q.Get("action"),
		Actor:        q.Get("actor"),
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "invalid "+name+": want RFC 3339")
			return
		}
		*dst = &t
	}
	var err1, err2 error
	f.Limit, err1 = queryInt(r, "limit")
	f.Offset, err2 = queryInt(r, "offset")
	if err1 != nil || err2 != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid pagination")
		return
	}
	entries, err := h.Audit.Query(r.Context(), f)
	if err != nil {
		writeError(w, h.Logger, "query audit log", err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
