package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/audit"
	"github.com/inaiurai/rewards/internal/auth"
	"github.com/inaiurai/rewards/internal/middleware"
	"github.com/inaiurai/rewards/internal/models"
	"github.com/inaiurai/rewards/internal/queue"
	"github.com/inaiurai/rewards/internal/rules"
	"github.com/inaiurai/rewards/internal/settlement"
	"github.com/inaiurai/rewards/internal/validation"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockEnqueuer struct {
	calls   int
	kind    models.JobKind
	user    uuid.UUID
	payload models.JobPayload
	prio    int
	err     error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, kind models.JobKind, userID uuid.UUID, p models.JobPayload, priority int) (uuid.UUID, error) {
	m.calls++
	m.kind, m.user, m.payload, m.prio = kind, userID, p, priority
	if m.err != nil {
		return uuid.Nil, m.err
	}
	return uuid.New(), nil
}

type mockSettlements struct {
	requests map[uuid.UUID]*models.SettlementRequest
	err      error
	actor    string
	notes    string
	limit    int
}

func (m *mockSettlements) CreateRequest(_ context.Context, userID uuid.UUID, ids []uuid.UUID, dest string) (*models.SettlementRequest, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.SettlementRequest{ID: uuid.New(), UserID: userID, RewardIDs: ids, DestinationAddress: dest, Status: models.SettlementQueued}, nil
}

func (m *mockSettlements) Get(_ context.Context, id uuid.UUID) (*models.SettlementRequest, error) {
	if r, ok := m.requests[id]; ok {
		return r, nil
	}
	return nil, settlement.ErrNotFound
}

func (m *mockSettlements) ListByUser(context.Context, uuid.UUID) ([]*models.SettlementRequest, error) {
	return nil, nil
}

func (m *mockSettlements) ListPending(context.Context) ([]*models.SettlementRequest, error) {
	return nil, m.err
}

func (m *mockSettlements) transition(id uuid.UUID, actor, notes string, to models.SettlementStatus) (*models.SettlementRequest, error) {
	m.actor, m.notes = actor, notes
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.requests[id]
	if !ok {
		return nil, settlement.ErrNotFound
	}
	next, err := r.Status.Transition(to)
	if err != nil {
		return nil, err
	}
	r.Status = next
	return r, nil
}

func (m *mockSettlements) Approve(_ context.Context, id uuid.UUID, actor, notes string) (*models.SettlementRequest, error) {
	return m.transition(id, actor, notes, models.SettlementApproved)
}

func (m *mockSettlements) Reject(_ context.Context, id uuid.UUID, actor, notes string) (*models.SettlementRequest, error) {
	return m.transition(id, actor, notes, models.SettlementRejected)
}

func (m *mockSettlements) ClaimForSettlement(_ context.Context, actor string, limit int) ([]settlement.HandoffRecord, error) {
	m.actor, m.limit = actor, limit
	return []settlement.HandoffRecord{}, nil
}

func (m *mockSettlements) ReportSettled(_ context.Context, id uuid.UUID, actor, ref string) (*models.SettlementRequest, error) {
	return m.transition(id, actor, ref, models.SettlementCompleted)
}

func (m *mockSettlements) ReportFailed(_ context.Context, id uuid.UUID, actor, reason string) (*models.SettlementRequest, error) {
	return m.transition(id, actor, reason, models.SettlementFailed)
}

type mockRules struct {
	created *models.RewardRule
	err     error
	listed  []*bool
}

func (m *mockRules) Create(_ context.Context, _ string, rule *models.RewardRule) (*models.RewardRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	rule.ID = uuid.New()
	m.created = rule
	return rule, nil
}

func (m *mockRules) Update(_ context.Context, _ string, id uuid.UUID, rule *models.RewardRule) (*models.RewardRule, error) {
	return nil, rules.ErrRuleNotFound
}

func (m *mockRules) Get(context.Context, uuid.UUID) (*models.RewardRule, error) {
	return nil, rules.ErrRuleNotFound
}

func (m *mockRules) List(_ context.Context, active *bool) ([]*models.RewardRule, error) {
	m.listed = append(m.listed, active)
	return nil, nil
}

type mockJobs struct{}

func (mockJobs) Health(context.Context) (*queue.Health, error) {
	return &queue.Health{Counts: map[models.JobStatus]int{models.JobStatusFailed: 2}}, nil
}
func (mockJobs) ListFailed(context.Context, int, int) ([]*models.RewardJob, error) { return nil, nil }
func (mockJobs) Retry(context.Context, string, uuid.UUID) (*models.RewardJob, error) {
	return nil, queue.ErrJobNotFound
}
func (mockJobs) Dismiss(_ context.Context, _ string, id uuid.UUID) (*models.RewardJob, error) {
	now := time.Now()
	return &models.RewardJob{ID: id, Status: models.JobStatusFailed, DismissedAt: &now}, nil
}

type mockAudit struct{ got audit.Filter }

func (m *mockAudit) Query(_ context.Context, f audit.Filter) ([]*models.AuditEntry, error) {
	m.got = f
	return nil, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testValidator(t *testing.T) *validation.Validator {
	t.Helper()
	v, err := validation.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func request(method, target, body string, p *auth.Principal) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if p != nil {
		req = req.WithContext(middleware.WithPrincipal(req.Context(), *p))
	}
	return req
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

const goodAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

// ---------------------------------------------------------------------------
// Intake
// ---------------------------------------------------------------------------

func TestIntake_Enqueue(t *testing.T) {
	jobs := &mockEnqueuer{}
	h := &IntakeHandler{Jobs: jobs, Validator: testValidator(t), Logger: quiet}
	user := uuid.New()

	body := fmt.Sprintf(`{"user_id": %q, "event_id": "streak-2026-10-18", "kind": "STREAK", "streak_days": 7}`, user)
	rec := serve(h.Enqueue, request(http.MethodPost, "/v1/reward-jobs", body, nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if _, err := uuid.Parse(resp["job_id"]); err != nil || resp["status"] != "PENDING" {
		t.Errorf("response = %v", resp)
	}
	if jobs.kind != models.JobKindStreak || jobs.user != user || jobs.payload.StreakDays != 7 || jobs.payload.EventID != "streak-2026-10-18" || jobs.prio != 0 {
		t.Errorf("enqueued %s %s %+v prio %d", jobs.kind, jobs.user, jobs.payload, jobs.prio)
	}
}

func TestIntake_RejectsWithoutCreatingJob(t *testing.T) {
	user := uuid.New()
	tests := []struct {
		name string
		body string
		err  error
	}{
		{"not JSON", `{`, nil},
		{"missing event id", fmt.Sprintf(`{"user_id": %q, "kind": "ACTIVITY"}`, user), nil},
		{"unknown kind", fmt.Sprintf(`{"user_id": %q, "event_id": "e", "kind": "BONUS"}`, user), nil},
		{"priority out of range", fmt.Sprintf(`{"user_id": %q, "event_id": "e", "kind": "ACTIVITY", "priority": 9}`, user), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			jobs := &mockEnqueuer{}
			h := &IntakeHandler{Jobs: jobs, Validator: testValidator(t), Logger: quiet}
			rec := serve(h.Enqueue, request(http.MethodPost, "/v1/reward-jobs", tc.body, nil))
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("expected 422, got %d", rec.Code)
			}
			if jobs.calls != 0 {
				t.Errorf("job created for invalid event")
			}
		})
	}
}

func TestIntake_ServiceValidationError(t *testing.T) {
	jobs := &mockEnqueuer{err: fmt.Errorf("%w: user_id is required", queue.ErrValidation)}
	h := &IntakeHandler{Jobs: jobs, Validator: testValidator(t), Logger: quiet}
	body := fmt.Sprintf(`{"user_id": %q, "event_id": "e", "kind": "ACTIVITY"}`, uuid.Nil)
	if rec := serve(h.Enqueue, request(http.MethodPost, "/", body, nil)); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// User
// ---------------------------------------------------------------------------

func TestUser_CreateSettlement(t *testing.T) {
	p := &auth.Principal{ID: uuid.New(), Role: auth.RoleUser}
	reward := uuid.New()
	body := fmt.Sprintf(`{"reward_ids": [%q], "destination_address": %q}`, reward, goodAddr)

	t.Run("created", func(t *testing.T) {
		h := &UserHandler{Settlements: &mockSettlements{}, Validator: testValidator(t), Logger: quiet}
		rec := serve(h.CreateSettlement, request(http.MethodPost, "/v1/settlements", body, p))
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var got models.SettlementRequest
		json.NewDecoder(rec.Body).Decode(&got)
		if got.UserID != p.ID || len(got.RewardIDs) != 1 || got.RewardIDs[0] != reward {
			t.Errorf("request = %+v", got)
		}
	})

	t.Run("reward not claimable", func(t *testing.T) {
		h := &UserHandler{Settlements: &mockSettlements{err: settlement.ErrRewardNotClaimable}, Validator: testValidator(t), Logger: quiet}
		rec := serve(h.CreateSettlement, request(http.MethodPost, "/v1/settlements", body, p))
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("bad checksum", func(t *testing.T) {
		h := &UserHandler{Settlements: &mockSettlements{err: settlement.ErrInvalidAddress}, Validator: testValidator(t), Logger: quiet}
		rec := serve(h.CreateSettlement, request(http.MethodPost, "/v1/settlements", body, p))
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		h := &UserHandler{Settlements: &mockSettlements{}, Validator: testValidator(t), Logger: quiet}
		if rec := serve(h.CreateSettlement, request(http.MethodPost, "/v1/settlements", body, nil)); rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestUser_GetSettlementOwnership(t *testing.T) {
	owner := auth.Principal{ID: uuid.New(), Role: auth.RoleUser}
	other := auth.Principal{ID: uuid.New(), Role: auth.RoleUser}
	admin := auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
	req := &models.SettlementRequest{ID: uuid.New(), UserID: owner.ID, Status: models.SettlementQueued}
	h := &UserHandler{Settlements: &mockSettlements{requests: map[uuid.UUID]*models.SettlementRequest{req.ID: req}}, Logger: quiet}

	tests := []struct {
		name string
		p    auth.Principal
		id   string
		want int
	}{
		{"owner", owner, req.ID.String(), http.StatusOK},
		{"admin", admin, req.ID.String(), http.StatusOK},
		{"other user", other, req.ID.String(), http.StatusNotFound},
		{"missing", owner, uuid.NewString(), http.StatusNotFound},
		{"bad id", owner, "nope", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := request(http.MethodGet, "/v1/settlements/"+tc.id, "", &tc.p)
			r.SetPathValue("id", tc.id)
			if rec := serve(h.GetSettlement, r); rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Executor
// ---------------------------------------------------------------------------

func TestExecutor_Reports(t *testing.T) {
	p := &auth.Principal{ID: uuid.New(), Role: auth.RoleExecutor}
	minting := &models.SettlementRequest{ID: uuid.New(), Status: models.SettlementMinting}
	queued := &models.SettlementRequest{ID: uuid.New(), Status: models.SettlementQueued}
	svc := &mockSettlements{requests: map[uuid.UUID]*models.SettlementRequest{minting.ID: minting, queued.ID: queued}}
	h := &ExecutorHandler{Settlements: svc, Validator: testValidator(t), Logger: quiet}

	call := func(fn http.HandlerFunc, id uuid.UUID, body string) *httptest.ResponseRecorder {
		r := request(http.MethodPost, "/v1/handoff/"+id.String(), body, p)
		r.SetPathValue("id", id.String())
		return serve(fn, r)
	}

	if rec := call(h.Settled, queued.ID, `{"confirmation_ref": "0xabc"}`); rec.Code != http.StatusConflict {
		t.Errorf("settle QUEUED: expected 409, got %d", rec.Code)
	}
	if rec := call(h.Settled, minting.ID, `{}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing confirmation_ref: expected 422, got %d", rec.Code)
	}
	if rec := call(h.Failed, uuid.New(), `{"reason": "x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown request: expected 404, got %d", rec.Code)
	}
	rec := call(h.Settled, minting.ID, `{"confirmation_ref": "0xabc"}`)
	if rec.Code != http.StatusOK || minting.Status != models.SettlementCompleted {
		t.Fatalf("settle: %d status %s", rec.Code, minting.Status)
	}
	if svc.actor != p.Actor() || svc.notes != "0xabc" {
		t.Errorf("actor/ref = %q/%q", svc.actor, svc.notes)
	}
}

func TestExecutor_Claim(t *testing.T) {
	p := &auth.Principal{ID: uuid.New(), Role: auth.RoleExecutor}
	svc := &mockSettlements{}
	h := &ExecutorHandler{Settlements: svc, Logger: quiet}

	rec := serve(h.Claim, request(http.MethodPost, "/v1/handoff/claim?limit=5", "", p))
	if rec.Code != http.StatusOK || svc.limit != 5 {
		t.Fatalf("claim: %d limit %d", rec.Code, svc.limit)
	}
	var resp struct {
		Version string            `json:"version"`
		Records []json.RawMessage `json:"records"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Version != settlement.HandoffVersion || resp.Records == nil {
		t.Errorf("response = %+v", resp)
	}
	if rec := serve(h.Claim, request(http.MethodPost, "/v1/handoff/claim?limit=x", "", p)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestAdmin_ReviewSettlement(t *testing.T) {
	p := &auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
	review := &models.SettlementRequest{ID: uuid.New(), Status: models.SettlementAdminReview}
	rejected := &models.SettlementRequest{ID: uuid.New(), Status: models.SettlementRejected}
	svc := &mockSettlements{requests: map[uuid.UUID]*models.SettlementRequest{review.ID: review, rejected.ID: rejected}}
	h := &AdminHandler{Settlements: svc, Validator: testValidator(t), Logger: quiet}

	call := func(fn http.HandlerFunc, id uuid.UUID, body string) int {
		r := request(http.MethodPost, "/", body, p)
		r.SetPathValue("id", id.String())
		return serve(fn, r).Code
	}

	if code := call(h.ApproveSettlement, rejected.ID, ""); code != http.StatusConflict {
		t.Errorf("approve REJECTED: expected 409, got %d", code)
	}
	if code := call(h.RejectSettlement, review.ID, `{"notes": "destination flagged"}`); code != http.StatusOK {
		t.Fatalf("reject: got %d", code)
	}
	if review.Status != models.SettlementRejected || svc.notes != "destination flagged" || svc.actor != p.Actor() {
		t.Errorf("status %s notes %q actor %q", review.Status, svc.notes, svc.actor)
	}
	if code := call(h.RejectSettlement, review.ID, `{"notes": 5}`); code != http.StatusUnprocessableEntity {
		t.Errorf("bad notes: expected 422, got %d", code)
	}
}

func TestAdmin_CreateRule(t *testing.T) {
	p := &auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
	rs := &mockRules{}
	h := &AdminHandler{Rules: rs, Validator: testValidator(t), Logger: quiet}

	body := `{"name": "Workout", "base_amount": 10, "conditions": {"event_types": ["workout"]}, "multipliers": [{"predicate": "weekend", "factor": 1.5}]}`
	rec := serve(h.CreateRule, request(http.MethodPost, "/api/v1/admin/rules", body, p))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !rs.created.Active || rs.created.BaseAmount != 10 || len(rs.created.Conditions.EventTypes) != 1 {
		t.Errorf("created = %+v", rs.created)
	}

	rs.err = fmt.Errorf("%w: valid_to before valid_from", rules.ErrInvalidRule)
	if rec := serve(h.CreateRule, request(http.MethodPost, "/", body, p)); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid rule: expected 422, got %d", rec.Code)
	}
}

func TestAdmin_ListRulesActiveFilter(t *testing.T) {
	p := &auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
	rs := &mockRules{}
	h := &AdminHandler{Rules: rs, Logger: quiet}

	for _, q := range []string{"", "?active=true", "?active=false"} {
		if rec := serve(h.ListRules, request(http.MethodGet, "/api/v1/admin/rules"+q, "", p)); rec.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", q, rec.Code)
		}
	}
	if len(rs.listed) != 3 || rs.listed[0] != nil || rs.listed[1] == nil || !*rs.listed[1] || rs.listed[2] == nil || *rs.listed[2] {
		t.Errorf("filters passed = %v", rs.listed)
	}

	if rec := serve(h.ListRules, request(http.MethodGet, "/api/v1/admin/rules?active=maybe", "", p)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad flag: expected 400, got %d", rec.Code)
	}
}

func TestAdmin_NotFound(t *testing.T) {
	p := &auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
	h := &AdminHandler{Rules: &mockRules{}, Jobs: mockJobs{}, Logger: quiet}
	id := uuid.NewString()

	r := request(http.MethodGet, "/", "", p)
	r.SetPathValue("id", id)
	if rec := serve(h.GetRule, r); rec.Code != http.StatusNotFound {
		t.Errorf("get rule: expected 404, got %d", rec.Code)
	}
	r = request(http.MethodPost, "/", "", p)
	r.SetPathValue("id", id)
	if rec := serve(h.RetryJob, r); rec.Code != http.StatusNotFound {
		t.Errorf("retry job: expected 404, got %d", rec.Code)
	}
	r = request(http.MethodPost, "/", "", p)
	r.SetPathValue("id", id)
	if rec := serve(h.DismissJob, r); rec.Code != http.StatusOK {
		t.Errorf("dismiss job: expected 200, got %d", rec.Code)
	}
}

func TestAdmin_QueryAudit(t *testing.T) {
	a := &mockAudit{}
	h := &AdminHandler{Audit: a, Logger: quiet}

	rec := serve(h.QueryAudit, request(http.MethodGet,
		"/api/v1/admin/audit?resource_kind=settlement_request&action=settlement.rejected&from=2026-10-01T00:00:00Z&limit=10&offset=20", "", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if a.got.ResourceKind != "settlement_request" || a.got.Action != "settlement.rejected" ||
		a.got.From == nil || a.got.From.Day() != 1 || a.got.To != nil || a.got.Limit != 10 || a.got.Offset != 20 {
		t.Errorf("filter = %+v", a.got)
	}
	if rec := serve(h.QueryAudit, request(http.MethodGet, "/?from=yesterday", "", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad from: expected 400, got %d", rec.Code)
	}
}

func TestWriteError_Unknown(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, quiet, "op", fmt.Errorf("boom"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "boom") {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}
