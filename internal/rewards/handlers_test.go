package rewards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/rewards/internal/capping"
	"github.com/inaiurai/rewards/internal/models"
	"github.com/inaiurai/rewards/internal/queue"
	"github.com/inaiurai/rewards/internal/repository"
	"github.com/inaiurai/rewards/internal/rules"
	"github.com/inaiurai/rewards/internal/testutil"
)

// ---------------------------------------------------------------------------
// In-memory collaborators
// ---------------------------------------------------------------------------

// memRewards backs both the handler's RewardStore and the capping EarningsReader.
type memRewards struct {
	mu         sync.Mutex
	rows       []*models.Reward
	failCreate int
}

func (m *memRewards) FindBySourceTx(_ context.Context, _ pgx.Tx, src string, typ models.RewardType) (*models.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.SourceEventID != nil && *r.SourceEventID == src && r.Type == typ {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRewards) CreateTx(_ context.Context, _ pgx.Tx, rw *models.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate > 0 {
		m.failCreate--
		return errors.New("connection reset by peer")
	}
	rw.EarnedAt = time.Now()
	cp := *rw
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memRewards) EarnedTotalsTx(_ context.Context, _ pgx.Tx, userID uuid.UUID, dayStart time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var today, lifetime int64
	for _, r := range m.rows {
		if r.UserID != userID {
			continue
		}
		lifetime += r.Amount
		if !r.EarnedAt.Before(dayStart) {
			today += r.Amount
		}
	}
	return today, lifetime, nil
}

func (m *memRewards) forUser(userID uuid.UUID) []*models.Reward {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Reward
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

type memActivities struct {
	byID map[uuid.UUID]*models.ActivityEvent
}

func (m *memActivities) GetByIDTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.ActivityEvent, error) {
	a, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrActivityNotFound
	}
	return a, nil
}

func (m *memActivities) CountEarlierTodayTx(_ context.Context, _ pgx.Tx, userID uuid.UUID, dayStart, before time.Time) (int, error) {
	n := 0
	for _, a := range m.byID {
		if a.UserID == userID && !a.CompletedAt.Before(dayStart) && a.CompletedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

type staticRules []*models.RewardRule

func (s staticRules) List(context.Context, *bool) ([]*models.RewardRule, error) { return s, nil }

type mockLedger struct {
	mu       sync.Mutex
	credited map[uuid.UUID]int64
}

func (m *mockLedger) CreditRewardTx(_ context.Context, _ pgx.Tx, accountID, _ uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credited == nil {
		m.credited = map[uuid.UUID]int64{}
	}
	m.credited[accountID] += amount
	return nil
}

func (m *mockLedger) DebitSettlementTx(context.Context, pgx.Tx, uuid.UUID, uuid.UUID, int64) error {
	return nil
}

func (m *mockLedger) Balance(context.Context, uuid.UUID) (int64, []*models.LedgerEntry, error) {
	return 0, nil, nil
}

func (m *mockLedger) balance(id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credited[id]
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	h          *Handlers
	rewards    *memRewards
	activities *memActivities
	ledger     *mockLedger
	user       uuid.UUID
}

func newFixture(ruleSet ...*models.RewardRule) *fixture {
	f := &fixture{
		rewards:    &memRewards{},
		activities: &memActivities{byID: map[uuid.UUID]*models.ActivityEvent{}},
		ledger:     &mockLedger{},
		user:       uuid.New(),
	}
	f.h = NewHandlers(Deps{
		Engine:     rules.NewEngine(rules.Options{}),
		Rules:      staticRules(ruleSet),
		Capping:    capping.NewAuthority(&testutil.NoopPool{}, f.rewards, time.UTC),
		Rewards:    f.rewards,
		Activities: f.activities,
		Ledger:     f.ledger,
		Milestones: map[string]Milestone{"first_10": {Amount: 100, Reason: "ten activities logged"}},
	})
	return f
}

// addWorkout stores a 45-minute intensity-7 workout completed today and returns its job.
func (f *fixture) addWorkout() *models.RewardJob {
	ev := &models.ActivityEvent{
		ID: uuid.New(), UserID: f.user, Type: "workout", Category: "strength",
		DurationMinutes: 45, Intensity: 7, CompletedAt: time.Now(),
	}
	f.activities.byID[ev.ID] = ev
	return &models.RewardJob{ID: uuid.New(), UserID: f.user, Kind: models.JobKindActivity,
		Payload: models.JobPayload{EventID: ev.ID.String()}}
}

func workoutRule(dailyCap *int64) *models.RewardRule {
	return &models.RewardRule{
		ID: uuid.New(), Name: "workout-base", Active: true, Priority: 10, BaseAmount: 10,
		Conditions: models.RuleConditions{EventTypes: []string{"workout"}},
		DailyCap:   dailyCap,
	}
}

func i64(v int64) *int64 { return &v }

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestActivity_CreatesApprovedRewardAndCredits(t *testing.T) {
	f := newFixture(workoutRule(nil))
	res, err := f.h.Activity(context.Background(), f.addWorkout())
	if err != nil {
		t.Fatal(err)
	}
	if res.Amount != 21 || res.RewardID == nil || res.Duplicate {
		t.Fatalf("result = %+v", res)
	}
	got := f.rewards.forUser(f.user)
	if len(got) != 1 || got[0].Amount != 21 || got[0].Status != models.RewardStatusApproved || got[0].Type != models.RewardTypeActivity {
		t.Fatalf("persisted rewards = %+v", got)
	}
	if f.ledger.balance(f.user) != 21 {
		t.Errorf("balance credited = %d, want 21", f.ledger.balance(f.user))
	}
}

func TestActivity_NoMatchingRuleCompletesWithZero(t *testing.T) {
	yoga := workoutRule(nil)
	yoga.Conditions.EventTypes = []string{"yoga"}
	f := newFixture(yoga)

	res, err := f.h.Activity(context.Background(), f.addWorkout())
	if err != nil {
		t.Fatal(err)
	}
	if res.Amount != 0 || res.RewardID != nil {
		t.Errorf("result = %+v, want zero amount and no reward", res)
	}
	if len(f.rewards.forUser(f.user)) != 0 || f.ledger.balance(f.user) != 0 {
		t.Error("no reward and no credit expected")
	}
}

func TestActivity_RedeliveryDoesNotDuplicate(t *testing.T) {
	f := newFixture(workoutRule(nil))
	job := f.addWorkout()
	ctx := context.Background()

	first, err := f.h.Activity(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.h.Activity(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate || *second.RewardID != *first.RewardID || second.Amount != first.Amount {
		t.Errorf("second run = %+v, want duplicate of %+v", second, first)
	}
	if n := len(f.rewards.forUser(f.user)); n != 1 {
		t.Errorf("rewards = %d, want 1", n)
	}
	if f.ledger.balance(f.user) != 21 {
		t.Errorf("balance = %d, want 21 (credited once)", f.ledger.balance(f.user))
	}
}

// A transient failure followed by the queue's retry yields exactly one reward.
func TestActivity_TransientFailureRetriedThroughQueue(t *testing.T) {
	f := newFixture(workoutRule(nil))
	f.rewards.failCreate = 1
	job := f.addWorkout()
	job.Status = models.JobStatusPending

	jobs := &singleJobStore{job: job}
	p := queue.NewProcessor(jobs, f.h.ByKind(), nil, time.Minute, nil)
	ctx := context.Background()

	if err := p.Process(ctx, job.ID, 1, 3); err == nil || errors.Is(err, queue.ErrPermanent) {
		t.Fatalf("first attempt: want retryable error, got %v", err)
	}
	if err := p.Process(ctx, job.ID, 2, 3); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	// A stray extra delivery after completion is ignored.
	if err := p.Process(ctx, job.ID, 3, 3); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if jobs.job.Status != models.JobStatusCompleted {
		t.Errorf("job status = %s", jobs.job.Status)
	}
	if n := len(f.rewards.forUser(f.user)); n != 1 {
		t.Errorf("rewards = %d, want 1", n)
	}
}

func TestActivity_DailyCapTrimsSecondAward(t *testing.T) {
	f := newFixture(workoutRule(i64(30)))
	ctx := context.Background()

	a, err := f.h.Activity(ctx, f.addWorkout())
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.h.Activity(ctx, f.addWorkout())
	if err != nil {
		t.Fatal(err)
	}
	c, err := f.h.Activity(ctx, f.addWorkout())
	if err != nil {
		t.Fatal(err)
	}
	if a.Amount != 21 || b.Amount != 9 || b.Uncapped != 21 || c.Amount != 0 || c.RewardID != nil {
		t.Errorf("amounts = %d/%d/%d (b uncapped %d), want 21/9/0", a.Amount, b.Amount, c.Amount, b.Uncapped)
	}
}

func TestActivity_ConcurrentJobsRespectDailyCap(t *testing.T) {
	const dailyCap = 100
	f := newFixture(workoutRule(i64(dailyCap)))
	jobs := make([]*models.RewardJob, 12) // 12 x 21 = 252 uncapped
	for i := range jobs {
		jobs[i] = f.addWorkout()
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *models.RewardJob) {
			defer wg.Done()
			if _, err := f.h.Activity(context.Background(), j); err != nil {
				t.Error(err)
			}
		}(j)
	}
	wg.Wait()

	var total int64
	for _, r := range f.rewards.forUser(f.user) {
		total += r.Amount
	}
	if total != dailyCap {
		t.Errorf("persisted total = %d, want %d", total, dailyCap)
	}
}

func TestActivity_PermanentErrors(t *testing.T) {
	f := newFixture(workoutRule(nil))
	ctx := context.Background()

	missing := &models.RewardJob{ID: uuid.New(), UserID: f.user, Kind: models.JobKindActivity,
		Payload: models.JobPayload{EventID: uuid.NewString()}}
	if _, err := f.h.Activity(ctx, missing); !errors.Is(err, queue.ErrPermanent) {
		t.Errorf("missing activity: want ErrPermanent, got %v", err)
	}

	malformed := &models.RewardJob{ID: uuid.New(), UserID: f.user, Kind: models.JobKindActivity,
		Payload: models.JobPayload{EventID: "not-a-uuid"}}
	if _, err := f.h.Activity(ctx, malformed); !errors.Is(err, queue.ErrPermanent) {
		t.Errorf("malformed id: want ErrPermanent, got %v", err)
	}

	foreign := f.addWorkout()
	foreign.UserID = uuid.New()
	if _, err := f.h.Activity(ctx, foreign); !errors.Is(err, queue.ErrPermanent) {
		t.Errorf("foreign activity: want ErrPermanent, got %v", err)
	}
}

// A job may never resolve to a reward owned by another user, even when the event id matches.
func TestCrossUserEventFailsPermanently(t *testing.T) {
	ctx := context.Background()

	t.Run("activity of another user already rewarded", func(t *testing.T) {
		f := newFixture(workoutRule(nil))
		owner := f.addWorkout()
		if _, err := f.h.Activity(ctx, owner); err != nil {
			t.Fatal(err)
		}
		intruder := uuid.New()
		job := &models.RewardJob{ID: uuid.New(), UserID: intruder, Kind: models.JobKindActivity, Payload: owner.Payload}

		res, err := f.h.Activity(ctx, job)
		if !errors.Is(err, queue.ErrPermanent) {
			t.Fatalf("want ErrPermanent, got %v (result %+v)", err, res)
		}
		if len(f.rewards.forUser(intruder)) != 0 || f.ledger.balance(intruder) != 0 {
			t.Error("intruder must not receive a reward")
		}
	})

	t.Run("streak event id reused by another user", func(t *testing.T) {
		weekly := &models.RewardRule{ID: uuid.New(), Name: "weekly", Active: true, BaseAmount: 10,
			Conditions: models.RuleConditions{MinStreakLength: func() *int { n := 3; return &n }()}}
		f := newFixture(weekly)
		payload := models.JobPayload{EventID: "streak-7", StreakDays: 7}
		first := &models.RewardJob{ID: uuid.New(), UserID: f.user, Kind: models.JobKindStreak, Payload: payload}
		if _, err := f.h.Streak(ctx, first); err != nil {
			t.Fatal(err)
		}

		other := uuid.New()
		second := &models.RewardJob{ID: uuid.New(), UserID: other, Kind: models.JobKindStreak, Payload: payload}
		res, err := f.h.Streak(ctx, second)
		if !errors.Is(err, queue.ErrPermanent) {
			t.Fatalf("want ErrPermanent, got %v (result %+v)", err, res)
		}
		if len(f.rewards.forUser(f.user)) != 1 {
			t.Error("first user's reward must be untouched")
		}
	})
}

func TestStreak_BestRuleWithProgression(t *testing.T) {
	weekly := &models.RewardRule{ID: uuid.New(), Name: "weekly", Active: true, BaseAmount: 50,
		Conditions: models.RuleConditions{MinStreakLength: func() *int { n := 3; return &n }()}}
	f := newFixture(weekly)
	job := &models.RewardJob{ID: uuid.New(), UserID: f.user, Kind: models.JobKindStreak,
		Payload: models.JobPayload{EventID: "streak-2026-03-11", StreakDays: 7}}

	res, err := f.h.Streak(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	// 50 x 1.6
	if res.Amount != 80 || len(res.RulesApplied) != 1 || res.RulesApplied[0] != "weekly" {
		t.Errorf("result = %+v", res)
	}
	got := f.rewards.forUser(f.user)
	if len(got) != 1 || got[0].Type != models.RewardTypeStreak {
		t.Errorf("rewards = %+v", got)
	}
}

func TestMilestone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	job := &models.RewardJob{ID: uuid.New(), UserID: f.user, Kind: models.JobKindMilestone,
		Payload: models.JobPayload{EventID: "ms-1", MilestoneKey: "first_10"}}
	res, err := f.h.Milestone(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if res.Amount != 100 {
		t.Errorf("amount = %d, want 100", res.Amount)
	}

	unknown := &models.RewardJob{ID: uuid.New(), UserID: f.user, Kind: models.JobKindMilestone,
		Payload: models.JobPayload{EventID: "ms-2", MilestoneKey: "nope"}}
	if _, err := f.h.Milestone(ctx, unknown); !errors.Is(err, queue.ErrPermanent) {
		t.Errorf("unknown milestone: want ErrPermanent, got %v", err)
	}
}

// singleJobStore is a queue.JobStore holding one job.
type singleJobStore struct {
	mu  sync.Mutex
	job *models.RewardJob
}

func (s *singleJobStore) Claim(_ context.Context, id uuid.UUID, lease time.Time) (*models.RewardJob, models.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.ID != id || s.job.Status != models.JobStatusPending {
		return nil, "", queue.ErrNotClaimable
	}
	s.job.Status = models.JobStatusProcessing
	s.job.LeaseExpiresAt = &lease
	cp := *s.job
	return &cp, models.JobStatusPending, nil
}

func (s *singleJobStore) Complete(_ context.Context, _ uuid.UUID, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = models.JobStatusCompleted
	s.job.Result = result
	return nil
}

func (s *singleJobStore) Release(_ context.Context, _ uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = models.JobStatusPending
	s.job.RetryCount++
	s.job.LastError = &lastError
	return nil
}

func (s *singleJobStore) Fail(_ context.Context, _ uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = models.JobStatusFailed
	s.job.LastError = &lastError
	return nil
}
