// Package rewards turns a claimed reward job into a persisted reward. Each handler checks for
// an existing reward for (source event, type) inside the user-locked transaction before it
// computes anything, so redelivered jobs never create a second reward.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/rewards/internal/audit"
	"github.com/inaiurai/rewards/internal/capping"
	"github.com/inaiurai/rewards/internal/ledger"
	"github.com/inaiurai/rewards/internal/models"
	"github.com/inaiurai/rewards/internal/queue"
	"github.com/inaiurai/rewards/internal/repository"
	"github.com/inaiurai/rewards/internal/rules"
)

// Authority is the capping surface the handlers use.
type Authority interface {
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx pgx.Tx) error) error
	Cap(ctx context.Context, tx pgx.Tx, caps capping.Caps, proposed int64, userID uuid.UUID, now time.Time) (int64, error)
	DayStart(now time.Time) time.Time
}

type RewardStore interface {
	FindBySourceTx(ctx context.Context, tx pgx.Tx, sourceEventID string, typ models.RewardType) (*models.Reward, error)
	CreateTx(ctx context.Context, tx pgx.Tx, rw *models.Reward) error
}

type ActivityStore interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.ActivityEvent, error)
	CountEarlierTodayTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, dayStart, before time.Time) (int, error)
}

type RuleSource interface {
	List(ctx context.Context, active *bool) ([]*models.RewardRule, error)
}

// activeRules loads the rules an evaluation may use.
func activeRules(ctx context.Context, src RuleSource) ([]*models.RewardRule, error) {
	on := true
	list, err := src.List(ctx, &on)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return list, nil
}

// Milestone is a configured fixed-amount award.
type Milestone struct {
	Amount int64
	Reason string
}

type Deps struct {
	Engine     *rules.Engine
	Rules      RuleSource
	Capping    Authority
	Rewards    RewardStore
	Activities ActivityStore
	Ledger     ledger.Service
	Audit      audit.Recorder
	Milestones map[string]Milestone
	Log        *slog.Logger
}

// Handlers holds the kind handlers registered with the queue processor.
type Handlers struct {
	d   Deps
	now func() time.Time
}

func NewHandlers(d Deps) *Handlers {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Handlers{d: d, now: time.Now}
}

// ByKind returns the handler map for queue.NewProcessor.
func (h *Handlers) ByKind() map[models.JobKind]queue.Handler {
	return map[models.JobKind]queue.Handler{
		models.JobKindActivity:  queue.HandlerFunc(h.Activity),
		models.JobKindStreak:    queue.HandlerFunc(h.Streak),
		models.JobKindMilestone: queue.HandlerFunc(h.Milestone),
	}
}

// award is what a kind handler decided inside the locked transaction.
type award struct {
	uncapped   int64
	caps       capping.Caps
	rules      []string
	multiplier float64
	breakdown  []string
	reason     string
}

// compute runs inside the user lock and returns nil for "no reward".
type compute func(ctx context.Context, tx pgx.Tx, now time.Time) (*award, error)

// precheck runs inside the user lock before the duplicate lookup.
type precheck func(ctx context.Context, tx pgx.Tx) error

func (h *Handlers) Activity(ctx context.Context, job *models.RewardJob) (*models.JobResult, error) {
	activityID, err := uuid.Parse(job.Payload.EventID)
	if err != nil {
		return nil, fmt.Errorf("%w: activity event id %q: %v", queue.ErrPermanent, job.Payload.EventID, err)
	}
	active, err := activeRules(ctx, h.d.Rules)
	if err != nil {
		return nil, err
	}
	var ev *models.ActivityEvent
	owns := func(ctx context.Context, tx pgx.Tx) error {
		var err error
		ev, err = h.d.Activities.GetByIDTx(ctx, tx, activityID)
		if errors.Is(err, repository.ErrActivityNotFound) {
			return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
		}
		if err != nil {
			return err
		}
		if ev.UserID != job.UserID {
			return fmt.Errorf("%w: activity %s belongs to another user", queue.ErrPermanent, ev.ID)
		}
		return nil
	}
	return h.run(ctx, job, owns, func(ctx context.Context, tx pgx.Tx, now time.Time) (*award, error) {
		earlier, err := h.d.Activities.CountEarlierTodayTx(ctx, tx, ev.UserID, h.d.Capping.DayStart(ev.CompletedAt), ev.CompletedAt)
		if err != nil {
			return nil, err
		}
		eval := h.d.Engine.Evaluate(*ev, models.ActivityHistory{ActivitiesEarlierToday: earlier}, active, now)
		if eval == nil {
			return nil, nil
		}
		return &award{
			uncapped:   eval.Amount,
			caps:       capping.Caps{Daily: eval.DailyCap, Lifetime: eval.UserCap},
			rules:      eval.Rules,
			multiplier: eval.Multiplier(),
			breakdown:  eval.MultiplierNames(),
			reason:     fmt.Sprintf("%s activity", ev.Type),
		}, nil
	})
}

func (h *Handlers) Streak(ctx context.Context, job *models.RewardJob) (*models.JobResult, error) {
	active, err := activeRules(ctx, h.d.Rules)
	if err != nil {
		return nil, err
	}
	days := job.Payload.StreakDays
	return h.run(ctx, job, nil, func(_ context.Context, _ pgx.Tx, now time.Time) (*award, error) {
		eval := h.d.Engine.EvaluateStreak(days, active, now)
		if eval == nil {
			return nil, nil
		}
		return &award{
			uncapped:   eval.Amount,
			caps:       capping.Caps{Daily: eval.DailyCap, Lifetime: eval.UserCap},
			rules:      eval.Rules,
			multiplier: eval.Multiplier(),
			breakdown:  eval.MultiplierNames(),
			reason:     fmt.Sprintf("%d-day streak", days),
		}, nil
	})
}

func (h *Handlers) Milestone(ctx context.Context, job *models.RewardJob) (*models.JobResult, error) {
	m, ok := h.d.Milestones[job.Payload.MilestoneKey]
	if !ok {
		return nil, fmt.Errorf("%w: unknown milestone %q", queue.ErrPermanent, job.Payload.MilestoneKey)
	}
	return h.run(ctx, job, nil, func(context.Context, pgx.Tx, time.Time) (*award, error) {
		if m.Amount <= 0 {
			return nil, nil
		}
		reason := m.Reason
		if reason == "" {
			reason = "milestone " + job.Payload.MilestoneKey
		}
		return &award{uncapped: m.Amount, rules: []string{}, multiplier: 1, reason: reason}, nil
	})
}

// run is the shared idempotent, capped, single-transaction path. A reward already recorded
// for the same (source event, type) under another user fails the job permanently.
func (h *Handlers) run(ctx context.Context, job *models.RewardJob, check precheck, fn compute) (*models.JobResult, error) {
	typ := job.Kind.RewardType()
	eventID := job.Payload.EventID
	var (
		result  *models.JobResult
		created *models.Reward
	)
	err := h.d.Capping.WithUserLock(ctx, job.UserID, func(tx pgx.Tx) error {
		if check != nil {
			if err := check(ctx, tx); err != nil {
				return err
			}
		}
		existing, err := h.d.Rewards.FindBySourceTx(ctx, tx, eventID, typ)
		if err != nil {
			return fmt.Errorf("look up existing reward: %w", err)
		}
		if existing != nil && existing.UserID != job.UserID {
			return fmt.Errorf("%w: %s event %q already rewarded to another user", queue.ErrPermanent, typ, eventID)
		}
		if existing != nil {
			result = &models.JobResult{
				RewardID: &existing.ID, Amount: existing.Amount, Uncapped: existing.Amount,
				RulesApplied: existing.RulesApplied, Duplicate: true,
			}
			return nil
		}

		now := h.now()
		a, err := fn(ctx, tx, now)
		if err != nil {
			return err
		}
		if a == nil {
			result = &models.JobResult{RulesApplied: []string{}}
			return nil
		}
		amount, err := h.d.Capping.Cap(ctx, tx, a.caps, a.uncapped, job.UserID, now)
		if err != nil {
			return err
		}
		result = &models.JobResult{Amount: amount, Uncapped: a.uncapped, RulesApplied: a.rules, Multipliers: a.breakdown}
		if amount <= 0 {
			return nil
		}

		rw := &models.Reward{
			ID:            uuid.New(),
			UserID:        job.UserID,
			SourceEventID: &eventID,
			Type:          typ,
			Amount:        amount,
			Reason:        a.reason,
			Status:        models.RewardStatusApproved,
			RulesApplied:  a.rules,
			Multiplier:    a.multiplier,
		}
		if err := h.d.Rewards.CreateTx(ctx, tx, rw); err != nil {
			return fmt.Errorf("insert reward: %w", err)
		}
		if err := h.d.Ledger.CreditRewardTx(ctx, tx, job.UserID, rw.ID, amount); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		result.RewardID = &rw.ID
		created = rw
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created != nil {
		h.d.Log.Info("reward created",
			"reward_id", created.ID, "user_id", created.UserID, "type", created.Type,
			"amount", created.Amount, "uncapped", result.Uncapped, "job_id", job.ID)
		audit.RecordChange(ctx, h.d.Audit, audit.Change{
			Actor:        models.SystemActor,
			Action:       models.AuditRewardCreated,
			ResourceKind: models.ResourceReward,
			ResourceID:   created.ID.String(),
			After:        created,
			Metadata:     map[string]any{"job_id": job.ID, "uncapped_amount": result.Uncapped},
		})
	}
	return result, nil
}
