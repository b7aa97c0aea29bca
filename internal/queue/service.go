package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/inaiurai/rewards/internal/audit"
	"github.com/inaiurai/rewards/internal/models"
)

// InsertTxFunc inserts a River job inside tx. river.Client[pgx.Tx].InsertTx satisfies it.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)

// Store is the job persistence the service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, j *models.RewardJob) error
	SetRiverJobIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, riverJobID int64) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.RewardJob, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
	OldestPending(ctx context.Context) (*time.Time, error)
	ListFailed(ctx context.Context, limit, offset int) ([]*models.RewardJob, error)
	RequeueFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.RewardJob, error)
	Dismiss(ctx context.Context, id uuid.UUID) (*models.RewardJob, error)
	RequeueStuckTx(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]*models.RewardJob, error)
}

// Options configure priorities and the attempt budget. River priority 1 runs first.
type Options struct {
	Priorities  map[models.JobKind]int
	MaxAttempts int
	SweepBatch  int
}

// DefaultPriorities orders streak ahead of milestone ahead of activity.
var DefaultPriorities = map[models.JobKind]int{
	models.JobKindStreak:    1,
	models.JobKindMilestone: 2,
	models.JobKindActivity:  3,
}

type Service struct {
	store  Store
	insert InsertTxFunc
	audit  audit.Recorder
	log    *slog.Logger
	opts   Options
	now    func() time.Time
}

func NewService(store Store, insert InsertTxFunc, rec audit.Recorder, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.Priorities == nil {
		opts.Priorities = DefaultPriorities
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	return &Service{store: store, insert: insert, audit: rec, log: log, opts: opts, now: time.Now}
}

// Enqueue validates the intent, writes the PENDING job row and its River job in one
// transaction, and returns the job id. priority 0 selects the kind's default.
func (s *Service) Enqueue(ctx context.Context, kind models.JobKind, userID uuid.UUID, payload models.JobPayload, priority int) (uuid.UUID, error) {
	if err := validateIntent(kind, userID, payload, priority); err != nil {
		return uuid.Nil, err
	}
	if priority == 0 {
		priority = s.opts.Priorities[kind]
	}
	job := &models.RewardJob{ID: uuid.New(), UserID: userID, Kind: kind, Payload: payload, Priority: priority}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.store.CreateTx(ctx, tx, job); err != nil {
		return uuid.Nil, fmt.Errorf("insert reward job: %w", err)
	}
	if err := s.insertRiverJob(ctx, tx, job); err != nil {
		return uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}

	s.log.Info("reward job enqueued", "job_id", job.ID, "kind", kind, "user_id", userID, "priority", priority)
	audit.RecordChange(ctx, s.audit, audit.Change{
		Actor:        models.SystemActor,
		Action:       models.AuditJobEnqueued,
		ResourceKind: models.ResourceRewardJob,
		ResourceID:   job.ID.String(),
		After:        map[string]any{"status": models.JobStatusPending, "kind": kind, "payload": payload},
	})
	return job.ID, nil
}

// EnqueueReward is the intake used by the activity-logging service: one call per
// qualifying event.
func (s *Service) EnqueueReward(ctx context.Context, userID uuid.UUID, eventID string, kind models.JobKind, priority int) (uuid.UUID, error) {
	return s.Enqueue(ctx, kind, userID, models.JobPayload{EventID: eventID}, priority)
}

func (s *Service) insertRiverJob(ctx context.Context, tx pgx.Tx, job *models.RewardJob) error {
	res, err := s.insert(ctx, tx, RewardJobArgs{JobID: job.ID}, &river.InsertOpts{
		Queue:       QueueName,
		Priority:    job.Priority,
		MaxAttempts: s.opts.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("insert river job: %w", err)
	}
	if res != nil && res.Job != nil {
		return s.store.SetRiverJobIDTx(ctx, tx, job.ID, res.Job.ID)
	}
	return nil
}

func validateIntent(kind models.JobKind, userID uuid.UUID, p models.JobPayload, priority int) error {
	switch {
	case !kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	case userID == uuid.Nil:
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	case strings.TrimSpace(p.EventID) == "":
		return fmt.Errorf("%w: event_id is required", ErrValidation)
	case priority < 0 || priority > 4:
		return fmt.Errorf("%w: priority must be 1..4, or 0 for the kind default", ErrValidation)
	case kind == models.JobKindStreak && p.StreakDays < 1:
		return fmt.Errorf("%w: streak_days must be >= 1", ErrValidation)
	case kind == models.JobKindMilestone && p.MilestoneKey == "":
		return fmt.Errorf("%w: milestone_key is required", ErrValidation)
	}
	return nil
}

// Health is the operator view of the queue.
type Health struct {
	Counts        map[models.JobStatus]int `json:"counts"`
	OldestPending *time.Time               `json:"oldest_pending,omitempty"`
}

func (s *Service) Health(ctx context.Context) (*Health, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range models.AllJobStatuses {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	oldest, err := s.store.OldestPending(ctx)
	if err != nil {
		return nil, err
	}
	return &Health{Counts: counts, OldestPending: oldest}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.RewardJob, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListFailed(ctx context.Context, limit, offset int) ([]*models.RewardJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListFailed(ctx, limit, max(offset, 0))
}

// Retry puts a FAILED job back to PENDING with a fresh River job and attempt budget.
func (s *Service) Retry(ctx context.Context, actor string, id uuid.UUID) (*models.RewardJob, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job, err := s.store.RequeueFailedTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.insertRiverJob(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("reward job requeued by operator", "job_id", id, "actor", actor)
	s.recordTransition(ctx, actor, models.AuditJobRequeued, job, models.JobStatusFailed, models.JobStatusPending)
	return job, nil
}

// Dismiss hides a FAILED job from the operator queue. The job stays FAILED.
func (s *Service) Dismiss(ctx context.Context, actor string, id uuid.UUID) (*models.RewardJob, error) {
	job, err := s.store.Dismiss(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("reward job dismissed", "job_id", id, "actor", actor)
	audit.RecordChange(ctx, s.audit, audit.Change{
		Actor:        actor,
		Action:       models.AuditJobDismissed,
		ResourceKind: models.ResourceRewardJob,
		ResourceID:   id.String(),
		Before:       map[string]any{"status": job.Status, "dismissed": false},
		After:        map[string]any{"status": job.Status, "dismissed": true},
	})
	return job, nil
}

// RequeueStuck returns PROCESSING jobs whose lease has lapsed to PENDING and gives each a
// fresh River job. It reports how many were requeued.
func (s *Service) RequeueStuck(ctx context.Context) (int, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	jobs, err := s.store.RequeueStuckTx(ctx, tx, s.now(), s.opts.SweepBatch)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if err := s.insertRiverJob(ctx, tx, job); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	for _, job := range jobs {
		s.log.Warn("requeued stuck reward job", "job_id", job.ID, "kind", job.Kind, "retry_count", job.RetryCount)
		s.recordTransition(ctx, models.SystemSweeperActor, models.AuditJobRequeued, job, models.JobStatusProcessing, models.JobStatusPending)
	}
	return len(jobs), nil
}

func (s *Service) recordTransition(ctx context.Context, actor, action string, job *models.RewardJob, from, to models.JobStatus) {
	audit.RecordChange(ctx, s.audit, audit.Change{
		Actor:        actor,
		Action:       action,
		ResourceKind: models.ResourceRewardJob,
		ResourceID:   job.ID.String(),
		Before:       map[string]any{"status": from},
		After:        map[string]any{"status": to, "retry_count": job.RetryCount},
	})
}
