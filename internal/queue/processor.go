package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/rewards/internal/audit"
	"github.com/inaiurai/rewards/internal/models"
)

// Handler computes and persists the reward for one job kind. It must be idempotent per
// (source event id, kind): a retried job must not create a second reward.
type Handler interface {
	Handle(ctx context.Context, job *models.RewardJob) (*models.JobResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *models.RewardJob) (*models.JobResult, error)

func (f HandlerFunc) Handle(ctx context.Context, job *models.RewardJob) (*models.JobResult, error) {
	return f(ctx, job)
}

// ErrNotClaimable is returned by Store.Claim when the job is not PENDING and not an expired
// PROCESSING lease.
var ErrNotClaimable = errors.New("reward job not claimable")

// JobStore is the job persistence the processor needs.
type JobStore interface {
	// Claim returns the claimed job and the status it was claimed from.
	Claim(ctx context.Context, id uuid.UUID, leaseUntil time.Time) (*models.RewardJob, models.JobStatus, error)
	Complete(ctx context.Context, id uuid.UUID, result []byte) error
	Release(ctx context.Context, id uuid.UUID, lastError string) error
	Fail(ctx context.Context, id uuid.UUID, lastError string) error
}

// Processor runs one delivery of a reward job: claim, dispatch to the kind handler, record
// the outcome.
type Processor struct {
	store    JobStore
	handlers map[models.JobKind]Handler
	audit    audit.Recorder
	log      *slog.Logger
	lease    time.Duration
	now      func() time.Time
}

// NewProcessor returns a processor whose claims hold a lease of the given length. The lease
// should exceed the handler timeout so a live handler is never swept.
func NewProcessor(store JobStore, handlers map[models.JobKind]Handler, rec audit.Recorder, lease time.Duration, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{store: store, handlers: handlers, audit: rec, log: log, lease: lease, now: time.Now}
}

// Process handles delivery number attempt of maxAttempts. A nil return means the job is done
// or owned by someone else. An error wrapping ErrPermanent means the job was marked FAILED
// and must not be retried; any other error asks for a retry.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID, attempt, maxAttempts int) error {
	job, prev, err := p.store.Claim(ctx, jobID, p.now().Add(p.lease))
	if errors.Is(err, ErrNotClaimable) {
		p.log.Info("reward job not claimable, skipping", "job_id", jobID, "attempt", attempt)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim reward job %s: %w", jobID, err)
	}
	if !prev.CanTransitionTo(models.JobStatusProcessing) {
		return p.fail(ctx, job, fmt.Errorf("%w: claimed from %s", ErrPermanent, prev))
	}
	var meta any
	if prev == models.JobStatusProcessing {
		meta = map[string]any{"reclaimed_lease": true}
		p.log.Warn("reclaimed reward job with expired lease", "job_id", job.ID, "attempt", attempt)
	}
	p.record(ctx, job, models.AuditJobProcessing, prev, models.JobStatusProcessing, meta)

	handler, ok := p.handlers[job.Kind]
	if !ok {
		return p.fail(ctx, job, fmt.Errorf("%w: no handler for kind %q", ErrPermanent, job.Kind))
	}

	result, err := handler.Handle(ctx, job)
	if err != nil {
		if errors.Is(err, ErrPermanent) || attempt >= maxAttempts {
			return p.fail(ctx, job, err)
		}
		// The handler context may be the one that expired; record with a fresh one.
		rctx := context.WithoutCancel(ctx)
		if rerr := p.store.Release(rctx, job.ID, err.Error()); rerr != nil {
			p.log.Error("release reward job", "job_id", job.ID, "error", rerr)
		}
		p.log.Warn("reward job failed, will retry",
			"job_id", job.ID, "kind", job.Kind, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		p.record(rctx, job, models.AuditJobRetrying, models.JobStatusProcessing, models.JobStatusPending,
			map[string]any{"attempt": attempt, "error": err.Error()})
		return err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("%w: encode result: %v", ErrPermanent, err))
	}
	if err := p.store.Complete(ctx, job.ID, raw); err != nil {
		return fmt.Errorf("complete reward job %s: %w", job.ID, err)
	}
	p.log.Info("reward job completed", "job_id", job.ID, "kind", job.Kind, "amount", result.Amount, "duplicate", result.Duplicate)
	p.record(ctx, job, models.AuditJobCompleted, models.JobStatusProcessing, models.JobStatusCompleted, result)
	return nil
}

func (p *Processor) fail(ctx context.Context, job *models.RewardJob, cause error) error {
	rctx := context.WithoutCancel(ctx)
	if err := p.store.Fail(rctx, job.ID, cause.Error()); err != nil {
		return fmt.Errorf("mark reward job %s failed: %w", job.ID, err)
	}
	p.log.Error("reward job failed", "job_id", job.ID, "kind", job.Kind, "user_id", job.UserID, "error", cause)
	p.record(rctx, job, models.AuditJobFailed, models.JobStatusProcessing, models.JobStatusFailed,
		map[string]any{"error": cause.Error()})
	if errors.Is(cause, ErrPermanent) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrPermanent, cause)
}

func (p *Processor) record(ctx context.Context, job *models.RewardJob, action string, from, to models.JobStatus, meta any) {
	audit.RecordChange(ctx, p.audit, audit.Change{
		Actor:        models.SystemActor,
		Action:       action,
		ResourceKind: models.ResourceRewardJob,
		ResourceID:   job.ID.String(),
		Before:       map[string]any{"status": from},
		After:        map[string]any{"status": to},
		Metadata:     meta,
	})
}
