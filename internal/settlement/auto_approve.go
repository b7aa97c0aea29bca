package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/inaiurai/rewards/internal/models"
)

// AutoApproveQueued approves up to limit QUEUED requests as the system actor. Requests that
// moved on in the meantime are skipped.
func (s *Service) AutoApproveQueued(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.QueuedIDs(ctx, limit)
	if err != nil {
		return 0, err
	}
	approved := 0
	for _, id := range ids {
		_, err := s.Approve(ctx, id, models.SystemAutoApproveActor, "auto-approved below review threshold")
		switch {
		case err == nil:
			approved++
		case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, ErrNotFound):
		default:
			return approved, err
		}
	}
	return approved, nil
}

// ScheduleAutoApprover registers periodic auto-approval of QUEUED requests on sched.
func ScheduleAutoApprover(ctx context.Context, sched gocron.Scheduler, svc *Service, interval time.Duration, batch int, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	_, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			n, err := svc.AutoApproveQueued(ctx, batch)
			if err != nil {
				log.Error("auto-approve settlement requests", "error", err, "approved", n)
				return
			}
			if n > 0 {
				log.Info("auto-approved settlement requests", "approved", n)
			}
		}),
		gocron.WithName("settlement-auto-approver"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	return err
}
