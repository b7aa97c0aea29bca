package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// ScheduleSweeper registers a job on sched that requeues lapsed PROCESSING rows every
// interval. River rescues its own stuck jobs; this covers the reward_jobs row.
func ScheduleSweeper(ctx context.Context, sched gocron.Scheduler, svc *Service, interval time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	_, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			n, err := svc.RequeueStuck(ctx)
			if err != nil {
				log.Error("sweep stuck reward jobs", "error", err)
				return
			}
			if n > 0 {
				log.Info("swept stuck reward jobs", "requeued", n)
			}
		}),
		gocron.WithName("reward-job-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	return err
}
