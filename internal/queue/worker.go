package queue

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
)

// Worker adapts the Processor to River.
type Worker struct {
	river.WorkerDefaults[RewardJobArgs]
	proc        *Processor
	baseBackoff time.Duration
	timeout     time.Duration
}

func NewWorker(proc *Processor, baseBackoff, timeout time.Duration) *Worker {
	return &Worker{proc: proc, baseBackoff: baseBackoff, timeout: timeout}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[RewardJobArgs]) error {
	err := w.proc.Process(ctx, job.Args.JobID, job.Attempt, job.MaxAttempts)
	if errors.Is(err, ErrPermanent) {
		return river.JobCancel(err)
	}
	return err
}

func (w *Worker) NextRetry(job *river.Job[RewardJobArgs]) time.Time {
	return time.Now().Add(Backoff(w.baseBackoff, job.Attempt))
}

// Timeout bounds one handler run; an expired context takes the retry path.
func (w *Worker) Timeout(*river.Job[RewardJobArgs]) time.Duration {
	return w.timeout
}
