// Package queue is the durable reward job queue: reward_jobs rows carry the domain state,
// River carries delivery, priority, retries and timeouts.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// QueueName is the River queue reward jobs run on.
const QueueName = "rewards"

// ErrPermanent marks a handler error that retrying cannot fix. The job goes to FAILED at once.
var ErrPermanent = errors.New("permanent job failure")

// ErrValidation is returned by Enqueue for malformed intake.
var ErrValidation = errors.New("invalid reward job")

// ErrJobNotFound is returned by operator actions on an unknown job or one in the wrong state.
var ErrJobNotFound = errors.New("reward job not found")

// RewardJobArgs is the River payload. The reward_jobs row is the source of truth; River only
// needs its id.
type RewardJobArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (RewardJobArgs) Kind() string { return "reward_job" }

func (RewardJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueName}
}

// Backoff is base × 2^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20
	}
	return base << attempt
}
