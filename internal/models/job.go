package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobKindActivity  JobKind = "ACTIVITY"
	JobKindStreak    JobKind = "STREAK"
	JobKindMilestone JobKind = "MILESTONE"
)

// RewardType returns the reward type a job of this kind produces.
func (k JobKind) RewardType() RewardType {
	switch k {
	case JobKindActivity:
		return RewardTypeActivity
	case JobKindStreak:
		return RewardTypeStreak
	case JobKindMilestone:
		return RewardTypeMilestone
	}
	return ""
}

func (k JobKind) Valid() bool { return k.RewardType() != "" }

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// AllJobStatuses is the display order for queue health.
var AllJobStatuses = []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}

// CanTransitionTo reports whether a job may move from s to next.
// PROCESSING -> PENDING is a retry after a transient failure or an expired lease;
// PROCESSING -> PROCESSING is a redelivery reclaiming an expired lease;
// FAILED -> PENDING is an operator retry.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusPending || next == JobStatusProcessing
	case JobStatusFailed:
		return next == JobStatusPending
	case JobStatusCompleted:
		return false
	}
	return false
}

// JobPayload identifies the triggering event. EventID is the idempotency key together
// with the job kind.
type JobPayload struct {
	EventID      string `json:"event_id"`
	StreakDays   int    `json:"streak_days,omitempty"`
	MilestoneKey string `json:"milestone_key,omitempty"`
}

// JobResult is persisted on the job for observability.
type JobResult struct {
	RewardID     *uuid.UUID `json:"reward_id,omitempty"`
	Amount       int64      `json:"amount"`
	Uncapped     int64      `json:"uncapped_amount"`
	RulesApplied []string   `json:"rules_applied"`
	Multipliers  []string   `json:"multipliers,omitempty"`
	Duplicate    bool       `json:"duplicate,omitempty"`
}

type RewardJob struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Kind           JobKind         `json:"kind"`
	Payload        JobPayload      `json:"payload"`
	Priority       int             `json:"priority"`
	Status         JobStatus       `json:"status"`
	RetryCount     int             `json:"retry_count"`
	LastError      *string         `json:"last_error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	DismissedAt    *time.Time      `json:"dismissed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}
