package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityEvent is a completed activity as recorded by the activity-logging service.
type ActivityEvent struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Type            string    `json:"type"`
	Category        string    `json:"category"`
	DurationMinutes int       `json:"duration_minutes"`
	Intensity       int       `json:"intensity"`
	CompletedAt     time.Time `json:"completed_at"`
	// ExternallyApproved is set when a partner or reviewer signed off on the activity.
	ExternallyApproved bool `json:"externally_approved"`
}

// ActivityHistory is the user context the multiplier predicates need.
type ActivityHistory struct {
	// ActivitiesEarlierToday counts the user's completed activities on the same local day
	// that finished before this one.
	ActivitiesEarlierToday int
}
