package models

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Multiplier predicate names.
const (
	PredicateFirstActivityOfDay = "first_activity_of_day"
	PredicateWeekend            = "weekend"
	PredicateEarlyBird          = "early_bird"
	PredicateHighIntensity      = "high_intensity"
	PredicateLongDuration       = "long_duration"
)

// KnownPredicates lists every predicate the engine can evaluate.
var KnownPredicates = map[string]bool{
	PredicateFirstActivityOfDay: true,
	PredicateWeekend:            true,
	PredicateEarlyBird:          true,
	PredicateHighIntensity:      true,
	PredicateLongDuration:       true,
}

// Time-of-day buckets, computed from the activity's completion time.
const (
	TimeOfDayMorning   = "morning"   // 05:00-12:00
	TimeOfDayAfternoon = "afternoon" // 12:00-17:00
	TimeOfDayEvening   = "evening"   // 17:00-21:00
	TimeOfDayNight     = "night"     // 21:00-05:00
)

// TimeOfDayBucket returns the bucket name for t.
func TimeOfDayBucket(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return TimeOfDayMorning
	case h >= 12 && h < 17:
		return TimeOfDayAfternoon
	case h >= 17 && h < 21:
		return TimeOfDayEvening
	default:
		return TimeOfDayNight
	}
}

type RuleConditions struct {
	EventTypes      []string `json:"event_types,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	MinDuration     *int     `json:"min_duration,omitempty"`
	MaxDuration     *int     `json:"max_duration,omitempty"`
	MinIntensity    *int     `json:"min_intensity,omitempty"`
	MaxIntensity    *int     `json:"max_intensity,omitempty"`
	TimesOfDay      []string `json:"times_of_day,omitempty"`
	DaysOfWeek      []int    `json:"days_of_week,omitempty"` // 0 = Sunday
	MinStreakLength *int     `json:"min_streak_length,omitempty"`
}

type MultiplierRule struct {
	Predicate string  `json:"predicate"`
	Factor    float64 `json:"factor"`
}

type RewardRule struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"`
	Active      bool             `json:"active"`
	Priority    int              `json:"priority"`
	Conditions  RuleConditions   `json:"conditions"`
	BaseAmount  int64            `json:"base_amount"`
	Multipliers []MultiplierRule `json:"multipliers"`
	DailyCap    *int64           `json:"daily_cap,omitempty"`
	UserCap     *int64           `json:"user_cap,omitempty"`
	ValidFrom   *time.Time       `json:"valid_from,omitempty"`
	ValidTo     *time.Time       `json:"valid_to,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ValidAt reports whether the rule is active and its validity window contains now.
// Nil bounds are unbounded.
func (r *RewardRule) ValidAt(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return false
	}
	return true
}

// SortRules orders rules by descending priority, ties broken by ascending id.
func SortRules(rules []*RewardRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return bytes.Compare(rules[i].ID[:], rules[j].ID[:]) < 0
	})
}
