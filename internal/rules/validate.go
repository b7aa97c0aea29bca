package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/inaiurai/rewards/internal/models"
)

// ErrInvalidRule is wrapped by every ValidateRule failure.
var ErrInvalidRule = errors.New("invalid reward rule")

var knownTimesOfDay = map[string]bool{
	models.TimeOfDayMorning:   true,
	models.TimeOfDayAfternoon: true,
	models.TimeOfDayEvening:   true,
	models.TimeOfDayNight:     true,
}

// ValidateRule checks a rule's internal consistency before it is stored.
func ValidateRule(r *models.RewardRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return invalid("name is required")
	}
	if r.BaseAmount < 0 {
		return invalid("base_amount must be >= 0")
	}
	if r.ValidFrom != nil && r.ValidTo != nil && r.ValidFrom.After(*r.ValidTo) {
		return invalid("valid_from must not be after valid_to")
	}
	if r.DailyCap != nil && *r.DailyCap < 0 {
		return invalid("daily_cap must be >= 0")
	}
	if r.UserCap != nil && *r.UserCap < 0 {
		return invalid("user_cap must be >= 0")
	}

	c := r.Conditions
	if err := checkRange("duration", c.MinDuration, c.MaxDuration, 0, -1); err != nil {
		return err
	}
	if err := checkRange("intensity", c.MinIntensity, c.MaxIntensity, intensityMin, intensityMax); err != nil {
		return err
	}
	for _, tod := range c.TimesOfDay {
		if !knownTimesOfDay[strings.ToLower(strings.TrimSpace(tod))] {
			return invalid(fmt.Sprintf("unknown time of day %q", tod))
		}
	}
	for _, d := range c.DaysOfWeek {
		if d < 0 || d > 6 {
			return invalid(fmt.Sprintf("day of week %d out of range 0..6", d))
		}
	}
	if c.MinStreakLength != nil && *c.MinStreakLength < 1 {
		return invalid("min_streak_length must be >= 1")
	}

	for _, m := range r.Multipliers {
		if !models.KnownPredicates[m.Predicate] {
			return invalid(fmt.Sprintf("unknown multiplier predicate %q", m.Predicate))
		}
		if m.Factor <= 0 {
			return invalid(fmt.Sprintf("multiplier %q factor must be > 0", m.Predicate))
		}
	}
	return nil
}

// checkRange validates optional bounds; hi < 0 means no upper limit on the values.
func checkRange(field string, lo, hi *int, min, max int) error {
	for _, v := range []*int{lo, hi} {
		if v == nil {
			continue
		}
		if *v < min || (max >= 0 && *v > max) {
			return invalid(fmt.Sprintf("%s bound %d out of range", field, *v))
		}
	}
	if lo != nil && hi != nil && *lo > *hi {
		return invalid(fmt.Sprintf("min %s exceeds max %s", field, field))
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, msg)
}
