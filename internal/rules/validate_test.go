package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/inaiurai/rewards/internal/models"
)

func TestValidateRule(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)

	cases := []struct {
		name   string
		mutate func(r *models.RewardRule)
		ok     bool
	}{
		{"valid", func(r *models.RewardRule) {}, true},
		{"missing name", func(r *models.RewardRule) { r.Name = " " }, false},
		{"negative base", func(r *models.RewardRule) { r.BaseAmount = -1 }, false},
		{"inverted window", func(r *models.RewardRule) { r.ValidFrom, r.ValidTo = &later, &now }, false},
		{"equal window bounds", func(r *models.RewardRule) { r.ValidFrom, r.ValidTo = &now, &now }, true},
		{"intensity out of scale", func(r *models.RewardRule) { r.Conditions.MaxIntensity = intP(11) }, false},
		{"inverted duration", func(r *models.RewardRule) {
			r.Conditions.MinDuration, r.Conditions.MaxDuration = intP(60), intP(30)
		}, false},
		{"unknown bucket", func(r *models.RewardRule) { r.Conditions.TimesOfDay = []string{"brunch"} }, false},
		{"bad weekday", func(r *models.RewardRule) { r.Conditions.DaysOfWeek = []int{7} }, false},
		{"unknown predicate", func(r *models.RewardRule) {
			r.Multipliers = []models.MultiplierRule{{Predicate: "full_moon", Factor: 2}}
		}, false},
		{"zero factor", func(r *models.RewardRule) {
			r.Multipliers = []models.MultiplierRule{{Predicate: models.PredicateWeekend, Factor: 0}}
		}, false},
		{"zero streak", func(r *models.RewardRule) { r.Conditions.MinStreakLength = intP(0) }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := rule("r", 1, 10)
			tc.mutate(r)
			err := ValidateRule(r)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("expected ErrInvalidRule, got %v", err)
			}
		})
	}
}
