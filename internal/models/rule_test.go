package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSortRules(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	c := uuid.MustParse("00000000-0000-0000-0000-00000000000c")

	rules := []*RewardRule{
		{ID: c, Priority: 5},
		{ID: b, Priority: 10},
		{ID: a, Priority: 5},
	}
	SortRules(rules)

	want := []uuid.UUID{b, a, c}
	for i, r := range rules {
		if r.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, r.ID, want[i])
		}
	}
}

func TestRewardRule_ValidAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	cases := []struct {
		name string
		rule RewardRule
		want bool
	}{
		{"unbounded", RewardRule{Active: true}, true},
		{"inactive", RewardRule{Active: false}, false},
		{"inside window", RewardRule{Active: true, ValidFrom: &before, ValidTo: &after}, true},
		{"not yet valid", RewardRule{Active: true, ValidFrom: &after}, false},
		{"expired", RewardRule{Active: true, ValidTo: &before}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rule.ValidAt(now); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTimeOfDayBucket(t *testing.T) {
	cases := map[int]string{
		4: TimeOfDayNight, 5: TimeOfDayMorning, 11: TimeOfDayMorning,
		12: TimeOfDayAfternoon, 17: TimeOfDayEvening, 21: TimeOfDayNight,
	}
	for hour, want := range cases {
		ts := time.Date(2026, 1, 1, hour, 30, 0, 0, time.UTC)
		if got := TimeOfDayBucket(ts); got != want {
			t.Errorf("hour %d: got %s, want %s", hour, got, want)
		}
	}
}
