package settlement

import (
	"testing"
	"time"
)

const day = 24 * time.Hour

func TestScoreRisk_ScenarioNewAccountLargeAmount(t *testing.T) {
	r := ScoreRisk(RiskInputs{AccountAge: 3 * day, Amount: 12000, RecentRequests: 2})
	if r.Score != 0.8 {
		t.Fatalf("score = %v, want 0.8", r.Score)
	}
	if !r.RequiresReview(0.7) {
		t.Error("0.8 must route to admin review")
	}
	want := []string{FactorAccountUnder7Days, FactorAmountOver10000, FactorRequestsOver1}
	if len(r.Factors) != len(want) {
		t.Fatalf("factors = %v, want %v", r.Factors, want)
	}
	for i := range want {
		if r.Factors[i] != want[i] {
			t.Errorf("factor[%d] = %s, want %s", i, r.Factors[i], want[i])
		}
	}
}

func TestScoreRisk_Tiers(t *testing.T) {
	old := 365 * day
	tests := []struct {
		name string
		in   RiskInputs
		want float64
	}{
		{"clean", RiskInputs{AccountAge: old, Amount: 100}, 0},
		{"account < 30d", RiskInputs{AccountAge: 10 * day}, 0.2},
		{"account < 7d wins over < 30d", RiskInputs{AccountAge: 6 * day}, 0.4},
		{"amount exactly 5000", RiskInputs{AccountAge: old, Amount: 5000}, 0},
		{"amount > 5000", RiskInputs{AccountAge: old, Amount: 5001}, 0.1},
		{"amount exactly 10000", RiskInputs{AccountAge: old, Amount: 10000}, 0.1},
		{"amount > 10000", RiskInputs{AccountAge: old, Amount: 10001}, 0.3},
		{"one recent request", RiskInputs{AccountAge: old, RecentRequests: 1}, 0},
		{"two recent requests", RiskInputs{AccountAge: old, RecentRequests: 2}, 0.1},
		{"four recent requests", RiskInputs{AccountAge: old, RecentRequests: 4}, 0.3},
		{"address reused", RiskInputs{AccountAge: old, AddressReused: true}, 0.2},
		{"everything clamps to 1", RiskInputs{AccountAge: day, Amount: 50000, RecentRequests: 9, AddressReused: true}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ScoreRisk(tc.in).Score; got != tc.want {
				t.Errorf("score = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRequiresReview_StrictlyAboveThreshold(t *testing.T) {
	// 0.4 + 0.3 = 0.7 exactly stays out of review.
	at := ScoreRisk(RiskInputs{AccountAge: 3 * day, Amount: 20000})
	if at.Score != 0.7 || at.RequiresReview(0.7) {
		t.Errorf("score %v at threshold must not require review", at.Score)
	}
}

// Crossing any single threshold never lowers the score, and scores stay in [0, 1].
func TestScoreRisk_MonotonicAndClamped(t *testing.T) {
	ages := []time.Duration{0, 6 * day, 7 * day, 29 * day, 30 * day, 400 * day}
	amounts := []int64{0, 5000, 5001, 10000, 10001, 1_000_000}
	recents := []int{0, 1, 2, 3, 4, 50}
	reused := []bool{false, true}

	score := func(in RiskInputs) float64 {
		s := ScoreRisk(in).Score
		if s < 0 || s > 1 {
			t.Fatalf("score %v out of range for %+v", s, in)
		}
		return s
	}

	for _, age := range ages {
		for _, amt := range amounts {
			for _, rec := range recents {
				for _, ru := range reused {
					base := RiskInputs{AccountAge: age, Amount: amt, RecentRequests: rec, AddressReused: ru}
					s := score(base)

					younger := base
					younger.AccountAge = 0
					larger := base
					larger.Amount = amt + 6000
					busier := base
					busier.RecentRequests = rec + 2
					flagged := base
					flagged.AddressReused = true

					for name, in := range map[string]RiskInputs{"younger": younger, "larger": larger, "busier": busier, "flagged": flagged} {
						if got := score(in); got < s {
							t.Errorf("%s decreased score %v -> %v from %+v", name, s, got, base)
						}
					}
				}
			}
		}
	}
}
