package settlement

import (
	"math"
	"time"
)

// Risk factor names recorded on the request.
const (
	FactorAccountUnder7Days  = "account_age_lt_7d"
	FactorAccountUnder30Days = "account_age_lt_30d"
	FactorAmountOver10000    = "amount_gt_10000"
	FactorAmountOver5000     = "amount_gt_5000"
	FactorRequestsOver3      = "requests_24h_gt_3"
	FactorRequestsOver1      = "requests_24h_gt_1"
	FactorAddressReused      = "address_used_by_other_user"
)

// RiskInputs are the independent signals the score is built from.
type RiskInputs struct {
	AccountAge time.Duration
	Amount     int64
	// RecentRequests counts the user's earlier requests in the trailing 24h.
	RecentRequests int
	// AddressReused is set when the destination completed a settlement for another user.
	AddressReused bool
}

type Risk struct {
	Score   float64
	Factors []string
	points  int // hundredths
}

// ScoreRisk sums fixed increments per factor, within each tiered factor only the most severe
// tier counting, and caps the total at 1.0. Arithmetic is in hundredths so scores compare exactly.
func ScoreRisk(in RiskInputs) Risk {
	var (
		points  int
		factors = []string{}
	)
	add := func(p int, name string) {
		points += p
		factors = append(factors, name)
	}

	switch {
	case in.AccountAge < 7*24*time.Hour:
		add(40, FactorAccountUnder7Days)
	case in.AccountAge < 30*24*time.Hour:
		add(20, FactorAccountUnder30Days)
	}
	switch {
	case in.Amount > 10000:
		add(30, FactorAmountOver10000)
	case in.Amount > 5000:
		add(10, FactorAmountOver5000)
	}
	switch {
	case in.RecentRequests > 3:
		add(30, FactorRequestsOver3)
	case in.RecentRequests > 1:
		add(10, FactorRequestsOver1)
	}
	if in.AddressReused {
		add(20, FactorAddressReused)
	}

	points = min(max(points, 0), 100)
	return Risk{Score: float64(points) / 100, Factors: factors, points: points}
}

// RequiresReview reports whether the score is strictly above threshold.
func (r Risk) RequiresReview(threshold float64) bool {
	return r.points > int(math.Round(threshold*100))
}
