package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/inaiurai/rewards/internal/models"
)

// DefaultApprovalBonusMultiplier applies when an activity carries external sign-off.
const DefaultApprovalBonusMultiplier = 1.5

const (
	// Duration scaling is linear in minutes and reaches its 3x ceiling at 90 minutes.
	durationUnitMinutes = 30
	maxDurationScale    = 3
	// Intensity is clamped to 1..10; intensity 5 scales by 1.0.
	intensityMin     = 1
	intensityMax     = 10
	intensityNeutral = 5

	earlyBirdHour       = 7
	highIntensityFloor  = 8
	longDurationMinutes = 60

	// Streak progression: +0.1x per day beyond the first, 3x from day 21.
	maxStreakScale = 3
)

// Options configures the engine.
type Options struct {
	ApprovalBonusMultiplier float64
	// Location is used for time-of-day, day-of-week and early-bird checks. Defaults to UTC.
	Location *time.Location
}

// AppliedMultiplier is one step of the multiplier breakdown.
type AppliedMultiplier struct {
	Rule   string  `json:"rule"`
	Name   string  `json:"name"`
	Factor float64 `json:"factor"`
	Before int64   `json:"before"`
	After  int64   `json:"after"`
}

func (m AppliedMultiplier) String() string {
	return fmt.Sprintf("%s:%s x%g", m.Rule, m.Name, m.Factor)
}

// Evaluation is the engine output. Caps are the most restrictive of the applied rules.
type Evaluation struct {
	Amount      int64               `json:"amount"`
	BaseTotal   int64               `json:"base_total"`
	Rules       []string            `json:"rules"`
	Multipliers []AppliedMultiplier `json:"multipliers"`
	DailyCap    *int64              `json:"daily_cap,omitempty"`
	UserCap     *int64              `json:"user_cap,omitempty"`
}

// Multiplier is the effective multiplier of Amount over the summed rule contributions.
func (e *Evaluation) Multiplier() float64 {
	if e.BaseTotal <= 0 {
		return 1
	}
	return float64(e.Amount) / float64(e.BaseTotal)
}

// MultiplierNames renders the breakdown for job results.
func (e *Evaluation) MultiplierNames() []string {
	out := make([]string, 0, len(e.Multipliers))
	for _, m := range e.Multipliers {
		out = append(out, m.String())
	}
	return out
}

// Engine evaluates reward rules. It holds no state besides its options and is safe for
// concurrent use.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	if opts.ApprovalBonusMultiplier <= 0 {
		opts.ApprovalBonusMultiplier = DefaultApprovalBonusMultiplier
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Engine{opts: opts}
}

// Evaluate computes the reward for an activity event against the given rules. It returns
// nil when no rule matches or the final amount is not positive.
//
// Every multiplication is rounded to a whole token before the next one is applied.
func (e *Engine) Evaluate(event models.ActivityEvent, history models.ActivityHistory, rules []*models.RewardRule, now time.Time) *Evaluation {
	local := event.CompletedAt.In(e.opts.Location)

	matched := make([]*models.RewardRule, 0, len(rules))
	for _, r := range rules {
		if r.Conditions.MinStreakLength != nil {
			continue // streak rules are evaluated by EvaluateStreak
		}
		if r.ValidAt(now) && matchesActivity(r.Conditions, event, local) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	models.SortRules(matched)

	durationScale := decimal.NewFromInt(int64(event.DurationMinutes)).Div(decimal.NewFromInt(durationUnitMinutes))
	if durationScale.GreaterThan(decimal.NewFromInt(maxDurationScale)) {
		durationScale = decimal.NewFromInt(maxDurationScale)
	}
	if durationScale.IsNegative() {
		durationScale = decimal.Zero
	}
	intensityScale := decimal.NewFromInt(int64(clamp(event.Intensity, intensityMin, intensityMax))).
		Div(decimal.NewFromInt(intensityNeutral))

	ev := &Evaluation{}
	total := decimal.Zero
	for _, r := range matched {
		contribution := decimal.NewFromInt(r.BaseAmount).Mul(durationScale).Round(0)
		contribution = contribution.Mul(intensityScale).Round(0)
		total = total.Add(contribution)
		ev.Rules = append(ev.Rules, r.Name)
		ev.DailyCap = tighter(ev.DailyCap, r.DailyCap)
		ev.UserCap = tighter(ev.UserCap, r.UserCap)
	}
	ev.BaseTotal = total.IntPart()

	for _, r := range matched {
		for _, m := range r.Multipliers {
			if !predicateHolds(m.Predicate, event, history, local) {
				continue
			}
			before := total.IntPart()
			total = total.Mul(decimal.NewFromFloat(m.Factor)).Round(0)
			ev.Multipliers = append(ev.Multipliers, AppliedMultiplier{
				Rule: r.Name, Name: m.Predicate, Factor: m.Factor, Before: before, After: total.IntPart(),
			})
		}
	}

	if event.ExternallyApproved {
		before := total.IntPart()
		bonus := total.Mul(decimal.NewFromFloat(e.opts.ApprovalBonusMultiplier - 1)).Round(0)
		total = total.Add(bonus)
		ev.Multipliers = append(ev.Multipliers, AppliedMultiplier{
			Rule: "approval_bonus", Name: "externally_approved", Factor: e.opts.ApprovalBonusMultiplier,
			Before: before, After: total.IntPart(),
		})
	}

	ev.Amount = total.IntPart()
	if ev.Amount <= 0 {
		return nil
	}
	return ev
}

// EvaluateStreak picks the single eligible streak rule yielding the highest amount.
// Rules are eligible when valid at now and their minimum streak length is at most streakDays.
func (e *Engine) EvaluateStreak(streakDays int, rules []*models.RewardRule, now time.Time) *Evaluation {
	if streakDays <= 0 {
		return nil
	}
	eligible := make([]*models.RewardRule, 0, len(rules))
	for _, r := range rules {
		if r.ValidAt(now) && r.Conditions.MinStreakLength != nil && *r.Conditions.MinStreakLength <= streakDays {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	models.SortRules(eligible)

	scale := StreakScale(streakDays)
	var best *models.RewardRule
	var bestAmount int64
	for _, r := range eligible {
		amount := decimal.NewFromInt(r.BaseAmount).Mul(scale).Round(0).IntPart()
		if best == nil || amount > bestAmount {
			best, bestAmount = r, amount
		}
	}
	if bestAmount <= 0 {
		return nil
	}
	f, _ := scale.Float64()
	return &Evaluation{
		Amount:    bestAmount,
		BaseTotal: best.BaseAmount,
		Rules:     []string{best.Name},
		Multipliers: []AppliedMultiplier{{
			Rule: best.Name, Name: "streak_progression", Factor: f, Before: best.BaseAmount, After: bestAmount,
		}},
		DailyCap: best.DailyCap,
		UserCap:  best.UserCap,
	}
}

// StreakScale returns 1 + 0.1 per day beyond the first, capped at 3.
func StreakScale(streakDays int) decimal.Decimal {
	if streakDays < 1 {
		return decimal.NewFromInt(1)
	}
	scale := decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(streakDays - 1)).Div(decimal.NewFromInt(10)))
	if scale.GreaterThan(decimal.NewFromInt(maxStreakScale)) {
		return decimal.NewFromInt(maxStreakScale)
	}
	return scale
}

func matchesActivity(c models.RuleConditions, ev models.ActivityEvent, local time.Time) bool {
	if len(c.EventTypes) > 0 && !containsFold(c.EventTypes, ev.Type) {
		return false
	}
	if len(c.Categories) > 0 && !containsFold(c.Categories, ev.Category) {
		return false
	}
	if !inRange(ev.DurationMinutes, c.MinDuration, c.MaxDuration) {
		return false
	}
	if !inRange(ev.Intensity, c.MinIntensity, c.MaxIntensity) {
		return false
	}
	if len(c.TimesOfDay) > 0 && !containsFold(c.TimesOfDay, models.TimeOfDayBucket(local)) {
		return false
	}
	if len(c.DaysOfWeek) > 0 {
		day := int(local.Weekday())
		found := false
		for _, d := range c.DaysOfWeek {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func predicateHolds(name string, ev models.ActivityEvent, h models.ActivityHistory, local time.Time) bool {
	switch name {
	case models.PredicateFirstActivityOfDay:
		return h.ActivitiesEarlierToday == 0
	case models.PredicateWeekend:
		wd := local.Weekday()
		return wd == time.Saturday || wd == time.Sunday
	case models.PredicateEarlyBird:
		return local.Hour() < earlyBirdHour
	case models.PredicateHighIntensity:
		return ev.Intensity >= highIntensityFloor
	case models.PredicateLongDuration:
		return ev.DurationMinutes >= longDurationMinutes
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

func inRange(v int, lo, hi *int) bool {
	if lo != nil && v < *lo {
		return false
	}
	if hi != nil && v > *hi {
		return false
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// tighter returns the smaller of two optional caps; nil is unbounded.
func tighter(cur, next *int64) *int64 {
	if next == nil {
		return cur
	}
	if cur == nil || *next < *cur {
		v := *next
		return &v
	}
	return cur
}
