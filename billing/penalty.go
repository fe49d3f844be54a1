package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/maintenance-engine/generic"
)

var hundred = decimal.NewFromInt(100)

// DaysLate is the number of whole days eval falls after the grace window.
// The due date plus GraceDays is the last penalty-free day.
func DaysLate(terms PenaltyTerms, due, eval generic.Date) int {
	graceEnd := due.AddDays(terms.GraceDays)
	if !eval.After(graceEnd) {
		return 0
	}
	return generic.DaysBetween(graceEnd, eval)
}

// CalculatePenalty returns the late penalty accrued on base as of eval.
//
// The penalty is recomputed from scratch on every call, never accumulated.
//
//	flat               -> value, once
//	percentage         -> base * value / 100, once
//	percentage_per_day -> base * value / 100 * daysLate
func CalculatePenalty(terms PenaltyTerms, base generic.Amount, due, eval generic.Date) generic.Amount {
	days := DaysLate(terms, due, eval)
	if days <= 0 || terms.Value.IsNegative() {
		return generic.Zero()
	}

	var penalty generic.Amount
	switch terms.Type {
	case PenaltyFlat:
		penalty = generic.NewAmount(terms.Value)
	case PenaltyPercentage:
		penalty = base.Mul(terms.Value).Div(hundred)
	case PenaltyPercentagePerDay:
		penalty = base.Mul(terms.Value).Div(hundred).Mul(decimal.NewFromInt(int64(days)))
	default:
		return generic.Zero()
	}
	return penalty.Round()
}
