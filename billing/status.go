package billing

import (
	"github.com/warp/maintenance-engine/generic"
)

// =============================================================================
// STATUS - Computed view over (due date, grace, amount paid, evaluation date)
// =============================================================================

// DeriveStatus classifies a bill.
//
//	paid    amountPaid >= owed - tolerance (absorbing)
//	partial 0 < amountPaid < owed, regardless of date
//	overdue amountPaid == 0 and eval is past due date + grace
//	pending amountPaid == 0 and still within due date + grace
func DeriveStatus(owed, paid, tolerance generic.Amount, graceEnd, eval generic.Date) BillStatus {
	switch {
	case paid.GreaterThanOrEqual(owed.Sub(tolerance)):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	case eval.After(graceEnd):
		return StatusOverdue
	default:
		return StatusPending
	}
}

// Evaluate recomputes penalty and status of b as of eval and returns the new
// state. Paid bills keep the penalty frozen at their settlement date.
func Evaluate(b Bill, eval generic.Date, tolerance generic.Amount) BillState {
	penaltyAt := eval
	if b.Status == StatusPaid && b.SettledOn != nil {
		penaltyAt = *b.SettledOn
	}
	return settle(b, b.AmountPaid, penaltyAt, tolerance)
}

// settle computes the state of b if amountPaid were paid with penalty
// evaluated at penaltyAt.
func settle(b Bill, amountPaid generic.Amount, penaltyAt generic.Date, tolerance generic.Amount) BillState {
	penalty := CalculatePenalty(b.Terms, b.BaseAmount, b.DueDate, penaltyAt)
	owed := b.BaseAmount.Add(penalty)
	status := DeriveStatus(owed, amountPaid, tolerance, b.GraceEnd(), penaltyAt)

	state := BillState{
		AccruedPenalty: penalty,
		AmountPaid:     amountPaid,
		Status:         status,
	}
	if status == StatusPaid {
		settled := penaltyAt
		state.SettledOn = &settled
	}
	return state
}

// Refresh returns b with its lazily derived fields recomputed as of eval.
func Refresh(b Bill, eval generic.Date, tolerance generic.Amount) Bill {
	st := Evaluate(b, eval, tolerance)
	b.AccruedPenalty = st.AccruedPenalty
	b.Status = st.Status
	b.SettledOn = st.SettledOn
	return b
}

func (s BillState) differsFrom(b Bill) bool {
	return !s.AccruedPenalty.Equal(b.AccruedPenalty) ||
		!s.AmountPaid.Equal(b.AmountPaid) ||
		s.Status != b.Status
}
