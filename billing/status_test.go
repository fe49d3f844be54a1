package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

func TestDeriveStatus(t *testing.T) {
	tol := amt("0.01")
	graceEnd := march(8)

	tests := []struct {
		name string
		owed string
		paid string
		eval generic.Date
		want billing.BillStatus
	}{
		{"unpaid within grace", "5000", "0", march(8), billing.StatusPending},
		{"unpaid after grace", "5200", "0", march(9), billing.StatusOverdue},
		{"partly paid before due", "5000", "100", march(1), billing.StatusPartial},
		{"partly paid after grace", "5200", "5000", march(20), billing.StatusPartial},
		{"fully paid", "5000", "5000", march(1), billing.StatusPaid},
		{"paid within tolerance", "5000", "4999.99", march(1), billing.StatusPaid},
		{"just outside tolerance", "5000", "4999.98", march(1), billing.StatusPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := billing.DeriveStatus(amt(tt.owed), amt(tt.paid), tol, graceEnd, tt.eval)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefresh_LazyOverdue(t *testing.T) {
	// GIVEN: a stored pending bill
	bill := billing.Bill{
		BaseAmount:     amt("5000"),
		DueDate:        march(5),
		Terms:          billing.PenaltyTerms{Type: billing.PenaltyFlat, Value: decimal.NewFromInt(200), GraceDays: 3},
		AccruedPenalty: generic.Zero(),
		AmountPaid:     generic.Zero(),
		Status:         billing.StatusPending,
	}

	// WHEN: read after the grace window with no job having run
	got := billing.Refresh(bill, march(9), amt("0.01"))

	// THEN: the view is overdue with the penalty applied
	assert.Equal(t, billing.StatusOverdue, got.Status)
	assert.Equal(t, "200.00", got.AccruedPenalty.String())
	assert.Equal(t, "5200.00", got.Owed().String())
}

func TestEvaluate_PaidBillKeepsSettlementPenalty(t *testing.T) {
	settled := march(7)
	bill := billing.Bill{
		BaseAmount:     amt("1000"),
		DueDate:        march(5),
		Terms:          billing.PenaltyTerms{Type: billing.PenaltyPercentagePerDay, Value: decimal.NewFromInt(1)},
		AccruedPenalty: amt("20"),
		AmountPaid:     amt("1020"),
		Status:         billing.StatusPaid,
		SettledOn:      &settled,
	}

	// Months later the penalty has not moved and the bill is still paid.
	st := billing.Evaluate(bill, generic.NewDate(2025, time.June, 1), amt("0.01"))
	assert.Equal(t, billing.StatusPaid, st.Status)
	assert.Equal(t, "20.00", st.AccruedPenalty.String())
}
