package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

// =============================================================================
// SETTLEMENT SCENARIO
// =============================================================================

func TestLedger_FlatPenaltyScenario(t *testing.T) {
	// GIVEN: 2BHK, base 5000, due 5th, grace 3, flat 200
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)

	// WHEN: evaluated on the 9th
	f.clock.Set(2025, time.March, 9)
	view, err := f.queries.GetBill(ctx, resident, bill.ID)
	require.NoError(t, err)

	// THEN: penalty 200, overdue
	assert.Equal(t, "200.00", view.AccruedPenalty.String())
	assert.Equal(t, billing.StatusOverdue, view.Status)

	// WHEN: 5000 paid on the 9th
	res, err := f.pay(t, resident, bill.ID, "5000")
	require.NoError(t, err)

	// THEN: 200 still owed, partial
	assert.Equal(t, billing.StatusPartial, res.Bill.Status)
	assert.Equal(t, "200.00", res.Bill.Outstanding().String())

	// WHEN: the remaining 200 is paid
	res, err = f.pay(t, resident, bill.ID, "200")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, res.Bill.Status)
	require.NotNil(t, res.Bill.SettledOn)
	assert.Equal(t, "2025-03-09", res.Bill.SettledOn.String())

	// THEN: any further payment is an overpayment
	_, err = f.pay(t, resident, bill.ID, "1")
	var opErr *generic.OverpaymentError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "1.00", opErr.Excess.String())

	payments, err := f.queries.ListBillPayments(ctx, resident, bill.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestLedger_PaidPenaltyStaysFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)

	f.clock.Set(2025, time.March, 9)
	_, err := f.pay(t, resident, bill.ID, "5200")
	require.NoError(t, err)

	// Months later
	f.clock.Set(2025, time.August, 1)
	got, err := f.queries.GetBill(ctx, admin, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, got.Status)
	assert.Equal(t, "200.00", got.AccruedPenalty.String())
}

// =============================================================================
// OVERPAYMENT
// =============================================================================

func TestLedger_OverpaymentRejectedBeyondTolerance(t *testing.T) {
	f := newFixture(t)
	bill := f.seed2BHK(t)

	// Beyond 5000 + 0.01
	_, err := f.pay(t, resident, bill.ID, "5000.02")
	var opErr *generic.OverpaymentError
	require.True(t, errors.As(err, &opErr), "expected OverpaymentError, got %v", err)
	assert.Equal(t, "5000.00", opErr.Owed.String())
	assert.Equal(t, "0.02", opErr.Excess.String())

	// Nothing was recorded
	n, err := f.store.CountPaymentsByBill(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Within tolerance is accepted
	res, err := f.pay(t, resident, bill.ID, "5000.01")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, res.Bill.Status)
}

// =============================================================================
// VALIDATION AND SCOPE
// =============================================================================

func TestLedger_RejectsInvalidPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)

	future := f.clock.Now().Add(48 * time.Hour)
	tests := []struct {
		name string
		in   billing.PaymentInput
	}{
		{"zero amount", billing.PaymentInput{BillID: bill.ID, Amount: amt("0"), Method: billing.MethodCash}},
		{"negative amount", billing.PaymentInput{BillID: bill.ID, Amount: amt("-10"), Method: billing.MethodCash}},
		{"unknown method", billing.PaymentInput{BillID: bill.ID, Amount: amt("10"), Method: "barter"}},
		{"future paid_at", billing.PaymentInput{BillID: bill.ID, Amount: amt("10"), Method: billing.MethodUPI, PaidAt: &future}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.RecordPayment(ctx, admin, tt.in)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	_, err := f.ledger.RecordPayment(ctx, resident, billing.PaymentInput{
		BillID: "missing", Amount: amt("10"), Method: billing.MethodUPI,
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestLedger_ResidentsPayOnlyTheirOwnBills(t *testing.T) {
	f := newFixture(t)
	bill := f.seed2BHK(t)

	_, err := f.pay(t, neighbour, bill.ID, "100")
	assert.ErrorIs(t, err, generic.ErrForbidden)

	_, err = f.pay(t, outsider, bill.ID, "100")
	assert.ErrorIs(t, err, generic.ErrForbidden)

	// Admins record on the resident's behalf
	res, err := f.pay(t, admin, bill.ID, "100")
	require.NoError(t, err)
	assert.Equal(t, resident.ID, res.Payment.PayerID)
	assert.Equal(t, admin.ID, res.Payment.RecordedBy)
}

func TestLedger_BackdatedPaymentUsesItsOwnDate(t *testing.T) {
	// GIVEN: a cash payment collected on the 7th, entered on the 20th
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)
	f.clock.Set(2025, time.March, 20)
	collected := time.Date(2025, time.March, 7, 18, 0, 0, 0, time.UTC)

	// WHEN
	res, err := f.ledger.RecordPayment(ctx, admin, billing.PaymentInput{
		BillID: bill.ID,
		Amount: amt("5000"),
		Method: billing.MethodCash,
		PaidAt: &collected,
	})

	// THEN: it was within grace, so no penalty and the bill is settled
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, res.Bill.Status)
	assert.True(t, res.Bill.AccruedPenalty.IsZero())
}

func TestLedger_BackdatedPaymentKeepsAssessedPenalty(t *testing.T) {
	// GIVEN: 5000 paid on the 9th, after grace, so the flat 200 is assessed
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)
	f.clock.Set(2025, time.March, 9)
	res, err := f.pay(t, resident, bill.ID, "5000")
	require.NoError(t, err)
	require.Equal(t, billing.StatusPartial, res.Bill.Status)
	require.Equal(t, amt("200").String(), res.Bill.AccruedPenalty.String())

	// WHEN: a later entry is backdated to before the due date
	early := time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC)
	res, err = f.ledger.RecordPayment(ctx, admin, billing.PaymentInput{
		BillID: bill.ID,
		Amount: amt("0.01"),
		Method: billing.MethodCash,
		PaidAt: &early,
	})

	// THEN: the penalty is still assessed as of the 9th
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPartial, res.Bill.Status)
	assert.Equal(t, amt("200").String(), res.Bill.AccruedPenalty.String())
	assert.Equal(t, amt("199.99").String(), res.Bill.Outstanding().String())
}

func TestLedger_ResidentsCannotBackdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)
	f.clock.Set(2025, time.March, 9)
	early := time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC)

	_, err := f.ledger.RecordPayment(ctx, resident, billing.PaymentInput{
		BillID: bill.ID,
		Amount: amt("5000"),
		Method: billing.MethodUPI,
		PaidAt: &early,
	})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	payments, err := f.queries.ListBillPayments(ctx, resident, bill.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

// =============================================================================
// DELETE
// =============================================================================

func TestLedger_DeletePaymentRestoresStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)

	res, err := f.pay(t, resident, bill.ID, "3000")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPartial, res.Bill.Status)

	// Residents cannot reverse payments
	_, err = f.ledger.DeletePayment(ctx, resident, res.Payment.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)

	// WHEN: an admin deletes it after the grace window
	f.clock.Set(2025, time.March, 12)
	after, err := f.ledger.DeletePayment(ctx, admin, res.Payment.ID)

	// THEN: nothing paid, overdue with penalty as of today
	require.NoError(t, err)
	assert.True(t, after.AmountPaid.IsZero())
	assert.Equal(t, billing.StatusOverdue, after.Status)
	assert.Equal(t, "200.00", after.AccruedPenalty.String())

	_, err = f.queries.GetPayment(ctx, admin, res.Payment.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestLedger_DeleteReopensPaidBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)

	first, err := f.pay(t, resident, bill.ID, "2000")
	require.NoError(t, err)
	_, err = f.pay(t, resident, bill.ID, "3000")
	require.NoError(t, err)

	after, err := f.ledger.DeletePayment(ctx, admin, first.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPartial, after.Status)
	assert.Nil(t, after.SettledOn)
	assert.Equal(t, "3000.00", after.AmountPaid.String())
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestLedger_PaidNeverExceedsOwed(t *testing.T) {
	// GIVEN: a sequence of payments and deletes across the grace boundary
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)
	tol := billing.DefaultConfig().Tolerance

	check := func() {
		t.Helper()
		stored, err := f.store.GetBill(ctx, bill.ID)
		require.NoError(t, err)
		assert.False(t, stored.AmountPaid.GreaterThan(stored.Owed().Add(tol)),
			"paid %s exceeds owed %s", stored.AmountPaid, stored.Owed())
	}

	var ids []billing.PaymentID
	steps := []struct {
		day    int
		amount string
	}{
		{2, "1000"}, {4, "1500"}, {9, "4000"}, {10, "2500"}, {11, "200"}, {12, "0.01"},
	}
	for _, s := range steps {
		f.clock.Set(2025, time.March, s.day)
		res, err := f.pay(t, resident, bill.ID, s.amount)
		if err == nil {
			ids = append(ids, res.Payment.ID)
		} else {
			assert.ErrorIs(t, err, generic.ErrOverpayment)
		}
		check()
	}

	for _, id := range ids {
		_, err := f.ledger.DeletePayment(ctx, admin, id)
		require.NoError(t, err)
		check()
	}
}

func TestLedger_ConcurrentPaymentsNeverOverpay(t *testing.T) {
	// GIVEN: a 5000 bill and ten concurrent 1000 payments
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.RecordPayment(ctx, resident, billing.PaymentInput{
				BillID: bill.ID, Amount: amt("1000"), Method: billing.MethodUPI,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// THEN: exactly five landed
	assert.Equal(t, 5, succeeded)
	stored, err := f.store.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", stored.AmountPaid.String())
	assert.Equal(t, billing.StatusPaid, stored.Status)

	n, err := f.store.CountPaymentsByBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

// =============================================================================
// RECONCILE
// =============================================================================

func TestLedger_ReconcileMatchesReadView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)

	f.clock.Set(2025, time.March, 15)
	updated, err := f.ledger.Reconcile(ctx, society)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	stored, err := f.store.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	view, err := f.queries.GetBill(ctx, admin, bill.ID)
	require.NoError(t, err)

	assert.Equal(t, view.Status, stored.Status)
	assert.True(t, view.AccruedPenalty.Equal(stored.AccruedPenalty))

	// A second run has nothing to do
	updated, err = f.ledger.Reconcile(ctx, society)
	require.NoError(t, err)
	assert.Zero(t, updated)
}
