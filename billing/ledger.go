/*
ledger.go - Payment Ledger: applies settlement facts to bills

PURPOSE:
  Appends Payment records against a Bill and recomputes the Bill's penalty,
  amount paid and status. The bill's aggregate is the source of truth for
  what remains owed; payments never change after they are recorded.

CRITICAL INVARIANTS:
  1. amountPaid <= baseAmount + accruedPenalty + tolerance, always.
  2. Overpayment is rejected, never silently capped, so the caller can fix
     the entered amount.
  3. paid is absorbing: any further payment is an OverpaymentError.
  4. Status is recomputed from the ledger total, never stored as an
     independent fact.

PENALTY AT SETTLEMENT:
  Each payment recomputes the accrued penalty as of the latest society-local
  payment date on the bill, this payment included. A backdated payment can
  therefore never undo a penalty an earlier-recorded payment already assessed.
  Once the bill is paid, the penalty is frozen at the settlement date.

BACKDATING:
  Only admins may set PaidAt (cash or cheque collected earlier). Residents
  always pay as of submission time.

CONCURRENCY:
  Payment insert and bill update run in one Store.WithTx. The bill update is
  conditional on the version read at the start of the transaction; if another
  writer got there first the whole read-modify-write is re-run.

SEE ALSO:
  - penalty.go: CalculatePenalty
  - status.go: DeriveStatus, settle
  - store.go: UpdateBillState version contract
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/maintenance-engine/generic"
)

// maxWriteAttempts bounds re-runs after an optimistic version conflict.
const maxWriteAttempts = 5

// PaymentInput is a payment submission.
type PaymentInput struct {
	BillID    BillID
	PayerID   generic.ActorID // admins may pay on behalf of a resident; ignored for residents
	Amount    generic.Amount
	Method    PaymentMethod
	Reference string
	PaidAt    *time.Time // defaults to submission time
}

// PaymentResult is the recorded payment and the bill after applying it.
type PaymentResult struct {
	Payment Payment
	Bill    Bill
}

// Ledger is the Payment Ledger.
type Ledger struct {
	store Store
	cfg   Config
	now   generic.Clock
}

func NewLedger(store Store, cfg Config, clock generic.Clock) *Ledger {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Ledger{store: store, cfg: cfg, now: clock}
}

// RecordPayment applies a payment to a bill.
func (l *Ledger) RecordPayment(ctx context.Context, actor generic.Actor, in PaymentInput) (*PaymentResult, error) {
	bill, err := l.store.GetBill(ctx, in.BillID)
	if err != nil {
		return nil, err
	}
	if err := canPay(actor, *bill); err != nil {
		return nil, err
	}
	if in.PaidAt != nil && !actor.IsAdmin() {
		return nil, &generic.ForbiddenError{ActorID: actor.ID, Reason: "only an admin may set paid_at"}
	}

	now := l.now().UTC()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	payment := Payment{
		ID:         PaymentID(uuid.NewString()),
		BillID:     bill.ID,
		SocietyID:  bill.SocietyID,
		PayerID:    payerFor(actor, *bill, in.PayerID),
		Amount:     in.Amount,
		Method:     in.Method,
		Reference:  strings.TrimSpace(in.Reference),
		PaidAt:     now,
		RecordedBy: actor.ID,
		CreatedAt:  now,
	}
	if in.PaidAt != nil {
		payment.PaidAt = in.PaidAt.UTC()
	}

	var result *PaymentResult
	err = l.retry(ctx, func(tx Store) error {
		current, err := tx.GetBill(ctx, in.BillID)
		if err != nil {
			return err
		}
		prior, err := tx.ListPaymentsByBill(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("failed to load payments: %w", err)
		}
		state, err := l.apply(*current, payment, l.assessedOn(payment, prior), now)
		if err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}
		if err := tx.UpdateBillState(ctx, current.ID, current.Version, state); err != nil {
			return err
		}
		result = &PaymentResult{Payment: payment, Bill: withState(*current, state)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Ledger] payment %s of %s on bill %s -> %s (paid %s of %s)",
		payment.ID, payment.Amount, bill.ID, result.Bill.Status, result.Bill.AmountPaid, result.Bill.Owed())
	return result, nil
}

// assessedOn is the penalty evaluation date for p: the latest payment date
// recorded on the bill, p included.
func (l *Ledger) assessedOn(p Payment, prior []Payment) generic.Date {
	asOf := l.cfg.DateOf(p.PaidAt)
	for _, q := range prior {
		if d := l.cfg.DateOf(q.PaidAt); d.After(asOf) {
			asOf = d
		}
	}
	return asOf
}

// apply computes the bill state after the payment, rejecting overpayment.
func (l *Ledger) apply(b Bill, p Payment, asOf generic.Date, now time.Time) (BillState, error) {
	today := l.cfg.DateOf(now)
	if Evaluate(b, today, l.cfg.Tolerance).Status == StatusPaid {
		return BillState{}, &generic.OverpaymentError{
			BillID:    string(b.ID),
			Owed:      b.Owed(),
			Paid:      b.AmountPaid,
			Attempted: p.Amount,
			Excess:    p.Amount,
		}
	}

	newPaid := b.AmountPaid.Add(p.Amount)
	state := settle(b, newPaid, asOf, l.cfg.Tolerance)
	owed := b.BaseAmount.Add(state.AccruedPenalty)
	if newPaid.GreaterThan(owed.Add(l.cfg.Tolerance)) {
		return BillState{}, &generic.OverpaymentError{
			BillID:    string(b.ID),
			Owed:      owed,
			Paid:      b.AmountPaid,
			Attempted: p.Amount,
			Excess:    newPaid.Sub(owed),
		}
	}
	return state, nil
}

// DeletePayment reverses a payment's ledger effect.
func (l *Ledger) DeletePayment(ctx context.Context, actor generic.Actor, id PaymentID) (*Bill, error) {
	payment, err := l.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.RequireAdmin(payment.SocietyID); err != nil {
		return nil, err
	}

	today := l.cfg.DateOf(l.now())
	var bill Bill
	err = l.retry(ctx, func(tx Store) error {
		current, err := tx.GetBill(ctx, payment.BillID)
		if err != nil {
			return err
		}
		remaining := current.AmountPaid.Sub(payment.Amount).Max(generic.Zero())
		state := settle(*current, remaining, today, l.cfg.Tolerance)

		if err := tx.DeletePayment(ctx, id); err != nil {
			return err
		}
		if err := tx.UpdateBillState(ctx, current.ID, current.Version, state); err != nil {
			return err
		}
		bill = withState(*current, state)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Ledger] payment %s removed from bill %s -> %s", id, bill.ID, bill.Status)
	return &bill, nil
}

// Reconcile writes the read-time view of every unsettled bill of the society
// back to storage. It only recomputes with the same pure functions the query
// path uses; a bill that changed concurrently is left for the next run.
// Returns the number of bills updated.
func (l *Ledger) Reconcile(ctx context.Context, society generic.SocietyID) (int, error) {
	bills, err := l.store.ListBills(ctx, BillFilter{
		SocietyID: society,
		Statuses:  []BillStatus{StatusPending, StatusOverdue, StatusPartial},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list unsettled bills: %w", err)
	}

	today := l.cfg.DateOf(l.now())
	updated := 0
	for _, b := range bills {
		state := Evaluate(b, today, l.cfg.Tolerance)
		if !state.differsFrom(b) {
			continue
		}
		err := l.store.UpdateBillState(ctx, b.ID, b.Version, state)
		if generic.IsRetryable(err) {
			continue
		}
		if err != nil {
			return updated, fmt.Errorf("failed to refresh bill %s: %w", b.ID, err)
		}
		updated++
	}
	return updated, nil
}

// retry runs fn in a transaction, re-running it when the bill version moved.
func (l *Ledger) retry(ctx context.Context, fn func(Store) error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = l.store.WithTx(ctx, fn)
		if !generic.IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("bill update failed after %d attempts: %w", maxWriteAttempts, err)
}

func (in PaymentInput) validate(now time.Time) error {
	var errs []error
	if !in.Amount.IsPositive() {
		errs = append(errs, generic.Invalid("amount", "must be positive, got %s", in.Amount))
	}
	if !in.Method.Valid() {
		errs = append(errs, generic.Invalid("method", "must be one of upi, cash, cheque, other; got %q", in.Method))
	}
	if in.PaidAt != nil && in.PaidAt.After(now) {
		errs = append(errs, generic.Invalid("paid_at", "must not be in the future"))
	}
	return errors.Join(errs...)
}

// canPay allows residents to pay their own bills and admins any bill of
// their society.
func canPay(actor generic.Actor, b Bill) error {
	if err := actor.RequireSociety(b.SocietyID); err != nil {
		return err
	}
	if actor.IsAdmin() {
		return nil
	}
	if actor.IsResident() && b.ResidentID == actor.ID {
		return nil
	}
	return &generic.ForbiddenError{ActorID: actor.ID, Reason: "bill belongs to another resident"}
}

func payerFor(actor generic.Actor, b Bill, requested generic.ActorID) generic.ActorID {
	if !actor.IsAdmin() {
		return actor.ID
	}
	if requested != "" {
		return requested
	}
	if b.ResidentID != "" {
		return b.ResidentID
	}
	return actor.ID
}

func withState(b Bill, s BillState) Bill {
	b.AccruedPenalty = s.AccruedPenalty
	b.AmountPaid = s.AmountPaid
	b.Status = s.Status
	b.SettledOn = s.SettledOn
	b.Version++
	return b
}
