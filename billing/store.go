/*
store.go - Persistence contracts for rules, bills, payments and units

PURPOSE:
  Defines the interface between the billing services and the database.
  Implementations: store/sqlite (production), store/memory (tests/dev).

UNIQUENESS CONTRACT:
  - Rules are unique per (society, category): CreateRule and UpdateRule return
    a ConflictError on collision.
  - Bills are unique per (society, unit, cycle): InsertBill returns a ConflictError on
    collision. The generator treats that as "already billed".

OPTIMISTIC CONCURRENCY:
  UpdateBillState only writes when the stored version equals the caller's
  expected version, then increments it. A mismatch returns
  generic.ErrConcurrentModification, so two concurrent payments can never both
  build on the same pre-payment total.

ATOMICITY:
  WithTx runs fn against a transactional view. Payment insert/delete and the
  bill state update happen inside one WithTx call; an error rolls both back.

NOT FOUND:
  Get* methods return a *generic.NotFoundError, never (nil, nil).

SEE ALSO:
  - ledger.go: Uses WithTx + UpdateBillState
  - generator.go: Uses InsertBill uniqueness
*/
package billing

import (
	"context"

	"github.com/warp/maintenance-engine/generic"
)

// RuleStore persists maintenance rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule Rule) error
	// UpdateRule overwrites the rule when its stored version matches
	// rule.Version-1.
	UpdateRule(ctx context.Context, rule Rule) error
	GetRule(ctx context.Context, id RuleID) (*Rule, error)
	FindRuleByCategory(ctx context.Context, society generic.SocietyID, category string) (*Rule, error)
	ListRules(ctx context.Context, society generic.SocietyID) ([]Rule, error)
	DeleteRule(ctx context.Context, id RuleID) error
}

// BillFilter narrows bill listings. Zero values mean "any".
type BillFilter struct {
	SocietyID  generic.SocietyID
	ResidentID generic.ActorID
	RuleID     RuleID
	Cycle      generic.Cycle
	Statuses   []BillStatus
}

// BillState is the mutable part of a bill.
type BillState struct {
	AccruedPenalty generic.Amount
	AmountPaid     generic.Amount
	Status         BillStatus
	SettledOn      *generic.Date
}

// BillStore persists bills.
type BillStore interface {
	InsertBill(ctx context.Context, bill Bill) error
	GetBill(ctx context.Context, id BillID) (*Bill, error)
	ListBills(ctx context.Context, filter BillFilter) ([]Bill, error)
	// BilledUnits returns the units that already have a bill for the cycle.
	BilledUnits(ctx context.Context, society generic.SocietyID, cycle generic.Cycle) (map[generic.UnitID]bool, error)
	UpdateBillState(ctx context.Context, id BillID, expectedVersion int, state BillState) error
	DeleteBill(ctx context.Context, id BillID) error
}

// PaymentStore persists payments.
type PaymentStore interface {
	InsertPayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	ListPaymentsByBill(ctx context.Context, bill BillID) ([]Payment, error)
	ListPaymentsBySociety(ctx context.Context, society generic.SocietyID) ([]Payment, error)
	CountPaymentsByBill(ctx context.Context, bill BillID) (int, error)
	DeletePayment(ctx context.Context, id PaymentID) error
}

// UnitDirectory is the read side of the external unit/building directory.
type UnitDirectory interface {
	ListUnits(ctx context.Context, society generic.SocietyID) ([]Unit, error)
	ListSocieties(ctx context.Context) ([]generic.SocietyID, error)
}

// Store is everything the billing services persist through.
type Store interface {
	RuleStore
	BillStore
	PaymentStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
