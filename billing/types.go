// Package billing implements society maintenance billing on top of the generic
// engine: rules priced per dwelling category, monthly bills per unit, payments
// recorded against bills, and deterministic late penalties.
package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/maintenance-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RuleID string
type BillID string
type PaymentID string

// =============================================================================
// PENALTY TYPES
// =============================================================================

// PenaltyType is the closed set of late-fee policies.
type PenaltyType string

const (
	PenaltyFlat             PenaltyType = "flat"
	PenaltyPercentage       PenaltyType = "percentage"
	PenaltyPercentagePerDay PenaltyType = "percentage_per_day"
)

func (p PenaltyType) Valid() bool {
	switch p {
	case PenaltyFlat, PenaltyPercentage, PenaltyPercentagePerDay:
		return true
	}
	return false
}

// PenaltyTerms is the part of a rule the penalty calculator needs. Bills keep
// their own copy so later rule edits never change an issued bill.
type PenaltyTerms struct {
	Type      PenaltyType
	Value     decimal.Decimal
	GraceDays int
}

// =============================================================================
// RULE
// =============================================================================

// Rule prices one dwelling category in one society.
type Rule struct {
	ID           RuleID
	SocietyID    generic.SocietyID
	Category     string
	BaseAmount   generic.Amount
	DueDay       int // 1-31, clamped to month length at generation
	GraceDays    int
	PenaltyType  PenaltyType
	PenaltyValue decimal.Decimal
	Version      int
	CreatedBy    generic.ActorID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r Rule) Terms() PenaltyTerms {
	return PenaltyTerms{Type: r.PenaltyType, Value: r.PenaltyValue, GraceDays: r.GraceDays}
}

// =============================================================================
// BILL
// =============================================================================

// BillStatus is derived, never an independent fact. See status.go.
type BillStatus string

const (
	StatusPending BillStatus = "pending"
	StatusOverdue BillStatus = "overdue"
	StatusPartial BillStatus = "partial"
	StatusPaid    BillStatus = "paid"
)

func (s BillStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOverdue, StatusPartial, StatusPaid:
		return true
	}
	return false
}

// Bill is the charge for one unit in one cycle.
type Bill struct {
	ID         BillID
	SocietyID  generic.SocietyID
	UnitID     generic.UnitID
	ResidentID generic.ActorID
	Category   string
	RuleID     RuleID
	Cycle      generic.Cycle
	BaseAmount generic.Amount
	DueDate    generic.Date
	Terms      PenaltyTerms

	AccruedPenalty generic.Amount
	AmountPaid     generic.Amount
	Status         BillStatus

	// SettledOn is the society-local date the bill became paid; penalty is
	// frozen at that date.
	SettledOn *generic.Date

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owed is base plus accrued penalty.
func (b Bill) Owed() generic.Amount {
	return b.BaseAmount.Add(b.AccruedPenalty)
}

// Outstanding is what remains to be paid, never negative.
func (b Bill) Outstanding() generic.Amount {
	return b.Owed().Sub(b.AmountPaid).Max(generic.Zero())
}

// GraceEnd is the last penalty-free day.
func (b Bill) GraceEnd() generic.Date {
	return b.DueDate.AddDays(b.Terms.GraceDays)
}

// =============================================================================
// PAYMENT
// =============================================================================

// PaymentMethod is the closed set of settlement methods.
type PaymentMethod string

const (
	MethodUPI    PaymentMethod = "upi"
	MethodCash   PaymentMethod = "cash"
	MethodCheque PaymentMethod = "cheque"
	MethodOther  PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodUPI, MethodCash, MethodCheque, MethodOther:
		return true
	}
	return false
}

// Payment is an immutable settlement fact. Corrections are new payments or a
// ledger-level delete, never edits.
type Payment struct {
	ID         PaymentID
	BillID     BillID
	SocietyID  generic.SocietyID
	PayerID    generic.ActorID
	Amount     generic.Amount
	Method     PaymentMethod
	Reference  string
	PaidAt     time.Time
	RecordedBy generic.ActorID
	CreatedAt  time.Time
}

// =============================================================================
// UNIT DIRECTORY RECORD
// =============================================================================

// Unit is what the unit directory supplies for generation.
type Unit struct {
	ID         generic.UnitID
	SocietyID  generic.SocietyID
	Category   string
	ResidentID generic.ActorID
	Billable   bool
}

// =============================================================================
// CONFIG
// =============================================================================

// Config carries the numeric and calendar policy shared by all services.
type Config struct {
	// Tolerance is the rounding margin when comparing paid against owed.
	Tolerance generic.Amount
	// Location is the society time zone for due-day semantics.
	Location *time.Location
}

// DefaultConfig is one paisa/cent of tolerance in UTC.
func DefaultConfig() Config {
	return Config{Tolerance: generic.MustAmount("0.01"), Location: time.UTC}
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DateOf returns the society-local date of the instant.
func (c Config) DateOf(t time.Time) generic.Date {
	return generic.DateIn(t, c.location())
}
