/*
Package generic provides the domain-agnostic primitives of the billing engine.

PURPOSE:
  Money, calendar dates, billing cycles, actor identity and the error taxonomy
  live here. Nothing in this package knows about rules, bills or payments; the
  billing package builds its semantics on top of these types.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A fixed-point monetary quantity (never binary floating point)
  - Identifiers: Type-safe IDs for societies, units, actors

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so penalty and partial-payment
     arithmetic never drifts
  2. Type Safety: Strong typing for IDs prevents mixing society/unit IDs
  3. Serialization: Amounts travel as decimal strings, not JSON numbers

USAGE:
  base := generic.MustAmount("5000")
  owed := base.Add(generic.NewAmountFromInt(200))
  if paid.GreaterThan(owed) { ... }

SEE ALSO:
  - time.go: Calendar dates
  - period.go: Billing cycles
  - errors.go: Error taxonomy
*/
package generic

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Fixed-point money
// =============================================================================

// MoneyPlaces is the number of decimal places money is rounded to.
const MoneyPlaces = 2

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value decimal.Decimal) Amount {
	return Amount{Value: value}
}

func NewAmountFromInt(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value)}
}

// ParseAmount parses a decimal string such as "5000" or "199.99".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Value: d}, nil
}

// MustAmount parses s and panics on malformed input. Intended for constants and tests.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func Zero() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Div(s decimal.Decimal) Amount { return Amount{Value: a.Value.Div(s)} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) Round() Amount                { return Amount{Value: a.Value.Round(MoneyPlaces)} }
func (a Amount) String() string               { return a.Value.StringFixed(MoneyPlaces) }

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.Value.GreaterThanOrEqual(b.Value) }

// MarshalJSON encodes the amount as a fixed two-place decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Value.UnmarshalJSON(data)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SocietyID string
type UnitID string
type ActorID string
