/*
errors.go - Centralized error taxonomy for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error returned by a public billing operation unwraps to exactly one
  sentinel, and KindOf maps it to a stable tag the API layer exposes.

ERROR CATEGORIES:
  1. Validation    - Malformed or out-of-range input; never retried
  2. NotFound      - Referenced rule/bill/payment/unit absent
  3. Conflict      - Uniqueness violation, rule or bill still in use
  4. Forbidden     - Cross-society or cross-resident access
  5. Configuration - Bill generation hit units with no matching rule
  6. Overpayment   - Payment would exceed the owed amount beyond tolerance

USAGE:
  if errors.Is(err, generic.ErrOverpayment) {
      var op *generic.OverpaymentError
      errors.As(err, &op)
      fmt.Println(op.Excess)
  }

SEE ALSO:
  - billing/*.go: Returns these errors
  - api/handlers.go: Maps KindOf to HTTP status
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for uniqueness violations and in-use deletes.
	ErrConflict = errors.New("conflict")

	// ErrForbidden is returned when the actor is outside the required scope.
	ErrForbidden = errors.New("forbidden")

	// ErrConfiguration is returned when bill generation finds units without a rule.
	ErrConfiguration = errors.New("configuration error")

	// ErrOverpayment is returned when a payment exceeds what is owed.
	ErrOverpayment = errors.New("overpayment")

	// ErrConcurrentModification is returned when an optimistic version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// KINDS - Stable tags for callers
// =============================================================================

type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindForbidden     Kind = "forbidden"
	KindConfiguration Kind = "configuration"
	KindOverpayment   Kind = "overpayment"
	KindInternal      Kind = "internal"
)

// KindOf returns the stable kind tag of err.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrOverpayment):
		return KindOverpayment
	default:
		return KindInternal
	}
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a field-level ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Resource string // "rule", "bill", "payment", "unit"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError explains why the write collides with existing state.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Reason)
	}
	return fmt.Sprintf("%s %q conflict: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ForbiddenError is returned for cross-scope access.
type ForbiddenError struct {
	ActorID ActorID
	Reason  string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %q forbidden: %s", e.ActorID, e.Reason)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// UnmatchedUnit is a unit the generator could not price.
type UnmatchedUnit struct {
	UnitID   UnitID `json:"unit_id"`
	Category string `json:"dwelling_category"`
}

// ConfigurationError is the batch report of a failed generation run. It lists
// every unit without a rule, not just the first.
type ConfigurationError struct {
	SocietyID SocietyID
	Cycle     Cycle
	Units     []UnmatchedUnit
}

func (e *ConfigurationError) Error() string {
	ids := make([]string, len(e.Units))
	for i, u := range e.Units {
		ids[i] = fmt.Sprintf("%s(%s)", u.UnitID, u.Category)
	}
	return fmt.Sprintf("no maintenance rule for %d unit(s) in society %s cycle %s: %s",
		len(e.Units), e.SocietyID, e.Cycle, strings.Join(ids, ", "))
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// OverpaymentError reports how far a payment overshoots the owed amount.
type OverpaymentError struct {
	BillID    string
	Owed      Amount // base + accrued penalty
	Paid      Amount // already paid before this payment
	Attempted Amount
	Excess    Amount
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s on bill %s exceeds outstanding %s by %s",
		e.Attempted, e.BillID, e.Owed.Sub(e.Paid), e.Excess)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to caller input or scope.
func IsClientError(err error) bool {
	return KindOf(err) != KindInternal
}
