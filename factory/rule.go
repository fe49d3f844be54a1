/*
Package factory provides JSON to Go rule conversion.

PURPOSE:

	Converts JSON maintenance rule definitions into billing.RuleInput and
	billing.RulePatch values, and billing.Rule back into JSON. Society admins
	(or an admin UI) define rules in JSON; the factory produces the Go structs
	the Rule Store validates.

JSON SCHEMA:

	{
	  "dwelling_category": "2BHK",
	  "base_amount": "3000.00",
	  "due_day": 10,
	  "grace_days": 5,
	  "penalty_type": "percentage_per_day",
	  "penalty_value": "0.5"
	}

	Amounts and penalty values accept either JSON strings or numbers; strings
	are preferred because they never pass through float64.

PARTIAL UPDATES:

	RulePatchJSON uses pointer fields. A field absent from the JSON stays nil
	and leaves the stored rule unchanged.

USAGE:

	f := factory.NewRuleFactory()
	in, err := f.ParseRule(jsonString)
	rule, err := rules.Create(ctx, actor, in)

SEE ALSO:
  - billing/rules.go: RuleInput, RulePatch, validation
  - api/scenarios.go: Demo rules defined in JSON
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a maintenance rule.
type RuleJSON struct {
	ID           string          `json:"id,omitempty"`
	SocietyID    string          `json:"society_id,omitempty"`
	Category     string          `json:"dwelling_category"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	DueDay       int             `json:"due_day"`
	GraceDays    int             `json:"grace_days"`
	PenaltyType  string          `json:"penalty_type"`
	PenaltyValue decimal.Decimal `json:"penalty_value"`
	Version      int             `json:"version,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
	UpdatedAt    *time.Time      `json:"updated_at,omitempty"`
}

// RulePatchJSON is a partial rule update.
type RulePatchJSON struct {
	Category     *string          `json:"dwelling_category,omitempty"`
	BaseAmount   *decimal.Decimal `json:"base_amount,omitempty"`
	DueDay       *int             `json:"due_day,omitempty"`
	GraceDays    *int             `json:"grace_days,omitempty"`
	PenaltyType  *string          `json:"penalty_type,omitempty"`
	PenaltyValue *decimal.Decimal `json:"penalty_value,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// RuleFactory converts between JSON and billing rule types.
type RuleFactory struct{}

func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule decodes and validates a full rule definition.
func (f *RuleFactory) ParseRule(jsonStr string) (billing.RuleInput, error) {
	var rj RuleJSON
	if err := decodeStrict(jsonStr, &rj); err != nil {
		return billing.RuleInput{}, err
	}
	in := f.ToInput(rj)
	if err := in.Validate(); err != nil {
		return billing.RuleInput{}, err
	}
	return in, nil
}

// ParsePatch decodes and validates a partial rule update.
func (f *RuleFactory) ParsePatch(jsonStr string) (billing.RulePatch, error) {
	var pj RulePatchJSON
	if err := decodeStrict(jsonStr, &pj); err != nil {
		return billing.RulePatch{}, err
	}
	patch := f.ToPatch(pj)
	if err := patch.Validate(); err != nil {
		return billing.RulePatch{}, err
	}
	return patch, nil
}

// ToInput converts JSON to a RuleInput without validating it.
func (f *RuleFactory) ToInput(rj RuleJSON) billing.RuleInput {
	return billing.RuleInput{
		Category:     strings.TrimSpace(rj.Category),
		BaseAmount:   generic.NewAmount(rj.BaseAmount),
		DueDay:       rj.DueDay,
		GraceDays:    rj.GraceDays,
		PenaltyType:  parsePenaltyType(rj.PenaltyType),
		PenaltyValue: rj.PenaltyValue,
	}
}

// ToPatch converts JSON to a RulePatch without validating it.
func (f *RuleFactory) ToPatch(pj RulePatchJSON) billing.RulePatch {
	patch := billing.RulePatch{
		Category:     pj.Category,
		DueDay:       pj.DueDay,
		GraceDays:    pj.GraceDays,
		PenaltyValue: pj.PenaltyValue,
	}
	if pj.BaseAmount != nil {
		a := generic.NewAmount(*pj.BaseAmount)
		patch.BaseAmount = &a
	}
	if pj.PenaltyType != nil {
		t := parsePenaltyType(*pj.PenaltyType)
		patch.PenaltyType = &t
	}
	return patch
}

// FromRule converts a stored rule to its JSON form.
func (f *RuleFactory) FromRule(r billing.Rule) RuleJSON {
	createdAt, updatedAt := r.CreatedAt, r.UpdatedAt
	return RuleJSON{
		ID:           string(r.ID),
		SocietyID:    string(r.SocietyID),
		Category:     r.Category,
		BaseAmount:   r.BaseAmount.Round().Value,
		DueDay:       r.DueDay,
		GraceDays:    r.GraceDays,
		PenaltyType:  string(r.PenaltyType),
		PenaltyValue: r.PenaltyValue,
		Version:      r.Version,
		CreatedBy:    string(r.CreatedBy),
		CreatedAt:    &createdAt,
		UpdatedAt:    &updatedAt,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeStrict(jsonStr string, v any) error {
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &generic.ValidationError{Message: fmt.Sprintf("invalid rule JSON: %v", err)}
	}
	return nil
}

// parsePenaltyType accepts the canonical names plus the hyphenated and
// "per_day" spellings used by older admin tooling.
func parsePenaltyType(s string) billing.PenaltyType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flat", "fixed":
		return billing.PenaltyFlat
	case "percentage", "percent":
		return billing.PenaltyPercentage
	case "percentage_per_day", "percentage-per-day", "per_day":
		return billing.PenaltyPercentagePerDay
	default:
		return billing.PenaltyType(s)
	}
}
