/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal billing model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Rules:     factory.RuleJSON (create, response), factory.RulePatchJSON (update)
  Bills:     BillDTO, GenerateBillsRequest, GenerateReportDTO
  Payments:  PaymentDTO, RecordPaymentRequest, PaymentResultDTO
  Units:     UnitDTO
  Scenarios: ScenarioDTO, LoadScenarioRequest

MONEY:
  Amounts are decimal strings ("3000.00"), never JSON numbers, so clients
  never round-trip money through float64.

VALIDATION:
  Request shapes are checked with go-playground/validator struct tags before
  any billing call. Business rules (positive amounts, due-day range) are
  enforced again by the billing package.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// GenerateBillsRequest asks for one cycle's bills.
type GenerateBillsRequest struct {
	Cycle string `json:"cycle" validate:"required,len=7"`
}

// RecordPaymentRequest is a payment submission against a bill.
type RecordPaymentRequest struct {
	Amount    string     `json:"amount" validate:"required,numeric"`
	Method    string     `json:"method" validate:"required,oneof=upi cash cheque other"`
	Reference string     `json:"reference,omitempty" validate:"max=128"`
	PayerID   string     `json:"payer_id,omitempty" validate:"max=64"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BillDTO represents a bill in API responses.
type BillDTO struct {
	ID             string  `json:"id"`
	SocietyID      string  `json:"society_id"`
	UnitID         string  `json:"unit_id"`
	ResidentID     string  `json:"resident_id,omitempty"`
	Category       string  `json:"dwelling_category"`
	RuleID         string  `json:"rule_id"`
	Cycle          string  `json:"cycle"`
	BaseAmount     string  `json:"base_amount"`
	DueDate        string  `json:"due_date"`
	GraceDays      int     `json:"grace_days"`
	PenaltyType    string  `json:"penalty_type"`
	PenaltyValue   string  `json:"penalty_value"`
	AccruedPenalty string  `json:"accrued_penalty"`
	AmountPaid     string  `json:"amount_paid"`
	Owed           string  `json:"owed"`
	Outstanding    string  `json:"outstanding"`
	Status         string  `json:"status"`
	SettledOn      *string `json:"settled_on,omitempty"`
	Version        int     `json:"version"`
	CreatedAt      string  `json:"created_at"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID         string `json:"id"`
	BillID     string `json:"bill_id"`
	SocietyID  string `json:"society_id"`
	PayerID    string `json:"payer_id,omitempty"`
	Amount     string `json:"amount"`
	Method     string `json:"method"`
	Reference  string `json:"reference,omitempty"`
	PaidAt     string `json:"paid_at"`
	RecordedBy string `json:"recorded_by,omitempty"`
}

// PaymentResultDTO is the response after recording a payment.
type PaymentResultDTO struct {
	Payment PaymentDTO `json:"payment"`
	Bill    BillDTO    `json:"bill"`
}

// GenerateReportDTO summarizes a generation run.
type GenerateReportDTO struct {
	SocietyID string    `json:"society_id"`
	Cycle     string    `json:"cycle"`
	Created   []BillDTO `json:"created"`
	Skipped   []string  `json:"skipped"`
}

// UnitDTO represents a unit directory record.
type UnitDTO struct {
	ID         string `json:"id"`
	SocietyID  string `json:"society_id"`
	Category   string `json:"dwelling_category"`
	ResidentID string `json:"resident_id,omitempty"`
	Billable   bool   `json:"billable"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SchedulerStatusDTO describes the background billing scheduler.
type SchedulerStatusDTO struct {
	Enabled   bool   `json:"enabled"`
	Interval  string `json:"interval,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks struct tags and returns a generic.ValidationError
// naming every failed field.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &generic.ValidationError{Message: err.Error()}
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, generic.Invalid(fe.Field(), "failed %q check", fe.Tag()))
	}
	return errors.Join(errs...)
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBillDTO(b billing.Bill) BillDTO {
	dto := BillDTO{
		ID:             string(b.ID),
		SocietyID:      string(b.SocietyID),
		UnitID:         string(b.UnitID),
		ResidentID:     string(b.ResidentID),
		Category:       b.Category,
		RuleID:         string(b.RuleID),
		Cycle:          b.Cycle.String(),
		BaseAmount:     b.BaseAmount.String(),
		DueDate:        b.DueDate.String(),
		GraceDays:      b.Terms.GraceDays,
		PenaltyType:    string(b.Terms.Type),
		PenaltyValue:   b.Terms.Value.String(),
		AccruedPenalty: b.AccruedPenalty.String(),
		AmountPaid:     b.AmountPaid.String(),
		Owed:           b.Owed().String(),
		Outstanding:    b.Outstanding().String(),
		Status:         string(b.Status),
		Version:        b.Version,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
	}
	if b.SettledOn != nil {
		s := b.SettledOn.String()
		dto.SettledOn = &s
	}
	return dto
}

func toBillDTOs(bills []billing.Bill) []BillDTO {
	dtos := make([]BillDTO, len(bills))
	for i, b := range bills {
		dtos[i] = toBillDTO(b)
	}
	return dtos
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:         string(p.ID),
		BillID:     string(p.BillID),
		SocietyID:  string(p.SocietyID),
		PayerID:    string(p.PayerID),
		Amount:     p.Amount.String(),
		Method:     string(p.Method),
		Reference:  p.Reference,
		PaidAt:     p.PaidAt.Format(time.RFC3339),
		RecordedBy: string(p.RecordedBy),
	}
}

func toPaymentDTOs(ps []billing.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

func toUnitDTOs(units []billing.Unit) []UnitDTO {
	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = UnitDTO{
			ID:         string(u.ID),
			SocietyID:  string(u.SocietyID),
			Category:   u.Category,
			ResidentID: string(u.ResidentID),
			Billable:   u.Billable,
		}
	}
	return dtos
}

func toGenerateReportDTO(r *billing.GenerateReport) GenerateReportDTO {
	skipped := make([]string, len(r.Skipped))
	for i, id := range r.Skipped {
		skipped[i] = string(id)
	}
	return GenerateReportDTO{
		SocietyID: string(r.SocietyID),
		Cycle:     r.Cycle.String(),
		Created:   toBillDTOs(r.Created),
		Skipped:   skipped,
	}
}
