package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/maintenance-engine/generic"
)

// =============================================================================
// RULE INPUT - Validated at the boundary, not by storage
// =============================================================================

// RuleInput is a full rule definition supplied by an admin.
type RuleInput struct {
	Category     string
	BaseAmount   generic.Amount
	DueDay       int
	GraceDays    int
	PenaltyType  PenaltyType
	PenaltyValue decimal.Decimal
}

// RulePatch carries only the fields to change. Nil means "leave as is".
type RulePatch struct {
	Category     *string
	BaseAmount   *generic.Amount
	DueDay       *int
	GraceDays    *int
	PenaltyType  *PenaltyType
	PenaltyValue *decimal.Decimal
}

func (p RulePatch) IsEmpty() bool {
	return p.Category == nil && p.BaseAmount == nil && p.DueDay == nil &&
		p.GraceDays == nil && p.PenaltyType == nil && p.PenaltyValue == nil
}

func validateCategory(c string) error {
	if strings.TrimSpace(c) == "" {
		return generic.Invalid("dwelling_category", "is required")
	}
	return nil
}

func validateBaseAmount(a generic.Amount) error {
	if !a.IsPositive() {
		return generic.Invalid("base_amount", "must be positive, got %s", a)
	}
	return nil
}

func validateDueDay(d int) error {
	if d < 1 || d > 31 {
		return generic.Invalid("due_day", "must be within 1-31, got %d", d)
	}
	return nil
}

func validateGraceDays(g int) error {
	if g < 0 {
		return generic.Invalid("grace_days", "must not be negative, got %d", g)
	}
	return nil
}

func validatePenaltyType(t PenaltyType) error {
	if !t.Valid() {
		return generic.Invalid("penalty_type", "must be one of flat, percentage, percentage_per_day; got %q", t)
	}
	return nil
}

func validatePenaltyValue(v decimal.Decimal) error {
	if v.IsNegative() {
		return generic.Invalid("penalty_value", "must not be negative, got %s", v)
	}
	return nil
}

// Validate checks every field of the input.
func (in RuleInput) Validate() error {
	return errors.Join(
		validateCategory(in.Category),
		validateBaseAmount(in.BaseAmount),
		validateDueDay(in.DueDay),
		validateGraceDays(in.GraceDays),
		validatePenaltyType(in.PenaltyType),
		validatePenaltyValue(in.PenaltyValue),
	)
}

// Validate checks the supplied fields only.
func (p RulePatch) Validate() error {
	if p.IsEmpty() {
		return &generic.ValidationError{Message: "at least one field must be supplied"}
	}
	var errs []error
	if p.Category != nil {
		errs = append(errs, validateCategory(*p.Category))
	}
	if p.BaseAmount != nil {
		errs = append(errs, validateBaseAmount(*p.BaseAmount))
	}
	if p.DueDay != nil {
		errs = append(errs, validateDueDay(*p.DueDay))
	}
	if p.GraceDays != nil {
		errs = append(errs, validateGraceDays(*p.GraceDays))
	}
	if p.PenaltyType != nil {
		errs = append(errs, validatePenaltyType(*p.PenaltyType))
	}
	if p.PenaltyValue != nil {
		errs = append(errs, validatePenaltyValue(*p.PenaltyValue))
	}
	return errors.Join(errs...)
}

// Apply returns r with the patch applied.
func (p RulePatch) Apply(r Rule) Rule {
	if p.Category != nil {
		r.Category = strings.TrimSpace(*p.Category)
	}
	if p.BaseAmount != nil {
		r.BaseAmount = *p.BaseAmount
	}
	if p.DueDay != nil {
		r.DueDay = *p.DueDay
	}
	if p.GraceDays != nil {
		r.GraceDays = *p.GraceDays
	}
	if p.PenaltyType != nil {
		r.PenaltyType = *p.PenaltyType
	}
	if p.PenaltyValue != nil {
		r.PenaltyValue = *p.PenaltyValue
	}
	return r
}

// =============================================================================
// RULE SERVICE
// =============================================================================

// RuleService is the Rule Store: admin CRUD plus category matching.
type RuleService struct {
	store Store
	now   generic.Clock
}

func NewRuleService(store Store, clock generic.Clock) *RuleService {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &RuleService{store: store, now: clock}
}

// Create adds a rule for the actor's society.
func (s *RuleService) Create(ctx context.Context, actor generic.Actor, in RuleInput) (*Rule, error) {
	if err := actor.RequireAdmin(actor.SocietyID); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rule := Rule{
		ID:           RuleID(uuid.NewString()),
		SocietyID:    actor.SocietyID,
		Category:     strings.TrimSpace(in.Category),
		BaseAmount:   in.BaseAmount,
		DueDay:       in.DueDay,
		GraceDays:    in.GraceDays,
		PenaltyType:  in.PenaltyType,
		PenaltyValue: in.PenaltyValue,
		Version:      1,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Update applies the supplied fields; unspecified fields never change.
func (s *RuleService) Update(ctx context.Context, actor generic.Actor, id RuleID, patch RulePatch) (*Rule, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	updated := patch.Apply(*current)
	updated.Version = current.Version + 1
	updated.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateRule(ctx, updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Get returns a rule of the actor's society.
func (s *RuleService) Get(ctx context.Context, actor generic.Actor, id RuleID) (*Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.RequireAdmin(rule.SocietyID); err != nil {
		return nil, err
	}
	return rule, nil
}

// List returns the rules of the actor's society, ordered by category.
func (s *RuleService) List(ctx context.Context, actor generic.Actor) ([]Rule, error) {
	if err := actor.RequireAdmin(actor.SocietyID); err != nil {
		return nil, err
	}
	return s.store.ListRules(ctx, actor.SocietyID)
}

// FindByCategory returns the single rule matching (society, category).
func (s *RuleService) FindByCategory(ctx context.Context, society generic.SocietyID, category string) (*Rule, error) {
	return s.store.FindRuleByCategory(ctx, society, strings.TrimSpace(category))
}

// Delete removes a rule unless a bill referencing it is still unsettled.
func (s *RuleService) Delete(ctx context.Context, actor generic.Actor, id RuleID) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx Store) error {
		open, err := tx.ListBills(ctx, BillFilter{
			RuleID:   id,
			Statuses: []BillStatus{StatusPending, StatusOverdue, StatusPartial},
		})
		if err != nil {
			return fmt.Errorf("failed to check bills for rule: %w", err)
		}
		if len(open) > 0 {
			return &generic.ConflictError{
				Resource: "rule",
				ID:       string(id),
				Reason:   fmt.Sprintf("%d bill(s) referencing it are not fully settled", len(open)),
			}
		}
		return tx.DeleteRule(ctx, id)
	})
}
