package billing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

func TestRuleService_CreateAndFind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rule, err := f.rules.Create(ctx, admin, rule2BHK())
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, society, rule.SocietyID)
	assert.Equal(t, 1, rule.Version)
	assert.Equal(t, admin.ID, rule.CreatedBy)

	found, err := f.rules.FindByCategory(ctx, society, "2BHK")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, found.ID)

	_, err = f.rules.FindByCategory(ctx, society, "3BHK")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestRuleService_DuplicateCategoryConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rules.Create(ctx, admin, rule2BHK())
	require.NoError(t, err)

	_, err = f.rules.Create(ctx, admin, rule2BHK())
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestRuleService_ValidationReportsEveryField(t *testing.T) {
	f := newFixture(t)

	_, err := f.rules.Create(context.Background(), admin, billing.RuleInput{
		Category:     " ",
		BaseAmount:   amt("0"),
		DueDay:       32,
		GraceDays:    -1,
		PenaltyType:  "weekly",
		PenaltyValue: decimal.NewFromInt(-1),
	})
	require.ErrorIs(t, err, generic.ErrValidation)
	for _, field := range []string{"dwelling_category", "base_amount", "due_day", "grace_days", "penalty_type", "penalty_value"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestRuleService_RequiresAdminOfSociety(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rules.Create(ctx, resident, rule2BHK())
	assert.ErrorIs(t, err, generic.ErrForbidden)

	rule, err := f.rules.Create(ctx, admin, rule2BHK())
	require.NoError(t, err)

	_, err = f.rules.Get(ctx, outsider, rule.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestRuleService_UpdateIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rule, err := f.rules.Create(ctx, admin, rule2BHK())
	require.NoError(t, err)

	// WHEN: only grace days change
	grace := 7
	updated, err := f.rules.Update(ctx, admin, rule.ID, billing.RulePatch{GraceDays: &grace})
	require.NoError(t, err)

	// THEN: everything else is untouched and the version moved
	assert.Equal(t, 7, updated.GraceDays)
	assert.Equal(t, 5, updated.DueDay)
	assert.True(t, updated.BaseAmount.Equal(rule.BaseAmount))
	assert.Equal(t, billing.PenaltyFlat, updated.PenaltyType)
	assert.Equal(t, 2, updated.Version)

	// AND: an empty patch is rejected
	_, err = f.rules.Update(ctx, admin, rule.ID, billing.RulePatch{})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestRuleService_EditDoesNotChangeIssuedBills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)

	rule, err := f.rules.FindByCategory(ctx, society, "2BHK")
	require.NoError(t, err)
	base := amt("9999")
	_, err = f.rules.Update(ctx, admin, rule.ID, billing.RulePatch{BaseAmount: &base})
	require.NoError(t, err)

	got, err := f.queries.GetBill(ctx, admin, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", got.BaseAmount.String())
}

func TestRuleService_DeleteBlockedUntilSettled(t *testing.T) {
	// GIVEN: a rule with an unsettled bill
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed2BHK(t)
	rule, err := f.rules.FindByCategory(ctx, society, "2BHK")
	require.NoError(t, err)

	// WHEN: deleting it
	err = f.rules.Delete(ctx, admin, rule.ID)

	// THEN: conflict
	assert.ErrorIs(t, err, generic.ErrConflict)

	// WHEN: the bill is fully settled
	_, err = f.pay(t, resident, bill.ID, "5000")
	require.NoError(t, err)

	// THEN: delete succeeds
	require.NoError(t, f.rules.Delete(ctx, admin, rule.ID))
	_, err = f.rules.Get(ctx, admin, rule.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
