package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
	"github.com/warp/maintenance-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const society = generic.SocietyID("greenview")

var (
	admin     = generic.Actor{ID: "admin-1", Role: generic.RoleAdmin, SocietyID: society}
	resident  = generic.Actor{ID: "res-a101", Role: generic.RoleResident, SocietyID: society}
	neighbour = generic.Actor{ID: "res-a102", Role: generic.RoleResident, SocietyID: society}
	outsider  = generic.Actor{ID: "admin-x", Role: generic.RoleAdmin, SocietyID: "other-society"}
)

// testClock is a settable clock.
type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Set(year int, month time.Month, day int) {
	c.t = time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

type fixture struct {
	store   *memory.Memory
	clock   *testClock
	rules   *billing.RuleService
	gen     *billing.Generator
	ledger  *billing.Ledger
	queries *billing.QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clock := &testClock{}
	clock.Set(2025, time.March, 1)
	cfg := billing.DefaultConfig()

	return &fixture{
		store:   store,
		clock:   clock,
		rules:   billing.NewRuleService(store, clock.Now),
		gen:     billing.NewGenerator(store, store, clock.Now),
		ledger:  billing.NewLedger(store, cfg, clock.Now),
		queries: billing.NewQueryService(store, store, cfg, clock.Now),
	}
}

func (f *fixture) addUnit(t *testing.T, id generic.UnitID, category string, resident generic.ActorID) {
	t.Helper()
	require.NoError(t, f.store.UpsertUnit(context.Background(), billing.Unit{
		ID:         id,
		SocietyID:  society,
		Category:   category,
		ResidentID: resident,
		Billable:   true,
	}))
}

// rule2BHK is {2BHK, base 5000, due 5th, grace 3, flat 200}.
func rule2BHK() billing.RuleInput {
	return billing.RuleInput{
		Category:     "2BHK",
		BaseAmount:   generic.MustAmount("5000"),
		DueDay:       5,
		GraceDays:    3,
		PenaltyType:  billing.PenaltyFlat,
		PenaltyValue: decimal.NewFromInt(200),
	}
}

// seed2BHK creates the 2BHK rule and unit A-101 for resident, then generates
// March 2025. Returns the generated bill.
func (f *fixture) seed2BHK(t *testing.T) billing.Bill {
	t.Helper()
	ctx := context.Background()

	f.addUnit(t, "A-101", "2BHK", resident.ID)
	_, err := f.rules.Create(ctx, admin, rule2BHK())
	require.NoError(t, err)

	report, err := f.gen.Generate(ctx, admin, society, generic.NewCycle(2025, time.March))
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	return report.Created[0]
}

func (f *fixture) pay(t *testing.T, actor generic.Actor, bill billing.BillID, amount string) (*billing.PaymentResult, error) {
	t.Helper()
	return f.ledger.RecordPayment(context.Background(), actor, billing.PaymentInput{
		BillID: bill,
		Amount: generic.MustAmount(amount),
		Method: billing.MethodUPI,
	})
}

func amt(s string) generic.Amount { return generic.MustAmount(s) }
