/*
generator.go - Bill generation for a society and billing cycle

PURPOSE:
  Expands the Rule Store into one Bill per billable unit for a cycle, using
  the unit directory as input.

ALL-OR-NOTHING PRICING:
  Every billable unit must match a rule by dwelling category. If any unit has
  no rule, the run fails with a ConfigurationError listing every unmatched unit
  and writes nothing, so gaps surface at generation time instead of at payment
  time.

IDEMPOTENCE:
  Units already billed for the cycle are skipped. Re-running generate for the
  same cycle only fills gaps (units added since the last run). Bills are unique
  per (society, unit, cycle) in storage; a concurrent run that loses the insert race gets
  a ConflictError which is counted as a skip.

SNAPSHOT AT GENERATION:
  Category, base amount and penalty terms are copied onto the bill, so later
  rule edits never change issued bills.

SEE ALSO:
  - rules.go: Rule matching
  - store.go: InsertBill uniqueness contract
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/warp/maintenance-engine/generic"
)

// GenerateReport summarizes a generation run.
type GenerateReport struct {
	SocietyID generic.SocietyID
	Cycle     generic.Cycle
	Created   []Bill
	Skipped   []generic.UnitID // already billed for the cycle
}

// Generator is the Bill Generator.
type Generator struct {
	store Store
	units UnitDirectory
	now   generic.Clock
}

func NewGenerator(store Store, units UnitDirectory, clock generic.Clock) *Generator {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Generator{store: store, units: units, now: clock}
}

// Generate issues the cycle's bills for every billable unit of the society.
func (g *Generator) Generate(ctx context.Context, actor generic.Actor, society generic.SocietyID, cycle generic.Cycle) (*GenerateReport, error) {
	if err := actor.RequireAdmin(society); err != nil {
		return nil, err
	}
	if cycle.IsZero() || cycle.Month < 1 || cycle.Month > 12 {
		return nil, generic.Invalid("cycle", "is required (YYYY-MM)")
	}

	units, err := g.units.ListUnits(ctx, society)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}

	rules, err := g.store.ListRules(ctx, society)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	byCategory := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byCategory[r.Category] = r
	}

	// Price every unit before writing anything.
	type pricedUnit struct {
		unit Unit
		rule Rule
	}
	var (
		priced    []pricedUnit
		unmatched []generic.UnmatchedUnit
	)
	for _, u := range units {
		if !u.Billable {
			continue
		}
		rule, ok := byCategory[u.Category]
		if !ok {
			unmatched = append(unmatched, generic.UnmatchedUnit{UnitID: u.ID, Category: u.Category})
			continue
		}
		priced = append(priced, pricedUnit{unit: u, rule: rule})
	}
	if len(unmatched) > 0 {
		sort.Slice(unmatched, func(i, j int) bool { return unmatched[i].UnitID < unmatched[j].UnitID })
		return nil, &generic.ConfigurationError{SocietyID: society, Cycle: cycle, Units: unmatched}
	}

	billed, err := g.store.BilledUnits(ctx, society, cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing bills: %w", err)
	}

	report := &GenerateReport{SocietyID: society, Cycle: cycle}
	now := g.now().UTC()
	for _, p := range priced {
		if billed[p.unit.ID] {
			report.Skipped = append(report.Skipped, p.unit.ID)
			continue
		}

		bill := newBill(p.unit, p.rule, cycle, now)
		if err := g.store.InsertBill(ctx, bill); err != nil {
			if errors.Is(err, generic.ErrConflict) {
				report.Skipped = append(report.Skipped, p.unit.ID)
				continue
			}
			return report, fmt.Errorf("failed to insert bill for unit %s: %w", p.unit.ID, err)
		}
		report.Created = append(report.Created, bill)
	}

	log.Printf("[Generator] society=%s cycle=%s created=%d skipped=%d",
		society, cycle, len(report.Created), len(report.Skipped))
	return report, nil
}

func newBill(u Unit, r Rule, cycle generic.Cycle, now time.Time) Bill {
	return Bill{
		ID:             BillID(uuid.NewString()),
		SocietyID:      u.SocietyID,
		UnitID:         u.ID,
		ResidentID:     u.ResidentID,
		Category:       u.Category,
		RuleID:         r.ID,
		Cycle:          cycle,
		BaseAmount:     r.BaseAmount,
		DueDate:        cycle.DueDate(r.DueDay),
		Terms:          r.Terms(),
		AccruedPenalty: generic.Zero(),
		AmountPaid:     generic.Zero(),
		Status:         StatusPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
