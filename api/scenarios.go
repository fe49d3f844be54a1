/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario seeds the caller's society with
	units, rules and (optionally) bills and payments that demonstrate specific
	billing behavior.

AVAILABLE SCENARIOS:

	basic-society:  Two categories, current cycle generated, nothing paid
	late-payment:   Last cycle's 2BHK bill overdue with flat penalty, part paid
	missing-rule:   A unit whose category has no rule; generation fails
	                with the full list of unmatched units

HOW SCENARIOS WORK:
 1. Reset the caller's society (other societies are untouched)
 2. Seed the unit directory for the caller's society
 3. Create rules via factory JSON
 4. Optionally generate bills and record payments through the services

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "late-payment"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, actor)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios wipe the caller's society, payments included. The routes are
	only mounted with SCENARIOS_ENABLED=true (RouterOptions.EnableScenarios).
	Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
  - factory/rule.go: Rule JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "basic-society",
		Name:        "Basic Society",
		Description: "2BHK and 3BHK rules, current cycle generated, nothing paid yet",
	},
	{
		ID:          "late-payment",
		Name:        "Late Payment",
		Description: "2BHK bill from last cycle past grace with a flat penalty, base amount paid",
	},
	{
		ID:          "missing-rule",
		Name:        "Missing Rule",
		Description: "Units without a matching rule; generation reports every unmatched unit",
	},
}

const (
	rule2BHKJSON = `{
		"dwelling_category": "2BHK",
		"base_amount": "5000.00",
		"due_day": 5,
		"grace_days": 3,
		"penalty_type": "flat",
		"penalty_value": "200"
	}`
	rule3BHKJSON = `{
		"dwelling_category": "3BHK",
		"base_amount": "7500.00",
		"due_day": 10,
		"grace_days": 5,
		"penalty_type": "percentage_per_day",
		"penalty_value": "0.1"
	}`
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the scenario loaded into the caller's society,
// if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	h.scenarioMu.Lock()
	current := h.scenarios[actor.SocietyID]
	h.scenarioMu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario resets the caller's society and loads a predefined scenario
// into it.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := actor.RequireAdmin(actor.SocietyID); err != nil {
		writeBillingError(w, "Scenarios require an admin", err)
		return
	}

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeBillingError(w, "Invalid request", err)
		return
	}

	var load func(context.Context, generic.Actor) error
	switch req.ScenarioID {
	case "basic-society":
		load = h.loadBasicSocietyScenario
	case "late-payment":
		load = h.loadLatePaymentScenario
	case "missing-rule":
		load = h.loadMissingRuleScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	if err := h.Store.ResetSociety(ctx, actor.SocietyID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset society", err)
		return
	}
	delete(h.scenarios, actor.SocietyID)

	if err := load(ctx, actor); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.scenarios[actor.SocietyID] = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBasicSocietyScenario(ctx context.Context, admin generic.Actor) error {
	units := []billing.Unit{
		{ID: "A-101", Category: "2BHK", ResidentID: "res-a101", Billable: true},
		{ID: "A-102", Category: "2BHK", ResidentID: "res-a102", Billable: true},
		{ID: "B-201", Category: "3BHK", ResidentID: "res-b201", Billable: true},
		{ID: "B-202", Category: "3BHK", Billable: false}, // builder-held, not billed
	}
	if err := h.seedUnits(ctx, admin.SocietyID, units); err != nil {
		return err
	}
	if err := h.createRulesFromJSON(ctx, admin, rule2BHKJSON, rule3BHKJSON); err != nil {
		return err
	}

	cycle := generic.CycleOf(generic.DateOf(h.now()))
	_, err := h.Generator.Generate(ctx, admin, admin.SocietyID, cycle)
	return err
}

func (h *Handler) loadLatePaymentScenario(ctx context.Context, admin generic.Actor) error {
	units := []billing.Unit{
		{ID: "A-101", Category: "2BHK", ResidentID: "res-a101", Billable: true},
	}
	if err := h.seedUnits(ctx, admin.SocietyID, units); err != nil {
		return err
	}
	if err := h.createRulesFromJSON(ctx, admin, rule2BHKJSON); err != nil {
		return err
	}

	// Last month's bill is well past its grace window: flat 200 applies.
	today := generic.DateOf(h.now())
	lastCycle := generic.CycleOf(today.AddDays(-today.Day))
	report, err := h.Generator.Generate(ctx, admin, admin.SocietyID, lastCycle)
	if err != nil {
		return err
	}
	if len(report.Created) == 0 {
		return fmt.Errorf("no bill generated for %s", lastCycle)
	}

	_, err = h.Ledger.RecordPayment(ctx, admin, billing.PaymentInput{
		BillID:    report.Created[0].ID,
		Amount:    generic.MustAmount("5000.00"),
		Method:    billing.MethodUPI,
		Reference: "UPI-DEMO-0001",
	})
	return err
}

func (h *Handler) loadMissingRuleScenario(ctx context.Context, admin generic.Actor) error {
	units := []billing.Unit{
		{ID: "A-101", Category: "2BHK", ResidentID: "res-a101", Billable: true},
		{ID: "P-001", Category: "Penthouse", ResidentID: "res-p001", Billable: true},
		{ID: "S-001", Category: "Shop", ResidentID: "res-s001", Billable: true},
	}
	if err := h.seedUnits(ctx, admin.SocietyID, units); err != nil {
		return err
	}
	// Only 2BHK is priced; POST /api/bills/generate reports P-001 and S-001.
	return h.createRulesFromJSON(ctx, admin, rule2BHKJSON)
}

func (h *Handler) seedUnits(ctx context.Context, society generic.SocietyID, units []billing.Unit) error {
	for _, u := range units {
		u.SocietyID = society
		if err := h.Store.UpsertUnit(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) createRulesFromJSON(ctx context.Context, admin generic.Actor, defs ...string) error {
	for _, jsonStr := range defs {
		in, err := h.RuleFactory.ParseRule(jsonStr)
		if err != nil {
			return err
		}
		if _, err := h.Rules.Create(ctx, admin, in); err != nil {
			return err
		}
	}
	return nil
}
