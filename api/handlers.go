/*
handlers.go - HTTP API handlers for society maintenance billing

PURPOSE:
  Exposes the billing services via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the billing package. Every handler
  passes the authenticated actor explicitly; no billing call reads identity
  from the context.

ENDPOINTS:
  Units:
    GET    /api/societies/{societyID}/units  Unit directory (admin)

  Rules:
    GET    /api/rules               List rules of the actor's society
    POST   /api/rules               Create rule from JSON
    GET    /api/rules/{id}          Get rule
    PUT    /api/rules/{id}          Partial update
    DELETE /api/rules/{id}          Delete (blocked while bills are unsettled)

  Bills:
    POST   /api/bills/generate      Generate one cycle
    GET    /api/bills               Society bills (?status=, ?cycle=)
    GET    /api/bills/mine          Resident's own bills
    GET    /api/bills/{id}          Bill detail
    DELETE /api/bills/{id}          Delete (blocked once paid against)

  Payments:
    GET    /api/bills/{id}/payments Payments of one bill
    POST   /api/bills/{id}/payments Record payment (paid_at: admin only)
    GET    /api/payments            Society payments (admin)
    GET    /api/payments/{id}       Payment detail
    DELETE /api/payments/{id}       Reverse payment (admin)

  Scheduler:
    GET    /api/scheduler           Scheduler status and next run (admin)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access (also used by the demo scenarios)
  - Rules, Generator, Ledger, Queries: billing services
  - RuleFactory: JSON to RuleInput/RulePatch conversion

ERROR HANDLING:
  Errors are returned as JSON {"error", "kind", "details"} with HTTP status
  chosen by generic.KindOf:
  - 400: validation
  - 403: forbidden (outside society or resident scope)
  - 404: not_found
  - 409: conflict (duplicate rule category, rule/bill in use)
  - 422: configuration (details.unmatched_units), overpayment
         (details.owed, details.excess)
  - 500: internal

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor extraction
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/factory"
	"github.com/warp/maintenance-engine/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// DemoStore is the storage the HTTP layer needs: billing persistence, the unit
// directory, and the seeding helpers the demo scenarios use.
type DemoStore interface {
	billing.Store
	billing.UnitDirectory
	UpsertUnit(ctx context.Context, u billing.Unit) error
	ResetSociety(ctx context.Context, society generic.SocietyID) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       DemoStore
	Rules       *billing.RuleService
	Generator   *billing.Generator
	Ledger      *billing.Ledger
	Queries     *billing.QueryService
	RuleFactory *factory.RuleFactory
	Scheduler   *BillingScheduler // optional; reported by GET /api/scheduler

	now generic.Clock

	// Loaded scenario per society; loads are serialized
	scenarioMu sync.Mutex
	scenarios  map[generic.SocietyID]string
}

// NewHandler wires the billing services over one store.
func NewHandler(store DemoStore, cfg billing.Config, clock generic.Clock) *Handler {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Handler{
		Store:       store,
		Rules:       billing.NewRuleService(store, clock),
		Generator:   billing.NewGenerator(store, store, clock),
		Ledger:      billing.NewLedger(store, cfg, clock),
		Queries:     billing.NewQueryService(store, store, cfg, clock),
		RuleFactory: factory.NewRuleFactory(),
		now:         clock,
		scenarios:   make(map[generic.SocietyID]string),
	}
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// ListUnits returns the society's unit directory.
// GET /api/societies/{societyID}/units
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	society := generic.SocietyID(chi.URLParam(r, "societyID"))

	units, err := h.Queries.ListUnits(r.Context(), actor, society)
	if err != nil {
		writeBillingError(w, "Failed to list units", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTOs(units))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns the rules of the actor's society.
// GET /api/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	rules, err := h.Rules.List(r.Context(), actor)
	if err != nil {
		writeBillingError(w, "Failed to list rules", err)
		return
	}

	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = h.RuleFactory.FromRule(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule creates a rule from JSON.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule, err := h.Rules.Create(r.Context(), actor, h.RuleFactory.ToInput(req))
	if err != nil {
		writeBillingError(w, "Failed to create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.RuleFactory.FromRule(*rule))
}

// GetRule returns a single rule.
// GET /api/rules/{id}
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	rule, err := h.Rules.Get(r.Context(), actor, billing.RuleID(chi.URLParam(r, "id")))
	if err != nil {
		writeBillingError(w, "Failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, h.RuleFactory.FromRule(*rule))
}

// UpdateRule applies a partial update.
// PUT /api/rules/{id}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req factory.RulePatchJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := billing.RuleID(chi.URLParam(r, "id"))
	rule, err := h.Rules.Update(r.Context(), actor, id, h.RuleFactory.ToPatch(req))
	if err != nil {
		writeBillingError(w, "Failed to update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, h.RuleFactory.FromRule(*rule))
}

// DeleteRule removes a rule.
// DELETE /api/rules/{id}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.Rules.Delete(r.Context(), actor, billing.RuleID(chi.URLParam(r, "id"))); err != nil {
		writeBillingError(w, "Failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// GenerateBills issues one cycle's bills for the actor's society.
// POST /api/bills/generate
func (h *Handler) GenerateBills(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req GenerateBillsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeBillingError(w, "Invalid request", err)
		return
	}
	cycle, err := generic.ParseCycle(req.Cycle)
	if err != nil {
		writeBillingError(w, "Invalid request", generic.Invalid("cycle", "must be YYYY-MM, got %q", req.Cycle))
		return
	}

	report, err := h.Generator.Generate(r.Context(), actor, actor.SocietyID, cycle)
	if err != nil {
		writeBillingError(w, "Failed to generate bills", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGenerateReportDTO(report))
}

// ListBills returns the society's bills.
// GET /api/bills?status=overdue,partial&cycle=2025-03
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	filter, err := billFilterFromQuery(r)
	if err != nil {
		writeBillingError(w, "Invalid filter", err)
		return
	}

	bills, err := h.Queries.ListSocietyBills(r.Context(), actor, filter)
	if err != nil {
		writeBillingError(w, "Failed to list bills", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTOs(bills))
}

func billFilterFromQuery(r *http.Request) (billing.BillFilter, error) {
	var filter billing.BillFilter
	q := r.URL.Query()
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, billing.BillStatus(s))
			}
		}
	}
	if c := q.Get("cycle"); c != "" {
		cycle, err := generic.ParseCycle(c)
		if err != nil {
			return filter, generic.Invalid("cycle", "must be YYYY-MM, got %q", c)
		}
		filter.Cycle = cycle
	}
	return filter, nil
}

// ListMyBills returns the resident's own bills.
// GET /api/bills/mine
func (h *Handler) ListMyBills(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	bills, err := h.Queries.ListMyBills(r.Context(), actor)
	if err != nil {
		writeBillingError(w, "Failed to list bills", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTOs(bills))
}

// GetBill returns a single bill with penalty and status as of now.
// GET /api/bills/{id}
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	bill, err := h.Queries.GetBill(r.Context(), actor, billing.BillID(chi.URLParam(r, "id")))
	if err != nil {
		writeBillingError(w, "Failed to get bill", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(*bill))
}

// DeleteBill removes a bill with no payments.
// DELETE /api/bills/{id}
func (h *Handler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.Queries.DeleteBill(r.Context(), actor, billing.BillID(chi.URLParam(r, "id"))); err != nil {
		writeBillingError(w, "Failed to delete bill", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListBillPayments returns the payments recorded against a bill.
// GET /api/bills/{id}/payments
func (h *Handler) ListBillPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	payments, err := h.Queries.ListBillPayments(r.Context(), actor, billing.BillID(chi.URLParam(r, "id")))
	if err != nil {
		writeBillingError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// RecordPayment applies a payment to a bill.
// POST /api/bills/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeBillingError(w, "Invalid request", err)
		return
	}
	amount, err := generic.ParseAmount(req.Amount)
	if err != nil {
		writeBillingError(w, "Invalid amount", generic.Invalid("amount", "%v", err))
		return
	}

	result, err := h.Ledger.RecordPayment(r.Context(), actor, billing.PaymentInput{
		BillID:    billing.BillID(chi.URLParam(r, "id")),
		PayerID:   generic.ActorID(req.PayerID),
		Amount:    amount,
		Method:    billing.PaymentMethod(req.Method),
		Reference: req.Reference,
		PaidAt:    req.PaidAt,
	})
	if err != nil {
		writeBillingError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentResultDTO{
		Payment: toPaymentDTO(result.Payment),
		Bill:    toBillDTO(result.Bill),
	})
}

// ListPayments returns every payment of the actor's society.
// GET /api/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	payments, err := h.Queries.ListPayments(r.Context(), actor)
	if err != nil {
		writeBillingError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// GetPayment returns a single payment.
// GET /api/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	payment, err := h.Queries.GetPayment(r.Context(), actor, billing.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		writeBillingError(w, "Failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

// DeletePayment reverses a payment and returns the adjusted bill.
// DELETE /api/payments/{id}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	bill, err := h.Ledger.DeletePayment(r.Context(), actor, billing.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		writeBillingError(w, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(*bill))
}

// =============================================================================
// HELPERS
// =============================================================================

func requireActor(w http.ResponseWriter, r *http.Request) (generic.Actor, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing actor", nil)
	}
	return actor, ok
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeBillingError maps a billing error to its HTTP status and structured
// details.
func writeBillingError(w http.ResponseWriter, message string, err error) {
	kind := generic.KindOf(err)
	if !generic.IsClientError(err) {
		log.Printf("[API] %s: %v", message, err)
	}
	resp := ErrorResponse{Error: message, Kind: string(kind), Details: err.Error()}

	var (
		cfgErr *generic.ConfigurationError
		opErr  *generic.OverpaymentError
	)
	switch {
	case errors.As(err, &cfgErr):
		resp.Details = map[string]any{
			"message":         err.Error(),
			"unmatched_units": cfgErr.Units,
		}
	case errors.As(err, &opErr):
		resp.Details = map[string]any{
			"message": err.Error(),
			"owed":    opErr.Owed,
			"paid":    opErr.Paid,
			"excess":  opErr.Excess,
		}
	}

	writeJSON(w, statusForKind(kind), resp)
}

func statusForKind(kind generic.Kind) int {
	switch kind {
	case generic.KindValidation:
		return http.StatusBadRequest
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindConflict:
		return http.StatusConflict
	case generic.KindForbidden:
		return http.StatusForbidden
	case generic.KindConfiguration, generic.KindOverpayment:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// SCHEDULER HANDLERS
// =============================================================================

// GetSchedulerStatus reports whether background billing runs and when next.
// GET /api/scheduler
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := actor.RequireAdmin(actor.SocietyID); err != nil {
		writeBillingError(w, "Scheduler status requires an admin", err)
		return
	}

	status := SchedulerStatusDTO{}
	if h.Scheduler != nil && h.Scheduler.Enabled {
		status.Enabled = true
		status.Interval = h.Scheduler.CheckInterval.String()
		status.NextRunAt = h.Scheduler.GetNextRunTime().UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, status)
}
