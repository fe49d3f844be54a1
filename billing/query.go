package billing

import (
	"context"
	"fmt"

	"github.com/warp/maintenance-engine/generic"
)

// QueryService is the read side for admin and resident views. Every bill it
// returns has penalty and status recomputed as of now; stored values are only
// a snapshot.
type QueryService struct {
	store Store
	units UnitDirectory
	cfg   Config
	now   generic.Clock
}

func NewQueryService(store Store, units UnitDirectory, cfg Config, clock generic.Clock) *QueryService {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &QueryService{store: store, units: units, cfg: cfg, now: clock}
}

func (q *QueryService) refresh(bills []Bill) []Bill {
	today := q.cfg.DateOf(q.now())
	out := make([]Bill, 0, len(bills))
	for _, b := range bills {
		out = append(out, Refresh(b, today, q.cfg.Tolerance))
	}
	return out
}

// filterByStatus applies the status filter after refresh, since stored
// status can lag behind the clock (pending -> overdue).
func filterByStatus(bills []Bill, statuses []BillStatus) []Bill {
	if len(statuses) == 0 {
		return bills
	}
	want := make(map[BillStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := bills[:0]
	for _, b := range bills {
		if want[b.Status] {
			out = append(out, b)
		}
	}
	return out
}

// ListSocietyBills returns the society's bills (admin scope).
func (q *QueryService) ListSocietyBills(ctx context.Context, actor generic.Actor, filter BillFilter) ([]Bill, error) {
	if err := actor.RequireAdmin(actor.SocietyID); err != nil {
		return nil, err
	}
	for _, s := range filter.Statuses {
		if !s.Valid() {
			return nil, generic.Invalid("status", "unknown status %q", s)
		}
	}
	statuses := filter.Statuses
	filter.SocietyID = actor.SocietyID
	filter.Statuses = nil

	bills, err := q.store.ListBills(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	return filterByStatus(q.refresh(bills), statuses), nil
}

// ListMyBills returns the resident's own bills within their society.
func (q *QueryService) ListMyBills(ctx context.Context, actor generic.Actor) ([]Bill, error) {
	if !actor.IsResident() {
		return nil, &generic.ForbiddenError{ActorID: actor.ID, Reason: "resident role required"}
	}
	bills, err := q.store.ListBills(ctx, BillFilter{SocietyID: actor.SocietyID, ResidentID: actor.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	return q.refresh(bills), nil
}

// GetBill returns a bill visible to the actor.
func (q *QueryService) GetBill(ctx context.Context, actor generic.Actor, id BillID) (*Bill, error) {
	bill, err := q.store.GetBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, *bill); err != nil {
		return nil, err
	}
	refreshed := Refresh(*bill, q.cfg.DateOf(q.now()), q.cfg.Tolerance)
	return &refreshed, nil
}

// DeleteBill removes a bill that has no payments.
func (q *QueryService) DeleteBill(ctx context.Context, actor generic.Actor, id BillID) error {
	bill, err := q.store.GetBill(ctx, id)
	if err != nil {
		return err
	}
	if err := actor.RequireAdmin(bill.SocietyID); err != nil {
		return err
	}
	return q.store.WithTx(ctx, func(tx Store) error {
		n, err := tx.CountPaymentsByBill(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to count payments: %w", err)
		}
		if n > 0 {
			return &generic.ConflictError{
				Resource: "bill",
				ID:       string(id),
				Reason:   fmt.Sprintf("%d payment(s) recorded against it", n),
			}
		}
		return tx.DeleteBill(ctx, id)
	})
}

// ListPayments returns every payment of the society (admin scope).
func (q *QueryService) ListPayments(ctx context.Context, actor generic.Actor) ([]Payment, error) {
	if err := actor.RequireAdmin(actor.SocietyID); err != nil {
		return nil, err
	}
	return q.store.ListPaymentsBySociety(ctx, actor.SocietyID)
}

// ListBillPayments returns the payments of one bill.
func (q *QueryService) ListBillPayments(ctx context.Context, actor generic.Actor, id BillID) ([]Payment, error) {
	bill, err := q.store.GetBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, *bill); err != nil {
		return nil, err
	}
	return q.store.ListPaymentsByBill(ctx, id)
}

// GetPayment returns a payment visible to the actor.
func (q *QueryService) GetPayment(ctx context.Context, actor generic.Actor, id PaymentID) (*Payment, error) {
	p, err := q.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		if err := actor.RequireSociety(p.SocietyID); err != nil {
			return nil, err
		}
		return p, nil
	}
	bill, err := q.store.GetBill(ctx, p.BillID)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, *bill); err != nil {
		return nil, err
	}
	return p, nil
}

// ListUnits exposes the unit directory to admins.
func (q *QueryService) ListUnits(ctx context.Context, actor generic.Actor, society generic.SocietyID) ([]Unit, error) {
	if err := actor.RequireAdmin(society); err != nil {
		return nil, err
	}
	return q.units.ListUnits(ctx, society)
}

func canView(actor generic.Actor, b Bill) error {
	if err := actor.RequireSociety(b.SocietyID); err != nil {
		return err
	}
	if actor.IsAdmin() || b.ResidentID == actor.ID {
		return nil
	}
	return &generic.ForbiddenError{ActorID: actor.ID, Reason: "bill belongs to another resident"}
}
