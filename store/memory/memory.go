// Package memory provides an in-memory billing.Store (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements billing.Store and billing.UnitDirectory.
type Memory struct {
	mu   sync.RWMutex
	data *tables
}

type tables struct {
	rules    map[billing.RuleID]billing.Rule
	bills    map[billing.BillID]billing.Bill
	payments map[billing.PaymentID]billing.Payment
	units    map[generic.SocietyID]map[generic.UnitID]billing.Unit
}

func newTables() *tables {
	return &tables{
		rules:    make(map[billing.RuleID]billing.Rule),
		bills:    make(map[billing.BillID]billing.Bill),
		payments: make(map[billing.PaymentID]billing.Payment),
		units:    make(map[generic.SocietyID]map[generic.UnitID]billing.Unit),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.rules {
		c.rules[k] = v
	}
	for k, v := range t.bills {
		c.bills[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for s, units := range t.units {
		c.units[s] = make(map[generic.UnitID]billing.Unit, len(units))
		for k, v := range units {
			c.units[s][k] = v
		}
	}
	return c
}

func New() *Memory {
	return &Memory{data: newTables()}
}

var (
	_ billing.Store         = (*Memory)(nil)
	_ billing.UnitDirectory = (*Memory)(nil)
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn with the store locked. Writes go straight to the tables; on
// error the snapshot taken before fn is restored.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&txView{t: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// txView is the transactional view handed to WithTx callbacks. The parent
// lock is already held.
type txView struct {
	t *tables
}

func (v *txView) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return fn(v)
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) read(fn func(t *tables) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.data)
}

func (m *Memory) write(fn func(t *tables) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

func (m *Memory) CreateRule(ctx context.Context, r billing.Rule) error {
	return m.write(func(t *tables) error { return t.createRule(r) })
}

func (m *Memory) UpdateRule(ctx context.Context, r billing.Rule) error {
	return m.write(func(t *tables) error { return t.updateRule(r) })
}

func (m *Memory) GetRule(ctx context.Context, id billing.RuleID) (rule *billing.Rule, err error) {
	err = m.read(func(t *tables) error { rule, err = t.getRule(id); return err })
	return rule, err
}

func (m *Memory) FindRuleByCategory(ctx context.Context, society generic.SocietyID, category string) (rule *billing.Rule, err error) {
	err = m.read(func(t *tables) error { rule, err = t.findRuleByCategory(society, category); return err })
	return rule, err
}

func (m *Memory) ListRules(ctx context.Context, society generic.SocietyID) (rules []billing.Rule, err error) {
	err = m.read(func(t *tables) error { rules = t.listRules(society); return nil })
	return rules, err
}

func (m *Memory) DeleteRule(ctx context.Context, id billing.RuleID) error {
	return m.write(func(t *tables) error { return t.deleteRule(id) })
}

func (m *Memory) InsertBill(ctx context.Context, b billing.Bill) error {
	return m.write(func(t *tables) error { return t.insertBill(b) })
}

func (m *Memory) GetBill(ctx context.Context, id billing.BillID) (bill *billing.Bill, err error) {
	err = m.read(func(t *tables) error { bill, err = t.getBill(id); return err })
	return bill, err
}

func (m *Memory) ListBills(ctx context.Context, f billing.BillFilter) (bills []billing.Bill, err error) {
	err = m.read(func(t *tables) error { bills = t.listBills(f); return nil })
	return bills, err
}

func (m *Memory) BilledUnits(ctx context.Context, society generic.SocietyID, cycle generic.Cycle) (units map[generic.UnitID]bool, err error) {
	err = m.read(func(t *tables) error { units = t.billedUnits(society, cycle); return nil })
	return units, err
}

func (m *Memory) UpdateBillState(ctx context.Context, id billing.BillID, expectedVersion int, st billing.BillState) error {
	return m.write(func(t *tables) error { return t.updateBillState(id, expectedVersion, st) })
}

func (m *Memory) DeleteBill(ctx context.Context, id billing.BillID) error {
	return m.write(func(t *tables) error { return t.deleteBill(id) })
}

func (m *Memory) InsertPayment(ctx context.Context, p billing.Payment) error {
	return m.write(func(t *tables) error { return t.insertPayment(p) })
}

func (m *Memory) GetPayment(ctx context.Context, id billing.PaymentID) (p *billing.Payment, err error) {
	err = m.read(func(t *tables) error { p, err = t.getPayment(id); return err })
	return p, err
}

func (m *Memory) ListPaymentsByBill(ctx context.Context, bill billing.BillID) (ps []billing.Payment, err error) {
	err = m.read(func(t *tables) error {
		ps = t.listPayments(func(p billing.Payment) bool { return p.BillID == bill })
		return nil
	})
	return ps, err
}

func (m *Memory) ListPaymentsBySociety(ctx context.Context, society generic.SocietyID) (ps []billing.Payment, err error) {
	err = m.read(func(t *tables) error {
		ps = t.listPayments(func(p billing.Payment) bool { return p.SocietyID == society })
		return nil
	})
	return ps, err
}

func (m *Memory) CountPaymentsByBill(ctx context.Context, bill billing.BillID) (n int, err error) {
	err = m.read(func(t *tables) error {
		n = len(t.listPayments(func(p billing.Payment) bool { return p.BillID == bill }))
		return nil
	})
	return n, err
}

func (m *Memory) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	return m.write(func(t *tables) error { return t.deletePayment(id) })
}

// UpsertUnit adds or replaces a unit directory record.
func (m *Memory) UpsertUnit(ctx context.Context, u billing.Unit) error {
	return m.write(func(t *tables) error {
		if t.units[u.SocietyID] == nil {
			t.units[u.SocietyID] = make(map[generic.UnitID]billing.Unit)
		}
		t.units[u.SocietyID][u.ID] = u
		return nil
	})
}

func (m *Memory) ListUnits(ctx context.Context, society generic.SocietyID) (units []billing.Unit, err error) {
	err = m.read(func(t *tables) error {
		for _, u := range t.units[society] {
			units = append(units, u)
		}
		sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
		return nil
	})
	return units, err
}

func (m *Memory) ListSocieties(ctx context.Context) (societies []generic.SocietyID, err error) {
	err = m.read(func(t *tables) error {
		for s := range t.units {
			societies = append(societies, s)
		}
		sort.Slice(societies, func(i, j int) bool { return societies[i] < societies[j] })
		return nil
	})
	return societies, err
}

// =============================================================================
// TX VIEW - Same operations without locking
// =============================================================================

func (v *txView) CreateRule(_ context.Context, r billing.Rule) error { return v.t.createRule(r) }
func (v *txView) UpdateRule(_ context.Context, r billing.Rule) error { return v.t.updateRule(r) }
func (v *txView) GetRule(_ context.Context, id billing.RuleID) (*billing.Rule, error) {
	return v.t.getRule(id)
}
func (v *txView) FindRuleByCategory(_ context.Context, s generic.SocietyID, c string) (*billing.Rule, error) {
	return v.t.findRuleByCategory(s, c)
}
func (v *txView) ListRules(_ context.Context, s generic.SocietyID) ([]billing.Rule, error) {
	return v.t.listRules(s), nil
}
func (v *txView) DeleteRule(_ context.Context, id billing.RuleID) error { return v.t.deleteRule(id) }
func (v *txView) InsertBill(_ context.Context, b billing.Bill) error    { return v.t.insertBill(b) }
func (v *txView) GetBill(_ context.Context, id billing.BillID) (*billing.Bill, error) {
	return v.t.getBill(id)
}
func (v *txView) ListBills(_ context.Context, f billing.BillFilter) ([]billing.Bill, error) {
	return v.t.listBills(f), nil
}
func (v *txView) BilledUnits(_ context.Context, s generic.SocietyID, c generic.Cycle) (map[generic.UnitID]bool, error) {
	return v.t.billedUnits(s, c), nil
}
func (v *txView) UpdateBillState(_ context.Context, id billing.BillID, version int, st billing.BillState) error {
	return v.t.updateBillState(id, version, st)
}
func (v *txView) DeleteBill(_ context.Context, id billing.BillID) error { return v.t.deleteBill(id) }
func (v *txView) InsertPayment(_ context.Context, p billing.Payment) error {
	return v.t.insertPayment(p)
}
func (v *txView) GetPayment(_ context.Context, id billing.PaymentID) (*billing.Payment, error) {
	return v.t.getPayment(id)
}
func (v *txView) ListPaymentsByBill(_ context.Context, bill billing.BillID) ([]billing.Payment, error) {
	return v.t.listPayments(func(p billing.Payment) bool { return p.BillID == bill }), nil
}
func (v *txView) ListPaymentsBySociety(_ context.Context, s generic.SocietyID) ([]billing.Payment, error) {
	return v.t.listPayments(func(p billing.Payment) bool { return p.SocietyID == s }), nil
}
func (v *txView) CountPaymentsByBill(_ context.Context, bill billing.BillID) (int, error) {
	return len(v.t.listPayments(func(p billing.Payment) bool { return p.BillID == bill })), nil
}
func (v *txView) DeletePayment(_ context.Context, id billing.PaymentID) error {
	return v.t.deletePayment(id)
}

// =============================================================================
// TABLE OPERATIONS
// =============================================================================

func (t *tables) createRule(r billing.Rule) error {
	if _, exists := t.rules[r.ID]; exists {
		return &generic.ConflictError{Resource: "rule", ID: string(r.ID), Reason: "id already exists"}
	}
	if err := t.checkCategoryFree(r); err != nil {
		return err
	}
	t.rules[r.ID] = r
	return nil
}

func (t *tables) updateRule(r billing.Rule) error {
	current, ok := t.rules[r.ID]
	if !ok {
		return &generic.NotFoundError{Resource: "rule", ID: string(r.ID)}
	}
	if current.Version != r.Version-1 {
		return generic.ErrConcurrentModification
	}
	if err := t.checkCategoryFree(r); err != nil {
		return err
	}
	t.rules[r.ID] = r
	return nil
}

func (t *tables) checkCategoryFree(r billing.Rule) error {
	for _, other := range t.rules {
		if other.ID != r.ID && other.SocietyID == r.SocietyID && other.Category == r.Category {
			return &generic.ConflictError{
				Resource: "rule",
				Reason:   "a rule already exists for dwelling category " + r.Category,
			}
		}
	}
	return nil
}

func (t *tables) getRule(id billing.RuleID) (*billing.Rule, error) {
	r, ok := t.rules[id]
	if !ok {
		return nil, &generic.NotFoundError{Resource: "rule", ID: string(id)}
	}
	return &r, nil
}

func (t *tables) findRuleByCategory(society generic.SocietyID, category string) (*billing.Rule, error) {
	for _, r := range t.rules {
		if r.SocietyID == society && r.Category == category {
			return &r, nil
		}
	}
	return nil, &generic.NotFoundError{Resource: "rule", ID: string(society) + "/" + category}
}

func (t *tables) listRules(society generic.SocietyID) []billing.Rule {
	var rules []billing.Rule
	for _, r := range t.rules {
		if r.SocietyID == society {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Category < rules[j].Category })
	return rules
}

func (t *tables) deleteRule(id billing.RuleID) error {
	if _, ok := t.rules[id]; !ok {
		return &generic.NotFoundError{Resource: "rule", ID: string(id)}
	}
	delete(t.rules, id)
	return nil
}

func (t *tables) insertBill(b billing.Bill) error {
	for _, other := range t.bills {
		if other.SocietyID == b.SocietyID && other.UnitID == b.UnitID && other.Cycle == b.Cycle {
			return &generic.ConflictError{
				Resource: "bill",
				Reason:   "unit " + string(b.UnitID) + " already billed for " + b.Cycle.String(),
			}
		}
	}
	t.bills[b.ID] = b
	return nil
}

func (t *tables) getBill(id billing.BillID) (*billing.Bill, error) {
	b, ok := t.bills[id]
	if !ok {
		return nil, &generic.NotFoundError{Resource: "bill", ID: string(id)}
	}
	return &b, nil
}

func (t *tables) listBills(f billing.BillFilter) []billing.Bill {
	statuses := make(map[billing.BillStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}
	var bills []billing.Bill
	for _, b := range t.bills {
		switch {
		case f.SocietyID != "" && b.SocietyID != f.SocietyID,
			f.ResidentID != "" && b.ResidentID != f.ResidentID,
			f.RuleID != "" && b.RuleID != f.RuleID,
			!f.Cycle.IsZero() && b.Cycle != f.Cycle,
			len(statuses) > 0 && !statuses[b.Status]:
			continue
		}
		bills = append(bills, b)
	}
	sort.Slice(bills, func(i, j int) bool {
		if bills[i].Cycle != bills[j].Cycle {
			return bills[i].Cycle.String() < bills[j].Cycle.String()
		}
		return bills[i].UnitID < bills[j].UnitID
	})
	return bills
}

func (t *tables) billedUnits(society generic.SocietyID, cycle generic.Cycle) map[generic.UnitID]bool {
	units := make(map[generic.UnitID]bool)
	for _, b := range t.bills {
		if b.SocietyID == society && b.Cycle == cycle {
			units[b.UnitID] = true
		}
	}
	return units
}

func (t *tables) updateBillState(id billing.BillID, expectedVersion int, st billing.BillState) error {
	b, ok := t.bills[id]
	if !ok {
		return &generic.NotFoundError{Resource: "bill", ID: string(id)}
	}
	if b.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	b.AccruedPenalty = st.AccruedPenalty
	b.AmountPaid = st.AmountPaid
	b.Status = st.Status
	b.SettledOn = st.SettledOn
	b.Version++
	b.UpdatedAt = time.Now().UTC()
	t.bills[id] = b
	return nil
}

func (t *tables) deleteBill(id billing.BillID) error {
	if _, ok := t.bills[id]; !ok {
		return &generic.NotFoundError{Resource: "bill", ID: string(id)}
	}
	for _, p := range t.payments {
		if p.BillID == id {
			return &generic.ConflictError{Resource: "bill", ID: string(id), Reason: "still referenced"}
		}
	}
	delete(t.bills, id)
	return nil
}

func (t *tables) insertPayment(p billing.Payment) error {
	if _, ok := t.bills[p.BillID]; !ok {
		return &generic.NotFoundError{Resource: "bill", ID: string(p.BillID)}
	}
	if _, exists := t.payments[p.ID]; exists {
		return &generic.ConflictError{Resource: "payment", ID: string(p.ID), Reason: "id already exists"}
	}
	t.payments[p.ID] = p
	return nil
}

func (t *tables) getPayment(id billing.PaymentID) (*billing.Payment, error) {
	p, ok := t.payments[id]
	if !ok {
		return nil, &generic.NotFoundError{Resource: "payment", ID: string(id)}
	}
	return &p, nil
}

func (t *tables) listPayments(keep func(billing.Payment) bool) []billing.Payment {
	var ps []billing.Payment
	for _, p := range t.payments {
		if keep(p) {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].PaidAt.Equal(ps[j].PaidAt) {
			return ps[i].PaidAt.Before(ps[j].PaidAt)
		}
		return ps[i].ID < ps[j].ID
	})
	return ps
}

func (t *tables) deletePayment(id billing.PaymentID) error {
	if _, ok := t.payments[id]; !ok {
		return &generic.NotFoundError{Resource: "payment", ID: string(id)}
	}
	delete(t.payments, id)
	return nil
}

// ResetSociety clears one society's data (demo scenarios only).
func (m *Memory) ResetSociety(ctx context.Context, society generic.SocietyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.data
	for id, p := range t.payments {
		if p.SocietyID == society {
			delete(t.payments, id)
		}
	}
	for id, b := range t.bills {
		if b.SocietyID == society {
			delete(t.bills, id)
		}
	}
	for id, r := range t.rules {
		if r.SocietyID == society {
			delete(t.rules, id)
		}
	}
	delete(t.units, society)
	return nil
}
