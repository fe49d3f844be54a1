/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:

	Persists rules, bills, payments and the unit directory. In production the
	same patterns apply to PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:

	billing.Store:         Rules, bills, payments, transactions
	billing.UnitDirectory: Units per society

KEY TABLES:

	rules:    Maintenance rules, one per (society, dwelling category)
	bills:    One row per (society, unit, cycle); mutable state guarded by version
	payments: Settlement facts, never updated
	units:    Unit directory records

UNIQUENESS:
  - idx_rules_society_category: One rule per dwelling category
  - idx_bills_unit_cycle:       One bill per unit per cycle
    Violations surface as generic.ConflictError.

OPTIMISTIC CONCURRENCY:

	UpdateBillState is a single conditional UPDATE on (id, version). Zero rows
	affected with the bill present means another writer won; that returns
	generic.ErrConcurrentModification.

CONCURRENCY:

	Uses sync.RWMutex for thread-safety. Transactional views run with the
	write lock already held and never take it again.

WAL MODE:

	SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
	- Multiple readers don't block
	- Single writer at a time
	- Better crash recovery

STORAGE FORMATS:

	Amounts are decimal strings, dates are YYYY-MM-DD, cycles are YYYY-MM and
	instants are RFC3339 with nanoseconds in UTC.

USAGE:

	store, err := sqlite.New("./data/maintenance.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	ledger := billing.NewLedger(store, billing.DefaultConfig(), nil)

MIGRATION:

	Schema is auto-migrated on New(). For production, use a proper
	migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/maintenance-engine/billing"
	"github.com/warp/maintenance-engine/generic"
)

const instantLayout = time.RFC3339Nano

// Store implements billing.Store and billing.UnitDirectory using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ billing.Store         = (*Store)(nil)
	_ billing.UnitDirectory = (*Store)(nil)
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ billing.Store         = (*Store)(nil)
	_ billing.UnitDirectory = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Maintenance rules
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		society_id TEXT NOT NULL,
		category TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		due_day INTEGER NOT NULL,
		grace_days INTEGER NOT NULL DEFAULT 0,
		penalty_type TEXT NOT NULL,
		penalty_value TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: a unit must match at most one rule
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_society_category
		ON rules(society_id, category);

	-- Bills
	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		society_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		resident_id TEXT,
		category TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		cycle TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		penalty_type TEXT NOT NULL,
		penalty_value TEXT NOT NULL,
		grace_days INTEGER NOT NULL,
		accrued_penalty TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		status TEXT NOT NULL,
		settled_on TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: generation is idempotent per (society, unit, cycle)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_unit_cycle
		ON bills(society_id, unit_id, cycle);

	CREATE INDEX IF NOT EXISTS idx_bills_society_cycle
		ON bills(society_id, cycle);
	CREATE INDEX IF NOT EXISTS idx_bills_resident
		ON bills(society_id, resident_id);
	CREATE INDEX IF NOT EXISTS idx_bills_rule_status
		ON bills(rule_id, status);

	-- Payments (never updated)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		bill_id TEXT NOT NULL REFERENCES bills(id),
		society_id TEXT NOT NULL,
		payer_id TEXT,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		reference TEXT,
		paid_at TEXT NOT NULL,
		recorded_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_bill
		ON payments(bill_id, paid_at);
	CREATE INDEX IF NOT EXISTS idx_payments_society
		ON payments(society_id, paid_at);

	-- Unit directory
	CREATE TABLE IF NOT EXISTS units (
		id TEXT NOT NULL,
		society_id TEXT NOT NULL,
		category TEXT NOT NULL,
		resident_id TEXT,
		billable INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (society_id, id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	return fn(ts)
}

func (ts *txStore) CreateRule(ctx context.Context, r billing.Rule) error {
	return createRule(ctx, ts.tx, r)
}
func (ts *txStore) UpdateRule(ctx context.Context, r billing.Rule) error {
	return updateRule(ctx, ts.tx, r)
}
func (ts *txStore) GetRule(ctx context.Context, id billing.RuleID) (*billing.Rule, error) {
	return getRule(ctx, ts.tx, id)
}
func (ts *txStore) FindRuleByCategory(ctx context.Context, society generic.SocietyID, category string) (*billing.Rule, error) {
	return findRuleByCategory(ctx, ts.tx, society, category)
}
func (ts *txStore) ListRules(ctx context.Context, society generic.SocietyID) ([]billing.Rule, error) {
	return listRules(ctx, ts.tx, society)
}
func (ts *txStore) DeleteRule(ctx context.Context, id billing.RuleID) error {
	return deleteRow(ctx, ts.tx, "rules", "rule", string(id))
}
func (ts *txStore) InsertBill(ctx context.Context, b billing.Bill) error {
	return insertBill(ctx, ts.tx, b)
}
func (ts *txStore) GetBill(ctx context.Context, id billing.BillID) (*billing.Bill, error) {
	return getBill(ctx, ts.tx, id)
}
func (ts *txStore) ListBills(ctx context.Context, f billing.BillFilter) ([]billing.Bill, error) {
	return listBills(ctx, ts.tx, f)
}
func (ts *txStore) BilledUnits(ctx context.Context, society generic.SocietyID, cycle generic.Cycle) (map[generic.UnitID]bool, error) {
	return billedUnits(ctx, ts.tx, society, cycle)
}
func (ts *txStore) UpdateBillState(ctx context.Context, id billing.BillID, version int, st billing.BillState) error {
	return updateBillState(ctx, ts.tx, id, version, st)
}
func (ts *txStore) DeleteBill(ctx context.Context, id billing.BillID) error {
	return deleteRow(ctx, ts.tx, "bills", "bill", string(id))
}
func (ts *txStore) InsertPayment(ctx context.Context, p billing.Payment) error {
	return insertPayment(ctx, ts.tx, p)
}
func (ts *txStore) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	return getPayment(ctx, ts.tx, id)
}
func (ts *txStore) ListPaymentsByBill(ctx context.Context, bill billing.BillID) ([]billing.Payment, error) {
	return queryPayments(ctx, ts.tx, "bill_id = ?", string(bill))
}
func (ts *txStore) ListPaymentsBySociety(ctx context.Context, society generic.SocietyID) ([]billing.Payment, error) {
	return queryPayments(ctx, ts.tx, "society_id = ?", string(society))
}
func (ts *txStore) CountPaymentsByBill(ctx context.Context, bill billing.BillID) (int, error) {
	return countPayments(ctx, ts.tx, bill)
}
func (ts *txStore) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	return deleteRow(ctx, ts.tx, "payments", "payment", string(id))
}

// =============================================================================
// RULE STORE
// =============================================================================

const ruleColumns = `id, society_id, category, base_amount, due_day, grace_days,
	penalty_type, penalty_value, version, created_by, created_at, updated_at`

// CreateRule inserts a new rule.
func (s *Store) CreateRule(ctx context.Context, r billing.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRule(ctx, s.db, r)
}

func createRule(ctx context.Context, db queryer, r billing.Rule) error {
	_, err := db.ExecContext(ctx, `INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SocietyID, r.Category, r.BaseAmount.Value.String(), r.DueDay, r.GraceDays,
		r.PenaltyType, r.PenaltyValue.String(), r.Version, nullString(string(r.CreatedBy)),
		formatInstant(r.CreatedAt), formatInstant(r.UpdatedAt),
	)
	if err != nil {
		return ruleWriteError(r, err)
	}
	return nil
}

// UpdateRule overwrites a rule whose stored version is r.Version-1.
func (s *Store) UpdateRule(ctx context.Context, r billing.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRule(ctx, s.db, r)
}

func updateRule(ctx context.Context, db queryer, r billing.Rule) error {
	res, err := db.ExecContext(ctx, `
		UPDATE rules SET category = ?, base_amount = ?, due_day = ?, grace_days = ?,
			penalty_type = ?, penalty_value = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		r.Category, r.BaseAmount.Value.String(), r.DueDay, r.GraceDays,
		r.PenaltyType, r.PenaltyValue.String(), r.Version, formatInstant(r.UpdatedAt),
		r.ID, r.Version-1,
	)
	if err != nil {
		return ruleWriteError(r, err)
	}
	return versionedResult(ctx, db, res, "rules", "rule", string(r.ID))
}

func ruleWriteError(r billing.Rule, err error) error {
	if isUniqueConstraintError(err) {
		return &generic.ConflictError{
			Resource: "rule",
			Reason:   "a rule already exists for dwelling category " + r.Category,
		}
	}
	return fmt.Errorf("failed to save rule: %w", err)
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id billing.RuleID) (*billing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRule(ctx, s.db, id)
}

func getRule(ctx context.Context, db queryer, id billing.RuleID) (*billing.Rule, error) {
	row := db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, &generic.NotFoundError{Resource: "rule", ID: string(id)}
	}
	return r, err
}

// FindRuleByCategory returns the rule pricing a dwelling category.
func (s *Store) FindRuleByCategory(ctx context.Context, society generic.SocietyID, category string) (*billing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findRuleByCategory(ctx, s.db, society, category)
}

func findRuleByCategory(ctx context.Context, db queryer, society generic.SocietyID, category string) (*billing.Rule, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE society_id = ? AND category = ?`, society, category)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, &generic.NotFoundError{Resource: "rule", ID: string(society) + "/" + category}
	}
	return r, err
}

// ListRules returns all rules of a society ordered by category.
func (s *Store) ListRules(ctx context.Context, society generic.SocietyID) ([]billing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRules(ctx, s.db, society)
}

func listRules(ctx context.Context, db queryer, society generic.SocietyID) ([]billing.Rule, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE society_id = ? ORDER BY category`, society)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []billing.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id billing.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteRow(ctx, s.db, "rules", "rule", string(id))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*billing.Rule, error) {
	var (
		r                        billing.Rule
		baseAmount, penaltyValue string
		createdBy                sql.NullString
		createdAt, updatedAt     string
	)
	err := row.Scan(&r.ID, &r.SocietyID, &r.Category, &baseAmount, &r.DueDay, &r.GraceDays,
		&r.PenaltyType, &penaltyValue, &r.Version, &createdBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	if r.BaseAmount, err = generic.ParseAmount(baseAmount); err != nil {
		return nil, err
	}
	if r.PenaltyValue, err = decimal.NewFromString(penaltyValue); err != nil {
		return nil, fmt.Errorf("invalid penalty value %q: %w", penaltyValue, err)
	}
	r.CreatedBy = generic.ActorID(createdBy.String)
	r.CreatedAt = parseInstant(createdAt)
	r.UpdatedAt = parseInstant(updatedAt)
	return &r, nil
}

// =============================================================================
// BILL STORE
// =============================================================================

const billColumns = `id, society_id, unit_id, resident_id, category, rule_id, cycle,
	base_amount, due_date, penalty_type, penalty_value, grace_days,
	accrued_penalty, amount_paid, status, settled_on, version, created_at, updated_at`

// InsertBill adds a bill; a second bill for the same (society, unit, cycle) is a conflict.
func (s *Store) InsertBill(ctx context.Context, b billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertBill(ctx, s.db, b)
}

func insertBill(ctx context.Context, db queryer, b billing.Bill) error {
	_, err := db.ExecContext(ctx, `INSERT INTO bills (`+billColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SocietyID, b.UnitID, nullString(string(b.ResidentID)), b.Category, b.RuleID,
		b.Cycle.String(), b.BaseAmount.Value.String(), b.DueDate.String(),
		b.Terms.Type, b.Terms.Value.String(), b.Terms.GraceDays,
		b.AccruedPenalty.Value.String(), b.AmountPaid.Value.String(), b.Status,
		nullDate(b.SettledOn), b.Version, formatInstant(b.CreatedAt), formatInstant(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.ConflictError{
				Resource: "bill",
				Reason:   fmt.Sprintf("unit %s already billed for %s", b.UnitID, b.Cycle),
			}
		}
		return fmt.Errorf("failed to insert bill: %w", err)
	}
	return nil
}

// GetBill retrieves a bill by ID.
func (s *Store) GetBill(ctx context.Context, id billing.BillID) (*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBill(ctx, s.db, id)
}

func getBill(ctx context.Context, db queryer, id billing.BillID) (*billing.Bill, error) {
	row := db.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills WHERE id = ?`, id)
	b, err := scanBill(row)
	if err == sql.ErrNoRows {
		return nil, &generic.NotFoundError{Resource: "bill", ID: string(id)}
	}
	return b, err
}

// ListBills returns bills matching the filter ordered by cycle then unit.
func (s *Store) ListBills(ctx context.Context, f billing.BillFilter) ([]billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBills(ctx, s.db, f)
}

func listBills(ctx context.Context, db queryer, f billing.BillFilter) ([]billing.Bill, error) {
	var (
		where []string
		args  []any
	)
	if f.SocietyID != "" {
		where = append(where, "society_id = ?")
		args = append(args, f.SocietyID)
	}
	if f.ResidentID != "" {
		where = append(where, "resident_id = ?")
		args = append(args, f.ResidentID)
	}
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if !f.Cycle.IsZero() {
		where = append(where, "cycle = ?")
		args = append(args, f.Cycle.String())
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + billColumns + ` FROM bills`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY cycle, unit_id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []billing.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *b)
	}
	return bills, rows.Err()
}

// BilledUnits returns the units already billed for the cycle.
func (s *Store) BilledUnits(ctx context.Context, society generic.SocietyID, cycle generic.Cycle) (map[generic.UnitID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return billedUnits(ctx, s.db, society, cycle)
}

func billedUnits(ctx context.Context, db queryer, society generic.SocietyID, cycle generic.Cycle) (map[generic.UnitID]bool, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT unit_id FROM bills WHERE society_id = ? AND cycle = ?`, society, cycle.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query billed units: %w", err)
	}
	defer rows.Close()

	units := make(map[generic.UnitID]bool)
	for rows.Next() {
		var id generic.UnitID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		units[id] = true
	}
	return units, rows.Err()
}

// UpdateBillState writes the bill's mutable state if its version still
// matches expectedVersion.
func (s *Store) UpdateBillState(ctx context.Context, id billing.BillID, expectedVersion int, st billing.BillState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBillState(ctx, s.db, id, expectedVersion, st)
}

func updateBillState(ctx context.Context, db queryer, id billing.BillID, expectedVersion int, st billing.BillState) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bills SET accrued_penalty = ?, amount_paid = ?, status = ?, settled_on = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		st.AccruedPenalty.Value.String(), st.AmountPaid.Value.String(), st.Status,
		nullDate(st.SettledOn), formatInstant(time.Now()),
		id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update bill: %w", err)
	}
	return versionedResult(ctx, db, res, "bills", "bill", string(id))
}

// DeleteBill removes a bill.
func (s *Store) DeleteBill(ctx context.Context, id billing.BillID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteRow(ctx, s.db, "bills", "bill", string(id))
}

func scanBill(row scanner) (*billing.Bill, error) {
	var (
		b                          billing.Bill
		residentID, settledOn      sql.NullString
		cycle, dueDate             string
		baseAmount, penaltyValue   string
		accruedPenalty, amountPaid string
		createdAt, updatedAt       string
	)
	err := row.Scan(&b.ID, &b.SocietyID, &b.UnitID, &residentID, &b.Category, &b.RuleID, &cycle,
		&baseAmount, &dueDate, &b.Terms.Type, &penaltyValue, &b.Terms.GraceDays,
		&accruedPenalty, &amountPaid, &b.Status, &settledOn, &b.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan bill: %w", err)
	}

	b.ResidentID = generic.ActorID(residentID.String)
	if b.Cycle, err = generic.ParseCycle(cycle); err != nil {
		return nil, err
	}
	if b.DueDate, err = generic.ParseDate(dueDate); err != nil {
		return nil, err
	}
	if b.BaseAmount, err = generic.ParseAmount(baseAmount); err != nil {
		return nil, err
	}
	if b.Terms.Value, err = decimal.NewFromString(penaltyValue); err != nil {
		return nil, fmt.Errorf("invalid penalty value %q: %w", penaltyValue, err)
	}
	if b.AccruedPenalty, err = generic.ParseAmount(accruedPenalty); err != nil {
		return nil, err
	}
	if b.AmountPaid, err = generic.ParseAmount(amountPaid); err != nil {
		return nil, err
	}
	if settledOn.Valid {
		d, err := generic.ParseDate(settledOn.String)
		if err != nil {
			return nil, err
		}
		b.SettledOn = &d
	}
	b.CreatedAt = parseInstant(createdAt)
	b.UpdatedAt = parseInstant(updatedAt)
	return &b, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

const paymentColumns = `id, bill_id, society_id, payer_id, amount, method, reference,
	paid_at, recorded_by, created_at`

// InsertPayment records a payment.
func (s *Store) InsertPayment(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPayment(ctx, s.db, p)
}

func insertPayment(ctx context.Context, db queryer, p billing.Payment) error {
	_, err := db.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.BillID, p.SocietyID, nullString(string(p.PayerID)), p.Amount.Value.String(),
		p.Method, nullString(p.Reference), formatInstant(p.PaidAt),
		nullString(string(p.RecordedBy)), formatInstant(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.ConflictError{Resource: "payment", ID: string(p.ID), Reason: "id already exists"}
		}
		if isForeignKeyError(err) {
			return &generic.NotFoundError{Resource: "bill", ID: string(p.BillID)}
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by ID.
func (s *Store) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, db queryer, id billing.PaymentID) (*billing.Payment, error) {
	row := db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, &generic.NotFoundError{Resource: "payment", ID: string(id)}
	}
	return p, err
}

// ListPaymentsByBill returns a bill's payments in paid_at order.
func (s *Store) ListPaymentsByBill(ctx context.Context, bill billing.BillID) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPayments(ctx, s.db, "bill_id = ?", string(bill))
}

// ListPaymentsBySociety returns every payment of a society in paid_at order.
func (s *Store) ListPaymentsBySociety(ctx context.Context, society generic.SocietyID) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPayments(ctx, s.db, "society_id = ?", string(society))
}

func queryPayments(ctx context.Context, db queryer, where string, arg string) ([]billing.Payment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+` ORDER BY paid_at, id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// CountPaymentsByBill returns how many payments reference the bill.
func (s *Store) CountPaymentsByBill(ctx context.Context, bill billing.BillID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countPayments(ctx, s.db, bill)
}

func countPayments(ctx context.Context, db queryer, bill billing.BillID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payments WHERE bill_id = ?", bill).Scan(&count)
	return count, err
}

// DeletePayment removes a payment row. The ledger adjusts the bill.
func (s *Store) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteRow(ctx, s.db, "payments", "payment", string(id))
}

func scanPayment(row scanner) (*billing.Payment, error) {
	var (
		p                              billing.Payment
		payerID, reference, recordedBy sql.NullString
		amount, paidAt, createdAt      string
	)
	err := row.Scan(&p.ID, &p.BillID, &p.SocietyID, &payerID, &amount, &p.Method, &reference,
		&paidAt, &recordedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	if p.Amount, err = generic.ParseAmount(amount); err != nil {
		return nil, err
	}
	p.PayerID = generic.ActorID(payerID.String)
	p.Reference = reference.String
	p.RecordedBy = generic.ActorID(recordedBy.String)
	p.PaidAt = parseInstant(paidAt)
	p.CreatedAt = parseInstant(createdAt)
	return &p, nil
}

// =============================================================================
// UNIT DIRECTORY
// =============================================================================

// UpsertUnit adds or replaces a unit directory record.
func (s *Store) UpsertUnit(ctx context.Context, u billing.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (id, society_id, category, resident_id, billable)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(society_id, id) DO UPDATE SET
			category = excluded.category,
			resident_id = excluded.resident_id,
			billable = excluded.billable`,
		u.ID, u.SocietyID, u.Category, nullString(string(u.ResidentID)), u.Billable,
	)
	if err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}
	return nil
}

// ListUnits returns the society's units ordered by ID.
func (s *Store) ListUnits(ctx context.Context, society generic.SocietyID) ([]billing.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, society_id, category, resident_id, billable
		FROM units WHERE society_id = ? ORDER BY id`, society)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []billing.Unit
	for rows.Next() {
		var (
			u          billing.Unit
			residentID sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.SocietyID, &u.Category, &residentID, &u.Billable); err != nil {
			return nil, err
		}
		u.ResidentID = generic.ActorID(residentID.String)
		units = append(units, u)
	}
	return units, rows.Err()
}

// ListSocieties returns every society with at least one unit.
func (s *Store) ListSocieties(ctx context.Context) ([]generic.SocietyID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT society_id FROM units ORDER BY society_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query societies: %w", err)
	}
	defer rows.Close()

	var societies []generic.SocietyID
	for rows.Next() {
		var id generic.SocietyID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		societies = append(societies, id)
	}
	return societies, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// ResetSociety clears one society's data (demo scenarios only).
func (s *Store) ResetSociety(ctx context.Context, society generic.SocietyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tables := []string{"payments", "bills", "rules", "units"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE society_id = ?", string(society)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func deleteRow(ctx context.Context, db queryer, table, resource, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		if isForeignKeyError(err) {
			return &generic.ConflictError{Resource: resource, ID: id, Reason: "still referenced"}
		}
		return fmt.Errorf("failed to delete %s: %w", resource, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

// versionedResult tells a lost version race apart from a missing row.
func versionedResult(ctx context.Context, db queryer, res sql.Result, table, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return &generic.NotFoundError{Resource: resource, ID: id}
	}
	return generic.ErrConcurrentModification
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

func parseInstant(s string) time.Time {
	t, _ := time.Parse(instantLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
