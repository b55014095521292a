/*
Package sqlite provides a SQLite-backed implementation of budget.Store.

PURPOSE:
  Implements the allocation and reservation stores using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences, plus SELECT ... FOR UPDATE on the allocation row
  where SQLite relies on its single-writer transaction.

KEY TABLES:
  budget_allocations:  One row per (fiscal_year, budget_line_id,
                       department_id), with per-quarter budget and spent
                       columns and cached totals
  budget_reservations: One row per hold; is_released flips false->true
                       exactly once

INDEXES:
  - idx_allocations_key: Natural-key lookup for Reserve/CheckAvailability
  - idx_reservations_active_pr: Partial UNIQUE on pr_id among non-released
    rows - enforces one active reservation per purchase request at the
    database level
  - idx_reservations_active: (allocation_id, quarter, is_released,
    expires_at) - makes SumActiveReserved a single index range scan
  - idx_reservations_expiry: Drives ListExpired for the sweeper

CONCURRENCY:
  WithTx holds the store mutex for the duration of the database
  transaction, serializing conflicting check-then-insert sequences in one
  process; SQLite's single-writer transaction covers the file itself.
  MarkReleased is a compare-and-swap (UPDATE ... WHERE is_released = 0,
  checked via RowsAffected), so Commit, Release, and the sweeper can race
  on the same reservation and exactly one wins.

WAL MODE:
  Opened with WAL (Write-Ahead Logging): readers don't block, single
  writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/budget.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  manager := budget.NewManager(store)

SEE ALSO:
  - budget/store.go: Interface definitions and ownership rules
  - budget/store/memory.go: In-memory implementation for testing
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
	"github.com/warp/budget-ledger/budget"
)

// Store implements budget.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
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
	-- Allocations (one per fiscal year + budget line + department)
	CREATE TABLE IF NOT EXISTS budget_allocations (
		id TEXT PRIMARY KEY,
		fiscal_year INTEGER NOT NULL,
		budget_line_id TEXT NOT NULL,
		department_id TEXT NOT NULL,
		q1_budget TEXT NOT NULL DEFAULT '0',
		q2_budget TEXT NOT NULL DEFAULT '0',
		q3_budget TEXT NOT NULL DEFAULT '0',
		q4_budget TEXT NOT NULL DEFAULT '0',
		q1_spent TEXT NOT NULL DEFAULT '0',
		q2_spent TEXT NOT NULL DEFAULT '0',
		q3_spent TEXT NOT NULL DEFAULT '0',
		q4_spent TEXT NOT NULL DEFAULT '0',
		total_budget TEXT NOT NULL DEFAULT '0',
		total_spent TEXT NOT NULL DEFAULT '0',
		remaining_budget TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_key
		ON budget_allocations(fiscal_year, budget_line_id, department_id);

	-- Reservations (one per purchase request attempt)
	CREATE TABLE IF NOT EXISTS budget_reservations (
		id TEXT PRIMARY KEY,
		allocation_id TEXT NOT NULL REFERENCES budget_allocations(id),
		pr_id TEXT NOT NULL,
		quarter INTEGER NOT NULL CHECK (quarter BETWEEN 1 AND 4),
		reserved_amount TEXT NOT NULL,
		description TEXT,
		reserved_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		is_released BOOLEAN NOT NULL DEFAULT FALSE,
		released_at TEXT,
		release_reason TEXT
	);

	-- CRITICAL: at most one active reservation per purchase request.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_active_pr
		ON budget_reservations(pr_id) WHERE is_released = 0;

	-- Hot path for SumActiveReserved
	CREATE INDEX IF NOT EXISTS idx_reservations_active
		ON budget_reservations(allocation_id, quarter, is_released, expires_at);

	-- Sweeper scan
	CREATE INDEX IF NOT EXISTS idx_reservations_expiry
		ON budget_reservations(is_released, expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx so the same query code
// runs inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (budget.Store interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store mutex is held
// for the duration, so conflicting WithTx bodies never interleave their
// reads and writes.
func (s *Store) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{q: sqlTx}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs all operations against the open transaction without
// re-acquiring the store mutex (WithTx already holds it).
type txStore struct {
	q *sql.Tx
}

func (ts *txStore) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	// Already inside a transaction; run directly.
	return fn(ts)
}

func (ts *txStore) GetAllocation(ctx context.Context, key budget.AllocationKey) (budget.Allocation, bool, error) {
	return getAllocation(ctx, ts.q, key)
}

func (ts *txStore) GetAllocationByID(ctx context.Context, id budget.AllocationID) (budget.Allocation, bool, error) {
	return getAllocationByID(ctx, ts.q, id)
}

func (ts *txStore) IncrementSpent(ctx context.Context, id budget.AllocationID, quarter budget.Quarter, amount budget.Money) (budget.Money, budget.Money, error) {
	return incrementSpent(ctx, ts.q, id, quarter, amount)
}

func (ts *txStore) CreateReservation(ctx context.Context, res budget.Reservation) error {
	return createReservation(ctx, ts.q, res)
}

func (ts *txStore) SumActiveReserved(ctx context.Context, id budget.AllocationID, quarter budget.Quarter, now time.Time) (budget.Money, error) {
	return sumActiveReserved(ctx, ts.q, id, quarter, now)
}

func (ts *txStore) GetActiveReservationByPR(ctx context.Context, prID budget.PRID) (budget.Reservation, bool, error) {
	return getActiveReservationByPR(ctx, ts.q, prID)
}

func (ts *txStore) MarkReleased(ctx context.Context, id budget.ReservationID, now time.Time, reason string) (bool, error) {
	return markReleased(ctx, ts.q, id, now, reason)
}

func (ts *txStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]budget.Reservation, error) {
	return listExpired(ctx, ts.q, now, limit)
}

func (ts *txStore) ListByAllocation(ctx context.Context, id budget.AllocationID) ([]budget.Reservation, error) {
	return listByAllocation(ctx, ts.q, id)
}

// =============================================================================
// ALLOCATION STORE (budget.AllocationStore interface)
// =============================================================================

const allocationColumns = `id, fiscal_year, budget_line_id, department_id,
	q1_budget, q2_budget, q3_budget, q4_budget,
	q1_spent, q2_spent, q3_spent, q4_spent,
	total_budget, total_spent, remaining_budget, is_active, created_at, updated_at`

func (s *Store) GetAllocation(ctx context.Context, key budget.AllocationKey) (budget.Allocation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAllocation(ctx, s.db, key)
}

func getAllocation(ctx context.Context, q querier, key budget.AllocationKey) (budget.Allocation, bool, error) {
	query := `SELECT ` + allocationColumns + `
		FROM budget_allocations
		WHERE fiscal_year = ? AND budget_line_id = ? AND department_id = ? AND is_active = TRUE`

	row := q.QueryRowContext(ctx, query, key.FiscalYear, key.BudgetLineID, key.DepartmentID)
	return scanAllocation(row)
}

func (s *Store) GetAllocationByID(ctx context.Context, id budget.AllocationID) (budget.Allocation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAllocationByID(ctx, s.db, id)
}

func getAllocationByID(ctx context.Context, q querier, id budget.AllocationID) (budget.Allocation, bool, error) {
	query := `SELECT ` + allocationColumns + `
		FROM budget_allocations
		WHERE id = ? AND is_active = TRUE`

	row := q.QueryRowContext(ctx, query, id)
	return scanAllocation(row)
}

func (s *Store) IncrementSpent(ctx context.Context, id budget.AllocationID, quarter budget.Quarter, amount budget.Money) (budget.Money, budget.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return incrementSpent(ctx, s.db, id, quarter, amount)
}

// incrementSpent reads the row, bumps the quarter's spent amount in Go, and
// writes all four spent columns plus the cached totals back. No dynamic
// column names; the quarter picks an array index, not a string.
func incrementSpent(ctx context.Context, q querier, id budget.AllocationID, quarter budget.Quarter, amount budget.Money) (budget.Money, budget.Money, error) {
	alloc, found, err := getAllocationByID(ctx, q, id)
	if err != nil {
		return budget.Zero, budget.Zero, err
	}
	if !found {
		return budget.Zero, budget.Zero, budget.ErrAllocationNotFound
	}

	idx := int(quarter) - 1
	prev := alloc.QuarterSpent[idx]
	alloc.QuarterSpent[idx] = prev.Add(amount)
	totalSpent := alloc.SumSpent()
	remaining := alloc.TotalBudget.Sub(totalSpent)

	query := `
		UPDATE budget_allocations
		SET q1_spent = ?, q2_spent = ?, q3_spent = ?, q4_spent = ?,
		    total_spent = ?, remaining_budget = ?, updated_at = ?
		WHERE id = ? AND is_active = TRUE
	`
	result, err := q.ExecContext(ctx, query,
		alloc.QuarterSpent[0].String(),
		alloc.QuarterSpent[1].String(),
		alloc.QuarterSpent[2].String(),
		alloc.QuarterSpent[3].String(),
		totalSpent.String(),
		remaining.String(),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return budget.Zero, budget.Zero, fmt.Errorf("failed to increment spent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return budget.Zero, budget.Zero, budget.ErrAllocationNotFound
	}

	return prev, alloc.QuarterSpent[idx], nil
}

// SaveAllocation inserts or updates an allocation with recomputed totals.
// This is the seam for the external planning workflow and for test setup;
// spent amounts only move through IncrementSpent.
func (s *Store) SaveAllocation(ctx context.Context, a budget.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	totalBudget := a.SumBudget()
	totalSpent := a.SumSpent()
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO budget_allocations
		(id, fiscal_year, budget_line_id, department_id,
		 q1_budget, q2_budget, q3_budget, q4_budget,
		 q1_spent, q2_spent, q3_spent, q4_spent,
		 total_budget, total_spent, remaining_budget, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fiscal_year, budget_line_id, department_id) DO UPDATE SET
			q1_budget = excluded.q1_budget,
			q2_budget = excluded.q2_budget,
			q3_budget = excluded.q3_budget,
			q4_budget = excluded.q4_budget,
			total_budget = excluded.total_budget,
			remaining_budget = excluded.remaining_budget,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Key.FiscalYear, a.Key.BudgetLineID, a.Key.DepartmentID,
		a.QuarterBudget[0].String(), a.QuarterBudget[1].String(),
		a.QuarterBudget[2].String(), a.QuarterBudget[3].String(),
		a.QuarterSpent[0].String(), a.QuarterSpent[1].String(),
		a.QuarterSpent[2].String(), a.QuarterSpent[3].String(),
		totalBudget.String(), totalSpent.String(),
		totalBudget.Sub(totalSpent).String(),
		a.IsActive, now, now,
	)
	return err
}

func scanAllocation(row *sql.Row) (budget.Allocation, bool, error) {
	var (
		a         budget.Allocation
		budgets   [4]string
		spents    [4]string
		totals    [3]string
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&a.ID, &a.Key.FiscalYear, &a.Key.BudgetLineID, &a.Key.DepartmentID,
		&budgets[0], &budgets[1], &budgets[2], &budgets[3],
		&spents[0], &spents[1], &spents[2], &spents[3],
		&totals[0], &totals[1], &totals[2], &a.IsActive, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return budget.Allocation{}, false, nil
	}
	if err != nil {
		return budget.Allocation{}, false, fmt.Errorf("failed to scan allocation: %w", err)
	}

	for i := 0; i < 4; i++ {
		a.QuarterBudget[i] = budget.MustMoney(budgets[i])
		a.QuarterSpent[i] = budget.MustMoney(spents[i])
	}
	a.TotalBudget = budget.MustMoney(totals[0])
	a.TotalSpent = budget.MustMoney(totals[1])
	a.RemainingBudget = budget.MustMoney(totals[2])
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return a, true, nil
}

// =============================================================================
// RESERVATION STORE (budget.ReservationStore interface)
// =============================================================================

const reservationColumns = `id, allocation_id, pr_id, quarter, reserved_amount,
	description, reserved_at, expires_at, is_released, released_at, release_reason`

func (s *Store) CreateReservation(ctx context.Context, res budget.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createReservation(ctx, s.db, res)
}

func createReservation(ctx context.Context, q querier, res budget.Reservation) error {
	query := `
		INSERT INTO budget_reservations
		(id, allocation_id, pr_id, quarter, reserved_amount, description,
		 reserved_at, expires_at, is_released)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE)
	`

	_, err := q.ExecContext(ctx, query,
		res.ID, res.AllocationID, res.PRID, int(res.Quarter),
		res.ReservedAmount.String(), res.Description,
		res.ReservedAt.Format(time.RFC3339),
		res.ExpiresAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			dup := &budget.DuplicateReservationError{PRID: res.PRID}
			if existing, found, lookupErr := getActiveReservationByPR(ctx, q, res.PRID); lookupErr == nil && found {
				dup.ExistingID = existing.ID
			}
			return dup
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (s *Store) SumActiveReserved(ctx context.Context, id budget.AllocationID, quarter budget.Quarter, now time.Time) (budget.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumActiveReserved(ctx, s.db, id, quarter, now)
}

func sumActiveReserved(ctx context.Context, q querier, id budget.AllocationID, quarter budget.Quarter, now time.Time) (budget.Money, error) {
	// SQLite has no DECIMAL type; amounts are summed in Go to keep
	// fixed-point precision.
	query := `
		SELECT reserved_amount
		FROM budget_reservations
		WHERE allocation_id = ? AND quarter = ? AND is_released = 0 AND expires_at > ?
	`

	rows, err := q.QueryContext(ctx, query, id, int(quarter), now.UTC().Format(time.RFC3339))
	if err != nil {
		return budget.Zero, fmt.Errorf("failed to sum reservations: %w", err)
	}
	defer rows.Close()

	total := budget.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return budget.Zero, err
		}
		total = total.Add(budget.MustMoney(amount))
	}
	return total, rows.Err()
}

func (s *Store) GetActiveReservationByPR(ctx context.Context, prID budget.PRID) (budget.Reservation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getActiveReservationByPR(ctx, s.db, prID)
}

func getActiveReservationByPR(ctx context.Context, q querier, prID budget.PRID) (budget.Reservation, bool, error) {
	query := `SELECT ` + reservationColumns + `
		FROM budget_reservations
		WHERE pr_id = ? AND is_released = 0`

	rows, err := q.QueryContext(ctx, query, prID)
	if err != nil {
		return budget.Reservation{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return budget.Reservation{}, false, rows.Err()
	}
	res, err := scanReservation(rows)
	if err != nil {
		return budget.Reservation{}, false, err
	}
	return res, true, nil
}

func (s *Store) MarkReleased(ctx context.Context, id budget.ReservationID, now time.Time, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markReleased(ctx, s.db, id, now, reason)
}

// markReleased is the compare-and-swap on is_released. RowsAffected tells
// the caller whether it won the transition.
func markReleased(ctx context.Context, q querier, id budget.ReservationID, now time.Time, reason string) (bool, error) {
	query := `
		UPDATE budget_reservations
		SET is_released = 1, released_at = ?, release_reason = ?
		WHERE id = ? AND is_released = 0
	`

	result, err := q.ExecContext(ctx, query, now.UTC().Format(time.RFC3339), reason, id)
	if err != nil {
		return false, fmt.Errorf("failed to release reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]budget.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listExpired(ctx, s.db, now, limit)
}

func listExpired(ctx context.Context, q querier, now time.Time, limit int) ([]budget.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM budget_reservations
		WHERE is_released = 0 AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`

	return queryReservations(ctx, q, query, now.UTC().Format(time.RFC3339), limit)
}

func (s *Store) ListByAllocation(ctx context.Context, id budget.AllocationID) ([]budget.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByAllocation(ctx, s.db, id)
}

func listByAllocation(ctx context.Context, q querier, id budget.AllocationID) ([]budget.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM budget_reservations
		WHERE allocation_id = ?
		ORDER BY reserved_at DESC`

	return queryReservations(ctx, q, query, id)
}

func queryReservations(ctx context.Context, q querier, query string, args ...any) ([]budget.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []budget.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}
	return reservations, rows.Err()
}

func scanReservation(rows *sql.Rows) (budget.Reservation, error) {
	var (
		res           budget.Reservation
		quarter       int
		amount        string
		description   sql.NullString
		reservedAt    string
		expiresAt     string
		releasedAt    sql.NullString
		releaseReason sql.NullString
	)

	err := rows.Scan(
		&res.ID, &res.AllocationID, &res.PRID, &quarter, &amount,
		&description, &reservedAt, &expiresAt,
		&res.IsReleased, &releasedAt, &releaseReason,
	)
	if err != nil {
		return res, fmt.Errorf("failed to scan reservation: %w", err)
	}

	res.Quarter = budget.Quarter(quarter)
	res.ReservedAmount = budget.MustMoney(amount)
	res.Description = description.String
	res.ReservedAt, _ = time.Parse(time.RFC3339, reservedAt)
	res.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	res.ReleaseReason = releaseReason.String
	if releasedAt.Valid {
		t, _ := time.Parse(time.RFC3339, releasedAt.String)
		res.ReleasedAt = &t
	}

	return res, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"budget_reservations", "budget_allocations"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
