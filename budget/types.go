/*
Package budget implements the budget reservation ledger.

PURPOSE:
  This package contains the core types and operations for tracking, per
  (fiscal year, budget line, department, quarter), how much money is
  allocated, how much is spent, and how much is provisionally held by
  in-flight purchase requests ("reservations").

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: Fixed-point currency amount (decimal, never float)
  - Quarter: Fiscal quarter 1..4
  - Allocation: Budgeted and spent amounts for one budget line, by quarter
  - Reservation: An expiring hold against a quarter's remaining budget

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Array-indexed quarters: QuarterBudget[0..3] with accessors, no dynamic
     field names or reflection
  3. Single transition: A reservation is released exactly once (commit,
     manual release, or expiry sweep - whichever acts first)
  4. Auditability: Every reservation records who/what/when via PRID,
     description, and timestamps

THE CORE INVARIANT:
  For a given (allocation, quarter):

    quarter_spent + sum(active non-expired reservations) <= quarter_budget

  This must hold immediately after every successful Reserve, including
  under concurrent Reserve calls. See manager.go for how the
  check-then-insert is serialized.

SEE ALSO:
  - store.go: Persistence interfaces and transactional contract
  - manager.go: Atomic check-and-reserve
  - engine.go: Commit and Release
  - sweeper.go: Expiry sweep
*/
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point currency amount
// =============================================================================

// Money is a fixed-point currency amount. All budget, spent, and reserved
// values are Money; float64 never appears in ledger arithmetic.
type Money = decimal.Decimal

// ParseMoney parses a decimal string like "1234.50".
func ParseMoney(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney parses a decimal string, returning zero on failure.
// Intended for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MoneyFromInt converts a whole currency amount.
func MoneyFromInt(v int64) Money {
	return decimal.NewFromInt(v)
}

// Zero is the zero Money value.
var Zero = decimal.Zero

// =============================================================================
// QUARTER - Fiscal quarter
// =============================================================================

// Quarter is a fiscal quarter, 1 through 4.
type Quarter int

const (
	Q1 Quarter = 1
	Q2 Quarter = 2
	Q3 Quarter = 3
	Q4 Quarter = 4
)

// Valid reports whether q is in 1..4.
func (q Quarter) Valid() bool {
	return q >= Q1 && q <= Q4
}

// index converts the 1-based quarter to a 0-based array index.
// Callers must have validated q first.
func (q Quarter) index() int {
	return int(q) - 1
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AllocationID string
type ReservationID string

// PRID identifies the external purchase request that owns a reservation.
// At most one active reservation exists per PRID at any time.
type PRID string

// AllocationKey is the natural identity of an allocation.
type AllocationKey struct {
	FiscalYear   int
	BudgetLineID string
	DepartmentID string
}

// =============================================================================
// ALLOCATION - Budgeted and spent amounts for one budget line
// =============================================================================

// Allocation is the persisted per-(fiscal year, budget line, department)
// record. Created by the budget-planning workflow; the ledger only reads it,
// except for the quarter-spent increment performed during Commit.
type Allocation struct {
	ID  AllocationID
	Key AllocationKey

	// Quarterly amounts, index 0 = Q1. Access via BudgetFor/SpentFor.
	QuarterBudget [4]Money
	QuarterSpent  [4]Money

	// Derived sums, maintained by the store on every spend mutation.
	TotalBudget     Money
	TotalSpent      Money
	RemainingBudget Money

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BudgetFor returns the budgeted amount for a quarter.
func (a *Allocation) BudgetFor(q Quarter) Money {
	return a.QuarterBudget[q.index()]
}

// SpentFor returns the spent amount for a quarter.
func (a *Allocation) SpentFor(q Quarter) Money {
	return a.QuarterSpent[q.index()]
}

// SumBudget recomputes TotalBudget from the quarterly amounts.
func (a *Allocation) SumBudget() Money {
	total := decimal.Zero
	for _, m := range a.QuarterBudget {
		total = total.Add(m)
	}
	return total
}

// SumSpent recomputes TotalSpent from the quarterly amounts.
func (a *Allocation) SumSpent() Money {
	total := decimal.Zero
	for _, m := range a.QuarterSpent {
		total = total.Add(m)
	}
	return total
}

// =============================================================================
// RESERVATION - Expiring hold against a quarter's budget
// =============================================================================

// DefaultTTL is how long a reservation stays active when the caller does
// not specify a TTL.
const DefaultTTL = 30 * 24 * time.Hour

// Reservation is a temporary hold created when a purchase request is
// initiated. It counts against availability until it is released or its
// expiry passes, whichever comes first.
type Reservation struct {
	ID           ReservationID
	AllocationID AllocationID
	PRID         PRID
	Quarter      Quarter

	ReservedAmount Money
	Description    string

	ReservedAt time.Time
	ExpiresAt  time.Time

	// Release state. IsReleased transitions false->true exactly once,
	// via Commit, manual Release, or the expiry sweeper.
	IsReleased    bool
	ReleasedAt    *time.Time
	ReleaseReason string
}

// Expired reports whether the reservation's expiry has passed.
// Expired reservations never count against availability, even before
// the sweeper has marked them released.
func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Active reports whether the reservation still holds budget headroom.
func (r *Reservation) Active(now time.Time) bool {
	return !r.IsReleased && !r.Expired(now)
}
