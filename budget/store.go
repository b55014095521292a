/*
store.go - Persistence interfaces for allocations and reservations

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage; the correctness contract is the same everywhere.

OWNERSHIP:
  - Only the Reservation Manager creates reservations.
  - Only the Commit/Release Engine flips is_released.
  - Only the Commit path mutates quarter_spent/total_spent, and only
    via IncrementSpent.

TRANSACTIONAL CONTRACT:
  Store.WithTx runs a function against a transactional view of the store.
  Everything inside either commits together or rolls back together.
  Implementations must additionally serialize WithTx bodies that touch the
  same allocation against each other - that is what makes the
  check-availability-then-insert in Reserve safe under concurrency.
  SQLite gets this from its single-writer transaction; a PostgreSQL
  implementation would take SELECT ... FOR UPDATE on the allocation row.

SEE ALSO:
  - store/memory.go: In-memory implementation for tests and dev
  - ../store/sqlite/sqlite.go: SQLite implementation
*/
package budget

import (
	"context"
	"time"
)

// =============================================================================
// ALLOCATION STORE
// =============================================================================

// AllocationStore owns the persisted allocation records. The ledger reads
// them and, during Commit only, increments spend.
type AllocationStore interface {
	// GetAllocation looks up an allocation by its natural key. Inactive
	// allocations are reported as not found. Inside WithTx this read
	// participates in the transaction's locking.
	GetAllocation(ctx context.Context, key AllocationKey) (Allocation, bool, error)

	// GetAllocationByID looks up an allocation by surrogate id.
	GetAllocationByID(ctx context.Context, id AllocationID) (Allocation, bool, error)

	// IncrementSpent adds amount to quarter_spent[quarter] and total_spent,
	// and recomputes remaining_budget. Returns the spent value for that
	// quarter before and after. Fails with ErrAllocationNotFound if the
	// allocation no longer exists or is inactive.
	//
	// Must only be called from the Commit path, inside WithTx.
	IncrementSpent(ctx context.Context, id AllocationID, quarter Quarter, amount Money) (prev, next Money, err error)
}

// =============================================================================
// RESERVATION STORE
// =============================================================================

// ReservationStore owns reservation records.
type ReservationStore interface {
	// CreateReservation persists a new hold. Fails with
	// ErrDuplicateActiveReservation if an active (non-released)
	// reservation already exists for the same PRID.
	CreateReservation(ctx context.Context, res Reservation) error

	// SumActiveReserved sums reserved_amount over reservations for the
	// allocation and quarter where is_released=false AND expires_at > now.
	// Expired-but-unswept reservations are excluded by the predicate, so
	// the sweeper is a cleanup optimization, not a correctness requirement.
	SumActiveReserved(ctx context.Context, id AllocationID, quarter Quarter, now time.Time) (Money, error)

	// GetActiveReservationByPR returns the single non-released reservation
	// for a purchase request, if any. Expiry is NOT checked here; callers
	// that care (Commit) check Reservation.Expired themselves.
	GetActiveReservationByPR(ctx context.Context, prID PRID) (Reservation, bool, error)

	// MarkReleased sets is_released=true and released_at=now, but only if
	// the reservation is still unreleased. Returns true if this call
	// performed the transition, false if it was already released (no-op,
	// not an error). This compare-and-swap is what guarantees that exactly
	// one of Commit, Release, and the sweeper resolves a reservation.
	MarkReleased(ctx context.Context, id ReservationID, now time.Time, reason string) (bool, error)

	// ListExpired returns active reservations with expires_at <= now,
	// oldest expiry first, at most limit rows.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error)

	// ListByAllocation returns all reservations for an allocation,
	// newest first. Reporting only; no consistency guarantees beyond
	// "recent".
	ListByAllocation(ctx context.Context, id AllocationID) ([]Reservation, error)
}

// =============================================================================
// STORE - Combined interface with transactional execution
// =============================================================================

// Store combines both stores with transactional execution.
type Store interface {
	AllocationStore
	ReservationStore

	// WithTx executes fn against a transactional view of the store.
	// If fn returns an error, nothing is persisted. Implementations
	// serialize conflicting WithTx bodies so that read-then-write
	// sequences inside fn are not interleaved.
	WithTx(ctx context.Context, fn func(Store) error) error
}
