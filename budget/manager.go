/*
manager.go - Atomic check-and-reserve

PURPOSE:
  The Reservation Manager is the only path permitted to create a
  reservation. It computes availability and, if sufficient, persists the
  hold - as a single atomic unit.

THE RACE THIS PREVENTS:
  Two concurrent Reserve calls for the same (allocation, quarter) must not
  both observe sufficient availability and both succeed if their combined
  amount would exceed the budget. The read (availability) and the write
  (insert reservation) therefore run inside one Store.WithTx, which the
  store serializes per conflicting transaction. Reservations on unrelated
  allocations proceed fully in parallel.

AVAILABILITY FORMULA:
  available = quarter_budget - quarter_spent - sum(active, non-expired holds)

  Expired reservations are excluded by the expires_at > now predicate in
  SumActiveReserved, so availability is correct even before the sweeper
  has run.

FAILURE MODES:
  - ErrAllocationNotFound: no active allocation for the key (permanent)
  - ErrInsufficientBudget: amount > available; nothing is mutated
  - ErrDuplicateActiveReservation: the PRID already holds a reservation;
    the caller must Release it first or proceed directly to Commit
  - Context cancellation/timeouts roll the transaction back; a timed-out
    Reserve never leaves a partial reservation behind

SEE ALSO:
  - engine.go: Commit and Release resolve holds created here
  - store.go: The WithTx serialization contract
*/
package budget

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RESERVATION MANAGER
// =============================================================================

// Manager performs atomic check-and-reserve against the ledger.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a Manager with the default 30-day reservation TTL.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
}

// WithTTL overrides the default reservation TTL.
func (m *Manager) WithTTL(ttl time.Duration) *Manager {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

// WithClock overrides the time source. For tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// ReserveRequest is the input to Reserve.
type ReserveRequest struct {
	Key         AllocationKey
	PRID        PRID
	Quarter     Quarter
	Amount      Money
	Description string

	// TTL overrides the manager's default when positive.
	TTL time.Duration
}

// ReserveResult reports the created hold.
type ReserveResult struct {
	ReservationID ReservationID
	AllocationID  AllocationID
	ExpiresAt     time.Time
}

// Reserve atomically checks availability for (allocation, quarter) and, if
// the requested amount fits, persists a reservation. This is the only write
// path that consumes budget headroom.
func (m *Manager) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	if !req.Quarter.Valid() {
		return ReserveResult{}, ErrInvalidQuarter
	}
	if !req.Amount.IsPositive() {
		return ReserveResult{}, ErrInvalidAmount
	}

	ttl := m.ttl
	if req.TTL > 0 {
		ttl = req.TTL
	}

	now := m.now().UTC()
	res := Reservation{
		ID:             ReservationID(uuid.NewString()),
		PRID:           req.PRID,
		Quarter:        req.Quarter,
		ReservedAmount: req.Amount,
		Description:    req.Description,
		ReservedAt:     now,
		ExpiresAt:      now.Add(ttl),
	}

	var result ReserveResult
	err := m.store.WithTx(ctx, func(tx Store) error {
		alloc, found, err := tx.GetAllocation(ctx, req.Key)
		if err != nil {
			return err
		}
		if !found {
			return ErrAllocationNotFound
		}

		reserved, err := tx.SumActiveReserved(ctx, alloc.ID, req.Quarter, now)
		if err != nil {
			return err
		}

		available := alloc.BudgetFor(req.Quarter).Sub(alloc.SpentFor(req.Quarter)).Sub(reserved)
		if req.Amount.GreaterThan(available) {
			return &InsufficientBudgetError{
				AllocationID: alloc.ID,
				Quarter:      req.Quarter,
				Available:    available,
				Requested:    req.Amount,
			}
		}

		res.AllocationID = alloc.ID
		if err := tx.CreateReservation(ctx, res); err != nil {
			return err
		}

		result = ReserveResult{
			ReservationID: res.ID,
			AllocationID:  alloc.ID,
			ExpiresAt:     res.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return ReserveResult{}, err
	}
	return result, nil
}

// =============================================================================
// AVAILABILITY (read-only)
// =============================================================================

// Availability is a read-only snapshot of a quarter's headroom.
type Availability struct {
	Available bool
	Remaining Money
	Allocated Money
	Spent     Money
	Reserved  Money
}

// CheckAvailability reports whether amount would fit in the quarter right
// now. Safe to call freely for UI previews; creates no state and takes no
// locks beyond a plain read.
func (m *Manager) CheckAvailability(ctx context.Context, key AllocationKey, quarter Quarter, amount Money) (Availability, error) {
	if !quarter.Valid() {
		return Availability{}, ErrInvalidQuarter
	}

	alloc, found, err := m.store.GetAllocation(ctx, key)
	if err != nil {
		return Availability{}, err
	}
	if !found {
		return Availability{}, ErrAllocationNotFound
	}

	now := m.now().UTC()
	reserved, err := m.store.SumActiveReserved(ctx, alloc.ID, quarter, now)
	if err != nil {
		return Availability{}, err
	}

	remaining := alloc.BudgetFor(quarter).Sub(alloc.SpentFor(quarter)).Sub(reserved)
	return Availability{
		Available: !amount.GreaterThan(remaining),
		Remaining: remaining,
		Allocated: alloc.BudgetFor(quarter),
		Spent:     alloc.SpentFor(quarter),
		Reserved:  reserved,
	}, nil
}
