// Package store provides budget.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/budget-ledger/budget"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements budget.Store with mutex-guarded maps. WithTx bodies run
// while holding the mutex, so conflicting check-then-write sequences are
// fully serialized. Single-process only; production uses the SQLite store.
type Memory struct {
	mu           sync.Mutex
	allocations  map[budget.AllocationID]budget.Allocation
	byKey        map[budget.AllocationKey]budget.AllocationID
	reservations map[budget.ReservationID]budget.Reservation
}

func NewMemory() *Memory {
	return &Memory{
		allocations:  make(map[budget.AllocationID]budget.Allocation),
		byKey:        make(map[budget.AllocationKey]budget.AllocationID),
		reservations: make(map[budget.ReservationID]budget.Reservation),
	}
}

// PutAllocation seeds or replaces an allocation. Derived totals are
// recomputed. Setup helper for tests and dev fixtures; the planning
// workflow that owns allocations in production is out of scope here.
func (m *Memory) PutAllocation(a budget.Allocation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.TotalBudget = a.SumBudget()
	a.TotalSpent = a.SumSpent()
	a.RemainingBudget = a.TotalBudget.Sub(a.TotalSpent)
	m.allocations[a.ID] = a
	m.byKey[a.Key] = a.ID
}

// WithTx runs fn under the store mutex. Mutations inside fn apply directly;
// an error from fn aborts the batch by restoring a snapshot.
func (m *Memory) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapAllocs := make(map[budget.AllocationID]budget.Allocation, len(m.allocations))
	for k, v := range m.allocations {
		snapAllocs[k] = v
	}
	snapRes := make(map[budget.ReservationID]budget.Reservation, len(m.reservations))
	for k, v := range m.reservations {
		snapRes[k] = v
	}

	if err := fn(&txView{m}); err != nil {
		m.allocations = snapAllocs
		m.reservations = snapRes
		return err
	}
	return nil
}

// txView exposes the store inside WithTx without re-locking.
type txView struct {
	m *Memory
}

func (t *txView) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	// Already inside a transaction; run directly.
	return fn(t)
}

// =============================================================================
// ALLOCATION STORE
// =============================================================================

func (m *Memory) GetAllocation(ctx context.Context, key budget.AllocationKey) (budget.Allocation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAllocationLocked(key)
}

func (t *txView) GetAllocation(ctx context.Context, key budget.AllocationKey) (budget.Allocation, bool, error) {
	return t.m.getAllocationLocked(key)
}

func (m *Memory) getAllocationLocked(key budget.AllocationKey) (budget.Allocation, bool, error) {
	id, ok := m.byKey[key]
	if !ok {
		return budget.Allocation{}, false, nil
	}
	a := m.allocations[id]
	if !a.IsActive {
		return budget.Allocation{}, false, nil
	}
	return a, true, nil
}

func (m *Memory) GetAllocationByID(ctx context.Context, id budget.AllocationID) (budget.Allocation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAllocationByIDLocked(id)
}

func (t *txView) GetAllocationByID(ctx context.Context, id budget.AllocationID) (budget.Allocation, bool, error) {
	return t.m.getAllocationByIDLocked(id)
}

func (m *Memory) getAllocationByIDLocked(id budget.AllocationID) (budget.Allocation, bool, error) {
	a, ok := m.allocations[id]
	if !ok || !a.IsActive {
		return budget.Allocation{}, false, nil
	}
	return a, true, nil
}

func (m *Memory) IncrementSpent(ctx context.Context, id budget.AllocationID, quarter budget.Quarter, amount budget.Money) (budget.Money, budget.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementSpentLocked(id, quarter, amount)
}

func (t *txView) IncrementSpent(ctx context.Context, id budget.AllocationID, quarter budget.Quarter, amount budget.Money) (budget.Money, budget.Money, error) {
	return t.m.incrementSpentLocked(id, quarter, amount)
}

func (m *Memory) incrementSpentLocked(id budget.AllocationID, quarter budget.Quarter, amount budget.Money) (budget.Money, budget.Money, error) {
	a, ok := m.allocations[id]
	if !ok || !a.IsActive {
		return budget.Zero, budget.Zero, budget.ErrAllocationNotFound
	}

	idx := int(quarter) - 1
	prev := a.QuarterSpent[idx]
	a.QuarterSpent[idx] = prev.Add(amount)
	a.TotalSpent = a.SumSpent()
	a.RemainingBudget = a.TotalBudget.Sub(a.TotalSpent)
	a.UpdatedAt = time.Now().UTC()
	m.allocations[id] = a

	return prev, a.QuarterSpent[idx], nil
}

// =============================================================================
// RESERVATION STORE
// =============================================================================

func (m *Memory) CreateReservation(ctx context.Context, res budget.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createReservationLocked(res)
}

func (t *txView) CreateReservation(ctx context.Context, res budget.Reservation) error {
	return t.m.createReservationLocked(res)
}

func (m *Memory) createReservationLocked(res budget.Reservation) error {
	for _, existing := range m.reservations {
		if existing.PRID == res.PRID && !existing.IsReleased {
			return &budget.DuplicateReservationError{PRID: res.PRID, ExistingID: existing.ID}
		}
	}
	m.reservations[res.ID] = res
	return nil
}

func (m *Memory) SumActiveReserved(ctx context.Context, id budget.AllocationID, quarter budget.Quarter, now time.Time) (budget.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumActiveReservedLocked(id, quarter, now)
}

func (t *txView) SumActiveReserved(ctx context.Context, id budget.AllocationID, quarter budget.Quarter, now time.Time) (budget.Money, error) {
	return t.m.sumActiveReservedLocked(id, quarter, now)
}

func (m *Memory) sumActiveReservedLocked(id budget.AllocationID, quarter budget.Quarter, now time.Time) (budget.Money, error) {
	total := budget.Zero
	for _, res := range m.reservations {
		if res.AllocationID == id && res.Quarter == quarter && res.Active(now) {
			total = total.Add(res.ReservedAmount)
		}
	}
	return total, nil
}

func (m *Memory) GetActiveReservationByPR(ctx context.Context, prID budget.PRID) (budget.Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getActiveByPRLocked(prID)
}

func (t *txView) GetActiveReservationByPR(ctx context.Context, prID budget.PRID) (budget.Reservation, bool, error) {
	return t.m.getActiveByPRLocked(prID)
}

func (m *Memory) getActiveByPRLocked(prID budget.PRID) (budget.Reservation, bool, error) {
	for _, res := range m.reservations {
		if res.PRID == prID && !res.IsReleased {
			return res, true, nil
		}
	}
	return budget.Reservation{}, false, nil
}

func (m *Memory) MarkReleased(ctx context.Context, id budget.ReservationID, now time.Time, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markReleasedLocked(id, now, reason)
}

func (t *txView) MarkReleased(ctx context.Context, id budget.ReservationID, now time.Time, reason string) (bool, error) {
	return t.m.markReleasedLocked(id, now, reason)
}

func (m *Memory) markReleasedLocked(id budget.ReservationID, now time.Time, reason string) (bool, error) {
	res, ok := m.reservations[id]
	if !ok || res.IsReleased {
		return false, nil
	}
	released := now
	res.IsReleased = true
	res.ReleasedAt = &released
	res.ReleaseReason = reason
	m.reservations[id] = res
	return true, nil
}

func (m *Memory) ListExpired(ctx context.Context, now time.Time, limit int) ([]budget.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listExpiredLocked(now, limit)
}

func (t *txView) ListExpired(ctx context.Context, now time.Time, limit int) ([]budget.Reservation, error) {
	return t.m.listExpiredLocked(now, limit)
}

func (m *Memory) listExpiredLocked(now time.Time, limit int) ([]budget.Reservation, error) {
	var expired []budget.Reservation
	for _, res := range m.reservations {
		if !res.IsReleased && res.Expired(now) {
			expired = append(expired, res)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (m *Memory) ListByAllocation(ctx context.Context, id budget.AllocationID) ([]budget.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listByAllocationLocked(id)
}

func (t *txView) ListByAllocation(ctx context.Context, id budget.AllocationID) ([]budget.Reservation, error) {
	return t.m.listByAllocationLocked(id)
}

func (m *Memory) listByAllocationLocked(id budget.AllocationID) ([]budget.Reservation, error) {
	var out []budget.Reservation
	for _, res := range m.reservations {
		if res.AllocationID == id {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReservedAt.After(out[j].ReservedAt)
	})
	return out, nil
}
