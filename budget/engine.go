/*
engine.go - Commit and Release

PURPOSE:
  Resolves reservations. Commit converts a hold into real spend; Release
  cancels a hold and returns its amount to available headroom. Exactly one
  of {Commit, Release, expiry sweep} resolves any reservation.

ATOMICITY:
  Commit's release-the-hold and increment-the-spend must land together.
  A crash between them would either double-count (spend recorded while the
  hold still consumes headroom) or lose the spend record. Both therefore
  run inside one Store.WithTx, and the release is a compare-and-swap on
  is_released: whoever flips it false->true wins, and only the winner
  increments spend.

IDEMPOTENCE:
  Commit and Release called after a reservation is already resolved return
  ErrNoActiveReservation. Callers treat that as "already resolved" and
  carry on; it never corrupts state.

ACTUAL VS RESERVED AMOUNT:
  Commit accepts an actual amount that may differ from the reserved amount
  in either direction. The reservation only bounded the upper estimate at
  reserve time; invoice amounts are taken as-is with no re-validation
  against availability.
*/
package budget

import (
	"context"
	"time"
)

// =============================================================================
// COMMIT/RELEASE ENGINE
// =============================================================================

// Engine resolves reservations into spend (Commit) or back into headroom
// (Release).
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// WithClock overrides the time source. For tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CommitResult reports the spend mutation performed by Commit.
type CommitResult struct {
	AllocationID  AllocationID
	ReservationID ReservationID
	Quarter       Quarter
	PreviousSpent Money
	NewSpent      Money
}

// Commit converts the active reservation held by prID into real spend of
// actualAmount. Fails with ErrNoActiveReservation if the purchase request
// holds no live reservation (already committed/released/expired, or never
// reserved).
func (e *Engine) Commit(ctx context.Context, prID PRID, actualAmount Money) (CommitResult, error) {
	if !actualAmount.IsPositive() {
		return CommitResult{}, ErrInvalidAmount
	}

	now := e.now().UTC()

	var result CommitResult
	err := e.store.WithTx(ctx, func(tx Store) error {
		res, found, err := tx.GetActiveReservationByPR(ctx, prID)
		if err != nil {
			return err
		}
		if !found || res.Expired(now) {
			// Expired holds are not committable; the sweeper will report
			// them released on its next pass.
			return ErrNoActiveReservation
		}

		released, err := tx.MarkReleased(ctx, res.ID, now, "committed")
		if err != nil {
			return err
		}
		if !released {
			// Lost the race to a concurrent Commit/Release/sweep.
			return ErrNoActiveReservation
		}

		prev, next, err := tx.IncrementSpent(ctx, res.AllocationID, res.Quarter, actualAmount)
		if err != nil {
			return err
		}

		result = CommitResult{
			AllocationID:  res.AllocationID,
			ReservationID: res.ID,
			Quarter:       res.Quarter,
			PreviousSpent: prev,
			NewSpent:      next,
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}
	return result, nil
}

// ReleaseResult reports the cancelled hold.
type ReleaseResult struct {
	ReservationID  ReservationID
	AllocationID   AllocationID
	ReleasedAmount Money
}

// Release cancels the active reservation held by prID. No spend mutation
// occurs; the held amount simply becomes available to future Reserve calls.
// A second Release for the same prID returns ErrNoActiveReservation, which
// callers treat as "already released".
func (e *Engine) Release(ctx context.Context, prID PRID, reason string) (ReleaseResult, error) {
	now := e.now().UTC()

	var result ReleaseResult
	err := e.store.WithTx(ctx, func(tx Store) error {
		res, found, err := tx.GetActiveReservationByPR(ctx, prID)
		if err != nil {
			return err
		}
		if !found {
			return ErrNoActiveReservation
		}

		released, err := tx.MarkReleased(ctx, res.ID, now, reason)
		if err != nil {
			return err
		}
		if !released {
			return ErrNoActiveReservation
		}

		result = ReleaseResult{
			ReservationID:  res.ID,
			AllocationID:   res.AllocationID,
			ReleasedAmount: res.ReservedAmount,
		}
		return nil
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	return result, nil
}

// ReleaseByID releases a specific reservation, bypassing the PRID lookup.
// Used by the sweeper, which already holds the row it wants to release.
func (e *Engine) ReleaseByID(ctx context.Context, id ReservationID, now time.Time, reason string) (bool, error) {
	return e.store.MarkReleased(ctx, id, now, reason)
}
