/*
errors.go - Centralized error types for the budget ledger

PURPOSE:
  All ledger error types in one place. Callers branch on sentinels with
  errors.Is(), and dig out structured details with errors.As().

ERROR CATEGORIES:
  1. Allocation errors - No matching active allocation (permanent)
  2. Budget errors     - Insufficient headroom (expected, recoverable)
  3. Reservation errors - Duplicate holds, missing holds
  4. Input errors      - Bad quarter or non-positive amount

USAGE:
  if errors.Is(err, budget.ErrInsufficientBudget) {
      var ib *budget.InsufficientBudgetError
      errors.As(err, &ib)
      // surface ib.Available to the requester
  }
*/
package budget

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAllocationNotFound is returned when no active allocation matches
	// the requested (fiscal year, budget line, department). Permanent -
	// retrying cannot succeed until planning creates the allocation.
	ErrAllocationNotFound = errors.New("budget allocation not found")

	// ErrInsufficientBudget is returned when a reserve would exceed the
	// quarter's remaining headroom. Expected and recoverable: the caller
	// can reduce the amount or wait for other reservations to expire.
	ErrInsufficientBudget = errors.New("insufficient budget")

	// ErrDuplicateActiveReservation is returned when a purchase request
	// already holds an active reservation. The caller must Release or
	// Commit the existing hold first.
	ErrDuplicateActiveReservation = errors.New("purchase request already holds an active reservation")

	// ErrNoActiveReservation is returned by Commit/Release when no active
	// hold exists for the purchase request (already committed, released,
	// expired, or never reserved). Callers treat this as already-resolved,
	// not as an operational failure.
	ErrNoActiveReservation = errors.New("no active reservation for purchase request")

	// ErrInvalidQuarter is returned for quarters outside 1..4.
	ErrInvalidQuarter = errors.New("quarter must be between 1 and 4")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBudgetError reports how much headroom was actually available,
// so the caller can offer a reduced request.
type InsufficientBudgetError struct {
	AllocationID AllocationID
	Quarter      Quarter
	Available    Money
	Requested    Money
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("insufficient budget for Q%d: available %s, requested %s",
		e.Quarter, e.Available.String(), e.Requested.String())
}

func (e *InsufficientBudgetError) Unwrap() error {
	return ErrInsufficientBudget
}

// DuplicateReservationError identifies the existing hold blocking a reserve.
type DuplicateReservationError struct {
	PRID       PRID
	ExistingID ReservationID
}

func (e *DuplicateReservationError) Error() string {
	return fmt.Sprintf("purchase request %s already holds reservation %s", e.PRID, e.ExistingID)
}

func (e *DuplicateReservationError) Unwrap() error {
	return ErrDuplicateActiveReservation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to caller input or state,
// i.e. retrying the identical call cannot succeed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBudget) ||
		errors.Is(err, ErrDuplicateActiveReservation) ||
		errors.Is(err, ErrInvalidQuarter) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing allocation or hold.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAllocationNotFound) ||
		errors.Is(err, ErrNoActiveReservation)
}
