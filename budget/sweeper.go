// sweeper.go - Releases reservations past their expiry.
//
// The sweeper is a cleanup pass, not a correctness requirement: expired
// reservations already stop counting against availability via the
// expires_at > now predicate in SumActiveReserved. Sweeping them keeps the
// active set small and makes the expiry visible in reports.
package budget

import (
	"context"
	"log"
	"time"
)

// DefaultSweepBatchSize bounds how many rows one sweep processes.
const DefaultSweepBatchSize = 100

// Sweeper releases expired reservations through the same MarkReleased path
// as manual Release. Safe to run concurrently with itself: the CAS inside
// MarkReleased makes double-sweeping harmless.
type Sweeper struct {
	store Store
	now   func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(store Store) *Sweeper {
	return &Sweeper{store: store, now: time.Now}
}

// WithClock overrides the time source. For tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// SweptReservation records one released row for observability.
type SweptReservation struct {
	ReservationID ReservationID
	PRID          PRID
	AllocationID  AllocationID
	Quarter       Quarter
	Amount        Money
	ExpiredAt     time.Time
}

// SweepReport aggregates one sweep run.
type SweepReport struct {
	ReleasedCount int
	TotalAmount   Money
	Details       []SweptReservation
	Errors        int
}

// SweepExpired finds up to batchSize reservations past their expiry and
// releases them. Failures on individual rows are logged and skipped so one
// bad row cannot block the batch; unprocessed rows remain eligible for the
// next run.
func (s *Sweeper) SweepExpired(ctx context.Context, batchSize int) (SweepReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}

	now := s.now().UTC()
	expired, err := s.store.ListExpired(ctx, now, batchSize)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{TotalAmount: Zero}
	for _, res := range expired {
		released, err := s.store.MarkReleased(ctx, res.ID, now, "expired")
		if err != nil {
			log.Printf("[Sweeper] failed to release reservation %s (pr=%s): %v", res.ID, res.PRID, err)
			report.Errors++
			continue
		}
		if !released {
			// Another sweep or a manual release got there first.
			continue
		}

		report.ReleasedCount++
		report.TotalAmount = report.TotalAmount.Add(res.ReservedAmount)
		report.Details = append(report.Details, SweptReservation{
			ReservationID: res.ID,
			PRID:          res.PRID,
			AllocationID:  res.AllocationID,
			Quarter:       res.Quarter,
			Amount:        res.ReservedAmount,
			ExpiredAt:     res.ExpiresAt,
		})
	}

	if report.ReleasedCount > 0 {
		log.Printf("[Sweeper] released %d expired reservation(s) totalling %s",
			report.ReleasedCount, report.TotalAmount.String())
	}
	return report, nil
}
