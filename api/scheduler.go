/*
scheduler.go - Background expiry sweep scheduler

PURPOSE:
  Periodically runs the expiry sweeper so stale reservations stop
  cluttering the active set. Missing a run is harmless: expired holds
  already don't count against availability.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Reuses the same SweepExpired path as the manual /api/budget/sweep
    endpoint and the `budgetd sweep` command
  - Overlapping runs are safe; MarkReleased idempotence makes
    double-sweeping harmless

USAGE:
  scheduler := NewSweepScheduler(sweeper, 5*time.Minute, 100)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/budget-ledger/budget"
)

// SweepScheduler runs the expiry sweeper on a ticker.
type SweepScheduler struct {
	Sweeper   *budget.Sweeper
	Interval  time.Duration
	BatchSize int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a scheduler.
func NewSweepScheduler(sweeper *budget.Sweeper, interval time.Duration, batchSize int) *SweepScheduler {
	return &SweepScheduler{
		Sweeper:   sweeper,
		Interval:  interval,
		BatchSize: batchSize,
		stop:      make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	log.Printf("[Sweeper] scheduler started with interval %v", s.Interval)
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Sweeper] scheduler stopped")
	}
}

func (s *SweepScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *SweepScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.Sweeper.SweepExpired(ctx, s.BatchSize); err != nil {
		log.Printf("[Sweeper] sweep failed: %v", err)
	}
}
