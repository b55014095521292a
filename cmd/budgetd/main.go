/*
main.go - budgetd entry point

PURPOSE:
  Starts the budget reservation ledger service, or runs a one-shot expiry
  sweep for cron-style scheduling.

COMMANDS:
  budgetd serve   Run the HTTP API with the background sweep scheduler
  budgetd sweep   Release expired reservations once and exit
  budgetd seed    Load a fiscal-year budget plan (JSON) into the ledger

CONFIGURATION:
  Both commands accept --config pointing at a YAML file; flags override
  the file. See config/config.go for the schema and defaults.

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Close the database connection
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/budget-ledger/api"
	"github.com/warp/budget-ledger/budget"
	"github.com/warp/budget-ledger/config"
	"github.com/warp/budget-ledger/factory"
	"github.com/warp/budget-ledger/store/sqlite"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

type rootOptions struct {
	ConfigPath string
	DBPath     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "budgetd",
		Short:         "Budget reservation ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides config)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))

	return cmd
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	return cfg, nil
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the background expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func serve(cfg config.Config) error {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	manager := budget.NewManager(store).WithTTL(cfg.TTL())
	handler := api.NewHandler(store, manager)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	var scheduler *api.SweepScheduler
	if cfg.Sweeper.Enabled {
		scheduler = api.NewSweepScheduler(handler.Sweeper, time.Duration(cfg.Sweeper.Interval), cfg.Sweeper.BatchSize)
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Println("[Server] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Println("[Server] stopped")
	return nil
}

// =============================================================================
// SWEEP
// =============================================================================

func newSweepCommand(opts *rootOptions) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release expired reservations once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if batchSize <= 0 {
				batchSize = cfg.Sweeper.BatchSize
			}

			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			report, err := budget.NewSweeper(store).SweepExpired(ctx, batchSize)
			if err != nil {
				return err
			}

			fmt.Printf("released %d reservation(s) totalling %s (%d error(s))\n",
				report.ReleasedCount, report.TotalAmount.String(), report.Errors)
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "max reservations per sweep (overrides config)")
	return cmd
}

// =============================================================================
// SEED
// =============================================================================

func newSeedCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <plan.json>",
		Short: "Load a fiscal-year budget plan into the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read plan: %w", err)
			}
			allocations, err := factory.NewAllocationFactory().ParsePlan(string(data))
			if err != nil {
				return err
			}

			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			for _, alloc := range allocations {
				if err := store.SaveAllocation(ctx, alloc); err != nil {
					return fmt.Errorf("failed to save allocation %s/%s: %w",
						alloc.Key.BudgetLineID, alloc.Key.DepartmentID, err)
				}
			}

			fmt.Printf("seeded %d allocation(s)\n", len(allocations))
			return nil
		},
	}

	return cmd
}
