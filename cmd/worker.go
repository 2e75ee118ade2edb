package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that keep payment attempts in line with the gateway.`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the payment reconciliation worker pool",
	Long:  `Re-verify initiated payment attempts whose callback and webhook never arrived`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var (
	maxWorkers    int
	batchSize     int
	sweepInterval time.Duration
	staleAfter    time.Duration
	runOnce       bool
)

func startReconcileWorker() {
	deps, err := initializeDependencies(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	rc := &deps.Config.Reconciliation
	rc.Workers = getIntFlag(maxWorkers, rc.Workers)
	rc.BatchSize = getIntFlag(batchSize, rc.BatchSize)
	rc.Interval = getDurationFlag(sweepInterval, rc.Interval)
	rc.StaleAfter = getDurationFlag(staleAfter, rc.StaleAfter)

	logger := deps.Logger
	logger.Info("starting reconciliation worker",
		"workers", rc.Workers,
		"batch_size", rc.BatchSize,
		"interval", rc.Interval,
		"stale_after", rc.StaleAfter,
		"once", runOnce)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := deps.reconcilePool()

	if runOnce {
		pool.Start(ctx)
		summary, err := pool.Sweep(ctx)
		stop()
		pool.Wait()
		waitForEvents(deps)
		if err != nil {
			logger.Error("reconciliation sweep failed", "error", err)
			deps.Close()
			os.Exit(1)
		}
		logger.Info("reconciliation sweep complete",
			"found", summary.Found,
			"reconciled", summary.Reconciled,
			"skipped", summary.Skipped,
			"failed", summary.Failed)
		return
	}

	logger.Info("reconciliation worker is running. Press Ctrl+C to stop.")
	pool.Run(ctx)
	pool.Wait()
	waitForEvents(deps)
	logger.Info("reconciliation worker shutdown complete")
}

func waitForEvents(deps *Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := deps.Bus.Wait(ctx); err != nil {
		deps.Logger.Warn("shutdown timeout reached before event handlers finished", "error", err)
	}
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Number of workers (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Attempts picked up per sweep (overrides config)")
	reconcileWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Time between sweeps (overrides config)")
	reconcileWorkerCmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "Age after which an initiated attempt is re-verified (overrides config)")
	reconcileWorkerCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single sweep and exit")

	workerCmd.AddCommand(reconcileWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
