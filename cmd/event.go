package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Manage payment events: replay the emails of a finished payment attempt`,
}

var replayEventCmd = &cobra.Command{
	Use:   "replay [attempt-id]",
	Short: "Replay the outcome event of a finished payment attempt",
	Long:  `Rebuild the completed or failed event of a payment attempt from the database and run its email handlers again`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		replayOutcomeEvent(args[0])
	},
}

var replayTimeout time.Duration

func replayOutcomeEvent(attemptID string) {
	deps, err := initializeDependencies(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	logger := deps.Logger

	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()

	event, err := deps.Payments.StoredOutcomeEvent(ctx, attemptID)
	if err != nil {
		logger.Error("failed to rebuild event", "attempt_id", attemptID, "error", err)
		return
	}

	logger.Info("replaying event", "event_type", event.EventType(), "event_id", event.EventID(), "attempt_id", attemptID)

	if err := deps.Bus.PublishSync(ctx, event); err != nil {
		logger.Error("failed to replay event", "error", err)
		return
	}

	logger.Info("event replayed successfully")
}

func init() {
	replayEventCmd.Flags().DurationVar(&replayTimeout, "timeout", time.Minute, "Time allowed for the email handlers")

	eventCmd.AddCommand(replayEventCmd)

	rootCmd.AddCommand(eventCmd)
}
