package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// CleanupStuckBackupsWorkflow fails history rows that stopped making
// progress. Runs on a cron schedule; a worker crash between heartbeat
// timeouts can otherwise leave rows in a non-terminal status forever.
func CleanupStuckBackupsWorkflow(ctx workflow.Context, olderThan time.Duration) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var marked int64
	err := workflow.ExecuteActivity(ctx, "MarkStuckBackups", olderThan).Get(ctx, &marked)
	if err != nil {
		return err
	}

	logger := workflow.GetLogger(ctx)
	logger.Info("marked stuck backup runs as failed", "marked", marked, "olderThan", olderThan)

	return nil
}
