package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/backhaul/internal/activity"
	"github.com/edvin/backhaul/internal/model"
)

// TaskQueue is the Temporal task queue all backup workflows run on.
const TaskQueue = "backhaul"

// RunBackupWorkflow executes one backup run end to end: mark the history row
// running, run the backup on a worker, persist the terminal state. The
// execution message is immutable once enqueued; everything else is resolved
// by the worker at run time.
func RunBackupWorkflow(ctx workflow.Context, exec model.BackupJobExecution) error {
	dbCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    1 * time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})

	err := workflow.ExecuteActivity(dbCtx, "MarkHistoryStatus", activity.MarkHistoryStatusParams{
		HistoryID: exec.HistoryID,
		UserID:    exec.UserID,
		JobID:     exec.JobID,
		Status:    model.StatusRunning,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	// The run itself reports catastrophic failures through the result, so an
	// activity error here means the worker died, heartbeats stopped, or the
	// run was cancelled.
	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 12 * time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    1 * time.Minute,
			BackoffCoefficient: 2.0,
		},
	})

	var result model.BackupExecutionResult
	err = workflow.ExecuteActivity(execCtx, "ExecuteBackup", exec).Get(ctx, &result)
	if err != nil {
		status := model.StatusFailed
		if temporal.IsCanceledError(err) || ctx.Err() != nil {
			status = model.StatusCancelled
		}
		_ = setHistoryTerminal(ctx, exec, status, err)
		return err
	}

	return workflow.ExecuteActivity(dbCtx, "PersistBackupResult", activity.PersistBackupResultParams{
		Execution: exec,
		Result:    result,
		Status:    result.Status(),
	}).Get(ctx, nil)
}

// setHistoryTerminal records a terminal status for a run that never produced
// a result. Callers typically ignore the returned error since the primary
// error is more important.
func setHistoryTerminal(ctx workflow.Context, exec model.BackupJobExecution, status string, cause error) error {
	if status == model.StatusCancelled {
		// The workflow context is already cancelled; the terminal write still
		// has to happen.
		var cancel workflow.CancelFunc
		ctx, cancel = workflow.NewDisconnectedContext(ctx)
		defer cancel()
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
	return workflow.ExecuteActivity(ctx, "PersistBackupResult", activity.PersistBackupResultParams{
		Execution: exec,
		Result:    model.BackupExecutionResult{HistoryID: exec.HistoryID, Error: cause.Error()},
		Status:    status,
	}).Get(ctx, nil)
}
