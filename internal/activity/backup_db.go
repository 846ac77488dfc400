package activity

import (
	"context"
	"time"

	"github.com/edvin/backhaul/internal/events"
	"github.com/edvin/backhaul/internal/metrics"
	"github.com/edvin/backhaul/internal/model"
	"github.com/edvin/backhaul/internal/store"
)

// HistoryStore is the data access surface for history bookkeeping activities.
type HistoryStore interface {
	UpdateHistoryStatus(ctx context.Context, id, status string) error
	FinalizeHistory(ctx context.Context, params store.FinalizeHistoryParams) error
	UpdateJobLastRun(ctx context.Context, jobID string, at time.Time) error
	MarkStuckHistories(ctx context.Context, olderThan time.Duration) (int64, error)
}

// BackupDB contains activities that read from and update the backup database.
type BackupDB struct {
	store HistoryStore
	pub   Publisher
}

// NewBackupDB creates a new BackupDB activity struct.
func NewBackupDB(store HistoryStore, pub Publisher) *BackupDB {
	return &BackupDB{store: store, pub: pub}
}

// MarkHistoryStatusParams holds the parameters for MarkHistoryStatus.
type MarkHistoryStatusParams struct {
	HistoryID string
	UserID    string
	JobID     string
	Status    string
}

// MarkHistoryStatus sets the status of a history row and announces the
// transition on the real-time channels.
func (a *BackupDB) MarkHistoryStatus(ctx context.Context, params MarkHistoryStatusParams) error {
	if err := a.store.UpdateHistoryStatus(ctx, params.HistoryID, params.Status); err != nil {
		return err
	}
	if a.pub != nil && params.Status == model.StatusRunning {
		started := model.ProgressUpdate{HistoryID: params.HistoryID, Status: params.Status}
		a.pub.Publish(ctx, events.ExecutionChannel(params.HistoryID), events.KindJobStarted, started)
		if params.UserID != "" {
			a.pub.Publish(ctx, events.UserChannel(params.UserID), events.KindJobStarted, started)
		}
	}
	return nil
}

// PersistBackupResultParams holds the parameters for PersistBackupResult.
type PersistBackupResultParams struct {
	Execution model.BackupJobExecution
	Result    model.BackupExecutionResult
	Status    string
}

// PersistBackupResult writes the terminal state of a run: the history
// counters and status, the job's last run time, and the completion event.
func (a *BackupDB) PersistBackupResult(ctx context.Context, params PersistBackupResultParams) error {
	var errMsg *string
	if params.Result.Error != "" {
		errMsg = &params.Result.Error
	}
	err := a.store.FinalizeHistory(ctx, store.FinalizeHistoryParams{
		ID:            params.Execution.HistoryID,
		Status:        params.Status,
		FilesScanned:  params.Result.FilesScanned,
		FilesUploaded: params.Result.FilesUploaded,
		FilesFailed:   params.Result.FilesFailed,
		BytesUploaded: params.Result.BytesUploaded,
		RemotePath:    params.Result.RemotePath,
		ErrorMessage:  errMsg,
	})
	if err != nil {
		return err
	}

	if err := a.store.UpdateJobLastRun(ctx, params.Execution.JobID, time.Now().UTC()); err != nil {
		return err
	}

	metrics.RecordRun(params.Status, params.Result.FilesUploaded, params.Result.BytesUploaded, params.Result.Duration)

	if a.pub != nil {
		summary := model.BackupHistory{
			ID:            params.Execution.HistoryID,
			JobID:         params.Execution.JobID,
			UserID:        params.Execution.UserID,
			Status:        params.Status,
			FilesScanned:  params.Result.FilesScanned,
			FilesUploaded: params.Result.FilesUploaded,
			FilesFailed:   params.Result.FilesFailed,
			BytesUploaded: params.Result.BytesUploaded,
			RemotePath:    params.Result.RemotePath,
		}
		a.pub.Publish(ctx, events.ExecutionChannel(params.Execution.HistoryID), events.KindJobCompleted, summary)
		if params.Execution.UserID != "" {
			a.pub.Publish(ctx, events.UserChannel(params.Execution.UserID), events.KindJobCompleted, summary)
		}
	}
	return nil
}

// MarkStuckBackups fails history rows that have not made progress within the
// timeout. Returns how many rows were marked.
func (a *BackupDB) MarkStuckBackups(ctx context.Context, olderThan time.Duration) (int64, error) {
	return a.store.MarkStuckHistories(ctx, olderThan)
}
