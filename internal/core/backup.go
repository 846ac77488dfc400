// Package core holds the service layer: API-facing operations that touch the
// data store and hand work to Temporal.
package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/backhaul/internal/model"
	"github.com/edvin/backhaul/internal/storage"
	"github.com/edvin/backhaul/internal/workflow"
)

// Store is the data access surface the backup service needs.
type Store interface {
	GetJob(ctx context.Context, id string) (*model.BackupJob, error)
	GetCredential(ctx context.Context, id string) (*model.StorageCredential, error)
	CreateHistory(ctx context.Context, h *model.BackupHistory) error
	GetHistory(ctx context.Context, id string) (*model.BackupHistory, error)
	ListHistory(ctx context.Context, jobID string, limit int) ([]model.BackupHistory, error)
}

type BackupService struct {
	store      Store
	tc         temporalclient.Client
	newAdapter func(provider string) (storage.Adapter, error)
}

func NewBackupService(store Store, tc temporalclient.Client) *BackupService {
	return &BackupService{store: store, tc: tc, newAdapter: storage.New}
}

// Trigger enqueues a run for a job and returns the pending history row. The
// execution message is built here and is immutable from this point on.
// namePattern overrides the job's configured folder name pattern for this
// run only; empty keeps the configured one.
func (s *BackupService) Trigger(ctx context.Context, jobID, namePattern string) (*model.BackupHistory, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job for trigger: %w", err)
	}
	if !job.Enabled {
		return nil, fmt.Errorf("job %s is disabled", jobID)
	}
	if namePattern == "" {
		namePattern = job.NamePattern
	}

	history := &model.BackupHistory{
		ID:     uuid.NewString(),
		JobID:  job.ID,
		UserID: job.UserID,
		Status: model.StatusPending,
	}
	if err := s.store.CreateHistory(ctx, history); err != nil {
		return nil, fmt.Errorf("create history for job %s: %w", jobID, err)
	}

	exec := model.BackupJobExecution{
		JobID:        job.ID,
		HistoryID:    history.ID,
		UserID:       job.UserID,
		SourcePath:   job.SourcePath,
		DestID:       job.DestID,
		CredentialID: job.CredentialID,
		NamePattern:  namePattern,
		Retention:    job.Retention,
	}
	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID(history.ID),
		TaskQueue: workflow.TaskQueue,
	}, "RunBackupWorkflow", exec)
	if err != nil {
		return nil, fmt.Errorf("start RunBackupWorkflow: %w", err)
	}

	return history, nil
}

// Cancel requests cancellation of a running backup. The workflow records the
// cancelled status itself once the run winds down. Runs that already reached
// a terminal status are refused.
func (s *BackupService) Cancel(ctx context.Context, historyID string) error {
	history, err := s.store.GetHistory(ctx, historyID)
	if err != nil {
		return fmt.Errorf("get history for cancel: %w", err)
	}
	if model.TerminalStatus(history.Status) {
		return fmt.Errorf("backup run %s already finished as %s", historyID, history.Status)
	}
	if err := s.tc.CancelWorkflow(ctx, workflowID(historyID), ""); err != nil {
		return fmt.Errorf("cancel backup run %s: %w", historyID, err)
	}
	return nil
}

// History returns one run record.
func (s *BackupService) History(ctx context.Context, historyID string) (*model.BackupHistory, error) {
	return s.store.GetHistory(ctx, historyID)
}

// ListHistory returns the most recent runs for a job, newest first.
func (s *BackupService) ListHistory(ctx context.Context, jobID string, limit int) ([]model.BackupHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListHistory(ctx, jobID, limit)
}

// ValidateCredential checks that a stored credential can authenticate against
// its provider.
func (s *BackupService) ValidateCredential(ctx context.Context, credentialID string) (bool, error) {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return false, fmt.Errorf("get credential for validation: %w", err)
	}
	adapter, err := s.newAdapter(cred.Provider)
	if err != nil {
		return false, err
	}
	if err := adapter.Initialize(ctx, cred.Secret); err != nil {
		return false, nil
	}
	return adapter.ValidateCredentials(ctx), nil
}

func workflowID(historyID string) string {
	return "run-backup-" + historyID
}
