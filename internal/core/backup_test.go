package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/edvin/backhaul/internal/model"
	"github.com/edvin/backhaul/internal/storage"
)

// mockStore implements the Store interface for testing.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetJob(ctx context.Context, id string) (*model.BackupJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BackupJob), args.Error(1)
}

func (m *mockStore) GetCredential(ctx context.Context, id string) (*model.StorageCredential, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StorageCredential), args.Error(1)
}

func (m *mockStore) CreateHistory(ctx context.Context, h *model.BackupHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *mockStore) GetHistory(ctx context.Context, id string) (*model.BackupHistory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BackupHistory), args.Error(1)
}

func (m *mockStore) ListHistory(ctx context.Context, jobID string, limit int) ([]model.BackupHistory, error) {
	args := m.Called(ctx, jobID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BackupHistory), args.Error(1)
}

func enabledJob() *model.BackupJob {
	return &model.BackupJob{
		ID:           "job-1",
		UserID:       "user-1",
		Name:         "nightly",
		SourcePath:   "/srv/data",
		CredentialID: "cred-1",
		DestID:       "dest-1",
		NamePattern:  "backup-{date}",
		Enabled:      true,
	}
}

func TestBackupService_Trigger_Success(t *testing.T) {
	st := &mockStore{}
	tc := &temporalmocks.Client{}
	svc := NewBackupService(st, tc)
	ctx := context.Background()

	st.On("GetJob", ctx, "job-1").Return(enabledJob(), nil)
	st.On("CreateHistory", ctx, mock.MatchedBy(func(h *model.BackupHistory) bool {
		return h.JobID == "job-1" && h.UserID == "user-1" && h.Status == model.StatusPending && h.ID != ""
	})).Return(nil)

	wfRun := &temporalmocks.WorkflowRun{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "RunBackupWorkflow",
		mock.MatchedBy(func(exec model.BackupJobExecution) bool {
			return exec.JobID == "job-1" && exec.SourcePath == "/srv/data" && exec.HistoryID != ""
		}),
	).Return(wfRun, nil)

	history, err := svc.Trigger(ctx, "job-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, history.Status)
	assert.NotEmpty(t, history.ID)
	st.AssertExpectations(t)
	tc.AssertExpectations(t)
}

func TestBackupService_Trigger_NamePatternOverride(t *testing.T) {
	st := &mockStore{}
	tc := &temporalmocks.Client{}
	svc := NewBackupService(st, tc)
	ctx := context.Background()

	st.On("GetJob", ctx, "job-1").Return(enabledJob(), nil)
	st.On("CreateHistory", ctx, mock.Anything).Return(nil)

	wfRun := &temporalmocks.WorkflowRun{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "RunBackupWorkflow",
		mock.MatchedBy(func(exec model.BackupJobExecution) bool {
			return exec.NamePattern == "adhoc-{datetime}"
		}),
	).Return(wfRun, nil)

	_, err := svc.Trigger(ctx, "job-1", "adhoc-{datetime}")
	require.NoError(t, err)
	tc.AssertExpectations(t)
}

func TestBackupService_Trigger_DisabledJob(t *testing.T) {
	st := &mockStore{}
	tc := &temporalmocks.Client{}
	svc := NewBackupService(st, tc)
	ctx := context.Background()

	job := enabledJob()
	job.Enabled = false
	st.On("GetJob", ctx, "job-1").Return(job, nil)

	_, err := svc.Trigger(ctx, "job-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
	tc.AssertNotCalled(t, "ExecuteWorkflow")
}

func TestBackupService_Trigger_WorkflowError(t *testing.T) {
	st := &mockStore{}
	tc := &temporalmocks.Client{}
	svc := NewBackupService(st, tc)
	ctx := context.Background()

	st.On("GetJob", ctx, "job-1").Return(enabledJob(), nil)
	st.On("CreateHistory", ctx, mock.Anything).Return(nil)
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "RunBackupWorkflow", mock.Anything).
		Return(nil, errors.New("temporal down"))

	_, err := svc.Trigger(ctx, "job-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RunBackupWorkflow")
}

func TestBackupService_Cancel(t *testing.T) {
	st := &mockStore{}
	tc := &temporalmocks.Client{}
	svc := NewBackupService(st, tc)
	ctx := context.Background()

	st.On("GetHistory", ctx, "hist-1").
		Return(&model.BackupHistory{ID: "hist-1", Status: model.StatusRunning}, nil)
	tc.On("CancelWorkflow", mock.Anything, "run-backup-hist-1", "").Return(nil)

	require.NoError(t, svc.Cancel(ctx, "hist-1"))
	tc.AssertExpectations(t)
}

func TestBackupService_Cancel_AlreadyFinished(t *testing.T) {
	st := &mockStore{}
	tc := &temporalmocks.Client{}
	svc := NewBackupService(st, tc)
	ctx := context.Background()

	st.On("GetHistory", ctx, "hist-1").
		Return(&model.BackupHistory{ID: "hist-1", Status: model.StatusSuccess}, nil)

	err := svc.Cancel(ctx, "hist-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finished")
	tc.AssertNotCalled(t, "CancelWorkflow")
}

func TestBackupService_ListHistory_ClampsLimit(t *testing.T) {
	st := &mockStore{}
	svc := NewBackupService(st, &temporalmocks.Client{})
	ctx := context.Background()

	st.On("ListHistory", ctx, "job-1", 50).Return([]model.BackupHistory{}, nil)

	_, err := svc.ListHistory(ctx, "job-1", 0)
	require.NoError(t, err)
	st.AssertExpectations(t)
}

func TestBackupService_ValidateCredential(t *testing.T) {
	st := &mockStore{}
	svc := NewBackupService(st, &temporalmocks.Client{})
	ctx := context.Background()

	st.On("GetCredential", ctx, "cred-1").
		Return(&model.StorageCredential{ID: "cred-1", Provider: storage.ProviderS3, Secret: "{}"}, nil)
	svc.newAdapter = func(provider string) (storage.Adapter, error) {
		return &validatingAdapter{valid: true}, nil
	}

	ok, err := svc.ValidateCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBackupService_ValidateCredential_InitializeFails(t *testing.T) {
	st := &mockStore{}
	svc := NewBackupService(st, &temporalmocks.Client{})
	ctx := context.Background()

	st.On("GetCredential", ctx, "cred-1").
		Return(&model.StorageCredential{ID: "cred-1", Provider: storage.ProviderS3, Secret: "not json"}, nil)
	svc.newAdapter = func(provider string) (storage.Adapter, error) {
		return &validatingAdapter{initErr: errors.New("bad secret")}, nil
	}

	ok, err := svc.ValidateCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// validatingAdapter is a minimal storage.Adapter for credential validation
// tests.
type validatingAdapter struct {
	initErr error
	valid   bool
}

func (a *validatingAdapter) Initialize(ctx context.Context, secret string) error { return a.initErr }
func (a *validatingAdapter) ListDestinations(ctx context.Context) ([]storage.Destination, error) {
	return nil, nil
}
func (a *validatingAdapter) ListFolders(ctx context.Context, destinationID, parentPath string) ([]storage.Folder, error) {
	return nil, nil
}
func (a *validatingAdapter) CreateFolder(ctx context.Context, destinationID, name, parentPath string) (*storage.Folder, error) {
	return nil, storage.ErrNotSupported
}
func (a *validatingAdapter) RenameFolder(ctx context.Context, destinationID, folderPath, newName string) error {
	return storage.ErrNotSupported
}
func (a *validatingAdapter) DeleteFolder(ctx context.Context, destinationID, folderPath string) error {
	return storage.ErrNotSupported
}
func (a *validatingAdapter) UploadFile(ctx context.Context, params storage.UploadParams) (*storage.UploadResult, error) {
	return nil, storage.ErrNotSupported
}
func (a *validatingAdapter) ListBackups(ctx context.Context, destinationID, basePath string) ([]model.BackupVersion, error) {
	return nil, nil
}
func (a *validatingAdapter) ValidateCredentials(ctx context.Context) bool { return a.valid }
