package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/backhaul/internal/model"
	"github.com/edvin/backhaul/internal/storage"
)

func testResolver() *fakeResolver {
	return &fakeResolver{
		credentials: map[string]*model.StorageCredential{
			"cred-1": {ID: "cred-1", Provider: storage.ProviderS3, Secret: `{}`},
		},
		destinations: map[string]*model.StorageDestination{
			"dest-1": {ID: "dest-1", RemoteID: "bucket", BasePath: "backups"},
		},
	}
}

func newTestExecutor(t *testing.T, adapter storage.Adapter, opts Options) *Executor {
	t.Helper()
	if opts.NewAdapter == nil {
		opts.NewAdapter = func(string) (storage.Adapter, error) { return adapter, nil }
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 2
	}
	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = time.Millisecond
	}
	return New(zerolog.Nop(), testResolver(), nil, opts)
}

func execParams(sourcePath string) model.BackupJobExecution {
	return model.BackupJobExecution{
		JobID:        "job-1",
		HistoryID:    "hist-1",
		UserID:       "user-1",
		SourcePath:   sourcePath,
		DestID:       "dest-1",
		CredentialID: "cred-1",
		NamePattern:  "backup-{date}-{hash}",
	}
}

func TestExecute_EndToEnd(t *testing.T) {
	// Source tree: three real files plus one junk file the scanner drops.
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "one.txt"), make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "two.txt"), make([]byte, 20), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "three.txt"), make([]byte, 30), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("junk"), 0o644))

	now := time.Now()
	adapter := newFakeAdapter()
	adapter.versions = []model.BackupVersion{
		{Path: "backups/v1", CreatedTime: now.AddDate(0, 0, -3)},
		{Path: "backups/v2", CreatedTime: now.AddDate(0, 0, -2)},
		{Path: "backups/v3", CreatedTime: now.AddDate(0, 0, -1)},
	}

	var statuses []string
	exec := newTestExecutor(t, adapter, Options{
		OnStatus: func(_ context.Context, _, status string) error {
			statuses = append(statuses, status)
			return nil
		},
	})

	params := execParams(root)
	params.Retention = &model.RetentionPolicy{Type: model.RetentionVersionCount, Count: 2}
	result := exec.Execute(context.Background(), params)

	assert.True(t, result.Success)
	assert.Equal(t, model.StatusSuccess, result.Status())
	assert.Equal(t, 3, result.FilesScanned)
	assert.Equal(t, 3, result.FilesUploaded)
	assert.Zero(t, result.FilesFailed)
	assert.Equal(t, int64(60), result.BytesUploaded)
	assert.NotEmpty(t, result.RemotePath)
	assert.Positive(t, result.Duration)

	// Three existing versions, keep two: exactly the oldest is deleted.
	assert.Equal(t, []string{"backups/v1"}, adapter.deleted)
	assert.Equal(t, []string{model.StatusUploading, model.StatusRotating}, statuses)
}

func TestExecute_PartialFailure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.txt"), make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.txt"), make([]byte, 20), 0o644))

	adapter := newFakeAdapter()
	adapter.failUploads["bad.txt"] = errors.New("503 from provider")

	exec := newTestExecutor(t, adapter, Options{})
	result := exec.Execute(context.Background(), execParams(root))

	// Per-file failure is not catastrophic: the run completes.
	assert.True(t, result.Success)
	assert.Equal(t, model.StatusPartialSuccess, result.Status())
	assert.Equal(t, 1, result.FilesUploaded)
	assert.Equal(t, 1, result.FilesFailed)
}

func TestExecute_NoFilesFound(t *testing.T) {
	adapter := newFakeAdapter()
	exec := newTestExecutor(t, adapter, Options{})

	result := exec.Execute(context.Background(), execParams(t.TempDir()))

	assert.False(t, result.Success)
	assert.Equal(t, model.StatusFailed, result.Status())
	assert.Contains(t, result.Error, "no files found")
	// No empty remote folder was created.
	assert.Empty(t, adapter.folders)
}

func TestExecute_CredentialNotFound(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	adapter := newFakeAdapter()
	exec := newTestExecutor(t, adapter, Options{})

	params := execParams(root)
	params.CredentialID = "missing"
	result := exec.Execute(context.Background(), params)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "credential not found")
}

func TestExecute_MalformedRetentionFailsFast(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	adapter := newFakeAdapter()
	exec := newTestExecutor(t, adapter, Options{})

	params := execParams(root)
	params.Retention = &model.RetentionPolicy{Type: model.RetentionVersionCount}
	result := exec.Execute(context.Background(), params)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "retention policy")
	assert.Empty(t, adapter.uploads)
}

func TestExecute_RetentionListFailureIsSwallowed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	adapter := newFakeAdapter()
	adapter.listErr = errors.New("listing unavailable")

	exec := newTestExecutor(t, adapter, Options{})
	params := execParams(root)
	params.Retention = &model.RetentionPolicy{Type: model.RetentionDays, Days: 7}
	result := exec.Execute(context.Background(), params)

	assert.True(t, result.Success)
	assert.Equal(t, model.StatusSuccess, result.Status())
	assert.Empty(t, adapter.deleted)
}

func TestExecute_DeletionFailureDoesNotBlockOthers(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	now := time.Now()
	adapter := newFakeAdapter()
	adapter.versions = []model.BackupVersion{
		{Path: "backups/v1", CreatedTime: now.AddDate(0, 0, -30)},
		{Path: "backups/v2", CreatedTime: now.AddDate(0, 0, -20)},
		{Path: "backups/v3", CreatedTime: now.AddDate(0, 0, -1)},
	}
	adapter.deleteErr["backups/v1"] = errors.New("locked")

	exec := newTestExecutor(t, adapter, Options{})
	params := execParams(root)
	params.Retention = &model.RetentionPolicy{Type: model.RetentionVersionCount, Count: 1}
	result := exec.Execute(context.Background(), params)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"backups/v2"}, adapter.deleted)
}

func TestExecute_PrebuildCapabilityUsed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested/deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "nested/deep/a.txt"), []byte("x"), 0o644))

	adapter := &fakePrebuildAdapter{fakeAdapter: newFakeAdapter()}
	exec := newTestExecutor(t, adapter, Options{})

	result := exec.Execute(context.Background(), execParams(root))

	assert.True(t, result.Success)
	assert.Equal(t, 1, adapter.preBuilds)
	assert.Contains(t, adapter.prebuilt, "nested/deep/a.txt")
}

func TestExecute_PlainAdapterSkipsPrebuild(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	adapter := newFakeAdapter()
	exec := newTestExecutor(t, adapter, Options{})
	result := exec.Execute(context.Background(), execParams(root))

	assert.True(t, result.Success)
	assert.Zero(t, adapter.preBuilds)
}
