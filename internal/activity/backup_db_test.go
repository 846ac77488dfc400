package activity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/backhaul/internal/events"
	"github.com/edvin/backhaul/internal/model"
	"github.com/edvin/backhaul/internal/store"
)

type fakeHistoryStore struct {
	statuses  map[string]string
	finalized *store.FinalizeHistoryParams
	lastRun   map[string]time.Time
	stuck     int64
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{
		statuses: make(map[string]string),
		lastRun:  make(map[string]time.Time),
	}
}

func (f *fakeHistoryStore) UpdateHistoryStatus(ctx context.Context, id, status string) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeHistoryStore) FinalizeHistory(ctx context.Context, params store.FinalizeHistoryParams) error {
	f.finalized = &params
	return nil
}

func (f *fakeHistoryStore) UpdateJobLastRun(ctx context.Context, jobID string, at time.Time) error {
	f.lastRun[jobID] = at
	return nil
}

func (f *fakeHistoryStore) MarkStuckHistories(ctx context.Context, olderThan time.Duration) (int64, error) {
	return f.stuck, nil
}

type publishedEvent struct {
	channel string
	kind    string
}

type fakePublisher struct {
	published []publishedEvent
}

func (f *fakePublisher) Publish(ctx context.Context, channel, kind string, data any) {
	f.published = append(f.published, publishedEvent{channel: channel, kind: kind})
}

func TestMarkHistoryStatus_RunningBroadcastsStart(t *testing.T) {
	st := newFakeHistoryStore()
	pub := &fakePublisher{}
	a := NewBackupDB(st, pub)

	err := a.MarkHistoryStatus(context.Background(), MarkHistoryStatusParams{
		HistoryID: "hist-1",
		UserID:    "user-1",
		Status:    model.StatusRunning,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusRunning, st.statuses["hist-1"])
	require.Len(t, pub.published, 2)
	assert.Equal(t, events.ExecutionChannel("hist-1"), pub.published[0].channel)
	assert.Equal(t, events.KindJobStarted, pub.published[0].kind)
	assert.Equal(t, events.UserChannel("user-1"), pub.published[1].channel)
}

func TestMarkHistoryStatus_IntermediateIsSilent(t *testing.T) {
	st := newFakeHistoryStore()
	pub := &fakePublisher{}
	a := NewBackupDB(st, pub)

	err := a.MarkHistoryStatus(context.Background(), MarkHistoryStatusParams{
		HistoryID: "hist-1",
		Status:    model.StatusCancelled,
	})
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

func TestPersistBackupResult(t *testing.T) {
	st := newFakeHistoryStore()
	pub := &fakePublisher{}
	a := NewBackupDB(st, pub)

	result := model.BackupExecutionResult{
		Success:       true,
		HistoryID:     "hist-1",
		FilesScanned:  3,
		FilesUploaded: 2,
		FilesFailed:   1,
		BytesUploaded: 60,
		RemotePath:    "backups/run-1",
	}
	err := a.PersistBackupResult(context.Background(), PersistBackupResultParams{
		Execution: model.BackupJobExecution{JobID: "job-1", HistoryID: "hist-1", UserID: "user-1"},
		Result:    result,
		Status:    result.Status(),
	})
	require.NoError(t, err)

	require.NotNil(t, st.finalized)
	assert.Equal(t, "hist-1", st.finalized.ID)
	assert.Equal(t, model.StatusPartialSuccess, st.finalized.Status)
	assert.Equal(t, int64(60), st.finalized.BytesUploaded)
	assert.Nil(t, st.finalized.ErrorMessage)
	assert.Contains(t, st.lastRun, "job-1")

	require.Len(t, pub.published, 2)
	assert.Equal(t, events.KindJobCompleted, pub.published[0].kind)
}

func TestPersistBackupResult_FailureCarriesError(t *testing.T) {
	st := newFakeHistoryStore()
	a := NewBackupDB(st, nil)

	result := model.BackupExecutionResult{
		HistoryID: "hist-1",
		Error:     "no files found in source path",
	}
	err := a.PersistBackupResult(context.Background(), PersistBackupResultParams{
		Execution: model.BackupJobExecution{JobID: "job-1", HistoryID: "hist-1"},
		Result:    result,
		Status:    result.Status(),
	})
	require.NoError(t, err)

	require.NotNil(t, st.finalized)
	assert.Equal(t, model.StatusFailed, st.finalized.Status)
	require.NotNil(t, st.finalized.ErrorMessage)
	assert.Equal(t, "no files found in source path", *st.finalized.ErrorMessage)
}

func TestMarkStuckBackups(t *testing.T) {
	st := newFakeHistoryStore()
	st.stuck = 4
	a := NewBackupDB(st, nil)

	marked, err := a.MarkStuckBackups(context.Background(), 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), marked)
}

func TestExecuteBackup_RejectsIncompleteMessage(t *testing.T) {
	a := NewBackup(zerolog.Nop(), nil, nil, nil, 1, time.Second)

	_, err := a.ExecuteBackup(context.Background(), model.BackupJobExecution{JobID: "job-1"})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
}
