package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/backhaul/internal/model"
)

func writeSourceFiles(t *testing.T, sizes map[string]int) (string, []model.FileInfo) {
	t.Helper()
	root := t.TempDir()
	var files []model.FileInfo
	for name, size := range sizes {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
		files = append(files, model.FileInfo{Path: p, Size: int64(size)})
	}
	return root, files
}

func testExec() model.BackupJobExecution {
	return model.BackupJobExecution{JobID: "job-1", HistoryID: "hist-1", UserID: "user-1"}
}

func TestOrchestrator_UploadsAllFiles(t *testing.T) {
	root, files := writeSourceFiles(t, map[string]int{"a.txt": 10, "sub/b.txt": 20})
	adapter := newFakeAdapter()

	orch := NewOrchestrator(zerolog.Nop(), adapter, nil, 2, time.Millisecond, nil)
	stats := orch.Run(context.Background(), testExec(), files, "bucket", "backups/run-1", root, time.Now())

	assert.Equal(t, 2, stats.FilesUploaded)
	assert.Zero(t, stats.FilesFailed)
	assert.Equal(t, int64(30), stats.BytesUploaded)
	assert.Equal(t, int64(10), adapter.uploads["a.txt"])
	assert.Equal(t, int64(20), adapter.uploads["sub/b.txt"])
}

func TestOrchestrator_PartialFailureDoesNotAbortSiblings(t *testing.T) {
	root, files := writeSourceFiles(t, map[string]int{"ok.txt": 10, "bad.txt": 20})
	adapter := newFakeAdapter()
	adapter.failUploads["bad.txt"] = errors.New("transport error")

	orch := NewOrchestrator(zerolog.Nop(), adapter, nil, 2, time.Millisecond, nil)
	stats := orch.Run(context.Background(), testExec(), files, "bucket", "backups/run-1", root, time.Now())

	assert.Equal(t, 1, stats.FilesUploaded)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Equal(t, int64(10), stats.BytesUploaded)
}

func TestOrchestrator_ConcurrencyBound(t *testing.T) {
	sizes := make(map[string]int)
	for i := 0; i < 10; i++ {
		sizes[filepath.Join("f", string(rune('a'+i))+".bin")] = 8
	}
	root, files := writeSourceFiles(t, sizes)

	var inFlight, maxInFlight atomic.Int64
	adapter := newFakeAdapter()
	adapter.uploadDelay = 10 * time.Millisecond
	adapter.onUploadStart = func() {
		cur := inFlight.Add(1)
		for {
			max := maxInFlight.Load()
			if cur <= max || maxInFlight.CompareAndSwap(max, cur) {
				break
			}
		}
	}
	adapter.onUploadEnd = func() { inFlight.Add(-1) }

	orch := NewOrchestrator(zerolog.Nop(), adapter, nil, 2, time.Millisecond, nil)
	stats := orch.Run(context.Background(), testExec(), files, "bucket", "backups/run-1", root, time.Now())

	assert.Equal(t, 10, stats.FilesUploaded)
	assert.LessOrEqual(t, maxInFlight.Load(), int64(2))
}

func TestOrchestrator_EmitsMilestoneProgress(t *testing.T) {
	root, files := writeSourceFiles(t, map[string]int{"a.txt": 10, "b.txt": 20})

	var mu sync.Mutex
	var updates []model.ProgressUpdate
	onProgress := func(u model.ProgressUpdate) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	}

	adapter := newFakeAdapter()
	// Long throttle: only milestones may emit.
	orch := NewOrchestrator(zerolog.Nop(), adapter, nil, 1, time.Hour, onProgress)
	orch.Run(context.Background(), testExec(), files, "bucket", "backups/run-1", root, time.Now())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)

	final := updates[len(updates)-1]
	assert.Equal(t, "hist-1", final.HistoryID)
	assert.Equal(t, 2, final.FilesUploaded)
	assert.Equal(t, int64(30), final.BytesUploaded)
	assert.Equal(t, 2, final.FilesScanned)
}

func TestOrchestrator_SpeedAnchoredToRunStart(t *testing.T) {
	root, files := writeSourceFiles(t, map[string]int{"a.bin": 1000})

	var mu sync.Mutex
	var final model.ProgressUpdate
	onProgress := func(u model.ProgressUpdate) {
		mu.Lock()
		final = u
		mu.Unlock()
	}

	adapter := newFakeAdapter()
	orch := NewOrchestrator(zerolog.Nop(), adapter, nil, 1, time.Hour, onProgress)
	// A run that started 10s before the upload phase: scan and folder setup
	// time counts against the measured speed.
	startedAt := time.Now().Add(-10 * time.Second)
	orch.Run(context.Background(), testExec(), files, "bucket", "backups/run-1", root, startedAt)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(1000), final.BytesUploaded)
	assert.Greater(t, final.UploadSpeed, 0.0)
	assert.InDelta(t, 100.0, final.UploadSpeed, 10.0)
}

func TestOrchestrator_UnreadableFileCountsAsFailed(t *testing.T) {
	root, files := writeSourceFiles(t, map[string]int{"a.txt": 10})
	files = append(files, model.FileInfo{Path: filepath.Join(root, "missing.txt"), Size: 5})

	adapter := newFakeAdapter()
	orch := NewOrchestrator(zerolog.Nop(), adapter, nil, 2, time.Millisecond, nil)
	stats := orch.Run(context.Background(), testExec(), files, "bucket", "backups/run-1", root, time.Now())

	assert.Equal(t, 1, stats.FilesUploaded)
	assert.Equal(t, 1, stats.FilesFailed)
}
