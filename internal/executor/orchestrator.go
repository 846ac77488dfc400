package executor

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/backhaul/internal/logpipe"
	"github.com/edvin/backhaul/internal/model"
	"github.com/edvin/backhaul/internal/storage"
)

// UploadStats aggregates one orchestrated upload pass. A failed file never
// aborts its siblings; failures are counted and reported, not raised.
type UploadStats struct {
	FilesUploaded int
	FilesFailed   int
	BytesUploaded int64
}

// Orchestrator drives a concurrency-bounded set of per-file uploads against
// one adapter, reporting progress through a throttle.
type Orchestrator struct {
	logger      zerolog.Logger
	adapter     storage.Adapter
	pipe        *logpipe.Pipe
	concurrency int
	interval    time.Duration
	onProgress  func(model.ProgressUpdate)
}

func NewOrchestrator(logger zerolog.Logger, adapter storage.Adapter, pipe *logpipe.Pipe, concurrency int, interval time.Duration, onProgress func(model.ProgressUpdate)) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Orchestrator{
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		adapter:     adapter,
		pipe:        pipe,
		concurrency: concurrency,
		interval:    interval,
		onProgress:  onProgress,
	}
}

// uploadRun is the shared mutable state of one pass. Counters are updated
// from concurrent upload tasks with atomic increments only.
type uploadRun struct {
	historyID    string
	userID       string
	jobID        string
	filesScanned int
	startedAt    time.Time

	filesUploaded atomic.Int64
	filesFailed   atomic.Int64
	bytesUploaded atomic.Int64
	bytesInFlight atomic.Int64

	mu          sync.Mutex
	lastEmit    time.Time
	currentFile string
}

// Run uploads every file into folderPath, preserving paths relative to
// sourceRoot. At most the configured number of uploads are in flight; the
// rest queue FIFO behind the gate. startedAt anchors the speed calculation
// to the start of the whole run, not the upload phase; zero means now.
func (o *Orchestrator) Run(ctx context.Context, exec model.BackupJobExecution, files []model.FileInfo, destinationID, folderPath, sourceRoot string, startedAt time.Time) UploadStats {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	run := &uploadRun{
		historyID:    exec.HistoryID,
		userID:       exec.UserID,
		jobID:        exec.JobID,
		filesScanned: len(files),
		startedAt:    startedAt,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, file := range files {
		g.Go(func() error {
			o.uploadOne(gctx, run, file, destinationID, folderPath, sourceRoot)
			return nil
		})
	}
	// Tasks swallow their own errors; Wait only orders the joins.
	_ = g.Wait()

	o.emit(run, "", true)

	return UploadStats{
		FilesUploaded: int(run.filesUploaded.Load()),
		FilesFailed:   int(run.filesFailed.Load()),
		BytesUploaded: run.bytesUploaded.Load(),
	}
}

func (o *Orchestrator) uploadOne(ctx context.Context, run *uploadRun, file model.FileInfo, destinationID, folderPath, sourceRoot string) {
	rel, err := filepath.Rel(sourceRoot, file.Path)
	if err != nil {
		rel = filepath.Base(file.Path)
	}
	rel = filepath.ToSlash(rel)

	f, err := os.Open(file.Path)
	if err != nil {
		o.fail(run, rel, fmt.Errorf("open %s: %w", file.Path, err))
		return
	}
	defer f.Close()

	// Task-local cumulative counter; the shared in-flight gauge moves by
	// deltas so progress during a long single upload is visible.
	var taskBytes int64
	onChunk := func(total int64) {
		run.bytesInFlight.Add(total - taskBytes)
		taskBytes = total
		o.emit(run, rel, false)
	}

	_, err = o.adapter.UploadFile(ctx, storage.UploadParams{
		DestinationID: destinationID,
		FolderPath:    folderPath,
		FileName:      rel,
		Body:          f,
		Size:          file.Size,
		MimeType:      mime.TypeByExtension(filepath.Ext(file.Path)),
		OnProgress:    onChunk,
	})

	run.bytesInFlight.Add(-taskBytes)
	if err != nil {
		o.fail(run, rel, err)
		return
	}

	run.filesUploaded.Add(1)
	run.bytesUploaded.Add(file.Size)
	o.emit(run, rel, true)
}

func (o *Orchestrator) fail(run *uploadRun, rel string, err error) {
	run.filesFailed.Add(1)
	o.logger.Warn().Err(err).Str("file", rel).Str("history_id", run.historyID).Msg("file upload failed")
	if o.pipe != nil {
		o.pipe.Emit(logpipe.Event{
			Level:     logpipe.LevelWarn,
			Message:   fmt.Sprintf("upload failed: %s: %v", rel, err),
			HistoryID: run.historyID,
			UserID:    run.userID,
			JobID:     run.jobID,
			Source:    "orchestrator",
		})
	}
	o.emit(run, rel, true)
}

// emit reports progress upward, at most once per throttle interval, except
// on milestones (file completion or failure) which always emit.
func (o *Orchestrator) emit(run *uploadRun, currentFile string, milestone bool) {
	if o.onProgress == nil {
		return
	}

	now := time.Now()
	run.mu.Lock()
	if !milestone && now.Sub(run.lastEmit) < o.interval {
		run.mu.Unlock()
		return
	}
	run.lastEmit = now
	if currentFile != "" {
		run.currentFile = currentFile
	}
	current := run.currentFile
	run.mu.Unlock()

	bytes := run.bytesUploaded.Load() + run.bytesInFlight.Load()
	var speed float64
	if elapsed := now.Sub(run.startedAt).Seconds(); elapsed > 0 {
		speed = float64(bytes) / elapsed
	}

	o.onProgress(model.ProgressUpdate{
		HistoryID:     run.historyID,
		Status:        model.StatusUploading,
		FilesScanned:  run.filesScanned,
		FilesUploaded: int(run.filesUploaded.Load()),
		FilesFailed:   int(run.filesFailed.Load()),
		BytesUploaded: bytes,
		CurrentFile:   current,
		UploadSpeed:   speed,
	})
}
