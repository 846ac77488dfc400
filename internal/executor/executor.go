// Package executor runs one backup job end to end: scan, resolve, upload,
// rotate. It is the only place that drives the history status machine
// forward, and it never lets an error escape to its caller; every failure is
// folded into the returned result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/backhaul/internal/logpipe"
	"github.com/edvin/backhaul/internal/model"
	"github.com/edvin/backhaul/internal/scanner"
	"github.com/edvin/backhaul/internal/storage"
)

// Failure preconditions. These fail a run immediately and are never retried.
var (
	ErrNoFilesFound        = errors.New("no files found in source path")
	ErrCredentialNotFound  = errors.New("storage credential not found")
	ErrDestinationNotFound = errors.New("storage destination not found")
)

// DefaultNamePattern is used when a job has no pattern configured.
const DefaultNamePattern = "backup-{datetime}-{hash}"

// Resolver loads the externally owned records a run depends on. Credentials
// arrive already decrypted.
type Resolver interface {
	GetCredential(ctx context.Context, id string) (*model.StorageCredential, error)
	GetDestination(ctx context.Context, id string) (*model.StorageDestination, error)
}

// Options wires the executor's collaborators and tunables.
type Options struct {
	// NewAdapter returns an uninitialized adapter for a provider. Defaults
	// to storage.New.
	NewAdapter func(provider string) (storage.Adapter, error)

	Concurrency      int
	ProgressInterval time.Duration

	// OnStatus persists an intermediate history status transition
	// (uploading, rotating). Terminal statuses are derived from the result
	// by the caller.
	OnStatus func(ctx context.Context, historyID, status string) error

	// OnProgress receives throttled progress updates.
	OnProgress func(model.ProgressUpdate)
}

type Executor struct {
	logger   zerolog.Logger
	resolver Resolver
	scanner  *scanner.Scanner
	pipe     *logpipe.Pipe
	opts     Options
}

func New(logger zerolog.Logger, resolver Resolver, pipe *logpipe.Pipe, opts Options) *Executor {
	if opts.NewAdapter == nil {
		opts.NewAdapter = storage.New
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 10
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 500 * time.Millisecond
	}
	return &Executor{
		logger:   logger.With().Str("component", "executor").Logger(),
		resolver: resolver,
		scanner:  scanner.New(logger),
		pipe:     pipe,
		opts:     opts,
	}
}

// Execute runs one backup. The returned result is always non-nil and its
// Duration is populated regardless of outcome.
func (e *Executor) Execute(ctx context.Context, exec model.BackupJobExecution) *model.BackupExecutionResult {
	start := time.Now()
	result := &model.BackupExecutionResult{HistoryID: exec.HistoryID}
	defer func() {
		result.Duration = time.Since(start)
	}()

	logger := e.logger.With().Str("history_id", exec.HistoryID).Str("job_id", exec.JobID).Logger()

	// Malformed retention configuration surfaces before any work happens.
	if exec.Retention != nil {
		if err := exec.Retention.Validate(); err != nil {
			return e.fail(result, exec, logger, err)
		}
	}

	// Scan.
	files, skipped, err := e.scanner.Scan(exec.SourcePath)
	if err != nil {
		return e.fail(result, exec, logger, fmt.Errorf("scan source: %w", err))
	}
	result.FilesScanned = len(files)
	e.info(exec, fmt.Sprintf("scanned %d files (%d skipped)", len(files), skipped))
	if len(files) == 0 {
		return e.fail(result, exec, logger, ErrNoFilesFound)
	}

	// Resolve externally owned records.
	cred, err := e.resolver.GetCredential(ctx, exec.CredentialID)
	if err != nil {
		return e.fail(result, exec, logger, fmt.Errorf("%w: %s", ErrCredentialNotFound, exec.CredentialID))
	}
	dest, err := e.resolver.GetDestination(ctx, exec.DestID)
	if err != nil {
		return e.fail(result, exec, logger, fmt.Errorf("%w: %s", ErrDestinationNotFound, exec.DestID))
	}

	adapter, err := e.opts.NewAdapter(cred.Provider)
	if err != nil {
		return e.fail(result, exec, logger, err)
	}
	if err := adapter.Initialize(ctx, cred.Secret); err != nil {
		return e.fail(result, exec, logger, fmt.Errorf("initialize %s adapter: %w", cred.Provider, err))
	}

	// Create the remote folder for this run.
	pattern := exec.NamePattern
	if pattern == "" {
		pattern = DefaultNamePattern
	}
	folderName := RenderName(pattern, start)

	if err := e.setStatus(ctx, exec.HistoryID, model.StatusUploading); err != nil {
		return e.fail(result, exec, logger, fmt.Errorf("mark uploading: %w", err))
	}

	folder, err := adapter.CreateFolder(ctx, dest.RemoteID, folderName, dest.BasePath)
	if err != nil {
		return e.fail(result, exec, logger, fmt.Errorf("create remote folder %q: %w", folderName, err))
	}
	result.RemotePath = folder.Path
	e.info(exec, fmt.Sprintf("created remote folder %s", folder.Path))

	// Hierarchical backends pre-create the directory tree so parallel
	// uploads never race on folder creation.
	if prebuilder, ok := adapter.(storage.FolderPrebuilder); ok {
		rels := make([]string, 0, len(files))
		for _, f := range files {
			if rel, err := filepath.Rel(exec.SourcePath, f.Path); err == nil {
				rels = append(rels, filepath.ToSlash(rel))
			}
		}
		if err := prebuilder.PreBuildFolderStructure(ctx, dest.RemoteID, folder.ID, folder.Path, rels); err != nil {
			return e.fail(result, exec, logger, fmt.Errorf("pre-build folder structure: %w", err))
		}
	}

	// Upload. Per-file failures are counted, never raised.
	orch := NewOrchestrator(logger, adapter, e.pipe, e.opts.Concurrency, e.opts.ProgressInterval, e.opts.OnProgress)
	stats := orch.Run(ctx, exec, files, dest.RemoteID, folder.Path, exec.SourcePath, start)
	result.FilesUploaded = stats.FilesUploaded
	result.FilesFailed = stats.FilesFailed
	result.BytesUploaded = stats.BytesUploaded
	e.info(exec, fmt.Sprintf("uploaded %d files (%d failed, %d bytes)", stats.FilesUploaded, stats.FilesFailed, stats.BytesUploaded))

	if ctx.Err() != nil {
		return e.fail(result, exec, logger, fmt.Errorf("execution interrupted: %w", ctx.Err()))
	}

	// Rotate. Retention is best effort by design: a listing or deletion
	// failure never fails an otherwise-successful backup.
	if exec.Retention != nil {
		if err := e.setStatus(ctx, exec.HistoryID, model.StatusRotating); err != nil {
			logger.Warn().Err(err).Msg("failed to mark rotating, continuing")
		}
		e.rotate(ctx, exec, logger, adapter, dest, result.RemotePath)
	}

	result.Success = true
	return result
}

func (e *Executor) rotate(ctx context.Context, exec model.BackupJobExecution, logger zerolog.Logger, adapter storage.Adapter, dest *model.StorageDestination, newRemotePath string) {
	versions, err := adapter.ListBackups(ctx, dest.RemoteID, dest.BasePath)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list backup versions, skipping retention")
		e.warn(exec, fmt.Sprintf("retention skipped: %v", err))
		return
	}

	deletions := ComputeDeletions(versions, *exec.Retention, time.Now())
	deleted := 0
	for _, path := range deletions {
		if path == newRemotePath {
			continue
		}
		if err := adapter.DeleteFolder(ctx, dest.RemoteID, path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to delete old backup version")
			e.warn(exec, fmt.Sprintf("failed to delete old version %s: %v", path, err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		e.info(exec, fmt.Sprintf("retention deleted %d old version(s)", deleted))
	}
}

func (e *Executor) setStatus(ctx context.Context, historyID, status string) error {
	if e.opts.OnStatus == nil {
		return nil
	}
	return e.opts.OnStatus(ctx, historyID, status)
}

func (e *Executor) fail(result *model.BackupExecutionResult, exec model.BackupJobExecution, logger zerolog.Logger, err error) *model.BackupExecutionResult {
	logger.Error().Err(err).Msg("backup execution failed")
	if e.pipe != nil {
		e.pipe.Emit(logpipe.Event{
			Level:     logpipe.LevelError,
			Message:   err.Error(),
			HistoryID: exec.HistoryID,
			UserID:    exec.UserID,
			JobID:     exec.JobID,
			Source:    "executor",
		})
	}
	result.Success = false
	result.Error = err.Error()
	return result
}

func (e *Executor) info(exec model.BackupJobExecution, msg string) {
	if e.pipe == nil {
		return
	}
	e.pipe.Emit(logpipe.Event{
		Level:     logpipe.LevelInfo,
		Message:   msg,
		HistoryID: exec.HistoryID,
		UserID:    exec.UserID,
		JobID:     exec.JobID,
		Source:    "executor",
	})
}

func (e *Executor) warn(exec model.BackupJobExecution, msg string) {
	if e.pipe == nil {
		return
	}
	e.pipe.Emit(logpipe.Event{
		Level:     logpipe.LevelWarn,
		Message:   msg,
		HistoryID: exec.HistoryID,
		UserID:    exec.UserID,
		JobID:     exec.JobID,
		Source:    "executor",
	})
}
