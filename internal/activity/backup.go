package activity

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/backhaul/internal/events"
	"github.com/edvin/backhaul/internal/executor"
	"github.com/edvin/backhaul/internal/logpipe"
	"github.com/edvin/backhaul/internal/model"
)

// Publisher is the real-time event side used by activities. Satisfied by
// events.Broadcaster.
type Publisher interface {
	Publish(ctx context.Context, channel, kind string, data any)
}

// BackupStore is the data access surface the backup activity needs: record
// lookups for the executor plus intermediate status writes.
type BackupStore interface {
	executor.Resolver
	UpdateHistoryStatus(ctx context.Context, id, status string) error
}

// Backup contains the activity that runs one backup end to end on a worker.
type Backup struct {
	logger           zerolog.Logger
	store            BackupStore
	pub              Publisher
	pipe             *logpipe.Pipe
	concurrency      int
	progressInterval time.Duration
}

// NewBackup creates a new Backup activity struct.
func NewBackup(logger zerolog.Logger, store BackupStore, pub Publisher, pipe *logpipe.Pipe, concurrency int, progressInterval time.Duration) *Backup {
	return &Backup{
		logger:           logger,
		store:            store,
		pub:              pub,
		pipe:             pipe,
		concurrency:      concurrency,
		progressInterval: progressInterval,
	}
}

// ExecuteBackup runs the backup described by the execution message. The
// returned result is always non-nil; catastrophic failures are folded into
// it rather than raised, so Temporal only retries when the activity itself
// dies (worker crash, heartbeat timeout).
func (a *Backup) ExecuteBackup(ctx context.Context, exec model.BackupJobExecution) (*model.BackupExecutionResult, error) {
	if exec.HistoryID == "" || exec.SourcePath == "" {
		return nil, temporal.NewNonRetryableApplicationError(
			"backup execution is missing a history id or source path",
			"InvalidArgument",
			nil,
		)
	}

	// Broadcasting goes through a coalescing publisher so a slow or dead
	// broker never stalls an upload task. The heartbeat stays inline; it is
	// an in-process call.
	var progress *progressPublisher
	if a.pub != nil {
		progress = newProgressPublisher(a.pub, exec)
		defer progress.Close()
	}

	runner := executor.New(a.logger, a.store, a.pipe, executor.Options{
		Concurrency:      a.concurrency,
		ProgressInterval: a.progressInterval,
		OnStatus: func(ctx context.Context, historyID, status string) error {
			if err := a.store.UpdateHistoryStatus(ctx, historyID, status); err != nil {
				return err
			}
			if progress != nil {
				progress.Emit(model.ProgressUpdate{HistoryID: historyID, Status: status})
			}
			return nil
		},
		OnProgress: func(u model.ProgressUpdate) {
			activity.RecordHeartbeat(ctx, u)
			if progress != nil {
				progress.Emit(u)
			}
		},
	})

	return runner.Execute(ctx, exec), nil
}

// progressPublisher fans progress updates out to the broadcast channels from
// its own goroutine. Emit never blocks: while a publish is in flight, newer
// updates replace the single pending slot, so backpressure coalesces into
// the latest snapshot instead of stalling the emitter.
type progressPublisher struct {
	pub     Publisher
	exec    model.BackupJobExecution
	updates chan model.ProgressUpdate
	done    chan struct{}
}

func newProgressPublisher(pub Publisher, exec model.BackupJobExecution) *progressPublisher {
	p := &progressPublisher{
		pub:     pub,
		exec:    exec,
		updates: make(chan model.ProgressUpdate, 1),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *progressPublisher) Emit(u model.ProgressUpdate) {
	select {
	case p.updates <- u:
		return
	default:
	}
	// Slot taken: evict the stale pending update, then try once more. If
	// another emitter won the race, its update is at least as fresh.
	select {
	case <-p.updates:
	default:
	}
	select {
	case p.updates <- u:
	default:
	}
}

// Close stops the publish loop after draining any pending update. Callers
// must not Emit after Close.
func (p *progressPublisher) Close() {
	close(p.updates)
	<-p.done
}

func (p *progressPublisher) run() {
	defer close(p.done)
	ctx := context.Background()
	for u := range p.updates {
		p.pub.Publish(ctx, events.ExecutionChannel(p.exec.HistoryID), events.KindJobProgress, u)
		if p.exec.UserID != "" {
			p.pub.Publish(ctx, events.UserChannel(p.exec.UserID), events.KindJobProgress, u)
		}
	}
}
