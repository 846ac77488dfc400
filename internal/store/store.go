// Package store is the pgx-backed data access layer for jobs, history rows,
// credentials, destinations and durable run logs.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/backhaul/internal/logpipe"
	"github.com/edvin/backhaul/internal/model"
)

// DB defines the database operations used by the store.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

// GetJob retrieves a backup job by its ID.
func (s *Store) GetJob(ctx context.Context, id string) (*model.BackupJob, error) {
	var (
		j         model.BackupJob
		retention []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, name, source_path, credential_id, destination_id, name_pattern, retention, enabled, last_run_at, created_at, updated_at
		 FROM backup_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.UserID, &j.Name, &j.SourcePath, &j.CredentialID, &j.DestID,
		&j.NamePattern, &retention, &j.Enabled, &j.LastRunAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get backup job %s: %w", id, err)
	}
	if len(retention) > 0 {
		j.Retention = &model.RetentionPolicy{}
		if err := json.Unmarshal(retention, j.Retention); err != nil {
			return nil, fmt.Errorf("decode retention for job %s: %w", id, err)
		}
	}
	return &j, nil
}

// GetCredential retrieves a storage credential by its ID.
func (s *Store) GetCredential(ctx context.Context, id string) (*model.StorageCredential, error) {
	var c model.StorageCredential
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, provider, secret FROM storage_credentials WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Provider, &c.Secret)
	if err != nil {
		return nil, fmt.Errorf("get storage credential %s: %w", id, err)
	}
	return &c, nil
}

// GetDestination retrieves a storage destination by its ID.
func (s *Store) GetDestination(ctx context.Context, id string) (*model.StorageDestination, error) {
	var d model.StorageDestination
	err := s.db.QueryRow(ctx,
		`SELECT id, credential_id, remote_id, name, base_path FROM storage_destinations WHERE id = $1`, id,
	).Scan(&d.ID, &d.CredentialID, &d.RemoteID, &d.Name, &d.BasePath)
	if err != nil {
		return nil, fmt.Errorf("get storage destination %s: %w", id, err)
	}
	return &d, nil
}

// CreateHistory inserts a new pending history row for a run.
func (s *Store) CreateHistory(ctx context.Context, h *model.BackupHistory) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO backup_history (id, job_id, user_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())`,
		h.ID, h.JobID, h.UserID, h.Status,
	)
	if err != nil {
		return fmt.Errorf("insert backup history: %w", err)
	}
	return nil
}

// GetHistory retrieves a history row by its ID.
func (s *Store) GetHistory(ctx context.Context, id string) (*model.BackupHistory, error) {
	var h model.BackupHistory
	err := s.db.QueryRow(ctx,
		`SELECT id, job_id, user_id, status, files_scanned, files_uploaded, files_failed, bytes_uploaded, remote_path, error_message, started_at, completed_at, created_at, updated_at
		 FROM backup_history WHERE id = $1`, id,
	).Scan(&h.ID, &h.JobID, &h.UserID, &h.Status, &h.FilesScanned, &h.FilesUploaded,
		&h.FilesFailed, &h.BytesUploaded, &h.RemotePath, &h.ErrorMessage,
		&h.StartedAt, &h.CompletedAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get backup history %s: %w", id, err)
	}
	return &h, nil
}

// ListHistory returns history rows for a job, newest first.
func (s *Store) ListHistory(ctx context.Context, jobID string, limit int) ([]model.BackupHistory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, job_id, user_id, status, files_scanned, files_uploaded, files_failed, bytes_uploaded, remote_path, error_message, started_at, completed_at, created_at, updated_at
		 FROM backup_history WHERE job_id = $1 ORDER BY created_at DESC LIMIT $2`, jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var history []model.BackupHistory
	for rows.Next() {
		var h model.BackupHistory
		if err := rows.Scan(&h.ID, &h.JobID, &h.UserID, &h.Status, &h.FilesScanned,
			&h.FilesUploaded, &h.FilesFailed, &h.BytesUploaded, &h.RemotePath,
			&h.ErrorMessage, &h.StartedAt, &h.CompletedAt, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return history, nil
}

// UpdateHistoryStatus sets the status of a history row. The first transition
// to running also records started_at.
func (s *Store) UpdateHistoryStatus(ctx context.Context, id, status string) error {
	var err error
	if status == model.StatusRunning {
		_, err = s.db.Exec(ctx,
			`UPDATE backup_history SET status = $1, started_at = COALESCE(started_at, now()), updated_at = now() WHERE id = $2`,
			status, id)
	} else {
		_, err = s.db.Exec(ctx,
			`UPDATE backup_history SET status = $1, updated_at = now() WHERE id = $2`,
			status, id)
	}
	if err != nil {
		return fmt.Errorf("set history %s status to %s: %w", id, status, err)
	}
	return nil
}

// FinalizeHistoryParams holds the terminal state of a run.
type FinalizeHistoryParams struct {
	ID            string
	Status        string
	FilesScanned  int
	FilesUploaded int
	FilesFailed   int
	BytesUploaded int64
	RemotePath    string
	ErrorMessage  *string
}

// FinalizeHistory writes the run counters and terminal status in one update.
func (s *Store) FinalizeHistory(ctx context.Context, params FinalizeHistoryParams) error {
	_, err := s.db.Exec(ctx,
		`UPDATE backup_history
		 SET status = $1, files_scanned = $2, files_uploaded = $3, files_failed = $4,
		     bytes_uploaded = $5, remote_path = $6, error_message = $7,
		     completed_at = now(), updated_at = now()
		 WHERE id = $8`,
		params.Status, params.FilesScanned, params.FilesUploaded, params.FilesFailed,
		params.BytesUploaded, params.RemotePath, params.ErrorMessage, params.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize history %s: %w", params.ID, err)
	}
	return nil
}

// UpdateJobLastRun records when a job last ran.
func (s *Store) UpdateJobLastRun(ctx context.Context, jobID string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE backup_jobs SET last_run_at = $1, updated_at = now() WHERE id = $2`, at, jobID)
	if err != nil {
		return fmt.Errorf("update last run for job %s: %w", jobID, err)
	}
	return nil
}

// MarkStuckHistories fails non-terminal history rows that have not been
// touched within the timeout. Returns how many rows were marked.
func (s *Store) MarkStuckHistories(ctx context.Context, olderThan time.Duration) (int64, error) {
	msg := fmt.Sprintf("marked as failed: no progress for over %s", olderThan)
	tag, err := s.db.Exec(ctx,
		`UPDATE backup_history
		 SET status = $1, error_message = $2, completed_at = now(), updated_at = now()
		 WHERE status IN ($3, $4, $5, $6) AND updated_at < now() - $7::interval`,
		model.StatusFailed, msg,
		model.StatusPending, model.StatusRunning, model.StatusUploading, model.StatusRotating,
		olderThan.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("mark stuck histories: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertLogEvents bulk-inserts a batch of run log events. Satisfies
// logpipe.Sink.
func (s *Store) InsertLogEvents(ctx context.Context, batch []logpipe.Event) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(batch))
	for _, e := range batch {
		var metadata []byte
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("encode log metadata: %w", err)
			}
			metadata = b
		}
		rows = append(rows, []any{
			nullIfEmpty(e.HistoryID), nullIfEmpty(e.JobID), nullIfEmpty(e.UserID),
			e.Level, e.Message, e.Source, metadata, e.Timestamp,
		})
	}

	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"backup_logs"},
		[]string{"history_id", "job_id", "user_id", "level", "message", "source", "metadata", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy log events: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
