package model

import "time"

// BackupJob is a configured backup: a source tree, a destination and the
// policies that govern each run. Scheduling lives outside this service; the
// job row only records what to do when a run is enqueued.
type BackupJob struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Name         string           `json:"name"`
	SourcePath   string           `json:"source_path"`
	CredentialID string           `json:"credential_id"`
	DestID       string           `json:"destination_id"`
	NamePattern  string           `json:"name_pattern"`
	Retention    *RetentionPolicy `json:"retention,omitempty"`
	Enabled      bool             `json:"enabled"`
	LastRunAt    *time.Time       `json:"last_run_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// BackupJobExecution is the queue message for one run. Immutable once
// enqueued; the worker resolves everything else from the data store.
type BackupJobExecution struct {
	JobID        string           `json:"job_id"`
	HistoryID    string           `json:"history_id"`
	UserID       string           `json:"user_id"`
	SourcePath   string           `json:"source_path"`
	DestID       string           `json:"destination_id"`
	CredentialID string           `json:"credential_id"`
	NamePattern  string           `json:"name_pattern"`
	Retention    *RetentionPolicy `json:"retention,omitempty"`
}

// BackupHistory is the persisted record of one run.
type BackupHistory struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	UserID        string     `json:"user_id"`
	Status        string     `json:"status"`
	FilesScanned  int        `json:"files_scanned"`
	FilesUploaded int        `json:"files_uploaded"`
	FilesFailed   int        `json:"files_failed"`
	BytesUploaded int64      `json:"bytes_uploaded"`
	RemotePath    string     `json:"remote_path,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BackupExecutionResult is written once by the executor when a run finishes.
// Success tracks catastrophic failure only; per-file failures are reported
// via FilesFailed and leave Success true.
type BackupExecutionResult struct {
	Success       bool          `json:"success"`
	HistoryID     string        `json:"history_id"`
	FilesScanned  int           `json:"files_scanned"`
	FilesUploaded int           `json:"files_uploaded"`
	FilesFailed   int           `json:"files_failed"`
	BytesUploaded int64         `json:"bytes_uploaded"`
	Duration      time.Duration `json:"duration"`
	RemotePath    string        `json:"remote_path,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Status returns the terminal history status implied by the result.
func (r *BackupExecutionResult) Status() string {
	switch {
	case !r.Success:
		return StatusFailed
	case r.FilesFailed > 0:
		return StatusPartialSuccess
	default:
		return StatusSuccess
	}
}

// StorageCredential holds an already-decrypted provider credential blob.
// Decryption happens upstream; this service never sees ciphertext.
type StorageCredential struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	Secret   string `json:"secret"`
}

// StorageDestination is a specific bucket/drive the provider knows by RemoteID.
type StorageDestination struct {
	ID           string `json:"id"`
	CredentialID string `json:"credential_id"`
	RemoteID     string `json:"remote_id"`
	Name         string `json:"name"`
	BasePath     string `json:"base_path,omitempty"`
}

// FileInfo is one file found by the scanner. Short-lived; valid for a single
// execution only.
type FileInfo struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// BackupVersion is one existing remote backup folder, read from the adapter
// during retention computation and never persisted.
type BackupVersion struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	CreatedTime time.Time `json:"created_time"`
	Size        int64     `json:"size,omitempty"`
}

// ProgressUpdate is emitted at most once per throttle interval while a run is
// uploading, plus on every file completion.
type ProgressUpdate struct {
	HistoryID     string  `json:"history_id"`
	Status        string  `json:"status"`
	FilesScanned  int     `json:"files_scanned"`
	FilesUploaded int     `json:"files_uploaded"`
	FilesFailed   int     `json:"files_failed"`
	BytesUploaded int64   `json:"bytes_uploaded"`
	CurrentFile   string  `json:"current_file,omitempty"`
	UploadSpeed   float64 `json:"upload_speed,omitempty"`
}
