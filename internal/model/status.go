package model

// BackupHistory lifecycle statuses. Transitions are driven by the worker and
// executor only; cancelled is set by an external cancel request, never by the
// executor itself.
const (
	StatusPending        = "pending"
	StatusRunning        = "running"
	StatusUploading      = "uploading"
	StatusRotating       = "rotating"
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
)

// TerminalStatus reports whether a history status is final.
func TerminalStatus(status string) bool {
	switch status {
	case StatusSuccess, StatusPartialSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
