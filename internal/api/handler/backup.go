package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/edvin/backhaul/internal/api/request"
	"github.com/edvin/backhaul/internal/api/response"
	"github.com/edvin/backhaul/internal/model"
)

// BackupService is the service surface the backup handler needs.
type BackupService interface {
	Trigger(ctx context.Context, jobID, namePattern string) (*model.BackupHistory, error)
	Cancel(ctx context.Context, historyID string) error
	History(ctx context.Context, historyID string) (*model.BackupHistory, error)
	ListHistory(ctx context.Context, jobID string, limit int) ([]model.BackupHistory, error)
	ValidateCredential(ctx context.Context, credentialID string) (bool, error)
}

type Backup struct {
	svc BackupService
}

func NewBackup(svc BackupService) *Backup {
	return &Backup{svc: svc}
}

// runBackupRequest is the optional body for Run.
type runBackupRequest struct {
	// NamePattern overrides the job's folder name pattern for this run.
	NamePattern string `json:"name_pattern" validate:"omitempty,max=200"`
}

// Run triggers a run for a job and returns the pending history row.
func (h *Backup) Run(w http.ResponseWriter, r *http.Request) {
	jobID, err := request.RequireID(chi.URLParam(r, "jobID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req runBackupRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := request.Decode(r, &req); err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	history, err := h.svc.Trigger(r.Context(), jobID, req.NamePattern)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusAccepted, history)
}

// Cancel requests cancellation of a running backup.
func (h *Backup) Cancel(w http.ResponseWriter, r *http.Request) {
	historyID, err := request.RequireID(chi.URLParam(r, "historyID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Cancel(r.Context(), historyID); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Get returns one run record.
func (h *Backup) Get(w http.ResponseWriter, r *http.Request) {
	historyID, err := request.RequireID(chi.URLParam(r, "historyID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := h.svc.History(r.Context(), historyID)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, history)
}

// ListHistory returns the most recent runs for a job, newest first.
func (h *Backup) ListHistory(w http.ResponseWriter, r *http.Request) {
	jobID, err := request.RequireID(chi.URLParam(r, "jobID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := h.svc.ListHistory(r.Context(), jobID, request.ParseLimit(r))
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []model.BackupHistory{}
	}
	response.WriteJSON(w, http.StatusOK, history)
}

// ValidateCredential checks that a stored credential can authenticate.
func (h *Backup) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	credentialID, err := request.RequireID(chi.URLParam(r, "credentialID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.svc.ValidateCredential(r.Context(), credentialID)
	if err != nil {
		response.WriteError(w, statusFor(err), err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func statusFor(err error) int {
	if errors.Is(err, pgx.ErrNoRows) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
