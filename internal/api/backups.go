package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/backup"
	"github.com/reedfamily/mcwarden/internal/worker"
)

type BackupHandler struct {
	backups *backup.Service
	log     *zap.SugaredLogger
}

func NewBackupHandler(backupSvc *backup.Service, log *zap.SugaredLogger) *BackupHandler {
	return &BackupHandler{backups: backupSvc, log: log}
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	backups, err := h.backups.List()
	if err != nil {
		h.log.Errorw("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

// Create checks for a world and archives it on a worker; the response does not wait for it.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := h.backups.CheckWorld(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	worker.Started(func(ctx context.Context) error {
		_, err := h.backups.Create(ctx)
		return err
	}, worker.WithName("api:backup"), worker.WithLogger(h.log))
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "backup started"})
}

// Download sends a backup file to the client.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	path, err := h.backups.FilePath(chi.URLParam(r, "backupId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(path))
	w.Header().Set("Content-Type", "application/gzip")
	http.ServeFile(w, r, path)
}

func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.backups.Delete(chi.URLParam(r, "backupId"))
	if errors.Is(err, backup.ErrNotFound) {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete backup")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "backup deleted"})
}

// Restore replaces the world with a backup. The server must be stopped first.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	err := h.backups.Restore(context.WithoutCancel(r.Context()), chi.URLParam(r, "backupId"))
	switch {
	case errors.Is(err, backup.ErrServerRunning):
		writeError(w, http.StatusConflict, "stop the server before restoring a backup")
		return
	case errors.Is(err, backup.ErrNotFound):
		writeError(w, http.StatusNotFound, "backup not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to restore backup: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "backup restored"})
}
