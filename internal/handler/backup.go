package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mclarke/eventide/internal/backup"
	"github.com/mclarke/eventide/internal/store"
)

type BackupHandler struct {
	manager     *backup.Manager
	backupStore *store.BackupStore
	logger      *slog.Logger
}

func NewBackupHandler(m *backup.Manager, bs *store.BackupStore, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, backupStore: bs, logger: logger}
}

// Status handles GET /api/backups/status
func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

// List handles GET /api/backups
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.backupStore.List(50)
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	if records == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// RunNow handles POST /api/backups
func (h *BackupHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	id, err := h.manager.RunNow(r.Context())
	if err != nil {
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	record, err := h.backupStore.GetByID(id)
	if err != nil || record == nil {
		writeError(w, http.StatusInternalServerError, "backup record missing")
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// Restore handles POST /api/backups/{id}/restore. On success the process
// exits so the supervisor restarts it against the restored database, so a
// response only ever comes back on failure.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.manager.Restore(r.Context(), id); err != nil {
		h.logger.Error("restore backup", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
}

// Download handles GET /api/backups/{id}/download, streaming the encrypted
// snapshot as stored in S3.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	record, err := h.backupStore.GetByID(id)
	if err != nil {
		h.logger.Error("get backup", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to load backup")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}

	body, size, err := h.manager.Download(r.Context(), id)
	if err != nil {
		h.logger.Error("download backup", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Filename))
	if size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Error("stream backup", "error", err, "id", id)
	}
}
