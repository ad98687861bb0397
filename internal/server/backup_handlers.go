package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/backup"
)

// BackupHandlers serves backup operations. Only mounted when an object
// store is configured.
type BackupHandlers struct {
	service *backup.Service
	log     zerolog.Logger
}

// NewBackupHandlers creates the backup handlers.
func NewBackupHandlers(service *backup.Service, log zerolog.Logger) *BackupHandlers {
	return &BackupHandlers{
		service: service,
		log:     log.With().Str("component", "backup_handlers").Logger(),
	}
}

// HandleList lists stored backups, newest first
// GET /api/backups
func (h *BackupHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	backups, err := h.service.ListBackups(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, backups)
}

// HandleCreate creates and uploads a backup immediately
// POST /api/backups
func (h *BackupHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CreateAndUpload(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, map[string]string{"status": "completed"})
}

func (h *BackupHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *BackupHandlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode error response")
	}
}
