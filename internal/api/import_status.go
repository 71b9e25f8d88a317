package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gestionale/internal/logging"
	"github.com/JakeFAU/gestionale/internal/store"
)

const sessionNotFound = "Sessione di importazione non trovata"

// ImportHandler exposes import session progress to pollers.
type ImportHandler struct {
	tracker store.ProgressTracker
	timeout time.Duration
	logger  *zap.Logger
}

// NewImportHandler wires the tracker and logger.
func NewImportHandler(tracker store.ProgressTracker, timeout time.Duration, logger *zap.Logger) *ImportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &ImportHandler{tracker: tracker, timeout: timeout, logger: logger}
}

// Status handles GET /api/import/{session_id}/status, answering the bare
// ImportStatus, 404 for unknown sessions, or 500 on tracker failure.
func (h *ImportHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, err := h.tracker.Get(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, sessionNotFound)
	case err != nil:
		queryFailed(w, r, h.logger, "import_status", err, map[string]string{
			"error": "Errore nel recupero stato importazione",
		})
	default:
		writeJSON(w, http.StatusOK, status)
	}
}

// Delete handles DELETE /api/import/{session_id}.
func (h *ImportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	err := h.tracker.Delete(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, sessionNotFound)
	case err != nil:
		queryFailed(w, r, h.logger, "import_delete", err, map[string]string{
			"error": "Errore nella rimozione della sessione",
		})
	default:
		logging.FromContext(r.Context(), h.logger).Info("import session removed", zap.String("session_id", sessionID))
		w.WriteHeader(http.StatusNoContent)
	}
}
