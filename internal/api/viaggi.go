package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gestionale/internal/store"
)

// TripHandler serves trip ("viaggi") statistics and filters.
type TripHandler struct {
	repo    store.TripRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewTripHandler wires the repository and logger.
func NewTripHandler(repo store.TripRepository, timeout time.Duration, logger *zap.Logger) *TripHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &TripHandler{repo: repo, timeout: timeout, logger: logger}
}

// FilterOptions handles GET /api/viaggi/filters.
func (h *TripHandler) FilterOptions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	opts, err := h.repo.TripFilterOptions(ctx)
	if err != nil {
		queryFailed(w, r, h.logger, "viaggi_filters", err, map[string]string{
			"message": "Errore nel recupero opzioni filtri",
		})
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// Stats handles GET /api/viaggi/stats?page=N.
func (h *TripHandler) Stats(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.repo.TripStats(ctx, page)
	if err != nil {
		queryFailed(w, r, h.logger, "viaggi_stats", err, map[string]string{
			"message": "Errore nel recupero statistiche",
		})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
