package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gestionale/internal/store"
)

// DeliveryHandler serves the delivery ("gestione") grid and its filters.
type DeliveryHandler struct {
	repo    store.DeliveryRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewDeliveryHandler wires the repository and logger.
func NewDeliveryHandler(repo store.DeliveryRepository, timeout time.Duration, logger *zap.Logger) *DeliveryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &DeliveryHandler{repo: repo, timeout: timeout, logger: logger}
}

// FilterOptions handles GET /api/gestione/filters. The options object is
// returned without an envelope; failures answer {"error": ...}.
func (h *DeliveryHandler) FilterOptions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	opts, err := h.repo.DeliveryFilterOptions(ctx)
	if err != nil {
		queryFailed(w, r, h.logger, "gestione_filters", err, map[string]string{
			"error": "Errore nel recupero opzioni filtri",
		})
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// Invoices handles GET /api/gestione?page=N. Failures answer {"message": ...}.
func (h *DeliveryHandler) Invoices(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	data, err := h.repo.Invoices(ctx, page)
	if err != nil {
		queryFailed(w, r, h.logger, "gestione", err, map[string]string{
			"message": "Errore nel recupero dati",
		})
		return
	}
	writeJSON(w, http.StatusOK, data)
}
