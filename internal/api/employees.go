package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gestionale/internal/store"
)

// EmployeeHandler serves the distinct values used by the employee filters.
type EmployeeHandler struct {
	repo    store.EmployeeRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewEmployeeHandler wires the repository and logger.
func NewEmployeeHandler(repo store.EmployeeRepository, timeout time.Duration, logger *zap.Logger) *EmployeeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &EmployeeHandler{repo: repo, timeout: timeout, logger: logger}
}

// CCNL handles GET /api/employees/ccnl.
func (h *EmployeeHandler) CCNL(w http.ResponseWriter, r *http.Request) {
	h.serveList(w, r, "employees_ccnl", "Errore nel recupero dei CCNL", h.repo.DistinctCCNL)
}

// CDC handles GET /api/employees/cdc.
func (h *EmployeeHandler) CDC(w http.ResponseWriter, r *http.Request) {
	h.serveList(w, r, "employees_cdc", "Errore nel recupero dei CDC", h.repo.DistinctCDC)
}

// Cities handles GET /api/employees/citta.
func (h *EmployeeHandler) Cities(w http.ResponseWriter, r *http.Request) {
	h.serveList(w, r, "employees_citta", "Errore nel recupero delle città", h.repo.DistinctCities)
}

// serveList answers {success:true, data:[...]} or {success:false, error:msg}.
func (h *EmployeeHandler) serveList(
	w http.ResponseWriter,
	r *http.Request,
	endpoint string,
	failure string,
	list func(context.Context) ([]string, error),
) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	values, err := list(ctx)
	if err != nil {
		queryFailed(w, r, h.logger, endpoint, err, map[string]any{
			"success": false,
			"error":   failure,
		})
		return
	}
	if values == nil {
		values = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    values,
	})
}
