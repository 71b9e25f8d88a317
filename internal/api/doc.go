// Package api hosts the HTTP server, middleware, and REST handlers of the
// gestionale read API. Notable routes:
//   - GET /api/employees/{ccnl,cdc,citta} for employee filter values.
//   - GET /api/gestione and /api/gestione/filters for the delivery grid.
//   - GET /api/viaggi/stats and /api/viaggi/filters for trip statistics.
//   - GET /api/import/{session_id}/status and DELETE /api/import/{session_id}
//     over the ProgressTracker.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus scraping.
package api
