package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/gestionale/internal/config"
	"github.com/JakeFAU/gestionale/internal/storage/memory"
	"github.com/JakeFAU/gestionale/internal/store"
)

var errBoom = errors.New("boom")

func TestServer_EmployeeEndpoints(t *testing.T) {
	t.Parallel()

	repo := &fakeRepos{
		ccnl:   []string{"Commercio", "Logistica"},
		cdc:    []string{"CDC01"},
		cities: nil,
	}
	server := newTestServer(repo, memory.NewProgressTracker())

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/employees/ccnl", want: `{"success":true,"data":["Commercio","Logistica"]}`},
		{path: "/api/employees/cdc", want: `{"success":true,"data":["CDC01"]}`},
		{path: "/api/employees/citta", want: `{"success":true,"data":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			rec := serve(server, http.MethodGet, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestServer_FailureBodies(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRepos{err: errBoom}, memory.NewProgressTracker())

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/employees/ccnl", want: `{"success":false,"error":"Errore nel recupero dei CCNL"}`},
		{path: "/api/employees/cdc", want: `{"success":false,"error":"Errore nel recupero dei CDC"}`},
		{path: "/api/employees/citta", want: `{"success":false,"error":"Errore nel recupero delle città"}`},
		{path: "/api/gestione/filters", want: `{"error":"Errore nel recupero opzioni filtri"}`},
		{path: "/api/gestione", want: `{"message":"Errore nel recupero dati"}`},
		{path: "/api/gestione?page=2", want: `{"message":"Errore nel recupero dati"}`},
		{path: "/api/viaggi/filters", want: `{"message":"Errore nel recupero opzioni filtri"}`},
		{path: "/api/viaggi/stats", want: `{"message":"Errore nel recupero statistiche"}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			rec := serve(server, http.MethodGet, tt.path)
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestServer_FilterOptionsAreUnwrapped(t *testing.T) {
	t.Parallel()

	repo := &fakeRepos{
		deliveryOpts: store.DeliveryFilterOptions{
			Depositi: []string{"Bologna"},
			Vettori:  []string{"BRT"},
			Clienti:  []string{"Conad"},
		},
		tripOpts: store.TripFilterOptions{
			Autisti:  []string{"Mario Rossi"},
			Targhe:   []string{"AB123CD"},
			Depositi: []string{"Verona"},
		},
	}
	server := newTestServer(repo, memory.NewProgressTracker())

	rec := serve(server, http.MethodGet, "/api/gestione/filters")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"depositi":["Bologna"],"vettori":["BRT"],"clienti":["Conad"]}`, rec.Body.String())

	rec = serve(server, http.MethodGet, "/api/viaggi/filters")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"autisti":["Mario Rossi"],"targhe":["AB123CD"],"depositi":["Verona"]}`, rec.Body.String())
}

func TestServer_PageForwarding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  int
	}{
		{query: "", want: 1},
		{query: "?page=", want: 1},
		{query: "?page=abc", want: 1},
		{query: "?page=3", want: 3},
		{query: "?page=0", want: 0},
		{query: "?page=-2", want: -2},
	}
	for _, path := range []string{"/api/gestione", "/api/viaggi/stats"} {
		for _, tt := range tests {
			t.Run(path+tt.query, func(t *testing.T) {
				t.Parallel()
				repo := &fakeRepos{}
				server := newTestServer(repo, memory.NewProgressTracker())

				rec := serve(server, http.MethodGet, path+tt.query)
				require.Equal(t, http.StatusOK, rec.Code)
				assert.Equal(t, []int{tt.want}, repo.pages())
			})
		}
	}
}

func TestServer_InvoicePageBody(t *testing.T) {
	t.Parallel()

	repo := &fakeRepos{
		invoices: store.InvoicePage{
			Data: []store.Invoice{{
				ID:            7,
				NumeroFattura: "F-007",
				DataConsegna:  "2024-05-01",
				Deposito:      "Bologna",
				Vettore:       "BRT",
				Cliente:       "Conad",
				Colli:         3,
				Importo:       12.5,
			}},
			Pagination: store.NewPagination(1, 50, 1),
		},
	}
	server := newTestServer(repo, memory.NewProgressTracker())

	rec := serve(server, http.MethodGet, "/api/gestione?page=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"data": [{
			"id": 7,
			"numeroFattura": "F-007",
			"dataConsegna": "2024-05-01",
			"deposito": "Bologna",
			"vettore": "BRT",
			"cliente": "Conad",
			"colli": 3,
			"importo": 12.5
		}],
		"pagination": {"page": 1, "pageSize": 50, "total": 1, "totalPages": 1}
	}`, rec.Body.String())
}

func TestServer_TripStatsBody(t *testing.T) {
	t.Parallel()

	repo := &fakeRepos{
		stats: store.TripStats{
			Summary: store.TripSummary{
				TotaleViaggi:   2,
				KmTotali:       300.5,
				ConsegneTotali: 20,
				KmMedi:         150.25,
			},
			Data: []store.Trip{{
				ID:          9,
				DataViaggio: "2024-06-01",
				Autista:     "Mario Rossi",
				Targa:       "AB123CD",
				Deposito:    "Bologna",
				Km:          120,
				Consegne:    8,
			}},
			Pagination: store.NewPagination(2, 1, 2),
		},
	}
	server := newTestServer(repo, memory.NewProgressTracker())

	rec := serve(server, http.MethodGet, "/api/viaggi/stats?page=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{2}, repo.pages())
	assert.JSONEq(t, `{
		"summary": {"totaleViaggi": 2, "kmTotali": 300.5, "consegneTotali": 20, "kmMedi": 150.25},
		"data": [{
			"id": 9,
			"dataViaggio": "2024-06-01",
			"autista": "Mario Rossi",
			"targa": "AB123CD",
			"deposito": "Bologna",
			"km": 120,
			"consegne": 8
		}],
		"pagination": {"page": 2, "pageSize": 1, "total": 2, "totalPages": 2}
	}`, rec.Body.String())
}

func TestServer_ImportStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracker := memory.NewProgressTracker()
	require.NoError(t, tracker.Create(ctx, "abc", store.ImportStatus{CurrentStep: "reading"}))
	server := newTestServer(&fakeRepos{}, tracker)

	rec := serve(server, http.MethodGet, "/api/import/abc/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"progress":0,"currentStep":"reading","completed":false}`, rec.Body.String())

	require.NoError(t, tracker.Complete(ctx, "abc", store.ImportResult{
		Success:      true,
		TotalRows:    10,
		ImportedRows: 10,
		Errors:       []string{},
		SessionID:    "abc",
		Duration:     1500,
	}))

	rec = serve(server, http.MethodGet, "/api/import/abc/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status store.ImportStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Completed)
	require.NotNil(t, status.Result)
	assert.Equal(t, int64(1500), status.Result.Duration)

	rec = serve(server, http.MethodGet, "/api/import/missing/status")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Sessione di importazione non trovata"}`, rec.Body.String())
}

func TestServer_ImportDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracker := memory.NewProgressTracker()
	require.NoError(t, tracker.Create(ctx, "abc", store.ImportStatus{}))
	server := newTestServer(&fakeRepos{}, tracker)

	rec := serve(server, http.MethodDelete, "/api/import/abc")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	_, err := tracker.Get(ctx, "abc")
	require.ErrorIs(t, err, store.ErrNotFound)

	rec = serve(server, http.MethodDelete, "/api/import/abc")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ImportTrackerFailure(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRepos{}, failingTracker{})

	rec := serve(server, http.MethodGet, "/api/import/abc/status")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Errore nel recupero stato importazione"}`, rec.Body.String())

	rec = serve(server, http.MethodDelete, "/api/import/abc")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Errore nella rimozione della sessione"}`, rec.Body.String())
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRepos{}, memory.NewProgressTracker())
	rec := serve(server, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(server, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(Dependencies{
		Repositories: (&fakeRepos{}).repositories(),
		Tracker:      memory.NewProgressTracker(),
		Database:     pingerFunc(func(context.Context) error { return errBoom }),
	}, config.Config{}, zap.NewNop())
	rec = serve(down, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"database unavailable"}`, rec.Body.String())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeRepos{}, memory.NewProgressTracker()), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Auth: config.AuthConfig{
			Enabled: true,
			APIKey:  "secret",
		},
	}
	server := NewServer(Dependencies{
		Repositories: (&fakeRepos{}).repositories(),
		Tracker:      memory.NewProgressTracker(),
	}, cfg, zap.NewNop())

	rec := serve(server, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/healthz?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRepos{}, memory.NewProgressTracker())
	rec := serve(server, http.MethodGet, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "given")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "given", rec.Header().Get("X-Request-ID"))
}

func TestQueryFailureIsLoggedWithRequestID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	server := NewServer(Dependencies{
		Repositories: (&fakeRepos{err: errBoom}).repositories(),
		Tracker:      memory.NewProgressTracker(),
	}, config.Config{}, zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/api/viaggi/stats", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	failures := logs.FilterMessage("query failed").All()
	require.Len(t, failures, 1)
	fields := failures[0].ContextMap()
	assert.Equal(t, "viaggi_stats", fields["endpoint"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "boom", fields["error"])

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.EqualValues(t, http.StatusInternalServerError, completed[0].ContextMap()["status"])
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeRepos struct {
	mu           sync.Mutex
	err          error
	ccnl         []string
	cdc          []string
	cities       []string
	deliveryOpts store.DeliveryFilterOptions
	invoices     store.InvoicePage
	tripOpts     store.TripFilterOptions
	stats        store.TripStats
	seenPages    []int
}

func (f *fakeRepos) repositories() store.Repositories {
	return store.Repositories{Employees: f, Deliveries: f, Trips: f}
}

func (f *fakeRepos) recordPage(page int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seenPages = append(f.seenPages, page)
}

func (f *fakeRepos) pages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.seenPages...)
}

func (f *fakeRepos) DistinctCCNL(context.Context) ([]string, error) {
	return f.ccnl, f.err
}

func (f *fakeRepos) DistinctCDC(context.Context) ([]string, error) {
	return f.cdc, f.err
}

func (f *fakeRepos) DistinctCities(context.Context) ([]string, error) {
	return f.cities, f.err
}

func (f *fakeRepos) DeliveryFilterOptions(context.Context) (store.DeliveryFilterOptions, error) {
	return f.deliveryOpts, f.err
}

func (f *fakeRepos) Invoices(_ context.Context, page int) (store.InvoicePage, error) {
	f.recordPage(page)
	return f.invoices, f.err
}

func (f *fakeRepos) TripFilterOptions(context.Context) (store.TripFilterOptions, error) {
	return f.tripOpts, f.err
}

func (f *fakeRepos) TripStats(_ context.Context, page int) (store.TripStats, error) {
	f.recordPage(page)
	return f.stats, f.err
}

type failingTracker struct{}

func (failingTracker) Create(context.Context, string, store.ImportStatus) error { return errBoom }
func (failingTracker) Update(context.Context, string, store.StatusUpdate) error { return errBoom }
func (failingTracker) Complete(context.Context, string, store.ImportResult) error {
	return errBoom
}
func (failingTracker) Get(context.Context, string) (store.ImportStatus, error) {
	return store.ImportStatus{}, errBoom
}
func (failingTracker) Delete(context.Context, string) error { return errBoom }

type pingerFunc func(context.Context) error

func (p pingerFunc) Ping(ctx context.Context) error { return p(ctx) }

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(repos *fakeRepos, tracker store.ProgressTracker) *Server {
	return NewServer(Dependencies{
		Repositories: repos.repositories(),
		Tracker:      tracker,
	}, config.Config{}, zap.NewNop())
}

func serve(server *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}
