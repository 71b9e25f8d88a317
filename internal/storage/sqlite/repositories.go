// Package sqlite provides SQLite-backed read repositories for local
// development and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/gestionale/internal/store"
)

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 50

var schema = []string{
	`CREATE TABLE IF NOT EXISTS employees (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nome TEXT NOT NULL DEFAULT '',
		ccnl TEXT,
		cdc TEXT,
		citta TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS gestione (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		numero_fattura TEXT NOT NULL,
		data_consegna TEXT NOT NULL,
		deposito TEXT NOT NULL DEFAULT '',
		vettore TEXT NOT NULL DEFAULT '',
		cliente TEXT NOT NULL DEFAULT '',
		colli INTEGER NOT NULL DEFAULT 0,
		importo REAL NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS viaggi (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data_viaggio TEXT NOT NULL,
		autista TEXT NOT NULL DEFAULT '',
		targa TEXT NOT NULL DEFAULT '',
		deposito TEXT NOT NULL DEFAULT '',
		km REAL NOT NULL DEFAULT 0,
		consegne INTEGER NOT NULL DEFAULT 0
	)`,
}

// Repository implements the employee, delivery and trip repositories on a SQLite database.
type Repository struct {
	db       *sql.DB
	pageSize int
}

var (
	_ store.EmployeeRepository = (*Repository)(nil)
	_ store.DeliveryRepository = (*Repository)(nil)
	_ store.TripRepository     = (*Repository)(nil)
)

// Open opens the database at dsn and creates missing tables.
func Open(ctx context.Context, dsn string, pageSize int) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db, pageSize), nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sql.DB, pageSize int) *Repository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Repository{db: db, pageSize: pageSize}
}

// Migrate creates the employees, gestione and viaggi tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle, mainly for seeding.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// DistinctCCNL lists the collective agreements assigned to employees.
func (r *Repository) DistinctCCNL(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT ccnl FROM employees WHERE ccnl IS NOT NULL AND ccnl <> '' ORDER BY ccnl`, "ccnl")
}

// DistinctCDC lists the cost centres assigned to employees.
func (r *Repository) DistinctCDC(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT cdc FROM employees WHERE cdc IS NOT NULL AND cdc <> '' ORDER BY cdc`, "cdc")
}

// DistinctCities lists the cities employees live in.
func (r *Repository) DistinctCities(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT citta FROM employees WHERE citta IS NOT NULL AND citta <> '' ORDER BY citta`, "citta")
}

// DeliveryFilterOptions collects the distinct depots, carriers and customers.
func (r *Repository) DeliveryFilterOptions(ctx context.Context) (store.DeliveryFilterOptions, error) {
	var (
		opts store.DeliveryFilterOptions
		err  error
	)
	if opts.Depositi, err = r.distinct(ctx, `SELECT DISTINCT deposito FROM gestione WHERE deposito <> '' ORDER BY deposito`, "deposito"); err != nil {
		return store.DeliveryFilterOptions{}, err
	}
	if opts.Vettori, err = r.distinct(ctx, `SELECT DISTINCT vettore FROM gestione WHERE vettore <> '' ORDER BY vettore`, "vettore"); err != nil {
		return store.DeliveryFilterOptions{}, err
	}
	if opts.Clienti, err = r.distinct(ctx, `SELECT DISTINCT cliente FROM gestione WHERE cliente <> '' ORDER BY cliente`, "cliente"); err != nil {
		return store.DeliveryFilterOptions{}, err
	}
	return opts, nil
}

// Invoices returns one page of the delivery grid, newest deliveries first.
func (r *Repository) Invoices(ctx context.Context, page int) (store.InvoicePage, error) {
	page, offset := store.NormalizePage(page, r.pageSize)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gestione`).Scan(&total); err != nil {
		return store.InvoicePage{}, fmt.Errorf("failed to count invoices: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, numero_fattura, data_consegna, deposito, vettore, cliente, colli, importo
		FROM gestione
		ORDER BY data_consegna DESC, id DESC
		LIMIT ? OFFSET ?`, r.pageSize, offset)
	if err != nil {
		return store.InvoicePage{}, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]store.Invoice, 0, r.pageSize)
	for rows.Next() {
		var inv store.Invoice
		if err := rows.Scan(
			&inv.ID,
			&inv.NumeroFattura,
			&inv.DataConsegna,
			&inv.Deposito,
			&inv.Vettore,
			&inv.Cliente,
			&inv.Colli,
			&inv.Importo,
		); err != nil {
			return store.InvoicePage{}, fmt.Errorf("failed to scan invoice row: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return store.InvoicePage{}, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	return store.InvoicePage{
		Data:       invoices,
		Pagination: store.NewPagination(page, r.pageSize, total),
	}, nil
}

// TripFilterOptions collects the distinct drivers, plates and depots.
func (r *Repository) TripFilterOptions(ctx context.Context) (store.TripFilterOptions, error) {
	var (
		opts store.TripFilterOptions
		err  error
	)
	if opts.Autisti, err = r.distinct(ctx, `SELECT DISTINCT autista FROM viaggi WHERE autista <> '' ORDER BY autista`, "autista"); err != nil {
		return store.TripFilterOptions{}, err
	}
	if opts.Targhe, err = r.distinct(ctx, `SELECT DISTINCT targa FROM viaggi WHERE targa <> '' ORDER BY targa`, "targa"); err != nil {
		return store.TripFilterOptions{}, err
	}
	if opts.Depositi, err = r.distinct(ctx, `SELECT DISTINCT deposito FROM viaggi WHERE deposito <> '' ORDER BY deposito`, "deposito"); err != nil {
		return store.TripFilterOptions{}, err
	}
	return opts, nil
}

// TripStats returns totals over every trip plus one page of trips.
func (r *Repository) TripStats(ctx context.Context, page int) (store.TripStats, error) {
	page, offset := store.NormalizePage(page, r.pageSize)

	var summary store.TripSummary
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), CAST(COALESCE(SUM(km), 0) AS REAL), COALESCE(SUM(consegne), 0)
		FROM viaggi`).Scan(&summary.TotaleViaggi, &summary.KmTotali, &summary.ConsegneTotali)
	if err != nil {
		return store.TripStats{}, fmt.Errorf("failed to aggregate trips: %w", err)
	}
	if summary.TotaleViaggi > 0 {
		summary.KmMedi = summary.KmTotali / float64(summary.TotaleViaggi)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data_viaggio, autista, targa, deposito, km, consegne
		FROM viaggi
		ORDER BY data_viaggio DESC, id DESC
		LIMIT ? OFFSET ?`, r.pageSize, offset)
	if err != nil {
		return store.TripStats{}, fmt.Errorf("failed to list trips: %w", err)
	}
	defer rows.Close()

	trips := make([]store.Trip, 0, r.pageSize)
	for rows.Next() {
		var trip store.Trip
		if err := rows.Scan(
			&trip.ID,
			&trip.DataViaggio,
			&trip.Autista,
			&trip.Targa,
			&trip.Deposito,
			&trip.Km,
			&trip.Consegne,
		); err != nil {
			return store.TripStats{}, fmt.Errorf("failed to scan trip row: %w", err)
		}
		trips = append(trips, trip)
	}
	if err := rows.Err(); err != nil {
		return store.TripStats{}, fmt.Errorf("failed to iterate trips: %w", err)
	}
	return store.TripStats{
		Summary:    summary,
		Data:       trips,
		Pagination: store.NewPagination(page, r.pageSize, summary.TotaleViaggi),
	}, nil
}

func (r *Repository) distinct(ctx context.Context, query, column string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct %s: %w", column, err)
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", column, err)
	}
	return values, nil
}
