// Package postgres provides Postgres-backed read repositories.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gestionale/internal/store"
)

// DefaultPageSize is used when Config.PageSize is not set.
const DefaultPageSize = 50

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	PageSize        int
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Repository implements the employee, delivery and trip repositories on one pool.
type Repository struct {
	pool     querier
	pageSize int
}

var (
	_ store.EmployeeRepository = (*Repository)(nil)
	_ store.DeliveryRepository = (*Repository)(nil)
	_ store.TripRepository     = (*Repository)(nil)
)

// New creates a pooled Repository using the provided config.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg.PageSize)
}

// NewWithPool constructs a Repository from an existing pool (primarily for testing).
func NewWithPool(pool querier, pageSize int) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Repository{pool: pool, pageSize: pageSize}, nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// DistinctCCNL lists the collective agreements assigned to employees.
func (r *Repository) DistinctCCNL(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `
		SELECT DISTINCT ccnl FROM employees
		WHERE ccnl IS NOT NULL AND ccnl <> ''
		ORDER BY ccnl;
	`, "ccnl")
}

// DistinctCDC lists the cost centres assigned to employees.
func (r *Repository) DistinctCDC(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `
		SELECT DISTINCT cdc FROM employees
		WHERE cdc IS NOT NULL AND cdc <> ''
		ORDER BY cdc;
	`, "cdc")
}

// DistinctCities lists the cities employees live in.
func (r *Repository) DistinctCities(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `
		SELECT DISTINCT citta FROM employees
		WHERE citta IS NOT NULL AND citta <> ''
		ORDER BY citta;
	`, "citta")
}

// DeliveryFilterOptions collects the distinct depots, carriers and customers.
func (r *Repository) DeliveryFilterOptions(ctx context.Context) (store.DeliveryFilterOptions, error) {
	var (
		opts store.DeliveryFilterOptions
		err  error
	)
	if opts.Depositi, err = r.distinct(ctx, `SELECT DISTINCT deposito FROM gestione WHERE deposito <> '' ORDER BY deposito;`, "deposito"); err != nil {
		return store.DeliveryFilterOptions{}, err
	}
	if opts.Vettori, err = r.distinct(ctx, `SELECT DISTINCT vettore FROM gestione WHERE vettore <> '' ORDER BY vettore;`, "vettore"); err != nil {
		return store.DeliveryFilterOptions{}, err
	}
	if opts.Clienti, err = r.distinct(ctx, `SELECT DISTINCT cliente FROM gestione WHERE cliente <> '' ORDER BY cliente;`, "cliente"); err != nil {
		return store.DeliveryFilterOptions{}, err
	}
	return opts, nil
}

// Invoices returns one page of the delivery grid, newest deliveries first.
func (r *Repository) Invoices(ctx context.Context, page int) (store.InvoicePage, error) {
	page, offset := store.NormalizePage(page, r.pageSize)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM gestione;`).Scan(&total); err != nil {
		return store.InvoicePage{}, fmt.Errorf("failed to count invoices: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, numero_fattura, to_char(data_consegna, 'YYYY-MM-DD'),
			deposito, vettore, cliente, colli, importo::float8
		FROM gestione
		ORDER BY data_consegna DESC, id DESC
		LIMIT $1 OFFSET $2;
	`, r.pageSize, offset)
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
	if opts.Autisti, err = r.distinct(ctx, `SELECT DISTINCT autista FROM viaggi WHERE autista <> '' ORDER BY autista;`, "autista"); err != nil {
		return store.TripFilterOptions{}, err
	}
	if opts.Targhe, err = r.distinct(ctx, `SELECT DISTINCT targa FROM viaggi WHERE targa <> '' ORDER BY targa;`, "targa"); err != nil {
		return store.TripFilterOptions{}, err
	}
	if opts.Depositi, err = r.distinct(ctx, `SELECT DISTINCT deposito FROM viaggi WHERE deposito <> '' ORDER BY deposito;`, "deposito"); err != nil {
		return store.TripFilterOptions{}, err
	}
	return opts, nil
}

// TripStats returns totals over every trip plus one page of trips.
func (r *Repository) TripStats(ctx context.Context, page int) (store.TripStats, error) {
	page, offset := store.NormalizePage(page, r.pageSize)

	var summary store.TripSummary
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(km), 0)::float8, COALESCE(SUM(consegne), 0)::bigint
		FROM viaggi;
	`).Scan(&summary.TotaleViaggi, &summary.KmTotali, &summary.ConsegneTotali)
	if err != nil {
		return store.TripStats{}, fmt.Errorf("failed to aggregate trips: %w", err)
	}
	if summary.TotaleViaggi > 0 {
		summary.KmMedi = summary.KmTotali / float64(summary.TotaleViaggi)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, to_char(data_viaggio, 'YYYY-MM-DD'), autista, targa, deposito, km::float8, consegne
		FROM viaggi
		ORDER BY data_viaggio DESC, id DESC
		LIMIT $1 OFFSET $2;
	`, r.pageSize, offset)
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

// distinct runs a single-column query and collects the values.
func (r *Repository) distinct(ctx context.Context, query, column string) ([]string, error) {
	rows, err := r.pool.Query(ctx, query)
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
