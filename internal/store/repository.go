package store

import (
	"context"
	"math"
)

// Pagination describes one page of a larger result set.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// NewPagination derives the page count from total and pageSize.
func NewPagination(page, pageSize int, total int64) Pagination {
	p := Pagination{Page: page, PageSize: pageSize, Total: total}
	if pageSize > 0 {
		p.TotalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return p
}

// DeliveryFilterOptions lists the distinct values the delivery grid can be filtered on.
type DeliveryFilterOptions struct {
	Depositi []string `json:"depositi"`
	Vettori  []string `json:"vettori"`
	Clienti  []string `json:"clienti"`
}

// Invoice is one row of the delivery ("gestione") grid.
type Invoice struct {
	ID            int64   `json:"id"`
	NumeroFattura string  `json:"numeroFattura"`
	DataConsegna  string  `json:"dataConsegna"`
	Deposito      string  `json:"deposito"`
	Vettore       string  `json:"vettore"`
	Cliente       string  `json:"cliente"`
	Colli         int64   `json:"colli"`
	Importo       float64 `json:"importo"`
}

// InvoicePage is a page of invoices plus its pagination metadata.
type InvoicePage struct {
	Data       []Invoice  `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// TripFilterOptions lists the distinct values the trip grid can be filtered on.
type TripFilterOptions struct {
	Autisti  []string `json:"autisti"`
	Targhe   []string `json:"targhe"`
	Depositi []string `json:"depositi"`
}

// Trip is one row of the trips ("viaggi") grid.
type Trip struct {
	ID          int64   `json:"id"`
	DataViaggio string  `json:"dataViaggio"`
	Autista     string  `json:"autista"`
	Targa       string  `json:"targa"`
	Deposito    string  `json:"deposito"`
	Km          float64 `json:"km"`
	Consegne    int64   `json:"consegne"`
}

// TripSummary aggregates every trip, independent of the requested page.
type TripSummary struct {
	TotaleViaggi   int64   `json:"totaleViaggi"`
	KmTotali       float64 `json:"kmTotali"`
	ConsegneTotali int64   `json:"consegneTotali"`
	KmMedi         float64 `json:"kmMedi"`
}

// TripStats is the payload of the trip statistics view.
type TripStats struct {
	Summary    TripSummary `json:"summary"`
	Data       []Trip      `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// EmployeeRepository reads distinct employee attributes.
type EmployeeRepository interface {
	DistinctCCNL(ctx context.Context) ([]string, error)
	DistinctCDC(ctx context.Context) ([]string, error)
	DistinctCities(ctx context.Context) ([]string, error)
}

// DeliveryRepository reads the delivery grid.
type DeliveryRepository interface {
	DeliveryFilterOptions(ctx context.Context) (DeliveryFilterOptions, error)
	// Invoices returns the requested page; pages below 1 are treated as 1.
	Invoices(ctx context.Context, page int) (InvoicePage, error)
}

// TripRepository reads the trip grid and its aggregates.
type TripRepository interface {
	TripFilterOptions(ctx context.Context) (TripFilterOptions, error)
	// TripStats returns the summary plus the requested page; pages below 1 are treated as 1.
	TripStats(ctx context.Context, page int) (TripStats, error)
}

// Repositories bundles the read repositories served by the API.
type Repositories struct {
	Employees  EmployeeRepository
	Deliveries DeliveryRepository
	Trips      TripRepository
}

// NormalizePage maps pages below 1 to 1 and returns the row offset for pageSize.
// The offset saturates at math.MaxInt, so a page far past the end reads no rows.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize > 0 && page-1 > math.MaxInt/pageSize {
		return page, math.MaxInt
	}
	return page, (page - 1) * pageSize
}
