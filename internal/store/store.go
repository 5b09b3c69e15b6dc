// Package store persists the trading journal: every order the engine has
// seen, every fill, and every algorithmic parent order. SQLite is the
// system of record; Parquet files hold the long-term fill archive.
package store

import (
	"context"
	"time"

	"callisto/internal/domain"
)

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts the order or, when the ID already exists, replaces
	// the stored record with the new state.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders matching the filter, oldest first.
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

// ReportStore persists and retrieves execution reports. Reports are
// append-only; saving a report with a known ID is a no-op.
type ReportStore interface {
	// SaveReport appends one fill record.
	SaveReport(ctx context.Context, report *domain.ExecutionReport) error

	// ListReports returns every fill for an order, oldest first.
	ListReports(ctx context.Context, orderID string) ([]domain.ExecutionReport, error)

	// ReportsBetween returns every fill executed within [start, end),
	// oldest first.
	ReportsBetween(ctx context.Context, start, end time.Time) ([]domain.ExecutionReport, error)
}

// AlgoStore persists and retrieves algorithmic parent orders.
type AlgoStore interface {
	// SaveAlgo inserts the parent order or replaces the stored record when
	// the ID already exists.
	SaveAlgo(ctx context.Context, algo *domain.AlgorithmicOrder) error

	// GetAlgo retrieves a parent order by its ID.
	GetAlgo(ctx context.Context, id string) (*domain.AlgorithmicOrder, error)

	// ListAlgos returns parent orders with the given status, oldest first.
	// An empty status matches everything.
	ListAlgos(ctx context.Context, status domain.AlgoStatus) ([]domain.AlgorithmicOrder, error)
}
