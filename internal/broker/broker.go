// Package broker defines the Broker interface and provides implementations
// for executing orders and managing accounts across different brokerages.
package broker

import (
	"context"

	"callisto/internal/domain"
)

// Broker abstracts brokerage operations for order execution and account
// management. Implementations map venue-specific order statuses onto the
// canonical domain status set and convert venue money types at this
// boundary.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitOrder sends an order to the brokerage for execution and
	// returns the accepted order with its venue id and status.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its ID and
	// returns the order's updated state.
	CancelOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// GetOrder returns the venue's current view of one order.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// GetOrders returns all orders matching the filter.
	GetOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetQuote returns the latest bid/ask for a symbol.
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)

	// ClosePosition liquidates pct percent (0,100] of the position held
	// in symbol.
	ClosePosition(ctx context.Context, symbol string, pct float64) error

	// CloseAllPositions liquidates every open position.
	CloseAllPositions(ctx context.Context) error
}
