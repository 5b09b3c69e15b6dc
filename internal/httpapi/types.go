// Package httpapi serves the engine's REST API: order and algorithmic
// order management, portfolio and account inspection, risk limit
// administration, strategy control, and a streaming event tap.
package httpapi

import (
	"time"

	"callisto/internal/domain"
)

// ErrorResponse is the JSON body for every non-2xx response. Check is set
// when a risk limit blocked the request.
type ErrorResponse struct {
	Error string                  `json:"error"`
	Check *domain.RiskCheckResult `json:"check,omitempty"`
}

// OrdersResponse lists orders matching a filter.
type OrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// CancelAllResponse lists the orders a bulk cancel actually canceled.
type CancelAllResponse struct {
	Canceled []domain.Order `json:"canceled"`
}

// AlgoResponse pairs an algorithmic order with its child orders.
type AlgoResponse struct {
	Algo   *domain.AlgorithmicOrder `json:"algo"`
	Orders []domain.Order           `json:"orders"`
}

// AlgosResponse lists algorithmic orders.
type AlgosResponse struct {
	Algos []domain.AlgorithmicOrder `json:"algos"`
}

// PositionsResponse lists the open positions from the latest snapshot.
type PositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// LimitsResponse lists the configured risk limits.
type LimitsResponse struct {
	Limits []domain.RiskLimit `json:"limits"`
}

// StrategyStatus reports one registered strategy and whether its signals
// are currently paused.
type StrategyStatus struct {
	ID     string `json:"id"`
	Paused bool   `json:"paused"`
}

// StrategiesResponse lists registered strategies.
type StrategiesResponse struct {
	Strategies []StrategyStatus `json:"strategies"`
}

// HealthResponse reports process liveness.
type HealthResponse struct {
	Status string    `json:"status"`
	Mode   string    `json:"mode,omitempty"`
	Time   time.Time `json:"time"`
}
