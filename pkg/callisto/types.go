package callisto

import "time"

// The enum types mirror the server's wire values.

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType determines how an order is priced and triggered.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce is the validity policy of an order.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

// OrderStatus is the canonical lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// AlgoType selects a slicing algorithm.
type AlgoType string

const (
	AlgoTypeTWAP    AlgoType = "twap"
	AlgoTypeVWAP    AlgoType = "vwap"
	AlgoTypeIceberg AlgoType = "iceberg"
)

// AlgoStatus is the lifecycle state of an algorithmic parent order.
type AlgoStatus string

const (
	AlgoStatusActive    AlgoStatus = "active"
	AlgoStatusCanceled  AlgoStatus = "canceled"
	AlgoStatusCompleted AlgoStatus = "completed"
)

// AlgoTag marks an order as a child slice of an algorithmic parent order.
type AlgoTag struct {
	AlgoID      string   `json:"algo_id"`
	Type        AlgoType `json:"type"`
	Slice       int      `json:"slice"`
	TotalSlices int      `json:"total_slices"`
	Iceberg     bool     `json:"iceberg,omitempty"`
	DisplayQty  float64  `json:"display_qty,omitempty"`
}

// Order is one order as the server reports it.
type Order struct {
	ID             string      `json:"id"`
	ClientOrderID  string      `json:"client_order_id,omitempty"`
	VenueOrderID   string      `json:"venue_order_id,omitempty"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Qty            float64     `json:"qty"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	LimitPrice     *float64    `json:"limit_price,omitempty"`
	StopPrice      *float64    `json:"stop_price,omitempty"`
	TimeInForce    TimeInForce `json:"time_in_force"`
	Status         OrderStatus `json:"status"`
	StrategyID     string      `json:"strategy_id,omitempty"`
	SignalID       string      `json:"signal_id,omitempty"`
	Algo           *AlgoTag    `json:"algo,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	SubmittedAt    *time.Time  `json:"submitted_at,omitempty"`
	FilledAt       *time.Time  `json:"filled_at,omitempty"`
	CanceledAt     *time.Time  `json:"canceled_at,omitempty"`
	ExpiredAt      *time.Time  `json:"expired_at,omitempty"`
	RejectedAt     *time.Time  `json:"rejected_at,omitempty"`
}

// OrderRequest carries the parameters for creating one order.
type OrderRequest struct {
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"type"`
	Qty           float64     `json:"qty"`
	LimitPrice    *float64    `json:"limit_price,omitempty"`
	StopPrice     *float64    `json:"stop_price,omitempty"`
	TimeInForce   TimeInForce `json:"time_in_force,omitempty"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	StrategyID    string      `json:"strategy_id,omitempty"`
}

// OrderFilter selects orders by status, symbol, or strategy. Zero fields
// match everything.
type OrderFilter struct {
	Status     OrderStatus
	Symbol     string
	StrategyID string
	ActiveOnly bool
}

// AlgoParams carries the parameters for one algorithmic order run.
type AlgoParams struct {
	Type        AlgoType    `json:"type"`
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Qty         float64     `json:"qty"`
	LimitPrice  *float64    `json:"limit_price,omitempty"`
	TimeInForce TimeInForce `json:"time_in_force,omitempty"`
	Slices      int         `json:"slices,omitempty"`
	StartTime   time.Time   `json:"start_time,omitempty"`
	EndTime     time.Time   `json:"end_time,omitempty"`
	DisplayQty  float64     `json:"display_qty,omitempty"`
	StrategyID  string      `json:"strategy_id,omitempty"`
}

// Algo is an algorithmic parent order as the server reports it.
type Algo struct {
	ID        string     `json:"id"`
	Type      AlgoType   `json:"type"`
	Symbol    string     `json:"symbol"`
	Side      OrderSide  `json:"side"`
	Qty       float64    `json:"qty"`
	Status    AlgoStatus `json:"status"`
	OrderIDs  []string   `json:"order_ids"`
	Params    AlgoParams `json:"params"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AlgoDetail pairs an algorithmic order with its child orders.
type AlgoDetail struct {
	Algo   *Algo   `json:"algo"`
	Orders []Order `json:"orders"`
}

// Position is one open position from the portfolio snapshot.
type Position struct {
	Symbol          string    `json:"symbol"`
	Qty             float64   `json:"qty"`
	Side            string    `json:"side"`
	AvgEntryPrice   float64   `json:"avg_entry_price"`
	MarketValue     float64   `json:"market_value"`
	CostBasis       float64   `json:"cost_basis"`
	UnrealizedPL    float64   `json:"unrealized_pl"`
	UnrealizedPLPct float64   `json:"unrealized_pl_pct"`
	CurrentPrice    float64   `json:"current_price"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Portfolio is the account snapshot.
type Portfolio struct {
	TotalValue   float64    `json:"total_value"`
	Cash         float64    `json:"cash"`
	Positions    []Position `json:"positions"`
	UnrealizedPL float64    `json:"unrealized_pl"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AccountInfo is the broker account state.
type AccountInfo struct {
	ID               string  `json:"id"`
	Equity           float64 `json:"equity"`
	Cash             float64 `json:"cash"`
	BuyingPower      float64 `json:"buying_power"`
	Currency         string  `json:"currency"`
	PatternDayTrader bool    `json:"pattern_day_trader"`
}

// RiskLimitType identifies what a risk limit constrains.
type RiskLimitType string

const (
	RiskLimitMaxPositionSize     RiskLimitType = "max_position_size"
	RiskLimitMaxPositionValue    RiskLimitType = "max_position_value"
	RiskLimitMaxPositionPercent  RiskLimitType = "max_position_percent"
	RiskLimitMaxDrawdown         RiskLimitType = "max_drawdown"
	RiskLimitMaxDailyLoss        RiskLimitType = "max_daily_loss"
	RiskLimitMaxDailyLossPercent RiskLimitType = "max_daily_loss_percent"
	RiskLimitMaxOpenPositions    RiskLimitType = "max_open_positions"
	RiskLimitMaxDailyOrders      RiskLimitType = "max_daily_orders"
	RiskLimitMaxOrderValue       RiskLimitType = "max_order_value"
	RiskLimitMaxOrderQuantity    RiskLimitType = "max_order_quantity"
	RiskLimitMinAccountBalance   RiskLimitType = "min_account_balance"
	RiskLimitMaxConcentration    RiskLimitType = "max_concentration"
)

// RiskAction is the remediation taken when a limit is breached.
type RiskAction string

const (
	RiskActionBlockOrder        RiskAction = "block_order"
	RiskActionReduceSize        RiskAction = "reduce_size"
	RiskActionNotify            RiskAction = "notify"
	RiskActionClosePosition     RiskAction = "close_position"
	RiskActionCloseAllPositions RiskAction = "close_all_positions"
	RiskActionPauseStrategy     RiskAction = "pause_strategy"
	RiskActionPauseAll          RiskAction = "pause_all_strategies"
)

// RiskScope restricts which symbols or strategies a limit applies to.
type RiskScope string

const (
	RiskScopeGlobal   RiskScope = "global"
	RiskScopeSymbol   RiskScope = "symbol"
	RiskScopeStrategy RiskScope = "strategy"
)

// RiskLimit is one configurable risk constraint.
type RiskLimit struct {
	ID              string        `json:"id"`
	Type            RiskLimitType `json:"type"`
	Value           float64       `json:"value"`
	Action          RiskAction    `json:"action"`
	Enabled         bool          `json:"enabled"`
	Scope           RiskScope     `json:"scope"`
	Symbols         []string      `json:"symbols,omitempty"`
	Strategies      []string      `json:"strategies,omitempty"`
	TriggerCount    int           `json:"trigger_count"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// RiskCheckResult is the verdict attached to a risk-blocked request.
type RiskCheckResult struct {
	Passed    bool          `json:"passed"`
	LimitID   string        `json:"limit_id,omitempty"`
	LimitType RiskLimitType `json:"limit_type,omitempty"`
	Action    RiskAction    `json:"action,omitempty"`
	Message   string        `json:"message,omitempty"`
	Limit     float64       `json:"limit,omitempty"`
	Observed  float64       `json:"observed,omitempty"`
}

// StrategyStatus reports one registered strategy and whether its signals
// are currently paused.
type StrategyStatus struct {
	ID     string `json:"id"`
	Paused bool   `json:"paused"`
}

// Health reports server liveness.
type Health struct {
	Status string    `json:"status"`
	Mode   string    `json:"mode,omitempty"`
	Time   time.Time `json:"time"`
}

// ExecutionReport is one fill notification.
type ExecutionReport struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	FillQty     float64   `json:"fill_qty"`
	FillPrice   float64   `json:"fill_price"`
	Fee         float64   `json:"fee"`
	FeeCurrency string    `json:"fee_currency"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Quote is the latest bid/ask for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	BidSize   float64   `json:"bid_size"`
	AskSize   float64   `json:"ask_size"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one entry from the server's event stream.
type Event struct {
	Kind       string           `json:"kind"`
	At         time.Time        `json:"at"`
	Order      *Order           `json:"order,omitempty"`
	Report     *ExecutionReport `json:"report,omitempty"`
	Portfolio  *Portfolio       `json:"portfolio,omitempty"`
	Quote      *Quote           `json:"quote,omitempty"`
	Limit      *RiskLimit       `json:"limit,omitempty"`
	Check      *RiskCheckResult `json:"check,omitempty"`
	StrategyID string           `json:"strategy_id,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Response envelopes.

type ordersResponse struct {
	Orders []Order `json:"orders"`
}

type cancelAllResponse struct {
	Canceled []Order `json:"canceled"`
}

type algosResponse struct {
	Algos []Algo `json:"algos"`
}

type positionsResponse struct {
	Positions []Position `json:"positions"`
}

type limitsResponse struct {
	Limits []RiskLimit `json:"limits"`
}

type strategiesResponse struct {
	Strategies []StrategyStatus `json:"strategies"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Check *RiskCheckResult `json:"check,omitempty"`
}
