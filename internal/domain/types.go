// Package domain defines the core types shared across the trading engine:
// orders and their lifecycle states, algorithmic parent orders, positions,
// portfolio snapshots, risk limits, and execution reports. All prices and
// quantities are float64; conversion from broker decimal types happens at
// the broker boundary.
package domain

import (
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType determines how an order is priced and triggered.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// TimeInForce is the validity policy of an order.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
	TimeInForceOPG TimeInForce = "opg"
	TimeInForceCLS TimeInForce = "cls"
)

// OrderStatus is the canonical lifecycle state of an order. Venue-specific
// status strings are mapped onto this set at the broker boundary.
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
	OrderStatusUnknown         OrderStatus = "unknown"
)

// Terminal reports whether the status is absorbing. Once an order reaches a
// terminal status no further state change is permitted.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// AlgoTag marks an order as a child slice of an algorithmic parent order.
type AlgoTag struct {
	AlgoID      string   `json:"algo_id"`
	Type        AlgoType `json:"type"`
	Slice       int      `json:"slice"`
	TotalSlices int      `json:"total_slices"`
	Iceberg     bool     `json:"iceberg,omitempty"`
	DisplayQty  float64  `json:"display_qty,omitempty"`
}

// Order is a single instruction to buy or sell a quantity of one symbol.
// ID is assigned by the engine at creation and never changes; VenueOrderID
// is the broker's identifier, set once the order reaches the venue.
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

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.Qty - o.FilledQty
}

// AbsorbVenueState copies the venue-owned fields of v onto o: status,
// fills, prices, and lifecycle timestamps. The engine identity (ID,
// ClientOrderID, CreatedAt) and the engine tags (StrategyID, SignalID,
// Algo) stay untouched.
func (o *Order) AbsorbVenueState(v *Order) {
	o.VenueOrderID = v.ID
	o.Status = v.Status
	if v.Qty > 0 {
		o.Qty = v.Qty
	}
	o.FilledQty = v.FilledQty
	o.FilledAvgPrice = v.FilledAvgPrice
	o.LimitPrice = cloneFloat(v.LimitPrice)
	o.StopPrice = cloneFloat(v.StopPrice)
	if v.TimeInForce != "" {
		o.TimeInForce = v.TimeInForce
	}
	o.SubmittedAt = cloneTime(v.SubmittedAt)
	o.FilledAt = cloneTime(v.FilledAt)
	o.CanceledAt = cloneTime(v.CanceledAt)
	o.ExpiredAt = cloneTime(v.ExpiredAt)
	o.RejectedAt = cloneTime(v.RejectedAt)
	if v.UpdatedAt.After(o.UpdatedAt) {
		o.UpdatedAt = v.UpdatedAt
	}
}

// Clone returns a deep copy of the order. Callers that hand orders across
// component boundaries clone first so no two components share a mutable
// record.
func (o *Order) Clone() *Order {
	c := *o
	c.LimitPrice = cloneFloat(o.LimitPrice)
	c.StopPrice = cloneFloat(o.StopPrice)
	c.SubmittedAt = cloneTime(o.SubmittedAt)
	c.FilledAt = cloneTime(o.FilledAt)
	c.CanceledAt = cloneTime(o.CanceledAt)
	c.ExpiredAt = cloneTime(o.ExpiredAt)
	c.RejectedAt = cloneTime(o.RejectedAt)
	if o.Algo != nil {
		tag := *o.Algo
		c.Algo = &tag
	}
	return &c
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
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
	SignalID      string      `json:"signal_id,omitempty"`
	Algo          *AlgoTag    `json:"algo,omitempty"`
}

// OrderFilter selects orders by status, symbol, or strategy. Zero fields
// match everything.
type OrderFilter struct {
	Status     OrderStatus `json:"status,omitempty"`
	Symbol     string      `json:"symbol,omitempty"`
	StrategyID string      `json:"strategy_id,omitempty"`
	ActiveOnly bool        `json:"active_only,omitempty"`
}

// Match reports whether the order satisfies every set field of the filter.
func (f OrderFilter) Match(o *Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.StrategyID != "" && o.StrategyID != f.StrategyID {
		return false
	}
	if f.ActiveOnly && o.Status.Terminal() {
		return false
	}
	return true
}

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

// AlgoParams carries the parameters for one algorithmic order run.
// TWAP and VWAP require EndTime > StartTime; Iceberg requires
// 0 < DisplayQty <= Qty. A zero StartTime means "now". A zero Slices count
// falls back to the engine default.
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

// AlgorithmicOrder groups the child orders produced by one algorithm run.
type AlgorithmicOrder struct {
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

// Clone returns a deep copy of the parent order.
func (a *AlgorithmicOrder) Clone() *AlgorithmicOrder {
	c := *a
	c.OrderIDs = slices.Clone(a.OrderIDs)
	c.Params.LimitPrice = cloneFloat(a.Params.LimitPrice)
	return &c
}

// PositionSide is the direction of a held position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideFlat  PositionSide = "flat"
)

// Position is a snapshot of one held symbol. Positions are owned by the
// position tracker and replaced wholesale on refresh, never patched.
type Position struct {
	Symbol          string       `json:"symbol"`
	Qty             float64      `json:"qty"`
	Side            PositionSide `json:"side"`
	AvgEntryPrice   float64      `json:"avg_entry_price"`
	MarketValue     float64      `json:"market_value"`
	CostBasis       float64      `json:"cost_basis"`
	UnrealizedPL    float64      `json:"unrealized_pl"`
	UnrealizedPLPct float64      `json:"unrealized_pl_pct"`
	CurrentPrice    float64      `json:"current_price"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Portfolio is a whole-account snapshot: total value, cash, and every open
// position sorted by symbol.
type Portfolio struct {
	TotalValue   float64    `json:"total_value"`
	Cash         float64    `json:"cash"`
	Positions    []Position `json:"positions"`
	UnrealizedPL float64    `json:"unrealized_pl"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Position returns the snapshot for symbol, if held.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	i, ok := slices.BinarySearchFunc(p.Positions, symbol, func(pos Position, sym string) int {
		switch {
		case pos.Symbol < sym:
			return -1
		case pos.Symbol > sym:
			return 1
		}
		return 0
	})
	if !ok {
		return Position{}, false
	}
	return p.Positions[i], true
}

// AccountInfo is a snapshot of the account's financial metrics.
type AccountInfo struct {
	ID               string  `json:"id"`
	Equity           float64 `json:"equity"`
	Cash             float64 `json:"cash"`
	BuyingPower      float64 `json:"buying_power"`
	Currency         string  `json:"currency"`
	PatternDayTrader bool    `json:"pattern_day_trader"`
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

// Mid returns the bid/ask midpoint, falling back to whichever side is set
// when the book is one-sided.
func (q Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Ask > 0:
		return q.Ask
	default:
		return q.Bid
	}
}

// Bar is one OHLCV aggregate for a symbol.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// SignalType classifies a strategy signal.
type SignalType string

const (
	SignalTypeBuy        SignalType = "buy"
	SignalTypeSell       SignalType = "sell"
	SignalTypeStrongBuy  SignalType = "strong_buy"
	SignalTypeStrongSell SignalType = "strong_sell"
	SignalTypeHold       SignalType = "hold"
)

// Signal is a trading recommendation emitted by a strategy.
type Signal struct {
	ID         string     `json:"id"`
	StrategyID string     `json:"strategy_id"`
	Symbol     string     `json:"symbol"`
	Type       SignalType `json:"type"`
	Strength   float64    `json:"strength"`
	Price      float64    `json:"price,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ExecutionReport records one fill. Reports are append-only; a partially
// filled order accumulates one report per fill.
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

// NewID returns a fresh identifier for orders, reports, and risk limits.
func NewID() string {
	return uuid.NewString()
}

// EqualQty compares two quantities within the engine's float tolerance.
func EqualQty(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
