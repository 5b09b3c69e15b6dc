package domain

import (
	"slices"
	"time"
)

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

// RiskLimit is one configurable risk constraint. Limits are created at
// configuration time, mutable at runtime, and never auto-deleted.
// TriggerCount and LastTriggeredAt record monitor breaches.
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

// AppliesToSymbol reports whether a symbol-scoped limit covers the symbol.
// An empty filter list covers every symbol.
func (l *RiskLimit) AppliesToSymbol(symbol string) bool {
	if l.Scope != RiskScopeSymbol {
		return false
	}
	return len(l.Symbols) == 0 || slices.Contains(l.Symbols, symbol)
}

// AppliesToStrategy reports whether a strategy-scoped limit covers the
// strategy. An empty filter list covers every strategy.
func (l *RiskLimit) AppliesToStrategy(strategyID string) bool {
	if l.Scope != RiskScopeStrategy {
		return false
	}
	return len(l.Strategies) == 0 || slices.Contains(l.Strategies, strategyID)
}

// Clone returns a deep copy of the limit.
func (l *RiskLimit) Clone() *RiskLimit {
	c := *l
	c.Symbols = slices.Clone(l.Symbols)
	c.Strategies = slices.Clone(l.Strategies)
	c.LastTriggeredAt = cloneTime(l.LastTriggeredAt)
	return &c
}

// RiskCheckResult is the verdict of a risk evaluation. A violation is a
// result, not an error: callers inspect Action to decide whether to block,
// shrink, or proceed. A passing result carries Passed=true and nothing else.
type RiskCheckResult struct {
	Passed    bool          `json:"passed"`
	LimitID   string        `json:"limit_id,omitempty"`
	LimitType RiskLimitType `json:"limit_type,omitempty"`
	Action    RiskAction    `json:"action,omitempty"`
	Message   string        `json:"message,omitempty"`
	Limit     float64       `json:"limit,omitempty"`
	Observed  float64       `json:"observed,omitempty"`
}

// RiskPass is the canonical passing verdict.
func RiskPass() RiskCheckResult {
	return RiskCheckResult{Passed: true}
}
