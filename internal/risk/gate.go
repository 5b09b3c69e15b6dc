package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"callisto/internal/bus"
	"callisto/internal/domain"
)

// PortfolioView is the account state the risk checks read. Satisfied by
// *position.Tracker.
type PortfolioView interface {
	Portfolio() *domain.Portfolio
	DailyPnL() float64
	StartingBalance() float64
}

// Gate evaluates order requests against the enabled limits before
// submission. Checks run in a fixed order and the first failing check
// short-circuits the remainder; a violation is a result for the caller to
// act on, not an error.
type Gate struct {
	limits *LimitStore
	view   PortfolioView
	log    *slog.Logger

	mu        sync.Mutex
	dayMarker string         // YYYY-MM-DD of the counted day
	counts    map[string]int // orders per strategy today
	total     int            // all orders today
}

// NewGate creates a gate over the limit store and portfolio view.
func NewGate(limits *LimitStore, view PortfolioView) *Gate {
	return &Gate{
		limits: limits,
		view:   view,
		log:    slog.Default().With("component", "risk"),
		counts: make(map[string]int),
	}
}

// Bind subscribes the gate's daily order counter to the bus.
func (g *Gate) Bind(b *bus.Bus) {
	b.Handle(func(e bus.Event) {
		if e.Order != nil {
			g.RecordOrder(e.Order.StrategyID)
		}
	}, bus.OrderAdded)
}

// RecordOrder counts one accepted order toward today's totals.
func (g *Gate) RecordOrder(strategyID string) {
	g.recordOrderAt(strategyID, time.Now())
}

func (g *Gate) recordOrderAt(strategyID string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfStale(now)
	g.counts[strategyID]++
	g.total++
}

// OrdersToday returns the number of orders counted for the strategy today.
func (g *Gate) OrdersToday(strategyID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfStale(time.Now())
	return g.counts[strategyID]
}

// resetIfStale clears the daily counters when the calendar day has rolled
// over. Callers hold g.mu. There is no reset timer; every evaluation
// compares the cached day marker first.
func (g *Gate) resetIfStale(now time.Time) {
	today := now.Format("2006-01-02")
	if g.dayMarker == today {
		return
	}
	g.dayMarker = today
	g.counts = make(map[string]int)
	g.total = 0
}

// CheckOrder runs every pre-trade check against the request. refPrice is
// the current market price for the symbol, used when the request carries
// no limit or stop price. A passing result carries Passed=true and
// nothing else.
func (g *Gate) CheckOrder(req *domain.OrderRequest, refPrice float64) domain.RiskCheckResult {
	return g.checkOrderAt(req, refPrice, time.Now())
}

// Authorize checks the request and applies the failing limit's remediation
// in place. A reduce_size verdict rewrites the request quantity to the
// limit value and lets the order proceed; every other failing action
// returns a RiskBlockedError carrying the verdict.
func (g *Gate) Authorize(req *domain.OrderRequest, refPrice float64) error {
	res := g.CheckOrder(req, refPrice)
	if res.Passed {
		return nil
	}
	if res.Action != domain.RiskActionReduceSize || res.Limit <= 0 {
		return &domain.RiskBlockedError{Result: res}
	}
	g.log.Info("Order size reduced by risk limit.",
		"symbol", req.Symbol,
		"limit_id", res.LimitID,
		"from", req.Qty,
		"to", res.Limit)
	req.Qty = res.Limit
	return nil
}

func (g *Gate) checkOrderAt(req *domain.OrderRequest, refPrice float64, now time.Time) domain.RiskCheckResult {
	price := effectivePrice(req, refPrice)
	pf := g.view.Portfolio()

	checks := []func() (domain.RiskCheckResult, bool){
		func() (domain.RiskCheckResult, bool) { return g.checkAccountBalance(req, pf) },
		func() (domain.RiskCheckResult, bool) { return g.checkOpenPositions(req, pf) },
		func() (domain.RiskCheckResult, bool) { return g.checkDailyLossPercent(req) },
		func() (domain.RiskCheckResult, bool) { return g.checkOrderValue(req, price) },
		func() (domain.RiskCheckResult, bool) { return g.checkOrderQuantity(req) },
		func() (domain.RiskCheckResult, bool) { return g.checkPositionPercent(req, pf, price) },
		func() (domain.RiskCheckResult, bool) { return g.checkPositionSize(req, pf) },
		func() (domain.RiskCheckResult, bool) { return g.checkDailyOrders(req, now) },
	}
	for _, check := range checks {
		if res, violated := check(); violated {
			g.log.Warn("Order blocked by risk limit.",
				"symbol", req.Symbol,
				"limit_type", res.LimitType,
				"action", res.Action,
				"message", res.Message)
			return res
		}
	}
	return domain.RiskPass()
}

// effectivePrice picks the price the value checks use: the request's limit
// price, else its stop price, else the market reference.
func effectivePrice(req *domain.OrderRequest, refPrice float64) float64 {
	if req.LimitPrice != nil && *req.LimitPrice > 0 {
		return *req.LimitPrice
	}
	if req.StopPrice != nil && *req.StopPrice > 0 {
		return *req.StopPrice
	}
	return refPrice
}

func violation(l domain.RiskLimit, observed float64, format string, args ...any) (domain.RiskCheckResult, bool) {
	return domain.RiskCheckResult{
		Passed:    false,
		LimitID:   l.ID,
		LimitType: l.Type,
		Action:    l.Action,
		Message:   fmt.Sprintf(format, args...),
		Limit:     l.Value,
		Observed:  observed,
	}, true
}

func pass() (domain.RiskCheckResult, bool) {
	return domain.RiskCheckResult{}, false
}

func (g *Gate) checkAccountBalance(req *domain.OrderRequest, pf *domain.Portfolio) (domain.RiskCheckResult, bool) {
	if pf == nil {
		return pass()
	}
	for _, l := range g.limits.applicable(domain.RiskLimitMinAccountBalance, req.Symbol, req.StrategyID) {
		if pf.TotalValue < l.Value {
			return violation(l, pf.TotalValue,
				"account balance %.2f is below the %.2f minimum", pf.TotalValue, l.Value)
		}
	}
	return pass()
}

// checkOpenPositions applies only to a buy that would open a new symbol.
// Adding to an existing position or selling never widens the position
// count.
func (g *Gate) checkOpenPositions(req *domain.OrderRequest, pf *domain.Portfolio) (domain.RiskCheckResult, bool) {
	if pf == nil || req.Side != domain.OrderSideBuy {
		return pass()
	}
	if _, held := pf.Position(req.Symbol); held {
		return pass()
	}
	for _, l := range g.limits.applicable(domain.RiskLimitMaxOpenPositions, req.Symbol, req.StrategyID) {
		if float64(len(pf.Positions)) >= l.Value {
			return violation(l, float64(len(pf.Positions)),
				"already holding %d positions, limit is %.0f", len(pf.Positions), l.Value)
		}
	}
	return pass()
}

func (g *Gate) checkDailyLossPercent(req *domain.OrderRequest) (domain.RiskCheckResult, bool) {
	starting := g.view.StartingBalance()
	if starting <= 0 {
		return pass()
	}
	lossPct := g.view.DailyPnL() / starting * 100
	for _, l := range g.limits.applicable(domain.RiskLimitMaxDailyLossPercent, req.Symbol, req.StrategyID) {
		if lossPct < -l.Value {
			return violation(l, lossPct,
				"daily loss %.2f%% exceeds the %.2f%% limit", -lossPct, l.Value)
		}
	}
	return pass()
}

func (g *Gate) checkOrderValue(req *domain.OrderRequest, price float64) (domain.RiskCheckResult, bool) {
	value := price * req.Qty
	for _, l := range g.limits.applicable(domain.RiskLimitMaxOrderValue, req.Symbol, req.StrategyID) {
		if value > l.Value {
			return violation(l, value,
				"order value %.2f exceeds the %.2f limit", value, l.Value)
		}
	}
	return pass()
}

func (g *Gate) checkOrderQuantity(req *domain.OrderRequest) (domain.RiskCheckResult, bool) {
	for _, l := range g.limits.applicable(domain.RiskLimitMaxOrderQuantity, req.Symbol, req.StrategyID) {
		if req.Qty > l.Value {
			return violation(l, req.Qty,
				"order quantity %v exceeds the %v limit", req.Qty, l.Value)
		}
	}
	return pass()
}

// checkPositionPercent projects the post-order position value as a percent
// of the portfolio. A buy adds the order value to the existing market
// value, a sell subtracts it; exposure is measured as the absolute value
// so a short concentrates the book the same way a long does.
func (g *Gate) checkPositionPercent(req *domain.OrderRequest, pf *domain.Portfolio, price float64) (domain.RiskCheckResult, bool) {
	if pf == nil || pf.TotalValue <= 0 || price <= 0 {
		return pass()
	}
	var existing float64
	if pos, held := pf.Position(req.Symbol); held {
		existing = pos.MarketValue
	}
	orderValue := price * req.Qty
	projected := existing + orderValue
	if req.Side == domain.OrderSideSell {
		projected = existing - orderValue
	}
	pct := math.Abs(projected) / pf.TotalValue * 100
	for _, l := range g.limits.applicable(domain.RiskLimitMaxPositionPercent, req.Symbol, req.StrategyID) {
		if pct > l.Value {
			return violation(l, pct,
				"projected %s position would be %.2f%% of the portfolio, limit is %.2f%%",
				req.Symbol, pct, l.Value)
		}
	}
	return pass()
}

// checkPositionSize projects the post-order share count for the symbol.
func (g *Gate) checkPositionSize(req *domain.OrderRequest, pf *domain.Portfolio) (domain.RiskCheckResult, bool) {
	var existing float64
	if pf != nil {
		if pos, held := pf.Position(req.Symbol); held {
			existing = pos.Qty
		}
	}
	projected := existing + req.Qty
	if req.Side == domain.OrderSideSell {
		projected = existing - req.Qty
	}
	shares := math.Abs(projected)
	for _, l := range g.limits.applicable(domain.RiskLimitMaxPositionSize, req.Symbol, req.StrategyID) {
		if shares > l.Value {
			return violation(l, shares,
				"projected %s position of %v shares exceeds the %v limit",
				req.Symbol, shares, l.Value)
		}
	}
	return pass()
}

// checkDailyOrders compares today's order count against the limit: the
// strategy's own count for a strategy-scoped limit, the engine-wide count
// for a global one.
func (g *Gate) checkDailyOrders(req *domain.OrderRequest, now time.Time) (domain.RiskCheckResult, bool) {
	limits := g.limits.applicable(domain.RiskLimitMaxDailyOrders, req.Symbol, req.StrategyID)
	if len(limits) == 0 {
		return pass()
	}
	g.mu.Lock()
	g.resetIfStale(now)
	byStrategy := g.counts[req.StrategyID]
	total := g.total
	g.mu.Unlock()

	for _, l := range limits {
		count := total
		if l.Scope == domain.RiskScopeStrategy {
			count = byStrategy
		}
		if float64(count) >= l.Value {
			return violation(l, float64(count),
				"%d orders already placed today, limit is %.0f", count, l.Value)
		}
	}
	return pass()
}
