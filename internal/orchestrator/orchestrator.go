// Package orchestrator turns strategy signals into sized, risk-checked
// orders. The signal type picks the side, percent-of-portfolio sizing
// fills in a missing quantity, and the risk gate has the final word: a
// reduce_size verdict shrinks the order in place, any other failing
// verdict blocks it before the venue is touched. Control events pause and
// resume signal handling per strategy or engine-wide.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"callisto/internal/bus"
	"callisto/internal/domain"
	"callisto/internal/oms"
	"callisto/internal/position"
)

// OrderPlacer submits a validated order request. Satisfied by
// *exec.Engine.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
}

// RiskChecker authorizes an order request before submission, applying any
// size reduction in place. Satisfied by *risk.Gate.
type RiskChecker interface {
	Authorize(req *domain.OrderRequest, refPrice float64) error
}

// PriceSource supplies the reference price used for sizing and risk
// projection. Satisfied by *marketdata.Cache.
type PriceSource interface {
	ReferencePrice(ctx context.Context, symbol string) (float64, error)
}

// PortfolioSource supplies the portfolio snapshot that sizing reads.
// Satisfied by *position.Tracker.
type PortfolioSource interface {
	Portfolio() *domain.Portfolio
}

// Orchestrator routes signals from strategies through sizing and the risk
// gate into the execution engine.
type Orchestrator struct {
	placer    OrderPlacer
	gate      RiskChecker
	prices    PriceSource
	view      PortfolioSource
	sizingPct float64
	log       *slog.Logger

	mu        sync.Mutex
	pausedAll bool
	paused    map[string]bool
}

// New creates an orchestrator. sizingPct is the percent of portfolio value
// a signal without an explicit quantity is sized to; a non-positive value
// falls back to 5 percent.
func New(placer OrderPlacer, gate RiskChecker, prices PriceSource, view PortfolioSource, sizingPct float64) *Orchestrator {
	if sizingPct <= 0 {
		sizingPct = 5
	}
	return &Orchestrator{
		placer:    placer,
		gate:      gate,
		prices:    prices,
		view:      view,
		sizingPct: sizingPct,
		log:       slog.Default().With("component", "orchestrator"),
		paused:    make(map[string]bool),
	}
}

// Bind subscribes the orchestrator to strategy control events so risk
// remediation and API calls can pause and resume signal handling.
func (o *Orchestrator) Bind(b *bus.Bus) {
	b.Handle(func(e bus.Event) {
		switch e.Kind {
		case bus.StrategyPaused:
			o.PauseStrategy(e.StrategyID)
		case bus.StrategyResumed:
			o.ResumeStrategy(e.StrategyID)
		case bus.AllStrategiesPaused:
			o.PauseAll()
		}
	}, bus.StrategyPaused, bus.StrategyResumed, bus.AllStrategiesPaused)
}

// HandleSignal converts one signal into an order. A non-positive qty is
// sized to the configured percent of portfolio value at the reference
// price. Signals from paused strategies are dropped and return (nil, nil).
func (o *Orchestrator) HandleSignal(ctx context.Context, sig *domain.Signal, qty float64) (*domain.Order, error) {
	if sig == nil {
		return nil, domain.Validationf("signal", "must not be nil")
	}
	req, err := oms.OrderRequestFromSignal(sig, qty)
	if err != nil {
		return nil, err
	}
	if o.dropIfPaused(sig) {
		return nil, nil
	}

	refPrice, err := o.referencePrice(ctx, sig)
	if err != nil {
		return nil, err
	}
	if req.Qty <= 0 {
		if req.Qty, err = o.defaultQty(refPrice); err != nil {
			return nil, err
		}
	}

	if err := o.gate.Authorize(&req, refPrice); err != nil {
		return nil, err
	}

	order, err := o.placer.CreateOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute signal %s: %w", sig.ID, err)
	}
	o.log.Info("Signal executed.",
		"signal_id", sig.ID,
		"strategy_id", sig.StrategyID,
		"symbol", order.Symbol,
		"side", string(order.Side),
		"qty", order.Qty,
		"order_id", order.ID)
	return order, nil
}

// PauseStrategy stops signal handling for one strategy. An empty id pauses
// every strategy.
func (o *Orchestrator) PauseStrategy(strategyID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if strategyID == "" {
		o.pausedAll = true
		return
	}
	o.paused[strategyID] = true
}

// ResumeStrategy re-enables signal handling for one strategy. An empty id
// clears the engine-wide pause and every per-strategy pause. A resume for
// a single strategy does not clear an engine-wide pause.
func (o *Orchestrator) ResumeStrategy(strategyID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if strategyID == "" {
		o.pausedAll = false
		clear(o.paused)
		return
	}
	delete(o.paused, strategyID)
}

// PauseAll stops signal handling for every strategy.
func (o *Orchestrator) PauseAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pausedAll = true
}

// ResumeAll clears the engine-wide pause and every per-strategy pause.
func (o *Orchestrator) ResumeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pausedAll = false
	clear(o.paused)
}

// Paused reports whether signals from the strategy are currently dropped.
func (o *Orchestrator) Paused(strategyID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pausedAll || o.paused[strategyID]
}

func (o *Orchestrator) dropIfPaused(sig *domain.Signal) bool {
	if !o.Paused(sig.StrategyID) {
		return false
	}
	o.log.Info("Signal dropped, strategy paused.",
		"signal_id", sig.ID,
		"strategy_id", sig.StrategyID,
		"symbol", sig.Symbol)
	return true
}

// referencePrice prefers the live quote midpoint and falls back to the
// price the strategy observed when no quote is cached yet.
func (o *Orchestrator) referencePrice(ctx context.Context, sig *domain.Signal) (float64, error) {
	price, err := o.prices.ReferencePrice(ctx, sig.Symbol)
	if err == nil && price > 0 {
		return price, nil
	}
	if sig.Price > 0 {
		return sig.Price, nil
	}
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", sig.Symbol, err)
	}
	return 0, domain.Validationf("price", "no reference price for %s", sig.Symbol)
}

func (o *Orchestrator) defaultQty(refPrice float64) (float64, error) {
	var total float64
	if pf := o.view.Portfolio(); pf != nil {
		total = pf.TotalValue
	}
	qty, err := position.PercentOfPortfolio(o.sizingPct, refPrice, total)
	if err != nil {
		return 0, err
	}
	if qty <= 0 {
		return 0, domain.Validationf("qty", "sized to zero shares at price %v", refPrice)
	}
	return qty, nil
}
