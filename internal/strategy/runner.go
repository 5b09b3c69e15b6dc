package strategy

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"callisto/internal/bus"
	"callisto/internal/domain"
)

// SignalSink receives the signals strategies emit. Satisfied by
// *orchestrator.Orchestrator, which drops signals for paused strategies so
// strategies keep receiving market data while paused.
type SignalSink interface {
	HandleSignal(ctx context.Context, sig *domain.Signal, qty float64) (*domain.Order, error)
}

type binding struct {
	strat   Strategy
	symbols map[string]bool // nil matches every symbol
}

func (b binding) covers(symbol string) bool {
	return b.symbols == nil || b.symbols[symbol]
}

// Runner feeds quotes and synthetic bars to the bound strategies. Bars are
// aggregated from quote midpoints on interval-aligned windows; a window
// closes when a later quote arrives or when the ticker finds it stale.
type Runner struct {
	sink     SignalSink
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	bindings []binding
	building map[string]*domain.Bar
}

// NewRunner creates a runner forwarding to sink. A non-positive interval
// falls back to one minute bars.
func NewRunner(sink SignalSink, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		sink:     sink,
		interval: interval,
		log:      slog.Default().With("component", "strategy"),
		building: make(map[string]*domain.Bar),
	}
}

// Add binds a strategy to a symbol universe. No symbols means the strategy
// sees every symbol on the feed.
func (r *Runner) Add(s Strategy, symbols ...string) {
	var set map[string]bool
	if len(symbols) > 0 {
		set = make(map[string]bool, len(symbols))
		for _, sym := range symbols {
			set[sym] = true
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, binding{strat: s, symbols: set})
}

// Run consumes quote events from the bus until ctx is done. The quote tap
// is buffered; a burst beyond the buffer drops quotes rather than blocking
// the publisher, and the next quote repairs the bar in progress.
func (r *Runner) Run(ctx context.Context, b *bus.Bus) {
	r.initStrategies(ctx)
	id, quotes := b.Subscribe(256, bus.QuoteUpdated)
	defer b.Unsubscribe(id)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.mu.Lock()
	n := len(r.bindings)
	r.mu.Unlock()
	r.log.Info("Strategy runner started.", "strategies", n, "bar_interval", r.interval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-quotes:
			if !ok {
				return
			}
			if evt.Quote != nil {
				r.handleQuote(ctx, *evt.Quote)
			}
		case now := <-ticker.C:
			r.flushStale(ctx, now)
		}
	}
}

// initStrategies runs one-time setup and drops any strategy that fails it.
func (r *Runner) initStrategies(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.bindings[:0]
	for _, bd := range r.bindings {
		if err := bd.strat.Init(ctx); err != nil {
			r.log.Error("Strategy init failed, not running it.", "strategy_id", bd.strat.Name(), "error", err)
			continue
		}
		kept = append(kept, bd)
	}
	r.bindings = kept
}

// handleQuote folds one quote into the symbol's bar under construction and
// dispatches any bar the quote's timestamp closed.
func (r *Runner) handleQuote(ctx context.Context, q domain.Quote) {
	mid := q.Mid()
	if mid <= 0 || q.Symbol == "" {
		return
	}
	window := q.Timestamp.Truncate(r.interval)

	r.mu.Lock()
	var closed *domain.Bar
	cur := r.building[q.Symbol]
	if cur != nil && window.After(cur.Timestamp) {
		closed = cur
		cur = nil
	}
	if cur == nil {
		r.building[q.Symbol] = &domain.Bar{
			Symbol:     q.Symbol,
			Timestamp:  window,
			Open:       mid,
			High:       mid,
			Low:        mid,
			Close:      mid,
			TradeCount: 1,
		}
	} else {
		if mid > cur.High {
			cur.High = mid
		}
		if mid < cur.Low {
			cur.Low = mid
		}
		cur.Close = mid
		cur.TradeCount++
	}
	bindings := slices.Clone(r.bindings)
	r.mu.Unlock()

	// Strategy callbacks run without the lock held; they may reach the
	// broker through the sink.
	if closed != nil {
		r.dispatchBar(ctx, bindings, *closed)
	}
	r.dispatchQuote(ctx, bindings, q)
}

// flushStale closes and dispatches every bar whose window ended before now.
func (r *Runner) flushStale(ctx context.Context, now time.Time) {
	r.mu.Lock()
	var closed []domain.Bar
	for sym, cur := range r.building {
		if !now.Before(cur.Timestamp.Add(r.interval)) {
			closed = append(closed, *cur)
			delete(r.building, sym)
		}
	}
	bindings := slices.Clone(r.bindings)
	r.mu.Unlock()

	for _, bar := range closed {
		r.dispatchBar(ctx, bindings, bar)
	}
}

func (r *Runner) dispatchBar(ctx context.Context, bindings []binding, bar domain.Bar) {
	for _, bd := range bindings {
		if !bd.covers(bar.Symbol) {
			continue
		}
		sigs, err := bd.strat.OnBar(ctx, bar)
		if err != nil {
			r.log.Warn("Strategy bar handler failed.", "strategy_id", bd.strat.Name(), "symbol", bar.Symbol, "error", err)
			continue
		}
		r.forward(ctx, bd.strat.Name(), sigs)
	}
}

func (r *Runner) dispatchQuote(ctx context.Context, bindings []binding, q domain.Quote) {
	for _, bd := range bindings {
		if !bd.covers(q.Symbol) {
			continue
		}
		sigs, err := bd.strat.OnQuote(ctx, q)
		if err != nil {
			r.log.Warn("Strategy quote handler failed.", "strategy_id", bd.strat.Name(), "symbol", q.Symbol, "error", err)
			continue
		}
		r.forward(ctx, bd.strat.Name(), sigs)
	}
}

// forward hands signals to the sink, filling in provenance the strategy
// left blank. Hold signals carry no order side and are not forwarded.
func (r *Runner) forward(ctx context.Context, strategyID string, sigs []domain.Signal) {
	for _, sig := range sigs {
		if sig.Type == "" || sig.Type == domain.SignalTypeHold {
			continue
		}
		if sig.ID == "" {
			sig.ID = domain.NewID()
		}
		if sig.StrategyID == "" {
			sig.StrategyID = strategyID
		}
		if sig.CreatedAt.IsZero() {
			sig.CreatedAt = time.Now()
		}
		if _, err := r.sink.HandleSignal(ctx, &sig, 0); err != nil {
			r.log.Warn("Signal not executed.",
				"signal_id", sig.ID,
				"strategy_id", sig.StrategyID,
				"symbol", sig.Symbol,
				"type", string(sig.Type),
				"error", err)
		}
	}
}
