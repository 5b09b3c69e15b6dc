package risk

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"callisto/internal/bus"
	"callisto/internal/domain"
)

// PositionCloser executes remediation that flattens positions. Satisfied
// by the broker implementations.
type PositionCloser interface {
	ClosePosition(ctx context.Context, symbol string, pct float64) error
	CloseAllPositions(ctx context.Context) error
}

// Monitor re-evaluates account-level limits and per-position symbol limits
// on every portfolio refresh. A breach publishes a risk_violation event and
// dispatches the limit's remediation; position-flattening remediation runs
// in the background and is never awaited by the evaluation that found the
// breach. Each breach fires remediation once and re-arms only after the
// condition clears.
type Monitor struct {
	limits  *LimitStore
	view    PortfolioView
	closer  PositionCloser
	bus     *bus.Bus
	timeout time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	inBreach map[string]bool
	peak     float64 // highest equity observed since startup

	wg sync.WaitGroup // in-flight remediation calls
}

// NewMonitor creates a monitor over the limit store, portfolio view, and
// remediation closer.
func NewMonitor(limits *LimitStore, view PortfolioView, closer PositionCloser) *Monitor {
	return &Monitor{
		limits:   limits,
		view:     view,
		closer:   closer,
		timeout:  10 * time.Second,
		log:      slog.Default().With("component", "risk"),
		inBreach: make(map[string]bool),
	}
}

// Bind attaches the monitor to the bus: violations and control events are
// published there, and every portfolio refresh triggers an evaluation.
func (m *Monitor) Bind(b *bus.Bus) {
	m.bus = b
	b.Handle(func(e bus.Event) {
		if e.Portfolio != nil {
			m.Evaluate(e.Portfolio)
		}
	}, bus.PortfolioRefreshed)
}

// Evaluate checks the snapshot against every enabled account and symbol
// limit. It performs no I/O itself; remediation runs in the background.
func (m *Monitor) Evaluate(pf *domain.Portfolio) {
	m.evaluateAt(pf, time.Now())
}

type breach struct {
	key    string
	limit  domain.RiskLimit
	check  domain.RiskCheckResult
	symbol string
}

func (m *Monitor) evaluateAt(pf *domain.Portfolio, now time.Time) {
	m.mu.Lock()
	if pf.TotalValue > m.peak {
		m.peak = pf.TotalValue
	}
	peak := m.peak
	m.mu.Unlock()

	var breaches []breach
	breaches = append(breaches, m.evalGlobal(pf, peak)...)
	breaches = append(breaches, m.evalSymbols(pf)...)

	// A breach fires once: it stays latched while the condition persists
	// and re-arms as soon as a pass observes it clear.
	m.mu.Lock()
	next := make(map[string]bool, len(breaches))
	var fresh []breach
	for _, br := range breaches {
		next[br.key] = true
		if !m.inBreach[br.key] {
			fresh = append(fresh, br)
		}
	}
	m.inBreach = next
	m.mu.Unlock()

	for _, br := range fresh {
		m.fire(br, now)
	}
}

func (m *Monitor) evalGlobal(pf *domain.Portfolio, peak float64) []breach {
	var out []breach
	for _, l := range m.limits.enabledByScope(domain.RiskScopeGlobal) {
		var (
			res      domain.RiskCheckResult
			violated bool
		)
		switch l.Type {
		case domain.RiskLimitMinAccountBalance:
			if pf.TotalValue < l.Value {
				res, violated = violation(l, pf.TotalValue,
					"account balance %.2f is below the %.2f minimum", pf.TotalValue, l.Value)
			}
		case domain.RiskLimitMaxDailyLoss:
			if pnl := m.view.DailyPnL(); pnl < -l.Value {
				res, violated = violation(l, pnl,
					"daily loss %.2f exceeds the %.2f limit", -pnl, l.Value)
			}
		case domain.RiskLimitMaxDailyLossPercent:
			starting := m.view.StartingBalance()
			if starting <= 0 {
				continue
			}
			if lossPct := m.view.DailyPnL() / starting * 100; lossPct < -l.Value {
				res, violated = violation(l, lossPct,
					"daily loss %.2f%% exceeds the %.2f%% limit", -lossPct, l.Value)
			}
		case domain.RiskLimitMaxDrawdown:
			if peak <= 0 {
				continue
			}
			if dd := (peak - pf.TotalValue) / peak * 100; dd > l.Value {
				res, violated = violation(l, dd,
					"drawdown %.2f%% from peak equity exceeds the %.2f%% limit", dd, l.Value)
			}
		case domain.RiskLimitMaxOpenPositions:
			if float64(len(pf.Positions)) > l.Value {
				res, violated = violation(l, float64(len(pf.Positions)),
					"holding %d positions, limit is %.0f", len(pf.Positions), l.Value)
			}
		case domain.RiskLimitMaxConcentration:
			if pf.TotalValue <= 0 {
				continue
			}
			sym, pct := largestExposure(pf)
			if pct > l.Value {
				res, violated = violation(l, pct,
					"%s is %.2f%% of the portfolio, concentration limit is %.2f%%", sym, pct, l.Value)
			}
		default:
			// Order-sized limits are pre-trade checks, not account state.
			continue
		}
		if violated {
			out = append(out, breach{key: l.ID, limit: l, check: res})
		}
	}
	return out
}

func (m *Monitor) evalSymbols(pf *domain.Portfolio) []breach {
	limits := m.limits.enabledByScope(domain.RiskScopeSymbol)
	if len(limits) == 0 {
		return nil
	}
	var out []breach
	for i := range pf.Positions {
		pos := &pf.Positions[i]
		for _, l := range limits {
			if !l.AppliesToSymbol(pos.Symbol) {
				continue
			}
			var (
				res      domain.RiskCheckResult
				violated bool
			)
			switch l.Type {
			case domain.RiskLimitMaxPositionSize:
				if shares := math.Abs(pos.Qty); shares > l.Value {
					res, violated = violation(l, shares,
						"%s position of %v shares exceeds the %v limit", pos.Symbol, shares, l.Value)
				}
			case domain.RiskLimitMaxPositionValue:
				if value := math.Abs(pos.MarketValue); value > l.Value {
					res, violated = violation(l, value,
						"%s position value %.2f exceeds the %.2f limit", pos.Symbol, value, l.Value)
				}
			case domain.RiskLimitMaxPositionPercent:
				if pf.TotalValue <= 0 {
					continue
				}
				if pct := math.Abs(pos.MarketValue) / pf.TotalValue * 100; pct > l.Value {
					res, violated = violation(l, pct,
						"%s is %.2f%% of the portfolio, limit is %.2f%%", pos.Symbol, pct, l.Value)
				}
			default:
				continue
			}
			if violated {
				out = append(out, breach{
					key:    l.ID + "/" + pos.Symbol,
					limit:  l,
					check:  res,
					symbol: pos.Symbol,
				})
			}
		}
	}
	return out
}

// largestExposure returns the symbol with the biggest absolute market
// value and its share of the portfolio in percent.
func largestExposure(pf *domain.Portfolio) (string, float64) {
	var sym string
	var top float64
	for i := range pf.Positions {
		if v := math.Abs(pf.Positions[i].MarketValue); v > top {
			top = v
			sym = pf.Positions[i].Symbol
		}
	}
	return sym, top / pf.TotalValue * 100
}

func (m *Monitor) fire(br breach, now time.Time) {
	m.limits.markTriggered(br.limit.ID, now)
	br.limit.TriggerCount++
	br.limit.LastTriggeredAt = &now

	m.log.Warn("Risk limit breached.",
		"limit_id", br.limit.ID,
		"limit_type", br.limit.Type,
		"action", br.limit.Action,
		"message", br.check.Message)
	m.publish(bus.Event{
		Kind:    bus.RiskViolation,
		At:      now,
		Limit:   br.limit.Clone(),
		Check:   &br.check,
		Message: br.check.Message,
	})

	switch br.limit.Action {
	case domain.RiskActionClosePosition:
		if br.symbol == "" {
			m.log.Warn("Close-position remediation on a limit with no symbol, skipping.",
				"limit_id", br.limit.ID)
			return
		}
		m.closeAsync(br.limit.ID, br.symbol)
	case domain.RiskActionCloseAllPositions:
		m.closeAsync(br.limit.ID, "")
	case domain.RiskActionPauseStrategy:
		if len(br.limit.Strategies) == 0 {
			m.publish(bus.Event{Kind: bus.AllStrategiesPaused, At: now, Message: br.check.Message})
			return
		}
		for _, id := range br.limit.Strategies {
			m.publish(bus.Event{Kind: bus.StrategyPaused, At: now, StrategyID: id, Message: br.check.Message})
		}
	case domain.RiskActionPauseAll:
		m.publish(bus.Event{Kind: bus.AllStrategiesPaused, At: now, Message: br.check.Message})
	}
	// notify, block_order, and reduce_size carry no monitor-side
	// remediation beyond the published violation.
}

// closeAsync flattens one symbol, or the whole book when symbol is empty.
// The call runs in the background so the refresh handler that found the
// breach never blocks on broker I/O.
func (m *Monitor) closeAsync(limitID, symbol string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		var err error
		if symbol == "" {
			err = m.closer.CloseAllPositions(ctx)
		} else {
			err = m.closer.ClosePosition(ctx, symbol, 100)
		}
		if err != nil {
			m.log.Error("Risk remediation close failed.",
				"limit_id", limitID, "symbol", symbol, "error", err)
			return
		}
		m.log.Info("Risk remediation close completed.",
			"limit_id", limitID, "symbol", symbol)
	}()
}

func (m *Monitor) publish(e bus.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
