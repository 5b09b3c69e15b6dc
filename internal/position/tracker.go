package position

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"callisto/internal/broker"
	"callisto/internal/bus"
	"callisto/internal/domain"
)

// Tracker owns the account's portfolio snapshot. Refresh replaces the
// snapshot wholesale from the broker; nothing ever patches it in place.
// It also anchors the day's starting equity so risk checks can measure
// daily P&L.
type Tracker struct {
	broker  broker.Broker
	bus     *bus.Bus
	timeout time.Duration

	mu             sync.RWMutex
	portfolio      *domain.Portfolio
	dayMarker      string // YYYY-MM-DD of the current anchor
	startingEquity float64

	log *slog.Logger
}

// NewTracker creates a Tracker reading from b and publishing
// portfolio_refreshed events on eventBus.
func NewTracker(b broker.Broker, eventBus *bus.Bus, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tracker{
		broker:    b,
		bus:       eventBus,
		timeout:   timeout,
		portfolio: &domain.Portfolio{},
		log:       slog.Default().With("component", "position"),
	}
}

// Refresh replaces the snapshot with the broker's current account state
// and publishes a portfolio_refreshed event.
func (t *Tracker) Refresh(ctx context.Context) error {
	return t.refreshAsOf(ctx, time.Now())
}

func (t *Tracker) refreshAsOf(ctx context.Context, now time.Time) error {
	acctCtx, cancel := context.WithTimeout(ctx, t.timeout)
	acct, err := t.broker.GetAccount(acctCtx)
	cancel()
	if err != nil {
		return err
	}

	posCtx, cancel := context.WithTimeout(ctx, t.timeout)
	positions, err := t.broker.GetPositions(posCtx)
	cancel()
	if err != nil {
		return err
	}

	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	var unrealized float64
	for _, p := range positions {
		unrealized += p.UnrealizedPL
	}
	snapshot := &domain.Portfolio{
		TotalValue:   acct.Equity,
		Cash:         acct.Cash,
		Positions:    positions,
		UnrealizedPL: unrealized,
		UpdatedAt:    now,
	}

	t.mu.Lock()
	t.portfolio = snapshot
	today := now.Format("2006-01-02")
	if t.dayMarker != today {
		// First refresh of the trading day anchors the equity that daily
		// P&L is measured against.
		t.dayMarker = today
		t.startingEquity = acct.Equity
		t.log.Info("Daily equity anchored.", "day", today, "equity", acct.Equity)
	}
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(bus.Event{Kind: bus.PortfolioRefreshed, Portfolio: clonePortfolio(snapshot)})
	}
	return nil
}

// Portfolio returns a copy of the current snapshot.
func (t *Tracker) Portfolio() *domain.Portfolio {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return clonePortfolio(t.portfolio)
}

// DailyPnL returns today's equity change relative to the day's anchor.
func (t *Tracker) DailyPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.startingEquity == 0 {
		return 0
	}
	return t.portfolio.TotalValue - t.startingEquity
}

// StartingBalance returns the equity anchored at the first refresh of the
// current day.
func (t *Tracker) StartingBalance() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startingEquity
}

// Run refreshes immediately, then again on every interval tick and after
// every fill, until ctx is cancelled. Fill notifications arrive on a lossy
// tap; a dropped event only delays the refresh to the next tick.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	var fills <-chan bus.Event
	if t.bus != nil {
		subID, ch := t.bus.Subscribe(16, bus.OrderFilled, bus.OrderPartiallyFilled)
		defer t.bus.Unsubscribe(subID)
		fills = ch
	}

	if err := t.Refresh(ctx); err != nil {
		t.log.Error("Initial portfolio refresh failed.", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-fills:
			// Coalesce a burst of fills into one refresh.
			for drained := false; !drained; {
				select {
				case <-fills:
				default:
					drained = true
				}
			}
		}
		if err := t.Refresh(ctx); err != nil {
			t.log.Error("Portfolio refresh failed.", "error", err)
		}
	}
}

func clonePortfolio(p *domain.Portfolio) *domain.Portfolio {
	c := *p
	c.Positions = make([]domain.Position, len(p.Positions))
	copy(c.Positions, p.Positions)
	return &c
}
