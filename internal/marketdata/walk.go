package marketdata

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"callisto/internal/domain"
)

// Walk is a seedable, deterministic random-walk price path used by paper
// mode and fill-simulation tests. The same seed always produces the same
// sequence of quotes.
type Walk struct {
	cache    *Cache
	interval time.Duration
	spread   float64 // fractional bid/ask spread around the mid
	vol      float64 // per-step volatility
	log      *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	floor  map[string]float64
}

// NewWalk creates a walk over the given symbols, all starting at
// startPrice. The rng is seeded so paths are reproducible.
func NewWalk(cache *Cache, symbols []string, startPrice float64, seed int64) *Walk {
	prices := make(map[string]float64, len(symbols))
	floor := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		prices[sym] = startPrice
		floor[sym] = startPrice * 0.01
	}
	return &Walk{
		cache:    cache,
		interval: 500 * time.Millisecond,
		spread:   0.0004,
		vol:      0.0012,
		log:      slog.Default().With("feed", "walk"),
		rng:      rand.New(rand.NewSource(seed)),
		prices:   prices,
		floor:    floor,
	}
}

// SetInterval overrides the step cadence. Must be called before Run.
func (w *Walk) SetInterval(d time.Duration) {
	w.interval = d
}

// Price returns the current mid price for symbol.
func (w *Walk) Price(symbol string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prices[symbol]
}

// Step advances every symbol one step and pushes the new quotes into the
// cache. Symbols step in sorted order so the rng consumption, and therefore
// the whole path, is deterministic.
func (w *Walk) Step() {
	w.mu.Lock()
	symbols := make([]string, 0, len(w.prices))
	for sym := range w.prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	quotes := make([]domain.Quote, 0, len(symbols))
	now := time.Now()
	for _, sym := range symbols {
		p := w.prices[sym] * (1 + w.vol*w.rng.NormFloat64())
		p = math.Max(p, w.floor[sym])
		w.prices[sym] = p
		half := p * w.spread / 2
		quotes = append(quotes, domain.Quote{
			Symbol:    sym,
			Bid:       p - half,
			Ask:       p + half,
			BidSize:   100,
			AskSize:   100,
			Timestamp: now,
		})
	}
	w.mu.Unlock()

	for _, q := range quotes {
		w.cache.Update(q)
	}
}

// Run steps the walk on the configured interval until ctx is cancelled.
func (w *Walk) Run(ctx context.Context) error {
	w.log.Info("starting walk feed", "symbols", len(w.prices), "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Step()
		}
	}
}
