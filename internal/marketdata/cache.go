// Package marketdata supplies reference prices to the execution engine and
// the simulated venue. Quotes arrive push-style from a feed (the Alpaca
// stream in live mode, a deterministic random walk in paper mode), land in
// the Cache, and fan out on the event bus.
package marketdata

import (
	"context"
	"sync"
	"time"

	"callisto/internal/bus"
	"callisto/internal/domain"
)

// PriceSource yields the current reference price for a symbol. The
// execution engine evaluates due slices against it and the simulated venue
// prices fills with it.
type PriceSource interface {
	ReferencePrice(ctx context.Context, symbol string) (float64, error)
}

// Cache holds the latest quote per symbol.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
	bus    *bus.Bus
}

var _ PriceSource = (*Cache)(nil)

// NewCache creates an empty quote cache. Events for updated quotes are
// published on b when it is non-nil.
func NewCache(b *bus.Bus) *Cache {
	return &Cache{
		quotes: make(map[string]domain.Quote),
		bus:    b,
	}
}

// Update stores the quote and publishes a quote_updated event.
func (c *Cache) Update(q domain.Quote) {
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.quotes[q.Symbol] = q
	c.mu.Unlock()

	if c.bus != nil {
		quote := q
		c.bus.Publish(bus.Event{Kind: bus.QuoteUpdated, Quote: &quote})
	}
}

// Quote returns the latest quote for symbol.
func (c *Cache) Quote(symbol string) (domain.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Symbols returns every symbol with a cached quote.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for sym := range c.quotes {
		out = append(out, sym)
	}
	return out
}

// ReferencePrice returns the bid/ask midpoint of the latest quote. A symbol
// with no quote yet reports a NotFoundError so callers can distinguish "no
// pricing input" from a zero price.
func (c *Cache) ReferencePrice(_ context.Context, symbol string) (float64, error) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return 0, &domain.NotFoundError{Kind: "quote", ID: symbol}
	}
	return q.Mid(), nil
}
