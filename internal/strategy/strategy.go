// Package strategy runs trading strategies over market data. Strategies
// consume the quote stream and synthetic bars aggregated from it and emit
// signals; the Runner fans market data out to the registered strategies
// and forwards every signal to the execution orchestrator, which owns
// sizing, risk checks, and pause decisions.
package strategy

import (
	"context"
	"slices"

	"callisto/internal/domain"
)

// Strategy is the interface all trading strategies implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy instance.
	// Signals it emits carry the name as their strategy id.
	Name() string

	// Init performs any one-time setup required before the strategy begins
	// processing market data.
	Init(ctx context.Context) error

	// OnBar is called when a new OHLCV bar is available. It returns zero or
	// more trading signals.
	OnBar(ctx context.Context, bar domain.Bar) ([]domain.Signal, error)

	// OnQuote is called on every quote update. Bar-driven strategies
	// return nil here.
	OnQuote(ctx context.Context, quote domain.Quote) ([]domain.Signal, error)
}

// Registry holds a named collection of strategies for lookup and
// enumeration. Register at startup; reads are lock-free afterwards.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates
// whether the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
