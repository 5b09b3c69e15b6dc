// Package builtins provides the strategy implementations that ship with
// the platform and a factory building them from configuration.
package builtins

import (
	"context"
	"fmt"
	"sync"

	"callisto/internal/config"
	"callisto/internal/domain"
	"callisto/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// FromConfig builds the strategy instance one config entry describes.
func FromConfig(cfg config.StrategyConfig) (strategy.Strategy, error) {
	switch cfg.Type {
	case "sma_cross", "sma-cross":
		short := int(cfg.Params["short_period"])
		long := int(cfg.Params["long_period"])
		if short == 0 {
			short = 5
		}
		if long == 0 {
			long = 20
		}
		if short < 1 || long <= short {
			return nil, domain.Validationf("params",
				"sma cross needs 0 < short_period < long_period, got %d/%d", short, long)
		}
		return NewSMACross(cfg.ID, short, long), nil
	default:
		return nil, domain.Validationf("type", "unknown strategy type %q", cfg.Type)
	}
}

// SMACross is a moving average crossover strategy: a buy signal when the
// short-period SMA crosses above the long-period SMA, a sell signal when
// it crosses below. State is kept per symbol, so one instance can watch a
// whole universe.
type SMACross struct {
	id    string
	short int
	long  int

	mu     sync.Mutex
	closes map[string][]float64
}

// NewSMACross creates an SMA crossover strategy. An empty id defaults to
// "sma-cross".
func NewSMACross(id string, short, long int) *SMACross {
	if id == "" {
		id = "sma-cross"
	}
	return &SMACross{
		id:     id,
		short:  short,
		long:   long,
		closes: make(map[string][]float64),
	}
}

// Name returns the configured instance id.
func (s *SMACross) Name() string {
	return s.id
}

// Init is a no-op; price history fills as bars arrive.
func (s *SMACross) Init(_ context.Context) error {
	return nil
}

// OnBar appends the close and reports a signal when the SMAs crossed
// between the previous bar and this one. The first long+1 bars per symbol
// only warm the history up.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar) ([]domain.Signal, error) {
	if bar.Close <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	hist := append(s.closes[bar.Symbol], bar.Close)
	if len(hist) > s.long+1 {
		hist = hist[len(hist)-s.long-1:]
	}
	s.closes[bar.Symbol] = hist
	if len(hist) < s.long+1 {
		s.mu.Unlock()
		return nil, nil
	}
	shortNow := mean(hist[len(hist)-s.short:])
	longNow := mean(hist[len(hist)-s.long:])
	prev := hist[:len(hist)-1]
	shortPrev := mean(prev[len(prev)-s.short:])
	longPrev := mean(prev[len(prev)-s.long:])
	s.mu.Unlock()

	var sigType domain.SignalType
	var note string
	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		sigType = domain.SignalTypeBuy
		note = fmt.Sprintf("sma(%d) crossed above sma(%d)", s.short, s.long)
	case shortPrev >= longPrev && shortNow < longNow:
		sigType = domain.SignalTypeSell
		note = fmt.Sprintf("sma(%d) crossed below sma(%d)", s.short, s.long)
	default:
		return nil, nil
	}

	return []domain.Signal{{
		ID:         domain.NewID(),
		StrategyID: s.id,
		Symbol:     bar.Symbol,
		Type:       sigType,
		Strength:   1,
		Price:      bar.Close,
		Note:       note,
		CreatedAt:  bar.Timestamp,
	}}, nil
}

// OnQuote is a no-op; the crossover operates on bars.
func (s *SMACross) OnQuote(_ context.Context, _ domain.Quote) ([]domain.Signal, error) {
	return nil, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
