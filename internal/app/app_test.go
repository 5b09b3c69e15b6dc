package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"callisto/internal/bus"
	"callisto/internal/config"
	"callisto/internal/util"
)

func paperConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Storage: config.Storage{
			DataDir:    filepath.Join(dir, "data"),
			SQLitePath: filepath.Join(dir, "data", "callisto.db"),
		},
		Trading: config.TradingConfig{
			Mode:                 "paper",
			Symbols:              []string{"AAPL"},
			ReconcileIntervalSec: 1,
			RefreshIntervalSec:   1,
			BarIntervalSec:       1,
			BrokerTimeoutSec:     2,
			RetryAttempts:        1,
			RateLimitPerMin:      600,
			DefaultSlices:        4,
			DefaultSizingPct:     5,
			WalkSeed:             7,
			WalkStartPrice:       100,
			SimCash:              50_000,
		},
		Risk: config.RiskConfig{Limits: []config.RiskLimitConfig{
			{ID: "qty-cap", Type: "max_order_quantity", Value: 100, Action: "block_order"},
		}},
		Strategies: []config.StrategyConfig{
			{
				ID:      "sma",
				Type:    "sma_cross",
				Symbols: []string{"AAPL"},
				Params:  map[string]float64{"short_period": 2, "long_period": 3},
				Enabled: true,
			},
			{ID: "off", Type: "sma_cross", Enabled: false},
		},
	}
}

func TestNewWiresPaperStack(t *testing.T) {
	a, err := New(paperConfig(t), util.NewLogger("error"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if got := a.Broker.Name(); got != "simulator" {
		t.Errorf("broker = %q, want simulator", got)
	}
	if got := a.Registry.List(); len(got) != 1 || got[0] != "sma" {
		t.Errorf("strategies = %v, want [sma] (disabled entries skipped)", got)
	}
	if _, err := a.Limits.Get("qty-cap"); err != nil {
		t.Errorf("seeded limit missing: %v", err)
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := paperConfig(t)
	cfg.Strategies = []config.StrategyConfig{{ID: "x", Type: "astrology", Enabled: true}}
	if _, err := New(cfg, util.NewLogger("error")); err == nil {
		t.Fatal("New accepted an unknown strategy type")
	}
}

func TestRunStartsLoopsAndStopsOnCancel(t *testing.T) {
	a, err := New(paperConfig(t), util.NewLogger("error"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	subID, quotes := a.Bus.Subscribe(1, bus.QuoteUpdated)
	defer a.Bus.Unsubscribe(subID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// A quote event proves the walk feed and the bus are live.
	select {
	case <-quotes:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no quote from the walk feed")
	}

	pf := a.Tracker.Portfolio()
	if pf == nil || pf.Cash != 50_000 {
		t.Errorf("portfolio after startup refresh = %+v, want cash 50000", pf)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
