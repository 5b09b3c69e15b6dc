// Package app assembles the trading engine from configuration. The trader
// and server binaries share the same wiring; the server adds an HTTP
// listener on top.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"callisto/internal/broker"
	"callisto/internal/bus"
	"callisto/internal/config"
	"callisto/internal/domain"
	"callisto/internal/exec"
	"callisto/internal/marketdata"
	"callisto/internal/oms"
	"callisto/internal/orchestrator"
	"callisto/internal/position"
	"callisto/internal/risk"
	"callisto/internal/store"
	"callisto/internal/strategy"
	"callisto/internal/strategy/builtins"
)

// quoteFeed pushes quotes into the cache until ctx is cancelled. Satisfied
// by marketdata.AlpacaFeed and marketdata.Walk.
type quoteFeed interface {
	Run(ctx context.Context) error
}

// App holds every engine component. Exported fields are the surface the
// HTTP API is built from.
type App struct {
	Bus      *bus.Bus
	Manager  *oms.Manager
	Broker   broker.Broker
	Cache    *marketdata.Cache
	Exec     *exec.Engine
	Tracker  *position.Tracker
	Limits   *risk.LimitStore
	Gate     *risk.Gate
	Registry *strategy.Registry
	Orch     *orchestrator.Orchestrator

	cfg        *config.Config
	log        *slog.Logger
	db         *store.SQLiteStore
	files      *store.ParquetStore
	monitor    *risk.Monitor
	reconciler *oms.Reconciler
	runner     *strategy.Runner
	archiver   *store.Archiver
	feed       quoteFeed
}

// New assembles the engine from cfg. Nothing runs until Run is called.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	a := &App{
		cfg:   cfg,
		log:   logger.With("component", "app"),
		db:    db,
		files: store.NewParquetStore(cfg.Storage.DataDir),
		Bus:   bus.New(),
	}

	a.Manager = oms.NewManager(a.Bus, db)
	a.Manager.SetReportJournal(db)
	a.Cache = marketdata.NewCache(a.Bus)

	if cfg.Trading.Mode == "live" {
		a.Broker = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL, cfg.Trading.RetryAttempts)
		a.feed = marketdata.NewAlpacaFeed(a.Cache, cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.StreamURL, cfg.Trading.Symbols)
	} else {
		a.Broker = broker.NewSimulatorBroker(a.Cache, cfg.Trading.SimCash)
		a.feed = marketdata.NewWalk(a.Cache, cfg.Trading.Symbols,
			cfg.Trading.WalkStartPrice, cfg.Trading.WalkSeed)
	}

	a.Exec = exec.NewEngine(a.Manager, a.Broker, db, cfg.Trading.BrokerTimeout())
	a.Exec.SetDefaultSlices(cfg.Trading.DefaultSlices)

	a.reconciler = oms.NewReconciler(a.Manager, a.Broker,
		cfg.Trading.ReconcileInterval(), cfg.Trading.BrokerTimeout(), cfg.Trading.RateLimitPerMin)
	a.reconciler.AddHook(a.Exec.ReleaseDueSlices)

	a.Tracker = position.NewTracker(a.Broker, a.Bus, cfg.Trading.BrokerTimeout())

	a.Limits = risk.NewLimitStore()
	seed := make([]*domain.RiskLimit, 0, len(cfg.Risk.Limits))
	for _, l := range cfg.Risk.Limits {
		seed = append(seed, l.ToDomain())
	}
	if err := a.Limits.Seed(seed); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding risk limits: %w", err)
	}
	a.Gate = risk.NewGate(a.Limits, a.Tracker)
	a.Gate.Bind(a.Bus)
	a.monitor = risk.NewMonitor(a.Limits, a.Tracker, a.Broker)
	a.monitor.Bind(a.Bus)

	a.Orch = orchestrator.New(a.Exec, a.Gate, a.Cache, a.Tracker, cfg.Trading.DefaultSizingPct)
	a.Orch.Bind(a.Bus)

	a.Registry = strategy.NewRegistry()
	a.runner = strategy.NewRunner(a.Orch, cfg.Trading.BarInterval())
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		s, err := builtins.FromConfig(sc)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("strategy %s: %w", sc.ID, err)
		}
		a.Registry.Register(s)
		a.runner.Add(s, sc.Symbols...)
	}

	a.archiver = store.NewArchiver(db, a.files, 0)
	return a, nil
}

// Run restores journaled state, verifies the broker connection, starts
// every background loop, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Manager.Restore(ctx); err != nil {
		return fmt.Errorf("restoring order book: %w", err)
	}
	if err := a.Exec.Restore(ctx); err != nil {
		return fmt.Errorf("restoring algo orders: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, a.cfg.Trading.BrokerTimeout())
	acct, err := a.Broker.GetAccount(checkCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("verifying broker account: %w", err)
	}
	a.log.Info("Broker account verified.",
		"broker", a.Broker.Name(), "equity", acct.Equity, "cash", acct.Cash)

	// Seed the portfolio before the loops start so the first gate check
	// does not run against an empty snapshot.
	if err := a.Tracker.Refresh(ctx); err != nil {
		a.log.Warn("Initial portfolio refresh failed.", "error", err)
	}

	go a.Exec.Run(ctx, a.Bus)
	go a.reconciler.Run(ctx)
	go a.Tracker.Run(ctx, a.cfg.Trading.RefreshInterval())
	go a.runner.Run(ctx, a.Bus)
	go a.archiver.Run(ctx)
	go func() {
		if err := a.feed.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("Market data feed stopped.", "error", err)
		}
	}()

	a.log.Info("Engine running.",
		"mode", a.cfg.Trading.Mode,
		"broker", a.Broker.Name(),
		"strategies", a.Registry.List(),
		"symbols", a.cfg.Trading.Symbols)

	<-ctx.Done()
	return nil
}

// Close releases the order journal. Call after Run returns.
func (a *App) Close() error {
	return a.db.Close()
}
