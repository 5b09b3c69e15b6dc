package oms

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"callisto/internal/broker"
	"callisto/internal/domain"
	"callisto/internal/util"
)

// Reconciler periodically aligns the order book with the venue: it absorbs
// state changes for orders the engine submitted, discovers orders placed
// outside the engine, and then runs the registered hooks (slice release
// lives there). One failing order never aborts the pass.
type Reconciler struct {
	mgr      *Manager
	broker   broker.Broker
	interval time.Duration
	timeout  time.Duration
	limiter  *util.RateLimiter
	hooks    []func(context.Context)
	running  atomic.Bool
	log      *slog.Logger
}

// NewReconciler creates a Reconciler polling b every interval. Individual
// order lookups are paced by ratePerMin when positive.
func NewReconciler(mgr *Manager, b broker.Broker, interval, timeout time.Duration, ratePerMin int) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &Reconciler{
		mgr:      mgr,
		broker:   b,
		interval: interval,
		timeout:  timeout,
		log:      slog.Default().With("component", "reconciler"),
	}
	if ratePerMin > 0 {
		r.limiter = util.NewRateLimiter(ratePerMin)
	}
	return r
}

// AddHook registers fn to run at the end of every reconcile pass. Hooks
// run in registration order on the reconciler goroutine.
func (r *Reconciler) AddHook(fn func(context.Context)) {
	r.hooks = append(r.hooks, fn)
}

// Run reconciles on every interval tick until ctx is cancelled. A pass
// still in flight when the next tick fires is not overlapped; the tick is
// skipped.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.running.CompareAndSwap(false, true) {
				r.log.Warn("Reconcile pass still running, skipping tick.")
				continue
			}
			r.ReconcileOnce(ctx)
			r.running.Store(false)
		}
	}
}

// ReconcileOnce runs a single reconcile pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	start := time.Now()

	venueSeen := r.absorbVenueOrders(ctx)
	polled := r.pollMissingOrders(ctx, venueSeen)

	for _, hook := range r.hooks {
		hook(ctx)
	}

	r.log.Debug("Reconcile pass finished.",
		"venue_orders", len(venueSeen),
		"polled", polled,
		"elapsed", time.Since(start))
}

// absorbVenueOrders lists the venue's active orders and folds each into
// the book. Orders the engine has never seen are added as external.
// Returns the set of venue IDs observed.
func (r *Reconciler) absorbVenueOrders(ctx context.Context) map[string]bool {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	venueOrders, err := r.broker.GetOrders(callCtx, domain.OrderFilter{ActiveOnly: true})
	cancel()
	if err != nil {
		r.log.Error("Listing venue orders failed.", "error", err)
		return nil
	}

	seen := make(map[string]bool, len(venueOrders))
	for i := range venueOrders {
		v := &venueOrders[i]
		seen[v.ID] = true
		if err := r.absorbOne(v); err != nil {
			r.log.Error("Absorbing venue order failed.",
				"venue_order_id", v.ID, "symbol", v.Symbol, "error", err)
		}
	}
	return seen
}

// absorbOne folds one venue order into the book.
func (r *Reconciler) absorbOne(v *domain.Order) error {
	rec, err := r.mgr.OrderByVenueID(v.ID)
	if domain.IsNotFound(err) {
		// Placed outside the engine; adopt the venue ID as the engine ID.
		external := v.Clone()
		external.VenueOrderID = v.ID
		return r.mgr.AddOrUpdateOrder(external)
	}
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}
	rec.AbsorbVenueState(v)
	err = r.mgr.AddOrUpdateOrder(rec)
	if domain.IsState(err) {
		// Raced a terminal transition; the book already has the end state.
		return nil
	}
	return err
}

// pollMissingOrders fetches every submitted, non-terminal order the venue
// listing did not include. Orders disappear from the active listing the
// moment they fill, cancel, or expire, so this is where those transitions
// are caught.
func (r *Reconciler) pollMissingOrders(ctx context.Context, venueSeen map[string]bool) int {
	polled := 0
	for _, rec := range r.mgr.ActiveOrders() {
		if rec.VenueOrderID == "" || venueSeen[rec.VenueOrderID] {
			continue
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return polled
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		v, err := r.broker.GetOrder(callCtx, rec.VenueOrderID)
		cancel()
		polled++
		if err != nil {
			r.log.Error("Polling order failed.",
				"order_id", rec.ID, "venue_order_id", rec.VenueOrderID, "error", err)
			continue
		}

		fresh, err := r.mgr.Order(rec.ID)
		if err != nil {
			continue
		}
		fresh.AbsorbVenueState(v)
		if err := r.mgr.AddOrUpdateOrder(fresh); err != nil && !domain.IsState(err) {
			r.log.Error("Updating polled order failed.", "order_id", rec.ID, "error", err)
		}
	}
	return polled
}
