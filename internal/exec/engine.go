// Package exec creates, cancels, and slices orders. The Engine validates
// requests, records them in the order book, and submits them to the
// broker; the algorithmic side splits a parent order into TWAP, VWAP, or
// iceberg child slices and releases them over time.
package exec

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callisto/internal/broker"
	"callisto/internal/domain"
	"callisto/internal/oms"
	"callisto/internal/store"
)

const defaultSlices = 10

// Engine turns order requests into live orders. Every mutation flows
// through the order manager so the book and the bus stay consistent.
type Engine struct {
	mgr        *oms.Manager
	broker     broker.Broker
	algos      store.AlgoStore // optional persistence for parent orders
	timeout    time.Duration
	sliceCount int
	log        *slog.Logger

	mu       sync.Mutex
	parents  map[string]*domain.AlgorithmicOrder
	sequence []string
}

// NewEngine creates an execution engine. timeout bounds each broker call;
// zero means 10s. algoStore may be nil when parent orders need no
// persistence.
func NewEngine(mgr *oms.Manager, b broker.Broker, algoStore store.AlgoStore, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		mgr:        mgr,
		broker:     b,
		algos:      algoStore,
		timeout:    timeout,
		sliceCount: defaultSlices,
		log:        slog.Default().With("component", "exec"),
		parents:    make(map[string]*domain.AlgorithmicOrder),
	}
}

// SetDefaultSlices overrides the slice count used when algo params leave
// it unset.
func (e *Engine) SetDefaultSlices(n int) {
	if n > 0 {
		e.sliceCount = n
	}
}

// CreateOrder validates the request, records the order, and submits it to
// the broker. The returned order carries the venue's response state; a
// submission failure marks the order rejected and returns the error.
func (e *Engine) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	order := newOrder(&req)
	if err := e.mgr.AddOrUpdateOrder(order); err != nil {
		return nil, err
	}
	return e.submit(ctx, order)
}

// submit sends the recorded order to the broker and absorbs the venue
// response. The order's own ID travels as the client order id so a
// retried submission cannot double-book at the venue.
func (e *Engine) submit(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	req := requestFromOrder(order)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	venue, err := e.broker.SubmitOrder(callCtx, req)
	now := time.Now()
	if err != nil {
		order.Status = domain.OrderStatusRejected
		order.RejectedAt = &now
		order.UpdatedAt = now
		if uerr := e.mgr.AddOrUpdateOrder(order); uerr != nil {
			e.log.Error("Recording rejection failed.", "order_id", order.ID, "error", uerr)
		}
		return nil, err
	}

	order.AbsorbVenueState(venue)
	if order.SubmittedAt == nil {
		order.SubmittedAt = &now
	}
	if err := e.mgr.AddOrUpdateOrder(order); err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// CancelOrder cancels one order. Orders that never reached the venue are
// cancelled locally; cancelling a terminal order is a StateError.
func (e *Engine) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	rec, err := e.mgr.Order(id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, &domain.StateError{OrderID: id, Status: rec.Status, Op: "cancel"}
	}
	if rec.VenueOrderID == "" {
		now := time.Now()
		rec.Status = domain.OrderStatusCanceled
		rec.CanceledAt = &now
		rec.UpdatedAt = now
		if err := e.mgr.AddOrUpdateOrder(rec); err != nil {
			return nil, err
		}
		return rec, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	venue, err := e.broker.CancelOrder(callCtx, rec.VenueOrderID)
	if err != nil {
		return nil, err
	}
	rec.AbsorbVenueState(venue)
	if err := e.mgr.AddOrUpdateOrder(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CancelAllOrders cancels every active order matching pred (nil matches
// all). Each cancellation is attempted independently; failures are logged
// and skipped. Only the orders actually cancelled are returned.
func (e *Engine) CancelAllOrders(ctx context.Context, pred func(*domain.Order) bool) []domain.Order {
	var canceled []domain.Order
	for _, o := range e.mgr.ActiveOrders() {
		if ctx.Err() != nil {
			break
		}
		if pred != nil && !pred(&o) {
			continue
		}
		got, err := e.CancelOrder(ctx, o.ID)
		if err != nil {
			e.log.Warn("Cancel failed during bulk cancel.", "order_id", o.ID, "error", err)
			continue
		}
		canceled = append(canceled, *got)
	}
	return canceled
}

// newOrder builds the engine's record for a request. The record starts in
// status created; submission and venue state come later.
func newOrder(req *domain.OrderRequest) *domain.Order {
	now := time.Now()
	order := &domain.Order{
		ID:            domain.NewID(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		TimeInForce:   req.TimeInForce,
		Status:        domain.OrderStatusCreated,
		StrategyID:    req.StrategyID,
		SignalID:      req.SignalID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.LimitPrice != nil {
		v := *req.LimitPrice
		order.LimitPrice = &v
	}
	if req.StopPrice != nil {
		v := *req.StopPrice
		order.StopPrice = &v
	}
	if req.Algo != nil {
		tag := *req.Algo
		order.Algo = &tag
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = order.ID
	}
	if order.TimeInForce == "" {
		order.TimeInForce = domain.TimeInForceDay
	}
	return order
}

// requestFromOrder rebuilds the broker request for a recorded order.
func requestFromOrder(o *domain.Order) domain.OrderRequest {
	req := domain.OrderRequest{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Qty:           o.Remaining(),
		TimeInForce:   o.TimeInForce,
		ClientOrderID: o.ClientOrderID,
		StrategyID:    o.StrategyID,
		SignalID:      o.SignalID,
	}
	if o.LimitPrice != nil {
		v := *o.LimitPrice
		req.LimitPrice = &v
	}
	if o.StopPrice != nil {
		v := *o.StopPrice
		req.StopPrice = &v
	}
	if o.Algo != nil {
		tag := *o.Algo
		req.Algo = &tag
	}
	return req
}

func validateRequest(req *domain.OrderRequest) error {
	if req.Symbol == "" {
		return domain.Validationf("symbol", "symbol is required")
	}
	if req.Qty <= 0 {
		return domain.Validationf("qty", "quantity must be positive, got %v", req.Qty)
	}
	switch req.Side {
	case domain.OrderSideBuy, domain.OrderSideSell:
	default:
		return domain.Validationf("side", "unknown side %q", req.Side)
	}
	switch req.Type {
	case domain.OrderTypeMarket:
	case domain.OrderTypeLimit:
		if req.LimitPrice == nil || *req.LimitPrice <= 0 {
			return domain.Validationf("limit_price", "limit order requires a positive limit price")
		}
	case domain.OrderTypeStop:
		if req.StopPrice == nil || *req.StopPrice <= 0 {
			return domain.Validationf("stop_price", "stop order requires a positive stop price")
		}
	case domain.OrderTypeStopLimit:
		if req.StopPrice == nil || *req.StopPrice <= 0 {
			return domain.Validationf("stop_price", "stop limit order requires a positive stop price")
		}
		if req.LimitPrice == nil || *req.LimitPrice <= 0 {
			return domain.Validationf("limit_price", "stop limit order requires a positive limit price")
		}
	case domain.OrderTypeTrailingStop:
		if req.StopPrice == nil || *req.StopPrice <= 0 {
			return domain.Validationf("stop_price", "trailing stop order requires a positive stop price")
		}
	default:
		return domain.Validationf("type", "unknown order type %q", req.Type)
	}
	return nil
}
