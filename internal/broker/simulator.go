package broker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"callisto/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// MarketView is the simulated venue's window onto the market.
// *marketdata.Cache satisfies it.
type MarketView interface {
	ReferencePrice(ctx context.Context, symbol string) (float64, error)
	Quote(symbol string) (domain.Quote, bool)
}

// SimulatorBroker implements the Broker interface for paper trading. It
// tracks orders, positions, and cash in memory and prices fills off a
// MarketView, so a seeded price walk produces a fully reproducible run.
//
// Fill policy: market orders fill at the reference price, limit orders fill
// when marketable, stop orders trigger into market fills, and stop-limit
// orders convert to resting limits on trigger. Orders that cannot fill rest
// open and are re-evaluated on every Tick.
type SimulatorBroker struct {
	mu        sync.Mutex
	market    MarketView
	orders    map[string]*domain.Order
	orderSeq  []string
	positions map[string]*domain.Position
	cash      float64
	accountID string
	fillRatio float64
	log       *slog.Logger
}

// NewSimulatorBroker creates a SimulatorBroker holding cash and no
// positions.
func NewSimulatorBroker(market MarketView, cash float64) *SimulatorBroker {
	return &SimulatorBroker{
		market:    market,
		orders:    make(map[string]*domain.Order),
		positions: make(map[string]*domain.Position),
		cash:      cash,
		accountID: "sim-" + domain.NewID()[:8],
		fillRatio: 1,
		log:       slog.Default().With("broker", "simulator"),
	}
}

// SetFillRatio caps how much of an order's remaining quantity fills per
// evaluation. A ratio in (0,1) forces partial fills; anything else restores
// full fills.
func (b *SimulatorBroker) SetFillRatio(r float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r <= 0 || r > 1 {
		r = 1
	}
	b.fillRatio = r
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SubmitOrder accepts the order and immediately evaluates it against the
// current reference price.
func (b *SimulatorBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if req.Symbol == "" {
		return nil, domain.Validationf("symbol", "must not be empty")
	}
	if req.Qty <= 0 {
		return nil, domain.Validationf("qty", "must be positive, got %v", req.Qty)
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return nil, domain.Validationf("side", "unknown side %q", req.Side)
	}

	now := time.Now()
	order := &domain.Order{
		ID:            domain.NewID(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		TimeInForce:   req.TimeInForce,
		Status:        domain.OrderStatusOpen,
		StrategyID:    req.StrategyID,
		SignalID:      req.SignalID,
		Algo:          req.Algo,
		CreatedAt:     now,
		UpdatedAt:     now,
		SubmittedAt:   &now,
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = domain.NewID()
	}
	if order.TimeInForce == "" {
		order.TimeInForce = domain.TimeInForceDay
	}

	ref, err := b.market.ReferencePrice(ctx, req.Symbol)
	if err != nil {
		ref = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[order.ID] = order
	b.orderSeq = append(b.orderSeq, order.ID)
	b.evaluate(order, ref, now)
	return order.Clone(), nil
}

// CancelOrder cancels a non-terminal order.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "order", ID: orderID}
	}
	if order.Status.Terminal() {
		return nil, &domain.StateError{OrderID: orderID, Status: order.Status, Op: "cancel"}
	}
	now := time.Now()
	order.Status = domain.OrderStatusCanceled
	order.CanceledAt = &now
	order.UpdatedAt = now
	return order.Clone(), nil
}

// GetOrder returns the current state of one order.
func (b *SimulatorBroker) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "order", ID: orderID}
	}
	return order.Clone(), nil
}

// GetOrders returns all orders matching the filter in submission order.
func (b *SimulatorBroker) GetOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	orders := make([]domain.Order, 0, len(b.orderSeq))
	for _, id := range b.orderSeq {
		o := b.orders[id]
		if filter.Match(o) {
			orders = append(orders, *o.Clone())
		}
	}
	return orders, nil
}

// GetAccount computes the simulated account snapshot: cash plus the market
// value of every position.
func (b *SimulatorBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for _, p := range b.positions {
		equity += p.Qty * b.markPrice(ctx, p)
	}
	return &domain.AccountInfo{
		ID:          b.accountID,
		Equity:      equity,
		Cash:        b.cash,
		BuyingPower: b.cash,
		Currency:    "USD",
	}, nil
}

// GetPositions returns every open position marked to the current reference
// price, sorted by symbol.
func (b *SimulatorBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		price := b.markPrice(ctx, p)
		snap := *p
		snap.CurrentPrice = price
		snap.MarketValue = p.Qty * price
		snap.UnrealizedPL = (price - p.AvgEntryPrice) * p.Qty
		if p.CostBasis != 0 {
			snap.UnrealizedPLPct = snap.UnrealizedPL / p.CostBasis * 100
		}
		snap.UpdatedAt = now
		positions = append(positions, snap)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetQuote returns the latest quote from the market view.
func (b *SimulatorBroker) GetQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	q, ok := b.market.Quote(symbol)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "quote", ID: symbol}
	}
	return &q, nil
}

// ClosePosition submits a market order for pct percent of the position held
// in symbol.
func (b *SimulatorBroker) ClosePosition(ctx context.Context, symbol string, pct float64) error {
	if pct <= 0 || pct > 100 {
		return domain.Validationf("pct", "must be in (0,100], got %v", pct)
	}

	b.mu.Lock()
	pos, ok := b.positions[symbol]
	if !ok || pos.Qty == 0 {
		b.mu.Unlock()
		return &domain.NotFoundError{Kind: "position", ID: symbol}
	}
	qty := pos.Qty * pct / 100
	b.mu.Unlock()

	side := domain.OrderSideSell
	if qty < 0 {
		side = domain.OrderSideBuy
		qty = -qty
	}
	_, err := b.SubmitOrder(ctx, domain.OrderRequest{
		Symbol: symbol,
		Side:   side,
		Type:   domain.OrderTypeMarket,
		Qty:    qty,
	})
	return err
}

// CloseAllPositions cancels every resting order, then liquidates every open
// position with market orders.
func (b *SimulatorBroker) CloseAllPositions(ctx context.Context) error {
	b.mu.Lock()
	for _, id := range b.orderSeq {
		o := b.orders[id]
		if !o.Status.Terminal() {
			now := time.Now()
			o.Status = domain.OrderStatusCanceled
			o.CanceledAt = &now
			o.UpdatedAt = now
		}
	}
	symbols := make([]string, 0, len(b.positions))
	for sym, p := range b.positions {
		if p.Qty != 0 {
			symbols = append(symbols, sym)
		}
	}
	b.mu.Unlock()

	sort.Strings(symbols)
	for _, sym := range symbols {
		if err := b.ClosePosition(ctx, sym, 100); err != nil {
			return err
		}
	}
	return nil
}

// Tick re-evaluates every resting order against the current reference
// price. Call it after each price step to let stops trigger and limits
// cross.
func (b *SimulatorBroker) Tick(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for _, id := range b.orderSeq {
		order := b.orders[id]
		if order.Status.Terminal() {
			continue
		}
		ref, err := b.market.ReferencePrice(ctx, order.Symbol)
		if err != nil {
			continue
		}
		b.evaluate(order, ref, now)
	}
}

// Cash returns the current cash balance.
func (b *SimulatorBroker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// evaluate applies the shared fill policy to one order. Caller holds b.mu.
func (b *SimulatorBroker) evaluate(order *domain.Order, ref float64, now time.Time) {
	decision := domain.EvaluateFill(order, ref)
	if decision.ConvertTo != "" {
		order.Type = decision.ConvertTo
		order.UpdatedAt = now
	}
	if !decision.Fill {
		if order.Status != decision.Status {
			order.Status = decision.Status
			order.UpdatedAt = now
		}
		return
	}

	fillQty := order.Remaining() * b.fillRatio
	if fillQty <= 0 {
		return
	}
	b.applyFill(order, fillQty, decision.Price, now)
}

// applyFill books a fill against the order, the position, and cash. Caller
// holds b.mu.
func (b *SimulatorBroker) applyFill(order *domain.Order, qty, price float64, now time.Time) {
	prev := order.FilledQty
	order.FilledQty += qty
	if order.FilledQty > 0 {
		order.FilledAvgPrice = (order.FilledAvgPrice*prev + price*qty) / order.FilledQty
	}
	order.UpdatedAt = now
	if domain.EqualQty(order.FilledQty, order.Qty) {
		order.FilledQty = order.Qty
		order.Status = domain.OrderStatusFilled
		order.FilledAt = &now
	} else {
		order.Status = domain.OrderStatusPartiallyFilled
	}

	signed := qty
	if order.Side == domain.OrderSideSell {
		signed = -qty
	}
	b.cash -= signed * price

	pos, ok := b.positions[order.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: order.Symbol}
		b.positions[order.Symbol] = pos
	}
	newQty := pos.Qty + signed
	switch {
	case pos.Qty == 0 || (pos.Qty > 0) == (signed > 0):
		// Opening or adding: average the entry price.
		total := pos.AvgEntryPrice*pos.Qty + price*signed
		pos.Qty = newQty
		if newQty != 0 {
			pos.AvgEntryPrice = total / newQty
		}
	case (newQty > 0) != (pos.Qty > 0) && newQty != 0:
		// Crossed through flat: the residual opens at the fill price.
		pos.Qty = newQty
		pos.AvgEntryPrice = price
	default:
		// Reducing toward flat: entry price unchanged.
		pos.Qty = newQty
	}
	pos.CostBasis = pos.AvgEntryPrice * pos.Qty
	pos.CurrentPrice = price
	pos.UpdatedAt = now
	switch {
	case pos.Qty > 0:
		pos.Side = domain.PositionSideLong
	case pos.Qty < 0:
		pos.Side = domain.PositionSideShort
	default:
		pos.Side = domain.PositionSideFlat
		delete(b.positions, order.Symbol)
	}

	b.log.Debug("Simulated fill.",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"qty", qty,
		"price", price,
		"status", order.Status)
}

// markPrice returns the best available price for a position. Caller holds
// b.mu.
func (b *SimulatorBroker) markPrice(ctx context.Context, p *domain.Position) float64 {
	if ref, err := b.market.ReferencePrice(ctx, p.Symbol); err == nil && ref > 0 {
		return ref
	}
	if p.CurrentPrice > 0 {
		return p.CurrentPrice
	}
	return p.AvgEntryPrice
}
