package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	md "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"callisto/internal/domain"
	"callisto/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage
// API. Read calls are retried with backoff; order placement is never
// retried automatically to avoid duplicate submissions.
type AlpacaBroker struct {
	trading       *alpaca.Client
	data          *md.Client
	retryAttempts int
	retryDelay    time.Duration
	log           *slog.Logger
}

// NewAlpacaBroker creates an AlpacaBroker configured with the given
// credentials and API endpoints. Empty URLs fall back to the SDK defaults.
func NewAlpacaBroker(apiKey, apiSecret, baseURL, dataURL string, retryAttempts int) *AlpacaBroker {
	tradingOpts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		tradingOpts.BaseURL = baseURL
	}

	dataOpts := md.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}

	if retryAttempts <= 0 {
		retryAttempts = 3
	}

	return &AlpacaBroker{
		trading:       alpaca.NewClient(tradingOpts),
		data:          md.NewClient(dataOpts),
		retryAttempts: retryAttempts,
		retryDelay:    500 * time.Millisecond,
		log:           slog.Default().With("broker", "alpaca"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// SubmitOrder sends an order to the Alpaca API for execution.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qty := decimal.NewFromFloat(req.Qty)
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   alpaca.TimeInForce(req.TimeInForce),
		LimitPrice:    decimalPtr(req.LimitPrice),
		StopPrice:     decimalPtr(req.StopPrice),
		ClientOrderID: req.ClientOrderID,
	}
	if placeReq.TimeInForce == "" {
		placeReq.TimeInForce = alpaca.Day
	}

	ao, err := b.trading.PlaceOrder(placeReq)
	if err != nil {
		return nil, wrapAlpacaErr("submit order", err)
	}
	b.log.Info("Order submitted.",
		"order_id", ao.ID,
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.Type,
		"qty", req.Qty)

	order := b.orderToDomain(ao)
	// The venue does not know about strategies or algorithms; carry the
	// request's tags onto the returned order.
	order.StrategyID = req.StrategyID
	order.SignalID = req.SignalID
	order.Algo = req.Algo
	return order, nil
}

// CancelOrder requests cancellation of an open order via the Alpaca API and
// returns the order's updated state.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if err := b.trading.CancelOrder(orderID); err != nil {
		if notFound(err) {
			return nil, &domain.NotFoundError{Kind: "order", ID: orderID}
		}
		return nil, wrapAlpacaErr("cancel order", err)
	}
	b.log.Info("Order cancel requested.", "order_id", orderID)
	return b.GetOrder(ctx, orderID)
}

// GetOrder fetches the current state of one order.
func (b *AlpacaBroker) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var ao *alpaca.Order
	err := util.Retry(ctx, b.retryAttempts, b.retryDelay, func() error {
		var err error
		ao, err = b.trading.GetOrder(orderID)
		return err
	})
	if err != nil {
		if notFound(err) {
			return nil, &domain.NotFoundError{Kind: "order", ID: orderID}
		}
		return nil, wrapAlpacaErr("get order", err)
	}
	return b.orderToDomain(ao), nil
}

// GetOrders returns all orders matching the filter. Status filtering on the
// canonical set is applied after venue statuses are mapped.
func (b *AlpacaBroker) GetOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	req := alpaca.GetOrdersRequest{
		Status: "all",
		Limit:  500,
	}
	if filter.ActiveOnly {
		req.Status = "open"
	}
	if filter.Symbol != "" {
		req.Symbols = []string{filter.Symbol}
	}

	var aos []alpaca.Order
	err := util.Retry(ctx, b.retryAttempts, b.retryDelay, func() error {
		var err error
		aos, err = b.trading.GetOrders(req)
		return err
	})
	if err != nil {
		return nil, wrapAlpacaErr("get orders", err)
	}

	orders := make([]domain.Order, 0, len(aos))
	for i := range aos {
		o := b.orderToDomain(&aos[i])
		if filter.Match(o) {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

// GetAccount returns the current account information from the Alpaca API.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	var acct *alpaca.Account
	err := util.Retry(ctx, b.retryAttempts, b.retryDelay, func() error {
		var err error
		acct, err = b.trading.GetAccount()
		return err
	})
	if err != nil {
		return nil, wrapAlpacaErr("get account", err)
	}
	return &domain.AccountInfo{
		ID:               acct.ID,
		Equity:           acct.Equity.InexactFloat64(),
		Cash:             acct.Cash.InexactFloat64(),
		BuyingPower:      acct.BuyingPower.InexactFloat64(),
		Currency:         acct.Currency,
		PatternDayTrader: acct.PatternDayTrader,
	}, nil
}

// GetPositions returns all current positions from the Alpaca account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var aps []alpaca.Position
	err := util.Retry(ctx, b.retryAttempts, b.retryDelay, func() error {
		var err error
		aps, err = b.trading.GetPositions()
		return err
	})
	if err != nil {
		return nil, wrapAlpacaErr("get positions", err)
	}

	now := time.Now()
	positions := make([]domain.Position, 0, len(aps))
	for _, ap := range aps {
		positions = append(positions, positionToDomain(ap, now))
	}
	return positions, nil
}

// GetQuote returns the latest bid/ask for a symbol from the market data API.
func (b *AlpacaBroker) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var q *md.Quote
	err := util.Retry(ctx, b.retryAttempts, b.retryDelay, func() error {
		var err error
		q, err = b.data.GetLatestQuote(symbol, md.GetLatestQuoteRequest{})
		return err
	})
	if err != nil {
		return nil, wrapAlpacaErr("get quote", err)
	}
	return &domain.Quote{
		Symbol:    symbol,
		Bid:       q.BidPrice,
		Ask:       q.AskPrice,
		BidSize:   float64(q.BidSize),
		AskSize:   float64(q.AskSize),
		Timestamp: q.Timestamp,
	}, nil
}

// ClosePosition liquidates pct percent of the position held in symbol.
func (b *AlpacaBroker) ClosePosition(_ context.Context, symbol string, pct float64) error {
	if pct <= 0 || pct > 100 {
		return domain.Validationf("pct", "must be in (0,100], got %v", pct)
	}
	_, err := b.trading.ClosePosition(symbol, alpaca.ClosePositionRequest{
		Percentage: decimal.NewFromFloat(pct),
	})
	if err != nil {
		return wrapAlpacaErr("close position", err)
	}
	return nil
}

// CloseAllPositions liquidates every open position, cancelling open orders
// first so held quantity is free to close.
func (b *AlpacaBroker) CloseAllPositions(_ context.Context) error {
	_, err := b.trading.CloseAllPositions(alpaca.CloseAllPositionsRequest{
		CancelOrders: true,
	})
	if err != nil {
		return wrapAlpacaErr("close all positions", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// mapOrderStatus maps an Alpaca order status string onto the canonical
// status set. Anything unrecognised maps to unknown rather than guessing.
func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "held", "calculated":
		return domain.OrderStatusPending
	case "pending_cancel", "pending_replace":
		return domain.OrderStatusOpen
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "done_for_day", "replaced":
		return domain.OrderStatusCanceled
	case "expired":
		return domain.OrderStatusExpired
	case "rejected", "suspended", "stopped":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusUnknown
	}
}

func (b *AlpacaBroker) orderToDomain(ao *alpaca.Order) *domain.Order {
	o := &domain.Order{
		ID:            ao.ID,
		ClientOrderID: ao.ClientOrderID,
		Symbol:        ao.Symbol,
		Side:          domain.OrderSide(ao.Side),
		Type:          domain.OrderType(ao.Type),
		FilledQty:     ao.FilledQty.InexactFloat64(),
		LimitPrice:    floatPtr(ao.LimitPrice),
		StopPrice:     floatPtr(ao.StopPrice),
		TimeInForce:   domain.TimeInForce(ao.TimeInForce),
		Status:        mapOrderStatus(string(ao.Status)),
		CreatedAt:     ao.CreatedAt,
		UpdatedAt:     ao.UpdatedAt,
		FilledAt:      ao.FilledAt,
		CanceledAt:    ao.CanceledAt,
		ExpiredAt:     ao.ExpiredAt,
		RejectedAt:    ao.FailedAt,
	}
	if ao.Qty != nil {
		o.Qty = ao.Qty.InexactFloat64()
	}
	if ao.FilledAvgPrice != nil {
		o.FilledAvgPrice = ao.FilledAvgPrice.InexactFloat64()
	}
	if !ao.SubmittedAt.IsZero() {
		t := ao.SubmittedAt
		o.SubmittedAt = &t
	}
	return o
}

func positionToDomain(ap alpaca.Position, now time.Time) domain.Position {
	p := domain.Position{
		Symbol:        ap.Symbol,
		Qty:           ap.Qty.InexactFloat64(),
		Side:          domain.PositionSideLong,
		AvgEntryPrice: ap.AvgEntryPrice.InexactFloat64(),
		CostBasis:     ap.CostBasis.InexactFloat64(),
		UpdatedAt:     now,
	}
	if ap.Side == "short" {
		p.Side = domain.PositionSideShort
	}
	if p.Qty == 0 {
		p.Side = domain.PositionSideFlat
	}
	if ap.MarketValue != nil {
		p.MarketValue = ap.MarketValue.InexactFloat64()
	}
	if ap.UnrealizedPL != nil {
		p.UnrealizedPL = ap.UnrealizedPL.InexactFloat64()
	}
	if ap.UnrealizedPLPC != nil {
		// The venue reports a fraction; the engine works in percent.
		p.UnrealizedPLPct = ap.UnrealizedPLPC.InexactFloat64() * 100
	}
	if ap.CurrentPrice != nil {
		p.CurrentPrice = ap.CurrentPrice.InexactFloat64()
	}
	return p
}

func decimalPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

func floatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func notFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

func wrapAlpacaErr(op string, err error) error {
	be := &domain.BackendError{Op: op, Venue: "alpaca", Err: err}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		be.StatusCode = apiErr.StatusCode
		be.Body = apiErr.Message
	}
	return be
}
