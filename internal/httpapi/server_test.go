package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"callisto/internal/broker"
	"callisto/internal/bus"
	"callisto/internal/domain"
	"callisto/internal/exec"
	"callisto/internal/oms"
	"callisto/internal/orchestrator"
	"callisto/internal/position"
	"callisto/internal/risk"
	"callisto/internal/strategy"
)

// fakeMarket is a price source with hand-set prices for the simulated venue.
type fakeMarket struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{prices: make(map[string]float64)}
}

func (m *fakeMarket) set(symbol string, px float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = px
}

func (m *fakeMarket) ReferencePrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	px, ok := m.prices[symbol]
	if !ok {
		return 0, &domain.NotFoundError{Kind: "quote", ID: symbol}
	}
	return px, nil
}

func (m *fakeMarket) Quote(symbol string) (domain.Quote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	px, ok := m.prices[symbol]
	if !ok {
		return domain.Quote{}, false
	}
	return domain.Quote{Symbol: symbol, Bid: px - 0.01, Ask: px + 0.01, Timestamp: time.Now()}, true
}

// noopStrategy satisfies strategy.Strategy for registry listings.
type noopStrategy struct{ name string }

func (s *noopStrategy) Name() string               { return s.name }
func (s *noopStrategy) Init(context.Context) error { return nil }

func (s *noopStrategy) OnBar(context.Context, domain.Bar) ([]domain.Signal, error) {
	return nil, nil
}

func (s *noopStrategy) OnQuote(context.Context, domain.Quote) ([]domain.Signal, error) {
	return nil, nil
}

type apiHarness struct {
	ts      *httptest.Server
	market  *fakeMarket
	bus     *bus.Bus
	mgr     *oms.Manager
	limits  *risk.LimitStore
	tracker *position.Tracker
	orch    *orchestrator.Orchestrator
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	market := newFakeMarket()
	market.set("AAPL", 100)
	market.set("MSFT", 200)

	b := bus.New()
	mgr := oms.NewManager(b, nil)
	sim := broker.NewSimulatorBroker(market, 1_000_000)
	eng := exec.NewEngine(mgr, sim, nil, time.Second)
	limits := risk.NewLimitStore()
	tracker := position.NewTracker(sim, b, time.Second)
	if err := tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	registry := strategy.NewRegistry()
	registry.Register(&noopStrategy{name: "alpha"})

	gate := risk.NewGate(limits, tracker)
	orch := orchestrator.New(eng, gate, market, tracker, 5)
	orch.Bind(b)

	srv := NewServer(Deps{
		Engine:   eng,
		Manager:  mgr,
		Tracker:  tracker,
		Broker:   sim,
		Gate:     gate,
		Prices:   market,
		Limits:   limits,
		Registry: registry,
		Orch:     orch,
		Bus:      b,
		Mode:     "paper",
		Timeout:  time.Second,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiHarness{
		ts:      ts,
		market:  market,
		bus:     b,
		mgr:     mgr,
		limits:  limits,
		tracker: tracker,
		orch:    orch,
	}
}

func (h *apiHarness) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func marketOrder(symbol string, qty float64) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol: symbol,
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Qty:    qty,
	}
}

func restingOrder(symbol string, limit float64) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:     symbol,
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeLimit,
		Qty:        10,
		LimitPrice: &limit,
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, "POST", "/api/v1/orders", marketOrder("aapl", 10))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /orders status = %d, want 201", resp.StatusCode)
	}
	var created domain.Order
	decodeBody(t, resp, &created)
	if created.Symbol != "AAPL" {
		t.Errorf("order symbol = %q, want normalized AAPL", created.Symbol)
	}
	if created.Status != domain.OrderStatusFilled {
		t.Errorf("order status = %q, want filled against the simulator", created.Status)
	}

	resp = h.request(t, "GET", "/api/v1/orders/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /orders/{id} status = %d, want 200", resp.StatusCode)
	}
	var fetched domain.Order
	decodeBody(t, resp, &fetched)
	if fetched.ID != created.ID {
		t.Errorf("fetched order id = %q, want %q", fetched.ID, created.ID)
	}

	resp = h.request(t, "GET", "/api/v1/orders?status=filled", nil)
	var list OrdersResponse
	decodeBody(t, resp, &list)
	if len(list.Orders) != 1 {
		t.Errorf("orders(status=filled) = %d entries, want 1", len(list.Orders))
	}
}

func TestListOrdersEmpty(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, "GET", "/api/v1/orders", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /orders status = %d, want 200", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	// An empty book serializes as [], never null.
	if !bytes.Contains(raw, []byte(`"orders":[]`)) {
		t.Errorf("GET /orders body = %s, want empty array", raw)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, "POST", "/api/v1/orders", marketOrder("AAPL", 0))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /orders(qty 0) status = %d, want 400", resp.StatusCode)
	}
	var apiErr ErrorResponse
	decodeBody(t, resp, &apiErr)
	if apiErr.Error == "" {
		t.Error("error response has empty message")
	}

	req, err := http.NewRequest("POST", h.ts.URL+"/api/v1/orders", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	badResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /orders: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /orders(bad json) status = %d, want 400", badResp.StatusCode)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, "GET", "/api/v1/orders/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /orders/nope status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelOrder(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, "POST", "/api/v1/orders", restingOrder("AAPL", 90))
	var created domain.Order
	decodeBody(t, resp, &created)
	if created.Status != domain.OrderStatusOpen {
		t.Fatalf("order status = %q, want open below the market", created.Status)
	}

	resp = h.request(t, "DELETE", "/api/v1/orders/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /orders/{id} status = %d, want 200", resp.StatusCode)
	}
	var canceled domain.Order
	decodeBody(t, resp, &canceled)
	if canceled.Status != domain.OrderStatusCanceled {
		t.Errorf("order status = %q, want canceled", canceled.Status)
	}

	// Terminal orders refuse a second cancel.
	resp = h.request(t, "DELETE", "/api/v1/orders/"+created.ID, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second DELETE status = %d, want 409", resp.StatusCode)
	}
}

func TestCancelAllOrdersFilteredBySymbol(t *testing.T) {
	h := newAPIHarness(t)

	h.request(t, "POST", "/api/v1/orders", restingOrder("AAPL", 90))
	h.request(t, "POST", "/api/v1/orders", restingOrder("AAPL", 91))
	h.request(t, "POST", "/api/v1/orders", restingOrder("MSFT", 190))

	resp := h.request(t, "DELETE", "/api/v1/orders?symbol=AAPL", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /orders?symbol=AAPL status = %d, want 200", resp.StatusCode)
	}
	var bulk CancelAllResponse
	decodeBody(t, resp, &bulk)
	if len(bulk.Canceled) != 2 {
		t.Errorf("canceled %d orders, want 2", len(bulk.Canceled))
	}
	for _, o := range bulk.Canceled {
		if o.Symbol != "AAPL" {
			t.Errorf("canceled symbol = %q, want only AAPL", o.Symbol)
		}
	}

	remaining := h.mgr.Orders(domain.OrderFilter{ActiveOnly: true})
	if len(remaining) != 1 || remaining[0].Symbol != "MSFT" {
		t.Errorf("active orders after bulk cancel = %+v, want the MSFT order", remaining)
	}
}

func TestAlgoLifecycle(t *testing.T) {
	h := newAPIHarness(t)

	start := time.Now().Add(time.Hour)
	params := domain.AlgoParams{
		Type:      domain.AlgoTypeTWAP,
		Symbol:    "aapl",
		Side:      domain.OrderSideBuy,
		Qty:       100,
		Slices:    4,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	}
	resp := h.request(t, "POST", "/api/v1/algos", params)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /algos status = %d, want 201", resp.StatusCode)
	}
	var created AlgoResponse
	decodeBody(t, resp, &created)
	if created.Algo == nil {
		t.Fatal("algo response has nil parent")
	}
	if created.Algo.Symbol != "AAPL" {
		t.Errorf("algo symbol = %q, want normalized AAPL", created.Algo.Symbol)
	}
	if len(created.Orders) != 4 {
		t.Fatalf("algo children = %d, want 4", len(created.Orders))
	}
	for _, child := range created.Orders {
		if child.Status != domain.OrderStatusCreated {
			t.Errorf("child %s status = %q, want created before the start time", child.ID, child.Status)
		}
	}

	resp = h.request(t, "GET", "/api/v1/algos", nil)
	var list AlgosResponse
	decodeBody(t, resp, &list)
	if len(list.Algos) != 1 {
		t.Errorf("GET /algos = %d entries, want 1", len(list.Algos))
	}

	resp = h.request(t, "GET", "/api/v1/algos/"+created.Algo.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /algos/{id} status = %d, want 200", resp.StatusCode)
	}

	resp = h.request(t, "DELETE", "/api/v1/algos/"+created.Algo.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /algos/{id} status = %d, want 200", resp.StatusCode)
	}
	var canceled AlgoResponse
	decodeBody(t, resp, &canceled)
	if canceled.Algo.Status != domain.AlgoStatusCanceled {
		t.Errorf("algo status = %q, want canceled", canceled.Algo.Status)
	}
	for _, child := range canceled.Orders {
		if child.Status != domain.OrderStatusCanceled {
			t.Errorf("child %s status = %q, want canceled", child.ID, child.Status)
		}
	}
}

func TestCreateAlgoValidation(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, "POST", "/api/v1/algos", domain.AlgoParams{Type: "drip"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /algos(unknown type) status = %d, want 400", resp.StatusCode)
	}

	resp = h.request(t, "GET", "/api/v1/algos/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /algos/nope status = %d, want 404", resp.StatusCode)
	}
}

func TestPortfolioEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, "GET", "/api/v1/positions", nil)
	var positions PositionsResponse
	decodeBody(t, resp, &positions)
	if len(positions.Positions) != 0 {
		t.Errorf("positions before trading = %d, want 0", len(positions.Positions))
	}

	h.request(t, "POST", "/api/v1/orders", marketOrder("AAPL", 10))
	if err := h.tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	resp = h.request(t, "GET", "/api/v1/positions", nil)
	decodeBody(t, resp, &positions)
	if len(positions.Positions) != 1 || positions.Positions[0].Symbol != "AAPL" {
		t.Fatalf("positions after buy = %+v, want one AAPL position", positions.Positions)
	}
	if positions.Positions[0].Qty != 10 {
		t.Errorf("AAPL qty = %v, want 10", positions.Positions[0].Qty)
	}

	resp = h.request(t, "GET", "/api/v1/portfolio", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /portfolio status = %d, want 200", resp.StatusCode)
	}
	var pf domain.Portfolio
	decodeBody(t, resp, &pf)
	if pf.Cash >= 1_000_000 {
		t.Errorf("portfolio cash = %v, want reduced by the buy", pf.Cash)
	}

	resp = h.request(t, "GET", "/api/v1/account", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /account status = %d, want 200", resp.StatusCode)
	}
	var acct domain.AccountInfo
	decodeBody(t, resp, &acct)
	if acct.Cash >= 1_000_000 {
		t.Errorf("account cash = %v, want reduced by the buy", acct.Cash)
	}
}

func TestRiskLimitCRUD(t *testing.T) {
	h := newAPIHarness(t)

	limit := domain.RiskLimit{
		ID:      "order-value",
		Type:    domain.RiskLimitMaxOrderValue,
		Value:   10_000,
		Action:  domain.RiskActionBlockOrder,
		Enabled: true,
	}
	resp := h.request(t, "POST", "/api/v1/risk/limits", limit)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /risk/limits status = %d, want 201", resp.StatusCode)
	}

	resp = h.request(t, "GET", "/api/v1/risk/limits", nil)
	var list LimitsResponse
	decodeBody(t, resp, &list)
	if len(list.Limits) != 1 {
		t.Fatalf("GET /risk/limits = %d entries, want 1", len(list.Limits))
	}

	limit.Value = 20_000
	resp = h.request(t, "PUT", "/api/v1/risk/limits/order-value", limit)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /risk/limits/{id} status = %d, want 200", resp.StatusCode)
	}
	var updated domain.RiskLimit
	decodeBody(t, resp, &updated)
	if updated.Value != 20_000 {
		t.Errorf("updated limit value = %v, want 20000", updated.Value)
	}

	resp = h.request(t, "POST", "/api/v1/risk/limits/order-value/disable", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST disable status = %d, want 204", resp.StatusCode)
	}
	got, err := h.limits.Get("order-value")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Enabled {
		t.Error("limit still enabled after disable")
	}

	resp = h.request(t, "POST", "/api/v1/risk/limits/order-value/enable", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST enable status = %d, want 204", resp.StatusCode)
	}

	resp = h.request(t, "DELETE", "/api/v1/risk/limits/order-value", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE /risk/limits/{id} status = %d, want 204", resp.StatusCode)
	}

	resp = h.request(t, "PUT", "/api/v1/risk/limits/order-value", limit)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("PUT on removed limit status = %d, want 404", resp.StatusCode)
	}
}

func TestRiskBlockedOrderReturns422(t *testing.T) {
	h := newAPIHarness(t)
	if err := h.limits.Add(&domain.RiskLimit{
		ID:      "order-value",
		Type:    domain.RiskLimitMaxOrderValue,
		Value:   500,
		Action:  domain.RiskActionBlockOrder,
		Enabled: true,
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// 10 shares at 100 is 1000 notional, double the limit.
	resp := h.request(t, "POST", "/api/v1/orders", marketOrder("AAPL", 10))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("POST /orders status = %d, want 422", resp.StatusCode)
	}
	var apiErr ErrorResponse
	decodeBody(t, resp, &apiErr)
	if apiErr.Check == nil {
		t.Fatal("risk response has nil check detail")
	}
	if apiErr.Check.LimitType != domain.RiskLimitMaxOrderValue {
		t.Errorf("check limit type = %q, want max_order_value", apiErr.Check.LimitType)
	}
	if apiErr.Check.Observed != 1000 {
		t.Errorf("check observed = %v, want 1000", apiErr.Check.Observed)
	}
}

func TestStrategyEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, "GET", "/api/v1/strategies", nil)
	var list StrategiesResponse
	decodeBody(t, resp, &list)
	if len(list.Strategies) != 1 || list.Strategies[0].ID != "alpha" {
		t.Fatalf("GET /strategies = %+v, want the registered alpha", list.Strategies)
	}
	if list.Strategies[0].Paused {
		t.Error("alpha reported paused before any pause")
	}

	resp = h.request(t, "POST", "/api/v1/strategies/alpha/pause", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST pause status = %d, want 204", resp.StatusCode)
	}
	if !h.orch.Paused("alpha") {
		t.Error(`Paused("alpha") = false after pause request`)
	}

	resp = h.request(t, "GET", "/api/v1/strategies", nil)
	decodeBody(t, resp, &list)
	if !list.Strategies[0].Paused {
		t.Error("GET /strategies does not report the pause")
	}

	resp = h.request(t, "POST", "/api/v1/strategies/alpha/resume", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST resume status = %d, want 204", resp.StatusCode)
	}
	if h.orch.Paused("alpha") {
		t.Error(`Paused("alpha") = true after resume request`)
	}

	resp = h.request(t, "POST", "/api/v1/strategies/ghost/pause", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST pause unknown strategy status = %d, want 404", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.ts.URL + "/api/v1/events?kinds=order_added")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /events status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("content type = %q, want application/x-ndjson", got)
	}

	// Headers arrived, so the stream's subscription is active.
	h.request(t, "POST", "/api/v1/orders", marketOrder("AAPL", 1))

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	if err != nil {
		t.Fatalf("reading event line: %v", err)
	}
	var evt bus.Event
	if err := json.Unmarshal(line, &evt); err != nil {
		t.Fatalf("decoding event %s: %v", line, err)
	}
	if evt.Kind != bus.OrderAdded {
		t.Errorf("event kind = %q, want order_added", evt.Kind)
	}
	if evt.Order == nil || evt.Order.Symbol != "AAPL" {
		t.Errorf("event order = %+v, want the AAPL order", evt.Order)
	}
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, "GET", "/api/v1/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want 200", resp.StatusCode)
	}
	var health HealthResponse
	decodeBody(t, resp, &health)
	if health.Status != "ok" {
		t.Errorf("health status = %q, want ok", health.Status)
	}
	if health.Mode != "paper" {
		t.Errorf("health mode = %q, want paper", health.Mode)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newAPIHarness(t)

	req, err := http.NewRequest("OPTIONS", h.ts.URL+"/api/v1/orders", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /orders: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}
}
