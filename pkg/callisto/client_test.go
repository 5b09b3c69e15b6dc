package callisto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	c := NewClient(baseURL)

	if c == nil {
		t.Fatal("expected non-nil client")
	}

	if c.baseURL != baseURL {
		t.Errorf("expected baseURL %q, got %q", baseURL, c.baseURL)
	}

	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestNewClientTrimsTrailingSlash(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
}

func TestOrdersBuildsQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" || r.URL.Path != "/api/v1/orders" {
			t.Errorf("request = %s %s, want GET /api/v1/orders", r.Method, r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(ordersResponse{Orders: []Order{
			{ID: "o1", Symbol: "AAPL", Status: OrderStatusOpen},
			{ID: "o2", Symbol: "AAPL", Status: OrderStatusOpen},
		}})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	orders, err := c.Orders(context.Background(), OrderFilter{
		Status:     OrderStatusOpen,
		Symbol:     "AAPL",
		StrategyID: "sma-cross",
		ActiveOnly: true,
	})
	if err != nil {
		t.Fatalf("Orders() error = %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("Orders() returned %d orders, want 2", len(orders))
	}
	want := "active=true&status=open&strategy=sma-cross&symbol=AAPL"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
}

func TestCreateOrderRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/orders" {
			t.Errorf("request = %s %s, want POST /api/v1/orders", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q, want application/json", ct)
		}
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Order{
			ID:        "o1",
			Symbol:    req.Symbol,
			Side:      req.Side,
			Qty:       req.Qty,
			Status:    OrderStatusFilled,
			CreatedAt: time.Now().UTC(),
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	order, err := c.CreateOrder(context.Background(), OrderRequest{
		Symbol: "AAPL",
		Side:   OrderSideBuy,
		Type:   OrderTypeMarket,
		Qty:    10,
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if order.ID != "o1" || order.Symbol != "AAPL" || order.Qty != 10 {
		t.Errorf("CreateOrder() = %+v, want the echoed order", order)
	}
	if order.Status != OrderStatusFilled {
		t.Errorf("order status = %q, want filled", order.Status)
	}
}

func TestRiskBlockedSurfacesCheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(errorResponse{
			Error: "risk blocked: max_order_value: order value 5000.00 exceeds limit 1000.00",
			Check: &RiskCheckResult{
				LimitType: RiskLimitMaxOrderValue,
				Action:    RiskActionBlockOrder,
				Limit:     1000,
				Observed:  5000,
			},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	_, err := c.CreateOrder(context.Background(), OrderRequest{Symbol: "AAPL", Side: OrderSideBuy, Type: OrderTypeMarket, Qty: 50})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CreateOrder() error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Check == nil || apiErr.Check.LimitType != RiskLimitMaxOrderValue {
		t.Errorf("check = %+v, want max_order_value verdict", apiErr.Check)
	}
}

func TestNotFoundError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(errorResponse{Error: "order nope: not found"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	_, err := c.Order(context.Background(), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Order() error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.Message != "order nope: not found" {
		t.Errorf("message = %q, want the server's message", apiErr.Message)
	}
}

func TestCancelAllOrdersQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		if got := r.URL.Query().Get("symbol"); got != "AAPL" {
			t.Errorf("symbol = %q, want AAPL", got)
		}
		json.NewEncoder(w).Encode(cancelAllResponse{Canceled: []Order{{ID: "o1"}}})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	canceled, err := c.CancelAllOrders(context.Background(), "AAPL", "")
	if err != nil {
		t.Fatalf("CancelAllOrders() error = %v", err)
	}
	if len(canceled) != 1 || canceled[0].ID != "o1" {
		t.Errorf("CancelAllOrders() = %+v, want the canceled o1", canceled)
	}
}

func TestCreateAlgoDecodesDetail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/algos" {
			t.Errorf("request = %s %s, want POST /api/v1/algos", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(AlgoDetail{
			Algo:   &Algo{ID: "a1", Type: AlgoTypeTWAP, Status: AlgoStatusActive},
			Orders: []Order{{ID: "c1"}, {ID: "c2"}},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	detail, err := c.CreateAlgo(context.Background(), AlgoParams{
		Type:   AlgoTypeTWAP,
		Symbol: "AAPL",
		Side:   OrderSideBuy,
		Qty:    100,
	})
	if err != nil {
		t.Fatalf("CreateAlgo() error = %v", err)
	}
	if detail.Algo == nil || detail.Algo.ID != "a1" {
		t.Fatalf("CreateAlgo() algo = %+v, want a1", detail.Algo)
	}
	if len(detail.Orders) != 2 {
		t.Errorf("CreateAlgo() children = %d, want 2", len(detail.Orders))
	}
}

func TestRiskLimitToggles(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	ctx := context.Background()
	if err := c.DisableRiskLimit(ctx, "lim-1"); err != nil {
		t.Fatalf("DisableRiskLimit() error = %v", err)
	}
	if err := c.EnableRiskLimit(ctx, "lim-1"); err != nil {
		t.Fatalf("EnableRiskLimit() error = %v", err)
	}
	if err := c.RemoveRiskLimit(ctx, "lim-1"); err != nil {
		t.Fatalf("RemoveRiskLimit() error = %v", err)
	}
	want := []string{
		"POST /api/v1/risk/limits/lim-1/disable",
		"POST /api/v1/risk/limits/lim-1/enable",
		"DELETE /api/v1/risk/limits/lim-1",
	}
	for i, p := range want {
		if i >= len(paths) || paths[i] != p {
			t.Errorf("call %d = %q, want %q", i, paths[i], p)
		}
	}
}

func TestStreamEvents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("kinds"); got != "order_added,order_filled" {
			t.Errorf("kinds = %q, want order_added,order_filled", got)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for i := 0; i < 3; i++ {
			enc.Encode(Event{Kind: "order_added", Order: &Order{ID: fmt.Sprintf("o%d", i)}})
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	var got []Event
	err := c.StreamEvents(context.Background(), []string{"order_added", "order_filled"}, func(e Event) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamEvents() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("received %d events, want 3", len(got))
	}
	if got[2].Order == nil || got[2].Order.ID != "o2" {
		t.Errorf("last event = %+v, want order o2", got[2])
	}
}

func TestStreamEventsStopsOnHandlerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for i := 0; i < 10; i++ {
			enc.Encode(Event{Kind: "order_added"})
		}
	}))
	defer ts.Close()

	stop := errors.New("enough")
	c := NewClient(ts.URL)
	seen := 0
	err := c.StreamEvents(context.Background(), nil, func(e Event) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("StreamEvents() error = %v, want the handler's error", err)
	}
	if seen != 2 {
		t.Errorf("handler ran %d times, want 2", seen)
	}
}
