// Package callisto provides a typed Go client for the callisto-server
// REST API.
package callisto

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from the server. Check is set when a
// risk limit blocked the request.
type APIError struct {
	StatusCode int
	Message    string
	Check      *RiskCheckResult
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the callisto-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new callisto API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Orders retrieves orders matching the filter.
func (c *Client) Orders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Symbol != "" {
		q.Set("symbol", filter.Symbol)
	}
	if filter.StrategyID != "" {
		q.Set("strategy", filter.StrategyID)
	}
	if filter.ActiveOnly {
		q.Set("active", "true")
	}
	var out ordersResponse
	if err := c.do(ctx, "GET", "/api/v1/orders", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// Order retrieves one order by id.
func (c *Client) Order(ctx context.Context, id string) (*Order, error) {
	var out Order
	if err := c.do(ctx, "GET", "/api/v1/orders/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder submits a new order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var out Order
	if err := c.do(ctx, "POST", "/api/v1/orders", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels one order and returns its final state.
func (c *Client) CancelOrder(ctx context.Context, id string) (*Order, error) {
	var out Order
	if err := c.do(ctx, "DELETE", "/api/v1/orders/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelAllOrders cancels every active order, optionally narrowed to a
// symbol or strategy. It returns the orders actually canceled.
func (c *Client) CancelAllOrders(ctx context.Context, symbol, strategyID string) ([]Order, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if strategyID != "" {
		q.Set("strategy", strategyID)
	}
	var out cancelAllResponse
	if err := c.do(ctx, "DELETE", "/api/v1/orders", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Canceled, nil
}

// CreateAlgo starts an algorithmic order and returns it with its child
// slices.
func (c *Client) CreateAlgo(ctx context.Context, params AlgoParams) (*AlgoDetail, error) {
	var out AlgoDetail
	if err := c.do(ctx, "POST", "/api/v1/algos", nil, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Algo retrieves one algorithmic order with its child slices.
func (c *Client) Algo(ctx context.Context, id string) (*AlgoDetail, error) {
	var out AlgoDetail
	if err := c.do(ctx, "GET", "/api/v1/algos/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Algos retrieves every algorithmic order.
func (c *Client) Algos(ctx context.Context) ([]Algo, error) {
	var out algosResponse
	if err := c.do(ctx, "GET", "/api/v1/algos", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Algos, nil
}

// CancelAlgo cancels an algorithmic order and its remaining child slices.
func (c *Client) CancelAlgo(ctx context.Context, id string) (*AlgoDetail, error) {
	var out AlgoDetail
	if err := c.do(ctx, "DELETE", "/api/v1/algos/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Positions retrieves current positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var out positionsResponse
	if err := c.do(ctx, "GET", "/api/v1/positions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// Portfolio retrieves the portfolio snapshot.
func (c *Client) Portfolio(ctx context.Context) (*Portfolio, error) {
	var out Portfolio
	if err := c.do(ctx, "GET", "/api/v1/portfolio", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account retrieves account information from the broker.
func (c *Client) Account(ctx context.Context) (*AccountInfo, error) {
	var out AccountInfo
	if err := c.do(ctx, "GET", "/api/v1/account", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RiskLimits retrieves the configured risk limits.
func (c *Client) RiskLimits(ctx context.Context) ([]RiskLimit, error) {
	var out limitsResponse
	if err := c.do(ctx, "GET", "/api/v1/risk/limits", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Limits, nil
}

// AddRiskLimit creates a new risk limit.
func (c *Client) AddRiskLimit(ctx context.Context, limit RiskLimit) (*RiskLimit, error) {
	var out RiskLimit
	if err := c.do(ctx, "POST", "/api/v1/risk/limits", nil, limit, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRiskLimit replaces an existing risk limit.
func (c *Client) UpdateRiskLimit(ctx context.Context, limit RiskLimit) (*RiskLimit, error) {
	var out RiskLimit
	path := "/api/v1/risk/limits/" + url.PathEscape(limit.ID)
	if err := c.do(ctx, "PUT", path, nil, limit, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveRiskLimit deletes a risk limit.
func (c *Client) RemoveRiskLimit(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/api/v1/risk/limits/"+url.PathEscape(id), nil, nil, nil)
}

// EnableRiskLimit enables a risk limit.
func (c *Client) EnableRiskLimit(ctx context.Context, id string) error {
	return c.do(ctx, "POST", "/api/v1/risk/limits/"+url.PathEscape(id)+"/enable", nil, nil, nil)
}

// DisableRiskLimit disables a risk limit.
func (c *Client) DisableRiskLimit(ctx context.Context, id string) error {
	return c.do(ctx, "POST", "/api/v1/risk/limits/"+url.PathEscape(id)+"/disable", nil, nil, nil)
}

// Strategies retrieves the registered strategies and their pause state.
func (c *Client) Strategies(ctx context.Context) ([]StrategyStatus, error) {
	var out strategiesResponse
	if err := c.do(ctx, "GET", "/api/v1/strategies", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// PauseStrategy pauses signal handling for one strategy.
func (c *Client) PauseStrategy(ctx context.Context, id string) error {
	return c.do(ctx, "POST", "/api/v1/strategies/"+url.PathEscape(id)+"/pause", nil, nil, nil)
}

// ResumeStrategy resumes signal handling for one strategy.
func (c *Client) ResumeStrategy(ctx context.Context, id string) error {
	return c.do(ctx, "POST", "/api/v1/strategies/"+url.PathEscape(id)+"/resume", nil, nil, nil)
}

// Health retrieves server liveness.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, "GET", "/api/v1/healthz", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamEvents reads the server's event stream, invoking handler for every
// event, until the context is cancelled, the connection closes, or the
// handler returns an error. kinds narrows the stream; nil means all kinds.
func (c *Client) StreamEvents(ctx context.Context, kinds []string, handler func(Event) error) error {
	path := "/api/v1/events"
	if len(kinds) > 0 {
		path += "?kinds=" + url.QueryEscape(strings.Join(kinds, ","))
	}
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		if err := handler(evt); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// do performs one request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
		apiErr.Check = envelope.Check
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
