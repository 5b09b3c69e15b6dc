package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
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

// PriceSource supplies the reference price the risk gate projects order
// values with. Satisfied by *marketdata.Cache.
type PriceSource interface {
	ReferencePrice(ctx context.Context, symbol string) (float64, error)
}

// Deps wires the engine components the API exposes.
type Deps struct {
	Engine   *exec.Engine
	Manager  *oms.Manager
	Tracker  *position.Tracker
	Broker   broker.Broker
	Gate     *risk.Gate
	Prices   PriceSource
	Limits   *risk.LimitStore
	Registry *strategy.Registry
	Orch     *orchestrator.Orchestrator
	Bus      *bus.Bus

	// Mode is reported by the health endpoint ("live" or "paper").
	Mode string
	// Timeout bounds broker-touching handlers. Zero means 10s.
	Timeout time.Duration
}

// Server serves the engine REST API.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// NewServer creates the API server over the given components.
func NewServer(deps Deps) *Server {
	if deps.Timeout <= 0 {
		deps.Timeout = 10 * time.Second
	}
	return &Server{
		deps: deps,
		log:  slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/orders", s.handleListOrders)
	mux.HandleFunc("POST /api/v1/orders", s.handleCreateOrder)
	mux.HandleFunc("DELETE /api/v1/orders", s.handleCancelAllOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/v1/orders/{id}", s.handleCancelOrder)

	mux.HandleFunc("GET /api/v1/algos", s.handleListAlgos)
	mux.HandleFunc("POST /api/v1/algos", s.handleCreateAlgo)
	mux.HandleFunc("GET /api/v1/algos/{id}", s.handleGetAlgo)
	mux.HandleFunc("DELETE /api/v1/algos/{id}", s.handleCancelAlgo)

	mux.HandleFunc("GET /api/v1/positions", s.handlePositions)
	mux.HandleFunc("GET /api/v1/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/v1/account", s.handleAccount)

	mux.HandleFunc("GET /api/v1/risk/limits", s.handleListLimits)
	mux.HandleFunc("POST /api/v1/risk/limits", s.handleAddLimit)
	mux.HandleFunc("PUT /api/v1/risk/limits/{id}", s.handleUpdateLimit)
	mux.HandleFunc("DELETE /api/v1/risk/limits/{id}", s.handleRemoveLimit)
	mux.HandleFunc("POST /api/v1/risk/limits/{id}/enable", s.handleEnableLimit)
	mux.HandleFunc("POST /api/v1/risk/limits/{id}/disable", s.handleDisableLimit)

	mux.HandleFunc("GET /api/v1/strategies", s.handleListStrategies)
	mux.HandleFunc("POST /api/v1/strategies/{id}/pause", s.handlePauseStrategy)
	mux.HandleFunc("POST /api/v1/strategies/{id}/resume", s.handleResumeStrategy)

	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/healthz", s.handleHealthz)
}

// Handler returns an http.Handler with request logging and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.logMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("Request handled.",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, ErrorResponse{Error: msg})
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var blocked *domain.RiskBlockedError
	if errors.As(err, &blocked) {
		writeJSONStatus(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: blocked.Error(),
			Check: &blocked.Result,
		})
		return
	}
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case domain.IsState(err):
		writeError(w, http.StatusConflict, err.Error())
	case domain.IsBackend(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) callCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.deps.Timeout)
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		Status:     domain.OrderStatus(q.Get("status")),
		Symbol:     strings.ToUpper(q.Get("symbol")),
		StrategyID: q.Get("strategy"),
		ActiveOnly: q.Get("active") == "true",
	}
	orders := s.deps.Manager.Orders(filter)
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, OrdersResponse{Orders: orders})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req.Symbol = strings.ToUpper(req.Symbol)

	ctx, cancel := s.callCtx(r)
	defer cancel()
	if err := s.authorize(ctx, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	order, err := s.deps.Engine.CreateOrder(ctx, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, order)
}

// authorize runs manually submitted orders through the same risk gate the
// signal path uses. The reference price lookup is best effort; a request
// carrying a limit or stop price is projected from that price regardless.
func (s *Server) authorize(ctx context.Context, req *domain.OrderRequest) error {
	if s.deps.Gate == nil {
		return nil
	}
	var refPrice float64
	if s.deps.Prices != nil {
		refPrice, _ = s.deps.Prices.ReferencePrice(ctx, req.Symbol)
	}
	return s.deps.Gate.Authorize(req, refPrice)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Manager.Order(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callCtx(r)
	defer cancel()
	order, err := s.deps.Engine.CancelOrder(ctx, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, order)
}

func (s *Server) handleCancelAllOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.ToUpper(q.Get("symbol"))
	strategyID := q.Get("strategy")
	pred := func(o *domain.Order) bool {
		if symbol != "" && o.Symbol != symbol {
			return false
		}
		if strategyID != "" && o.StrategyID != strategyID {
			return false
		}
		return true
	}

	ctx, cancel := s.callCtx(r)
	defer cancel()
	canceled := s.deps.Engine.CancelAllOrders(ctx, pred)
	if canceled == nil {
		canceled = []domain.Order{}
	}
	writeJSON(w, CancelAllResponse{Canceled: canceled})
}

// ---------------------------------------------------------------------------
// Algorithmic orders
// ---------------------------------------------------------------------------

func (s *Server) handleListAlgos(w http.ResponseWriter, r *http.Request) {
	algos := s.deps.Engine.AlgoOrders()
	if algos == nil {
		algos = []domain.AlgorithmicOrder{}
	}
	writeJSON(w, AlgosResponse{Algos: algos})
}

func (s *Server) handleCreateAlgo(w http.ResponseWriter, r *http.Request) {
	var params domain.AlgoParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	params.Symbol = strings.ToUpper(params.Symbol)

	ctx, cancel := s.callCtx(r)
	defer cancel()
	// The gate sees the parent as one order for its full quantity; a
	// reduce_size verdict shrinks the total before it is sliced.
	req := domain.OrderRequest{
		Symbol:     params.Symbol,
		Side:       params.Side,
		Type:       domain.OrderTypeMarket,
		Qty:        params.Qty,
		LimitPrice: params.LimitPrice,
		StrategyID: params.StrategyID,
	}
	if params.LimitPrice != nil {
		req.Type = domain.OrderTypeLimit
	}
	if err := s.authorize(ctx, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	params.Qty = req.Qty

	algo, err := s.deps.Engine.ExecuteAlgo(ctx, params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	children, _ := s.deps.Engine.ChildOrders(algo.ID)
	writeJSONStatus(w, http.StatusCreated, AlgoResponse{Algo: algo, Orders: children})
}

func (s *Server) handleGetAlgo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	algo, err := s.deps.Engine.AlgoOrder(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	children, _ := s.deps.Engine.ChildOrders(id)
	writeJSON(w, AlgoResponse{Algo: algo, Orders: children})
}

func (s *Server) handleCancelAlgo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callCtx(r)
	defer cancel()
	algo, err := s.deps.Engine.CancelAlgo(ctx, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	children, _ := s.deps.Engine.ChildOrders(algo.ID)
	writeJSON(w, AlgoResponse{Algo: algo, Orders: children})
}

// ---------------------------------------------------------------------------
// Portfolio and account
// ---------------------------------------------------------------------------

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := []domain.Position{}
	if pf := s.deps.Tracker.Portfolio(); pf != nil {
		positions = pf.Positions
	}
	writeJSON(w, PositionsResponse{Positions: positions})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	pf := s.deps.Tracker.Portfolio()
	if pf == nil {
		writeError(w, http.StatusServiceUnavailable, "portfolio snapshot not ready")
		return
	}
	writeJSON(w, pf)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callCtx(r)
	defer cancel()
	account, err := s.deps.Broker.GetAccount(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, account)
}

// ---------------------------------------------------------------------------
// Risk limits
// ---------------------------------------------------------------------------

func (s *Server) handleListLimits(w http.ResponseWriter, r *http.Request) {
	limits := s.deps.Limits.List()
	if limits == nil {
		limits = []domain.RiskLimit{}
	}
	writeJSON(w, LimitsResponse{Limits: limits})
}

func (s *Server) handleAddLimit(w http.ResponseWriter, r *http.Request) {
	var limit domain.RiskLimit
	if err := json.NewDecoder(r.Body).Decode(&limit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.deps.Limits.Add(&limit); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, limit)
}

func (s *Server) handleUpdateLimit(w http.ResponseWriter, r *http.Request) {
	var limit domain.RiskLimit
	if err := json.NewDecoder(r.Body).Decode(&limit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	limit.ID = r.PathValue("id")
	if err := s.deps.Limits.Update(&limit); err != nil {
		writeDomainError(w, err)
		return
	}
	updated, err := s.deps.Limits.Get(limit.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated)
}

func (s *Server) handleRemoveLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Limits.Remove(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Limits.Enable(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisableLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Limits.Disable(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Registry.List()
	statuses := make([]StrategyStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, StrategyStatus{
			ID:     name,
			Paused: s.deps.Orch.Paused(name),
		})
	}
	writeJSON(w, StrategiesResponse{Strategies: statuses})
}

func (s *Server) handlePauseStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "strategy "+id+": not found")
		return
	}
	s.deps.Bus.Publish(bus.Event{Kind: bus.StrategyPaused, StrategyID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "strategy "+id+": not found")
		return
	}
	s.deps.Bus.Publish(bus.Event{Kind: bus.StrategyResumed, StrategyID: id})
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Events and health
// ---------------------------------------------------------------------------

// handleEvents streams bus events as newline-delimited JSON until the
// client disconnects. An optional kinds query narrows the tap.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var kinds []bus.Kind
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, bus.Kind(k))
			}
		}
	}
	id, events := s.deps.Bus.Subscribe(64, kinds...)
	defer s.deps.Bus.Unsubscribe(id)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(evt); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status: "ok",
		Mode:   s.deps.Mode,
		Time:   time.Now().UTC(),
	})
}
