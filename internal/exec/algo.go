package exec

import (
	"context"
	"math"
	"slices"
	"time"

	"callisto/internal/bus"
	"callisto/internal/domain"
)

// ExecuteAlgo validates the parameters, registers the parent order, and
// creates its child slices. Slices already due (and the visible iceberg
// slice) are submitted before returning; future slices stay in status
// created until ReleaseDueSlices picks them up.
func (e *Engine) ExecuteAlgo(ctx context.Context, params domain.AlgoParams) (*domain.AlgorithmicOrder, error) {
	now := time.Now()
	if err := normalizeAlgoParams(&params, now, e.sliceCount); err != nil {
		return nil, err
	}

	parent := &domain.AlgorithmicOrder{
		ID:        domain.NewID(),
		Type:      params.Type,
		Symbol:    params.Symbol,
		Side:      params.Side,
		Qty:       params.Qty,
		Status:    domain.AlgoStatusActive,
		Params:    params,
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
		CreatedAt: now,
		UpdatedAt: now,
	}

	quantities := sliceQuantities(&params)
	parent.Params.Slices = len(quantities)

	// Register every child in the book first so fill events arriving
	// during submission can already resolve the parent.
	var dueIDs []string
	for i, qty := range quantities {
		child := e.newChildOrder(parent, i, len(quantities), qty)
		if err := e.mgr.AddOrUpdateOrder(child); err != nil {
			return nil, err
		}
		parent.OrderIDs = append(parent.OrderIDs, child.ID)
		if sliceDueNow(parent, i, now) {
			dueIDs = append(dueIDs, child.ID)
		}
	}

	e.mu.Lock()
	e.parents[parent.ID] = parent
	e.sequence = append(e.sequence, parent.ID)
	e.mu.Unlock()
	e.persist(parent.Clone())

	for _, id := range dueIDs {
		e.submitChild(ctx, id)
	}

	e.log.Info("Algorithmic order created.",
		"algo_id", parent.ID,
		"type", parent.Type,
		"symbol", parent.Symbol,
		"qty", parent.Qty,
		"slices", len(quantities),
		"submitted", len(dueIDs))
	return e.AlgoOrder(parent.ID)
}

// CancelAlgo cancels the parent and every child that has not reached a
// terminal status. Child cancellations are best effort; a failed one is
// logged and the rest continue.
func (e *Engine) CancelAlgo(ctx context.Context, id string) (*domain.AlgorithmicOrder, error) {
	e.mu.Lock()
	parent, ok := e.parents[id]
	if !ok {
		e.mu.Unlock()
		return nil, &domain.NotFoundError{Kind: "algorithmic order", ID: id}
	}
	if parent.Status != domain.AlgoStatusActive {
		status := parent.Status
		e.mu.Unlock()
		return nil, &domain.StateError{OrderID: id, Status: domain.OrderStatus(status), Op: "cancel"}
	}
	childIDs := slices.Clone(parent.OrderIDs)
	e.mu.Unlock()

	for _, cid := range childIDs {
		rec, err := e.mgr.Order(cid)
		if err != nil || rec.Status.Terminal() {
			continue
		}
		if _, err := e.CancelOrder(ctx, cid); err != nil {
			e.log.Warn("Child cancel failed.", "algo_id", id, "order_id", cid, "error", err)
		}
	}

	e.mu.Lock()
	parent.Status = domain.AlgoStatusCanceled
	parent.UpdatedAt = time.Now()
	out := parent.Clone()
	e.mu.Unlock()
	e.persist(out)
	e.log.Info("Algorithmic order canceled.", "algo_id", id)
	return out, nil
}

// AlgoOrder returns a copy of one parent order.
func (e *Engine) AlgoOrder(id string) (*domain.AlgorithmicOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	parent, ok := e.parents[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "algorithmic order", ID: id}
	}
	return parent.Clone(), nil
}

// AlgoOrders returns copies of every parent order in creation order.
func (e *Engine) AlgoOrders() []domain.AlgorithmicOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.AlgorithmicOrder, 0, len(e.sequence))
	for _, id := range e.sequence {
		out = append(out, *e.parents[id].Clone())
	}
	return out
}

// ChildOrders returns the current state of every child of the parent, in
// slice order.
func (e *Engine) ChildOrders(id string) ([]domain.Order, error) {
	parent, err := e.AlgoOrder(id)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(parent.OrderIDs))
	for _, cid := range parent.OrderIDs {
		rec, err := e.mgr.Order(cid)
		if err != nil {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Restore reloads persisted parent orders into memory after a restart.
func (e *Engine) Restore(ctx context.Context) error {
	if e.algos == nil {
		return nil
	}
	list, err := e.algos.ListAlgos(ctx, "")
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	restored := 0
	for i := range list {
		a := &list[i]
		if _, ok := e.parents[a.ID]; ok {
			continue
		}
		e.parents[a.ID] = a.Clone()
		e.sequence = append(e.sequence, a.ID)
		restored++
	}
	e.log.Info("Algorithmic orders restored.", "count", restored)
	return nil
}

// ReleaseDueSlices submits every timed slice whose schedule has arrived,
// reveals the next iceberg slice when nothing is working, and completes
// parents whose children have all finished. Runs as a reconcile hook.
func (e *Engine) ReleaseDueSlices(ctx context.Context) {
	e.releaseAt(ctx, time.Now())
}

func (e *Engine) releaseAt(ctx context.Context, now time.Time) {
	for _, parent := range e.activeParents() {
		switch parent.Type {
		case domain.AlgoTypeTWAP, domain.AlgoTypeVWAP:
			e.releaseTimed(ctx, parent, now)
		case domain.AlgoTypeIceberg:
			e.revealIfIdle(ctx, parent)
		}
		e.completeIfDone(parent.ID)
	}
}

// Run consumes fill and terminal events for child orders: an iceberg fill
// reveals the next hidden slice, and any terminal child may complete its
// parent. The subscription is a lossy tap; the reconcile sweep covers any
// event dropped under load.
func (e *Engine) Run(ctx context.Context, b *bus.Bus) {
	id, ch := b.Subscribe(32,
		bus.OrderFilled, bus.OrderCanceled, bus.OrderRejected, bus.OrderExpired)
	defer b.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			e.handleChildEvent(ctx, evt)
		}
	}
}

func (e *Engine) handleChildEvent(ctx context.Context, evt bus.Event) {
	if evt.Order == nil || evt.Order.Algo == nil {
		return
	}
	tag := evt.Order.Algo
	e.mu.Lock()
	parent, ok := e.parents[tag.AlgoID]
	active := ok && parent.Status == domain.AlgoStatusActive
	var clone *domain.AlgorithmicOrder
	if active {
		clone = parent.Clone()
	}
	e.mu.Unlock()
	if !active {
		return
	}
	if tag.Iceberg && evt.Kind == bus.OrderFilled {
		e.revealNext(ctx, clone)
	}
	e.completeIfDone(tag.AlgoID)
}

// releaseTimed submits created slices whose scheduled time has passed.
func (e *Engine) releaseTimed(ctx context.Context, parent *domain.AlgorithmicOrder, now time.Time) {
	for _, cid := range parent.OrderIDs {
		rec, err := e.mgr.Order(cid)
		if err != nil || rec.Status != domain.OrderStatusCreated || rec.Algo == nil {
			continue
		}
		if sliceDueNow(parent, rec.Algo.Slice, now) {
			e.submitChild(ctx, cid)
		}
	}
}

// revealIfIdle is the sweep-side iceberg fallback: when no submitted child
// is still working and hidden slices remain, the next one goes out.
func (e *Engine) revealIfIdle(ctx context.Context, parent *domain.AlgorithmicOrder) {
	for _, cid := range parent.OrderIDs {
		rec, err := e.mgr.Order(cid)
		if err != nil {
			continue
		}
		if rec.Status != domain.OrderStatusCreated && !rec.Status.Terminal() {
			return // a visible slice is still working
		}
	}
	e.revealNext(ctx, parent)
}

// revealNext submits the hidden slice with the lowest index.
func (e *Engine) revealNext(ctx context.Context, parent *domain.AlgorithmicOrder) {
	for _, cid := range parent.OrderIDs {
		rec, err := e.mgr.Order(cid)
		if err != nil {
			continue
		}
		if rec.Status == domain.OrderStatusCreated {
			e.submitChild(ctx, cid)
			return
		}
	}
}

// submitChild sends one created slice to the broker. On failure the slice
// stays in created and the next sweep retries; the child's client order id
// keeps a retry from double-booking if the venue accepted silently.
func (e *Engine) submitChild(ctx context.Context, id string) {
	rec, err := e.mgr.Order(id)
	if err != nil || rec.Status != domain.OrderStatusCreated {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	venue, err := e.broker.SubmitOrder(callCtx, requestFromOrder(rec))
	if err != nil {
		e.log.Warn("Slice submission failed.", "order_id", id, "error", err)
		return
	}
	rec.AbsorbVenueState(venue)
	if rec.SubmittedAt == nil {
		now := time.Now()
		rec.SubmittedAt = &now
	}
	if err := e.mgr.AddOrUpdateOrder(rec); err != nil {
		e.log.Error("Recording slice state failed.", "order_id", id, "error", err)
	}
}

// completeIfDone marks the parent completed once every child is terminal.
func (e *Engine) completeIfDone(id string) {
	e.mu.Lock()
	parent, ok := e.parents[id]
	if !ok || parent.Status != domain.AlgoStatusActive {
		e.mu.Unlock()
		return
	}
	childIDs := slices.Clone(parent.OrderIDs)
	e.mu.Unlock()

	for _, cid := range childIDs {
		rec, err := e.mgr.Order(cid)
		if err != nil || !rec.Status.Terminal() {
			return
		}
	}

	e.mu.Lock()
	if parent.Status != domain.AlgoStatusActive {
		e.mu.Unlock()
		return
	}
	parent.Status = domain.AlgoStatusCompleted
	parent.UpdatedAt = time.Now()
	out := parent.Clone()
	e.mu.Unlock()
	e.persist(out)
	e.log.Info("Algorithmic order completed.", "algo_id", id)
}

func (e *Engine) activeParents() []*domain.AlgorithmicOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*domain.AlgorithmicOrder
	for _, id := range e.sequence {
		if p := e.parents[id]; p.Status == domain.AlgoStatusActive {
			out = append(out, p.Clone())
		}
	}
	return out
}

// persist writes the parent through the algo store, best effort.
func (e *Engine) persist(parent *domain.AlgorithmicOrder) {
	if e.algos == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.algos.SaveAlgo(ctx, parent); err != nil {
		e.log.Error("Persisting algorithmic order failed.", "algo_id", parent.ID, "error", err)
	}
}

func (e *Engine) newChildOrder(parent *domain.AlgorithmicOrder, slice, total int, qty float64) *domain.Order {
	now := time.Now()
	child := &domain.Order{
		ID:          domain.NewID(),
		Symbol:      parent.Symbol,
		Side:        parent.Side,
		Type:        domain.OrderTypeMarket,
		Qty:         qty,
		TimeInForce: parent.Params.TimeInForce,
		Status:      domain.OrderStatusCreated,
		StrategyID:  parent.Params.StrategyID,
		Algo: &domain.AlgoTag{
			AlgoID:      parent.ID,
			Type:        parent.Type,
			Slice:       slice,
			TotalSlices: total,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	child.ClientOrderID = child.ID
	if parent.Params.LimitPrice != nil {
		v := *parent.Params.LimitPrice
		child.Type = domain.OrderTypeLimit
		child.LimitPrice = &v
	}
	if child.TimeInForce == "" {
		child.TimeInForce = domain.TimeInForceDay
	}
	if parent.Type == domain.AlgoTypeIceberg {
		child.Algo.Iceberg = true
		child.Algo.DisplayQty = parent.Params.DisplayQty
	}
	return child
}

// ---------------------------------------------------------------------------
// Slicing math
// ---------------------------------------------------------------------------

func normalizeAlgoParams(p *domain.AlgoParams, now time.Time, defaultCount int) error {
	switch p.Type {
	case domain.AlgoTypeTWAP, domain.AlgoTypeVWAP, domain.AlgoTypeIceberg:
	default:
		return domain.Validationf("type", "unknown algorithm type %q", p.Type)
	}
	if p.Symbol == "" {
		return domain.Validationf("symbol", "symbol is required")
	}
	switch p.Side {
	case domain.OrderSideBuy, domain.OrderSideSell:
	default:
		return domain.Validationf("side", "unknown side %q", p.Side)
	}
	if p.Qty <= 0 {
		return domain.Validationf("qty", "quantity must be positive, got %v", p.Qty)
	}
	if p.LimitPrice != nil && *p.LimitPrice <= 0 {
		return domain.Validationf("limit_price", "limit price must be positive")
	}
	if p.StartTime.IsZero() {
		p.StartTime = now
	}
	switch p.Type {
	case domain.AlgoTypeTWAP, domain.AlgoTypeVWAP:
		if !p.EndTime.After(p.StartTime) {
			return domain.Validationf("end_time", "end time must be after start time")
		}
		if p.Slices <= 0 {
			p.Slices = defaultCount
		}
	case domain.AlgoTypeIceberg:
		if p.DisplayQty <= 0 || p.DisplayQty > p.Qty {
			return domain.Validationf("display_qty",
				"display quantity must be in (0, total], got %v of %v", p.DisplayQty, p.Qty)
		}
	}
	return nil
}

// sliceQuantities splits the total quantity according to the algorithm.
// The final slice absorbs rounding so the parts always sum to the total.
func sliceQuantities(p *domain.AlgoParams) []float64 {
	switch p.Type {
	case domain.AlgoTypeVWAP:
		weights := vwapWeights(p.Slices)
		out := make([]float64, p.Slices)
		var used float64
		for i := 0; i < p.Slices-1; i++ {
			out[i] = p.Qty * weights[i]
			used += out[i]
		}
		out[p.Slices-1] = p.Qty - used
		return out
	case domain.AlgoTypeIceberg:
		var out []float64
		for remaining := p.Qty; remaining > 0; remaining -= p.DisplayQty {
			out = append(out, math.Min(p.DisplayQty, remaining))
		}
		return out
	default: // TWAP
		out := make([]float64, p.Slices)
		per := p.Qty / float64(p.Slices)
		var used float64
		for i := 0; i < p.Slices-1; i++ {
			out[i] = per
			used += per
		}
		out[p.Slices-1] = p.Qty - used
		return out
	}
}

// vwapWeights builds the synthetic volume profile: a bell over the slice
// index, floored at half weight so the tails never starve, normalized to
// sum to one.
func vwapWeights(n int) []float64 {
	if n == 1 {
		return []float64{1}
	}
	out := make([]float64, n)
	var sum float64
	for i := range out {
		x := float64(i)/float64(n-1) - 0.5
		out[i] = math.Max(0.5, 1-4*x*x)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// sliceDueNow reports whether the timed slice's schedule has arrived.
// Iceberg slices are revealed by fills, not by time: only the first is
// due at creation.
func sliceDueNow(parent *domain.AlgorithmicOrder, slice int, now time.Time) bool {
	if parent.Type == domain.AlgoTypeIceberg {
		return slice == 0
	}
	n := parent.Params.Slices
	if n <= 0 {
		return true
	}
	interval := parent.EndTime.Sub(parent.StartTime) / time.Duration(n)
	due := parent.StartTime.Add(time.Duration(slice) * interval)
	return !due.After(now)
}
