// Package oms owns the order book of record. Every order the engine
// touches enters through Manager.AddOrUpdateOrder, which enforces the
// lifecycle state machine, journals the result, and publishes exactly one
// event per mutation. A background reconciler keeps the book aligned with
// the venue.
package oms

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callisto/internal/bus"
	"callisto/internal/domain"
	"callisto/internal/store"
)

// Manager is the in-memory order book of record.
type Manager struct {
	mu       sync.RWMutex
	orders   map[string]*domain.Order
	sequence []string          // insertion order
	byVenue  map[string]string // venue order ID -> engine order ID

	bus     *bus.Bus
	journal store.OrderStore  // optional
	fills   store.ReportStore // optional
	log     *slog.Logger
}

// NewManager creates an empty order book publishing on b. A nil journal
// disables persistence.
func NewManager(b *bus.Bus, journal store.OrderStore) *Manager {
	return &Manager{
		orders:  make(map[string]*domain.Order),
		byVenue: make(map[string]string),
		bus:     b,
		journal: journal,
		log:     slog.Default().With("component", "oms"),
	}
}

// SetReportJournal enables fill-report persistence. Reports are journaled
// in the same mutation path that derives and publishes them.
func (m *Manager) SetReportJournal(rs store.ReportStore) {
	m.fills = rs
}

// AddOrUpdateOrder is the single mutation entry for the order book. An
// unknown ID adds the order; a known ID replaces the stored state. Orders
// already in a terminal status reject further updates with a StateError.
// Every successful call publishes exactly one event whose kind reflects
// the transition.
func (m *Manager) AddOrUpdateOrder(order *domain.Order) error {
	if order == nil || order.ID == "" {
		return domain.Validationf("id", "must not be empty")
	}

	now := time.Now()
	rec := order.Clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	m.mu.Lock()
	existing, known := m.orders[rec.ID]

	if !known {
		m.orders[rec.ID] = rec
		m.sequence = append(m.sequence, rec.ID)
		if rec.VenueOrderID != "" {
			m.byVenue[rec.VenueOrderID] = rec.ID
		}
		m.mu.Unlock()

		m.journalOrder(rec)
		m.publish(bus.Event{Kind: bus.OrderAdded, Order: rec.Clone()})
		return nil
	}

	if existing.Status.Terminal() {
		m.mu.Unlock()
		return &domain.StateError{OrderID: rec.ID, Status: existing.Status, Op: "update"}
	}

	kind, report := transition(existing, rec, now)
	m.orders[rec.ID] = rec
	if rec.VenueOrderID != "" {
		m.byVenue[rec.VenueOrderID] = rec.ID
	}
	m.mu.Unlock()

	m.journalOrder(rec)
	m.journalReport(report)
	m.publish(bus.Event{Kind: kind, Order: rec.Clone(), Report: report})
	return nil
}

// transition classifies the update and derives a fill report for any new
// fill quantity. Caller holds m.mu.
func transition(prev, next *domain.Order, now time.Time) (bus.Kind, *domain.ExecutionReport) {
	var report *domain.ExecutionReport
	delta := next.FilledQty - prev.FilledQty
	if delta > 1e-9 {
		// Per-fill price backed out of the running average.
		price := next.FilledAvgPrice
		if prevQty := prev.FilledQty; prevQty > 0 && next.FilledQty > 0 {
			price = (next.FilledAvgPrice*next.FilledQty - prev.FilledAvgPrice*prevQty) / delta
		}
		report = &domain.ExecutionReport{
			ID:         domain.NewID(),
			OrderID:    next.ID,
			Symbol:     next.Symbol,
			Side:       next.Side,
			FillQty:    delta,
			FillPrice:  price,
			ExecutedAt: now,
		}
		if next.FilledAt != nil {
			report.ExecutedAt = *next.FilledAt
		}
	}

	switch {
	case next.Status == domain.OrderStatusFilled && prev.Status != domain.OrderStatusFilled:
		return bus.OrderFilled, report
	case next.Status == domain.OrderStatusPartiallyFilled && report != nil:
		return bus.OrderPartiallyFilled, report
	case next.Status == domain.OrderStatusPartiallyFilled && prev.Status != domain.OrderStatusPartiallyFilled:
		return bus.OrderPartiallyFilled, report
	case next.Status == domain.OrderStatusCanceled && prev.Status != domain.OrderStatusCanceled:
		return bus.OrderCanceled, report
	case next.Status == domain.OrderStatusRejected && prev.Status != domain.OrderStatusRejected:
		return bus.OrderRejected, report
	case next.Status == domain.OrderStatusExpired && prev.Status != domain.OrderStatusExpired:
		return bus.OrderExpired, report
	default:
		return bus.OrderUpdated, report
	}
}

// Order returns a copy of the order with the given engine ID.
func (m *Manager) Order(id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "order", ID: id}
	}
	return order.Clone(), nil
}

// OrderByVenueID returns a copy of the order the venue knows by venueID.
func (m *Manager) OrderByVenueID(venueID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byVenue[venueID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "order", ID: venueID}
	}
	return m.orders[id].Clone(), nil
}

// Orders returns copies of all orders matching the filter, oldest first.
func (m *Manager) Orders(filter domain.OrderFilter) []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0, len(m.sequence))
	for _, id := range m.sequence {
		o := m.orders[id]
		if filter.Match(o) {
			out = append(out, *o.Clone())
		}
	}
	return out
}

// ActiveOrders returns copies of every non-terminal order, oldest first.
func (m *Manager) ActiveOrders() []domain.Order {
	return m.Orders(domain.OrderFilter{ActiveOnly: true})
}

// Counts returns the number of orders per status.
func (m *Manager) Counts() map[domain.OrderStatus]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[domain.OrderStatus]int)
	for _, o := range m.orders {
		counts[o.Status]++
	}
	return counts
}

// Restore loads journaled orders into the book without publishing events.
// Call once at startup before any mutation.
func (m *Manager) Restore(ctx context.Context) error {
	if m.journal == nil {
		return nil
	}
	orders, err := m.journal.ListOrders(ctx, domain.OrderFilter{})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range orders {
		o := orders[i].Clone()
		if _, known := m.orders[o.ID]; known {
			continue
		}
		m.orders[o.ID] = o
		m.sequence = append(m.sequence, o.ID)
		if o.VenueOrderID != "" {
			m.byVenue[o.VenueOrderID] = o.ID
		}
	}
	m.log.Info("Order book restored.", "orders", len(orders))
	return nil
}

// journalOrder persists the order best-effort. The in-memory book is the
// runtime source of truth; a journal failure is logged and the next
// mutation or reconcile pass retries the write.
func (m *Manager) journalOrder(order *domain.Order) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.journal.SaveOrder(ctx, order.Clone()); err != nil {
		m.log.Error("Journaling order failed.", "order_id", order.ID, "error", err)
	}
}

// journalReport persists a derived fill report best-effort, same contract
// as journalOrder.
func (m *Manager) journalReport(report *domain.ExecutionReport) {
	if m.fills == nil || report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.fills.SaveReport(ctx, report); err != nil {
		m.log.Error("Journaling report failed.", "order_id", report.OrderID, "error", err)
	}
}

func (m *Manager) publish(evt bus.Event) {
	if m.bus != nil {
		m.bus.Publish(evt)
	}
}
