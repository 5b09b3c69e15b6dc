// Package bus carries typed engine events between components: order
// lifecycle transitions out of the OMS, portfolio refreshes out of the
// position tracker, risk violations and strategy control out of the risk
// monitor. Handlers are invoked synchronously on the publisher's goroutine
// and run to completion in registration order; channel subscriptions are
// buffered taps for observers (API streaming, logging) and drop events
// rather than block the engine.
package bus

import (
	"sync"
	"time"

	"callisto/internal/domain"
)

// Kind identifies what an event describes.
type Kind string

const (
	OrderAdded           Kind = "order_added"
	OrderUpdated         Kind = "order_updated"
	OrderFilled          Kind = "order_filled"
	OrderPartiallyFilled Kind = "order_partially_filled"
	OrderCanceled        Kind = "order_canceled"
	OrderRejected        Kind = "order_rejected"
	OrderExpired         Kind = "order_expired"
	PortfolioRefreshed   Kind = "portfolio_refreshed"
	QuoteUpdated         Kind = "quote_updated"
	RiskViolation        Kind = "risk_violation"
	StrategyPaused       Kind = "strategy_paused"
	StrategyResumed      Kind = "strategy_resumed"
	AllStrategiesPaused  Kind = "all_strategies_paused"
)

// Event is one engine notification. Only the payload fields relevant to the
// Kind are set: order events carry Order (and Report when a fill produced
// one), portfolio events carry Portfolio, risk events carry Limit and
// Check, strategy control events carry StrategyID.
type Event struct {
	Kind       Kind                    `json:"kind"`
	At         time.Time               `json:"at"`
	Order      *domain.Order           `json:"order,omitempty"`
	Report     *domain.ExecutionReport `json:"report,omitempty"`
	Portfolio  *domain.Portfolio       `json:"portfolio,omitempty"`
	Quote      *domain.Quote           `json:"quote,omitempty"`
	Limit      *domain.RiskLimit       `json:"limit,omitempty"`
	Check      *domain.RiskCheckResult `json:"check,omitempty"`
	StrategyID string                  `json:"strategy_id,omitempty"`
	Message    string                  `json:"message,omitempty"`
}

// Handler is a synchronous event callback. Handlers own the engine's
// derived state and must not block on slow I/O.
type Handler func(Event)

type registration struct {
	kinds   map[Kind]bool // nil = all kinds
	handler Handler
}

type subscriber struct {
	kinds map[Kind]bool // nil = all kinds
	ch    chan Event
}

// Bus fans events out to synchronous handlers and buffered channel
// subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers []registration

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]subscriber
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

func kindSet(kinds []Kind) map[Kind]bool {
	if len(kinds) == 0 {
		return nil
	}
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// Handle registers a synchronous handler for the given kinds. No kinds
// means every kind. Registration order is dispatch order.
func (b *Bus) Handle(h Handler, kinds ...Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, registration{kinds: kindSet(kinds), handler: h})
}

// Subscribe creates a buffered tap for the given kinds. No kinds means
// every kind. The returned channel is closed by Unsubscribe.
func (b *Bus) Subscribe(bufSize int, kinds ...Kind) (id int, ch <-chan Event) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	id = b.nextSubID
	b.nextSubID++
	c := make(chan Event, bufSize)
	b.subs[id] = subscriber{kinds: kindSet(kinds), ch: c}
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish dispatches the event to every matching handler, then to every
// matching subscriber. A zero At is stamped with the current time.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	// Copy the handler list so a handler that publishes a follow-up event
	// does not re-enter the lock.
	b.mu.RLock()
	regs := make([]registration, len(b.handlers))
	copy(regs, b.handlers)
	b.mu.RUnlock()

	for _, reg := range regs {
		if reg.kinds == nil || reg.kinds[evt.Kind] {
			reg.handler(evt)
		}
	}

	b.subsMu.Lock()
	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[evt.Kind] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
	b.subsMu.Unlock()
}
