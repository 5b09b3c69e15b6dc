package bus

import (
	"testing"

	"callisto/internal/domain"
)

func TestHandlerDispatchOrder(t *testing.T) {
	b := New()
	var calls []string
	b.Handle(func(Event) { calls = append(calls, "first") }, OrderFilled)
	b.Handle(func(Event) { calls = append(calls, "second") }, OrderFilled)
	b.Handle(func(Event) { calls = append(calls, "other") }, OrderCanceled)

	b.Publish(Event{Kind: OrderFilled})

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("handler calls = %v, want [first second] in registration order", calls)
	}
}

func TestHandlerAllKinds(t *testing.T) {
	b := New()
	count := 0
	b.Handle(func(Event) { count++ })

	b.Publish(Event{Kind: OrderAdded})
	b.Publish(Event{Kind: PortfolioRefreshed})
	b.Publish(Event{Kind: RiskViolation})

	if count != 3 {
		t.Errorf("catch-all handler saw %d events, want 3", count)
	}
}

func TestSubscribeFiltered(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(8, OrderFilled)
	defer b.Unsubscribe(id)

	b.Publish(Event{Kind: OrderAdded, Order: &domain.Order{ID: "o-1"}})
	b.Publish(Event{Kind: OrderFilled, Order: &domain.Order{ID: "o-2"}})

	evt := <-ch
	if evt.Kind != OrderFilled || evt.Order.ID != "o-2" {
		t.Errorf("got %s for %s, want order_filled for o-2", evt.Kind, evt.Order.ID)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra event %s", extra.Kind)
	default:
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	// Fill the buffer, then publish more; Publish must not block.
	b.Publish(Event{Kind: OrderAdded})
	b.Publish(Event{Kind: OrderUpdated})
	b.Publish(Event{Kind: OrderFilled})

	evt := <-ch
	if evt.Kind != OrderAdded {
		t.Errorf("first buffered event = %s, want order_added", evt.Kind)
	}
	select {
	case evt := <-ch:
		t.Errorf("buffer of 1 should have dropped later events, got %s", evt.Kind)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(1)
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Kind: OrderAdded})
}

func TestPublishStampsTime(t *testing.T) {
	b := New()
	var got Event
	b.Handle(func(e Event) { got = e })
	b.Publish(Event{Kind: OrderAdded})
	if got.At.IsZero() {
		t.Error("Publish should stamp a zero At with the current time")
	}
}

func TestHandlerMayPublishFollowUp(t *testing.T) {
	b := New()
	var kinds []Kind
	b.Handle(func(e Event) {
		kinds = append(kinds, e.Kind)
		if e.Kind == PortfolioRefreshed {
			b.Publish(Event{Kind: RiskViolation})
		}
	})
	b.Publish(Event{Kind: PortfolioRefreshed})

	if len(kinds) != 2 || kinds[1] != RiskViolation {
		t.Errorf("kinds = %v, want portfolio_refreshed then risk_violation", kinds)
	}
}
