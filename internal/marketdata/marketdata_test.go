package marketdata

import (
	"context"
	"testing"

	"callisto/internal/bus"
	"callisto/internal/domain"
)

func TestCacheReferencePrice(t *testing.T) {
	c := NewCache(nil)

	if _, err := c.ReferencePrice(context.Background(), "AAPL"); !domain.IsNotFound(err) {
		t.Errorf("ReferencePrice without a quote returned %v, want NotFoundError", err)
	}

	c.Update(domain.Quote{Symbol: "AAPL", Bid: 99, Ask: 101})
	ref, err := c.ReferencePrice(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("ReferencePrice returned error: %v", err)
	}
	if ref != 100 {
		t.Errorf("ReferencePrice = %v, want 100", ref)
	}
}

func TestCachePublishesQuoteEvents(t *testing.T) {
	b := bus.New()
	c := NewCache(b)
	id, ch := b.Subscribe(4, bus.QuoteUpdated)
	defer b.Unsubscribe(id)

	c.Update(domain.Quote{Symbol: "MSFT", Bid: 400, Ask: 400.2})

	evt := <-ch
	if evt.Quote == nil || evt.Quote.Symbol != "MSFT" {
		t.Fatalf("quote event = %+v, want quote for MSFT", evt)
	}
	if evt.Quote.Timestamp.IsZero() {
		t.Error("cache should stamp quotes that arrive without a timestamp")
	}
}

func TestWalkDeterministic(t *testing.T) {
	symbols := []string{"AAPL", "MSFT"}

	path := func(seed int64, steps int) []float64 {
		w := NewWalk(NewCache(nil), symbols, 100, seed)
		out := make([]float64, 0, steps*len(symbols))
		for i := 0; i < steps; i++ {
			w.Step()
			for _, sym := range symbols {
				out = append(out, w.Price(sym))
			}
		}
		return out
	}

	a, b := path(42, 25), path(42, 25)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at step %d: %v != %v", i, a[i], b[i])
		}
	}

	c := path(43, 25)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical paths")
	}
}

func TestWalkFeedsCache(t *testing.T) {
	cache := NewCache(nil)
	w := NewWalk(cache, []string{"AAPL"}, 50, 7)
	w.Step()

	q, ok := cache.Quote("AAPL")
	if !ok {
		t.Fatal("walk step did not publish a quote into the cache")
	}
	if q.Bid <= 0 || q.Ask <= q.Bid {
		t.Errorf("quote %+v, want positive bid below ask", q)
	}
	if q.Mid() <= 0 {
		t.Errorf("mid = %v, want positive", q.Mid())
	}
}

func TestWalkPriceStaysPositive(t *testing.T) {
	w := NewWalk(NewCache(nil), []string{"PENNY"}, 1, 1)
	for i := 0; i < 5000; i++ {
		w.Step()
	}
	if p := w.Price("PENNY"); p <= 0 {
		t.Errorf("price fell to %v after 5000 steps, want > 0", p)
	}
}
