package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	md "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"callisto/internal/domain"
)

// AlpacaFeed consumes the Alpaca real-time quote stream and pushes
// normalized quotes into the cache.
type AlpacaFeed struct {
	cache   *Cache
	symbols []string
	client  *stream.StocksClient
	log     *slog.Logger
}

// NewAlpacaFeed creates a feed subscribed to quotes for the given symbols.
// An empty streamURL uses the SDK default endpoint.
func NewAlpacaFeed(cache *Cache, apiKey, apiSecret, streamURL string, symbols []string) *AlpacaFeed {
	f := &AlpacaFeed{
		cache:   cache,
		symbols: symbols,
		log:     slog.Default().With("feed", "alpaca"),
	}

	opts := []stream.StockOption{
		stream.WithCredentials(apiKey, apiSecret),
		stream.WithReconnectSettings(20, 2*time.Second),
		stream.WithQuotes(f.onQuote, symbols...),
	}
	if streamURL != "" {
		opts = append(opts, stream.WithBaseURL(streamURL))
	}
	f.client = stream.NewStocksClient(md.IEX, opts...)
	return f
}

func (f *AlpacaFeed) onQuote(q stream.Quote) {
	f.cache.Update(domain.Quote{
		Symbol:    q.Symbol,
		Bid:       q.BidPrice,
		Ask:       q.AskPrice,
		BidSize:   float64(q.BidSize),
		AskSize:   float64(q.AskSize),
		Timestamp: q.Timestamp,
	})
}

// Run connects to the stream and blocks until the connection terminates or
// ctx is cancelled.
func (f *AlpacaFeed) Run(ctx context.Context) error {
	f.log.Info("connecting to alpaca quote stream", "symbols", len(f.symbols))
	if err := f.client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting quote stream: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-f.client.Terminated():
		if err != nil {
			return fmt.Errorf("quote stream terminated: %w", err)
		}
		return nil
	}
}
