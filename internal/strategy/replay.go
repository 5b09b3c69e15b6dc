package strategy

import (
	"context"
	"fmt"

	"callisto/internal/domain"
)

// ReplayResult summarizes one historical replay of a strategy.
type ReplayResult struct {
	Bars    int
	Signals []domain.Signal
}

// Replay runs a strategy over a historical bar series and collects the
// signals it would have emitted. It drives the same OnBar path the live
// runner uses, so replayed and live behavior cannot diverge.
func Replay(ctx context.Context, s Strategy, bars []domain.Bar) (*ReplayResult, error) {
	if err := s.Init(ctx); err != nil {
		return nil, fmt.Errorf("init strategy %s: %w", s.Name(), err)
	}
	res := &ReplayResult{}
	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sigs, err := s.OnBar(ctx, bar)
		if err != nil {
			return nil, fmt.Errorf("replay bar %s %s: %w", bar.Symbol, bar.Timestamp.Format("2006-01-02 15:04"), err)
		}
		res.Bars++
		res.Signals = append(res.Signals, sigs...)
	}
	return res, nil
}
