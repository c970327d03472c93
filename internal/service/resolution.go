package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kasouyosou/internal/apperr"
	"kasouyosou/internal/pricefeed"
	"kasouyosou/internal/storage"
)

// Resolution policies.
const (
	PolicyWindow = "window"
	PolicyCandle = "candle"
)

// Resolution is the price a round is judged by, plus the chart points shown after start.
type Resolution struct {
	Price decimal.Decimal
	After []storage.PricePoint
}

// PriceResolver derives a round's resolution price from the feed.
// Implementations must be deterministic for the same upstream data.
type PriceResolver interface {
	Resolve(ctx context.Context, round *storage.GameRound) (Resolution, error)
}

// NewResolver builds the resolver named by rules.ResolutionPolicy.
func NewResolver(feed pricefeed.Feed, rules Rules) (PriceResolver, error) {
	step, err := pricefeed.TimeframeDuration(rules.Timeframe)
	if err != nil {
		return nil, err
	}
	switch rules.ResolutionPolicy {
	case PolicyWindow, "":
		n := rules.ResolutionCandles
		if n <= 0 {
			n = 3
		}
		return &WindowResolver{feed: feed, symbol: rules.Symbol, timeframe: rules.Timeframe, step: step, candles: n}, nil
	case PolicyCandle:
		return &CandleResolver{feed: feed, symbol: rules.Symbol, timeframe: rules.Timeframe, step: step}, nil
	}
	return nil, fmt.Errorf("unknown resolution policy %q", rules.ResolutionPolicy)
}

// WindowResolver uses the close of the last candle in the look-back window
// ending at target_at, and appends a synthesized point at that candle's close time.
type WindowResolver struct {
	feed      pricefeed.Feed
	symbol    string
	timeframe string
	step      time.Duration
	candles   int
}

func (r *WindowResolver) Resolve(ctx context.Context, round *storage.GameRound) (Resolution, error) {
	since := round.TargetAt.Add(-time.Duration(r.candles) * r.step)
	candles, err := r.feed.FetchOHLCV(ctx, r.symbol, r.timeframe, since, r.candles)
	if err != nil {
		return Resolution{}, apperr.Wrap(apperr.KindUpstream, "price feed unavailable", err)
	}

	var closed []pricefeed.Candle
	for _, c := range candles {
		if c.Time.Before(since) || c.Time.Add(r.step).After(round.TargetAt) {
			continue
		}
		closed = append(closed, c)
	}
	if len(closed) == 0 {
		return Resolution{}, apperr.New(apperr.KindUpstream, fmt.Sprintf("no closed candles before %s", round.TargetAt.Format(time.RFC3339)))
	}

	last := closed[len(closed)-1]
	after := make([]storage.PricePoint, 0, len(closed)+1)
	for _, c := range closed {
		after = append(after, storage.PricePoint{Time: c.Time, Price: c.Open})
	}
	after = append(after, storage.PricePoint{Time: last.Time.Add(r.step), Price: last.Close})
	return Resolution{Price: last.Close, After: after}, nil
}

// CandleResolver uses the close of the single candle opening at target_at - 1 step.
type CandleResolver struct {
	feed      pricefeed.Feed
	symbol    string
	timeframe string
	step      time.Duration
}

func (r *CandleResolver) Resolve(ctx context.Context, round *storage.GameRound) (Resolution, error) {
	open := round.TargetAt.Add(-r.step)
	candles, err := r.feed.FetchOHLCV(ctx, r.symbol, r.timeframe, open, 1)
	if err != nil {
		return Resolution{}, apperr.Wrap(apperr.KindUpstream, "price feed unavailable", err)
	}
	for _, c := range candles {
		if c.Time.Equal(open) {
			return Resolution{
				Price: c.Close,
				After: []storage.PricePoint{
					{Time: c.Time, Price: c.Open},
					{Time: c.Time.Add(r.step), Price: c.Close},
				},
			}, nil
		}
	}
	return Resolution{}, apperr.New(apperr.KindUpstream, fmt.Sprintf("no candle at %s", open.Format(time.RFC3339)))
}
