package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasouyosou/internal/pricefeed"
	"kasouyosou/internal/storage"
)

type fakeFeed struct {
	mu      sync.Mutex
	candles []pricefeed.Candle
	err     error
	calls   int
}

func (f *fakeFeed) FetchOHLCV(_ context.Context, _, _ string, since time.Time, limit int) ([]pricefeed.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []pricefeed.Candle
	for _, c := range f.candles {
		if c.Time.Before(since) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeFeed) setClose(at time.Time, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.candles {
		if f.candles[i].Time.Equal(at) {
			f.candles[i].Close = decimal.RequireFromString(price)
		}
	}
}

// hourlyCandles returns n flat candles at price, one per hour from start.
func hourlyCandles(start time.Time, n int, price string) []pricefeed.Candle {
	p := decimal.RequireFromString(price)
	out := make([]pricefeed.Candle, n)
	for i := range out {
		out[i] = pricefeed.Candle{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   p,
			High:   p,
			Low:    p,
			Close:  p,
			Volume: decimal.NewFromInt(50),
		}
	}
	return out
}

type recordingNotifier struct {
	mu      sync.Mutex
	opened  []*storage.GameRound
	settled []SettledRound
}

func (n *recordingNotifier) RoundOpened(_ context.Context, r *storage.GameRound) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, r)
}

func (n *recordingNotifier) RoundSettled(_ context.Context, s SettledRound) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, s)
}
