package pricefeed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kasouyosou/internal/cache"
	"kasouyosou/internal/logger"
)

// CachedFeed memoizes complete, fully closed candle sets. Results that could
// still change (a short page, or a candle still open) always go upstream.
type CachedFeed struct {
	feed  Feed
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

func NewCachedFeed(feed Feed, store cache.Store, ttl time.Duration, log *zap.Logger) *CachedFeed {
	return &CachedFeed{feed: feed, store: store, ttl: ttl, now: time.Now, log: logger.OrNop(log)}
}

func (f *CachedFeed) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]Candle, error) {
	step, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("ohlcv:%s:%s:%d:%d", ExchangeSymbol(symbol), timeframe, since.UnixMilli(), limit)

	var cached []Candle
	found, err := cache.GetJSON(ctx, f.store, key, &cached)
	if err != nil {
		f.log.Warn("candle_cache_get_failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		return cached, nil
	}

	candles, err := f.feed.FetchOHLCV(ctx, symbol, timeframe, since, limit)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(candles) == limit && !candles[len(candles)-1].Time.Add(step).After(f.now()) {
		if err := cache.SetJSON(ctx, f.store, key, candles, f.ttl); err != nil {
			f.log.Warn("candle_cache_set_failed", zap.String("key", key), zap.Error(err))
		}
	}
	return candles, nil
}
