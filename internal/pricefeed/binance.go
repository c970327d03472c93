package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kasouyosou/internal/config"
	"kasouyosou/internal/logger"
)

const (
	defaultBaseURL = "https://api.binance.com"
	baseRetryWait  = 500 * time.Millisecond
	maxKlines      = 1000
)

// BinanceClient reads public klines. Every request is rate limited and
// retried with exponential backoff on network errors, 429 and 5xx.
type BinanceClient struct {
	http       *http.Client
	baseURL    string
	limiter    *rate.Limiter
	maxRetries int
	log        *zap.Logger
}

func NewBinanceClient(cfg config.FeedConfig, log *zap.Logger) *BinanceClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &BinanceClient{
		http:       &http.Client{Timeout: timeout},
		baseURL:    base,
		limiter:    rate.NewLimiter(rate.Limit(perSec), burst),
		maxRetries: retries,
		log:        logger.OrNop(log),
	}
}

func (c *BinanceClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]Candle, error) {
	if _, err := TimeframeDuration(timeframe); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxKlines {
		limit = maxKlines
	}
	q := url.Values{}
	q.Set("symbol", ExchangeSymbol(symbol))
	q.Set("interval", timeframe)
	q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + "/api/v3/klines?" + q.Encode()

	// [openTime, open, high, low, close, volume, closeTime, ...]
	var raw [][]json.Number
	if err := c.get(ctx, endpoint, &raw); err != nil {
		return nil, err
	}

	out := make([]Candle, 0, len(raw))
	for i, row := range raw {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d has %d fields", i, len(row))
		}
		ms, err := row[0].Int64()
		if err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		var vals [5]decimal.Decimal
		for j := range vals {
			d, err := decimal.NewFromString(row[j+1].String())
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			vals[j] = d
		}
		out = append(out, Candle{
			Time:   time.UnixMilli(ms).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return sortCandles(out), nil
}

func (c *BinanceClient) get(ctx context.Context, endpoint string, out any) error {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == c.maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			c.log.Warn("feed_request_retry", zap.Int("attempt", attempt+1), zap.Error(err))
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == c.maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, attempt)
			}
			c.log.Warn("feed_request_retry", zap.Int("attempt", attempt+1), zap.Int("status", resp.StatusCode))
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", c.maxRetries)
}

func (c *BinanceClient) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
