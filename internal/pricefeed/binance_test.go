package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasouyosou/internal/config"
)

const klinesBody = `[
	[1714564800000,"64000.10","64100.00","63900.00","64050.50","123.4",1714568399999,"0",10,"0","0","0"],
	[1714561200000,"63950.00","64010.00","63800.00","64000.10","99.9",1714564799999,"0",10,"0","0","0"]
]`

func testFeedConfig(url string) config.FeedConfig {
	return config.FeedConfig{BaseURL: url, Timeout: 2 * time.Second, RatePerSec: 1000, Burst: 10, MaxRetries: 2}
}

func TestBinanceFetchOHLCV(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	c := NewBinanceClient(testFeedConfig(srv.URL), nil)
	since := time.UnixMilli(1714561200000)
	candles, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", since, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Contains(t, gotQuery, "symbol=BTCUSDT")
	assert.Contains(t, gotQuery, "interval=1h")
	assert.Contains(t, gotQuery, "startTime=1714561200000")
	assert.Contains(t, gotQuery, "limit=2")

	// sorted ascending
	assert.Equal(t, int64(1714561200000), candles[0].Time.UnixMilli())
	assert.Equal(t, "63950", candles[0].Open.String())
	assert.Equal(t, "64050.5", candles[1].Close.String())
	assert.Equal(t, "123.4", candles[1].Volume.String())
}

func TestBinanceRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	c := NewBinanceClient(testFeedConfig(srv.URL), nil)
	candles, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBinanceClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := NewBinanceClient(testFeedConfig(srv.URL), nil)
	_, err := c.FetchOHLCV(context.Background(), "NOPE", "1h", time.Now(), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBinanceMalformedRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1714561200000,"1","2"]]`))
	}))
	defer srv.Close()

	c := NewBinanceClient(testFeedConfig(srv.URL), nil)
	_, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", time.Now(), 1)
	assert.Error(t, err)
}

func TestTimeframeDuration(t *testing.T) {
	tests := []struct {
		tf      string
		want    time.Duration
		wantErr bool
	}{
		{"1h", time.Hour, false},
		{"15m", 15 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"h", 0, true},
		{"0h", 0, true},
		{"1y", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.tf, func(t *testing.T) {
			got, err := TimeframeDuration(tt.tf)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
