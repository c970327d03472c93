package service

import (
	"time"

	"github.com/shopspring/decimal"

	"kasouyosou/internal/config"
)

// Rules are the game constants every service is constructed with.
type Rules struct {
	Symbol            string
	Timeframe         string
	Stake             int64
	BonusMultiplier   int64
	Threshold         decimal.Decimal
	DefaultPoints     int64
	AcceptWindow      time.Duration
	Horizon           time.Duration
	ChartLookback     time.Duration
	ChartLimit        int
	ResolutionPolicy  string
	ResolutionCandles int
}

func RulesFromConfig(g config.GameConfig) Rules {
	return Rules{
		Symbol:            g.Symbol,
		Timeframe:         g.Timeframe,
		Stake:             g.Stake,
		BonusMultiplier:   g.BonusMultiplier,
		Threshold:         decimal.NewFromFloat(g.Threshold),
		DefaultPoints:     g.DefaultPoints,
		AcceptWindow:      g.AcceptWindow,
		Horizon:           g.Horizon,
		ChartLookback:     g.ChartLookback,
		ChartLimit:        g.ChartLimit,
		ResolutionPolicy:  g.ResolutionPolicy,
		ResolutionCandles: g.ResolutionCandles,
	}
}

// DefaultRules mirrors the configuration defaults.
func DefaultRules() Rules {
	return Rules{
		Symbol:            "BTC/USDT",
		Timeframe:         "1h",
		Stake:             100,
		BonusMultiplier:   2,
		Threshold:         decimal.RequireFromString("0.003"),
		DefaultPoints:     1000,
		AcceptWindow:      30 * time.Minute,
		Horizon:           4 * time.Hour,
		ChartLookback:     24 * time.Hour,
		ChartLimit:        50,
		ResolutionPolicy:  PolicyWindow,
		ResolutionCandles: 3,
	}
}
