package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Game     GameConfig     `mapstructure:"game"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Cron     CronConfig     `mapstructure:"cron"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	AIWorker AIWorkerConfig `mapstructure:"ai_worker"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr    string   `mapstructure:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// GameConfig holds the round rules. Every service receives it explicitly.
type GameConfig struct {
	Symbol            string        `mapstructure:"symbol"`
	Timeframe         string        `mapstructure:"timeframe"`
	Stake             int64         `mapstructure:"stake"`
	BonusMultiplier   int64         `mapstructure:"bonus_multiplier"`
	Threshold         float64       `mapstructure:"threshold"`
	DefaultPoints     int64         `mapstructure:"default_points"`
	AcceptWindow      time.Duration `mapstructure:"accept_window"`
	Horizon           time.Duration `mapstructure:"horizon"`
	ChartLookback     time.Duration `mapstructure:"chart_lookback"`
	ChartLimit        int           `mapstructure:"chart_limit"`
	ResolutionPolicy  string        `mapstructure:"resolution_policy"`
	ResolutionCandles int           `mapstructure:"resolution_candles"`
}

type FeedConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CreateRound  string `mapstructure:"create_round"`
	SettleRounds string `mapstructure:"settle_rounds"`
	AIWorker     string `mapstructure:"ai_worker"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type TelegramConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
	AdminID   int64  `mapstructure:"admin_id"`
}

type AIWorkerConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ModelDir  string        `mapstructure:"model_dir"`
	Lookback  time.Duration `mapstructure:"lookback"`
	Users     []AIUser      `mapstructure:"users"`
	UsersJSON string        `mapstructure:"users_json"`
}

// AIUser binds an automated player to its model artifacts.
// The json tags accept the AI_USERS shape used by the deployment scripts.
type AIUser struct {
	UID    string `mapstructure:"uid" json:"uuid"`
	Model  string `mapstructure:"model" json:"file"`
	Scaler string `mapstructure:"scaler" json:"scaler_file"`
}

func Load(path string, envOnly bool) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("KY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if raw := strings.TrimSpace(cfg.AIWorker.UsersJSON); raw != "" {
		var users []AIUser
		if err := json.Unmarshal([]byte(raw), &users); err != nil {
			return Config{}, fmt.Errorf("failed to parse ai_worker.users_json: %w", err)
		}
		cfg.AIWorker.Users = users
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.path", "data/kasouyosou.db")
	v.SetDefault("db.busy_timeout", "5s")

	v.SetDefault("game.symbol", "BTC/USDT")
	v.SetDefault("game.timeframe", "1h")
	v.SetDefault("game.stake", 100)
	v.SetDefault("game.bonus_multiplier", 2)
	v.SetDefault("game.threshold", 0.003)
	v.SetDefault("game.default_points", 1000)
	v.SetDefault("game.accept_window", "30m")
	v.SetDefault("game.horizon", "4h")
	v.SetDefault("game.chart_lookback", "24h")
	v.SetDefault("game.chart_limit", 50)
	v.SetDefault("game.resolution_policy", "window")
	v.SetDefault("game.resolution_candles", 3)

	v.SetDefault("feed.base_url", "https://api.binance.com")
	v.SetDefault("feed.timeout", "10s")
	v.SetDefault("feed.rate_per_sec", 10)
	v.SetDefault("feed.burst", 5)
	v.SetDefault("feed.max_retries", 3)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "10m")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.create_round", "0 */5 * * * *")
	v.SetDefault("cron.settle_rounds", "30 */5 * * * *")
	v.SetDefault("cron.ai_worker", "0 10 * * * *")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "720h")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.channel_id", "")
	v.SetDefault("telegram.admin_id", 0)

	v.SetDefault("ai_worker.api_url", "http://localhost:8080")
	v.SetDefault("ai_worker.timeout", "10s")
	v.SetDefault("ai_worker.model_dir", "models")
	v.SetDefault("ai_worker.lookback", "30h")
	v.SetDefault("ai_worker.users_json", "")
}

// Validate rejects rule combinations the round lifecycle cannot honor.
func (c Config) Validate() error {
	g := c.Game
	if g.Stake <= 0 {
		return fmt.Errorf("game.stake must be positive, got %d", g.Stake)
	}
	if g.BonusMultiplier <= 0 {
		return fmt.Errorf("game.bonus_multiplier must be positive, got %d", g.BonusMultiplier)
	}
	if g.Threshold <= 0 || g.Threshold >= 1 {
		return fmt.Errorf("game.threshold must be in (0, 1), got %v", g.Threshold)
	}
	if g.AcceptWindow <= 0 {
		return fmt.Errorf("game.accept_window must be positive")
	}
	if g.Horizon < g.AcceptWindow {
		return fmt.Errorf("game.horizon (%s) must not be shorter than game.accept_window (%s)", g.Horizon, g.AcceptWindow)
	}
	switch g.ResolutionPolicy {
	case "window", "candle":
	default:
		return fmt.Errorf("game.resolution_policy must be window or candle, got %q", g.ResolutionPolicy)
	}
	return nil
}
