package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DefaultJWTSecret is the development token secret used when JWT_SECRET is unset.
const DefaultJWTSecret = "dev-secret"

// ErrDefaultJWTSecret rejects the development secret on mainnet.
var ErrDefaultJWTSecret = errors.New("JWT_SECRET must be set when trading on mainnet")

// Config holds environment-driven settings for the trading agent.
type Config struct {
	Port     string
	GRPCPort string // empty disables the gRPC health server

	// Routing
	PrimaryExchange   string
	FailoverExchanges []string
	RequireCleanDrain bool

	// Trading loop
	Symbols         []string
	Timeframe       string
	CandleLimit     int
	TradingInterval time.Duration

	// Scheduler
	HealthCheckInterval time.Duration
	EnvCheckInterval    time.Duration
	ReconcileInterval   time.Duration

	// Credentials
	BybitAPIKey      string
	BybitAPISecret   string
	BinanceAPIKey    string
	BinanceAPISecret string

	PaperInitialBalance float64

	// Risk
	RiskPct              float64
	ATRMultiplier        float64
	TrailingBreakevenATR float64
	TrailingStepATR      float64
	MaxLeverage          float64
	MaxDrawdownPct       float64
	MaxExposurePct       float64

	// Environment manager
	Env                     string
	AutoSwitchEnabled       bool
	TestnetDurationHours    int
	MinTradesForSwitch      int
	MaxDrawdownPctForSwitch float64
	EnvConfigPath           string
	ExchangeConfigRoot      string

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Telemetry
	OTLPEndpoint string
	NATSURL      string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                    getEnv("PORT", "8080"),
		GRPCPort:                getEnv("GRPC_PORT", ""),
		PrimaryExchange:         strings.ToLower(getEnv("PRIMARY_EXCHANGE", "bybit")),
		FailoverExchanges:       splitAndTrim(strings.ToLower(getEnv("FAILOVER_EXCHANGES", "binance,paper"))),
		RequireCleanDrain:       getEnvBool("REQUIRE_CLEAN_DRAIN", false),
		Symbols:                 splitAndTrim(getEnv("TRADING_SYMBOLS", "BTCUSDT")),
		Timeframe:               getEnv("TIMEFRAME", "15m"),
		CandleLimit:             getEnvInt("CANDLE_LIMIT", 500),
		TradingInterval:         getEnvSeconds("TRADING_INTERVAL_SECONDS", 60),
		HealthCheckInterval:     getEnvSeconds("HEALTH_CHECK_INTERVAL_SECONDS", 60),
		EnvCheckInterval:        getEnvSeconds("ENV_CHECK_INTERVAL_SECONDS", 300),
		ReconcileInterval:       getEnvSeconds("RECONCILE_INTERVAL_SECONDS", 120),
		BybitAPIKey:             os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:          os.Getenv("BYBIT_API_SECRET"),
		BinanceAPIKey:           os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:        os.Getenv("BINANCE_API_SECRET"),
		PaperInitialBalance:     getEnvFloat("PAPER_INITIAL_BALANCE", 10000.0),
		RiskPct:                 getEnvFloat("RISK_PCT", 0.01),
		ATRMultiplier:           getEnvFloat("ATR_MULTIPLIER", 1.5),
		TrailingBreakevenATR:    getEnvFloat("TRAILING_BREAKEVEN_ATR", 1.0),
		TrailingStepATR:         getEnvFloat("TRAILING_STEP_ATR", 0.5),
		MaxLeverage:             getEnvFloat("MAX_LEVERAGE", 3),
		MaxDrawdownPct:          getEnvFloat("MAX_DRAWDOWN_PERCENT", 10),
		MaxExposurePct:          getEnvFloat("MAX_EXPOSURE_PERCENT", 50),
		Env:                     strings.ToLower(getEnv("DEEPAGENT_ENV", "testnet")),
		AutoSwitchEnabled:       getEnvBool("DEEPAGENT_AUTO_SWITCH_ENABLED", true),
		TestnetDurationHours:    getEnvInt("DEEPAGENT_TESTNET_DURATION_HOURS", 48),
		MinTradesForSwitch:      getEnvInt("DEEPAGENT_MIN_TRADES_FOR_SWITCH", 10),
		MaxDrawdownPctForSwitch: getEnvFloat("DEEPAGENT_MAX_DRAWDOWN_PCT_FOR_SWITCH", 4.0),
		EnvConfigPath:           getEnv("DEEPAGENT_ENV_CONFIG_PATH", "config/env.yaml"),
		ExchangeConfigRoot:      getEnv("EXCHANGE_CONFIG_ROOT", "config"),
		DBPath:                  getEnv("DB_PATH", "./data/kraken.db"),
		JWTSecret:               getEnv("JWT_SECRET", DefaultJWTSecret),
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		NATSURL:                 os.Getenv("NATS_URL"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvSeconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}

// CheckJWTSecret refuses the development secret when env is mainnet and
// warns about it otherwise, since the same token can promote to mainnet.
func (c *Config) CheckJWTSecret(env string) error {
	if c.JWTSecret != DefaultJWTSecret {
		return nil
	}
	if strings.EqualFold(env, "mainnet") {
		return ErrDefaultJWTSecret
	}
	logrus.WithField("component", "config").Warn("JWT_SECRET not set, using the development secret")
	return nil
}
