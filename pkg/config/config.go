// Package config reads environment-driven settings, optionally from a
// .env file, and the risk limits YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aadilkhann/QuantX/internal/risk"
)

// Config holds environment-driven settings for the trading platform.
type Config struct {
	Port      string
	JWTSecret string

	// Venue selection: "paper" or "zerodha".
	Broker  string
	Symbols []string

	// Zerodha credentials
	KiteAPIKey      string
	KiteAccessToken string
	KiteProduct     string

	// Paper venue
	InitialCapital    float64
	SlippageBps       float64
	CommissionFlat    float64
	CommissionPS      float64
	PartialFillChance float64

	// Market data
	UseMockFeed  bool
	FeedURL      string
	TickInterval time.Duration

	// Strategy
	Strategy       string
	StrategyParams map[string]any

	// Engine timing
	ReconcileInterval time.Duration
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration

	// Database
	DBPath string

	// Risk limits YAML path
	RiskLimitsPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		Broker:  getEnv("BROKER", "paper"),
		Symbols: splitAndTrim(getEnv("SYMBOLS", "RELIANCE,TCS,INFY")),

		KiteAPIKey:      getEnv("KITE_API_KEY", ""),
		KiteAccessToken: getEnv("KITE_ACCESS_TOKEN", ""),
		KiteProduct:     getEnv("KITE_PRODUCT", "MIS"),

		InitialCapital:    getEnvFloat("INITIAL_CAPITAL", 100_000),
		SlippageBps:       getEnvFloat("SLIPPAGE_BPS", 2),
		CommissionFlat:    getEnvFloat("COMMISSION_FLAT", 0),
		CommissionPS:      getEnvFloat("COMMISSION_PER_SHARE", 0),
		PartialFillChance: getEnvFloat("PARTIAL_FILL_CHANCE", 0),

		UseMockFeed:  getEnv("USE_MOCK_FEED", "true") == "true",
		FeedURL:      getEnv("FEED_URL", ""),
		TickInterval: getEnvDuration("TICK_INTERVAL", time.Second),

		Strategy: getEnv("STRATEGY", "noop"),
		StrategyParams: map[string]any{
			"fast":     getEnvInt("STRATEGY_FAST", 10),
			"slow":     getEnvInt("STRATEGY_SLOW", 30),
			"quantity": getEnvInt("STRATEGY_QUANTITY", 1),
		},

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		DBPath:         getEnv("DB_PATH", "./data/quantx.db"),
		RiskLimitsPath: getEnv("RISK_LIMITS_PATH", ""),
	}
	cfg.StrategyParams["symbols"] = cfg.Symbols

	if cfg.Broker == "zerodha" && (cfg.KiteAPIKey == "" || cfg.KiteAccessToken == "") {
		return nil, fmt.Errorf("config: BROKER=zerodha requires KITE_API_KEY and KITE_ACCESS_TOKEN")
	}
	return cfg, nil
}

// LoadLimits reads risk limits from a YAML file. An empty path returns
// conservative defaults.
func LoadLimits(path string) (risk.Limits, error) {
	limits := risk.Limits{
		MaxPositionSizePct: 0.10,
		MaxDailyLoss:       1000,
		MaxDrawdownPct:     0.15,
		MaxOpenPositions:   10,
	}
	if path == "" {
		return limits, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return limits, fmt.Errorf("config: read risk limits: %w", err)
	}
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return limits, fmt.Errorf("config: parse risk limits: %w", err)
	}
	return limits, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
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

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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
