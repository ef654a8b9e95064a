// Package config loads runtime configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all server configuration.
type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	StartingCash decimal.Decimal

	Throttle ThrottleConfig
}

// ThrottleConfig carries the admission-control thresholds. Zero values
// fall back to the throttle package defaults.
type ThrottleConfig struct {
	Cooldown           time.Duration
	MaxTradesPerWindow int
	FrequencyWindow    time.Duration
	MaxConcentration   decimal.Decimal
	DailyLossLimit     decimal.Decimal
	DailyLossPct       decimal.Decimal
}

// Load reads configuration from the environment. A .env file is read
// best-effort first.
func Load() Config {
	_ = godotenv.Load()

	addr := os.Getenv("PORT")
	if addr != "" && !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}
	if addr == "" {
		addr = envDefault("TRADE_ENGINE_ADDR", ":8080")
	}

	return Config{
		Addr:         addr,
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:     envDuration("TRADE_ENGINE_CACHE_TTL", 30*time.Second),
		KafkaBrokers: envList("KAFKA_BROKERS"),
		KafkaTopic:   envDefault("KAFKA_TOPIC", "trade-events"),
		StartingCash: envDecimal("TRADE_ENGINE_STARTING_CASH", decimal.NewFromInt(100_000)),
		Throttle: ThrottleConfig{
			Cooldown:           envDuration("THROTTLE_COOLDOWN", 2*time.Second),
			MaxTradesPerWindow: envInt("THROTTLE_MAX_TRADES", 10),
			FrequencyWindow:    envDuration("THROTTLE_FREQUENCY_WINDOW", 60*time.Second),
			MaxConcentration:   envDecimal("THROTTLE_MAX_CONCENTRATION", decimal.NewFromFloat(0.25)),
			DailyLossLimit:     envDecimal("THROTTLE_DAILY_LOSS_LIMIT", decimal.NewFromInt(5000)),
			DailyLossPct:       envDecimal("THROTTLE_DAILY_LOSS_PCT", decimal.Zero),
		},
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
