package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "trade-events", cfg.KafkaTopic)
	assert.True(t, cfg.StartingCash.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, 2*time.Second, cfg.Throttle.Cooldown)
	assert.Equal(t, 10, cfg.Throttle.MaxTradesPerWindow)
	assert.Equal(t, 60*time.Second, cfg.Throttle.FrequencyWindow)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TRADE_ENGINE_STARTING_CASH", "25000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("THROTTLE_COOLDOWN", "5s")
	t.Setenv("THROTTLE_MAX_TRADES", "3")
	t.Setenv("THROTTLE_DAILY_LOSS_PCT", "0.05")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.True(t, cfg.StartingCash.Equal(decimal.NewFromInt(25000)))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.Throttle.Cooldown)
	assert.Equal(t, 3, cfg.Throttle.MaxTradesPerWindow)
	assert.True(t, cfg.Throttle.DailyLossPct.Equal(decimal.NewFromFloat(0.05)))
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("THROTTLE_COOLDOWN", "soon")
	t.Setenv("THROTTLE_MAX_TRADES", "many")
	t.Setenv("TRADE_ENGINE_STARTING_CASH", "lots")

	cfg := Load()

	assert.Equal(t, 2*time.Second, cfg.Throttle.Cooldown)
	assert.Equal(t, 10, cfg.Throttle.MaxTradesPerWindow)
	assert.True(t, cfg.StartingCash.Equal(decimal.NewFromInt(100000)))
}
