package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pourquoi/tradebot/internal/model"
)

func decimalFrom(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `{
  "tickers": ["BTCUSDC", "ETHUSDC"],
  "strategy": {
    "targetProfit": "0.5",
    "quoteAmount": "300",
    "reentryDelayMs": 60000,
    "entryDelayMs": 30000,
    "sessionProfitLifetimeMs": 3600000,
    "maxSessions": 4,
    "sessionWindowMs": 86400000,
    "orderType": "market",
    "clusterTolerance": "0.002"
  },
  "sim": {
    "feeRate": "0.001",
    "stepSize": "0.00001",
    "latencyMs": 20,
    "deposits": {"USDC": "10000"}
  },
  "replay": {
    "eventsPath": "/data/events.jsonl",
    "delayMs": 100
  },
  "server": {"addr": ":8080"},
  "features": {"enableRecord": true}
}`

func TestLoadResolvesConfig(t *testing.T) {
	path := writeConfig(t, validConfig)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []model.Ticker{
		model.NewTicker("BTC", "USDC"),
		model.NewTicker("ETH", "USDC"),
	}, loaded.Tickers)

	assert.True(t, loaded.Strategy.QuoteAmount.Equal(decimalFrom(t, "300")))
	assert.Equal(t, time.Minute, loaded.Strategy.ReentryDelay)
	assert.Equal(t, 30*time.Second, loaded.Strategy.EntryDelay)
	assert.Equal(t, time.Hour, loaded.Strategy.SessionProfitLifetime)
	assert.Equal(t, 4, loaded.Strategy.MaxSessions)
	assert.Equal(t, model.OrderTypeMarket, loaded.Strategy.OrderType)

	assert.True(t, loaded.Sim.FeeRate.Equal(decimalFrom(t, "0.001")))
	assert.Equal(t, 20*time.Millisecond, loaded.Sim.Latency)
	assert.True(t, loaded.Sim.Deposits["USDC"].Equal(decimalFrom(t, "10000")))

	assert.Equal(t, "/data/events.jsonl", loaded.Replay.EventsPath)
	assert.Equal(t, 100*time.Millisecond, loaded.Replay.Delay)
	assert.Equal(t, ":8080", loaded.Server.Addr)

	// Server defaults on, record was opted in, persist stays off.
	assert.True(t, loaded.Features.EnableServer)
	assert.True(t, loaded.Features.EnableRecord)
	assert.False(t, loaded.Features.EnablePersist)
}

func TestLoadRejectsEmptyTickers(t *testing.T) {
	path := writeConfig(t, `{"tickers": [], "strategy": {"quoteAmount": "300"}}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "no tickers")
}

func TestLoadRejectsBadTicker(t *testing.T) {
	path := writeConfig(t, `{"tickers": ["XX"], "strategy": {"quoteAmount": "300"}}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "ticker")
}

func TestLoadRejectsNonPositiveQuoteAmount(t *testing.T) {
	path := writeConfig(t, `{"tickers": ["BTCUSDC"], "strategy": {"quoteAmount": "0"}}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "quoteAmount")
}

func TestLoadRejectsUnknownOrderType(t *testing.T) {
	path := writeConfig(t, `{"tickers": ["BTCUSDC"], "strategy": {"quoteAmount": "300", "orderType": "stop"}}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "orderType")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestEnvOverridesServerAddr(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("POSTGRES_DSN", "postgres://trader@localhost/trading")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", loaded.Server.Addr)
	assert.Equal(t, "postgres://trader@localhost/trading", loaded.Env.PostgresDSN)
}
