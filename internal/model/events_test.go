package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookLevelWireFormat(t *testing.T) {
	level := BookLevel{
		Price:  decimal.RequireFromString("100.5"),
		Amount: decimal.RequireFromString("2"),
	}
	data, err := json.Marshal(level)
	require.NoError(t, err)
	assert.JSONEq(t, `["100.5","2"]`, string(data))

	var back BookLevel
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Price.Equal(level.Price))
	assert.True(t, back.Value().Equal(decimal.RequireFromString("201")))
}

func TestMarketEventEnvelope(t *testing.T) {
	ev := MarketEvent{Trade: &TradeEvent{
		ID:       7,
		Time:     1700000000000,
		Ticker:   NewTicker("BTC", "USDC"),
		Price:    decimal.RequireFromString("100"),
		Quantity: decimal.RequireFromString("0.5"),
	}}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var back MarketEvent
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, EventTrade, back.Kind())
	assert.Equal(t, ev.Trade.ID, back.Trade.ID)
	assert.Equal(t, int64(1700000000000), back.Time())

	ticker, ok := back.TickerOf()
	require.True(t, ok)
	assert.Equal(t, "BTCUSDC", ticker.String())
}

func TestMarketEventUnknownType(t *testing.T) {
	var ev MarketEvent
	err := json.Unmarshal([]byte(`{"type":"bogus","data":{}}`), &ev)
	assert.Error(t, err)
}

func TestEmptyMarketEventRejected(t *testing.T) {
	_, err := json.Marshal(MarketEvent{})
	assert.Error(t, err)
}
