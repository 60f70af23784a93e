package sim

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pourquoi/tradebot/internal/exchange"
	"github.com/pourquoi/tradebot/internal/model"
)

var btcusdc = model.NewTicker("BTC", "USDC")

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newSim(fee string, deposits map[string]string) *Marketplace {
	assets := make(map[string]model.Asset, len(deposits))
	for sym, free := range deposits {
		assets[sym] = model.Asset{Symbol: sym, Free: d(free)}
	}
	return New(Config{
		Settings: exchange.StaticSettings{FeeRate: d(fee)},
		Assets:   assets,
	})
}

func applyBook(m *Marketplace, ts int64, bids, asks []model.BookLevel) {
	m.ApplyMarketEvent(model.MarketEvent{Book: &model.BookEvent{
		Ticker: btcusdc,
		Time:   ts,
		Bids:   bids,
		Asks:   asks,
	}})
}

func level(price, amount string) model.BookLevel {
	return model.BookLevel{Price: d(price), Amount: d(amount)}
}

func marketBuy(quote string) model.Order {
	return model.Order{
		ID:          model.NewOrderID(),
		Ticker:      btcusdc,
		Side:        model.SideBuy,
		Type:        model.OrderTypeMarket,
		Status:      model.StatusDraft,
		QuoteAmount: d(quote),
		CreatedAt:   1000,
	}
}

func limitOrder(side model.Side, amount, price string) model.Order {
	return model.Order{
		ID:        model.NewOrderID(),
		Ticker:    btcusdc,
		Side:      side,
		Type:      model.OrderTypeLimit,
		Status:    model.StatusDraft,
		Amount:    d(amount),
		Price:     d(price),
		CreatedAt: 1000,
	}
}

func TestPlaceOrderLocksFunds(t *testing.T) {
	m := newSim("0", map[string]string{"USDC": "1000"})
	applyBook(m, 1000, nil, []model.BookLevel{level("100", "5")})

	placed, err := m.PlaceOrder(context.Background(), marketBuy("300"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, placed.Status)
	assert.NotEmpty(t, placed.MarketplaceID)

	assets, err := m.AccountAssets(context.Background())
	require.NoError(t, err)
	assert.True(t, assets["USDC"].Free.Equal(d("700")))
	assert.True(t, assets["USDC"].Locked.Equal(d("300")))
}

func TestPlaceOrderRejectsInsufficientFunds(t *testing.T) {
	m := newSim("0", map[string]string{"USDC": "100"})

	placed, err := m.PlaceOrder(context.Background(), marketBuy("300"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, placed.Status)

	assets, err := m.AccountAssets(context.Background())
	require.NoError(t, err)
	assert.True(t, assets["USDC"].Free.Equal(d("100")))
	assert.True(t, assets["USDC"].Locked.IsZero())
}

func TestMarketBuyFillsAcrossLevels(t *testing.T) {
	m := newSim("0", map[string]string{"USDC": "1000"})
	applyBook(m, 1000, nil, []model.BookLevel{level("100", "2"), level("125", "4")})

	_, err := m.PlaceOrder(context.Background(), marketBuy("300"))
	require.NoError(t, err)

	m.MatchOnce()

	open, err := m.OpenOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, open)

	assets, err := m.AccountAssets(context.Background())
	require.NoError(t, err)
	// 2 at 100, then the remaining 100 of notional buys 0.8 at 125.
	assert.True(t, assets["BTC"].Free.Equal(d("2.8")), "btc %s", assets["BTC"].Free)
	assert.True(t, assets["USDC"].Locked.IsZero(), "locked %s", assets["USDC"].Locked)
	assert.True(t, assets["USDC"].Free.Equal(d("700")))
}

func TestLimitBuyPartialFillStaysActive(t *testing.T) {
	m := newSim("0", map[string]string{"USDC": "1000"})
	applyBook(m, 1000, nil, []model.BookLevel{level("99", "2")})

	placed, err := m.PlaceOrder(context.Background(), limitOrder(model.SideBuy, "5", "100"))
	require.NoError(t, err)

	m.MatchOnce()

	open, err := m.OpenOrders(context.Background(), []model.Ticker{btcusdc})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, placed.ID, open[0].ID)
	assert.Equal(t, model.StatusActive, open[0].Status)
	assert.True(t, open[0].FilledAmount.Equal(d("2")))
}

func TestLimitOrderDoesNotCross(t *testing.T) {
	m := newSim("0", map[string]string{"BTC": "5"})
	applyBook(m, 1000, []model.BookLevel{level("100", "5")}, nil)

	_, err := m.PlaceOrder(context.Background(), limitOrder(model.SideSell, "1", "110"))
	require.NoError(t, err)

	m.MatchOnce()

	open, err := m.OpenOrders(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].FilledAmount.IsZero())
}

func TestSellSettlementAppliesFee(t *testing.T) {
	m := newSim("0.001", map[string]string{"BTC": "3"})
	applyBook(m, 1000, []model.BookLevel{level("105", "5")}, nil)

	_, err := m.PlaceOrder(context.Background(), limitOrder(model.SideSell, "3", "100"))
	require.NoError(t, err)

	m.MatchOnce()

	assets, err := m.AccountAssets(context.Background())
	require.NoError(t, err)
	// 3 * 105 * (1 - 0.001)
	assert.True(t, assets["USDC"].Free.Equal(d("314.685")), "usdc %s", assets["USDC"].Free)
	assert.True(t, assets["BTC"].Free.IsZero())
	assert.True(t, assets["BTC"].Locked.IsZero())
}

func TestCancelOrderReleasesReservation(t *testing.T) {
	m := newSim("0", map[string]string{"USDC": "1000"})

	placed, err := m.PlaceOrder(context.Background(), limitOrder(model.SideBuy, "2", "100"))
	require.NoError(t, err)

	require.NoError(t, m.CancelOrder(context.Background(), placed.ID))

	assets, err := m.AccountAssets(context.Background())
	require.NoError(t, err)
	assert.True(t, assets["USDC"].Free.Equal(d("1000")))
	assert.True(t, assets["USDC"].Locked.IsZero())

	assert.Error(t, m.CancelOrder(context.Background(), placed.ID))
	assert.Error(t, m.CancelOrder(context.Background(), "unknown"))
}

func TestAccountStreamReportsLifecycle(t *testing.T) {
	m := newSim("0", map[string]string{"USDC": "1000"})
	applyBook(m, 1000, nil, []model.BookLevel{level("100", "5")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.MarketEvent, 64)
	go func() { _ = m.StartAccountStream(ctx, out) }()

	placed, err := m.PlaceOrder(ctx, marketBuy("300"))
	require.NoError(t, err)
	m.MatchOnce()

	var statuses []model.OrderStatus
	deadline := time.After(time.Second)
	for len(statuses) < 2 {
		select {
		case ev := <-out:
			if ev.Order != nil && ev.Order.OrderID == placed.ID {
				statuses = append(statuses, ev.Order.Status)
			}
		case <-deadline:
			t.Fatalf("timed out, got %v", statuses)
		}
	}
	assert.Equal(t, []model.OrderStatus{model.StatusActive, model.StatusExecuted}, statuses)
}

// A fill burst bigger than the stream buffer must reach the consumer
// in full; matching waits for the stream instead of dropping events.
func TestAccountStreamKeepsEveryFillUnderBurst(t *testing.T) {
	const levels = 1500
	m := newSim("0", map[string]string{"USDC": "150000"})
	asks := make([]model.BookLevel, levels)
	for i := range asks {
		asks[i] = level("100", "1")
	}
	applyBook(m, 1000, nil, asks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.MarketEvent, 64)
	streamDone := make(chan error, 1)
	go func() { streamDone <- m.StartAccountStream(ctx, out) }()

	counted := make(chan int, 1)
	go func() {
		fills := 0
		for ev := range out {
			if ev.Order != nil && ev.Order.Trade != nil {
				fills++
			}
		}
		counted <- fills
	}()

	_, err := m.PlaceOrder(ctx, marketBuy("150000"))
	require.NoError(t, err)
	m.MatchOnce()
	m.Close()

	require.NoError(t, <-streamDone)
	close(out)
	assert.Equal(t, levels, <-counted)

	assets, err := m.AccountAssets(context.Background())
	require.NoError(t, err)
	assert.True(t, assets["BTC"].Free.Equal(d("1500")), "btc %s", assets["BTC"].Free)
}

// With several active orders the matching pass settles them in
// placement order, so the emitted fill sequence is reproducible.
func TestMatchOnceSettlesInPlacementOrder(t *testing.T) {
	m := newSim("0", map[string]string{"USDC": "10000"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first, err := m.PlaceOrder(ctx, limitOrder(model.SideBuy, "2", "100"))
	require.NoError(t, err)
	second, err := m.PlaceOrder(ctx, limitOrder(model.SideBuy, "3", "100"))
	require.NoError(t, err)

	applyBook(m, 1000, nil, []model.BookLevel{level("99", "10")})

	out := make(chan model.MarketEvent, 64)
	streamDone := make(chan error, 1)
	go func() { streamDone <- m.StartAccountStream(ctx, out) }()

	m.MatchOnce()
	m.Close()
	require.NoError(t, <-streamDone)
	close(out)

	var fillOrder []string
	for ev := range out {
		if ev.Order != nil && ev.Order.Trade != nil {
			fillOrder = append(fillOrder, ev.Order.OrderID)
		}
	}
	assert.Equal(t, []string{first.ID, second.ID}, fillOrder)
}

// Feeding two simulators the same event sequence must produce the same
// trades and balances.
func TestMatchingIsDeterministic(t *testing.T) {
	run := func() map[string]model.Asset {
		m := newSim("0.001", map[string]string{"USDC": "1000", "BTC": "5"})
		applyBook(m, 1000, []model.BookLevel{level("98", "1")}, []model.BookLevel{level("100", "2"), level("101", "3")})

		_, err := m.PlaceOrder(context.Background(), marketBuy("300"))
		require.NoError(t, err)
		m.MatchOnce()

		applyBook(m, 2000, []model.BookLevel{level("104", "10")}, []model.BookLevel{level("106", "10")})
		_, err = m.PlaceOrder(context.Background(), limitOrder(model.SideSell, "2", "103"))
		require.NoError(t, err)
		m.MatchOnce()

		assets, err := m.AccountAssets(context.Background())
		require.NoError(t, err)
		return assets
	}

	first := run()
	second := run()
	require.Len(t, second, len(first))
	for sym, a := range first {
		assert.True(t, a.Free.Equal(second[sym].Free), "%s free %s vs %s", sym, a.Free, second[sym].Free)
		assert.True(t, a.Locked.Equal(second[sym].Locked), "%s locked %s vs %s", sym, a.Locked, second[sym].Locked)
	}
}
