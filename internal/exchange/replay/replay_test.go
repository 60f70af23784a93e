package replay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pourquoi/tradebot/internal/exchange"
	"github.com/pourquoi/tradebot/internal/model"
)

var (
	btcusdc = model.NewTicker("BTC", "USDC")
	ethusdc = model.NewTicker("ETH", "USDC")
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func writeLog(t *testing.T, lines ...any) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		if raw, ok := line.(string); ok {
			_, err = f.WriteString(raw + "\n")
			require.NoError(t, err)
			continue
		}
		data, err := json.Marshal(line)
		require.NoError(t, err)
		_, err = f.Write(append(data, '\n'))
		require.NoError(t, err)
	}
	return path
}

func bookEvent(ticker model.Ticker, ts int64, price string) model.MarketEvent {
	return model.MarketEvent{Book: &model.BookEvent{
		Ticker: ticker,
		Time:   ts,
		Bids:   []model.BookLevel{{Price: d(price), Amount: d("1")}},
		Asks:   []model.BookLevel{{Price: d(price).Add(d("0.1")), Amount: d("1")}},
	}}
}

func tradeEvent(ticker model.Ticker, ts int64, price string) model.MarketEvent {
	return model.MarketEvent{Trade: &model.TradeEvent{
		ID:       uint64(ts),
		Time:     ts,
		Ticker:   ticker,
		Price:    d(price),
		Quantity: d("1"),
	}}
}

func collect(t *testing.T, m *Marketplace, tickers []model.Ticker) []model.MarketEvent {
	t.Helper()
	out := make(chan model.MarketEvent, 64)
	done := make(chan error, 1)
	go func() {
		done <- m.StartDataStream(context.Background(), tickers, out)
		close(out)
	}()
	var events []model.MarketEvent
	for ev := range out {
		events = append(events, ev)
	}
	require.NoError(t, <-done)
	return events
}

func TestStreamPreservesFileOrder(t *testing.T) {
	path := writeLog(t,
		bookEvent(btcusdc, 1000, "100"),
		tradeEvent(btcusdc, 2000, "100.5"),
		bookEvent(btcusdc, 3000, "101"),
	)
	m, err := New(Config{EventsPath: path, Settings: exchange.StaticSettings{}})
	require.NoError(t, err)

	events := collect(t, m, nil)
	require.Len(t, events, 3)
	assert.NotNil(t, events[0].Book)
	assert.NotNil(t, events[1].Trade)
	assert.NotNil(t, events[2].Book)
	assert.Equal(t, int64(1000), events[0].Time())
	assert.Equal(t, int64(3000), events[2].Time())
}

func TestStreamFiltersTickers(t *testing.T) {
	path := writeLog(t,
		bookEvent(btcusdc, 1000, "100"),
		bookEvent(ethusdc, 2000, "50"),
		tradeEvent(btcusdc, 3000, "100.5"),
	)
	m, err := New(Config{EventsPath: path, Settings: exchange.StaticSettings{}})
	require.NoError(t, err)

	events := collect(t, m, []model.Ticker{btcusdc})
	require.Len(t, events, 2)
	for _, ev := range events {
		ticker, ok := ev.TickerOf()
		require.True(t, ok)
		assert.Equal(t, btcusdc, ticker)
	}
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	path := writeLog(t,
		bookEvent(btcusdc, 1000, "100"),
		`{"type":"book","data":{broken`,
		bookEvent(btcusdc, 2000, "101"),
	)
	m, err := New(Config{EventsPath: path, Settings: exchange.StaticSettings{}})
	require.NoError(t, err)

	events := collect(t, m, nil)
	assert.Len(t, events, 2)
}

func TestStartTimeIsFirstBookEvent(t *testing.T) {
	path := writeLog(t,
		tradeEvent(btcusdc, 500, "99"),
		bookEvent(btcusdc, 1000, "100"),
		bookEvent(btcusdc, 2000, "101"),
	)
	m, err := New(Config{EventsPath: path, Settings: exchange.StaticSettings{}})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m.StartTime())
}

func TestNewRejectsMissingLog(t *testing.T) {
	_, err := New(Config{EventsPath: filepath.Join(t.TempDir(), "missing.jsonl")})
	require.Error(t, err)
}

func TestPauseHoldsBackPlayback(t *testing.T) {
	path := writeLog(t,
		bookEvent(btcusdc, 1000, "100"),
		bookEvent(btcusdc, 2000, "101"),
	)
	m, err := New(Config{EventsPath: path, Settings: exchange.StaticSettings{}})
	require.NoError(t, err)

	m.SetPaused(true)
	assert.True(t, m.Paused())

	out := make(chan model.MarketEvent, 64)
	done := make(chan error, 1)
	go func() { done <- m.StartDataStream(context.Background(), nil, out) }()

	select {
	case ev := <-out:
		t.Fatalf("received %v while paused", ev.Kind())
	case <-time.After(150 * time.Millisecond):
	}

	m.SetPaused(false)
	for i := 0; i < 2; i++ {
		select {
		case <-out:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for resumed playback")
		}
	}
	require.NoError(t, <-done)
}

type stubDataAPI struct {
	calls   int
	candles []model.CandleEvent
}

func (s *stubDataAPI) Candles(context.Context, model.Ticker, string, int64, int64) ([]model.CandleEvent, error) {
	s.calls++
	return s.candles, nil
}

func TestCandlesWriteThroughCache(t *testing.T) {
	path := writeLog(t, bookEvent(btcusdc, 1000, "100"))
	stub := &stubDataAPI{candles: []model.CandleEvent{{
		Ticker:    btcusdc,
		Open:      d("100"),
		High:      d("101"),
		Low:       d("99"),
		Close:     d("100.5"),
		StartTime: 1000,
		CloseTime: 59_999,
		Closed:    true,
	}}}
	m, err := New(Config{EventsPath: path, Settings: exchange.StaticSettings{}, Fallback: stub})
	require.NoError(t, err)

	got, err := m.Candles(context.Background(), btcusdc, "1h", 0, 60_000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, stub.calls)

	// Second request for the same range is served from the side file.
	got, err = m.Candles(context.Background(), btcusdc, "1h", 0, 60_000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Close.Equal(d("100.5")))
	assert.Equal(t, 1, stub.calls)

	// A different range is a fresh miss.
	_, err = m.Candles(context.Background(), btcusdc, "1h", 0, 120_000)
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
}

func TestCandlesMissWithoutFallback(t *testing.T) {
	path := writeLog(t, bookEvent(btcusdc, 1000, "100"))
	m, err := New(Config{EventsPath: path, Settings: exchange.StaticSettings{}})
	require.NoError(t, err)

	_, err = m.Candles(context.Background(), btcusdc, "1h", 0, 60_000)
	require.Error(t, err)
}
