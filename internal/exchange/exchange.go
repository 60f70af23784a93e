// Package exchange defines the capability interfaces the trading core
// consumes. Live, simulated and replay backends implement them
// independently; the strategy and the ledger never see a concrete
// marketplace type. A backend may wrap another one as a fallback for
// capabilities it cannot produce itself.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pourquoi/tradebot/internal/model"
)

// Settings exposes the exchange's fee schedule and order quantization
// rules.
type Settings interface {
	// Fees returns the taker fee rate applying to the order.
	Fees(ctx context.Context, order *model.Order) (decimal.Decimal, error)
	// AdjustOrder quantizes the order's price and amount to the
	// exchange's tick-size/lot-size rules and fails when no valid
	// adjustment exists (e.g. below the minimum notional).
	AdjustOrder(ctx context.Context, order *model.Order) error
}

// DataAPI fetches historical market data.
type DataAPI interface {
	// Candles returns candles for the interval within [from, to] unix
	// milliseconds; zero bounds mean open-ended.
	Candles(ctx context.Context, ticker model.Ticker, interval string, from, to int64) ([]model.CandleEvent, error)
}

// DataStream pushes a continuous market-data feed (book/trade/candle)
// for the ticker subset onto out. It returns when the stream ends or the
// context is cancelled.
type DataStream interface {
	StartDataStream(ctx context.Context, tickers []model.Ticker, out chan<- model.MarketEvent) error
}

// AccountStream pushes account events (order updates, balance updates)
// onto out.
type AccountStream interface {
	StartAccountStream(ctx context.Context, out chan<- model.MarketEvent) error
}

// TradeAPI submits and inspects orders and balances.
type TradeAPI interface {
	PlaceOrder(ctx context.Context, order model.Order) (model.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context, tickers []model.Ticker) ([]model.Order, error)
	AccountAssets(ctx context.Context) (map[string]model.Asset, error)
}

// Marketplace is the full backend surface.
type Marketplace interface {
	Settings
	DataAPI
	DataStream
	AccountStream
	TradeAPI
}
