// Package sim is an in-process stand-in for a live exchange. It keeps
// its own account ledger and per-ticker book snapshots, matches active
// orders against the books on a fixed tick, and broadcasts order and
// balance updates on its account stream exactly like a real gateway
// would. Market data is not produced here; the simulator is fed through
// ApplyMarketEvent by whatever feed drives the run.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/exchange"
	"github.com/pourquoi/tradebot/internal/model"
)

const accountBuffer = 1024

// Config wires the simulator's collaborators. Data and Feed are
// optional fallbacks for capabilities the simulator cannot produce
// itself.
type Config struct {
	Settings exchange.Settings
	Data     exchange.DataAPI
	Feed     exchange.DataStream
	// Latency delays order acknowledgments to approximate a network
	// round trip. Zero keeps runs deterministic.
	Latency time.Duration
	Assets  map[string]model.Asset
}

type book struct {
	bids []model.BookLevel
	asks []model.BookLevel
}

// Marketplace implements exchange.Marketplace against in-memory state.
type Marketplace struct {
	settings exchange.Settings
	data     exchange.DataAPI
	feed     exchange.DataStream
	latency  time.Duration

	mu       sync.Mutex
	assets   map[string]model.Asset
	orders   map[string]*model.Order
	orderSeq []string
	books    map[model.Ticker]*book
	lastPx   map[model.Ticker]decimal.Decimal
	now      int64

	account   chan model.MarketEvent
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Marketplace {
	assets := make(map[string]model.Asset, len(cfg.Assets))
	for sym, a := range cfg.Assets {
		a.Symbol = sym
		assets[sym] = a
	}
	return &Marketplace{
		settings: cfg.Settings,
		data:     cfg.Data,
		feed:     cfg.Feed,
		latency:  cfg.Latency,
		assets:   assets,
		orders:   map[string]*model.Order{},
		books:    map[model.Ticker]*book{},
		lastPx:   map[model.Ticker]decimal.Decimal{},
		account:  make(chan model.MarketEvent, accountBuffer),
		done:     make(chan struct{}),
	}
}

// Close ends the account stream. StartAccountStream delivers whatever
// is still buffered, then returns nil. Call it only after the last
// matching pass.
func (m *Marketplace) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// ApplyMarketEvent advances simulated time and refreshes the book
// snapshot or last trade price for the event's ticker.
func (m *Marketplace) ApplyMarketEvent(ev model.MarketEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t := ev.Time(); t > m.now {
		m.now = t
	}
	switch ev.Kind() {
	case model.EventBook:
		b := ev.Book
		m.books[b.Ticker] = &book{bids: cloneLevels(b.Bids), asks: cloneLevels(b.Asks)}
	case model.EventTrade:
		m.lastPx[ev.Trade.Ticker] = ev.Trade.Price
	}
}

func (m *Marketplace) Fees(ctx context.Context, order *model.Order) (decimal.Decimal, error) {
	return m.settings.Fees(ctx, order)
}

func (m *Marketplace) AdjustOrder(ctx context.Context, order *model.Order) error {
	return m.settings.AdjustOrder(ctx, order)
}

func (m *Marketplace) Candles(ctx context.Context, ticker model.Ticker, interval string, from, to int64) ([]model.CandleEvent, error) {
	if m.data == nil {
		return nil, fmt.Errorf("sim: no historical data backend")
	}
	return m.data.Candles(ctx, ticker, interval, from, to)
}

func (m *Marketplace) StartDataStream(ctx context.Context, tickers []model.Ticker, out chan<- model.MarketEvent) error {
	if m.feed == nil {
		return fmt.Errorf("sim: no data feed backend")
	}
	return m.feed.StartDataStream(ctx, tickers, out)
}

// StartAccountStream forwards order and balance updates produced by
// matching and order placement. It is the authoritative account feed
// for the run: nothing on it is ever dropped, and after Close it keeps
// delivering until the buffer is empty.
func (m *Marketplace) StartAccountStream(ctx context.Context, out chan<- model.MarketEvent) error {
	forward := func(ev model.MarketEvent) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			for {
				select {
				case ev := <-m.account:
					if err := forward(ev); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case ev := <-m.account:
			if err := forward(ev); err != nil {
				return err
			}
		}
	}
}

// PlaceOrder accepts the order if the required funds can be locked,
// otherwise rejects it. Both outcomes are broadcast on the account
// stream.
func (m *Marketplace) PlaceOrder(ctx context.Context, order model.Order) (model.Order, error) {
	if err := m.settings.AdjustOrder(ctx, &order); err != nil {
		return m.reject(order, err)
	}
	fee, err := m.settings.Fees(ctx, &order)
	if err != nil {
		return model.Order{}, err
	}
	order.FeeRate = fee

	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return model.Order{}, ctx.Err()
		}
	}

	m.mu.Lock()
	sym, amount := reservationFor(order)
	if err := m.reserve(sym, amount); err != nil {
		m.mu.Unlock()
		return m.reject(order, err)
	}
	order.Status = model.StatusActive
	order.MarketplaceID = model.NewOrderID()
	order.WorkingTime = m.now
	cp := order
	m.orders[order.ID] = &cp
	m.orderSeq = append(m.orderSeq, order.ID)
	events := []model.MarketEvent{
		orderEvent(m.now, order, nil),
		m.portfolioEventLocked(),
	}
	m.mu.Unlock()

	m.broadcast(events)
	return order, nil
}

func (m *Marketplace) reject(order model.Order, cause error) (model.Order, error) {
	logs.Warnf("sim: rejecting order %s: %v", order.ID, cause)
	order.Status = model.StatusRejected
	m.broadcast([]model.MarketEvent{orderEvent(m.currentTime(), order, nil)})
	return order, nil
}

// CancelOrder cancels an active order and releases its remaining
// reservation. Cancelling a terminal or unknown order is an error.
func (m *Marketplace) CancelOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("sim: unknown order %s", orderID)
	}
	if o.Status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("sim: order %s already %s", orderID, o.Status)
	}
	o.Status = model.StatusCancelled
	m.releaseRemaining(*o)
	events := []model.MarketEvent{
		orderEvent(m.now, *o, nil),
		m.portfolioEventLocked(),
	}
	m.mu.Unlock()

	m.broadcast(events)
	return nil
}

// releaseRemaining moves the unfilled part of a reservation back to
// free when an order dies early.
func (m *Marketplace) releaseRemaining(o model.Order) {
	sym, reserved := reservationFor(o)
	var consumed decimal.Decimal
	if o.Side == model.SideSell {
		consumed = o.FilledAmount
	} else {
		consumed = o.CumulativeQuoteAmount
	}
	remaining := reserved.Sub(consumed)
	if !remaining.IsPositive() {
		return
	}
	a := m.assets[sym]
	a.Symbol = sym
	a.Locked = a.Locked.Sub(remaining)
	if a.Locked.IsNegative() {
		a.Locked = decimal.Zero
	}
	a.Free = a.Free.Add(remaining)
	m.assets[sym] = a
}

func (m *Marketplace) OpenOrders(_ context.Context, tickers []model.Ticker) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Order
	for _, o := range m.orders {
		if o.Status.Terminal() {
			continue
		}
		if len(tickers) > 0 && !containsTicker(tickers, o.Ticker) {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *Marketplace) AccountAssets(context.Context) (map[string]model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]model.Asset, len(m.assets))
	for sym, a := range m.assets {
		out[sym] = a
	}
	return out, nil
}

func (m *Marketplace) currentTime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Marketplace) reserve(symbol string, amount decimal.Decimal) error {
	a, ok := m.assets[symbol]
	if !ok || a.Free.LessThan(amount) {
		return fmt.Errorf("%w: %s needs %s", model.ErrInsufficientFunds, symbol, amount)
	}
	a.Free = a.Free.Sub(amount)
	a.Locked = a.Locked.Add(amount)
	m.assets[symbol] = a
	return nil
}

func reservationFor(o model.Order) (string, decimal.Decimal) {
	if o.Side == model.SideSell {
		return o.Ticker.Base, o.Amount
	}
	if o.Type == model.OrderTypeMarket {
		return o.Ticker.Quote, o.Notional()
	}
	return o.Ticker.Quote, o.Amount.Mul(o.Price)
}

func (m *Marketplace) portfolioEventLocked() model.MarketEvent {
	assets := make([]model.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return model.MarketEvent{Portfolio: &model.PortfolioUpdateEvent{Time: m.now, Assets: assets}}
}

func orderEvent(now int64, o model.Order, trade *model.OrderTrade) model.MarketEvent {
	return model.MarketEvent{Order: &model.OrderUpdateEvent{
		Time:          now,
		OrderID:       o.ID,
		MarketplaceID: o.MarketplaceID,
		Status:        o.Status,
		WorkingTime:   o.WorkingTime,
		Trade:         trade,
	}}
}

// broadcast queues events on the account stream. The send blocks while
// the buffer is full: the stream feeds the ledger, which must see every
// fill. Runs outside the state mutex so a slow consumer never stalls
// matching itself.
func (m *Marketplace) broadcast(events []model.MarketEvent) {
	for _, ev := range events {
		select {
		case m.account <- ev:
		case <-m.done:
			return
		}
	}
}

func cloneLevels(in []model.BookLevel) []model.BookLevel {
	out := make([]model.BookLevel, len(in))
	copy(out, in)
	return out
}

func containsTicker(tickers []model.Ticker, t model.Ticker) bool {
	for _, c := range tickers {
		if c == t {
			return true
		}
	}
	return false
}
