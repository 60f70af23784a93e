package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// EventKind tags a market event in its JSONL envelope.
type EventKind string

const (
	EventBook      EventKind = "book"
	EventTrade     EventKind = "trade"
	EventCandle    EventKind = "candle"
	EventPortfolio EventKind = "portfolio"
	EventOrder     EventKind = "order"
)

// BookLevel is one price level of an order-book side, serialized as a
// ["price","amount"] string pair in captured logs.
type BookLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Value returns price * amount for the level.
func (l BookLevel) Value() decimal.Decimal {
	return l.Price.Mul(l.Amount)
}

func (l BookLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{l.Price.String(), l.Amount.String()})
}

func (l *BookLevel) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	price, err := decimal.NewFromString(pair[0])
	if err != nil {
		return fmt.Errorf("book level price: %w", err)
	}
	amount, err := decimal.NewFromString(pair[1])
	if err != nil {
		return fmt.Errorf("book level amount: %w", err)
	}
	l.Price, l.Amount = price, amount
	return nil
}

// BookEvent is an order-book snapshot: bids best (highest) first, asks
// best (lowest) first.
type BookEvent struct {
	Ticker Ticker      `json:"ticker"`
	Time   int64       `json:"time"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
}

// BestBid returns the highest bid price, or false on an empty side.
func (b BookEvent) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask price, or false on an empty side.
func (b BookEvent) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// TradeEvent is a public market trade.
type TradeEvent struct {
	ID       uint64          `json:"id"`
	Time     int64           `json:"time"`
	Ticker   Ticker          `json:"ticker"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// CandleEvent is a (possibly still open) OHLCV candle.
type CandleEvent struct {
	Ticker     Ticker          `json:"ticker"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	TradeCount uint64          `json:"trade_count"`
	StartTime  int64           `json:"start_time"`
	CloseTime  int64           `json:"close_time"`
	Closed     bool            `json:"closed"`
}

// PortfolioUpdateEvent reports new authoritative balances for a set of
// account assets.
type PortfolioUpdateEvent struct {
	Time   int64   `json:"time"`
	Assets []Asset `json:"assets"`
}

// OrderUpdateEvent reports a status change and/or a new fill for an
// order. Trade delivery is at-least-once; consumers dedupe by trade id.
type OrderUpdateEvent struct {
	Time          int64       `json:"time"`
	MarketplaceID string      `json:"marketplace_id,omitempty"`
	OrderID       string      `json:"order_id"`
	Status        OrderStatus `json:"status"`
	WorkingTime   int64       `json:"working_time,omitempty"`
	Trade         *OrderTrade `json:"trade,omitempty"`
}

// MarketEvent is the tagged union carried by streams, the event log and
// the bus. Exactly one field is set.
type MarketEvent struct {
	Book      *BookEvent
	Trade     *TradeEvent
	Candle    *CandleEvent
	Portfolio *PortfolioUpdateEvent
	Order     *OrderUpdateEvent
}

// Kind returns the tag of the populated variant.
func (e MarketEvent) Kind() EventKind {
	switch {
	case e.Book != nil:
		return EventBook
	case e.Trade != nil:
		return EventTrade
	case e.Candle != nil:
		return EventCandle
	case e.Portfolio != nil:
		return EventPortfolio
	case e.Order != nil:
		return EventOrder
	default:
		return ""
	}
}

// Time returns the event timestamp in unix milliseconds, 0 when the
// variant carries none.
func (e MarketEvent) Time() int64 {
	switch {
	case e.Book != nil:
		return e.Book.Time
	case e.Trade != nil:
		return e.Trade.Time
	case e.Candle != nil:
		return e.Candle.CloseTime
	case e.Portfolio != nil:
		return e.Portfolio.Time
	case e.Order != nil:
		return e.Order.Time
	default:
		return 0
	}
}

// TickerOf returns the market the event belongs to, when it has one.
func (e MarketEvent) TickerOf() (Ticker, bool) {
	switch {
	case e.Book != nil:
		return e.Book.Ticker, true
	case e.Trade != nil:
		return e.Trade.Ticker, true
	case e.Candle != nil:
		return e.Candle.Ticker, true
	default:
		return Ticker{}, false
	}
}

type eventEnvelope struct {
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (e MarketEvent) MarshalJSON() ([]byte, error) {
	var payload any
	switch {
	case e.Book != nil:
		payload = e.Book
	case e.Trade != nil:
		payload = e.Trade
	case e.Candle != nil:
		payload = e.Candle
	case e.Portfolio != nil:
		payload = e.Portfolio
	case e.Order != nil:
		payload = e.Order
	default:
		return nil, fmt.Errorf("empty market event")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Type: e.Kind(), Data: data})
}

func (e *MarketEvent) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*e = MarketEvent{}
	switch env.Type {
	case EventBook:
		e.Book = &BookEvent{}
		return json.Unmarshal(env.Data, e.Book)
	case EventTrade:
		e.Trade = &TradeEvent{}
		return json.Unmarshal(env.Data, e.Trade)
	case EventCandle:
		e.Candle = &CandleEvent{}
		return json.Unmarshal(env.Data, e.Candle)
	case EventPortfolio:
		e.Portfolio = &PortfolioUpdateEvent{}
		return json.Unmarshal(env.Data, e.Portfolio)
	case EventOrder:
		e.Order = &OrderUpdateEvent{}
		return json.Unmarshal(env.Data, e.Order)
	default:
		return fmt.Errorf("unknown event type %q", env.Type)
	}
}

// StateSnapshot is the outward-facing view of the ledger pushed to
// observers.
type StateSnapshot struct {
	Time      int64     `json:"time"`
	Portfolio Portfolio `json:"portfolio"`
	Orders    []Order   `json:"orders"`
}
