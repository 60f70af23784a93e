package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType selects the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle state of an order.
//
// Draft -> Sent -> Active -> {Executed | Rejected | Cancelled | Expired},
// with Active -> PendingCancel -> Cancelled as the cancel path. Draft is
// the only state in which no funds are reserved.
type OrderStatus string

const (
	StatusDraft         OrderStatus = "draft"
	StatusSent          OrderStatus = "sent"
	StatusActive        OrderStatus = "active"
	StatusPendingCancel OrderStatus = "pending_cancel"
	StatusExecuted      OrderStatus = "executed"
	StatusCancelled     OrderStatus = "cancelled"
	StatusRejected      OrderStatus = "rejected"
	StatusExpired       OrderStatus = "expired"
)

// Terminal reports whether no further transition is valid from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

func (s OrderStatus) rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusSent:
		return 1
	case StatusActive:
		return 2
	case StatusPendingCancel:
		return 3
	case StatusExecuted, StatusCancelled, StatusRejected, StatusExpired:
		return 4
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next keeps the status
// sequence monotonic. Staying on the same non-terminal status is allowed
// (fill updates repeat Active).
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return !s.Terminal()
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// OrderTrade is a single immutable fill of an order.
type OrderTrade struct {
	ID     string          `json:"id"`
	Time   int64           `json:"t"`
	Amount decimal.Decimal `json:"a"`
	Price  decimal.Decimal `json:"p"`
}

// Notional returns amount * price for the fill.
func (t OrderTrade) Notional() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}

// Order is a buy or sell intent and its execution record. It is created
// by a strategy as a Draft and owned by the ledger afterwards.
type Order struct {
	ID            string `json:"id"`
	MarketplaceID string `json:"marketplace_id,omitempty"`

	Ticker Ticker      `json:"ticker"`
	Side   Side        `json:"side"`
	Type   OrderType   `json:"type"`
	Status OrderStatus `json:"status"`

	// Amount is the base quantity; QuoteAmount is the quote notional a
	// market buy targets instead.
	Amount                decimal.Decimal `json:"amount"`
	QuoteAmount           decimal.Decimal `json:"quote_amount"`
	Price                 decimal.Decimal `json:"price"`
	FilledAmount          decimal.Decimal `json:"filled_amount"`
	CumulativeQuoteAmount decimal.Decimal `json:"cumulative_quote_amount"`
	FeeRate               decimal.Decimal `json:"fee_rate"`

	Trades []OrderTrade `json:"trades,omitempty"`

	// Orders of one position chain share a session id; PrevOrderID and
	// NextOrderID link the chain, at most one successor per order.
	SessionID   string `json:"session_id,omitempty"`
	PrevOrderID string `json:"prev_order_id,omitempty"`
	NextOrderID string `json:"next_order_id,omitempty"`

	CreatedAt   int64 `json:"created_at"`
	WorkingTime int64 `json:"working_time,omitempty"`
}

// NewOrderID returns a fresh order identifier.
func NewOrderID() string {
	return uuid.NewString()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// IsPending reports whether the order is still in flight.
func (o *Order) IsPending() bool {
	return !o.Status.Terminal()
}

// IsExecuted reports whether the order finished fully filled.
func (o *Order) IsExecuted() bool {
	return o.Status == StatusExecuted
}

// HasTrade reports whether a fill with the given id was already recorded.
func (o *Order) HasTrade(id string) bool {
	for i := range o.Trades {
		if o.Trades[i].ID == id {
			return true
		}
	}
	return false
}

// Notional returns the quote value the order targets: the explicit quote
// amount when set, otherwise amount * price.
func (o *Order) Notional() decimal.Decimal {
	if !o.QuoteAmount.IsZero() {
		return o.QuoteAmount
	}
	return o.Amount.Mul(o.Price)
}

// NowMillis returns the current wall clock in unix milliseconds, the time
// unit used across events and orders.
func NowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}
