// Package strategy defines the decision surface between the trading
// core and the concrete trading logic. Strategies consume market events
// and emit actions; skipped opportunities are first-class actions so
// that every tick the engine looked at leaves a trace.
package strategy

import (
	"context"

	"github.com/pourquoi/tradebot/internal/model"
)

// Action is a strategy decision. Exactly one of the concrete types
// below is emitted per evaluated opportunity.
type Action interface {
	// ActionKind returns a short tag for logging and serialization.
	ActionKind() string
}

// PlaceOrder asks the engine to submit the embedded draft order.
type PlaceOrder struct {
	Order model.Order `json:"order"`
}

func (PlaceOrder) ActionKind() string { return "place_order" }

// CancelOrder asks the engine to cancel a previously placed order.
type CancelOrder struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (CancelOrder) ActionKind() string { return "cancel_order" }

// Ignore records that the strategy evaluated the ticker and decided not
// to act. Reason is a stable short label; Details carries the numbers
// behind the call.
type Ignore struct {
	Ticker  model.Ticker `json:"ticker"`
	Reason  string       `json:"reason"`
	Details string       `json:"details,omitempty"`
}

func (Ignore) ActionKind() string { return "ignore" }

// Strategy turns market events into actions. Decide is called
// sequentially from the engine loop; implementations keep their own
// per-ticker state and must not block on I/O.
type Strategy interface {
	// Warmup seeds internal indicator state from historical candles
	// before live events arrive.
	Warmup(ctx context.Context, ticker model.Ticker, candles []model.CandleEvent)
	// Decide consumes one market event and returns zero or more
	// actions.
	Decide(ctx context.Context, event model.MarketEvent) []Action
}
