// Package state owns the authoritative order list and portfolio: the
// order state machine, fund reservation, retention, and the session
// analytics the strategy decides from.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pourquoi/tradebot/internal/model"
)

var (
	// ErrNotDraft means AddOrder was called with an order that already
	// left the Draft state.
	ErrNotDraft = errors.New("can only add draft orders")
	// ErrUnknownOrder means no order with the given id exists.
	ErrUnknownOrder = errors.New("order not found")
	// ErrInvalidTransition means an update would move an order's status
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrChainForked means AddOrder named a predecessor that already has
	// a successor. Each order links at most one follow-up.
	ErrChainForked = errors.New("previous order already has a successor")
)

// retention is how long non-pending orders are kept before PurgeOrders
// drops them.
const retention = 14 * 24 * time.Hour

// State is the order & portfolio ledger. All mutations run under one
// write lock; a reservation and its order append are a single critical
// section so two concurrent orders can never double-reserve funds.
type State struct {
	mu        sync.RWMutex
	portfolio model.Portfolio
	orders    []model.Order
	index     map[string]int
}

// New returns an empty ledger.
func New() *State {
	return &State{
		portfolio: model.NewPortfolio(),
		index:     make(map[string]int),
	}
}

// reservationFor returns the asset symbol and amount the (side, type)
// pair requires: a market buy reserves its quote notional, a limit buy
// amount*price of quote, any sell the base amount.
func reservationFor(o *model.Order) (string, decimal.Decimal) {
	if o.Side == model.SideSell {
		return o.Ticker.Base, o.Amount
	}
	if o.Type == model.OrderTypeMarket {
		return o.Ticker.Quote, o.Notional()
	}
	return o.Ticker.Quote, o.Amount.Mul(o.Price)
}

// AddOrder validates a Draft order, reserves its funds, links it into
// its session chain and appends it as Sent. On any failure nothing is
// reserved and nothing is appended.
func (s *State) AddOrder(order model.Order) (model.Order, error) {
	if order.Status != model.StatusDraft {
		return model.Order{}, fmt.Errorf("%w: %s is %s", ErrNotDraft, order.ID, order.Status)
	}
	if order.ID == "" {
		order.ID = model.NewOrderID()
	}
	if order.CreatedAt == 0 {
		order.CreatedAt = model.NowMillis()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[order.ID]; exists {
		return model.Order{}, fmt.Errorf("duplicate order id %s", order.ID)
	}

	prevIdx := -1
	if order.PrevOrderID != "" {
		if idx, ok := s.index[order.PrevOrderID]; ok {
			if s.orders[idx].NextOrderID != "" {
				return model.Order{}, fmt.Errorf("%w: %s -> %s",
					ErrChainForked, order.PrevOrderID, s.orders[idx].NextOrderID)
			}
			prevIdx = idx
		}
	}

	symbol, amount := reservationFor(&order)
	if err := s.portfolio.ReserveFunds(symbol, amount); err != nil {
		return model.Order{}, fmt.Errorf("add order %s: %w", order.ID, err)
	}

	if prevIdx >= 0 {
		s.orders[prevIdx].NextOrderID = order.ID
	}

	order.Status = model.StatusSent
	s.index[order.ID] = len(s.orders)
	s.orders = append(s.orders, order)
	return order, nil
}

// UpdateOrder applies a status/fill update coming from the matching
// simulator or a live account stream. Fills are idempotent by trade id,
// so at-least-once delivery is safe. When the order lands in Rejected,
// Cancelled or Expired, the unconsumed part of its reservation is
// released back to the free balance.
func (s *State) UpdateOrder(update model.OrderUpdateEvent) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[update.OrderID]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, update.OrderID)
	}
	order := &s.orders[idx]

	if update.Status != "" && update.Status != order.Status {
		if !order.Status.CanTransition(update.Status) {
			return *order, fmt.Errorf("%w: %s %s -> %s",
				ErrInvalidTransition, order.ID, order.Status, update.Status)
		}
		order.Status = update.Status
	}
	if update.MarketplaceID != "" {
		order.MarketplaceID = update.MarketplaceID
	}
	if update.WorkingTime != 0 {
		order.WorkingTime = update.WorkingTime
	}
	if update.Trade != nil && !order.HasTrade(update.Trade.ID) {
		order.Trades = append(order.Trades, *update.Trade)
		order.FilledAmount = order.FilledAmount.Add(update.Trade.Amount)
		order.CumulativeQuoteAmount = order.CumulativeQuoteAmount.Add(update.Trade.Notional())
	}

	switch order.Status {
	case model.StatusRejected, model.StatusCancelled, model.StatusExpired:
		s.releaseRemainingLocked(order)
	}

	return *order, nil
}

// releaseRemainingLocked returns the unconsumed part of an order's
// reservation to the free balance. Called with the write lock held.
func (s *State) releaseRemainingLocked(order *model.Order) {
	symbol, reserved := reservationFor(order)
	var consumed decimal.Decimal
	if order.Side == model.SideSell {
		consumed = order.FilledAmount
	} else {
		consumed = order.CumulativeQuoteAmount
	}
	remaining := reserved.Sub(consumed)
	if remaining.IsPositive() {
		s.portfolio.ReleaseFunds(symbol, remaining)
	}
}

// PurgeOrders drops orders in a terminal state whose last activity is
// older than the retention window, and returns how many were removed.
func (s *State) PurgeOrders(now int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now - retention.Milliseconds()
	kept := s.orders[:0]
	removed := 0
	for _, order := range s.orders {
		ts := order.WorkingTime
		if ts == 0 {
			ts = order.CreatedAt
		}
		if order.Status.Terminal() && ts < cutoff {
			removed++
			continue
		}
		kept = append(kept, order)
	}
	if removed == 0 {
		return 0
	}
	s.orders = kept
	s.index = make(map[string]int, len(s.orders))
	for i := range s.orders {
		s.index[s.orders[i].ID] = i
	}
	return removed
}

// Order returns a copy of the order with the given id.
func (s *State) Order(id string) (model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[id]
	if !ok {
		return model.Order{}, false
	}
	return s.orders[idx], true
}

// Portfolio returns a deep copy of the current portfolio.
func (s *State) Portfolio() model.Portfolio {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portfolio.Clone()
}

// Snapshot captures the full ledger for outward observers.
func (s *State) Snapshot() model.StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]model.Order, len(s.orders))
	copy(orders, s.orders)
	return model.StateSnapshot{
		Time:      model.NowMillis(),
		Portfolio: s.portfolio.Clone(),
		Orders:    orders,
	}
}

// UpdateAsset replaces an asset with an authoritative balance.
func (s *State) UpdateAsset(asset model.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolio.UpdateAsset(asset)
}

// UpdateAssetValue revalues one asset at a unit price.
func (s *State) UpdateAssetValue(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolio.UpdateAssetValue(symbol, price)
}

// Deposit credits an asset's free balance, used to seed paper accounts.
func (s *State) Deposit(symbol string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolio.UpdateAssetAmount(symbol, amount, decimal.Zero)
}
