package sim

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/model"
)

// DefaultMatchInterval is the book-walk cadence.
const DefaultMatchInterval = 100 * time.Millisecond

var one = decimal.NewFromInt(1)

// RunMatching walks the books against every active order on a fixed
// tick until the context is cancelled.
func (m *Marketplace) RunMatching(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultMatchInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			m.MatchOnce()
		}
	}
}

// MatchOnce runs a single matching pass over all active orders in
// placement order, so two runs over the same inputs settle and emit
// identically.
func (m *Marketplace) MatchOnce() {
	m.mu.Lock()
	var events []model.MarketEvent
	for _, id := range m.orderSeq {
		o := m.orders[id]
		if o.Status != model.StatusActive {
			continue
		}
		b, ok := m.books[o.Ticker]
		if !ok {
			continue
		}
		events = append(events, m.matchOrder(o, b)...)
	}
	if len(events) > 0 {
		events = append(events, m.portfolioEventLocked())
	}
	m.mu.Unlock()

	m.broadcast(events)
}

// matchOrder walks the opposing book side from the best price outward
// and settles every crossed level. Consumed liquidity is removed from
// the snapshot so two orders cannot eat the same level within one pass;
// the next book event restores depth.
func (m *Marketplace) matchOrder(o *model.Order, b *book) []model.MarketEvent {
	var events []model.MarketEvent
	side := &b.asks
	if o.Side == model.SideSell {
		side = &b.bids
	}

	for len(*side) > 0 && o.Status == model.StatusActive {
		level := (*side)[0]
		if o.Type == model.OrderTypeLimit && !crosses(o, level.Price) {
			break
		}
		take := m.takeAmount(o, level)
		if !take.IsPositive() {
			break
		}

		trade := model.OrderTrade{
			ID:     model.NewOrderID(),
			Time:   m.now,
			Amount: take,
			Price:  level.Price,
		}
		o.Trades = append(o.Trades, trade)
		o.FilledAmount = o.FilledAmount.Add(take)
		o.CumulativeQuoteAmount = o.CumulativeQuoteAmount.Add(trade.Notional())
		m.settle(*o, trade)

		if level.Amount.GreaterThan(take) {
			(*side)[0].Amount = level.Amount.Sub(take)
		} else {
			*side = (*side)[1:]
		}

		if m.orderDone(o) {
			o.Status = model.StatusExecuted
			logs.Debugf("sim: order %s executed, filled %s", o.ID, o.FilledAmount)
		}
		events = append(events, orderEvent(m.now, *o, &trade))
	}
	return events
}

// takeAmount returns how much base asset the order takes from the
// level. Market buys chase a notional target; everything else chases a
// base-amount target.
func (m *Marketplace) takeAmount(o *model.Order, level model.BookLevel) decimal.Decimal {
	if o.Side == model.SideBuy && o.Type == model.OrderTypeMarket {
		remaining := o.QuoteAmount.Sub(o.CumulativeQuoteAmount)
		if !remaining.IsPositive() {
			return decimal.Zero
		}
		want := remaining.Div(level.Price)
		if want.GreaterThan(level.Amount) {
			return level.Amount
		}
		return want
	}
	remaining := o.Amount.Sub(o.FilledAmount)
	if remaining.GreaterThan(level.Amount) {
		return level.Amount
	}
	return remaining
}

func (m *Marketplace) orderDone(o *model.Order) bool {
	if o.Side == model.SideBuy && o.Type == model.OrderTypeMarket {
		return o.CumulativeQuoteAmount.GreaterThanOrEqual(o.QuoteAmount)
	}
	return o.FilledAmount.GreaterThanOrEqual(o.Amount)
}

func crosses(o *model.Order, levelPrice decimal.Decimal) bool {
	if o.Side == model.SideBuy {
		return levelPrice.LessThanOrEqual(o.Price)
	}
	return levelPrice.GreaterThanOrEqual(o.Price)
}

// settle moves funds for one fill: a sell credits quote net of fee and
// consumes locked base; a buy credits base net of fee and consumes
// locked quote.
func (m *Marketplace) settle(o model.Order, trade model.OrderTrade) {
	netFactor := one.Sub(o.FeeRate)
	if o.Side == model.SideSell {
		m.credit(o.Ticker.Quote, trade.Notional().Mul(netFactor))
		m.consumeLocked(o.Ticker.Base, trade.Amount)
		return
	}
	m.credit(o.Ticker.Base, trade.Amount.Mul(netFactor))
	m.consumeLocked(o.Ticker.Quote, trade.Notional())
}

func (m *Marketplace) credit(symbol string, amount decimal.Decimal) {
	a := m.assets[symbol]
	a.Symbol = symbol
	a.Free = a.Free.Add(amount)
	m.assets[symbol] = a
}

func (m *Marketplace) consumeLocked(symbol string, amount decimal.Decimal) {
	a := m.assets[symbol]
	a.Symbol = symbol
	a.Locked = a.Locked.Sub(amount)
	if a.Locked.IsNegative() {
		a.Locked = decimal.Zero
	}
	m.assets[symbol] = a
}
