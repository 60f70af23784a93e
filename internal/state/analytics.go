package state

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pourquoi/tradebot/internal/model"
)

// SessionProfit returns the session's realized profit: the signed sum of
// trade notional over its Executed orders, negative for buys and
// positive for sells. Fees are not deducted here; the caller applies
// them when pricing an exit.
func (s *State) SessionProfit(sessionID string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionProfitLocked(sessionID)
}

func (s *State) sessionProfitLocked(sessionID string) decimal.Decimal {
	profit := decimal.Zero
	for i := range s.orders {
		o := &s.orders[i]
		if o.SessionID != sessionID || !o.IsExecuted() {
			continue
		}
		if o.Side == model.SideBuy {
			profit = profit.Sub(o.CumulativeQuoteAmount)
		} else {
			profit = profit.Add(o.CumulativeQuoteAmount)
		}
	}
	return profit
}

// SessionStart returns the creation time of the session's earliest
// order, or false for an unknown session.
func (s *State) SessionStart(sessionID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var start int64
	found := false
	for i := range s.orders {
		o := &s.orders[i]
		if o.SessionID != sessionID {
			continue
		}
		if !found || o.CreatedAt < start {
			start = o.CreatedAt
			found = true
		}
	}
	return start, found
}

// ActiveSessionCount counts the distinct sessions of a ticker that are
// still live within the rolling window: sessions holding a pending
// order, an open position leg, or any order created after now-window.
// It caps concurrent exposure per ticker.
func (s *State) ActiveSessionCount(ticker model.Ticker, window time.Duration, now int64) int {
	cutoff := now - window.Milliseconds()

	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make(map[string]struct{})
	for i := range s.orders {
		o := &s.orders[i]
		if o.SessionID == "" || o.Ticker != ticker {
			continue
		}
		switch {
		case o.IsPending():
			active[o.SessionID] = struct{}{}
		case o.IsExecuted() && o.Side == model.SideBuy && o.NextOrderID == "":
			active[o.SessionID] = struct{}{}
		case o.CreatedAt >= cutoff:
			active[o.SessionID] = struct{}{}
		}
	}
	return len(active)
}

// TotalScalped returns the realized profit accumulated on a base asset
// across all completed round trips: the sum of session profits over
// sessions whose latest executed order is a sell.
func (s *State) TotalScalped(base string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type last struct {
		side model.Side
		ts   int64
	}
	lastExec := make(map[string]last)
	for i := range s.orders {
		o := &s.orders[i]
		if o.SessionID == "" || o.Ticker.Base != base || !o.IsExecuted() {
			continue
		}
		ts := orderTime(o)
		if cur, ok := lastExec[o.SessionID]; !ok || ts >= cur.ts {
			lastExec[o.SessionID] = last{side: o.Side, ts: ts}
		}
	}

	total := decimal.Zero
	for sessionID, l := range lastExec {
		if l.side == model.SideSell {
			total = total.Add(s.sessionProfitLocked(sessionID))
		}
	}
	return total
}
