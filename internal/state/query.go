package state

import (
	"sort"

	"github.com/pourquoi/tradebot/internal/model"
)

// SortDir orders query results by working time.
type SortDir int

const (
	SortNone SortDir = iota
	SortOldestFirst
	SortNewestFirst
)

// Filter selects orders. Zero fields match everything.
type Filter struct {
	Ticker    *model.Ticker
	Side      model.Side
	Statuses  []model.OrderStatus
	SessionID string
	// Childless keeps only orders without a successor in their session
	// chain, i.e. the open end of a position.
	Childless bool
	Sort      SortDir
}

func (f Filter) matches(o *model.Order) bool {
	if f.Ticker != nil && o.Ticker != *f.Ticker {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.SessionID != "" && o.SessionID != f.SessionID {
		return false
	}
	if f.Childless && o.NextOrderID != "" {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if o.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func orderTime(o *model.Order) int64 {
	if o.WorkingTime != 0 {
		return o.WorkingTime
	}
	return o.CreatedAt
}

// Orders returns copies of all orders matching the filter.
func (s *State) Orders(f Filter) []model.Order {
	s.mu.RLock()
	var out []model.Order
	for i := range s.orders {
		if f.matches(&s.orders[i]) {
			out = append(out, s.orders[i])
		}
	}
	s.mu.RUnlock()

	switch f.Sort {
	case SortOldestFirst:
		sort.SliceStable(out, func(i, j int) bool { return orderTime(&out[i]) < orderTime(&out[j]) })
	case SortNewestFirst:
		sort.SliceStable(out, func(i, j int) bool { return orderTime(&out[i]) > orderTime(&out[j]) })
	}
	return out
}

// pendingStatuses are the in-flight states blocking a new decision tick.
var pendingStatuses = []model.OrderStatus{
	model.StatusDraft, model.StatusSent, model.StatusActive, model.StatusPendingCancel,
}

// InFlight returns the ticker's pending order, if any.
func (s *State) InFlight(ticker model.Ticker) (model.Order, bool) {
	orders := s.Orders(Filter{Ticker: &ticker, Statuses: pendingStatuses})
	if len(orders) == 0 {
		return model.Order{}, false
	}
	return orders[0], true
}

// OpenBuys returns the ticker's executed buy legs without a successor,
// oldest first: the positions a sell decision can close.
func (s *State) OpenBuys(ticker model.Ticker) []model.Order {
	return s.Orders(Filter{
		Ticker:    &ticker,
		Side:      model.SideBuy,
		Statuses:  []model.OrderStatus{model.StatusExecuted},
		Childless: true,
		Sort:      SortOldestFirst,
	})
}

// OpenSells returns the ticker's executed sell legs without a successor,
// newest first: the sessions a reentry decision can extend.
func (s *State) OpenSells(ticker model.Ticker) []model.Order {
	return s.Orders(Filter{
		Ticker:    &ticker,
		Side:      model.SideSell,
		Statuses:  []model.OrderStatus{model.StatusExecuted},
		Childless: true,
		Sort:      SortNewestFirst,
	})
}

// LastCompleted returns the ticker's most recent order in a terminal
// state.
func (s *State) LastCompleted(ticker model.Ticker) (model.Order, bool) {
	orders := s.Orders(Filter{
		Ticker: &ticker,
		Statuses: []model.OrderStatus{
			model.StatusExecuted, model.StatusCancelled,
			model.StatusRejected, model.StatusExpired,
		},
		Sort: SortNewestFirst,
	})
	if len(orders) == 0 {
		return model.Order{}, false
	}
	return orders[0], true
}
