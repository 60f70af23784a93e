package state

import (
	"context"
	"errors"

	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/model"
)

// Applier is the ledger's single writer at runtime: it consumes the
// authoritative account event stream sequentially and applies it to the
// State. Every other task is a reader, or a proposer whose orders enter
// through AddOrder before they ever reach an exchange.
//
// The applier channel must never be the lossy fan-out hub; correctness
// of orders and balances depends on seeing every event, in order.
type Applier struct {
	state *State
}

// NewApplier binds an applier to its ledger.
func NewApplier(st *State) *Applier {
	return &Applier{state: st}
}

// Apply processes one account event.
func (a *Applier) Apply(event model.MarketEvent) {
	switch {
	case event.Order != nil:
		if _, err := a.state.UpdateOrder(*event.Order); err != nil {
			if errors.Is(err, ErrUnknownOrder) {
				// Updates for orders placed outside this process (or
				// already purged) are observable but not applicable.
				logs.Debugf("skip update for unknown order %s", event.Order.OrderID)
				return
			}
			logs.Errorf("apply order update %s: %v", event.Order.OrderID, err)
		}
	case event.Portfolio != nil:
		for _, asset := range event.Portfolio.Assets {
			a.state.UpdateAsset(asset)
		}
	case event.Trade != nil:
		a.state.UpdateAssetValue(event.Trade.Ticker.Base, event.Trade.Price)
	}
}

// Run consumes events until the channel closes or the context is done.
func (a *Applier) Run(ctx context.Context, events <-chan model.MarketEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			a.Apply(event)
		}
	}
}
