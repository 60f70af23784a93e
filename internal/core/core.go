/*
Core runs the trading engine.

# Module
  - in-memory hub: fans market data, strategy actions and ledger snapshots out to observers
  - applier loop: the single writer of the ledger, consuming the authoritative account stream sequentially
  - strategy loop: one per run, invoked sequentially per market event
  - matching loop: drives the simulated exchange when one is wired

# Source
 1. market data from a live, simulated or replayed feed
 2. account data (order/balance updates) from the marketplace

# Produce
  - orders to the marketplace
  - JSONL event log via the recorder
  - snapshots and actions to UI/persistence observers
*/
package core

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/bus"
	"github.com/pourquoi/tradebot/internal/exchange"
	"github.com/pourquoi/tradebot/internal/model"
	"github.com/pourquoi/tradebot/internal/recorder"
	"github.com/pourquoi/tradebot/internal/state"
	"github.com/pourquoi/tradebot/internal/strategy"
)

const (
	channelBuffer    = 1024
	snapshotInterval = time.Second
	purgeInterval    = time.Hour
	strategyBuffer   = 4096
)

// Matcher is the simulated exchange's matching surface. Nil when
// trading against a live venue.
type Matcher interface {
	ApplyMarketEvent(ev model.MarketEvent)
	MatchOnce()
	RunMatching(ctx context.Context, interval time.Duration) error
	// Close ends the account stream once matching is finished; buffered
	// events are still delivered.
	Close()
}

// Engine wires the feed, the marketplace, the ledger and the strategy
// together and owns every task of a run.
type Engine struct {
	Ledger   *state.State
	Hub      *bus.Hub
	Market   exchange.Marketplace
	Strategy strategy.Strategy
	Tickers  []model.Ticker
}

// Options carries the optional collaborators of a run.
type Options struct {
	// Matcher drives a simulated exchange. When MatchPerEvent is set
	// the books are walked after every applied market event instead of
	// on a timer.
	Matcher       Matcher
	MatchPerEvent bool
	MatchInterval time.Duration
	// Recorder captures the market-data stream to a JSONL log.
	Recorder *recorder.Recorder
}

// Run executes until the context is cancelled or the data feed is
// exhausted. It returns the first task error, nil on a clean feed end.
func (e *Engine) Run(ctx context.Context, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mdCh := make(chan model.MarketEvent, channelBuffer)
	accCh := make(chan model.MarketEvent, channelBuffer)
	applierQueue := bus.NewQueue(channelBuffer)
	applier := state.NewApplier(e.Ledger)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	fail := func(err error) {
		select {
		case errCh <- err:
		default:
		}
		cancel()
	}

	// Data feed. A nil return means the feed ran dry (replay reached
	// the end of the log); that ends the run cleanly.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(mdCh)
		if err := e.Market.StartDataStream(ctx, e.Tickers, mdCh); err != nil && ctx.Err() == nil {
			fail(err)
		}
	}()

	// Account stream: the authoritative order/balance feed. Closing
	// accCh here lets the pump below drain every remaining event.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(accCh)
		if err := e.Market.StartAccountStream(ctx, accCh); err != nil && ctx.Err() == nil {
			fail(err)
		}
	}()

	// Ledger applier: single writer, non-lossy, sequential.
	applierDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(applierDone)
		applierQueue.Run(ctx, applier.Apply)
	}()

	// Account pump: account events reach the applier on a blocking
	// channel; observers get a best-effort copy via the hub.
	pumpDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(pumpDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-accCh:
				if !ok {
					return
				}
				if err := applierQueue.Publish(ctx, ev); err != nil {
					return
				}
				e.Hub.Publish(bus.Event{Market: &ev})
			}
		}
	}()

	// Timer-driven matching, unless the run matches per event.
	if opts.Matcher != nil && !opts.MatchPerEvent {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := opts.Matcher.RunMatching(ctx, opts.MatchInterval); err != nil && ctx.Err() == nil {
				fail(err)
			}
		}()
	}

	// Strategy loop: subscribes to the hub like any observer. Losing a
	// lagging book tick only delays a decision; the ledger itself never
	// depends on this path.
	sub := e.Hub.Subscribe(strategyBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sub.Cancel()
		e.strategyLoop(ctx, sub)
	}()

	// Snapshot and maintenance ticker.
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.maintenanceLoop(ctx)
	}()

	// Market-data pump: the run's main sequence.
	for ev := range mdCh {
		if opts.Matcher != nil {
			opts.Matcher.ApplyMarketEvent(ev)
			if opts.MatchPerEvent {
				opts.Matcher.MatchOnce()
			}
		}
		if opts.Recorder != nil {
			if err := opts.Recorder.Record(ev); err != nil {
				logs.Errorf("engine: record: %v", err)
			}
		}
		e.Hub.Publish(bus.Event{Market: &ev})
	}

	// Feed done: run the final matching pass, then drain the account
	// path end to end so the closing snapshot holds every fill.
	if ctx.Err() == nil {
		if opts.Matcher != nil {
			opts.Matcher.MatchOnce()
			opts.Matcher.Close()
			<-pumpDone
			applierQueue.Close()
			<-applierDone
		}
		e.publishSnapshot()
	}
	cancel()
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (e *Engine) strategyLoop(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Market == nil {
				continue
			}
			for _, action := range e.Strategy.Decide(ctx, *ev.Market) {
				e.Hub.Publish(bus.Event{Action: action})
				e.execute(ctx, action)
			}
		}
	}
}

// execute routes one strategy action to the ledger and the
// marketplace. The ledger reserves first; a marketplace rejection comes
// back on the account stream and is reconciled there.
func (e *Engine) execute(ctx context.Context, action strategy.Action) {
	switch a := action.(type) {
	case strategy.PlaceOrder:
		placed, err := e.Ledger.AddOrder(a.Order)
		if err != nil {
			logs.Warnf("engine: order %s not placed: %v", a.Order.ID, err)
			return
		}
		if _, err := e.Market.PlaceOrder(ctx, placed); err != nil {
			logs.Errorf("engine: submit order %s: %v", placed.ID, err)
		}
	case strategy.CancelOrder:
		_, err := e.Ledger.UpdateOrder(model.OrderUpdateEvent{
			Time:    model.NowMillis(),
			OrderID: a.OrderID,
			Status:  model.StatusPendingCancel,
		})
		if err != nil {
			logs.Warnf("engine: cancel order %s: %v", a.OrderID, err)
			return
		}
		if err := e.Market.CancelOrder(ctx, a.OrderID); err != nil {
			logs.Errorf("engine: cancel order %s: %v", a.OrderID, err)
		}
	case strategy.Ignore:
		logs.Debugf("engine: ignored %s: %s (%s)", a.Ticker, a.Reason, a.Details)
	}
}

func (e *Engine) maintenanceLoop(ctx context.Context) {
	snap := time.NewTicker(snapshotInterval)
	purge := time.NewTicker(purgeInterval)
	defer snap.Stop()
	defer purge.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-snap.C:
			e.publishSnapshot()
		case <-purge.C:
			if n := e.Ledger.PurgeOrders(model.NowMillis()); n > 0 {
				logs.Infof("engine: purged %d expired orders", n)
			}
		}
	}
}

func (e *Engine) publishSnapshot() {
	snapshot := e.Ledger.Snapshot()
	e.Hub.Publish(bus.Event{State: &snapshot})
}

// WarmupFromHistory fetches recent candles for every ticker and seeds
// the strategy's indicator state before events flow.
func (e *Engine) WarmupFromHistory(ctx context.Context, interval string, from, to int64) error {
	for _, ticker := range e.Tickers {
		candles, err := e.Market.Candles(ctx, ticker, interval, from, to)
		if err != nil {
			return err
		}
		e.Strategy.Warmup(ctx, ticker, candles)
	}
	return nil
}
