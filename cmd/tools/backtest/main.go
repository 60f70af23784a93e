// Backtest replays a captured event log against the matching simulator
// at full speed and prints a per-run report: executed sessions, realized
// profit and the audit trail of ignored opportunities.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/bus"
	"github.com/pourquoi/tradebot/internal/core"
	"github.com/pourquoi/tradebot/internal/exchange"
	"github.com/pourquoi/tradebot/internal/exchange/replay"
	"github.com/pourquoi/tradebot/internal/exchange/sim"
	"github.com/pourquoi/tradebot/internal/model"
	"github.com/pourquoi/tradebot/internal/ops"
	"github.com/pourquoi/tradebot/internal/state"
	"github.com/pourquoi/tradebot/internal/strategy"
	"github.com/pourquoi/tradebot/internal/strategy/scalping"
)

type report struct {
	mu      sync.Mutex
	placed  int
	ignored map[string]int
}

func (r *report) observe(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			r.mu.Lock()
			switch a := ev.Action.(type) {
			case strategy.PlaceOrder:
				r.placed++
			case strategy.Ignore:
				r.ignored[a.Reason]++
			}
			r.mu.Unlock()
		}
	}
}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	eventsPath := flag.String("events", "", "Event log to replay (overrides config)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("load config %s: %v", *configPath, err)
		os.Exit(1)
	}
	if *eventsPath != "" {
		loaded.Replay.EventsPath = *eventsPath
	}
	loaded.Replay.Delay = 0

	if err := run(context.Background(), loaded); err != nil {
		logs.Errorf("backtest failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, loaded ops.Loaded) error {
	settings := exchange.StaticSettings{
		FeeRate:     loaded.Sim.FeeRate,
		StepSize:    loaded.Sim.StepSize,
		TickSize:    loaded.Sim.TickSize,
		MinNotional: loaded.Sim.MinNotional,
	}
	feed, err := replay.New(replay.Config{
		EventsPath: loaded.Replay.EventsPath,
		CacheDir:   loaded.Replay.CacheDir,
		Settings:   settings,
	})
	if err != nil {
		return err
	}

	assets := make(map[string]model.Asset, len(loaded.Sim.Deposits))
	for sym, amount := range loaded.Sim.Deposits {
		assets[sym] = model.Asset{Symbol: sym, Free: amount}
	}
	market := sim.New(sim.Config{Settings: settings, Data: feed, Feed: feed, Assets: assets})

	ledger := state.New()
	for sym, amount := range loaded.Sim.Deposits {
		ledger.Deposit(sym, amount)
	}

	hub := bus.NewHub()
	defer hub.Close()

	engine := &core.Engine{
		Ledger:   ledger,
		Hub:      hub,
		Market:   market,
		Strategy: scalping.New(loaded.Strategy, settings, ledger),
		Tickers:  loaded.Tickers,
	}

	rep := &report{ignored: map[string]int{}}
	sub := hub.Subscribe(4096)
	go rep.observe(ctx, sub)

	err = engine.Run(ctx, core.Options{Matcher: market, MatchPerEvent: true})
	sub.Cancel()
	if err != nil {
		return err
	}

	printReport(rep, ledger, loaded.Tickers)
	return nil
}

func printReport(rep *report, ledger *state.State, tickers []model.Ticker) {
	rep.mu.Lock()
	defer rep.mu.Unlock()

	fmt.Printf("orders placed: %d\n", rep.placed)
	reasons := make([]string, 0, len(rep.ignored))
	for r := range rep.ignored {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("ignored %-20s %d\n", r, rep.ignored[r])
	}

	scalped := decimal.Zero
	for _, t := range tickers {
		scalped = scalped.Add(ledger.TotalScalped(t.Base))
	}
	fmt.Printf("total scalped: %s\n", scalped)

	portfolio := ledger.Portfolio()
	for _, sym := range portfolio.Symbols() {
		a := portfolio.Assets[sym]
		fmt.Printf("%-8s free=%s locked=%s\n", sym, a.Free, a.Locked)
	}
}
