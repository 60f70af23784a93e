package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/bus"
	"github.com/pourquoi/tradebot/internal/core"
	"github.com/pourquoi/tradebot/internal/exchange"
	"github.com/pourquoi/tradebot/internal/exchange/replay"
	"github.com/pourquoi/tradebot/internal/exchange/sim"
	"github.com/pourquoi/tradebot/internal/model"
	"github.com/pourquoi/tradebot/internal/ops"
	"github.com/pourquoi/tradebot/internal/persist"
	"github.com/pourquoi/tradebot/internal/recorder"
	"github.com/pourquoi/tradebot/internal/server"
	"github.com/pourquoi/tradebot/internal/state"
	"github.com/pourquoi/tradebot/internal/strategy/scalping"
)

const (
	warmupInterval = "1h"
	warmupSpan     = 100 * time.Hour
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	eventsPath := flag.String("events", "", "Event log to replay (overrides config)")
	delay := flag.Duration("delay", -1, "Per-record replay delay (overrides config)")
	profile := flag.Bool("profile", false, "Enable continuous profiling")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		fatalf("load config %s: %v", *configPath, err)
	}
	if *eventsPath != "" {
		loaded.Replay.EventsPath = *eventsPath
	}
	if *delay >= 0 {
		loaded.Replay.Delay = *delay
	}
	if loaded.Replay.EventsPath == "" {
		fatalf("no event log configured; set replay.eventsPath or -events")
	}

	if *profile {
		startProfiler(loaded.Env.PyroscopeServer)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, loaded); err != nil && ctx.Err() == nil {
		fatalf("run failed: %v", err)
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
		Delay:      loaded.Replay.Delay,
		Settings:   settings,
	})
	if err != nil {
		return err
	}

	assets := make(map[string]model.Asset, len(loaded.Sim.Deposits))
	for sym, amount := range loaded.Sim.Deposits {
		assets[sym] = model.Asset{Symbol: sym, Free: amount, Locked: decimal.Zero}
	}
	market := sim.New(sim.Config{
		Settings: settings,
		Data:     feed,
		Feed:     feed,
		Latency:  loaded.Sim.Latency,
		Assets:   assets,
	})

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

	opts := core.Options{
		Matcher:       market,
		MatchPerEvent: loaded.Replay.Delay == 0,
		MatchInterval: sim.DefaultMatchInterval,
	}
	if loaded.Features.EnableRecord && loaded.Record.Path != "" {
		rec, err := recorder.Open(loaded.Record.Path)
		if err != nil {
			return err
		}
		defer rec.Close()
		opts.Recorder = rec
	}

	if loaded.Features.EnableServer && loaded.Server.Addr != "" {
		srv := server.New(loaded.Server.Addr, hub, ledger, feed)
		go func() {
			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				logs.Errorf("server: %v", err)
			}
		}()
	}

	if loaded.Features.EnablePersist {
		if loaded.Env.PostgresDSN == "" {
			return fmt.Errorf("persistence enabled but POSTGRES_DSN is empty")
		}
		store, err := persist.Open(loaded.Env.PostgresDSN)
		if err != nil {
			return err
		}
		go func() {
			if err := store.Run(ctx, hub.Subscribe(256)); err != nil && ctx.Err() == nil {
				logs.Errorf("persist: %v", err)
			}
		}()
	}

	if warmupTo := feed.StartTime(); warmupTo > 0 {
		warmupFrom := warmupTo - warmupSpan.Milliseconds()
		if err := engine.WarmupFromHistory(ctx, warmupInterval, warmupFrom, warmupTo); err != nil {
			logs.Warnf("warmup skipped: %v", err)
		}
	}

	logs.Infof("trading %d tickers from %s", len(loaded.Tickers), loaded.Replay.EventsPath)
	return engine.Run(ctx, opts)
}

func fatalf(format string, args ...any) {
	logs.Errorf(format, args...)
	os.Exit(1)
}

func startProfiler(addr string) {
	if addr == "" {
		addr = "http://localhost:4040"
	}
	_, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "tradebot.trader",
		ServerAddress:   addr,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		logs.Warnf("profiler disabled: %v", err)
	}
}
