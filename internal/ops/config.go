package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/pourquoi/tradebot/internal/model"
	"github.com/pourquoi/tradebot/internal/strategy/scalping"
)

// FileConfig mirrors the JSON config layout. Durations are expressed in
// milliseconds.
type FileConfig struct {
	Tickers  []string           `json:"tickers"`
	Strategy StrategyConfig     `json:"strategy"`
	Sim      SimConfig          `json:"sim"`
	Replay   ReplayConfig       `json:"replay"`
	Server   ServerConfig       `json:"server"`
	Record   RecordConfig       `json:"record"`
	Features FeatureFlagsConfig `json:"features"`
}

// StrategyConfig tunes the scalping strategy.
type StrategyConfig struct {
	TargetProfit            decimal.Decimal `json:"targetProfit"`
	QuoteAmount             decimal.Decimal `json:"quoteAmount"`
	ReentryDelayMs          int64           `json:"reentryDelayMs"`
	EntryDelayMs            int64           `json:"entryDelayMs"`
	SessionProfitLifetimeMs int64           `json:"sessionProfitLifetimeMs"`
	MaxSessions             int             `json:"maxSessions"`
	SessionWindowMs         int64           `json:"sessionWindowMs"`
	OrderLifetimeMs         int64           `json:"orderLifetimeMs"`
	OrderType               string          `json:"orderType"`
	ClusterTolerance        decimal.Decimal `json:"clusterTolerance"`
	CandleLimit             int             `json:"candleLimit"`
	TradeLimit              int             `json:"tradeLimit"`
}

// SimConfig seeds the matching simulator.
type SimConfig struct {
	FeeRate     decimal.Decimal            `json:"feeRate"`
	StepSize    decimal.Decimal            `json:"stepSize"`
	TickSize    decimal.Decimal            `json:"tickSize"`
	MinNotional decimal.Decimal            `json:"minNotional"`
	LatencyMs   int64                      `json:"latencyMs"`
	Deposits    map[string]decimal.Decimal `json:"deposits"`
}

// ReplayConfig points at a captured event log.
type ReplayConfig struct {
	EventsPath string `json:"eventsPath"`
	CacheDir   string `json:"cacheDir"`
	DelayMs    int64  `json:"delayMs"`
}

// ServerConfig exposes the websocket UI endpoint.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// RecordConfig captures the live event stream to a log file.
type RecordConfig struct {
	Path string `json:"path"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableServer  *bool `json:"enableServer"`
	EnablePersist *bool `json:"enablePersist"`
	EnableRecord  *bool `json:"enableRecord"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableServer  bool
	EnablePersist bool
	EnableRecord  bool
}

// Env holds settings sourced from the environment rather than the
// config file (credentials and per-host overrides).
type Env struct {
	PostgresDSN     string `envconfig:"POSTGRES_DSN"`
	ServerAddr      string `envconfig:"SERVER_ADDR"`
	PyroscopeServer string `envconfig:"PYROSCOPE_SERVER"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Tickers  []model.Ticker
	Strategy scalping.Config
	Sim      SimSpec
	Replay   ReplaySpec
	Server   ServerConfig
	Record   RecordConfig
	Features FeatureFlags
	Env      Env
}

// SimSpec is the resolved simulator definition.
type SimSpec struct {
	FeeRate     decimal.Decimal
	StepSize    decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
	Latency     time.Duration
	Deposits    map[string]decimal.Decimal
}

// ReplaySpec is the resolved replay definition.
type ReplaySpec struct {
	EventsPath string
	CacheDir   string
	Delay      time.Duration
}

// Load reads a JSON config file, overlays the environment and resolves
// everything into runtime types. A .env file next to the process is
// honored when present.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}

	tickers, err := resolveTickers(cfg.Tickers)
	if err != nil {
		return Loaded{}, err
	}
	strat, err := resolveStrategy(cfg.Strategy)
	if err != nil {
		return Loaded{}, err
	}

	// Missing .env is fine; the environment itself still applies.
	_ = godotenv.Load()
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Loaded{}, fmt.Errorf("environment: %w", err)
	}

	loaded := Loaded{
		Tickers:  tickers,
		Strategy: strat,
		Sim: SimSpec{
			FeeRate:     cfg.Sim.FeeRate,
			StepSize:    cfg.Sim.StepSize,
			TickSize:    cfg.Sim.TickSize,
			MinNotional: cfg.Sim.MinNotional,
			Latency:     time.Duration(cfg.Sim.LatencyMs) * time.Millisecond,
			Deposits:    cfg.Sim.Deposits,
		},
		Replay: ReplaySpec{
			EventsPath: cfg.Replay.EventsPath,
			CacheDir:   cfg.Replay.CacheDir,
			Delay:      time.Duration(cfg.Replay.DelayMs) * time.Millisecond,
		},
		Server:   cfg.Server,
		Record:   cfg.Record,
		Features: resolveFeatures(cfg.Features),
		Env:      env,
	}
	if env.ServerAddr != "" {
		loaded.Server.Addr = env.ServerAddr
	}
	return loaded, nil
}

func resolveTickers(symbols []string) ([]model.Ticker, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no tickers configured")
	}
	out := make([]model.Ticker, 0, len(symbols))
	for _, sym := range symbols {
		t, err := model.ParseTicker(sym)
		if err != nil {
			return nil, fmt.Errorf("ticker %q: %w", sym, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func resolveStrategy(cfg StrategyConfig) (scalping.Config, error) {
	if !cfg.QuoteAmount.IsPositive() {
		return scalping.Config{}, fmt.Errorf("strategy quoteAmount must be > 0")
	}
	if cfg.TargetProfit.IsNegative() {
		return scalping.Config{}, fmt.Errorf("strategy targetProfit must be >= 0")
	}
	orderType := model.OrderType(cfg.OrderType)
	switch orderType {
	case "", model.OrderTypeMarket, model.OrderTypeLimit:
	default:
		return scalping.Config{}, fmt.Errorf("strategy orderType %q is unknown", cfg.OrderType)
	}
	return scalping.Config{
		TargetProfit:          cfg.TargetProfit,
		QuoteAmount:           cfg.QuoteAmount,
		ReentryDelay:          time.Duration(cfg.ReentryDelayMs) * time.Millisecond,
		EntryDelay:            time.Duration(cfg.EntryDelayMs) * time.Millisecond,
		SessionProfitLifetime: time.Duration(cfg.SessionProfitLifetimeMs) * time.Millisecond,
		MaxSessions:           cfg.MaxSessions,
		SessionWindow:         time.Duration(cfg.SessionWindowMs) * time.Millisecond,
		OrderLifetime:         time.Duration(cfg.OrderLifetimeMs) * time.Millisecond,
		OrderType:             orderType,
		ClusterTolerance:      cfg.ClusterTolerance,
		CandleLimit:           cfg.CandleLimit,
		TradeLimit:            cfg.TradeLimit,
	}, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableServer:  true,
		EnablePersist: false,
		EnableRecord:  false,
	}
	if cfg.EnableServer != nil {
		flags.EnableServer = *cfg.EnableServer
	}
	if cfg.EnablePersist != nil {
		flags.EnablePersist = *cfg.EnablePersist
	}
	if cfg.EnableRecord != nil {
		flags.EnableRecord = *cfg.EnableRecord
	}
	return flags
}
