// Package replay plays back a captured JSONL event log as a market-data
// feed. File order is authoritative: it defines time for the whole run,
// so replaying the same log against the same starting ledger reproduces
// the same trades and balances. Historical candle requests are served
// from side-file caches, falling back to a wrapped backend on a miss.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/exchange"
	"github.com/pourquoi/tradebot/internal/model"
)

// Lines can carry full book snapshots; size the scanner accordingly.
const maxLineBytes = 4 << 20

const pausePoll = 50 * time.Millisecond

// Config wires a replay source.
type Config struct {
	// EventsPath is the JSONL event log to play back.
	EventsPath string
	// CacheDir holds candle cache side files. Defaults to the event
	// log's directory.
	CacheDir string
	// Delay is slept after each emitted record for throttled playback.
	// Zero plays back as fast as the consumer accepts.
	Delay time.Duration
	// Settings answers fee and order-adjustment queries during the run.
	Settings exchange.Settings
	// Fallback serves candle requests missing from the cache. Optional;
	// responses are written through to the cache.
	Fallback exchange.DataAPI
}

// Marketplace implements the data-side capabilities (Settings, DataAPI,
// DataStream) from a captured log. It has no account or trading
// surface; runs pair it with a matching simulator for those.
type Marketplace struct {
	cfg       Config
	paused    atomic.Bool
	startTime atomic.Int64
}

func New(cfg Config) (*Marketplace, error) {
	if _, err := os.Stat(cfg.EventsPath); err != nil {
		return nil, fmt.Errorf("replay: event log: %w", err)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Dir(cfg.EventsPath)
	}
	m := &Marketplace{cfg: cfg}
	if err := m.scanStartTime(); err != nil {
		return nil, err
	}
	return m, nil
}

// SetPaused pauses or resumes playback. The reader polls the flag
// between records, so the effect is cooperative, not immediate.
func (m *Marketplace) SetPaused(paused bool) {
	m.paused.Store(paused)
}

// Paused reports the current pause flag.
func (m *Marketplace) Paused() bool {
	return m.paused.Load()
}

// StartTime returns the timestamp of the first book event in the log,
// the anchor for indicator warm-up alignment.
func (m *Marketplace) StartTime() int64 {
	return m.startTime.Load()
}

func (m *Marketplace) Fees(ctx context.Context, order *model.Order) (decimal.Decimal, error) {
	return m.cfg.Settings.Fees(ctx, order)
}

func (m *Marketplace) AdjustOrder(ctx context.Context, order *model.Order) error {
	return m.cfg.Settings.AdjustOrder(ctx, order)
}

// StartDataStream reads the log front to back and emits book, trade and
// candle events for the requested tickers. Malformed lines are logged
// and skipped; the stream itself is never torn down by one bad record.
func (m *Marketplace) StartDataStream(ctx context.Context, tickers []model.Ticker, out chan<- model.MarketEvent) error {
	f, err := os.Open(m.cfg.EventsPath)
	if err != nil {
		return fmt.Errorf("replay: open event log: %w", err)
	}
	defer f.Close()

	wanted := make(map[model.Ticker]struct{}, len(tickers))
	for _, t := range tickers {
		wanted[t] = struct{}{}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if err := m.waitWhilePaused(ctx); err != nil {
			return err
		}

		var ev model.MarketEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			logs.Warnf("replay: skipping malformed record at line %d: %v", line, err)
			continue
		}
		ticker, ok := ev.TickerOf()
		if !ok {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[ticker]; !ok {
				continue
			}
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
		if m.cfg.Delay > 0 {
			select {
			case <-time.After(m.cfg.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("replay: read event log: %w", err)
	}
	logs.Infof("replay: event log exhausted after %d lines", line)
	return nil
}

func (m *Marketplace) waitWhilePaused(ctx context.Context) error {
	for m.paused.Load() {
		select {
		case <-time.After(pausePoll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Marketplace) scanStartTime() error {
	f, err := os.Open(m.cfg.EventsPath)
	if err != nil {
		return fmt.Errorf("replay: open event log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var ev model.MarketEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Book != nil {
			m.startTime.Store(ev.Book.Time)
			return nil
		}
	}
	return scanner.Err()
}
