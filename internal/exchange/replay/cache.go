package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/model"
)

// Candles serves a time-bounded candle request from the cache side file
// keyed by (ticker, interval, from, to). On a miss it asks the fallback
// backend and writes the response through, so repeated backtest runs
// never refetch the same range.
func (m *Marketplace) Candles(ctx context.Context, ticker model.Ticker, interval string, from, to int64) ([]model.CandleEvent, error) {
	path := m.cachePath(ticker, interval, from, to)
	if candles, err := readCandleCache(path); err == nil {
		return candles, nil
	} else if !os.IsNotExist(err) {
		logs.Warnf("replay: unreadable candle cache %s: %v", path, err)
	}

	if m.cfg.Fallback == nil {
		return nil, fmt.Errorf("replay: no cached candles for %s %s [%d,%d] and no fallback", ticker, interval, from, to)
	}
	candles, err := m.cfg.Fallback.Candles(ctx, ticker, interval, from, to)
	if err != nil {
		return nil, err
	}
	if err := writeCandleCache(path, candles); err != nil {
		logs.Warnf("replay: cannot write candle cache %s: %v", path, err)
	}
	return candles, nil
}

func (m *Marketplace) cachePath(ticker model.Ticker, interval string, from, to int64) string {
	name := fmt.Sprintf("candles-%s-%s-%d-%d.json", ticker, interval, from, to)
	return filepath.Join(m.cfg.CacheDir, name)
}

func readCandleCache(path string) ([]model.CandleEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var candles []model.CandleEvent
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return candles, nil
}

func writeCandleCache(path string, candles []model.CandleEvent) error {
	data, err := json.Marshal(candles)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
