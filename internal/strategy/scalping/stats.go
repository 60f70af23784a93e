package scalping

import (
	"github.com/shopspring/decimal"

	"github.com/pourquoi/tradebot/internal/indicator"
	"github.com/pourquoi/tradebot/internal/model"
)

// Trend classifies price direction on one horizon.
type Trend int

const (
	TrendCrash Trend = iota - 2
	TrendDown
	TrendFlat
	TrendUp
	TrendBull
)

func (t Trend) String() string {
	switch t {
	case TrendCrash:
		return "crash"
	case TrendDown:
		return "down"
	case TrendUp:
		return "up"
	case TrendBull:
		return "bull"
	default:
		return "flat"
	}
}

const (
	shortFastPeriod = 7
	shortSlowPeriod = 14
	longFastPeriod  = 20
	longSlowPeriod  = 50
	atrPeriod       = 14
)

var three = decimal.NewFromInt(3)

// PriceStats is the per-ticker indicator snapshot, recomputed once per
// closed candle rather than on every book tick.
type PriceStats struct {
	LastClose   decimal.Decimal
	ATR         decimal.Decimal
	ShortTrend  Trend
	LongTrend   Trend
	Supports    []decimal.Decimal
	Resistances []decimal.Decimal
}

// computeStats derives stats from a recent-first candle window.
func computeStats(candles []model.CandleEvent, clusterTolerance decimal.Decimal) *PriceStats {
	if len(candles) == 0 {
		return nil
	}
	closes := make([]decimal.Decimal, len(candles))
	lows := make([]decimal.Decimal, len(candles))
	highs := make([]decimal.Decimal, len(candles))
	ranges := make([]indicator.Range, 0, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		lows[i] = c.Low
		highs[i] = c.High
		r := indicator.Range{High: c.High, Low: c.Low, PrevClose: c.Close}
		if i+1 < len(candles) {
			r.PrevClose = candles[i+1].Close
		}
		ranges = append(ranges, r)
	}

	stats := &PriceStats{LastClose: closes[0]}
	if atr, ok := indicator.ATR(ranges, atrPeriod); ok {
		stats.ATR = atr
	}
	stats.ShortTrend = classify(
		indicator.WSMA, closes, shortFastPeriod, shortSlowPeriod, stats.ATR)
	stats.LongTrend = classify(
		indicator.SMA, closes, longFastPeriod, longSlowPeriod, stats.ATR)

	tolerance := stats.LastClose.Mul(clusterTolerance)
	stats.Supports = indicator.FindPriceClusters(lows, tolerance, indicator.Support)
	stats.Resistances = indicator.FindPriceClusters(highs, tolerance, indicator.Resistance)
	return stats
}

// classify compares a fast and a slow average. The ATR band separates a
// plain up-move from a Bull run; a drop of three bands marks a Crash.
func classify(avg func([]decimal.Decimal, int) (decimal.Decimal, bool), closes []decimal.Decimal, fastN, slowN int, band decimal.Decimal) Trend {
	fast, okFast := avg(closes, fastN)
	slow, okSlow := avg(closes, slowN)
	if !okFast || !okSlow {
		return TrendFlat
	}
	diff := fast.Sub(slow)
	switch {
	case diff.GreaterThan(band):
		return TrendBull
	case diff.IsPositive():
		return TrendUp
	case diff.LessThan(band.Mul(three).Neg()):
		return TrendCrash
	case diff.IsNegative():
		return TrendDown
	default:
		return TrendFlat
	}
}

// ResistanceAbove returns the nearest known resistance level above the
// price.
func (s *PriceStats) ResistanceAbove(price decimal.Decimal) (decimal.Decimal, bool) {
	for _, r := range s.Resistances {
		if r.GreaterThan(price) {
			return r, true
		}
	}
	return decimal.Zero, false
}

// BelowAllSupports reports whether the price has fallen under every
// known support level.
func (s *PriceStats) BelowAllSupports(price decimal.Decimal) bool {
	if len(s.Supports) == 0 {
		return false
	}
	lowest := s.Supports[len(s.Supports)-1]
	return price.LessThan(lowest)
}
