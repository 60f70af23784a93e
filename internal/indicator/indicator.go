// Package indicator provides the pure price-series functions the
// strategies build their statistics from. All price slices are ordered
// most recent first.
package indicator

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SMA returns the arithmetic mean of the n most recent prices. The
// second result is false when fewer than n samples are available.
func SMA(prices []decimal.Decimal, n int) (decimal.Decimal, bool) {
	if n <= 0 || len(prices) < n {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, p := range prices[:n] {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true
}

// WSMA returns Wilder's smoothing moving average over the n most recent
// prices: seeded with the oldest sample of the window, then
// v = v + (price-v)/n moving toward the present. On a constant series it
// converges to that constant.
func WSMA(prices []decimal.Decimal, n int) (decimal.Decimal, bool) {
	if n <= 0 || len(prices) < n {
		return decimal.Zero, false
	}
	period := decimal.NewFromInt(int64(n))
	v := prices[n-1]
	for i := n - 2; i >= 1; i-- {
		v = v.Add(prices[i].Sub(v).Div(period))
	}
	return v, true
}

// Range is the input of ATR: one candle's high/low and the close of the
// candle before it.
type Range struct {
	High      decimal.Decimal
	Low       decimal.Decimal
	PrevClose decimal.Decimal
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func (r Range) TrueRange() decimal.Decimal {
	tr := r.High.Sub(r.Low)
	if hc := r.High.Sub(r.PrevClose).Abs(); hc.GreaterThan(tr) {
		tr = hc
	}
	if lc := r.Low.Sub(r.PrevClose).Abs(); lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// ATR returns the average true range over the n most recent candles.
// Flat candles (high = low = close = prevClose) yield exactly zero.
func ATR(ranges []Range, n int) (decimal.Decimal, bool) {
	if n <= 0 || len(ranges) < n {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, r := range ranges[:n] {
		sum = sum.Add(r.TrueRange())
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true
}

// Avg returns the mean of all samples.
func Avg(prices []decimal.Decimal) (decimal.Decimal, bool) {
	if len(prices) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(len(prices)))), true
}

// Percentiles returns the 10th..90th percentile values of the samples.
func Percentiles(prices []decimal.Decimal) map[int]decimal.Decimal {
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	out := make(map[int]decimal.Decimal, 9)
	if len(sorted) == 0 {
		return out
	}
	n := float64(len(sorted))
	for p := 10; p <= 90; p += 10 {
		idx := int(n*float64(p)/100 + 0.5)
		if idx > len(sorted)-1 {
			idx = len(sorted) - 1
		}
		out[p] = sorted[idx]
	}
	return out
}

// ClusterSide selects which local extrema FindPriceClusters scans for.
type ClusterSide int

const (
	Support ClusterSide = iota
	Resistance
)

// FindPriceClusters scans the series for local minima (support) or
// maxima (resistance) with a 3-point window, merges raw levels lying
// within tolerance of an existing cluster by averaging, and returns
// supports sorted descending, resistances ascending.
func FindPriceClusters(prices []decimal.Decimal, tolerance decimal.Decimal, side ClusterSide) []decimal.Decimal {
	var raw []decimal.Decimal
	for i := 1; i+1 < len(prices); i++ {
		prev, curr, next := prices[i-1], prices[i], prices[i+1]
		switch side {
		case Support:
			if curr.LessThan(prev) && curr.LessThan(next) {
				raw = append(raw, curr)
			}
		case Resistance:
			if curr.GreaterThan(prev) && curr.GreaterThan(next) {
				raw = append(raw, curr)
			}
		}
	}

	two := decimal.NewFromInt(2)
	var clusters []decimal.Decimal
	for _, level := range raw {
		merged := false
		for i, cluster := range clusters {
			if level.Sub(cluster).Abs().LessThanOrEqual(tolerance) {
				clusters[i] = cluster.Add(level).Div(two)
				merged = true
				break
			}
		}
		if !merged {
			clusters = append(clusters, level)
		}
	}

	sort.Slice(clusters, func(i, j int) bool {
		if side == Support {
			return clusters[i].GreaterThan(clusters[j])
		}
		return clusters[i].LessThan(clusters[j])
	})
	return clusters
}
