package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func series(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = d(v)
	}
	return out
}

func TestSMA(t *testing.T) {
	v, ok := SMA(series("5", "4", "3", "2", "1"), 3)
	require.True(t, ok)
	assert.True(t, v.Equal(d("4")), "got %s", v)

	_, ok = SMA(series("5", "4"), 3)
	assert.False(t, ok)
}

func TestWSMA(t *testing.T) {
	// Recent-first [1,2,3]: seed with the oldest, smooth toward the
	// more recent samples, the most recent one excluded.
	v, ok := WSMA(series("1", "2", "3"), 3)
	require.True(t, ok)
	assert.True(t, v.Round(1).Equal(d("2.7")), "got %s", v)

	// Extra history beyond the window does not change the result.
	v, ok = WSMA(series("1", "2", "3", "4"), 3)
	require.True(t, ok)
	assert.True(t, v.Round(1).Equal(d("2.7")), "got %s", v)

	_, ok = WSMA(series("1", "2"), 3)
	assert.False(t, ok)
}

func TestWSMAConvergesOnConstantSeries(t *testing.T) {
	constant := make([]decimal.Decimal, 50)
	for i := range constant {
		constant[i] = d("42")
	}
	v, ok := WSMA(constant, 14)
	require.True(t, ok)
	assert.True(t, v.Equal(d("42")), "got %s", v)
}

func TestATRFlatCandlesIsZero(t *testing.T) {
	flat := make([]Range, 20)
	for i := range flat {
		flat[i] = Range{High: d("100"), Low: d("100"), PrevClose: d("100")}
	}
	v, ok := ATR(flat, 14)
	require.True(t, ok)
	assert.True(t, v.IsZero(), "got %s", v)
}

func TestATRUsesLargestComponent(t *testing.T) {
	ranges := make([]Range, 14)
	for i := range ranges {
		// Gap down: |low - prevClose| dominates high-low.
		ranges[i] = Range{High: d("95"), Low: d("90"), PrevClose: d("100")}
	}
	v, ok := ATR(ranges, 14)
	require.True(t, ok)
	assert.True(t, v.Equal(d("10")), "got %s", v)
}

func TestFindPriceClusters(t *testing.T) {
	// Two local minima at 90 and 90.5 merge within tolerance 1; one
	// local maximum at 110.
	prices := series("100", "90", "100", "110", "100", "90.5", "100")

	supports := FindPriceClusters(prices, d("1"), Support)
	require.Len(t, supports, 1)
	assert.True(t, supports[0].Equal(d("90.25")), "got %s", supports[0])

	resistances := FindPriceClusters(prices, d("1"), Resistance)
	require.Len(t, resistances, 1)
	assert.True(t, resistances[0].Equal(d("110")), "got %s", resistances[0])
}

func TestFindPriceClustersSorting(t *testing.T) {
	prices := series("50", "10", "50", "30", "50", "20", "50")

	supports := FindPriceClusters(prices, d("1"), Support)
	require.Len(t, supports, 3)
	assert.True(t, supports[0].Equal(d("30")))
	assert.True(t, supports[2].Equal(d("10")))
}

func TestAvg(t *testing.T) {
	v, ok := Avg(series("1", "2", "6"))
	require.True(t, ok)
	assert.True(t, v.Equal(d("3")), "got %s", v)

	_, ok = Avg(nil)
	assert.False(t, ok)
}

func TestPercentiles(t *testing.T) {
	samples := series("10", "9", "8", "7", "6", "5", "4", "3", "2", "1")

	out := Percentiles(samples)
	require.Len(t, out, 9)
	assert.True(t, out[10].Equal(d("2")), "p10 got %s", out[10])
	assert.True(t, out[50].Equal(d("6")), "p50 got %s", out[50])
	assert.True(t, out[90].Equal(d("10")), "p90 got %s", out[90])

	assert.Empty(t, Percentiles(nil))
}
