package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveFunds(t *testing.T) {
	p := NewPortfolio()
	p.UpdateAsset(Asset{Symbol: "USDC", Free: decimal.RequireFromString("100")})

	err := p.ReserveFunds("USDC", decimal.RequireFromString("40"))
	require.NoError(t, err)
	assert.True(t, p.Assets["USDC"].Free.Equal(decimal.RequireFromString("60")))
	assert.True(t, p.Assets["USDC"].Locked.Equal(decimal.RequireFromString("40")))
}

func TestReserveFundsInsufficient(t *testing.T) {
	p := NewPortfolio()
	p.UpdateAsset(Asset{Symbol: "USDC", Free: decimal.RequireFromString("10")})

	err := p.ReserveFunds("USDC", decimal.RequireFromString("40"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	// Nothing moved.
	assert.True(t, p.Assets["USDC"].Free.Equal(decimal.RequireFromString("10")))
	assert.True(t, p.Assets["USDC"].Locked.IsZero())
}

func TestReserveFundsUnknownAsset(t *testing.T) {
	p := NewPortfolio()
	err := p.ReserveFunds("BTC", decimal.RequireFromString("1"))
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestReleaseFundsClampsToLocked(t *testing.T) {
	p := NewPortfolio()
	p.UpdateAsset(Asset{Symbol: "USDC", Free: decimal.RequireFromString("50"), Locked: decimal.RequireFromString("20")})

	p.ReleaseFunds("USDC", decimal.RequireFromString("100"))
	assert.True(t, p.Assets["USDC"].Locked.IsZero())
	assert.True(t, p.Assets["USDC"].Free.Equal(decimal.RequireFromString("70")))
}

func TestPortfolioValueFollowsAssets(t *testing.T) {
	p := NewPortfolio()
	p.UpdateAssetAmount("BTC", decimal.RequireFromString("2"), decimal.RequireFromString("100"))
	p.UpdateAssetAmount("ETH", decimal.RequireFromString("10"), decimal.RequireFromString("10"))
	assert.True(t, p.Value.Equal(decimal.RequireFromString("300")), "got %s", p.Value)

	p.UpdateAssetValue("BTC", decimal.RequireFromString("150"))
	assert.True(t, p.Value.Equal(decimal.RequireFromString("400")), "got %s", p.Value)
}
