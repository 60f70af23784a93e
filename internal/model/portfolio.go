package model

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds means the free balance cannot cover a reservation.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownAsset means the portfolio holds no entry for the symbol.
	ErrUnknownAsset = errors.New("asset not in portfolio")
)

// Asset is a single holding. Free is the spendable balance, Locked the
// part reserved by open orders. Free+Locked never goes negative.
type Asset struct {
	Symbol string          `json:"symbol"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
	Value  decimal.Decimal `json:"value"`
}

// Total returns free + locked.
func (a Asset) Total() decimal.Decimal {
	return a.Free.Add(a.Locked)
}

// Portfolio maps symbols to assets and carries the derived aggregate
// value, recomputed whenever any asset valuation changes.
type Portfolio struct {
	Assets map[string]Asset `json:"assets"`
	Value  decimal.Decimal  `json:"value"`
}

// NewPortfolio returns an empty portfolio.
func NewPortfolio() Portfolio {
	return Portfolio{Assets: make(map[string]Asset)}
}

// Clone returns a deep copy.
func (p Portfolio) Clone() Portfolio {
	out := Portfolio{Assets: make(map[string]Asset, len(p.Assets)), Value: p.Value}
	for k, v := range p.Assets {
		out.Assets[k] = v
	}
	return out
}

// Symbols returns the held symbols in sorted order, for stable iteration.
func (p Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.Assets))
	for k := range p.Assets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CheckFunds reports whether the free balance covers the required amount.
func (p Portfolio) CheckFunds(symbol string, required decimal.Decimal) bool {
	asset, ok := p.Assets[symbol]
	return ok && asset.Free.GreaterThanOrEqual(required)
}

// ReserveFunds atomically moves amount from free to locked. On failure
// nothing changes.
func (p *Portfolio) ReserveFunds(symbol string, amount decimal.Decimal) error {
	asset, ok := p.Assets[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	if asset.Free.LessThan(amount) {
		return fmt.Errorf("%w: missing %s %s", ErrInsufficientFunds, amount.Sub(asset.Free), symbol)
	}
	asset.Free = asset.Free.Sub(amount)
	asset.Locked = asset.Locked.Add(amount)
	p.Assets[symbol] = asset
	return nil
}

// ReleaseFunds moves amount back from locked to free, clamped to the
// locked balance.
func (p *Portfolio) ReleaseFunds(symbol string, amount decimal.Decimal) {
	asset, ok := p.Assets[symbol]
	if !ok {
		return
	}
	if amount.GreaterThan(asset.Locked) {
		amount = asset.Locked
	}
	asset.Locked = asset.Locked.Sub(amount)
	asset.Free = asset.Free.Add(amount)
	p.Assets[symbol] = asset
}

// UpdateAsset replaces the entry for asset.Symbol and refreshes the
// aggregate value.
func (p *Portfolio) UpdateAsset(asset Asset) {
	p.Assets[asset.Symbol] = asset
	p.recomputeValue()
}

// UpdateAssetAmount applies a free-balance delta and revalues the asset
// at the given unit price, inserting the asset when missing.
func (p *Portfolio) UpdateAssetAmount(symbol string, delta, price decimal.Decimal) {
	asset, ok := p.Assets[symbol]
	if !ok {
		asset = Asset{Symbol: symbol}
	}
	asset.Free = asset.Free.Add(delta)
	asset.Value = asset.Total().Mul(price)
	p.Assets[symbol] = asset
	p.recomputeValue()
}

// DrainAssetLocked removes drain from the locked balance and revalues at
// the given unit price.
func (p *Portfolio) DrainAssetLocked(symbol string, drain, price decimal.Decimal) {
	asset, ok := p.Assets[symbol]
	if !ok {
		asset = Asset{Symbol: symbol}
	}
	asset.Locked = asset.Locked.Sub(drain)
	asset.Value = asset.Total().Mul(price)
	p.Assets[symbol] = asset
	p.recomputeValue()
}

// UpdateAssetValue revalues one asset at a unit price.
func (p *Portfolio) UpdateAssetValue(symbol string, price decimal.Decimal) {
	asset, ok := p.Assets[symbol]
	if !ok {
		return
	}
	asset.Value = asset.Total().Mul(price)
	p.Assets[symbol] = asset
	p.recomputeValue()
}

func (p *Portfolio) recomputeValue() {
	sum := decimal.Zero
	for _, asset := range p.Assets {
		sum = sum.Add(asset.Value)
	}
	p.Value = sum
}
