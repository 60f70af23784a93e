package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pourquoi/tradebot/internal/model"
)

// ErrBelowMinNotional is returned by AdjustOrder when the quantized
// order is too small for the exchange to accept.
var ErrBelowMinNotional = fmt.Errorf("order below minimum notional")

// StaticSettings implements Settings with fixed quantization rules, the
// way most spot exchanges publish them per symbol. A zero step or tick
// disables the corresponding rounding.
type StaticSettings struct {
	FeeRate     decimal.Decimal
	StepSize    decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
}

func (s StaticSettings) Fees(context.Context, *model.Order) (decimal.Decimal, error) {
	return s.FeeRate, nil
}

// AdjustOrder floors the amount to the lot step and the price to the
// tick, then enforces the minimum notional. Flooring never grows the
// order, so a reservation made for the draft always covers the adjusted
// one.
func (s StaticSettings) AdjustOrder(_ context.Context, order *model.Order) error {
	if !s.StepSize.IsZero() && !order.Amount.IsZero() {
		order.Amount = floorToStep(order.Amount, s.StepSize)
	}
	if !s.TickSize.IsZero() && !order.Price.IsZero() {
		order.Price = floorToStep(order.Price, s.TickSize)
	}
	if order.Type == model.OrderTypeMarket && order.Side == model.SideBuy {
		if !s.MinNotional.IsZero() && order.QuoteAmount.LessThan(s.MinNotional) {
			return fmt.Errorf("%w: notional %s < %s", ErrBelowMinNotional, order.QuoteAmount, s.MinNotional)
		}
		return nil
	}
	if order.Amount.IsZero() {
		return fmt.Errorf("%w: amount rounds to zero", ErrBelowMinNotional)
	}
	if !s.MinNotional.IsZero() && !order.Price.IsZero() {
		if notional := order.Amount.Mul(order.Price); notional.LessThan(s.MinNotional) {
			return fmt.Errorf("%w: notional %s < %s", ErrBelowMinNotional, notional, s.MinNotional)
		}
	}
	return nil
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Floor().Mul(step)
}
