package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrBelowMinimum means an order is smaller than the venue accepts for the
// symbol. Nothing is sent.
var ErrBelowMinimum = errors.New("order below exchange minimum")

// Filters are the order-size limits of one symbol. Zero fields are unknown
// and not enforced.
type Filters struct {
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

// Floor truncates qty down to a multiple of the lot step.
func (f Filters) Floor(qty float64) float64 {
	if f.StepSize <= 0 || qty <= 0 {
		return qty
	}
	step := decimal.NewFromFloat(f.StepSize)
	// Rounding first keeps float noise such as 16.999999999999996 lots from
	// losing a whole lot.
	lots := decimal.NewFromFloat(qty).Div(step).Round(8).Floor()
	return lots.Mul(step).InexactFloat64()
}

// Check reports whether an order of qty at price clears the minimums.
func (f Filters) Check(qty, price float64) error {
	if f.MinQty > 0 && qty < f.MinQty {
		return fmt.Errorf("%w: quantity %g < %g", ErrBelowMinimum, qty, f.MinQty)
	}
	if f.MinNotional > 0 && qty*price < f.MinNotional {
		return fmt.Errorf("%w: notional %g < %g", ErrBelowMinimum, qty*price, f.MinNotional)
	}
	return nil
}

// MinimumChecker is implemented by exchanges that know order minimums.
type MinimumChecker interface {
	CheckMinimum(symbol string, qty, price float64) error
}

// CheckMinimum validates an order against ex's minimums when it has them.
func CheckMinimum(ex Exchange, symbol string, qty, price float64) error {
	if c, ok := ex.(MinimumChecker); ok {
		return c.CheckMinimum(symbol, qty, price)
	}
	return nil
}

// LeverageSetter is implemented by exchanges where leverage is set per
// symbol before trading it.
type LeverageSetter interface {
	EnsureLeverage(ctx context.Context, symbol string) error
}

// EnsureLeverage applies the configured leverage to symbol when ex needs it.
func EnsureLeverage(ctx context.Context, ex Exchange, symbol string) error {
	if s, ok := ex.(LeverageSetter); ok {
		return s.EnsureLeverage(ctx, symbol)
	}
	return nil
}
