// Package fee computes the proportional service fee with its asset-class
// thresholds.
package fee

import (
	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/asset"
	"github.com/you/swap-desk/internal/types"
)

var (
	DefaultRate = decimal.RequireFromString("0.0001")

	rubThreshold  = decimal.NewFromInt(500)
	fiatThreshold = decimal.NewFromInt(10)
	usdThreshold  = decimal.NewFromInt(10)
)

// ThresholdEstimator gives a rough USD value of a non-fiat amount from a
// static table. It only decides whether a fee applies and is not a price
// source; assets missing from the table count 1:1.
type ThresholdEstimator struct {
	USDPrices map[string]decimal.Decimal
}

func DefaultEstimator() ThresholdEstimator {
	return ThresholdEstimator{USDPrices: map[string]decimal.Decimal{
		asset.BTC: decimal.NewFromInt(60000),
		asset.ETH: decimal.NewFromInt(3000),
		asset.TON: decimal.RequireFromString("5.5"),
		asset.SOL: decimal.NewFromInt(150),
	}}
}

func (e ThresholdEstimator) USD(code string, amount decimal.Decimal) decimal.Decimal {
	if p, ok := e.USDPrices[code]; ok {
		return amount.Mul(p)
	}
	return amount
}

type Calculator struct {
	Rate      decimal.Decimal
	Estimator ThresholdEstimator
}

func NewCalculator(rate decimal.Decimal) *Calculator {
	return &Calculator{Rate: rate, Estimator: DefaultEstimator()}
}

// Applies reports whether amount of a crosses its class threshold.
func (c *Calculator) Applies(a types.Asset, amount decimal.Decimal) bool {
	switch {
	case a.Code == asset.RUB:
		return amount.GreaterThanOrEqual(rubThreshold)
	case a.Class == types.Fiat:
		return amount.GreaterThanOrEqual(fiatThreshold)
	default:
		return c.Estimator.USD(a.Code, amount).GreaterThanOrEqual(usdThreshold)
	}
}

// Compute returns the amount net of fee and the fee, both in a's units and
// rounded to types.Scale places. amount must be finite and non-negative.
func (c *Calculator) Compute(a types.Asset, amount decimal.Decimal) (net, fee decimal.Decimal) {
	if !c.Applies(a, amount) {
		return amount, decimal.Zero
	}
	fee = amount.Mul(c.Rate)
	return amount.Sub(fee).Round(types.Scale), fee.Round(types.Scale)
}
