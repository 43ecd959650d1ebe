// Package rates answers "one unit of A is worth how many units of B" for any
// two assets of the universe, pivoting through USD.
package rates

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/asset"
	"github.com/you/swap-desk/internal/feeds"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

type FiatSource interface {
	Rate(ctx context.Context, from, to string) feeds.Price
}

type CryptoSource interface {
	PriceUSD(ctx context.Context, code string) feeds.Price
}

// Rate is a full-precision conversion factor. A zero Value means the pair
// could not be priced at all; Degraded means at least one input was a
// fallback.
type Rate struct {
	Value    decimal.Decimal
	Degraded bool
}

func (r Rate) Unavailable() bool { return r.Value.IsZero() }

var one = decimal.NewFromInt(1)

type Resolver struct {
	fiat   FiatSource
	crypto CryptoSource
	log    *zap.Logger
}

func NewResolver(fiat FiatSource, crypto CryptoSource, log *zap.Logger) *Resolver {
	return &Resolver{fiat: fiat, crypto: crypto, log: log}
}

// Resolve looks both codes up in the asset universe and resolves the rate.
func (r *Resolver) Resolve(ctx context.Context, from, to string) (Rate, error) {
	fa, err := asset.Lookup(from)
	if err != nil {
		return Rate{}, err
	}
	ta, err := asset.Lookup(to)
	if err != nil {
		return Rate{}, err
	}
	return r.ResolveAssets(ctx, fa, ta), nil
}

// ResolveAssets dispatches on asset classes; the first matching case wins.
func (r *Resolver) ResolveAssets(ctx context.Context, from, to types.Asset) Rate {
	var out Rate
	switch {
	case from.Code == to.Code:
		out = Rate{Value: one}
	case from.Class == types.Points:
		out = r.fromPoints(ctx, to)
	case to.Class == types.Points:
		out = r.toPoints(ctx, from)
	case from.Class == types.Fiat && to.Class == types.Fiat:
		out = Rate(r.fiat.Rate(ctx, from.Code, to.Code))
	case from.Class == types.Crypto && to.Class == types.Fiat:
		out = r.cryptoToFiat(ctx, from.Code, to.Code)
	case from.Class == types.Fiat && to.Class == types.Crypto:
		out = r.fiatToCrypto(ctx, from.Code, to.Code)
	case from.Class == types.Crypto && to.Class == types.Crypto:
		cf, ct := both(
			func() feeds.Price { return r.crypto.PriceUSD(ctx, from.Code) },
			func() feeds.Price { return r.crypto.PriceUSD(ctx, to.Code) },
		)
		if unavailable(ct) {
			out = Rate{Value: one, Degraded: true}
			break
		}
		out = Rate{Value: cf.Value.Div(ct.Value), Degraded: cf.Degraded}
	default:
		out = Rate{Value: one, Degraded: true}
	}

	r.log.Debug("rate resolved",
		zap.String("from", from.Code),
		zap.String("to", to.Code),
		zap.String("rate", out.Value.String()),
		zap.Bool("degraded", out.Degraded),
	)
	return out
}

func (r *Resolver) cryptoToFiat(ctx context.Context, from, to string) Rate {
	if to == asset.USD {
		return Rate(r.crypto.PriceUSD(ctx, from))
	}
	cp, fp := both(
		func() feeds.Price { return r.crypto.PriceUSD(ctx, from) },
		func() feeds.Price { return r.fiat.Rate(ctx, asset.USD, to) },
	)
	return Rate{Value: cp.Value.Mul(fp.Value), Degraded: cp.Degraded || fp.Degraded}
}

// fiatToCrypto values the fiat in USD (1 / USD->fiat) and divides by the
// crypto's USD price. An unpriced crypto yields a zero rate.
func (r *Resolver) fiatToCrypto(ctx context.Context, from, to string) Rate {
	fiatUSD := feeds.Price{Value: one}
	var cp feeds.Price
	if from == asset.USD {
		cp = r.crypto.PriceUSD(ctx, to)
	} else {
		var fp feeds.Price
		fp, cp = both(
			func() feeds.Price { return r.fiat.Rate(ctx, asset.USD, from) },
			func() feeds.Price { return r.crypto.PriceUSD(ctx, to) },
		)
		fiatUSD = invert(fp)
	}
	if unavailable(cp) {
		return Rate{Value: decimal.Zero, Degraded: true}
	}
	return Rate{Value: fiatUSD.Value.Div(cp.Value), Degraded: fiatUSD.Degraded}
}

func (r *Resolver) fromPoints(ctx context.Context, to types.Asset) Rate {
	switch {
	case to.Code == asset.RUB:
		return Rate{Value: asset.PointsToRUB}
	case to.Code == asset.USD:
		return Rate{Value: asset.PointsToUSD}
	case to.Class == types.Fiat:
		fp := r.fiat.Rate(ctx, asset.USD, to.Code)
		return Rate{Value: asset.PointsToUSD.Mul(fp.Value), Degraded: fp.Degraded}
	case to.Class == types.Crypto:
		cp := r.crypto.PriceUSD(ctx, to.Code)
		if unavailable(cp) {
			return Rate{Value: decimal.Zero, Degraded: true}
		}
		return Rate{Value: asset.PointsToUSD.Div(cp.Value)}
	}
	return Rate{Value: one, Degraded: true}
}

func (r *Resolver) toPoints(ctx context.Context, from types.Asset) Rate {
	switch {
	case from.Code == asset.RUB:
		return Rate{Value: one.Div(asset.PointsToRUB)}
	case from.Code == asset.USD:
		return Rate{Value: one.Div(asset.PointsToUSD)}
	case from.Class == types.Fiat:
		fp := r.fiat.Rate(ctx, from.Code, asset.USD)
		return Rate{Value: fp.Value.Div(asset.PointsToUSD), Degraded: fp.Degraded}
	case from.Class == types.Crypto:
		cp := r.crypto.PriceUSD(ctx, from.Code)
		return Rate{Value: cp.Value.Div(asset.PointsToUSD), Degraded: cp.Degraded}
	}
	return Rate{Value: one, Degraded: true}
}

func unavailable(p feeds.Price) bool { return p.Degraded || !p.Value.IsPositive() }

func invert(p feeds.Price) feeds.Price {
	if !p.Value.IsPositive() {
		return feeds.Price{Value: one, Degraded: true}
	}
	return feeds.Price{Value: one.Div(p.Value), Degraded: p.Degraded}
}

// both runs two independent lookups concurrently and waits for both.
func both[A, B any](fa func() A, fb func() B) (a A, b B) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a = fa()
	}()
	go func() {
		defer wg.Done()
		b = fb()
	}()
	wg.Wait()
	return a, b
}
