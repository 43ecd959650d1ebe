package entitlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/asset"
	"github.com/you/swap-desk/internal/rates"
	"github.com/you/swap-desk/internal/types"
)

type Kind string

const (
	KindMain Kind = "main"
	KindP2P  Kind = "p2p"
)

func (k Kind) Valid() bool { return k == KindMain || k == KindP2P }

// Plan is a subscription priced in points (stars).
type Plan struct {
	Kind  Kind            `json:"kind"`
	Days  int             `json:"days"`
	Stars decimal.Decimal `json:"stars"`
}

func (p Plan) ID() string { return fmt.Sprintf("%s_%dd", p.Kind, p.Days) }

func plan(k Kind, days int, stars int64) Plan {
	return Plan{Kind: k, Days: days, Stars: decimal.NewFromInt(stars)}
}

var catalog = []Plan{
	plan(KindMain, 3, 500),
	plan(KindMain, 7, 1000),
	plan(KindMain, 14, 1800),
	plan(KindMain, 30, 3500),
	plan(KindP2P, 30, 30),
	plan(KindP2P, 90, 100),
	plan(KindP2P, 180, 280),
}

// Plans returns the catalog, main plans first.
func Plans() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

func FindPlan(k Kind, days int) (Plan, bool) {
	for _, p := range catalog {
		if p.Kind == k && p.Days == days {
			return p, true
		}
	}
	return Plan{}, false
}

// PlanByID finds a plan by its ID, e.g. "main_7d".
func PlanByID(id string) (Plan, bool) {
	for _, p := range catalog {
		if p.ID() == id {
			return p, true
		}
	}
	return Plan{}, false
}

type RateResolver interface {
	Resolve(ctx context.Context, from, to string) (rates.Rate, error)
}

// PriceIn converts the plan's star price into code, rounded to cents for
// fiat and to types.Scale places for crypto. The bool reports a degraded
// rate.
func PriceIn(ctx context.Context, r RateResolver, p Plan, code string) (decimal.Decimal, bool, error) {
	rt, err := r.Resolve(ctx, asset.STARS, code)
	if err != nil {
		return decimal.Zero, false, err
	}
	places := int32(2)
	if a, err := asset.Lookup(code); err == nil && a.Class == types.Crypto {
		places = types.Scale
	}
	return p.Stars.Mul(rt.Value).Round(places), rt.Degraded || rt.Unavailable(), nil
}
