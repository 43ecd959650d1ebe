// Package quote turns a (give, amount, receive) request into a priced Quote
// and publishes accepted quotes as offers.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/asset"
	"github.com/you/swap-desk/internal/entitlement"
	"github.com/you/swap-desk/internal/fee"
	"github.com/you/swap-desk/internal/metrics"
	"github.com/you/swap-desk/internal/offers"
	"github.com/you/swap-desk/internal/rates"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

type RateResolver interface {
	Resolve(ctx context.Context, from, to string) (rates.Rate, error)
	ResolveAssets(ctx context.Context, from, to types.Asset) rates.Rate
}

type SimilarFinder interface {
	FindSimilar(ctx context.Context, give, receive string) []types.OfferRecord
}

type Journal interface {
	Append(ctx context.Context, rec types.OfferRecord) error
}

// Deps are the collaborators of a Service. Journal may be nil.
type Deps struct {
	Rates       RateResolver
	Fees        *fee.Calculator
	Policy      types.FeePolicy
	Store       offers.Store
	Matcher     SimilarFinder
	Entitlement entitlement.Checker
	Journal     Journal
	RecentLimit int
}

type Service struct {
	Deps
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewService(d Deps, log *zap.Logger) *Service {
	if d.Policy == "" {
		d.Policy = types.FeePolicyLegacy
	}
	if d.Fees == nil {
		d.Fees = fee.NewCalculator(fee.DefaultRate)
	}
	if d.RecentLimit <= 0 {
		d.RecentLimit = 3
	}
	return &Service{Deps: d, log: log, now: time.Now, newID: uuid.NewString}
}

// BuildQuote prices amount of give in receive. The amount must be positive
// and, for fiat, a multiple of 10. A rate that could not be priced still
// yields a quote, flagged degraded with a non-negative receive amount. So
// does a fee larger than the converted amount.
func (s *Service) BuildQuote(ctx context.Context, give string, amount decimal.Decimal, receive string) (types.Quote, error) {
	ga, err := asset.Lookup(give)
	if err != nil {
		return types.Quote{}, err
	}
	ra, err := asset.Lookup(receive)
	if err != nil {
		return types.Quote{}, err
	}
	if err := asset.ValidateStep(ga, amount); err != nil {
		return types.Quote{}, err
	}

	start := s.now()
	rt := s.Rates.ResolveAssets(ctx, ga, ra)
	q := s.price(ga, ra, amount, rt)
	q.Similar = s.Matcher.FindSimilar(ctx, ga.Code, ra.Code)
	q.Ts = s.now()

	metrics.QuoteLatency.Observe(time.Since(start).Seconds())
	metrics.Quotes.WithLabelValues(strconv.FormatBool(q.Degraded)).Inc()
	if q.Degraded {
		s.log.Warn("degraded quote",
			zap.String("pair", q.Pair().Key()),
			zap.String("rate", rt.Value.String()),
			zap.Bool("fee_exceeds", q.FeeExceeds),
		)
	}
	return q, nil
}

func (s *Service) price(ga, ra types.Asset, amount decimal.Decimal, rt rates.Rate) types.Quote {
	net, f := s.Fees.Compute(ga, amount)

	q := types.Quote{
		Give:     types.Money{Asset: ga, Amount: amount},
		Rate:     rt.Value,
		Degraded: rt.Degraded || rt.Unavailable(),
		Policy:   s.Policy,
	}
	var recv decimal.Decimal
	switch s.Policy {
	case types.FeePolicyConverted:
		recv = net.Mul(rt.Value)
		q.Fee = types.Money{Asset: ra, Amount: f.Mul(rt.Value).Round(types.Scale)}
	default:
		// fee is in give units and comes off the converted amount as is
		recv = amount.Mul(rt.Value).Sub(f)
		q.Fee = types.Money{Asset: ga, Amount: f}
	}
	if recv.IsNegative() {
		// legacy fees are in give units; against a high-value receive asset
		// they can exceed the whole conversion
		recv = decimal.Zero
		q.FeeExceeds = true
		q.Degraded = true
	}
	q.Receive = types.Money{Asset: ra, Amount: recv.Round(types.Scale)}
	return q
}

// PublishOffer records q as userID's offer. The user must be entitled and
// the give amount must meet the asset minimum. One offer is reserved against
// the user's entitlement up front and released if the record is not stored.
// The journal is updated after the record is stored; its failures are only
// logged.
func (s *Service) PublishOffer(ctx context.Context, userID, contact string, q types.Quote) (types.OfferRecord, error) {
	ok, err := s.Entitlement.Reserve(ctx, userID)
	if err != nil {
		return types.OfferRecord{}, unavailable("entitlement", err)
	}
	if !ok {
		return types.OfferRecord{}, fmt.Errorf("%w: user %s has no subscription or free offers left", types.ErrNotEntitled, userID)
	}
	if err := asset.ValidateAmount(q.Give.Asset, q.Give.Amount); err != nil {
		s.release(ctx, userID)
		return types.OfferRecord{}, err
	}

	rec := types.OfferRecord{
		ID:            s.newID(),
		UserID:        userID,
		GiveAsset:     q.Give.Asset.Code,
		GiveAmount:    q.Give.Amount,
		ReceiveAsset:  q.Receive.Asset.Code,
		ReceiveAmount: q.Receive.Amount,
		Fee:           q.Fee.Amount,
		Degraded:      q.Degraded,
		Contact:       contact,
		CreatedAt:     s.now().UTC(),
	}
	stored, err := s.Store.Append(ctx, rec)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("offers").Inc()
		s.log.Error("offer append failed", zap.String("user", userID), zap.Error(err))
		s.release(ctx, userID)
		return types.OfferRecord{}, unavailable("offers", err)
	}
	metrics.OffersPublished.Inc()

	if s.Journal != nil {
		_ = s.Journal.Append(ctx, stored)
	}
	s.log.Info("offer published",
		zap.String("id", stored.ID),
		zap.String("user", userID),
		zap.String("pair", stored.Pair().Key()),
		zap.Int64("seq", stored.Seq),
		zap.Bool("degraded", stored.Degraded),
	)
	return stored, nil
}

func (s *Service) release(ctx context.Context, userID string) {
	if err := s.Entitlement.Release(ctx, userID); err != nil {
		s.log.Warn("reserved offer not released", zap.String("user", userID), zap.Error(err))
	}
}

func unavailable(component string, err error) error {
	if errors.Is(err, types.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", types.ErrStorageUnavailable, component, err)
}

// FindSimilar returns recent offers for exactly give -> receive.
func (s *Service) FindSimilar(ctx context.Context, give, receive string) ([]types.OfferRecord, error) {
	ga, err := asset.Lookup(give)
	if err != nil {
		return nil, err
	}
	ra, err := asset.Lookup(receive)
	if err != nil {
		return nil, err
	}
	return s.Matcher.FindSimilar(ctx, ga.Code, ra.Code), nil
}

// UserOffers returns the user's latest offers, oldest first.
func (s *Service) UserOffers(ctx context.Context, userID string) ([]types.OfferRecord, error) {
	recs, err := s.Store.ByUser(ctx, userID, s.RecentLimit)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("offers").Inc()
		return nil, unavailable("offers", err)
	}
	return recs, nil
}

func (s *Service) Rate(ctx context.Context, from, to string) (rates.Rate, error) {
	return s.Rates.Resolve(ctx, from, to)
}
