package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/entitlement"
	"github.com/you/swap-desk/internal/fee"
	"github.com/you/swap-desk/internal/feeds"
	"github.com/you/swap-desk/internal/offers"
	"github.com/you/swap-desk/internal/rates"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

var d = decimal.RequireFromString

// fixedFiat prices every fiat against USD from a table.
type fixedFiat map[string]decimal.Decimal

func (f fixedFiat) Rate(_ context.Context, from, to string) feeds.Price {
	a, ok1 := f[from]
	b, ok2 := f[to]
	if !ok1 || !ok2 {
		return feeds.Price{Value: decimal.NewFromInt(1), Degraded: true}
	}
	return feeds.Price{Value: b.Div(a)}
}

type fixedCrypto map[string]decimal.Decimal

func (f fixedCrypto) PriceUSD(_ context.Context, code string) feeds.Price {
	p, ok := f[code]
	if !ok {
		return feeds.Price{Value: decimal.NewFromInt(1), Degraded: true}
	}
	return feeds.Price{Value: p}
}

type memJournal struct {
	mu   sync.Mutex
	rows []types.OfferRecord
}

func (j *memJournal) Append(_ context.Context, rec types.OfferRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = append(j.rows, rec)
	return nil
}

type failingStore struct{ offers.Store }

func (failingStore) Append(context.Context, types.OfferRecord) (types.OfferRecord, error) {
	return types.OfferRecord{}, errors.New("dial tcp: connection refused")
}

func (failingStore) ByUser(context.Context, string, int) ([]types.OfferRecord, error) {
	return nil, errors.New("dial tcp: connection refused")
}

type fixture struct {
	svc     *Service
	store   *offers.MemoryStore
	journal *memJournal
}

func newFixture(t *testing.T, policy types.FeePolicy) fixture {
	t.Helper()
	log := zap.NewNop()
	resolver := rates.NewResolver(
		fixedFiat{"USD": d("1"), "RUB": d("93.5"), "EUR": d("0.92")},
		fixedCrypto{"USDT": d("1"), "BTC": d("60000"), "TON": d("5.5")},
		log,
	)
	cfg := &config.Config{}
	cfg.Entitlement.FreeOffers = 3
	cfg.Entitlement.TrialHours = 24

	store := offers.NewMemoryStore(5)
	j := &memJournal{}
	svc := NewService(Deps{
		Rates:       resolver,
		Fees:        fee.NewCalculator(fee.DefaultRate),
		Policy:      policy,
		Store:       store,
		Matcher:     offers.NewMatcher(store, 3, log),
		Entitlement: entitlement.NewService(entitlement.NewMemoryStore(), cfg, log),
		Journal:     j,
	}, log)
	var n atomic.Int64
	svc.newID = func() string { return fmt.Sprintf("offer-%d", n.Add(1)) }
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return fixture{svc: svc, store: store, journal: j}
}

func TestBuildQuote_SmallRUBToUSDT(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	q, err := f.svc.BuildQuote(context.Background(), "RUB", d("100"), "USDT")
	require.NoError(t, err)

	assert.InDelta(t, 1/93.5, q.Rate.InexactFloat64(), 1e-12)
	assert.True(t, q.Fee.Amount.IsZero(), "below the RUB fee threshold")
	assert.InDelta(t, 1.0695, q.Receive.Amount.InexactFloat64(), 1e-4)
	assert.GreaterOrEqual(t, q.Receive.Amount.Exponent(), int32(-types.Scale))
	assert.False(t, q.Degraded)
	assert.Equal(t, "RUB", q.Give.Asset.Code)
	assert.Equal(t, types.Crypto, q.Receive.Asset.Class)
}

func TestBuildQuote_FeeInGiveAsset(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	q, err := f.svc.BuildQuote(context.Background(), "RUB", d("600"), "USD")
	require.NoError(t, err)

	assert.Equal(t, "0.06", q.Fee.Amount.String())
	assert.Equal(t, "RUB", q.Fee.Asset.Code)
	want := d("600").Mul(q.Rate).Sub(d("0.06")).Round(types.Scale)
	assert.True(t, want.Equal(q.Receive.Amount), "got %s want %s", q.Receive.Amount, want)
	assert.Equal(t, types.FeePolicyLegacy, q.Policy)
}

func TestBuildQuote_ConvertedFee(t *testing.T) {
	f := newFixture(t, types.FeePolicyConverted)
	q, err := f.svc.BuildQuote(context.Background(), "RUB", d("600"), "USD")
	require.NoError(t, err)

	assert.Equal(t, "USD", q.Fee.Asset.Code)
	assert.InDelta(t, 0.06/93.5, q.Fee.Amount.InexactFloat64(), 1e-8)
	assert.InDelta(t, 599.94/93.5, q.Receive.Amount.InexactFloat64(), 1e-8)
	// receive + fee equals the gross conversion up to rounding
	gross := d("600").Mul(q.Rate)
	assert.True(t, q.Receive.Amount.Add(q.Fee.Amount).Sub(gross).Abs().LessThanOrEqual(d("0.00000002")))
}

func TestBuildQuote_RejectsBadInput(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	ctx := context.Background()

	_, err := f.svc.BuildQuote(ctx, "RUB", d("505"), "USDT")
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
	assert.Contains(t, err.Error(), "multiple of 10")

	_, err = f.svc.BuildQuote(ctx, "BTC", d("0"), "USDT")
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	_, err = f.svc.BuildQuote(ctx, "XYZ", d("10"), "USDT")
	assert.ErrorIs(t, err, types.ErrUnknownAsset)
	_, err = f.svc.BuildQuote(ctx, "USD", d("10"), "XYZ")
	assert.ErrorIs(t, err, types.ErrUnknownAsset)
}

func TestBuildQuote_DegradedPair(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	// DOGE and XRP are unpriced by the stub feed
	q, err := f.svc.BuildQuote(context.Background(), "DOGE", d("1000"), "XRP")
	require.NoError(t, err)
	assert.True(t, q.Degraded)
	assert.False(t, q.Receive.Amount.IsNegative())

	q, err = f.svc.BuildQuote(context.Background(), "USD", d("10"), "DOGE")
	require.NoError(t, err)
	assert.True(t, q.Degraded)
	assert.True(t, q.Receive.Amount.IsZero(), "unpriced target clamps to zero")
}

func TestBuildQuote_LegacyFeeExceedsConversion(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	// 600 RUB is ~0.000107 BTC, less than the 0.06 fee counted in RUB
	q, err := f.svc.BuildQuote(context.Background(), "RUB", d("600"), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "0.06", q.Fee.Amount.String())
	assert.True(t, q.Receive.Amount.IsZero())
	assert.True(t, q.FeeExceeds)
	assert.True(t, q.Degraded, "a clamped quote is not a real price")

	f = newFixture(t, types.FeePolicyConverted)
	q, err = f.svc.BuildQuote(context.Background(), "RUB", d("600"), "BTC")
	require.NoError(t, err)
	assert.True(t, q.Receive.Amount.IsPositive())
	assert.False(t, q.FeeExceeds)
	assert.False(t, q.Degraded)
}

func TestBuildQuote_Identity(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	// 1 TON is below the fee threshold
	q, err := f.svc.BuildQuote(context.Background(), "TON", d("1"), "TON")
	require.NoError(t, err)
	assert.Equal(t, "1", q.Rate.String())
	assert.True(t, q.Receive.Amount.Equal(d("1")))
}

func TestBuildQuote_FeeMonotonicInAmount(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	prev := decimal.Zero
	for amt := int64(10); amt <= 3000; amt += 10 {
		q, err := f.svc.BuildQuote(context.Background(), "RUB", decimal.NewFromInt(amt), "USDT")
		require.NoError(t, err)
		assert.True(t, q.Fee.Amount.GreaterThanOrEqual(prev), "at %d", amt)
		prev = q.Fee.Amount
	}
}

func TestBuildQuote_AttachesSimilar(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	ctx := context.Background()

	for _, u := range []string{"1", "2"} {
		q, err := f.svc.BuildQuote(ctx, "RUB", d("1000"), "USDT")
		require.NoError(t, err)
		_, err = f.svc.PublishOffer(ctx, u, "@u"+u, q)
		require.NoError(t, err)
	}
	q, err := f.svc.BuildQuote(ctx, "RUB", d("2000"), "USDT")
	require.NoError(t, err)
	require.Len(t, q.Similar, 2)
	assert.Equal(t, "1", q.Similar[0].UserID)

	q, err = f.svc.BuildQuote(ctx, "USDT", d("10"), "RUB")
	require.NoError(t, err)
	assert.Empty(t, q.Similar)
}

func TestPublishOffer(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	ctx := context.Background()

	q, err := f.svc.BuildQuote(ctx, "RUB", d("600"), "USD")
	require.NoError(t, err)
	rec, err := f.svc.PublishOffer(ctx, "42", "@whale", q)
	require.NoError(t, err)

	assert.Equal(t, "offer-1", rec.ID)
	assert.Equal(t, int64(1), rec.Seq)
	assert.Equal(t, "RUB", rec.GiveAsset)
	assert.True(t, rec.ReceiveAmount.Equal(q.Receive.Amount))
	assert.Equal(t, "0.06", rec.Fee.String())
	require.Len(t, f.journal.rows, 1)
	assert.Equal(t, rec.ID, f.journal.rows[0].ID)

	mine, err := f.svc.UserOffers(ctx, "42")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "@whale", mine[0].Contact)
}

func TestPublishOffer_FreeOffersRunOut(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	ctx := context.Background()
	q, err := f.svc.BuildQuote(ctx, "USD", d("10"), "USDT")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.PublishOffer(ctx, "7", "@seven", q)
		require.NoError(t, err)
	}
	_, err = f.svc.PublishOffer(ctx, "7", "@seven", q)
	assert.ErrorIs(t, err, types.ErrNotEntitled)

	mine, err := f.svc.UserOffers(ctx, "7")
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}

func TestPublishOffer_BelowMinimum(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	q, err := f.svc.BuildQuote(context.Background(), "RUB", d("100"), "USDT")
	require.NoError(t, err)
	_, err = f.svc.PublishOffer(context.Background(), "1", "@a", q)
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
	assert.Empty(t, f.journal.rows)

	st, err := f.svc.Entitlement.Status(context.Background(), "1")
	require.NoError(t, err)
	assert.Zero(t, st.Used, "rejected offer is not counted")
}

func TestPublishOffer_ConcurrentLastFreeOffer(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	ctx := context.Background()
	q, err := f.svc.BuildQuote(ctx, "USD", d("10"), "USDT")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := f.svc.PublishOffer(ctx, "8", "@eight", q)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var published atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PublishOffer(ctx, "8", "@eight", q)
			if err == nil {
				published.Add(1)
				return
			}
			assert.ErrorIs(t, err, types.ErrNotEntitled)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, published.Load())
	mine, err := f.store.ByUser(ctx, "8", 0)
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}

func TestPublishOffer_DegradedQuoteKeepsNumbers(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	q, err := f.svc.BuildQuote(context.Background(), "DOGE", d("1000"), "XRP")
	require.NoError(t, err)
	rec, err := f.svc.PublishOffer(context.Background(), "1", "@a", q)
	require.NoError(t, err)
	assert.True(t, rec.Degraded)
	assert.True(t, rec.ReceiveAmount.Equal(q.Receive.Amount))
}

func TestPublishOffer_StorageFailure(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	f.svc.Store = failingStore{}
	q, err := f.svc.BuildQuote(context.Background(), "USD", d("10"), "USDT")
	require.NoError(t, err)

	_, err = f.svc.PublishOffer(context.Background(), "1", "@a", q)
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
	assert.Empty(t, f.journal.rows)

	st, err := f.svc.Entitlement.Status(context.Background(), "1")
	require.NoError(t, err)
	assert.Zero(t, st.Used, "failed publish is not counted")

	_, err = f.svc.UserOffers(context.Background(), "1")
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
}

func TestFindSimilar_NormalizesCodes(t *testing.T) {
	f := newFixture(t, types.FeePolicyLegacy)
	ctx := context.Background()
	q, err := f.svc.BuildQuote(ctx, "TON", d("3"), "EUR")
	require.NoError(t, err)
	_, err = f.svc.PublishOffer(ctx, "1", "@a", q)
	require.NoError(t, err)

	got, err := f.svc.FindSimilar(ctx, "ton", "eur")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.svc.FindSimilar(ctx, "ton", "nope")
	assert.ErrorIs(t, err, types.ErrUnknownAsset)
}
