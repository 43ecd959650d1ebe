// Package asset holds the closed universe of tradable assets and their
// amount rules.
package asset

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/types"
)

const (
	USD   = "USD"
	EUR   = "EUR"
	RUB   = "RUB"
	BYN   = "BYN"
	KZT   = "KZT"
	CNY   = "CNY"
	JPY   = "JPY"
	GBP   = "GBP"
	BTC   = "BTC"
	ETH   = "ETH"
	TON   = "TON"
	SOL   = "SOL"
	DOGE  = "DOGE"
	XRP   = "XRP"
	USDT  = "USDT"
	USDC  = "USDC"
	MNT   = "MNT"
	TRX   = "TRX"
	STARS = "STARS"
)

var (
	fiatCodes   = []string{USD, EUR, RUB, BYN, KZT, CNY, JPY, GBP}
	cryptoCodes = []string{BTC, ETH, TON, SOL, DOGE, XRP, USDT, USDC, MNT, TRX}

	// 100 STARS = 175 RUB; the USD constant is derived from a fixed 93.5 RUB/USD.
	PointsToRUB = decimal.RequireFromString("1.75")
	PointsToUSD = PointsToRUB.Div(decimal.RequireFromString("93.5"))

	rubMin  = decimal.NewFromInt(500)
	fiatMin = decimal.NewFromInt(10)
	step    = decimal.NewFromInt(10)
)

// coinGeckoIDs maps crypto codes to CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	BTC:  "bitcoin",
	ETH:  "ethereum",
	TON:  "the-open-network",
	SOL:  "solana",
	DOGE: "dogecoin",
	XRP:  "ripple",
	USDT: "tether",
	USDC: "usd-coin",
	MNT:  "mantle",
	TRX:  "tron",
}

var catalog = func() map[string]types.Asset {
	m := make(map[string]types.Asset, len(fiatCodes)+len(cryptoCodes)+1)
	for _, c := range fiatCodes {
		m[c] = types.Asset{Code: c, Class: types.Fiat}
	}
	for _, c := range cryptoCodes {
		m[c] = types.Asset{Code: c, Class: types.Crypto}
	}
	m[STARS] = types.Asset{Code: STARS, Class: types.Points}
	return m
}()

// Lookup resolves a code case-insensitively. Codes outside the universe are
// rejected with types.ErrUnknownAsset.
func Lookup(code string) (types.Asset, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	a, ok := catalog[c]
	if !ok {
		return types.Asset{}, fmt.Errorf("%w: %q", types.ErrUnknownAsset, code)
	}
	return a, nil
}

// MustLookup is Lookup for package-level constants and tests.
func MustLookup(code string) types.Asset {
	a, err := Lookup(code)
	if err != nil {
		panic(err)
	}
	return a
}

// All returns fiat, then crypto, then points, in menu order.
func All() []types.Asset {
	out := make([]types.Asset, 0, len(catalog))
	for _, c := range fiatCodes {
		out = append(out, catalog[c])
	}
	for _, c := range cryptoCodes {
		out = append(out, catalog[c])
	}
	return append(out, catalog[STARS])
}

func Fiat() []types.Asset {
	out := make([]types.Asset, 0, len(fiatCodes))
	for _, c := range fiatCodes {
		out = append(out, catalog[c])
	}
	return out
}

func Crypto() []types.Asset {
	out := make([]types.Asset, 0, len(cryptoCodes))
	for _, c := range cryptoCodes {
		out = append(out, catalog[c])
	}
	return out
}

// CoinGeckoID returns the feed id for a crypto code. ok is false for
// anything unmapped; callers must not guess a default coin.
func CoinGeckoID(code string) (id string, ok bool) {
	id, ok = coinGeckoIDs[strings.ToUpper(code)]
	return id, ok
}

// ValidateAmount enforces the per-asset minimum and step rules.
func ValidateAmount(a types.Asset, amount decimal.Decimal) error {
	bad := !amount.IsPositive()
	switch {
	case bad:
	case a.Code == RUB:
		bad = amount.LessThan(rubMin) || !amount.Mod(step).IsZero()
	case a.Class == types.Fiat:
		bad = amount.LessThan(fiatMin) || !amount.Mod(step).IsZero()
	}
	if bad {
		return fmt.Errorf("%w: %s %s, minimum %s", types.ErrInvalidAmount, amount.String(), a.Code, MinAmountHint(a))
	}
	return nil
}

// ValidateStep checks positivity and the fiat step of 10 but no minimum.
// Quotes use it; publishing an offer needs ValidateAmount.
func ValidateStep(a types.Asset, amount decimal.Decimal) error {
	if !amount.IsPositive() || (a.Class == types.Fiat && !amount.Mod(step).IsZero()) {
		return fmt.Errorf("%w: %s %s, minimum %s", types.ErrInvalidAmount, amount.String(), a.Code, MinAmountHint(a))
	}
	return nil
}

// MinAmountHint is the short corrective text shown for a rejected amount.
func MinAmountHint(a types.Asset) string {
	switch {
	case a.Code == RUB:
		return "500 (multiple of 10)"
	case a.Class == types.Fiat:
		return "10 (multiple of 10)"
	default:
		return "any amount above 0"
	}
}
