package entitlement

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/asset"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

type Method string

const (
	MethodStars  Method = "stars"
	MethodFiat   Method = "fiat"
	MethodCrypto Method = "crypto"
)

const chainTON = "ton"

// chains maps a pay asset to the chain whose wallet receives it. Assets
// without a wallet of their own are paid to the TON wallet.
var chains = map[string]string{
	asset.TON:  chainTON,
	asset.ETH:  "eth",
	asset.USDT: "eth",
	asset.USDC: "eth",
	asset.SOL:  "sol",
	asset.DOGE: "doge",
	asset.BTC:  chainTON,
	asset.XRP:  chainTON,
	asset.TRX:  chainTON,
	asset.MNT:  chainTON,
}

var networkNames = map[string]string{
	chainTON: "TON",
	"eth":    "Ethereum",
	"sol":    "Solana",
	"doge":   "Dogecoin",
}

// Payment tells a user how to pay for a plan. The memo identifies the
// payer and is the same for every plan and asset.
type Payment struct {
	UserID   string          `json:"user_id"`
	Plan     string          `json:"plan"`
	Method   Method          `json:"method"`
	Asset    string          `json:"asset"`
	Price    decimal.Decimal `json:"price"`
	Degraded bool            `json:"degraded,omitempty"`
	Network  string          `json:"network,omitempty"`
	Address  string          `json:"address"`
	Memo     string          `json:"memo"`
	URI      string          `json:"uri,omitempty"`
}

func randomMemo(prefix string) func(string) string {
	return func(userID string) string {
		return fmt.Sprintf("%s%s%d", prefix, userID, 100000+rand.Intn(900000))
	}
}

// chainOf returns the receiving chain for a crypto asset.
func chainOf(code string) string {
	if c, ok := chains[code]; ok {
		return c
	}
	return chainTON
}

// Payment builds payment instructions for plan p paid in code. STARS go to
// the stars recipient at the plan's star price, fiat to the fiat wallet and
// crypto to the wallet of the asset's chain, both converted through r.
func (s *Service) Payment(ctx context.Context, r RateResolver, userID string, p Plan, code string) (Payment, error) {
	a, err := asset.Lookup(code)
	if err != nil {
		return Payment{}, err
	}
	pay := Payment{UserID: userID, Plan: p.ID(), Asset: a.Code}
	switch a.Class {
	case types.Points:
		pay.Method = MethodStars
		pay.Address = s.pay.StarsRecipient
		pay.Price = p.Stars
	case types.Fiat:
		pay.Method = MethodFiat
		pay.Address = s.pay.FiatWallet
	default:
		chain := chainOf(a.Code)
		pay.Method = MethodCrypto
		pay.Network = networkNames[chain]
		pay.Address = s.pay.Addresses[chain]
		if pay.Address == "" {
			pay.Network = networkNames[chainTON]
			pay.Address = s.pay.Addresses[chainTON]
		}
	}
	if pay.Address == "" {
		return Payment{}, fmt.Errorf("%w: %s is not accepted for payment", types.ErrUnknownAsset, a.Code)
	}

	if pay.Method != MethodStars {
		price, degraded, err := PriceIn(ctx, r, p, a.Code)
		if err != nil {
			return Payment{}, err
		}
		pay.Price, pay.Degraded = price, degraded
	}

	memo, err := s.store.Memo(ctx, userID, s.newMemo(userID))
	if err != nil {
		return Payment{}, storageErr("memo", err)
	}
	pay.Memo = memo
	if a.Code == asset.TON {
		pay.URI = "ton://transfer/" + pay.Address + "?text=" + url.QueryEscape(memo)
	}
	s.log.Info("payment requested",
		zap.String("user", userID),
		zap.String("plan", pay.Plan),
		zap.String("asset", pay.Asset),
		zap.String("price", pay.Price.String()),
	)
	return pay, nil
}
